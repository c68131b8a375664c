// Package config loads and validates camvaultd's TOML configuration,
// following the decode/fill-defaults/validate shape used throughout the
// corpus's agent configs.
package config

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/pkg/errors"
)

const (
	// DefaultConfigFile is the default path camvaultd looks for its config.
	DefaultConfigFile = "/etc/camvaultd/config.toml"

	// DefaultStateRoot is the default mount point of the backing image.
	DefaultStateRoot = "/mnt/camvault"

	// DefaultStatusBind is the default bind address for internal/statusapi.
	DefaultStatusBind = "127.0.0.1:8910"

	// DefaultArchiveDelay is the settle delay used when no idle detector
	// is configured (spec.md §6, ARCHIVE_DELAY).
	DefaultArchiveDelay = 30 * time.Second

	// DefaultReserve withholds this many bytes from the backing image for
	// host OS use when RESERVE is unset.
	DefaultReserve int64 = 2 << 30 // 2 GiB
)

// Config is camvaultd's top-level configuration.
type Config struct {
	// Reserve is spec.md §6's RESERVE knob: host bytes withheld from the
	// backing image.
	Reserve int64 `toml:"reserve"`

	// StateRoot is the mount point of the XFS backing image.
	StateRoot string `toml:"state_root"`

	// BackingImagePath is the sparse XFS image file loop-mounted at
	// StateRoot.
	BackingImagePath string `toml:"backing_image_path"`

	Archive ArchiveConfig `toml:"archive"`
	Gadget  GadgetConfig  `toml:"gadget"`
	Log     LogConfig     `toml:"log"`
	Status  StatusConfig  `toml:"status"`
}

// ArchiveConfig holds spec.md §6's ARCHIVE_* knobs plus the reachability
// and idle-detector endpoints.
type ArchiveConfig struct {
	// System selects the archive backend; "none" disables archiving
	// (coordinator still sweeps).
	System string `toml:"system"`

	SavedClips     bool `toml:"saved_clips"`
	SentryClips    bool `toml:"sentry_clips"`
	RecentClips    bool `toml:"recent_clips"`
	TrackModeClips bool `toml:"trackmode_clips"`

	// Delay is ARCHIVE_DELAY: the settle delay between reachability and
	// snapshot when no idle detector is configured.
	Delay time.Duration `toml:"delay"`

	// Destination names the remote location clips are copied to.
	Destination string `toml:"destination"`

	// ReachabilityTarget is "host:port" dialed to probe backend reachability.
	ReachabilityTarget string `toml:"reachability_target"`

	// IdleWindow, if non-zero, enables the mtime-based idle detector with
	// this quiescent window.
	IdleWindow time.Duration `toml:"idle_window"`
}

// GadgetConfig configures the USB mass-storage gadget.
type GadgetConfig struct {
	Root string `toml:"root"`
	UDC  string `toml:"udc"`
}

// LogConfig configures logging.
type LogConfig struct {
	File  string `toml:"file"`
	Level string `toml:"level"`
}

// StatusConfig configures the operator-facing HTTP status API.
type StatusConfig struct {
	Bind string `toml:"bind"`
}

// ParseConfig decodes cfgFile, fills defaults, validates, and returns a
// ready-to-use *Config.
func ParseConfig(cfgFile string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(cfgFile, &cfg); err != nil {
		return nil, errors.Wrap(err, "decoding toml")
	}

	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating config")
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Reserve == 0 {
		c.Reserve = DefaultReserve
	}
	if c.StateRoot == "" {
		c.StateRoot = DefaultStateRoot
	}
	if c.Archive.Delay == 0 {
		c.Archive.Delay = DefaultArchiveDelay
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Status.Bind == "" {
		c.Status.Bind = DefaultStatusBind
	}
}

// Validate validates the config options, mirroring the corpus's
// section-by-section Validate() pattern.
func (c *Config) Validate() error {
	if c.BackingImagePath == "" {
		return fmt.Errorf("backing_image_path is mandatory")
	}
	if c.Reserve < 0 {
		return fmt.Errorf("reserve must not be negative")
	}
	if err := c.Archive.Validate(); err != nil {
		return errors.Wrap(err, "validating archive section")
	}
	return nil
}

// Validate validates the archive section.
func (a *ArchiveConfig) Validate() error {
	switch a.System {
	case "", "none":
		return nil
	default:
		if a.Destination == "" {
			return fmt.Errorf("destination is mandatory when archive.system is %q", a.System)
		}
		if a.ReachabilityTarget == "" {
			return fmt.Errorf("reachability_target is mandatory when archive.system is %q", a.System)
		}
	}
	return nil
}
