// Package gadget attaches and detaches the USB mass-storage gadget that
// presents cam_disk.bin to the vehicle, via the Linux configfs gadget API.
// No corpus library covers USB gadget configuration; this is a documented
// standard-library exception (see DESIGN.md).
package gadget

import (
	"fmt"
	"os"
	"path/filepath"
)

// Config names the configfs gadget to drive.
type Config struct {
	// GadgetRoot is the configfs gadget directory, e.g.
	// "/sys/kernel/config/usb_gadget/camvault".
	GadgetRoot string
	// LUN0BackingFile is the mass-storage function's backing file path,
	// relative to GadgetRoot: functions/mass_storage.0/lun.0/file.
	LUN0BackingFile string
	// UDC is the name of the USB Device Controller to bind, read from
	// /sys/class/udc; empty string unbinds (detach).
	UDC string
}

func (c Config) backingFilePath() string {
	return filepath.Join(c.GadgetRoot, "functions", "mass_storage.0", "lun.0", "file")
}

func (c Config) udcPath() string {
	return filepath.Join(c.GadgetRoot, "UDC")
}

// Attach points the mass-storage LUN at imagePath and binds the gadget to
// cfg.UDC, making the device visible to the vehicle over USB. Idempotent:
// attaching an already-attached gadget to the same image is a no-op.
func Attach(cfg Config, imagePath string) error {
	current, _ := os.ReadFile(cfg.backingFilePath())
	if trimTrailingNewline(string(current)) != imagePath {
		if err := os.WriteFile(cfg.backingFilePath(), []byte(imagePath), 0o200); err != nil {
			return fmt.Errorf("set LUN backing file: %w", err)
		}
	}

	udc, _ := os.ReadFile(cfg.udcPath())
	if trimTrailingNewline(string(udc)) == cfg.UDC {
		return nil
	}
	if err := os.WriteFile(cfg.udcPath(), []byte(cfg.UDC), 0o200); err != nil {
		return fmt.Errorf("bind UDC %s: %w", cfg.UDC, err)
	}
	return nil
}

// Detach unbinds the gadget from its UDC, making the device disappear from
// the vehicle's USB bus. Idempotent: detaching an already-detached gadget
// is a no-op.
func Detach(cfg Config) error {
	udc, _ := os.ReadFile(cfg.udcPath())
	if trimTrailingNewline(string(udc)) == "" {
		return nil
	}
	if err := os.WriteFile(cfg.udcPath(), []byte("\n"), 0o200); err != nil {
		return fmt.Errorf("unbind UDC: %w", err)
	}
	return nil
}

func trimTrailingNewline(s string) string {
	for len(s) > 0 && (s[len(s)-1] == '\n' || s[len(s)-1] == '\r') {
		s = s[:len(s)-1]
	}
	return s
}
