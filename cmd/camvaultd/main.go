// Command camvaultd is the daemon that owns the cam disk's backing image,
// cycles reflink snapshots through the archive port, and presents the cam
// disk to the vehicle over a USB mass-storage gadget.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/containerd/log"
	"github.com/urfave/cli/v2"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/camvaultd/camvaultd/internal/archive"
	"github.com/camvaultd/camvaultd/internal/cleanup"
	"github.com/camvaultd/camvaultd/internal/config"
	"github.com/camvaultd/camvaultd/internal/coordinator"
	"github.com/camvaultd/camvaultd/internal/fsport"
	"github.com/camvaultd/camvaultd/internal/gadget"
	"github.com/camvaultd/camvaultd/internal/ledger"
	"github.com/camvaultd/camvaultd/internal/mountdev"
	"github.com/camvaultd/camvaultd/internal/sensors"
	"github.com/camvaultd/camvaultd/internal/snapshot"
	"github.com/camvaultd/camvaultd/internal/statusapi"
)

var (
	version   = "dev"
	gitCommit = "unknown"
)

func main() {
	app := &cli.App{
		Name:    "camvaultd",
		Usage:   "Manages the cam disk backing image, snapshot lifecycle, and clip archiving",
		Version: fmt.Sprintf("%s (commit: %s)", version, gitCommit),
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to config.toml",
				Value:   config.DefaultConfigFile,
				EnvVars: []string{"CAMVAULTD_CONFIG"},
			},
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(cliCtx *cli.Context) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	cfg, err := config.ParseConfig(cliCtx.String("config"))
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := log.SetLevel(cfg.Log.Level); err != nil {
		return fmt.Errorf("set log level: %w", err)
	}
	if cfg.Log.File != "" {
		log.L.Logger.SetOutput(&lumberjack.Logger{
			Filename:   cfg.Log.File,
			MaxSize:    50,
			MaxBackups: 5,
			MaxAge:     28,
		})
	}

	fs := fsport.New()
	snapshotsDir := filepath.Join(cfg.StateRoot, "snapshots")

	if err := mountdev.MountBackingImage(ctx, cfg.BackingImagePath, cfg.StateRoot); err != nil {
		return fmt.Errorf("mount backing image: %w", err)
	}

	if err := fsport.CheckReflinkSupport(fs, cfg.StateRoot); err != nil {
		return fmt.Errorf("backing filesystem does not support reflink: %w", err)
	}

	camDiskPath := filepath.Join(cfg.StateRoot, "cam_disk.bin")
	camSize, err := resolveCamSize(ctx, fs, camDiskPath)
	if err != nil {
		return fmt.Errorf("resolve cam disk size: %w", err)
	}
	log.G(ctx).WithField("cam_size", camSize).Info("pinned cam disk size")

	mgr := snapshot.New(fs, snapshotsDir)
	if _, err := mgr.Load(ctx); err != nil {
		return fmt.Errorf("load snapshot registry: %w", err)
	}

	if cfg.Gadget.Root != "" {
		gadgetCfg := gadget.Config{
			GadgetRoot:      cfg.Gadget.Root,
			LUN0BackingFile: "functions/mass_storage.0/lun.0/file",
			UDC:             cfg.Gadget.UDC,
		}
		if err := gadget.Attach(gadgetCfg, camDiskPath); err != nil {
			return fmt.Errorf("attach usb gadget: %w", err)
		}
		defer cleanup.Do(ctx, func(ctx context.Context) {
			if err := gadget.Detach(gadgetCfg); err != nil {
				log.G(ctx).WithError(err).Warn("failed to detach usb gadget on shutdown")
			}
		})
	}

	archiver, reach, idle, err := buildArchivePort(ctx, cfg)
	if err != nil {
		return fmt.Errorf("configure archive port: %w", err)
	}

	coord := coordinator.New(coordinator.Config{
		SnapshotMgr:  mgr,
		FS:           fs,
		SnapshotsDir: snapshotsDir,
		CamDiskPath:  camDiskPath,
		Reachability: reach,
		IdleDetector: idle,
		SettleDelay:  cfg.Archive.Delay,
		Archiver:     archiver,
		Destination:  cfg.Archive.Destination,
		Roots: archive.ClipRoots{
			SavedClips:     cfg.Archive.SavedClips,
			SentryClips:    cfg.Archive.SentryClips,
			RecentClips:    cfg.Archive.RecentClips,
			TrackModeClips: cfg.Archive.TrackModeClips,
		},
		MountForArchive: mountSnapshotForArchive,
		CamSize:         camSize,
	})

	temp := &sensors.TemperatureSampler{}
	led := &sensors.LEDBlinker{BrightnessPath: "/sys/class/leds/led0/brightness"}
	go temp.Run(ctx)
	go led.Run(ctx)

	statusSrv := startStatusServer(ctx, cfg.Status.Bind, coord, mgr, fs, cfg.StateRoot)
	defer cleanup.Do(ctx, func(ctx context.Context) {
		_ = statusSrv.Shutdown(ctx)
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	errCh := make(chan error, 1)
	go func() {
		errCh <- coord.Run(ctx)
	}()

	select {
	case sig := <-sigCh:
		log.G(ctx).WithField("signal", sig).Info("received shutdown signal")
		cancel()
		<-errCh
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("coordinator exited: %w", err)
		}
	}

	log.G(ctx).Info("shutting down")
	return nil
}

// resolveCamSize pins cam_size to the real, already-provisioned size of
// cam_disk.bin rather than recomputing it from currently-free space on
// every startup. Provisioning cam_disk.bin (via space.ComputeLayout,
// invoked once against host free space) is a one-time setup step outside
// this daemon's scope; a missing file is a fatal configuration error.
func resolveCamSize(ctx context.Context, fs fsport.FS, camDiskPath string) (int64, error) {
	ok, err := fs.Exists(camDiskPath)
	if err != nil {
		return 0, fmt.Errorf("stat cam disk: %w", err)
	}
	if !ok {
		return 0, fmt.Errorf("%s does not exist; provision it before starting the daemon", camDiskPath)
	}
	size, err := fs.FileSize(camDiskPath)
	if err != nil {
		return 0, fmt.Errorf("stat cam disk: %w", err)
	}
	log.G(ctx).WithField("path", camDiskPath).Debug("cam disk already provisioned")
	return size, nil
}

// mountSnapshotForArchive mounts a snapshot's image.bin read-only under a
// scratch mountpoint inside the snapshot's own directory, so the archive
// port can walk a real filesystem rather than the raw image file.
func mountSnapshotForArchive(ctx context.Context, snapshotDir string) (string, func(), error) {
	mountPoint := filepath.Join(snapshotDir, "view")
	if err := os.MkdirAll(mountPoint, 0o750); err != nil {
		return "", nil, fmt.Errorf("create archive view mountpoint: %w", err)
	}
	imagePath := filepath.Join(snapshotDir, "image.bin")

	unmount, err := mountdev.MountSnapshotView(ctx, imagePath, mountPoint)
	if err != nil {
		return "", nil, err
	}
	return mountPoint, func() {
		if err := unmount(); err != nil {
			log.G(ctx).WithError(err).Warn("failed to unmount archive view")
		}
	}, nil
}

// buildArchivePort wires the archive.Archiver/Reachability/IdleDetector
// trio from config: "none" disables archiving (the coordinator still
// sweeps), "local-copy" walks clips into a local/mounted destination
// tracked in a durable ledger, anything else is a subprocess binary name.
func buildArchivePort(ctx context.Context, cfg *config.Config) (archive.Archiver, archive.Reachability, archive.IdleDetector, error) {
	var idle archive.IdleDetector
	if cfg.Archive.IdleWindow > 0 {
		idle = &archive.MtimeIdleDetector{
			Path:   filepath.Join(cfg.StateRoot, "cam_disk.bin"),
			Window: cfg.Archive.IdleWindow,
		}
	}

	switch cfg.Archive.System {
	case "", "none":
		return noopArchiver{}, alwaysReachable{}, idle, nil
	case "local-copy":
		dbPath := filepath.Join(cfg.StateRoot, "archive-ledger.db")
		store, err := ledger.Open(dbPath)
		if err != nil {
			return nil, nil, nil, fmt.Errorf("open archive ledger: %w", err)
		}
		walker := &archive.ClipWalker{Ledger: ledger.New(store)}
		reach := &archive.UdevReachability{TCP: &archive.TCPReachability{Target: cfg.Archive.ReachabilityTarget}}
		return walker, reach, idle, nil
	default:
		sub := &archive.SubprocessArchiver{BinaryPath: cfg.Archive.System}
		reach := &archive.UdevReachability{TCP: &archive.TCPReachability{Target: cfg.Archive.ReachabilityTarget}}
		return sub, reach, idle, nil
	}
}

// noopArchiver satisfies archive.Archiver for archive.system = "none": the
// coordinator's sweep/space-eviction logic still runs, but every cycle
// treats the clip push as trivially successful so the snapshot is deleted
// immediately after being taken.
type noopArchiver struct{}

func (noopArchiver) Archive(ctx context.Context, req archive.Request) error { return nil }

type alwaysReachable struct{}

func (alwaysReachable) IsReachable(ctx context.Context) bool      { return true }
func (alwaysReachable) AwaitReachable(ctx context.Context) error  { return nil }

func startStatusServer(ctx context.Context, bind string, coord *coordinator.Coordinator, mgr *snapshot.Manager, fs fsport.FS, stateRoot string) *http.Server {
	ctrl := &statusapi.Controller{
		State: func() string { return coord.State().String() },
		Snapshots: func() []statusapi.SnapshotView {
			list := mgr.List()
			views := make([]statusapi.SnapshotView, 0, len(list))
			for _, s := range list {
				views = append(views, statusapi.SnapshotView{
					ID:        s.ID,
					Dir:       s.Dir,
					CreatedAt: s.CreatedAt.Format(time.RFC3339),
					Refcount:  s.Refcount,
				})
			}
			return views
		},
		Sweep: func(ctx context.Context) (bool, error) {
			return mgr.DeleteOldestIfDeletable(ctx)
		},
		FreeBytes: func() (uint64, error) {
			return fs.FreeBytes(stateRoot)
		},
	}

	srv := &http.Server{
		Addr:    bind,
		Handler: statusapi.NewRouter(ctrl, log.L.Logger.Writer()),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.G(ctx).WithError(err).Error("status api server stopped unexpectedly")
		}
	}()
	return srv
}
