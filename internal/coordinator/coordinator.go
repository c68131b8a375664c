// Package coordinator implements the outer state machine that sequences
// the wait-for-network / wait-for-idle / snapshot / archive / delete loop
// and binds the snapshot and space managers to the archive port.
package coordinator

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/containerd/log"

	"github.com/camvaultd/camvaultd/internal/archive"
	"github.com/camvaultd/camvaultd/internal/fsport"
	"github.com/camvaultd/camvaultd/internal/snapshot"
	"github.com/camvaultd/camvaultd/internal/space"
)

// State names the coordinator's current position in the loop below
// (spec.md §4.4). It is a computed, point-in-time observation exposed for
// status reporting, never a persisted value.
type State int

const (
	StateIdle State = iota
	StateAwaitIdle
	StateSweep
	StateSnapshot
	StateArchive
	StateDelete
	StateExiting
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateAwaitIdle:
		return "AWAIT_IDLE"
	case StateSweep:
		return "SWEEP"
	case StateSnapshot:
		return "SNAPSHOT"
	case StateArchive:
		return "ARCHIVE"
	case StateDelete:
		return "DELETE"
	case StateExiting:
		return "EXITING"
	default:
		return "UNKNOWN"
	}
}

// Config bundles the coordinator's external collaborators and settings.
type Config struct {
	SnapshotMgr  *snapshot.Manager
	FS           fsport.FS
	SnapshotsDir string
	CamDiskPath  string

	Reachability archive.Reachability
	IdleDetector archive.IdleDetector // optional; nil falls back to SettleDelay
	SettleDelay  time.Duration

	Archiver        archive.Archiver
	Destination     string
	Roots           archive.ClipRoots
	MountForArchive func(ctx context.Context, snapshotDir string) (mountedRoot string, unmount func(), err error)

	CamSize int64
}

// Coordinator runs the outer loop described in spec.md §4.4.
type Coordinator struct {
	cfg   Config
	state atomic.Int32
}

// New returns a Coordinator ready to Run with the given collaborators.
func New(cfg Config) *Coordinator {
	return &Coordinator{cfg: cfg}
}

// Run executes the loop until ctx is cancelled. A cancellation observed
// between states, or between archived clips inside the archive port
// itself, transitions to EXITING: any in-flight handle is released and
// Run returns nil.
func (c *Coordinator) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			c.setState(StateExiting)
			return nil
		}

		c.setState(StateIdle)
		if err := c.cfg.Reachability.AwaitReachable(ctx); err != nil {
			c.setState(StateExiting)
			return nil
		}

		c.setState(StateAwaitIdle)
		if err := c.awaitIdle(ctx); err != nil {
			c.setState(StateExiting)
			return nil
		}

		c.setState(StateSweep)
		if err := c.sweep(ctx); err != nil {
			return err
		}

		if ctx.Err() != nil {
			c.setState(StateExiting)
			return nil
		}

		if err := c.cycle(ctx); err != nil {
			var fatal *archive.FatalError
			if errors.As(err, &fatal) {
				return err
			}
			log.G(ctx).WithError(err).Warn("cycle did not complete archive successfully")
		}
	}
}

func (c *Coordinator) awaitIdle(ctx context.Context) error {
	if c.cfg.IdleDetector != nil {
		return c.cfg.IdleDetector.AwaitIdle(ctx)
	}
	delay := c.cfg.SettleDelay
	if delay <= 0 {
		delay = 30 * time.Second
	}
	select {
	case <-time.After(delay):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// sweep eagerly reclaims any refcount-0 snapshots left over from a prior
// run or prior cycle, before a new one begins.
func (c *Coordinator) sweep(ctx context.Context) error {
	for {
		deleted, err := c.cfg.SnapshotMgr.DeleteOldestIfDeletable(ctx)
		if err != nil {
			return err
		}
		if !deleted {
			return nil
		}
	}
}

// cycle runs SNAPSHOT -> ARCHIVE -> (DELETE | leave-for-next-sweep), per
// spec.md §4.4 steps 3-7 and the documented release-without-delete answer
// to recoverable archive failure (§9 Open Question).
func (c *Coordinator) cycle(ctx context.Context) error {
	if err := space.EnsureSpaceForSnapshot(ctx, c.cfg.SnapshotMgr, c.cfg.FS, c.cfg.SnapshotsDir, c.cfg.CamSize); err != nil {
		return err
	}

	c.setState(StateSnapshot)
	h, err := c.cfg.SnapshotMgr.SnapshotSession(ctx, c.cfg.CamDiskPath)
	if err != nil {
		return err
	}
	defer h.Release()

	c.setState(StateArchive)
	mountedRoot := h.Dir()
	var unmount func()
	if c.cfg.MountForArchive != nil {
		mountedRoot, unmount, err = c.cfg.MountForArchive(ctx, h.Dir())
		if err != nil {
			return err
		}
	}
	if unmount != nil {
		defer unmount()
	}

	archiveErr := c.cfg.Archiver.Archive(ctx, archive.Request{
		SourceRoot:  mountedRoot,
		Destination: c.cfg.Destination,
		Roots:       c.cfg.Roots,
	})

	var recoverable *archive.RecoverableError
	switch {
	case archiveErr == nil:
		id := h.ID()
		h.Release() // idempotent: refcount must hit 0 before Delete can succeed
		c.setState(StateDelete)
		return c.cfg.SnapshotMgr.Delete(ctx, id)
	case errors.As(archiveErr, &recoverable):
		// Release (already deferred) without deleting; next cycle's sweep
		// reclaims it. Simplicity over bandwidth conservation (spec.md §9).
		log.G(ctx).WithError(archiveErr).Warn("recoverable archive failure, leaving snapshot for next sweep")
		return archiveErr
	default:
		return archiveErr
	}
}
