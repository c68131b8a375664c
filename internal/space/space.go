// Package space derives the storage layout from a single user knob and
// enforces the invariant that a new snapshot always fits, via eager
// eviction of unreferenced snapshots rather than per-byte thresholds.
package space

import (
	"context"
	"errors"

	"github.com/containerd/log"

	"github.com/camvaultd/camvaultd/internal/fsport"
)

// xfsOverhead approximates XFS's own metadata and fragmentation overhead
// when deriving usable space from the backing image size (spec.md §4.3).
const xfsOverhead = 0.03

// mebibyte is the alignment granularity for cam_size.
const mebibyte = 1 << 20

// ErrNoSpace is returned by EnsureSpaceForSnapshot when free space cannot
// be made to reach cam_size even after deleting every deletable snapshot.
var ErrNoSpace = errors.New("space: cannot satisfy snapshot size invariant")

// Layout is the derived sizing for the backing image and the cam disk.
type Layout struct {
	BackingImageSize int64
	CamSize          int64
}

// ComputeLayout converts availableBytes (host bytes available for the
// backing image file) and reserve (bytes withheld for the host OS) into a
// Layout. cam_size is the floor of half of usable space, aligned down to a
// whole mebibyte, per spec.md §4.3:
//
//	backing_image_size = available - reserve
//	usable             = backing_image_size * (1 - xfs_overhead)
//	cam_size           = floor(usable / 2), aligned down to MiB
func ComputeLayout(availableBytes, reserve int64) (Layout, error) {
	if reserve >= availableBytes {
		return Layout{}, ErrNoSpace
	}
	backingImageSize := availableBytes - reserve
	usable := float64(backingImageSize) * (1 - xfsOverhead)
	camSize := int64(usable / 2)
	camSize -= camSize % mebibyte
	if camSize <= 0 {
		return Layout{}, ErrNoSpace
	}
	return Layout{BackingImageSize: backingImageSize, CamSize: camSize}, nil
}

// deletableManager is the subset of *snapshot.Manager that space needs;
// expressed as an interface so this package does not import snapshot and
// tests can supply a minimal stub.
type deletableManager interface {
	DeleteOldestIfDeletable(ctx context.Context) (bool, error)
}

// EnsureSpaceForSnapshot repeatedly deletes the oldest deletable snapshot
// until snapshotsDir has at least camSize free bytes, or no deletable
// snapshot remains. In the documented normal operation — the coordinator
// deletes immediately after a successful archive — this call finds nothing
// to delete and returns immediately.
func EnsureSpaceForSnapshot(ctx context.Context, mgr deletableManager, fs fsport.FS, snapshotsDir string, camSize int64) error {
	for {
		free, err := fs.FreeBytes(snapshotsDir)
		if err != nil {
			return err
		}
		if int64(free) >= camSize {
			return nil
		}

		deleted, err := mgr.DeleteOldestIfDeletable(ctx)
		if err != nil {
			return err
		}
		if !deleted {
			log.G(ctx).WithField("free_bytes", free).WithField("cam_size", camSize).
				Error("cannot satisfy space invariant: no deletable snapshots remain")
			return ErrNoSpace
		}
	}
}
