// Package mountdev wires loop-device attach/detach to mount invocations for
// the two mounts the coordinator depends on: the XFS backing image (mounted
// once at startup) and a completed snapshot's image.bin (mounted read-only
// for the duration of an archive call).
package mountdev

import (
	"context"
	"fmt"
	"os/exec"

	"github.com/containerd/log"
	"github.com/moby/sys/mountinfo"

	"github.com/camvaultd/camvaultd/internal/loop"
)

// MountBackingImage loop-attaches imagePath and mounts it at mountPoint.
// Idempotent: if mountPoint is already a mount of imagePath's loop device,
// this is a no-op. Failure here is fatal at startup (spec.md §6).
func MountBackingImage(ctx context.Context, imagePath, mountPoint string) error {
	mounted, err := mountinfo.Mounted(mountPoint)
	if err != nil {
		return fmt.Errorf("check mount state of %s: %w", mountPoint, err)
	}
	if mounted {
		log.G(ctx).WithField("mountpoint", mountPoint).Info("backing image already mounted")
		return nil
	}

	dev, err := loop.Setup(imagePath, loop.Config{})
	if err != nil {
		return fmt.Errorf("attach loop device for %s: %w", imagePath, err)
	}

	if err := runMount(ctx, dev.Path, mountPoint, nil); err != nil {
		_ = loop.DetachPath(dev.Path)
		return fmt.Errorf("mount %s at %s: %w", dev.Path, mountPoint, err)
	}
	return nil
}

// MountSnapshotView loop-attaches a snapshot's image.bin read-only and
// mounts it at mountPoint so the archive port has a real filesystem to
// walk. Returns an unmount func that detaches both the mount and the loop
// device; callers must invoke it exactly once, typically via defer.
func MountSnapshotView(ctx context.Context, imagePath, mountPoint string) (unmount func() error, err error) {
	dev, err := loop.Setup(imagePath, loop.Config{ReadOnly: true})
	if err != nil {
		return nil, fmt.Errorf("attach loop device for %s: %w", imagePath, err)
	}

	if err := runMount(ctx, dev.Path, mountPoint, []string{"ro"}); err != nil {
		_ = loop.DetachPath(dev.Path)
		return nil, fmt.Errorf("mount %s at %s: %w", dev.Path, mountPoint, err)
	}

	return func() error {
		if err := runUnmount(ctx, mountPoint); err != nil {
			log.G(ctx).WithError(err).WithField("mountpoint", mountPoint).Warn("unmount failed")
		}
		if err := loop.DetachPath(dev.Path); err != nil {
			return fmt.Errorf("detach %s: %w", dev.Path, err)
		}
		return nil
	}, nil
}

func runMount(ctx context.Context, source, target string, extraOpts []string) error {
	args := []string{}
	if len(extraOpts) > 0 {
		args = append(args, "-o", joinOpts(extraOpts))
	}
	args = append(args, source, target)
	cmd := exec.CommandContext(ctx, "mount", args...)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w", string(out), err)
	}
	return nil
}

func runUnmount(ctx context.Context, target string) error {
	cmd := exec.CommandContext(ctx, "umount", target)
	out, err := cmd.CombinedOutput()
	if err != nil {
		return fmt.Errorf("%s: %w", string(out), err)
	}
	return nil
}

func joinOpts(opts []string) string {
	out := opts[0]
	for _, o := range opts[1:] {
		out += "," + o
	}
	return out
}
