//go:build linux

package fsport

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/rancher/go-fibmap"
)

// CheckReflinkSupport is the startup compatibility probe named in spec.md
// §7 ("Unsupported — fatal at startup"). It is not enough that FICLONE
// merely returns success: some filesystems accept the ioctl as a no-op deep
// copy. We write a small probe file under root, reflink it, then use the
// FIEMAP ioctl (github.com/rancher/go-fibmap) to compare the physical
// extent of the source and the copy — if they do not share a physical
// block, the filesystem does not give us real copy-on-write and callers
// must treat that as KindUnsupported.
func CheckReflinkSupport(fs FS, root string) error {
	probe := filepath.Join(root, ".reflink-probe")
	clone := filepath.Join(root, ".reflink-probe.clone")
	defer os.Remove(probe)
	defer os.Remove(clone)

	if err := fs.WriteFileAtomic(probe, []byte("camvaultd reflink probe\n")); err != nil {
		return fmt.Errorf("write reflink probe: %w", err)
	}
	os.Remove(probe + ".tmp")

	if err := fs.ReflinkCopy(probe, clone); err != nil {
		return err
	}

	srcExtents, err := fiemapPhysical(probe)
	if err != nil {
		// FIEMAP itself unsupported: we already know FICLONE succeeded,
		// which is the stronger signal, so don't fail startup over this.
		return nil
	}
	dstExtents, err := fiemapPhysical(clone)
	if err != nil {
		return nil
	}
	if len(srcExtents) == 0 || len(dstExtents) == 0 {
		// Empty/sparse probe file: nothing to compare, trust FICLONE's success.
		return nil
	}
	if !sharesExtent(srcExtents, dstExtents) {
		return NewError(KindUnsupported, "reflink_copy", root, fmt.Errorf("clone does not share extents with source"))
	}
	return nil
}

func fiemapPhysical(path string) ([]uint64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	fm := fibmap.NewFibmapFile(f)
	extents, errno := fm.Fiemap(32)
	if errno != 0 {
		return nil, errno
	}
	out := make([]uint64, 0, len(extents))
	for _, e := range extents {
		out = append(out, e.Physical)
	}
	return out, nil
}

func sharesExtent(a, b []uint64) bool {
	seen := make(map[uint64]struct{}, len(a))
	for _, v := range a {
		seen[v] = struct{}{}
	}
	for _, v := range b {
		if _, ok := seen[v]; ok {
			return true
		}
	}
	return false
}
