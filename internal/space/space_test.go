package space

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/camvaultd/camvaultd/internal/fsport"
)

func TestComputeLayoutHalvesUsableSpace(t *testing.T) {
	layout, err := ComputeLayout(100*mebibyte*1000, 0)
	require.NoError(t, err)
	require.Greater(t, layout.CamSize, int64(0))
	require.Less(t, layout.CamSize, layout.BackingImageSize)
	// cam_size should be roughly (1-overhead)/2 of the backing image.
	ratio := float64(layout.CamSize) / float64(layout.BackingImageSize)
	require.InDelta(t, (1-xfsOverhead)/2, ratio, 0.01)
}

func TestComputeLayoutAlignedToMebibyte(t *testing.T) {
	layout, err := ComputeLayout(100*mebibyte*1000, 0)
	require.NoError(t, err)
	require.Zero(t, layout.CamSize%mebibyte)
}

func TestComputeLayoutReserveExceedsAvailableFails(t *testing.T) {
	_, err := ComputeLayout(100, 1000)
	require.ErrorIs(t, err, ErrNoSpace)
}

type fakeDeletableManager struct {
	deletions []bool // sequence of DeleteOldestIfDeletable return values
	idx       int
	onDelete  func()
}

func (f *fakeDeletableManager) DeleteOldestIfDeletable(ctx context.Context) (bool, error) {
	if f.idx >= len(f.deletions) {
		return false, nil
	}
	v := f.deletions[f.idx]
	f.idx++
	if v && f.onDelete != nil {
		f.onDelete()
	}
	return v, nil
}

func TestEnsureSpaceForSnapshotNoOpWhenAlreadySufficient(t *testing.T) {
	fake := fsport.NewFake()
	fake.SetFreeBytes(10 * mebibyte)
	mgr := &fakeDeletableManager{}

	err := EnsureSpaceForSnapshot(context.Background(), mgr, fake, "/snapshots", 5*mebibyte)
	require.NoError(t, err)
	require.Zero(t, mgr.idx, "must not call DeleteOldestIfDeletable when already sufficient")
}

func TestEnsureSpaceForSnapshotDeletesUntilSufficient(t *testing.T) {
	fake := fsport.NewFake()
	fake.SetFreeBytes(4 * mebibyte) // cam_size - 1 MiB worth, below target

	deletionCount := 0
	mgr := &fakeDeletableManager{
		deletions: []bool{true, true, true},
		onDelete: func() {
			deletionCount++
			if deletionCount == 1 {
				fake.SetFreeBytes(5 * mebibyte) // rises above cam_size after first deletion
			}
		},
	}

	err := EnsureSpaceForSnapshot(context.Background(), mgr, fake, "/snapshots", 5*mebibyte)
	require.NoError(t, err)
	require.Equal(t, 1, deletionCount, "must stop after exactly one deletion once sufficient")
}

func TestEnsureSpaceForSnapshotFailsWhenNoDeletableSnapshotsRemain(t *testing.T) {
	fake := fsport.NewFake()
	fake.SetFreeBytes(1 * mebibyte)
	mgr := &fakeDeletableManager{deletions: []bool{true, false}}

	err := EnsureSpaceForSnapshot(context.Background(), mgr, fake, "/snapshots", 5*mebibyte)
	require.ErrorIs(t, err, ErrNoSpace)
}
