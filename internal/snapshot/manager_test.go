package snapshot

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/camvaultd/camvaultd/internal/fsport"
)

func newTestManager(t *testing.T) (*Manager, *fsport.Fake) {
	t.Helper()
	fake := fsport.NewFake()
	require.NoError(t, fake.WriteFileAtomic("/cam_disk.bin", []byte("fat32 image bytes")))
	mgr := New(fake, "/snapshots")
	_, err := mgr.Load(context.Background())
	require.NoError(t, err)
	return mgr, fake
}

func TestLoadEmptyYieldsEmptyRegistryAndCounterAtLeastOne(t *testing.T) {
	mgr, _ := newTestManager(t)
	require.Empty(t, mgr.List())
	require.GreaterOrEqual(t, mgr.nextID, int64(1))
}

func TestCreateThenDeleteReturnsToEmptyRegistry(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)

	snap, err := mgr.Create(ctx, "/cam_disk.bin")
	require.NoError(t, err)
	require.Len(t, mgr.List(), 1)

	require.NoError(t, mgr.Delete(ctx, snap.ID))
	require.Empty(t, mgr.List())
}

func TestCreateRegistersTOCAndIsListable(t *testing.T) {
	ctx := context.Background()
	mgr, fake := newTestManager(t)

	snap, err := mgr.Create(ctx, "/cam_disk.bin")
	require.NoError(t, err)

	_, ok := fake.ReadFile(snap.Dir + "/.toc")
	require.True(t, ok, ".toc must exist immediately after a successful create")

	list := mgr.List()
	require.Len(t, list, 1)
	require.Equal(t, snap.ID, list[0].ID)
}

func TestCrashMidCreateReapedOnLoad(t *testing.T) {
	ctx := context.Background()
	mgr, fake := newTestManager(t)

	fake.FailNextTOCWrite()
	_, err := mgr.Create(ctx, "/cam_disk.bin")
	require.Error(t, err)

	// Simulate restart: fresh manager, same backing fs.
	mgr2 := New(fake, "/snapshots")
	loaded, err := mgr2.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, loaded)
}

func TestCrashMidDeleteReapedOnLoad(t *testing.T) {
	ctx := context.Background()
	mgr, fake := newTestManager(t)

	snap, err := mgr.Create(ctx, "/cam_disk.bin")
	require.NoError(t, err)

	fake.FailNextRmdirRecursive()
	err = mgr.Delete(ctx, snap.ID)
	require.Error(t, err)

	// .toc unlink already happened (the linearization point), so the
	// in-memory registry no longer has it even though the directory
	// remains on disk.
	require.Empty(t, mgr.List())

	mgr2 := New(fake, "/snapshots")
	loaded, err := mgr2.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, loaded)
}

func TestDeleteWhileAcquiredFailsThenSucceedsAfterRelease(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)

	snap, err := mgr.Create(ctx, "/cam_disk.bin")
	require.NoError(t, err)

	h, err := mgr.Acquire(snap.ID)
	require.NoError(t, err)

	err = mgr.Delete(ctx, snap.ID)
	require.ErrorIs(t, err, ErrInUse)

	h.Release()
	require.NoError(t, mgr.Delete(ctx, snap.ID))
}

func TestReleaseIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)

	snap, err := mgr.Create(ctx, "/cam_disk.bin")
	require.NoError(t, err)

	h, err := mgr.Acquire(snap.ID)
	require.NoError(t, err)
	h.Release()
	h.Release()
	h.Release()

	require.NoError(t, mgr.Delete(ctx, snap.ID))
}

func TestRefcountEqualsAcquiresMinusReleases(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)

	snap, err := mgr.Create(ctx, "/cam_disk.bin")
	require.NoError(t, err)

	h1, err := mgr.Acquire(snap.ID)
	require.NoError(t, err)
	h2, err := mgr.Acquire(snap.ID)
	require.NoError(t, err)

	require.Equal(t, 2, mgr.registry[snap.ID].refcount)

	h1.Release()
	require.Equal(t, 1, mgr.registry[snap.ID].refcount)

	h2.Release()
	require.Equal(t, 0, mgr.registry[snap.ID].refcount)
}

func TestSnapshotSessionReleaseDoesNotDelete(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)

	h, err := mgr.SnapshotSession(ctx, "/cam_disk.bin")
	require.NoError(t, err)
	id := h.ID()
	h.Release()

	require.Len(t, mgr.List(), 1)
	require.NoError(t, mgr.Delete(ctx, id))
}

func TestLoadReapsDirectoryMissingTOC(t *testing.T) {
	ctx := context.Background()
	mgr, fake := newTestManager(t)

	require.NoError(t, fake.Mkdir("/snapshots/"+dirName(1)))
	require.NoError(t, fake.WriteFileAtomic("/snapshots/"+dirName(1)+"/image.bin", []byte("partial")))

	loaded, err := mgr.Load(ctx)
	require.NoError(t, err)
	require.Empty(t, loaded)

	ok, err := fake.Exists("/snapshots/" + dirName(1))
	require.NoError(t, err)
	require.False(t, ok)
}

func TestLoadSeedsCounterPastMaxID(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)

	s1, err := mgr.Create(ctx, "/cam_disk.bin")
	require.NoError(t, err)
	_, err = mgr.Acquire(s1.ID) // keep refcount > 0 so it survives reload semantics check
	require.NoError(t, err)

	mgr2 := New(mgr.fs, "/snapshots")
	loaded, err := mgr2.Load(ctx)
	require.NoError(t, err)
	require.Len(t, loaded, 1)
	require.Greater(t, mgr2.nextID, s1.ID)
}

func TestLoadIsIdempotent(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)

	_, err := mgr.Create(ctx, "/cam_disk.bin")
	require.NoError(t, err)

	first, err := mgr.Load(ctx)
	require.NoError(t, err)
	second, err := mgr.Load(ctx)
	require.NoError(t, err)
	require.Equal(t, first, second)
}

func TestDeleteOldestIfDeletableOnEmptyRegistryReturnsFalse(t *testing.T) {
	mgr, _ := newTestManager(t)
	ok, err := mgr.DeleteOldestIfDeletable(context.Background())
	require.NoError(t, err)
	require.False(t, ok)
}

func TestDeleteOldestIfDeletableSkipsInUseSnapshots(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)

	s1, err := mgr.Create(ctx, "/cam_disk.bin")
	require.NoError(t, err)
	h1, err := mgr.Acquire(s1.ID)
	require.NoError(t, err)

	s2, err := mgr.Create(ctx, "/cam_disk.bin")
	require.NoError(t, err)

	ok, err := mgr.DeleteOldestIfDeletable(ctx)
	require.NoError(t, err)
	require.True(t, ok)

	list := mgr.List()
	require.Len(t, list, 1)
	require.Equal(t, s1.ID, list[0].ID)

	h1.Release()
	ok, err = mgr.DeleteOldestIfDeletable(ctx)
	require.NoError(t, err)
	require.True(t, ok)
	require.Empty(t, mgr.List())
	_ = s2
}

func TestCreateWithMissingSourceReturnsNotFoundAndLeavesSnapshotsUnchanged(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)

	_, err := mgr.Create(ctx, "/does-not-exist.bin")
	require.Error(t, err)
	require.True(t, fsport.IsKind(err, fsport.KindNotFound))
	require.Empty(t, mgr.List())
}

func TestListOrderedByAscendingID(t *testing.T) {
	ctx := context.Background()
	mgr, _ := newTestManager(t)

	var ids []int64
	for i := 0; i < 5; i++ {
		s, err := mgr.Create(ctx, "/cam_disk.bin")
		require.NoError(t, err)
		ids = append(ids, s.ID)
	}

	list := mgr.List()
	require.Len(t, list, 5)
	for i := 1; i < len(list); i++ {
		require.Less(t, list[i-1].ID, list[i].ID)
	}
}
