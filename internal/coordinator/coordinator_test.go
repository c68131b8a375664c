package coordinator

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/camvaultd/camvaultd/internal/archive"
	"github.com/camvaultd/camvaultd/internal/fsport"
	"github.com/camvaultd/camvaultd/internal/snapshot"
)

type stubReachability struct{}

func (stubReachability) IsReachable(ctx context.Context) bool    { return true }
func (stubReachability) AwaitReachable(ctx context.Context) error { return nil }

type recordingArchiver struct {
	calls    []archive.Request
	results  []error
	idx      int
	notifyCh chan struct{} // if set, signaled after each Archive call
}

func (a *recordingArchiver) Archive(ctx context.Context, req archive.Request) error {
	a.calls = append(a.calls, req)
	var err error
	if a.idx < len(a.results) {
		err = a.results[a.idx]
	}
	a.idx++
	if a.notifyCh != nil {
		a.notifyCh <- struct{}{}
	}
	return err
}

func newTestSetup(t *testing.T) (*snapshot.Manager, *fsport.Fake) {
	t.Helper()
	fake := fsport.NewFake()
	require.NoError(t, fake.WriteFileAtomic("/cam_disk.bin", []byte("fat32 bytes")))
	mgr := snapshot.New(fake, "/snapshots")
	_, err := mgr.Load(context.Background())
	require.NoError(t, err)
	fake.SetFreeBytes(1 << 30)
	return mgr, fake
}

// oneShotRun cancels the context after the first full loop iteration by
// racing a short timer against Run's own blocking points, since the
// coordinator's loop has no natural single-shot mode.
func runOnce(t *testing.T, c *Coordinator) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_ = c.Run(ctx)
}

func TestHappyPathArchivesAndDeletesSnapshot(t *testing.T) {
	mgr, fake := newTestSetup(t)
	archiver := &recordingArchiver{}

	c := New(Config{
		SnapshotMgr:  mgr,
		FS:           fake,
		SnapshotsDir: "/snapshots",
		CamDiskPath:  "/cam_disk.bin",
		Reachability: stubReachability{},
		SettleDelay:  time.Millisecond,
		Archiver:     archiver,
		Destination:  "remote:bucket",
		Roots:        archive.ClipRoots{SavedClips: true, SentryClips: true},
		CamSize:      1024,
	})

	runOnce(t, c)

	require.Len(t, archiver.calls, 1)
	require.Empty(t, mgr.List())
}

func TestRecoverableArchiveFailureLeavesSnapshotForNextSweep(t *testing.T) {
	mgr, fake := newTestSetup(t)
	notify := make(chan struct{}, 4)
	archiver := &recordingArchiver{
		results:  []error{&archive.RecoverableError{Err: context.DeadlineExceeded}},
		notifyCh: notify,
	}

	c := New(Config{
		SnapshotMgr:  mgr,
		FS:           fake,
		SnapshotsDir: "/snapshots",
		CamDiskPath:  "/cam_disk.bin",
		Reachability: stubReachability{},
		SettleDelay:  time.Millisecond,
		Archiver:     archiver,
		CamSize:      1024,
	})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	done := make(chan struct{})
	go func() {
		_ = c.Run(ctx)
		close(done)
	}()

	// Let the first (failing) archive call complete, then stop the
	// coordinator before its next sweep reclaims the released snapshot.
	<-notify
	cancel()
	<-done

	list := mgr.List()
	require.NotEmpty(t, list, "the recoverable-failure snapshot must survive its own cycle")
	for _, s := range list {
		require.Equal(t, 0, s.Refcount)
	}
}
