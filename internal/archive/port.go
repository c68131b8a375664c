// Package archive defines the narrow contract the coordinator calls to
// push a snapshot's contents to a cloud backend, plus the reachability and
// idle-detector ports that gate when a cycle may proceed.
package archive

import (
	"context"
	"fmt"
)

// RecoverableError wraps a transient failure (network, timeout). The
// coordinator releases the snapshot handle without deleting it and lets
// the next cycle's sweep reclaim it (spec.md §4.4 step 7, §9 Open Question).
type RecoverableError struct{ Err error }

func (e *RecoverableError) Error() string { return fmt.Sprintf("recoverable archive error: %v", e.Err) }
func (e *RecoverableError) Unwrap() error { return e.Err }

// FatalError wraps a non-transient failure (bad auth, invalid config). The
// coordinator surfaces it and exits the daemon with a non-zero code.
type FatalError struct{ Err error }

func (e *FatalError) Error() string { return fmt.Sprintf("fatal archive error: %v", e.Err) }
func (e *FatalError) Unwrap() error { return e.Err }

// ClipRoots selects which TeslaCam/ subdirectories a Request should walk.
type ClipRoots struct {
	SavedClips     bool
	SentryClips    bool
	RecentClips    bool
	TrackModeClips bool
}

// Request is the coordinator's call into an Archiver for one snapshot.
type Request struct {
	// SourceRoot is the absolute path of the snapshot's mounted,
	// read-only view (the coordinator mounts image.bin before calling in).
	SourceRoot string
	// Destination names the remote location clips are copied to; its
	// shape is backend-specific.
	Destination string
	Roots       ClipRoots
}

// Archiver pushes a snapshot's new clips to a cloud backend. Implementations
// must be idempotent (copy-if-newer) so a retried cycle after a recoverable
// failure does not re-upload already-archived clips.
type Archiver interface {
	Archive(ctx context.Context, req Request) error
}

// Reachability probes whether the archive backend is currently reachable.
type Reachability interface {
	IsReachable(ctx context.Context) bool
	// AwaitReachable blocks until IsReachable would return true, or ctx is
	// cancelled, in which case it returns ctx.Err().
	AwaitReachable(ctx context.Context) error
}

// IdleDetector blocks until the monitored mount has been quiescent for a
// configured window. Optional: the coordinator falls back to a fixed
// settle-delay when none is configured.
type IdleDetector interface {
	AwaitIdle(ctx context.Context) error
}
