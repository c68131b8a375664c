package snapshot

import "sync"

// Handle is a scoped acquisition of a snapshot. Release decrements the
// snapshot's refcount exactly once, regardless of how many times it is
// called, so that it is always safe to pair Acquire with a deferred
// Release (spec.md §9, "scoped acquisition").
type Handle struct {
	mgr  *Manager
	id   int64
	dir  string
	once sync.Once
}

// ID returns the snapshot ID this handle refers to.
func (h *Handle) ID() int64 { return h.id }

// Dir returns the snapshot directory path.
func (h *Handle) Dir() string { return h.dir }

// Release decrements the snapshot's refcount. Idempotent: subsequent calls
// are no-ops. Release never deletes the snapshot; deletion remains an
// explicit coordinator responsibility (spec.md §4.2, snapshot_session).
func (h *Handle) Release() {
	h.once.Do(func() {
		h.mgr.release(h.id)
	})
}
