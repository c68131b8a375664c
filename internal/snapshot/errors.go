package snapshot

import "errors"

// ErrInUse is returned by Delete when the target snapshot has a non-zero
// refcount. Under correct coordinator flow this is never surfaced past the
// coordinator's own delete-after-release ordering; seeing it elsewhere
// indicates a bug in the caller.
var ErrInUse = errors.New("snapshot: in use")

// ErrNotFound is returned by Acquire/Delete when the ID is not registered.
var ErrNotFound = errors.New("snapshot: not found")
