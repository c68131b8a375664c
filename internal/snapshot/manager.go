// Package snapshot implements the authoritative registry of on-disk,
// reflink-based point-in-time copies of the cam disk image: creation,
// refcounted acquisition, deletion, and crash-recovery scanning.
package snapshot

import (
	"context"
	"path"
	"sort"
	"sync"
	"time"

	"github.com/containerd/log"

	"github.com/camvaultd/camvaultd/internal/fsport"
)

// Manager owns snapshots/ under a mounted backing image. A single mutex
// protects the in-memory registry and the ID counter; it is held only
// across bookkeeping, never across filesystem I/O (spec.md §4.2, §5).
type Manager struct {
	fs  fsport.FS
	dir string // absolute path to snapshots/

	mu       sync.Mutex
	registry map[int64]*registryEntry
	nextID   int64
}

// New returns a Manager rooted at snapshotsDir. Load must be called before
// any other method observes a consistent registry.
func New(fs fsport.FS, snapshotsDir string) *Manager {
	return &Manager{
		fs:       fs,
		dir:      snapshotsDir,
		registry: make(map[int64]*registryEntry),
		nextID:   1,
	}
}

// Load scans snapshots/. Each child directory containing .toc is parsed and
// registered with refcount 0; each child directory lacking .toc is reaped
// via rmdir_recursive. The ID counter is seeded to one past the highest
// valid ID found. Returns the loaded snapshots oldest-first.
func (m *Manager) Load(ctx context.Context) ([]Snapshot, error) {
	if err := m.ensureDir(ctx); err != nil {
		return nil, err
	}

	entries, err := m.fs.ListDir(m.dir)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	m.registry = make(map[int64]*registryEntry)
	var maxID int64

	for _, e := range entries {
		if !e.IsDir {
			continue
		}
		childDir := path.Join(m.dir, e.Name)
		tocPath := path.Join(childDir, tocFileName)

		ok, err := m.fs.Exists(tocPath)
		if err != nil {
			return nil, err
		}
		if !ok {
			log.G(ctx).WithField("dir", childDir).Info("reaping incomplete snapshot directory")
			if err := m.fs.RmdirRecursive(childDir); err != nil {
				return nil, err
			}
			continue
		}

		raw, ok := readFile(m.fs, tocPath)
		if !ok {
			// .toc existed a moment ago but vanished under us; treat like
			// an incomplete directory rather than fail load entirely.
			if err := m.fs.RmdirRecursive(childDir); err != nil {
				return nil, err
			}
			continue
		}
		rec, err := parseTOC(raw)
		if err != nil {
			log.G(ctx).WithField("dir", childDir).WithError(err).Warn("unparsable .toc, reaping")
			if err := m.fs.RmdirRecursive(childDir); err != nil {
				return nil, err
			}
			continue
		}

		m.registry[rec.ID] = &registryEntry{
			id:        rec.ID,
			dir:       childDir,
			createdAt: rec.CreatedAt,
			refcount:  0,
		}
		if rec.ID >= maxID {
			maxID = rec.ID
		}
	}

	m.nextID = maxID + 1
	return m.listLocked(), nil
}

// readFile is a small helper bridging fsport.FS (which has no direct read
// primitive) via the fake's test-only accessor and the real backend's
// os.ReadFile. Production callers use the real backend, which implements
// fileReader; the in-memory fake implements it via ReadFile.
func readFile(fs fsport.FS, p string) ([]byte, bool) {
	if r, ok := fs.(fileReader); ok {
		return r.ReadFile(p)
	}
	return nil, false
}

// fileReader is implemented by filesystem backends that can return a
// snapshot-in-time of a regular file's bytes for parsing .toc records.
type fileReader interface {
	ReadFile(p string) ([]byte, bool)
}

// Create produces a new complete snapshot from sourcePath. On any failure
// prior to the .toc rename, the partial directory is removed best-effort
// and Io is returned; the directory would otherwise be reaped by the next
// Load or sweep.
func (m *Manager) Create(ctx context.Context, sourcePath string) (Snapshot, error) {
	id := m.reserveID()
	dir := path.Join(m.dir, dirName(id))

	if err := m.fs.Mkdir(dir); err != nil {
		return Snapshot{}, err
	}

	imagePath := path.Join(dir, "image.bin")
	if err := m.fs.ReflinkCopy(sourcePath, imagePath); err != nil {
		m.fs.RmdirRecursive(dir)
		return Snapshot{}, err
	}

	createdAt := time.Now()
	size, _ := m.fs.FileSize(sourcePath) // best-effort; not authoritative
	rec := toc{ID: id, CreatedAt: createdAt, SourceSize: size}

	tocPath := path.Join(dir, tocFileName)
	if err := m.fs.WriteFileAtomic(tocPath, rec.marshal()); err != nil {
		m.fs.RmdirRecursive(dir)
		return Snapshot{}, err
	}

	if err := m.fs.FsyncDir(dir); err != nil {
		return Snapshot{}, err
	}
	if err := m.fs.FsyncDir(m.dir); err != nil {
		return Snapshot{}, err
	}

	m.mu.Lock()
	m.registry[id] = &registryEntry{id: id, dir: dir, createdAt: createdAt, refcount: 0}
	m.mu.Unlock()

	log.G(ctx).WithField("id", id).Info("snapshot created")
	return Snapshot{ID: id, Dir: dir, CreatedAt: createdAt}, nil
}

// reserveID atomically claims the next monotonic ID. This is the only
// state mutation allowed outside a full create/delete bookkeeping step,
// and it is cheap enough to hold the lock for.
func (m *Manager) reserveID() int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextID
	m.nextID++
	return id
}

// Acquire increments the snapshot's refcount and returns a scoped handle.
// Fails ErrNotFound if id is not registered.
func (m *Manager) Acquire(id int64) (*Handle, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.registry[id]
	if !ok {
		return nil, ErrNotFound
	}
	e.refcount++
	return &Handle{mgr: m, id: id, dir: e.dir}, nil
}

func (m *Manager) release(id int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.registry[id]
	if !ok {
		return
	}
	if e.refcount > 0 {
		e.refcount--
	}
}

// SnapshotSession is Create immediately followed by Acquire. The returned
// handle's Release does not delete the snapshot; deletion remains an
// explicit coordinator responsibility.
func (m *Manager) SnapshotSession(ctx context.Context, sourcePath string) (*Handle, error) {
	snap, err := m.Create(ctx, sourcePath)
	if err != nil {
		return nil, err
	}
	return m.Acquire(snap.ID)
}

// Delete removes a snapshot with refcount 0. Fails ErrInUse otherwise. The
// .toc unlink is the linearization point: the in-memory entry is removed
// from the registry only after that unlink is durable, and from that
// moment the snapshot is considered gone even if bulk removal is still in
// progress (spec.md §4.2 ordering rules).
func (m *Manager) Delete(ctx context.Context, id int64) error {
	m.mu.Lock()
	e, ok := m.registry[id]
	if !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if e.refcount > 0 {
		m.mu.Unlock()
		return ErrInUse
	}
	dir := e.dir
	m.mu.Unlock()

	tocPath := path.Join(dir, tocFileName)
	if err := m.fs.UnlinkFile(tocPath); err != nil {
		return err
	}
	if err := m.fs.FsyncDir(dir); err != nil {
		return err
	}

	m.mu.Lock()
	delete(m.registry, id)
	m.mu.Unlock()

	if err := m.fs.RmdirRecursive(dir); err != nil {
		return err
	}
	log.G(ctx).WithField("id", id).Info("snapshot deleted")
	return nil
}

// DeleteOldestIfDeletable deletes the oldest refcount-0 snapshot, if any,
// and reports whether it did.
func (m *Manager) DeleteOldestIfDeletable(ctx context.Context) (bool, error) {
	m.mu.Lock()
	var oldest *registryEntry
	for _, e := range m.registry {
		if e.refcount != 0 {
			continue
		}
		if oldest == nil || e.id < oldest.id {
			oldest = e
		}
	}
	m.mu.Unlock()

	if oldest == nil {
		return false, nil
	}
	if err := m.Delete(ctx, oldest.id); err != nil {
		return false, err
	}
	return true, nil
}

// List returns all registered snapshots ordered by ascending ID. Returned
// refcounts are point-in-time observations, not live references.
func (m *Manager) List() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.listLocked()
}

func (m *Manager) listLocked() []Snapshot {
	out := make([]Snapshot, 0, len(m.registry))
	for _, e := range m.registry {
		out = append(out, e.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (m *Manager) ensureDir(ctx context.Context) error {
	ok, err := m.fs.Exists(m.dir)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	log.G(ctx).WithField("dir", m.dir).Info("creating snapshots directory")
	return m.fs.Mkdir(m.dir)
}
