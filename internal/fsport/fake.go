package fsport

import (
	"errors"
	"path"
	"sort"
	"strings"
	"sync"
)

// entry is either a regular file (data != nil) or a directory (children set).
type entry struct {
	isDir    bool
	data     []byte
	children map[string]struct{}
}

// Fake is an in-memory FS used by tests. It models directories as a mapping
// from path to entry, preserves the same atomicity semantics as the real
// backend, and exposes fault-injection hooks so crash-consistency tests
// (spec.md §8) can force a failure at a precise point.
type Fake struct {
	mu   sync.Mutex
	root map[string]*entry

	failNextWriteAtomic bool
	failNextReflink     bool
	failNextRename      bool
	failNextMkdir       bool
	failNextUnlink      bool

	// failAfterReflinkBeforeMarker, when set, makes the NEXT WriteFileAtomic
	// call whose path ends in ".toc" fail. This models spec.md §8 scenario 2:
	// a crash after reflink_copy but before the .toc rename.
	failAfterReflinkBeforeMarker bool

	// failBetweenUnlinkAndRmdir makes the NEXT RmdirRecursive call fail,
	// after the preceding UnlinkFile has already taken effect. Models
	// spec.md §8 scenario 3: crash between .toc unlink and rmdir_recursive.
	failBetweenUnlinkAndRmdir bool

	reflinkUnsupported bool
	free               uint64
}

var (
	errNotFound    = errors.New("not found")
	errExists      = errors.New("already exists")
	errInjected    = errors.New("injected fault")
	errIsDir       = errors.New("is a directory")
	errUnsupported = errors.New("unsupported")
)

// NewFake returns an empty in-memory filesystem rooted at "/".
func NewFake() *Fake {
	f := &Fake{root: make(map[string]*entry)}
	f.root["/"] = &entry{isDir: true, children: map[string]struct{}{}}
	return f
}

// FailNextWriteAtomic arranges for the next WriteFileAtomic call to fail.
func (f *Fake) FailNextWriteAtomic() { f.mu.Lock(); f.failNextWriteAtomic = true; f.mu.Unlock() }

// FailNextReflink arranges for the next ReflinkCopy call to fail.
func (f *Fake) FailNextReflink() { f.mu.Lock(); f.failNextReflink = true; f.mu.Unlock() }

// FailNextRename arranges for the next Rename call to fail.
func (f *Fake) FailNextRename() { f.mu.Lock(); f.failNextRename = true; f.mu.Unlock() }

// FailNextMkdir arranges for the next Mkdir call to fail.
func (f *Fake) FailNextMkdir() { f.mu.Lock(); f.failNextMkdir = true; f.mu.Unlock() }

// FailNextUnlink arranges for the next UnlinkFile call to fail.
func (f *Fake) FailNextUnlink() { f.mu.Lock(); f.failNextUnlink = true; f.mu.Unlock() }

// FailNextTOCWrite makes the next WriteFileAtomic call targeting a ".toc"
// path fail, modeling a crash after reflink_copy but before the marker
// rename (spec.md §8 scenario 2).
func (f *Fake) FailNextTOCWrite() {
	f.mu.Lock()
	f.failAfterReflinkBeforeMarker = true
	f.mu.Unlock()
}

// FailNextRmdirRecursive makes the next RmdirRecursive call fail, modeling
// a crash between the .toc unlink and bulk directory removal (spec.md §8
// scenario 3).
func (f *Fake) FailNextRmdirRecursive() {
	f.mu.Lock()
	f.failBetweenUnlinkAndRmdir = true
	f.mu.Unlock()
}

// SetReflinkUnsupported makes every future ReflinkCopy call fail with
// KindUnsupported, as on a filesystem lacking reflink.
func (f *Fake) SetReflinkUnsupported(v bool) {
	f.mu.Lock()
	f.reflinkUnsupported = v
	f.mu.Unlock()
}

func clean(p string) string {
	p = path.Clean("/" + strings.TrimPrefix(p, "/"))
	return p
}

func dirOf(p string) string {
	d := path.Dir(p)
	return clean(d)
}

func base(p string) string {
	return path.Base(clean(p))
}

func (f *Fake) Exists(p string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.root[clean(p)]
	return ok, nil
}

func (f *Fake) ListDir(p string) ([]DirEntry, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p = clean(p)
	e, ok := f.root[p]
	if !ok || !e.isDir {
		return nil, NewError(KindNotFound, "readdir", p, errNotFound)
	}
	names := make([]string, 0, len(e.children))
	for name := range e.children {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]DirEntry, 0, len(names))
	for _, name := range names {
		child := f.root[path.Join(p, name)]
		out = append(out, DirEntry{Name: name, IsDir: child != nil && child.isDir})
	}
	return out, nil
}

func (f *Fake) Mkdir(p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNextMkdir {
		f.failNextMkdir = false
		return NewError(KindIO, "mkdir", p, errInjected)
	}
	p = clean(p)
	if _, ok := f.root[p]; ok {
		return NewError(KindExists, "mkdir", p, errExists)
	}
	parent, ok := f.root[dirOf(p)]
	if !ok || !parent.isDir {
		return NewError(KindNotFound, "mkdir", p, errNotFound)
	}
	f.root[p] = &entry{isDir: true, children: map[string]struct{}{}}
	parent.children[base(p)] = struct{}{}
	return nil
}

func (f *Fake) Rename(a, b string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNextRename {
		f.failNextRename = false
		return NewError(KindIO, "rename", a, errInjected)
	}
	a, b = clean(a), clean(b)
	e, ok := f.root[a]
	if !ok {
		return NewError(KindNotFound, "rename", a, errNotFound)
	}
	if _, exists := f.root[b]; exists {
		delete(f.root, b)
	}
	f.root[b] = e
	delete(f.root, a)

	if oldParent, ok := f.root[dirOf(a)]; ok {
		delete(oldParent.children, base(a))
	}
	if newParent, ok := f.root[dirOf(b)]; ok {
		newParent.children[base(b)] = struct{}{}
	} else {
		return NewError(KindNotFound, "rename", b, errNotFound)
	}
	return nil
}

func (f *Fake) UnlinkFile(p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNextUnlink {
		f.failNextUnlink = false
		return NewError(KindIO, "unlink", p, errInjected)
	}
	p = clean(p)
	e, ok := f.root[p]
	if !ok {
		return NewError(KindNotFound, "unlink", p, errNotFound)
	}
	if e.isDir {
		return NewError(KindIO, "unlink", p, errIsDir)
	}
	delete(f.root, p)
	if parent, ok := f.root[dirOf(p)]; ok {
		delete(parent.children, base(p))
	}
	return nil
}

func (f *Fake) RmdirRecursive(p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failBetweenUnlinkAndRmdir {
		f.failBetweenUnlinkAndRmdir = false
		return NewError(KindIO, "rmdir_recursive", p, errInjected)
	}
	p = clean(p)
	f.removeTree(p)
	if parent, ok := f.root[dirOf(p)]; ok {
		delete(parent.children, base(p))
	}
	return nil // idempotent: removing an already-gone directory succeeds silently
}

func (f *Fake) removeTree(p string) {
	e, ok := f.root[p]
	if !ok {
		return
	}
	if e.isDir {
		for name := range e.children {
			f.removeTree(path.Join(p, name))
		}
	}
	delete(f.root, p)
}

func (f *Fake) ReflinkCopy(src, dst string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNextReflink {
		f.failNextReflink = false
		return NewError(KindIO, "reflink_copy", dst, errInjected)
	}
	if f.reflinkUnsupported {
		return NewError(KindUnsupported, "reflink_copy", dst, errUnsupported)
	}
	src, dst = clean(src), clean(dst)
	se, ok := f.root[src]
	if !ok || se.isDir {
		return NewError(KindNotFound, "reflink_copy", src, errNotFound)
	}
	if _, exists := f.root[dst]; exists {
		return NewError(KindExists, "reflink_copy", dst, errExists)
	}
	parent, ok := f.root[dirOf(dst)]
	if !ok {
		return NewError(KindNotFound, "reflink_copy", dst, errNotFound)
	}
	cp := make([]byte, len(se.data))
	copy(cp, se.data)
	f.root[dst] = &entry{data: cp}
	parent.children[base(dst)] = struct{}{}
	return nil
}

func (f *Fake) WriteFileAtomic(p string, data []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failNextWriteAtomic {
		f.failNextWriteAtomic = false
		return NewError(KindIO, "write_file_atomic", p, errInjected)
	}
	if f.failAfterReflinkBeforeMarker && strings.HasSuffix(p, ".toc") {
		f.failAfterReflinkBeforeMarker = false
		return NewError(KindIO, "write_file_atomic", p, errInjected)
	}
	p = clean(p)
	parent, ok := f.root[dirOf(p)]
	if !ok {
		return NewError(KindNotFound, "write_file_atomic", p, errNotFound)
	}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.root[p] = &entry{data: cp}
	parent.children[base(p)] = struct{}{}
	return nil
}

func (f *Fake) FsyncDir(p string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	p = clean(p)
	e, ok := f.root[p]
	if !ok || !e.isDir {
		return NewError(KindNotFound, "fsync_dir", p, errNotFound)
	}
	return nil
}

func (f *Fake) FreeBytes(p string) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.free, nil
}

// SetFreeBytes sets the value FreeBytes reports for any path.
func (f *Fake) SetFreeBytes(n uint64) {
	f.mu.Lock()
	f.free = n
	f.mu.Unlock()
}

func (f *Fake) FileSize(p string) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p = clean(p)
	e, ok := f.root[p]
	if !ok || e.isDir {
		return 0, NewError(KindNotFound, "file_size", p, errNotFound)
	}
	return int64(len(e.data)), nil
}

// ReadFile returns the raw bytes stored at p, for test assertions.
func (f *Fake) ReadFile(p string) ([]byte, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.root[clean(p)]
	if !ok || e.isDir {
		return nil, false
	}
	return e.data, true
}

var _ FS = (*Fake)(nil)
