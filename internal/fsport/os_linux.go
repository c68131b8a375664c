//go:build linux

package fsport

import (
	"os"
	"path/filepath"
	"syscall"

	"golang.org/x/sys/unix"
)

// ficloneIoctl is FICLONE from <linux/fs.h>: clone src's extents into dst,
// sharing data blocks copy-on-write. Both descriptors must reference files
// on the same filesystem and that filesystem must support reflink (btrfs,
// XFS with reflink=1, etc.).
const ficloneIoctl = 0x40049409

// OS is the real filesystem backend: every operation is a direct OS call.
type OS struct{}

// New returns the real OS-backed FS implementation.
func New() FS { return OS{} }

func classify(op, path string, err error) error {
	if err == nil {
		return nil
	}
	switch {
	case os.IsNotExist(err):
		return NewError(KindNotFound, op, path, err)
	case os.IsExist(err):
		return NewError(KindExists, op, path, err)
	case os.IsPermission(err):
		return NewError(KindPermissionDenied, op, path, err)
	}
	if errno, ok := asErrno(err); ok {
		switch errno {
		case unix.ENOSPC:
			return NewError(KindNoSpace, op, path, err)
		case unix.EOPNOTSUPP, unix.EXDEV:
			return NewError(KindUnsupported, op, path, err)
		case unix.ENOENT:
			return NewError(KindNotFound, op, path, err)
		case unix.EEXIST:
			return NewError(KindExists, op, path, err)
		case unix.EACCES, unix.EPERM:
			return NewError(KindPermissionDenied, op, path, err)
		}
	}
	return NewError(KindIO, op, path, err)
}

// asErrno unwraps err looking for either golang.org/x/sys/unix.Errno (from
// direct unix.Syscall calls, e.g. the FICLONE ioctl) or the standard
// library's syscall.Errno (from os.* calls) and normalizes to the former,
// since the two are distinct named types over the same underlying values.
func asErrno(err error) (unix.Errno, bool) {
	for {
		if errno, ok := err.(unix.Errno); ok {
			return errno, true
		}
		if errno, ok := err.(syscall.Errno); ok {
			return unix.Errno(errno), true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return 0, false
		}
		err = u.Unwrap()
		if err == nil {
			return 0, false
		}
	}
}

func (OS) Exists(p string) (bool, error) {
	if _, err := os.Lstat(p); err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, classify("stat", p, err)
	}
	return true, nil
}

func (OS) ListDir(p string) ([]DirEntry, error) {
	entries, err := os.ReadDir(p)
	if err != nil {
		return nil, classify("readdir", p, err)
	}
	out := make([]DirEntry, 0, len(entries))
	for _, e := range entries {
		out = append(out, DirEntry{Name: e.Name(), IsDir: e.IsDir()})
	}
	return out, nil
}

func (OS) Mkdir(p string) error {
	if err := os.Mkdir(p, 0o750); err != nil {
		return classify("mkdir", p, err)
	}
	return nil
}

func (OS) Rename(a, b string) error {
	if err := os.Rename(a, b); err != nil {
		return classify("rename", a, err)
	}
	return nil
}

func (OS) UnlinkFile(p string) error {
	if err := os.Remove(p); err != nil {
		return classify("unlink", p, err)
	}
	return nil
}

func (OS) RmdirRecursive(p string) error {
	if err := os.RemoveAll(p); err != nil {
		return classify("rmdir_recursive", p, err)
	}
	return nil
}

// ReflinkCopy issues FICLONE: dst must not exist yet; it is created, and its
// extents are cloned from src. Returns KindUnsupported, never a silent deep
// copy, if the ioctl fails because the filesystem lacks reflink support.
func (OS) ReflinkCopy(src, dst string) error {
	srcFile, err := os.Open(src)
	if err != nil {
		return classify("reflink_copy", src, err)
	}
	defer srcFile.Close()

	dstFile, err := os.OpenFile(dst, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o640)
	if err != nil {
		return classify("reflink_copy", dst, err)
	}
	defer dstFile.Close()

	_, _, errno := unix.Syscall(unix.SYS_IOCTL, dstFile.Fd(), uintptr(ficloneIoctl), srcFile.Fd())
	if errno != 0 {
		os.Remove(dst)
		if errno == unix.EOPNOTSUPP || errno == unix.ENOTTY || errno == unix.EXDEV || errno == unix.EINVAL {
			return NewError(KindUnsupported, "reflink_copy", dst, errno)
		}
		return classify("reflink_copy", dst, errno)
	}
	return nil
}

func (OS) WriteFileAtomic(p string, data []byte) error {
	tmp := p + ".tmp"
	f, err := os.OpenFile(tmp, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o640)
	if err != nil {
		return classify("write_file_atomic", tmp, err)
	}
	if _, err := f.Write(data); err != nil {
		f.Close()
		os.Remove(tmp)
		return classify("write_file_atomic", tmp, err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		os.Remove(tmp)
		return classify("write_file_atomic", tmp, err)
	}
	if err := f.Close(); err != nil {
		os.Remove(tmp)
		return classify("write_file_atomic", tmp, err)
	}
	if err := os.Rename(tmp, p); err != nil {
		os.Remove(tmp)
		return classify("write_file_atomic", p, err)
	}
	if err := (OS{}).FsyncDir(filepath.Dir(p)); err != nil {
		return err
	}
	return nil
}

func (OS) FsyncDir(p string) error {
	d, err := os.Open(p)
	if err != nil {
		return classify("fsync_dir", p, err)
	}
	defer d.Close()
	if err := d.Sync(); err != nil {
		return classify("fsync_dir", p, err)
	}
	return nil
}

// ReadFile returns the bytes at p, satisfying the snapshot package's
// fileReader interface for parsing .toc records.
func (OS) ReadFile(p string) ([]byte, bool) {
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, false
	}
	return data, true
}

func (OS) FreeBytes(p string) (uint64, error) {
	var stat unix.Statfs_t
	if err := unix.Statfs(p, &stat); err != nil {
		return 0, classify("free_bytes", p, err)
	}
	return stat.Bavail * uint64(stat.Bsize), nil
}

// FileSize returns the real on-disk size of the regular file at p, e.g.
// cam_disk.bin's fixed, provisioning-time capacity — never re-derived from
// currently-free space.
func (OS) FileSize(p string) (int64, error) {
	info, err := os.Stat(p)
	if err != nil {
		return 0, classify("file_size", p, err)
	}
	return info.Size(), nil
}

var _ FS = OS{}
