package fsport

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFakeWriteFileAtomicThenReadBack(t *testing.T) {
	f := NewFake()
	require.NoError(t, f.WriteFileAtomic("/a.txt", []byte("hello")))
	data, ok := f.ReadFile("/a.txt")
	require.True(t, ok)
	require.Equal(t, "hello", string(data))
}

func TestFakeReflinkCopySharesDataAtCopyTime(t *testing.T) {
	f := NewFake()
	require.NoError(t, f.WriteFileAtomic("/src.bin", []byte("payload")))
	require.NoError(t, f.ReflinkCopy("/src.bin", "/dst.bin"))

	data, ok := f.ReadFile("/dst.bin")
	require.True(t, ok)
	require.Equal(t, "payload", string(data))
}

func TestFakeReflinkCopyFailsIfDestinationExists(t *testing.T) {
	f := NewFake()
	require.NoError(t, f.WriteFileAtomic("/src.bin", []byte("a")))
	require.NoError(t, f.WriteFileAtomic("/dst.bin", []byte("b")))

	err := f.ReflinkCopy("/src.bin", "/dst.bin")
	require.Error(t, err)
	require.True(t, IsKind(err, KindExists))
}

func TestFakeReflinkCopyUnsupported(t *testing.T) {
	f := NewFake()
	f.SetReflinkUnsupported(true)
	require.NoError(t, f.WriteFileAtomic("/src.bin", []byte("a")))

	err := f.ReflinkCopy("/src.bin", "/dst.bin")
	require.Error(t, err)
	require.True(t, IsKind(err, KindUnsupported))
}

func TestFakeRmdirRecursiveOnAlreadyGoneDirectorySucceeds(t *testing.T) {
	f := NewFake()
	require.NoError(t, f.RmdirRecursive("/never-existed"))
}

func TestFakeFaultInjectionFiresOnce(t *testing.T) {
	f := NewFake()
	f.FailNextWriteAtomic()

	err := f.WriteFileAtomic("/a.txt", []byte("x"))
	require.Error(t, err)

	// Second call must succeed: the fault fires exactly once.
	require.NoError(t, f.WriteFileAtomic("/a.txt", []byte("x")))
}

func TestFakeMkdirFailsIfParentMissing(t *testing.T) {
	f := NewFake()
	err := f.Mkdir("/missing-parent/child")
	require.Error(t, err)
	require.True(t, IsKind(err, KindNotFound))
}

func TestFakeListDirReturnsChildrenSorted(t *testing.T) {
	f := NewFake()
	require.NoError(t, f.Mkdir("/dir"))
	require.NoError(t, f.WriteFileAtomic("/dir/b.txt", []byte("b")))
	require.NoError(t, f.WriteFileAtomic("/dir/a.txt", []byte("a")))

	entries, err := f.ListDir("/dir")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	require.Equal(t, "a.txt", entries[0].Name)
	require.Equal(t, "b.txt", entries[1].Name)
}

func TestErrorIsMatchesOnKind(t *testing.T) {
	err := NewError(KindNoSpace, "write_file_atomic", "/x", nil)
	require.ErrorIs(t, err, ErrNoSpace)
	require.False(t, IsKind(err, KindIO))
}
