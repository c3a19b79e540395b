package blockio

import (
	"syscall"
	"testing"

	"github.com/ncw/directio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func openMem(t *testing.T, io *MemIO, path string) *File {
	t.Helper()
	f, err := OpenWith(io, path, OpenRead|OpenWrite|OpenCreate, ModeUserRead|ModeUserWrite)
	require.NoError(t, err)
	return f
}

func TestFileCloseIsIdempotent(t *testing.T) {
	io := NewMemIO()
	f := openMem(t, io, "a")
	require.True(t, f.Valid())
	require.Equal(t, 1, io.OpenCount())

	require.NoError(t, f.Close())
	require.NoError(t, f.Close())
	assert.False(t, f.Valid())
	assert.Equal(t, InvalidFD, f.FD())
	assert.Equal(t, 0, io.OpenCount())
}

func TestFileUseAfterClosePanics(t *testing.T) {
	io := NewMemIO()
	f := openMem(t, io, "a")
	require.NoError(t, f.Close())

	buf := make([]byte, 4)
	assert.Panics(t, func() { _, _ = f.Read(buf) })
	assert.Panics(t, func() { _, _ = f.ReadAt(buf, 0) })
	assert.Panics(t, func() { _, _ = f.Write(buf) })
	assert.Panics(t, func() { _, _ = f.WriteAt(buf, 0) })
	assert.Panics(t, func() { _, _ = f.Seek(0, SeekStart) })
	assert.Panics(t, func() { _ = f.Sync() })
	assert.Panics(t, func() { _ = f.DataSync() })
	assert.Panics(t, func() { _ = f.Truncate(0) })
}

func TestFileMove(t *testing.T) {
	io := NewMemIO()
	f := openMem(t, io, "a")
	fd := f.FD()

	moved := f.Move()
	assert.False(t, f.Valid())
	assert.True(t, moved.Valid())
	assert.Equal(t, fd, moved.FD())
	assert.Equal(t, "a", moved.Path())

	assert.Panics(t, func() { _, _ = f.Write([]byte("x")) })
	assert.Panics(t, func() { f.Move() })

	n, err := moved.Write([]byte("moved"))
	require.NoError(t, err)
	assert.Equal(t, 5, n)

	// Closing the moved-from handle must not release the descriptor.
	require.NoError(t, f.Close())
	assert.Equal(t, 1, io.OpenCount())
	require.NoError(t, moved.Close())
	assert.Equal(t, 0, io.OpenCount())
}

func TestOpenWithFailureProducesNoFile(t *testing.T) {
	io := NewMemIO()
	f, err := OpenWith(io, "missing", OpenRead, 0)
	assert.Nil(t, f)
	assert.ErrorIs(t, err, ErrIO)
	assert.ErrorIs(t, err, syscall.ENOENT)
	assert.Equal(t, 0, io.OpenCount())
}

func TestFileCloseErrorCarriesPath(t *testing.T) {
	io := NewMemIO()
	f := openMem(t, io, "a")
	io.Inject(OpClose, Fault{Errno: syscall.EIO})

	err := f.Close()
	require.Error(t, err)
	var ioErr *IOError
	require.ErrorAs(t, err, &ioErr)
	assert.Equal(t, "a", ioErr.Path)
	assert.Equal(t, OpClose, ioErr.Op)
	assert.False(t, f.Valid())
}

func TestMustCloseAbortsOnFailure(t *testing.T) {
	var aborted string
	saved := abort
	abort = func(msg string, _ ...zap.Field) { aborted = msg }
	defer func() { abort = saved }()

	io := NewMemIO()
	f := openMem(t, io, "a")
	f.MustClose()
	assert.Empty(t, aborted)

	f = openMem(t, io, "b")
	io.Inject(OpClose, Fault{Errno: syscall.EIO})
	f.MustClose()
	assert.Equal(t, "blockio: failed to close file", aborted)
}

func TestFinalizeAbortsOnFailure(t *testing.T) {
	var aborted string
	saved := abort
	abort = func(msg string, _ ...zap.Field) { aborted = msg }
	defer func() { abort = saved }()

	io := NewMemIO()
	f := openMem(t, io, "a")
	io.Inject(OpClose, Fault{Errno: syscall.EIO})
	f.finalize()
	assert.Equal(t, "blockio: failed to close leaked file", aborted)

	aborted = ""
	f.finalize()
	assert.Empty(t, aborted)
}

func TestFileDirectAlignment(t *testing.T) {
	io := NewMemIO()
	f, err := OpenWith(io, "d", OpenRead|OpenWrite|OpenCreate|OpenDirect, ModeUserRead|ModeUserWrite)
	require.NoError(t, err)
	defer f.MustClose()

	_, err = f.Write(make([]byte, 100))
	assert.ErrorIs(t, err, ErrMisaligned)

	block := directio.AlignedBlock(directio.BlockSize)
	_, err = f.WriteAt(block, 1)
	assert.ErrorIs(t, err, ErrMisaligned)

	n, err := f.WriteAt(block, directio.BlockSize)
	require.NoError(t, err)
	assert.Equal(t, directio.BlockSize, n)
}

func TestFileLock(t *testing.T) {
	io := NewMemIO()
	a := openMem(t, io, "lock")
	defer a.MustClose()
	b := openMem(t, io, "lock")
	defer b.MustClose()

	require.NoError(t, a.Lock())
	assert.True(t, IsLocked(b.Lock()))
	require.NoError(t, a.Unlock())
	require.NoError(t, b.Lock())
}

func TestFileLockUnsupported(t *testing.T) {
	// Embedding hides the Locker methods of MemIO.
	io := struct{ ByteIO }{NewMemIO()}
	f, err := OpenWith(io, "a", OpenRead|OpenWrite|OpenCreate, ModeUserRead|ModeUserWrite)
	require.NoError(t, err)
	defer f.MustClose()
	assert.ErrorIs(t, f.Lock(), ErrLockUnsupported)
}
