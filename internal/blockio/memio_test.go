package blockio

import (
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemIOCursorIndependence(t *testing.T) {
	io := NewMemIO()
	fd, err := io.Open("f", OpenRead|OpenWrite|OpenCreate, ModeUserRead|ModeUserWrite)
	require.NoError(t, err)

	_, err = io.Write(fd, []byte("hello world"))
	require.NoError(t, err)
	_, err = io.WriteAt(fd, []byte("HELLO"), 0)
	require.NoError(t, err)

	pos, err := io.Seek(fd, 0, SeekCurrent)
	require.NoError(t, err)
	assert.Equal(t, int64(11), pos)

	_, err = io.Write(fd, []byte("!"))
	require.NoError(t, err)
	data, ok := io.Contents("f")
	require.True(t, ok)
	assert.Equal(t, "HELLO world!", string(data))
}

func TestMemIOOpenSemantics(t *testing.T) {
	io := NewMemIO()

	_, err := io.Open("f", OpenRead, 0)
	assert.ErrorIs(t, err, syscall.ENOENT)

	fd, err := io.Open("f", OpenWrite|OpenCreate|OpenExclusive, ModeUserRead|ModeUserWrite)
	require.NoError(t, err)
	_, err = io.Write(fd, []byte("data"))
	require.NoError(t, err)
	require.NoError(t, io.Close(fd))

	_, err = io.Open("f", OpenWrite|OpenCreate|OpenExclusive, ModeUserRead|ModeUserWrite)
	assert.ErrorIs(t, err, syscall.EEXIST)

	fd, err = io.Open("f", OpenRead, 0)
	require.NoError(t, err)
	_, err = io.Write(fd, []byte("x"))
	assert.ErrorIs(t, err, syscall.EBADF)
	require.NoError(t, io.Close(fd))

	fd, err = io.Open("f", OpenWrite|OpenTruncate, 0)
	require.NoError(t, err)
	require.NoError(t, io.Close(fd))
	data, _ := io.Contents("f")
	assert.Empty(t, data)

	io.SetContents("ro", []byte("x"))
	fd, err = io.Open("ro", OpenRead, 0)
	require.NoError(t, err)
	require.NoError(t, io.Close(fd))

	assert.ErrorIs(t, io.Close(fd), syscall.EBADF)
}

func TestMemIOAppend(t *testing.T) {
	io := NewMemIO()
	io.SetContents("log", []byte("abc"))

	fd, err := io.Open("log", OpenWrite|OpenAppend, 0)
	require.NoError(t, err)
	defer io.Close(fd)

	_, err = io.Write(fd, []byte("def"))
	require.NoError(t, err)
	data, _ := io.Contents("log")
	assert.Equal(t, "abcdef", string(data))
}

func TestMemIOFaults(t *testing.T) {
	io := NewMemIO()
	fd, err := io.Open("f", OpenRead|OpenWrite|OpenCreate, ModeUserRead|ModeUserWrite)
	require.NoError(t, err)
	defer io.Close(fd)

	io.Inject(OpWriteAt, Fault{Short: 3})
	n, err := io.WriteAt(fd, []byte("abcdef"), 0)
	require.NoError(t, err)
	assert.Equal(t, 3, n)

	n, err = io.WriteAt(fd, []byte("abcdef"), 0)
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	io.Inject(OpReadAt, Fault{Short: 2})
	buf := make([]byte, 6)
	n, err = io.ReadAt(fd, buf, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	io.Inject(OpSync, Fault{Errno: syscall.EIO})
	err = io.Sync(fd)
	assert.ErrorIs(t, err, syscall.EIO)
	assert.ErrorIs(t, err, ErrIO)
	require.NoError(t, io.Sync(fd))
	assert.Equal(t, 1, io.SyncCount("f"))

	io.Inject(OpOpen, Fault{Errno: syscall.EMFILE})
	_, err = io.Open("g", OpenRead|OpenCreate, ModeUserRead)
	assert.ErrorIs(t, err, syscall.EMFILE)
}

func TestMemIOTruncate(t *testing.T) {
	io := NewMemIO()
	fd, err := io.Open("f", OpenRead|OpenWrite|OpenCreate, ModeUserRead|ModeUserWrite)
	require.NoError(t, err)
	defer io.Close(fd)

	require.NoError(t, io.Truncate(fd, 8))
	data, _ := io.Contents("f")
	assert.Equal(t, make([]byte, 8), data)

	_, err = io.WriteAt(fd, []byte("zz"), 6)
	require.NoError(t, err)
	require.NoError(t, io.Truncate(fd, 7))
	require.NoError(t, io.Truncate(fd, 9))
	data, _ = io.Contents("f")
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 'z', 0, 0}, data)
}

func TestMemIORemove(t *testing.T) {
	io := NewMemIO()
	io.SetContents("f", []byte("data"))

	require.NoError(t, Remove(io, "f"))
	_, ok := io.Contents("f")
	assert.False(t, ok)
	assert.ErrorIs(t, Remove(io, "f"), syscall.ENOENT)

	io.SetContents("f", nil)
	io.Inject(OpRemove, Fault{Errno: syscall.EACCES})
	assert.ErrorIs(t, Remove(io, "f"), syscall.EACCES)
	_, ok = io.Contents("f")
	assert.True(t, ok)

	assert.ErrorIs(t, Remove(struct{ ByteIO }{io}, "f"), ErrRemoveUnsupported)
}
