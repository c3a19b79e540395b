package wal

import (
	"bytes"
	"syscall"
	"testing"

	"github.com/ncw/directio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"wbtree/internal/base"
	"wbtree/internal/blockio"
	"wbtree/internal/storage"
)

func TestSegmentPath(t *testing.T) {
	assert.Equal(t, "data/wal/0000000000000000", SegmentPath("data", 0))
	assert.Equal(t, "data/wal/00000000000000FF", SegmentPath("data", 255))
}

func TestSegmentLSN(t *testing.T) {
	assert.Equal(t, base.LSN(0), SegmentLSN(0, 0))
	assert.Equal(t, base.LSN(2*SegmentSize+4096), SegmentLSN(2, 4096))
}

func TestCreateSegmentPreallocates(t *testing.T) {
	mem := blockio.NewMemIO()
	seg, err := CreateSegment(mem, "data", 0)
	require.NoError(t, err)
	defer seg.Close()

	data, ok := mem.Contents(SegmentPath("data", 0))
	require.True(t, ok)
	assert.Len(t, data, SegmentSize)
	assert.Equal(t, 1, mem.SyncCount(SegmentPath("data", 0)))
	assert.Equal(t, int64(0), seg.Offset())
	assert.Equal(t, int64(SegmentSize), seg.Remaining())

	_, err = CreateSegment(mem, "data", 0)
	assert.ErrorIs(t, err, syscall.EEXIST)
}

func TestCreateSegmentTruncateFailure(t *testing.T) {
	mem := blockio.NewMemIO()
	mem.Inject(blockio.OpTruncate, blockio.Fault{Errno: syscall.ENOSPC})

	_, err := CreateSegment(mem, "data", 0)
	assert.ErrorIs(t, err, syscall.ENOSPC)
	assert.Equal(t, 0, mem.OpenCount())
	_, ok := mem.Contents(SegmentPath("data", 0))
	assert.False(t, ok)

	seg, err := CreateSegment(mem, "data", 0)
	require.NoError(t, err)
	require.NoError(t, seg.Close())
}

func TestAppendPadsToBlocks(t *testing.T) {
	mem := blockio.NewMemIO()
	seg, err := CreateSegment(mem, "data", 3)
	require.NoError(t, err)
	defer seg.Close()

	first := bytes.Repeat([]byte{'a'}, 100)
	lsn, err := seg.Append(first)
	require.NoError(t, err)
	assert.Equal(t, SegmentLSN(3, 0), lsn)

	second := bytes.Repeat([]byte{'b'}, directio.BlockSize+1)
	lsn, err = seg.Append(second)
	require.NoError(t, err)
	assert.Equal(t, SegmentLSN(3, directio.BlockSize), lsn)
	assert.Equal(t, int64(3*directio.BlockSize), seg.Offset())

	view := storage.NewAlignedView(directio.BlockSize)
	n, err := seg.ReadBlock(0, view)
	require.NoError(t, err)
	assert.Equal(t, directio.BlockSize, n)
	assert.Equal(t, first, view.Block()[:100])
	assert.True(t, isZero(view.Block()[100:]))

	_, err = seg.ReadBlock(2, view)
	require.NoError(t, err)
	assert.Equal(t, byte('b'), view.Block()[0])
	assert.True(t, isZero(view.Block()[1:]))
}

func TestAppendSegmentFull(t *testing.T) {
	mem := blockio.NewMemIO()
	seg, err := CreateSegment(mem, "data", 0)
	require.NoError(t, err)
	defer seg.Close()

	_, err = seg.Append(make([]byte, SegmentSize+1))
	assert.ErrorIs(t, err, ErrSegmentFull)

	_, err = seg.Append(bytes.Repeat([]byte{1}, SegmentSize))
	require.NoError(t, err)
	assert.Equal(t, int64(0), seg.Remaining())

	_, err = seg.Append([]byte{1})
	assert.ErrorIs(t, err, ErrSegmentFull)
}

func TestOpenSegmentFindsTail(t *testing.T) {
	mem := blockio.NewMemIO()
	seg, err := CreateSegment(mem, "data", 0)
	require.NoError(t, err)
	_, err = seg.Append(bytes.Repeat([]byte{7}, 2*directio.BlockSize))
	require.NoError(t, err)
	require.NoError(t, seg.Sync())
	require.NoError(t, seg.Close())

	seg, err = OpenSegment(mem, "data", 0)
	require.NoError(t, err)
	defer seg.Close()
	assert.Equal(t, int64(2*directio.BlockSize), seg.Offset())

	lsn, err := seg.Append([]byte("next"))
	require.NoError(t, err)
	assert.Equal(t, SegmentLSN(0, 2*directio.BlockSize), lsn)
}

func TestOpenSegmentMissing(t *testing.T) {
	_, err := OpenSegment(blockio.NewMemIO(), "data", 9)
	assert.ErrorIs(t, err, syscall.ENOENT)
}

func TestDirectSegment(t *testing.T) {
	mem := blockio.NewMemIO()
	seg, err := CreateSegment(mem, "data", 0, WithDirectIO())
	require.NoError(t, err)
	defer seg.Close()

	// Unaligned input is staged through the writer's aligned buffer.
	_, err = seg.Append([]byte("direct"))
	require.NoError(t, err)

	view := storage.NewAlignedView(directio.BlockSize)
	_, err = seg.ReadBlock(0, view)
	require.NoError(t, err)
	assert.Equal(t, "direct", string(view.Block()[:6]))

	_, err = seg.ReadBlock(0, storage.NewAlignedView(directio.BlockSize/2))
	assert.NoError(t, err)
}

func TestOpenSegmentTreatsZeroBlockAsFree(t *testing.T) {
	mem := blockio.NewMemIO()
	seg, err := CreateSegment(mem, "data", 0)
	require.NoError(t, err)

	payload := make([]byte, 2*directio.BlockSize)
	payload[0] = 1
	_, err = seg.Append(payload)
	require.NoError(t, err)
	require.NoError(t, seg.Close())

	seg, err = OpenSegment(mem, "data", 0)
	require.NoError(t, err)
	defer seg.Close()
	assert.Equal(t, int64(directio.BlockSize), seg.Offset())
}
