package blockio

import (
	"errors"
	"path/filepath"
	"syscall"
	"testing"

	"github.com/ncw/directio"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSystemIODirect(t *testing.T) {
	path := filepath.Join(t.TempDir(), "direct")
	f, err := Open(path, OpenRead|OpenWrite|OpenCreate|OpenDirect, ModeUserRead|ModeUserWrite)
	if errors.Is(err, syscall.EINVAL) {
		// tmpfs and a few other filesystems refuse O_DIRECT.
		t.Skip("filesystem does not support O_DIRECT")
	}
	require.NoError(t, err)
	defer f.MustClose()

	block := directio.AlignedBlock(directio.BlockSize)
	for i := range block {
		block[i] = byte(i)
	}
	n, err := f.WriteAt(block, directio.BlockSize)
	require.NoError(t, err)
	require.Equal(t, directio.BlockSize, n)

	got := directio.AlignedBlock(directio.BlockSize)
	n, err = f.ReadAt(got, directio.BlockSize)
	require.NoError(t, err)
	require.Equal(t, directio.BlockSize, n)
	assert.Equal(t, block, got)

	_, err = f.WriteAt(block[:100], 0)
	assert.ErrorIs(t, err, ErrMisaligned)
	_, err = f.WriteAt(block, 100)
	assert.ErrorIs(t, err, ErrMisaligned)
}
