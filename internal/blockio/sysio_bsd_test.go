//go:build darwin || freebsd || netbsd || openbsd || dragonfly

package blockio

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSystemIODirectUnsupported(t *testing.T) {
	path := filepath.Join(t.TempDir(), "direct")
	f, err := Open(path, OpenRead|OpenWrite|OpenCreate|OpenDirect, ModeUserRead|ModeUserWrite)
	assert.Nil(t, f)
	assert.ErrorIs(t, err, ErrUnsupportedFlag)
}
