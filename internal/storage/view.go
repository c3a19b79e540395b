// Package storage holds the buffer helpers shared by everything that moves
// fixed-size records or whole blocks through a blockio.File.
package storage

import (
	"github.com/ncw/directio"

	"wbtree/internal/blockio"
)

// View is a fixed-size window over a backing block. Records are read into
// and written out of Bytes. For direct I/O the backing block is aligned and
// padded to whole blocks, and Block is what goes to the file.
type View struct {
	block []byte
	size  int
}

// NewView returns a View backed by exactly size bytes.
func NewView(size int) *View {
	return &View{block: make([]byte, size), size: size}
}

// NewAlignedView returns a View whose backing block is aligned for direct
// I/O and rounded up to a multiple of directio.BlockSize.
func NewAlignedView(size int) *View {
	return &View{block: directio.AlignedBlock(RoundUp(size)), size: size}
}

// Bytes returns the first Size bytes of the view.
func (v *View) Bytes() []byte {
	return v.block[:v.size]
}

// Block returns the whole backing block, including padding.
func (v *View) Block() []byte {
	return v.block
}

func (v *View) Size() int {
	return v.size
}

// Aligned reports whether the backing block can be used for direct I/O.
func (v *View) Aligned() bool {
	return len(v.block) > 0 && len(v.block)%directio.BlockSize == 0 && blockio.IsAligned(v.block)
}

// Reset zeroes the backing block.
func (v *View) Reset() {
	clear(v.block)
}

// RoundUp rounds n up to a multiple of directio.BlockSize.
func RoundUp(n int) int {
	if rem := n % directio.BlockSize; rem != 0 {
		return n + directio.BlockSize - rem
	}
	return n
}
