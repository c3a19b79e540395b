package storage

import (
	"io"

	"github.com/ncw/directio"

	"wbtree/internal/blockio"
)

// BlockWriter writes to a blockio.File in multiples of the block size. Data
// that does not fill its last block is written with zero padding, so every
// write starts on a block boundary.
type BlockWriter struct {
	file   *blockio.File
	offset int64
	buf    *View
}

var _ io.Writer = (*BlockWriter)(nil)

// NewBlockWriter returns a writer that appends to file starting at offset,
// which must be block aligned.
func NewBlockWriter(file *blockio.File, offset int64) *BlockWriter {
	return &BlockWriter{
		file:   file,
		offset: offset,
		buf:    NewAlignedView(directio.BlockSize),
	}
}

// Offset returns the file offset of the next write.
func (w *BlockWriter) Offset() int64 {
	return w.offset
}

// Write writes buf padded to whole blocks. It returns the number of bytes of
// buf that reached the file. A short transfer from the file is reported as
// io.ErrShortWrite.
func (w *BlockWriter) Write(buf []byte) (n int, err error) {
	_, n, err = w.WriteBlocks(buf)
	return n, err
}

// WriteBlocks is Write that also returns the number of blocks written, which
// callers use to address the data later.
func (w *BlockWriter) WriteBlocks(buf []byte) (blocks, n int, err error) {
	if len(buf) == 0 {
		return 0, 0, nil
	}

	full := len(buf) / directio.BlockSize * directio.BlockSize
	rem := len(buf) - full

	// Whole blocks go out directly when the caller's buffer is aligned and
	// are staged one block at a time otherwise.
	for n < full {
		chunk := buf[n : n+directio.BlockSize]
		if blockio.IsAligned(buf[n:]) {
			chunk = buf[n:full]
		}
		written, err := w.writeBlock(chunk)
		n += written
		blocks += written / directio.BlockSize
		if err != nil {
			return blocks, n, err
		}
	}

	if rem > 0 {
		w.buf.Reset()
		copy(w.buf.Block(), buf[full:])
		written, err := w.writeBlock(w.buf.Block())
		if written > 0 {
			n += rem
			blocks++
		}
		if err != nil {
			return blocks, n, err
		}
	}

	return blocks, n, nil
}

func (w *BlockWriter) writeBlock(chunk []byte) (int, error) {
	src := chunk
	if !blockio.IsAligned(chunk) {
		w.buf.Reset()
		copy(w.buf.Block(), chunk)
		src = w.buf.Block()
	}
	written, err := w.file.WriteAt(src, w.offset)
	if err != nil {
		return 0, err
	}
	if written != len(src) {
		return 0, io.ErrShortWrite
	}
	w.offset += int64(written)
	return written, nil
}
