// Package wal manages the files the write-ahead log is stored in. The log is
// split into segments of control.WALSegmentSize bytes, preallocated when they
// are created and written in whole blocks. The record format on top of the
// blocks belongs to the log manager, not to this package.
package wal

import (
	"errors"
	"fmt"
	"path/filepath"

	"github.com/ncw/directio"
	"go.uber.org/zap"

	"wbtree/internal/base"
	"wbtree/internal/blockio"
	"wbtree/internal/control"
	"wbtree/internal/storage"
)

const (
	// DirName is the directory under the data directory holding segments.
	DirName = "wal"

	SegmentSize = control.WALSegmentSize

	blocksPerSegment = SegmentSize / directio.BlockSize
)

var ErrSegmentFull = errors.New("wal: segment full")

type options struct {
	direct bool
	logger *zap.Logger
}

type Option func(*options)

// WithDirectIO opens segments with blockio.OpenDirect.
func WithDirectIO() Option {
	return func(o *options) {
		o.direct = true
	}
}

func WithLogger(logger *zap.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func newOptions(opts []Option) options {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func (o options) flags() blockio.OpenFlag {
	flags := blockio.OpenRead | blockio.OpenWrite
	if o.direct {
		flags |= blockio.OpenDirect
	}
	return flags
}

// SegmentPath returns the path of segment seg under the data directory.
func SegmentPath(dir string, seg base.WALSegNum) string {
	return filepath.Join(dir, DirName, fmt.Sprintf("%016X", uint64(seg)))
}

// SegmentLSN returns the LSN of the byte at offset within segment seg.
func SegmentLSN(seg base.WALSegNum, offset int64) base.LSN {
	return base.LSN(uint64(seg)*SegmentSize + uint64(offset))
}

// Segment is one open segment file. Appends go to the end of the written
// blocks.
type Segment struct {
	num    base.WALSegNum
	file   *blockio.File
	writer *storage.BlockWriter
	logger *zap.Logger
}

// CreateSegment creates segment seg, which must not exist yet, and
// preallocates it to SegmentSize.
func CreateSegment(io blockio.ByteIO, dir string, seg base.WALSegNum, opts ...Option) (*Segment, error) {
	o := newOptions(opts)
	path := SegmentPath(dir, seg)

	file, err := blockio.OpenWith(io, path,
		o.flags()|blockio.OpenCreate|blockio.OpenExclusive,
		blockio.ModeUserRead|blockio.ModeUserWrite)
	if err != nil {
		return nil, fmt.Errorf("wal: failed to create segment %d: %w", seg, err)
	}
	if err := file.Truncate(SegmentSize); err != nil {
		discard(io, file)
		return nil, fmt.Errorf("wal: failed to preallocate segment %d: %w", seg, err)
	}
	if err := file.Sync(); err != nil {
		discard(io, file)
		return nil, fmt.Errorf("wal: failed to sync segment %d: %w", seg, err)
	}

	o.logger.Info("created wal segment", zap.Uint64("segment", uint64(seg)), zap.String("path", path))
	return &Segment{
		num:    seg,
		file:   file,
		writer: storage.NewBlockWriter(file, 0),
		logger: o.logger,
	}, nil
}

// discard closes and removes a segment that was created but never became
// usable, so that creating it again does not fail with EEXIST.
func discard(io blockio.ByteIO, file *blockio.File) {
	path := file.Path()
	_ = file.Close()
	_ = blockio.Remove(io, path)
}

// OpenSegment opens an existing segment positioned after its last written
// block. Unwritten space is zero, so the tail is the first all-zero block.
func OpenSegment(io blockio.ByteIO, dir string, seg base.WALSegNum, opts ...Option) (*Segment, error) {
	o := newOptions(opts)
	path := SegmentPath(dir, seg)

	file, err := blockio.OpenWith(io, path, o.flags(), 0)
	if err != nil {
		return nil, fmt.Errorf("wal: failed to open segment %d: %w", seg, err)
	}

	s := &Segment{num: seg, file: file, logger: o.logger}
	tail, err := s.findTail()
	if err != nil {
		_ = file.Close()
		return nil, err
	}
	s.writer = storage.NewBlockWriter(file, tail)

	o.logger.Info("opened wal segment", zap.Uint64("segment", uint64(seg)),
		zap.String("path", path), zap.Int64("tail", tail))
	return s, nil
}

func (s *Segment) findTail() (int64, error) {
	view := storage.NewAlignedView(directio.BlockSize)
	for i := int64(0); i < blocksPerSegment; i++ {
		n, err := s.ReadBlock(i, view)
		if err != nil {
			return 0, err
		}
		if n < directio.BlockSize || isZero(view.Block()) {
			return i * directio.BlockSize, nil
		}
	}
	return SegmentSize, nil
}

func isZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func (s *Segment) Num() base.WALSegNum {
	return s.num
}

// Offset returns the offset of the next append.
func (s *Segment) Offset() int64 {
	return s.writer.Offset()
}

// Remaining returns the free bytes left in the segment.
func (s *Segment) Remaining() int64 {
	return SegmentSize - s.writer.Offset()
}

// Append writes p at the tail of the segment padded to whole blocks and
// returns the LSN of its first byte.
//
// OpenSegment finds the tail by looking for the first all-zero block, so a
// payload whose last block is entirely zero looks like free space after a
// reopen and is overwritten by the next Append. Callers must frame records
// so that every block they write carries a nonzero byte.
func (s *Segment) Append(p []byte) (base.LSN, error) {
	if int64(storage.RoundUp(len(p))) > s.Remaining() {
		return base.InvalidLSN, ErrSegmentFull
	}
	lsn := SegmentLSN(s.num, s.writer.Offset())
	if _, _, err := s.writer.WriteBlocks(p); err != nil {
		return base.InvalidLSN, fmt.Errorf("wal: append to segment %d: %w", s.num, err)
	}
	return lsn, nil
}

// ReadBlock reads block i into view, which must be at least one block long
// and aligned when the segment was opened for direct I/O.
func (s *Segment) ReadBlock(i int64, view *storage.View) (int, error) {
	n, err := s.file.ReadAt(view.Block()[:directio.BlockSize], i*directio.BlockSize)
	if err != nil {
		return n, fmt.Errorf("wal: read block %d of segment %d: %w", i, s.num, err)
	}
	return n, nil
}

// Sync makes every appended block durable.
func (s *Segment) Sync() error {
	return s.file.DataSync()
}

func (s *Segment) Close() error {
	return s.file.Close()
}
