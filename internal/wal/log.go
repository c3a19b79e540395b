package wal

import (
	"fmt"

	"go.uber.org/zap"

	"wbtree/internal/base"
	"wbtree/internal/blockio"
	"wbtree/internal/control"
)

// Log is the sequence of segments of one data directory, of which only the
// current one is open. The current segment number lives in the control
// record; Roll advances both.
type Log struct {
	io      blockio.ByteIO
	dir     string
	opts    []Option
	logger  *zap.Logger
	current *Segment
}

// CreateLog creates the first segment named by rec for a new data
// directory.
func CreateLog(io blockio.ByteIO, dir string, rec *control.Record, opts ...Option) (*Log, error) {
	seg, err := CreateSegment(io, dir, rec.CurrentWALSegment(), opts...)
	if err != nil {
		return nil, err
	}
	return newLog(io, dir, seg, opts), nil
}

// OpenLog opens the current segment named by rec.
func OpenLog(io blockio.ByteIO, dir string, rec *control.Record, opts ...Option) (*Log, error) {
	seg, err := OpenSegment(io, dir, rec.CurrentWALSegment(), opts...)
	if err != nil {
		return nil, err
	}
	return newLog(io, dir, seg, opts), nil
}

func newLog(io blockio.ByteIO, dir string, seg *Segment, opts []Option) *Log {
	return &Log{
		io:      io,
		dir:     dir,
		opts:    opts,
		logger:  newOptions(opts).logger,
		current: seg,
	}
}

// Current returns the open segment.
func (l *Log) Current() *Segment {
	return l.current
}

// Append writes p to the current segment. A full segment fails with
// ErrSegmentFull; the caller rolls and retries after recording the new
// segment in the control record.
func (l *Log) Append(p []byte) (base.LSN, error) {
	return l.current.Append(p)
}

// Roll syncs and closes the current segment, creates the next one and
// records it in rec. rec must be saved for the roll to survive a restart.
//
// Once the next segment exists the roll is committed: a failed close of the
// old segment is returned, but the log and rec already point at the new one.
func (l *Log) Roll(rec *control.Record) error {
	if err := l.current.Sync(); err != nil {
		return fmt.Errorf("wal: sync before roll: %w", err)
	}
	next, err := CreateSegment(l.io, l.dir, l.current.Num().Next(), l.opts...)
	if err != nil {
		return err
	}

	prev := l.current
	l.current = next
	rec.SetCurrentWALSegment(next.Num())
	l.logger.Info("rolled wal segment",
		zap.Uint64("from", uint64(prev.Num())), zap.Uint64("to", uint64(next.Num())))

	if err := prev.Close(); err != nil {
		return fmt.Errorf("wal: close segment %d: %w", prev.Num(), err)
	}
	return nil
}

func (l *Log) Sync() error {
	return l.current.Sync()
}

func (l *Log) Close() error {
	return l.current.Close()
}
