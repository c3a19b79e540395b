package blockio

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// instrumentedIO records operation counts, transferred bytes, failures and
// latency for every call that reaches the wrapped ByteIO.
type instrumentedIO struct {
	io ByteIO

	ops      metric.Int64Counter
	bytes    metric.Int64Counter
	errors   metric.Int64Counter
	duration metric.Float64Histogram
}

var (
	_ ByteIO  = (*instrumentedIO)(nil)
	_ Locker  = (*instrumentedIO)(nil)
	_ Remover = (*instrumentedIO)(nil)
)

// Instrument wraps io so that every operation is recorded on meter.
func Instrument(io ByteIO, meter metric.Meter) (ByteIO, error) {
	ops, err := meter.Int64Counter(
		"wbtree.blockio.operations",
		metric.WithDescription("Total number of block I/O operations."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	bytes, err := meter.Int64Counter(
		"wbtree.blockio.bytes",
		metric.WithDescription("Bytes transferred by block I/O operations."),
		metric.WithUnit("By"),
	)
	if err != nil {
		return nil, err
	}

	errs, err := meter.Int64Counter(
		"wbtree.blockio.errors",
		metric.WithDescription("Total number of failed block I/O operations."),
		metric.WithUnit("1"),
	)
	if err != nil {
		return nil, err
	}

	duration, err := meter.Float64Histogram(
		"wbtree.blockio.duration",
		metric.WithDescription("The latency of block I/O operations."),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	return &instrumentedIO{
		io:       io,
		ops:      ops,
		bytes:    bytes,
		errors:   errs,
		duration: duration,
	}, nil
}

func (i *instrumentedIO) record(op Op, start time.Time, n int, err error) {
	ctx := context.Background()
	attrs := metric.WithAttributes(attribute.String("op", string(op)))

	i.ops.Add(ctx, 1, attrs)
	i.duration.Record(ctx, float64(time.Since(start))/float64(time.Millisecond), attrs)
	if n > 0 {
		i.bytes.Add(ctx, int64(n), attrs)
	}
	if err != nil {
		i.errors.Add(ctx, 1, attrs)
	}
}

func (i *instrumentedIO) Open(path string, flags OpenFlag, mode CreateMode) (FD, error) {
	start := time.Now()
	fd, err := i.io.Open(path, flags, mode)
	i.record(OpOpen, start, 0, err)
	return fd, err
}

func (i *instrumentedIO) Close(fd FD) error {
	start := time.Now()
	err := i.io.Close(fd)
	i.record(OpClose, start, 0, err)
	return err
}

func (i *instrumentedIO) Seek(fd FD, offset int64, whence Whence) (int64, error) {
	start := time.Now()
	off, err := i.io.Seek(fd, offset, whence)
	i.record(OpSeek, start, 0, err)
	return off, err
}

func (i *instrumentedIO) Read(fd FD, buf []byte) (int, error) {
	start := time.Now()
	n, err := i.io.Read(fd, buf)
	i.record(OpRead, start, n, err)
	return n, err
}

func (i *instrumentedIO) ReadAt(fd FD, buf []byte, offset int64) (int, error) {
	start := time.Now()
	n, err := i.io.ReadAt(fd, buf, offset)
	i.record(OpReadAt, start, n, err)
	return n, err
}

func (i *instrumentedIO) Write(fd FD, buf []byte) (int, error) {
	start := time.Now()
	n, err := i.io.Write(fd, buf)
	i.record(OpWrite, start, n, err)
	return n, err
}

func (i *instrumentedIO) WriteAt(fd FD, buf []byte, offset int64) (int, error) {
	start := time.Now()
	n, err := i.io.WriteAt(fd, buf, offset)
	i.record(OpWriteAt, start, n, err)
	return n, err
}

func (i *instrumentedIO) Sync(fd FD) error {
	start := time.Now()
	err := i.io.Sync(fd)
	i.record(OpSync, start, 0, err)
	return err
}

func (i *instrumentedIO) DataSync(fd FD) error {
	start := time.Now()
	err := i.io.DataSync(fd)
	i.record(OpDataSync, start, 0, err)
	return err
}

func (i *instrumentedIO) Truncate(fd FD, size int64) error {
	start := time.Now()
	err := i.io.Truncate(fd, size)
	i.record(OpTruncate, start, 0, err)
	return err
}

func (i *instrumentedIO) Lock(fd FD) error {
	l, ok := i.io.(Locker)
	if !ok {
		return ErrLockUnsupported
	}
	start := time.Now()
	err := l.Lock(fd)
	i.record(OpLock, start, 0, err)
	return err
}

func (i *instrumentedIO) Unlock(fd FD) error {
	l, ok := i.io.(Locker)
	if !ok {
		return ErrLockUnsupported
	}
	start := time.Now()
	err := l.Unlock(fd)
	i.record(OpUnlock, start, 0, err)
	return err
}

func (i *instrumentedIO) Remove(path string) error {
	start := time.Now()
	err := Remove(i.io, path)
	i.record(OpRemove, start, 0, err)
	return err
}
