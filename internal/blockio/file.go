package blockio

import (
	"runtime"

	"github.com/ncw/directio"
	"go.uber.org/zap"
)

// File exclusively owns one descriptor handed out by a ByteIO. It is created
// by OpenWith and is not safe for concurrent use.
//
// A File is closed exactly once: explicitly with Close or MustClose, or, when
// it becomes unreachable while still open, by a finalizer. A close that fails
// anywhere no caller can see the error terminates the process, because the
// state of a half closed descriptor cannot be reasoned about.
//
// Calling any I/O method on a closed or moved File panics.
type File struct {
	fd    FD
	io    ByteIO
	path  string
	flags OpenFlag
}

// abort terminates the process after a failed implicit close. Tests swap it.
var abort = func(msg string, fields ...zap.Field) {
	zap.L().Fatal(msg, fields...)
}

// OpenWith opens path through io. On failure no File is produced.
func OpenWith(io ByteIO, path string, flags OpenFlag, mode CreateMode) (*File, error) {
	fd, err := io.Open(path, flags, mode)
	if err != nil {
		return nil, err
	}
	return newFile(fd, io, path, flags), nil
}

// Open opens path through SystemIO.
func Open(path string, flags OpenFlag, mode CreateMode) (*File, error) {
	return OpenWith(SystemIO{}, path, flags, mode)
}

func newFile(fd FD, io ByteIO, path string, flags OpenFlag) *File {
	f := &File{fd: fd, io: io, path: path, flags: flags}
	runtime.SetFinalizer(f, (*File).finalize)
	return f
}

func (f *File) finalize() {
	if !f.Valid() {
		return
	}
	if err := f.Close(); err != nil {
		abort("blockio: failed to close leaked file",
			zap.String("path", f.path), zap.Error(err))
	}
}

// Valid reports whether f still owns an open descriptor.
func (f *File) Valid() bool {
	return f != nil && f.fd != InvalidFD
}

// Move transfers ownership of the descriptor to a new File and leaves f
// invalid.
func (f *File) Move() *File {
	f.mustBeValid()
	moved := newFile(f.fd, f.io, f.path, f.flags)
	f.fd = InvalidFD
	runtime.SetFinalizer(f, nil)
	return moved
}

// Close releases the descriptor. Closing an invalid File is a no-op. The
// File is invalid after Close returns, even when the close failed.
func (f *File) Close() error {
	if !f.Valid() {
		return nil
	}
	fd := f.fd
	f.fd = InvalidFD
	runtime.SetFinalizer(f, nil)
	if err := f.io.Close(fd); err != nil {
		return withPath(err, f.path)
	}
	return nil
}

// MustClose closes f and terminates the process if that fails. It is meant
// for defer statements, where an error would be dropped on the floor.
func (f *File) MustClose() {
	if err := f.Close(); err != nil {
		abort("blockio: failed to close file",
			zap.String("path", f.path), zap.Error(err))
	}
}

func (f *File) FD() FD          { return f.fd }
func (f *File) Path() string    { return f.path }
func (f *File) Flags() OpenFlag { return f.flags }

func (f *File) direct() bool {
	return f.flags&OpenDirect != 0
}

func (f *File) mustBeValid() {
	if !f.Valid() {
		panic("blockio: use of closed or moved file")
	}
}

func (f *File) Seek(offset int64, whence Whence) (int64, error) {
	f.mustBeValid()
	off, err := f.io.Seek(f.fd, offset, whence)
	return off, withPath(err, f.path)
}

// Tell returns the current cursor position.
func (f *File) Tell() (int64, error) {
	return f.Seek(0, SeekCurrent)
}

func (f *File) Read(buf []byte) (int, error) {
	f.mustBeValid()
	if err := f.checkAligned(buf, 0); err != nil {
		return 0, err
	}
	n, err := f.io.Read(f.fd, buf)
	return n, withPath(err, f.path)
}

func (f *File) ReadAt(buf []byte, offset int64) (int, error) {
	f.mustBeValid()
	if err := f.checkAligned(buf, offset); err != nil {
		return 0, err
	}
	n, err := f.io.ReadAt(f.fd, buf, offset)
	return n, withPath(err, f.path)
}

func (f *File) Write(buf []byte) (int, error) {
	f.mustBeValid()
	if err := f.checkAligned(buf, 0); err != nil {
		return 0, err
	}
	n, err := f.io.Write(f.fd, buf)
	return n, withPath(err, f.path)
}

func (f *File) WriteAt(buf []byte, offset int64) (int, error) {
	f.mustBeValid()
	if err := f.checkAligned(buf, offset); err != nil {
		return 0, err
	}
	n, err := f.io.WriteAt(f.fd, buf, offset)
	return n, withPath(err, f.path)
}

func (f *File) Sync() error {
	f.mustBeValid()
	return withPath(f.io.Sync(f.fd), f.path)
}

func (f *File) DataSync() error {
	f.mustBeValid()
	return withPath(f.io.DataSync(f.fd), f.path)
}

func (f *File) Truncate(size int64) error {
	f.mustBeValid()
	return withPath(f.io.Truncate(f.fd, size), f.path)
}

// Lock takes an exclusive advisory lock on the file without blocking.
func (f *File) Lock() error {
	f.mustBeValid()
	l, ok := f.io.(Locker)
	if !ok {
		return ErrLockUnsupported
	}
	return withPath(l.Lock(f.fd), f.path)
}

func (f *File) Unlock() error {
	f.mustBeValid()
	l, ok := f.io.(Locker)
	if !ok {
		return ErrLockUnsupported
	}
	return withPath(l.Unlock(f.fd), f.path)
}

// checkAligned enforces the alignment rules of O_DIRECT up front so that a
// misuse fails the same way on every kernel and filesystem.
func (f *File) checkAligned(buf []byte, offset int64) error {
	if !f.direct() {
		return nil
	}
	if len(buf)%directio.BlockSize != 0 || offset%directio.BlockSize != 0 {
		return ErrMisaligned
	}
	if len(buf) > 0 && !IsAligned(buf) {
		return ErrMisaligned
	}
	return nil
}

// withPath fills in the path of IOErrors raised by descriptor based calls.
func withPath(err error, path string) error {
	if ioErr, ok := err.(*IOError); ok && ioErr.Path == "" {
		ioErr.Path = path
	}
	return err
}
