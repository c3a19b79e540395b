// Package blockio is the only path through which the engine reaches the
// filesystem. ByteIO is the capability the rest of the engine programs
// against, SystemIO is the operating system implementation and File is an
// exclusively owned handle to one open descriptor.
//
// ByteIO implementations never retry and never hide short transfers: a read
// or write that moved fewer bytes than requested reports the count it moved
// and a nil error. Callers that need an exact transfer check the count.
package blockio

import (
	"errors"
	"fmt"
	"syscall"
)

// FD is an open file descriptor as handed out by a ByteIO implementation.
type FD int32

// InvalidFD marks a handle that is closed or was never opened.
const InvalidFD FD = -1

// OpenFlag selects how a file is opened.
type OpenFlag uint32

const (
	OpenRead OpenFlag = 1 << iota
	OpenWrite
	OpenAppend
	OpenCreate
	OpenTruncate
	OpenExclusive
	// OpenSync makes every write synchronous.
	OpenSync
	// OpenDirect bypasses the OS page cache. Buffers, lengths and offsets
	// must be aligned, see storage.NewAlignedView.
	OpenDirect

	openFlagMask = OpenRead | OpenWrite | OpenAppend | OpenCreate |
		OpenTruncate | OpenExclusive | OpenSync | OpenDirect
)

var openFlagNames = []string{"READ", "WRITE", "APPEND", "CREATE", "TRUNCATE", "EXCLUSIVE", "SYNC", "DIRECT"}

func (f OpenFlag) String() string {
	if f == 0 {
		return "0"
	}
	var s string
	for i, name := range openFlagNames {
		if f&(1<<i) == 0 {
			continue
		}
		if s != "" {
			s += "|"
		}
		s += name
	}
	if rest := f &^ openFlagMask; rest != 0 {
		if s != "" {
			s += "|"
		}
		s += fmt.Sprintf("%#x", uint32(rest))
	}
	return s
}

// CreateMode holds the owner permission bits of a file created by Open. It is
// ignored unless OpenCreate is set.
type CreateMode uint32

const (
	ModeUserRead CreateMode = 1 << iota
	ModeUserWrite
	ModeUserExec
)

// Whence is the reference point of a Seek.
type Whence int

const (
	SeekStart Whence = iota
	SeekCurrent
	SeekEnd
)

// Op names a ByteIO operation.
type Op string

const (
	OpOpen     Op = "open"
	OpClose    Op = "close"
	OpSeek     Op = "seek"
	OpRead     Op = "read"
	OpReadAt   Op = "read_at"
	OpWrite    Op = "write"
	OpWriteAt  Op = "write_at"
	OpSync     Op = "sync"
	OpDataSync Op = "data_sync"
	OpTruncate Op = "truncate"
	OpLock     Op = "lock"
	OpUnlock   Op = "unlock"
	OpRemove   Op = "remove"
)

// ByteIO is durable byte I/O over descriptors it hands out itself.
//
// Closing a descriptor twice is undefined; File prevents it.
type ByteIO interface {
	Open(path string, flags OpenFlag, mode CreateMode) (FD, error)
	Close(fd FD) error

	Seek(fd FD, offset int64, whence Whence) (int64, error)

	// Read and Write transfer at the descriptor's cursor and advance it.
	Read(fd FD, buf []byte) (int, error)
	Write(fd FD, buf []byte) (int, error)

	// ReadAt and WriteAt transfer at offset and leave the cursor alone.
	ReadAt(fd FD, buf []byte, offset int64) (int, error)
	WriteAt(fd FD, buf []byte, offset int64) (int, error)

	// Sync flushes data and metadata to stable storage.
	Sync(fd FD) error
	// DataSync flushes data only where the platform distinguishes it from
	// Sync, and behaves as Sync everywhere else.
	DataSync(fd FD) error
	Truncate(fd FD, size int64) error
}

// Locker is implemented by ByteIO implementations that support exclusive
// advisory locks on an open descriptor. Lock does not block: a lock held
// elsewhere fails with EAGAIN or EWOULDBLOCK.
type Locker interface {
	Lock(fd FD) error
	Unlock(fd FD) error
}

// Remover is implemented by ByteIO implementations that can delete a file
// by path.
type Remover interface {
	Remove(path string) error
}

// Remove deletes path through io.
func Remove(io ByteIO, path string) error {
	r, ok := io.(Remover)
	if !ok {
		return ErrRemoveUnsupported
	}
	return r.Remove(path)
}

var (
	// ErrIO matches every *IOError.
	ErrIO = errors.New("blockio: i/o error")
	// ErrUnsupportedFlag is returned by Open for flags the platform cannot
	// honor. There is no fallback to a weaker mode.
	ErrUnsupportedFlag = errors.New("blockio: unsupported open flag")
	// ErrInvalidFlags is returned by Open when neither OpenRead nor OpenWrite
	// is requested.
	ErrInvalidFlags = errors.New("blockio: open needs read or write access")
	// ErrMisaligned is returned for direct I/O on unaligned buffers, lengths
	// or offsets.
	ErrMisaligned = errors.New("blockio: misaligned direct i/o")
	// ErrLockUnsupported is returned by File.Lock when the ByteIO has no
	// Locker implementation.
	ErrLockUnsupported = errors.New("blockio: locking not supported")
	// ErrRemoveUnsupported is returned by Remove when the ByteIO has no
	// Remover implementation.
	ErrRemoveUnsupported = errors.New("blockio: remove not supported")
)

// IOError is an operating system failure of a single operation.
type IOError struct {
	Op    Op
	Path  string
	Errno syscall.Errno
}

func (e *IOError) Error() string {
	if e.Path != "" {
		return fmt.Sprintf("blockio: %s %s: %v", e.Op, e.Path, e.Errno)
	}
	return fmt.Sprintf("blockio: %s: %v", e.Op, e.Errno)
}

func (e *IOError) Unwrap() error {
	return e.Errno
}

func (e *IOError) Is(target error) bool {
	return target == ErrIO
}

func newIOError(op Op, path string, err error) error {
	var errno syscall.Errno
	if !errors.As(err, &errno) {
		return fmt.Errorf("blockio: %s %s: %w", op, path, err)
	}
	return &IOError{Op: op, Path: path, Errno: errno}
}

// IsLocked reports whether err is a lock held by someone else.
func IsLocked(err error) bool {
	return errors.Is(err, syscall.EAGAIN) || errors.Is(err, syscall.EWOULDBLOCK)
}
