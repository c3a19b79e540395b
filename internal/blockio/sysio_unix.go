//go:build linux || darwin || freebsd || netbsd || openbsd || dragonfly

package blockio

import (
	"golang.org/x/sys/unix"
)

// SystemIO is the ByteIO backed by the operating system. It is stateless and
// the zero value is ready to use.
type SystemIO struct{}

var (
	_ ByteIO = SystemIO{}
	_ Locker  = SystemIO{}
	_ Remover = SystemIO{}
)

func (SystemIO) Open(path string, flags OpenFlag, mode CreateMode) (FD, error) {
	osFlags, err := nativeFlags(flags)
	if err != nil {
		return InvalidFD, err
	}
	var perm uint32
	if flags&OpenCreate != 0 {
		perm = nativeMode(mode)
	}

	fd, err := retry(func() (int, error) {
		return unix.Open(path, osFlags, perm)
	})
	if err != nil {
		return InvalidFD, newIOError(OpOpen, path, err)
	}
	return FD(fd), nil
}

func nativeFlags(flags OpenFlag) (int, error) {
	if flags&^openFlagMask != 0 {
		return 0, ErrUnsupportedFlag
	}

	osFlags := unix.O_CLOEXEC
	switch {
	case flags&OpenRead != 0 && flags&OpenWrite != 0:
		osFlags |= unix.O_RDWR
	case flags&OpenWrite != 0:
		osFlags |= unix.O_WRONLY
	case flags&OpenRead != 0:
		osFlags |= unix.O_RDONLY
	default:
		return 0, ErrInvalidFlags
	}

	if flags&OpenAppend != 0 {
		osFlags |= unix.O_APPEND
	}
	if flags&OpenCreate != 0 {
		osFlags |= unix.O_CREAT
	}
	if flags&OpenTruncate != 0 {
		osFlags |= unix.O_TRUNC
	}
	if flags&OpenExclusive != 0 {
		osFlags |= unix.O_EXCL
	}
	if flags&OpenSync != 0 {
		osFlags |= unix.O_SYNC
	}
	if flags&OpenDirect != 0 {
		if !directSupported {
			return 0, ErrUnsupportedFlag
		}
		osFlags |= directFlag
	}
	return osFlags, nil
}

func nativeMode(mode CreateMode) uint32 {
	var perm uint32
	if mode&ModeUserRead != 0 {
		perm |= unix.S_IRUSR
	}
	if mode&ModeUserWrite != 0 {
		perm |= unix.S_IWUSR
	}
	if mode&ModeUserExec != 0 {
		perm |= unix.S_IXUSR
	}
	return perm
}

// Close does not retry on EINTR: the descriptor is released either way and
// a retry could close a descriptor another goroutine has just been handed.
func (SystemIO) Close(fd FD) error {
	if err := unix.Close(int(fd)); err != nil {
		return newIOError(OpClose, "", err)
	}
	return nil
}

func (SystemIO) Seek(fd FD, offset int64, whence Whence) (int64, error) {
	var osWhence int
	switch whence {
	case SeekStart:
		osWhence = unix.SEEK_SET
	case SeekCurrent:
		osWhence = unix.SEEK_CUR
	case SeekEnd:
		osWhence = unix.SEEK_END
	default:
		return 0, &IOError{Op: OpSeek, Errno: unix.EINVAL}
	}

	off, err := retry(func() (int64, error) {
		return unix.Seek(int(fd), offset, osWhence)
	})
	if err != nil {
		return 0, newIOError(OpSeek, "", err)
	}
	return off, nil
}

func (SystemIO) Read(fd FD, buf []byte) (int, error) {
	n, err := retry(func() (int, error) {
		return unix.Read(int(fd), buf)
	})
	if err != nil {
		return 0, newIOError(OpRead, "", err)
	}
	return n, nil
}

func (SystemIO) ReadAt(fd FD, buf []byte, offset int64) (int, error) {
	n, err := retry(func() (int, error) {
		return unix.Pread(int(fd), buf, offset)
	})
	if err != nil {
		return 0, newIOError(OpReadAt, "", err)
	}
	return n, nil
}

func (SystemIO) Write(fd FD, buf []byte) (int, error) {
	n, err := retry(func() (int, error) {
		return unix.Write(int(fd), buf)
	})
	if err != nil {
		return 0, newIOError(OpWrite, "", err)
	}
	return n, nil
}

func (SystemIO) WriteAt(fd FD, buf []byte, offset int64) (int, error) {
	n, err := retry(func() (int, error) {
		return unix.Pwrite(int(fd), buf, offset)
	})
	if err != nil {
		return 0, newIOError(OpWriteAt, "", err)
	}
	return n, nil
}

func (SystemIO) Sync(fd FD) error {
	_, err := retry(func() (struct{}, error) {
		return struct{}{}, unix.Fsync(int(fd))
	})
	if err != nil {
		return newIOError(OpSync, "", err)
	}
	return nil
}

func (SystemIO) DataSync(fd FD) error {
	_, err := retry(func() (struct{}, error) {
		return struct{}{}, dataSync(int(fd))
	})
	if err != nil {
		return newIOError(OpDataSync, "", err)
	}
	return nil
}

func (SystemIO) Truncate(fd FD, size int64) error {
	_, err := retry(func() (struct{}, error) {
		return struct{}{}, unix.Ftruncate(int(fd), size)
	})
	if err != nil {
		return newIOError(OpTruncate, "", err)
	}
	return nil
}

func (SystemIO) Lock(fd FD) error {
	_, err := retry(func() (struct{}, error) {
		return struct{}{}, unix.Flock(int(fd), unix.LOCK_EX|unix.LOCK_NB)
	})
	if err != nil {
		return newIOError(OpLock, "", err)
	}
	return nil
}

func (SystemIO) Unlock(fd FD) error {
	_, err := retry(func() (struct{}, error) {
		return struct{}{}, unix.Flock(int(fd), unix.LOCK_UN)
	})
	if err != nil {
		return newIOError(OpUnlock, "", err)
	}
	return nil
}

func (SystemIO) Remove(path string) error {
	_, err := retry(func() (struct{}, error) {
		return struct{}{}, unix.Unlink(path)
	})
	if err != nil {
		return newIOError(OpRemove, path, err)
	}
	return nil
}

// retry repeats fn for as long as it is interrupted by a signal.
func retry[T any](fn func() (T, error)) (T, error) {
	for {
		v, err := fn()
		if err != unix.EINTR {
			return v, err
		}
	}
}
