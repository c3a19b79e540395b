package blockio

import (
	"sync"
	"syscall"
)

// Fault is an injected failure for the next matching MemIO call. A non-zero
// Errno fails the call. Otherwise Short, when positive, caps the number of
// bytes the call transfers.
type Fault struct {
	Errno syscall.Errno
	Short int
}

// MemIO is an in-memory ByteIO for tests. Files live in a map keyed by path
// and survive Close, so a test can reopen them to simulate a restart. Faults
// injected with Inject fire exactly once.
type MemIO struct {
	mu     sync.Mutex
	files  map[string]*memFile
	fds    map[FD]*memHandle
	nextFD FD
	faults map[Op][]Fault
}

type memFile struct {
	data   []byte
	mode   CreateMode
	syncs  int
	locked *memHandle
}

type memHandle struct {
	file  *memFile
	path  string
	flags OpenFlag
	pos   int64
}

var (
	_ ByteIO  = (*MemIO)(nil)
	_ Locker  = (*MemIO)(nil)
	_ Remover = (*MemIO)(nil)
)

func NewMemIO() *MemIO {
	return &MemIO{
		files:  make(map[string]*memFile),
		fds:    make(map[FD]*memHandle),
		nextFD: 3,
		faults: make(map[Op][]Fault),
	}
}

// Inject queues f for the next call of op.
func (m *MemIO) Inject(op Op, f Fault) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.faults[op] = append(m.faults[op], f)
}

// Contents returns a copy of the file at path.
func (m *MemIO) Contents(path string) ([]byte, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	file, ok := m.files[path]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), file.data...), true
}

// SetContents replaces or creates the file at path.
func (m *MemIO) SetContents(path string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	file, ok := m.files[path]
	if !ok {
		file = &memFile{mode: ModeUserRead | ModeUserWrite}
		m.files[path] = file
	}
	file.data = append([]byte(nil), data...)
}

// Remove deletes the file at path. Open descriptors keep their data.
func (m *MemIO) Remove(path string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if f, _ := m.fault(OpRemove); f.Errno != 0 {
		return &IOError{Op: OpRemove, Path: path, Errno: f.Errno}
	}
	if _, ok := m.files[path]; !ok {
		return &IOError{Op: OpRemove, Path: path, Errno: syscall.ENOENT}
	}
	delete(m.files, path)
	return nil
}

// SyncCount returns how many Sync and DataSync calls reached the file.
func (m *MemIO) SyncCount(path string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if file, ok := m.files[path]; ok {
		return file.syncs
	}
	return 0
}

// OpenCount returns the number of open descriptors.
func (m *MemIO) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.fds)
}

// fault pops the next fault queued for op. Callers hold mu.
func (m *MemIO) fault(op Op) (Fault, bool) {
	queue := m.faults[op]
	if len(queue) == 0 {
		return Fault{}, false
	}
	m.faults[op] = queue[1:]
	return queue[0], true
}

// begin looks up fd and applies any fault queued for op. Callers hold mu.
func (m *MemIO) begin(op Op, fd FD) (*memHandle, Fault, error) {
	f, _ := m.fault(op)
	if f.Errno != 0 {
		return nil, f, &IOError{Op: op, Errno: f.Errno}
	}
	h, ok := m.fds[fd]
	if !ok {
		return nil, f, &IOError{Op: op, Errno: syscall.EBADF}
	}
	return h, f, nil
}

func (m *MemIO) Open(path string, flags OpenFlag, mode CreateMode) (FD, error) {
	if flags&^openFlagMask != 0 {
		return InvalidFD, ErrUnsupportedFlag
	}
	if flags&(OpenRead|OpenWrite) == 0 {
		return InvalidFD, ErrInvalidFlags
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if f, _ := m.fault(OpOpen); f.Errno != 0 {
		return InvalidFD, &IOError{Op: OpOpen, Path: path, Errno: f.Errno}
	}

	file, exists := m.files[path]
	switch {
	case exists && flags&OpenCreate != 0 && flags&OpenExclusive != 0:
		return InvalidFD, &IOError{Op: OpOpen, Path: path, Errno: syscall.EEXIST}
	case !exists && flags&OpenCreate == 0:
		return InvalidFD, &IOError{Op: OpOpen, Path: path, Errno: syscall.ENOENT}
	case !exists:
		file = &memFile{mode: mode}
		m.files[path] = file
	}
	if exists {
		if flags&OpenRead != 0 && file.mode&ModeUserRead == 0 ||
			flags&OpenWrite != 0 && file.mode&ModeUserWrite == 0 {
			return InvalidFD, &IOError{Op: OpOpen, Path: path, Errno: syscall.EACCES}
		}
	}
	if flags&OpenTruncate != 0 && flags&OpenWrite != 0 {
		file.data = file.data[:0]
	}

	fd := m.nextFD
	m.nextFD++
	m.fds[fd] = &memHandle{file: file, path: path, flags: flags}
	return fd, nil
}

func (m *MemIO) Close(fd FD) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, _, err := m.begin(OpClose, fd)
	if err != nil {
		// A failed close still releases the descriptor, as close(2) does.
		delete(m.fds, fd)
		return err
	}
	if h.file.locked == h {
		h.file.locked = nil
	}
	delete(m.fds, fd)
	return nil
}

func (m *MemIO) Seek(fd FD, offset int64, whence Whence) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, _, err := m.begin(OpSeek, fd)
	if err != nil {
		return 0, err
	}
	var base int64
	switch whence {
	case SeekStart:
	case SeekCurrent:
		base = h.pos
	case SeekEnd:
		base = int64(len(h.file.data))
	default:
		return 0, &IOError{Op: OpSeek, Errno: syscall.EINVAL}
	}
	if base+offset < 0 {
		return 0, &IOError{Op: OpSeek, Errno: syscall.EINVAL}
	}
	h.pos = base + offset
	return h.pos, nil
}

func (m *MemIO) Read(fd FD, buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, f, err := m.begin(OpRead, fd)
	if err != nil {
		return 0, err
	}
	n, err := h.readAt(OpRead, buf, h.pos, f)
	h.pos += int64(n)
	return n, err
}

func (m *MemIO) ReadAt(fd FD, buf []byte, offset int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, f, err := m.begin(OpReadAt, fd)
	if err != nil {
		return 0, err
	}
	return h.readAt(OpReadAt, buf, offset, f)
}

func (m *MemIO) Write(fd FD, buf []byte) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, f, err := m.begin(OpWrite, fd)
	if err != nil {
		return 0, err
	}
	if h.flags&OpenAppend != 0 {
		h.pos = int64(len(h.file.data))
	}
	n, err := h.writeAt(OpWrite, buf, h.pos, f)
	h.pos += int64(n)
	return n, err
}

func (m *MemIO) WriteAt(fd FD, buf []byte, offset int64) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, f, err := m.begin(OpWriteAt, fd)
	if err != nil {
		return 0, err
	}
	return h.writeAt(OpWriteAt, buf, offset, f)
}

func (m *MemIO) Sync(fd FD) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, _, err := m.begin(OpSync, fd)
	if err != nil {
		return err
	}
	h.file.syncs++
	return nil
}

func (m *MemIO) DataSync(fd FD) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, _, err := m.begin(OpDataSync, fd)
	if err != nil {
		return err
	}
	h.file.syncs++
	return nil
}

func (m *MemIO) Truncate(fd FD, size int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, _, err := m.begin(OpTruncate, fd)
	if err != nil {
		return err
	}
	if size < 0 {
		return &IOError{Op: OpTruncate, Errno: syscall.EINVAL}
	}
	if h.flags&OpenWrite == 0 {
		return &IOError{Op: OpTruncate, Errno: syscall.EINVAL}
	}
	h.file.resize(size)
	return nil
}

func (m *MemIO) Lock(fd FD) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, _, err := m.begin(OpLock, fd)
	if err != nil {
		return err
	}
	if h.file.locked != nil && h.file.locked != h {
		return &IOError{Op: OpLock, Errno: syscall.EAGAIN}
	}
	h.file.locked = h
	return nil
}

func (m *MemIO) Unlock(fd FD) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	h, _, err := m.begin(OpUnlock, fd)
	if err != nil {
		return err
	}
	if h.file.locked == h {
		h.file.locked = nil
	}
	return nil
}

func (h *memHandle) readAt(op Op, buf []byte, offset int64, f Fault) (int, error) {
	if h.flags&OpenRead == 0 {
		return 0, &IOError{Op: op, Errno: syscall.EBADF}
	}
	if offset < 0 {
		return 0, &IOError{Op: op, Errno: syscall.EINVAL}
	}
	if offset >= int64(len(h.file.data)) {
		return 0, nil
	}
	n := copy(limit(buf, f), h.file.data[offset:])
	return n, nil
}

func (h *memHandle) writeAt(op Op, buf []byte, offset int64, f Fault) (int, error) {
	if h.flags&OpenWrite == 0 {
		return 0, &IOError{Op: op, Errno: syscall.EBADF}
	}
	if offset < 0 {
		return 0, &IOError{Op: op, Errno: syscall.EINVAL}
	}
	buf = limit(buf, f)
	if end := offset + int64(len(buf)); end > int64(len(h.file.data)) {
		h.file.resize(end)
	}
	return copy(h.file.data[offset:], buf), nil
}

func (file *memFile) resize(size int64) {
	if size <= int64(len(file.data)) {
		file.data = file.data[:size]
		return
	}
	grown := make([]byte, size)
	copy(grown, file.data)
	file.data = grown
}

func limit(buf []byte, f Fault) []byte {
	if f.Short > 0 && f.Short < len(buf) {
		return buf[:f.Short]
	}
	return buf
}
