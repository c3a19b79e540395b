package control

import (
	"bytes"
	"errors"
	"fmt"
	"path/filepath"
	"syscall"

	"go.uber.org/zap"

	"wbtree/internal/blockio"
	"wbtree/internal/storage"
)

// Store loads and saves the control file of one data directory. Every call
// is a complete round trip to storage; nothing is cached between calls.
type Store struct {
	io     blockio.ByteIO
	path   string
	logger *zap.Logger
}

type Option func(*Store)

func WithLogger(logger *zap.Logger) Option {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore returns a Store for the control file under dir.
func NewStore(io blockio.ByteIO, dir string, options ...Option) *Store {
	s := &Store{
		io:     io,
		path:   filepath.Join(dir, FileName),
		logger: zap.NewNop(),
	}
	for _, option := range options {
		option(s)
	}
	return s
}

// Load reads the control file of dir through the operating system.
func Load(dir string) (Record, error) {
	return NewStore(blockio.SystemIO{}, dir).Load()
}

// Save writes rec as the control file of dir through the operating system.
func Save(dir string, rec *Record) error {
	return NewStore(blockio.SystemIO{}, dir).Save(rec)
}

// Path returns the control file path.
func (s *Store) Path() string {
	return s.path
}

// Load reads and validates the control file. The checks run from cheapest
// to most specific: size, then checksum, then magic and version. The
// checksum comes first because magic and version are only meaningful in a
// record that is known to be intact.
func (s *Store) Load() (Record, error) {
	var rec Record

	file, err := blockio.OpenWith(s.io, s.path, blockio.OpenRead, 0)
	if err != nil {
		return rec, fmt.Errorf("%w: %w", ErrControlFileAccess, err)
	}
	defer file.MustClose()

	view := storage.NewView(Size)
	n, err := file.ReadAt(view.Bytes(), 0)
	if err != nil {
		return rec, fmt.Errorf("%w: %w", ErrControlFileAccess, err)
	}
	if n != view.Size() {
		return rec, accessError("expected %d bytes, but found only %d bytes", Size, n)
	}

	rec.decode(view.Bytes())

	if crc := checksum(view.Bytes()); crc != rec.crc {
		return Record{}, &SanityError{Check: "crc", Expected: rec.crc, Actual: crc}
	}
	if rec.magic != Magic {
		return Record{}, &SanityError{
			Check:    "magic",
			Expected: magicString(Magic),
			Actual:   magicString(rec.magic),
		}
	}
	if rec.version != Version {
		return Record{}, &SanityError{
			Check:    "version",
			Expected: FormatVersion(Version),
			Actual:   FormatVersion(rec.version),
		}
	}

	s.logger.Debug("loaded control file",
		zap.String("path", s.path), zap.Stringer("record", rec))
	return rec, nil
}

// Save recomputes the checksum of rec, stores it in rec and overwrites the
// whole control file with a single write, then syncs it. A crash leaves
// either the old or the new record on disk, never a mix, since the record
// fits in one atomic write.
func (s *Store) Save(rec *Record) error {
	file, err := blockio.OpenWith(s.io, s.path,
		blockio.OpenRead|blockio.OpenWrite|blockio.OpenCreate,
		blockio.ModeUserRead|blockio.ModeUserWrite)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrControlFileAccess, err)
	}
	defer file.MustClose()

	view := storage.NewView(Size)
	rec.seal(view.Bytes())

	n, err := file.WriteAt(view.Bytes(), 0)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrControlFileAccess, err)
	}
	if n != view.Size() {
		return accessError("wrote %d of %d bytes", n, Size)
	}
	if err := file.Sync(); err != nil {
		return fmt.Errorf("%w: %w", ErrControlFileAccess, err)
	}

	s.logger.Debug("saved control file",
		zap.String("path", s.path), zap.Stringer("record", *rec))
	return nil
}

// Exists reports whether the control file is present.
func (s *Store) Exists() (bool, error) {
	file, err := blockio.OpenWith(s.io, s.path, blockio.OpenRead, 0)
	if errors.Is(err, syscall.ENOENT) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, file.Close()
}

func magicString(m [MagicLen]byte) string {
	if i := bytes.IndexByte(m[:], 0); i >= 0 {
		return string(m[:i])
	}
	return string(m[:])
}
