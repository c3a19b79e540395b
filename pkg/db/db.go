// Package db opens and initializes wbtree data directories. A DB holds the
// directory lock, the in-memory copy of the control record and the current
// WAL segment.
package db

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"wbtree/internal/base"
	"wbtree/internal/blockio"
	"wbtree/internal/config"
	"wbtree/internal/control"
	"wbtree/internal/storage"
	"wbtree/internal/wal"
)

const LockFileName = "db.lock"

type DB struct {
	dir    string
	logger *zap.Logger

	// mu protects control and log. The control record is only written to
	// disk by Checkpoint and Close.
	mu      sync.Mutex
	control control.Record
	store   *control.Store
	log     *wal.Log
	lock    *blockio.File
	closed  bool

	openedAt time.Time
}

func resolve(opts []Option) (*options, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt.apply(o)
	}
	if o.meter != nil {
		io, err := blockio.Instrument(o.io, o.meter)
		if err != nil {
			return nil, fmt.Errorf("wbtree: failed to create metrics: %w", err)
		}
		o.io = io
	}
	return o, nil
}

func (o *options) walOptions() []wal.Option {
	opts := []wal.Option{wal.WithLogger(o.logger)}
	if o.direct {
		opts = append(opts, wal.WithDirectIO())
	}
	return opts
}

// Create initializes a new data directory and returns it opened. It fails
// with ErrExists when directory already holds a control file.
func Create(directory string, opts ...Option) (db *DB, err error) {
	o, err := resolve(opts)
	if err != nil {
		return nil, err
	}
	if err := config.ValidatePageSize(o.pageSize); err != nil {
		return nil, err
	}

	// Directories are not files a ByteIO can open, so they go through os.
	if err := os.MkdirAll(filepath.Join(directory, wal.DirName), 0o700); err != nil {
		return nil, fmt.Errorf("wbtree: failed to create data directory: %w", err)
	}

	lock, err := acquireLock(o.io, directory)
	if err != nil {
		return nil, err
	}
	defer func() {
		if db == nil {
			_ = lock.Close()
		}
	}()

	store := control.NewStore(o.io, directory, control.WithLogger(o.logger))
	exists, err := store.Exists()
	if err != nil {
		return nil, fmt.Errorf("wbtree: failed to check control file: %w", err)
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrExists, directory)
	}

	// A failed Create removes what it wrote, so that it can be retried.
	var created []string
	defer func() {
		if db == nil {
			removeAll(o, created)
		}
	}()

	rec := control.New(o.pageSize)
	log, err := wal.CreateLog(o.io, directory, &rec, o.walOptions()...)
	if err != nil {
		return nil, err
	}
	created = append(created, wal.SegmentPath(directory, rec.CurrentWALSegment()), store.Path())
	if err := store.Save(&rec); err != nil {
		_ = log.Close()
		return nil, fmt.Errorf("wbtree: failed to write control file: %w", err)
	}

	o.logger.Info("created data directory",
		zap.String("dir", directory), zap.Uint64("page_size", o.pageSize))
	return newDB(directory, o, rec, store, log, lock), nil
}

// Open opens an initialized data directory. A control file that cannot be
// read or fails validation is reported as is; nothing is repaired.
func Open(directory string, opts ...Option) (db *DB, err error) {
	o, err := resolve(opts)
	if err != nil {
		return nil, err
	}

	lock, err := acquireLock(o.io, directory)
	if err != nil {
		return nil, err
	}
	defer func() {
		if db == nil {
			_ = lock.Close()
		}
	}()

	store := control.NewStore(o.io, directory, control.WithLogger(o.logger))
	rec, err := store.Load()
	if err != nil {
		return nil, fmt.Errorf("wbtree: failed to load control file: %w", err)
	}

	log, err := wal.OpenLog(o.io, directory, &rec, o.walOptions()...)
	if err != nil {
		return nil, err
	}

	o.logger.Info("opened data directory",
		zap.String("dir", directory), zap.Stringer("control", rec))
	return newDB(directory, o, rec, store, log, lock), nil
}

func newDB(dir string, o *options, rec control.Record, store *control.Store, log *wal.Log, lock *blockio.File) *DB {
	return &DB{
		dir:      dir,
		logger:   o.logger,
		control:  rec,
		store:    store,
		log:      log,
		lock:     lock,
		openedAt: time.Now(),
	}
}

func removeAll(o *options, paths []string) {
	for _, path := range paths {
		err := blockio.Remove(o.io, path)
		if err != nil && !errors.Is(err, syscall.ENOENT) {
			o.logger.Warn("failed to remove file of incomplete data directory",
				zap.String("path", path), zap.Error(err))
		}
	}
}

func acquireLock(io blockio.ByteIO, directory string) (*blockio.File, error) {
	lock, err := blockio.OpenWith(io, filepath.Join(directory, LockFileName),
		blockio.OpenRead|blockio.OpenWrite|blockio.OpenCreate,
		blockio.ModeUserRead|blockio.ModeUserWrite)
	if err != nil {
		return nil, fmt.Errorf("wbtree: failed to create lock file: %w", err)
	}
	if err := lock.Lock(); err != nil {
		_ = lock.Close()
		if blockio.IsLocked(err) {
			return nil, fmt.Errorf("%w: %s", ErrLocked, directory)
		}
		return nil, fmt.Errorf("wbtree: failed to lock directory: %w", err)
	}
	return lock, nil
}

// Dir returns the data directory.
func (db *DB) Dir() string {
	return db.dir
}

// Control returns a copy of the in-memory control record, which may be
// ahead of the control file until the next Checkpoint.
func (db *DB) Control() control.Record {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.control
}

// AllocateOid hands out the next object id.
func (db *DB) AllocateOid() (base.Oid, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return base.InvalidOid, ErrClosed
	}
	return db.control.AllocateOid(), nil
}

// AdvanceRedoLSN moves the point recovery starts from to lsn.
func (db *DB) AdvanceRedoLSN(lsn base.LSN) error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	if lsn < db.control.RedoLSN() {
		return fmt.Errorf("%w: %s is before %s", ErrRedoLSN, lsn, db.control.RedoLSN())
	}
	db.control.SetRedoLSN(lsn)
	return nil
}

// AppendWAL writes p to the WAL and returns its LSN, moving to a new segment
// when the current one is full.
func (db *DB) AppendWAL(p []byte) (base.LSN, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return base.InvalidLSN, ErrClosed
	}

	if storage.RoundUp(len(p)) > wal.SegmentSize {
		return base.InvalidLSN, wal.ErrSegmentFull
	}

	lsn, err := db.log.Append(p)
	if !errors.Is(err, wal.ErrSegmentFull) {
		return lsn, err
	}
	if err := db.roll(); err != nil {
		return base.InvalidLSN, err
	}
	return db.log.Append(p)
}

// RollSegment closes the current WAL segment and starts the next one. It
// returns the segment now in use, which is the new one whenever it could be
// created, even if an error is returned alongside it.
func (db *DB) RollSegment() (base.WALSegNum, error) {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return 0, ErrClosed
	}
	err := db.roll()
	return db.control.CurrentWALSegment(), err
}

// roll persists the new segment number at once so that a restart opens the
// segment appends are going to.
func (db *DB) roll() error {
	prev := db.control.CurrentWALSegment()
	err := db.log.Roll(&db.control)
	if db.control.CurrentWALSegment() == prev {
		return err
	}

	// The new segment is in use even when closing the old one failed.
	var result *multierror.Error
	if err != nil {
		result = multierror.Append(result, err)
	}
	if err := db.store.Save(&db.control); err != nil {
		result = multierror.Append(result, fmt.Errorf("wbtree: failed to record wal segment: %w", err))
	}
	return result.ErrorOrNil()
}

// Checkpoint makes the WAL durable and then writes the control record.
func (db *DB) Checkpoint() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	return db.checkpoint()
}

func (db *DB) checkpoint() error {
	if err := db.log.Sync(); err != nil {
		return fmt.Errorf("wbtree: failed to sync wal: %w", err)
	}
	if err := db.store.Save(&db.control); err != nil {
		return fmt.Errorf("wbtree: failed to write control file: %w", err)
	}
	db.logger.Debug("checkpoint", zap.Stringer("control", db.control))
	return nil
}

// Close checkpoints and releases the data directory. Every step runs even
// when an earlier one fails.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	if db.closed {
		return ErrClosed
	}
	db.closed = true

	var result *multierror.Error
	if err := db.checkpoint(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := db.log.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to close wal segment: %w", err))
	}
	if err := db.lock.Unlock(); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to unlock directory: %w", err))
	}
	if err := db.lock.Close(); err != nil {
		result = multierror.Append(result, fmt.Errorf("failed to close lock file: %w", err))
	}

	db.logger.Info("closed data directory",
		zap.String("dir", db.dir), zap.Duration("uptime", time.Since(db.openedAt)))
	return result.ErrorOrNil()
}
