package db

import (
	"errors"

	"wbtree/internal/config"
)

var (
	ErrLocked  = errors.New("wbtree: data directory is locked by another process")
	ErrExists  = errors.New("wbtree: data directory already initialized")
	ErrClosed  = errors.New("wbtree: database closed")
	ErrRedoLSN = errors.New("wbtree: redo lsn cannot move backwards")

	ErrInvalidPageSize = config.ErrInvalidPageSize
)
