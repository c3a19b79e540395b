package control

import (
	"errors"
	"fmt"
)

var (
	// ErrControlFileAccess means the control file could not be read or
	// written at its full size.
	ErrControlFileAccess = errors.New("bogus control file")
	// ErrControlFileSanity matches every *SanityError.
	ErrControlFileSanity = errors.New("control file sanity check failed")
)

// SanityError reports a control file that was read at the right size but
// failed validation. Check is one of "crc", "magic" or "version".
type SanityError struct {
	Check    string
	Expected any
	Actual   any
}

func (e *SanityError) Error() string {
	return fmt.Sprintf("%v: control data %s mismatch: expected %q, got %q",
		ErrControlFileSanity, e.Check, fmt.Sprint(e.Expected), fmt.Sprint(e.Actual))
}

func (e *SanityError) Is(target error) bool {
	return target == ErrControlFileSanity
}

func accessError(format string, args ...any) error {
	return fmt.Errorf("%w: "+format, append([]any{ErrControlFileAccess}, args...)...)
}
