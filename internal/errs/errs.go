// Package errs holds the error taxonomy shared by every argus subsystem.
package errs

import (
	"errors"
	"fmt"
)

// ErrArgus is the root of every error raised by this module. Callers that only
// care whether the subsystem failed can test errors.Is(err, ErrArgus).
var ErrArgus = errors.New("argus")

var (
	ErrLibraryNotFound      = errors.New("library not found")
	ErrTooManyNamespaces    = errors.New("too many namespaces")
	ErrQuotaExceeded        = errors.New("quota exceeded")
	ErrDuplicateLibraryType = errors.New("duplicate library type")
	ErrCrossNamespaceRename = errors.New("cross namespace rename")
	ErrInvalidLibraryName   = errors.New("invalid library name")
	ErrClosed               = errors.New("store closed")
	ErrPoolShutdown         = errors.New("pool shut down")
	ErrNotShutDown          = errors.New("pool not shut down")
)

// Error carries a human readable message and a kind sentinel.
type Error struct {
	Kind error
	Msg  string
	Err  error
}

// New builds an *Error of the given kind.
func New(kind error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind that also unwraps to cause.
func Wrap(kind error, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: cause}
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Msg, e.Err)
	}
	return e.Msg
}

func (e *Error) Unwrap() []error {
	unwrapped := []error{e.Kind, ErrArgus}
	if e.Err != nil {
		unwrapped = append(unwrapped, e.Err)
	}
	return unwrapped
}
