// Package fat32 implements a read/write driver for a single FAT32 volume
// reached through a block-cache abstraction.
package fat32

import (
	"fmt"
	"syscall"
)

// DriverError is a wrapper around a POSIX errno code, with an optional
// human-readable message and a wrapped cause.
type DriverError struct {
	ErrnoCode syscall.Errno
	message   string
	cause     error
}

// Error implements the `error` interface.
func (e *DriverError) Error() string {
	if e.message != "" {
		return e.message
	}
	return e.ErrnoCode.Error()
}

// Unwrap lets errors.As see through to the wrapped cause, if any, or the
// errno otherwise.
func (e *DriverError) Unwrap() error {
	if e.cause != nil {
		return e.cause
	}
	return e.ErrnoCode
}

// Is lets errors.Is(err, fat32.ErrNotFound) (and the other error-kind vars)
// match a DriverError by its errno code even when it also wraps a
// lower-level cause, since Unwrap only exposes one of the two.
func (e *DriverError) Is(target error) bool {
	code, ok := target.(syscall.Errno)
	return ok && e.ErrnoCode == code
}

// NewDriverError creates a DriverError with a default message derived from
// the errno code.
func NewDriverError(errnoCode syscall.Errno) *DriverError {
	return &DriverError{ErrnoCode: errnoCode, message: errnoCode.Error()}
}

// NewDriverErrorWithMessage creates a DriverError from an errno code with a
// custom message.
func NewDriverErrorWithMessage(errnoCode syscall.Errno, message string) *DriverError {
	return &DriverError{
		ErrnoCode: errnoCode,
		message:   fmt.Sprintf("%s: %s", errnoCode.Error(), message),
	}
}

// WrapError attaches a lower-level cause to an errno code.
func WrapError(errnoCode syscall.Errno, cause error) *DriverError {
	return &DriverError{
		ErrnoCode: errnoCode,
		message:   fmt.Sprintf("%s: %s", errnoCode.Error(), cause.Error()),
		cause:     cause,
	}
}

// Error kind helpers. Each maps a driver-level error kind onto the POSIX
// errno a caller would expect.

// ErrBadMount signals a BPB signature or sector-size mismatch at Mount.
var ErrBadMount = syscall.EINVAL

// ErrNotFound signals a path or directory entry that does not exist.
var ErrNotFound = syscall.ENOENT

// ErrNotADirectory signals a non-leaf path component that isn't a directory.
var ErrNotADirectory = syscall.ENOTDIR

// ErrOutOfRange signals a write offset beyond file size or a FAT index past
// the last cluster.
var ErrOutOfRange = syscall.ERANGE

// ErrCopyFault signals that the user/kernel copy helper reported a fault.
var ErrCopyFault = syscall.EFAULT

// ErrExhausted signals that no free cluster remains. The driver panics on
// exhaustion, and nothing in this module returns ErrExhausted;
// clustertab.TryAllocCluster reports exhaustion with its own plain error.
var ErrExhausted = syscall.ENOSPC
