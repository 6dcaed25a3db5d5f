package vfs

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"golang.org/x/sys/unix"
)

// Kind categorizes an Error.
type Kind string

const (
	KindFormat         Kind = "format"          // malformed or undersized inode buffer
	KindPermission     Kind = "permission"      // credential check failure
	KindMount          Kind = "mount"           // duplicate, missing or malformed mount prefix
	KindNotInitialized Kind = "not_initialized" // operation before any mount exists
	KindInvalidPath    Kind = "invalid_path"    // unnormalizable path
	KindNotFound       Kind = "not_found"       // no inode at resolved path
	KindBackend        Kind = "backend"         // opaque backend failure
	KindExist          Kind = "exist"
	KindNotDir         Kind = "not_dir"
	KindIsDir          Kind = "is_dir"
	KindNotEmpty       Kind = "not_empty"
	KindCrossDevice    Kind = "cross_device"
	KindReadOnly       Kind = "read_only"
	KindInvalid        Kind = "invalid"
	KindTooLarge       Kind = "too_large"
	KindLoop           Kind = "loop"
	KindClosed         Kind = "closed"
)

// Sentinel errors for use with errors.Is. Matching is by Kind only.
var (
	ErrFormat         = &Error{Kind: KindFormat}
	ErrPermission     = &Error{Kind: KindPermission}
	ErrMount          = &Error{Kind: KindMount}
	ErrNotInitialized = &Error{Kind: KindNotInitialized}
	ErrInvalidPath    = &Error{Kind: KindInvalidPath}
	ErrNotFound       = &Error{Kind: KindNotFound}
	ErrBackend        = &Error{Kind: KindBackend}
	ErrExist          = &Error{Kind: KindExist}
	ErrNotDir         = &Error{Kind: KindNotDir}
	ErrIsDir          = &Error{Kind: KindIsDir}
	ErrNotEmpty       = &Error{Kind: KindNotEmpty}
	ErrCrossDevice    = &Error{Kind: KindCrossDevice}
	ErrReadOnly       = &Error{Kind: KindReadOnly}
	ErrInvalid        = &Error{Kind: KindInvalid}
	ErrTooLarge       = &Error{Kind: KindTooLarge}
	ErrLoop           = &Error{Kind: KindLoop}
	ErrClosed         = &Error{Kind: KindClosed}
)

// Error is the structured error returned by every operation of the package
// and expected from backends.
type Error struct {
	Cause  error
	Kind   Kind
	Op     string
	Path   string
	Detail string
}

// NewError returns an error of the given kind for op on path.
func NewError(kind Kind, op, path string) *Error {
	return &Error{Kind: kind, Op: op, Path: path}
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteString("vfs: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteByte(' ')
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(string(e.Kind))

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. Another *Error matches when
// the kinds are equal; the io/fs sentinels match their equivalent kinds.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	switch target {
	case fs.ErrNotExist:
		return e.Kind == KindNotFound
	case fs.ErrExist:
		return e.Kind == KindExist
	case fs.ErrPermission:
		return e.Kind == KindPermission || e.Kind == KindReadOnly
	case fs.ErrClosed:
		return e.Kind == KindClosed
	case fs.ErrInvalid:
		return e.Kind == KindInvalid || e.Kind == KindInvalidPath
	}
	return false
}

// Errno returns the POSIX error number equivalent to the error's kind.
func (e *Error) Errno() unix.Errno {
	switch e.Kind {
	case KindNotFound:
		return unix.ENOENT
	case KindPermission:
		return unix.EACCES
	case KindExist:
		return unix.EEXIST
	case KindNotDir:
		return unix.ENOTDIR
	case KindIsDir:
		return unix.EISDIR
	case KindNotEmpty:
		return unix.ENOTEMPTY
	case KindCrossDevice:
		return unix.EXDEV
	case KindReadOnly:
		return unix.EROFS
	case KindTooLarge:
		return unix.EFBIG
	case KindLoop:
		return unix.ELOOP
	case KindClosed:
		return unix.EBADF
	case KindMount:
		return unix.EBUSY
	case KindInvalid, KindInvalidPath, KindFormat:
		return unix.EINVAL
	case KindNotInitialized:
		return unix.ENODEV
	default:
		return unix.EIO
	}
}

// withDetail sets a formatted detail message and returns e.
func (e *Error) withDetail(msg string, args ...any) *Error {
	if len(args) > 0 {
		e.Detail = fmt.Sprintf(msg, args...)
	} else {
		e.Detail = msg
	}
	return e
}

// KindOf returns the kind of err, or KindBackend for errors that are not
// produced by this package.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindBackend
}

// Errno returns the POSIX error number for err, or EIO.
func Errno(err error) unix.Errno {
	var e *Error
	if errors.As(err, &e) {
		return e.Errno()
	}
	return unix.EIO
}

// Convenience constructors used by backends.

// NotFound creates a not-found error
func NotFound(op, path string) *Error { return NewError(KindNotFound, op, path) }

// Exist creates an already-exists error
func Exist(op, path string) *Error { return NewError(KindExist, op, path) }

// NotDir creates a not-a-directory error
func NotDir(op, path string) *Error { return NewError(KindNotDir, op, path) }

// IsDir creates an is-a-directory error
func IsDir(op, path string) *Error { return NewError(KindIsDir, op, path) }

// NotEmpty creates a directory-not-empty error
func NotEmpty(op, path string) *Error { return NewError(KindNotEmpty, op, path) }

// ReadOnly creates a read-only filesystem error
func ReadOnly(op, path string) *Error { return NewError(KindReadOnly, op, path) }

// Invalid creates an invalid-argument error
func Invalid(op, path, detail string) *Error {
	return NewError(KindInvalid, op, path).withDetail("%s", detail)
}

// wrapBackend passes *Error values through, rewriting the op and path to the
// caller's view, and wraps anything else as KindBackend.
func wrapBackend(op, path string, err error) error {
	if err == nil {
		return nil
	}
	var e *Error
	if errors.As(err, &e) {
		return &Error{Kind: e.Kind, Op: op, Path: path, Detail: e.Detail, Cause: e.Cause}
	}
	return &Error{Kind: KindBackend, Op: op, Path: path, Cause: err}
}
