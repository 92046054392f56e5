// ©Hayabusa Cloud Co., Ltd. 2026. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package qio

import (
	"errors"
	"strconv"
	"strings"

	"code.hybscloud.com/iox"
	"golang.org/x/sys/unix"
)

// ErrorKind classifies every failure reported by a [Library].
type ErrorKind uint8

const (
	// InvalidDescriptor: unknown or already-closed queue descriptor or token.
	InvalidDescriptor ErrorKind = iota + 1
	// UnsupportedOperation: the queue variant lacks the capability.
	UnsupportedOperation
	// ResourceExhausted: descriptor, token or submission space is used up.
	ResourceExhausted
	// OperationFailed: the backend reported a failure; Errno carries the code.
	OperationFailed
	// Cancelled: the owning queue was closed while the operation was pending.
	Cancelled
)

func (k ErrorKind) String() string {
	switch k {
	case InvalidDescriptor:
		return "invalid descriptor"
	case UnsupportedOperation:
		return "unsupported operation"
	case ResourceExhausted:
		return "resource exhausted"
	case OperationFailed:
		return "operation failed"
	case Cancelled:
		return "cancelled"
	}
	return "unknown(" + strconv.Itoa(int(k)) + ")"
}

// Error is the structured error returned by queue operations and carried by
// token outcomes.
//
// errors.Is matches an *Error against the sentinel values below by Kind, so
//
//	if errors.Is(err, qio.ErrCancelled) { ... }
//
// holds for every cancelled outcome regardless of queue or member.
type Error struct {
	Err    error      // underlying cause, if any
	Op     string     // operation name: "push", "pop", "bind", ...
	QD     int        // queue descriptor, 0 if not applicable
	Member int        // composite member index, -1 if not applicable
	Errno  unix.Errno // native error code, 0 if none
	Kind   ErrorKind
}

// Sentinel errors, one per kind. Compare with errors.Is.
var (
	ErrInvalidDescriptor = &Error{Kind: InvalidDescriptor, Member: -1, Errno: unix.EBADF}
	ErrUnsupported       = &Error{Kind: UnsupportedOperation, Member: -1, Errno: unix.EOPNOTSUPP}
	ErrExhausted         = &Error{Kind: ResourceExhausted, Member: -1, Errno: unix.EMFILE}
	ErrFailed            = &Error{Kind: OperationFailed, Member: -1}
	ErrCancelled         = &Error{Kind: Cancelled, Member: -1, Errno: unix.ECANCELED}
)

// ErrTokenBusy reports a second concurrent wait on the same token.
var ErrTokenBusy = &Error{Kind: InvalidDescriptor, Member: -1, Errno: unix.EBUSY, Err: errors.New("token is already being waited on")}

// ErrWouldBlock indicates the operation cannot proceed immediately.
//
// The backend uses it internally for full submission rings and drained
// sockets; it never surfaces from a push or pop token. This is an alias for
// [iox.ErrWouldBlock] for ecosystem consistency.
var ErrWouldBlock = iox.ErrWouldBlock

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString("qio: ")
	if e.Op != "" {
		b.WriteString(e.Op)
		b.WriteString(": ")
	}
	b.WriteString(e.Kind.String())
	if e.QD > 0 {
		b.WriteString(" (qd ")
		b.WriteString(strconv.Itoa(e.QD))
		if e.Member >= 0 {
			b.WriteString(", member ")
			b.WriteString(strconv.Itoa(e.Member))
		}
		b.WriteByte(')')
	}
	if e.Errno != 0 && e.Kind == OperationFailed {
		b.WriteString(": ")
		b.WriteString(e.Errno.Error())
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause. Backend failures without a richer
// cause unwrap to their errno, so errors.Is(err, unix.ECONNRESET) works.
func (e *Error) Unwrap() error {
	if e.Err == nil && e.Kind == OperationFailed && e.Errno != 0 {
		return e.Errno
	}
	return e.Err
}

// Is reports whether target is an *Error of the same kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

// KindOf returns the ErrorKind of err, or 0 if err is not a qio error.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

// Errno maps err to the native error number a POSIX caller would read from
// errno. It returns 0 for nil.
func Errno(err error) unix.Errno {
	if err == nil {
		return 0
	}
	var e *Error
	if errors.As(err, &e) && e.Errno != 0 {
		return e.Errno
	}
	var errno unix.Errno
	if errors.As(err, &errno) {
		return errno
	}
	if iox.IsWouldBlock(err) {
		return unix.EAGAIN
	}
	return unix.EIO
}

// IsWouldBlock reports whether err indicates the operation would block.
// Delegates to [iox.IsWouldBlock] for wrapped error support.
func IsWouldBlock(err error) bool {
	return iox.IsWouldBlock(err)
}

// IsSemantic reports whether err is a control flow signal (not a failure).
// Delegates to [iox.IsSemantic].
func IsSemantic(err error) bool {
	return iox.IsSemantic(err)
}

// IsNonFailure reports whether err represents a non-failure condition.
// Delegates to [iox.IsNonFailure].
func IsNonFailure(err error) bool {
	return iox.IsNonFailure(err)
}

func newError(kind ErrorKind, op string, qd int) *Error {
	e := &Error{Kind: kind, Op: op, QD: qd, Member: -1}
	switch kind {
	case InvalidDescriptor:
		e.Errno = unix.EBADF
	case UnsupportedOperation:
		e.Errno = unix.EOPNOTSUPP
	case ResourceExhausted:
		e.Errno = unix.EMFILE
	case Cancelled:
		e.Errno = unix.ECANCELED
	}
	return e
}

// failure wraps a backend error into an OperationFailed *Error.
func failure(op string, qd int, err error) *Error {
	e := &Error{Kind: OperationFailed, Op: op, QD: qd, Member: -1, Err: err}
	var errno unix.Errno
	if errors.As(err, &errno) {
		e.Errno = errno
		e.Err = nil
	} else {
		e.Errno = unix.EIO
	}
	return e
}

// retag copies err with the composite's qd and the failing member index.
func retag(err error, op string, qd, member int) error {
	var e *Error
	if !errors.As(err, &e) {
		e = failure(op, qd, err)
		e.Member = member
		return e
	}
	c := *e
	c.Op = op
	c.QD = qd
	c.Member = member
	return &c
}

// withQD fills in qd on errors raised without one.
func withQD(err error, qd int) error {
	var e *Error
	if err == nil || !errors.As(err, &e) || e.QD != 0 {
		return err
	}
	c := *e
	c.QD = qd
	return &c
}
