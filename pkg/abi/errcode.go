// Package abi defines the narrow, versioned module-to-host call surface
// (§4.9): the closed error-code taxonomy every failable syscall returns,
// the buffer-too-small contract, and the per-major-version Registry of
// wired syscalls.
package abi

import "fmt"

// ErrCode is the closed set of numeric codes a failable syscall can
// return. Category codes are stable across ABI versions; new categories
// are additive (never renumbered, never removed).
type ErrCode uint16

const (
	ErrOK ErrCode = iota
	ErrNotInTransaction
	ErrNoSuchTable
	ErrNoSuchIndex
	ErrNoSuchIter
	ErrNoSuchRow
	ErrNoSuchConsoleTimer
	ErrIndexNotUnique
	ErrUniqueAlreadyExists
	ErrBsatnDecodeError
	ErrScheduleAtDelayTooLong
	ErrBufferTooSmall
)

func (c ErrCode) String() string {
	switch c {
	case ErrOK:
		return "OK"
	case ErrNotInTransaction:
		return "NOT_IN_TRANSACTION"
	case ErrNoSuchTable:
		return "NO_SUCH_TABLE"
	case ErrNoSuchIndex:
		return "NO_SUCH_INDEX"
	case ErrNoSuchIter:
		return "NO_SUCH_ITER"
	case ErrNoSuchRow:
		return "NO_SUCH_ROW"
	case ErrNoSuchConsoleTimer:
		return "NO_SUCH_CONSOLE_TIMER"
	case ErrIndexNotUnique:
		return "INDEX_NOT_UNIQUE"
	case ErrUniqueAlreadyExists:
		return "UNIQUE_ALREADY_EXISTS"
	case ErrBsatnDecodeError:
		return "BSATN_DECODE_ERROR"
	case ErrScheduleAtDelayTooLong:
		return "SCHEDULE_AT_DELAY_TOO_LONG"
	case ErrBufferTooSmall:
		return "BUFFER_TOO_SMALL"
	default:
		return fmt.Sprintf("ErrCode(%d)", uint16(c))
	}
}

// Error is the ABI-layer error value: a closed code plus, for
// BUFFER_TOO_SMALL, the needed byte count. ABI errors are data, never
// wrapped with a stack trace — they are returned to the module as a
// coded result, not raised as a host exception (§7 layer 1).
type Error struct {
	Code   ErrCode
	Needed uint32 // only meaningful when Code == ErrBufferTooSmall
}

func (e *Error) Error() string {
	if e.Code == ErrBufferTooSmall {
		return fmt.Sprintf("%s(needed=%d)", e.Code, e.Needed)
	}
	return e.Code.String()
}

func New(code ErrCode) *Error { return &Error{Code: code} }

// BufferTooSmall constructs the one code that carries a payload.
func BufferTooSmall(needed uint32) *Error {
	return &Error{Code: ErrBufferTooSmall, Needed: needed}
}

// AsError reports whether err is an ABI Error and, if so, returns it.
func AsError(err error) (*Error, bool) {
	e, ok := err.(*Error)
	return e, ok
}
