// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"errors"
	"fmt"
)

// Kind is the closed taxonomy of errors this protocol layer can raise.
// Every error this package or lib/storeconn/lib/storeclient returns
// that originates from the protocol is an *Error carrying one of
// these.
type Kind int

const (
	// KindProtocolError is a wire decode failure, unknown tag, or
	// magic mismatch. Poisons the Connection.
	KindProtocolError Kind = iota
	// KindUnsupported means the requested operation is not offered
	// at the negotiated minor version. The pool is unaffected.
	KindUnsupported
	// KindPoolFailed means the pool's factory failed on first use;
	// every subsequent acquire fails immediately with this kind.
	KindPoolFailed
	// KindRemoteError is an Error frame received from the peer,
	// carrying its status, message, and any traces. Poisons the
	// Connection.
	KindRemoteError
	// KindIO is a transport-level read or write failure. Poisons
	// the Connection.
	KindIO
	// KindMissingRealisation means an expected output realisation
	// was absent on a content-addressed fallback path. Not fatal to
	// the connection.
	KindMissingRealisation
	// KindEndOfFile means the peer closed the connection mid-frame.
	// Poisons the Connection.
	KindEndOfFile
)

func (k Kind) String() string {
	switch k {
	case KindProtocolError:
		return "ProtocolError"
	case KindUnsupported:
		return "Unsupported"
	case KindPoolFailed:
		return "PoolFailed"
	case KindRemoteError:
		return "RemoteError"
	case KindIO:
		return "Io"
	case KindMissingRealisation:
		return "MissingRealisation"
	case KindEndOfFile:
		return "EndOfFile"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// Error is the sentinel error type for every failure originating in
// the worker protocol layer. Callers branch on Kind with errors.As
// rather than string matching.
type Error struct {
	Kind    Kind
	Message string
	// Err, when non-nil, is the underlying cause (a wire.Error, a
	// net error, or another worker.Error being re-wrapped by a
	// backward-compatibility translator).
	Err error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("worker: %s: %s: %v", e.Kind, e.Message, e.Err)
	}
	return fmt.Sprintf("worker: %s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// Is supports errors.Is(err, someKindSentinel) style checks against
// another *Error that only sets Kind, e.g. errors.Is(err,
// &Error{Kind: KindUnsupported}).
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Kind == t.Kind
}

// NewError constructs an *Error of the given kind with a formatted
// message and no wrapped cause.
func NewError(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap constructs an *Error of the given kind wrapping cause.
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Err: cause}
}

// KindOf reports the Kind of err if it is (or wraps) a *worker.Error,
// and whether such an error was found at all.
func KindOf(err error) (Kind, bool) {
	var werr *Error
	if errors.As(err, &werr) {
		return werr.Kind, true
	}
	return 0, false
}

// IsPoisoning reports whether an error of this kind requires the
// Connection that produced it to be closed rather than returned to
// the pool (spec.md §8 property 7: ProtocolError, RemoteError, Io, and
// EndOfFile all poison; Unsupported, PoolFailed, and
// MissingRealisation do not).
func IsPoisoning(kind Kind) bool {
	switch kind {
	case KindProtocolError, KindRemoteError, KindIO, KindEndOfFile:
		return true
	default:
		return false
	}
}
