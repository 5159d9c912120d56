// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package netutil classifies transport-level errors so callers can tell
// ordinary connection teardown from genuine I/O failure.
package netutil

import (
	"errors"
	"io"
	"net"
	"syscall"
)

// IsExpectedCloseError reports whether err is a normal connection
// termination: EOF, closed connection, broken pipe, or connection
// reset. These occur during ordinary teardown when one side
// disconnects and the other side's in-flight read or write fails as a
// result — full-close (as opposed to half-close via CloseWrite)
// produces ECONNRESET and EPIPE instead of EOF on the surviving side.
func IsExpectedCloseError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		return errno == syscall.EPIPE || errno == syscall.ECONNRESET
	}
	return false
}

// IsBrokenPipe reports whether err is specifically EPIPE: the peer
// closed its read side while we were still writing. Distinguished from
// the broader IsExpectedCloseError because a broken pipe during a bulk
// upload is worth one more attempt at draining the peer's stderr
// stream for a more specific error before giving up.
func IsBrokenPipe(err error) bool {
	var errno syscall.Errno
	return errors.As(err, &errno) && errno == syscall.EPIPE
}
