// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"strings"

	"github.com/tebowy/nix/lib/netutil"
	"github.com/tebowy/nix/lib/wire"
)

// legacyDerivationErrorMarkers are substrings that together indicate
// a pre-dynamic-derivation daemon rejected a Derive([...]) expression
// it does not understand, rather than a genuine parse error in the
// derivation the caller supplied.
var legacyDerivationErrorMarkers = []string{"parsing derivation", "expected string", "Derive(["}

// translateLegacyDerivationError re-wraps a RemoteError raised by a
// daemon negotiated at minor <= 35 when its message matches the
// pattern such daemons emit for a derivation that uses
// dynamic-derivation syntax they predate. The Kind is never changed —
// translation only adds an explanatory suffix so the caller's error
// message points at the likely cause instead of a bare parse error.
func translateLegacyDerivationError(minor uint8, info RemoteErrorInfo) RemoteErrorInfo {
	if minor > 35 {
		return info
	}
	for _, marker := range legacyDerivationErrorMarkers {
		if !strings.Contains(info.Message, marker) {
			return info
		}
	}
	info.Message += " (this daemon predates dynamic derivations; the requested derivation likely refers to one)"
	return info
}

// RemoteErrorFrom converts a captured RemoteErrorInfo into the
// *Error a caller raises, applying translateLegacyDerivationError
// first so backward-compatibility rewriting always happens in one
// place regardless of which caller received the captured frame.
func RemoteErrorFrom(minor uint8, info RemoteErrorInfo) error {
	translated := translateLegacyDerivationError(minor, info)
	return &Error{Kind: KindRemoteError, Message: translated.Message}
}

// DrainAfterBrokenPipe recovers the daemon's real explanation when a
// raw stream write during AddToStoreNar-style upload to an old daemon
// fails with EPIPE. The daemon that closed its read side almost always
// has a RemoteError explaining why (out of disk space, a rejected
// input) sitting in the stderr channel; without this, the caller would
// only ever see the less useful broken-pipe error.
//
// If a genuine RemoteError is found, it is returned as the error, even
// when the stream ends before a Last frame. If the stream only reaches
// end of file with no Error frame, that is swallowed and writeErr is
// returned instead, since there was nothing more informative to report.
func DrainAfterBrokenPipe(ctx context.Context, r *wire.Reader, w *wire.Writer, minor uint8, logger *slog.Logger, writeErr error) error {
	if !netutil.IsBrokenPipe(writeErr) {
		return Wrap(KindIO, writeErr, "writing to connection")
	}

	captured, err := ProcessStderr(ctx, r, w, minor, logger, FrameIO{})
	if captured != nil {
		return RemoteErrorFrom(minor, *captured)
	}
	if err != nil {
		if kind, ok := KindOf(err); (ok && kind == KindEndOfFile) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return Wrap(KindIO, writeErr, "writing to connection")
		}
		return err
	}
	return Wrap(KindIO, writeErr, "writing to connection")
}
