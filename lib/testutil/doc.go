// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package testutil provides shared test helpers for this module's
// packages.
//
// [SocketDir] creates a temporary directory in /tmp suitable for Unix
// domain sockets. This exists because Unix domain sockets have a
// 108-byte path limit (sun_path in sockaddr_un), which t.TempDir()
// can exceed under some test runners. The directory is automatically
// removed when the test completes.
//
// [RequireReceive], [RequireSend], and [RequireClosed] encapsulate the
// timeout safety valve pattern (select with time.After fallback) so
// that individual tests do not need direct time.After calls. No test
// in this module calls them: the pool, handshake and storeclient tests
// write the select-with-time.After pattern inline. Deterministic
// timing uses [lib/clock.Fake] instead.
//
// [UniqueID] generates monotonically increasing identifiers for test
// disambiguation, e.g. synthesizing distinct store paths or session
// tokens without depending on wall-clock ordering.
//
// All helpers call t.Fatalf on failure rather than returning errors,
// since test setup failures are not recoverable.
package testutil
