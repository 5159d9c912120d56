// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock provides an injectable time abstraction for testability.
//
// Production code accepts a Clock interface parameter instead of
// calling time.Now directly. In production, Real() provides the
// standard library behavior. In tests, Fake() provides a
// deterministic clock that advances only when Advance is called —
// used by lib/storeconn to test connection-age eviction without
// sleeping in real time.
//
// # Wiring Pattern
//
// Add a Clock field to structs that use time:
//
//	type Pool struct {
//	    clock clock.Clock
//	    // ...
//	}
//
// In production:
//
//	p := &Pool{clock: clock.Real()}
//
// In tests:
//
//	c := clock.Fake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
//	p := &Pool{clock: c}
//	c.Advance(5 * time.Second)
package clock
