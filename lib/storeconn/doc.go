// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package storeconn implements the Connection and Pool types from
// spec.md §4.6: one owned duplex stream carrying a negotiated worker
// protocol version, and a bounded pool of such connections with
// liveness/age validity, re-entrant extra capacity, and a latched
// pool-wide failure flag.
//
// This package knows nothing about the message grammar itself — it
// hands package worker a raw *wire.Reader/*wire.Writer pair to run the
// handshake on, and otherwise only tracks a Connection's health and
// lifetime. The Store facade in package storeclient is the layer that
// actually issues operations.
package storeconn
