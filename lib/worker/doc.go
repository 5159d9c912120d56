// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package worker implements the message grammar of the build-store
// worker protocol: the handshake, the closed operation-code enum, the
// per-operation argument and reply shapes, the stderr demultiplexer
// that accompanies every in-flight request, and the framed sink used
// to stream bulk payloads.
//
// Package wire supplies the primitive codec this package builds on;
// this package adds no primitives of its own, only protocol structure.
// Everything here is gated by a negotiated minor version, stored on
// the caller's connection and passed explicitly to every function that
// needs it rather than threaded through package-level state.
package worker
