// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package wire implements the primitive binary encoding used by the
// build-store worker protocol: little-endian unsigned integers,
// 8-byte-aligned length-prefixed byte strings, booleans, sequences,
// maps, and tagged variants.
//
// The codec is symmetric and stateless — the same functions read and
// write both directions of the protocol — and deliberately narrow: it
// has no notion of opcodes, message shapes, or protocol versions. Those
// live in package worker, one layer up. Nonzero padding and an
// oversized length become a [ProtocolError], since by the time bytes
// reach this package they are assumed to be framed correctly by the
// transport; such a violation means the peer and this client have
// desynchronized. Truncated input is reported as the underlying
// io.EOF or io.ErrUnexpectedEOF, wrapped in an [Error].
package wire
