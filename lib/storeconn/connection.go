// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storeconn

import (
	"net"
	"sync"
	"time"

	"github.com/tebowy/nix/lib/clock"
	"github.com/tebowy/nix/lib/wire"
	"github.com/tebowy/nix/lib/worker"
)

// Connection is one duplex byte stream to the daemon, its negotiated
// protocol version, and a "poisoned" bit. Per spec.md §3, once bad it
// never recovers, and exactly one caller borrows it at a time — the
// pool enforces the second property, this type only tracks the first.
type Connection struct {
	conn net.Conn
	Reader *wire.Reader
	Writer *wire.Writer

	NegotiatedMinor uint8
	DaemonVersion   string
	RemoteTrustsUs  worker.TrustState

	startedAt time.Time

	mu  sync.Mutex
	bad bool
}

// newConnection wraps conn, recording startedAt from clk so tests can
// control connection age deterministically.
func newConnection(conn net.Conn, clk clock.Clock, hs worker.HandshakeResult) *Connection {
	return &Connection{
		conn:            conn,
		Reader:          wire.NewReader(conn),
		Writer:          wire.NewWriter(conn),
		NegotiatedMinor: hs.NegotiatedMinor,
		DaemonVersion:   hs.DaemonVersion,
		RemoteTrustsUs:  hs.RemoteTrustsUs,
		startedAt:       clk.Now(),
	}
}

// MarkBad flags the connection as poisoned. Per spec.md §4.6, this
// happens automatically when an operation raises one of the poisoning
// error kinds (worker.IsPoisoning); callers should not need to call
// this directly outside that path, but it is exported so a caller
// that catches a panic or otherwise unwinds abnormally through an
// in-flight operation can poison defensively.
func (c *Connection) MarkBad() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bad = true
}

// Bad reports whether the connection has been poisoned.
func (c *Connection) Bad() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.bad
}

// Age returns how long this connection has been open, measured with
// clk so pool eviction tests can advance a fake clock instead of
// sleeping.
func (c *Connection) Age(clk clock.Clock) time.Duration {
	return clk.Now().Sub(c.startedAt)
}

// Close tears down the underlying transport. Safe to call more than
// once.
func (c *Connection) Close() error {
	return c.conn.Close()
}

// PoisonOnError marks the connection bad if err is non-nil and its
// worker.Kind requires poisoning (spec.md §8 property 7); returns err
// unchanged so callers can write `return conn.PoisonOnError(err)`.
func (c *Connection) PoisonOnError(err error) error {
	if err == nil {
		return nil
	}
	if kind, ok := worker.KindOf(err); ok && worker.IsPoisoning(kind) {
		c.MarkBad()
	}
	return err
}
