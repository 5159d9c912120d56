// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storeclient

import (
	"context"
	"errors"
	"io"
	"log/slog"

	"github.com/tebowy/nix/lib/storeconn"
	"github.com/tebowy/nix/lib/wire"
	"github.com/tebowy/nix/lib/worker"
)

// Config constructs a Client. Pool is required; the rest default
// sensibly when left zero.
type Config struct {
	Pool *storeconn.Pool
	// Logger receives the ambient log lines package worker's stderr
	// demultiplexer produces. Defaults to a discarding logger.
	Logger *slog.Logger
	// TrustedKeys are the signing keys VerifyPathInfo checks
	// ValidPathInfo signatures against.
	TrustedKeys []worker.PublicKey
	// CacheShardCount controls the path-info cache's mutex striping.
	// Defaults to defaultCacheShardCount.
	CacheShardCount int
}

// Client is the Store facade: every operation spec.md §4.3 names,
// implemented over a storeconn.Pool.
type Client struct {
	pool        *storeconn.Pool
	logger      *slog.Logger
	trustedKeys []worker.PublicKey
	cache       *pathInfoCache
}

// NewClient constructs a Client. Panics if cfg.Pool is nil.
func NewClient(cfg Config) *Client {
	if cfg.Pool == nil {
		panic("storeclient: Config.Pool must not be nil")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	return &Client{
		pool:        cfg.Pool,
		logger:      logger,
		trustedKeys: cfg.TrustedKeys,
		cache:       newPathInfoCache(cfg.CacheShardCount),
	}
}

// Close closes the underlying pool's idle connections.
func (c *Client) Close() {
	c.pool.Close()
}

// classifyIOError normalizes an error from the wire/codec layer into
// a *worker.Error so every Client method returns a uniformly
// classifiable error. Errors that are already a *worker.Error (e.g.
// from Op.CheckSupported, or from worker.ProcessStderr) pass through
// unchanged.
func classifyIOError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := worker.KindOf(err); ok {
		return err
	}
	var protoErr *wire.ProtocolError
	if errors.As(err, &protoErr) {
		return worker.Wrap(worker.KindProtocolError, err, "wire protocol violation")
	}
	return worker.Wrap(worker.KindIO, err, "i/o")
}

// withConnection acquires a connection, runs fn, poisons the
// connection if fn's error requires it (spec.md §8 property 7), and
// releases it back to the pool.
func (c *Client) withConnection(ctx context.Context, fn func(*storeconn.Connection) error) error {
	conn, err := c.pool.Acquire(ctx)
	if err != nil {
		return err
	}
	err = fn(conn)
	conn.PoisonOnError(err)
	c.pool.Release(conn)
	return err
}

// call writes op's opcode (after confirming it is supported at the
// connection's negotiated minor), lets writeArgs emit the operation's
// arguments, flushes, and drains the stderr demultiplexer until Last.
// A captured RemoteError is translated and returned as this call's
// error. Callers read the reply from conn.Reader themselves after a
// nil return, since reply shapes vary per operation.
func (c *Client) call(ctx context.Context, conn *storeconn.Connection, op worker.Op, writeArgs func(*wire.Writer) error) error {
	if err := op.CheckSupported(conn.NegotiatedMinor); err != nil {
		return err
	}
	if err := conn.Writer.WriteUint64(uint64(op)); err != nil {
		return classifyIOError(err)
	}
	if writeArgs != nil {
		if err := writeArgs(conn.Writer); err != nil {
			return classifyIOError(err)
		}
	}
	if err := conn.Writer.Flush(); err != nil {
		return classifyIOError(err)
	}
	captured, err := worker.ProcessStderr(ctx, conn.Reader, conn.Writer, conn.NegotiatedMinor, c.logger, worker.FrameIO{})
	if err != nil {
		return err
	}
	if captured != nil {
		return worker.RemoteErrorFrom(conn.NegotiatedMinor, *captured)
	}
	return nil
}
