// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storeclient

import (
	"context"
	"io"

	"github.com/tebowy/nix/lib/storeconn"
	"github.com/tebowy/nix/lib/wire"
	"github.com/tebowy/nix/lib/worker"
)

// SetOptions sends settings to the daemon over one connection acquired
// from the pool. Unlike the handshake's own SetOptions (spec.md §4.2
// step 7, run once per Connection by the factory), this method lets a
// caller change tunables on a connection already in use, reusing the
// same wire encoding worker.Handshake uses internally. Other pooled
// connections keep the settings they already had.
func (c *Client) SetOptions(ctx context.Context, settings worker.Settings) error {
	return c.withConnection(ctx, func(conn *storeconn.Connection) error {
		if err := worker.WriteSetOptions(conn.Writer, conn.NegotiatedMinor, settings); err != nil {
			return classifyIOError(err)
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
	})
}

// FindRoots returns every registered GC root, as a map from root file
// path to the store path it pins.
func (c *Client) FindRoots(ctx context.Context) (map[string]worker.StorePath, error) {
	var result map[string]worker.StorePath
	err := c.withConnection(ctx, func(conn *storeconn.Connection) error {
		if err := c.call(ctx, conn, worker.OpFindRoots, nil); err != nil {
			return err
		}
		entries, err := wire.ReadMap(conn.Reader,
			func(r *wire.Reader) (string, error) { return r.ReadString() },
			worker.ReadStorePath,
		)
		if err != nil {
			return classifyIOError(err)
		}
		result = make(map[string]worker.StorePath, len(entries))
		for _, e := range entries {
			result[e.Key] = e.Value
		}
		return nil
	})
	return result, err
}

// GCResult is the reply to CollectGarbage: the paths it deleted (or,
// for GCReturnLive/GCReturnDead, the paths it identified) and bytes
// freed.
type GCResult struct {
	DeletedPaths []worker.StorePath
	BytesFreed   uint64
}

// CollectGarbage runs the garbage collector per opts.Action. Three
// trailing obsolete zeros follow the real arguments on the wire —
// fields the reference daemon's argument list still carries even
// though nothing reads them (spec.md §9) — and must not be dropped.
// On success this Client's path-info cache is invalidated, since
// entries for deleted paths (or paths whose liveness just changed)
// can no longer be trusted.
func (c *Client) CollectGarbage(ctx context.Context, opts worker.GCOptions) (GCResult, error) {
	var result GCResult
	err := c.withConnection(ctx, func(conn *storeconn.Connection) error {
		if err := c.call(ctx, conn, worker.OpCollectGarbage, func(w *wire.Writer) error {
			if err := w.WriteUint64(uint64(opts.Action)); err != nil {
				return err
			}
			if err := worker.WriteStorePathSet(w, opts.PathsToDelete); err != nil {
				return err
			}
			if err := w.WriteBool(opts.IgnoreLiveness); err != nil {
				return err
			}
			if err := w.WriteUint64(opts.MaxFreedBytes); err != nil {
				return err
			}
			// obsolete trailing fields, preserved literally.
			for i := 0; i < 3; i++ {
				if err := w.WriteUint64(0); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return err
		}
		paths, err := worker.ReadStorePathSet(conn.Reader)
		if err != nil {
			return classifyIOError(err)
		}
		freed, err := conn.Reader.ReadUint64()
		if err != nil {
			return classifyIOError(err)
		}
		if _, err := conn.Reader.ReadUint64(); err != nil { // obsolete
			return classifyIOError(err)
		}
		result = GCResult{DeletedPaths: paths, BytesFreed: freed}
		return nil
	})
	if err == nil {
		c.cache.invalidateAll()
	}
	return result, err
}

// OptimiseStore deduplicates identical file content across the store
// via hardlinking.
func (c *Client) OptimiseStore(ctx context.Context) error {
	return c.withConnection(ctx, func(conn *storeconn.Connection) error {
		if err := c.call(ctx, conn, worker.OpOptimiseStore, nil); err != nil {
			return err
		}
		_, err := conn.Reader.ReadUint64()
		return classifyIOError(err)
	})
}

// VerifyStore checks store consistency, optionally repairing what it
// can, and reports whether uncorrectable errors remain.
func (c *Client) VerifyStore(ctx context.Context, checkContents, repair bool) (bool, error) {
	var errorsRemain bool
	err := c.withConnection(ctx, func(conn *storeconn.Connection) error {
		if err := c.call(ctx, conn, worker.OpVerifyStore, func(w *wire.Writer) error {
			if err := w.WriteBool(checkContents); err != nil {
				return err
			}
			return w.WriteBool(repair)
		}); err != nil {
			return err
		}
		v, err := conn.Reader.ReadBool()
		if err != nil {
			return classifyIOError(err)
		}
		errorsRemain = v
		return nil
	})
	return errorsRemain, err
}

// NarFromPath streams path's NAR representation into dst. The bytes
// arrive as Write frames on the stderr demultiplexer while the
// request is outstanding (spec.md §4.4), not as a FramedSink payload
// — this is the response-streaming direction, the mirror image of
// AddToStoreNar's request-streaming one.
func (c *Client) NarFromPath(ctx context.Context, path worker.StorePath, dst io.Writer) error {
	return c.withConnection(ctx, func(conn *storeconn.Connection) error {
		if err := worker.OpNarFromPath.CheckSupported(conn.NegotiatedMinor); err != nil {
			return err
		}
		if err := conn.Writer.WriteUint64(uint64(worker.OpNarFromPath)); err != nil {
			return classifyIOError(err)
		}
		if err := worker.WriteStorePath(conn.Writer, path); err != nil {
			return classifyIOError(err)
		}
		if err := conn.Writer.Flush(); err != nil {
			return classifyIOError(err)
		}
		captured, err := worker.ProcessStderr(ctx, conn.Reader, conn.Writer, conn.NegotiatedMinor, c.logger, worker.FrameIO{Sink: dst})
		if err != nil {
			return err
		}
		if captured != nil {
			return worker.RemoteErrorFrom(conn.NegotiatedMinor, *captured)
		}
		return nil
	})
}
