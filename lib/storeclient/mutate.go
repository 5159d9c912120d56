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

// rawWriter adapts a *wire.Writer to io.Writer via WriteRaw, for
// streaming payloads that are not framed-sink chunks (the pre-23
// AddToStoreNar raw-export path).
type rawWriter struct{ w *wire.Writer }

func (r rawWriter) Write(p []byte) (int, error) {
	if err := r.w.WriteRaw(p); err != nil {
		return 0, err
	}
	return len(p), nil
}

// AddToStore content-addresses payload under name and registers it.
// At negotiated minor >= 25 this issues the modern AddToStore
// operation directly, streaming payload through a FramedSink. Below
// 25 it emulates the call with Op::AddToStore's own pre-25 argument
// encoding for Flat/Recursive, or Op::AddTextToStore for Text
// (SPEC_FULL.md §5), releases that connection, and only then queries
// the resulting path's info through a separate pool acquire (which may
// hand back the same, now idle, connection). Not holding the first
// connection during the query is what avoids the documented
// queryPathInfo-after-addCAToStore deadlock (spec.md §4.6).
func (c *Client) AddToStore(ctx context.Context, name string, method worker.CAMethod, algo worker.CAAlgorithm, references []worker.StorePath, repair bool, payload io.Reader) (worker.ValidPathInfo, error) {
	var info worker.ValidPathInfo
	var legacyPath worker.StorePath

	err := c.withConnection(ctx, func(conn *storeconn.Connection) error {
		if err := worker.OpAddToStore.CheckSupported(conn.NegotiatedMinor); err == nil {
			return c.addToStoreModern(ctx, conn, name, method, algo, references, repair, payload, &info)
		}
		p, err := c.addToStoreLegacy(ctx, conn, name, method, algo, references, repair, payload)
		if err != nil {
			return err
		}
		legacyPath = p
		return nil
	})
	if err != nil {
		return worker.ValidPathInfo{}, err
	}

	if !legacyPath.Empty() {
		return c.QueryPathInfo(ctx, legacyPath)
	}
	return info, nil
}

func (c *Client) addToStoreModern(ctx context.Context, conn *storeconn.Connection, name string, method worker.CAMethod, algo worker.CAAlgorithm, references []worker.StorePath, repair bool, payload io.Reader, info *worker.ValidPathInfo) error {
	if err := conn.Writer.WriteUint64(uint64(worker.OpAddToStore)); err != nil {
		return classifyIOError(err)
	}
	if err := conn.Writer.WriteString(name); err != nil {
		return classifyIOError(err)
	}
	if err := conn.Writer.WriteTag(uint64(method)); err != nil {
		return classifyIOError(err)
	}
	if err := conn.Writer.WriteUint64(uint64(algo)); err != nil {
		return classifyIOError(err)
	}
	if err := worker.WriteStorePathSet(conn.Writer, references); err != nil {
		return classifyIOError(err)
	}
	if err := conn.Writer.WriteBool(repair); err != nil {
		return classifyIOError(err)
	}

	// The payload source may itself be another store call (a pull
	// re-exported as a push); reserve pool capacity for the duration so
	// that nested Acquire cannot deadlock against this held connection.
	c.pool.IncCapacity()
	defer c.pool.DecCapacity()

	captured, err := worker.RunFramed(ctx, conn.Reader, conn.Writer, conn.NegotiatedMinor, c.logger, func(sink *worker.FramedSink) error {
		if err := conn.Writer.Flush(); err != nil {
			return err
		}
		_, err := io.Copy(sink, payload)
		return err
	})
	if err != nil {
		return err
	}
	if captured != nil {
		return worker.RemoteErrorFrom(conn.NegotiatedMinor, *captured)
	}

	path, err := worker.ReadStorePath(conn.Reader)
	if err != nil {
		return classifyIOError(err)
	}
	decoded, err := worker.ReadValidPathInfo(conn.Reader, path)
	if err != nil {
		return classifyIOError(err)
	}
	*info = decoded
	return nil
}

func (c *Client) addToStoreLegacy(ctx context.Context, conn *storeconn.Connection, name string, method worker.CAMethod, algo worker.CAAlgorithm, references []worker.StorePath, repair bool, payload io.Reader) (worker.StorePath, error) {
	if method == worker.CAMethodText {
		data, err := io.ReadAll(payload)
		if err != nil {
			return worker.StorePath{}, worker.Wrap(worker.KindIO, err, "reading text payload for AddTextToStore")
		}
		if err := conn.Writer.WriteUint64(uint64(worker.OpAddTextToStore)); err != nil {
			return worker.StorePath{}, classifyIOError(err)
		}
		if err := conn.Writer.WriteString(name); err != nil {
			return worker.StorePath{}, classifyIOError(err)
		}
		if err := conn.Writer.WriteString(string(data)); err != nil {
			return worker.StorePath{}, classifyIOError(err)
		}
		if err := worker.WriteStorePathSet(conn.Writer, references); err != nil {
			return worker.StorePath{}, classifyIOError(err)
		}
		return c.finishLegacyAdd(ctx, conn)
	}

	// Flat/Recursive: emulate the pre-25 addCAToStore path, which
	// reuses Op::AddToStore itself rather than switching opcodes
	// (SPEC_FULL.md §5). Its argument list is name, an obsolete
	// backwards-compatibility flag (always false), whether the dump is
	// recursive, and the hash algorithm's name as a string — no
	// references, and no repair parameter to send it through at all.
	if repair {
		return worker.StorePath{}, worker.NewError(worker.KindUnsupported, "AddToStore: repair is not supported by daemons below protocol minor 25")
	}
	if err := conn.Writer.WriteUint64(uint64(worker.OpAddToStore)); err != nil {
		return worker.StorePath{}, classifyIOError(err)
	}
	if err := conn.Writer.WriteString(name); err != nil {
		return worker.StorePath{}, classifyIOError(err)
	}
	if err := conn.Writer.WriteBool(false); err != nil { // obsolete backwards-compat hack
		return worker.StorePath{}, classifyIOError(err)
	}
	if err := conn.Writer.WriteBool(method == worker.CAMethodRecursive); err != nil {
		return worker.StorePath{}, classifyIOError(err)
	}
	if err := conn.Writer.WriteString(algo.String()); err != nil {
		return worker.StorePath{}, classifyIOError(err)
	}
	if err := conn.Writer.Flush(); err != nil {
		return worker.StorePath{}, classifyIOError(err)
	}
	if _, err := io.Copy(rawWriter{conn.Writer}, payload); err != nil {
		return worker.StorePath{}, worker.DrainAfterBrokenPipe(ctx, conn.Reader, conn.Writer, conn.NegotiatedMinor, c.logger, err)
	}
	return c.finishLegacyAdd(ctx, conn)
}

func (c *Client) finishLegacyAdd(ctx context.Context, conn *storeconn.Connection) (worker.StorePath, error) {
	if err := conn.Writer.Flush(); err != nil {
		return worker.StorePath{}, classifyIOError(err)
	}
	captured, err := worker.ProcessStderr(ctx, conn.Reader, conn.Writer, conn.NegotiatedMinor, c.logger, worker.FrameIO{})
	if err != nil {
		return worker.StorePath{}, err
	}
	if captured != nil {
		return worker.StorePath{}, worker.RemoteErrorFrom(conn.NegotiatedMinor, *captured)
	}
	path, err := worker.ReadStorePath(conn.Reader)
	if err != nil {
		return worker.StorePath{}, classifyIOError(err)
	}
	return path, nil
}

// AddToStoreNar registers info's path by streaming its NAR
// representation directly, without content-addressing it on the
// client side. At negotiated minor >= 23 the NAR is streamed through
// a FramedSink; below that it is streamed raw, and a broken-pipe
// write failure triggers worker.DrainAfterBrokenPipe to recover the
// daemon's real explanation instead of a bare EPIPE.
func (c *Client) AddToStoreNar(ctx context.Context, info worker.ValidPathInfo, nar io.Reader, repair, dontCheckSigs bool) error {
	return c.withConnection(ctx, func(conn *storeconn.Connection) error {
		return c.addToStoreNarOnConn(ctx, conn, info, nar, repair, dontCheckSigs)
	})
}

func (c *Client) addToStoreNarOnConn(ctx context.Context, conn *storeconn.Connection, info worker.ValidPathInfo, nar io.Reader, repair, dontCheckSigs bool) error {
	if err := worker.OpAddToStoreNar.CheckSupported(conn.NegotiatedMinor); err != nil {
		return err
	}
	if err := conn.Writer.WriteUint64(uint64(worker.OpAddToStoreNar)); err != nil {
		return classifyIOError(err)
	}
	if err := worker.WriteStorePath(conn.Writer, info.Path); err != nil {
		return classifyIOError(err)
	}
	if err := worker.WriteValidPathInfo(conn.Writer, info); err != nil {
		return classifyIOError(err)
	}
	if err := conn.Writer.WriteBool(repair); err != nil {
		return classifyIOError(err)
	}
	if err := conn.Writer.WriteBool(dontCheckSigs); err != nil {
		return classifyIOError(err)
	}

	if conn.NegotiatedMinor >= 23 {
		captured, err := worker.RunFramed(ctx, conn.Reader, conn.Writer, conn.NegotiatedMinor, c.logger, func(sink *worker.FramedSink) error {
			if err := conn.Writer.Flush(); err != nil {
				return err
			}
			_, err := io.Copy(sink, nar)
			return err
		})
		if err != nil {
			return err
		}
		if captured != nil {
			return worker.RemoteErrorFrom(conn.NegotiatedMinor, *captured)
		}
		return nil
	}

	if err := conn.Writer.Flush(); err != nil {
		return classifyIOError(err)
	}
	if _, err := io.Copy(rawWriter{conn.Writer}, nar); err != nil {
		return worker.DrainAfterBrokenPipe(ctx, conn.Reader, conn.Writer, conn.NegotiatedMinor, c.logger, err)
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

// StoreNarItem is one entry of an AddMultipleToStore batch.
type StoreNarItem struct {
	Info worker.ValidPathInfo
	NAR  io.Reader
}

// AddMultipleToStore registers a batch of NAR-backed paths in one
// call. At negotiated minor >= 32 the whole batch streams through a
// single FramedSink; below that, spec.md §4.3(b) calls for emulating
// it with one AddToStoreNar per item.
func (c *Client) AddMultipleToStore(ctx context.Context, items []StoreNarItem, repair, dontCheckSigs bool) error {
	return c.withConnection(ctx, func(conn *storeconn.Connection) error {
		if err := worker.OpAddMultipleToStore.CheckSupported(conn.NegotiatedMinor); err == nil {
			return c.addMultipleToStoreModern(ctx, conn, items, repair, dontCheckSigs)
		}
		for _, item := range items {
			if err := c.addToStoreNarOnConn(ctx, conn, item.Info, item.NAR, repair, dontCheckSigs); err != nil {
				return err
			}
		}
		return nil
	})
}

func (c *Client) addMultipleToStoreModern(ctx context.Context, conn *storeconn.Connection, items []StoreNarItem, repair, dontCheckSigs bool) error {
	if err := conn.Writer.WriteUint64(uint64(worker.OpAddMultipleToStore)); err != nil {
		return classifyIOError(err)
	}
	if err := conn.Writer.WriteBool(repair); err != nil {
		return classifyIOError(err)
	}
	if err := conn.Writer.WriteBool(dontCheckSigs); err != nil {
		return classifyIOError(err)
	}

	c.pool.IncCapacity()
	defer c.pool.DecCapacity()

	captured, err := worker.RunFramed(ctx, conn.Reader, conn.Writer, conn.NegotiatedMinor, c.logger, func(sink *worker.FramedSink) error {
		if err := conn.Writer.Flush(); err != nil {
			return err
		}
		inner := wire.NewWriter(sink)
		if err := inner.WriteUint64(uint64(len(items))); err != nil {
			return err
		}
		for _, item := range items {
			if err := worker.WriteStorePath(inner, item.Info.Path); err != nil {
				return err
			}
			if err := worker.WriteValidPathInfo(inner, item.Info); err != nil {
				return err
			}
			if err := inner.Flush(); err != nil {
				return err
			}
			if _, err := io.Copy(sink, item.NAR); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if captured != nil {
		return worker.RemoteErrorFrom(conn.NegotiatedMinor, *captured)
	}
	return nil
}

// AddSignatures attaches additional signatures to an already-valid
// path.
func (c *Client) AddSignatures(ctx context.Context, path worker.StorePath, signatures []string) error {
	return c.withConnection(ctx, func(conn *storeconn.Connection) error {
		if err := c.call(ctx, conn, worker.OpAddSignatures, func(w *wire.Writer) error {
			if err := worker.WriteStorePath(w, path); err != nil {
				return err
			}
			return wire.WriteSequence(w, signatures, func(w *wire.Writer, s string) error { return w.WriteString(s) })
		}); err != nil {
			return err
		}
		_, err := conn.Reader.ReadUint64()
		return classifyIOError(err)
	})
}

// AddTempRoot registers path as a temporary GC root for the lifetime
// of this client's connection.
func (c *Client) AddTempRoot(ctx context.Context, path worker.StorePath) error {
	return c.withConnection(ctx, func(conn *storeconn.Connection) error {
		if err := c.call(ctx, conn, worker.OpAddTempRoot, func(w *wire.Writer) error {
			return worker.WriteStorePath(w, path)
		}); err != nil {
			return err
		}
		_, err := conn.Reader.ReadUint64()
		return classifyIOError(err)
	})
}

// AddBuildLog uploads the build log for path, streamed through a
// FramedSink.
func (c *Client) AddBuildLog(ctx context.Context, path worker.StorePath, log io.Reader) error {
	return c.withConnection(ctx, func(conn *storeconn.Connection) error {
		if err := worker.OpAddBuildLog.CheckSupported(conn.NegotiatedMinor); err != nil {
			return err
		}
		if err := conn.Writer.WriteUint64(uint64(worker.OpAddBuildLog)); err != nil {
			return classifyIOError(err)
		}
		if err := worker.WriteStorePath(conn.Writer, path); err != nil {
			return classifyIOError(err)
		}

		captured, err := worker.RunFramed(ctx, conn.Reader, conn.Writer, conn.NegotiatedMinor, c.logger, func(sink *worker.FramedSink) error {
			if err := conn.Writer.Flush(); err != nil {
				return err
			}
			_, err := io.Copy(sink, log)
			return err
		})
		if err != nil {
			return err
		}
		if captured != nil {
			return worker.RemoteErrorFrom(conn.NegotiatedMinor, *captured)
		}
		_, err = conn.Reader.ReadUint64()
		return classifyIOError(err)
	})
}

// RegisterDrvOutput records the realisation of a content-addressed
// derivation output. Below negotiated minor 31 only the output
// identity and resolved path are sent — the signatures/dependencies
// fields did not exist on the wire yet (spec.md §9).
func (c *Client) RegisterDrvOutput(ctx context.Context, r worker.Realisation) error {
	return c.withConnection(ctx, func(conn *storeconn.Connection) error {
		return c.call(ctx, conn, worker.OpRegisterDrvOutput, func(w *wire.Writer) error {
			if conn.NegotiatedMinor < 31 {
				if err := worker.WriteDrvOutput(w, r.ID); err != nil {
					return err
				}
				return worker.WriteStorePath(w, r.OutPath)
			}
			return worker.WriteRealisation(w, r)
		})
	})
}
