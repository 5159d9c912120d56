// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storeclient

import (
	"context"
	"log/slog"

	"github.com/tebowy/nix/lib/storeconn"
	"github.com/tebowy/nix/lib/wire"
	"github.com/tebowy/nix/lib/worker"
)

// IsValidPath reports whether path is present and valid in the store.
func (c *Client) IsValidPath(ctx context.Context, path worker.StorePath) (bool, error) {
	var valid bool
	err := c.withConnection(ctx, func(conn *storeconn.Connection) error {
		if err := c.call(ctx, conn, worker.OpIsValidPath, func(w *wire.Writer) error {
			return worker.WriteStorePath(w, path)
		}); err != nil {
			return err
		}
		v, err := conn.Reader.ReadBool()
		if err != nil {
			return classifyIOError(err)
		}
		valid = v
		return nil
	})
	return valid, err
}

// QueryValidPaths filters candidates down to the subset that is
// valid. maybeSubstitute tells the daemon it may consult
// substituters when deciding validity; it is only meaningful, and
// only written to the wire, at negotiated minor >= 27.
func (c *Client) QueryValidPaths(ctx context.Context, candidates []worker.StorePath, maybeSubstitute bool) ([]worker.StorePath, error) {
	var result []worker.StorePath
	err := c.withConnection(ctx, func(conn *storeconn.Connection) error {
		if err := c.call(ctx, conn, worker.OpQueryValidPaths, func(w *wire.Writer) error {
			if err := worker.WriteStorePathSet(w, candidates); err != nil {
				return err
			}
			if conn.NegotiatedMinor >= 27 {
				return w.WriteBool(maybeSubstitute)
			}
			return nil
		}); err != nil {
			return err
		}
		paths, err := worker.ReadStorePathSet(conn.Reader)
		if err != nil {
			return classifyIOError(err)
		}
		result = paths
		return nil
	})
	return result, err
}

// QueryAllValidPaths returns every valid path in the store. Expensive
// on a large store; offered for completeness with the daemon's own
// operation of the same name.
func (c *Client) QueryAllValidPaths(ctx context.Context) ([]worker.StorePath, error) {
	var result []worker.StorePath
	err := c.withConnection(ctx, func(conn *storeconn.Connection) error {
		if err := c.call(ctx, conn, worker.OpQueryAllValidPaths, nil); err != nil {
			return err
		}
		paths, err := worker.ReadStorePathSet(conn.Reader)
		if err != nil {
			return classifyIOError(err)
		}
		result = paths
		return nil
	})
	return result, err
}

// QuerySubstitutablePaths filters candidates down to the subset that
// some configured substituter can provide.
func (c *Client) QuerySubstitutablePaths(ctx context.Context, candidates []worker.StorePath) ([]worker.StorePath, error) {
	var result []worker.StorePath
	err := c.withConnection(ctx, func(conn *storeconn.Connection) error {
		if err := c.call(ctx, conn, worker.OpQuerySubstitutablePaths, func(w *wire.Writer) error {
			return worker.WriteStorePathSet(w, candidates)
		}); err != nil {
			return err
		}
		paths, err := worker.ReadStorePathSet(conn.Reader)
		if err != nil {
			return classifyIOError(err)
		}
		result = paths
		return nil
	})
	return result, err
}

// SubstitutablePathInfo is one entry of QuerySubstitutablePathInfos's
// reply: a path a substituter can provide, and what it would cost.
type SubstitutablePathInfo struct {
	Path       worker.StorePath
	Deriver    worker.StorePath
	References []worker.StorePath
	DownloadSize, NARSize uint64
}

func readSubstitutablePathInfo(r *wire.Reader, path worker.StorePath) (SubstitutablePathInfo, error) {
	hasDeriver, err := r.ReadBool()
	if err != nil {
		return SubstitutablePathInfo{}, err
	}
	var deriver worker.StorePath
	if hasDeriver {
		deriver, err = worker.ReadStorePath(r)
		if err != nil {
			return SubstitutablePathInfo{}, err
		}
	}
	refs, err := worker.ReadStorePathSet(r)
	if err != nil {
		return SubstitutablePathInfo{}, err
	}
	downloadSize, err := r.ReadUint64()
	if err != nil {
		return SubstitutablePathInfo{}, err
	}
	narSize, err := r.ReadUint64()
	if err != nil {
		return SubstitutablePathInfo{}, err
	}
	return SubstitutablePathInfo{Path: path, Deriver: deriver, References: refs, DownloadSize: downloadSize, NARSize: narSize}, nil
}

// QuerySubstitutablePathInfos asks what a substituter would provide
// for each of paths. Before negotiated minor 22 the request carries a
// plain StorePath set; from 22 it carries a map from path to an
// optional content address, per spec.md §4.3(b).
func (c *Client) QuerySubstitutablePathInfos(ctx context.Context, paths map[worker.StorePath]*worker.ContentAddress) ([]SubstitutablePathInfo, error) {
	var result []SubstitutablePathInfo
	err := c.withConnection(ctx, func(conn *storeconn.Connection) error {
		err := c.call(ctx, conn, worker.OpQuerySubstitutablePathInfos, func(w *wire.Writer) error {
			if conn.NegotiatedMinor < 22 {
				plain := make([]worker.StorePath, 0, len(paths))
				for p := range paths {
					plain = append(plain, p)
				}
				return worker.WriteStorePathSet(w, plain)
			}
			entries := make([]wire.MapEntry[worker.StorePath, *worker.ContentAddress], 0, len(paths))
			for p, ca := range paths {
				entries = append(entries, wire.MapEntry[worker.StorePath, *worker.ContentAddress]{Key: p, Value: ca})
			}
			return wire.WriteMap(w, entries,
				worker.WriteStorePath,
				func(w *wire.Writer, ca *worker.ContentAddress) error {
					if ca == nil {
						return w.WriteBool(false)
					}
					if err := w.WriteBool(true); err != nil {
						return err
					}
					return worker.WriteContentAddress(w, *ca)
				},
			)
		})
		if err != nil {
			return err
		}

		count, err := conn.Reader.ReadUint64()
		if err != nil {
			return classifyIOError(err)
		}
		for i := uint64(0); i < count; i++ {
			path, err := worker.ReadStorePath(conn.Reader)
			if err != nil {
				return classifyIOError(err)
			}
			info, err := readSubstitutablePathInfo(conn.Reader, path)
			if err != nil {
				return classifyIOError(err)
			}
			result = append(result, info)
		}
		return nil
	})
	return result, err
}

// QueryPathInfo fetches a path's ValidPathInfo, consulting and
// populating this Client's path-info cache first.
func (c *Client) QueryPathInfo(ctx context.Context, path worker.StorePath) (worker.ValidPathInfo, error) {
	if info, ok := c.cache.get(path); ok {
		return info, nil
	}

	var info worker.ValidPathInfo
	err := c.withConnection(ctx, func(conn *storeconn.Connection) error {
		if err := c.call(ctx, conn, worker.OpQueryPathInfo, func(w *wire.Writer) error {
			return worker.WriteStorePath(w, path)
		}); err != nil {
			return err
		}
		found, err := conn.Reader.ReadBool()
		if err != nil {
			return classifyIOError(err)
		}
		if !found {
			return nil
		}
		decoded, err := worker.ReadValidPathInfo(conn.Reader, path)
		if err != nil {
			return classifyIOError(err)
		}
		info = decoded
		return nil
	})
	if err == nil && !info.Path.Empty() {
		c.cache.put(info)
	}
	return info, err
}

// VerifyPathInfo verifies info's signatures against the client's
// configured trusted keys, returning the subset of key names that
// validated.
func (c *Client) VerifyPathInfo(info worker.ValidPathInfo) []string {
	return worker.VerifySignatures(info, c.trustedKeys)
}

// QueryReferrers returns every valid path that references path.
func (c *Client) QueryReferrers(ctx context.Context, path worker.StorePath) ([]worker.StorePath, error) {
	var result []worker.StorePath
	err := c.withConnection(ctx, func(conn *storeconn.Connection) error {
		if err := c.call(ctx, conn, worker.OpQueryReferrers, func(w *wire.Writer) error {
			return worker.WriteStorePath(w, path)
		}); err != nil {
			return err
		}
		paths, err := worker.ReadStorePathSet(conn.Reader)
		if err != nil {
			return classifyIOError(err)
		}
		result = paths
		return nil
	})
	return result, err
}

// QueryValidDerivers returns every valid deriver of path.
func (c *Client) QueryValidDerivers(ctx context.Context, path worker.StorePath) ([]worker.StorePath, error) {
	var result []worker.StorePath
	err := c.withConnection(ctx, func(conn *storeconn.Connection) error {
		if err := c.call(ctx, conn, worker.OpQueryValidDerivers, func(w *wire.Writer) error {
			return worker.WriteStorePath(w, path)
		}); err != nil {
			return err
		}
		paths, err := worker.ReadStorePathSet(conn.Reader)
		if err != nil {
			return classifyIOError(err)
		}
		result = paths
		return nil
	})
	return result, err
}

// QueryDerivationOutputs returns every output path of a derivation.
func (c *Client) QueryDerivationOutputs(ctx context.Context, drvPath worker.StorePath) ([]worker.StorePath, error) {
	var result []worker.StorePath
	err := c.withConnection(ctx, func(conn *storeconn.Connection) error {
		if err := c.call(ctx, conn, worker.OpQueryDerivationOutputs, func(w *wire.Writer) error {
			return worker.WriteStorePath(w, drvPath)
		}); err != nil {
			return err
		}
		paths, err := worker.ReadStorePathSet(conn.Reader)
		if err != nil {
			return classifyIOError(err)
		}
		result = paths
		return nil
	})
	return result, err
}

// DerivationOutputMap returns the name->path map for a derivation's
// outputs. static is the evaluator-known map (possibly incomplete for
// content-addressed outputs not yet built); at negotiated minor >= 22
// the daemon's own map is unioned in, per spec.md §9's Open Question
// resolution: a dynamic entry wins whenever present, including when
// its value is nil, which is NOT treated as absent.
func (c *Client) DerivationOutputMap(ctx context.Context, drvPath worker.StorePath, static map[string]*worker.StorePath) (map[string]*worker.StorePath, error) {
	result := make(map[string]*worker.StorePath, len(static))
	for name, path := range static {
		result[name] = path
	}

	err := c.withConnection(ctx, func(conn *storeconn.Connection) error {
		if err := worker.OpQueryDerivationOutputMap.CheckSupported(conn.NegotiatedMinor); err != nil {
			// pre-22 daemons have no dynamic map to union; the static
			// map alone is the answer.
			return nil
		}
		if err := c.call(ctx, conn, worker.OpQueryDerivationOutputMap, func(w *wire.Writer) error {
			return worker.WriteStorePath(w, drvPath)
		}); err != nil {
			return err
		}
		entries, err := wire.ReadMap(conn.Reader,
			func(r *wire.Reader) (string, error) { return r.ReadString() },
			func(r *wire.Reader) (*worker.StorePath, error) {
				present, err := r.ReadBool()
				if err != nil {
					return nil, err
				}
				if !present {
					return nil, nil
				}
				p, err := worker.ReadStorePath(r)
				if err != nil {
					return nil, err
				}
				return &p, nil
			},
		)
		if err != nil {
			return classifyIOError(err)
		}
		for _, e := range entries {
			result[e.Key] = e.Value // dynamic always wins, nil included
		}
		return nil
	})
	return result, err
}

// QueryPathFromHashPart resolves a store path by its hash component
// alone, returning worker.StorePath{} if no valid path has that hash.
func (c *Client) QueryPathFromHashPart(ctx context.Context, hashPart string) (worker.StorePath, error) {
	var result worker.StorePath
	err := c.withConnection(ctx, func(conn *storeconn.Connection) error {
		if err := c.call(ctx, conn, worker.OpQueryPathFromHashPart, func(w *wire.Writer) error {
			return w.WriteString(hashPart)
		}); err != nil {
			return err
		}
		s, err := conn.Reader.ReadString()
		if err != nil {
			return classifyIOError(err)
		}
		if s != "" {
			result = worker.NewStorePath(s)
		}
		return nil
	})
	return result, err
}

// MissingInfo is the reply shape of QueryMissing: what would need to
// be built or downloaded to realise the requested paths.
type MissingInfo struct {
	WillBuild     []worker.StorePath
	WillSubstitute []worker.StorePath
	Unknown       []worker.StorePath
	DownloadSize, NARSize uint64
}

// QueryMissing reports what is missing to realise targets.
func (c *Client) QueryMissing(ctx context.Context, targets []worker.DerivedPath) (MissingInfo, error) {
	var result MissingInfo
	err := c.withConnection(ctx, func(conn *storeconn.Connection) error {
		if err := c.call(ctx, conn, worker.OpQueryMissing, func(w *wire.Writer) error {
			return wire.WriteSequence(w, targets, worker.WriteDerivedPath)
		}); err != nil {
			return err
		}
		var err error
		if result.WillBuild, err = worker.ReadStorePathSet(conn.Reader); err != nil {
			return classifyIOError(err)
		}
		if result.WillSubstitute, err = worker.ReadStorePathSet(conn.Reader); err != nil {
			return classifyIOError(err)
		}
		if result.Unknown, err = worker.ReadStorePathSet(conn.Reader); err != nil {
			return classifyIOError(err)
		}
		if result.DownloadSize, err = conn.Reader.ReadUint64(); err != nil {
			return classifyIOError(err)
		}
		if result.NARSize, err = conn.Reader.ReadUint64(); err != nil {
			return classifyIOError(err)
		}
		return nil
	})
	return result, err
}

// QueryRealisation resolves a content-addressed derivation output to
// its realisation. Before negotiated minor 27 the daemon has no
// notion of realisations at all: per spec.md §4.3(b)(ii) and scenario
// S6, this returns (nil, nil) with a warning logged, and never writes
// the opcode.
func (c *Client) QueryRealisation(ctx context.Context, id worker.DrvOutput) (*worker.Realisation, error) {
	var result *worker.Realisation
	err := c.withConnection(ctx, func(conn *storeconn.Connection) error {
		if err := worker.OpQueryRealisation.CheckSupported(conn.NegotiatedMinor); err != nil {
			c.logger.Log(ctx, slog.LevelWarn, "QueryRealisation not supported by this daemon, returning no realisation",
				slog.Int("minor", int(conn.NegotiatedMinor)))
			return nil
		}
		if err := c.call(ctx, conn, worker.OpQueryRealisation, func(w *wire.Writer) error {
			return worker.WriteDrvOutput(w, id)
		}); err != nil {
			return err
		}
		found, err := conn.Reader.ReadBool()
		if err != nil {
			return classifyIOError(err)
		}
		if !found {
			return nil
		}
		r, err := worker.ReadRealisation(conn.Reader)
		if err != nil {
			return classifyIOError(err)
		}
		result = &r
		return nil
	})
	return result, err
}

