// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storeclient

import (
	"context"

	"github.com/tebowy/nix/lib/storeconn"
	"github.com/tebowy/nix/lib/wire"
	"github.com/tebowy/nix/lib/worker"
)

// BuildPaths realises targets, failing the call if any of them fails
// to build or substitute. It reports only success or failure (via the
// captured RemoteError, if any) — no per-path detail. Use
// BuildPathsWithResults for that.
func (c *Client) BuildPaths(ctx context.Context, targets []worker.DerivedPath, mode worker.BuildMode) error {
	return c.withConnection(ctx, func(conn *storeconn.Connection) error {
		if err := c.call(ctx, conn, worker.OpBuildPaths, func(w *wire.Writer) error {
			if err := wire.WriteSequence(w, targets, worker.WriteDerivedPath); err != nil {
				return err
			}
			return w.WriteUint64(uint64(mode))
		}); err != nil {
			return err
		}
		_, err := conn.Reader.ReadUint64()
		return classifyIOError(err)
	})
}

// DerivedPathResult pairs a requested target with its outcome.
type DerivedPathResult struct {
	Path   worker.DerivedPath
	Result worker.BuildResult
}

// BuildPathsWithResults realises targets and returns one BuildResult
// per target. At negotiated minor >= 34 the daemon reports this
// directly. Below 34 it falls back to BuildPaths and synthesizes a
// BuildBuilt result for every target on success — the old protocol
// has no way to report anything more specific than overall
// success/failure for a batch (spec.md §4.7); on failure the
// synthesized call returns the same RemoteError BuildPaths raised,
// with no per-path results at all.
func (c *Client) BuildPathsWithResults(ctx context.Context, targets []worker.DerivedPath, mode worker.BuildMode) ([]DerivedPathResult, error) {
	var results []DerivedPathResult

	err := c.withConnection(ctx, func(conn *storeconn.Connection) error {
		if err := worker.OpBuildPathsWithResults.CheckSupported(conn.NegotiatedMinor); err != nil {
			if buildErr := c.buildPathsOnConn(ctx, conn, targets, mode); buildErr != nil {
				return buildErr
			}
			results = make([]DerivedPathResult, len(targets))
			for i, t := range targets {
				results[i] = DerivedPathResult{Path: t, Result: worker.BuildResult{Status: worker.BuildBuilt}}
			}
			return nil
		}

		if err := c.call(ctx, conn, worker.OpBuildPathsWithResults, func(w *wire.Writer) error {
			if err := wire.WriteSequence(w, targets, worker.WriteDerivedPath); err != nil {
				return err
			}
			return w.WriteUint64(uint64(mode))
		}); err != nil {
			return err
		}

		decoded, err := wire.ReadSequence(conn.Reader, worker.ReadBuildResult)
		if err != nil {
			return classifyIOError(err)
		}
		results = make([]DerivedPathResult, len(decoded))
		for i, r := range decoded {
			path := worker.DerivedPath{}
			if i < len(targets) {
				path = targets[i]
			}
			results[i] = DerivedPathResult{Path: path, Result: r}
		}
		return nil
	})
	return results, err
}

func (c *Client) buildPathsOnConn(ctx context.Context, conn *storeconn.Connection, targets []worker.DerivedPath, mode worker.BuildMode) error {
	if err := c.call(ctx, conn, worker.OpBuildPaths, func(w *wire.Writer) error {
		if err := wire.WriteSequence(w, targets, worker.WriteDerivedPath); err != nil {
			return err
		}
		return w.WriteUint64(uint64(mode))
	}); err != nil {
		return err
	}
	_, err := conn.Reader.ReadUint64()
	return classifyIOError(err)
}

// BuildDerivation builds a single derivation supplied inline (rather
// than by referencing an already-registered .drv path) and returns
// its BuildResult.
func (c *Client) BuildDerivation(ctx context.Context, drvPath worker.StorePath, drv worker.Derivation, mode worker.BuildMode) (worker.BuildResult, error) {
	var result worker.BuildResult
	err := c.withConnection(ctx, func(conn *storeconn.Connection) error {
		if err := c.call(ctx, conn, worker.OpBuildDerivation, func(w *wire.Writer) error {
			if err := worker.WriteStorePath(w, drvPath); err != nil {
				return err
			}
			if err := worker.WriteDerivation(w, drv); err != nil {
				return err
			}
			return w.WriteUint64(uint64(mode))
		}); err != nil {
			return err
		}
		decoded, err := worker.ReadBuildResult(conn.Reader)
		if err != nil {
			return classifyIOError(err)
		}
		result = decoded
		return nil
	})
	return result, err
}

// EnsurePath makes path valid, building or substituting it if
// necessary, without returning any build detail.
func (c *Client) EnsurePath(ctx context.Context, path worker.StorePath) error {
	return c.withConnection(ctx, func(conn *storeconn.Connection) error {
		if err := c.call(ctx, conn, worker.OpEnsurePath, func(w *wire.Writer) error {
			return worker.WriteStorePath(w, path)
		}); err != nil {
			return err
		}
		_, err := conn.Reader.ReadUint64()
		return classifyIOError(err)
	})
}
