// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storeconn

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"

	"github.com/tebowy/nix/lib/clock"
	"github.com/tebowy/nix/lib/wire"
	"github.com/tebowy/nix/lib/worker"
)

// DialerConfig parametrises NewFactory.
type DialerConfig struct {
	// Network and Address are passed to net.Dial, e.g. ("unix",
	// "/var/run/daemon.sock") or ("tcp", "host:port").
	Network, Address string
	Settings         worker.Settings
	Clock             clock.Clock
	Logger            *slog.Logger
}

// NewFactory returns a Factory that dials cfg.Network/cfg.Address and
// runs the handshake (spec.md §4.2) plus SetOptions, producing a ready
// Connection. This is the factory a Pool is normally constructed
// with; tests that need a fake in-process daemon construct their own
// Factory instead.
func NewFactory(cfg DialerConfig) Factory {
	clk := cfg.Clock
	if clk == nil {
		clk = clock.Real()
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}

	return func(ctx context.Context) (*Connection, error) {
		var d net.Dialer
		netConn, err := d.DialContext(ctx, cfg.Network, cfg.Address)
		if err != nil {
			return nil, fmt.Errorf("storeconn: dial %s %s: %w", cfg.Network, cfg.Address, err)
		}

		reader := wire.NewReader(netConn)
		writer := wire.NewWriter(netConn)
		hs, err := worker.Handshake(ctx, reader, writer, logger, cfg.Settings)
		if err != nil {
			netConn.Close()
			return nil, err
		}

		conn := newConnection(netConn, clk, hs)
		return conn, nil
	}
}
