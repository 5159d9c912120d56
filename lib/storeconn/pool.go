// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storeconn

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/tebowy/nix/lib/clock"
	"github.com/tebowy/nix/lib/worker"
)

// Factory dials and hands-shakes a new Connection. Pool calls this at
// most once per construction attempt; a failure latches the whole
// pool (spec.md §4.6, §8 property 6).
type Factory func(ctx context.Context) (*Connection, error)

// Config parametrises a Pool.
type Config struct {
	// MaxConnections is the pool's base size; must be >= 1.
	MaxConnections int
	// MaxConnectionAge bounds how long an idle Connection remains
	// eligible for reuse before Acquire discards it in favor of a
	// freshly dialed one.
	MaxConnectionAge time.Duration
	Factory          Factory
	// Clock defaults to clock.Real() when nil.
	Clock clock.Clock
	// Logger defaults to a discarding logger when nil.
	Logger *slog.Logger
}

// Pool is the bounded, reusable, failure-aware connection pool from
// spec.md §4.6. It is a process-wide singleton per remote-store URI in
// the original design; this type itself is just the mechanism, one
// per construction.
type Pool struct {
	cfg  Config
	clk  clock.Clock
	log  *slog.Logger

	mu            sync.Mutex
	cond          *sync.Cond
	idle          []*Connection
	outstanding   int
	extraCapacity int
	failed        bool
	failedErr     error
	closed        bool
}

// New constructs a Pool. Panics if cfg.MaxConnections < 1 or
// cfg.Factory is nil — these are programming errors, not runtime
// conditions a caller should need to handle.
func New(cfg Config) *Pool {
	if cfg.MaxConnections < 1 {
		panic("storeconn: MaxConnections must be >= 1")
	}
	if cfg.Factory == nil {
		panic("storeconn: Factory must not be nil")
	}
	if cfg.Clock == nil {
		cfg.Clock = clock.Real()
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.New(slog.NewTextHandler(io.Discard, nil))
	}
	p := &Pool{cfg: cfg, clk: cfg.Clock, log: cfg.Logger}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// poolFailedError is returned by every Acquire once the pool has
// latched failed, per spec.md §8 property 6.
func poolFailedError(cause error) error {
	return worker.Wrap(worker.KindPoolFailed, cause, "pool previously failed")
}

// poolClosedError is returned by every Acquire once Close has run.
func poolClosedError() error {
	return &worker.Error{Kind: worker.KindPoolFailed, Message: "pool is closed"}
}

// Acquire returns a Connection per spec.md §4.6's three-step
// algorithm: reuse a valid idle connection, else construct a new one
// if under capacity, else block for a release. ctx cancellation while
// blocked returns ctx.Err() itself, unwrapped; it does not affect
// other waiters.
func (p *Pool) Acquire(ctx context.Context) (*Connection, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failed {
		return nil, poolFailedError(p.failedErr)
	}
	if p.closed {
		return nil, poolClosedError()
	}

	for {
		if conn := p.popValidIdle(); conn != nil {
			p.outstanding++
			return conn, nil
		}

		if p.outstanding+len(p.idle) < p.cfg.MaxConnections+p.extraCapacity {
			p.outstanding++ // reserve a slot before releasing the lock to dial
			p.mu.Unlock()
			conn, err := p.cfg.Factory(ctx)
			p.mu.Lock()
			if err != nil {
				p.outstanding--
				p.failed = true
				p.failedErr = err
				p.cond.Broadcast()
				return nil, poolFailedError(err)
			}
			if p.closed {
				p.outstanding--
				p.cond.Broadcast()
				p.mu.Unlock()
				conn.Close()
				p.mu.Lock()
				return nil, poolClosedError()
			}
			return conn, nil
		}

		if err := ctx.Err(); err != nil {
			return nil, err
		}

		waitDone := make(chan struct{})
		go func() {
			select {
			case <-ctx.Done():
				p.mu.Lock()
				p.cond.Broadcast()
				p.mu.Unlock()
			case <-waitDone:
			}
		}()
		p.cond.Wait()
		close(waitDone)

		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if p.failed {
			return nil, poolFailedError(p.failedErr)
		}
		if p.closed {
			return nil, poolClosedError()
		}
	}
}

// popValidIdle removes and returns the first idle Connection passing
// the validity predicate (spec.md §4.6 step 1: to.good() && from.good()
// && age < maxConnectionAge), discarding and closing any it skips past
// for failing that predicate. Callers must hold p.mu.
func (p *Pool) popValidIdle() *Connection {
	for len(p.idle) > 0 {
		n := len(p.idle)
		conn := p.idle[n-1]
		p.idle = p.idle[:n-1]

		if conn.Bad() {
			go conn.Close()
			continue
		}
		if p.cfg.MaxConnectionAge > 0 && conn.Age(p.clk) >= p.cfg.MaxConnectionAge {
			go conn.Close()
			continue
		}
		return conn
	}
	return nil
}

// Release returns conn to the idle set, or closes it if the borrower
// marked it bad or the pool has been closed in the meantime, per
// spec.md §4.6's release semantics.
func (p *Pool) Release(conn *Connection) {
	p.mu.Lock()
	p.outstanding--
	keep := !conn.Bad() && !p.closed
	if keep {
		p.idle = append(p.idle, conn)
	}
	p.cond.Broadcast()
	p.mu.Unlock()

	if !keep {
		conn.Close()
	}
}

// IncCapacity grants one unit of temporary over-subscription so a
// re-entrant call (spec.md §4.6, e.g. AddToStore streaming from a
// source that is itself another store) can acquire a second
// connection without deadlocking against this borrow. Must be paired
// with DecCapacity, ideally via defer.
func (p *Pool) IncCapacity() {
	p.mu.Lock()
	p.extraCapacity++
	p.cond.Broadcast()
	p.mu.Unlock()
}

// DecCapacity releases one unit of extra capacity previously granted
// by IncCapacity.
func (p *Pool) DecCapacity() {
	p.mu.Lock()
	p.extraCapacity--
	p.mu.Unlock()
}

// Stats is a snapshot of the pool's internal counters, primarily for
// tests asserting spec.md §8 property 5 (outstanding + idle <=
// maxConnections + extraCapacity).
type Stats struct {
	Outstanding   int
	Idle          int
	ExtraCapacity int
	Failed        bool
}

func (p *Pool) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Outstanding:   p.outstanding,
		Idle:          len(p.idle),
		ExtraCapacity: p.extraCapacity,
		Failed:        p.failed,
	}
}

// Close closes every idle connection and prevents further reuse of
// anything still outstanding once it is released: subsequent Release
// calls close their connection instead of re-adding it to the idle
// set, and subsequent Acquire calls fail with poolClosedError instead
// of dialing or handing out a connection. It does not block waiting
// for outstanding borrows to return.
func (p *Pool) Close() {
	p.mu.Lock()
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.cond.Broadcast()
	p.mu.Unlock()
	for _, conn := range idle {
		conn.Close()
	}
}
