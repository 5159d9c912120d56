// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storeconn

import (
	"context"
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tebowy/nix/lib/clock"
	"github.com/tebowy/nix/lib/worker"
)

func newFakeConnection(t *testing.T, fake *clock.FakeClock) *Connection {
	t.Helper()
	client, server := net.Pipe()
	t.Cleanup(func() { client.Close(); server.Close() })
	return newConnection(client, fake, worker.HandshakeResult{NegotiatedMinor: 35})
}

func TestPoolAcquireReleaseReuse(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	var built int32

	pool := New(Config{
		MaxConnections: 1,
		Clock:          fake,
		Factory: func(ctx context.Context) (*Connection, error) {
			atomic.AddInt32(&built, 1)
			return newFakeConnection(t, fake), nil
		},
	})

	conn, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	pool.Release(conn)

	conn2, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("second Acquire: %v", err)
	}
	pool.Release(conn2)

	if built != 1 {
		t.Errorf("factory invoked %d times, want 1 (idle connection should have been reused)", built)
	}
}

func TestPoolEvictsAgedConnection(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	var built int32

	pool := New(Config{
		MaxConnections:   1,
		MaxConnectionAge: 10 * time.Second,
		Clock:            fake,
		Factory: func(ctx context.Context) (*Connection, error) {
			atomic.AddInt32(&built, 1)
			return newFakeConnection(t, fake), nil
		},
	})

	conn, _ := pool.Acquire(context.Background())
	pool.Release(conn)

	fake.Advance(11 * time.Second)

	if _, err := pool.Acquire(context.Background()); err != nil {
		t.Fatalf("Acquire after aging: %v", err)
	}
	if built != 2 {
		t.Errorf("factory invoked %d times, want 2 (aged connection should be discarded)", built)
	}
}

func TestPoolLatchesFailure(t *testing.T) {
	wantErr := errors.New("dial refused")
	var attempts int32
	pool := New(Config{
		MaxConnections: 1,
		Factory: func(ctx context.Context) (*Connection, error) {
			atomic.AddInt32(&attempts, 1)
			return nil, wantErr
		},
	})

	_, err := pool.Acquire(context.Background())
	if err == nil {
		t.Fatal("expected the first Acquire to fail")
	}
	kind, ok := worker.KindOf(err)
	if !ok || kind != worker.KindPoolFailed {
		t.Fatalf("expected KindPoolFailed, got kind=%v ok=%v", kind, ok)
	}

	if _, err := pool.Acquire(context.Background()); err == nil {
		t.Fatal("expected the second Acquire to also fail")
	}
	if attempts != 1 {
		t.Errorf("factory invoked %d times after latching, want 1 (factory must not run again)", attempts)
	}
}

func TestPoolBoundedConcurrency(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	pool := New(Config{
		MaxConnections: 1,
		Clock:          fake,
		Factory: func(ctx context.Context) (*Connection, error) {
			return newFakeConnection(t, fake), nil
		},
	})

	first, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	secondAcquired := make(chan *Connection, 1)
	go func() {
		conn, err := pool.Acquire(context.Background())
		if err != nil {
			t.Errorf("second Acquire: %v", err)
			return
		}
		secondAcquired <- conn
	}()

	select {
	case <-secondAcquired:
		t.Fatal("second Acquire returned before the first was released")
	case <-time.After(100 * time.Millisecond):
	}

	stats := pool.Stats()
	if stats.Outstanding+stats.Idle > pool.cfg.MaxConnections+stats.ExtraCapacity {
		t.Errorf("pool bound violated: %+v", stats)
	}

	pool.Release(first)

	select {
	case <-secondAcquired:
	case <-time.After(2 * time.Second):
		t.Fatal("second Acquire never unblocked after release")
	}
}

func TestPoolIncCapacityAllowsReentrantAcquire(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	pool := New(Config{
		MaxConnections: 1,
		Clock:          fake,
		Factory: func(ctx context.Context) (*Connection, error) {
			return newFakeConnection(t, fake), nil
		},
	})

	outer, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("outer Acquire: %v", err)
	}

	pool.IncCapacity()
	defer pool.DecCapacity()

	var wg sync.WaitGroup
	wg.Add(1)
	var innerErr error
	go func() {
		defer wg.Done()
		_, innerErr = pool.Acquire(context.Background())
	}()

	wg.Wait()
	if innerErr != nil {
		t.Fatalf("inner Acquire with extra capacity: %v", innerErr)
	}

	_ = outer
}

func TestPoolCloseRejectsAcquireAndDiscardsLateRelease(t *testing.T) {
	fake := clock.Fake(time.Unix(0, 0))
	pool := New(Config{
		MaxConnections: 1,
		Clock:          fake,
		Factory: func(ctx context.Context) (*Connection, error) {
			return newFakeConnection(t, fake), nil
		},
	})

	conn, err := pool.Acquire(context.Background())
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}

	pool.Close()

	// A connection borrowed before Close and released after it must not
	// resurface as reusable idle state.
	pool.Release(conn)
	if stats := pool.Stats(); stats.Idle != 0 {
		t.Errorf("Idle = %d after Release following Close, want 0", stats.Idle)
	}

	if _, err := pool.Acquire(context.Background()); err == nil {
		t.Fatal("Acquire after Close: got nil error, want poolClosedError")
	}
}
