// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package storeconn

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/tebowy/nix/lib/testutil"
	"github.com/tebowy/nix/lib/wire"
	"github.com/tebowy/nix/lib/worker"
)

// serveOneHandshake accepts a single connection on l and speaks just
// enough of the worker-protocol handshake and SetOptions to satisfy
// storeconn.NewFactory's dial path.
func serveOneHandshake(t *testing.T, l net.Listener, minor uint8) {
	t.Helper()
	conn, err := l.Accept()
	if err != nil {
		return
	}
	defer conn.Close()

	r := wire.NewReader(conn)
	w := wire.NewWriter(conn)

	if _, err := r.ReadUint64(); err != nil {
		return
	}
	w.WriteUint64(worker.WorkerMagic2)
	w.WriteUint64(worker.PackVersion(worker.ProtocolMajor, minor))
	w.Flush()

	r.ReadUint64() // client version
	r.ReadUint64() // obsolete cpu affinity
	r.ReadBool()   // obsolete reserve space

	if minor >= 33 {
		w.WriteString("test-daemon")
	}
	if minor >= 35 {
		w.WriteTag(uint64(worker.TrustUnknown))
	}
	w.WriteTag(uint64(worker.StderrLast))
	w.Flush()

	r.ReadUint64() // SetOptions opcode
	for i := 0; i < 3; i++ {
		r.ReadBool() // keepFailed, keepGoing, tryFallback
	}
	r.ReadUint64() // verbosity
	r.ReadUint64() // maxBuildJobs
	r.ReadUint64() // maxSilentTime
	r.ReadBool()   // obsolete use build hook
	r.ReadUint64() // obsolete verbose build level
	r.ReadUint64() // obsolete log type
	r.ReadBool()   // obsolete print build trace
	r.ReadUint64() // buildCores
	r.ReadBool()   // useSubstitutes
	wire.ReadMap(r,
		func(r *wire.Reader) (string, error) { return r.ReadString() },
		func(r *wire.Reader) (string, error) { return r.ReadString() },
	)

	w.WriteTag(uint64(worker.StderrLast))
	w.Flush()
}

func TestFactoryDialsAndHandshakes(t *testing.T) {
	dir := testutil.SocketDir(t)
	socketPath := dir + "/daemon.sock"

	l, err := net.Listen("unix", socketPath)
	if err != nil {
		t.Fatalf("Listen: %v", err)
	}
	defer l.Close()

	go serveOneHandshake(t, l, 35)

	factory := NewFactory(DialerConfig{Network: "unix", Address: socketPath})

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	conn, err := factory(ctx)
	if err != nil {
		t.Fatalf("factory: %v", err)
	}
	defer conn.Close()

	if conn.NegotiatedMinor != 35 {
		t.Errorf("NegotiatedMinor = %d, want 35", conn.NegotiatedMinor)
	}
}
