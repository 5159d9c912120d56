// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/tebowy/nix/lib/wire"
)

// fakeDaemon speaks just enough of the server side of the handshake
// and SetOptions to be a useful test double: magic reply, protocol
// version, the version-gated daemon-version and trust-flag fields,
// then a bare Last frame to close out the client's stderr wait, and
// finally a Last for the SetOptions round trip.
func fakeDaemon(t *testing.T, conn net.Conn, daemonMinor uint8) {
	t.Helper()
	r := wire.NewReader(conn)
	w := wire.NewWriter(conn)

	magic1, err := r.ReadUint64()
	if err != nil {
		t.Errorf("daemon: reading magic1: %v", err)
		return
	}
	if magic1 != WorkerMagic1 {
		t.Errorf("daemon: bad magic1 %#x", magic1)
		return
	}
	if err := w.WriteUint64(WorkerMagic2); err != nil {
		t.Errorf("daemon: writing magic2: %v", err)
		return
	}
	if err := w.WriteUint64(PackVersion(ProtocolMajor, daemonMinor)); err != nil {
		t.Errorf("daemon: writing version: %v", err)
		return
	}
	if err := w.Flush(); err != nil {
		t.Errorf("daemon: flush: %v", err)
		return
	}

	if _, err := r.ReadUint64(); err != nil { // client version
		t.Errorf("daemon: reading client version: %v", err)
		return
	}
	if _, err := r.ReadUint64(); err != nil { // obsolete cpu affinity
		t.Errorf("daemon: reading cpu affinity: %v", err)
		return
	}
	if _, err := r.ReadBool(); err != nil { // obsolete reserve space
		t.Errorf("daemon: reading reserve space: %v", err)
		return
	}

	negotiated := daemonMinor
	if negotiated > ClientMinor {
		negotiated = ClientMinor
	}

	if negotiated >= 33 {
		if err := w.WriteString("test-daemon-1.0"); err != nil {
			t.Errorf("daemon: writing version string: %v", err)
			return
		}
	}
	if negotiated >= 35 {
		if err := w.WriteTag(uint64(TrustTrusted)); err != nil {
			t.Errorf("daemon: writing trust flag: %v", err)
			return
		}
	}
	if err := w.Flush(); err != nil {
		t.Errorf("daemon: flush: %v", err)
		return
	}

	// terminate the post-handshake stderr wait
	if err := w.WriteTag(uint64(StderrLast)); err != nil {
		t.Errorf("daemon: writing Last: %v", err)
		return
	}
	if err := w.Flush(); err != nil {
		t.Errorf("daemon: flush: %v", err)
		return
	}

	// consume SetOptions opcode + arguments
	if _, err := r.ReadUint64(); err != nil { // opcode
		t.Errorf("daemon: reading SetOptions opcode: %v", err)
		return
	}
	for i := 0; i < 3; i++ { // keepFailed, keepGoing, tryFallback
		if _, err := r.ReadBool(); err != nil {
			t.Errorf("daemon: reading SetOptions bool %d: %v", i, err)
			return
		}
	}
	if _, err := r.ReadUint64(); err != nil { // verbosity
		return
	}
	if _, err := r.ReadUint64(); err != nil { // maxBuildJobs
		return
	}
	if _, err := r.ReadUint64(); err != nil { // maxSilentTime
		return
	}
	if _, err := r.ReadBool(); err != nil { // obsolete use build hook
		return
	}
	if _, err := r.ReadUint64(); err != nil { // obsolete verbose build level
		return
	}
	if _, err := r.ReadUint64(); err != nil { // obsolete log type
		return
	}
	if _, err := r.ReadBool(); err != nil { // obsolete print build trace
		return
	}
	if _, err := r.ReadUint64(); err != nil { // buildCores
		return
	}
	if _, err := r.ReadBool(); err != nil { // useSubstitutes
		return
	}
	if _, err := wire.ReadMap(r,
		func(r *wire.Reader) (string, error) { return r.ReadString() },
		func(r *wire.Reader) (string, error) { return r.ReadString() },
	); err != nil {
		t.Errorf("daemon: reading overrides map: %v", err)
		return
	}

	if err := w.WriteTag(uint64(StderrLast)); err != nil {
		t.Errorf("daemon: writing SetOptions Last: %v", err)
		return
	}
	w.Flush()
}

func TestHandshakeNegotiatesMinor(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()
	defer serverConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		fakeDaemon(t, serverConn, 35)
	}()

	r := wire.NewReader(clientConn)
	w := wire.NewWriter(clientConn)

	result, err := Handshake(context.Background(), r, w, nil, Settings{KeepFailed: true})
	if err != nil {
		t.Fatalf("Handshake: %v", err)
	}
	if result.NegotiatedMinor != 35 {
		t.Errorf("NegotiatedMinor = %d, want 35", result.NegotiatedMinor)
	}
	if result.DaemonVersion != "test-daemon-1.0" {
		t.Errorf("DaemonVersion = %q, want %q", result.DaemonVersion, "test-daemon-1.0")
	}
	if result.RemoteTrustsUs != TrustTrusted {
		t.Errorf("RemoteTrustsUs = %v, want TrustTrusted", result.RemoteTrustsUs)
	}

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("fake daemon goroutine did not finish")
	}
}

func TestHandshakeRejectsBadMagic(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	go func() {
		r := wire.NewReader(serverConn)
		w := wire.NewWriter(serverConn)
		r.ReadUint64() // magic1
		w.WriteUint64(0xdeadbeef)
		w.Flush()
		serverConn.Close()
	}()

	r := wire.NewReader(clientConn)
	w := wire.NewWriter(clientConn)
	_, err := Handshake(context.Background(), r, w, nil, Settings{})
	if err == nil {
		t.Fatal("expected error for bad magic")
	}
	kind, ok := KindOf(err)
	if !ok || kind != KindProtocolError {
		t.Errorf("expected KindProtocolError, got kind=%v ok=%v (%v)", kind, ok, err)
	}
}

func TestHandshakeRejectsOldDaemon(t *testing.T) {
	clientConn, serverConn := net.Pipe()
	defer clientConn.Close()

	go func() {
		r := wire.NewReader(serverConn)
		w := wire.NewWriter(serverConn)
		r.ReadUint64()
		w.WriteUint64(WorkerMagic2)
		w.WriteUint64(PackVersion(ProtocolMajor, MinSupportedMinor-1))
		w.Flush()
		serverConn.Close()
	}()

	r := wire.NewReader(clientConn)
	w := wire.NewWriter(clientConn)
	_, err := Handshake(context.Background(), r, w, nil, Settings{})
	if err == nil {
		t.Fatal("expected error for daemon too old")
	}
	kind, ok := KindOf(err)
	if !ok || kind != KindUnsupported {
		t.Errorf("expected KindUnsupported, got kind=%v ok=%v (%v)", kind, ok, err)
	}
}
