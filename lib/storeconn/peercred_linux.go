// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux

package storeconn

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// PeerCredentials is the Unix peer identity of the process on the
// other end of a dialed AF_UNIX connection, retrieved via
// SO_PEERCRED. This is a client-side diagnostic only: it complements
// but never overrides the wire-negotiated "remote trusts us" tri-state
// from the handshake (spec.md §4.2 step 6).
type PeerCredentials struct {
	PID int32
	UID uint32
	GID uint32
}

// PeerCredentials reads the peer credentials of conn, which must wrap
// an *net.UnixConn. Returns an error on any other transport, or if the
// kernel call fails.
func (c *Connection) PeerCredentials() (PeerCredentials, error) {
	unixConn, ok := c.conn.(*net.UnixConn)
	if !ok {
		return PeerCredentials{}, fmt.Errorf("storeconn: peer credentials require a Unix domain socket, got %T", c.conn)
	}

	raw, err := unixConn.SyscallConn()
	if err != nil {
		return PeerCredentials{}, fmt.Errorf("storeconn: SyscallConn: %w", err)
	}

	var cred *unix.Ucred
	var credErr error
	ctrlErr := raw.Control(func(fd uintptr) {
		cred, credErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
	})
	if ctrlErr != nil {
		return PeerCredentials{}, fmt.Errorf("storeconn: Control: %w", ctrlErr)
	}
	if credErr != nil {
		return PeerCredentials{}, fmt.Errorf("storeconn: SO_PEERCRED: %w", credErr)
	}

	return PeerCredentials{PID: cred.Pid, UID: cred.Uid, GID: cred.Gid}, nil
}
