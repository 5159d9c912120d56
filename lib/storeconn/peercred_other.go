// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package storeconn

import "fmt"

// PeerCredentials is the Unix peer identity of the process on the
// other end of a dialed AF_UNIX connection. SO_PEERCRED is
// Linux-specific; on other platforms PeerCredentials always returns
// an error saying peer credentials are not supported.
type PeerCredentials struct {
	PID int32
	UID uint32
	GID uint32
}

func (c *Connection) PeerCredentials() (PeerCredentials, error) {
	return PeerCredentials{}, fmt.Errorf("storeconn: peer credentials are not supported on this platform")
}
