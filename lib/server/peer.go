// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"fmt"
	"net"

	"golang.org/x/sys/unix"
)

// peerOf identifies the peer of an accepted connection.
func peerOf(conn net.Conn) (Peer, error) {
	switch typed := conn.(type) {
	case *net.UnixConn:
		raw, err := typed.SyscallConn()
		if err != nil {
			return Peer{}, fmt.Errorf("peer credentials: %w", err)
		}
		var credentials *unix.Ucred
		var credentialsErr error
		if err := raw.Control(func(fd uintptr) {
			credentials, credentialsErr = unix.GetsockoptUcred(int(fd), unix.SOL_SOCKET, unix.SO_PEERCRED)
		}); err != nil {
			return Peer{}, fmt.Errorf("peer credentials: %w", err)
		}
		if credentialsErr != nil {
			return Peer{}, fmt.Errorf("peer credentials: %w", credentialsErr)
		}
		return Peer{UID: int(credentials.Uid), PID: int(credentials.Pid)}, nil
	}

	switch address := conn.RemoteAddr().(type) {
	case *net.TCPAddr:
		return Peer{UID: -1, IP: address.IP}, nil
	}
	return Peer{}, fmt.Errorf("unsupported connection type %T", conn)
}
