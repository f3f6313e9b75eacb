// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

// Package address derives the listening address of a regd server.
//
// A server listens either on a Unix socket or on TCP. The socket path
// of a named server is
//
//	$TMPDIR/regd-<version>/<uid>/.<name>.regd.sock
//
// where uid is the current user's, or that of "user" for a server name
// of the form "user@name". Clients use the same derivation, so a name
// is all they need to reach a server.
package address

import (
	"fmt"
	"net"
	"os"
	"os/user"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/al-berger/regd/lib/failure"
	"github.com/al-berger/regd/lib/version"
)

const (
	socketPrefix = "."
	socketSuffix = ".regd.sock"
)

// Address is a Unix socket path or a TCP host and port.
type Address struct {
	// Name is the server name without any user prefix. Empty for TCP.
	Name string

	// Path is the Unix socket path.
	Path string

	Host string
	Port int
}

// Network returns "unix" or "tcp".
func (a Address) Network() string {
	if a.Path != "" {
		return "unix"
	}
	return "tcp"
}

// String returns the dialable form: the socket path or host:port.
func (a Address) String() string {
	if a.Path != "" {
		return a.Path
	}
	return net.JoinHostPort(a.Host, strconv.Itoa(a.Port))
}

// Directory returns the directory holding the socket, or "" for TCP.
func (a Address) Directory() string {
	if a.Path == "" {
		return ""
	}
	return filepath.Dir(a.Path)
}

// TCP returns a TCP address.
func TCP(host string, port int) Address { return Address{Host: host, Port: port} }

// SplitServerName splits "user@name" into its parts. A name without
// '@' has an empty user.
func SplitServerName(server string) (owner, name string) {
	if at := strings.IndexByte(server, '@'); at >= 0 {
		return server[:at], server[at+1:]
	}
	return "", server
}

// BaseDirectory returns the per-version directory under runtimeDir,
// which defaults to os.TempDir().
func BaseDirectory(runtimeDir string) string {
	if runtimeDir == "" {
		runtimeDir = os.TempDir()
	}
	return filepath.Join(runtimeDir, "regd-"+version.Short())
}

// Unix returns the socket address of the named server. runtimeDir
// overrides os.TempDir().
func Unix(server, runtimeDir string) (Address, error) {
	owner, name := SplitServerName(server)
	if name == "" {
		return Address{}, failure.Errorf(failure.UnrecognizedParameter, "empty server name in %q", server)
	}
	if strings.ContainsAny(name, "/\x00") {
		return Address{}, failure.Errorf(failure.UnrecognizedParameter, "server name %q contains a path separator", name)
	}

	uid := strconv.Itoa(os.Getuid())
	if owner != "" {
		account, err := user.Lookup(owner)
		if err != nil {
			return Address{}, failure.Errorf(failure.NotFound, "server owner %q: %v", owner, err)
		}
		uid = account.Uid
	}
	path := filepath.Join(BaseDirectory(runtimeDir), uid, socketPrefix+name+socketSuffix)
	return Address{Name: name, Path: path}, nil
}

// SocketName returns the server name encoded in a socket file name.
func SocketName(fileName string) (string, bool) {
	name, found := strings.CutPrefix(fileName, socketPrefix)
	if !found {
		return "", false
	}
	name, found = strings.CutSuffix(name, socketSuffix)
	return name, found && name != ""
}

// Running lists the server sockets in the current user's socket
// directory, keyed by server name.
func Running(runtimeDir string) (map[string]string, error) {
	directory := filepath.Join(BaseDirectory(runtimeDir), strconv.Itoa(os.Getuid()))
	entries, err := os.ReadDir(directory)
	if os.IsNotExist(err) {
		return map[string]string{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading socket directory: %w", err)
	}
	servers := make(map[string]string)
	for _, entry := range entries {
		if entry.Type()&os.ModeSocket == 0 {
			continue
		}
		if name, ok := SocketName(entry.Name()); ok {
			servers[name] = filepath.Join(directory, entry.Name())
		}
	}
	return servers, nil
}
