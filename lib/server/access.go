// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"fmt"
	"net"
	"os/user"
	"strconv"

	"github.com/al-berger/regd/lib/config"
	"github.com/al-berger/regd/lib/failure"
)

// publicReadCommands are allowed to anyone at the public-read level.
var publicReadCommands = map[string]bool{
	"check":   true,
	"version": true,
	"ls":      true,
	"get":     true,
	"exists":  true,
	"getattr": true,
}

// secureCommands are allowed to trusted peers only, whatever the level.
var secureCommands = map[string]bool{
	"stop":               true,
	"report":             true,
	"show_log":           true,
	"add_sec":            true,
	"get_sec":            true,
	"load_file_sec":      true,
	"remove_sec":         true,
	"remove_section_sec": true,
	"clear_sec":          true,
}

// slowCommands may wait for interactive secret entry and get the long
// call timeout.
var slowCommands = map[string]bool{
	"get_sec":       true,
	"load_file_sec": true,
}

// Peer identifies the other end of a connection. UID is -1 on TCP,
// where IP is set instead.
type Peer struct {
	UID int
	PID int
	IP  net.IP
}

func (p Peer) String() string {
	if p.IP != nil {
		return p.IP.String()
	}
	return fmt.Sprintf("uid %d", p.UID)
}

// Policy decides which peer may run which command. It is read-only
// after construction.
type Policy struct {
	level    string
	owner    int
	users    map[int]bool
	networks []*net.IPNet
}

// NewPolicy builds a policy. Users are names or numeric uids; networks
// are CIDR ranges or single addresses.
func NewPolicy(level string, owner int, users, networks []string) (*Policy, error) {
	policy := &Policy{level: level, owner: owner, users: make(map[int]bool)}
	for _, name := range users {
		uid, err := lookupUID(name)
		if err != nil {
			return nil, err
		}
		policy.users[uid] = true
	}
	for _, network := range networks {
		parsed, err := parseNetwork(network)
		if err != nil {
			return nil, err
		}
		policy.networks = append(policy.networks, parsed)
	}
	return policy, nil
}

func lookupUID(name string) (int, error) {
	if uid, err := strconv.Atoi(name); err == nil {
		return uid, nil
	}
	account, err := user.Lookup(name)
	if err != nil {
		return 0, fmt.Errorf("trusted user %q: %w", name, err)
	}
	return strconv.Atoi(account.Uid)
}

func parseNetwork(text string) (*net.IPNet, error) {
	if _, network, err := net.ParseCIDR(text); err == nil {
		return network, nil
	}
	ip := net.ParseIP(text)
	if ip == nil {
		return nil, fmt.Errorf("trusted network %q is neither an address nor a CIDR range", text)
	}
	bits := 8 * len(ip.To16())
	if ip.To4() != nil {
		ip, bits = ip.To4(), 32
	}
	return &net.IPNet{IP: ip, Mask: net.CIDRMask(bits, bits)}, nil
}

// Level returns the configured access level.
func (p *Policy) Level() string { return p.level }

// Allow returns nil when peer may run command, PermissionDenied
// otherwise.
func (p *Policy) Allow(peer Peer, command string) error {
	switch {
	case p.trusted(peer):
		return nil
	case secureCommands[command]:
	case p.level == config.AccessPublic:
		return nil
	case p.level == config.AccessPublicRead && publicReadCommands[command]:
		return nil
	}
	return failure.Errorf(failure.PermissionDenied, "%s may not run %q", peer, command)
}

// trusted reports whether peer has the owner's access: the owner
// itself, a trusted user, or an address in a trusted network. A TCP
// peer cannot be tied to a user; with no networks configured only
// loopback is trusted.
func (p *Policy) trusted(peer Peer) bool {
	if peer.IP != nil {
		if len(p.networks) == 0 {
			return peer.IP.IsLoopback()
		}
		for _, network := range p.networks {
			if network.Contains(peer.IP) {
				return true
			}
		}
		return false
	}
	return peer.UID == p.owner || p.users[peer.UID]
}
