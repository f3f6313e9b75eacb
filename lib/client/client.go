// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

// Package client sends single requests to a regd server.
//
// Each call dials, writes one request, reads one response and closes
// the connection. A failed response comes back as a *failure.Error
// with the kind the server reported; a server that cannot be reached
// or does not answer in time gives ConnectionError or Timeout.
package client

import (
	"context"
	"errors"
	"net"
	"os"
	"time"

	"github.com/al-berger/regd/lib/address"
	"github.com/al-berger/regd/lib/failure"
	"github.com/al-berger/regd/lib/wire"
)

const (
	// DefaultTimeout bounds an ordinary call.
	DefaultTimeout = 5 * time.Second

	// DefaultSecureTimeout bounds commands that may wait for the
	// server to decrypt secure tokens interactively.
	DefaultSecureTimeout = 40 * time.Second

	maxResponseSize = 1 << 30
)

var slowCommands = map[string]bool{
	"get_sec":       true,
	"load_file_sec": true,
}

// Client calls one server.
type Client struct {
	address       address.Address
	timeout       time.Duration
	secureTimeout time.Duration
}

// New returns a client for addr with the default timeouts.
func New(addr address.Address) *Client {
	return &Client{address: addr, timeout: DefaultTimeout, secureTimeout: DefaultSecureTimeout}
}

// WithTimeouts returns a copy with different timeouts. Zero keeps the
// current value.
func (c *Client) WithTimeouts(timeout, secureTimeout time.Duration) *Client {
	copied := *c
	if timeout > 0 {
		copied.timeout = timeout
	}
	if secureTimeout > 0 {
		copied.secureTimeout = secureTimeout
	}
	return &copied
}

// Address returns the server address.
func (c *Client) Address() address.Address { return c.address }

// Call performs one request.
func (c *Client) Call(ctx context.Context, request *wire.Request) (wire.Value, error) {
	timeout := c.timeout
	if slowCommands[request.Command] {
		timeout = c.secureTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var dialer net.Dialer
	conn, err := dialer.DialContext(ctx, c.address.Network(), c.address.String())
	if err != nil {
		return nil, failure.Wrap(failure.ConnectionError, err, "server at "+c.address.String()+" is not reachable")
	}
	defer conn.Close()
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetDeadline(deadline)
	}

	if err := wire.WriteRequest(conn, request); err != nil {
		return nil, connectionFailure(err, "sending request")
	}
	response, err := wire.ReadResponse(conn, maxResponseSize)
	if err != nil {
		return nil, connectionFailure(err, "reading response")
	}
	if err := response.Err(); err != nil {
		return nil, err
	}
	return response.Value, nil
}

func connectionFailure(err error, message string) error {
	if errors.Is(err, os.ErrDeadlineExceeded) {
		return failure.Wrap(failure.Timeout, err, message)
	}
	var typed *failure.Error
	if errors.As(err, &typed) {
		return err
	}
	return failure.Wrap(failure.ConnectionError, err, message)
}

// Running reports whether a server answers at addr.
func Running(ctx context.Context, addr address.Address) bool {
	_, err := New(addr).WithTimeouts(time.Second, 0).Call(ctx, wire.NewRequest("check"))
	return err == nil || !isConnectionFailure(err)
}

func isConnectionFailure(err error) bool {
	kind := failure.KindOf(err)
	return kind == failure.ConnectionError || kind == failure.Timeout
}
