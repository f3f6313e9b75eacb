// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"io"
	"sync/atomic"
	"time"

	"github.com/al-berger/regd/lib/clock"
	"github.com/al-berger/regd/lib/failure"
	"github.com/al-berger/regd/lib/wire"
)

// DefaultLockTimeout bounds the wait for the worker channel.
const DefaultLockTimeout = 10 * time.Second

// Proxy sends requests to the worker one at a time. It is safe for
// concurrent use.
type Proxy struct {
	conn        io.ReadWriter
	lock        chan struct{}
	lockTimeout time.Duration
	clock       clock.Clock
	limit       int

	// broken is set after a transport error; the stream position is
	// unknown from then on.
	broken atomic.Bool
}

// NewProxy returns a Proxy over conn. A zero lockTimeout means
// DefaultLockTimeout.
func NewProxy(conn io.ReadWriter, lockTimeout time.Duration, clk clock.Clock) *Proxy {
	if lockTimeout <= 0 {
		lockTimeout = DefaultLockTimeout
	}
	if clk == nil {
		clk = clock.Real()
	}
	return &Proxy{
		conn:        conn,
		lock:        make(chan struct{}, 1),
		lockTimeout: lockTimeout,
		clock:       clk,
		limit:       int(^uint32(0) >> 1),
	}
}

// Call performs one round trip. Once the lock is held the round trip
// runs to completion even if ctx ends, so that the next caller finds
// the stream at a frame boundary. Its signature matches command.Handler.
func (p *Proxy) Call(ctx context.Context, request *wire.Request) (wire.Value, error) {
	select {
	case p.lock <- struct{}{}:
	case <-p.clock.After(p.lockTimeout):
		return nil, failure.Errorf(failure.Timeout, "storage is busy: %s waited %s", request.Command, p.lockTimeout)
	case <-ctx.Done():
		return nil, failure.Wrap(failure.Timeout, ctx.Err(), "waiting for storage")
	}
	defer func() { <-p.lock }()

	if p.broken.Load() {
		return nil, failure.New(failure.ConnectionError, "storage worker is not available")
	}
	if err := wire.WriteRequest(p.conn, request); err != nil {
		p.broken.Store(true)
		return nil, failure.Wrap(failure.ConnectionError, err, "sending to storage worker")
	}
	response, err := wire.ReadResponse(p.conn, p.limit)
	if err != nil {
		p.broken.Store(true)
		return nil, failure.Wrap(failure.ConnectionError, err, "reading from storage worker")
	}
	if err := response.Err(); err != nil {
		return nil, err
	}
	return response.Value, nil
}
