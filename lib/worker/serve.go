// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"runtime/debug"
	"time"

	"github.com/al-berger/regd/lib/clock"
	"github.com/al-berger/regd/lib/command"
	"github.com/al-berger/regd/lib/secure"
	"github.com/al-berger/regd/lib/store"
	"github.com/al-berger/regd/lib/wire"
)

// Commands understood by the worker itself. The server issues them; they
// are not in any client-facing dispatcher.
const (
	CommandFlush = "flush"
	CommandStop  = "worker_stop"
)

// run opens the store described by config and serves conn until the
// parent stops the worker, closes the socket, or ctx ends. Startup
// failures and panics are reported on faults.
func run(ctx context.Context, config Config, conn io.ReadWriter, faults io.Writer, clk clock.Clock, logger *slog.Logger) error {
	storeConfig := store.Config{
		Datafile:       config.Datafile,
		BinDatafile:    config.BinDatafile,
		SecureFile:     config.SecureFile,
		ProgramTimeout: config.ProgramTimeout,
		UID:            os.Getuid(),
		GID:            os.Getgid(),
		Clock:          clk,
		Logger:         logger,
	}
	if config.SecureFile != "" {
		storeConfig.SecureSource = secure.NewSource(config.SecureFile, config.SecureReadCommand, config.AgeIdentity)
	}
	registry, err := store.Open(storeConfig)
	if err != nil {
		if faultErr := writeFault(faults, Fault{Kind: FaultStartup, Message: err.Error()}); faultErr != nil {
			logger.Error("reporting startup fault", "error", faultErr)
		}
		return err
	}

	l := &loop{
		store:         registry,
		dispatch:      store.NewDispatcher(registry).Dispatch,
		conn:          conn,
		faults:        faults,
		flushInterval: config.FlushInterval,
		limit:         config.maxMessageSize(),
		clock:         clk,
		logger:        logger,
	}
	return l.serve(ctx)
}

type loop struct {
	store    *store.Store
	dispatch command.Handler
	conn     io.ReadWriter
	faults   io.Writer

	flushInterval time.Duration
	limit         int
	clock         clock.Clock
	logger        *slog.Logger
}

type incoming struct {
	request *wire.Request
	err     error
}

// errStopped ends the loop after a worker_stop request.
var errStopped = errors.New("worker stopped")

func (l *loop) serve(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	requests := make(chan incoming)
	go func() {
		for {
			request, err := wire.ReadRequest(l.conn, l.limit)
			select {
			case requests <- incoming{request: request, err: err}:
			case <-ctx.Done():
				return
			}
			if err != nil {
				return
			}
		}
	}()

	var ticks <-chan time.Time
	if l.flushInterval > 0 {
		ticker := l.clock.NewTicker(l.flushInterval)
		defer ticker.Stop()
		ticks = ticker.C
	}

	l.logger.Info("storage worker serving", "flush_interval", l.flushInterval)
	for {
		select {
		case <-ctx.Done():
			l.flush("context done")
			return ctx.Err()

		case <-ticks:
			l.flush("periodic")

		case next := <-requests:
			if next.err != nil {
				l.flush("parent gone")
				if errors.Is(next.err, io.EOF) {
					return nil
				}
				return fmt.Errorf("reading request: %w", next.err)
			}
			response, err := l.handle(ctx, next.request)
			if response != nil {
				if writeErr := wire.WriteResponse(l.conn, response); writeErr != nil {
					return fmt.Errorf("writing response: %w", writeErr)
				}
			}
			if errors.Is(err, errStopped) {
				l.logger.Info("storage worker stopped")
				return nil
			}
			if err != nil {
				return err
			}
		}
	}
}

// handle runs one request. A panic is written to the exception channel
// and ends the loop without a response.
func (l *loop) handle(ctx context.Context, request *wire.Request) (response *wire.Response, err error) {
	defer func() {
		if recovered := recover(); recovered != nil {
			fault := Fault{
				Kind:    FaultPanic,
				Message: fmt.Sprintf("%s: %v", request.Command, recovered),
				Stack:   string(debug.Stack()),
			}
			l.logger.Error("storage worker panic", "command", request.Command, "panic", recovered)
			if faultErr := writeFault(l.faults, fault); faultErr != nil {
				l.logger.Error("reporting panic", "error", faultErr)
			}
			response, err = nil, fault
		}
	}()

	l.store.CountRequest()
	switch request.Command {
	case CommandFlush:
		if err := l.store.Flush(); err != nil {
			return wire.Failure(err), nil
		}
		return wire.Success(wire.Null{}), nil
	case CommandStop:
		if err := l.store.Flush(); err != nil {
			l.logger.Error("final flush failed", "error", err)
			return wire.Failure(err), errStopped
		}
		return wire.Success(wire.Null{}), errStopped
	}

	value, err := l.dispatch(ctx, request)
	if err != nil {
		l.logger.Debug("storage command failed", "command", request.Command, "error", err)
		return wire.Failure(err), nil
	}
	return wire.Success(value), nil
}

func (l *loop) flush(reason string) {
	if err := l.store.Flush(); err != nil {
		l.logger.Warn("flush failed", "reason", reason, "error", err)
	}
}
