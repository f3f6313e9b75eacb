// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package server

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/al-berger/regd/lib/command"
	"github.com/al-berger/regd/lib/failure"
	"github.com/al-berger/regd/lib/wire"
)

// Config configures a Server.
type Config struct {
	Router  *command.Router
	Policy  *Policy
	Metrics *Metrics

	// ReadTimeout bounds reading the request.
	ReadTimeout time.Duration

	// CallTimeout bounds the wait for a handler to start; SecureTimeout
	// replaces it for commands that may wait for secret entry.
	CallTimeout   time.Duration
	SecureTimeout time.Duration

	MaxRequestSize int

	Logger *slog.Logger
}

const (
	defaultReadTimeout    = 5 * time.Second
	defaultCallTimeout    = 10 * time.Second
	defaultSecureTimeout  = 30 * time.Second
	defaultMaxRequestSize = 64 << 20
	writeTimeout          = 10 * time.Second
)

// Server serves one request per connection.
type Server struct {
	config Config
	logger *slog.Logger

	// active tracks in-flight connections; Serve waits for them.
	active sync.WaitGroup
}

// New returns a server. Router and Policy are required.
func New(config Config) *Server {
	if config.Router == nil || config.Policy == nil {
		panic("server.New: Router and Policy are required")
	}
	if config.Metrics == nil {
		config.Metrics = NewMetrics()
	}
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = defaultReadTimeout
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = defaultCallTimeout
	}
	if config.SecureTimeout <= 0 {
		config.SecureTimeout = defaultSecureTimeout
	}
	if config.MaxRequestSize <= 0 {
		config.MaxRequestSize = defaultMaxRequestSize
	}
	if config.Logger == nil {
		config.Logger = slog.New(slog.DiscardHandler)
	}
	return &Server{config: config, logger: config.Logger}
}

// Serve accepts connections until ctx is cancelled or the listener
// fails, then waits for in-flight connections. The listener is closed
// on return.
func (s *Server) Serve(ctx context.Context, listener net.Listener) error {
	stopped := make(chan struct{})
	defer close(stopped)
	go func() {
		select {
		case <-ctx.Done():
		case <-stopped:
		}
		listener.Close()
	}()

	s.logger.Info("accepting connections", "address", listener.Addr().String())
	var acceptErr error
	for {
		conn, err := listener.Accept()
		if err != nil {
			if ctx.Err() == nil && !errors.Is(err, net.ErrClosed) {
				acceptErr = fmt.Errorf("accepting connection: %w", err)
			}
			break
		}
		s.active.Add(1)
		go func() {
			defer s.active.Done()
			s.handleConnection(ctx, conn)
		}()
	}

	s.active.Wait()
	return acceptErr
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	logger := s.logger.With("request_id", uuid.Must(uuid.NewV7()).String())

	var request *wire.Request
	defer func() {
		recovered := recover()
		if recovered == nil {
			return
		}
		name := ""
		if request != nil {
			name = request.Command
		}
		logger.Error("connection handler panic",
			"command", name,
			"panic", recovered,
			"stack", string(debug.Stack()),
		)
		s.write(conn, logger, wire.Failure(failure.Errorf(failure.ProgramError, "internal error in %q", name)))
	}()

	peer, err := peerOf(conn)
	if err != nil {
		logger.Warn("rejecting connection", "error", err)
		s.write(conn, logger, wire.Failure(failure.Wrap(failure.PermissionDenied, err, "cannot identify peer")))
		return
	}
	logger = logger.With("peer", peer.String())

	conn.SetReadDeadline(time.Now().Add(s.config.ReadTimeout))
	request, err = wire.ReadRequest(conn, s.config.MaxRequestSize)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return
		}
		logger.Debug("unreadable request", "error", err)
		if failure.KindOf(err) == failure.OperationFailed {
			err = failure.Wrap(failure.ConnectionError, err, "reading request")
		}
		s.write(conn, logger, wire.Failure(err))
		return
	}

	start := time.Now()
	value, err := s.execute(ctx, peer, request)
	label := request.Command
	if _, known := s.config.Router.Route(label); !known {
		label = unknownCommand
	}
	s.config.Metrics.observe(label, err, time.Since(start))

	if err != nil {
		logger.Debug("command failed", "command", request.Command, "error", err)
		s.write(conn, logger, wire.Failure(err))
		return
	}
	logger.Debug("command done", "command", request.Command)
	s.write(conn, logger, wire.Success(value))
}

// execute applies the access policy and dispatches the request.
func (s *Server) execute(ctx context.Context, peer Peer, request *wire.Request) (wire.Value, error) {
	if request.Internal() {
		return nil, failure.Errorf(failure.PermissionDenied, "option %q is reserved", wire.InternalOption)
	}
	if err := s.config.Policy.Allow(peer, request.Command); err != nil {
		return nil, err
	}
	dispatcher, found := s.config.Router.Route(request.Command)
	if !found {
		return nil, failure.Errorf(failure.UnrecognizedSyntax, "unknown command %q", request.Command)
	}

	timeout := s.config.CallTimeout
	if slowCommands[request.Command] {
		timeout = s.config.SecureTimeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return dispatcher.Dispatch(ctx, request)
}

// write sends the response. The connection closes right after, so a
// failed write is only logged.
func (s *Server) write(conn net.Conn, logger *slog.Logger, response *wire.Response) {
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := wire.WriteResponse(conn, response); err != nil {
		logger.Debug("writing response", "error", err)
	}
}
