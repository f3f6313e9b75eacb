// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/fsnotify/fsnotify"

	"github.com/al-berger/regd/lib/address"
	"github.com/al-berger/regd/lib/client"
	"github.com/al-berger/regd/lib/clock"
	"github.com/al-berger/regd/lib/command"
	"github.com/al-berger/regd/lib/config"
	"github.com/al-berger/regd/lib/failure"
	"github.com/al-berger/regd/lib/logging"
	"github.com/al-berger/regd/lib/server"
	"github.com/al-berger/regd/lib/store"
	"github.com/al-berger/regd/lib/wire"
	"github.com/al-berger/regd/lib/worker"
)

// Options configures a Daemon.
type Options struct {
	Config *config.Config

	// WorkerExecutable is the binary spawned as the storage worker,
	// the running executable when empty. Ignored when
	// Config.Storage.InProcess is set.
	WorkerExecutable string

	// HandleSignals makes Run stop on SIGINT, SIGTERM and SIGHUP.
	HandleSignals bool

	Clock  clock.Clock
	Logger *slog.Logger
	Ring   *logging.Ring
}

// Daemon is one regd server.
type Daemon struct {
	options Options
	config  *config.Config
	logger  *slog.Logger
	clock   clock.Clock

	address address.Address
	ready   chan struct{}
	stop    chan struct{}
}

// New validates the configuration and resolves the address.
func New(options Options) (*Daemon, error) {
	if options.Config == nil {
		options.Config = config.Default()
	}
	if err := options.Config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}

	cfg := options.Config
	var addr address.Address
	if cfg.UsesTCP() {
		addr = address.TCP(cfg.Server.Host, cfg.Server.Port)
	} else {
		var err error
		if addr, err = address.Unix(cfg.Server.Name, cfg.Server.SocketDir); err != nil {
			return nil, err
		}
	}
	return &Daemon{
		options: options,
		config:  cfg,
		logger:  options.Logger,
		clock:   options.Clock,
		address: addr,
		ready:   make(chan struct{}),
		stop:    make(chan struct{}, 1),
	}, nil
}

// Address returns the listening address. For a TCP port of 0 the
// bound port is known once Ready is closed.
func (d *Daemon) Address() address.Address { return d.address }

// Ready is closed once the daemon accepts connections.
func (d *Daemon) Ready() <-chan struct{} { return d.ready }

// Stop asks a running daemon to shut down.
func (d *Daemon) Stop() {
	select {
	case d.stop <- struct{}{}:
	default:
	}
}

// Run serves until shutdown and returns the reason when it was a
// failure.
func (d *Daemon) Run(ctx context.Context) error {
	listener, err := d.listen(ctx)
	if err != nil {
		return err
	}
	removeSocket := func() {
		if d.address.Path != "" {
			if err := os.Remove(d.address.Path); err != nil && !os.IsNotExist(err) {
				d.logger.Warn("removing socket file", "path", d.address.Path, "error", err)
			}
		}
	}

	process, err := worker.Start(ctx, worker.Options{
		Config:      d.workerConfig(),
		InProcess:   d.config.Storage.InProcess,
		Executable:  d.options.WorkerExecutable,
		LockTimeout: d.config.Storage.LockTimeout,
		Clock:       d.clock,
		Logger:      d.logger.With("component", "worker"),
	})
	if err != nil {
		listener.Close()
		removeSocket()
		return err
	}
	proxy := process.Proxy()

	policy, err := server.NewPolicy(d.config.Server.Access, os.Getuid(), d.config.Trust.Users, d.config.Trust.Networks)
	if err != nil {
		listener.Close()
		removeSocket()
		process.Stop(context.WithoutCancel(ctx))
		return err
	}
	metrics := server.NewMetrics()
	router, err := command.NewRouter(
		store.NewDispatcher(nil).Forward(proxy.Call),
		server.ControlDispatcher(d.Stop),
		server.InfoDispatcher(server.Info{
			Name:     d.address.Name,
			Address:  d.address.String(),
			Access:   d.config.Server.Access,
			Datafile: d.config.Server.Datafile,
			PID:      os.Getpid(),
			Started:  d.clock.Now(),
			Clock:    d.clock,
			Metrics:  metrics,
			Ring:     d.options.Ring,
			Storage:  proxy.Call,
		}),
	)
	if err != nil {
		panic(fmt.Sprintf("daemon: building router: %v", err))
	}
	srv := server.New(server.Config{
		Router:         router,
		Policy:         policy,
		Metrics:        metrics,
		ReadTimeout:    d.config.Timeouts.Read,
		CallTimeout:    d.config.Storage.CallTimeout,
		SecureTimeout:  d.config.Timeouts.Secure,
		MaxRequestSize: d.config.Server.MaxRequestSize,
		Logger:         d.logger.With("component", "server"),
	})

	socketGone, closeWatcher := d.watchSocket()
	defer closeWatcher()

	var signals chan os.Signal
	if d.options.HandleSignals {
		signals = make(chan os.Signal, 1)
		signal.Notify(signals, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
		defer signal.Stop(signals)
	}

	serveCtx, stopServing := context.WithCancel(context.WithoutCancel(ctx))
	served := make(chan error, 1)
	go func() { served <- srv.Serve(serveCtx, listener) }()

	d.logger.Info("regd started",
		"address", d.address.String(),
		"access", d.config.Server.Access,
		"datafile", d.config.Server.Datafile,
	)
	close(d.ready)

	var reason error
	select {
	case <-ctx.Done():
		d.logger.Info("shutting down", "reason", "context done")
	case received := <-signals:
		d.logger.Info("shutting down", "reason", "signal", "signal", received.String())
	case <-d.stop:
		d.logger.Info("shutting down", "reason", "stop command")
	case fault := <-process.Faults():
		d.logger.Error("shutting down", "reason", "storage worker fault", "fault", fault.Error())
		reason = failure.Wrap(failure.ProgramError, fault, "")
	case <-socketGone:
		d.logger.Warn("shutting down", "reason", "socket file removed", "path", d.address.Path)
		reason = failure.Errorf(failure.OperationFailed, "socket file %s was removed", d.address.Path)
	case err := <-served:
		d.logger.Error("shutting down", "reason", "listener failed", "error", err)
		reason = err
		served = nil
	}

	stopServing()
	if served != nil {
		if err := <-served; err != nil {
			d.logger.Warn("server stopped with error", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), d.config.Storage.LockTimeout+d.config.Storage.CallTimeout)
	defer cancel()
	if _, err := proxy.Call(shutdownCtx, wire.NewRequest(worker.CommandFlush)); err != nil {
		d.logger.Error("final flush failed", "error", err)
	}
	if err := process.Stop(shutdownCtx); err != nil {
		d.logger.Error("stopping storage worker", "error", err)
	}
	removeSocket()
	d.logger.Info("regd stopped")
	return reason
}

// listen binds the address. A Unix socket file that still accepts
// connections belongs to a running server; one that does not is
// removed.
func (d *Daemon) listen(ctx context.Context) (net.Listener, error) {
	if d.address.Path == "" {
		listener, err := net.Listen("tcp", d.address.String())
		if err != nil {
			return nil, failure.Wrap(failure.ConnectionError, err, "listening")
		}
		if tcp, ok := listener.Addr().(*net.TCPAddr); ok {
			d.address.Port = tcp.Port
		}
		return listener, nil
	}

	directory := d.address.Directory()
	// The directory is shared between users; access control happens on
	// peer credentials.
	if err := os.MkdirAll(directory, 0o777); err != nil {
		return nil, fmt.Errorf("creating socket directory: %w", err)
	}
	for _, shared := range []string{address.BaseDirectory(d.config.Server.SocketDir), directory} {
		if err := os.Chmod(shared, 0o777); err != nil {
			d.logger.Debug("setting socket directory mode", "path", shared, "error", err)
		}
	}

	if _, err := os.Stat(d.address.Path); err == nil {
		if client.Running(ctx, d.address) {
			return nil, failure.Errorf(failure.AlreadyExists, "a server is already running at %s", d.address.Path)
		}
		d.logger.Info("removing stale socket", "path", d.address.Path)
		if err := os.Remove(d.address.Path); err != nil {
			return nil, fmt.Errorf("removing stale socket: %w", err)
		}
	}

	listener, err := net.Listen("unix", d.address.Path)
	if err != nil {
		return nil, failure.Wrap(failure.ConnectionError, err, "listening")
	}
	if err := os.Chmod(d.address.Path, 0o777); err != nil {
		listener.Close()
		return nil, fmt.Errorf("setting socket mode: %w", err)
	}
	return listener, nil
}

// watchSocket reports removal of the socket file. The returned channel
// never fires for TCP or when the watcher cannot be created.
func (d *Daemon) watchSocket() (<-chan struct{}, func()) {
	gone := make(chan struct{})
	if d.address.Path == "" {
		return gone, func() {}
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.logger.Warn("socket watcher unavailable", "error", err)
		return gone, func() {}
	}
	if err := watcher.Add(d.address.Directory()); err != nil {
		d.logger.Warn("socket watcher unavailable", "error", err)
		watcher.Close()
		return gone, func() {}
	}

	go func() {
		for {
			select {
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if event.Name == d.address.Path && event.Op&(fsnotify.Remove|fsnotify.Rename) != 0 {
					close(gone)
					return
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				d.logger.Warn("socket watcher error", "error", err)
			}
		}
	}()
	return gone, func() { watcher.Close() }
}

func (d *Daemon) workerConfig() worker.Config {
	return worker.Config{
		Datafile:          d.config.Server.Datafile,
		BinDatafile:       d.config.Server.BinDatafile,
		SecureFile:        d.config.Secure.Encfile,
		SecureReadCommand: d.config.Secure.ReadCommand,
		AgeIdentity:       d.config.Secure.AgeIdentity,
		ProgramTimeout:    d.config.Storage.ProgramTimeout,
		FlushInterval:     d.config.Storage.FlushInterval,
		MaxMessageSize:    d.config.Server.MaxRequestSize,
		LogLevel:          d.config.Log.Level,
		LogFormat:         d.config.Log.Format,
	}
}
