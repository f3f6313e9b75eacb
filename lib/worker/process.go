// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/exec"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"github.com/al-berger/regd/lib/clock"
	"github.com/al-berger/regd/lib/codec"
	"github.com/al-berger/regd/lib/wire"
)

// EntrypointArg is the argument that makes the regd binary run as a
// storage worker.
const EntrypointArg = "storage-worker"

// Child-side descriptor numbers of the two channels.
const (
	socketFD = 3
	faultsFD = 4
)

// Options configures Start.
type Options struct {
	Config Config

	// InProcess runs the worker as a goroutine instead of a child
	// process.
	InProcess bool

	// Executable is the binary to spawn, os.Executable() when empty.
	Executable string

	LockTimeout time.Duration
	Clock       clock.Clock
	Logger      *slog.Logger
}

// Process is a running worker.
type Process struct {
	proxy  *Proxy
	conn   net.Conn
	logger *slog.Logger

	faults   chan Fault
	exited   chan struct{}
	stopping atomic.Bool

	mu        sync.Mutex
	lastFault *Fault

	kill func()
}

// Start launches the worker and waits until it has opened its store.
func Start(ctx context.Context, options Options) (*Process, error) {
	if options.Clock == nil {
		options.Clock = clock.Real()
	}
	if options.Logger == nil {
		options.Logger = slog.New(slog.DiscardHandler)
	}

	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM|unix.SOCK_CLOEXEC, 0)
	if err != nil {
		return nil, fmt.Errorf("creating socketpair: %w", err)
	}
	parentConn, err := fileConn(fds[0], "worker-parent")
	if err != nil {
		unix.Close(fds[1])
		return nil, err
	}
	faultRead, faultWrite, err := os.Pipe()
	if err != nil {
		parentConn.Close()
		unix.Close(fds[1])
		return nil, fmt.Errorf("creating exception pipe: %w", err)
	}

	process := &Process{
		proxy:  NewProxy(parentConn, options.LockTimeout, options.Clock),
		conn:   parentConn,
		logger: options.Logger,
		faults: make(chan Fault, 4),
		exited: make(chan struct{}),
	}

	var wait func() error
	if options.InProcess {
		wait, err = process.startGoroutine(ctx, options, fds[1], faultWrite)
	} else {
		wait, err = process.spawn(options, fds[1], faultWrite)
	}
	if err != nil {
		parentConn.Close()
		faultRead.Close()
		return nil, err
	}

	go func() {
		defer close(process.exited)
		defer faultRead.Close()
		readFaults(faultRead, process.report)
		err := wait()
		if !process.stopping.Load() {
			message := "exited"
			if err != nil {
				message = err.Error()
			}
			process.report(Fault{Kind: FaultExit, Message: message})
		}
	}()

	if _, err := process.proxy.Call(ctx, wire.NewRequest(CommandFlush)); err != nil {
		process.stopping.Store(true)
		process.kill()
		select {
		case <-process.exited:
		case <-ctx.Done():
		}
		parentConn.Close()
		if fault := process.firstFault(); fault != nil {
			return nil, fmt.Errorf("starting storage worker: %w", fault)
		}
		return nil, fmt.Errorf("starting storage worker: %w", err)
	}
	options.Logger.Info("storage worker started", "in_process", options.InProcess)
	return process, nil
}

func fileConn(fd int, name string) (net.Conn, error) {
	file := os.NewFile(uintptr(fd), name)
	conn, err := net.FileConn(file)
	file.Close()
	if err != nil {
		return nil, fmt.Errorf("converting %s to net.Conn: %w", name, err)
	}
	return conn, nil
}

func (p *Process) spawn(options Options, childFD int, faultWrite *os.File) (func() error, error) {
	childSocket := os.NewFile(uintptr(childFD), "worker-socket")
	defer childSocket.Close()
	defer faultWrite.Close()

	executable := options.Executable
	if executable == "" {
		var err error
		if executable, err = os.Executable(); err != nil {
			return nil, fmt.Errorf("locating own executable: %w", err)
		}
	}
	encoded, err := codec.Marshal(options.Config)
	if err != nil {
		return nil, fmt.Errorf("encoding worker config: %w", err)
	}

	command := exec.Command(executable, EntrypointArg)
	command.Stdin = bytes.NewReader(encoded)
	command.Stderr = os.Stderr
	command.ExtraFiles = []*os.File{childSocket, faultWrite} // fd 3 and fd 4 in the child
	// Own process group: a terminal interrupt reaches the daemon, which
	// then stops the worker in order.
	command.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if err := command.Start(); err != nil {
		return nil, fmt.Errorf("starting %s %s: %w", executable, EntrypointArg, err)
	}
	p.kill = func() { _ = command.Process.Kill() }
	p.logger.Debug("storage worker spawned", "pid", command.Process.Pid)
	return command.Wait, nil
}

func (p *Process) startGoroutine(ctx context.Context, options Options, childFD int, faultWrite *os.File) (func() error, error) {
	childConn, err := fileConn(childFD, "worker-child")
	if err != nil {
		faultWrite.Close()
		return nil, err
	}
	workerCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	done := make(chan error, 1)
	go func() {
		defer faultWrite.Close()
		defer childConn.Close()
		done <- run(workerCtx, options.Config, childConn, faultWrite, options.Clock, options.Logger.With("component", "worker"))
	}()
	p.kill = func() {
		cancel()
		childConn.Close()
	}
	return func() error {
		err := <-done
		cancel()
		if errors.Is(err, context.Canceled) {
			return nil
		}
		return err
	}, nil
}

func (p *Process) report(fault Fault) {
	p.mu.Lock()
	if p.lastFault == nil {
		p.lastFault = &fault
	}
	p.mu.Unlock()

	p.logger.Error("storage worker fault", "kind", fault.Kind, "message", fault.Message)
	select {
	case p.faults <- fault:
	default:
		p.logger.Warn("dropping storage worker fault", "kind", fault.Kind)
	}
}

func (p *Process) firstFault() *Fault {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.lastFault
}

// Proxy returns the request channel to the worker.
func (p *Process) Proxy() *Proxy { return p.proxy }

// Faults delivers worker failures. A worker that exits without being
// stopped produces a FaultExit.
func (p *Process) Faults() <-chan Fault { return p.faults }

// Stop asks the worker to flush and exit, and waits for it. When ctx
// ends first the worker is killed.
func (p *Process) Stop(ctx context.Context) error {
	if !p.stopping.CompareAndSwap(false, true) {
		<-p.exited
		return nil
	}
	_, stopErr := p.proxy.Call(ctx, wire.NewRequest(CommandStop))

	var err error
	select {
	case <-p.exited:
	case <-ctx.Done():
		p.kill()
		<-p.exited
		err = fmt.Errorf("storage worker did not exit: %w", ctx.Err())
	}
	p.conn.Close()
	if stopErr != nil {
		return fmt.Errorf("stopping storage worker: %w", stopErr)
	}
	return err
}

// Main is the body of the storage-worker entrypoint. The parent's
// channels are inherited as fds 3 and 4.
func Main(ctx context.Context, config Config, logger *slog.Logger) error {
	conn, err := fileConn(socketFD, "worker-socket")
	if err != nil {
		return err
	}
	defer conn.Close()
	faults := os.NewFile(faultsFD, "worker-faults")
	defer faults.Close()
	return run(ctx, config, conn, faults, clock.Real(), logger)
}
