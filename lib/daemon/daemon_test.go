// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package daemon

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/al-berger/regd/lib/client"
	"github.com/al-berger/regd/lib/config"
	"github.com/al-berger/regd/lib/failure"
	"github.com/al-berger/regd/lib/testutil"
	"github.com/al-berger/regd/lib/wire"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.Default()
	cfg.Server.Name = testutil.UniqueName("daemon")
	cfg.Server.SocketDir = testutil.SocketDir(t)
	cfg.Server.Datafile = filepath.Join(t.TempDir(), "regd.data")
	cfg.Storage.InProcess = true
	cfg.Storage.FlushInterval = 0
	return cfg
}

type running struct {
	daemon   *Daemon
	client   *client.Client
	finished chan struct{}
	err      error
}

// wait returns Run's result once it has returned.
func (r *running) wait(t *testing.T) error {
	t.Helper()
	testutil.RequireClosed(t, r.finished, 10*time.Second, "daemon exit")
	return r.err
}

func start(t *testing.T, cfg *config.Config) *running {
	t.Helper()
	d, err := New(Options{Config: cfg})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	r := &running{daemon: d, finished: make(chan struct{})}
	go func() {
		r.err = d.Run(context.Background())
		close(r.finished)
	}()
	select {
	case <-d.Ready():
	case <-r.finished:
		t.Fatalf("Run ended before ready: %v", r.err)
	case <-time.After(10 * time.Second):
		t.Fatal("daemon not ready")
	}
	r.client = client.New(d.Address())
	t.Cleanup(func() {
		d.Stop()
		r.wait(t)
	})
	return r
}

func (r *running) call(t *testing.T, request *wire.Request) wire.Value {
	t.Helper()
	value, err := r.client.Call(context.Background(), request)
	if err != nil {
		t.Fatalf("%s: %v", request.Command, err)
	}
	return value
}

func TestStopCommandFlushesAndCleansUp(t *testing.T) {
	cfg := testConfig(t)
	r := start(t, cfg)

	r.call(t, wire.NewRequest("add", "colour=blue").With("pers"))
	r.call(t, wire.NewRequest("add", "draft=1"))
	if got := wire.Text(r.call(t, wire.NewRequest("get", "colour").With("pers"))); got != "blue" {
		t.Errorf("get colour = %q", got)
	}
	if got := wire.Text(r.call(t, wire.NewRequest("check"))); got == "" {
		t.Error("check returned nothing")
	}

	r.call(t, wire.NewRequest("stop"))
	if err := r.wait(t); err != nil {
		t.Fatalf("Run: %v", err)
	}

	data, err := os.ReadFile(cfg.Server.Datafile)
	if err != nil || !strings.Contains(string(data), "colour=blue") || strings.Contains(string(data), "draft") {
		t.Errorf("datafile = %q, %v", data, err)
	}
	if _, err := os.Stat(r.daemon.Address().Path); !os.IsNotExist(err) {
		t.Errorf("socket file left behind: %v", err)
	}
}

func TestRestartReadsDatafile(t *testing.T) {
	cfg := testConfig(t)
	first := start(t, cfg)
	first.call(t, wire.NewRequest("add", "k=v").With("pers"))
	first.call(t, wire.NewRequest("add", "draft=1"))
	first.daemon.Stop()
	if err := first.wait(t); err != nil {
		t.Fatalf("first Run: %v", err)
	}

	second := start(t, cfg)
	if got := wire.Text(second.call(t, wire.NewRequest("get", "k").With("pers"))); got != "v" {
		t.Errorf("after restart get k = %q", got)
	}
	_, err := second.client.Call(context.Background(), wire.NewRequest("get", "draft"))
	if !failure.Is(err, failure.NotFound) {
		t.Errorf("session token survived a restart: %v", err)
	}
}

func TestInternalPathsAreHidden(t *testing.T) {
	r := start(t, testConfig(t))
	_, err := r.client.Call(context.Background(), wire.NewRequest("ls", "/_sys"))
	if !failure.Is(err, failure.PermissionDenied) {
		t.Errorf("ls /_sys: got %v, want PermissionDenied", err)
	}
	_, err = r.client.Call(context.Background(), wire.NewRequest("flush"))
	if !failure.Is(err, failure.UnrecognizedSyntax) {
		t.Errorf("worker-internal command reached through the socket: %v", err)
	}
}

func TestSecondServerRefused(t *testing.T) {
	cfg := testConfig(t)
	start(t, cfg)

	d, err := New(Options{Config: cfg})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := d.Run(context.Background()); !failure.Is(err, failure.AlreadyExists) {
		t.Errorf("second Run: got %v, want AlreadyExists", err)
	}
}

func TestStaleSocketIsReplaced(t *testing.T) {
	cfg := testConfig(t)
	d, err := New(Options{Config: cfg})
	if err != nil {
		t.Fatal(err)
	}
	path := d.Address().Path
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		t.Fatal(err)
	}
	listener, err := net.ListenUnix("unix", &net.UnixAddr{Name: path, Net: "unix"})
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	listener.SetUnlinkOnClose(false)
	listener.Close()

	r := start(t, cfg)
	r.call(t, wire.NewRequest("check"))
}

func TestSocketRemovalStopsDaemon(t *testing.T) {
	r := start(t, testConfig(t))
	if err := os.Remove(r.daemon.Address().Path); err != nil {
		t.Fatal(err)
	}
	err := r.wait(t)
	if !failure.Is(err, failure.OperationFailed) {
		t.Errorf("Run: got %v, want OperationFailed", err)
	}
}

func TestContextCancelStops(t *testing.T) {
	cfg := testConfig(t)
	d, err := New(Options{Config: cfg})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- d.Run(ctx) }()
	testutil.RequireClosed(t, d.Ready(), 10*time.Second, "daemon ready")
	cancel()
	if err := testutil.RequireReceive(t, done, 10*time.Second, "daemon exit"); err != nil {
		t.Errorf("Run: %v", err)
	}
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.Server.Access = "everyone"
	if _, err := New(Options{Config: cfg}); err == nil {
		t.Error("invalid access level accepted")
	}
}

func TestConcurrentWritesAndReads(t *testing.T) {
	r := start(t, testConfig(t))
	const writers, readers, rounds = 8, 8, 10

	written := map[string]bool{strings.Repeat("0", 4096): true}
	for writer := range writers {
		for round := range rounds {
			written[strings.Repeat(fmt.Sprintf("%d.%d:", writer, round), 512)] = true
		}
	}
	r.call(t, wire.NewRequest("add", "/sav/x="+strings.Repeat("0", 4096)))

	ctx := context.Background()
	var wg sync.WaitGroup
	for writer := range writers {
		wg.Go(func() {
			for round := range rounds {
				value := strings.Repeat(fmt.Sprintf("%d.%d:", writer, round), 512)
				if _, err := r.client.Call(ctx, wire.NewRequest("add", "/sav/x="+value).With("force")); err != nil {
					t.Errorf("add: %v", err)
					return
				}
			}
		})
	}
	for range readers {
		wg.Go(func() {
			for range rounds {
				value, err := r.client.Call(ctx, wire.NewRequest("get", "/sav/x"))
				if err != nil {
					t.Errorf("get: %v", err)
					return
				}
				if got := wire.Text(value); !written[got] {
					t.Errorf("get returned %d bytes that no writer wrote: %.40q", len(got), got)
				}
			}
		})
	}
	wg.Wait()
}
