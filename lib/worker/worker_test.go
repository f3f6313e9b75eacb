// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/al-berger/regd/lib/clock"
	"github.com/al-berger/regd/lib/codec"
	"github.com/al-berger/regd/lib/failure"
	"github.com/al-berger/regd/lib/store"
	"github.com/al-berger/regd/lib/testutil"
	"github.com/al-berger/regd/lib/wire"
)

var epoch = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func startInProcess(t *testing.T, config Config, clk clock.Clock) *Process {
	t.Helper()
	process, err := Start(context.Background(), Options{Config: config, InProcess: true, Clock: clk})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	t.Cleanup(func() { _ = process.Stop(context.Background()) })
	return process
}

func call(t *testing.T, proxy *Proxy, request *wire.Request) wire.Value {
	t.Helper()
	value, err := proxy.Call(context.Background(), request)
	if err != nil {
		t.Fatalf("%s: %v", request.Command, err)
	}
	return value
}

func readFile(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("reading %s: %v", path, err)
	}
	return string(data)
}

func TestInProcessRoundTrip(t *testing.T) {
	datafile := filepath.Join(t.TempDir(), "regd.data")
	process := startInProcess(t, Config{Datafile: datafile}, nil)
	proxy := process.Proxy()

	call(t, proxy, wire.NewRequest("add", "colour=blue").With("pers"))
	if got := wire.Text(call(t, proxy, wire.NewRequest("get", "colour").With("pers"))); got != "blue" {
		t.Errorf("get colour = %q, want blue", got)
	}

	_, err := proxy.Call(context.Background(), wire.NewRequest("get", "missing"))
	if !failure.Is(err, failure.NotFound) {
		t.Errorf("get missing: got %v, want NotFound", err)
	}

	call(t, proxy, wire.NewRequest(CommandFlush))
	if got := readFile(t, datafile); got != "colour=blue\n" {
		t.Errorf("datafile = %q", got)
	}
}

func TestStopFlushes(t *testing.T) {
	datafile := filepath.Join(t.TempDir(), "regd.data")
	process, err := Start(context.Background(), Options{Config: Config{Datafile: datafile}, InProcess: true})
	if err != nil {
		t.Fatalf("Start: %v", err)
	}
	call(t, process.Proxy(), wire.NewRequest("add", "k=v").With("pers"))

	if err := process.Stop(context.Background()); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if got := readFile(t, datafile); got != "k=v\n" {
		t.Errorf("datafile = %q", got)
	}
	select {
	case fault := <-process.Faults():
		t.Errorf("unexpected fault after stop: %v", fault)
	default:
	}

	_, err = process.Proxy().Call(context.Background(), wire.NewRequest("get", "k"))
	if !failure.Is(err, failure.ConnectionError) {
		t.Errorf("call after stop: got %v, want ConnectionError", err)
	}
}

func TestStartupFault(t *testing.T) {
	// A directory where the datafile should be cannot be read.
	datafile := t.TempDir()
	_, err := Start(context.Background(), Options{Config: Config{Datafile: datafile}, InProcess: true})
	if err == nil {
		t.Fatal("Start succeeded with an unreadable datafile")
	}
	var fault *Fault
	if !errors.As(err, &fault) {
		t.Fatalf("error %v does not carry a Fault", err)
	}
	if fault.Kind != FaultStartup {
		t.Errorf("fault kind = %q, want %q", fault.Kind, FaultStartup)
	}
}

func TestPeriodicFlush(t *testing.T) {
	fake := clock.Fake(epoch)
	datafile := filepath.Join(t.TempDir(), "regd.data")
	process := startInProcess(t, Config{Datafile: datafile, FlushInterval: time.Minute}, fake)
	proxy := process.Proxy()

	call(t, proxy, wire.NewRequest("add", "k=v").With("pers"))
	if _, err := os.Stat(datafile); !os.IsNotExist(err) {
		t.Fatalf("datafile written before the flush interval: %v", err)
	}

	fake.Advance(time.Minute)
	// The tick and the next request race in the worker's select; a
	// bounded number of round trips lets the tick through.
	for range 100 {
		call(t, proxy, wire.NewRequest("exists", "k").With("pers"))
		if _, err := os.Stat(datafile); err == nil {
			break
		}
	}
	if got := readFile(t, datafile); got != "k=v\n" {
		t.Errorf("datafile = %q", got)
	}
}

func TestPanicReportsFault(t *testing.T) {
	registry, err := store.Open(store.Config{})
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	serverEnd, clientEnd := net.Pipe()
	defer clientEnd.Close()

	var faults bytes.Buffer
	l := &loop{
		store: registry,
		dispatch: func(context.Context, *wire.Request) (wire.Value, error) {
			panic("tree invariant broken")
		},
		conn:   serverEnd,
		faults: &faults,
		limit:  DefaultMaxMessageSize,
		clock:  clock.Fake(epoch),
		logger: slog.New(slog.DiscardHandler),
	}
	result := make(chan error, 1)
	go func() {
		result <- l.serve(context.Background())
		serverEnd.Close()
	}()

	if err := wire.WriteRequest(clientEnd, wire.NewRequest("get", "x")); err != nil {
		t.Fatalf("WriteRequest: %v", err)
	}
	err = testutil.RequireReceive(t, result, 5*time.Second, "waiting for the loop to end")
	var fault Fault
	if !errors.As(err, &fault) || fault.Kind != FaultPanic {
		t.Fatalf("serve returned %v, want a panic fault", err)
	}

	var reported []Fault
	readFaults(&faults, func(f Fault) { reported = append(reported, f) })
	if len(reported) != 1 {
		t.Fatalf("reported %d faults, want 1", len(reported))
	}
	if reported[0].Kind != FaultPanic || reported[0].Message != "get: tree invariant broken" || reported[0].Stack == "" {
		t.Errorf("fault = %+v", reported[0])
	}
}

func TestProxyLockTimeout(t *testing.T) {
	fake := clock.Fake(epoch)
	workerEnd, parentEnd := net.Pipe()
	proxy := NewProxy(parentEnd, time.Second, fake)

	first := make(chan error, 1)
	go func() {
		_, err := proxy.Call(context.Background(), wire.NewRequest("get", "a"))
		first <- err
	}()
	// Once the request is read the first call holds the lock and waits
	// for a response that never comes.
	if _, err := wire.ReadRequest(workerEnd, DefaultMaxMessageSize); err != nil {
		t.Fatalf("ReadRequest: %v", err)
	}

	second := make(chan error, 1)
	go func() {
		_, err := proxy.Call(context.Background(), wire.NewRequest("get", "b"))
		second <- err
	}()
	fake.WaitForWaiters(2)
	fake.Advance(time.Second)
	if err := testutil.RequireReceive(t, second, 5*time.Second, "second call"); !failure.Is(err, failure.Timeout) {
		t.Errorf("second call: got %v, want Timeout", err)
	}

	workerEnd.Close()
	if err := testutil.RequireReceive(t, first, 5*time.Second, "first call"); !failure.Is(err, failure.ConnectionError) {
		t.Errorf("first call: got %v, want ConnectionError", err)
	}
	if _, err := proxy.Call(context.Background(), wire.NewRequest("get", "c")); !failure.Is(err, failure.ConnectionError) {
		t.Errorf("call on a broken proxy: got %v, want ConnectionError", err)
	}
}

func TestConfigTravelsAsCBOR(t *testing.T) {
	want := Config{Datafile: "/d", FlushInterval: 30 * time.Second, LogLevel: "debug"}
	var buffer bytes.Buffer
	if err := codec.NewEncoder(&buffer).Encode(want); err != nil {
		t.Fatalf("encode: %v", err)
	}
	got, err := ReadConfig(&buffer)
	if err != nil {
		t.Fatalf("ReadConfig: %v", err)
	}
	if got != want {
		t.Errorf("ReadConfig = %+v, want %+v", got, want)
	}
}
