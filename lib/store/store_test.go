// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"

	"github.com/al-berger/regd/lib/clock"
	"github.com/al-berger/regd/lib/command"
	"github.com/al-berger/regd/lib/failure"
	"github.com/al-berger/regd/lib/secure"
	"github.com/al-berger/regd/lib/token"
	"github.com/al-berger/regd/lib/wire"
)

// fixedSource returns the same plaintext for every file.
type fixedSource struct {
	text  string
	reads *int
}

func (f fixedSource) Read(context.Context, string) (*secure.Buffer, error) {
	if f.reads != nil {
		*f.reads++
	}
	return secure.Protect([]byte(f.text))
}

type harness struct {
	t          *testing.T
	store      *Store
	dispatcher *command.Dispatcher
	datafile   string
}

func newHarness(t *testing.T, configure func(*Config)) *harness {
	t.Helper()
	directory := t.TempDir()
	config := Config{
		Datafile:   filepath.Join(directory, "regd.data"),
		SecureFile: filepath.Join(directory, "tokens.gpg"),
		Clock:      clock.Fake(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)),
		UID:        1000,
		GID:        1000,
	}
	if configure != nil {
		configure(&config)
	}
	store, err := Open(config)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return &harness{t: t, store: store, dispatcher: NewDispatcher(store), datafile: config.Datafile}
}

func (h *harness) call(request *wire.Request) (wire.Value, error) {
	h.t.Helper()
	return h.dispatcher.Dispatch(context.Background(), request)
}

func (h *harness) must(request *wire.Request) wire.Value {
	h.t.Helper()
	value, err := h.call(request)
	if err != nil {
		h.t.Fatalf("%s %v: %v", request.Command, request.Params, err)
	}
	return value
}

func (h *harness) fails(request *wire.Request, kind failure.Kind) {
	h.t.Helper()
	_, err := h.call(request)
	if !failure.Is(err, kind) {
		h.t.Errorf("%s %v: err = %v, want %v", request.Command, request.Params, err, kind)
	}
}

func TestAddAndGet(t *testing.T) {
	h := newHarness(t, nil)
	h.must(wire.NewRequest("add", "a/b=1", "/ses/c=two words"))

	if diff := cmp.Diff(wire.Value(wire.String("1")), h.must(wire.NewRequest("get", "a/b"))); diff != "" {
		t.Errorf("get a/b (-want +got):\n%s", diff)
	}
	want := wire.List{wire.String("1"), wire.String("two words")}
	if diff := cmp.Diff(wire.Value(want), h.must(wire.NewRequest("get", "/ses/a/b", "c"))); diff != "" {
		t.Errorf("get two (-want +got):\n%s", diff)
	}

	h.fails(wire.NewRequest("add", "a/b=2"), failure.AlreadyExists)
	h.must(wire.NewRequest("add", "a/b=2").With("force"))
	h.must(wire.NewRequest("add", "a/b=3").With("sum"))
	if got := h.must(wire.NewRequest("get", "a/b")); got != wire.String("5") {
		t.Errorf("after sum: %v", got)
	}

	h.fails(wire.NewRequest("add", "novalue"), failure.MalformedToken)
	h.fails(wire.NewRequest("add", "section/"), failure.MalformedToken)
	h.fails(wire.NewRequest("add", "/nowhere/x=1"), failure.NotFound)
	h.fails(wire.NewRequest("get", "a"), failure.NotFound)
	h.fails(wire.NewRequest("get", "missing"), failure.NotFound)
}

func TestDestAndPers(t *testing.T) {
	h := newHarness(t, nil)
	h.must(wire.NewRequest("add", "k=v").With("dest", "/ses/target"))
	h.must(wire.NewRequest("exists", "/ses/target/k"))

	h.must(wire.NewRequest("add", "k=saved").With("pers"))
	if got := h.must(wire.NewRequest("get", "k").With("pers")); got != wire.String("saved") {
		t.Errorf("pers get = %v", got)
	}
	h.fails(wire.NewRequest("add", "k=v").With("pers").With("dest", "/ses"), failure.UnrecognizedSyntax)

	noData := newHarness(t, func(config *Config) { config.Datafile = "" })
	noData.fails(wire.NewRequest("add", "k=v").With("pers"), failure.OperationFailed)
	noData.fails(wire.NewRequest("get", "k").With("pers"), failure.OperationFailed)
}

func TestSystemPathsNeedInternal(t *testing.T) {
	h := newHarness(t, nil)
	h.fails(wire.NewRequest("get", "/_sys/stat/started"), failure.PermissionDenied)
	h.fails(wire.NewRequest("ls", "/_sys"), failure.PermissionDenied)

	started := h.must(wire.NewRequest("get", "/_sys/stat/started").With(wire.InternalOption))
	if got := wire.Text(started); got != "2026-03-01T12:00:00Z" {
		t.Errorf("started = %q", got)
	}

	h.store.CountRequest()
	h.store.CountRequest()
	if got := h.store.Stat("requests"); got != 2 {
		t.Errorf("requests = %d, want 2", got)
	}
}

func TestBinaryValues(t *testing.T) {
	h := newHarness(t, nil)
	payload := "\x00\x01\xff"
	h.must(wire.NewRequest("add", "blob").With(wire.BinaryOption, payload).With("pers"))
	got := h.must(wire.NewRequest("get", "blob").With("pers"))
	if diff := cmp.Diff(wire.Value(wire.Bytes(payload)), got); diff != "" {
		t.Errorf("binary get (-want +got):\n%s", diff)
	}
	h.fails(wire.NewRequest("add", "a", "b").With(wire.BinaryOption, "only one"), failure.UnrecognizedParameter)
}

func TestListAndInfo(t *testing.T) {
	h := newHarness(t, nil)
	h.must(wire.NewRequest("add", "s/x=1", "s/t/y=2"))
	lines := h.must(wire.NewRequest("ls", "/ses/s").With("tree").With("recursive"))
	want := wire.Strings([]string{"- x  : 1", "[t]:", "    - y  : 2"})
	if diff := cmp.Diff(wire.Value(want), lines); diff != "" {
		t.Errorf("ls (-want +got):\n%s", diff)
	}

	info, ok := h.must(wire.NewRequest("fs_info", "/ses/s")).(wire.Dict)
	if !ok {
		t.Fatal("fs_info did not return a mapping")
	}
	if tokens, _ := info.Lookup("num_of_tokens"); tokens != wire.String("2") {
		t.Errorf("num_of_tokens = %v", tokens)
	}
}

func TestAttributes(t *testing.T) {
	h := newHarness(t, nil)
	h.must(wire.NewRequest("add", "k=v"))
	h.must(wire.NewRequest("setattr", "k").With("attrs", "owner=ops", "mode=600"))
	attrs := h.must(wire.NewRequest("getattr", "k").With("attrs", "owner"))
	if diff := cmp.Diff(wire.Value(wire.StringMap(map[string]string{"owner": "ops"})), attrs); diff != "" {
		t.Errorf("getattr (-want +got):\n%s", diff)
	}
	stat, _ := h.must(wire.NewRequest("getattr", "k")).(wire.Dict)
	if mode, _ := stat.Lookup("st_mode"); mode != wire.String("0100600") {
		t.Errorf("st_mode = %v", mode)
	}
	h.fails(wire.NewRequest("setattr", "k").With("attrs", "novalue"), failure.UnrecognizedParameter)
	h.fails(wire.NewRequest("setattr", "k"), failure.UnrecognizedSyntax)
}

func TestBindingFlushesImmediately(t *testing.T) {
	h := newHarness(t, nil)
	h.must(wire.NewRequest("add", "/sav/own/k=v"))
	h.must(wire.NewRequest("setattr", "/sav/own").With("attrs", "persistPath=own.data"))

	content, err := os.ReadFile(filepath.Join(filepath.Dir(h.datafile), "own.data"))
	if err != nil {
		t.Fatalf("bound file not written: %v", err)
	}
	if string(content) != "k=v\n" {
		t.Errorf("bound file = %q", content)
	}
	main, _ := os.ReadFile(h.datafile)
	if !strings.Contains(string(main), "//include own.data own") {
		t.Errorf("data file has no include line:\n%s", main)
	}
	if h.store.Stat("flushes") == 0 {
		t.Error("flush counter not incremented")
	}
}

func TestCreateSectionLoadsBoundFile(t *testing.T) {
	h := newHarness(t, nil)
	external := filepath.Join(t.TempDir(), "external.data")
	if err := os.WriteFile(external, []byte("key=from file\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	h.must(wire.NewRequest("create_section", "/sav/ext").With("attrs", "persistPath="+external))
	if got := h.must(wire.NewRequest("get", "/sav/ext/key")); got != wire.String("from file") {
		t.Errorf("loaded value = %v", got)
	}
	h.must(wire.NewRequest("create_section", "empty"))
	h.must(wire.NewRequest("exists", "/ses/empty/"))
	h.fails(wire.NewRequest("create_section", "/ses/x").With("attrs", "persistPath=x.data"), failure.PermissionDenied)
}

func TestLoadFileAndCopy(t *testing.T) {
	h := newHarness(t, nil)
	h.must(wire.NewRequest("load_file", "a=1\n[sub]\nb=2\n").With("from_pars").With("dest", "/ses/loaded"))
	if got := h.must(wire.NewRequest("get", "loaded/sub/b")); got != wire.String("2") {
		t.Errorf("loaded value = %v", got)
	}

	file := filepath.Join(t.TempDir(), "content.txt")
	if err := os.WriteFile(file, []byte("file body"), 0o600); err != nil {
		t.Fatal(err)
	}
	h.must(wire.NewRequest("cp", file, ":copied"))
	if got := h.must(wire.NewRequest("cp", ":copied", "out.txt")); got != wire.String("file body") {
		t.Errorf("cp out = %v", got)
	}
	h.must(wire.NewRequest("cp", "literal", ":lit").With("from_pars"))
	if got := h.must(wire.NewRequest("get", "lit")); got != wire.String("literal") {
		t.Errorf("from_pars copy = %v", got)
	}
	h.fails(wire.NewRequest("cp", "a", "b"), failure.UnrecognizedSyntax)
	h.fails(wire.NewRequest("load_file", "/does/not/exist"), failure.NotFound)
}

func TestRemoveAndRename(t *testing.T) {
	h := newHarness(t, nil)
	h.must(wire.NewRequest("add", "a/b/c=1", "a/d=2"))
	h.must(wire.NewRequest("rename", "a/d", "moved"))
	h.must(wire.NewRequest("exists", "moved"))
	h.fails(wire.NewRequest("exists", "a/d"), failure.NotFound)

	h.must(wire.NewRequest("remove", "a/b/c").With("prune"))
	h.fails(wire.NewRequest("exists", "a"), failure.NotFound)

	h.must(wire.NewRequest("create_section", "s"))
	h.must(wire.NewRequest("remove_section", "s"))
	h.fails(wire.NewRequest("remove_section", "moved"), failure.NotFound)
	h.fails(wire.NewRequest("remove", "/ses"), failure.PermissionDenied)
}

func TestPrograms(t *testing.T) {
	h := newHarness(t, nil)
	h.must(wire.NewRequest("load_file", "touch=touch\n[sh]\nwrite=echo written >\n").With("from_pars").With("dest", "/bin"))

	directory := t.TempDir()
	touched := filepath.Join(directory, "touched")
	h.must(wire.NewRequest("add", "/bin/touch="+token.Escape(touched)))
	if _, err := os.Stat(touched); err != nil {
		t.Errorf("program did not run: %v", err)
	}

	written := filepath.Join(directory, "written")
	h.must(wire.NewRequest("add", "write="+token.Escape(written)).With("dest", "/bin/sh"))
	content, err := os.ReadFile(written)
	if err != nil {
		t.Fatalf("shell program did not run: %v", err)
	}
	if string(content) != "written\n" {
		t.Errorf("shell output = %q", content)
	}

	h.fails(wire.NewRequest("add", "/bin/absent=x"), failure.NotFound)
	h.must(wire.NewRequest("load_file", "fail=false\n").With("from_pars").With("dest", "/bin"))
	h.fails(wire.NewRequest("add", "/bin/fail=x"), failure.OperationFailed)
}

func TestSecureTokens(t *testing.T) {
	reads := 0
	h := newHarness(t, func(config *Config) {
		config.SecureSource = fixedSource{text: "pw=hunter2\n[mail]\nimap=s3cret\n", reads: &reads}
	})

	if got := h.must(wire.NewRequest("get_sec", "mail/imap")); got != wire.String("s3cret") {
		t.Errorf("get_sec = %v", got)
	}
	h.must(wire.NewRequest("get_sec", "pw"))
	if reads != 1 {
		t.Errorf("secure file read %d times, want 1", reads)
	}

	h.must(wire.NewRequest("add_sec", "extra=1"))
	h.must(wire.NewRequest("remove_sec", "extra"))
	h.fails(wire.NewRequest("get_sec", "extra"), failure.NotFound)
	h.must(wire.NewRequest("remove_section_sec", "mail"))
	h.fails(wire.NewRequest("get_sec", "mail/imap"), failure.NotFound)

	h.must(wire.NewRequest("clear_sec"))
	h.must(wire.NewRequest("load_file_sec"))
	if reads != 2 {
		t.Errorf("load_file_sec did not reread: %d reads", reads)
	}

	h.must(wire.NewRequest("add", "session=1"))
	h.must(wire.NewRequest("clear_session"))
	h.fails(wire.NewRequest("get", "session"), failure.NotFound)
	h.fails(wire.NewRequest("get_sec", "pw"), failure.NotFound)
}

func TestSecureWithoutSource(t *testing.T) {
	h := newHarness(t, nil)
	h.fails(wire.NewRequest("get_sec", "pw"), failure.OperationFailed)
}

func TestReopenReadsDatafile(t *testing.T) {
	h := newHarness(t, nil)
	h.must(wire.NewRequest("add", "kept=yes").With("pers"))
	if err := h.store.Flush(); err != nil {
		t.Fatal(err)
	}

	reopened, err := Open(Config{Datafile: h.datafile})
	if err != nil {
		t.Fatal(err)
	}
	value, err := NewDispatcher(reopened).Dispatch(context.Background(), wire.NewRequest("get", "/sav/kept"))
	if err != nil {
		t.Fatal(err)
	}
	if value != wire.String("yes") {
		t.Errorf("reopened value = %v", value)
	}
}
