// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"testing"

	"github.com/google/go-cmp/cmp"

	"github.com/al-berger/regd/lib/failure"
	"github.com/al-berger/regd/lib/wire"
)

func echo(_ context.Context, request *wire.Request) (wire.Value, error) {
	return wire.Strings(request.Params), nil
}

func TestArity(t *testing.T) {
	tests := []struct {
		arity Arity
		count int
		want  bool
	}{
		{Exactly(0), 0, true},
		{Exactly(0), 1, false},
		{Exactly(2), 1, false},
		{Exactly(2), 2, true},
		{AtLeast(1), 0, false},
		{AtLeast(1), 5, true},
		{Optional(), 0, true},
		{Optional(), 1, true},
		{Optional(), 2, false},
	}
	for _, test := range tests {
		if got := test.arity.Allows(test.count); got != test.want {
			t.Errorf("%s.Allows(%d) = %v, want %v", test.arity, test.count, got, test.want)
		}
	}
}

func TestDispatchValidates(t *testing.T) {
	dispatcher := NewDispatcher("storage")
	dispatcher.Handle(Spec{
		Name:     "setattr",
		Params:   Exactly(1),
		Required: []string{"attrs"},
		Optional: []string{"pers"},
		Handler:  echo,
	})

	tests := []struct {
		name    string
		request *wire.Request
		kind    failure.Kind
	}{
		{"unknown command", wire.NewRequest("frob"), failure.UnrecognizedSyntax},
		{"too few params", wire.NewRequest("setattr").With("attrs", "a=b"), failure.UnrecognizedSyntax},
		{"too many params", wire.NewRequest("setattr", "x", "y").With("attrs", "a=b"), failure.UnrecognizedSyntax},
		{"missing required", wire.NewRequest("setattr", "x"), failure.UnrecognizedSyntax},
		{"unknown option", wire.NewRequest("setattr", "x").With("attrs", "a=b").With("force"), failure.UnrecognizedSyntax},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := dispatcher.Dispatch(context.Background(), test.request)
			if !failure.Is(err, test.kind) {
				t.Errorf("Dispatch = %v, want %v", err, test.kind)
			}
		})
	}

	request := wire.NewRequest("setattr", "x").With("attrs", "a=b").With("pers").With(wire.InternalOption)
	value, err := dispatcher.Dispatch(context.Background(), request)
	if err != nil {
		t.Fatalf("valid request: %v", err)
	}
	if diff := cmp.Diff(wire.Value(wire.Strings([]string{"x"})), value); diff != "" {
		t.Errorf("handler result (-want +got):\n%s", diff)
	}
}

func TestHandleDuplicatePanics(t *testing.T) {
	dispatcher := NewDispatcher("info")
	dispatcher.Handle(Spec{Name: "check", Params: Exactly(0), Handler: echo})
	defer func() {
		if recover() == nil {
			t.Error("second Handle for the same name did not panic")
		}
	}()
	dispatcher.Handle(Spec{Name: "check", Params: Exactly(0), Handler: echo})
}

func TestForward(t *testing.T) {
	local := NewDispatcher("storage")
	local.Handle(Spec{Name: "get", Params: AtLeast(1), Optional: []string{"pers"}, Handler: echo})

	var forwarded []string
	remote := local.Forward(func(_ context.Context, request *wire.Request) (wire.Value, error) {
		forwarded = append(forwarded, request.Command)
		return wire.Null{}, nil
	})

	if _, err := remote.Dispatch(context.Background(), wire.NewRequest("get")); !failure.Is(err, failure.UnrecognizedSyntax) {
		t.Errorf("forwarded dispatcher skipped validation: %v", err)
	}
	if _, err := remote.Dispatch(context.Background(), wire.NewRequest("get", "/ses/a")); err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff([]string{"get"}, forwarded); diff != "" {
		t.Errorf("forwarded commands (-want +got):\n%s", diff)
	}

	// The original keeps its own handler.
	value, err := local.Dispatch(context.Background(), wire.NewRequest("get", "/ses/a"))
	if err != nil {
		t.Fatal(err)
	}
	if _, isList := value.(wire.List); !isList {
		t.Errorf("original dispatcher result = %T, want wire.List", value)
	}
}

func TestRouter(t *testing.T) {
	storage := NewDispatcher("storage")
	storage.Handle(Spec{Name: "get", Params: AtLeast(1), Handler: echo})
	info := NewDispatcher("info")
	info.Handle(Spec{Name: "check", Params: Exactly(0), Handler: echo})

	router, err := NewRouter(storage, info)
	if err != nil {
		t.Fatal(err)
	}
	if owner, found := router.Route("check"); !found || owner.Subsystem() != "info" {
		t.Errorf("Route(check) = %v, %v", owner, found)
	}
	if _, found := router.Route("frob"); found {
		t.Error("Route(frob) found an owner")
	}

	clash := NewDispatcher("control")
	clash.Handle(Spec{Name: "get", Params: Exactly(0), Handler: echo})
	if _, err := NewRouter(storage, clash); err == nil {
		t.Error("NewRouter accepted a command registered twice")
	}
}
