// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/al-berger/regd/lib/failure"
	"github.com/al-berger/regd/lib/wire"
)

// Dispatcher routes requests of one subsystem to their handlers.
// Register every spec with Handle before the first Dispatch.
type Dispatcher struct {
	subsystem string
	specs     map[string]*Spec
}

// NewDispatcher creates an empty dispatcher. The subsystem name
// appears in errors and metrics.
func NewDispatcher(subsystem string) *Dispatcher {
	return &Dispatcher{subsystem: subsystem, specs: make(map[string]*Spec)}
}

// Subsystem returns the name passed to NewDispatcher.
func (d *Dispatcher) Subsystem() string { return d.subsystem }

// Handle registers spec. Panics on a duplicate name or a nil handler.
func (d *Dispatcher) Handle(spec Spec) {
	if spec.Handler == nil {
		panic(fmt.Sprintf("command.Dispatcher(%s): nil handler for %q", d.subsystem, spec.Name))
	}
	if _, exists := d.specs[spec.Name]; exists {
		panic(fmt.Sprintf("command.Dispatcher(%s): duplicate handler for %q", d.subsystem, spec.Name))
	}
	d.specs[spec.Name] = &spec
}

// Lookup returns the spec registered for name.
func (d *Dispatcher) Lookup(name string) (*Spec, bool) {
	spec, found := d.specs[name]
	return spec, found
}

// Commands returns the registered command names, sorted.
func (d *Dispatcher) Commands() []string {
	return slices.Sorted(maps.Keys(d.specs))
}

// Dispatch validates request and runs its handler.
func (d *Dispatcher) Dispatch(ctx context.Context, request *wire.Request) (wire.Value, error) {
	spec, found := d.specs[request.Command]
	if !found {
		return nil, failure.Errorf(failure.UnrecognizedSyntax, "unknown command %q", request.Command)
	}
	if err := spec.Validate(request); err != nil {
		return nil, err
	}
	return spec.Handler(ctx, request)
}

// Forward returns a dispatcher with the same specs whose handlers all
// call handler instead. The parent process uses it to validate
// storage commands locally and forward them to the worker.
func (d *Dispatcher) Forward(handler Handler) *Dispatcher {
	forwarded := NewDispatcher(d.subsystem)
	for name, spec := range d.specs {
		copied := *spec
		copied.Handler = handler
		forwarded.specs[name] = &copied
	}
	return forwarded
}
