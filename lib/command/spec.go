// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"context"
	"fmt"
	"slices"

	"github.com/al-berger/regd/lib/failure"
	"github.com/al-berger/regd/lib/wire"
)

// Handler executes a validated request.
type Handler func(ctx context.Context, request *wire.Request) (wire.Value, error)

// Arity constrains the number of positional parameters.
type Arity struct {
	min, max int // max < 0: unbounded
}

// Exactly requires n parameters.
func Exactly(n int) Arity { return Arity{min: n, max: n} }

// AtLeast requires n or more parameters.
func AtLeast(n int) Arity { return Arity{min: n, max: -1} }

// Optional accepts zero or one parameter.
func Optional() Arity { return Arity{min: 0, max: 1} }

// Allows reports whether count parameters satisfy the arity.
func (a Arity) Allows(count int) bool {
	return count >= a.min && (a.max < 0 || count <= a.max)
}

func (a Arity) String() string {
	switch {
	case a.max < 0:
		return fmt.Sprintf("at least %d", a.min)
	case a.min == a.max:
		return fmt.Sprintf("exactly %d", a.min)
	default:
		return fmt.Sprintf("%d to %d", a.min, a.max)
	}
}

// Spec declares a command.
type Spec struct {
	Name   string
	Params Arity

	// Required options must be present; Optional options may be.
	// Any other option is rejected.
	Required []string
	Optional []string

	Handler Handler
}

// Validate checks request against the spec. The internal marker
// option is the server's business and is not checked here.
func (s *Spec) Validate(request *wire.Request) error {
	if !s.Params.Allows(len(request.Params)) {
		return failure.Errorf(failure.UnrecognizedSyntax,
			"%s takes %s parameters, got %d", s.Name, s.Params, len(request.Params))
	}
	for _, name := range s.Required {
		if !request.Has(name) {
			return failure.Errorf(failure.UnrecognizedSyntax, "%s requires option %q", s.Name, name)
		}
	}
	for _, option := range request.Options {
		if option.Name == wire.InternalOption {
			continue
		}
		if !slices.Contains(s.Required, option.Name) && !slices.Contains(s.Optional, option.Name) {
			return failure.Errorf(failure.UnrecognizedSyntax, "%s does not accept option %q", s.Name, option.Name)
		}
	}
	return nil
}
