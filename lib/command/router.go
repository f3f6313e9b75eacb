// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package command

import (
	"fmt"
)

// Router maps command names to the dispatcher owning them.
type Router struct {
	owners map[string]*Dispatcher
}

// NewRouter combines dispatchers. Two dispatchers registering the
// same command is an error.
func NewRouter(dispatchers ...*Dispatcher) (*Router, error) {
	router := &Router{owners: make(map[string]*Dispatcher)}
	for _, dispatcher := range dispatchers {
		for name := range dispatcher.specs {
			if previous, exists := router.owners[name]; exists {
				return nil, fmt.Errorf("command %q registered by both %s and %s",
					name, previous.subsystem, dispatcher.subsystem)
			}
			router.owners[name] = dispatcher
		}
	}
	return router, nil
}

// Route returns the dispatcher for command.
func (r *Router) Route(command string) (*Dispatcher, bool) {
	dispatcher, found := r.owners[command]
	return dispatcher, found
}
