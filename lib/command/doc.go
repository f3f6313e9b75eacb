// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

// Package command declares the registry's commands and routes
// requests to their handlers.
//
// A [Spec] names a command, the number of positional parameters it
// takes and the options it accepts. A [Dispatcher] holds the specs of
// one subsystem (storage, info, control) and validates each request
// against the matching spec before calling its handler, so handlers
// never see an unknown option or a wrong parameter count. A [Router]
// chains dispatchers and reports which subsystem owns a command.
package command
