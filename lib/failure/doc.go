// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

// Package failure defines the error kinds shared by every regd
// component. A [Kind] survives wrapping with fmt.Errorf("%w") and is
// recovered with [KindOf]. At the wire boundary an error becomes a
// failure response whose message is "<kind>: <text>"; [FromMessage]
// turns such a message back into an *Error on the client side.
package failure
