// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"errors"
	"fmt"
	"io"

	"github.com/al-berger/regd/lib/codec"
)

// Fault kinds.
const (
	FaultPanic   = "panic"
	FaultStartup = "startup"
	FaultExit    = "exit"
)

// Fault reports a worker failure on the exception channel.
type Fault struct {
	Kind    string `cbor:"kind"`
	Message string `cbor:"message"`
	Stack   string `cbor:"stack,omitempty"`
}

func (f Fault) Error() string {
	return fmt.Sprintf("storage worker %s: %s", f.Kind, f.Message)
}

func writeFault(w io.Writer, fault Fault) error {
	if w == nil {
		return nil
	}
	return codec.NewEncoder(w).Encode(fault)
}

// readFaults decodes records until the writer closes the pipe. A
// truncated record is reported as a fault of its own.
func readFaults(r io.Reader, report func(Fault)) {
	decoder := codec.NewDecoder(r)
	for {
		var fault Fault
		err := decoder.Decode(&fault)
		if errors.Is(err, io.EOF) {
			return
		}
		if err != nil {
			report(Fault{Kind: FaultExit, Message: fmt.Sprintf("reading exception channel: %v", err)})
			return
		}
		report(fault)
	}
}
