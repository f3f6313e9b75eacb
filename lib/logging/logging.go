// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"golang.org/x/term"
)

// Output formats.
const (
	FormatJSON = "json"
	FormatText = "text"

	// FormatAuto picks text for a terminal and JSON otherwise.
	FormatAuto = "auto"
)

// Options configures New.
type Options struct {
	Level  string
	Format string
	Output io.Writer

	// Ring, when set, receives every record as a text line at the
	// same level.
	Ring *Ring
}

// ParseLevel accepts debug, info, warn and error.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return 0, fmt.Errorf("unknown log level %q (want debug, info, warn or error)", name)
}

// New builds a logger from options. Output defaults to os.Stderr.
func New(options Options) (*slog.Logger, error) {
	level, err := ParseLevel(options.Level)
	if err != nil {
		return nil, err
	}
	output := options.Output
	if output == nil {
		output = os.Stderr
	}
	handlerOptions := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	switch options.Format {
	case FormatJSON:
		handler = slog.NewJSONHandler(output, handlerOptions)
	case FormatText:
		handler = slog.NewTextHandler(output, handlerOptions)
	case "", FormatAuto:
		if isTerminal(output) {
			handler = slog.NewTextHandler(output, handlerOptions)
		} else {
			handler = slog.NewJSONHandler(output, handlerOptions)
		}
	default:
		return nil, fmt.Errorf("unknown log format %q (want json, text or auto)", options.Format)
	}

	if options.Ring != nil {
		handler = fanout{handler, slog.NewTextHandler(options.Ring, handlerOptions)}
	}
	return slog.New(handler), nil
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}

// fanout sends each record to every handler enabled for its level.
type fanout []slog.Handler

func (handlers fanout) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

func (handlers fanout) Handle(ctx context.Context, record slog.Record) error {
	var first error
	for _, handler := range handlers {
		if !handler.Enabled(ctx, record.Level) {
			continue
		}
		if err := handler.Handle(ctx, record.Clone()); err != nil && first == nil {
			first = err
		}
	}
	return first
}

func (handlers fanout) WithAttrs(attrs []slog.Attr) slog.Handler {
	derived := make(fanout, len(handlers))
	for index, handler := range handlers {
		derived[index] = handler.WithAttrs(attrs)
	}
	return derived
}

func (handlers fanout) WithGroup(name string) slog.Handler {
	derived := make(fanout, len(handlers))
	for index, handler := range handlers {
		derived[index] = handler.WithGroup(name)
	}
	return derived
}
