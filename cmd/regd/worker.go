// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"

	"github.com/al-berger/regd/lib/logging"
	"github.com/al-berger/regd/lib/worker"
)

// workerCommand is the entrypoint the daemon re-executes itself with.
// The configuration arrives on stdin.
func (a *app) workerCommand() *Command {
	return &Command{
		Name:   worker.EntrypointArg,
		Hidden: true,
		Run: func(args []string) error {
			cfg, err := worker.ReadConfig(a.stdin)
			if err != nil {
				return err
			}
			logger, err := logging.New(logging.Options{
				Level:  cfg.LogLevel,
				Format: cfg.LogFormat,
				Output: a.stderr,
			})
			if err != nil {
				return err
			}
			return worker.Main(context.Background(), cfg, logger.With("component", "worker"))
		},
	}
}
