// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"

	"github.com/spf13/pflag"

	"github.com/al-berger/regd/lib/config"
	"github.com/al-berger/regd/lib/daemon"
	"github.com/al-berger/regd/lib/failure"
	"github.com/al-berger/regd/lib/logging"
)

func (a *app) startCommand() *Command {
	var (
		flags      *pflag.FlagSet
		configPath string
		overrides  config.Config
		inProcess  bool
	)
	return &Command{
		Name:    "start",
		Summary: "Run a server in the foreground",
		Usage:   "regd start [flags]",
		Flags: func() *pflag.FlagSet {
			flags = pflag.NewFlagSet("start", pflag.ContinueOnError)
			flags.StringVarP(&configPath, "config", "c", "", "configuration file (default $"+config.EnvironmentVariable+" or the per-user file)")
			flags.StringVarP(&overrides.Server.Name, "name", "s", "", "server name, selects the socket file")
			flags.StringVar(&overrides.Server.Host, "host", "", "listen on TCP at this host instead of a Unix socket")
			flags.IntVar(&overrides.Server.Port, "port", 0, "TCP port")
			flags.StringVar(&overrides.Server.Access, "access", "", "access level: secure, private, public-read or public")
			flags.StringVar(&overrides.Server.Datafile, "datafile", "", "file persistent tokens are kept in")
			flags.StringVar(&overrides.Server.BinDatafile, "bin-datafile", "", "file persistent binary tokens are kept in")
			flags.StringVar(&overrides.Server.SocketDir, "socket-dir", "", "runtime directory for the socket")
			flags.StringVar(&overrides.Secure.Encfile, "encfile", "", "encrypted file with secure tokens")
			flags.StringVar(&overrides.Log.Level, "log-level", "", "debug, info, warn or error")
			flags.StringVar(&overrides.Log.Format, "log-format", "", "json, text or auto")
			flags.BoolVar(&inProcess, "in-process", false, "run the storage worker inside the server process")
			return flags
		},
		Run: func(args []string) error {
			if len(args) > 0 {
				return failure.Errorf(failure.UnrecognizedSyntax, "start takes no arguments, got %q", args)
			}
			cfg, err := loadConfig(configPath)
			if err != nil {
				return err
			}
			applyOverrides(cfg, &overrides, flags)
			if flags.Changed("in-process") {
				cfg.Storage.InProcess = inProcess
			}

			ring := logging.NewRing(cfg.Log.RingSize)
			logger, err := logging.New(logging.Options{
				Level:  cfg.Log.Level,
				Format: cfg.Log.Format,
				Output: a.stderr,
				Ring:   ring,
			})
			if err != nil {
				return failure.Wrap(failure.UnrecognizedParameter, err, "log configuration")
			}
			d, err := daemon.New(daemon.Options{
				Config:        cfg,
				HandleSignals: true,
				Logger:        logger,
				Ring:          ring,
			})
			if err != nil {
				return err
			}
			return d.Run(context.Background())
		},
	}
}

func loadConfig(path string) (*config.Config, error) {
	if path != "" {
		return config.LoadFile(path)
	}
	return config.Load()
}

// applyOverrides copies every flag the user set onto cfg.
func applyOverrides(cfg, overrides *config.Config, flags *pflag.FlagSet) {
	fields := []struct {
		flag   string
		target *string
		value  string
	}{
		{"name", &cfg.Server.Name, overrides.Server.Name},
		{"host", &cfg.Server.Host, overrides.Server.Host},
		{"access", &cfg.Server.Access, overrides.Server.Access},
		{"datafile", &cfg.Server.Datafile, config.ExpandPath(overrides.Server.Datafile)},
		{"bin-datafile", &cfg.Server.BinDatafile, config.ExpandPath(overrides.Server.BinDatafile)},
		{"socket-dir", &cfg.Server.SocketDir, config.ExpandPath(overrides.Server.SocketDir)},
		{"encfile", &cfg.Secure.Encfile, config.ExpandPath(overrides.Secure.Encfile)},
		{"log-level", &cfg.Log.Level, overrides.Log.Level},
		{"log-format", &cfg.Log.Format, overrides.Log.Format},
	}
	for _, override := range fields {
		if flags.Changed(override.flag) {
			*override.target = override.value
		}
	}
	if flags.Changed("port") {
		cfg.Server.Port = overrides.Server.Port
	}
}
