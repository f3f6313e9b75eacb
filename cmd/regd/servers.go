// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/al-berger/regd/lib/address"
	"github.com/al-berger/regd/lib/client"
)

// serversCommand lists the current user's socket files and whether a
// server answers on each.
func (a *app) serversCommand() *Command {
	var socketDir string
	return &Command{
		Name:    "servers",
		Summary: "List servers of the current user",
		Flags: func() *pflag.FlagSet {
			flags := pflag.NewFlagSet("servers", pflag.ContinueOnError)
			flags.StringVar(&socketDir, "socket-dir", "", "runtime directory of the sockets")
			return flags
		},
		Run: func(args []string) error {
			sockets, err := address.Running(socketDir)
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(a.stdout, 2, 0, 3, ' ', 0)
			for _, name := range slices.Sorted(maps.Keys(sockets)) {
				state := "stale"
				if client.Running(context.Background(), address.Address{Name: name, Path: sockets[name]}) {
					state = "running"
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", name, state, sockets[name])
			}
			return tw.Flush()
		},
	}
}
