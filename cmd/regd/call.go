// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/al-berger/regd/lib/address"
	"github.com/al-berger/regd/lib/client"
	"github.com/al-berger/regd/lib/config"
	"github.com/al-berger/regd/lib/failure"
	"github.com/al-berger/regd/lib/wire"
)

// serverCommands lists the server commands exposed as client
// subcommands, in help order.
var serverCommands = []struct {
	name    string
	summary string
	usage   string
}{
	{"add", "Add tokens", "name=value..."},
	{"get", "Print token values", "name..."},
	{"exists", "Exit 0 when a token or section exists, 3 otherwise", "path"},
	{"ls", "List a section", "[section]"},
	{"getattr", "Print attributes of a token or section", "path"},
	{"setattr", "Set attributes of a token or section", "path --attrs k=v"},
	{"cp", "Copy between tokens and server-side files", "source destination"},
	{"rename", "Move a token or section", "source destination"},
	{"remove", "Remove tokens", "path..."},
	{"remove_section", "Remove sections", "section..."},
	{"create_section", "Create sections", "section..."},
	{"load_file", "Load server-side token files", "file..."},
	{"fs_info", "Print storage statistics", "[section]"},
	{"add_sec", "Add secure tokens", "name=value..."},
	{"get_sec", "Print a secure token", "name"},
	{"load_file_sec", "Load secure tokens from the encrypted file", "[file]"},
	{"remove_sec", "Remove a secure token", "name"},
	{"remove_section_sec", "Remove a secure section", "section"},
	{"clear_sec", "Drop all secure tokens", ""},
	{"clear_session", "Drop session tokens and secure tokens", ""},
	{"check", "Report whether the server is up", ""},
	{"info", "Print server information", ""},
	{"version", "Print the server version", ""},
	{"report", "Print a server report", "access|datafile|commands|storage"},
	{"show_log", "Print the last lines of the server log", "[n]"},
	{"stop", "Stop the server", ""},
}

// callFlags are the flags shared by every client subcommand. The
// server rejects options a command does not take.
type callFlags struct {
	server    string
	host      string
	port      int
	socketDir string
	timeout   time.Duration

	pers, force, sum, tree, novals, recursive, prune, fromPars bool

	dest        string
	attrs       []string
	binaryFiles []string
}

func (c *callFlags) flagSet(name string) *pflag.FlagSet {
	flags := pflag.NewFlagSet(name, pflag.ContinueOnError)
	flags.StringVarP(&c.server, "server", "s", config.DefaultServerName, "server name, or user@name for another user's server")
	flags.StringVar(&c.host, "host", "", "connect over TCP to this host")
	flags.IntVar(&c.port, "port", 0, "TCP port")
	flags.StringVar(&c.socketDir, "socket-dir", "", "runtime directory of the socket")
	flags.DurationVar(&c.timeout, "timeout", 0, "call timeout (default 5s, 40s for secure reads)")

	flags.BoolVarP(&c.pers, "pers", "p", false, "use persistent tokens")
	flags.BoolVarP(&c.force, "force", "f", false, "overwrite existing tokens")
	flags.BoolVar(&c.sum, "sum", false, "add numeric values to existing tokens")
	flags.BoolVar(&c.tree, "tree", false, "list as an indented tree")
	flags.BoolVar(&c.novals, "novals", false, "list names without values")
	flags.BoolVarP(&c.recursive, "recursive", "r", false, "list subsections")
	flags.BoolVar(&c.prune, "prune", false, "remove sections left empty")
	flags.BoolVar(&c.fromPars, "from-pars", false, "treat arguments as file content")
	flags.StringVar(&c.dest, "dest", "", "section tokens are added under")
	flags.StringArrayVarP(&c.attrs, "attrs", "a", nil, "attribute k=v (repeatable)")
	flags.StringArrayVar(&c.binaryFiles, "binary-file", nil, "read the value of the matching token from this file (repeatable)")
	return flags
}

// request builds the wire request for command.
func (c *callFlags) request(command string, params []string) (*wire.Request, error) {
	request := wire.NewRequest(command, params...)
	for _, option := range []struct {
		name string
		set  bool
	}{
		{"pers", c.pers},
		{"force", c.force},
		{"sum", c.sum},
		{"tree", c.tree},
		{"novals", c.novals},
		{"recursive", c.recursive},
		{"prune", c.prune},
		{"from_pars", c.fromPars},
	} {
		if option.set {
			request.With(option.name)
		}
	}
	if c.dest != "" {
		request.With("dest", c.dest)
	}
	if len(c.attrs) > 0 {
		request.With("attrs", c.attrs...)
	}
	if len(c.binaryFiles) > 0 {
		values := make([]string, len(c.binaryFiles))
		for index, path := range c.binaryFiles {
			data, err := os.ReadFile(path)
			if err != nil {
				return nil, failure.Wrap(failure.NotFound, err, "reading binary value")
			}
			values[index] = string(data)
		}
		request.With(wire.BinaryOption, values...)
	}
	return request, nil
}

func (c *callFlags) address() (address.Address, error) {
	if c.host != "" || c.port != 0 {
		if c.port == 0 {
			return address.Address{}, failure.New(failure.UnrecognizedParameter, "--host needs --port")
		}
		return address.TCP(c.host, c.port), nil
	}
	return address.Unix(c.server, c.socketDir)
}

func (a *app) clientCommands() []*Command {
	commands := make([]*Command, 0, len(serverCommands))
	for _, server := range serverCommands {
		var flags callFlags
		usage := "regd " + server.name + " [flags]"
		if server.usage != "" {
			usage += " " + server.usage
		}
		commands = append(commands, &Command{
			Name:    server.name,
			Summary: server.summary,
			Usage:   usage,
			Flags:   func() *pflag.FlagSet { return flags.flagSet(server.name) },
			Run: func(args []string) error {
				return a.call(&flags, server.name, args)
			},
		})
	}
	return commands
}

func (a *app) call(flags *callFlags, command string, params []string) error {
	addr, err := flags.address()
	if err != nil {
		return err
	}
	request, err := flags.request(command, params)
	if err != nil {
		return err
	}
	value, err := client.New(addr).WithTimeouts(flags.timeout, flags.timeout).Call(context.Background(), request)
	if err != nil {
		return err
	}
	return a.print(value)
}

// print writes a response value to stdout. Raw bytes go out unchanged
// and are refused when stdout is a terminal.
func (a *app) print(value wire.Value) error {
	if containsBytes(value) && a.terminal(a.stdout) {
		return failure.New(failure.OperationFailed, "refusing to print a binary value to a terminal, redirect the output")
	}
	if raw, ok := value.(wire.Bytes); ok {
		_, err := a.stdout.Write(raw)
		return err
	}
	text := wire.Text(value)
	if text == "" {
		return nil
	}
	_, err := fmt.Fprintln(a.stdout, text)
	return err
}

func containsBytes(value wire.Value) bool {
	switch typed := value.(type) {
	case wire.Bytes:
		return true
	case wire.List:
		for _, item := range typed {
			if containsBytes(item) {
				return true
			}
		}
	case wire.Dict:
		for _, pair := range typed {
			if containsBytes(pair.Value) {
				return true
			}
		}
	}
	return false
}
