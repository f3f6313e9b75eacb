// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"io"
	"os"

	"golang.org/x/term"

	"github.com/al-berger/regd/lib/process"
)

func main() {
	os.Exit(newApp(os.Stdin, os.Stdout, os.Stderr).main(os.Args[1:]))
}

// app holds the streams a command writes to.
type app struct {
	stdin  io.Reader
	stdout io.Writer
	stderr io.Writer

	// terminal reports whether w is an interactive terminal.
	terminal func(w io.Writer) bool
}

func newApp(stdin io.Reader, stdout, stderr io.Writer) *app {
	return &app{stdin: stdin, stdout: stdout, stderr: stderr, terminal: isTerminal}
}

func (a *app) main(args []string) int {
	err := a.root().Execute(args)
	if err == nil {
		return process.ExitOK
	}
	if coder, ok := err.(interface{ ExitCode() int }); ok {
		return coder.ExitCode()
	}
	return process.Report(a.stderr, err)
}

func (a *app) root() *Command {
	root := &Command{
		Name:    "regd",
		Summary: "Registry daemon for named configuration tokens",
		output:  a.stderr,
		Subcommands: []*Command{
			a.startCommand(),
			a.serversCommand(),
		},
	}
	root.Subcommands = append(root.Subcommands, a.clientCommands()...)
	root.Subcommands = append(root.Subcommands, a.workerCommand())
	return root
}

func isTerminal(w io.Writer) bool {
	file, ok := w.(*os.File)
	return ok && term.IsTerminal(int(file.Fd()))
}
