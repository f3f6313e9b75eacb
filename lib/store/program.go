// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package store

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"slices"
	"strings"

	"github.com/al-berger/regd/lib/failure"
	"github.com/al-berger/regd/lib/token"
)

// shellSection holds programs run through "sh -c".
const shellSection = "sh"

// runProgram runs the program stored at path/name with the token's
// value as its argument and waits for it.
func (s *Store) runProgram(ctx context.Context, path []string, parsed token.Token) error {
	if parsed.SectionOnly() {
		return failure.Errorf(failure.MalformedToken, "%s names no program", token.FormatPath(true, path))
	}
	node, err := s.tree.Get(append(slices.Clip(path), parsed.Name))
	if err != nil {
		return err
	}
	if node.IsSection() {
		return failure.Errorf(failure.NotFound, "%s is a section, not a program", node.PathString())
	}
	program := strings.TrimSpace(node.Text())
	if program == "" {
		return failure.Errorf(failure.OperationFailed, "%s holds no program", node.PathString())
	}

	ctx, cancel := context.WithTimeout(ctx, s.config.ProgramTimeout)
	defer cancel()

	var run *exec.Cmd
	if len(path) >= 2 && path[1] == shellSection {
		commandLine := program
		if parsed.Value != "" {
			commandLine += " " + parsed.Value
		}
		run = exec.CommandContext(ctx, "sh", "-c", commandLine)
	} else if parsed.HasValue {
		run = exec.CommandContext(ctx, program, parsed.Value)
	} else {
		run = exec.CommandContext(ctx, program)
	}
	var stderr bytes.Buffer
	run.Stderr = &stderr

	s.logger.Debug("running program", "token", node.PathString(), "program", program)
	if err := run.Run(); err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return failure.Errorf(failure.Timeout, "%s did not finish within %s", node.PathString(), s.config.ProgramTimeout)
		}
		message := strings.TrimSpace(stderr.String())
		if message == "" {
			message = err.Error()
		}
		return failure.Errorf(failure.OperationFailed, "%s: %s", node.PathString(), message)
	}
	return nil
}
