// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package secure

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"

	"filippo.io/age"

	"github.com/al-berger/regd/lib/failure"
)

// FilenamePlaceholder is replaced by the encrypted file's path in a
// read command.
const FilenamePlaceholder = "FILENAME"

// Source produces the plaintext of an encrypted token file.
type Source interface {
	Read(ctx context.Context, file string) (*Buffer, error)
}

// CommandSource runs Command through "sh -c" with FILENAME replaced by
// the shell-quoted file path.
type CommandSource struct {
	Command string
}

func (s CommandSource) Read(ctx context.Context, file string) (*Buffer, error) {
	if !strings.Contains(s.Command, FilenamePlaceholder) {
		return nil, failure.Errorf(failure.UnrecognizedParameter,
			"secure read command %q has no %s placeholder", s.Command, FilenamePlaceholder)
	}
	if _, err := os.Stat(file); err != nil {
		return nil, failure.Errorf(failure.NotFound, "encrypted token file %s: %w", file, err)
	}
	commandLine := strings.ReplaceAll(s.Command, FilenamePlaceholder, shellQuote(file))

	var stdout, stderr bytes.Buffer
	command := exec.CommandContext(ctx, "sh", "-c", commandLine)
	command.Stdout = &stdout
	command.Stderr = &stderr
	if err := command.Run(); err != nil {
		clear(stdout.Bytes())
		message := strings.TrimSpace(stderr.String())
		if message == "" {
			message = err.Error()
		}
		return nil, failure.Errorf(failure.OperationFailed, "reading %s: %s", file, message)
	}
	return Protect(stdout.Bytes())
}

// AgeSource decrypts an age-encrypted file with the identities in
// IdentityFile.
type AgeSource struct {
	IdentityFile string
}

func (s AgeSource) Read(_ context.Context, file string) (*Buffer, error) {
	identityText, err := os.ReadFile(s.IdentityFile)
	if err != nil {
		return nil, failure.Errorf(failure.OperationFailed, "reading age identity: %w", err)
	}
	identities, err := age.ParseIdentities(bytes.NewReader(identityText))
	clear(identityText)
	if err != nil {
		return nil, failure.Errorf(failure.OperationFailed, "parsing age identity %s: %w", s.IdentityFile, err)
	}

	ciphertext, err := os.Open(file)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, failure.Errorf(failure.NotFound, "encrypted token file %s does not exist", file)
		}
		return nil, failure.Errorf(failure.OperationFailed, "opening %s: %w", file, err)
	}
	defer ciphertext.Close()

	reader, err := age.Decrypt(ciphertext, identities...)
	if err != nil {
		return nil, failure.Errorf(failure.OperationFailed, "decrypting %s: %w", file, err)
	}
	plaintext, err := io.ReadAll(reader)
	if err != nil {
		clear(plaintext)
		return nil, failure.Errorf(failure.OperationFailed, "decrypting %s: %w", file, err)
	}
	return Protect(plaintext)
}

// NewSource returns an AgeSource for ".age" files when an identity
// file is configured, and a CommandSource otherwise.
func NewSource(file, readCommand, ageIdentity string) Source {
	if strings.HasSuffix(file, ".age") && ageIdentity != "" {
		return AgeSource{IdentityFile: ageIdentity}
	}
	return CommandSource{Command: readCommand}
}

func shellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

// String describes the source for logs.
func (s CommandSource) String() string { return fmt.Sprintf("command %q", s.Command) }

func (s AgeSource) String() string { return "age identity " + s.IdentityFile }
