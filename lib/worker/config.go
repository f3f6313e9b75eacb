// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

package worker

import (
	"fmt"
	"io"
	"time"

	"github.com/al-berger/regd/lib/codec"
)

// Config is everything the worker needs to open its store. The parent
// encodes it on the child's stdin.
type Config struct {
	Datafile    string `cbor:"datafile,omitempty"`
	BinDatafile string `cbor:"bin_datafile,omitempty"`

	SecureFile        string `cbor:"secure_file,omitempty"`
	SecureReadCommand string `cbor:"secure_read_command,omitempty"`
	AgeIdentity       string `cbor:"age_identity,omitempty"`

	ProgramTimeout time.Duration `cbor:"program_timeout,omitempty"`

	// FlushInterval is the period of the background flush. Zero
	// disables it; changes are then written on flush requests and at
	// stop.
	FlushInterval time.Duration `cbor:"flush_interval,omitempty"`

	// MaxMessageSize bounds a single request frame.
	MaxMessageSize int `cbor:"max_message_size,omitempty"`

	// LogLevel and LogFormat configure the child's stderr logger.
	LogLevel  string `cbor:"log_level,omitempty"`
	LogFormat string `cbor:"log_format,omitempty"`
}

// DefaultMaxMessageSize is used when Config.MaxMessageSize is zero.
const DefaultMaxMessageSize = 64 << 20

func (c Config) maxMessageSize() int {
	if c.MaxMessageSize > 0 {
		return c.MaxMessageSize
	}
	return DefaultMaxMessageSize
}

// ReadConfig decodes the configuration the parent wrote on stdin.
func ReadConfig(r io.Reader) (Config, error) {
	var config Config
	if err := codec.NewDecoder(r).Decode(&config); err != nil {
		return Config{}, fmt.Errorf("decoding worker config: %w", err)
	}
	return config, nil
}
