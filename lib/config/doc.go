// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

// Package config loads the regd daemon configuration.
//
// [Default] returns a complete configuration. [LoadFile] overlays a
// YAML file on it; files ending in .json or .jsonc are read as JSON
// with comments. String values may reference ${VAR} or ${VAR:-default}
// and a leading "~/" is the home directory. [Load] picks the file from
// REGD_CONFIG, then $XDG_CONFIG_HOME/regd/regd.yaml, and falls back to
// the defaults when neither exists.
//
// Command-line flags of "regd start" are applied on top of the loaded
// configuration, and [Config.Validate] runs last, reporting every
// problem at once.
package config
