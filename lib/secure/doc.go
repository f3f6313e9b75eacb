// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

// Package secure reads the plaintext of the secure-token file.
//
// The file is encrypted at rest and never decrypted to disk. A
// [Source] returns its plaintext (token lines in the persistence
// format) in a [Buffer]: memory mapped outside the Go heap, locked
// against swap, excluded from core dumps and zeroed on Close.
//
// Two sources exist. [CommandSource] runs a user-configured shell
// command in which the placeholder FILENAME stands for the encrypted
// file, for example "gpg --decrypt FILENAME", and takes its standard
// output. [AgeSource] decrypts an age file natively with the X25519
// identities of an identity file. [NewSource] picks one from the
// configuration.
package secure
