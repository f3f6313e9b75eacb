// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

// Package codec is the CBOR configuration shared by regd's internal
// records.
//
// Clients never see CBOR: they speak the framed wire protocol of
// lib/wire. CBOR is used between the daemon and its storage worker,
// for the configuration handed to the worker on its standard input
// and for fault reports written to the exception channel.
//
// Encoding follows Core Deterministic Encoding (RFC 8949 §4.2), so the
// same record always yields the same bytes. Internal record types use
// `cbor` struct tags.
//
//	data, err := codec.Marshal(record)
//	err = codec.Unmarshal(data, &record)
//
//	encoder := codec.NewEncoder(pipe)
//	decoder := codec.NewDecoder(pipe)
package codec
