// Copyright 2026 The regd Authors
// SPDX-License-Identifier: Apache-2.0

// Package clock abstracts the time operations regd depends on: node
// timestamps, server uptime, the storage worker's periodic flush and
// the bounded wait on the worker pipe.
//
// Production code holds a Clock (Real()); tests inject Fake() and move
// time with Advance, using WaitForWaiters to avoid racing the goroutine
// that registers the ticker or timer.
package clock
