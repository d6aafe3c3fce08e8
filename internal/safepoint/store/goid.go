// Copyright 2025 The safepoint Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Goroutine ID extraction for the thread registry.
//
// Attached threads are keyed by the ID of the goroutine that attached them
// (which is locked to its OS thread for the lifetime of the attachment).
// The ID is parsed from the first line of runtime.Stack output:
// "goroutine 123 [running]:".
//
// This lookup sits on the attach/detach and CurrentThread paths only; the
// boundary-crossing and allocation hot paths all take an explicit *Thread and
// never pay for it.

package store

import "runtime"

// currentGoroutineID returns the current goroutine's ID, or 0 if the stack
// header cannot be parsed (which would indicate a runtime format change).
func currentGoroutineID() int64 {
	// Only the first line is needed. 64 bytes always covers
	// "goroutine <id> [running]:".
	var buf [64]byte
	n := runtime.Stack(buf[:], false)
	return parseGID(buf[:n])
}

// parseGID extracts the numeric ID from a "goroutine 123 [running]:" header.
// Returns 0 on malformed input.
func parseGID(buf []byte) int64 {
	const prefix = "goroutine "
	if len(buf) < len(prefix) || string(buf[:len(prefix)]) != prefix {
		return 0
	}

	var gid int64
	for i := len(prefix); i < len(buf); i++ {
		c := buf[i]
		if c < '0' || c > '9' {
			break
		}
		gid = gid*10 + int64(c-'0')
	}
	return gid
}
