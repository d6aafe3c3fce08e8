// Copyright 2025 The safepoint Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build !linux

package store

// osThreadID is unavailable off Linux; 0 means unknown.
func osThreadID() int {
	return 0
}

// stackReserveBytes falls back to the default stack extent.
func stackReserveBytes() uintptr {
	return defaultStackReserve
}
