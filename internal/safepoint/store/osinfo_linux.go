// Copyright 2025 The safepoint Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

//go:build linux

package store

import "golang.org/x/sys/unix"

// osThreadID returns the kernel thread id of the calling thread. Valid only
// after runtime.LockOSThread.
func osThreadID() int {
	return unix.Gettid()
}

// stackReserveBytes returns the stack extent to assume for an attaching
// thread, taken from RLIMIT_STACK when it is finite and sane.
func stackReserveBytes() uintptr {
	var rl unix.Rlimit
	if err := unix.Getrlimit(unix.RLIMIT_STACK, &rl); err == nil {
		if rl.Cur != unix.RLIM_INFINITY && rl.Cur > 0 && rl.Cur <= maxStackReserve {
			return uintptr(rl.Cur)
		}
	}
	return defaultStackReserve
}
