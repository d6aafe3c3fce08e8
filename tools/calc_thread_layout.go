//go:build ignore
// +build ignore

// This tool prints the memory layout of the runtime's core structures, for
// out-of-process diagnostic readers that walk thread state from a core dump.
// Run with: go run tools/calc_thread_layout.go
package main

import (
	"fmt"
	"unsafe"

	"github.com/kolkov/safepoint/internal/safepoint/allocctx"
	"github.com/kolkov/safepoint/internal/safepoint/gcroot"
	"github.com/kolkov/safepoint/internal/safepoint/thread"
)

func main() {
	var tf thread.TransitionFrame
	var ac allocctx.AllocContext
	var reg gcroot.Registration

	fmt.Println("structure sizes:")
	fmt.Printf("  thread.Thread:          %3d bytes\n", unsafe.Sizeof(thread.Thread{}))
	fmt.Printf("  thread.TransitionFrame: %3d bytes\n", unsafe.Sizeof(tf))
	fmt.Printf("  thread.ReverseFrame:    %3d bytes\n", unsafe.Sizeof(thread.ReverseFrame{}))
	fmt.Printf("  allocctx.AllocContext:  %3d bytes\n", unsafe.Sizeof(ac))
	fmt.Printf("  gcroot.Registration:    %3d bytes\n", unsafe.Sizeof(reg))
	fmt.Println()

	fmt.Println("field offsets:")
	fmt.Printf("  TransitionFrame.Thread:   %2d\n", unsafe.Offsetof(tf.Thread))
	fmt.Printf("  TransitionFrame.CallerSP: %2d\n", unsafe.Offsetof(tf.CallerSP))
	fmt.Printf("  AllocContext.AllocPtr:    %2d\n", unsafe.Offsetof(ac.AllocPtr))
	fmt.Printf("  AllocContext.AllocLimit:  %2d\n", unsafe.Offsetof(ac.AllocLimit))
	fmt.Printf("  Registration.Start:       %2d\n", unsafe.Offsetof(reg.Start))
	fmt.Printf("  Registration.WordCount:   %2d\n", unsafe.Offsetof(reg.WordCount))
	fmt.Println()

	fmt.Printf("pointer size: %d, uintptr size: %d\n",
		unsafe.Sizeof((*int)(nil)), unsafe.Sizeof(uintptr(0)))
}
