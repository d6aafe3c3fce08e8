// Package safepoint provides the public API for the Pure-Go GC safepoint
// runtime.
//
// See doc.go for detailed documentation and examples.
package safepoint

import (
	"errors"
	"sync"

	"github.com/kolkov/safepoint/internal/safepoint/events"
	"github.com/kolkov/safepoint/internal/safepoint/gcroot"
	"github.com/kolkov/safepoint/internal/safepoint/store"
	"github.com/kolkov/safepoint/internal/safepoint/thread"
)

// Errors reported by the facade for expected negative conditions. Invariant
// violations inside the runtime are not errors and surface as panics instead.
var (
	// ErrNotAttached is returned when the calling goroutine has no
	// attached thread.
	ErrNotAttached = errors.New("safepoint: calling goroutine is not attached")

	// ErrGCWorker is returned when a collector worker thread attempts an
	// operation reserved for mutators.
	ErrGCWorker = errors.New("safepoint: operation not permitted on a GC worker thread")

	// ErrBadReverseTransition is returned when native code calls back into
	// managed code on a thread that never left it.
	ErrBadReverseTransition = errors.New("safepoint: reverse transition without a prior native call")

	// ErrOutOfMemory is returned by Allocate when the heap segment cannot
	// serve another allocation region.
	ErrOutOfMemory = store.ErrOutOfMemory
)

var (
	initOnce sync.Once
	world    *store.ThreadStore
)

// Init initializes the global runtime state.
//
// Init is safe to call multiple times (subsequent calls are no-ops) and is
// invoked implicitly by every other entry point, so an explicit call is only
// needed when startup cost should be paid eagerly.
func Init() {
	initOnce.Do(func() {
		world = store.New()
	})
}

// InitWithHeapSize initializes the global runtime state with a heap of the
// given size in bytes. It has no effect if the runtime is already
// initialized.
func InitWithHeapSize(bytes uintptr) {
	initOnce.Do(func() {
		world = store.NewWithHeapSize(int(bytes))
	})
}

// Attach registers the calling goroutine as a mutator thread.
//
// The goroutine is locked to its OS thread until Detach. The thread starts in
// cooperative mode with a fresh allocation region.
func Attach() error {
	Init()
	_, err := world.AttachCurrentThread()
	return err
}

// AttachGCWorker registers the calling goroutine as a collector worker
// thread. Workers are never trapped by a suspension and must not reenter
// managed code through the fast path.
func AttachGCWorker() error {
	Init()
	_, err := world.Attach(store.AttachOptions{GCSpecial: true})
	return err
}

// Detach unregisters the calling goroutine's thread. The thread must be in
// cooperative mode with no live root registrations.
func Detach() error {
	Init()
	return world.DetachCurrentThread()
}

// IsAttached reports whether the calling goroutine has an attached thread.
func IsAttached() bool {
	Init()
	return world.CurrentThread() != nil
}

// EnterNative runs fn as native code: the calling thread is published as
// preemptive for the duration and honors any suspension request on the way
// back, blocking in the rendezvous until released.
//
// This is the forward boundary crossing. Calls may nest.
func EnterNative(fn func()) error {
	Init()
	t := world.CurrentThread()
	if t == nil {
		return ErrNotAttached
	}
	var frame thread.TransitionFrame
	t.EnterPreemptive(&frame)
	defer t.ExitPreemptive(&frame)
	fn()
	return nil
}

// CallManaged runs fn as managed code from a native context: the reverse
// boundary crossing.
//
// The fast path publishes cooperative mode and runs fn directly. When a
// suspension request is pending the fast path declines and the call blocks in
// the rendezvous before retrying, so managed code never runs under a
// stop-the-world.
func CallManaged(fn func()) error {
	Init()
	t := world.CurrentThread()
	if t == nil {
		return ErrNotAttached
	}
	if t.IsGCSpecial() {
		return ErrGCWorker
	}
	if t.InCooperativeMode() && !t.IsDoNotTriggerGC() {
		return ErrBadReverseTransition
	}

	var rf thread.ReverseFrame
	for !t.TryFastReenterCooperative(&rf) {
		// Declined because a suspension is pending: rendezvous through
		// the still-published transition frame, then retry.
		world.WaitForRelease(t.TransitionFrame())
	}
	defer t.ReturnFromFastReentry(&rf)
	fn()
	return nil
}

// Allocate bump-allocates size bytes on the calling thread's allocation
// context and returns the address. The memory is zeroed region memory owned
// by the runtime's heap segment.
func Allocate(size uintptr) (uintptr, error) {
	Init()
	t := world.CurrentThread()
	if t == nil {
		return 0, ErrNotAttached
	}
	return world.Allocate(t, size)
}

// RefillCurrentRegion discards the remainder of the calling thread's
// allocation region and installs a fresh one. Mostly useful to make a
// sampling enable/disable take effect immediately instead of at the next
// natural refill.
func RefillCurrentRegion() error {
	Init()
	t := world.CurrentThread()
	if t == nil {
		return ErrNotAttached
	}
	return world.RefillAllocContext(t)
}

// WithConservativeRoots runs fn with [start, start+words) registered as a
// conservative root range on the calling thread. Registrations nest strictly
// LIFO by construction.
func WithConservativeRoots(start, words uintptr, fn func()) error {
	Init()
	t := world.CurrentThread()
	if t == nil {
		return ErrNotAttached
	}
	reg := gcroot.Registration{Start: start, WordCount: words}
	t.Roots().Push(&reg)
	defer t.Roots().Pop(&reg)
	fn()
	return nil
}

// SuspendTheWorld raises the global suspension request and returns once every
// attached mutator is at a safepoint. Pair with ResumeTheWorld.
func SuspendTheWorld() {
	Init()
	world.SuspendAll()
}

// ResumeTheWorld releases a suspension raised by SuspendTheWorld.
func ResumeTheWorld() {
	Init()
	world.ResumeAll()
}

// CollectRoots walks every registered conservative root range. Legal only
// between SuspendTheWorld and ResumeTheWorld.
func CollectRoots(fn func(start, words uintptr)) {
	Init()
	world.CollectRoots(fn)
}

// EnableAllocationSampling turns on statistical allocation sampling. Already
// filled allocation regions pick the change up at their next refill.
func EnableAllocationSampling() {
	events.Enable(events.LevelInformational, events.KeywordAllocationSampling)
}

// DisableAllocationSampling turns statistical allocation sampling off.
func DisableAllocationSampling() {
	events.Disable(events.KeywordAllocationSampling)
}

// OnAllocationSampled installs fn as the sampled-allocation listener. A nil
// fn removes the listener.
func OnAllocationSampled(fn func(addr, size uintptr)) {
	if fn == nil {
		events.SetAllocationSampledHandler(nil)
		return
	}
	events.SetAllocationSampledHandler(func(s events.AllocationSample) {
		fn(s.Address, s.Size)
	})
}
