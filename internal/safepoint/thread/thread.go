// Package thread implements the per-thread control state the collector
// coordinates with: the cooperative/preemptive execution-mode machine driven
// by native-call boundary crossings, the embedded bump-allocation context, and
// the registry of conservatively scanned stack root ranges.
//
// One Thread exists per attached OS thread, created at attach and destroyed at
// detach. All mutation of a Thread is performed by its owning thread; the
// suspension requester and the collector only read, either racily for the
// mode flag fast check or after the owner is confirmed stopped. Nothing in
// this package allocates, blocks, or takes a lock on the boundary-crossing or
// allocation fast paths; the single blocking point is the suspension
// rendezvous reached from ExitPreemptive.
//
// # Mode encoding
//
// The transition-frame pointer is the sole mode flag: nil means cooperative
// (executing managed code, must not be stopped asynchronously), non-nil means
// preemptive (in native code, stoppable at any instant). There is no separate
// boolean, so the frame and the mode can never diverge.
package thread

import (
	"sync/atomic"

	"github.com/kolkov/safepoint/internal/safepoint/allocctx"
	"github.com/kolkov/safepoint/internal/safepoint/fatal"
	"github.com/kolkov/safepoint/internal/safepoint/gcroot"
	"github.com/kolkov/safepoint/internal/safepoint/stresslog"
)

// Flags is the thread state bitset.
type Flags uint32

// Thread state flags.
const (
	// FlagAttached is set once the thread is registered with the store.
	FlagAttached Flags = 1 << iota

	// FlagDetached is set when the thread has been unregistered.
	FlagDetached

	// FlagGCSpecial marks collector worker threads, which must never
	// reenter managed code through the fast path.
	FlagGCSpecial

	// FlagDoNotTriggerGC marks narrow reentrant callback windows during
	// which the thread must not reach the suspension rendezvous.
	FlagDoNotTriggerGC
)

// Suspension is the global suspension coordinator as seen from one thread.
//
// IsSuspensionRequested is a racy, lock-free read of the global trap flag.
// WaitForRelease is the blocking rendezvous a thread enters after it has
// published cooperative mode and observed a pending request; it returns only
// when the coordinator releases the thread.
type Suspension interface {
	IsSuspensionRequested() bool
	WaitForRelease(frame *TransitionFrame)
}

// TransitionFrame captures the state needed to resume managed execution after
// a call into native code. Instances are stack-transient, living for exactly
// one native call.
type TransitionFrame struct {
	// Thread is the owning thread, filled in by EnterPreemptive.
	Thread *Thread

	// CallerSP records the managed stack pointer at the crossing, for the
	// stack walker. Zero when the caller has nothing to report.
	CallerSP uintptr
}

// ReverseFrame captures the transition frame that was active before a call
// from native into managed code, so ReturnFromFastReentry can restore it.
// Stack-transient, one per reverse crossing.
type ReverseFrame struct {
	savedTransitionFrame *TransitionFrame
}

// Saved returns the transition frame captured by TryFastReenterCooperative.
// Diagnostic use only.
func (rf *ReverseFrame) Saved() *TransitionFrame {
	return rf.savedTransitionFrame
}

// Thread is the per-OS-thread aggregate.
//
// Field order matters to the out-of-process diagnostic reader: the mode flag,
// stack bounds and stress-log handle stay at the top of the struct.
type Thread struct {
	// transitionFrame is the authoritative mode flag: nil means cooperative.
	// Written only by the owning thread, read racily cross-thread.
	transitionFrame atomic.Pointer[TransitionFrame]

	// stackLow and stackHigh bound the thread's stack, fixed at attach.
	stackLow  uintptr
	stackHigh uintptr

	// stressLog is the write-once diagnostic log handle.
	stressLog atomic.Pointer[stresslog.Log]

	// flags holds the Flags bitset.
	flags atomic.Uint32

	// deferredTransitionFrame stages a frame for low-level allocation
	// helpers that have not yet published a real transition frame. Written
	// only from the owning thread's context, never read cross-thread.
	deferredTransitionFrame *TransitionFrame

	// allocContext is the embedded bump-allocation state.
	allocContext allocctx.AllocContext

	// roots is the conservative root-range registry.
	roots gcroot.List

	// suspension is the coordinator bound at attach.
	suspension Suspension

	// osThreadID is the OS thread id recorded at attach, 0 if unknown.
	osThreadID int
}

// New returns a thread bound to the given suspension coordinator, with its
// allocation sampling budgets drawn from a generator seeded with seed.
//
// The thread is not yet attached: the store sets stack bounds, flags and the
// initial allocation region during attach.
func New(sus Suspension, seed uint64) *Thread {
	t := &Thread{suspension: sus}
	t.allocContext.SetBudgetSource(allocctx.NewGeometric(seed))
	return t
}

// InCooperativeMode reports whether the thread is executing managed code.
//
// Exact only on the owning thread. A cross-thread call sees a racy snapshot,
// useful for diagnostics and for the suspender's polling loop but never as a
// correctness guarantee on its own.
//
//go:nosplit
func (t *Thread) InCooperativeMode() bool {
	return t.transitionFrame.Load() == nil
}

// TransitionFrame returns the current transition frame, nil in cooperative
// mode. Cross-thread reads are racy snapshots.
func (t *Thread) TransitionFrame() *TransitionFrame {
	return t.transitionFrame.Load()
}

// AllocContext returns the thread's allocation context.
func (t *Thread) AllocContext() *allocctx.AllocContext {
	return &t.allocContext
}

// Roots returns the thread's root-range registry.
func (t *Thread) Roots() *gcroot.List {
	return &t.roots
}

// IsStateSet reports whether all bits in f are set.
func (t *Thread) IsStateSet(f Flags) bool {
	return Flags(t.flags.Load())&f == f
}

// SetState sets the bits in f.
func (t *Thread) SetState(f Flags) {
	for {
		old := t.flags.Load()
		if t.flags.CompareAndSwap(old, old|uint32(f)) {
			return
		}
	}
}

// ClearState clears the bits in f.
func (t *Thread) ClearState(f Flags) {
	for {
		old := t.flags.Load()
		if t.flags.CompareAndSwap(old, old&^uint32(f)) {
			return
		}
	}
}

// IsAttached reports whether the thread is attached to the store.
func (t *Thread) IsAttached() bool { return t.IsStateSet(FlagAttached) }

// IsGCSpecial reports whether this is a collector worker thread.
func (t *Thread) IsGCSpecial() bool { return t.IsStateSet(FlagGCSpecial) }

// IsDoNotTriggerGC reports whether the do-not-trigger-GC override is set.
func (t *Thread) IsDoNotTriggerGC() bool { return t.IsStateSet(FlagDoNotTriggerGC) }

// SetDoNotTriggerGC raises the do-not-trigger-GC override. While set, the
// thread may reenter cooperative mode during a suspension instead of being
// trapped.
func (t *Thread) SetDoNotTriggerGC() { t.SetState(FlagDoNotTriggerGC) }

// ClearDoNotTriggerGC drops the do-not-trigger-GC override.
func (t *Thread) ClearDoNotTriggerGC() { t.ClearState(FlagDoNotTriggerGC) }

// SetStackBounds fixes the thread's stack extent. Called once at attach;
// resetting established bounds is fatal.
func (t *Thread) SetStackBounds(low, high uintptr) {
	if low == 0 || high == 0 || low >= high {
		fatal.Violation("stack bounds [%#x, %#x) are malformed", low, high)
	}
	if t.stackLow != 0 || t.stackHigh != 0 {
		fatal.Violation("stack bounds set twice")
	}
	t.stackLow, t.stackHigh = low, high
}

// StackBounds returns the stack extent fixed at attach.
func (t *Thread) StackBounds() (low, high uintptr) {
	if t.stackLow == 0 || t.stackHigh == 0 {
		fatal.Violation("stack bounds read before attach")
	}
	return t.stackLow, t.stackHigh
}

// IsWithinStackBounds reports whether p points into this thread's stack.
func (t *Thread) IsWithinStackBounds(p uintptr) bool {
	if t.stackLow == 0 || t.stackHigh == 0 {
		fatal.Violation("stack containment check before attach")
	}
	return t.stackLow <= p && p < t.stackHigh
}

// SetStressLog installs the diagnostic log handle. Write-once; a second call
// is fatal.
func (t *Thread) SetStressLog(l *stresslog.Log) {
	if !t.stressLog.CompareAndSwap(nil, l) {
		fatal.Violation("stress log handle set twice")
	}
}

// StressLog returns the diagnostic log handle, nil if never set. Safe for the
// diagnostic reader to call cross-thread.
func (t *Thread) StressLog() *stresslog.Log {
	return t.stressLog.Load()
}

// SetOSThreadID records the OS thread id at attach.
func (t *Thread) SetOSThreadID(tid int) {
	t.osThreadID = tid
}

// OSThreadID returns the OS thread id recorded at attach, 0 if unknown.
func (t *Thread) OSThreadID() int {
	return t.osThreadID
}
