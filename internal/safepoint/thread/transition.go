package thread

import "github.com/kolkov/safepoint/internal/safepoint/fatal"

// This file is the execution-mode state machine. Two states, cooperative and
// preemptive, with transitions driven by the four boundary-crossing
// operations below. Every transition into cooperative mode must be paired, in
// the same dynamic extent, with the matching transition back out.
//
// Ordering discipline: the store of transitionFrame and the load of the trap
// flag on the exit path form a store-then-load handshake with the suspension
// requester (which stores the flag, then loads the mode). Go's atomic
// operations are sequentially consistent, which is strictly stronger than the
// required ordering, so no explicit fences appear here.

// EnterPreemptive publishes the thread as preemptive on the way into a native
// call.
//
// The frame is stamped with the owning thread and becomes the transition
// frame. Entering a native call with do-not-trigger-GC set is fatal unless a
// global suspension is already in progress: a thread inside a restricted GC
// callout has no business starting an unrestricted native call.
//
//go:nosplit
func (t *Thread) EnterPreemptive(frame *TransitionFrame) {
	if t.IsDoNotTriggerGC() && !t.suspension.IsSuspensionRequested() {
		fatal.Violation("native call with do-not-trigger-GC set and no suspension in progress")
	}
	frame.Thread = t
	t.transitionFrame.Store(frame)
}

// ExitPreemptive returns the thread to cooperative mode after a native call,
// honoring a pending suspension request.
//
// The nil store must complete before the trap flag is checked: the thread has
// to become visibly preemptible before it can be asked to stop, otherwise a
// requester that set the flag and scanned threads could wait forever on a
// thread that still looks cooperative. If a request is pending, the thread
// blocks in the rendezvous until released, the only blocking point in this
// package.
func (t *Thread) ExitPreemptive(frame *TransitionFrame) {
	if t.transitionFrame.Load() != frame {
		fatal.Violation("unpaired exit from preemptive mode")
	}
	t.transitionFrame.Store(nil)
	if t.suspension.IsSuspensionRequested() {
		t.suspension.WaitForRelease(frame)
	}
}

// TryFastReenterCooperative is the fast path for native code calling back
// into managed code.
//
// The current transition frame is saved into frame for the matching
// ReturnFromFastReentry. The fast path declines (returns false, caller takes
// the slow, fully general attach path) when the thread is not attached, is
// already cooperative (a reverse crossing with no matching prior forward
// crossing), or is a GC worker.
//
// With do-not-trigger-GC set the call succeeds without transitioning at all:
// that is the carve-out for callback surfaces reachable during restricted GC
// callouts. It is only sound while a global suspension is in progress, and
// that precondition is checked, not assumed: a carve-out hit with no
// suspension active is fatal.
//
// On the normal success path the thread publishes cooperative mode and then
// re-checks the trap flag; if a request landed in between, the saved frame is
// put back (reverting to preemptive) and the call reports failure so the
// caller reaches the rendezvous through the slow path instead of running
// managed code under a stop-the-world.
func (t *Thread) TryFastReenterCooperative(frame *ReverseFrame) bool {
	frame.savedTransitionFrame = t.transitionFrame.Load()

	if t.IsDoNotTriggerGC() {
		if !t.suspension.IsSuspensionRequested() {
			fatal.Violation("do-not-trigger-GC reentry with no suspension in progress")
		}
		return true
	}

	if !t.IsAttached() {
		return false
	}
	if t.InCooperativeMode() {
		return false // reverse crossing without a prior forward crossing
	}
	if t.IsGCSpecial() {
		return false
	}

	t.transitionFrame.Store(nil)
	if t.suspension.IsSuspensionRequested() {
		t.transitionFrame.Store(frame.savedTransitionFrame)
		return false
	}
	return true
}

// ReturnFromFastReentry restores the transition frame saved by
// TryFastReenterCooperative, returning the thread to its pre-reentry mode.
//
// No suspension check is needed: the thread is heading back to native code,
// which is always a safe place to be stopped.
//
//go:nosplit
func (t *Thread) ReturnFromFastReentry(frame *ReverseFrame) {
	t.transitionFrame.Store(frame.savedTransitionFrame)
}

// SetDeferredTransitionFrame stages frame for allocation helpers that enter
// the runtime from managed code without publishing a real transition frame.
// Owner-thread only; the thread must be cooperative.
func (t *Thread) SetDeferredTransitionFrame(frame *TransitionFrame) {
	if !t.InCooperativeMode() {
		fatal.Violation("deferred frame staged while preemptive")
	}
	t.deferredTransitionFrame = frame
}

// DeferTransitionFrame stages the current transition frame for allocation
// helpers entered through an ordinary native-call crossing. Owner-thread
// only; the thread must be preemptive.
func (t *Thread) DeferTransitionFrame() {
	if t.InCooperativeMode() {
		fatal.Violation("no transition frame to defer in cooperative mode")
	}
	t.deferredTransitionFrame = t.transitionFrame.Load()
}

// DeferredTransitionFrame returns the staged frame. Owner-thread only.
func (t *Thread) DeferredTransitionFrame() *TransitionFrame {
	return t.deferredTransitionFrame
}
