// Package safepoint provides a pure-Go runtime layer that coordinates garbage
// collection with native-call boundary crossings, without a global lock on
// either path.
//
// The package maintains one control structure per attached thread holding
// three tightly coupled mechanisms: the cooperative/preemptive execution-mode
// state machine driven by crossings into and out of native code, a
// bump-pointer allocation context with statistical allocation sampling, and a
// registry of conservatively scanned stack root ranges.
//
// # Quick Start
//
// A mutator attaches once, then brackets its native calls:
//
//	if err := safepoint.Attach(); err != nil {
//		log.Fatal(err)
//	}
//	defer safepoint.Detach()
//
//	safepoint.EnterNative(func() {
//		// Native code: the thread is preemptive here and may be
//		// stopped asynchronously by a collection.
//	})
//	// Back in managed code: cooperative, never stopped asynchronously.
//
// A collector stops the world around its scan:
//
//	safepoint.SuspendTheWorld()
//	safepoint.CollectRoots(func(start, words uintptr) {
//		// scan [start, start+words) conservatively
//	})
//	safepoint.ResumeTheWorld()
//
// # Execution modes
//
// Each attached thread is in exactly one of two modes. Cooperative: executing
// managed code, free to hold raw references, never stopped asynchronously.
// Preemptive: executing native code, stoppable at any instant. The mode is
// encoded in the nullness of the thread's transition-frame pointer; there is
// no separate boolean to drift out of sync.
//
// A thread returning from native code publishes cooperative mode first and
// checks for a pending suspension second; a suspension requester raises the
// flag first and reads modes second. One side always observes the other, so
// a requester can never deadlock on a thread that looks cooperative while it
// is actually preemptible.
//
// # Allocation sampling
//
// With sampling enabled, allocation contexts tighten their limit by byte
// budgets drawn from a geometric distribution with a 100 KiB mean, so on
// average one allocation per 100 KiB trips the limit early and is reported to
// the listener installed with [OnAllocationSampled]. The allocation fast path
// carries no sampling branch; the cost is paid only when a region is refilled.
//
// # Error model
//
// Expected negative results (calling without attaching, reverse transitions
// with no prior native call) are returned as errors. Violations of the
// runtime's own invariants (unpaired boundary crossings, non-LIFO root
// deregistration) are programming errors in the embedding code and panic;
// nothing in this package recovers them.
package safepoint
