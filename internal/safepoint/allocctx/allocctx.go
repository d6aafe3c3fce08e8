// Package allocctx implements the per-thread bump-pointer allocation context
// with statistical allocation sampling.
//
// The context holds the raw region bounds (AllocPtr, AllocLimit) plus a
// derived combined limit that the allocation fast path compares against. When
// sampling is disabled the combined limit equals the real limit; when enabled
// it is tightened by a geometrically distributed byte budget so that, on
// average, one allocation per SamplingMeanBytes trips the limit early and gets
// reported as a sample.
//
// The point of the combined limit is that the fast path carries no
// "is sampling enabled" branch at all: it is one pointer comparison either
// way. The cost of sampling is paid only when the limit is recomputed (on
// region refill and on sampling-enablement changes), never per allocation.
//
// Invariant, always: AllocPtr <= combinedLimit <= AllocLimit.
//
// All methods are owner-thread only. The collector touches a context solely
// through Refill while the owner is stopped or before it runs.
package allocctx

import "github.com/kolkov/safepoint/internal/safepoint/fatal"

// AllocContext is a thread's bump-allocation state.
//
// The zero value is an empty context (no region); the first Refill makes it
// usable. The struct is embedded in Thread and never reallocated.
type AllocContext struct {
	// AllocPtr is the next free address. Advanced only by the owning thread.
	AllocPtr uintptr

	// AllocLimit is the end of the real region. Changed only by Refill.
	AllocLimit uintptr

	// combinedLimit is the limit the fast path actually checks:
	// min(AllocLimit, AllocPtr + sampling budget).
	combinedLimit uintptr

	// budget supplies sampling budgets; nil means sampling is treated as
	// disabled regardless of the enablement flag.
	budget BudgetSource
}

// SetBudgetSource installs the sampling budget source. Called once at thread
// attach, before the context is first refilled.
func (ac *AllocContext) SetBudgetSource(b BudgetSource) {
	ac.budget = b
}

// CombinedLimit returns the limit the allocation fast path checks against.
func (ac *AllocContext) CombinedLimit() uintptr {
	return ac.combinedLimit
}

// RecomputeCombinedLimit derives combinedLimit from the current region bounds
// and sampling state.
//
// Disabled sampling costs nothing: the combined limit is simply the real
// limit. Enabled sampling draws a budget B and sets the limit to
// AllocPtr + min(B, remaining). The min is taken before the addition so a
// large draw can never overflow the pointer past AllocLimit.
func (ac *AllocContext) RecomputeCombinedLimit(samplingEnabled bool) {
	if !samplingEnabled || ac.budget == nil {
		ac.combinedLimit = ac.AllocLimit
		return
	}

	budget := ac.budget.NextBudget()
	remaining := ac.AllocLimit - ac.AllocPtr
	if budget > remaining {
		// Budget exceeds the region: no sampling trip happens in this
		// region at all, the limit degenerates to the real one.
		budget = remaining
	}
	ac.combinedLimit = ac.AllocPtr + budget
}

// Refill installs a new region and recomputes the combined limit.
//
// Called by the collector on exhaustion (and once at attach). The sampling
// enablement is sampled here, not on the allocation path, so a change in
// enablement takes effect at the next refill.
func (ac *AllocContext) Refill(ptr, limit uintptr, samplingEnabled bool) {
	if ptr > limit {
		fatal.Violation("alloc context refill with ptr %#x past limit %#x", ptr, limit)
	}
	ac.AllocPtr = ptr
	ac.AllocLimit = limit
	ac.RecomputeCombinedLimit(samplingEnabled)
}

// TryAlloc is the bump-allocation fast path.
//
// It returns the allocation address and true when size bytes fit below the
// combined limit; otherwise (0, false) and the caller takes the slow path,
// which decides whether the trip was a sampling event or real exhaustion.
//
//go:nosplit
func (ac *AllocContext) TryAlloc(size uintptr) (uintptr, bool) {
	// Subtract rather than add: AllocPtr+size could wrap for adversarial
	// sizes, combinedLimit-AllocPtr cannot.
	if ac.combinedLimit-ac.AllocPtr < size {
		return 0, false
	}
	p := ac.AllocPtr
	ac.AllocPtr += size
	return p, true
}

// Exhausted reports whether the real region (not the sampling-tightened one)
// lacks room for size bytes. A failed TryAlloc with Exhausted false is a
// sampling trip, not an out-of-region condition.
func (ac *AllocContext) Exhausted(size uintptr) bool {
	return ac.AllocLimit-ac.AllocPtr < size
}

// TakeSampled allocates size bytes past a sampling trip.
//
// The caller has already established that the real region has room (Exhausted
// returned false) and has reported the sample; this advances the pointer
// against the real limit and arms the next sampling budget.
func (ac *AllocContext) TakeSampled(size uintptr, samplingEnabled bool) uintptr {
	if ac.Exhausted(size) {
		fatal.Violation("sampled allocation of %d bytes exceeds region", size)
	}
	p := ac.AllocPtr
	ac.AllocPtr += size
	ac.RecomputeCombinedLimit(samplingEnabled)
	return p
}

// Remaining returns the free bytes left in the real region.
func (ac *AllocContext) Remaining() uintptr {
	return ac.AllocLimit - ac.AllocPtr
}
