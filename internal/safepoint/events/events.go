// Package events is the runtime's event-tracing provider.
//
// It answers one hot question for the allocation path (is allocation sampling
// enabled right now) and delivers sampled-allocation events to whatever
// listener is currently installed (a profiler, the CLI, or a test).
//
// Enablement is a level plus a keyword mask, checked with two atomic loads.
// The allocation fast path never consults this package; the enablement state
// is read only when an allocation context is refilled or a sampling trip is
// handled, so flipping a keyword takes effect at the next recompute rather
// than instantly. That lag is part of the contract.
package events

import "sync/atomic"

// Level is the minimum verbosity a consumer asked for.
type Level uint32

// Trace levels, lowest to highest verbosity.
const (
	LevelCritical      Level = 1
	LevelError         Level = 2
	LevelWarning       Level = 3
	LevelInformational Level = 4
	LevelVerbose       Level = 5
)

// Keyword is a bitmask selecting event categories.
type Keyword uint64

// Event keywords understood by this provider.
const (
	// KeywordGC covers collection lifecycle events.
	KeywordGC Keyword = 1 << 0

	// KeywordAllocationSampling enables statistical allocation sampling.
	KeywordAllocationSampling Keyword = 1 << 1

	// KeywordThreading covers thread attach/detach and suspension events.
	KeywordThreading Keyword = 1 << 2
)

// AllocationSample describes one sampled allocation.
type AllocationSample struct {
	// Address is the start of the sampled allocation.
	Address uintptr

	// Size is the requested allocation size in bytes.
	Size uintptr

	// OSThreadID identifies the allocating thread, 0 if unknown.
	OSThreadID int
}

var (
	enabledLevel    atomic.Uint32
	enabledKeywords atomic.Uint64

	// sampleHandler receives sampled-allocation events. Swapped atomically so
	// the slow path can fire without a lock.
	sampleHandler atomic.Pointer[func(AllocationSample)]
)

// Enable turns on the given keywords at the given level.
//
// The level applies to the provider as a whole, matching how a single-session
// tracing controller behaves: the most recent Enable wins.
func Enable(level Level, keywords Keyword) {
	enabledLevel.Store(uint32(level))
	for {
		old := enabledKeywords.Load()
		if enabledKeywords.CompareAndSwap(old, old|uint64(keywords)) {
			return
		}
	}
}

// Disable clears the given keywords.
func Disable(keywords Keyword) {
	for {
		old := enabledKeywords.Load()
		if enabledKeywords.CompareAndSwap(old, old&^uint64(keywords)) {
			return
		}
	}
}

// IsEnabled reports whether events at the given level and keyword are
// currently requested. Racy by design; callers re-check at their own
// recompute points.
func IsEnabled(level Level, keyword Keyword) bool {
	return uint32(level) <= enabledLevel.Load() &&
		enabledKeywords.Load()&uint64(keyword) != 0
}

// AllocationSamplingEnabled reports whether statistical allocation sampling
// is requested. Consulted when an allocation context is refilled, never on
// the per-allocation fast path.
func AllocationSamplingEnabled() bool {
	return IsEnabled(LevelInformational, KeywordAllocationSampling)
}

// SetAllocationSampledHandler installs fn as the sampled-allocation listener,
// replacing any previous one. A nil fn uninstalls the listener.
func SetAllocationSampledHandler(fn func(AllocationSample)) {
	if fn == nil {
		sampleHandler.Store(nil)
		return
	}
	sampleHandler.Store(&fn)
}

// FireAllocationSampled delivers a sampled-allocation event to the installed
// listener, if any. Called from the allocation slow path only.
func FireAllocationSampled(s AllocationSample) {
	if fn := sampleHandler.Load(); fn != nil {
		(*fn)(s)
	}
}
