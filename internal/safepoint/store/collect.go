package store

import (
	"github.com/kolkov/safepoint/internal/safepoint/events"
	"github.com/kolkov/safepoint/internal/safepoint/fatal"
	"github.com/kolkov/safepoint/internal/safepoint/gcroot"
	"github.com/kolkov/safepoint/internal/safepoint/thread"
)

// This file is the collector-facing side of the store: the allocation slow
// path that refills contexts and reports samples, and the stopped-world reads
// a collection performs.

// Allocate bump-allocates size bytes from t's context, taking the slow path
// on a combined-limit trip. Owner-thread only.
func (s *ThreadStore) Allocate(t *thread.Thread, size uintptr) (uintptr, error) {
	if size == 0 {
		fatal.Violation("zero-byte allocation")
	}
	if p, ok := t.AllocContext().TryAlloc(size); ok {
		return p, nil
	}
	return s.allocateSlow(t, size)
}

// allocateSlow resolves a combined-limit trip: either the tightened limit was
// a sampling budget (the region still has room, so report the sample and
// continue past it) or the region is really exhausted (refill and retry).
func (s *ThreadStore) allocateSlow(t *thread.Thread, size uintptr) (uintptr, error) {
	ac := t.AllocContext()
	for {
		if !ac.Exhausted(size) {
			p := ac.TakeSampled(size, events.AllocationSamplingEnabled())
			events.FireAllocationSampled(events.AllocationSample{
				Address:    p,
				Size:       size,
				OSThreadID: t.OSThreadID(),
			})
			return p, nil
		}

		ptr, limit, ok := s.segment.Refill(size)
		if !ok {
			return 0, ErrOutOfMemory
		}
		ac.Refill(ptr, limit, events.AllocationSamplingEnabled())
		if log := t.StressLog(); log != nil {
			log.Append("region refilled", ptr, limit)
		}
		if p, ok := ac.TryAlloc(size); ok {
			return p, nil
		}
		// A fresh sampling budget smaller than size: the next iteration
		// resolves it as a sample, since the region now has room.
	}
}

// RefillAllocContext gives t a fresh region, as the collector does after a
// collection. The enablement of sampling is re-read here, which is the point
// where a keyword flip takes effect.
func (s *ThreadStore) RefillAllocContext(t *thread.Thread) error {
	ptr, limit, ok := s.segment.Refill(1)
	if !ok {
		return ErrOutOfMemory
	}
	t.AllocContext().Refill(ptr, limit, events.AllocationSamplingEnabled())
	return nil
}

// ForEachThread invokes fn for every attached thread. The snapshot is only
// coherent while the world is stopped; live callers get best-effort.
func (s *ThreadStore) ForEachThread(fn func(t *thread.Thread)) {
	s.threads.Range(func(_, v any) bool {
		fn(v.(*thread.Thread))
		return true
	})
}

// CollectRoots walks every thread's registered conservative root ranges.
// Only legal while a suspension is in progress: an owning thread that is
// still running could be mutating its list mid-walk.
func (s *ThreadStore) CollectRoots(fn func(start, wordCount uintptr)) {
	if !s.trap.Load() {
		fatal.Violation("root walk without a suspension in progress")
	}
	s.ForEachThread(func(t *thread.Thread) {
		t.Roots().Walk(func(r *gcroot.Registration) {
			fn(r.Start, r.WordCount)
		})
	})
}
