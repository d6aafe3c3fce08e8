// Package store implements the thread registry and global suspension
// coordinator for the safepoint runtime.
//
// A ThreadStore owns the set of attached threads, the global trap flag a
// suspension requester raises, the blocking rendezvous suspended threads park
// in, and the heap segment that refills exhausted allocation contexts. It is
// the concrete implementation of the collaborators the thread-local layer is
// written against: thread.Suspension on one side, the collector-facing reads
// (root walking, context refill) on the other.
//
// # Suspension protocol
//
// SuspendAll stores the trap flag and then polls every attached mutator until
// each is observed either preemptive (its transition frame is published, so
// it is stoppable wherever it is) or parked in WaitForRelease. A mutator that
// crosses a boundary after the flag is up publishes its mode first and checks
// the flag second; the requester stores the flag first and reads modes
// second. With sequentially consistent atomics one of the two always observes
// the other, so no thread can remain invisibly cooperative: the classic
// store-then-load handshake, with no lock anywhere on the mutator's path.
//
// Threads park on a condition variable whose predicate is the trap flag;
// ResumeAll clears the flag under the same lock before broadcasting, so a
// release can never be lost between a predicate check and a wait.
package store

import (
	"errors"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/kolkov/safepoint/internal/safepoint/events"
	"github.com/kolkov/safepoint/internal/safepoint/fatal"
	"github.com/kolkov/safepoint/internal/safepoint/heap"
	"github.com/kolkov/safepoint/internal/safepoint/stresslog"
	"github.com/kolkov/safepoint/internal/safepoint/thread"
)

const (
	// DefaultHeapBytes is the reservation backing allocation-context
	// refills when the store is built with New.
	DefaultHeapBytes = 16 << 20

	// defaultStackReserve is assumed as the stack extent of an attaching
	// thread when the platform cannot report one.
	defaultStackReserve = 8 << 20

	// maxStackReserve caps what an RLIMIT_STACK probe is believed about.
	maxStackReserve = 64 << 20

	// stackSlack pads the attach-point stack pointer to the assumed top of
	// stack: the attach frame itself plus callers above it.
	stackSlack = 1 << 16
)

// Sentinel errors for the expected negative results of attach and allocation.
var (
	ErrAlreadyAttached = errors.New("safepoint: thread already attached")
	ErrNotAttached     = errors.New("safepoint: thread not attached")
	ErrOutOfMemory     = errors.New("safepoint: heap segment exhausted")
)

// AttachOptions controls thread attachment.
type AttachOptions struct {
	// GCSpecial marks the thread as a collector worker: it participates in
	// the registry but is never trapped and must not reenter managed code
	// through the fast path.
	GCSpecial bool
}

// ThreadStore is the registry of attached threads plus the suspension
// coordinator.
type ThreadStore struct {
	// threads maps goroutine ID to *thread.Thread. Reads dominate
	// (CurrentThread on every facade call); writes happen at attach and
	// detach only.
	threads sync.Map

	// trap is the global suspension request flag. Stored by SuspendAll and
	// ResumeAll, loaded racily by every boundary crossing.
	trap atomic.Bool

	// mu guards parked and orders trap-flag changes against rendezvous
	// predicate checks. Never touched by boundary-crossing fast paths.
	mu       sync.Mutex
	released *sync.Cond
	parked   map[*thread.Thread]bool

	// segment refills exhausted allocation contexts.
	segment *heap.Segment

	// seed feeds per-thread sampling generators.
	seed atomic.Uint64
}

// New returns a store with the default heap reservation.
func New() *ThreadStore {
	return NewWithHeapSize(DefaultHeapBytes)
}

// NewWithHeapSize returns a store whose refill segment reserves size bytes.
func NewWithHeapSize(size int) *ThreadStore {
	s := &ThreadStore{
		parked:  make(map[*thread.Thread]bool),
		segment: heap.NewSegment(size),
	}
	s.released = sync.NewCond(&s.mu)
	s.seed.Store(uint64(time.Now().UnixNano()))
	return s
}

// AttachCurrentThread registers the calling goroutine as a mutator thread.
//
// The goroutine is locked to its OS thread for the lifetime of the
// attachment. The new thread starts cooperative, with stack bounds fixed from
// the attach point, a fresh stress log, and an initial allocation region.
func (s *ThreadStore) AttachCurrentThread() (*thread.Thread, error) {
	return s.Attach(AttachOptions{})
}

// Attach is AttachCurrentThread with options.
func (s *ThreadStore) Attach(opts AttachOptions) (*thread.Thread, error) {
	gid := currentGoroutineID()
	if gid == 0 {
		return nil, errors.New("safepoint: cannot determine goroutine id")
	}
	if _, ok := s.threads.Load(gid); ok {
		return nil, ErrAlreadyAttached
	}

	runtime.LockOSThread()

	t := thread.New(s, s.nextSeed())
	if opts.GCSpecial {
		t.SetState(thread.FlagGCSpecial)
	}

	low, high := attachStackBounds()
	t.SetStackBounds(low, high)
	t.SetOSThreadID(osThreadID())

	log := stresslog.New()
	t.SetStressLog(log)

	ptr, limit, ok := s.segment.Refill(1)
	if !ok {
		runtime.UnlockOSThread()
		return nil, ErrOutOfMemory
	}
	t.AllocContext().Refill(ptr, limit, events.AllocationSamplingEnabled())

	t.SetState(thread.FlagAttached)
	s.threads.Store(gid, t)
	log.Append("thread attached", uintptr(t.OSThreadID()), low)
	return t, nil
}

// DetachCurrentThread unregisters the calling goroutine's thread.
//
// The thread must be cooperative (a detaching thread has finished its last
// native call) and must have no live root registrations; either condition
// failing is a fatal nesting bug, not a recoverable error.
func (s *ThreadStore) DetachCurrentThread() error {
	gid := currentGoroutineID()
	v, ok := s.threads.Load(gid)
	if !ok {
		return ErrNotAttached
	}
	t := v.(*thread.Thread)

	if !t.InCooperativeMode() {
		fatal.Violation("detach while preemptive")
	}
	if !t.Roots().Empty() {
		fatal.Violation("detach with live root registrations")
	}

	t.ClearState(thread.FlagAttached)
	t.SetState(thread.FlagDetached)
	s.threads.Delete(gid)
	runtime.UnlockOSThread()
	return nil
}

// CurrentThread returns the calling goroutine's attached thread, or nil.
func (s *ThreadStore) CurrentThread() *thread.Thread {
	if v, ok := s.threads.Load(currentGoroutineID()); ok {
		return v.(*thread.Thread)
	}
	return nil
}

// IsSuspensionRequested reports the trap flag. Racy and lock-free; this is
// the read every boundary crossing performs.
//
//go:nosplit
func (s *ThreadStore) IsSuspensionRequested() bool {
	return s.trap.Load()
}

// WaitForRelease parks the calling thread until the requester resumes the
// world. Entered from ExitPreemptive (and from the facade's slow reentry
// path) after the thread has published cooperative mode and observed the
// flag; this is the single blocking point of the runtime.
func (s *ThreadStore) WaitForRelease(frame *thread.TransitionFrame) {
	t := frame.Thread
	if t == nil {
		fatal.Violation("rendezvous with an unstamped transition frame")
	}

	s.mu.Lock()
	s.parked[t] = true
	for s.trap.Load() {
		s.released.Wait()
	}
	delete(s.parked, t)
	s.mu.Unlock()
}

// SuspendAll raises the trap flag and returns once every attached mutator is
// at a safepoint: observed preemptive, or parked in WaitForRelease.
//
// The caller must not itself be an attached mutator sitting in cooperative
// mode: it would be waiting for itself.
func (s *ThreadStore) SuspendAll() {
	if t := s.CurrentThread(); t != nil && !t.IsGCSpecial() && t.InCooperativeMode() {
		fatal.Violation("suspension requested from a cooperative mutator thread")
	}

	s.mu.Lock()
	if s.trap.Load() {
		s.mu.Unlock()
		fatal.Violation("nested world suspension")
	}
	s.trap.Store(true)
	s.mu.Unlock()

	// Threads flipping to preemptive do not signal anyone, so the requester
	// polls. Parked threads are found through the map, preemptive ones
	// through their published frames.
	for spin := 0; !s.allStopped(); spin++ {
		if spin < 64 {
			runtime.Gosched()
		} else {
			time.Sleep(50 * time.Microsecond)
		}
	}
}

// ResumeAll clears the trap flag and releases every parked thread.
func (s *ThreadStore) ResumeAll() {
	s.mu.Lock()
	if !s.trap.Load() {
		s.mu.Unlock()
		fatal.Violation("resume without a suspension in progress")
	}
	s.trap.Store(false)
	s.released.Broadcast()
	s.mu.Unlock()
}

// allStopped reports whether every attached mutator is at a safepoint.
func (s *ThreadStore) allStopped() bool {
	stopped := true
	s.mu.Lock()
	s.threads.Range(func(_, v any) bool {
		t := v.(*thread.Thread)
		if t.IsGCSpecial() {
			return true
		}
		if !t.InCooperativeMode() {
			return true // preemptive: stoppable wherever it is
		}
		if s.parked[t] {
			return true // blocked in the rendezvous
		}
		stopped = false
		return false
	})
	s.mu.Unlock()
	return stopped
}

// ThreadCount returns the number of attached threads. Diagnostic use.
func (s *ThreadStore) ThreadCount() int {
	n := 0
	s.threads.Range(func(_, _ any) bool { n++; return true })
	return n
}

// nextSeed derives a fresh sampling seed for an attaching thread.
func (s *ThreadStore) nextSeed() uint64 {
	return s.seed.Add(0x9E3779B97F4A7C15)
}

// attachStackBounds derives the stack extent registered for an attaching
// thread: the OS stack reserve below the attach-point stack pointer, plus a
// small slack above it for the frames that led here.
func attachStackBounds() (low, high uintptr) {
	var probe byte
	sp := uintptr(unsafe.Pointer(&probe))

	reserve := stackReserveBytes()
	if sp > reserve {
		low = sp - reserve
	} else {
		low = 1
	}
	return low, sp + stackSlack
}
