// Package gcroot implements the per-thread registry of conservatively scanned
// stack root ranges.
//
// Code that holds unmanaged pointers to managed objects in stack slots the
// compiler cannot track registers the containing range here for the duration
// of the region. During a collection the collector walks the registry of every
// stopped thread and treats each registered range as conservative roots.
//
// The registry is an intrusive singly-linked list of caller-owned,
// stack-transient nodes: registration never allocates, and push/pop are O(1).
// Registrations must nest strictly LIFO, mirroring scoped acquisition:
// popping anything but the current head is a fatal invariant violation.
//
// # Thread Safety
//
// Only the owning thread mutates its list. The collector reads it exclusively
// while that thread is suspended, so the walk needs no synchronization.
package gcroot

import "github.com/kolkov/safepoint/internal/safepoint/fatal"

// Registration describes one conservative root range.
//
// The node itself lives on the registering caller's stack and is owned by the
// caller for exactly the push/pop window. The intrusive next link is managed
// by List and must not be touched by the caller.
type Registration struct {
	// Start is the lowest address of the range.
	Start uintptr

	// WordCount is the number of pointer-sized slots in the range.
	WordCount uintptr

	next *Registration
}

// List is the head of a thread's intrusive registration list.
//
// The zero value is an empty, ready-to-use list.
type List struct {
	head *Registration
}

// Push registers a range as the new innermost registration.
//
//go:nosplit
func (l *List) Push(r *Registration) {
	r.next = l.head
	l.head = r
}

// Pop removes the innermost registration.
//
// The popped node must be the current head; anything else means the caller
// broke LIFO nesting, which is a programming error in runtime-internal code
// and fails fatally.
//
//go:nosplit
func (l *List) Pop(r *Registration) {
	if l.head != r {
		fatal.Violation("gc root registrations must pop in LIFO order (head=%p, pop=%p)", l.head, r)
	}
	l.head = r.next
	r.next = nil
}

// Walk invokes fn for every registered range, innermost first.
//
// The collector calls this only while the owning thread is stopped.
func (l *List) Walk(fn func(r *Registration)) {
	for r := l.head; r != nil; r = r.next {
		fn(r)
	}
}

// Empty reports whether no ranges are registered.
func (l *List) Empty() bool {
	return l.head == nil
}

// Depth returns the number of registered ranges. Diagnostic use only.
func (l *List) Depth() int {
	n := 0
	for r := l.head; r != nil; r = r.next {
		n++
	}
	return n
}
