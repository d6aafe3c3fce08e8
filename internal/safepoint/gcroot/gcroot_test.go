package gcroot

import (
	"testing"

	"github.com/kolkov/safepoint/internal/safepoint/fatal"
)

// TestPushPopSingle tests a single registration round-trip.
func TestPushPopSingle(t *testing.T) {
	var l List
	r := Registration{Start: 0x1000, WordCount: 4}

	l.Push(&r)
	if l.Empty() {
		t.Fatal("list empty after Push")
	}
	if l.Depth() != 1 {
		t.Fatalf("Depth() = %d, want 1", l.Depth())
	}

	l.Pop(&r)
	if !l.Empty() {
		t.Fatal("list not empty after Pop")
	}
	if r.next != nil {
		t.Error("popped node still linked")
	}
}

// TestLIFORoundTrip pushes 1000 nested registrations and pops them back to an
// empty list, verifying innermost-first ordering along the way.
func TestLIFORoundTrip(t *testing.T) {
	const depth = 1000

	var l List
	regs := make([]Registration, depth)
	for i := range regs {
		regs[i] = Registration{Start: uintptr(0x1000 * (i + 1)), WordCount: uintptr(i)}
		l.Push(&regs[i])
	}
	if l.Depth() != depth {
		t.Fatalf("Depth() = %d, want %d", l.Depth(), depth)
	}

	// Walk must see the innermost (last pushed) registration first.
	i := depth - 1
	l.Walk(func(r *Registration) {
		if r != &regs[i] {
			t.Fatalf("Walk order broken at position %d", depth-1-i)
		}
		i--
	})

	for i := depth - 1; i >= 0; i-- {
		l.Pop(&regs[i])
	}
	if !l.Empty() {
		t.Fatal("list not empty after popping all registrations")
	}
}

// TestPopNonHeadFatal verifies that popping a node that is not the current
// head panics with an InvariantError.
func TestPopNonHeadFatal(t *testing.T) {
	var l List
	var outer, inner Registration
	l.Push(&outer)
	l.Push(&inner)

	defer func() {
		r := recover()
		if r == nil {
			t.Fatal("Pop of non-head node did not panic")
		}
		if _, ok := r.(*fatal.InvariantError); !ok {
			t.Fatalf("panic value = %T, want *fatal.InvariantError", r)
		}
	}()
	l.Pop(&outer) // inner is still registered
}

// TestPopEmptyFatal verifies that popping from an empty list is fatal.
func TestPopEmptyFatal(t *testing.T) {
	var l List
	var r Registration

	defer func() {
		if recover() == nil {
			t.Fatal("Pop on empty list did not panic")
		}
	}()
	l.Pop(&r)
}

// TestWalkEmpty verifies Walk on an empty list never invokes the callback.
func TestWalkEmpty(t *testing.T) {
	var l List
	l.Walk(func(r *Registration) {
		t.Error("callback invoked for empty list")
	})
}

func BenchmarkPushPop(b *testing.B) {
	var l List
	var r Registration
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		l.Push(&r)
		l.Pop(&r)
	}
}
