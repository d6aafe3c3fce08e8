package store

import (
	"sync/atomic"
	"testing"

	"github.com/kolkov/safepoint/internal/safepoint/events"
	"github.com/kolkov/safepoint/internal/safepoint/heap"
)

// TestAllocateFastPath verifies bump allocation advances within one region.
func TestAllocateFastPath(t *testing.T) {
	s := New()
	th := attachHere(t, s)

	p1, err := s.Allocate(th, 64)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	p2, err := s.Allocate(th, 64)
	if err != nil {
		t.Fatalf("Allocate: %v", err)
	}
	if p2 != p1+64 {
		t.Errorf("second allocation at %#x, want %#x", p2, p1+64)
	}
}

// TestAllocateRefillsOnExhaustion verifies the slow path pulls fresh regions
// until the segment runs dry, then returns ErrOutOfMemory.
func TestAllocateRefillsOnExhaustion(t *testing.T) {
	s := NewWithHeapSize(3 * heap.DefaultRegionBytes)
	th := attachHere(t, s)

	// Drain the whole segment in chunks bigger than nothing but smaller
	// than a region, forcing refills along the way.
	total := uintptr(0)
	for {
		_, err := s.Allocate(th, 4096)
		if err == ErrOutOfMemory {
			break
		}
		if err != nil {
			t.Fatalf("Allocate: %v", err)
		}
		total += 4096
	}

	// Everything the segment held has been handed out.
	if want := uintptr(3 * heap.DefaultRegionBytes); total != want {
		t.Errorf("allocated %d bytes before exhaustion, want %d", total, want)
	}
}

// TestAllocateFiresSamples verifies sampling trips reach the events handler
// while sampling is on, and stop when it is off.
func TestAllocateFiresSamples(t *testing.T) {
	var samples atomic.Uint64
	var sampledBytes atomic.Uint64
	events.SetAllocationSampledHandler(func(sm events.AllocationSample) {
		samples.Add(1)
		sampledBytes.Add(uint64(sm.Size))
	})
	events.Enable(events.LevelInformational, events.KeywordAllocationSampling)
	defer func() {
		events.Disable(events.KeywordAllocationSampling)
		events.SetAllocationSampledHandler(nil)
	}()

	s := NewWithHeapSize(64 << 20)
	th := attachHere(t, s)
	// The attach-time region predates the keyword flip; re-arm it so the
	// sampling budget applies.
	if err := s.RefillAllocContext(th); err != nil {
		t.Fatalf("RefillAllocContext: %v", err)
	}

	// Allocate ~48 MiB in small objects: with a 100 KiB mean the expected
	// sample count is ~490, so zero samples means sampling never armed.
	const objectSize = 48
	const objects = 1 << 20
	for i := 0; i < objects; i++ {
		if _, err := s.Allocate(th, objectSize); err != nil {
			t.Fatalf("Allocate: %v", err)
		}
	}

	got := samples.Load()
	if got == 0 {
		t.Fatal("no allocation samples fired with sampling enabled")
	}
	// Loose band around the expected count: mean gap 100 KiB over 48 MiB.
	expected := float64(objectSize*objects) / (100 * 1024)
	if float64(got) < expected/3 || float64(got) > expected*3 {
		t.Errorf("sample count = %d, want within 3x of %.0f", got, expected)
	}

	// Sampling off: a fresh context stops tripping.
	events.Disable(events.KeywordAllocationSampling)
	if err := s.RefillAllocContext(th); err != nil {
		t.Fatalf("RefillAllocContext: %v", err)
	}
	before := samples.Load()
	for i := 0; i < 1000; i++ {
		if _, err := s.Allocate(th, objectSize); err != nil {
			t.Fatalf("Allocate: %v", err)
		}
	}
	if samples.Load() != before {
		t.Error("samples fired with sampling disabled")
	}
}

// TestAllocateZeroFatal verifies the zero-size guard.
func TestAllocateZeroFatal(t *testing.T) {
	s := New()
	th := attachHere(t, s)

	defer func() {
		if recover() == nil {
			t.Fatal("Allocate(0) did not panic")
		}
	}()
	_, _ = s.Allocate(th, 0)
}

func BenchmarkAllocate(b *testing.B) {
	s := NewWithHeapSize(1 << 30)
	th, err := s.AttachCurrentThread()
	if err != nil {
		b.Fatalf("attach: %v", err)
	}
	defer func() { _ = s.DetachCurrentThread() }()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := s.Allocate(th, 32); err != nil {
			b.Fatal(err)
		}
	}
}
