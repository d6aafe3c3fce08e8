package thread

import (
	"sync/atomic"
	"testing"

	"github.com/kolkov/safepoint/internal/safepoint/fatal"
)

// stubSuspension is a controllable Suspension for single-thread tests.
type stubSuspension struct {
	requested atomic.Bool
	waited    atomic.Int32
	release   chan struct{}
}

func newStubSuspension() *stubSuspension {
	return &stubSuspension{release: make(chan struct{})}
}

func (s *stubSuspension) IsSuspensionRequested() bool { return s.requested.Load() }

func (s *stubSuspension) WaitForRelease(frame *TransitionFrame) {
	s.waited.Add(1)
	<-s.release
}

// newAttachedThread returns an attached, cooperative thread on the stub.
func newAttachedThread(s *stubSuspension) *Thread {
	t := New(s, 1)
	t.SetState(FlagAttached)
	return t
}

// expectInvariantPanic fails the test unless the deferred recover sees an
// InvariantError.
func expectInvariantPanic(t *testing.T) {
	t.Helper()
	r := recover()
	if r == nil {
		t.Fatal("expected invariant violation panic")
	}
	if _, ok := r.(*fatal.InvariantError); !ok {
		t.Fatalf("panic value = %T, want *fatal.InvariantError", r)
	}
}

// TestEnterExitPairing drives balanced Enter/Exit pairs, including nested
// native frames, and verifies the mode alternates and ends cooperative.
func TestEnterExitPairing(t *testing.T) {
	sus := newStubSuspension()
	th := newAttachedThread(sus)

	if !th.InCooperativeMode() {
		t.Fatal("new thread not cooperative")
	}

	for i := 0; i < 10; i++ {
		var f TransitionFrame
		th.EnterPreemptive(&f)
		if th.InCooperativeMode() {
			t.Fatal("cooperative after EnterPreemptive")
		}
		if f.Thread != th {
			t.Fatal("frame not stamped with owning thread")
		}
		if th.TransitionFrame() != &f {
			t.Fatal("transition frame is not the published frame")
		}

		th.ExitPreemptive(&f)
		if !th.InCooperativeMode() {
			t.Fatal("preemptive after ExitPreemptive")
		}
		if th.TransitionFrame() != nil {
			t.Fatal("transition frame not nil in cooperative mode")
		}
	}
	if sus.waited.Load() != 0 {
		t.Error("rendezvous entered with no suspension pending")
	}
}

// TestExitPreemptiveUnpairedFatal verifies exiting with a frame that is not
// the published one is fatal.
func TestExitPreemptiveUnpairedFatal(t *testing.T) {
	sus := newStubSuspension()
	th := newAttachedThread(sus)

	var published, other TransitionFrame
	th.EnterPreemptive(&published)

	defer expectInvariantPanic(t)
	th.ExitPreemptive(&other)
}

// TestExitPreemptiveBlocksOnSuspension covers the scenario where the flag is
// set while the thread is off in native code, and the thread blocks in the
// rendezvous on the way back.
func TestExitPreemptiveBlocksOnSuspension(t *testing.T) {
	sus := newStubSuspension()
	th := newAttachedThread(sus)

	var f TransitionFrame
	th.EnterPreemptive(&f)

	// Requester stops the world while the thread is in native code.
	sus.requested.Store(true)

	exited := make(chan struct{})
	go func() {
		th.ExitPreemptive(&f)
		close(exited)
	}()

	// The thread must be parked in WaitForRelease, already cooperative.
	for sus.waited.Load() == 0 {
	}
	if !th.InCooperativeMode() {
		t.Error("thread not cooperative while parked in rendezvous")
	}
	select {
	case <-exited:
		t.Fatal("ExitPreemptive returned before release")
	default:
	}

	sus.requested.Store(false)
	close(sus.release)
	<-exited
}

// TestEnterPreemptiveDoNotTriggerFatal verifies the do-not-trigger-GC
// precondition on the forward crossing.
func TestEnterPreemptiveDoNotTriggerFatal(t *testing.T) {
	sus := newStubSuspension()
	th := newAttachedThread(sus)
	th.SetDoNotTriggerGC()

	defer expectInvariantPanic(t)
	var f TransitionFrame
	th.EnterPreemptive(&f)
}

// TestEnterPreemptiveDoNotTriggerDuringSuspension verifies the forward
// crossing is allowed under do-not-trigger-GC while a suspension is active.
func TestEnterPreemptiveDoNotTriggerDuringSuspension(t *testing.T) {
	sus := newStubSuspension()
	th := newAttachedThread(sus)
	th.SetDoNotTriggerGC()
	sus.requested.Store(true)

	var f TransitionFrame
	th.EnterPreemptive(&f)
	if th.InCooperativeMode() {
		t.Error("not preemptive after EnterPreemptive")
	}
}

// TestFastReentryRoundTrip verifies TryFastReenterCooperative followed by
// ReturnFromFastReentry restores the exact prior frame, for nil and non-nil
// priors.
func TestFastReentryRoundTrip(t *testing.T) {
	sus := newStubSuspension()
	th := newAttachedThread(sus)

	// Non-nil prior: thread is preemptive inside a native call.
	var outer TransitionFrame
	th.EnterPreemptive(&outer)

	var rf ReverseFrame
	if !th.TryFastReenterCooperative(&rf) {
		t.Fatal("fast reentry declined on an attached preemptive thread")
	}
	if !th.InCooperativeMode() {
		t.Fatal("not cooperative after fast reentry")
	}
	if rf.Saved() != &outer {
		t.Fatal("reverse frame did not capture the prior transition frame")
	}

	th.ReturnFromFastReentry(&rf)
	if th.TransitionFrame() != &outer {
		t.Fatal("prior transition frame not restored")
	}
	th.ExitPreemptive(&outer)

	// Nil prior through the raw restore path: ReturnFromFastReentry must
	// restore exactly what was saved, including nil.
	var rfNil ReverseFrame
	th.EnterPreemptive(&outer)
	if !th.TryFastReenterCooperative(&rfNil) {
		t.Fatal("fast reentry declined")
	}
	if rfNil.Saved() != &outer {
		t.Fatal("saved frame mismatch")
	}
	th.ReturnFromFastReentry(&rfNil)
	th.ExitPreemptive(&outer)
}

// TestFastReentryDeclines enumerates the expected negative results: these are
// signals to take the slow path, not errors.
func TestFastReentryDeclines(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(s *stubSuspension) *Thread
	}{
		{
			name: "unattached thread",
			prepare: func(s *stubSuspension) *Thread {
				return New(s, 1) // never attached
			},
		},
		{
			name: "already cooperative",
			prepare: func(s *stubSuspension) *Thread {
				return newAttachedThread(s) // cooperative, no prior crossing
			},
		},
		{
			name: "gc worker thread",
			prepare: func(s *stubSuspension) *Thread {
				th := newAttachedThread(s)
				th.SetState(FlagGCSpecial)
				var f TransitionFrame
				th.EnterPreemptive(&f)
				return th
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sus := newStubSuspension()
			th := tt.prepare(sus)
			mode := th.InCooperativeMode()

			var rf ReverseFrame
			if th.TryFastReenterCooperative(&rf) {
				t.Fatal("fast reentry succeeded, want decline")
			}
			if th.InCooperativeMode() != mode {
				t.Error("declined fast reentry changed the mode")
			}
		})
	}
}

// TestFastReentryTrapPending verifies the revert path: a suspension request
// observed after publishing cooperative mode puts the saved frame back and
// reports failure.
func TestFastReentryTrapPending(t *testing.T) {
	sus := newStubSuspension()
	th := newAttachedThread(sus)

	var outer TransitionFrame
	th.EnterPreemptive(&outer)
	sus.requested.Store(true)

	var rf ReverseFrame
	if th.TryFastReenterCooperative(&rf) {
		t.Fatal("fast reentry succeeded with a suspension pending")
	}
	if th.TransitionFrame() != &outer {
		t.Error("frame not reverted after declined reentry")
	}
	if th.InCooperativeMode() {
		t.Error("thread left cooperative under a stop-the-world")
	}
}

// TestFastReentryDoNotTriggerCarveOut verifies the carve-out: succeed without
// transitioning while a suspension is active, fatal when it is not.
func TestFastReentryDoNotTriggerCarveOut(t *testing.T) {
	sus := newStubSuspension()
	th := newAttachedThread(sus)
	th.SetDoNotTriggerGC()
	sus.requested.Store(true)

	mode := th.InCooperativeMode()
	var rf ReverseFrame
	if !th.TryFastReenterCooperative(&rf) {
		t.Fatal("carve-out path declined")
	}
	if th.InCooperativeMode() != mode {
		t.Error("carve-out path changed the mode")
	}

	// After the override is dropped, the carve-out no longer applies: a
	// cooperative thread declines through the normal path.
	th.ClearDoNotTriggerGC()
	if th.InCooperativeMode() && th.TryFastReenterCooperative(&rf) {
		t.Error("reentry succeeded on a thread that never left cooperative mode")
	}

	// With the override back on and no suspension in progress, the call is
	// a checked precondition failure, not a silent success.
	th.SetDoNotTriggerGC()
	sus.requested.Store(false)
	defer expectInvariantPanic(t)
	th.TryFastReenterCooperative(&rf)
}

// TestDeferredTransitionFrame tests both staging paths and their mode
// preconditions.
func TestDeferredTransitionFrame(t *testing.T) {
	sus := newStubSuspension()
	th := newAttachedThread(sus)

	// Cooperative staging of a helper-built frame.
	var helper TransitionFrame
	th.SetDeferredTransitionFrame(&helper)
	if th.DeferredTransitionFrame() != &helper {
		t.Fatal("staged frame not readable")
	}

	// Preemptive staging of the published frame.
	var f TransitionFrame
	th.EnterPreemptive(&f)
	th.DeferTransitionFrame()
	if th.DeferredTransitionFrame() != &f {
		t.Fatal("DeferTransitionFrame did not stage the published frame")
	}

	// Wrong-mode staging is fatal.
	defer expectInvariantPanic(t)
	th.SetDeferredTransitionFrame(&helper)
}

// TestScenarioAttachEnterExit is the end-to-end happy path: attach, enter
// preemptive with a frame, exit with no suspension pending.
func TestScenarioAttachEnterExit(t *testing.T) {
	sus := newStubSuspension()
	th := newAttachedThread(sus)

	var f1 TransitionFrame
	th.EnterPreemptive(&f1)
	th.ExitPreemptive(&f1)

	if !th.InCooperativeMode() {
		t.Error("mode not cooperative after balanced crossing")
	}
	if th.TransitionFrame() != nil {
		t.Error("transitionFrame not nil after balanced crossing")
	}
	if sus.waited.Load() != 0 {
		t.Error("rendezvous entered with no suspension pending")
	}
}

func BenchmarkEnterExitPreemptive(b *testing.B) {
	sus := newStubSuspension()
	th := newAttachedThread(sus)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var f TransitionFrame
		th.EnterPreemptive(&f)
		th.ExitPreemptive(&f)
	}
}

func BenchmarkFastReentry(b *testing.B) {
	sus := newStubSuspension()
	th := newAttachedThread(sus)
	var outer TransitionFrame
	th.EnterPreemptive(&outer)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		var rf ReverseFrame
		if th.TryFastReenterCooperative(&rf) {
			th.ReturnFromFastReentry(&rf)
		}
	}
}
