// Package fatal reports invariant violations in the safepoint runtime.
//
// A violation means compiler-generated or runtime-internal code broke the
// boundary-crossing or root-registration contract. Continuing past one would
// corrupt collector state, so violations are not recoverable errors: they
// panic with an InvariantError, and nothing inside this module ever recovers
// one. A violation escaping to the top of a thread is process-fatal by Go's
// usual panic rules, which is exactly the intended outcome.
package fatal

import "fmt"

// InvariantError describes a broken runtime invariant.
//
// It is a distinct type so that tests can assert on the failure mode; callers
// outside tests must never recover it.
type InvariantError struct {
	// Msg names the violated invariant.
	Msg string
}

func (e *InvariantError) Error() string {
	return "safepoint: invariant violation: " + e.Msg
}

// Violation panics with an InvariantError for the given condition.
//
// Call sites describe the invariant that was broken, not the caller's bug.
func Violation(format string, args ...any) {
	panic(&InvariantError{Msg: fmt.Sprintf(format, args...)})
}
