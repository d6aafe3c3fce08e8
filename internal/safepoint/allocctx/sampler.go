package allocctx

import (
	"math"

	"github.com/kolkov/safepoint/internal/safepoint/random"
)

// SamplingMeanBytes is the mean of the geometric sampling distribution: on
// average one allocation is sampled per 100 KiB allocated.
const SamplingMeanBytes = 100 * 1024

// BudgetSource produces the byte budgets that tighten the combined limit when
// sampling is enabled. The production source is Geometric; tests substitute a
// fixed source to pin a draw.
type BudgetSource interface {
	// NextBudget returns the number of bytes that may be bump-allocated
	// before the next sampling trip.
	NextBudget() uintptr
}

// Geometric draws sampling budgets from a geometric distribution with mean
// SamplingMeanBytes, backed by a per-thread xoshiro128++ generator.
//
// Sampling each allocation independently with probability 1/mean per byte is
// equivalent to drawing the gap between sampled bytes from a geometric
// distribution, which is what makes a precomputed budget statistically
// identical to per-allocation coin flips, without any per-allocation cost.
//
// Not safe for concurrent use; every thread owns its own Geometric.
type Geometric struct {
	rng random.Xoshiro128PP
}

// NewGeometric returns a budget source seeded with the given value.
func NewGeometric(seed uint64) *Geometric {
	g := &Geometric{}
	g.rng.Seed(seed)
	return g
}

// NextBudget draws the next sampling budget.
//
// With U uniform in [0,1), the draw is ceil(-ln(1-U) * mean). U never reaches
// 1, so the argument of Log is never 0 and the result is always finite. A draw
// of U=0 yields budget 0, meaning the very next allocation is sampled.
func (g *Geometric) NextBudget() uintptr {
	u := g.rng.NextUniform()
	return uintptr(math.Ceil(-math.Log(1-u) * SamplingMeanBytes))
}
