// Package random implements the xoshiro128++ pseudo-random generator used for
// per-thread allocation sampling decisions.
//
// The generator is deliberately non-cryptographic: sampling only needs a cheap,
// well-distributed stream of 32-bit values, and every thread owns its own
// generator state so draws never contend and sampling decisions stay
// independent across threads.
//
// State is 128 bits (four 32-bit words), seeded through splitmix64 so that any
// 64-bit seed, including 0, expands to a valid non-zero state.
package random

// Xoshiro128PP is a xoshiro128++ generator.
//
// The zero value is NOT a valid generator (an all-zero state is a fixed
// point); call Seed before the first Next. Methods are not safe for concurrent
// use: each thread owns exactly one instance.
type Xoshiro128PP struct {
	s [4]uint32
}

// Seed initializes the state from a 64-bit seed via splitmix64.
//
// Two splitmix64 outputs are split into the four 32-bit state words. splitmix64
// never produces two consecutive zero outputs, so the resulting state is never
// all-zero.
func (x *Xoshiro128PP) Seed(seed uint64) {
	a := splitmix64(&seed)
	b := splitmix64(&seed)
	x.s[0] = uint32(a)
	x.s[1] = uint32(a >> 32)
	x.s[2] = uint32(b)
	x.s[3] = uint32(b >> 32)
	if x.s[0] == 0 && x.s[1] == 0 && x.s[2] == 0 && x.s[3] == 0 {
		// Unreachable for splitmix64 output, but keep the generator safe
		// against future seeding changes.
		x.s[3] = 1
	}
}

// Next advances the generator and returns the next 32-bit value.
//
// This is the standard xoshiro128++ update (Blackman & Vigna). Period is
// 2^128 - 1.
//
//go:nosplit
func (x *Xoshiro128PP) Next() uint32 {
	result := rotl(x.s[0]+x.s[3], 7) + x.s[0]

	t := x.s[1] << 9
	x.s[2] ^= x.s[0]
	x.s[3] ^= x.s[1]
	x.s[1] ^= x.s[2]
	x.s[0] ^= x.s[3]
	x.s[2] ^= t
	x.s[3] = rotl(x.s[3], 11)

	return result
}

// NextUniform returns a uniformly distributed float64 in [0, 1).
//
// The 32-bit output is scaled by 1/2^32, so the result can be exactly 0 but
// never reaches 1.
func (x *Xoshiro128PP) NextUniform() float64 {
	return float64(x.Next()) * (1.0 / (1 << 32))
}

// rotl rotates v left by k bits.
//
//go:nosplit
func rotl(v uint32, k uint) uint32 {
	return v<<k | v>>(32-k)
}

// splitmix64 returns the next splitmix64 output, advancing *state.
//
// Used only for seeding; xoshiro's authors recommend splitmix64 for exactly
// this purpose because it decorrelates similar seeds.
func splitmix64(state *uint64) uint64 {
	*state += 0x9E3779B97F4A7C15
	z := *state
	z = (z ^ (z >> 30)) * 0xBF58476D1CE4E5B9
	z = (z ^ (z >> 27)) * 0x94D049BB133111EB
	return z ^ (z >> 31)
}
