// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

package buildctx

import "math/bits"

// Rand is a xoshiro128** generator.
// Its output is a pure function of the seed string it was created with.
// A Rand is not safe to use from multiple goroutines.
type Rand struct {
	s [4]uint32
}

const warmupDraws = 20

// NewRand returns a generator seeded from the FNV-1a hash of seed,
// expanded through splitmix32.
func NewRand(seed string) *Rand {
	r := new(Rand)
	x := fnv1a(seed)
	for range 4 {
		x += 0x6a09e667
		for i := range r.s {
			var v uint32
			x, v = splitmix32(x)
			r.s[i] ^= v
		}
	}
	if r.s == [4]uint32{} {
		r.s[0] = 1
	}
	for range warmupDraws {
		r.Uint32()
	}
	return r
}

func fnv1a(s string) uint32 {
	h := uint32(2166136261)
	for i := 0; i < len(s); i++ {
		h ^= uint32(s[i])
		h *= 16777619
	}
	return h
}

func splitmix32(state uint32) (next, value uint32) {
	state += 0x9e3779b9
	z := state
	z = (z ^ z>>16) * 0x85ebca6b
	z = (z ^ z>>13) * 0xc2b2ae35
	return state, z ^ z>>16
}

// Uint32 returns the next 32 bits of the stream.
func (r *Rand) Uint32() uint32 {
	s := &r.s
	result := bits.RotateLeft32(s[1]*5, 7) * 9
	t := s[1] << 9
	s[2] ^= s[0]
	s[3] ^= s[1]
	s[1] ^= s[2]
	s[0] ^= s[3]
	s[2] ^= t
	s[3] = bits.RotateLeft32(s[3], 11)
	return result
}

// Float64 returns a number in [0, 1) with 32 bits of precision.
func (r *Rand) Float64() float64 {
	return float64(r.Uint32()) / (1 << 32)
}

// IntRange returns an integer in the closed interval [lo, hi].
// It panics if hi < lo.
func (r *Rand) IntRange(lo, hi int) int {
	if hi < lo {
		panic("buildctx: IntRange with empty interval")
	}
	n := uint64(hi-lo) + 1
	return lo + int(uint64(r.Uint32())*n>>32)
}

// Bool returns true with probability one half.
func (r *Rand) Bool() bool {
	return r.Float64() > 0.5
}

// Key32 returns a 32-bit key assembled from four byte draws.
func (r *Rand) Key32() uint32 {
	var k uint32
	for range 4 {
		k = k<<8 | uint32(r.IntRange(0, 255))
	}
	return k
}

// Bytes returns n bytes drawn from the stream.
func (r *Rand) Bytes(n int) []byte {
	b := make([]byte, n)
	for i := range b {
		b[i] = byte(r.IntRange(0, 255))
	}
	return b
}

// Shuffle permutes s in place with a Fisher-Yates shuffle
// driven by r.
func Shuffle[S ~[]E, E any](r *Rand, s S) {
	for i := len(s) - 1; i > 0; i-- {
		j := r.IntRange(0, i)
		s[i], s[j] = s[j], s[i]
	}
}

// Perm returns a random permutation of [0, n).
func (r *Rand) Perm(n int) []int {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	Shuffle(r, p)
	return p
}
