// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

package integrity

import (
	"oclare.dev/pkg/internal/buildctx"
)

// Witness is a runtime test that contributes Constant to the key modifier
// when Test holds in the running environment.
type Witness struct {
	// Test is a Lua boolean expression.
	Test     string
	Constant uint32
}

var witnessTests = [...]string{
	`type(print)=="function"`,
	`type(pairs)=="function"`,
	`type(tostring)=="function"`,
	`type(tonumber)=="function"`,
	`type(math)=="table"`,
	`type(string)=="table"`,
	`type(table)=="table"`,
	`type(coroutine)=="table"`,
}

// NumWitnesses is the number of witnesses that make up the modifier.
const NumWitnesses = len(witnessTests)

// System holds a build's checksum seed and witnesses.
type System struct {
	Seed      uint32
	Witnesses [NumWitnesses]Witness
}

// New draws a checksum seed and witness constants from rng.
func New(rng *buildctx.Rand) *System {
	s := &System{Seed: rng.Key32()}
	for i, test := range witnessTests {
		s.Witnesses[i] = Witness{Test: test, Constant: rng.Key32()}
	}
	return s
}

// Checksum returns the checksum of data under the build's seed.
func (s *System) Checksum(data []byte) Sum {
	return Checksum(s.Seed, data)
}

// Modifier returns the XOR of the witness constants:
// the value the witnesses produce in an untampered environment.
func (s *System) Modifier() uint32 {
	var m uint32
	for _, p := range s.Witnesses {
		m ^= p.Constant
	}
	return m
}

// MaskHandlerKey returns key with byte i XORed with byte i%4
// of the little-endian modifier.
// It is its own inverse.
func MaskHandlerKey(key []byte, modifier uint32) []byte {
	masked := make([]byte, len(key))
	for i, b := range key {
		masked[i] = b ^ byte(modifier>>((i%4)*8))
	}
	return masked
}

// DeriveHandlerKey returns key XORed with the 16 bytes of sum,
// cycled over the key.
// It is its own inverse.
func DeriveHandlerKey(key []byte, sum Sum) []byte {
	sb := sum.Bytes()
	derived := make([]byte, len(key))
	for i, b := range key {
		derived[i] = b ^ sb[i%len(sb)]
	}
	return derived
}

// SealHandlerKey returns the form of the handler key stored in the program.
// Unsealing requires both the checksum of the untouched bytecode
// and the modifier of an untampered environment:
//
//	key == DeriveHandlerKey(MaskHandlerKey(sealed, modifier), sum)
func (s *System) SealHandlerKey(key []byte, sum Sum) []byte {
	return MaskHandlerKey(DeriveHandlerKey(key, sum), s.Modifier())
}
