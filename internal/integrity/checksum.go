// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

// Package integrity provides the checksum, key masking, and guard code
// that tie a protected program's handler key to its own bytecode
// and to the environment it runs in.
package integrity

import (
	"encoding/binary"
	"math/bits"
)

// Sum is a 128-bit checksum as four 32-bit lanes.
type Sum [4]uint32

// Bytes returns the 16 lanes' bytes in little-endian order.
func (s Sum) Bytes() []byte {
	b := make([]byte, 0, 16)
	for _, h := range s {
		b = binary.LittleEndian.AppendUint32(b, h)
	}
	return b
}

// Lane initialization constants.
const (
	Lane2 = 0x6a09e667
	Lane3 = 0xbb67ae85
	Lane4 = 0x3c6ef372
)

// Checksum computes the four-lane checksum of data.
// Data is consumed 16 bytes at a time;
// a short final block is padded with zeros.
func Checksum(seed uint32, data []byte) Sum {
	h1, h2, h3, h4 := seed, seed^Lane2, seed^Lane3, seed^Lane4
	var block [16]byte
	for i := 0; i < len(data); i += 16 {
		clear(block[:])
		copy(block[:], data[i:])
		k1 := binary.LittleEndian.Uint32(block[0:])
		k2 := binary.LittleEndian.Uint32(block[4:])
		k3 := binary.LittleEndian.Uint32(block[8:])
		k4 := binary.LittleEndian.Uint32(block[12:])

		k1 *= 0x239b961b
		k1 = bits.RotateLeft32(k1, 15)
		k1 *= 0xab0e9789
		h1 ^= k1
		h1 = bits.RotateLeft32(h1, 19)
		h1 += h2
		h1 = h1*5 + 0x561ccd1b

		k2 *= 0xab0e9789
		k2 = bits.RotateLeft32(k2, 16)
		k2 *= 0x38b34ae5
		h2 ^= k2
		h2 = bits.RotateLeft32(h2, 17)
		h2 += h3
		h2 = h2*5 + 0x0bcaa747

		k3 *= 0x38b34ae5
		k3 = bits.RotateLeft32(k3, 17)
		k3 *= 0xa1e38b93
		h3 ^= k3
		h3 = bits.RotateLeft32(h3, 15)
		h3 += h4
		h3 = h3*5 + 0x96cd1c35

		k4 *= 0xa1e38b93
		k4 = bits.RotateLeft32(k4, 18)
		k4 *= 0x239b961b
		h4 ^= k4
		h4 = bits.RotateLeft32(h4, 13)
		h4 += h1
		h4 = h4*5 + 0x32ac3b17
	}

	n := uint32(len(data))
	h1 ^= n
	h2 ^= n
	h3 ^= n
	h4 ^= n
	h1 += h2 + h3 + h4
	h2 += h1
	h3 += h1
	h4 += h1
	return Sum{fmix32(h1), fmix32(h2), fmix32(h3), fmix32(h4)}
}

func fmix32(h uint32) uint32 {
	h ^= h >> 16
	h *= 0x85ebca6b
	h ^= h >> 13
	h *= 0xc2b2ae35
	h ^= h >> 16
	return h
}
