// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

// Package buildctx holds the per-build state that every pipeline stage shares:
// the seeded random stream, the entropy-derived salt and build ID,
// and the generator for identifiers in the emitted program.
package buildctx

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/google/uuid"
)

// Context is the state of a single build.
// Nothing in it is shared between builds.
type Context struct {
	// Seed is the string the random stream was seeded with.
	// When the caller supplies no seed, it is derived from entropy.
	Seed string
	// BuildID identifies the build. It is always drawn from entropy.
	BuildID uuid.UUID
	// Salt is mixed into every nonce of the build.
	Salt uint32
	// Rand is the deterministic stream for all layout decisions.
	Rand *Rand

	names map[string]struct{}
}

// New returns a build context for the given seed.
// entropy supplies the build ID, the salt, and the seed if seed is empty.
// If entropy is nil, crypto/rand is used.
func New(seed string, entropy io.Reader) (*Context, error) {
	if entropy == nil {
		entropy = rand.Reader
	}
	id, err := uuid.NewRandomFromReader(entropy)
	if err != nil {
		return nil, fmt.Errorf("new build: %v", err)
	}
	var saltBytes [4]byte
	if _, err := io.ReadFull(entropy, saltBytes[:]); err != nil {
		return nil, fmt.Errorf("new build: read salt: %v", err)
	}
	if seed == "" {
		seed = id.String()
	}
	return &Context{
		Seed:    seed,
		BuildID: id,
		Salt:    binary.LittleEndian.Uint32(saltBytes[:]),
		Rand:    NewRand(seed),
		names:   make(map[string]struct{}),
	}, nil
}

const identifierLetters = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ"

// Identifier returns a fresh Lua identifier of the form _ followed by n letters.
// Identifiers never repeat within a build.
func (c *Context) Identifier(n int) string {
	buf := make([]byte, n+1)
	buf[0] = '_'
	for {
		for i := 1; i < len(buf); i++ {
			buf[i] = identifierLetters[c.Rand.IntRange(0, len(identifierLetters)-1)]
		}
		name := string(buf)
		if _, dup := c.names[name]; !dup {
			c.names[name] = struct{}{}
			return name
		}
	}
}
