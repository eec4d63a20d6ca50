// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

package oclare

import (
	"github.com/google/uuid"
	"oclare.dev/pkg/internal/assembler"
	"oclare.dev/pkg/internal/buildctx"
	"oclare.dev/pkg/internal/bytecode"
	"oclare.dev/pkg/internal/dialect"
	"oclare.dev/pkg/internal/vmarch"
	"oclare.dev/pkg/internal/vmcrypto"
)

// Stats summarizes a build.
type Stats struct {
	// BytecodeByteCount is the size of every unit's code after self-modification.
	BytecodeByteCount int `json:"bytecodeByteCount"`
	// ConstantCount is the number of value constants across all units.
	ConstantCount int `json:"constantCount"`
	// InstructionCount is the number of optimized IR instructions.
	InstructionCount int `json:"instructionCount"`
	// ClosureCount is the number of nested functions.
	ClosureCount int       `json:"closureCount"`
	BuildID      uuid.UUID `json:"buildId"`
	// OpcodeUsageCount is the number of distinct mnemonics the bytecode uses.
	OpcodeUsageCount int             `json:"opcodeUsageCount"`
	EncryptionMethod vmcrypto.Method `json:"encryptionMethod"`
	Dialect          dialect.Dialect `json:"dialect"`
	Seed             string          `json:"seed"`
	// Fingerprint identifies the VM configuration derived from the seed.
	Fingerprint uuid.UUID `json:"fingerprint"`
	Archetype   string    `json:"archetype"`
	// Regions is the number of self-modifying regions.
	Regions int `json:"regions"`
	// OutputByteCount is the size of the protected program.
	OutputByteCount int    `json:"outputByteCount"`
	Version         string `json:"version"`
}

func newStats(b *buildctx.Context, cfg *vmarch.Config, u *bytecode.Unit, out *assembler.Output, irCount int, method vmcrypto.Method) *Stats {
	units := 0
	u.Walk(func(*bytecode.Unit) { units++ })
	return &Stats{
		BytecodeByteCount: u.ByteCount(),
		ConstantCount:     u.ValueCount(),
		InstructionCount:  irCount,
		ClosureCount:      units - 1,
		BuildID:           b.BuildID,
		OpcodeUsageCount:  u.UsedAll().Len(),
		EncryptionMethod:  method,
		Dialect:           cfg.Dialect,
		Seed:              b.Seed,
		Fingerprint:       cfg.Fingerprint(),
		Archetype:         cfg.Archetype.String(),
		Regions:           out.Regions,
		OutputByteCount:   len(out.Text),
		Version:           Version,
	}
}
