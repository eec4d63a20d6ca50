// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

package bytecode

import (
	"fmt"
	"slices"

	"oclare.dev/pkg/internal/buildctx"
	"oclare.dev/pkg/internal/vmarch"
)

const (
	minRegions          = 3
	maxRegions          = 8
	maxRegionInsts      = 3
	regionAttemptFactor = 8
)

type region struct {
	start, end int // instruction indices, end exclusive
}

// SelfModify scrambles regions of u and its children.
// Each region is a run of whole instructions that no jump enters
// except at its first instruction.
// An SMBC instruction is inserted before each region
// and jumps to the region are redirected to it,
// so the region is restored before it first runs.
// SelfModify returns the number of regions scrambled.
func SelfModify(u *Unit, cfg *vmarch.Config, rng *buildctx.Rand) (int, error) {
	total := 0
	var err error
	u.Walk(func(u *Unit) {
		if err != nil {
			return
		}
		var n int
		n, err = selfModify(u, cfg, rng)
		total += n
	})
	if err != nil {
		return total, fmt.Errorf("self-modify: %w", err)
	}
	return total, nil
}

func selfModify(u *Unit, cfg *vmarch.Config, rng *buildctx.Rand) (int, error) {
	if len(u.insts) == 0 {
		return 0, nil
	}
	entered := make([]bool, len(u.insts)+1)
	for _, inst := range u.insts {
		if inst.ref > 0 {
			entered[inst.ref-1] = true
		}
		if inst.Mnemonic == vmarch.SMBC {
			return 0, fmt.Errorf("%s: already self-modifying", u.Name)
		}
	}
	taken := make([]bool, len(u.insts))
	want := rng.IntRange(minRegions, maxRegions)
	var regions []region
	for attempt := 0; attempt < want*regionAttemptFactor && len(regions) < want; attempt++ {
		start := rng.IntRange(0, len(u.insts)-1)
		n := rng.IntRange(1, maxRegionInsts)
		r := region{start: start, end: min(start+n, len(u.insts))}
		if regionOK(u.insts, r, entered, taken) {
			for i := r.start; i < r.end; i++ {
				taken[i] = true
			}
			regions = append(regions, r)
		}
	}
	if len(regions) == 0 {
		return 0, nil
	}

	// Insert from the back so earlier indices stay valid.
	slices.SortFunc(regions, func(a, b region) int { return b.start - a.start })
	for _, r := range regions {
		size := 0
		for _, inst := range u.insts[r.start:r.end] {
			size += inst.Size()
		}
		smbc := Instruction{
			Mnemonic: vmarch.SMBC,
			Args:     [4]byte{cfg.SMXorMask, byte(size)},
			Line:     u.insts[r.start].Line,
			// Target the instruction after the SMBC once it is inserted.
			ref: r.start + 2,
		}
		for i := range u.insts {
			if u.insts[i].ref > r.start+1 {
				u.insts[i].ref++
			}
		}
		u.insts = slices.Insert(u.insts, r.start, smbc)
	}
	code, err := encode(u.insts, cfg)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", u.Name, err)
	}
	u.Code = code
	u.Used.Add(vmarch.SMBC)
	return len(regions), nil
}

func regionOK(insts []Instruction, r region, entered, taken []bool) bool {
	size := 0
	for i := r.start; i < r.end; i++ {
		if taken[i] || (i > r.start && entered[i]) {
			return false
		}
		size += insts[i].Size()
	}
	return size >= 2 && size <= 0xff
}
