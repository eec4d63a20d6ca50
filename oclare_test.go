// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

package oclare

import (
	"bytes"
	"context"
	"errors"
	"strings"
	"testing"

	jsonv2 "github.com/go-json-experiment/json"
	"github.com/google/go-cmp/cmp"
	"oclare.dev/pkg/internal/bytecode"
	"oclare.dev/pkg/internal/dialect"
	"oclare.dev/pkg/internal/lualex"
	"oclare.dev/pkg/internal/refvm"
	"oclare.dev/pkg/internal/testcontext"
	"oclare.dev/pkg/internal/vmarch"
	"oclare.dev/pkg/internal/vmcrypto"
)

const sampleSource = `
local function fib(n)
  if n < 2 then return n end
  return fib(n - 1) + fib(n - 2)
end
local parts = {}
for i = 1, 10 do
  parts[#parts + 1] = fib(i)
end
local adder = function(a)
  return function(b) return a + b end
end
print(table.concat(parts, " "), adder(2)(3))
return fib(15)
`

func zeroEntropy() *bytes.Reader {
	return bytes.NewReader(make([]byte, 64))
}

func TestProtect(t *testing.T) {
	for _, d := range dialect.All() {
		for _, method := range vmcrypto.Methods() {
			t.Run(d.String()+"/"+method.String(), func(t *testing.T) {
				ctx, cancel := testcontext.New(t)
				defer cancel()
				var stages []Stage
				result, err := Protect(ctx, &Options{
					Source:     sampleSource,
					Name:       "sample.lua",
					Dialect:    d,
					Seed:       "protect",
					Encryption: method,
					Progress: func(p Progress) {
						stages = append(stages, p.Stage)
					},
					Entropy: zeroEntropy(),
				})
				if err != nil {
					t.Fatal(err)
				}

				if !strings.HasPrefix(result.Text, "return (function(...)") {
					t.Errorf("output does not begin with the chunk wrapper: %.40q", result.Text)
				}
				wantStages := []Stage{
					StageLex,
					StageParse,
					StageIR,
					StageOptimize,
					StageArchitect,
					StageCompile,
					StageProtect,
					StageAssemble,
					StageDone,
				}
				if diff := cmp.Diff(wantStages, stages); diff != "" {
					t.Errorf("stages (-want +got):\n%s", diff)
				}

				s := result.Stats
				if s.BytecodeByteCount != result.Unit.ByteCount() {
					t.Errorf("BytecodeByteCount = %d; want %d", s.BytecodeByteCount, result.Unit.ByteCount())
				}
				if s.ClosureCount != 3 {
					t.Errorf("ClosureCount = %d; want 3", s.ClosureCount)
				}
				if s.InstructionCount == 0 || s.ConstantCount == 0 || s.OpcodeUsageCount == 0 {
					t.Errorf("Stats = %+v; want nonzero counts", s)
				}
				if s.Dialect != d || s.EncryptionMethod != method {
					t.Errorf("Stats dialect, method = %v, %v; want %v, %v", s.Dialect, s.EncryptionMethod, d, method)
				}
				if s.BuildID != result.Build.BuildID {
					t.Errorf("BuildID = %v; want %v", s.BuildID, result.Build.BuildID)
				}
				if s.OutputByteCount != len(result.Text) {
					t.Errorf("OutputByteCount = %d; want %d", s.OutputByteCount, len(result.Text))
				}
			})
		}
	}
}

// TestProtectBehavior runs the protected unit on the reference interpreter.
func TestProtectBehavior(t *testing.T) {
	for _, d := range dialect.All() {
		t.Run(d.String(), func(t *testing.T) {
			ctx, cancel := testcontext.New(t)
			defer cancel()
			result, err := Protect(ctx, &Options{
				Source:  sampleSource,
				Dialect: d,
				Seed:    "behavior",
				Entropy: zeroEntropy(),
			})
			if err != nil {
				t.Fatal(err)
			}
			m := refvm.New(result.Config)
			out := new(strings.Builder)
			m.Stdout = out
			got, err := m.Run(ctx, result.Unit)
			if err != nil {
				t.Fatal(err)
			}
			if want := "1 1 2 3 5 8 13 21 34 55\t5\n"; out.String() != want {
				t.Errorf("output = %q; want %q", out.String(), want)
			}
			if len(got) != 1 || m.ToString(got[0]) != "610" {
				t.Errorf("results = %v; want [610]", got)
			}
		})
	}
}

func TestProtectDeterministic(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	protect := func(seed string, entropy []byte) *Result {
		t.Helper()
		result, err := Protect(ctx, &Options{
			Source:  sampleSource,
			Dialect: dialect.Lua54,
			Seed:    seed,
			Entropy: bytes.NewReader(entropy),
		})
		if err != nil {
			t.Fatal(err)
		}
		return result
	}
	zeros := make([]byte, 64)
	ones := bytes.Repeat([]byte{1}, 64)

	r1 := protect("same", zeros)
	r2 := protect("same", zeros)
	if r1.Text != r2.Text {
		t.Error("same seed and entropy produced different programs")
	}

	r3 := protect("same", ones)
	if r1.Stats.Fingerprint != r3.Stats.Fingerprint {
		t.Errorf("fingerprint changed with entropy: %v != %v", r1.Stats.Fingerprint, r3.Stats.Fingerprint)
	}
	if !bytes.Equal(r1.Unit.Code, r3.Unit.Code) {
		t.Error("bytecode changed with entropy")
	}
	if r1.Text == r3.Text {
		t.Error("different entropy produced identical programs")
	}

	r4 := protect("different", zeros)
	if r1.Stats.Fingerprint == r4.Stats.Fingerprint {
		t.Error("different seeds produced the same fingerprint")
	}
}

// checkOrder returns the integrity checks of the main unit in execution order.
func checkOrder(u *bytecode.Unit) []vmarch.Mnemonic {
	var checks []vmarch.Mnemonic
	for _, inst := range u.Instructions() {
		if inst.Mnemonic.IsCheck() {
			checks = append(checks, inst.Mnemonic)
		}
	}
	return checks
}

func TestProtectCheckOrder(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	protect := func(seed string, entropy []byte) []vmarch.Mnemonic {
		t.Helper()
		result, err := Protect(ctx, &Options{
			Source:  sampleSource,
			Dialect: dialect.Lua52,
			Seed:    seed,
			Entropy: bytes.NewReader(entropy),
		})
		if err != nil {
			t.Fatal(err)
		}
		return checkOrder(result.Unit)
	}

	first := protect("order", make([]byte, 64))
	if len(first) != 5 {
		t.Fatalf("main unit has checks %v; want 5", first)
	}
	again := protect("order", bytes.Repeat([]byte{7}, 64))
	if diff := cmp.Diff(first, again); diff != "" {
		t.Errorf("check order changed for the same seed (-first +again):\n%s", diff)
	}

	distinct := make(map[string]bool)
	for _, seed := range []string{"a", "b", "c", "d", "e", "f", "g", "h"} {
		order := protect(seed, make([]byte, 64))
		var key strings.Builder
		for _, m := range order {
			key.WriteString(m.String())
			key.WriteString(" ")
		}
		distinct[key.String()] = true
	}
	if len(distinct) < 2 {
		t.Errorf("8 seeds produced %d check orders; want at least 2", len(distinct))
	}
}

func TestProtectSyntaxError(t *testing.T) {
	tests := []struct {
		name    string
		source  string
		dialect dialect.Dialect
	}{
		{name: "Unterminated", source: `local s = "abc`, dialect: dialect.Lua54},
		{name: "MissingEnd", source: "if x then y()", dialect: dialect.Lua54},
		{name: "GotoInLua51", source: "goto skip\n::skip::", dialect: dialect.Lua51},
		{name: "CompoundInLua54", source: "local x = 1\nx += 1", dialect: dialect.Lua54},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			ctx, cancel := testcontext.New(t)
			defer cancel()
			_, err := Protect(ctx, &Options{
				Source:  test.source,
				Name:    "bad.lua",
				Dialect: test.dialect,
			})
			var se *lualex.SyntaxError
			if !errors.As(err, &se) {
				t.Fatalf("Protect(...) error = %v; want *lualex.SyntaxError", err)
			}
			if !strings.HasPrefix(err.Error(), "protect bad.lua: ") {
				t.Errorf("error = %q; want prefix %q", err, "protect bad.lua: ")
			}
			if se.Source != "bad.lua" {
				t.Errorf("SyntaxError.Source = %q; want %q", se.Source, "bad.lua")
			}
		})
	}
}

func TestProtectCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := Protect(ctx, &Options{Source: sampleSource})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Protect(canceled) error = %v; want %v", err, context.Canceled)
	}
}

func TestProtectDisableGuards(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	result, err := Protect(ctx, &Options{
		Source:        sampleSource,
		Dialect:       dialect.Lua53,
		Seed:          "noguards",
		DisableGuards: true,
		Entropy:       zeroEntropy(),
	})
	if err != nil {
		t.Fatal(err)
	}
	if result.Output.Guards != nil {
		t.Error("guards emitted with DisableGuards")
	}
}

func TestStatsJSON(t *testing.T) {
	ctx, cancel := testcontext.New(t)
	defer cancel()
	result, err := Protect(ctx, &Options{
		Source:     "return 1",
		Dialect:    dialect.Luau,
		Seed:       "json",
		Encryption: vmcrypto.XSalsa20Poly1305,
		Entropy:    zeroEntropy(),
	})
	if err != nil {
		t.Fatal(err)
	}
	data, err := jsonv2.Marshal(result.Stats)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]any
	if err := jsonv2.Unmarshal(data, &got); err != nil {
		t.Fatal(err)
	}
	for _, key := range []string{
		"bytecodeByteCount",
		"constantCount",
		"instructionCount",
		"closureCount",
		"buildId",
		"opcodeUsageCount",
		"encryptionMethod",
		"dialect",
	} {
		if _, ok := got[key]; !ok {
			t.Errorf("stats JSON missing %q: %s", key, data)
		}
	}
	if got["dialect"] != dialect.Luau.String() {
		t.Errorf("dialect = %v; want %q", got["dialect"], dialect.Luau.String())
	}
	if got["buildId"] != result.Build.BuildID.String() {
		t.Errorf("buildId = %v; want %q", got["buildId"], result.Build.BuildID)
	}
}
