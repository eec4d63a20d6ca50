// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

package bytecode

import (
	"bytes"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"oclare.dev/pkg/internal/buildctx"
	"oclare.dev/pkg/internal/dialect"
	"oclare.dev/pkg/internal/ir"
	"oclare.dev/pkg/internal/luaparse"
	"oclare.dev/pkg/internal/vmarch"
)

const sampleSource = `
local s = 0
for i = 1, 10 do
  if i % 2 == 0 then s = s + i else s = s - 1 end
end
local function greet(name, ...)
  local parts = {name, ...}
  return table.concat(parts, ", ")
end
local t = {a = 1, b = {2, 3}}
for k, v in pairs(t) do
  print(k, v)
end
while s > 0 do s = s - 7 end
return greet("x", s, #t)
`

func compileSource(tb testing.TB, source string, d dialect.Dialect, seed string) (*Unit, *vmarch.Config) {
	tb.Helper()
	block, err := luaparse.ParseString("test.lua", source, d)
	if err != nil {
		tb.Fatal(err)
	}
	fn, err := ir.Build("test.lua", block, &ir.Options{Dialect: d, Guards: true})
	if err != nil {
		tb.Fatal(err)
	}
	ir.Optimize(fn, d)
	cfg, err := vmarch.Generate(buildctx.NewRand(seed), d)
	if err != nil {
		tb.Fatal(err)
	}
	u, err := Compile(fn, cfg)
	if err != nil {
		tb.Fatal(err)
	}
	return u, cfg
}

func mnemonics(insts []Instruction) []vmarch.Mnemonic {
	var list []vmarch.Mnemonic
	for _, inst := range insts {
		list = append(list, inst.Mnemonic)
	}
	return list
}

func TestCompile(t *testing.T) {
	block, err := luaparse.ParseString("test.lua", "return 1 + x", dialect.Lua54)
	if err != nil {
		t.Fatal(err)
	}
	fn, err := ir.Build("test.lua", block, &ir.Options{Dialect: dialect.Lua54})
	if err != nil {
		t.Fatal(err)
	}
	ir.Optimize(fn, dialect.Lua54)
	for _, seed := range []string{"a", "b", "c", "d"} {
		cfg, err := vmarch.Generate(buildctx.NewRand(seed), dialect.Lua54)
		if err != nil {
			t.Fatal(err)
		}
		u, err := Compile(fn, cfg)
		if err != nil {
			t.Fatal(err)
		}
		got, err := Disassemble(u.Code, cfg)
		if err != nil {
			t.Fatal(err)
		}
		want := []Instruction{
			{Pos: 0, Mnemonic: vmarch.Push, Operand: 1},
			{Pos: 5, Mnemonic: vmarch.LdGlob, Operand: 0},
			{Pos: 10, Mnemonic: vmarch.Add},
			{Pos: 11, Mnemonic: vmarch.Ret, Operand: 1},
		}
		if diff := cmp.Diff(want, got, cmpopts.IgnoreUnexported(Instruction{}), cmpopts.IgnoreFields(Instruction{}, "Line")); diff != "" {
			t.Errorf("seed %q: Disassemble (-want +got):\n%s", seed, diff)
		}
		if len(u.Code) != 13 {
			t.Errorf("seed %q: len(Code) = %d; want 13", seed, len(u.Code))
		}
		if u.Code[0] != cfg.Opcode(vmarch.Push) {
			t.Errorf("seed %q: Code[0] = %#02x; want PUSH = %#02x", seed, u.Code[0], cfg.Opcode(vmarch.Push))
		}
	}
}

func TestCompileNested(t *testing.T) {
	u, _ := compileSource(t, sampleSource, dialect.Lua53, "nested")
	if len(u.Children) != 1 {
		t.Fatalf("main has %d children; want 1", len(u.Children))
	}
	greet := u.Children[0]
	if greet.Params != 1 || !greet.IsVararg {
		t.Errorf("greet has %d params, vararg=%t; want 1, true", greet.Params, greet.IsVararg)
	}
	if first := greet.Instructions()[0].Mnemonic; first != vmarch.Rekey {
		t.Errorf("greet starts with %v; want REKEY", first)
	}
	if first := u.Instructions()[0].Mnemonic; first == vmarch.Rekey {
		t.Error("main starts with REKEY")
	}
	used := u.UsedAll()
	for _, m := range []vmarch.Mnemonic{vmarch.Loop, vmarch.TFor, vmarch.Clos, vmarch.SetList, vmarch.ChkTim, vmarch.ChkDbg} {
		if !used.Has(m) {
			t.Errorf("UsedAll() does not include %v", m)
		}
	}
	if u.InstructionCount() <= len(u.Instructions()) {
		t.Errorf("InstructionCount() = %d does not include children", u.InstructionCount())
	}
}

func TestRoundTrip(t *testing.T) {
	for _, d := range dialect.All() {
		for _, seed := range []string{"one", "two", "three"} {
			u, cfg := compileSource(t, sampleSource, d, seed)
			u.Walk(func(u *Unit) {
				insts, err := Disassemble(u.Code, cfg)
				if err != nil {
					t.Errorf("%v/%s: %s: %v", d, seed, u.Name, err)
					return
				}
				if diff := cmp.Diff(u.Instructions(), insts, cmpopts.IgnoreUnexported(Instruction{}), cmpopts.IgnoreFields(Instruction{}, "Line")); diff != "" {
					t.Errorf("%v/%s: %s: Disassemble (-want +got):\n%s", d, seed, u.Name, diff)
				}
				code, err := Encode(insts, cfg)
				if err != nil {
					t.Errorf("%v/%s: %s: %v", d, seed, u.Name, err)
					return
				}
				if !bytes.Equal(code, u.Code) {
					t.Errorf("%v/%s: %s: Encode(Disassemble(code)) != code", d, seed, u.Name)
				}
			})
		}
	}
}

func TestSelfModify(t *testing.T) {
	for _, seed := range []string{"sm1", "sm2", "sm3", "sm4"} {
		u, cfg := compileSource(t, sampleSource, dialect.Lua54, seed)
		before := make(map[*Unit][]vmarch.Mnemonic)
		u.Walk(func(u *Unit) { before[u] = mnemonics(u.Instructions()) })

		n, err := SelfModify(u, cfg, buildctx.NewRand(seed))
		if err != nil {
			t.Fatal(err)
		}
		if n == 0 {
			t.Errorf("seed %q: SelfModify scrambled no regions", seed)
		}
		if _, err := SelfModify(u, cfg, buildctx.NewRand(seed)); err == nil {
			t.Errorf("seed %q: second SelfModify did not return an error", seed)
		}

		u.Walk(func(u *Unit) {
			insts, err := Disassemble(u.Code, cfg)
			if err != nil {
				t.Errorf("seed %q: %s: %v", seed, u.Name, err)
				return
			}
			var healed []vmarch.Mnemonic
			for _, inst := range insts {
				if inst.Mnemonic == vmarch.SMBC {
					if got := int(inst.Operand); got != inst.Pos+inst.Size() {
						t.Errorf("seed %q: SMBC at %04x targets %04x; want the next instruction", seed, inst.Pos, got)
					}
					if inst.Args[0] != cfg.SMXorMask {
						t.Errorf("seed %q: SMBC mask = %#02x; want %#02x", seed, inst.Args[0], cfg.SMXorMask)
					}
					continue
				}
				healed = append(healed, inst.Mnemonic)
			}
			if diff := cmp.Diff(before[u], healed); diff != "" {
				t.Errorf("seed %q: %s: healed instructions (-before +after):\n%s", seed, u.Name, diff)
			}
			code, err := Encode(insts, cfg)
			if err != nil {
				t.Errorf("seed %q: %s: %v", seed, u.Name, err)
				return
			}
			if !bytes.Equal(code, u.Code) {
				t.Errorf("seed %q: %s: Encode(Disassemble(code)) != code", seed, u.Name)
			}
			for _, inst := range insts {
				if !inst.Mnemonic.IsJump() {
					continue
				}
				target := int(inst.Operand)
				if target == len(u.Code) {
					continue
				}
				idx := -1
				for i, other := range insts {
					if other.Pos == target {
						idx = i
					}
				}
				if idx < 0 {
					t.Errorf("seed %q: %s: jump at %04x lands inside an instruction", seed, u.Name, inst.Pos)
				}
			}
		})
	}
}

func TestHealing(t *testing.T) {
	u, cfg := compileSource(t, sampleSource, dialect.Lua51, "heal")
	original := bytes.Clone(u.Code)
	if _, err := SelfModify(u, cfg, buildctx.NewRand("heal")); err != nil {
		t.Fatal(err)
	}
	insts, err := Disassemble(u.Code, cfg)
	if err != nil {
		t.Fatal(err)
	}
	healed := bytes.Clone(u.Code)
	for _, inst := range insts {
		if inst.Mnemonic != vmarch.SMBC {
			continue
		}
		start, n := int(inst.Operand), int(inst.Args[1])
		for i := start; i < start+n; i++ {
			healed[i] ^= inst.Args[0]
		}
	}
	if bytes.Equal(healed, u.Code) {
		t.Fatal("no bytes were scrambled")
	}
	var stripped []Instruction
	for _, inst := range insts {
		if inst.Mnemonic != vmarch.SMBC {
			stripped = append(stripped, inst)
		}
	}
	// Relative jumps move with the inserted instructions,
	// so compare the decoded streams rather than raw bytes.
	want, err := Disassemble(original, cfg)
	if err != nil {
		t.Fatal(err)
	}
	if diff := cmp.Diff(mnemonics(want), mnemonics(stripped)); diff != "" {
		t.Errorf("healed stream (-want +got):\n%s", diff)
	}
}

func TestDisassembleErrors(t *testing.T) {
	cfg, err := vmarch.Generate(buildctx.NewRand("errors"), dialect.Lua54)
	if err != nil {
		t.Fatal(err)
	}
	tests := []struct {
		name string
		code []byte
		want string
	}{
		{"Decoy", []byte{cfg.Decoys[0]}, "decoy opcode"},
		{"Truncated", []byte{cfg.Opcode(vmarch.Push), 1, 2}, "truncated"},
		{"RegionPastEnd", append([]byte{cfg.Opcode(vmarch.SMBC)}, smbcOperand(cfg, 7, 100)...), "out of range"},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			_, err := Disassemble(test.code, cfg)
			if err == nil || !strings.Contains(err.Error(), test.want) {
				t.Errorf("Disassemble(...) = %v; want error containing %q", err, test.want)
			}
		})
	}
}

func smbcOperand(cfg *vmarch.Config, start uint32, n byte) []byte {
	b := make([]byte, 4, 6)
	cfg.ByteOrder().PutUint32(b, start^cfg.ImmediateKey)
	return append(b, cfg.SMXorMask, n)
}

func TestCompileConstantOutOfRange(t *testing.T) {
	cfg, err := vmarch.Generate(buildctx.NewRand("range"), dialect.Lua54)
	if err != nil {
		t.Fatal(err)
	}
	fn := &ir.Function{
		Name:     "main",
		IsVararg: true,
		Code: []ir.Instruction{
			{Op: ir.OpLoadConst, A: 3},
			{Op: ir.OpHalt},
		},
	}
	if _, err := Compile(fn, cfg); err == nil || !strings.Contains(err.Error(), "out of range") {
		t.Errorf("Compile(...) = %v; want constant index error", err)
	}
}

func TestDump(t *testing.T) {
	u, cfg := compileSource(t, sampleSource, dialect.Luau, "dump")
	buf := new(strings.Builder)
	if err := Dump(buf, u, cfg); err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"function main", "function greet", "LOOP", "K"} {
		if !strings.Contains(buf.String(), want) {
			t.Errorf("Dump output does not contain %q:\n%s", want, buf)
		}
	}
}
