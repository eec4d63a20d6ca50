// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

package integrity

import (
	"bytes"
	"math/bits"
	"strings"
	"testing"

	"github.com/google/go-cmp/cmp"
	"oclare.dev/pkg/internal/buildctx"
	"oclare.dev/pkg/internal/ir"
)

func TestChecksum(t *testing.T) {
	seq := make([]byte, 100)
	for i := range seq {
		seq[i] = byte(i)
	}
	tests := []struct {
		seed uint32
		data []byte
		want Sum
	}{
		{0, nil, Sum{0x07fa9654, 0xfdb3e43f, 0x295b2143, 0x81b76661}},
		{0x12345678, nil, Sum{0x3ef9b0f8, 0x5081735a, 0xf1ffa15f, 0x952fe0ae}},
		{0x12345678, []byte("hello world"), Sum{0x897c8283, 0x316804e9, 0x67b10110, 0x7eb40323}},
		{0xdeadbeef, []byte("0123456789abcdef"), Sum{0x87a5c5c9, 0xf4ab94f9, 0xa5235d38, 0x96fa515b}},
		{0xdeadbeef, seq, Sum{0xe2f460b1, 0x44f5eee3, 0x8911f382, 0x968c155d}},
	}
	for _, test := range tests {
		if got := Checksum(test.seed, test.data); got != test.want {
			t.Errorf("Checksum(%#08x, %q) = %#08x; want %#08x", test.seed, test.data, got, test.want)
		}
	}
}

func TestChecksumAvalanche(t *testing.T) {
	data := []byte("local s = 0 for i = 1, 3 do s = s + i end return s")
	base := Checksum(0xcafebabe, data)
	for i := range len(data) * 8 {
		flipped := bytes.Clone(data)
		flipped[i/8] ^= 1 << (i % 8)
		got := Checksum(0xcafebabe, flipped)
		if got == base {
			t.Errorf("flipping bit %d did not change the checksum", i)
			continue
		}
		changed := 0
		for lane := range got {
			changed += bits.OnesCount32(got[lane] ^ base[lane])
		}
		if changed < 16 {
			t.Errorf("flipping bit %d changed only %d of 128 checksum bits", i, changed)
		}
	}
	if Checksum(1, data) == Checksum(2, data) {
		t.Error("seed does not affect the checksum")
	}
	if Checksum(1, []byte{0}) == Checksum(1, nil) {
		t.Error("trailing zero byte does not affect the checksum")
	}
}

func TestSumBytes(t *testing.T) {
	got := Sum{0x04030201, 0x08070605, 0x0c0b0a09, 0x100f0e0d}.Bytes()
	want := []byte{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 11, 12, 13, 14, 15, 16}
	if !bytes.Equal(got, want) {
		t.Errorf("Bytes() = %v; want %v", got, want)
	}
}

func TestHandlerKey(t *testing.T) {
	rng := buildctx.NewRand("handler key")
	s := New(rng)
	key := rng.Bytes(32)
	sum := s.Checksum([]byte("bytecode"))

	if got, want := MaskHandlerKey(key, 0x44332211)[:5], []byte{key[0] ^ 0x11, key[1] ^ 0x22, key[2] ^ 0x33, key[3] ^ 0x44, key[4] ^ 0x11}; !bytes.Equal(got, want) {
		t.Errorf("MaskHandlerKey(...)[:5] = %x; want %x", got, want)
	}
	if got := DeriveHandlerKey(key, sum); got[16] != key[16]^byte(sum[0]) {
		t.Errorf("DeriveHandlerKey does not cycle the checksum bytes")
	}

	sealed := s.SealHandlerKey(key, sum)
	if bytes.Equal(sealed, key) {
		t.Fatal("sealed key equals key")
	}
	got := DeriveHandlerKey(MaskHandlerKey(sealed, s.Modifier()), sum)
	if diff := cmp.Diff(key, got); diff != "" {
		t.Errorf("unsealed key (-want +got):\n%s", diff)
	}

	tampered := s.Checksum([]byte("bytecodf"))
	if bytes.Equal(DeriveHandlerKey(MaskHandlerKey(sealed, s.Modifier()), tampered), key) {
		t.Error("key unsealed under a different checksum")
	}
	if bytes.Equal(DeriveHandlerKey(MaskHandlerKey(sealed, s.Modifier()^s.Witnesses[3].Constant), sum), key) {
		t.Error("key unsealed with a failed witness")
	}
}

func TestModifier(t *testing.T) {
	s := New(buildctx.NewRand("modifier"))
	var want uint32
	seen := make(map[string]bool)
	for _, p := range s.Witnesses {
		want ^= p.Constant
		if seen[p.Test] {
			t.Errorf("witness %q repeated", p.Test)
		}
		seen[p.Test] = true
	}
	if got := s.Modifier(); got != want {
		t.Errorf("Modifier() = %#08x; want %#08x", got, want)
	}
	if other := New(buildctx.NewRand("modifier")); other.Modifier() != s.Modifier() || other.Seed != s.Seed {
		t.Error("same seed produced a different system")
	}
}

func newNamer(tb testing.TB) *buildctx.Context {
	tb.Helper()
	c, err := buildctx.New("guards", bytes.NewReader(make([]byte, 64)))
	if err != nil {
		tb.Fatal(err)
	}
	return c
}

func TestGuards(t *testing.T) {
	g := NewGuards(newNamer(t))
	all := g.All()
	if len(all) != len(ir.CheckKinds())+2 {
		t.Errorf("len(All()) = %d; want %d", len(all), len(ir.CheckKinds())+2)
	}
	names := make(map[string]bool)
	for _, guard := range all {
		if names[guard.Name] {
			t.Errorf("guard name %s repeated", guard.Name)
		}
		names[guard.Name] = true
		if !strings.Contains(guard.Source, "local function "+guard.Name+"()") {
			t.Errorf("guard %s source does not define it:\n%s", guard.Name, guard.Source)
		}
		for _, bad := range []string{"$", "goto", "//", "os.execute"} {
			if strings.Contains(guard.Source, bad) {
				t.Errorf("guard %s source contains %q", guard.Name, bad)
			}
		}
		if got, want := strings.Count(guard.Source, "function"), strings.Count(guard.Source, "local function"); got != want {
			t.Errorf("guard %s defines %d functions but only %d locally", guard.Name, got, want)
		}
	}
	for _, k := range ir.CheckKinds() {
		if g.Check(k) == nil {
			t.Errorf("Check(%v) = nil", k)
		}
	}

	cond := g.Condition()
	if strings.Contains(cond, g.Tick.Name) {
		t.Errorf("Condition() = %q includes the tick guard", cond)
	}
	for _, k := range ir.CheckKinds() {
		if !strings.Contains(cond, g.Check(k).Name+"()") {
			t.Errorf("Condition() = %q does not call the %v guard", cond, k)
		}
	}
	if !strings.Contains(cond, g.Timing.Name+"()") {
		t.Errorf("Condition() = %q does not call the timing guard", cond)
	}

	src := g.Source()
	for _, guard := range all {
		if !strings.Contains(src, guard.Source) {
			t.Errorf("Source() is missing guard %s", guard.Name)
		}
	}
}

func TestGuardsDeterministic(t *testing.T) {
	a := NewGuards(newNamer(t)).Source()
	b := NewGuards(newNamer(t)).Source()
	if diff := cmp.Diff(a, b); diff != "" {
		t.Errorf("guard source differs for the same seed (-first +second):\n%s", diff)
	}
}
