// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

// Package assembler emits the protected program:
// a self-contained Lua chunk that carries encrypted bytecode
// and the randomized interpreter that runs it.
package assembler

import (
	_ "embed"
	"encoding/binary"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"oclare.dev/pkg/internal/buildctx"
	"oclare.dev/pkg/internal/bytecode"
	"oclare.dev/pkg/internal/cfobf"
	"oclare.dev/pkg/internal/dialect"
	"oclare.dev/pkg/internal/integrity"
	"oclare.dev/pkg/internal/lualex"
	"oclare.dev/pkg/internal/luavalue"
	"oclare.dev/pkg/internal/vmarch"
	"oclare.dev/pkg/internal/vmcrypto"
)

var (
	//go:embed runtime/common.lua
	commonSource string
	//go:embed runtime/bits_native.lua
	nativeBitsSource string
	//go:embed runtime/bits_bit32.lua
	bit32Source string
	//go:embed runtime/bits_bitop.lua
	bitOpSource string
	//go:embed runtime/rotl.lua
	rotlSource string
	//go:embed runtime/chacha20.lua
	chachaSource string
	//go:embed runtime/secretbox.lua
	secretboxSource string
	//go:embed runtime/checksum.lua
	checksumSource string
	//go:embed runtime/vm.lua
	vmSource string
	//go:embed runtime/exec.lua
	execSource string
	//go:embed runtime/loader.lua
	loaderSource string
)

const (
	// identLen is the number of letters in runtime identifiers.
	identLen = 5

	magicSize  = 4
	minShares  = vmcrypto.MinShares
	maxShares  = 5
	minPreds   = 3
	maxPreds   = 6
	dispatchOp = 256
)

// A Namer hands out identifiers that are unique within the emitted program.
type Namer interface {
	Identifier(n int) string
}

// Options is the set of parameters to [Assemble].
type Options struct {
	// Build supplies the random stream, the nonce salt, and identifiers.
	Build  *buildctx.Context
	Config *vmarch.Config
	Method vmcrypto.Method
	// Guards enables the environment guards.
	// When false, only the checksum and the opaque predicates gate execution.
	Guards bool
}

// Constant tags in the emitted unit tables.
const (
	stringTag   = 1
	integerTag  = 2
	numberTag   = 3
	rawTag      = 4
	functionTag = 5
)

// Output is the result of [Assemble].
type Output struct {
	// Text is the protected program.
	Text string
	// Regions is the number of self-modifying regions.
	Regions int
	// Checksum is the checksum of the scrambled bytecode of every unit
	// concatenated in [bytecode.Unit.Walk] order.
	Checksum integrity.Sum
	// Units holds the encrypted form of every unit in [bytecode.Unit.Walk] order.
	Units []*EncryptedUnit
	// Dispatch is the encrypted dispatch table:
	// the magic tag followed by one handler slot per opcode byte.
	Dispatch *vmcrypto.Blob
	// Magic is the dispatch table's tag.
	Magic []byte
	// SealedKey is the handler key as stored in the program.
	SealedKey []byte
	// Shares are the XOR shares of the bytecode key.
	Shares [][]byte
	// Handlers is the number of handler functions emitted, fake ones included.
	Handlers int
	// Blobs is the number of encrypted payloads in the program.
	Blobs int

	Integrity  *integrity.System
	Guards     *integrity.Guards
	Predicates []*cfobf.Predicate
	// Names maps runtime placeholders to the identifiers they were bound to.
	Names map[string]string
}

// EncryptedUnit is the encrypted form of one unit.
type EncryptedUnit struct {
	Unit *bytecode.Unit
	Code *vmcrypto.Blob
	// Constants has an entry for each constant of the unit.
	// It is nil for constants stored in the clear.
	Constants []*vmcrypto.Blob
}

// Assemble protects the compiled program u and returns the emitted chunk.
// It scrambles u's code in place.
func Assemble(u *bytecode.Unit, opts *Options) (*Output, error) {
	if opts.Build == nil || opts.Config == nil {
		return nil, errors.New("assemble: missing build context or configuration")
	}
	b := opts.Build
	cfg := opts.Config
	rng := b.Rand
	features := cfg.Dialect.Features()
	out := &Output{}

	var err error
	out.Regions, err = bytecode.SelfModify(u, cfg, rng)
	if err != nil {
		return nil, fmt.Errorf("assemble: %w", err)
	}
	crypto, err := vmcrypto.New(rng, opts.Method, b.Salt)
	if err != nil {
		return nil, fmt.Errorf("assemble: %v", err)
	}
	out.Integrity = integrity.New(rng)

	var units []*bytecode.Unit
	index := make(map[*bytecode.Unit]int)
	var all []byte
	u.Walk(func(u *bytecode.Unit) {
		units = append(units, u)
		index[u] = len(units)
		all = append(all, u.Code...)
	})
	out.Checksum = out.Integrity.Checksum(all)

	for _, unit := range units {
		eu := &EncryptedUnit{
			Unit:      unit,
			Code:      crypto.Encrypt(unit.Code),
			Constants: make([]*vmcrypto.Blob, len(unit.Constants)),
		}
		for i, k := range unit.Constants {
			if k.Func != nil {
				continue
			}
			switch k.Value.Kind() {
			case luavalue.StringKind:
				s, _ := k.Value.Str()
				eu.Constants[i] = crypto.EncryptText(s)
			case luavalue.IntegerKind:
				n, _ := k.Value.Int64()
				eu.Constants[i] = crypto.Encrypt(binary.LittleEndian.AppendUint64(nil, uint64(n)))
			}
		}
		out.Units = append(out.Units, eu)
	}

	// Dispatch table.
	var handlerKey [vmcrypto.KeySize]byte
	copy(handlerKey[:], rng.Bytes(vmcrypto.KeySize))
	out.Magic = rng.Bytes(magicSize)
	used := u.UsedAll().All()
	type slot struct {
		mnemonic vmarch.Mnemonic
		fake     bool
		op       byte
	}
	slots := make([]slot, 0, len(used)+len(cfg.FakeHandlers))
	for _, m := range used {
		slots = append(slots, slot{mnemonic: m, op: cfg.Opcode(m)})
	}
	for _, op := range cfg.FakeHandlers {
		slots = append(slots, slot{fake: true, op: op})
	}
	if len(slots) > 255 {
		return nil, fmt.Errorf("assemble: %d handlers do not fit in the dispatch table", len(slots))
	}
	buildctx.Shuffle(rng, slots)
	table := make([]byte, magicSize+dispatchOp)
	copy(table, out.Magic)
	for i, s := range slots {
		table[magicSize+int(s.op)] = byte(i + 1)
	}
	out.Dispatch = crypto.EncryptWith(&handlerKey, table)
	out.SealedKey = out.Integrity.SealHandlerKey(handlerKey[:], out.Checksum)

	out.Shares, err = vmcrypto.SplitKey(rng, crypto.Key(), rng.IntRange(minShares, maxShares))
	if err != nil {
		return nil, fmt.Errorf("assemble: %v", err)
	}

	if opts.Guards {
		out.Guards = integrity.NewGuards(b)
	}
	obf := cfobf.New(rng, b, "@band")
	out.Predicates = obf.OpaquePredicates(rng.IntRange(minPreds, maxPreds))
	gate := obf.Guard(out.Predicates)
	if out.Guards != nil {
		gate = out.Guards.Condition() + " and " + gate
	}

	p := new(program)
	p.code("return (function(...)\n")
	p.code(commonSource)
	switch features.BitLib {
	case dialect.NativeBits:
		p.code(nativeBitsSource)
	case dialect.Bit32Library:
		p.code(bit32Source)
	default:
		p.code(bitOpSource)
	}
	p.code(rotlSource)
	switch opts.Method {
	case vmcrypto.XSalsa20Poly1305:
		p.code(secretboxSource)
		p.code("local @dec=@open\n")
	default:
		p.code(chachaSource)
		p.code("local @dec=@chacha\n")
	}
	if features.Integers {
		p.code("local function @i64(lo,hi) return lo|(hi<<32) end\n")
	} else {
		p.code("local function @i64(lo,hi) if hi>=2147483648 then hi=hi-4294967296 end return hi*4294967296+lo end\n")
	}
	p.code(checksumSource)
	if out.Guards != nil {
		p.code(out.Guards.Source())
	}
	p.code(modifierSource(out.Integrity))
	p.code(cfobf.Declarations(out.Predicates))
	p.code(vmSource)
	reval := "local function @reval() return @mod()==@m0"
	if out.Guards != nil {
		reval += " and " + out.Guards.Check(checkKinds[vmarch.AntiHook]).Name + "()"
	}
	p.code(reval + " end\n")
	p.code(wordReader(cfg))

	gen := &handlerGen{
		cfg:      cfg,
		features: features,
		guards:   out.Guards,
		obf:      obf,
		rng:      rng,
	}
	p.code("local @H={}\n")
	for i, s := range slots {
		var fn string
		if s.fake {
			fn = gen.fakeHandler()
		} else {
			fn, err = gen.handler(s.mnemonic)
			if err != nil {
				return nil, fmt.Errorf("assemble: %v", err)
			}
		}
		p.codef("@H[%d]=%s\n", i+1, fn)
	}
	out.Handlers = len(slots)
	p.code(execSource)

	p.code("local @U={\n")
	for _, eu := range out.Units {
		writeUnit(p, eu, index, features.Integers)
	}
	p.code("}\n")
	p.code("local @S={")
	for i, share := range out.Shares {
		if i > 0 {
			p.code(",")
		}
		p.data(lualex.Quote(string(share)))
	}
	p.code("}\n")
	p.code("local @SK=")
	p.data(lualex.Quote(string(out.SealedKey)))
	p.code("\nlocal @DT=")
	p.data(lualex.Quote(string(out.Dispatch.Data)))
	p.code("\nlocal @DN=")
	p.data(lualex.Quote(string(out.Dispatch.Nonce)))
	p.codef("\nlocal @E={%d,%d,%d,%d}\n", out.Checksum[0], out.Checksum[1], out.Checksum[2], out.Checksum[3])
	p.codef("local @M={%d,%d,%d,%d}\n", out.Magic[0], out.Magic[1], out.Magic[2], out.Magic[3])
	p.code(loaderSource)
	p.code("end)(...)\n")

	out.Blobs = crypto.NonceCount()
	out.Text, out.Names = p.render(b, map[string]string{
		"@seed": strconv.FormatUint(uint64(out.Integrity.Seed), 10),
		"@IK":   strconv.FormatUint(uint64(cfg.ImmediateKey), 10),
		"@JK":   strconv.FormatUint(uint64(cfg.JumpKey), 10),
		"@XS":   strconv.FormatUint(uint64(cfg.XorSeed), 10),
		"@RK":   strconv.Itoa(cfg.RekeyInterval),
		"@gate": "(" + gate + ")",
	})
	return out, nil
}

// modifierSource returns the function that recomputes the witness modifier.
func modifierSource(s *integrity.System) string {
	sb := new(strings.Builder)
	sb.WriteString("local function @mod()\nlocal m=0\n")
	for _, witness := range s.Witnesses {
		fmt.Fprintf(sb, "if %s then m=@bxor(m,%d) end\n", witness.Test, witness.Constant)
	}
	sb.WriteString("return m\nend\n")
	return sb.String()
}

// wordReader returns the function that reads a word operand
// in the configured byte order.
func wordReader(cfg *vmarch.Config) string {
	if cfg.BigEndian {
		return "local function @rw(f) local c,p=f.c,f.p f.p=p+4 return c[p+4]+c[p+3]*256+c[p+2]*65536+c[p+1]*16777216 end\n"
	}
	return "local function @rw(f) local c,p=f.c,f.p f.p=p+4 return c[p+1]+c[p+2]*256+c[p+3]*65536+c[p+4]*16777216 end\n"
}

// writeUnit writes the table entry of one unit.
// The unit's code and encrypted constants are data segments.
func writeUnit(p *program, eu *EncryptedUnit, index map[*bytecode.Unit]int, integers bool) {
	u := eu.Unit
	p.code("{c=")
	p.data(lualex.Quote(string(eu.Code.Data)))
	p.code(",n=")
	p.data(lualex.Quote(string(eu.Code.Nonce)))
	p.codef(",p=%d,v=%t,u={", u.Params, u.IsVararg)
	for i, uv := range u.Upvalues {
		if i > 0 {
			p.code(",")
		}
		p.codef("{%t,%d}", uv.FromParentLocal, uv.Index)
	}
	p.code("},k={")
	for i, k := range u.Constants {
		if i > 0 {
			p.code(",")
		}
		switch {
		case k.Func != nil:
			p.codef("{%d,%d}", functionTag, index[k.Func])
		case eu.Constants[i] != nil:
			tag := stringTag
			if k.Value.Kind() == luavalue.IntegerKind {
				tag = integerTag
			}
			p.codef("{%d,", tag)
			p.data(lualex.Quote(string(eu.Constants[i].Data)))
			p.code(",")
			p.data(lualex.Quote(string(eu.Constants[i].Nonce)))
			p.code("}")
		case k.Value.IsNil():
			p.codef("{%d}", rawTag)
		case k.Value.Kind() == luavalue.BooleanKind:
			p.codef("{%d,%s}", rawTag, k.Value.Literal(integers))
		default:
			p.codef("{%d,%s}", numberTag, k.Value.Literal(integers))
		}
	}
	p.code("}},\n")
}
