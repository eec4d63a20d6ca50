// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

// Package vmarch generates the randomized instruction set architecture
// of a protected program's virtual machine.
package vmarch

import (
	"encoding/binary"
	"errors"
	"fmt"
	"slices"

	jsonv2 "github.com/go-json-experiment/json"
	"github.com/google/uuid"
	"oclare.dev/pkg/internal/buildctx"
	"oclare.dev/pkg/internal/dialect"
)

const (
	// numDecoys is the number of opcode slots taken as decoys after the real opcodes.
	numDecoys       = 40
	minFakeHandlers = 5
	maxFakeHandlers = 15

	// MinRekeyInterval and MaxRekeyInterval bound [Config.RekeyInterval].
	MinRekeyInterval = 8
	MaxRekeyInterval = 32
)

// Archetype is a family of virtual machine layouts.
// An archetype biases the byte order and the calling convention.
type Archetype uint8

// Archetypes.
const (
	StackLE Archetype = iota
	StackBE
	AccumA
	Reg4LE
	Reg8BE
	Hybrid4
	Hybrid8
	Threaded
	Switched
	DualStack
	Tagged
	Compact
	numArchetypes
)

var archetypeNames = [numArchetypes]string{
	StackLE:   "STACK_LE",
	StackBE:   "STACK_BE",
	AccumA:    "ACCUM_A",
	Reg4LE:    "REG4_LE",
	Reg8BE:    "REG8_BE",
	Hybrid4:   "HYBRID4",
	Hybrid8:   "HYBRID8",
	Threaded:  "THREADED",
	Switched:  "SWITCHED",
	DualStack: "DUALSTK",
	Tagged:    "TAGGED",
	Compact:   "COMPACT",
}

func (a Archetype) String() string {
	if a >= numArchetypes {
		return fmt.Sprintf("Archetype(%d)", uint8(a))
	}
	return archetypeNames[a]
}

// bias is an archetype's preference: -1 for none, otherwise the forced choice.
type bias int8

func (a Archetype) endianBias() bias {
	switch a {
	case StackLE, Reg4LE:
		return 0
	case StackBE, Reg8BE:
		return 1
	default:
		return -1
	}
}

func (a Archetype) callBias() bias {
	switch a {
	case DualStack, Threaded:
		return bias(ReversedArgs)
	case AccumA, Compact:
		return bias(StackArgs)
	default:
		return -1
	}
}

// CallConvention is the order in which call handlers collect arguments.
// It changes only the shape of the emitted handlers.
type CallConvention uint8

// Calling conventions.
const (
	StackArgs CallConvention = iota
	ReversedArgs
)

func (cc CallConvention) String() string {
	switch cc {
	case StackArgs:
		return "stack"
	case ReversedArgs:
		return "reversed"
	default:
		return fmt.Sprintf("CallConvention(%d)", uint8(cc))
	}
}

// Config is one randomized instruction set.
// It must not be modified after [Generate] returns it.
type Config struct {
	Dialect      dialect.Dialect
	Archetype    Archetype
	OpcodeOffset uint8

	opcodes   [numMnemonics]byte
	mnemonics [256]Mnemonic
	real      [256]bool
	decoy     [256]bool

	// Decoys are unused opcodes that trap when dispatched.
	Decoys []byte
	// FakeHandlers is the subset of Decoys that receive inert handler bodies.
	FakeHandlers []byte

	ImmediateKey uint32
	JumpKey      uint32
	BigEndian    bool
	// JumpRelative is true if jump operands are relative to the end of the operand.
	JumpRelative bool
	// InvertConditionals swaps the meaning of the JT and JF opcodes.
	InvertConditionals bool
	// PopOrderSwap changes the order binary handlers pop their operands in.
	PopOrderSwap bool
	// AddShape, SubShape, and MulShape select handler body variants.
	AddShape int
	SubShape int
	MulShape int
	// XorSeed is the mask used by the XOR-folding add shape.
	XorSeed        uint32
	CallConvention CallConvention
	// RekeyInterval is the number of dispatches between
	// re-validations of the runtime environment.
	RekeyInterval int
	// OneShot holds the check mnemonics whose handlers run at most once.
	OneShot []Mnemonic
	// SMXorMask is the XOR mask of self-modifying regions.
	SMXorMask byte
}

// Generate draws a new instruction set from rng.
// The same stream state always produces the same configuration.
func Generate(rng *buildctx.Rand, d dialect.Dialect) (*Config, error) {
	if !d.IsValid() {
		return nil, fmt.Errorf("generate vm: invalid dialect %v", d)
	}
	c := &Config{
		Dialect:      d,
		Archetype:    Archetype(rng.IntRange(0, int(numArchetypes)-1)),
		OpcodeOffset: uint8(rng.IntRange(0, 127)),
	}
	c.BigEndian = rng.IntRange(0, 1) == 1
	if b := c.Archetype.endianBias(); b >= 0 {
		c.BigEndian = b == 1
	}
	c.ImmediateKey = rng.Key32()
	c.JumpKey = rng.Key32()
	c.JumpRelative = rng.Bool()
	c.InvertConditionals = rng.Bool()
	c.PopOrderSwap = rng.Bool()
	c.AddShape = rng.IntRange(0, 3)
	c.SubShape = rng.IntRange(0, 3)
	c.MulShape = rng.IntRange(0, 2)
	c.XorSeed = rng.Key32()
	c.CallConvention = CallConvention(rng.IntRange(0, 1))
	if b := c.Archetype.callBias(); b >= 0 {
		c.CallConvention = CallConvention(b)
	}
	c.RekeyInterval = rng.IntRange(MinRekeyInterval, MaxRekeyInterval)
	checks := []Mnemonic{ChkDbg, ChkEnv, AntiHook, ChkEmu, ChkSbox}
	buildctx.Shuffle(rng, checks)
	c.OneShot = checks[:rng.IntRange(2, len(checks))]
	slices.Sort(c.OneShot)
	c.SMXorMask = byte(rng.IntRange(1, 255))

	slots := rng.Perm(256)
	order := Mnemonics()
	buildctx.Shuffle(rng, order)
	for i, m := range order {
		op := byte(slots[i] + int(c.OpcodeOffset))
		c.opcodes[m] = op
		c.mnemonics[op] = m
		c.real[op] = true
	}
	for i := len(order); i < len(order)+numDecoys; i++ {
		op := byte(slots[i%256] + int(c.OpcodeOffset))
		if c.real[op] || c.decoy[op] {
			continue
		}
		c.decoy[op] = true
		c.Decoys = append(c.Decoys, op)
	}
	n := min(rng.IntRange(minFakeHandlers, maxFakeHandlers), len(c.Decoys))
	c.FakeHandlers = slices.Clone(c.Decoys[:n])

	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("generate vm: %v", err)
	}
	return c, nil
}

// Opcode returns the byte that encodes m.
func (c *Config) Opcode(m Mnemonic) byte {
	return c.opcodes[m]
}

// Lookup returns the mnemonic encoded by op.
// It reports false for decoys and unassigned bytes.
func (c *Config) Lookup(op byte) (Mnemonic, bool) {
	if !c.real[op] {
		return 0, false
	}
	return c.mnemonics[op], true
}

// IsDecoy reports whether op is one of the configuration's decoy opcodes.
func (c *Config) IsDecoy(op byte) bool {
	return c.decoy[op]
}

// ByteOrder is a byte order that can also append.
// [binary.LittleEndian] and [binary.BigEndian] are ByteOrders.
type ByteOrder interface {
	binary.ByteOrder
	binary.AppendByteOrder
}

// ByteOrder returns the byte order of word operands.
func (c *Config) ByteOrder() ByteOrder {
	if c.BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// ConditionalJump returns the mnemonic to encode
// a jump taken when the popped value's truthiness equals whenTrue.
func (c *Config) ConditionalJump(whenTrue bool) Mnemonic {
	if whenTrue != c.InvertConditionals {
		return JT
	}
	return JF
}

// JumpsWhenTrue reports whether the handler for JT or JF
// jumps on a truthy value.
func (c *Config) JumpsWhenTrue(m Mnemonic) bool {
	return (m == JT) != c.InvertConditionals
}

// IsOneShot reports whether m's handler runs at most once.
func (c *Config) IsOneShot(m Mnemonic) bool {
	return slices.Contains(c.OneShot, m)
}

// Validate checks the internal consistency of the configuration:
// real opcodes are a bijection with the mnemonics,
// no decoy aliases a real opcode,
// and the remaining parameters are in range.
func (c *Config) Validate() error {
	var seen [256]bool
	for m := range numMnemonics {
		op := c.opcodes[m]
		if seen[op] {
			return fmt.Errorf("opcode %#02x assigned to more than one mnemonic", op)
		}
		seen[op] = true
		if !c.real[op] || c.mnemonics[op] != m {
			return fmt.Errorf("reverse map for %v does not match opcode %#02x", m, op)
		}
	}
	nreal := 0
	for op := range c.real {
		if c.real[op] {
			nreal++
			if !seen[op] {
				return fmt.Errorf("opcode %#02x maps to %v but is not assigned", op, c.mnemonics[op])
			}
		}
	}
	if nreal != NumMnemonics {
		return fmt.Errorf("%d real opcodes for %d mnemonics", nreal, NumMnemonics)
	}
	var decoys [256]bool
	for _, op := range c.Decoys {
		if c.real[op] {
			return fmt.Errorf("decoy %#02x aliases %v", op, c.mnemonics[op])
		}
		if decoys[op] {
			return fmt.Errorf("decoy %#02x listed twice", op)
		}
		decoys[op] = true
	}
	if decoys != c.decoy {
		return errors.New("decoy set does not match decoy list")
	}
	for _, op := range c.FakeHandlers {
		if !c.decoy[op] {
			return fmt.Errorf("fake handler %#02x is not a decoy", op)
		}
	}
	if c.RekeyInterval < MinRekeyInterval || c.RekeyInterval > MaxRekeyInterval {
		return fmt.Errorf("rekey interval %d out of range [%d, %d]", c.RekeyInterval, MinRekeyInterval, MaxRekeyInterval)
	}
	if c.SMXorMask == 0 {
		return errors.New("self-modify mask is zero")
	}
	for _, m := range c.OneShot {
		if !m.IsCheck() {
			return fmt.Errorf("one-shot %v is not a check", m)
		}
	}
	return nil
}

// fingerprintNamespace is the UUIDv5 namespace of configuration fingerprints.
var fingerprintNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("https://oclare.dev/vmarch"))

// Fingerprint returns a name-based UUID over the whole configuration.
// Configurations generated from the same seed have the same fingerprint.
func (c *Config) Fingerprint() uuid.UUID {
	data, err := jsonv2.Marshal(c.snapshot(), jsonv2.Deterministic(true))
	if err != nil {
		panic(err)
	}
	return uuid.NewSHA1(fingerprintNamespace, data)
}

type configSnapshot struct {
	Dialect            string   `json:"dialect"`
	Archetype          string   `json:"archetype"`
	OpcodeOffset       uint8    `json:"opcodeOffset"`
	Opcodes            []int    `json:"opcodes"`
	Decoys             []int    `json:"decoys"`
	FakeHandlers       []int    `json:"fakeHandlers"`
	ImmediateKey       uint32   `json:"immediateKey"`
	JumpKey            uint32   `json:"jumpKey"`
	BigEndian          bool     `json:"bigEndian"`
	JumpRelative       bool     `json:"jumpRelative"`
	InvertConditionals bool     `json:"invertConditionals"`
	PopOrderSwap       bool     `json:"popOrderSwap"`
	Shapes             [3]int   `json:"shapes"`
	XorSeed            uint32   `json:"xorSeed"`
	CallConvention     string   `json:"callConvention"`
	RekeyInterval      int      `json:"rekeyInterval"`
	OneShot            []string `json:"oneShot"`
	SMXorMask          byte     `json:"smXorMask"`
}

func (c *Config) snapshot() *configSnapshot {
	s := &configSnapshot{
		Dialect:            c.Dialect.String(),
		Archetype:          c.Archetype.String(),
		OpcodeOffset:       c.OpcodeOffset,
		ImmediateKey:       c.ImmediateKey,
		JumpKey:            c.JumpKey,
		BigEndian:          c.BigEndian,
		JumpRelative:       c.JumpRelative,
		InvertConditionals: c.InvertConditionals,
		PopOrderSwap:       c.PopOrderSwap,
		Shapes:             [3]int{c.AddShape, c.SubShape, c.MulShape},
		XorSeed:            c.XorSeed,
		CallConvention:     c.CallConvention.String(),
		RekeyInterval:      c.RekeyInterval,
		SMXorMask:          c.SMXorMask,
	}
	for _, op := range c.opcodes {
		s.Opcodes = append(s.Opcodes, int(op))
	}
	for _, op := range c.Decoys {
		s.Decoys = append(s.Decoys, int(op))
	}
	for _, op := range c.FakeHandlers {
		s.FakeHandlers = append(s.FakeHandlers, int(op))
	}
	for _, m := range c.OneShot {
		s.OneShot = append(s.OneShot, m.String())
	}
	return s
}
