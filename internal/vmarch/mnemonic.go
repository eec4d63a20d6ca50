// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

//go:generate go tool stringer -type=Mnemonic -linecomment -output=mnemonic_string.go

package vmarch

import "math/bits"

// Mnemonic is an instruction of the virtual machine's ISA.
// The byte that encodes a mnemonic is chosen per build by [Generate].
type Mnemonic uint8

// Mnemonics. Stack effects are listed top-last.
const (
	Add  Mnemonic = iota // ADD
	Sub                  // SUB
	Mul                  // MUL
	Div                  // DIV
	Mod                  // MOD
	Pow                  // POW
	IDiv                 // IDIV
	Unm                  // UNM

	// Push pushes a signed 32-bit immediate.
	Push // PUSH
	Pop  // POP
	Dup  // DUP
	Swap // SWAP
	Rot3 // ROT3
	Pick // PICK
	Drop // DROP

	Jmp  // JMP
	JT   // JT
	JF   // JF
	JNil // JNIL
	// Loop pops value, limit, and step and pushes whether the numeric loop continues.
	Loop // LOOP
	TFor // TFOR

	LdLoc  // LDLOC
	StLoc  // STLOC
	LdGlob // LDGLOB
	StGlob // STGLOB
	LdUp   // LDUP
	StUp   // STUP
	NewTbl // NEWTBL
	GetTbl // GETTBL
	SetTbl // SETTBL

	Call  // CALL
	TCall // TCALL
	Ret   // RET
	Clos  // CLOS
	Self  // SELF
	// MRet adjusts a counted run of values to a fixed number.
	MRet // MRET

	InitLoc // INITLOC

	Eq  // EQ
	Neq // NEQ
	Lt  // LT
	Le  // LE
	Gt  // GT
	Ge  // GE

	BAnd // BAND
	BOr  // BOR
	BXor // BXOR
	BNot // BNOT
	Shl  // SHL
	Shr  // SHR

	LdK     // LDK
	LdNil   // LDNIL
	LdTrue  // LDTRUE
	LdFalse // LDFALSE
	Len     // LEN
	Concat  // CONCAT
	Nop     // NOP
	Halt    // HALT
	Varg    // VARG
	Not     // NOT

	ChkDbg   // CHKDBG
	ChkTim   // CHKTIM
	ChkEnv   // CHKENV
	AntiHook // ANTIHOOK
	ChkEmu   // CHKEMU
	ChkSbox  // CHKSBOX

	Rekey // REKEY
	// SMBC restores a scrambled region of bytecode the first time it runs.
	SMBC // SMBC
	Trap // TRAP

	SetList // SETLIST

	numMnemonics
)

// NumMnemonics is the size of the ISA.
const NumMnemonics = int(numMnemonics)

// Mnemonics returns every mnemonic in declaration order.
func Mnemonics() []Mnemonic {
	list := make([]Mnemonic, numMnemonics)
	for i := range list {
		list[i] = Mnemonic(i)
	}
	return list
}

// IsValid reports whether m is a declared mnemonic.
func (m Mnemonic) IsValid() bool {
	return m < numMnemonics
}

// IsCheck reports whether m is one of the integrity check instructions
// that may be made one-shot.
func (m Mnemonic) IsCheck() bool {
	switch m {
	case ChkDbg, ChkEnv, AntiHook, ChkEmu, ChkSbox:
		return true
	default:
		return false
	}
}

// IsJump reports whether m carries a jump operand.
func (m Mnemonic) IsJump() bool {
	return m.Operand() == JumpOperand
}

// OperandKind describes the bytes that follow an opcode.
type OperandKind uint8

// Operand kinds.
const (
	NoOperand OperandKind = iota
	// ByteOperand is a single byte: a local slot, an upvalue index, or a count.
	ByteOperand
	// WordOperand is a 4-byte word XOR the immediate key.
	WordOperand
	// JumpOperand is a 4-byte word XOR the jump key.
	JumpOperand
	// TForOperand is four bytes: iterator, state, and control slots and the variable count.
	TForOperand
	// SMBCOperand is a word region start XOR the immediate key,
	// followed by the mask byte and the length byte.
	SMBCOperand
)

// Size returns the number of operand bytes.
func (k OperandKind) Size() int {
	switch k {
	case ByteOperand:
		return 1
	case WordOperand, JumpOperand, TForOperand:
		return 4
	case SMBCOperand:
		return 6
	default:
		return 0
	}
}

// Operand returns the kind of operand that follows m.
func (m Mnemonic) Operand() OperandKind {
	switch m {
	case Pick, Drop, Call, TCall, Ret, MRet, InitLoc, LdLoc, StLoc, LdUp, StUp:
		return ByteOperand
	case Push, LdK, LdGlob, StGlob, Clos, Self, SetList:
		return WordOperand
	case Jmp, JT, JF, JNil:
		return JumpOperand
	case TFor:
		return TForOperand
	case SMBC:
		return SMBCOperand
	default:
		return NoOperand
	}
}

// VariadicFlag is set in the count operand of CALL, TCALL, and RET
// when the fixed values are followed by a counted run.
const VariadicFlag = 0x80

// MnemonicSet is a set of mnemonics.
// The zero value is the empty set.
type MnemonicSet [2]uint64

// Add adds m to the set.
func (s *MnemonicSet) Add(m Mnemonic) {
	s[m/64] |= 1 << (m % 64)
}

// Has reports whether m is in the set.
func (s MnemonicSet) Has(m Mnemonic) bool {
	return s[m/64]&(1<<(m%64)) != 0
}

// Len returns the number of mnemonics in the set.
func (s MnemonicSet) Len() int {
	return bits.OnesCount64(s[0]) + bits.OnesCount64(s[1])
}

// Union adds every member of other to s.
func (s *MnemonicSet) Union(other MnemonicSet) {
	s[0] |= other[0]
	s[1] |= other[1]
}

// All returns the members of the set in declaration order.
func (s MnemonicSet) All() []Mnemonic {
	var list []Mnemonic
	for m := range numMnemonics {
		if s.Has(m) {
			list = append(list, m)
		}
	}
	return list
}
