// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

// Package cfobf generates the opaque predicates, dead code,
// and fake handlers woven into the emitted interpreter.
package cfobf

import (
	"fmt"
	"strconv"
	"strings"

	"oclare.dev/pkg/internal/buildctx"
)

// A Namer hands out identifiers that are unique within the emitted program.
type Namer interface {
	Identifier(n int) string
}

// Family identifies the arithmetic identity behind a predicate.
type Family uint8

// Predicate families.
const (
	// SumOfSquares compares (a*a+b*b)%(a+b) against its residue.
	SumOfSquares Family = iota
	// ProductParity compares a*b%2 against its parity.
	ProductParity
	// LowBit compares the low bit of a.
	LowBit
	// SumExceedsMin compares a+b against min(a, b).
	SumExceedsMin
	// TableLength fills a table in a closure and tests its length.
	TableLength
	// DigitCount compares the length of a number's decimal form.
	DigitCount
	// TypeName compares the type name of a number literal.
	TypeName

	numFamilies
)

// Predicate is a Lua boolean expression whose value is known at build time.
type Predicate struct {
	// Name is the local that holds the predicate's value.
	Name   string
	Expr   string
	Want   bool
	Family Family
}

// Obfuscator draws control-flow noise from a build's random stream.
type Obfuscator struct {
	rng    *buildctx.Rand
	names  Namer
	bitAnd string
}

// New returns an Obfuscator.
// bitAnd is the name of a Lua function computing the bitwise AND
// of two 32-bit integers.
func New(rng *buildctx.Rand, names Namer, bitAnd string) *Obfuscator {
	return &Obfuscator{
		rng:    rng,
		names:  names,
		bitAnd: bitAnd,
	}
}

// OpaquePredicates returns n predicates drawn from every family.
// Each predicate is independently true or false.
func (o *Obfuscator) OpaquePredicates(n int) []*Predicate {
	preds := make([]*Predicate, 0, n)
	for range n {
		preds = append(preds, o.predicate())
	}
	return preds
}

func (o *Obfuscator) predicate() *Predicate {
	a := o.rng.IntRange(2, 200)
	b := o.rng.IntRange(2, 200)
	c := a + b
	fam := Family(o.rng.IntRange(0, int(numFamilies)-1))
	want := o.rng.Bool()
	p := &Predicate{
		Name:   o.names.Identifier(5),
		Want:   want,
		Family: fam,
	}
	switch fam {
	case SumOfSquares:
		v := (a*a + b*b) % c
		if !want {
			v = (v + 1 + o.rng.IntRange(0, c-2)) % c
		}
		p.Expr = fmt.Sprintf("((%d*%d+%d*%d)%%%d==%d)", a, a, b, b, c, v)
	case ProductParity:
		v := a * b % 2
		if !want {
			v = 1 - v
		}
		p.Expr = fmt.Sprintf("(%d*%d%%2==%d)", a, b, v)
	case LowBit:
		v := a & 1
		if !want {
			v = 1 - v
		}
		p.Expr = fmt.Sprintf("(%s(%d,1)==%d)", o.bitAnd, a, v)
	case SumExceedsMin:
		op := ">"
		if !want {
			op = "<="
		}
		p.Expr = fmt.Sprintf("(%d+%d%s%d)", a, b, op, min(a, b))
	case TableLength:
		v := o.names.Identifier(4)
		n := o.rng.IntRange(3, 7)
		op := ">"
		if !want {
			op = "=="
		}
		p.Expr = fmt.Sprintf("(function() local %s={} for %sk=1,%d do %s[%sk]=%sk end return #%s%s0 end)()", v, v, n, v, v, v, v, op)
	case DigitCount:
		x := o.rng.IntRange(10, 99)
		n := len(strconv.Itoa(x))
		if !want {
			n++
		}
		p.Expr = fmt.Sprintf("(#tostring(%d)==%d)", x, n)
	case TypeName:
		x := o.rng.IntRange(1, 50)
		t := "number"
		if !want {
			t = "string"
		}
		p.Expr = fmt.Sprintf("(type(%d)==%q)", x, t)
	default:
		panic("unreachable")
	}
	return p
}

// Declarations returns Lua statements that bind each predicate's Name.
func Declarations(preds []*Predicate) string {
	sb := new(strings.Builder)
	for _, p := range preds {
		fmt.Fprintf(sb, "local %s=%s\n", p.Name, p.Expr)
	}
	return sb.String()
}

// maxGuardTerms is the largest number of predicates in a guard.
const maxGuardTerms = 3

// Guard returns a Lua expression over up to three of the predicates' names
// that is true by construction.
// It returns "true" if preds is empty.
func (o *Obfuscator) Guard(preds []*Predicate) string {
	if len(preds) == 0 {
		return "true"
	}
	perm := o.rng.Perm(len(preds))
	terms := make([]string, 0, maxGuardTerms)
	for _, i := range perm[:min(maxGuardTerms, len(perm))] {
		p := preds[i]
		if p.Want {
			terms = append(terms, p.Name)
		} else {
			terms = append(terms, "not "+p.Name)
		}
	}
	return strings.Join(terms, " and ")
}

// DeadCode returns two to six inert Lua statements
// that only touch locals of their own.
func (o *Obfuscator) DeadCode() string {
	n := o.rng.IntRange(2, 6)
	stmts := make([]string, 0, n)
	for range n {
		v := o.names.Identifier(4)
		switch o.rng.IntRange(0, 4) {
		case 0:
			stmts = append(stmts, fmt.Sprintf("local %s=nil", v))
		case 1:
			stmts = append(stmts, fmt.Sprintf("local %s=%d", v, o.rng.IntRange(0, 999)))
		case 2:
			stmts = append(stmts, fmt.Sprintf("local %s=true if not %s then error() end", v, v))
		case 3:
			stmts = append(stmts, fmt.Sprintf("local %s={} %s[1]=%d %s=nil", v, v, o.rng.IntRange(0, 999), v))
		case 4:
			stmts = append(stmts, fmt.Sprintf("local %s=tostring(%d)", v, o.rng.IntRange(0, 9999)))
		}
	}
	return strings.Join(stmts, " ")
}

// HandlerEnv names the interpreter state that a fake handler may read.
type HandlerEnv struct {
	// Stack is the operand stack table.
	Stack string
	// Top is the index of the top of the stack.
	Top string
	// PC is the program counter.
	PC string
	// Halt is a statement that stops the interpreter.
	Halt string
}

// FakeHandler returns a handler body that reads interpreter state
// without changing it, then halts.
func (o *Obfuscator) FakeHandler(env HandlerEnv) string {
	v := o.names.Identifier(4)
	var body string
	switch o.rng.IntRange(0, 3) {
	case 0:
		body = fmt.Sprintf("local %s=%s[%s] %s[%s]=%s", v, env.Stack, env.Top, env.Stack, env.Top, v)
	case 1:
		body = fmt.Sprintf("local %s=%d if %s>%d then %s=%s-1 end", v, o.rng.IntRange(0, 255), env.Top, o.rng.IntRange(0, 255), v, v)
	case 2:
		body = fmt.Sprintf("local %s=%s local %s2=#%s", v, env.Stack, v, v)
	case 3:
		body = fmt.Sprintf("local %s=%s+%d", v, env.PC, o.rng.IntRange(1, 9))
	}
	return body + " " + env.Halt
}
