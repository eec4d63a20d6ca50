// Copyright 2024 The zb Authors
// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

//go:generate go tool stringer -type=TokenKind -linecomment

package lualex

import (
	"fmt"
	"strings"
)

// Token represents a single lexical element in a Lua source file.
type Token struct {
	Kind     TokenKind
	Position Position
	// Value holds information for
	// an [IdentifierToken], a [StringToken], a [NumeralToken],
	// an [InterpStringToken] (the raw body between backticks),
	// or an [UnknownToken] (the offending character).
	Value string
}

// String formats the token as it would appear in Lua source.
func (tok Token) String() string {
	switch tok.Kind {
	case ErrorToken, EOFToken:
		return "<eof>"
	case StringToken:
		return Quote(tok.Value)
	case InterpStringToken:
		return "`" + tok.Value + "`"
	case IdentifierToken, NumeralToken, UnknownToken:
		return tok.Value
	default:
		return tok.Kind.String()
	}
}

// Position represents a position in a textual source file.
type Position struct {
	// Line is the 1-based line number.
	Line int
	// Column is the 1-based column number.
	// Columns are based in bytes.
	// Zero indicates that the position only has line number information.
	Column int
}

// Pos returns a new position with the given line number and column.
// It panics if the resulting Position would not be valid
// (as reported by [Position.IsValid]).
func Pos(line, col int) Position {
	pos := Position{Line: line, Column: col}
	if !pos.IsValid() {
		panic("invalid Pos()")
	}
	return pos
}

// String formats the position as "line:col".
func (pos Position) String() string {
	if !pos.IsValid() {
		return "<invalid position>"
	}
	if pos.Column == 0 {
		return fmt.Sprintf("%d", pos.Line)
	}
	return fmt.Sprintf("%d:%d", pos.Line, pos.Column)
}

// IsValid reports whether pos has a positive line number
// and a non-negative column.
func (pos Position) IsValid() bool {
	return pos.Line > 0 && pos.Column >= 0
}

// SyntaxError is the error type for malformed source text.
// Both the scanner and the parser report problems with it.
type SyntaxError struct {
	// Source is the chunk name, if known.
	Source   string
	Position Position
	Msg      string
	// Near is the source form of the offending token, if any.
	Near string
}

func (e *SyntaxError) Error() string {
	sb := new(strings.Builder)
	if e.Source == "" {
		sb.WriteString("?")
	} else {
		sb.WriteString(e.Source)
	}
	if e.Position.IsValid() {
		sb.WriteString(":")
		sb.WriteString(e.Position.String())
	}
	sb.WriteString(": ")
	sb.WriteString(e.Msg)
	if e.Near != "" {
		sb.WriteString(" near ")
		sb.WriteString(e.Near)
	}
	return sb.String()
}

// TokenKind is an enumeration of valid [Token] types.
// The zero value is [ErrorToken].
type TokenKind int

// [TokenKind] values.
const (
	// ErrorToken indicates an invalid token.
	ErrorToken TokenKind = iota
	// EOFToken terminates the slice returned by [Tokenize].
	EOFToken // <eof>
	// UnknownToken holds a character that does not start any token.
	UnknownToken
	// IdentifierToken indicates a name.
	// The Value field of [Token] will contain the identifier.
	IdentifierToken
	// StringToken indicates a literal string.
	// The Value field of [Token] will contain the parsed value of the string.
	StringToken
	// InterpStringToken indicates a backtick string.
	// The Value field of [Token] holds the unprocessed body.
	InterpStringToken
	// NumeralToken indicates a numeric constant.
	// The Value field of [Token] will contain the constant as written,
	// with digit separators removed.
	NumeralToken

	// Keywords

	AndToken      // and
	BreakToken    // break
	DoToken       // do
	ElseToken     // else
	ElseifToken   // elseif
	EndToken      // end
	FalseToken    // false
	ForToken      // for
	FunctionToken // function
	GotoToken     // goto
	IfToken       // if
	InToken       // in
	LocalToken    // local
	NilToken      // nil
	NotToken      // not
	OrToken       // or
	RepeatToken   // repeat
	ReturnToken   // return
	ThenToken     // then
	TrueToken     // true
	UntilToken    // until
	WhileToken    // while

	// Operators

	AddToken          // +
	SubToken          // -
	MulToken          // *
	DivToken          // /
	ModToken          // %
	PowToken          // ^
	LenToken          // #
	BitAndToken       // &
	BitXorToken       // ~
	BitOrToken        // |
	LShiftToken       // <<
	RShiftToken       // >>
	IntDivToken       // //
	EqualToken        // ==
	NotEqualToken     // ~=
	LessEqualToken    // <=
	GreaterEqualToken // >=
	LessToken         // <
	GreaterToken      // >
	AssignToken       // =
	LParenToken       // (
	RParenToken       // )
	LBraceToken       // {
	RBraceToken       // }
	LBracketToken     // [
	RBracketToken     // ]
	LabelToken        // ::
	SemiToken         // ;
	ColonToken        // :
	CommaToken        // ,
	DotToken          // .
	ConcatToken       // ..
	VarargToken       // ...

	// Compound assignment

	AddAssignToken    // +=
	SubAssignToken    // -=
	MulAssignToken    // *=
	DivAssignToken    // /=
	IntDivAssignToken // //=
	ModAssignToken    // %=
	PowAssignToken    // ^=
	ConcatAssignToken // ..=

	// Type annotations

	ArrowToken    // ->
	QuestionToken // ?
)

// IsCompoundAssign reports whether k is one of the compound assignment operators.
func (k TokenKind) IsCompoundAssign() bool {
	return AddAssignToken <= k && k <= ConcatAssignToken
}

var keywords = map[string]TokenKind{
	"and":      AndToken,
	"break":    BreakToken,
	"do":       DoToken,
	"else":     ElseToken,
	"elseif":   ElseifToken,
	"end":      EndToken,
	"false":    FalseToken,
	"for":      ForToken,
	"function": FunctionToken,
	"goto":     GotoToken,
	"if":       IfToken,
	"in":       InToken,
	"local":    LocalToken,
	"nil":      NilToken,
	"not":      NotToken,
	"or":       OrToken,
	"repeat":   RepeatToken,
	"return":   ReturnToken,
	"then":     ThenToken,
	"true":     TrueToken,
	"until":    UntilToken,
	"while":    WhileToken,
}

// IsKeyword reports whether s is reserved in any supported dialect.
func IsKeyword(s string) bool {
	_, ok := keywords[s]
	return ok
}
