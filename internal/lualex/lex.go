// Copyright 2024 The zb Authors
// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

// Package lualex provides a dialect-aware scanner to split a byte stream
// into [Lua lexical elements].
//
// [Lua lexical elements]: https://www.lua.org/manual/5.4/manual.html#3.1
package lualex

import (
	"errors"
	"fmt"
	"io"
	"strings"
	"unicode/utf8"

	"oclare.dev/pkg/internal/dialect"
)

// A Scanner parses Lua tokens from a byte stream.
type Scanner struct {
	r    io.ByteScanner
	feat dialect.Features
	next Position
	prev Position
	err  error

	equals int
}

// NewScanner returns a [Scanner] that reads from r
// using the lexical grammar of the given dialect.
// NewScanner does not buffer r.
func NewScanner(r io.ByteScanner, d dialect.Dialect) *Scanner {
	return &Scanner{
		r:    r,
		feat: d.Features(),
		next: Position{Line: 1, Column: 1},
	}
}

// Tokenize splits source into tokens.
// The returned slice always ends with an [EOFToken].
// Characters that do not begin any token become [UnknownToken]s;
// malformed strings, numerals, and long brackets are reported as a [*SyntaxError].
func Tokenize(source string, d dialect.Dialect) ([]Token, error) {
	s := NewScanner(strings.NewReader(source), d)
	var tokens []Token
	for {
		tok, err := s.Scan()
		if err == io.EOF {
			tokens = append(tokens, Token{Kind: EOFToken, Position: s.next})
			return tokens, nil
		}
		if err != nil {
			return tokens, err
		}
		tokens = append(tokens, tok)
	}
}

// Scan reads the next [Token] from the stream.
// At the end of the stream, Scan returns [io.EOF].
// If Scan returns any other error,
// then the returned token will be an [ErrorToken]
// with the Position field set to the approximate position of the error.
func (s *Scanner) Scan() (Token, error) {
	if s.err != nil {
		return Token{}, s.err
	}
	if s.equals > 0 {
		pos := Position{Line: s.next.Line, Column: s.next.Column - s.equals}
		if s.equals == 1 {
			s.equals--
			return Token{Kind: AssignToken, Position: pos}, nil
		}
		s.equals -= 2
		return Token{Kind: EqualToken, Position: pos}, nil
	}

	for {
		b, err := s.readByte()
		if err != nil {
			return Token{}, err
		}
		switch {
		case isSpace(b):
			// Ignore.
		case isLetter(b) || b == '_':
			pos := s.prev
			sb := new(strings.Builder)
			sb.WriteByte(b)
			for {
				b, err := s.readByte()
				if err != nil {
					break
				}
				if b != '_' && !isLetter(b) && !isDigit(b) {
					s.unreadByte()
					break
				}
				sb.WriteByte(b)
			}
			value := sb.String()
			if kind, isKeyword := keywords[value]; isKeyword && (kind != GotoToken || s.feat.Goto) {
				return Token{Kind: kind, Position: pos}, nil
			}
			return Token{Kind: IdentifierToken, Position: pos, Value: value}, nil
		case isDigit(b):
			s.unreadByte()
			start := s.next
			value, err := s.numeral(false)
			if err != nil {
				s.err = err
				return Token{Kind: ErrorToken, Position: start}, err
			}
			return Token{Kind: NumeralToken, Position: start, Value: value}, nil
		case b == '\'' || b == '"':
			pos := s.prev
			value, err := s.shortLiteralString(b)
			if err != nil {
				s.err = err
				return Token{Kind: ErrorToken, Position: pos}, err
			}
			return Token{Kind: StringToken, Position: pos, Value: value}, nil
		case b == '`' && s.feat.BacktickStrings:
			pos := s.prev
			value, err := s.interpolatedString()
			if err != nil {
				s.err = err
				return Token{Kind: ErrorToken, Position: pos}, err
			}
			return Token{Kind: InterpStringToken, Position: pos, Value: value}, nil
		case b == '+':
			return s.maybeAssign(AddToken, AddAssignToken), nil
		case b == '-':
			pos := s.prev
			b, err := s.readByte()
			if err != nil {
				return Token{Kind: SubToken, Position: pos}, nil
			}
			switch {
			case b == '=' && s.feat.CompoundAssign:
				return Token{Kind: SubAssignToken, Position: pos}, nil
			case b == '>' && s.feat.TypeAnnotations:
				return Token{Kind: ArrowToken, Position: pos}, nil
			case b != '-':
				s.unreadByte()
				return Token{Kind: SubToken, Position: pos}, nil
			}

			if n, err := s.longOpenBracket(); err == nil {
				// Long comment.
				if err := s.findClosingLongBracket(discardByteWriter{}, n); err != nil {
					s.err = s.wrapEOF(pos, err, "unfinished long comment")
					return Token{Kind: ErrorToken, Position: pos}, s.err
				}
			} else {
				// Short comment.
				for {
					b, err := s.readByte()
					if err != nil {
						return Token{}, err
					}
					if b == '\n' {
						break
					}
				}
			}
		case b == '*':
			return s.maybeAssign(MulToken, MulAssignToken), nil
		case b == '/':
			pos := s.prev
			b, err := s.readByte()
			if err != nil {
				return Token{Kind: DivToken, Position: pos}, nil
			}
			switch {
			case b == '/':
				tok := s.maybeAssign(IntDivToken, IntDivAssignToken)
				tok.Position = pos
				return tok, nil
			case b == '=' && s.feat.CompoundAssign:
				return Token{Kind: DivAssignToken, Position: pos}, nil
			default:
				s.unreadByte()
				return Token{Kind: DivToken, Position: pos}, nil
			}
		case b == '%':
			return s.maybeAssign(ModToken, ModAssignToken), nil
		case b == '^':
			return s.maybeAssign(PowToken, PowAssignToken), nil
		case b == '#':
			return Token{Kind: LenToken, Position: s.prev}, nil
		case b == '&':
			return Token{Kind: BitAndToken, Position: s.prev}, nil
		case b == '~':
			pos := s.prev
			b, err := s.readByte()
			if err != nil {
				return Token{Kind: BitXorToken, Position: pos}, nil
			}
			if b == '=' {
				return Token{Kind: NotEqualToken, Position: pos}, nil
			}
			s.unreadByte()
			return Token{Kind: BitXorToken, Position: pos}, nil
		case b == '|':
			return Token{Kind: BitOrToken, Position: s.prev}, nil
		case b == '?' && s.feat.TypeAnnotations:
			return Token{Kind: QuestionToken, Position: s.prev}, nil
		case b == '<':
			pos := s.prev
			b, err := s.readByte()
			if err != nil {
				return Token{Kind: LessToken, Position: pos}, nil
			}
			switch b {
			case '<':
				return Token{Kind: LShiftToken, Position: pos}, nil
			case '=':
				return Token{Kind: LessEqualToken, Position: pos}, nil
			default:
				s.unreadByte()
				return Token{Kind: LessToken, Position: pos}, nil
			}
		case b == '>':
			pos := s.prev
			b, err := s.readByte()
			if err != nil {
				return Token{Kind: GreaterToken, Position: pos}, nil
			}
			switch b {
			case '>':
				return Token{Kind: RShiftToken, Position: pos}, nil
			case '=':
				return Token{Kind: GreaterEqualToken, Position: pos}, nil
			default:
				s.unreadByte()
				return Token{Kind: GreaterToken, Position: pos}, nil
			}
		case b == '=':
			pos := s.prev
			b, err := s.readByte()
			if err != nil {
				return Token{Kind: AssignToken, Position: pos}, nil
			}
			if b == '=' {
				return Token{Kind: EqualToken, Position: pos}, nil
			}
			s.unreadByte()
			return Token{Kind: AssignToken, Position: pos}, nil
		case b == '(':
			return Token{Kind: LParenToken, Position: s.prev}, nil
		case b == ')':
			return Token{Kind: RParenToken, Position: s.prev}, nil
		case b == '{':
			return Token{Kind: LBraceToken, Position: s.prev}, nil
		case b == '}':
			return Token{Kind: RBraceToken, Position: s.prev}, nil
		case b == '[':
			pos := s.prev
			s.unreadByte()

			n, err := s.longOpenBracket()
			if err != nil {
				// Open bracket with zero or more equals signs following it.
				s.equals = n
				return Token{Kind: LBracketToken, Position: pos}, nil
			}

			llw := new(longLiteralWriter)
			if err := s.findClosingLongBracket(llw, n); err != nil {
				s.err = s.wrapEOF(pos, err, "unfinished long string")
				return Token{Kind: ErrorToken, Position: pos}, s.err
			}
			return Token{Kind: StringToken, Position: pos, Value: llw.String()}, nil
		case b == ']':
			return Token{Kind: RBracketToken, Position: s.prev}, nil
		case b == ':':
			pos := s.prev
			b, err := s.readByte()
			if err != nil {
				return Token{Kind: ColonToken, Position: pos}, nil
			}
			if b == ':' {
				return Token{Kind: LabelToken, Position: pos}, nil
			}
			s.unreadByte()
			return Token{Kind: ColonToken, Position: pos}, nil
		case b == ';':
			return Token{Kind: SemiToken, Position: s.prev}, nil
		case b == ',':
			return Token{Kind: CommaToken, Position: s.prev}, nil
		case b == '.':
			pos := s.prev
			b, err := s.readByte()
			if err != nil {
				return Token{Kind: DotToken, Position: pos}, nil
			}
			switch {
			case b == '.':
				b, err = s.readByte()
				if err != nil {
					return Token{Kind: ConcatToken, Position: pos}, nil
				}
				switch {
				case b == '.':
					return Token{Kind: VarargToken, Position: pos}, nil
				case b == '=' && s.feat.CompoundAssign:
					return Token{Kind: ConcatAssignToken, Position: pos}, nil
				default:
					s.unreadByte()
					return Token{Kind: ConcatToken, Position: pos}, nil
				}
			case isDigit(b):
				s.unreadByte()
				value, err := s.numeral(true)
				if err != nil {
					s.err = err
					return Token{Kind: ErrorToken, Position: pos}, err
				}
				return Token{Kind: NumeralToken, Position: pos, Value: value}, nil
			default:
				s.unreadByte()
				return Token{Kind: DotToken, Position: pos}, nil
			}
		default:
			return Token{Kind: UnknownToken, Position: s.prev, Value: string(rune(b))}, nil
		}
	}
}

// maybeAssign returns a token of kind op,
// or of kind assignOp if the dialect has compound assignment
// and the next byte is '='.
func (s *Scanner) maybeAssign(op, assignOp TokenKind) Token {
	pos := s.prev
	if !s.feat.CompoundAssign {
		return Token{Kind: op, Position: pos}
	}
	b, err := s.readByte()
	if err != nil {
		return Token{Kind: op, Position: pos}
	}
	if b == '=' {
		return Token{Kind: assignOp, Position: pos}
	}
	s.unreadByte()
	return Token{Kind: op, Position: pos}
}

func (s *Scanner) errorf(pos Position, format string, args ...any) error {
	return &SyntaxError{Position: pos, Msg: fmt.Sprintf(format, args...)}
}

// wrapEOF converts an unexpected end of input into a [*SyntaxError]
// located at the construct's start.
func (s *Scanner) wrapEOF(start Position, err error, msg string) error {
	if errors.Is(err, io.ErrUnexpectedEOF) {
		return &SyntaxError{Position: start, Msg: msg, Near: "<eof>"}
	}
	return err
}

func (s *Scanner) shortLiteralString(end byte) (string, error) {
	start := s.prev
	sb := new(strings.Builder)
	for {
		b, err := s.readByteNoEOF()
		if err != nil {
			return sb.String(), s.wrapEOF(start, err, "unfinished string")
		}
		switch {
		case b == end:
			return sb.String(), nil
		case b == '\n' || b == '\r':
			return sb.String(), s.errorf(start, "unfinished string")
		case b != '\\':
			sb.WriteByte(b)
			continue
		}
		if err := s.escape(sb); err != nil {
			return sb.String(), s.wrapEOF(start, err, "unfinished string")
		}
	}
}

// escape decodes the escape sequence following a backslash into sb.
func (s *Scanner) escape(sb *strings.Builder) error {
	b, err := s.readByteNoEOF()
	if err != nil {
		return err
	}
	switch b {
	case 'a':
		sb.WriteByte('\a')
	case 'b':
		sb.WriteByte('\b')
	case 'f':
		sb.WriteByte('\f')
	case 'n':
		sb.WriteByte('\n')
	case 'r':
		sb.WriteByte('\r')
	case 't':
		sb.WriteByte('\t')
	case 'v':
		sb.WriteByte('\v')
	case '\\', '\'', '"', '`', '{', '}':
		sb.WriteByte(b)
	case '\n', '\r':
		b2, err := s.readByteNoEOF()
		if err != nil {
			return err
		}
		if !(b == '\n' && b2 == '\r') && !(b == '\r' && b2 == '\n') {
			s.unreadByte()
		}
		sb.WriteByte('\n')
	case 'z':
		// "'\z' skips the following span of whitespace characters, including line breaks"
		for {
			b, err := s.readByteNoEOF()
			if err != nil {
				return err
			}
			if !isSpace(b) {
				s.unreadByte()
				break
			}
		}
	case 'x':
		var nibbles [2]byte
		for i := range nibbles {
			digit, err := s.readByteNoEOF()
			if err != nil {
				return err
			}
			nibbles[i], err = hexDigit(digit)
			if err != nil {
				return s.errorf(s.prev, "%v", err)
			}
		}
		sb.WriteByte(nibbles[0]<<4 | nibbles[1])
	case 'u':
		// \u{XXX}, 1+ hex digits to UTF-8 limited to 2^31
		b, err := s.readByteNoEOF()
		if err != nil {
			return err
		}
		if b != '{' {
			return s.errorf(s.prev, "unexpected %q (want '{')", b)
		}
		var r rune
		start := s.next
		for first := true; ; first = false {
			b, err := s.readByteNoEOF()
			if err != nil {
				return err
			}
			if b == '}' {
				if first {
					return s.errorf(s.prev, "unexpected '}' (want hex digit)")
				}
				break
			}
			nibble, err := hexDigit(b)
			if err != nil {
				return s.errorf(s.prev, "%v", err)
			}
			if r > 0x7FFFFFFF>>4 {
				return s.errorf(start, "utf-8 value too large")
			}
			r = r<<4 | rune(nibble)
		}
		sb.WriteString(encodeRune(r))
	default:
		if !isDigit(b) {
			return s.errorf(s.prev, "invalid escape sequence")
		}
		// Decimal escape (1-3 digits).
		start := s.prev
		result := uint16(b - '0')
		for range 2 {
			b, err := s.readByte()
			if err == io.EOF {
				break
			}
			if err != nil {
				return err
			}
			if !isDigit(b) {
				s.unreadByte()
				break
			}
			result = 10*result + uint16(b-'0')
		}
		if result > 0xff {
			return s.errorf(start, "decimal escape too large")
		}
		sb.WriteByte(byte(result))
	}
	return nil
}

// interpolatedString reads the raw body of a backtick string.
// Escapes are validated but left in place;
// the parser splits the body into literal and expression parts.
func (s *Scanner) interpolatedString() (string, error) {
	start := s.prev
	sb := new(strings.Builder)
	depth := 0
	for {
		b, err := s.readByteNoEOF()
		if err != nil {
			return sb.String(), s.wrapEOF(start, err, "unfinished string")
		}
		switch {
		case b == '`' && depth == 0:
			return sb.String(), nil
		case b == '\\' && depth == 0:
			sb.WriteByte(b)
			b, err = s.readByteNoEOF()
			if err != nil {
				return sb.String(), s.wrapEOF(start, err, "unfinished string")
			}
			sb.WriteByte(b)
		case b == '{':
			depth++
			sb.WriteByte(b)
		case b == '}' && depth > 0:
			depth--
			sb.WriteByte(b)
		case (b == '\n' || b == '\r') && depth == 0:
			return sb.String(), s.errorf(start, "unfinished string")
		default:
			sb.WriteByte(b)
		}
	}
}

func (s *Scanner) numeral(dot bool) (string, error) {
	sb := new(strings.Builder)
	isHex := false
	if dot {
		sb.WriteByte('.')
	} else {
		first, err := s.readByte()
		if err != nil {
			return "", err
		}
		if !isDigit(first) {
			s.unreadByte()
			return "", s.errorf(s.next, "unexpected %q (want numeral)", first)
		}
		sb.WriteByte(first)

		second, err := s.readByte()
		if err != nil {
			return sb.String(), nil
		}
		isHex = first == '0' && (second == 'x' || second == 'X')
		isBinary := first == '0' && (second == 'b' || second == 'B') && s.feat.BinaryLiterals
		switch {
		case isHex:
			sb.WriteByte(second)
		case isBinary:
			sb.WriteByte(second)
			return s.binaryDigits(sb)
		default:
			s.unreadByte()
		}

	whole:
		for {
			b, err := s.readByte()
			switch {
			case err != nil:
				return sb.String(), nil
			case b == '_' && s.feat.DigitSeparators:
				// Skip.
			case isDigit(b) || isHex && isHexDigit(b):
				sb.WriteByte(b)
			case isExponentDelim(b, isHex):
				sb.WriteByte(b)
				err := s.exponent(sb)
				return sb.String(), err
			case b == '.':
				sb.WriteByte(b)
				break whole
			case isLetter(b):
				s.unreadByte()
				return sb.String(), s.errorf(s.next, "malformed number near %q", sb.String()+string(rune(b)))
			default:
				s.unreadByte()
				return sb.String(), nil
			}
		}
	}

	// Fractional part.
	for {
		b, err := s.readByte()
		switch {
		case err != nil:
			return sb.String(), nil
		case b == '_' && s.feat.DigitSeparators:
			// Skip.
		case isDigit(b) || isHex && isHexDigit(b):
			sb.WriteByte(b)
		case isExponentDelim(b, isHex):
			sb.WriteByte(b)
			err := s.exponent(sb)
			return sb.String(), err
		case isLetter(b):
			s.unreadByte()
			return sb.String(), s.errorf(s.next, "malformed number near %q", sb.String()+string(rune(b)))
		default:
			s.unreadByte()
			return sb.String(), nil
		}
	}
}

func (s *Scanner) binaryDigits(sb *strings.Builder) (string, error) {
	n := 0
	for {
		b, err := s.readByte()
		switch {
		case err != nil:
		case b == '0' || b == '1':
			sb.WriteByte(b)
			n++
			continue
		case b == '_':
			continue
		case isLetter(b) || isDigit(b):
			s.unreadByte()
			return sb.String(), s.errorf(s.next, "malformed number near %q", sb.String()+string(rune(b)))
		default:
			s.unreadByte()
		}
		if n == 0 {
			return sb.String(), s.errorf(s.next, "malformed number near %q", sb.String())
		}
		return sb.String(), nil
	}
}

func (s *Scanner) exponent(sb *strings.Builder) error {
	b, err := s.readByteNoEOF()
	if err != nil {
		return s.wrapEOF(s.prev, err, "malformed number")
	}
	switch {
	case b == '-' || b == '+':
		sb.WriteByte(b)
		b, err = s.readByteNoEOF()
		if err != nil {
			return s.wrapEOF(s.prev, err, "malformed number")
		}
		if !isDigit(b) {
			s.unreadByte()
			return s.errorf(s.prev, "unexpected %q (want digit or sign)", b)
		}
		sb.WriteByte(b)
	case !isDigit(b):
		s.unreadByte()
		return s.errorf(s.prev, "unexpected %q (want digit or sign)", b)
	default:
		sb.WriteByte(b)
	}

	// Optional remaining digits.
	for {
		b, err := s.readByte()
		if err != nil {
			return nil
		}
		if !isDigit(b) {
			s.unreadByte()
			return nil
		}
		sb.WriteByte(b)
	}
}

func (s *Scanner) longOpenBracket() (int, error) {
	b, err := s.readByte()
	if err != nil {
		return 0, err
	}
	if b != '[' {
		s.unreadByte()
		return 0, fmt.Errorf("%v: unexpected %q (want '[')", s.next, b)
	}

	n := 0
	for {
		b, err := s.readByteNoEOF()
		if err != nil {
			return n, err
		}
		switch b {
		case '=':
			n++
		case '[':
			return n, nil
		default:
			s.unreadByte()
			return n, fmt.Errorf("%v: unexpected %q (want '[' or '=')", s.next, b)
		}
	}
}

// findClosingLongBracket copies bytes from s.r to w
// until a closing long bracket of level n is found.
// (For example, a closing long bracket of level 4 is "]====]".)
// A newline immediately following the opening bracket is skipped.
func (s *Scanner) findClosingLongBracket(w io.ByteWriter, n int) error {
	writePartial := func(n int) error {
		if err := w.WriteByte(']'); err != nil {
			return err
		}
		for range n {
			if err := w.WriteByte('='); err != nil {
				return err
			}
		}
		return nil
	}

	if b, err := s.readByteNoEOF(); err != nil {
		return err
	} else if b == '\r' || b == '\n' {
		if b2, err := s.readByte(); err == nil && (b2 != '\r' && b2 != '\n' || b2 == b) {
			s.unreadByte()
		}
	} else {
		s.unreadByte()
	}

searchStart:
	for {
		// Find initial closing bracket.
		b, err := s.readByteNoEOF()
		if err != nil {
			return err
		}
		if b != ']' {
			if err := w.WriteByte(b); err != nil {
				return err
			}
			continue
		}

		// Consume equal signs.
		for i := range n {
			b, err := s.readByteNoEOF()
			if err != nil {
				return err
			}
			if b != '=' {
				s.unreadByte()
				if err := writePartial(i); err != nil {
					return err
				}
				continue searchStart
			}
		}

		// Read second closing bracket (hopefully).
		b, err = s.readByteNoEOF()
		if err != nil {
			return err
		}
		if b == ']' {
			return nil
		}
		s.unreadByte()
		if err := writePartial(n); err != nil {
			return err
		}
	}
}

func (s *Scanner) readByte() (byte, error) {
	b, err := s.r.ReadByte()
	if err != nil {
		return b, err
	}
	s.prev = s.next
	switch b {
	case '\n':
		s.next.Line++
		s.next.Column = 1
	case '\t':
		s.next.Column++
		const tabWidth = 8
		for s.next.Column%tabWidth != 0 {
			s.next.Column++
		}
	default:
		s.next.Column++
	}
	return b, nil
}

func (s *Scanner) readByteNoEOF() (byte, error) {
	b, err := s.readByte()
	if err == io.EOF {
		err = io.ErrUnexpectedEOF
	}
	return b, err
}

func (s *Scanner) unreadByte() error {
	if err := s.r.UnreadByte(); err != nil {
		return err
	}
	s.next = s.prev
	return nil
}

// Quote returns a double-quoted Lua string literal representing s.
// The result only uses escapes understood by every supported dialect.
func Quote(s string) string {
	sb := new(strings.Builder)
	sb.Grow(len(s) + 2)
	sb.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		switch {
		case c == '\\' || c == '"':
			sb.WriteByte('\\')
			sb.WriteByte(c)
		case c == '\n':
			sb.WriteString(`\n`)
		case c == '\r':
			sb.WriteString(`\r`)
		case c == '\t':
			sb.WriteString(`\t`)
		case isPrint(rune(c)):
			sb.WriteByte(c)
		default:
			// Three digits so that a following digit is never absorbed.
			fmt.Fprintf(sb, `\%03d`, c)
		}
	}
	sb.WriteByte('"')
	return sb.String()
}

// Unquote interprets s as a single-quoted, double-quoted, or bracket-delimited Lua string literal,
// returning the string value that s quotes.
func Unquote(s string) (string, error) {
	if len(s) < 2 {
		return "", errUnquoteSyntax
	}
	sr := strings.NewReader(s)
	var unquoted string
	switch s[0] {
	case '\'', '"':
		sr.ReadByte()
		scanner := NewScanner(sr, dialect.Lua54)
		scanner.prev = Position{Line: 1, Column: 1}
		var err error
		unquoted, err = scanner.shortLiteralString(s[0])
		if err != nil {
			return "", errUnquoteSyntax
		}
	case '[':
		scanner := NewScanner(sr, dialect.Lua54)
		level, err := scanner.longOpenBracket()
		if err != nil {
			return "", errUnquoteSyntax
		}
		llw := new(longLiteralWriter)
		err = scanner.findClosingLongBracket(llw, level)
		if err != nil {
			return "", errUnquoteSyntax
		}
		unquoted = llw.String()
	default:
		return "", errUnquoteSyntax
	}

	if sr.Len() > 0 {
		return "", errUnquoteSyntax
	}
	return unquoted, nil
}

// UnescapeInterpolated decodes the escape sequences in a literal segment
// of a backtick string.
func UnescapeInterpolated(raw string) (string, error) {
	scanner := NewScanner(strings.NewReader(raw), dialect.Luau)
	sb := new(strings.Builder)
	for {
		b, err := scanner.readByte()
		if err == io.EOF {
			return sb.String(), nil
		}
		if err != nil {
			return "", err
		}
		if b != '\\' {
			sb.WriteByte(b)
			continue
		}
		if err := scanner.escape(sb); err != nil {
			return "", err
		}
	}
}

var errUnquoteSyntax = errors.New("invalid syntax")

// isSpace reports whether the given byte represents a space in Lua source code.
// According to the [reference],
// "[i]n source code, Lua recognizes as spaces the standard ASCII whitespace characters
// space, form feed, newline, carriage return, horizontal tab, and vertical tab."
//
// [reference]: https://www.lua.org/manual/5.4/manual.html#:~:text=In%20source%20code%2C%20Lua%20recognizes%20as%20spaces,.
func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\t' || c == '\r' || c == '\f' || c == '\v'
}

func isLetter(c byte) bool {
	return 'a' <= c && c <= 'z' || 'A' <= c && c <= 'Z'
}

func isDigit(c byte) bool {
	return '0' <= c && c <= '9'
}

func isHexDigit(c byte) bool {
	return isDigit(c) || 'a' <= c && c <= 'f' || 'A' <= c && c <= 'F'
}

func isPrint(c rune) bool {
	return 0x20 <= c && c < 0x7f
}

func isExponentDelim(c byte, isHex bool) bool {
	return (!isHex && (c == 'E' || c == 'e')) || (isHex && (c == 'P' || c == 'p'))
}

func hexDigit(c byte) (byte, error) {
	switch {
	case isDigit(c):
		return c - '0', nil
	case 'a' <= c && c <= 'f':
		return c - 'a' + 0xa, nil
	case 'A' <= c && c <= 'F':
		return c - 'A' + 0xa, nil
	default:
		return 0, fmt.Errorf("unexpected %q (want hex digit)", c)
	}
}

// encodeRune encodes r the way Lua does,
// which permits values beyond the Unicode range (up to 2^31).
func encodeRune(r rune) string {
	if r <= utf8.MaxRune && utf8.ValidRune(r) {
		return string(r)
	}
	// Extended UTF-8 sequences for surrogates and values past U+10FFFF.
	var buf [6]byte
	x := uint32(r)
	switch {
	case x < 0x10000:
		buf[0] = 0xe0 | byte(x>>12)
		buf[1] = 0x80 | byte(x>>6)&0x3f
		buf[2] = 0x80 | byte(x)&0x3f
		return string(buf[:3])
	case x < 0x200000:
		buf[0] = 0xf0 | byte(x>>18)
		buf[1] = 0x80 | byte(x>>12)&0x3f
		buf[2] = 0x80 | byte(x>>6)&0x3f
		buf[3] = 0x80 | byte(x)&0x3f
		return string(buf[:4])
	case x < 0x4000000:
		buf[0] = 0xf8 | byte(x>>24)
		buf[1] = 0x80 | byte(x>>18)&0x3f
		buf[2] = 0x80 | byte(x>>12)&0x3f
		buf[3] = 0x80 | byte(x>>6)&0x3f
		buf[4] = 0x80 | byte(x)&0x3f
		return string(buf[:5])
	default:
		buf[0] = 0xfc | byte(x>>30)
		buf[1] = 0x80 | byte(x>>24)&0x3f
		buf[2] = 0x80 | byte(x>>18)&0x3f
		buf[3] = 0x80 | byte(x>>12)&0x3f
		buf[4] = 0x80 | byte(x>>6)&0x3f
		buf[5] = 0x80 | byte(x)&0x3f
		return string(buf[:6])
	}
}

type longLiteralWriter struct {
	sb   strings.Builder
	prev byte
}

func (llw *longLiteralWriter) WriteByte(c byte) error {
	switch {
	case llw.prev == '\r' && c == '\n' || llw.prev == '\n' && c == '\r':
		llw.sb.WriteByte('\n')
		llw.prev = 0
	case c == '\n' || c == '\r':
		if llw.prev != 0 {
			llw.sb.WriteByte('\n')
		}
		llw.prev = c
	case llw.prev != 0:
		llw.sb.WriteByte('\n')
		llw.prev = 0
		fallthrough
	default:
		llw.sb.WriteByte(c)
	}
	return nil
}

func (llw *longLiteralWriter) String() string {
	if llw.prev != 0 {
		llw.sb.WriteByte('\n')
		llw.prev = 0
	}
	return llw.sb.String()
}

type discardByteWriter struct{}

func (discardByteWriter) WriteByte(c byte) error { return nil }
