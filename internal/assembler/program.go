// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

package assembler

import (
	"cmp"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// program accumulates the emitted chunk.
// Code segments may refer to runtime names as @name placeholders,
// which are bound to fresh identifiers when the program is rendered.
// Data segments are written verbatim.
type program struct {
	segs []segment
}

type segment struct {
	text string
	data bool
}

func (p *program) code(s string) {
	p.segs = append(p.segs, segment{text: s})
}

func (p *program) codef(format string, args ...any) {
	p.code(fmt.Sprintf(format, args...))
}

func (p *program) data(s string) {
	p.segs = append(p.segs, segment{text: s, data: true})
}

var placeholderPattern = regexp.MustCompile(`@[A-Za-z][A-Za-z0-9]*`)

// placeholders returns the distinct placeholders in the code segments, sorted.
func (p *program) placeholders() []string {
	seen := make(map[string]struct{})
	for _, seg := range p.segs {
		if seg.data {
			continue
		}
		for _, name := range placeholderPattern.FindAllString(seg.text, -1) {
			seen[name] = struct{}{}
		}
	}
	list := make([]string, 0, len(seen))
	for name := range seen {
		list = append(list, name)
	}
	slices.Sort(list)
	return list
}

// render binds every placeholder and returns the program text.
// values supplies the text of placeholders that stand for values;
// every other placeholder is bound to a fresh identifier from names.
// It returns the bindings it chose.
func (p *program) render(names Namer, values map[string]string) (string, map[string]string) {
	bound := make(map[string]string)
	for _, name := range p.placeholders() {
		if v, ok := values[name]; ok {
			bound[name] = v
		} else {
			bound[name] = names.Identifier(identLen)
		}
	}
	// Longest first, so that no placeholder is replaced by way of a shorter prefix.
	keys := make([]string, 0, len(bound))
	for name := range bound {
		keys = append(keys, name)
	}
	slices.SortFunc(keys, func(a, b string) int {
		if c := cmp.Compare(len(b), len(a)); c != 0 {
			return c
		}
		return strings.Compare(a, b)
	})
	pairs := make([]string, 0, 2*len(keys))
	for _, name := range keys {
		pairs = append(pairs, name, bound[name])
	}
	r := strings.NewReplacer(pairs...)

	sb := new(strings.Builder)
	for _, seg := range p.segs {
		if seg.data {
			sb.WriteString(seg.text)
		} else {
			sb.WriteString(r.Replace(seg.text))
		}
	}
	return sb.String(), bound
}
