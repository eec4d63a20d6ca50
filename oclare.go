// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

// Package oclare protects Lua programs by compiling them
// to encrypted bytecode for a virtual machine that is randomized per build.
// The result is a single Lua chunk in the source's dialect.
package oclare

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"oclare.dev/pkg/internal/assembler"
	"oclare.dev/pkg/internal/buildctx"
	"oclare.dev/pkg/internal/bytecode"
	"oclare.dev/pkg/internal/dialect"
	"oclare.dev/pkg/internal/ir"
	"oclare.dev/pkg/internal/lualex"
	"oclare.dev/pkg/internal/luaparse"
	"oclare.dev/pkg/internal/vmarch"
	"oclare.dev/pkg/internal/vmcrypto"
	"zombiezen.com/go/log"
)

// Version is the version of the protector,
// recorded in every build's statistics.
const Version = "2.0"

// DefaultDialect is the dialect used when [Options.Dialect] is zero.
const DefaultDialect = dialect.Lua53

// Options is the set of parameters to [Protect].
type Options struct {
	// Source is the Lua program text.
	Source string
	// Name is the chunk name used in error messages.
	// If empty, "input" is used.
	Name string
	// Dialect is the language variant of Source and of the output.
	// If zero, [DefaultDialect] is used.
	Dialect dialect.Dialect
	// Seed fixes every layout decision of the build.
	// If empty, a seed is drawn from Entropy.
	Seed string
	// Encryption selects the cipher for bytecode and constants.
	// If zero, [vmcrypto.ChaCha20] is used.
	Encryption vmcrypto.Method
	// DisableGuards omits the anti-debugging and anti-tamper checks.
	DisableGuards bool
	// Progress is called as the build passes each [Stage].
	// It must not block.
	Progress func(Progress)
	// Entropy supplies the build ID and nonce salt.
	// If nil, crypto/rand is used.
	Entropy io.Reader
}

// Result is the output of a successful [Protect].
type Result struct {
	// Text is the protected program.
	Text  string
	Stats *Stats

	// Build, Config, Unit, and Output are the artifacts of the build
	// for inspection.
	Build  *buildctx.Context
	Config *vmarch.Config
	Unit   *bytecode.Unit
	Output *assembler.Output
}

// Protect runs the full pipeline over opts.Source.
// Syntax errors in the source are returned as [*lualex.SyntaxError]
// wrapped with the chunk name.
func Protect(ctx context.Context, opts *Options) (_ *Result, err error) {
	name := opts.Name
	if name == "" {
		name = "input"
	}
	defer func() {
		if err != nil {
			err = fmt.Errorf("protect %s: %w", name, err)
		}
	}()
	d := opts.Dialect
	if d == 0 {
		d = DefaultDialect
	}
	if !d.IsValid() {
		return nil, fmt.Errorf("invalid dialect %v", d)
	}
	method := opts.Encryption
	if method == 0 {
		method = vmcrypto.ChaCha20
	}
	if !method.IsValid() {
		return nil, fmt.Errorf("invalid encryption method %v", method)
	}

	p := &pipeline{
		ctx:      ctx,
		progress: opts.Progress,
		start:    time.Now(),
	}
	b, err := buildctx.New(opts.Seed, opts.Entropy)
	if err != nil {
		return nil, err
	}
	log.Debugf(ctx, "Build %v of %s (%v, seed %q)", b.BuildID, name, d, b.Seed)

	if err := p.enter(StageLex); err != nil {
		return nil, err
	}
	tokens, err := lualex.Tokenize(opts.Source, d)
	if err != nil {
		var se *lualex.SyntaxError
		if errors.As(err, &se) && se.Source == "" {
			se.Source = name
		}
		return nil, err
	}

	if err := p.enter(StageParse); err != nil {
		return nil, err
	}
	block, err := luaparse.Parse(name, tokens, d)
	if err != nil {
		return nil, err
	}

	if err := p.enter(StageIR); err != nil {
		return nil, err
	}
	checkOrder := ir.CheckKinds()
	buildctx.Shuffle(b.Rand, checkOrder)
	fn, err := ir.Build(name, block, &ir.Options{
		Dialect:    d,
		Guards:     !opts.DisableGuards,
		CheckOrder: checkOrder,
	})
	if err != nil {
		return nil, err
	}

	if err := p.enter(StageOptimize); err != nil {
		return nil, err
	}
	ir.Optimize(fn, d)
	irCount := fn.InstructionCount()

	if err := p.enter(StageArchitect); err != nil {
		return nil, err
	}
	cfg, err := vmarch.Generate(b.Rand, d)
	if err != nil {
		return nil, err
	}
	log.Debugf(ctx, "VM %v: %v archetype, %d decoys", cfg.Fingerprint(), cfg.Archetype, len(cfg.Decoys))

	if err := p.enter(StageCompile); err != nil {
		return nil, err
	}
	u, err := bytecode.Compile(fn, cfg)
	if err != nil {
		return nil, err
	}

	if err := p.enter(StageProtect); err != nil {
		return nil, err
	}
	out, err := assembler.Assemble(u, &assembler.Options{
		Build:  b,
		Config: cfg,
		Method: method,
		Guards: !opts.DisableGuards,
	})
	if err != nil {
		return nil, err
	}

	if err := p.enter(StageAssemble); err != nil {
		return nil, err
	}
	stats := newStats(b, cfg, u, out, irCount, method)
	p.finish()
	log.Debugf(ctx, "Protected %s: %d bytes of bytecode, %d bytes of output", name, stats.BytecodeByteCount, len(out.Text))
	return &Result{
		Text:   out.Text,
		Stats:  stats,
		Build:  b,
		Config: cfg,
		Unit:   u,
		Output: out,
	}, nil
}

// pipeline tracks stage boundaries for progress reports and timing logs.
type pipeline struct {
	ctx      context.Context
	progress func(Progress)
	start    time.Time

	stage      Stage
	stageStart time.Time
	entered    bool
}

// enter marks the start of a stage.
// It returns the context's error if the build has been cancelled.
func (p *pipeline) enter(s Stage) error {
	if err := p.ctx.Err(); err != nil {
		return err
	}
	now := time.Now()
	if p.entered {
		log.Debugf(p.ctx, "Stage %v took %v", p.stage, now.Sub(p.stageStart))
	}
	p.stage, p.stageStart, p.entered = s, now, true
	if p.progress != nil {
		p.progress(Progress{
			Stage:   s,
			Percent: s.percent(),
			Message: s.message(),
		})
	}
	return nil
}

func (p *pipeline) finish() {
	now := time.Now()
	log.Debugf(p.ctx, "Stage %v took %v", p.stage, now.Sub(p.stageStart))
	log.Debugf(p.ctx, "Build took %v", now.Sub(p.start))
	if p.progress != nil {
		p.progress(Progress{Stage: StageDone, Percent: 100, Message: StageDone.message()})
	}
}
