// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	oclare "oclare.dev/pkg"
	"oclare.dev/pkg/internal/bytecode"
	"oclare.dev/pkg/internal/dialect"
)

type disasmOptions struct {
	file    string
	dialect dialect.Dialect
	seed    string
	stdin   io.ReadCloser
	stdout  io.Writer
}

func newDisasmCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "disasm [options] FILE",
		Short:                 "print the bytecode listing of a Lua file",
		DisableFlagsInUseLine: true,
		Args:                  cobra.ExactArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	opts := &disasmOptions{
		stdin:  os.Stdin,
		stdout: os.Stdout,
	}
	layout := new(layoutFlags)
	layout.register(c.Flags())
	c.RunE = func(cmd *cobra.Command, args []string) error {
		opts.file = args[0]
		opts.dialect = layout.dialectOr(cmd.Flags(), g.Dialect)
		opts.seed = layout.seed
		return runDisasm(cmd.Context(), opts)
	}
	return c
}

func runDisasm(ctx context.Context, opts *disasmOptions) error {
	source, err := readSource(ctx, opts.stdin, opts.file)
	if err != nil {
		return err
	}
	result, err := oclare.Protect(ctx, &oclare.Options{
		Source:        source,
		Name:          chunkName(opts.file),
		Dialect:       opts.dialect,
		Seed:          opts.seed,
		DisableGuards: true,
	})
	if err != nil {
		return err
	}

	w := bufio.NewWriter(opts.stdout)
	cfg := result.Config
	fmt.Fprintf(w, "; seed %q\n; fingerprint %v (%v)\n", result.Build.Seed, cfg.Fingerprint(), cfg.Archetype)
	if err := bytecode.Dump(w, result.Unit, cfg); err != nil {
		return err
	}
	return w.Flush()
}
