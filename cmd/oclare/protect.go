// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dsnet/compress/brotli"
	jsonv2 "github.com/go-json-experiment/json"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"golang.org/x/term"
	oclare "oclare.dev/pkg"
	"oclare.dev/pkg/internal/buildlog"
	"oclare.dev/pkg/internal/dialect"
	"oclare.dev/pkg/internal/vmcrypto"
	"zombiezen.com/go/log"
	"zombiezen.com/go/xcontext"
)

type protectOptions struct {
	files      []string
	output     string
	dialect    dialect.Dialect
	seed       string
	encryption vmcrypto.Method
	noGuards   bool
	jsonStats  bool
	jobs       int

	stdin    io.ReadCloser
	stdout   io.Writer
	stderr   io.Writer
	progress bool
}

func newProtectCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:   "protect [options] FILE [...]",
		Short: "protect one or more Lua files",
		Long: "Protect compiles each Lua file into a self-contained protected program.\n" +
			"A FILE of \"-\" reads standard input. Files ending in \".br\" are brotli-compressed.\n\n" +
			"With a single input, the program is written to --output or standard output.\n" +
			"With multiple inputs, --output names a directory. Without it,\n" +
			"each program is written beside its input as NAME.protected.lua.",
		DisableFlagsInUseLine: true,
		Args:                  cobra.MinimumNArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	opts := &protectOptions{
		stdin:  os.Stdin,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
	layout := new(layoutFlags)
	encryptionFlagValue := new(encryptionFlag)
	c.Flags().StringVarP(&opts.output, "output", "o", "", "output `path`")
	layout.register(c.Flags())
	c.Flags().Var(encryptionFlagValue, "encryption", "encryption `method` (chacha20 or xsalsa20-poly1305)")
	c.Flags().BoolVar(&opts.noGuards, "no-guards", false, "omit anti-tamper and anti-debugging guards")
	c.Flags().BoolVar(&opts.jsonStats, "json-stats", false, "write build statistics as JSON to stderr")
	c.Flags().IntVarP(&opts.jobs, "jobs", "j", 0, "maximum number of files to protect in parallel")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		opts.files = args
		opts.dialect = layout.dialectOr(cmd.Flags(), g.Dialect)
		opts.seed = layout.seed
		opts.encryption = g.Encryption
		if cmd.Flags().Changed("encryption") {
			opts.encryption = vmcrypto.Method(*encryptionFlagValue)
		}
		if !cmd.Flags().Changed("no-guards") {
			opts.noGuards = !g.guards()
		}
		if opts.jobs <= 0 {
			opts.jobs = g.Jobs
		}
		opts.progress = len(args) == 1 && isTerminal(os.Stderr)
		return runProtect(cmd.Context(), g, opts)
	}
	return c
}

func runProtect(ctx context.Context, g *globalConfig, opts *protectOptions) error {
	if len(opts.files) > 1 {
		for _, f := range opts.files {
			if f == "-" {
				return errors.New("standard input (-) cannot be combined with other files")
			}
		}
		if opts.output != "" {
			if err := os.MkdirAll(opts.output, 0o777); err != nil {
				return err
			}
		}
	}

	history, err := g.openHistory()
	if err != nil {
		log.Warnf(ctx, "Build history disabled: %v", err)
	}
	if history != nil {
		defer func() {
			if err := history.Close(); err != nil {
				log.Errorf(ctx, "%v", err)
			}
		}()
	}

	var statsMu sync.Mutex
	grp, grpCtx := errgroup.WithContext(ctx)
	grp.SetLimit(opts.jobs)
	for _, path := range opts.files {
		grp.Go(func() error {
			result, err := protectFile(grpCtx, history, opts, path)
			if err != nil {
				return err
			}
			if opts.jsonStats {
				statsMu.Lock()
				defer statsMu.Unlock()
				return writeStats(opts.stderr, path, result.Stats)
			}
			return nil
		})
	}
	return grp.Wait()
}

func protectFile(ctx context.Context, history *buildlog.DB, opts *protectOptions, path string) (*oclare.Result, error) {
	start := time.Now()
	source, err := readSource(ctx, opts.stdin, path)
	if err != nil {
		return nil, err
	}

	name := chunkName(path)
	popts := &oclare.Options{
		Source:        source,
		Name:          name,
		Dialect:       opts.dialect,
		Seed:          opts.seed,
		Encryption:    opts.encryption,
		DisableGuards: opts.noGuards,
	}
	if opts.progress {
		popts.Progress = func(p oclare.Progress) {
			fmt.Fprintf(opts.stderr, "\r\x1b[K[%3d%%] %s", p.Percent, p.Message)
			if p.Stage == oclare.StageDone {
				fmt.Fprintln(opts.stderr)
			}
		}
	}
	result, protectErr := oclare.Protect(ctx, popts)
	if history != nil {
		rec := newRecord(popts, result, protectErr)
		rec.StartedAt = start
		rec.Duration = time.Since(start)
		if err := history.Record(context.WithoutCancel(ctx), rec); err != nil {
			log.Warnf(ctx, "%v", err)
		}
	}
	if protectErr != nil {
		return nil, protectErr
	}

	dst := outputPath(opts, path)
	if dst == "" {
		if _, err := io.WriteString(opts.stdout, result.Text); err != nil {
			return nil, err
		}
	} else if err := os.WriteFile(dst, []byte(result.Text), 0o666); err != nil {
		return nil, err
	}
	log.Infof(ctx, "Protected %s (%v, %d bytes, build %v)", name, result.Stats.Dialect, len(result.Text), result.Stats.BuildID)
	return result, nil
}

// readSource reads the Lua source at path,
// decompressing it if path ends in ".br".
func readSource(ctx context.Context, stdin io.ReadCloser, path string) (string, error) {
	var f io.ReadCloser
	if path == "-" {
		f = stdin
	} else {
		var err error
		f, err = os.Open(path)
		if err != nil {
			return "", err
		}
	}
	closer := xcontext.CloseWhenDone(ctx, f)
	defer closer.Close()

	var r io.Reader = f
	if strings.HasSuffix(path, ".br") {
		br, err := brotli.NewReader(f, nil)
		if err != nil {
			return "", fmt.Errorf("read %s: %v", path, err)
		}
		defer br.Close()
		r = br
	}
	data, err := io.ReadAll(r)
	if ctx.Err() != nil {
		return "", fmt.Errorf("read %s: %w", path, ctx.Err())
	}
	if err != nil {
		return "", fmt.Errorf("read %s: %v", path, err)
	}
	return string(data), nil
}

func chunkName(path string) string {
	if path == "-" {
		return "stdin"
	}
	return filepath.Base(strings.TrimSuffix(path, ".br"))
}

// outputPath returns the file to write the protected form of path to,
// or the empty string for standard output.
func outputPath(opts *protectOptions, path string) string {
	if len(opts.files) == 1 {
		if opts.output == "-" {
			return ""
		}
		return opts.output
	}
	base := strings.TrimSuffix(strings.TrimSuffix(path, ".br"), ".lua") + ".protected.lua"
	if opts.output == "" {
		return base
	}
	return filepath.Join(opts.output, filepath.Base(base))
}

func newRecord(opts *oclare.Options, result *oclare.Result, err error) *buildlog.Record {
	rec := &buildlog.Record{
		Name:      opts.Name,
		Dialect:   opts.Dialect,
		Seed:      opts.Seed,
		InputSize: len(opts.Source),
	}
	if rec.Dialect == 0 {
		rec.Dialect = oclare.DefaultDialect
	}
	if err != nil {
		rec.ID = uuid.New()
		rec.Error = err.Error()
		return rec
	}
	s := result.Stats
	rec.ID = s.BuildID
	rec.Seed = s.Seed
	rec.Encryption = s.EncryptionMethod
	rec.Fingerprint = s.Fingerprint
	rec.Archetype = s.Archetype
	rec.OutputSize = s.OutputByteCount
	rec.BytecodeSize = s.BytecodeByteCount
	rec.Opcodes = make(map[string]byte)
	for _, m := range result.Unit.UsedAll().All() {
		rec.Opcodes[m.String()] = result.Config.Opcode(m)
	}
	return rec
}

func writeStats(w io.Writer, path string, stats *oclare.Stats) error {
	type fileStats struct {
		File          string `json:"file"`
		*oclare.Stats `json:",inline"`
	}
	if err := jsonv2.MarshalWrite(w, &fileStats{path, stats}); err != nil {
		return err
	}
	_, err := io.WriteString(w, "\n")
	return err
}

func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
