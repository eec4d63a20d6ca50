// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"slices"
	"time"

	jsonv2 "github.com/go-json-experiment/json"
	"github.com/go-json-experiment/json/jsontext"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"oclare.dev/pkg/internal/buildlog"
	"oclare.dev/pkg/internal/dialect"
	"oclare.dev/pkg/internal/vmcrypto"
	"zombiezen.com/go/log"
)

type historyOptions struct {
	id     uuid.UUID
	limit  int
	json   bool
	prune  time.Duration
	stdout io.Writer
}

func newHistoryCommand(g *globalConfig) *cobra.Command {
	c := &cobra.Command{
		Use:                   "history [options] [BUILD]",
		Short:                 "list recent builds or show one build",
		DisableFlagsInUseLine: true,
		Args:                  cobra.MaximumNArgs(1),
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	opts := &historyOptions{stdout: os.Stdout}
	c.Flags().IntVarP(&opts.limit, "limit", "n", 20, "show at most `n` builds")
	c.Flags().BoolVar(&opts.json, "json", false, "print builds as JSON")
	c.Flags().DurationVar(&opts.prune, "prune", 0, "first delete builds older than `duration`")
	c.RunE = func(cmd *cobra.Command, args []string) error {
		if len(args) > 0 {
			var err error
			opts.id, err = uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("build %q: %v", args[0], err)
			}
		}
		return runHistory(cmd.Context(), g, opts)
	}
	return c
}

func runHistory(ctx context.Context, g *globalConfig, opts *historyOptions) error {
	db, err := g.openHistory()
	if err != nil {
		return err
	}
	if db == nil {
		return errors.New("build history disabled")
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Errorf(ctx, "%v", err)
		}
	}()

	if opts.prune > 0 {
		n, err := db.Prune(ctx, time.Now().Add(-opts.prune))
		if err != nil {
			return err
		}
		log.Infof(ctx, "Pruned %d builds", n)
	}

	var records []*buildlog.Record
	if opts.id != uuid.Nil {
		r, err := db.Find(ctx, opts.id)
		if err != nil {
			return err
		}
		records = []*buildlog.Record{r}
	} else {
		records, err = db.Recent(ctx, opts.limit)
		if err != nil {
			return err
		}
	}

	w := bufio.NewWriter(opts.stdout)
	if opts.json {
		entries := make([]*historyEntry, 0, len(records))
		for _, r := range records {
			entries = append(entries, newHistoryEntry(r))
		}
		if err := jsonv2.MarshalWrite(w, entries, jsontext.Multiline(true)); err != nil {
			return err
		}
		w.WriteString("\n")
		return w.Flush()
	}
	for _, r := range records {
		writeRecord(w, r, opts.id != uuid.Nil)
	}
	return w.Flush()
}

func writeRecord(w *bufio.Writer, r *buildlog.Record, detail bool) {
	status := "ok"
	if r.Error != "" {
		status = "FAILED"
	}
	fmt.Fprintf(w, "%v  %s  %-6s  %-7v  %6dms  %s\n",
		r.ID, r.StartedAt.Local().Format(time.DateTime), status, r.Dialect, r.Duration.Milliseconds(), r.Name)
	if !detail {
		return
	}
	if r.Error != "" {
		fmt.Fprintf(w, "  error:       %s\n", r.Error)
	}
	fmt.Fprintf(w, "  seed:        %q\n", r.Seed)
	if r.Encryption != 0 {
		fmt.Fprintf(w, "  encryption:  %v\n", r.Encryption)
	}
	if r.Fingerprint != uuid.Nil {
		fmt.Fprintf(w, "  fingerprint: %v (%s)\n", r.Fingerprint, r.Archetype)
	}
	fmt.Fprintf(w, "  sizes:       %d in, %d bytecode, %d out\n", r.InputSize, r.BytecodeSize, r.OutputSize)
	mnemonics := make([]string, 0, len(r.Opcodes))
	for m := range r.Opcodes {
		mnemonics = append(mnemonics, m)
	}
	slices.Sort(mnemonics)
	for _, m := range mnemonics {
		fmt.Fprintf(w, "  %-8s %02x\n", m, r.Opcodes[m])
	}
}

type historyEntry struct {
	ID           uuid.UUID        `json:"id"`
	Name         string           `json:"name"`
	Dialect      dialect.Dialect  `json:"dialect"`
	Seed         string           `json:"seed"`
	Encryption   *vmcrypto.Method `json:"encryption,omitempty"`
	Fingerprint  *uuid.UUID       `json:"fingerprint,omitempty"`
	Archetype    string           `json:"archetype,omitempty"`
	StartedAt    time.Time        `json:"startedAt"`
	DurationMS   int64            `json:"durationMs"`
	InputSize    int              `json:"inputSize"`
	OutputSize   int              `json:"outputSize"`
	BytecodeSize int              `json:"bytecodeSize"`
	Opcodes      map[string]byte  `json:"opcodes,omitempty"`
	Error        string           `json:"error,omitempty"`
}

func newHistoryEntry(r *buildlog.Record) *historyEntry {
	e := &historyEntry{
		ID:           r.ID,
		Name:         r.Name,
		Dialect:      r.Dialect,
		Seed:         r.Seed,
		Archetype:    r.Archetype,
		StartedAt:    r.StartedAt,
		DurationMS:   r.Duration.Milliseconds(),
		InputSize:    r.InputSize,
		OutputSize:   r.OutputSize,
		BytecodeSize: r.BytecodeSize,
		Opcodes:      r.Opcodes,
		Error:        r.Error,
	}
	if r.Encryption != 0 {
		e.Encryption = &r.Encryption
	}
	if r.Fingerprint != uuid.Nil {
		e.Fingerprint = &r.Fingerprint
	}
	return e
}
