// Copyright 2024 The zb Authors
// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

package main

import (
	"errors"
	"fmt"
	"iter"
	"os"
	"path/filepath"
	"runtime"

	jsonv2 "github.com/go-json-experiment/json"
	"github.com/tailscale/hujson"
	oclare "oclare.dev/pkg"
	"oclare.dev/pkg/internal/buildlog"
	"oclare.dev/pkg/internal/dialect"
	"oclare.dev/pkg/internal/vmcrypto"
)

type globalConfig struct {
	Debug      bool            `json:"debug"`
	Dialect    dialect.Dialect `json:"dialect"`
	Encryption vmcrypto.Method `json:"encryption"`
	// Guards is nil if unset, which enables guards.
	Guards *bool `json:"guards"`
	// History is the path to the build history database.
	// An empty string disables the history.
	History string `json:"history"`
	Jobs    int    `json:"jobs"`
}

func defaultGlobalConfig() *globalConfig {
	g := &globalConfig{
		Dialect:    oclare.DefaultDialect,
		Encryption: vmcrypto.ChaCha20,
		Jobs:       runtime.NumCPU(),
	}
	if dir := dataDir(); dir != "" {
		g.History = filepath.Join(dir, "oclare", "history.db")
	}
	return g
}

// configFiles returns the configuration files to read
// in increasing order of preference.
func configFiles() iter.Seq[string] {
	return func(yield func(string) bool) {
		for dir := range systemConfigDirs() {
			if !yield(filepath.Join(dir, "oclare", "config.jwcc")) {
				return
			}
		}
		if path := os.Getenv("OCLARE_CONFIG"); path != "" {
			yield(path)
		}
	}
}

func (g *globalConfig) mergeEnvironment() error {
	if s := os.Getenv("OCLARE_DIALECT"); s != "" {
		d, err := dialect.Parse(s)
		if err != nil {
			return fmt.Errorf("OCLARE_DIALECT: %v", err)
		}
		g.Dialect = d
	}
	if path, ok := os.LookupEnv("OCLARE_HISTORY"); ok {
		g.History = path
	}
	return nil
}

func (g *globalConfig) mergeFiles(paths iter.Seq[string]) error {
	for path := range paths {
		huJSONData, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return err
		}
		jsonData, err := hujson.Standardize(huJSONData)
		if err != nil {
			return fmt.Errorf("read %s: %v", path, err)
		}
		if err := jsonv2.Unmarshal(jsonData, g, jsonv2.RejectUnknownMembers(false)); err != nil {
			return fmt.Errorf("read %s: %v", path, err)
		}
	}
	return nil
}

func (g *globalConfig) validate() error {
	if !g.Dialect.IsValid() {
		return fmt.Errorf("unknown dialect %v", g.Dialect)
	}
	if !g.Encryption.IsValid() {
		return fmt.Errorf("unknown encryption method %v", g.Encryption)
	}
	if g.Jobs < 1 {
		return fmt.Errorf("jobs = %d; must be at least 1", g.Jobs)
	}
	return nil
}

// openHistory opens the build history database.
// It returns nil if the history is disabled.
func (g *globalConfig) openHistory() (*buildlog.DB, error) {
	if g.History == "" {
		return nil, nil
	}
	return buildlog.Open(g.History)
}

func (g *globalConfig) guards() bool {
	return g.Guards == nil || *g.Guards
}
