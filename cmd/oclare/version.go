// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

package main

import (
	"fmt"
	"io"
	"os"
	"runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"
	oclare "oclare.dev/pkg"
	"oclare.dev/pkg/internal/dialect"
	"oclare.dev/pkg/internal/vmcrypto"
)

func newVersionCommand() *cobra.Command {
	c := &cobra.Command{
		Use:                   "version",
		Short:                 "show version information",
		DisableFlagsInUseLine: true,
		Args:                  cobra.NoArgs,
		SilenceErrors:         true,
		SilenceUsage:          true,
	}
	c.RunE = func(cmd *cobra.Command, args []string) error {
		return runVersion(os.Stdout)
	}
	return c
}

func runVersion(w io.Writer) error {
	var dialects, methods []string
	for _, d := range dialect.All() {
		dialects = append(dialects, d.String())
	}
	for _, m := range vmcrypto.Methods() {
		methods = append(methods, m.String())
	}
	revision := "unknown"
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				revision = setting.Value
			}
		}
	}
	_, err := fmt.Fprintf(w, "oclare version %s\nRevision:   %s\nGo:         %s %s/%s\nDialects:   %s\nEncryption: %s\n",
		oclare.Version,
		revision,
		runtime.Version(), runtime.GOOS, runtime.GOARCH,
		strings.Join(dialects, " "),
		strings.Join(methods, " "))
	return err
}
