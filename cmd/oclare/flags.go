// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

package main

import (
	"github.com/spf13/pflag"
	"oclare.dev/pkg/internal/dialect"
	"oclare.dev/pkg/internal/vmcrypto"
)

// layoutFlags are the flags that select the VM layout of a build.
type layoutFlags struct {
	dialect dialectFlag
	seed    string
}

func (f *layoutFlags) register(fs *pflag.FlagSet) {
	fs.Var(&f.dialect, "dialect", "Lua `dialect` of the input")
	fs.StringVar(&f.seed, "seed", "", "`seed` that fixes the VM layout (random if empty)")
}

// dialectOr returns the --dialect flag's value if it was set
// or def otherwise.
func (f *layoutFlags) dialectOr(fs *pflag.FlagSet, def dialect.Dialect) dialect.Dialect {
	if !fs.Changed("dialect") {
		return def
	}
	return dialect.Dialect(f.dialect)
}

// dialectFlag is the implementation of [github.com/spf13/pflag.Value]
// for a [dialect.Dialect].
type dialectFlag dialect.Dialect

func (f *dialectFlag) Type() string { return "dialect" }
func (f dialectFlag) Get() any      { return dialect.Dialect(f) }

func (f dialectFlag) String() string {
	if !dialect.Dialect(f).IsValid() {
		return ""
	}
	return dialect.Dialect(f).String()
}

func (f *dialectFlag) Set(s string) error {
	d, err := dialect.Parse(s)
	if err != nil {
		return err
	}
	*f = dialectFlag(d)
	return nil
}

// encryptionFlag is the implementation of [github.com/spf13/pflag.Value]
// for a [vmcrypto.Method].
type encryptionFlag vmcrypto.Method

func (f *encryptionFlag) Type() string { return "method" }
func (f encryptionFlag) Get() any      { return vmcrypto.Method(f) }

func (f encryptionFlag) String() string {
	if !vmcrypto.Method(f).IsValid() {
		return ""
	}
	return vmcrypto.Method(f).String()
}

func (f *encryptionFlag) Set(s string) error {
	m, err := vmcrypto.ParseMethod(s)
	if err != nil {
		return err
	}
	*f = encryptionFlag(m)
	return nil
}
