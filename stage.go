// Copyright 2026 The Oclare Authors
// SPDX-License-Identifier: MIT

package oclare

import "fmt"

// Stage is a milestone of [Protect].
type Stage int

// Stages in the order they run.
const (
	StageLex Stage = 1 + iota
	StageParse
	StageIR
	StageOptimize
	StageArchitect
	StageCompile
	StageProtect
	StageAssemble
	StageDone
)

var stageInfo = [...]struct {
	name    string
	percent int
	message string
}{
	StageLex:       {"lex", 5, "Tokenizing Lua source"},
	StageParse:     {"parse", 10, "Parsing Lua source"},
	StageIR:        {"ir", 25, "Lowering AST to IR"},
	StageOptimize:  {"optimize", 35, "Optimizing IR"},
	StageArchitect: {"architect", 45, "Generating VM architecture"},
	StageCompile:   {"compile", 55, "Compiling to bytecode"},
	StageProtect:   {"protect", 70, "Encrypting bytecode and constants"},
	StageAssemble:  {"assemble", 85, "Assembling protected runtime"},
	StageDone:      {"done", 100, "Complete"},
}

func (s Stage) valid() bool {
	return StageLex <= s && s <= StageDone
}

func (s Stage) String() string {
	if !s.valid() {
		return fmt.Sprintf("Stage(%d)", int(s))
	}
	return stageInfo[s].name
}

func (s Stage) percent() int {
	if !s.valid() {
		return 0
	}
	return stageInfo[s].percent
}

func (s Stage) message() string {
	if !s.valid() {
		return ""
	}
	return stageInfo[s].message
}

// Progress is a report sent to [Options.Progress].
type Progress struct {
	Stage Stage
	// Percent is an estimate of how much of the build is complete.
	Percent int
	Message string
}
