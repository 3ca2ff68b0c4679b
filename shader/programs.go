// Copyright 2026 The gogpu Authors
// SPDX-License-Identifier: BSD-3-Clause

package shader

import (
	_ "embed"
	"fmt"
	"sync"

	"github.com/gogpu/naga"
)

//go:embed shaders/stamp.wgsl
var stampShaderSource string

//go:embed shaders/composite.wgsl
var compositeShaderSource string

// Program is a compiled compute program.
type Program struct {
	Name       string
	EntryPoint string
	Source     string
	// SPIRV holds the little-endian SPIR-V words.
	SPIRV []uint32
}

// Programs holds the compiled stamp and composite programs.
type Programs struct {
	Stamp     Program
	Composite Program
}

var (
	compileOnce sync.Once
	compiled    *Programs
	compileErr  error
)

// CompilePrograms compiles the embedded WGSL programs to SPIR-V. The result
// is computed once and shared.
func CompilePrograms() (*Programs, error) {
	compileOnce.Do(func() {
		stamp, err := compileProgram("stamp", "cs_stamp", stampShaderSource)
		if err != nil {
			compileErr = err
			return
		}
		composite, err := compileProgram("composite", "cs_composite", compositeShaderSource)
		if err != nil {
			compileErr = err
			return
		}
		compiled = &Programs{Stamp: stamp, Composite: composite}
	})
	return compiled, compileErr
}

func compileProgram(name, entry, source string) (Program, error) {
	spirvBytes, err := naga.Compile(source)
	if err != nil {
		return Program{}, fmt.Errorf("shader: compile %s: %w", name, err)
	}
	return Program{Name: name, EntryPoint: entry, Source: source, SPIRV: spirvWords(spirvBytes)}, nil
}

// spirvWords converts SPIR-V bytes to little-endian 32-bit words.
func spirvWords(b []byte) []uint32 {
	words := make([]uint32, len(b)/4)
	for i := range words {
		words[i] = uint32(b[i*4]) |
			uint32(b[i*4+1])<<8 |
			uint32(b[i*4+2])<<16 |
			uint32(b[i*4+3])<<24
	}
	return words
}

// StampShaderSource returns the WGSL source of the stamp program.
func StampShaderSource() string { return stampShaderSource }

// CompositeShaderSource returns the WGSL source of the composite program.
func CompositeShaderSource() string { return compositeShaderSource }
