// Copyright 2024 Google LLC
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package api compiles typed tensor programs into native kernels.
//
// A Compiler runs the IR builder, the rewrite passes in their fixed order,
// and the C emitter. The resulting code can then be built, loaded, and
// executed with the runtime.
package api

import (
	"log/slog"

	"github.com/gx-org/backend/dtype"
	"github.com/gx-org/tensorc/build/builder"
	"github.com/gx-org/tensorc/build/ir"
	"github.com/gx-org/tensorc/build/passes/aliascopy"
	"github.com/gx-org/tensorc/build/passes/lift"
	"github.com/gx-org/tensorc/build/passes/loopfuse"
	"github.com/gx-org/tensorc/build/passes/stackelim"
	"github.com/gx-org/tensorc/build/passes/transpose"
	"github.com/gx-org/tensorc/build/typed"
	"github.com/gx-org/tensorc/emit/cemit"
	"github.com/gx-org/tensorc/runtime"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
)

type (
	// Options of the compiler.
	Options struct {
		// Emit are the options of the C emitter.
		Emit cemit.Options
		// Fuse shares the outermost loop between all assignments when possible.
		Fuse bool
		// Runtime are the options to build kernels.
		Runtime runtime.Options
		// Logger receives debug information. Nothing is logged if nil.
		Logger *slog.Logger
	}

	// Pass is a rewrite of the IR.
	Pass struct {
		Name string
		Run  func(*ir.Program) error
	}

	// Compiler compiles typed programs.
	Compiler struct {
		opts Options
		log  *slog.Logger
	}
)

// NewCompiler returns a new compiler.
func NewCompiler(opts Options) *Compiler {
	log := opts.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	if opts.Runtime.Logger == nil {
		opts.Runtime.Logger = log
	}
	return &Compiler{opts: opts, log: log}
}

// Options returns the options of the compiler.
func (c *Compiler) Options() Options {
	return c.opts
}

// Passes returns the passes run by the compiler, in order.
func (c *Compiler) Passes() []Pass {
	passes := []Pass{
		{Name: "lift", Run: func(p *ir.Program) error {
			return lift.Lift(p, lift.ContractionOrStack)
		}},
		{Name: "stackelim", Run: stackelim.Eliminate},
		{Name: "aliascopy", Run: aliascopy.Copy},
		{Name: "transpose", Run: transpose.Resolve},
	}
	if c.opts.Fuse {
		passes = append(passes, Pass{Name: "loopfuse", Run: func(p *ir.Program) error {
			loopfuse.Fuse(p)
			return nil
		}})
	}
	return passes
}

// Lower builds the IR of a program and runs all the passes.
func (c *Compiler) Lower(p *typed.Program) (*ir.Program, error) {
	prog, err := builder.Build(p)
	if err != nil {
		return nil, err
	}
	c.log.Debug("program built", "program", p.Name, "assignments", len(prog.Assignments))
	for _, pass := range c.Passes() {
		if err := pass.Run(prog); err != nil {
			return nil, errors.WithMessagef(err, "%s pass failed", pass.Name)
		}
		c.log.Debug("pass done",
			"program", p.Name,
			"pass", pass.Name,
			"assignments", len(prog.Assignments),
			"symbols", prog.Symbols.Len(),
		)
	}
	if prog.Fusion != nil {
		c.log.Debug("loops fused", "program", p.Name, "extent", prog.Fusion.Extent)
	}
	return prog, nil
}

// Emit returns the C code of a program.
func (c *Compiler) Emit(p *typed.Program) (*runtime.CodeGen, error) {
	prog, err := c.Lower(p)
	if err != nil {
		return nil, err
	}
	cg, err := cemit.Emit(prog, c.opts.Emit)
	if err != nil {
		return nil, err
	}
	c.log.Debug("code emitted", "program", p.Name, "func", cg.FuncName, "bytes", len(cg.Source))
	return cg, nil
}

// Build compiles a program into a kernel. The kernel is not loaded.
func (c *Compiler) Build(p *typed.Program) (*runtime.Kernel, error) {
	cg, err := c.Emit(p)
	if err != nil {
		return nil, err
	}
	return runtime.Build(cg, c.opts.Runtime)
}

// Run compiles and executes a program once.
// Inputs map the names of input tensors to their row-major values.
// It returns the values of all the outputs of the program.
func (c *Compiler) Run(p *typed.Program, inputs map[string][]float64) (_ map[string][]float64, err error) {
	for _, decl := range p.Decls {
		if _, ok := inputs[decl.Name]; decl.Kind.IsInput() && !ok {
			return nil, errors.Errorf("missing value for input %s", decl.Name)
		}
	}
	k, err := c.Build(p)
	if err != nil {
		return nil, err
	}
	defer func() {
		err = multierr.Append(err, k.Clean())
	}()
	if err := k.Load(); err != nil {
		return nil, err
	}
	switch k.CodeGen().DType {
	case dtype.Float32:
		return execute[float32](k, inputs)
	case dtype.Float64:
		return execute[float64](k, inputs)
	}
	return nil, errors.Errorf("data type %s not supported", k.CodeGen().DType.String())
}

func execute[T float32 | float64](k *runtime.Kernel, inputs map[string][]float64) (map[string][]float64, error) {
	cg := k.CodeGen()
	buffers := make([][]T, len(cg.Formals))
	for i, f := range cg.Formals {
		size := cg.FormalShape(i).Size()
		buffers[i] = make([]T, size)
		vals, ok := inputs[f.Name]
		if !ok {
			if f.Input {
				return nil, errors.Errorf("missing value for input %s", f.Name)
			}
			continue
		}
		if len(vals) != size {
			return nil, errors.Errorf("input %s has %d values but its shape %v requires %d values", f.Name, len(vals), f.Shape, size)
		}
		for j, v := range vals {
			buffers[i][j] = T(v)
		}
	}
	e := k.NewExecution()
	defer e.Clear()
	for i, f := range cg.Formals {
		if err := runtime.Bind(e, f.Name, buffers[i]); err != nil {
			return nil, err
		}
	}
	if err := e.Execute(); err != nil {
		return nil, err
	}
	outputs := make(map[string][]float64)
	for i, f := range cg.Formals {
		if !f.Output {
			continue
		}
		vals := make([]float64, len(buffers[i]))
		for j, v := range buffers[i] {
			vals[j] = float64(v)
		}
		outputs[f.Name] = vals
	}
	return outputs, nil
}
