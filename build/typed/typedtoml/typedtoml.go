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

// Package typedtoml reads typed programs and their input values from TOML files.
//
// A file declares tensors in [[decl]] tables and statements in [[stmt]] tables.
// Expressions are nested inline tables:
//
//	name = "matvec"
//
//	[[decl]]
//	name = "A"
//	shape = [2, 2]
//	kind = "input"
//
//	[[stmt]]
//	dst = "v"
//	expr = { op = "contract", x = { ident = "A" }, x_axes = [1], y = { ident = "u" }, y_axes = [0] }
//
//	[inputs]
//	A = [1, 0, 0, 1]
package typedtoml

import (
	"io"
	"os"
	"strings"

	"github.com/BurntSushi/toml"
	"github.com/gx-org/tensorc/build/ir"
	"github.com/gx-org/tensorc/build/typed"
	"github.com/pkg/errors"
)

type (
	// File is a typed program and values for its inputs.
	File struct {
		Program *typed.Program
		// Inputs maps input names to their values, flattened in row-major order.
		Inputs map[string][]float64
	}

	fileTable struct {
		Name   string               `toml:"name"`
		Decls  []declTable          `toml:"decl"`
		Stmts  []stmtTable          `toml:"stmt"`
		Inputs map[string][]float64 `toml:"inputs"`
	}

	declTable struct {
		Name  string `toml:"name"`
		Shape []int  `toml:"shape"`
		Kind  string `toml:"kind"`
	}

	stmtTable struct {
		Dst  string     `toml:"dst"`
		Perm [][]int    `toml:"perm"`
		Expr *exprTable `toml:"expr"`
	}

	exprTable struct {
		Ident   string       `toml:"ident"`
		Const   *float64     `toml:"const"`
		Op      string       `toml:"op"`
		X       *exprTable   `toml:"x"`
		Y       *exprTable   `toml:"y"`
		Scalar  *exprTable   `toml:"scalar"`
		XAxes   []int        `toml:"x_axes"`
		YAxes   []int        `toml:"y_axes"`
		Members []*exprTable `toml:"members"`
		Pairs   [][]int      `toml:"pairs"`
	}

	decoder struct {
		prog *typed.Program
	}
)

var kinds = map[string]ir.SymbolKind{
	"input":  ir.Input,
	"output": ir.Output,
	"inout":  ir.InOut,
	"local":  ir.Local,
}

var binaryOps = map[string]ir.Kind{
	"add": ir.Add,
	"sub": ir.Sub,
	"mul": ir.Mul,
	"div": ir.Div,
}

// Decode reads a program from a reader.
// The program is validated before being returned.
func Decode(r io.Reader) (*File, error) {
	var ft fileTable
	meta, err := toml.NewDecoder(r).Decode(&ft)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot decode program")
	}
	if undecoded := meta.Undecoded(); len(undecoded) > 0 {
		keys := make([]string, len(undecoded))
		for i, k := range undecoded {
			keys[i] = k.String()
		}
		return nil, errors.Errorf("unknown keys in program: %s", strings.Join(keys, ", "))
	}
	return ft.file()
}

// DecodeFile reads a program from a file.
func DecodeFile(path string) (*File, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "cannot open program")
	}
	defer f.Close()
	file, err := Decode(f)
	if err != nil {
		return nil, errors.Wrapf(err, "%s", path)
	}
	return file, nil
}

func (ft *fileTable) file() (*File, error) {
	d := decoder{prog: &typed.Program{Name: ft.Name}}
	if d.prog.Name == "" {
		d.prog.Name = "kernel"
	}
	for _, decl := range ft.Decls {
		kind, ok := kinds[decl.Kind]
		if !ok {
			return nil, errors.Errorf("tensor %s: unknown kind %q", decl.Name, decl.Kind)
		}
		d.prog.Declare(decl.Name, kind, decl.Shape...)
	}
	for i, stmt := range ft.Stmts {
		perm, err := swaps(stmt.Perm)
		if err != nil {
			return nil, errors.Wrapf(err, "statement %d (%s)", i, stmt.Dst)
		}
		expr, err := d.expr(stmt.Expr)
		if err != nil {
			return nil, errors.Wrapf(err, "statement %d (%s)", i, stmt.Dst)
		}
		d.prog.AssignPermuted(stmt.Dst, perm, expr)
	}
	if err := typed.Validate(d.prog); err != nil {
		return nil, err
	}
	for name, values := range ft.Inputs {
		decl, ok := d.prog.Decl(name)
		if !ok || !decl.Kind.IsInput() {
			return nil, errors.Errorf("values given for %s which is not an input", name)
		}
		if got, want := len(values), decl.Shape.Size(); got != want {
			return nil, errors.Errorf("%d values given for input %s of shape %s: want %d", got, name, decl.Shape, want)
		}
	}
	return &File{Program: d.prog, Inputs: ft.Inputs}, nil
}

func swaps(pairs [][]int) ([]ir.Swap, error) {
	var sws []ir.Swap
	for _, pair := range pairs {
		if len(pair) != 2 {
			return nil, errors.Errorf("swap %v does not have two axes", pair)
		}
		sws = append(sws, ir.Swap{A: pair[0], B: pair[1]})
	}
	return sws, nil
}

func (d *decoder) expr(et *exprTable) (typed.Expr, error) {
	if et == nil {
		return nil, errors.Errorf("missing expression")
	}
	switch {
	case et.Ident != "":
		ident := d.prog.Ident(et.Ident)
		if ident == nil {
			return nil, errors.Errorf("undeclared tensor %s", et.Ident)
		}
		return ident, nil
	case et.Const != nil:
		return typed.Number(*et.Const), nil
	}
	if op, ok := binaryOps[et.Op]; ok {
		x, y, err := d.pair(et.X, et.Y)
		if err != nil {
			return nil, err
		}
		return &typed.Binary{Op: op, X: x, Y: y}, nil
	}
	switch et.Op {
	case "smul", "sdiv":
		x, s, err := d.pair(et.X, et.Scalar)
		if err != nil {
			return nil, err
		}
		if et.Op == "sdiv" {
			return typed.ScalarDiv(x, s), nil
		}
		return typed.ScalarMul(s, x), nil
	case "outer":
		x, y, err := d.pair(et.X, et.Y)
		if err != nil {
			return nil, err
		}
		return typed.Outer(x, y), nil
	case "contract":
		x, y, err := d.pair(et.X, et.Y)
		if err != nil {
			return nil, err
		}
		return typed.Contraction(x, et.XAxes, y, et.YAxes), nil
	case "stack":
		var members []typed.Expr
		for _, m := range et.Members {
			member, err := d.expr(m)
			if err != nil {
				return nil, err
			}
			members = append(members, member)
		}
		return typed.StackOf(members...), nil
	case "transpose":
		x, err := d.expr(et.X)
		if err != nil {
			return nil, err
		}
		pairs, err := swaps(et.Pairs)
		if err != nil {
			return nil, err
		}
		return typed.Transposition(x, pairs...), nil
	}
	return nil, errors.Errorf("unknown operator %q", et.Op)
}

func (d *decoder) pair(x, y *exprTable) (typed.Expr, typed.Expr, error) {
	xe, err := d.expr(x)
	if err != nil {
		return nil, nil, err
	}
	ye, err := d.expr(y)
	if err != nil {
		return nil, nil, err
	}
	return xe, ye, nil
}
