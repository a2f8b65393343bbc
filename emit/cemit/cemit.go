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

// Package cemit emits C loop nests from the tensorc IR.
//
// The program must have been rewritten by the lifting, stack elimination,
// alias copy, and transposition passes: contractions are only found at the
// root of assignments and stacks and transpositions have been removed.
package cemit

import (
	"fmt"
	"math"
	"slices"
	"strconv"
	"strings"

	"github.com/gx-org/backend/dtype"
	"github.com/gx-org/tensorc/base/tmpl"
	"github.com/gx-org/tensorc/build/fmterr"
	"github.com/gx-org/tensorc/build/ir"
	"github.com/gx-org/tensorc/build/passes/loopfuse"
	"github.com/gx-org/tensorc/runtime"
)

// Layout of the elements of a tensor in memory.
type Layout int

const (
	// RowMajor stores the last axis contiguously.
	RowMajor Layout = iota
	// ColumnMajor stores the first axis contiguously.
	ColumnMajor
)

func (l Layout) String() string {
	if l == ColumnMajor {
		return "column"
	}
	return "row"
}

// Options of the emitter.
type Options struct {
	// FuncName is the name of the generated function.
	// The name of the program is used if empty.
	FuncName string
	Layout   Layout
	// DType of the elements: dtype.Float32 or dtype.Float64.
	DType dtype.DataType
	// Coalesce emits a single flat loop for assignments reading and writing whole tensors in order.
	Coalesce bool
}

const fusedIndex = "f0"

type emitter struct {
	prog  *ir.Program
	opts  Options
	ctype string

	body    strings.Builder
	open    []string
	extents map[string]int
	nextIdx int
	nextK   int
	nextTmp int
	// flat is the name of the index of a coalesced loop.
	flat string
}

// CType returns the C type of a data type.
func CType(dt dtype.DataType) (string, error) {
	switch dt {
	case dtype.Float32:
		return "float", nil
	case dtype.Float64:
		return "double", nil
	}
	return "", fmterr.Internalf("data type %s not supported", dt.String())
}

// Mangle returns the C name of a tensor.
func Mangle(name string) string {
	return "t_" + name
}

// Emit generates the C source of a program.
func Emit(prog *ir.Program, opts Options) (*runtime.CodeGen, error) {
	if opts.DType == dtype.Invalid {
		opts.DType = dtype.Float64
	}
	ctype, err := CType(opts.DType)
	if err != nil {
		return nil, err
	}
	e := &emitter{
		prog:    prog,
		opts:    opts,
		ctype:   ctype,
		extents: make(map[string]int),
	}
	if prog.Fusion != nil {
		e.openLoop(fusedIndex, prog.Fusion.Extent)
	}
	for i, a := range prog.Assignments {
		if err := e.assignment(a); err != nil {
			return nil, fmterr.Stmt(i, prog.Dst(a).Name, err)
		}
	}
	e.closeTo(0)
	return e.function()
}

func (e *emitter) line(format string, a ...any) {
	e.body.WriteString(strings.Repeat("  ", len(e.open)+1))
	fmt.Fprintf(&e.body, format, a...)
	e.body.WriteString("\n")
}

func (e *emitter) openLoop(name string, extent int) {
	e.line("for (int %s = 0; %s < %d; %s++) {", name, name, extent, name)
	e.open = append(e.open, name)
	e.extents[name] = extent
}

func (e *emitter) closeTo(depth int) {
	for len(e.open) > depth {
		e.open = e.open[:len(e.open)-1]
		e.line("}")
	}
}

func (e *emitter) isOpen(name string) bool {
	return slices.Contains(e.open, name)
}

// ensure opens the loops of indices not opened yet, in order.
func (e *emitter) ensure(names []string) {
	if e.flat != "" {
		return
	}
	for _, name := range names {
		if !isIndex(name) || e.isOpen(name) {
			continue
		}
		e.openLoop(name, e.extents[name])
	}
}

func isIndex(s string) bool {
	return s != "" && (s[0] < '0' || s[0] > '9')
}

func (e *emitter) resultNames(a *ir.Assignment) []string {
	shape := e.prog.Dst(a).Shape
	names := make([]string, shape.Rank())
	for i := range names {
		if a.Fused && i == a.FuseAxis {
			names[i] = fusedIndex
			continue
		}
		names[i] = fmt.Sprintf("i%d", e.nextIdx)
		e.nextIdx++
		e.extents[names[i]] = shape[i]
	}
	return names
}

// offset returns the C expression of the position of an element given its stored subscript.
func (e *emitter) offset(sub []string, dims ir.Shape) string {
	if len(sub) == 0 {
		return "0"
	}
	if e.flat != "" {
		return e.flat
	}
	r := len(sub)
	if e.opts.Layout == ColumnMajor {
		s := sub[r-1]
		for k := r - 2; k >= 0; k-- {
			s = fmt.Sprintf("%s + %d*(%s)", sub[k], dims[k], s)
		}
		return s
	}
	s := sub[0]
	for k := 1; k < r; k++ {
		s = fmt.Sprintf("%s + %d*(%s)", sub[k], dims[k], s)
	}
	return s
}

func (e *emitter) access(n *ir.Node, own []string) (string, error) {
	stored, ok := e.prog.StoredShape(n)
	if !ok {
		return "", fmterr.Internalf("undeclared tensor %s", n.Name)
	}
	sub := ir.Subscript(n, own, strconv.Itoa)
	e.ensure(sub)
	return fmt.Sprintf("%s[%s]", Mangle(n.Name), e.offset(sub, stored)), nil
}

func (e *emitter) assignment(a *ir.Assignment) error {
	base := len(e.open)
	dst := e.prog.Dst(a)
	root := e.prog.Node(a.Expr)
	result := e.resultNames(a)
	// A bare identifier root copying another tensor is a plain statement.
	if root.Kind == ir.Identifier && root.Name == dst.Name {
		if slices.Equal(root.Fixed, dst.Fixed) && slices.Equal(root.Perm, dst.Perm) {
			return nil
		}
		return fmterr.Internalf("%s reads its own storage with a different mapping", e.prog.AssignmentString(a))
	}
	if e.opts.Coalesce && e.opts.Layout == RowMajor && loopfuse.Coalescible(e.prog, a) {
		e.flat = result[0]
		e.openLoop(e.flat, dst.Shape.Size())
		defer func() { e.flat = "" }()
	}
	var err error
	if root.Kind == ir.Contraction {
		err = e.contraction(a, result)
	} else {
		err = e.statement(a, result)
	}
	if err != nil {
		return err
	}
	e.closeTo(base)
	return nil
}

func (e *emitter) statement(a *ir.Assignment, result []string) error {
	val, err := e.expr(a.Expr, result)
	if err != nil {
		return err
	}
	lhs, err := e.access(e.prog.Dst(a), result)
	if err != nil {
		return err
	}
	e.line("%s = %s;", lhs, val)
	return nil
}

func (e *emitter) contraction(a *ir.Assignment, result []string) error {
	n := e.prog.Node(a.Expr)
	e.ensure(result)
	lhs, err := e.access(e.prog.Dst(a), result)
	if err != nil {
		return err
	}
	e.line("%s = 0;", lhs)
	contracted := make([]string, len(n.LhsAxes))
	x := e.prog.Node(n.Operands[0])
	for t, ax := range n.LhsAxes {
		contracted[t] = fmt.Sprintf("k%d", e.nextK)
		e.nextK++
		e.openLoop(contracted[t], x.Shape[ax])
	}
	ops := ir.OperandIndices(e.prog, a.Expr, result, contracted)
	xv, err := e.operand(n.Operands[0], ops[0])
	if err != nil {
		return err
	}
	yv, err := e.operand(n.Operands[1], ops[1])
	if err != nil {
		return err
	}
	e.line("%s += %s * %s;", lhs, xv, yv)
	return nil
}

// operand returns the C expression of an operand, materializing non-leaf operands into a temporary.
func (e *emitter) operand(id ir.NodeID, idx []string) (string, error) {
	val, err := e.expr(id, idx)
	if err != nil {
		return "", err
	}
	if e.prog.Node(id).Kind.IsLeaf() {
		return val, nil
	}
	tmp := fmt.Sprintf("s%d", e.nextTmp)
	e.nextTmp++
	e.line("%s %s = %s;", e.ctype, tmp, val)
	return tmp, nil
}

func literal(v float64) string {
	switch {
	case math.IsNaN(v):
		return "(0.0/0.0)"
	case math.IsInf(v, 1):
		return "(1.0/0.0)"
	case math.IsInf(v, -1):
		return "(-1.0/0.0)"
	}
	s := strconv.FormatFloat(v, 'g', -1, 64)
	if !strings.ContainsAny(s, ".eE") {
		s += ".0"
	}
	if v < 0 {
		s = "(" + s + ")"
	}
	return s
}

func (e *emitter) expr(id ir.NodeID, idx []string) (string, error) {
	n := e.prog.Node(id)
	switch n.Kind {
	case ir.Identifier:
		return e.access(n, idx)
	case ir.Constant:
		return literal(n.Value), nil
	case ir.Add, ir.Sub, ir.Mul, ir.Div, ir.ScalarMul, ir.ScalarDiv, ir.Product:
		ops := ir.OperandIndices(e.prog, id, idx, nil)
		x, err := e.operand(n.Operands[0], ops[0])
		if err != nil {
			return "", err
		}
		y, err := e.operand(n.Operands[1], ops[1])
		if err != nil {
			return "", err
		}
		return fmt.Sprintf("(%s %s %s)", x, n.Kind.Operator(), y), nil
	case ir.Contraction, ir.Stack, ir.Transposition:
		return "", fmterr.Internalf("unexpected %s node %s", n.Kind, e.prog.ExprString(id))
	}
	return "", fmterr.Internalf("invalid node kind %s", n.Kind)
}

type (
	buffer struct {
		Name string
		Size int
	}

	function struct {
		Name    string
		Entry   string
		CType   string
		Params  []string
		Buffers []buffer
		Body    string
		Layout  string
	}
)

const source = `/* Generated by tensorc ({{.Layout}}-major layout). */
#include <stdlib.h>

void {{.Name}}({{join .Params ", "}}) {
{{- range .Buffers}}
  {{$.CType}} *{{.Name}} = ({{$.CType}} *)malloc({{.Size}} * sizeof({{$.CType}}));
{{- end}}
{{.Body}}
{{- range .Buffers}}
  free({{.Name}});
{{- end}}
}

void {{.Entry}}(void **args) {
  {{.Name}}({{range $i, $p := .Params}}{{if $i}}, {{end}}({{$.CType}} *)args[{{$i}}]{{end}});
}
`

func (e *emitter) function() (*runtime.CodeGen, error) {
	name := e.opts.FuncName
	if name == "" {
		name = "tensorc_" + e.prog.Name
	}
	fn := function{
		Name:   name,
		Entry:  name + "_entry",
		CType:  e.ctype,
		Body:   strings.TrimSuffix(e.body.String(), "\n"),
		Layout: e.opts.Layout.String(),
	}
	cg := &runtime.CodeGen{
		FuncName: fn.Name,
		Entry:    fn.Entry,
		DType:    e.opts.DType,
	}
	for _, sym := range e.prog.Symbols.Formals() {
		fn.Params = append(fn.Params, fmt.Sprintf("%s *%s", e.ctype, Mangle(sym.Name)))
		cg.Formals = append(cg.Formals, runtime.Formal{
			Name:   sym.Name,
			Shape:  slices.Clone(sym.Shape),
			Input:  sym.Kind.IsInput(),
			Output: sym.Kind.IsOutput(),
		})
	}
	written := make(map[string]bool)
	for _, a := range e.prog.Assignments {
		written[e.prog.Dst(a).Name] = true
	}
	for _, sym := range e.prog.Symbols.Buffers() {
		if !written[sym.Name] {
			continue
		}
		fn.Buffers = append(fn.Buffers, buffer{Name: Mangle(sym.Name), Size: sym.Shape.Size()})
	}
	var src strings.Builder
	funcs := map[string]any{"join": strings.Join}
	if err := tmpl.Exec(&src, "cemit", source, funcs, fn); err != nil {
		return nil, fmterr.Internal(err)
	}
	cg.Source = src.String()
	return cg, nil
}
