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

// Package ir is the tensorc Intermediate Representation (IR).
//
// A program is an ordered list of assignments. Each assignment writes the
// result of an expression tree into a destination identifier. Nodes of the
// trees are stored in an arena owned by the program and are addressed by
// NodeID. Passes rewrite the program in place by replacing the operand slots
// of nodes.
package ir

import (
	"slices"

	"fortio.org/safecast"
	"github.com/gx-org/tensorc/base/uname"
)

type (
	// NodeID is the address of a node in the arena of a program.
	NodeID uint32

	// Node in an expression tree.
	// Fields beyond Kind, Shape, and Operands are only set for the kinds documented.
	Node struct {
		Kind Kind
		// Shape of the result of the node.
		Shape Shape
		// Operands of the node, indexed by slot.
		Operands []NodeID

		// Name of the tensor read or written by an identifier.
		Name string
		// Fixed are fixed indices on the leading axes of an identifier,
		// set when a stack is eliminated.
		Fixed []int
		// Perm is a deferred permutation of an identifier.
		// It ranges over the fixed indices followed by the axes of the node.
		Perm []Swap

		// Value of a constant.
		Value float64

		// LhsAxes and RhsAxes are the positions of the contracted axes of a contraction.
		LhsAxes, RhsAxes []int

		// Pairs swapped by a transposition.
		Pairs []Swap
	}

	// Slot addresses an operand of a node, or the root of an assignment when Parent is NoNode.
	Slot struct {
		Parent NodeID
		Index  int
	}

	// Assignment writes the result of an expression into a destination.
	Assignment struct {
		// Dst is an identifier node.
		Dst NodeID
		// Expr is the root of the expression tree.
		Expr NodeID

		// Fused is set when the assignment shares the outer loop of the program.
		Fused bool
		// FuseAxis is the axis of the result bound to the shared outer loop.
		FuseAxis int
	}

	// Fusion describes the outer loop shared by all assignments of a program.
	Fusion struct {
		Extent int
	}

	// Program is an ordered list of assignments.
	Program struct {
		Name        string
		Symbols     *Symbols
		Assignments []*Assignment
		Fusion      *Fusion

		nodes []*Node
		names *uname.Unique
	}
)

// NoNode is an invalid node ID. It is used as the parent of assignment roots.
const NoNode NodeID = ^NodeID(0)

// NewProgram returns a new empty program given a symbol table.
func NewProgram(name string, symbols *Symbols) *Program {
	p := &Program{
		Name:    name,
		Symbols: symbols,
		names:   uname.New(),
	}
	for sym := range symbols.All() {
		p.names.Register(sym.Name)
	}
	return p
}

// Node returns the node given its ID.
func (p *Program) Node(id NodeID) *Node {
	return p.nodes[id]
}

// NumNodes returns the number of nodes allocated in the arena.
func (p *Program) NumNodes() int {
	return len(p.nodes)
}

func (p *Program) add(n *Node) NodeID {
	id := safecast.MustConv[NodeID](len(p.nodes))
	if id == NoNode {
		panic("ir: ran out of node space")
	}
	p.nodes = append(p.nodes, n)
	return id
}

// NewIdent returns a new identifier node reading a tensor.
func (p *Program) NewIdent(name string, shape Shape) NodeID {
	return p.add(&Node{Kind: Identifier, Name: name, Shape: slices.Clone(shape)})
}

// NewAnnotatedIdent returns a new identifier node with fixed indices and a deferred permutation.
func (p *Program) NewAnnotatedIdent(name string, shape Shape, fixed []int, perm []Swap) NodeID {
	return p.add(&Node{
		Kind:  Identifier,
		Name:  name,
		Shape: slices.Clone(shape),
		Fixed: slices.Clone(fixed),
		Perm:  slices.Clone(perm),
	})
}

// NewConstant returns a new scalar literal.
func (p *Program) NewConstant(v float64) NodeID {
	return p.add(&Node{Kind: Constant, Value: v, Shape: Shape{}})
}

// NewBinary returns a new elementwise operation.
func (p *Program) NewBinary(kind Kind, x, y NodeID) NodeID {
	return p.add(&Node{
		Kind:     kind,
		Shape:    slices.Clone(p.nodes[x].Shape),
		Operands: []NodeID{x, y},
	})
}

// NewScalarMul returns the multiplication of a tensor by a scalar.
func (p *Program) NewScalarMul(scalar, tensor NodeID) NodeID {
	return p.add(&Node{
		Kind:     ScalarMul,
		Shape:    slices.Clone(p.nodes[tensor].Shape),
		Operands: []NodeID{scalar, tensor},
	})
}

// NewScalarDiv returns the division of a tensor by a scalar.
func (p *Program) NewScalarDiv(tensor, scalar NodeID) NodeID {
	return p.add(&Node{
		Kind:     ScalarDiv,
		Shape:    slices.Clone(p.nodes[tensor].Shape),
		Operands: []NodeID{tensor, scalar},
	})
}

// NewProduct returns the outer product of two tensors.
func (p *Program) NewProduct(x, y NodeID) NodeID {
	return p.add(&Node{
		Kind:     Product,
		Shape:    p.nodes[x].Shape.Concat(p.nodes[y].Shape),
		Operands: []NodeID{x, y},
	})
}

// NewContraction returns the contraction of two tensors over pairs of axes.
func (p *Program) NewContraction(x NodeID, xAxes []int, y NodeID, yAxes []int) NodeID {
	shape := p.nodes[x].Shape.Remove(xAxes).Concat(p.nodes[y].Shape.Remove(yAxes))
	return p.add(&Node{
		Kind:     Contraction,
		Shape:    shape,
		Operands: []NodeID{x, y},
		LhsAxes:  slices.Clone(xAxes),
		RhsAxes:  slices.Clone(yAxes),
	})
}

// NewStack returns the stack of tensors of the same shape.
func (p *Program) NewStack(members ...NodeID) NodeID {
	shape := Shape{len(members)}.Concat(p.nodes[members[0]].Shape)
	return p.add(&Node{
		Kind:     Stack,
		Shape:    shape,
		Operands: slices.Clone(members),
	})
}

// NewTransposition returns a tensor with pairs of axes swapped.
func (p *Program) NewTransposition(x NodeID, pairs []Swap) NodeID {
	return p.add(&Node{
		Kind:     Transposition,
		Shape:    p.nodes[x].Shape.Permute(pairs),
		Operands: []NodeID{x},
		Pairs:    slices.Clone(pairs),
	})
}

// Clone returns a deep copy of a tree.
func (p *Program) Clone(id NodeID) NodeID {
	n := p.nodes[id]
	c := &Node{
		Kind:    n.Kind,
		Shape:   slices.Clone(n.Shape),
		Name:    n.Name,
		Fixed:   slices.Clone(n.Fixed),
		Perm:    slices.Clone(n.Perm),
		Value:   n.Value,
		LhsAxes: slices.Clone(n.LhsAxes),
		RhsAxes: slices.Clone(n.RhsAxes),
		Pairs:   slices.Clone(n.Pairs),
	}
	for _, op := range n.Operands {
		c.Operands = append(c.Operands, p.Clone(op))
	}
	return p.add(c)
}

// Set replaces the node at a slot of an assignment.
func (p *Program) Set(a *Assignment, slot Slot, id NodeID) {
	if slot.Parent == NoNode {
		a.Expr = id
		return
	}
	p.nodes[slot.Parent].Operands[slot.Index] = id
}

// Walk visits a tree depth-first, parents before children.
// The walk does not descend into the children of a node when f returns false.
func (p *Program) Walk(root NodeID, f func(slot Slot, id NodeID) bool) {
	p.walk(Slot{Parent: NoNode}, root, f)
}

func (p *Program) walk(slot Slot, id NodeID, f func(Slot, NodeID) bool) {
	if !f(slot, id) {
		return
	}
	for i, op := range p.nodes[id].Operands {
		p.walk(Slot{Parent: id, Index: i}, op, f)
	}
}

// Idents returns the identifier nodes of a tree, in depth-first order.
func (p *Program) Idents(root NodeID) []NodeID {
	var ids []NodeID
	p.Walk(root, func(_ Slot, id NodeID) bool {
		if p.nodes[id].Kind == Identifier {
			ids = append(ids, id)
		}
		return true
	})
	return ids
}

// Reads returns true if a tree reads a given tensor.
func (p *Program) Reads(root NodeID, name string) bool {
	for _, id := range p.Idents(root) {
		if p.nodes[id].Name == name {
			return true
		}
	}
	return false
}

// Dst returns the destination identifier of an assignment.
func (p *Program) Dst(a *Assignment) *Node {
	return p.nodes[a.Dst]
}

// NewAssignment returns a new assignment given its destination and expression.
func NewAssignment(dst, expr NodeID) *Assignment {
	return &Assignment{Dst: dst, Expr: expr}
}

// Insert assignments at a given position.
func (p *Program) Insert(i int, asgs ...*Assignment) {
	p.Assignments = slices.Insert(p.Assignments, i, asgs...)
}

// Replace the assignment at a given position by a list of assignments.
func (p *Program) Replace(i int, asgs ...*Assignment) {
	p.Assignments = slices.Replace(p.Assignments, i, i+1, asgs...)
}

// Synthesize declares a new tensor with a fresh name.
func (p *Program) Synthesize(prefix string, shape Shape) *Symbol {
	sym := &Symbol{
		Name:  p.names.Fresh(prefix),
		Shape: slices.Clone(shape),
		Kind:  Synthesized,
	}
	p.Symbols.Declare(sym)
	return sym
}
