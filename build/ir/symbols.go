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

package ir

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gx-org/tensorc/base/ordered"
)

type (
	// SymbolKind classifies a name of a program.
	SymbolKind uint8

	// Symbol is a tensor declared in a program.
	Symbol struct {
		Name  string
		Shape Shape
		Kind  SymbolKind
	}

	// Symbols maps names to their declaration, in declaration order.
	Symbols struct {
		syms *ordered.Map[string, *Symbol]
	}
)

// Kinds of symbols. Input and Output can be combined.
const (
	Local SymbolKind = 0

	Input SymbolKind = 1 << (iota - 1)
	Output
	Synthesized
)

// InOut is a tensor both read and written by a program.
const InOut = Input | Output

// IsInput returns true if the tensor is provided by the caller.
func (k SymbolKind) IsInput() bool { return k&Input != 0 }

// IsOutput returns true if the tensor is returned to the caller.
func (k SymbolKind) IsOutput() bool { return k&Output != 0 }

// IsFormal returns true if the tensor is a formal argument of the kernel.
func (k SymbolKind) IsFormal() bool { return k&InOut != 0 }

// IsSynthesized returns true if the tensor has been introduced by a pass.
func (k SymbolKind) IsSynthesized() bool { return k&Synthesized != 0 }

// String representation of the kind.
func (k SymbolKind) String() string {
	switch {
	case k == Local:
		return "local"
	case k == Synthesized:
		return "synthesized"
	case k == InOut:
		return "inout"
	case k == Input:
		return "input"
	case k == Output:
		return "output"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// NewSymbols returns an empty symbol table.
func NewSymbols() *Symbols {
	return &Symbols{syms: ordered.NewMap[string, *Symbol]()}
}

// Declare a symbol. Declaring a name twice replaces the previous declaration.
func (s *Symbols) Declare(sym *Symbol) {
	s.syms.Store(sym.Name, sym)
}

// Lookup a symbol given its name.
func (s *Symbols) Lookup(name string) (*Symbol, bool) {
	return s.syms.Load(name)
}

// All iterates over all the symbols in declaration order.
func (s *Symbols) All() func(func(*Symbol) bool) {
	return s.syms.Values()
}

// Len returns the number of symbols.
func (s *Symbols) Len() int {
	return s.syms.Size()
}

// Formals returns the formal arguments of the kernel:
// every input in declaration order, followed by every output that is not an input.
func (s *Symbols) Formals() []*Symbol {
	var formals []*Symbol
	for sym := range s.All() {
		if sym.Kind.IsInput() {
			formals = append(formals, sym)
		}
	}
	for sym := range s.All() {
		if sym.Kind.IsOutput() && !sym.Kind.IsInput() {
			formals = append(formals, sym)
		}
	}
	return formals
}

// Buffers returns the tensors allocated by the kernel itself, that is locals and synthesized tensors.
func (s *Symbols) Buffers() []*Symbol {
	var bufs []*Symbol
	for sym := range s.All() {
		if !sym.Kind.IsFormal() {
			bufs = append(bufs, sym)
		}
	}
	return bufs
}

// Clone returns a deep copy of the table.
func (s *Symbols) Clone() *Symbols {
	r := NewSymbols()
	for sym := range s.All() {
		r.Declare(&Symbol{Name: sym.Name, Shape: slices.Clone(sym.Shape), Kind: sym.Kind})
	}
	return r
}

// String representation of the symbol.
func (sym *Symbol) String() string {
	return fmt.Sprintf("%s %s %s", sym.Kind, sym.Name, sym.Shape)
}

// String representation of the table.
func (s *Symbols) String() string {
	var b strings.Builder
	for sym := range s.All() {
		b.WriteString(sym.String())
		b.WriteString("\n")
	}
	return b.String()
}

// Remove a symbol from the table.
func (s *Symbols) Remove(name string) {
	s.syms.Delete(name)
}
