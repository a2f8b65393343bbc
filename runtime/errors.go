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

package runtime

import (
	"fmt"
	"io"
	"strings"

	tcfmt "github.com/gx-org/tensorc/base/fmt"
	"github.com/pkg/errors"
)

var (
	// ErrUnboundArguments is returned when a kernel is executed before all its arguments have been bound.
	ErrUnboundArguments = errors.New("kernel arguments are not all bound")
	// ErrNotLoaded is returned when a kernel is used before being loaded or after being unloaded.
	ErrNotLoaded = errors.New("kernel is not loaded")
	// ErrUnknownArgument is returned when binding a name which is not a formal argument of a kernel.
	ErrUnknownArgument = errors.New("unknown kernel argument")
)

// BuildError is returned when the C compiler fails.
type BuildError struct {
	// Command is the compiler command line.
	Command []string
	// Output of the compiler.
	Output string
	// Source compiled by the compiler.
	Source string
	Err    error
}

func (err *BuildError) Error() string {
	return fmt.Sprintf("cannot build kernel: %s: %v\n%s", strings.Join(err.Command, " "), err.Err, tcfmt.IndentSkip(0, "  ", err.Output))
}

func (err *BuildError) Unwrap() error {
	return err.Err
}

// Format the error. The verbose form includes the line numbered source.
func (err *BuildError) Format(s fmt.State, verb rune) {
	io.WriteString(s, err.Error())
	if verb == 'v' && s.Flag('+') {
		io.WriteString(s, "\nSource:\n")
		io.WriteString(s, tcfmt.Indent(tcfmt.Number(err.Source)))
	}
}

// LoadError is returned when a shared library cannot be opened.
type LoadError struct {
	Path string
	Err  error
}

func (err *LoadError) Error() string {
	return fmt.Sprintf("cannot load %s: %v", err.Path, err.Err)
}

func (err *LoadError) Unwrap() error {
	return err.Err
}

// SymbolError is returned when the entry point of a kernel cannot be found in its library.
type SymbolError struct {
	Path   string
	Symbol string
	Err    error
}

func (err *SymbolError) Error() string {
	return fmt.Sprintf("cannot find symbol %s in %s: %v", err.Symbol, err.Path, err.Err)
}

func (err *SymbolError) Unwrap() error {
	return err.Err
}
