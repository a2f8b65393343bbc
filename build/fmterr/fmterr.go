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

// Package fmterr formats errors reported by the compiler.
//
// Two families of errors are distinguished: errors in the input program,
// which are attached to the statement in which they occur, and internal errors
// which signal a violated invariant, that is a bug in the compiler.
package fmterr

import (
	"fmt"

	"github.com/pkg/errors"
)

type (
	internalError struct {
		err error
	}

	stmtError struct {
		index int
		dst   string
		err   error
	}
)

// Internal marks an error as internal.
func Internal(err error) error {
	if err == nil {
		return nil
	}
	if IsInternal(err) {
		return err
	}
	return internalError{err: err}
}

// Internalf returns a formatted internal error.
func Internalf(format string, a ...any) error {
	return Internal(errors.Errorf(format, a...))
}

// IsInternal returns true if the error, or any error it wraps, has been marked as internal.
func IsInternal(err error) bool {
	var internal internalError
	return errors.As(err, &internal)
}

func (err internalError) Error() string {
	return "tensorc internal error. This is a bug in tensorc. Please report it. Error:\n" + err.err.Error()
}

func (err internalError) Unwrap() error {
	return err.err
}

func (err internalError) Format(s fmt.State, verb rune) {
	format(err, s, verb)
}

// Stmt attaches an error to a statement of a program.
func Stmt(index int, dst string, err error) error {
	if err == nil {
		return nil
	}
	return stmtError{index: index, dst: dst, err: err}
}

// Stmtf returns a formatted error attached to a statement.
func Stmtf(index int, dst string, format string, a ...any) error {
	return Stmt(index, dst, errors.Errorf(format, a...))
}

func (err stmtError) Error() string {
	return fmt.Sprintf("statement %d (%s): %s", err.index, err.dst, err.err.Error())
}

func (err stmtError) Unwrap() error {
	return err.err
}

func (err stmtError) Format(s fmt.State, verb rune) {
	format(err, s, verb)
}
