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

package fmterr

import (
	"fmt"
	"io"

	"github.com/pkg/errors"
)

// stackTracer is implemented by errors created by github.com/pkg/errors.
type stackTracer interface {
	StackTrace() errors.StackTrace
}

type withTrace struct {
	error
}

// ToStackTraceError wraps an error such that %+v prints the stack trace
// of the first error in the chain which recorded one.
func ToStackTraceError(err error) error {
	if err == nil {
		return nil
	}
	return withTrace{error: err}
}

func (err withTrace) Unwrap() error {
	return err.error
}

func (err withTrace) Format(s fmt.State, verb rune) {
	switch {
	case verb == 'q':
		fmt.Fprintf(s, "%q", err.Error())
	case verb == 'v' && s.Flag('+'):
		io.WriteString(s, err.Error())
		var st stackTracer
		if errors.As(err.error, &st) {
			fmt.Fprintf(s, "\nError generated at:%+v\n", st.StackTrace())
		}
	default:
		io.WriteString(s, err.Error())
	}
}

func format(err error, s fmt.State, verb rune) {
	withTrace{error: err}.Format(s, verb)
}
