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

// Package fmt provides functions to format text for humans.
package fmt

import (
	"fmt"
	"math"
	"slices"
	"strings"
)

// Number prefixes each line of a text with its line number.
// Line numbers are padded so that all lines are aligned.
func Number(x string) string {
	lines := slices.Collect(strings.Lines(x))
	numDigits := int(math.Log10(float64(len(lines)))) + 1
	fmtString := fmt.Sprintf("%%0%dd %%s", numDigits)
	var s strings.Builder
	for i, line := range lines {
		s.WriteString(fmt.Sprintf(fmtString, i+1, line))
	}
	return s.String()
}

// IndentSkip indents all the lines of a text with a given prefix, except the first skip lines.
func IndentSkip(skip int, prefix, x string) string {
	var y strings.Builder
	n := 0
	for line := range strings.Lines(x) {
		if n >= skip && strings.TrimSpace(line) != "" {
			y.WriteString(prefix)
		}
		y.WriteString(line)
		n++
	}
	return y.String()
}

// Indent all the lines of a text with a tab.
func Indent(x string) string {
	return IndentSkip(0, "\t", x)
}
