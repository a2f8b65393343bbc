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
	goruntime "runtime"

	"golang.org/x/sys/cpu"
)

// NativeFlags returns the compiler flags enabling the instruction sets of the host CPU.
func NativeFlags() []string {
	switch goruntime.GOARCH {
	case "amd64":
		var flags []string
		if cpu.X86.HasAVX2 {
			flags = append(flags, "-mavx2")
		}
		if cpu.X86.HasFMA {
			flags = append(flags, "-mfma")
		}
		if cpu.X86.HasAVX512F {
			flags = append(flags, "-mavx512f")
		}
		return flags
	case "arm64":
		if cpu.ARM64.HasASIMD {
			return []string{"-mcpu=native"}
		}
	}
	return nil
}
