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

package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sort"
	"strings"

	"github.com/gx-org/tensorc/build/builder"
	"github.com/gx-org/tensorc/build/passes/loopfuse"
	"github.com/gx-org/tensorc/build/typed/typedtoml"
	"github.com/spf13/cobra"
	"golang.org/x/exp/maps"
	"golang.org/x/sync/errgroup"
)

func readFiles(paths []string) ([]*typedtoml.File, error) {
	files := make([]*typedtoml.File, len(paths))
	for i, path := range paths {
		f, err := typedtoml.DecodeFile(path)
		if err != nil {
			return nil, err
		}
		files[i] = f
	}
	return files, nil
}

// forEachFile calls f concurrently for each file, with at most jobs calls running at the same time.
func forEachFile(ctx context.Context, jobs int, files []*typedtoml.File, f func(ctx context.Context, i int, file *typedtoml.File) error) error {
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(jobs, max(len(files), 1)))
	for i, file := range files {
		g.Go(func() error {
			select {
			case <-gctx.Done():
				return gctx.Err()
			default:
			}
			return f(gctx, i, file)
		})
	}
	return g.Wait()
}

func (c *cli) emitCmd() *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "emit FILE...",
		Short: "Print the C code of programs",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, comp, err := c.newCompiler(cmd)
			if err != nil {
				return err
			}
			files, err := readFiles(args)
			if err != nil {
				return err
			}
			for _, file := range files {
				cg, err := comp.Emit(file.Program)
				if err != nil {
					return err
				}
				if out == "" {
					fmt.Fprint(c.stdout, cg.Source)
					continue
				}
				path := filepath.Join(out, file.Program.Name+".c")
				if err := os.WriteFile(path, []byte(cg.Source), 0o644); err != nil {
					return err
				}
				successColor.Fprintf(c.stdout, "%s: %s\n", file.Program.Name, path)
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&out, "out", "o", "", "directory where the C files are written instead of the standard output")
	return cmd
}

func (c *cli) buildCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "build FILE...",
		Short: "Build the kernels of programs and write their manifests",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := c.config(cmd)
			if err != nil {
				return err
			}
			// Built kernels are reopened from their manifest: their files are kept.
			cfg.KeepFiles = true
			comp, err := c.compilerFromConfig(cfg)
			if err != nil {
				return err
			}
			files, err := readFiles(args)
			if err != nil {
				return err
			}
			manifests := make([]string, len(files))
			if err := forEachFile(cmd.Context(), c.jobs, files, func(_ context.Context, i int, file *typedtoml.File) error {
				k, err := comp.Build(file.Program)
				if err != nil {
					return err
				}
				manifests[i], err = k.SaveManifest()
				return err
			}); err != nil {
				return err
			}
			for i, file := range files {
				successColor.Fprintf(c.stdout, "%s: %s\n", file.Program.Name, manifests[i])
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&c.jobs, "jobs", "j", 0, "maximum number of kernels built concurrently")
	return cmd
}

func (c *cli) runCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run FILE...",
		Short: "Run programs with the inputs given in their files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, comp, err := c.newCompiler(cmd)
			if err != nil {
				return err
			}
			files, err := readFiles(args)
			if err != nil {
				return err
			}
			results := make([]map[string][]float64, len(files))
			if err := forEachFile(cmd.Context(), c.jobs, files, func(_ context.Context, i int, file *typedtoml.File) error {
				var err error
				results[i], err = comp.Run(file.Program, file.Inputs)
				return err
			}); err != nil {
				return err
			}
			for i, file := range files {
				nameColor.Fprintln(c.stdout, file.Program.Name)
				names := maps.Keys(results[i])
				sort.Strings(names)
				for _, name := range names {
					decl, _ := file.Program.Decl(name)
					fmt.Fprintf(c.stdout, "  %s%s = %s\n", name, decl.Shape, formatValues(results[i][name]))
				}
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&c.jobs, "jobs", "j", 0, "maximum number of programs run concurrently")
	return cmd
}

func formatValues(vals []float64) string {
	ss := make([]string, len(vals))
	for i, v := range vals {
		ss[i] = fmt.Sprint(v)
	}
	return "[" + strings.Join(ss, " ") + "]"
}

func (c *cli) inspectCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "inspect FILE",
		Short: "Print a program after each pass of the compiler",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, comp, err := c.newCompiler(cmd)
			if err != nil {
				return err
			}
			file, err := typedtoml.DecodeFile(args[0])
			if err != nil {
				return err
			}
			nameColor.Fprintln(c.stdout, "# typed")
			fmt.Fprint(c.stdout, file.Program)
			prog, err := builder.Build(file.Program)
			if err != nil {
				return err
			}
			nameColor.Fprintln(c.stdout, "# build")
			fmt.Fprint(c.stdout, prog)
			for _, pass := range comp.Passes() {
				if err := pass.Run(prog); err != nil {
					return err
				}
				nameColor.Fprintf(c.stdout, "# %s\n", pass.Name)
				fmt.Fprint(c.stdout, prog)
			}
			nameColor.Fprintln(c.stdout, "# symbols")
			fmt.Fprint(c.stdout, prog.Symbols)
			nameColor.Fprintln(c.stdout, "# loops")
			for _, a := range prog.Assignments {
				fmt.Fprintf(c.stdout, "%s: coalescible=%v\n", prog.Dst(a).Name, loopfuse.Coalescible(prog, a))
			}
			return nil
		},
	}
}
