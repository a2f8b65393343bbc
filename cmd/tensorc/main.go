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

// Command tensorc compiles tensor programs into native kernels.
//
// Programs are read from TOML files. The emit command prints the generated C
// code, build compiles kernels and keeps their libraries, run executes
// programs with the values given in their files, and inspect prints the
// program after each pass of the compiler.
package main

import (
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/fatih/color"
	"github.com/gx-org/tensorc/api"
	"github.com/gx-org/tensorc/build/fmterr"
	"github.com/gx-org/tensorc/config"
	"github.com/gx-org/tensorc/emit/cemit"
	"github.com/gx-org/tensorc/tools/tcflag"
	"github.com/spf13/cobra"
)

type cli struct {
	stdout, stderr io.Writer

	configPath string
	verbose    bool
	cc         string
	flags      *[]string
	tempDir    string
	layout     *string
	dtype      *string
	logLevel   string
	fuse       bool
	coalesce   bool
	native     bool
	keepFiles  bool
	jobs       int
}

var (
	errorColor   = color.New(color.FgRed, color.Bold)
	successColor = color.New(color.FgGreen)
	nameColor    = color.New(color.FgCyan, color.Bold)
)

func newRootCmd(stdout, stderr io.Writer) *cobra.Command {
	c := &cli{stdout: stdout, stderr: stderr}
	root := &cobra.Command{
		Use:           "tensorc",
		Short:         "Compile tensor programs into native kernels",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.SetOut(stdout)
	root.SetErr(stderr)
	fs := root.PersistentFlags()
	fs.StringVar(&c.configPath, "config", "", "path of a TOML configuration file")
	fs.BoolVarP(&c.verbose, "verbose", "v", false, "print errors with their stack trace")
	fs.StringVar(&c.cc, "cc", "", "C compiler command")
	c.flags = tcflag.StringList(fs, "cflags", "extra compiler flags, comma separated")
	fs.StringVar(&c.tempDir, "temp_dir", "", "directory of the generated files")
	c.layout = tcflag.Choice(fs, "layout", "memory layout of the tensors", cemit.RowMajor.String(), cemit.ColumnMajor.String())
	c.dtype = tcflag.Choice(fs, "dtype", "data type of the elements", "float32", "float64")
	fs.StringVar(&c.logLevel, "log_level", "", "logging level (debug|info|warn|error)")
	fs.BoolVar(&c.fuse, "fuse", false, "fuse the outermost loops of assignments")
	fs.BoolVar(&c.coalesce, "coalesce", false, "compute whole tensor assignments with a single loop")
	fs.BoolVar(&c.native, "native", false, "enable the instruction sets of the host CPU")
	fs.BoolVar(&c.keepFiles, "keep_files", false, "keep the generated files")
	root.AddCommand(
		c.emitCmd(),
		c.buildCmd(),
		c.runCmd(),
		c.inspectCmd(),
	)
	return root
}

// config loads the configuration and applies the command line flags.
func (c *cli) config(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(c.configPath)
	if err != nil {
		return nil, err
	}
	fs := cmd.Flags()
	if fs.Changed("cc") {
		cfg.Compiler = c.cc
	}
	cfg.Flags = append(cfg.Flags, *c.flags...)
	if fs.Changed("temp_dir") {
		cfg.TempDir = c.tempDir
	}
	if fs.Changed("layout") {
		cfg.Layout = *c.layout
	}
	if fs.Changed("dtype") {
		cfg.DType = *c.dtype
	}
	if fs.Changed("log_level") {
		cfg.LogLevel = c.logLevel
	}
	cfg.Fuse = cfg.Fuse || c.fuse
	cfg.Coalesce = cfg.Coalesce || c.coalesce
	cfg.Native = cfg.Native || c.native
	cfg.KeepFiles = cfg.KeepFiles || c.keepFiles
	return cfg, cfg.Validate()
}

// newCompiler returns a compiler configured from the configuration and the flags.
func (c *cli) newCompiler(cmd *cobra.Command) (*config.Config, *api.Compiler, error) {
	cfg, err := c.config(cmd)
	if err != nil {
		return nil, nil, err
	}
	comp, err := c.compilerFromConfig(cfg)
	return cfg, comp, err
}

func (c *cli) compilerFromConfig(cfg *config.Config) (*api.Compiler, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(c.stderr, &slog.HandlerOptions{Level: level}))
	opts, err := cfg.Options(logger)
	if err != nil {
		return nil, err
	}
	return api.NewCompiler(opts), nil
}

func (c *cli) printError(err error) {
	errorColor.Fprint(c.stderr, "error: ")
	if c.verbose {
		fmt.Fprintf(c.stderr, "%+v\n", fmterr.ToStackTraceError(err))
		return
	}
	fmt.Fprintln(c.stderr, err)
}

func run(args []string, stdout, stderr io.Writer) int {
	root := newRootCmd(stdout, stderr)
	root.SetArgs(args)
	cmd, err := root.ExecuteC()
	if err == nil {
		return 0
	}
	c := &cli{stderr: stderr}
	if v, flagErr := cmd.Flags().GetBool("verbose"); flagErr == nil {
		c.verbose = v
	}
	c.printError(err)
	return 1
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
