// Copyright 2021 The Go Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Command mold drives one link: it expands response files, parses flags
// into an internal/config.Config, runs internal/link.Link, and prints any
// diagnostics collected along the way before exiting with the process's
// conventional 0/1 status.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/uk0/mold/internal/config"
	"github.com/uk0/mold/internal/diag"
	"github.com/uk0/mold/internal/link"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:                "mold [flags] objfile...",
		Short:              "a drop-in replacement linker core",
		DisableFlagParsing: true, // internal/config owns flag parsing via pflag+viper
		SilenceUsage:       true,
		SilenceErrors:      true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(args)
		},
	}
	return cmd
}

func run(args []string) error {
	expanded, err := config.ExpandResponseFiles(args)
	if err != nil {
		return err
	}
	cfg, err := config.New(expanded)
	if err != nil {
		return err
	}

	bag := diag.NewBag()
	logger, closeLogger, err := diag.Logger(cfg.DiagJSON)
	if err != nil {
		return err
	}
	defer closeLogger()

	res, err := link.Link(cfg, bag)
	for _, f := range bag.Drain() {
		logger.Info(f.String())
	}
	if err != nil {
		return fmt.Errorf("mold: %w", err)
	}

	logger.Info(fmt.Sprintf("linked for %s, %d output section(s), %d thunk(s)", res.Target, len(res.Sections), res.Thunks))
	return nil
}
