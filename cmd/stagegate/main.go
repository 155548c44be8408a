// Copyright 2026 Stefan Prodan.
// SPDX-License-Identifier: AGPL-3.0

package main

import (
	"os"

	"github.com/fluxcd/pkg/runtime/logger"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	VERSION = "0.0.0-dev.0"
)

var rootCmd = &cobra.Command{
	Use:               "stagegate",
	Version:           VERSION,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
	Short:             "Staged script delivery gate with a real-time hub",
}

type rootFlags struct {
	configFile string
	logOptions logger.Options
}

var rootArgs rootFlags

func init() {
	rootCmd.PersistentFlags().StringVar(&rootArgs.configFile, "config", "",
		"Path to the YAML configuration file. Defaults apply when unset.")
	bindLogFlags(rootCmd.PersistentFlags(), &rootArgs.logOptions)
	rootCmd.SetOut(os.Stdout)
}

// bindLogFlags registers the logger flags on the cobra flag set.
func bindLogFlags(fs *pflag.FlagSet, opts *logger.Options) {
	opts.BindFlags(fs)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		rootCmd.PrintErrf("✗ %v\n", err)
		os.Exit(1)
	}
}
