// Copyright 2026 Stefan Prodan.
// SPDX-License-Identifier: AGPL-3.0

package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stagegate/stagegate/internal/web/config"
)

var validateCmd = &cobra.Command{
	Use:   "validate",
	Short: "Validate the configuration file",
	Args:  cobra.NoArgs,
	RunE:  validateCmdRun,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func validateCmdRun(cmd *cobra.Command, args []string) error {
	conf, err := config.Load(rootArgs.configFile)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(rootCmd.OutOrStdout(), "✔ configuration is valid (%s)\n", conf.Version)
	return err
}
