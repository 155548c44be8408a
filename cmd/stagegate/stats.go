// Copyright 2026 Stefan Prodan.
// SPDX-License-Identifier: AGPL-3.0

package main

import (
	"fmt"
	"io"
	"maps"
	"slices"
	"strconv"

	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/stagegate/stagegate/internal/store"
	"github.com/stagegate/stagegate/internal/web/config"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Print the visitor statistics from the data directory",
	Args:  cobra.NoArgs,
	RunE:  statsCmdRun,
}

type statsFlags struct {
	dataDir string
	days    int
}

var statsArgs = statsFlags{days: 7}

func init() {
	statsCmd.Flags().StringVar(&statsArgs.dataDir, "data-dir", "",
		"The data directory. Overrides the dataDir of the configuration.")
	statsCmd.Flags().IntVar(&statsArgs.days, "days", statsArgs.days,
		"The number of most recent days to list.")
	rootCmd.AddCommand(statsCmd)
}

func statsCmdRun(cmd *cobra.Command, args []string) error {
	dataDir := statsArgs.dataDir
	if dataDir == "" {
		conf, err := config.Load(rootArgs.configFile)
		if err != nil {
			return err
		}
		dataDir = conf.DataDir
	}

	counter, err := store.ReadVisitors(dataDir)
	if err != nil {
		return err
	}

	w := rootCmd.OutOrStdout()
	if _, err := fmt.Fprintf(w, "total visits: %d\nunique visitors: %d\n\n",
		counter.TotalVisits, counter.UniqueVisitors); err != nil {
		return fmt.Errorf("failed to print stats: %w", err)
	}

	days := slices.Sorted(maps.Keys(counter.DailyStats))
	slices.Reverse(days)
	if statsArgs.days > 0 && len(days) > statsArgs.days {
		days = days[:statsArgs.days]
	}

	rows := make([][]string, 0, len(days))
	for _, day := range days {
		d := counter.DailyStats[day]
		rows = append(rows, []string{day, strconv.Itoa(d.Visits), strconv.Itoa(d.UniqueVisitors)})
	}
	printTable(w, []string{"day", "visits", "unique"}, rows)
	return nil
}

func printTable(writer io.Writer, header []string, rows [][]string) {
	table := tablewriter.NewWriter(writer)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetAutoFormatHeaders(true)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("\t")
	table.SetNoWhiteSpace(true)
	table.AppendBulk(rows)
	table.Render()
}
