package main

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"scooterlab/internal/report"
)

func newReportCommand() *cobra.Command {
	var dir, format string
	c := &cobra.Command{
		Use:   "report",
		Short: "Compare saved server round-trip results across transports",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			stats, err := report.Load(dir, slog.Default())
			if err != nil {
				return err
			}
			r := report.Build(stats)
			switch format {
			case "table":
				return report.WriteTable(cmd.OutOrStdout(), r)
			case "yaml":
				return report.WriteYAML(cmd.OutOrStdout(), r)
			default:
				return fmt.Errorf("invalid format %q (allowed: table, yaml)", format)
			}
		},
	}
	c.Flags().StringVarP(&dir, "dir", "d", ".", "directory holding results_*_server.csv")
	c.Flags().StringVarP(&format, "format", "f", "table", "output format: table or yaml")
	return c
}
