package main

import (
	"github.com/spf13/cobra"

	"github.com/kittclouds/convstore/internal/metrics"
)

func newMetricsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "metrics",
		Short: "Print mutation and cache metrics in Prometheus text format",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return metrics.Write(cmd.OutOrStdout(), nil)
		},
	}
}
