package main

import (
	"fmt"
	"math"

	"github.com/spf13/cobra"

	"snowline/internal/batch"
	"snowline/internal/download"
	"snowline/internal/snowmask"
)

func newDownloadCommand(ctx *commandContext) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download pending products",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			client, err := ctx.newClient()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("limit") {
				limit = cfg.Download.BatchLimit
			}

			orch := download.New(store, client, cfg, download.WithLogger(ctx.loggerValue()))
			summary, err := orch.DownloadPending(cmd.Context(), limit)
			printSummary(cmd.OutOrStdout(), "Download", summary)
			return err
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum products to download (0 for all)")
	return cmd
}

func newProcessCommand(ctx *commandContext) *cobra.Command {
	var (
		limit     int
		threshold float64
		noMask    bool
	)

	cmd := &cobra.Command{
		Use:   "process [ids...]",
		Short: "Compute snow masks for downloaded products",
		Long: "Compute snow masks for downloaded products. With ids, only those products are\n" +
			"classified; processed products gain a result for a threshold they lack.",
		RunE: func(cmd *cobra.Command, args []string) error {
			ids, err := parseIDs(args)
			if err != nil {
				return err
			}
			cfg := ctx.configValue()
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			if !cmd.Flags().Changed("limit") {
				limit = cfg.SnowMask.BatchLimit
			}
			if !cmd.Flags().Changed("threshold") {
				threshold = cfg.SnowMask.Threshold
			}
			if math.IsNaN(threshold) || threshold < -1 || threshold > 1 {
				return fmt.Errorf("threshold %v outside -1..1", threshold)
			}
			persist := cfg.SnowMask.PersistMasks && !noMask

			proc := snowmask.New(store, cfg, snowmask.WithLogger(ctx.loggerValue()))
			var summary batch.Summary
			if len(ids) > 0 {
				summary, err = proc.ProcessIDs(cmd.Context(), ids, threshold, persist)
			} else {
				summary, err = proc.ProcessDownloaded(cmd.Context(), limit, threshold, persist)
			}
			printSummary(cmd.OutOrStdout(), "Process", summary)
			return err
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "Maximum products to process (0 for all)")
	cmd.Flags().Float64VarP(&threshold, "threshold", "t", 0, "NDSI snow threshold (default from config)")
	cmd.Flags().BoolVar(&noMask, "no-mask", false, "Record statistics without writing mask rasters")
	return cmd
}
