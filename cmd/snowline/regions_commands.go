package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"snowline/internal/aoi"
)

func newRegionsCommand(ctx *commandContext) *cobra.Command {
	regionsCmd := &cobra.Command{
		Use:   "regions",
		Short: "Manage monitored regions",
	}
	regionsCmd.AddCommand(newRegionsInitCommand(ctx))
	regionsCmd.AddCommand(newRegionsListCommand(ctx))
	return regionsCmd
}

func newRegionsInitCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create the configured regions in the catalog",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			result, err := aoi.Sync(cmd.Context(), store, ctx.configValue().Regions)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, name := range result.Created {
				fmt.Fprintf(out, "Created region %s\n", name)
			}
			for _, name := range result.Existing {
				fmt.Fprintf(out, "Region %s already exists\n", name)
			}
			return nil
		},
	}
}

func newRegionsListCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List regions with product summaries",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			regions, err := store.Regions(cmd.Context())
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if len(regions) == 0 {
				fmt.Fprintln(out, "No regions; run `snowline regions init`")
				return nil
			}

			rows := make([][]string, 0, len(regions))
			for _, r := range regions {
				summary, err := store.Summary(cmd.Context(), r.ID)
				if err != nil {
					return err
				}
				b := aoi.RegionBound(r)
				cloud := "-"
				if summary.Count > 0 {
					cloud = fmt.Sprintf("%s / %s / %s",
						formatPct(summary.MinCloudCover), formatPct(summary.AvgCloudCover), formatPct(summary.MaxCloudCover))
				}
				rows = append(rows, []string{
					strconv.FormatInt(r.ID, 10),
					r.Name,
					fmt.Sprintf("%.4f,%.4f .. %.4f,%.4f", b.Min.Lat(), b.Min.Lon(), b.Max.Lat(), b.Max.Lon()),
					strconv.Itoa(summary.Count),
					formatTime(summary.FirstAcquired),
					formatTime(summary.LastAcquired),
					cloud,
				})
			}
			headers := []string{"ID", "Name", "Bounds (lat,lon)", "Products", "First", "Last", "Cloud min/avg/max"}
			aligns := []columnAlignment{alignRight, alignLeft, alignLeft, alignRight, alignLeft, alignLeft, alignLeft}
			fmt.Fprintln(out, renderTable(out, headers, rows, aligns))
			return nil
		},
	}
}
