package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"snowline/internal/catalog"
	"snowline/internal/discovery"
	"snowline/internal/provider"
)

func newDiscoverCommand(ctx *commandContext) *cobra.Command {
	var (
		regionName string
		days       int
		maxCloud   float64
		startDate  string
		endDate    string
	)

	cmd := &cobra.Command{
		Use:   "discover",
		Short: "Search the catalog and record new scenes as pending",
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

			if !cmd.Flags().Changed("days") {
				days = cfg.Discovery.LookbackDays
			}
			if !cmd.Flags().Changed("max-cloud") {
				maxCloud = cfg.Discovery.MaxCloudCover
			}
			window, err := discoveryWindow(time.Now(), days, startDate, endDate)
			if err != nil {
				return err
			}

			svc := discovery.New(store, client, discovery.WithLogger(ctx.loggerValue()))
			var result catalog.RecordResult
			if regionName != "" {
				region, err := store.RegionByName(cmd.Context(), regionName)
				if err != nil {
					return fmt.Errorf("region %q: %w", regionName, err)
				}
				result, err = svc.Discover(cmd.Context(), region, window, maxCloud)
				if err != nil {
					return err
				}
			} else {
				result, err = svc.DiscoverAll(cmd.Context(), window, maxCloud)
				if err != nil {
					return err
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Discovered %d new products (%d already known) between %s and %s\n",
				result.Created, result.Skipped, window.Start.Format(time.DateOnly), window.End.Format(time.DateOnly))
			return nil
		},
	}

	cmd.Flags().StringVarP(&regionName, "region", "r", "", "Only search this region")
	cmd.Flags().IntVar(&days, "days", 0, "Look back this many days (default from config)")
	cmd.Flags().Float64Var(&maxCloud, "max-cloud", 0, "Maximum cloud cover percentage (default from config)")
	cmd.Flags().StringVar(&startDate, "start", "", "Window start date (YYYY-MM-DD), overrides --days")
	cmd.Flags().StringVar(&endDate, "end", "", "Window end date (YYYY-MM-DD, exclusive)")
	return cmd
}

// discoveryWindow resolves the search window. Explicit dates win over the
// lookback; a missing end means now.
func discoveryWindow(now time.Time, days int, start, end string) (provider.TimeRange, error) {
	window := discovery.Window(now, days)
	if end != "" {
		t, err := time.Parse(time.DateOnly, end)
		if err != nil {
			return provider.TimeRange{}, fmt.Errorf("invalid --end: %w", err)
		}
		window.End = t
		if start == "" {
			window.Start = t.AddDate(0, 0, -days)
		}
	}
	if start != "" {
		t, err := time.Parse(time.DateOnly, start)
		if err != nil {
			return provider.TimeRange{}, fmt.Errorf("invalid --start: %w", err)
		}
		window.Start = t
	}
	if !window.Start.Before(window.End) {
		return provider.TimeRange{}, fmt.Errorf("empty window: %s is not before %s",
			window.Start.Format(time.DateOnly), window.End.Format(time.DateOnly))
	}
	return window, nil
}
