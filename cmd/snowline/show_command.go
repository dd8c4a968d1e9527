package main

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"snowline/internal/artifacts"
	"snowline/internal/catalog"
)

type showOutput struct {
	ID          int64        `json:"id"`
	ExternalID  string       `json:"external_id"`
	Region      string       `json:"region"`
	AcquiredAt  string       `json:"acquired_at"`
	CloudCover  float64      `json:"cloud_cover_pct"`
	Status      string       `json:"status"`
	LocalPath   string       `json:"local_path,omitempty"`
	FileSize    int64        `json:"file_size,omitempty"`
	Attempts    int          `json:"attempts"`
	LastError   string       `json:"last_error,omitempty"`
	CompletedAt string       `json:"completed_at,omitempty"`
	Masks       []maskOutput `json:"masks"`
}

type maskOutput struct {
	Threshold   float64 `json:"threshold"`
	SnowPixels  int64   `json:"snow_pixels"`
	TotalPixels int64   `json:"total_pixels"`
	SnowPct     float64 `json:"snow_pct"`
	MaskPath    string  `json:"mask_path,omitempty"`
}

func newShowCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "show <id|external-id>",
		Short: "Show one product with its download state and mask results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			ref := strings.TrimSpace(args[0])
			var entry *catalog.Entry
			if id, perr := strconv.ParseInt(ref, 10, 64); perr == nil {
				entry, err = store.Entry(cmd.Context(), id)
			} else {
				entry, err = store.EntryByExternalID(cmd.Context(), ref)
			}
			if errors.Is(err, catalog.ErrNotFound) {
				return fmt.Errorf("product %s not found", ref)
			}
			if err != nil {
				return err
			}
			masks, err := store.MaskResults(cmd.Context(), entry.Product.ID)
			if err != nil {
				return err
			}

			view := showOutput{
				ID:         entry.Product.ID,
				ExternalID: entry.Product.ExternalID,
				Region:     entry.RegionName,
				AcquiredAt: formatTime(&entry.Product.AcquiredAt),
				CloudCover: entry.Product.CloudCoverPct,
				Status:     string(entry.State.Status),
				LocalPath:  entry.State.LocalPath,
				FileSize:   entry.State.FileSize,
				Attempts:   entry.State.Attempts,
				LastError:  entry.State.LastError,
				Masks:      make([]maskOutput, 0, len(masks)),
			}
			if entry.State.CompletedAt != nil {
				view.CompletedAt = formatTime(entry.State.CompletedAt)
			}
			for _, m := range masks {
				view.Masks = append(view.Masks, maskOutput{
					Threshold:   m.Threshold,
					SnowPixels:  m.SnowPixels,
					TotalPixels: m.TotalPixels,
					SnowPct:     m.SnowPct,
					MaskPath:    m.MaskPath,
				})
			}
			if jsonOut {
				return writeJSON(cmd, view)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Product:     %d (%s)\n", view.ID, view.ExternalID)
			fmt.Fprintf(out, "Region:      %s\n", view.Region)
			fmt.Fprintf(out, "Acquired:    %s\n", view.AcquiredAt)
			fmt.Fprintf(out, "Cloud cover: %s\n", formatPct(view.CloudCover))
			fmt.Fprintf(out, "Status:      %s\n", view.Status)
			fmt.Fprintf(out, "Attempts:    %d\n", view.Attempts)
			fmt.Fprintf(out, "Raw raster:  %s\n", dash(view.LocalPath))
			if view.LastError != "" {
				fmt.Fprintf(out, "Last error:  %s\n", view.LastError)
			}
			if len(view.Masks) == 0 {
				fmt.Fprintln(out, "Masks:       none")
				return nil
			}
			rows := make([][]string, 0, len(view.Masks))
			for _, m := range view.Masks {
				rows = append(rows, []string{
					artifacts.FormatThreshold(m.Threshold),
					fmt.Sprintf("%d / %d", m.SnowPixels, m.TotalPixels),
					formatPct(m.SnowPct),
					dash(m.MaskPath),
				})
			}
			fmt.Fprintln(out, renderTable(out, []string{"Threshold", "Snow pixels", "Snow", "Mask"}, rows,
				[]columnAlignment{alignRight, alignRight, alignRight, alignLeft}))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}
