package main

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"snowline/internal/catalog"
	"snowline/internal/preflight"
)

type statusReport struct {
	Database string            `json:"database"`
	DataDir  string            `json:"data_dir"`
	Counts   map[string]int    `json:"counts"`
	Checks   []preflightResult `json:"checks"`
}

type preflightResult struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
	Detail string `json:"detail"`
}

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show product counts per status and readiness checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := ctx.configValue()
			store, err := ctx.openStore()
			if err != nil {
				return err
			}
			stats, err := store.Stats(cmd.Context())
			if err != nil {
				return err
			}

			report := statusReport{
				Database: store.Path(),
				DataDir:  cfg.Paths.DataDir,
				Counts:   make(map[string]int, len(stats)),
			}
			for _, status := range catalog.AllStatuses() {
				report.Counts[string(status)] = stats[status]
			}
			for _, r := range preflight.RunAll(cmd.Context(), cfg) {
				report.Checks = append(report.Checks, preflightResult{Name: r.Name, Passed: r.Passed, Detail: r.Detail})
			}
			if jsonOut {
				return writeJSON(cmd, report)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Catalog:  %s\n", report.Database)
			fmt.Fprintf(out, "Data dir: %s\n\n", report.DataDir)

			rows := make([][]string, 0, len(report.Counts)+1)
			total := 0
			for _, status := range catalog.AllStatuses() {
				n := report.Counts[string(status)]
				total += n
				rows = append(rows, []string{string(status), strconv.Itoa(n)})
			}
			rows = append(rows, []string{"total", strconv.Itoa(total)})
			fmt.Fprintln(out, renderTable(out, []string{"Status", "Products"}, rows, []columnAlignment{alignLeft, alignRight}))

			checkRows := make([][]string, 0, len(report.Checks))
			for _, c := range report.Checks {
				checkRows = append(checkRows, []string{c.Name, passFail(c.Passed), c.Detail})
			}
			fmt.Fprintln(out, renderTable(out, []string{"Check", "Result", "Detail"}, checkRows, nil))
			return nil
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON")
	return cmd
}

func passFail(ok bool) string {
	if ok {
		return "ok"
	}
	return "FAIL"
}
