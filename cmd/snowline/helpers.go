package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"snowline/internal/batch"
)

func formatTime(t *time.Time) string {
	if t == nil || t.IsZero() {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04:05Z")
}

func formatPct(v float64) string {
	return strconv.FormatFloat(v, 'f', 1, 64) + "%"
}

func dash(s string) string {
	if strings.TrimSpace(s) == "" {
		return "-"
	}
	return s
}

// parseIDs converts positional product ids.
func parseIDs(args []string) ([]int64, error) {
	ids := make([]int64, 0, len(args))
	for _, arg := range args {
		id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
		if err != nil || id <= 0 {
			return nil, fmt.Errorf("invalid product id %q", arg)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// printSummary writes a batch summary line and a failure table when needed.
func printSummary(out io.Writer, verb string, s batch.Summary) {
	fmt.Fprintf(out, "%s: %d attempted, %d succeeded, %d failed, %d skipped\n",
		verb, s.Attempted, s.Succeeded, s.Failed, s.Skipped)
	if len(s.Failures) == 0 {
		return
	}
	rows := make([][]string, 0, len(s.Failures))
	for _, f := range s.Failures {
		rows = append(rows, []string{strconv.FormatInt(f.ProductID, 10), f.Error})
	}
	fmt.Fprintln(out, renderTable(out, []string{"Product", "Error"}, rows, []columnAlignment{alignRight, alignLeft}))
}
