package preflight

import (
	"context"
	"fmt"
	"strings"

	"snowline/internal/config"
)

// MinFreeBytes is the free space below which the data directory check fails.
const MinFreeBytes = 512 << 20

// Result reports the outcome of a single preflight check.
type Result struct {
	Name   string
	Passed bool
	Detail string
}

// RunAll executes all applicable preflight checks for the given config.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}

	results := []Result{
		CheckDirectoryAccess("Data directory", cfg.Paths.DataDir),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckFreeSpace("Data volume", cfg.Paths.DataDir, MinFreeBytes),
	}
	if strings.EqualFold(cfg.Provider.Kind, "mirror") {
		results = append(results, CheckMirror(ctx, cfg.Provider.MirrorDir))
	}
	return results
}

// Failures joins the detail of every failed result, or returns nil when all
// passed.
func Failures(results []Result) error {
	var failures []string
	for _, r := range results {
		if !r.Passed {
			failures = append(failures, fmt.Sprintf("%s: %s", r.Name, r.Detail))
		}
	}
	if len(failures) == 0 {
		return nil
	}
	return fmt.Errorf("preflight checks failed: %s", strings.Join(failures, "; "))
}
