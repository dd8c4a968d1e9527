package testsupport

import (
	"path/filepath"
	"testing"

	"snowline/internal/config"
)

// ConfigOption allows callers to customize the generated test configuration.
type ConfigOption func(*configBuilder)

type configBuilder struct {
	t       testing.TB
	baseDir string
	cfg     *config.Config
}

// NewConfig produces a config seeded with unique temp directories per test.
// Retry delays are zeroed out so failing fetches do not slow tests down.
func NewConfig(t testing.TB, opts ...ConfigOption) *config.Config {
	t.Helper()

	base := t.TempDir()
	cfgVal := config.Default()
	cfgVal.Paths.DataDir = filepath.Join(base, "data")
	cfgVal.Paths.StateDir = filepath.Join(base, "state")
	cfgVal.Paths.LogDir = filepath.Join(base, "logs")
	cfgVal.Provider.MirrorDir = filepath.Join(base, "mirror")
	cfgVal.Download.BaseDelaySeconds = 0
	cfgVal.Download.MaxDelaySeconds = 0
	cfgVal.Download.Workers = 1
	cfgVal.SnowMask.Workers = 1

	builder := &configBuilder{
		t:       t,
		baseDir: base,
		cfg:     &cfgVal,
	}
	for _, opt := range opts {
		opt(builder)
	}
	if err := builder.cfg.EnsureDirectories(); err != nil {
		t.Fatalf("ensure directories: %v", err)
	}
	return builder.cfg
}

// WithWorkers sets both worker pools to n.
func WithWorkers(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Download.Workers = n
		b.cfg.SnowMask.Workers = n
	}
}

// WithMaxAttempts overrides the download retry budget.
func WithMaxAttempts(n int) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.Download.MaxAttempts = n
	}
}

// WithThreshold overrides the default NDSI threshold.
func WithThreshold(threshold float64) ConfigOption {
	return func(b *configBuilder) {
		b.cfg.SnowMask.Threshold = threshold
	}
}

// BaseDir returns the root temp directory backing the generated config.
func BaseDir(cfg *config.Config) string {
	return filepath.Dir(cfg.Paths.DataDir)
}
