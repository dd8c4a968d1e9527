package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	DataDir  string `toml:"data_dir"`
	StateDir string `toml:"state_dir"`
	LogDir   string `toml:"log_dir"`
}

// Provider selects and tunes the catalog client.
type Provider struct {
	Kind                  string  `toml:"kind"`
	MirrorDir             string  `toml:"mirror_dir"`
	GreenBand             string  `toml:"green_band"`
	SWIRBand              string  `toml:"swir_band"`
	ResolutionMeters      float64 `toml:"resolution_meters"`
	RequestTimeoutSeconds int     `toml:"request_timeout_seconds"`
}

// Download contains retry and concurrency settings for band fetches.
type Download struct {
	MaxAttempts         int `toml:"max_attempts"`
	BaseDelaySeconds    int `toml:"base_delay_seconds"`
	MaxDelaySeconds     int `toml:"max_delay_seconds"`
	ClaimTimeoutSeconds int `toml:"claim_timeout_seconds"`
	Workers             int `toml:"workers"`
	BatchLimit          int `toml:"batch_limit"`
}

// SnowMask contains NDSI classification settings.
type SnowMask struct {
	Threshold    float64 `toml:"threshold"`
	Epsilon      float64 `toml:"epsilon"`
	PersistMasks bool    `toml:"persist_masks"`
	Workers      int     `toml:"workers"`
	BatchLimit   int     `toml:"batch_limit"`
}

// Discovery contains catalog search filters.
type Discovery struct {
	MaxCloudCover float64 `toml:"max_cloud_cover"`
	LookbackDays  int     `toml:"lookback_days"`
}

// Workflow contains configuration for the long-running pipeline loop.
type Workflow struct {
	PollIntervalSeconds    int `toml:"poll_interval_seconds"`
	StaleProcessingSeconds int `toml:"stale_processing_seconds"`
}

// Metrics controls the optional Prometheus endpoint.
type Metrics struct {
	Bind string `toml:"bind"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format string `toml:"format"`
	Level  string `toml:"level"`
}

// Region is a monitored area of interest centered on a point.
type Region struct {
	Name      string  `toml:"name"`
	CenterLat float64 `toml:"center_lat"`
	CenterLon float64 `toml:"center_lon"`
	SizeKm    float64 `toml:"size_km"`
}

// Config encapsulates all configuration values for snowline.
//
// Configuration sections by subsystem:
//   - Paths: artifact root, catalog database and log locations
//   - Provider: catalog client selection, band ids and resolution
//   - Download: fetch retry policy and worker pool sizing
//   - SnowMask: NDSI threshold, epsilon and mask persistence
//   - Discovery: cloud cover filter and search window
//   - Workflow: pipeline loop timing
//   - Metrics: Prometheus bind address
//   - Logging: log format and level
//   - Regions: areas of interest seeded into the catalog
type Config struct {
	Paths     Paths     `toml:"paths"`
	Provider  Provider  `toml:"provider"`
	Download  Download  `toml:"download"`
	SnowMask  SnowMask  `toml:"snow_mask"`
	Discovery Discovery `toml:"discovery"`
	Workflow  Workflow  `toml:"workflow"`
	Metrics   Metrics   `toml:"metrics"`
	Logging   Logging   `toml:"logging"`
	Regions   []Region  `toml:"regions"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		// Regions from the file replace the defaults rather than append.
		cfg.Regions = nil
		decoder := toml.NewDecoder(file)
		decoder.DisallowUnknownFields()
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
		if len(cfg.Regions) == 0 {
			cfg.Regions = defaultRegions()
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("snowline.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates the data, state and log directories.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.DataDir, c.Paths.StateDir, c.Paths.LogDir} {
		if strings.TrimSpace(dir) == "" {
			continue
		}
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// DatabasePath returns the location of the catalog database.
func (c *Config) DatabasePath() string {
	return filepath.Join(c.Paths.StateDir, "catalog.db")
}

// LockPath returns the single-instance lock used by the pipeline loop.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "snowline.lock")
}

// BaseDelay returns the first retry delay.
func (d Download) BaseDelay() time.Duration {
	return time.Duration(d.BaseDelaySeconds) * time.Second
}

// MaxDelay returns the retry delay ceiling.
func (d Download) MaxDelay() time.Duration {
	return time.Duration(d.MaxDelaySeconds) * time.Second
}

// ClaimTimeout returns how long a download claim blocks other workers.
func (d Download) ClaimTimeout() time.Duration {
	return time.Duration(d.ClaimTimeoutSeconds) * time.Second
}

// RequestTimeout returns the per-attempt catalog client timeout.
func (p Provider) RequestTimeout() time.Duration {
	return time.Duration(p.RequestTimeoutSeconds) * time.Second
}

// Bands returns the band ids in artifact order.
func (p Provider) Bands() []string {
	return []string{p.GreenBand, p.SWIRBand}
}

// PollInterval returns the wait between pipeline cycles.
func (w Workflow) PollInterval() time.Duration {
	return time.Duration(w.PollIntervalSeconds) * time.Second
}

// StaleProcessingAfter returns the age after which a processing unit is reclaimed.
func (w Workflow) StaleProcessingAfter() time.Duration {
	return time.Duration(w.StaleProcessingSeconds) * time.Second
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}
