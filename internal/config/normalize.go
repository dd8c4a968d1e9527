package config

import (
	"fmt"
	"os"
	"strings"

	"golang.org/x/text/unicode/norm"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeProvider()
	c.normalizeWorkers()
	c.normalizeRegions()
	c.normalizeLogging()
	return nil
}

func (c *Config) normalizePaths() error {
	if value, ok := os.LookupEnv("SNOWLINE_DATA_DIR"); ok && strings.TrimSpace(value) != "" {
		c.Paths.DataDir = strings.TrimSpace(value)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}

	var err error
	if c.Paths.DataDir, err = expandPath(c.Paths.DataDir); err != nil {
		return fmt.Errorf("paths.data_dir: %w", err)
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if c.Provider.MirrorDir, err = expandPath(strings.TrimSpace(c.Provider.MirrorDir)); err != nil {
		return fmt.Errorf("provider.mirror_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeProvider() {
	c.Provider.Kind = strings.ToLower(strings.TrimSpace(c.Provider.Kind))
	if c.Provider.Kind == "" {
		c.Provider.Kind = defaultProviderKind
	}
	c.Provider.GreenBand = strings.ToUpper(strings.TrimSpace(c.Provider.GreenBand))
	if c.Provider.GreenBand == "" {
		c.Provider.GreenBand = defaultGreenBand
	}
	c.Provider.SWIRBand = strings.ToUpper(strings.TrimSpace(c.Provider.SWIRBand))
	if c.Provider.SWIRBand == "" {
		c.Provider.SWIRBand = defaultSWIRBand
	}
	if c.Provider.RequestTimeoutSeconds <= 0 {
		c.Provider.RequestTimeoutSeconds = defaultRequestTimeoutSeconds
	}
}

func (c *Config) normalizeWorkers() {
	if c.Download.Workers <= 0 {
		c.Download.Workers = 1
	}
	if c.SnowMask.Workers <= 0 {
		c.SnowMask.Workers = 1
	}
	if c.Download.BatchLimit < 0 {
		c.Download.BatchLimit = 0
	}
	if c.SnowMask.BatchLimit < 0 {
		c.SnowMask.BatchLimit = 0
	}
}

func (c *Config) normalizeRegions() {
	for i := range c.Regions {
		c.Regions[i].Name = norm.NFC.String(strings.TrimSpace(c.Regions[i].Name))
		if c.Regions[i].SizeKm == 0 {
			c.Regions[i].SizeKm = defaultRegionSizeKm
		}
	}
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
}
