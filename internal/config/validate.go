package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validatePaths(); err != nil {
		return err
	}
	if err := c.validateProvider(); err != nil {
		return err
	}
	if err := c.validateDownload(); err != nil {
		return err
	}
	if err := c.validateSnowMask(); err != nil {
		return err
	}
	if err := c.validateDiscovery(); err != nil {
		return err
	}
	if err := c.validateWorkflow(); err != nil {
		return err
	}
	return c.validateRegions()
}

func (c *Config) validatePaths() error {
	if strings.TrimSpace(c.Paths.DataDir) == "" {
		return errors.New("paths.data_dir must be set")
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		return errors.New("paths.state_dir must be set")
	}
	return nil
}

func (c *Config) validateProvider() error {
	switch c.Provider.Kind {
	case "mirror":
		if strings.TrimSpace(c.Provider.MirrorDir) == "" {
			return errors.New("provider.mirror_dir must be set when provider.kind is \"mirror\"")
		}
	default:
		return fmt.Errorf("provider.kind: unsupported value %q", c.Provider.Kind)
	}
	if c.Provider.GreenBand == c.Provider.SWIRBand {
		return errors.New("provider.green_band and provider.swir_band must differ")
	}
	if c.Provider.ResolutionMeters <= 0 {
		return errors.New("provider.resolution_meters must be positive")
	}
	return nil
}

func (c *Config) validateDownload() error {
	if c.Download.MaxAttempts <= 0 {
		return errors.New("download.max_attempts must be positive")
	}
	if c.Download.BaseDelaySeconds < 0 || c.Download.MaxDelaySeconds < 0 {
		return errors.New("download delays must not be negative")
	}
	if c.Download.MaxDelaySeconds > 0 && c.Download.MaxDelaySeconds < c.Download.BaseDelaySeconds {
		return errors.New("download.max_delay_seconds must be >= download.base_delay_seconds")
	}
	if c.Download.ClaimTimeoutSeconds <= 0 {
		return errors.New("download.claim_timeout_seconds must be positive")
	}
	return nil
}

func (c *Config) validateSnowMask() error {
	if math.IsNaN(c.SnowMask.Threshold) || c.SnowMask.Threshold < -1 || c.SnowMask.Threshold > 1 {
		return errors.New("snow_mask.threshold must be between -1 and 1")
	}
	if !(c.SnowMask.Epsilon > 0) {
		return errors.New("snow_mask.epsilon must be positive")
	}
	return nil
}

func (c *Config) validateDiscovery() error {
	if c.Discovery.MaxCloudCover < 0 || c.Discovery.MaxCloudCover > 100 {
		return errors.New("discovery.max_cloud_cover must be between 0 and 100")
	}
	if c.Discovery.LookbackDays <= 0 {
		return errors.New("discovery.lookback_days must be positive")
	}
	return nil
}

func (c *Config) validateWorkflow() error {
	if c.Workflow.PollIntervalSeconds <= 0 {
		return errors.New("workflow.poll_interval_seconds must be positive")
	}
	if c.Workflow.StaleProcessingSeconds <= 0 {
		return errors.New("workflow.stale_processing_seconds must be positive")
	}
	return nil
}

func (c *Config) validateRegions() error {
	seen := make(map[string]struct{}, len(c.Regions))
	for i, region := range c.Regions {
		if region.Name == "" {
			return fmt.Errorf("regions[%d].name must be set", i)
		}
		if strings.ContainsAny(region.Name, `/\`) || strings.ContainsRune(region.Name, 0) {
			return fmt.Errorf("regions[%d].name %q must not contain path separators", i, region.Name)
		}
		if region.Name == "." || region.Name == ".." {
			return fmt.Errorf("regions[%d].name %q is not a usable directory name", i, region.Name)
		}
		if _, ok := seen[region.Name]; ok {
			return fmt.Errorf("regions[%d].name %q is duplicated", i, region.Name)
		}
		seen[region.Name] = struct{}{}
		if region.CenterLat < -90 || region.CenterLat > 90 {
			return fmt.Errorf("regions[%d].center_lat must be between -90 and 90", i)
		}
		if region.CenterLon < -180 || region.CenterLon > 180 {
			return fmt.Errorf("regions[%d].center_lon must be between -180 and 180", i)
		}
		if region.SizeKm <= 0 {
			return fmt.Errorf("regions[%d].size_km must be positive", i)
		}
	}
	return nil
}
