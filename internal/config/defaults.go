package config

const (
	defaultConfigPath             = "~/.config/snowline/config.toml"
	defaultDataDir                = "~/.local/share/snowline/data"
	defaultStateDir               = "~/.local/share/snowline"
	defaultLogDir                 = "~/.local/share/snowline/logs"
	defaultMirrorDir              = "~/.local/share/snowline/mirror"
	defaultProviderKind           = "mirror"
	defaultGreenBand              = "B03"
	defaultSWIRBand               = "B11"
	defaultResolutionMeters       = 10.0
	defaultRequestTimeoutSeconds  = 60
	defaultMaxAttempts            = 3
	defaultBaseDelaySeconds       = 2
	defaultMaxDelaySeconds        = 30
	defaultClaimTimeoutSeconds    = 900
	defaultDownloadWorkers        = 2
	defaultSnowThreshold          = 0.4
	defaultEpsilon                = 1e-8
	defaultSnowMaskWorkers        = 2
	defaultMaxCloudCover          = 20.0
	defaultLookbackDays           = 30
	defaultPollIntervalSeconds    = 300
	defaultStaleProcessingSeconds = 3600
	defaultLogFormat              = "console"
	defaultLogLevel               = "info"
	defaultRegionSizeKm           = 10.0
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			DataDir:  defaultDataDir,
			StateDir: defaultStateDir,
			LogDir:   defaultLogDir,
		},
		Provider: Provider{
			Kind:                  defaultProviderKind,
			MirrorDir:             defaultMirrorDir,
			GreenBand:             defaultGreenBand,
			SWIRBand:              defaultSWIRBand,
			ResolutionMeters:      defaultResolutionMeters,
			RequestTimeoutSeconds: defaultRequestTimeoutSeconds,
		},
		Download: Download{
			MaxAttempts:         defaultMaxAttempts,
			BaseDelaySeconds:    defaultBaseDelaySeconds,
			MaxDelaySeconds:     defaultMaxDelaySeconds,
			ClaimTimeoutSeconds: defaultClaimTimeoutSeconds,
			Workers:             defaultDownloadWorkers,
		},
		SnowMask: SnowMask{
			Threshold:    defaultSnowThreshold,
			Epsilon:      defaultEpsilon,
			PersistMasks: true,
			Workers:      defaultSnowMaskWorkers,
		},
		Discovery: Discovery{
			MaxCloudCover: defaultMaxCloudCover,
			LookbackDays:  defaultLookbackDays,
		},
		Workflow: Workflow{
			PollIntervalSeconds:    defaultPollIntervalSeconds,
			StaleProcessingSeconds: defaultStaleProcessingSeconds,
		},
		Logging: Logging{
			Format: defaultLogFormat,
			Level:  defaultLogLevel,
		},
		Regions: defaultRegions(),
	}
}

func defaultRegions() []Region {
	return []Region{
		{Name: "Ben Nevis", CenterLat: 56.7969, CenterLon: -5.0036, SizeKm: defaultRegionSizeKm},
		{Name: "Ben Macdui", CenterLat: 57.0704, CenterLon: -3.6691, SizeKm: defaultRegionSizeKm},
	}
}
