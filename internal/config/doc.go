// Package config loads, normalizes, and validates snowline configuration data.
//
// It supplies repository defaults, expands user paths (including tilde
// shortcuts), reads TOML files, and honours the SNOWLINE_DATA_DIR environment
// override. The Config type centralizes every knob the pipeline and CLI need:
// artifact and state locations, catalog client settings, retry policy, NDSI
// parameters and the regions of interest.
//
// Always obtain settings through this package so downstream code receives
// expanded paths, canonical band ids, and clear validation errors.
package config
