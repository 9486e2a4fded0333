// Package config loads, normalizes, and validates the TOML configuration that
// drives the ingestion pipeline.
//
// Load resolves the config path (explicit flag, ~/.config/lingest/config.toml,
// or ./lingest.toml), applies defaults for missing values, expands ~ in path
// fields, and validates cross-field constraints such as overlap versus window
// size and the similarity threshold ordering. Components receive a *Config and
// read only their own section.
package config
