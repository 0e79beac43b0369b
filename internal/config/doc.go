// Package config loads, normalizes, and validates curator configuration
// from TOML with sensible defaults for every section.
package config
