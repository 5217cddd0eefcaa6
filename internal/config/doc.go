// Package config provides configuration loading and validation for the speech translation service.
// It handles YAML-based configuration with ${VAR} environment expansion, default values
// and per-section validation.
package config
