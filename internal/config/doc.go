// Package config loads the call console configuration from YAML, applies
// environment overrides and validates each section.
package config
