// Package config loads, normalizes, and validates grabber's TOML configuration.
//
// Default supplies a complete configuration, Load overlays the user's file on
// top of it, expands ~ paths, and rejects unsupported policy values before the
// daemon or CLI touch the filesystem.
package config
