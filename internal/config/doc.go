// Package config loads media-bundler settings: defaults, then an optional
// TOML file (~/.config/media-bundler/config.toml), then MEDIA_* environment
// overrides. Paths are expanded and limits clamped before validation.
package config
