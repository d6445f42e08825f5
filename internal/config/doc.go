// Package config provides configuration loading and validation for the audio
// transcription service. It handles YAML-based configuration with per-section
// validation and helpers that convert float-second fields to time.Duration.
package config
