package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	HTTP          HTTPConfig          `yaml:"http"`
	Audio         AudioConfig         `yaml:"audio"`
	Gate          GateConfig          `yaml:"gate"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	Broadcast     BroadcastConfig     `yaml:"broadcast"`
	Store         StoreConfig         `yaml:"store"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// AudioConfig contains capture and chunking parameters
type AudioConfig struct {
	Device          string  `yaml:"device"`           // "default", "loopback", "synthetic", ...
	PreferLoopback  bool    `yaml:"prefer_loopback"`  // try loopback first, fall back to default
	SampleRate      int     `yaml:"sample_rate"`      // Hz
	FrameSize       int     `yaml:"frame_size"`       // samples per capture frame
	ChunkDuration   float64 `yaml:"chunk_duration"`   // seconds
	OverlapDuration float64 `yaml:"overlap_duration"` // seconds
}

// GateConfig contains activity gate (silence detection) thresholds
type GateConfig struct {
	RMSThreshold  float64 `yaml:"rms_threshold"`
	PeakThreshold float64 `yaml:"peak_threshold"`
}

// TranscriptionConfig contains transcription engine and scheduler configuration
type TranscriptionConfig struct {
	Endpoint        string  `yaml:"endpoint"`
	APIKey          string  `yaml:"api_key"`
	Language        string  `yaml:"language"`
	Model           string  `yaml:"model"`
	MaxConcurrent   int     `yaml:"max_concurrent"`
	QueueSize       int     `yaml:"queue_size"`
	ConfidenceFloor float64 `yaml:"confidence_floor"`
	CallTimeout     float64 `yaml:"call_timeout"` // seconds, per engine call
}

// BroadcastConfig contains subscriber fan-out configuration
type BroadcastConfig struct {
	SendTimeout float64 `yaml:"send_timeout"` // seconds before a stuck subscriber is dropped
	BufferSize  int     `yaml:"buffer_size"`  // events buffered per subscriber
}

// StoreConfig contains transcript store configuration
type StoreConfig struct {
	Path string `yaml:"path"` // SQLite file path; empty disables persistence
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	var config Config
	if err := yaml.Unmarshal(data, &config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return &config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.Gate.Validate(); err != nil {
		return fmt.Errorf("gate config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.Broadcast.Validate(); err != nil {
		return fmt.Errorf("broadcast config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.Device == "" {
		return fmt.Errorf("device cannot be empty")
	}

	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", a.SampleRate)
	}

	if a.FrameSize < 64 || a.FrameSize > 16384 {
		return fmt.Errorf("frame_size must be between 64 and 16384 samples, got %d", a.FrameSize)
	}

	if a.ChunkDuration <= 0 {
		return fmt.Errorf("chunk_duration must be positive, got %f", a.ChunkDuration)
	}

	if a.OverlapDuration < 0 {
		return fmt.Errorf("overlap_duration cannot be negative, got %f", a.OverlapDuration)
	}

	if a.OverlapDuration >= a.ChunkDuration {
		return fmt.Errorf("overlap_duration (%f) must be less than chunk_duration (%f)",
			a.OverlapDuration, a.ChunkDuration)
	}

	return nil
}

// Validate validates gate configuration
func (g *GateConfig) Validate() error {
	if g.RMSThreshold < 0 || g.RMSThreshold > 1 {
		return fmt.Errorf("rms_threshold must be between 0 and 1, got %f", g.RMSThreshold)
	}

	if g.PeakThreshold < 0 || g.PeakThreshold > 1 {
		return fmt.Errorf("peak_threshold must be between 0 and 1, got %f", g.PeakThreshold)
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	if t.Endpoint == "" {
		return fmt.Errorf("endpoint cannot be empty")
	}

	if t.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", t.MaxConcurrent)
	}

	if t.QueueSize < 1 {
		return fmt.Errorf("queue_size must be at least 1, got %d", t.QueueSize)
	}

	if t.ConfidenceFloor < 0 || t.ConfidenceFloor > 1 {
		return fmt.Errorf("confidence_floor must be between 0 and 1, got %f", t.ConfidenceFloor)
	}

	if t.CallTimeout <= 0 {
		return fmt.Errorf("call_timeout must be positive, got %f", t.CallTimeout)
	}

	return nil
}

// Validate validates broadcast configuration
func (b *BroadcastConfig) Validate() error {
	if b.SendTimeout <= 0 {
		return fmt.Errorf("send_timeout must be positive, got %f", b.SendTimeout)
	}

	if b.BufferSize < 1 {
		return fmt.Errorf("buffer_size must be at least 1, got %d", b.BufferSize)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetChunkDuration returns the chunk duration as a time.Duration
func (a *AudioConfig) GetChunkDuration() time.Duration {
	return time.Duration(a.ChunkDuration * float64(time.Second))
}

// GetOverlapDuration returns the overlap duration as a time.Duration
func (a *AudioConfig) GetOverlapDuration() time.Duration {
	return time.Duration(a.OverlapDuration * float64(time.Second))
}

// GetCallTimeout returns the per-call engine timeout as a time.Duration
func (t *TranscriptionConfig) GetCallTimeout() time.Duration {
	return time.Duration(t.CallTimeout * float64(time.Second))
}

// GetSendTimeout returns the subscriber send timeout as a time.Duration
func (b *BroadcastConfig) GetSendTimeout() time.Duration {
	return time.Duration(b.SendTimeout * float64(time.Second))
}
