package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/M1TCH3llM/VideoChat/internal/audio"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override file values.
const (
	EnvUsername = "CALLCONSOLE_USERNAME"
	EnvPassword = "CALLCONSOLE_PASSWORD"
	EnvAPIURL   = "CALLCONSOLE_API_URL"
)

// Config represents the complete client configuration
type Config struct {
	Server       ServerConfig       `yaml:"server"`
	Auth         AuthConfig         `yaml:"auth"`
	Capture      CaptureConfig      `yaml:"capture"`
	Segmentation SegmentationConfig `yaml:"segmentation"`
	Upload       UploadConfig       `yaml:"upload"`
	Signaling    SignalingConfig    `yaml:"signaling"`
	HTTP         HTTPConfig         `yaml:"http"`
	Logging      LoggingConfig      `yaml:"logging"`
}

// ServerConfig locates the call server
type ServerConfig struct {
	APIURL        string `yaml:"api_url"`
	SignalingURL  string `yaml:"signaling_url"` // derived from api_url when empty
	DefaultCallID int64  `yaml:"default_call_id"`
	Timeout       int    `yaml:"timeout"` // seconds
}

// AuthConfig holds the login credentials
type AuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// CaptureConfig describes the local audio source
type CaptureConfig struct {
	WAVPath    string `yaml:"wav_path"` // silence when empty
	SampleRate int    `yaml:"sample_rate"`
	FrameMs    int    `yaml:"frame_ms"`
	Loop       bool   `yaml:"loop"`
	BufferSize int    `yaml:"buffer_size"` // frames per subscriber
}

// SegmentationConfig contains the adaptive segmentation policy
type SegmentationConfig struct {
	MinChunkMs       int     `yaml:"min_chunk_ms"`
	MaxChunkMs       int     `yaml:"max_chunk_ms"`
	SilenceCutMs     int     `yaml:"silence_cut_ms"`
	SampleIntervalMs int     `yaml:"sample_interval_ms"`
	VolumeThreshold  float64 `yaml:"volume_threshold"`
	MinChunkBytes    int     `yaml:"min_chunk_bytes"`
	RetryBackoffMs   int     `yaml:"retry_backoff_ms"`
	MaxStartRetries  int     `yaml:"max_start_retries"`
	FFTSize          int     `yaml:"fft_size"`
}

// UploadConfig contains transcription upload configuration
type UploadConfig struct {
	Path           string `yaml:"path"`
	Timeout        int    `yaml:"timeout"` // seconds
	MaxConcurrent  int    `yaml:"max_concurrent"`
	MaxRetries     int    `yaml:"max_retries"`
	RetryBackoffMs int    `yaml:"retry_backoff_ms"`
	FileName       string `yaml:"file_name"` // without extension
}

// SignalingConfig contains websocket channel configuration
type SignalingConfig struct {
	HandshakeTimeout    int `yaml:"handshake_timeout"` // seconds
	WriteTimeout        int `yaml:"write_timeout"`     // seconds
	ReconnectAttempts   int `yaml:"reconnect_attempts"`
	ReconnectBackoffMs  int `yaml:"reconnect_backoff_ms"`
	MaxReconnectBackoff int `yaml:"max_reconnect_backoff"` // seconds
	BufferSize          int `yaml:"buffer_size"`
}

// HTTPConfig contains the local status server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns the configuration used for any value the file omits.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			APIURL:        "http://localhost:8080",
			DefaultCallID: 1001,
			Timeout:       10,
		},
		Capture: CaptureConfig{
			SampleRate: 16000,
			FrameMs:    20,
			Loop:       true,
			BufferSize: 64,
		},
		Segmentation: SegmentationConfig{
			MinChunkMs:       2000,
			MaxChunkMs:       8000,
			SilenceCutMs:     1500,
			SampleIntervalMs: 100,
			VolumeThreshold:  10,
			MinChunkBytes:    3000,
			RetryBackoffMs:   1000,
			MaxStartRetries:  1,
			FFTSize:          256,
		},
		Upload: UploadConfig{
			Path:           "/api/audio/transcribe",
			Timeout:        30,
			MaxConcurrent:  4,
			MaxRetries:     0,
			RetryBackoffMs: 500,
			FileName:       "chunk",
		},
		Signaling: SignalingConfig{
			HandshakeTimeout:    10,
			WriteTimeout:        5,
			ReconnectAttempts:   5,
			ReconnectBackoffMs:  500,
			MaxReconnectBackoff: 30,
			BufferSize:          64,
		},
		HTTP: HTTPConfig{
			Port:    9090,
			Address: "127.0.0.1",
			Enabled: true,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
			Output: "stderr",
		},
	}
}

// Load reads and parses the configuration file on top of Default, then
// applies environment overrides.
func Load(path string) (*Config, error) {
	config := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	config.ApplyEnv(os.LookupEnv)

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// LoadEnv loads variables from .env files into the process environment.
// Missing files are not an error; variables already set are kept.
func LoadEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	var existing []string
	for _, f := range files {
		if _, err := os.Stat(f); err == nil {
			existing = append(existing, f)
		}
	}
	if len(existing) == 0 {
		return nil
	}
	if err := godotenv.Load(existing...); err != nil {
		return fmt.Errorf("failed to load env files: %w", err)
	}
	return nil
}

// ApplyEnv overrides credentials and the API URL from the environment.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup(EnvUsername); ok && v != "" {
		c.Auth.Username = v
	}
	if v, ok := lookup(EnvPassword); ok && v != "" {
		c.Auth.Password = v
	}
	if v, ok := lookup(EnvAPIURL); ok && v != "" {
		c.Server.APIURL = v
	}
}

// Validate performs validation of every section
func (c *Config) Validate() error {
	if err := c.Server.Validate(); err != nil {
		return fmt.Errorf("server config: %w", err)
	}

	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth config: %w", err)
	}

	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if err := c.Segmentation.Validate(); err != nil {
		return fmt.Errorf("segmentation config: %w", err)
	}

	if err := c.Upload.Validate(); err != nil {
		return fmt.Errorf("upload config: %w", err)
	}

	if err := c.Signaling.Validate(); err != nil {
		return fmt.Errorf("signaling config: %w", err)
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	u, err := url.Parse(s.APIURL)
	if err != nil || u.Host == "" {
		return fmt.Errorf("api_url must be an absolute URL, got '%s'", s.APIURL)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("api_url scheme must be http or https, got '%s'", u.Scheme)
	}

	if s.SignalingURL != "" {
		w, err := url.Parse(s.SignalingURL)
		if err != nil || (w.Scheme != "ws" && w.Scheme != "wss") {
			return fmt.Errorf("signaling_url must be a ws:// or wss:// URL, got '%s'", s.SignalingURL)
		}
	}

	if s.DefaultCallID < 1 {
		return fmt.Errorf("default_call_id must be positive, got %d", s.DefaultCallID)
	}

	if s.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", s.Timeout)
	}

	return nil
}

// Validate validates the credentials
func (a *AuthConfig) Validate() error {
	if strings.TrimSpace(a.Username) == "" {
		return errors.New("username cannot be empty (set auth.username or " + EnvUsername + ")")
	}
	if a.Password == "" {
		return errors.New("password cannot be empty (set auth.password or " + EnvPassword + ")")
	}
	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	if c.SampleRate < 8000 || c.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", c.SampleRate)
	}

	if c.FrameMs < 5 || c.FrameMs > 100 {
		return fmt.Errorf("frame_ms must be between 5 and 100, got %d", c.FrameMs)
	}

	if c.BufferSize < 1 {
		return fmt.Errorf("buffer_size must be at least 1, got %d", c.BufferSize)
	}

	return nil
}

// Validate validates segmentation configuration
func (s *SegmentationConfig) Validate() error {
	if s.MinChunkMs <= 0 {
		return fmt.Errorf("min_chunk_ms must be positive, got %d", s.MinChunkMs)
	}

	if s.MaxChunkMs <= s.MinChunkMs {
		return fmt.Errorf("max_chunk_ms (%d) must be greater than min_chunk_ms (%d)",
			s.MaxChunkMs, s.MinChunkMs)
	}

	if s.SilenceCutMs <= 0 {
		return fmt.Errorf("silence_cut_ms must be positive, got %d", s.SilenceCutMs)
	}

	if s.SampleIntervalMs <= 0 || s.SampleIntervalMs > s.MinChunkMs {
		return fmt.Errorf("sample_interval_ms must be between 1 and min_chunk_ms, got %d", s.SampleIntervalMs)
	}

	if s.VolumeThreshold < 0 || s.VolumeThreshold > 255 {
		return fmt.Errorf("volume_threshold must be between 0 and 255, got %f", s.VolumeThreshold)
	}

	if s.MinChunkBytes < 0 {
		return fmt.Errorf("min_chunk_bytes cannot be negative, got %d", s.MinChunkBytes)
	}

	if s.RetryBackoffMs < 0 {
		return fmt.Errorf("retry_backoff_ms cannot be negative, got %d", s.RetryBackoffMs)
	}

	if s.MaxStartRetries < 0 {
		return fmt.Errorf("max_start_retries cannot be negative, got %d", s.MaxStartRetries)
	}

	if s.FFTSize < 32 || s.FFTSize&(s.FFTSize-1) != 0 {
		return fmt.Errorf("fft_size must be a power of two of at least 32, got %d", s.FFTSize)
	}

	return nil
}

// Validate validates upload configuration
func (u *UploadConfig) Validate() error {
	if !strings.HasPrefix(u.Path, "/") {
		return fmt.Errorf("path must start with '/', got '%s'", u.Path)
	}

	if u.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", u.Timeout)
	}

	if u.MaxConcurrent < 1 {
		return fmt.Errorf("max_concurrent must be at least 1, got %d", u.MaxConcurrent)
	}

	if u.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", u.MaxRetries)
	}

	if u.RetryBackoffMs < 0 {
		return fmt.Errorf("retry_backoff_ms cannot be negative, got %d", u.RetryBackoffMs)
	}

	if u.FileName == "" {
		return errors.New("file_name cannot be empty")
	}

	return nil
}

// Validate validates signaling configuration
func (s *SignalingConfig) Validate() error {
	if s.HandshakeTimeout < 1 {
		return fmt.Errorf("handshake_timeout must be at least 1 second, got %d", s.HandshakeTimeout)
	}

	if s.WriteTimeout < 1 {
		return fmt.Errorf("write_timeout must be at least 1 second, got %d", s.WriteTimeout)
	}

	if s.ReconnectAttempts < 0 {
		return fmt.Errorf("reconnect_attempts cannot be negative, got %d", s.ReconnectAttempts)
	}

	if s.ReconnectBackoffMs < 1 {
		return fmt.Errorf("reconnect_backoff_ms must be positive, got %d", s.ReconnectBackoffMs)
	}

	if s.MaxReconnectBackoff < 1 {
		return fmt.Errorf("max_reconnect_backoff must be at least 1 second, got %d", s.MaxReconnectBackoff)
	}

	if s.BufferSize < 1 {
		return fmt.Errorf("buffer_size must be at least 1, got %d", s.BufferSize)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
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

// GetSignalingURL returns the websocket URL, deriving it from the API URL
// (http→ws, https→wss, path /ws) when none is configured.
func (s *ServerConfig) GetSignalingURL() string {
	if s.SignalingURL != "" {
		return s.SignalingURL
	}
	u, err := url.Parse(s.APIURL)
	if err != nil {
		return ""
	}
	if u.Scheme == "https" {
		u.Scheme = "wss"
	} else {
		u.Scheme = "ws"
	}
	u.Path = "/ws"
	u.RawQuery = ""
	return u.String()
}

// GetTimeoutDuration returns the REST timeout as a time.Duration
func (s *ServerConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(s.Timeout) * time.Second
}

// GetFrameDuration returns the capture frame pacing as a time.Duration
func (c *CaptureConfig) GetFrameDuration() time.Duration {
	return time.Duration(c.FrameMs) * time.Millisecond
}

// GetTimeoutDuration returns the upload timeout as a time.Duration
func (u *UploadConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(u.Timeout) * time.Second
}

// GetRetryBackoffDuration returns the upload retry backoff as a time.Duration
func (u *UploadConfig) GetRetryBackoffDuration() time.Duration {
	return time.Duration(u.RetryBackoffMs) * time.Millisecond
}

// GetHandshakeTimeoutDuration returns the handshake timeout as a time.Duration
func (s *SignalingConfig) GetHandshakeTimeoutDuration() time.Duration {
	return time.Duration(s.HandshakeTimeout) * time.Second
}

// GetWriteTimeoutDuration returns the write timeout as a time.Duration
func (s *SignalingConfig) GetWriteTimeoutDuration() time.Duration {
	return time.Duration(s.WriteTimeout) * time.Second
}

// GetReconnectBackoffDuration returns the initial reconnect backoff
func (s *SignalingConfig) GetReconnectBackoffDuration() time.Duration {
	return time.Duration(s.ReconnectBackoffMs) * time.Millisecond
}

// GetMaxReconnectBackoffDuration returns the reconnect backoff cap
func (s *SignalingConfig) GetMaxReconnectBackoffDuration() time.Duration {
	return time.Duration(s.MaxReconnectBackoff) * time.Second
}

// Policy converts the section into a segmentation policy
func (s *SegmentationConfig) Policy() audio.Policy {
	return audio.Policy{
		MinChunkDuration:    time.Duration(s.MinChunkMs) * time.Millisecond,
		MaxChunkDuration:    time.Duration(s.MaxChunkMs) * time.Millisecond,
		SilenceCutThreshold: time.Duration(s.SilenceCutMs) * time.Millisecond,
		SampleInterval:      time.Duration(s.SampleIntervalMs) * time.Millisecond,
		VolumeThreshold:     s.VolumeThreshold,
		MinChunkBytes:       s.MinChunkBytes,
		RetryBackoff:        time.Duration(s.RetryBackoffMs) * time.Millisecond,
		MaxStartRetries:     s.MaxStartRetries,
	}
}
