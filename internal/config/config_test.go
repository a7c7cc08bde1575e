package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validConfig() *Config {
	c := Default()
	c.Auth = AuthConfig{Username: "alice", Password: "secret"}
	return c
}

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv(EnvUsername, "")
	t.Setenv(EnvPassword, "")
	t.Setenv(EnvAPIURL, "")
}

func TestDefaultNeedsOnlyCredentials(t *testing.T) {
	if err := Default().Validate(); err == nil {
		t.Fatal("expected defaults without credentials to be invalid")
	}
	if err := validConfig().Validate(); err != nil {
		t.Fatalf("expected defaults with credentials to be valid, got %v", err)
	}
}

func TestConfigValidation(t *testing.T) {
	tests := []struct {
		name     string
		mutate   func(c *Config)
		errorMsg string
	}{
		{name: "valid configuration", mutate: func(c *Config) {}},
		{
			name:     "relative api url",
			mutate:   func(c *Config) { c.Server.APIURL = "localhost:8080" },
			errorMsg: "api_url",
		},
		{
			name:     "bad signaling scheme",
			mutate:   func(c *Config) { c.Server.SignalingURL = "http://localhost/ws" },
			errorMsg: "signaling_url",
		},
		{
			name:     "missing username",
			mutate:   func(c *Config) { c.Auth.Username = " " },
			errorMsg: "username cannot be empty",
		},
		{
			name:     "max not above min",
			mutate:   func(c *Config) { c.Segmentation.MaxChunkMs = 2000 },
			errorMsg: "max_chunk_ms",
		},
		{
			name:     "fft size not power of two",
			mutate:   func(c *Config) { c.Segmentation.FFTSize = 300 },
			errorMsg: "fft_size",
		},
		{
			name:     "threshold out of range",
			mutate:   func(c *Config) { c.Segmentation.VolumeThreshold = 300 },
			errorMsg: "volume_threshold",
		},
		{
			name:     "upload path",
			mutate:   func(c *Config) { c.Upload.Path = "api/audio" },
			errorMsg: "path must start",
		},
		{
			name:     "zero concurrency",
			mutate:   func(c *Config) { c.Upload.MaxConcurrent = 0 },
			errorMsg: "max_concurrent",
		},
		{
			name:     "capture sample rate",
			mutate:   func(c *Config) { c.Capture.SampleRate = 4000 },
			errorMsg: "sample_rate",
		},
		{
			name:     "signaling backoff",
			mutate:   func(c *Config) { c.Signaling.ReconnectBackoffMs = 0 },
			errorMsg: "reconnect_backoff_ms",
		},
		{
			name:   "http port ignored when disabled",
			mutate: func(c *Config) { c.HTTP.Enabled = false; c.HTTP.Port = 0 },
		},
		{
			name:     "http port",
			mutate:   func(c *Config) { c.HTTP.Port = 70000 },
			errorMsg: "http port",
		},
		{
			name:     "log level",
			mutate:   func(c *Config) { c.Logging.Level = "trace" },
			errorMsg: "level must be one of",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()

			if tt.errorMsg == "" {
				if err != nil {
					t.Errorf("Expected no error but got: %v", err)
				}
				return
			}
			if err == nil {
				t.Fatalf("Expected error containing '%s' but got none", tt.errorMsg)
			}
			if !strings.Contains(err.Error(), tt.errorMsg) {
				t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
			}
		})
	}
}

func TestConfigLoad(t *testing.T) {
	clearEnv(t)
	tempDir := t.TempDir()

	tests := []struct {
		name       string
		configYAML string
		errorMsg   string
		check      func(t *testing.T, c *Config)
	}{
		{
			name: "partial file keeps defaults",
			configYAML: `
server:
  api_url: "https://calls.example.com"
auth:
  username: "bob"
  password: "pw"
segmentation:
  silence_cut_ms: 1200
`,
			check: func(t *testing.T, c *Config) {
				if c.Segmentation.SilenceCutMs != 1200 {
					t.Errorf("expected silence_cut_ms 1200, got %d", c.Segmentation.SilenceCutMs)
				}
				if c.Segmentation.MaxChunkMs != 8000 {
					t.Errorf("expected default max_chunk_ms, got %d", c.Segmentation.MaxChunkMs)
				}
				if got := c.Server.GetSignalingURL(); got != "wss://calls.example.com/ws" {
					t.Errorf("unexpected signaling url %q", got)
				}
			},
		},
		{
			name:       "invalid yaml",
			configYAML: "server: [",
			errorMsg:   "failed to parse",
		},
		{
			name: "missing credentials",
			configYAML: `
server:
  api_url: "http://localhost:8080"
`,
			errorMsg: "username cannot be empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			configPath := filepath.Join(tempDir, "config.yaml")
			if err := os.WriteFile(configPath, []byte(tt.configYAML), 0644); err != nil {
				t.Fatalf("Failed to create test config file: %v", err)
			}

			config, err := Load(configPath)
			if tt.errorMsg != "" {
				if err == nil {
					t.Fatalf("Expected error but got none")
				}
				if !strings.Contains(err.Error(), tt.errorMsg) {
					t.Errorf("Expected error to contain '%s', got '%s'", tt.errorMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("Expected no error but got: %v", err)
			}
			tt.check(t, config)
		})
	}
}

func TestConfigLoadNonexistentFile(t *testing.T) {
	_, err := Load("nonexistent.yaml")
	if err == nil {
		t.Fatal("Expected error for nonexistent file but got none")
	}
	if !strings.Contains(err.Error(), "failed to read config file") {
		t.Errorf("Expected error about reading file, got: %v", err)
	}
}

func TestEnvOverrides(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	envPath := filepath.Join(dir, ".env")
	content := EnvUsername + "=carol\n" + EnvPassword + "=hunter2\n" + EnvAPIURL + "=http://10.0.0.5:8080\n"
	if err := os.WriteFile(envPath, []byte(content), 0600); err != nil {
		t.Fatal(err)
	}

	// godotenv does not override variables that are already set
	os.Unsetenv(EnvUsername)
	os.Unsetenv(EnvPassword)
	os.Unsetenv(EnvAPIURL)

	if err := LoadEnv(envPath, filepath.Join(dir, "missing.env")); err != nil {
		t.Fatalf("LoadEnv failed: %v", err)
	}

	c, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if c.Auth.Username != "carol" || c.Auth.Password != "hunter2" {
		t.Errorf("unexpected credentials: %+v", c.Auth)
	}
	if c.Server.APIURL != "http://10.0.0.5:8080" {
		t.Errorf("unexpected api url %q", c.Server.APIURL)
	}
	if got := c.Server.GetSignalingURL(); got != "ws://10.0.0.5:8080/ws" {
		t.Errorf("unexpected signaling url %q", got)
	}
}

func TestApplyEnvIgnoresEmpty(t *testing.T) {
	c := validConfig()
	c.ApplyEnv(func(key string) (string, bool) {
		if key == EnvUsername {
			return "", true
		}
		return "", false
	})
	if c.Auth.Username != "alice" {
		t.Errorf("expected username to be kept, got %q", c.Auth.Username)
	}
}

func TestDurationHelpers(t *testing.T) {
	c := Default()

	if got := c.Server.GetTimeoutDuration(); got != 10*time.Second {
		t.Errorf("Expected 10 seconds, got %v", got)
	}
	if got := c.Capture.GetFrameDuration(); got != 20*time.Millisecond {
		t.Errorf("Expected 20ms frames, got %v", got)
	}
	if got := c.Upload.GetTimeoutDuration(); got != 30*time.Second {
		t.Errorf("Expected 30 seconds, got %v", got)
	}
	if got := c.Upload.GetRetryBackoffDuration(); got != 500*time.Millisecond {
		t.Errorf("Expected 500ms, got %v", got)
	}
	if got := c.Signaling.GetReconnectBackoffDuration(); got != 500*time.Millisecond {
		t.Errorf("Expected 500ms, got %v", got)
	}
	if got := c.Signaling.GetMaxReconnectBackoffDuration(); got != 30*time.Second {
		t.Errorf("Expected 30 seconds, got %v", got)
	}
	if got := c.Signaling.GetHandshakeTimeoutDuration(); got != 10*time.Second {
		t.Errorf("Expected 10 seconds, got %v", got)
	}
	if got := c.Signaling.GetWriteTimeoutDuration(); got != 5*time.Second {
		t.Errorf("Expected 5 seconds, got %v", got)
	}

	seg := c.Segmentation.Policy()
	if seg.MinChunkDuration != 2*time.Second || seg.MaxChunkDuration != 8*time.Second ||
		seg.SilenceCutThreshold != 1500*time.Millisecond || seg.SampleInterval != 100*time.Millisecond {
		t.Errorf("unexpected policy: %+v", seg)
	}
}
