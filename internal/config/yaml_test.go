// SPDX-License-Identifier: MIT
package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"micscope/internal/analysis"
	"micscope/internal/device"
)

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	tmp := t.TempDir()
	path := filepath.Join(tmp, "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

func TestLoadConfig_EmptyPath(t *testing.T) {
	t.Parallel()
	cfg, err := LoadConfig("")
	if err != nil {
		t.Errorf("expected nil error, got %v", err)
	}
	if cfg == nil {
		t.Fatal("expected default config, got nil")
	}
	if cfg.Audio.SampleRate != DefaultSampleRate || cfg.Analyser.FFTSize != 2048 {
		t.Errorf("unexpected defaults: %+v", cfg)
	}
}

func TestLoadConfig_FileNotFound(t *testing.T) {
	t.Parallel()
	cfg, err := LoadConfig("nonexistent.yaml")
	if err == nil {
		t.Errorf("expected error for missing file, got nil")
	}
	if cfg != nil {
		t.Errorf("expected nil config on error, got %+v", cfg)
	}
}

func TestLoadConfig_UnmarshalError(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, ":\n:bad")
	_, err := LoadConfig(path)
	if err == nil || !strings.Contains(err.Error(), "failed to parse config file") {
		t.Error("expected unmarshal error, got nil or wrong error")
	}
}

func TestLoadConfig_File(t *testing.T) {
	t.Parallel()
	path := writeTempConfig(t, `
log_level: debug
audio:
  backend: synthetic
  sample_rate: 48000
  synthetic:
    frequency: 1000
analyser:
  fft_size: 4096
  window: hann
  smoothing_time_constant: 0.5
transport:
  publish_interval: 50ms
  udp:
    enabled: true
    target: 10.0.0.2:7000
  pulse:
    cooldown: 1s
`)
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.LogLevel != "debug" || cfg.Audio.Backend != device.BackendSynthetic {
		t.Errorf("log_level/backend = %q/%q", cfg.LogLevel, cfg.Audio.Backend)
	}
	if cfg.Audio.SampleRate != 48000 {
		t.Errorf("sample_rate = %v, want 48000", cfg.Audio.SampleRate)
	}
	// Unset fields keep their defaults.
	if cfg.Audio.Quantum != DefaultQuantum || cfg.Analyser.MinDecibels != -100 {
		t.Errorf("defaults lost: quantum %d, min dB %v", cfg.Audio.Quantum, cfg.Analyser.MinDecibels)
	}
	if cfg.Audio.Synthetic.Frequency != 1000 || cfg.Audio.Synthetic.Amplitude != 0.5 {
		t.Errorf("synthetic = %+v", cfg.Audio.Synthetic)
	}
	if cfg.Analyser.FFTSize != 4096 || cfg.Analyser.Window != analysis.Hann || cfg.Analyser.SmoothingTimeConstant != 0.5 {
		t.Errorf("analyser = %+v", cfg.Analyser)
	}
	if cfg.Transport.PublishInterval != 50*time.Millisecond || cfg.Transport.Pulse.Cooldown != time.Second {
		t.Errorf("durations = %v/%v", cfg.Transport.PublishInterval, cfg.Transport.Pulse.Cooldown)
	}
	if !cfg.Transport.UDP.Enabled || cfg.Transport.UDP.Target != "10.0.0.2:7000" {
		t.Errorf("udp = %+v", cfg.Transport.UDP)
	}

	if got := cfg.PublisherOptions().Interval; got != 50*time.Millisecond {
		t.Errorf("PublisherOptions().Interval = %v", got)
	}
	if got := cfg.DeviceOptions().Synthetic.Frequency; got != 1000 {
		t.Errorf("DeviceOptions().Synthetic.Frequency = %v", got)
	}
	if got := cfg.RecorderOptions().SampleRate; got != 48000 {
		t.Errorf("RecorderOptions().SampleRate = %v", got)
	}
}

func TestLoadConfig_InvalidValues(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown window", "analyser:\n  window: triangle\n", "failed to parse config file"},
		{"fft size", "analyser:\n  fft_size: 1000\n", "analyser: fft size"},
		{"backend", "audio:\n  backend: jack\n", "audio.backend"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			_, err := LoadConfig(writeTempConfig(t, tt.content))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("LoadConfig() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestValidate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name   string
		mutate func(*Config)
		want   string // empty means valid
	}{
		{"defaults", func(*Config) {}, ""},
		{"log level", func(c *Config) { c.LogLevel = "loud" }, "log_level"},
		{"log level lists fatal", func(c *Config) { c.LogLevel = "loud" }, "debug, info, warn, error, fatal"},
		{"log level fatal", func(c *Config) { c.LogLevel = "fatal" }, ""},
		{"input device", func(c *Config) { c.Audio.InputDevice = -2 }, "audio.input_device"},
		{"sample rate low", func(c *Config) { c.Audio.SampleRate = 4000 }, "audio.sample_rate"},
		{"sample rate high", func(c *Config) { c.Audio.SampleRate = 384000 }, "audio.sample_rate"},
		{"quantum", func(c *Config) { c.Audio.Quantum = 0 }, "audio.quantum"},
		{"handoff depth", func(c *Config) { c.Audio.HandoffDepth = -1 }, "audio.handoff_depth"},
		{"decibels", func(c *Config) { c.Analyser.MinDecibels = -10 }, "analyser: min decibels"},
		{"publish interval", func(c *Config) { c.Transport.PublishInterval = 0 }, "transport.publish_interval"},
		{"pulse threshold", func(c *Config) { c.Transport.Pulse.Threshold = 2 }, "transport.pulse.threshold"},
		{"websocket addr", func(c *Config) { c.Transport.WebSocket.Addr = "" }, "transport.websocket.addr"},
		{"udp target", func(c *Config) {
			c.Transport.UDP.Enabled = true
			c.Transport.UDP.Target = "localhost"
		}, "transport.udp.target"},
		{"udp disabled ignores target", func(c *Config) { c.Transport.UDP.Target = "" }, ""},
		{"mqtt broker", func(c *Config) {
			c.Transport.MQTT.Enabled = true
			c.Transport.MQTT.Broker = ""
		}, "transport.mqtt.broker"},
		{"metrics path", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Path = "metrics"
		}, "metrics.path"},
		{"metrics without server", func(c *Config) {
			c.Metrics.Enabled = true
			c.Transport.WebSocket.Enabled = false
		}, "metrics.addr"},
		{"metrics own server", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Addr = ":9100"
			c.Transport.WebSocket.Enabled = false
		}, ""},
		{"metrics path collision", func(c *Config) {
			c.Metrics.Enabled = true
			c.Metrics.Path = "/ws"
		}, "collides"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			switch {
			case tt.want == "" && err != nil:
				t.Errorf("Validate() error = %v, want nil", err)
			case tt.want != "" && (err == nil || !strings.Contains(err.Error(), tt.want)):
				t.Errorf("Validate() error = %v, want containing %q", err, tt.want)
			}
		})
	}
}

func TestApplyEnvOverrides(t *testing.T) {
	t.Parallel()
	env := map[string]string{
		"MICSCOPE_LOG_LEVEL":          "warn",
		"MICSCOPE_AUDIO_BACKEND":      "malgo",
		"MICSCOPE_AUDIO_INPUT_DEVICE": "3",
		"MICSCOPE_PUBLISH_INTERVAL":   "100ms",
		"MICSCOPE_MQTT_BROKER":        "tcp://broker:1883",
		"MICSCOPE_WEBSOCKET_ENABLED":  "false",
	}
	lookup := func(k string) (string, bool) {
		v, ok := env[k]
		return v, ok
	}

	cfg := Default()
	if err := cfg.applyEnvOverrides(lookup); err != nil {
		t.Fatalf("applyEnvOverrides() error = %v", err)
	}
	if cfg.LogLevel != "warn" || cfg.Audio.Backend != "malgo" || cfg.Audio.InputDevice != 3 {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.Transport.PublishInterval != 100*time.Millisecond {
		t.Errorf("publish_interval = %v", cfg.Transport.PublishInterval)
	}
	if !cfg.Transport.MQTT.Enabled || cfg.Transport.MQTT.Broker != "tcp://broker:1883" {
		t.Errorf("mqtt = %+v", cfg.Transport.MQTT)
	}
	if cfg.Transport.WebSocket.Enabled {
		t.Error("websocket should be disabled")
	}
}

func TestApplyEnvOverrides_Invalid(t *testing.T) {
	t.Parallel()
	tests := []struct{ key, val string }{
		{"MICSCOPE_AUDIO_INPUT_DEVICE", "usb"},
		{"MICSCOPE_UDP_ENABLED", "maybe"},
		{"MICSCOPE_PUBLISH_INTERVAL", "fast"},
	}
	for _, tt := range tests {
		t.Run(tt.key, func(t *testing.T) {
			t.Parallel()
			cfg := Default()
			err := cfg.applyEnvOverrides(func(k string) (string, bool) {
				if k == tt.key {
					return tt.val, true
				}
				return "", false
			})
			if err == nil || !strings.Contains(err.Error(), tt.key) {
				t.Errorf("applyEnvOverrides() error = %v, want mention of %s", err, tt.key)
			}
		})
	}
}
