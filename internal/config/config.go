// SPDX-License-Identifier: MIT
package config

import (
	"time"

	"micscope/internal/analysis"
	"micscope/internal/audio"
	"micscope/internal/device"
	"micscope/internal/transport"
)

// Boundaries and defaults for the capture pipeline.
const (
	DefaultBackend      = device.BackendPortAudio
	DefaultInputDevice  = device.DefaultInput
	DefaultSampleRate   = audio.TargetSampleRate
	DefaultQuantum      = audio.DefaultQuantum
	DefaultHandoffDepth = audio.DefaultDepth

	MinSampleRate = 8000   // Minimum usable sample rate (Hz)
	MaxSampleRate = 192000 // Maximum supported sample rate (Hz)
	MaxQuantum    = 8192   // Maximum frames per block
)

// Config represents the main application configuration structure, loaded from YAML.
type Config struct {
	LogLevel  string           `yaml:"log_level"` // "debug", "info", "warn" or "error".
	Audio     AudioConfig      `yaml:"audio"`
	Analyser  analysis.Options `yaml:"analyser"`
	Transport TransportConfig  `yaml:"transport"`
	Metrics   MetricsConfig    `yaml:"metrics"`
}

// AudioConfig selects and shapes the capture device.
type AudioConfig struct {
	Backend      string          `yaml:"backend"`       // "portaudio", "malgo" or "synthetic".
	InputDevice  int             `yaml:"input_device"`  // Device index (-1 for default).
	SampleRate   float64         `yaml:"sample_rate"`   // Processing context rate in Hz.
	Quantum      int             `yaml:"quantum"`       // Frames per block.
	HandoffDepth int             `yaml:"handoff_depth"` // Blocks buffered off the device thread.
	LowLatency   bool            `yaml:"low_latency"`   // Request the device's low-latency setting.
	Synthetic    SyntheticConfig `yaml:"synthetic"`     // Tone for the synthetic backend.
}

// SyntheticConfig shapes the synthetic backend's signal.
type SyntheticConfig struct {
	Frequency float64 `yaml:"frequency"`
	Amplitude float64 `yaml:"amplitude"`
	Noise     float64 `yaml:"noise"`
}

// TransportConfig holds settings for publishing analysis summaries.
type TransportConfig struct {
	PublishInterval time.Duration   `yaml:"publish_interval"` // Time between summaries.
	Pulse           PulseConfig     `yaml:"pulse"`
	Log             LogConfig       `yaml:"log"`
	WebSocket       WebSocketConfig `yaml:"websocket"`
	UDP             UDPConfig       `yaml:"udp"`
	MQTT            MQTTConfig      `yaml:"mqtt"`
}

// PulseConfig tunes onset detection on the average level.
type PulseConfig struct {
	Threshold float64       `yaml:"threshold"` // Normalised level a pulse must exceed.
	Ratio     float64       `yaml:"ratio"`     // Minimum rise over the previous summary.
	Cooldown  time.Duration `yaml:"cooldown"`  // Minimum gap between pulses.
}

// LogConfig enables summary logging.
type LogConfig struct {
	Enabled bool   `yaml:"enabled"`
	Every   uint64 `yaml:"every"` // Log one summary in every N.
}

// WebSocketConfig configures the broadcast server.
type WebSocketConfig struct {
	Enabled         bool          `yaml:"enabled"`
	Addr            string        `yaml:"addr"` // e.g. ":8080"
	Path            string        `yaml:"path"`
	MinSendInterval time.Duration `yaml:"min_send_interval"`
}

// UDPConfig configures the binary datagram sender.
type UDPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Target  string `yaml:"target"` // e.g. "127.0.0.1:9090"
}

// MQTTConfig configures the broker connection.
type MQTTConfig struct {
	Enabled        bool          `yaml:"enabled"`
	Broker         string        `yaml:"broker"` // e.g. "tcp://localhost:1883"
	ClientID       string        `yaml:"client_id"`
	Username       string        `yaml:"username"`
	Password       string        `yaml:"password"`
	TopicPrefix    string        `yaml:"topic_prefix"`
	ConnectTimeout time.Duration `yaml:"connect_timeout"`
}

// MetricsConfig configures the Prometheus endpoint. With an empty Addr the
// endpoint is mounted on the WebSocket server.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
	Addr    string `yaml:"addr"`
}

// Default returns the built-in configuration.
func Default() Config {
	pub := transport.DefaultPublisherOptions()
	return Config{
		LogLevel: "info",
		Audio: AudioConfig{
			Backend:      DefaultBackend,
			InputDevice:  DefaultInputDevice,
			SampleRate:   DefaultSampleRate,
			Quantum:      DefaultQuantum,
			HandoffDepth: DefaultHandoffDepth,
			Synthetic:    SyntheticConfig(device.DefaultSyntheticOptions()),
		},
		Analyser: analysis.DefaultOptions(),
		Transport: TransportConfig{
			PublishInterval: pub.Interval, // ~30Hz.
			Pulse: PulseConfig{
				Threshold: pub.PulseThreshold,
				Ratio:     pub.PulseRatio,
				Cooldown:  pub.PulseCooldown,
			},
			Log: LogConfig{Enabled: false, Every: 30},
			WebSocket: WebSocketConfig{
				Enabled: true,
				Addr:    ":8080",
				Path:    "/ws",
			},
			UDP: UDPConfig{Target: "127.0.0.1:9090"},
			MQTT: MQTTConfig{
				Broker:         "tcp://localhost:1883",
				TopicPrefix:    "micscope",
				ConnectTimeout: 10 * time.Second,
			},
		},
		Metrics: MetricsConfig{Path: "/metrics"},
	}
}

// DeviceOptions returns the provider options.
func (c *Config) DeviceOptions() device.Options {
	return device.Options{
		InputDevice: c.Audio.InputDevice,
		LowLatency:  c.Audio.LowLatency,
		Synthetic:   device.SyntheticOptions(c.Audio.Synthetic),
	}
}

// RecorderOptions returns the recorder options.
func (c *Config) RecorderOptions() audio.Options {
	return audio.Options{
		SampleRate:   c.Audio.SampleRate,
		Quantum:      c.Audio.Quantum,
		HandoffDepth: c.Audio.HandoffDepth,
	}
}

// PublisherOptions returns the publisher options.
func (c *Config) PublisherOptions() transport.PublisherOptions {
	return transport.PublisherOptions{
		Interval:       c.Transport.PublishInterval,
		PulseThreshold: c.Transport.Pulse.Threshold,
		PulseRatio:     c.Transport.Pulse.Ratio,
		PulseCooldown:  c.Transport.Pulse.Cooldown,
	}
}
