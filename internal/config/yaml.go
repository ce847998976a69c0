// SPDX-License-Identifier: MIT
package config

import (
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"

	"micscope/internal/device"
	applog "micscope/internal/log"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "MICSCOPE_"

// DefaultPaths are searched in order when LoadConfig is given no path.
var DefaultPaths = []string{"micscope.yaml", "config.yaml"}

// LoadConfig loads configuration from a YAML file specified by path. If path is empty,
// it searches DefaultPaths. If no file is found, it uses built-in defaults.
// After loading defaults or from file, it applies environment variable
// overrides and validates the final configuration.
func LoadConfig(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		for _, candidate := range DefaultPaths {
			if _, err := os.Stat(candidate); err == nil {
				path = candidate
				break
			}
		}
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
		applog.Debugf("configuration: Loaded %s", path)
	}

	// Apply environment variable overrides AFTER loading from file.
	if err := cfg.applyEnvOverrides(os.LookupEnv); err != nil {
		return nil, fmt.Errorf("invalid environment override: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return &cfg, nil
}

// Validate checks every section and returns the first problem found.
func (c *Config) Validate() error {
	if _, ok := applog.ParseLevel(c.LogLevel); !ok {
		return fmt.Errorf("log_level '%s' is not one of debug, info, warn, error, fatal", c.LogLevel)
	}

	a := c.Audio
	switch strings.ToLower(a.Backend) {
	case device.BackendPortAudio, device.BackendMalgo, "miniaudio", device.BackendSynthetic:
	default:
		return fmt.Errorf("audio.backend '%s' is not supported", a.Backend)
	}
	if a.InputDevice < device.DefaultInput {
		return fmt.Errorf("audio.input_device must be %d (default) or a device index, got %d", device.DefaultInput, a.InputDevice)
	}
	if a.SampleRate < MinSampleRate || a.SampleRate > MaxSampleRate {
		return fmt.Errorf("audio.sample_rate must be in [%d, %d], got %g", MinSampleRate, MaxSampleRate, a.SampleRate)
	}
	if a.Quantum <= 0 || a.Quantum > MaxQuantum {
		return fmt.Errorf("audio.quantum must be in [1, %d], got %d", MaxQuantum, a.Quantum)
	}
	if a.HandoffDepth <= 0 {
		return fmt.Errorf("audio.handoff_depth must be positive, got %d", a.HandoffDepth)
	}

	if err := c.Analyser.Validate(); err != nil {
		return fmt.Errorf("analyser: %w", err)
	}

	t := c.Transport
	if t.PublishInterval <= 0 {
		return fmt.Errorf("transport.publish_interval must be positive")
	}
	if t.Pulse.Threshold < 0 || t.Pulse.Threshold > 1 {
		return fmt.Errorf("transport.pulse.threshold must be in [0, 1], got %g", t.Pulse.Threshold)
	}
	if t.WebSocket.Enabled && t.WebSocket.Addr == "" {
		return fmt.Errorf("transport.websocket.addr must be set when the WebSocket server is enabled")
	}
	if t.UDP.Enabled {
		if _, _, err := net.SplitHostPort(t.UDP.Target); err != nil {
			return fmt.Errorf("transport.udp.target '%s' appears invalid: %w", t.UDP.Target, err)
		}
	}
	if t.MQTT.Enabled && t.MQTT.Broker == "" {
		return fmt.Errorf("transport.mqtt.broker must be set when MQTT is enabled")
	}

	if c.Metrics.Enabled {
		if !strings.HasPrefix(c.Metrics.Path, "/") {
			return fmt.Errorf("metrics.path must start with '/', got '%s'", c.Metrics.Path)
		}
		if c.Metrics.Addr == "" && !t.WebSocket.Enabled {
			return fmt.Errorf("metrics.addr must be set when the WebSocket server is disabled")
		}
		if c.Metrics.Addr == "" && c.Metrics.Path == t.WebSocket.Path {
			return fmt.Errorf("metrics.path '%s' collides with transport.websocket.path", c.Metrics.Path)
		}
	}
	return nil
}

// applyEnvOverrides applies MICSCOPE_* variables on top of the loaded
// values. Setting an endpoint variable, such as MICSCOPE_MQTT_BROKER, also
// enables that transport.
func (cfg *Config) applyEnvOverrides(lookup func(string) (string, bool)) error {
	str := func(name string, dst *string) {
		if val, ok := lookup(EnvPrefix + name); ok {
			*dst = val
			applog.Infof("configuration: Overriding %s from env: %s", name, val)
		}
	}
	boolean := func(name string, dst *bool) error {
		val, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		b, err := strconv.ParseBool(val)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = b
		applog.Infof("configuration: Overriding %s from env: %v", name, b)
		return nil
	}
	integer := func(name string, dst *int) error {
		val, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		n, err := strconv.Atoi(val)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = n
		applog.Infof("configuration: Overriding %s from env: %d", name, n)
		return nil
	}
	duration := func(name string, dst *time.Duration) error {
		val, ok := lookup(EnvPrefix + name)
		if !ok {
			return nil
		}
		d, err := time.ParseDuration(val)
		if err != nil {
			return fmt.Errorf("%s%s: %w", EnvPrefix, name, err)
		}
		*dst = d
		applog.Infof("configuration: Overriding %s from env: %s", name, d)
		return nil
	}
	enable := func(name string, dst *string, enabled *bool) {
		if val, ok := lookup(EnvPrefix + name); ok {
			*dst, *enabled = val, true
			applog.Infof("configuration: Overriding %s from env: %s", name, val)
		}
	}

	str("LOG_LEVEL", &cfg.LogLevel)
	str("AUDIO_BACKEND", &cfg.Audio.Backend)
	enable("WEBSOCKET_ADDR", &cfg.Transport.WebSocket.Addr, &cfg.Transport.WebSocket.Enabled)
	enable("UDP_TARGET", &cfg.Transport.UDP.Target, &cfg.Transport.UDP.Enabled)
	enable("MQTT_BROKER", &cfg.Transport.MQTT.Broker, &cfg.Transport.MQTT.Enabled)
	str("MQTT_USERNAME", &cfg.Transport.MQTT.Username)
	str("MQTT_PASSWORD", &cfg.Transport.MQTT.Password)

	for _, apply := range []func() error{
		func() error { return integer("AUDIO_INPUT_DEVICE", &cfg.Audio.InputDevice) },
		func() error { return boolean("AUDIO_LOW_LATENCY", &cfg.Audio.LowLatency) },
		func() error { return duration("PUBLISH_INTERVAL", &cfg.Transport.PublishInterval) },
		func() error { return boolean("WEBSOCKET_ENABLED", &cfg.Transport.WebSocket.Enabled) },
		func() error { return boolean("UDP_ENABLED", &cfg.Transport.UDP.Enabled) },
		func() error { return boolean("MQTT_ENABLED", &cfg.Transport.MQTT.Enabled) },
		func() error { return boolean("METRICS_ENABLED", &cfg.Metrics.Enabled) },
	} {
		if err := apply(); err != nil {
			return err
		}
	}
	return nil
}
