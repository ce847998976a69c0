// SPDX-License-Identifier: MIT
// Package cmd implements the micscope command line.
package cmd

import (
	"context"
	"fmt"

	"micscope/internal/config"
	"micscope/internal/device"
	applog "micscope/internal/log"
	"micscope/pkg/build"

	"github.com/spf13/cobra"
)

// options are flag values that override the configuration file.
type options struct {
	configPath string
	backend    string
	device     int
	sampleRate float64
	lowLatency bool
	logLevel   string
	logFile    string
	tui        bool
}

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	buildInfo := build.Get()
	opts := &options{}

	rootCmd := &cobra.Command{
		Use:           buildInfo.Name,
		Short:         buildInfo.Description,
		Version:       buildInfo.String(),
		SilenceErrors: true,
		SilenceUsage:  true,
		CompletionOptions: cobra.CompletionOptions{
			DisableDefaultCmd:   true,
			DisableDescriptions: true,
			DisableNoDescFlag:   true,
			HiddenDefaultCmd:    true,
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			return run(cmd.Context(), cfg, opts)
		},
	}

	// Display help message
	rootCmd.SetHelpCommand(&cobra.Command{Hidden: true})

	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&opts.configPath, "config", "c", "",
		fmt.Sprintf("Path to a YAML config file (default: first of %v)", config.DefaultPaths))
	pf.StringVarP(&opts.backend, "backend", "b", config.DefaultBackend,
		fmt.Sprintf("Audio backend: %s, %s or %s", device.BackendPortAudio, device.BackendMalgo, device.BackendSynthetic))
	pf.IntVarP(&opts.device, "device", "d", config.DefaultInputDevice,
		"Specify input device ID. Use 'list' command to see available devices.")
	pf.StringVar(&opts.logLevel, "log-level", "info", "Log level: debug, info, warn or error")

	f := rootCmd.Flags()
	f.Float64VarP(&opts.sampleRate, "sample-rate", "s", config.DefaultSampleRate,
		"Processing sample rate, measured in Hertz (Hz)")
	f.BoolVarP(&opts.lowLatency, "low-latency", "l", false,
		"Request the device's low-latency setting")
	f.BoolVarP(&opts.tui, "tui", "t", false, "Show the terminal meter")
	f.StringVar(&opts.logFile, "log-file", "", "Write logs to this file (logs are discarded in TUI mode otherwise)")

	rootCmd.AddCommand(newListCommand(opts), newListenCommand())
	return rootCmd
}

// load reads the configuration and applies flags the user set explicitly.
func (o *options) load(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.LoadConfig(o.configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Audio.Backend = o.backend
	}
	if flags.Changed("device") {
		cfg.Audio.InputDevice = o.device
	}
	if flags.Changed("log-level") {
		cfg.LogLevel = o.logLevel
	}
	if flags.Changed("sample-rate") {
		cfg.Audio.SampleRate = o.sampleRate
	}
	if flags.Changed("low-latency") {
		cfg.Audio.LowLatency = o.lowLatency
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	level, _ := applog.ParseLevel(cfg.LogLevel)
	applog.SetLevel(level)
	return cfg, nil
}

// Execute runs the command line with args.
func Execute(ctx context.Context, args []string) error {
	rootCmd := NewRootCommand()
	rootCmd.SetArgs(args)
	return rootCmd.ExecuteContext(ctx)
}
