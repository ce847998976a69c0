// SPDX-License-Identifier: MIT
package cmd

import (
	"fmt"
	"io"
	"strconv"

	"micscope/internal/device"
	"micscope/internal/tui"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"
)

func newListCommand(opts *options) *cobra.Command {
	var pick bool

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List available capture devices",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}
			p, err := device.New(cfg.Audio.Backend, cfg.DeviceOptions())
			if err != nil {
				return err
			}
			lister, ok := p.(device.Lister)
			if !ok {
				return fmt.Errorf("backend '%s' cannot list devices", p.Name())
			}

			if pick {
				d, ok, err := tui.PickDevice(lister)
				if err != nil || !ok {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "audio:\n  backend: %s\n  input_device: %d\n", p.Name(), d.ID)
				return nil
			}

			devices, err := lister.Devices()
			if err != nil {
				return fmt.Errorf("failed to list devices: %w", err)
			}
			writeDevices(cmd.OutOrStdout(), devices)
			return nil
		},
	}
	listCmd.Flags().BoolVarP(&pick, "pick", "p", false, "Choose a device interactively and print its config")
	return listCmd
}

// writeDevices renders devices as a table; the default input is starred.
func writeDevices(w io.Writer, devices []device.Info) {
	if len(devices) == 0 {
		fmt.Fprintln(w, "No audio devices found.")
		return
	}

	t := table.New().
		Border(lipgloss.NormalBorder()).
		Headers("ID", "NAME", "TYPE", "IN", "OUT", "RATE")
	for _, d := range devices {
		id := strconv.Itoa(d.ID)
		if d.Default {
			id += "*"
		}
		t.Row(id, d.Name, d.Type(),
			strconv.Itoa(d.MaxInputChannels),
			strconv.Itoa(d.MaxOutputChannels),
			fmt.Sprintf("%.0f Hz", d.DefaultSampleRate))
	}
	fmt.Fprintln(w, t.Render())
}
