// SPDX-License-Identifier: MIT
package cmd

import (
	"context"
	"fmt"
	"io"
	"net"

	applog "micscope/internal/log"
	"micscope/internal/transport/udp"

	"github.com/spf13/cobra"
)

func newListenCommand() *cobra.Command {
	var (
		addr  string
		count int
	)
	listenCmd := &cobra.Command{
		Use:   "listen",
		Short: "Print summary packets received over UDP",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listen(cmd.Context(), addr, count, cmd.OutOrStdout(), nil)
		},
	}
	listenCmd.Flags().StringVarP(&addr, "addr", "a", "127.0.0.1:9090", "UDP address to listen on")
	listenCmd.Flags().IntVarP(&count, "count", "n", 0, "Exit after this many packets (0 for no limit)")
	return listenCmd
}

// listen decodes datagrams on addr until ctx is done or count packets were
// printed. ready, when non-nil, receives the bound address.
func listen(ctx context.Context, addr string, count int, w io.Writer, ready chan<- net.Addr) error {
	conn, err := net.ListenPacket("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on '%s': %w", addr, err)
	}
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	applog.Infof("listen: Waiting for packets on %s", conn.LocalAddr())
	if ready != nil {
		ready <- conn.LocalAddr()
	}

	buf := make([]byte, 1<<16)
	for printed := 0; count == 0 || printed < count; {
		n, from, err := conn.ReadFrom(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("failed to read packet: %w", err)
		}
		p, err := udp.DecodePacket(buf[:n])
		if err != nil {
			applog.Warnf("listen: Dropping packet from %s: %v", from, err)
			continue
		}

		pulse := ""
		if p.Pulse {
			pulse = " pulse"
		}
		fmt.Fprintf(w, "#%-6d %-8s avg %5.1f  peak %7.1f Hz  rms %.3f  bins %d%s\n",
			p.Seq, p.Status, p.Average, p.PeakHz, p.RMS, len(p.Spectrum), pulse)
		printed++
	}
	return nil
}
