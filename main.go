// SPDX-License-Identifier: MIT
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"micscope/cmd"
	applog "micscope/internal/log"
)

// main runs the command line until it finishes or a termination signal
// arrives. Cancellation flows through the context: capture stops, then the
// publisher, then the transports.
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := cmd.Execute(ctx, os.Args[1:])
	stop()
	if err != nil {
		applog.Fatalf("%v", err)
	}
}
