// Command seed runs the building record reconciliation service and its
// batch pipeline steps.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/afrojet/seed/internal/cli"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cli.Execute(ctx); err != nil {
		cancel()
		os.Exit(1)
	}
}
