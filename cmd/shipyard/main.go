package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ameistad/shipyard/internal/shipyard"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rootCmd := shipyard.NewRootCmd()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		// Print error once, then exit
		fmt.Fprintln(os.Stderr, err)
		stop()
		os.Exit(1)
	}
}
