package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

// Set at build time via -ldflags "-X main.version=..."
var version = "dev"

func main() {
	// Cancels on Ctrl+C and SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := execute(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// execute runs the root command. Shutdown by signal is a clean exit.
func execute(ctx context.Context) error {
	err := rootCmd.ExecuteContext(ctx)
	if err != nil && errors.Is(err, context.Canceled) && ctx.Err() != nil {
		return nil
	}
	return err
}
