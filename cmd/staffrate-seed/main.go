// Command staffrate-seed provisions staff members into a shared rating store
// and prints its current state.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/okian/staffrate/pkg/logger"
)

func main() {
	if err := logger.Init(logger.WithWriter(os.Stderr)); err != nil {
		os.Stderr.WriteString("failed to initialize logging: " + err.Error() + "\n")
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
