package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/storacha/linkdex/cmd"
	"github.com/storacha/linkdex/internal/output"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cmd.ExecuteContext(ctx); err != nil {
		output.New(os.Stdout, os.Stderr, false).Error(err)
		stop()
		os.Exit(1)
	}
}
