package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/roffe/kefexcan/cmd/kefextool/cmd"
	// Init channels
	_ "github.com/roffe/kefexcan/adapter"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := cmd.Execute(ctx); err != nil {
		os.Exit(1)
	}
}
