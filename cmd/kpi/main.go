package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/wonny/edukpi/cmd/kpi/commands"
)

// main is the entry point for the KPI CLI
// go run ./cmd/kpi [command]
func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := commands.Execute(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}
