package main

import (
	"context"
	"os/signal"
	"syscall"

	"github.com/classhall/standings/app/worker"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	app, err := worker.Initialize(ctx)
	if err != nil {
		panic(err)
	}

	// Health probes
	app.SetupServer()

	// Blocks until shutdown
	app.Start(ctx)
}
