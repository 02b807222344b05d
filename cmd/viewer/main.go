// Command viewer joins a live session from the terminal.
package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"live-session/internal/logging"
	"live-session/internal/viewer"
)

func main() {
	cfg, err := viewer.ParseConfig(flag.CommandLine, os.Args[1:])
	if err != nil {
		log.Fatalf("parse flags: %v", err)
	}
	logger, err := logging.New(cfg.Debug, "live-viewer")
	if err != nil {
		log.Fatalf("build logger: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := viewer.Run(ctx, cfg, os.Stdin, os.Stdout, logger); err != nil {
		log.Fatalf("viewer: %v", err)
	}
}
