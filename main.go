package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"curator/internal/app"
	"curator/internal/config"
)

func main() {
	// stdout carries the MCP protocol; keep logs on stderr.
	log.SetOutput(os.Stderr)

	cfg, err := config.Load(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if err := run(cfg); err != nil {
		log.Fatalf("curator: %v", err)
	}
}

func run(cfg *config.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	if cfg.MCP {
		log.Println("[MCP] Starting standalone stdio server...")
		return a.ServeMCP(ctx)
	}
	return a.Run(ctx)
}
