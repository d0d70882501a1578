package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/ledctl/internal/logging"
	"github.com/danmuck/ledctl/internal/server"
)

func main() {
	path := flag.String("config", "", "path to ledctl config (defaults when empty)")
	flag.Parse()

	logging.ConfigureRuntime("ledctl")
	cfg, err := loadServiceConfig(*path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledctl: %v\n", err)
		os.Exit(1)
	}
	svc, err := server.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ledctl: %v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := svc.Run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "ledctl: %v\n", err)
		os.Exit(1)
	}
}
