package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/ledctl/internal/logging"
	"github.com/danmuck/ledctl/internal/observability"
	"github.com/danmuck/ledctl/internal/peer"
	"github.com/rs/zerolog/log"
)

func main() {
	path := flag.String("config", "", "path to pictl config (defaults when empty)")
	flag.Parse()

	logging.ConfigureRuntime("pictl")
	if err := run(*path); err != nil {
		fmt.Fprintf(os.Stderr, "pictl: %v\n", err)
		os.Exit(1)
	}
}

func run(path string) error {
	cfg, err := loadServiceConfig(path)
	if err != nil {
		return err
	}
	observability.RegisterMetrics()
	cfg.Peer.Observer = observability.NewChannelMetrics("pictl")
	client, err := peer.New(cfg.Peer)
	if err != nil {
		return err
	}

	out := newPWMOutput(cfg.PWMRange, log.With().Str("component", "pwm").Logger())
	client.Setup(out.install)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return client.Run(ctx)
}
