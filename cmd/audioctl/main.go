package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/ledctl/internal/audio"
	"github.com/danmuck/ledctl/internal/logging"
	"github.com/danmuck/ledctl/internal/observability"
	"github.com/danmuck/ledctl/internal/peer"
)

func main() {
	path := flag.String("config", "", "path to audioctl config (defaults when empty)")
	flag.Parse()

	logging.ConfigureRuntime("audioctl")
	if err := run(*path); err != nil {
		fmt.Fprintf(os.Stderr, "audioctl: %v\n", err)
		os.Exit(1)
	}
}

func run(path string) error {
	cfg, err := loadServiceConfig(path)
	if err != nil {
		return err
	}
	observability.RegisterMetrics()
	cfg.Peer.Observer = observability.NewChannelMetrics("audioctl")
	client, err := peer.New(cfg.Peer)
	if err != nil {
		return err
	}

	producer := audio.NewProducer(cfg.Audio, nil)
	client.Setup(producer.Install)
	client.OnSession(producer.Run)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return client.Run(ctx)
}
