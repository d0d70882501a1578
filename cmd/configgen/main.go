package main

import (
	"flag"
	"log"

	"github.com/danmuck/ledctl/internal/config"
)

func defaultPath(kind string) (string, bool) {
	switch kind {
	case config.KindServer:
		return "cmd/ledctl/config.toml", true
	case config.KindAudio:
		return "cmd/audioctl/config.toml", true
	case config.KindPi:
		return "cmd/pictl/config.toml", true
	default:
		return "", false
	}
}

func main() {
	kind := flag.String("kind", config.KindServer, "config kind: ledctl|audioctl|pictl")
	output := flag.String("output", "", "output path for config template")
	validate := flag.Bool("validate", false, "validate an existing config file")
	input := flag.String("input", "", "config path for validation (defaults to per-kind cmd path)")
	force := flag.Bool("force", false, "overwrite existing config file")
	flag.Parse()

	if *validate {
		path := *input
		if path == "" {
			p, ok := defaultPath(*kind)
			if !ok {
				log.Fatalf("unknown kind: %s", *kind)
			}
			path = p
		}
		if err := config.ValidateFile(*kind, path); err != nil {
			log.Fatal(err)
		}
		log.Printf("Validated %s config at %s", *kind, path)
		return
	}

	target := *output
	if target == "" {
		p, ok := defaultPath(*kind)
		if !ok {
			log.Fatalf("unknown kind: %s", *kind)
		}
		target = p
	}

	if err := config.WriteTemplate(target, *kind, *force); err != nil {
		log.Fatal(err)
	}
	log.Printf("Wrote %s config template to %s", *kind, target)
}
