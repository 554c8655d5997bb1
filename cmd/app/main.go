package main

import (
	"flag"
	"log"
	"os"

	"NiftyQuant/internal/di"
	"NiftyQuant/pkg/config"
)

func main() {
	configPath := flag.String("config", "config/config.yaml", "config file path")
	flag.Parse()

	cfg, err := config.LoadWithEnv(*configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	log.Printf("env=%s source=%s symbol=%s results=%s models=%s",
		cfg.Environment, cfg.Source.Type, cfg.Source.Symbol, cfg.Store.Results, cfg.Store.Models)

	app, cleanup, err := di.InitializeApp(cfg)
	if err != nil {
		log.Fatalf("app initialization failed: %v", err)
	}

	err = app.Run()
	cleanup()
	if err != nil {
		log.Printf("app error: %v", err)
		os.Exit(1)
	}
}
