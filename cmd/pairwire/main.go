package main

import (
	"context"
	"log"

	"github.com/joho/godotenv"

	"pairwire/internal/app"
	"pairwire/pkg/config"
	"pairwire/pkg/logger"
	"pairwire/pkg/shutdown"
)

// set via ldflags during build/release
var version = "dev"

func main() {
	_ = godotenv.Load(".env")

	addrVal, dbVal, cfgVal, setFlags := config.ParseCommandFlags()
	cfgPath := config.ResolveConfigPath(cfgVal, setFlags["config"])

	cfg, err := config.Load(cfgPath)
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}
	// explicit flags win over config/env
	if setFlags["addr"] {
		host, port, ok := config.SplitHostPort(addrVal)
		if !ok {
			log.Fatalf("invalid -addr value %q", addrVal)
		}
		cfg.Server.Address = host
		cfg.Server.Port = port
	}
	if setFlags["db"] {
		cfg.Storage.DBPath = dbVal
	}

	logger.Init(cfg.Logging.Level)

	a, err := app.New(cfg, version)
	if err != nil {
		log.Fatalf("failed to start: %v", err)
	}

	ctx, cancel := shutdown.SetupSignalHandler(context.Background())
	defer cancel()
	if err := a.Run(ctx); err != nil {
		log.Fatalf("server exited: %v", err)
	}
}
