package main

import (
	"context"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"

	"github.com/DrayChou/gaccode-statusline/internal/config"
	"github.com/DrayChou/gaccode-statusline/internal/logging"
	"github.com/DrayChou/gaccode-statusline/internal/render"
	"github.com/DrayChou/gaccode-statusline/internal/statusline"
)

func main() {
	// Load configuration
	configPath := os.Getenv("CONFIG_PATH")

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Configuration error: %v", err)
	}

	// Initialize logging. Stdout belongs to the status line; logs go
	// to a file or stderr only.
	logger, err := logging.Init(cfg.Logging.Level, cfg.Logging.Output)
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}

	// The host consumes stdout through a pipe but renders escape codes
	// itself, so force colors on.
	render.EnableANSIColor()

	line, err := statusline.Run(context.Background(), os.Stdin, cfg)
	if err != nil {
		logger.Fatalf("Status line failed: %v", err)
	}

	fmt.Println(line)
}
