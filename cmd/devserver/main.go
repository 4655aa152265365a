package main

import (
	"log"

	"pawmart/internal/devserver"
	"pawmart/pkg/config"
	"pawmart/pkg/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load configuration: %v", err)
	}

	srv := devserver.NewServer(cfg.JWTSecret)
	logger.Info("dev chat backend listening on :%s", cfg.DevServerPort)
	if err := srv.Start(cfg.DevServerPort); err != nil {
		log.Fatalf("Server stopped: %v", err)
	}
}
