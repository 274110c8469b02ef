package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/librescoot/uart-wakeup-service/internal/config"
	"github.com/librescoot/uart-wakeup-service/internal/logging"
	"github.com/librescoot/uart-wakeup-service/internal/service"
	"go.uber.org/zap"
)

var version = "dev"

func main() {
	cfg := config.New()
	if err := cfg.Parse(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid arguments: %v\n", err)
		os.Exit(2)
	}

	if cfg.ShowVersion {
		fmt.Printf("uart-wakeup %s\n", version)
		return
	}

	logger, err := logging.New(cfg.Logging())
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to create logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := cfg.Validate(); err != nil {
		logger.Fatal("Invalid configuration", zap.Error(err))
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	svc, err := service.New(cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create service", zap.Error(err))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigChan
		logger.Info("Received termination signal")
		cancel()
	}()

	logger.Info("Starting uart wakeup service", zap.String("version", version), zap.String("port", cfg.Port))
	if err := svc.Run(ctx); err != nil {
		logger.Fatal("Service failed", zap.Error(err))
	}
}
