package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/GriffinCanCode/appruntime/internal/infrastructure/config"
	"github.com/GriffinCanCode/appruntime/internal/infrastructure/logging"
	"github.com/GriffinCanCode/appruntime/internal/infrastructure/server"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	// Flags override the environment
	flag.StringVar(&cfg.Server.Port, "port", cfg.Server.Port, "Admin API port")
	flag.StringVar(&cfg.Server.Host, "host", cfg.Server.Host, "Admin API host")
	flag.StringVar(&cfg.Storage.Root, "root", cfg.Storage.Root, "Storage root holding built-in and installed apps")
	flag.StringVar(&cfg.Storage.SeedDir, "seed", cfg.Storage.SeedDir, "Directory of unpacked apps copied into the built-in location")
	flag.StringVar(&cfg.Runtime.HomePackage, "home", cfg.Runtime.HomePackage, "Package launched as home")
	flag.BoolVar(&cfg.Runtime.WatchApps, "watch", cfg.Runtime.WatchApps, "Rescan when the installed apps directory changes")
	flag.BoolVar(&cfg.Runtime.DebugLeaks, "debug-leaks", cfg.Runtime.DebugLeaks, "Verify resources are released on destroy")
	flag.BoolVar(&cfg.Logging.Development, "dev", cfg.Logging.Development, "Development logging")
	flag.Parse()

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	logCfg := logging.DefaultConfig()
	if cfg.Logging.Development {
		logCfg = logging.DevelopmentConfig()
	} else {
		logCfg.Level = cfg.Logging.Level
	}
	logger, err := logging.New(logCfg)
	if err != nil {
		log.Fatalf("Failed to create logger: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv, err := server.NewServer(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("Failed to create server", zap.Error(err))
	}
	defer srv.Close()

	if err := srv.Run(ctx); err != nil {
		logger.Error("Runtime stopped with error", zap.Error(err))
		srv.Close()
		os.Exit(1)
	}
	logger.Info("Shut down gracefully")
}
