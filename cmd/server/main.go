package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"github.com/brandon/onebox/internal/api"
	"github.com/brandon/onebox/internal/classify"
	"github.com/brandon/onebox/internal/config"
	"github.com/brandon/onebox/internal/index"
	"github.com/brandon/onebox/internal/ingest"
	"github.com/brandon/onebox/internal/notify"
	"github.com/brandon/onebox/internal/parse"
)

var (
	version     = "dev"
	showVersion = flag.Bool("version", false, "Show version information")
)

func main() {
	flag.Parse()

	if *showVersion {
		fmt.Printf("onebox version %s\n", version)
		os.Exit(0)
	}

	// Set up logging
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	logger.SetOutput(os.Stdout)

	// Load configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		logger.WithError(err).Fatal("Invalid configuration")
	}

	// Set log level
	level, err := logrus.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = logrus.InfoLevel
	}
	logger.SetLevel(level)

	logger.Info("Starting onebox email server")

	// Initialize the search index
	idx, err := index.Open(cfg.IndexPath, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to open search index")
	}
	defer idx.Close()

	// Pipeline stages
	parser := parse.NewParser(logger)
	inference := classify.NewZeroShotClient(cfg.ClassifierURL, cfg.ClassifierToken)
	classifier := classify.NewClassifier(inference, cfg.ClassifierThreshold,
		cfg.ClassifierMaxChars, cfg.ClassifierMaxConcurrent, logger)
	writer := index.NewWriter(idx, logger)

	var sinks []notify.Sink
	if cfg.SlackWebhookURL != "" {
		sinks = append(sinks, notify.NewSlackSink(cfg.SlackWebhookURL))
	}
	if cfg.WebhookURL != "" {
		sinks = append(sinks, notify.NewWebhookSink(cfg.WebhookURL))
	}
	dispatcher := notify.NewDispatcher(sinks, cfg.TriggerCategories, logger)

	dial := func(ctx context.Context, account *config.AccountConfig) (ingest.Session, error) {
		return ingest.Dial(ctx, account, logger)
	}

	scheduler := ingest.NewScheduler(dial, parser, classifier, writer, dispatcher, cfg, logger)
	manager := ingest.NewManager(cfg, dial, scheduler, logger)

	server := api.NewServer(cfg, idx, manager, logger)

	// Set up signal handling for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	manager.Start(ctx)

	// Run the HTTP API in a goroutine
	errChan := make(chan error, 1)
	go func() {
		if err := server.Run(ctx); err != nil {
			errChan <- err
		}
	}()

	// Wait for shutdown signal or error
	select {
	case sig := <-sigChan:
		logger.WithField("signal", sig).Info("Received shutdown signal")
		cancel()
	case err := <-errChan:
		logger.WithError(err).Error("Server error")
		cancel()
	}

	logger.Info("Shutting down, draining in-flight work")
	manager.Shutdown(cfg.ShutdownGrace)
	logger.Info("Shutdown complete")
}
