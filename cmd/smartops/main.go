package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"smartops/internal/catalog"
	"smartops/internal/config"
	"smartops/internal/database"
	"smartops/internal/decision"
	"smartops/internal/executor"
	"smartops/internal/metrics"
	"smartops/internal/ops"
	"smartops/internal/queue"
	"smartops/internal/web"
)

func main() {
	configFile := flag.String("config", "config.yaml", "Configuration file path")
	version := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *version {
		fmt.Printf("SmartOps autonomous operations engine v1.0.0\n")
		os.Exit(0)
	}

	cfg, err := config.Load(*configFile)
	if err != nil {
		logrus.Fatalf("Failed to load config: %v", err)
	}

	setupLogging(cfg.Logging)

	logrus.WithFields(logrus.Fields{
		"config_file": *configFile,
		"port":        cfg.Server.Port,
	}).Info("Starting SmartOps engine")

	store, err := database.NewBoltStore(cfg.Database.Path)
	if err != nil {
		logrus.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	metricsQueue, err := queue.NewBoltQueue(store.DB())
	if err != nil {
		logrus.Fatalf("Failed to initialize metrics queue: %v", err)
	}

	metricsCollector := metrics.NewCollector(store)

	cat := catalog.New(store, cfg.Executor.CatalogTTL, cfg.Executor.DefaultTimeout)
	exec := executor.New(store, cat, executor.SSHDialer{})

	backend := decision.NewOpenAIBackend(cfg.Decision.APIKey, cfg.Decision.BaseURL, cfg.Decision.Timeout)
	client := decision.NewClient(backend, cfg.Decision.Models, cfg.Decision.Temperature, cfg.Decision.BlacklistTTL)
	client.OnBlacklist = metricsCollector.RecordModelBlacklisted

	crawler := ops.NewCrawler(store, metricsQueue, cat, exec, metricsCollector, ops.CrawlerOptions{
		Interval:   cfg.Crawler.Interval,
		QueueLimit: cfg.Crawler.QueueLimit,
		QueueTTL:   cfg.Crawler.QueueTTL,
	})

	analyzer := ops.NewAnalyzer(store, metricsQueue, cat, exec, client, metricsCollector, ops.AnalyzerOptions{
		Interval:        cfg.Analyzer.Interval,
		MaxMetrics:      cfg.Analyzer.MaxMetrics,
		HistoryLimit:    cfg.Analyzer.HistoryLimit,
		DecisionContext: cfg.Analyzer.DecisionContext,
		AIQueueLimit:    cfg.Analyzer.AIQueueLimit,
		QueueTTL:        cfg.Crawler.QueueTTL,
	})

	webServer := web.NewServer(cfg, store, metricsQueue, cat, exec, crawler, analyzer, metricsCollector)

	// Stream loop executions to websocket clients
	crawler.OnExecution = webServer.BroadcastExecution
	analyzer.OnExecution = webServer.BroadcastExecution

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.Crawler.Enabled {
		if err := crawler.Start(ctx); err != nil {
			logrus.Fatalf("Failed to start crawler: %v", err)
		}
	}
	if cfg.Analyzer.Enabled {
		if err := analyzer.Start(ctx); err != nil {
			logrus.Fatalf("Failed to start analyzer: %v", err)
		}
	}

	go webServer.Start(ctx)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	sig := <-sigChan
	logrus.WithField("signal", sig).Info("Received shutdown signal")

	crawler.Stop()
	analyzer.Stop()
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := webServer.Stop(shutdownCtx); err != nil {
		logrus.WithError(err).Warn("Web server shutdown failed")
	}

	logrus.Info("Shutdown complete")
}

func setupLogging(cfg config.LoggingConfig) {
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	logrus.SetLevel(level)

	if cfg.Format == "json" {
		logrus.SetFormatter(&logrus.JSONFormatter{})
	} else {
		logrus.SetFormatter(&logrus.TextFormatter{
			FullTimestamp: true,
		})
	}
}
