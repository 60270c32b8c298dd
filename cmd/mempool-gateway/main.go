package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/chainrelay/mempool-gateway/api"
	"github.com/chainrelay/mempool-gateway/hub"
	"github.com/chainrelay/mempool-gateway/internal/config"
	"github.com/chainrelay/mempool-gateway/internal/logger"
	"github.com/chainrelay/mempool-gateway/retention"
	"github.com/chainrelay/mempool-gateway/store"
	"github.com/chainrelay/mempool-gateway/supervisor"
	"github.com/chainrelay/mempool-gateway/upstream"
)

var (
	version = "dev"
	commit  = "none"
)

const defaultRetentionWindow = 24 * time.Hour

func main() {
	var (
		configFile  = flag.String("config", "", "Path to configuration file (YAML)")
		showVersion = flag.Bool("version", false, "Show version information and exit")
		port        = flag.Int("port", 0, "HTTP port for the query surface")
		dbPath      = flag.String("db", "", "PebbleDB directory")
		logLevel    = flag.String("log-level", "", "Log level (debug, info, warn, error)")
	)
	flag.Parse()

	if *showVersion {
		fmt.Printf("mempool-gateway version %s (%s)\n", version, commit)
		os.Exit(0)
	}

	cfg, err := loadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}
	applyFlags(cfg, *port, *dbPath, *logLevel)

	log, err := initLogger(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	log.Info("starting mempool gateway",
		zap.String("version", version),
		zap.String("commit", commit),
		zap.Int("chains", len(cfg.Chains)),
		zap.String("db_path", cfg.DBPath),
	)

	if err := run(cfg, log); err != nil {
		log.Error("mempool gateway exited with error", zap.Error(err))
		os.Exit(1)
	}
	log.Info("mempool gateway stopped cleanly")
}

func run(cfg *config.Config, log *zap.Logger) error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

	db, err := store.Open(cfg.DBPath, log)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("failed to close store", zap.Error(err))
		}
	}()

	h := hub.New(log)
	go h.Run()
	defer h.Stop()

	metrics := upstream.NewMetrics(prometheus.DefaultRegisterer)

	sv := supervisor.New(cfg, db, h, log, metrics)
	if err := sv.Start(ctx); err != nil {
		return fmt.Errorf("start supervisor: %w", err)
	}
	defer sv.Stop()

	sweeper := retention.New(db, log, defaultRetentionWindow, 0)
	go sweeper.Run(ctx)

	apiConfig := api.DefaultConfig()
	apiConfig.Port = cfg.Port
	apiServer, err := api.NewServer(apiConfig, log, db, h, sv)
	if err != nil {
		return fmt.Errorf("create query surface: %w", err)
	}

	serverErrCh := make(chan error, 1)
	go func() {
		if err := apiServer.Start(); err != nil {
			serverErrCh <- err
		}
	}()

	log.Info("mempool gateway ready", zap.String("address", apiConfig.Address()))

	select {
	case sig := <-sigCh:
		log.Info("received shutdown signal", zap.String("signal", sig.String()))
	case err := <-serverErrCh:
		log.Error("query surface failed", zap.Error(err))
	case <-ctx.Done():
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()
	if err := apiServer.Stop(shutdownCtx); err != nil {
		log.Error("failed to stop query surface gracefully", zap.Error(err))
	}

	cancel()
	return nil
}

func loadConfig(configFile string) (*config.Config, error) {
	if err := loadDotEnv(); err != nil {
		return nil, err
	}
	return config.Load(configFile)
}

func loadDotEnv() error {
	info, err := os.Stat(".env")
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("stat .env: %w", err)
	}
	if info.IsDir() {
		return fmt.Errorf(".env exists but is a directory")
	}
	if err := godotenv.Load(".env"); err != nil {
		return fmt.Errorf("load .env: %w", err)
	}
	return nil
}

func applyFlags(cfg *config.Config, port int, dbPath, logLevel string) {
	if port > 0 {
		cfg.Port = port
	}
	if dbPath != "" {
		cfg.DBPath = dbPath
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
}

func initLogger(level, format string) (*zap.Logger, error) {
	return logger.NewWithConfig(logger.Config{
		Level:       level,
		Format:      format,
		Development: format == "console",
	})
}
