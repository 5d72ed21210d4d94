package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"linerelay/core"
	"linerelay/core/providers"
	"linerelay/storage"

	"github.com/common-nighthawk/go-figure"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const shutdownTimeout = 5 * time.Second

func newServeCmd() *cobra.Command {
	configPath := os.Getenv("CONFIG_PATH")
	if configPath == "" {
		configPath = "config.yaml"
	}

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), configPath)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", configPath, "Path to the YAML config file (env CONFIG_PATH)")

	return cmd
}

func runServe(ctx context.Context, configPath string) error {
	if ctx == nil {
		ctx = context.Background()
	}

	config, err := loadConfig(configPath)
	if err != nil {
		return err
	}

	logger := newLogger(config)
	displayAppname(config.Core.Title)

	store, err := openStore(ctx, config.DB, logger)
	if err != nil {
		return err
	}
	defer store.Close()

	if config.Crypto.EncryptionKey != "" {
		crypto, err := core.NewCryptoService(config.Crypto.EncryptionKey)
		if err != nil {
			return fmt.Errorf("failed to initialize crypto service: %w", err)
		}
		store = core.NewSealedStore(store, crypto)
		logger.Info().Msg("provider tokens are encrypted at rest")
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	metrics := core.NewMetrics(registry)

	provider := providers.NewLineProvider(&config.Line, metrics)
	flow := core.NewLoginFlow(store, provider, metrics, logger)
	sessions := core.NewSessionService(store, provider, metrics, logger)
	server := core.NewServer(flow, sessions, &config.Core, logger).
		WithMetricsHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	httpServer := &http.Server{
		Addr:              ":" + config.Port,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", httpServer.Addr).Str("db", config.DB.Type).Msg("starting linerelay server")
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- fmt.Errorf("server.ListenAndServe: %w", err)
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}

	logger.Info().Msg("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func newLogger(config *AppConfig) zerolog.Logger {
	level, err := zerolog.ParseLevel(config.LogLevel)
	if err != nil || config.LogLevel == "" {
		level = zerolog.InfoLevel
	}

	var logger zerolog.Logger
	if config.Core.Production {
		logger = zerolog.New(os.Stdout)
	} else {
		logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339})
	}

	return logger.Level(level).With().Timestamp().Logger()
}

func openStore(ctx context.Context, config DBConfig, logger zerolog.Logger) (core.SessionStore, error) {
	switch config.Type {
	case dbTypeSQLite:
		store, err := storage.NewSQLiteStore(config.SQLitePath)
		if err != nil {
			return nil, fmt.Errorf("failed to initialize SQLite store: %w", err)
		}
		logger.Info().Str("path", config.SQLitePath).Msg("using SQLite database")
		return store, nil

	case dbTypeYDB:
		store, err := storage.NewYDBStore(ctx, storage.YDBOptions{
			DSN:                   config.YDB.DSN,
			ServiceAccountKeyFile: config.YDB.ServiceAccountKeyFile,
			MetadataCredentials:   config.YDB.MetadataCredentials,
			TablePathPrefix:       config.YDB.TablePathPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to initialize YDB store: %w", err)
		}
		logger.Info().Msg("using YDB database")
		return store, nil

	case dbTypeRedis:
		client := redis.NewClient(&redis.Options{
			Addr:     config.Redis.Addr,
			Password: config.Redis.Password,
			DB:       config.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		logger.Info().Str("addr", config.Redis.Addr).Msg("using Redis store")
		return storage.NewRedisStore(client, config.Redis.KeyPrefix), nil

	case dbTypeMemory:
		logger.Warn().Msg("using in-memory store; sessions are lost on restart")
		return storage.NewMemoryStore(), nil

	default:
		return nil, fmt.Errorf("unsupported DB type: %s", config.Type)
	}
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
