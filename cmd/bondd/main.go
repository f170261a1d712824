package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"dualbond/config"
	"dualbond/observability/logging"
	telemetry "dualbond/observability/otel"
	"dualbond/services/bondd"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./bondd.toml", "path to node configuration")
	flag.Parse()

	env := strings.TrimSpace(os.Getenv("BONDD_ENV"))
	logger := logging.Setup("bondd", env, logging.Options{Level: os.Getenv("BONDD_LOG_LEVEL")})
	if err := run(cfgPath, env, logger); err != nil {
		logger.Error("bondd stopped", slog.Any("error", err))
		os.Exit(1)
	}
}

func run(cfgPath, env string, logger *slog.Logger) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	if env == "" {
		env = cfg.Env
	}
	logger = logging.Setup("bondd", env, logging.Options{Level: cfg.LogLevel})
	logger.Info("config loaded",
		slog.String("path", cfgPath),
		slog.String("data_dir", cfg.DataDir),
		slog.String("journal_dsn", cfg.JournalDSN),
		slog.String("rpc_url", cfg.Oracle.RPCURL),
		slog.Int("programs", len(cfg.Programs)),
		slog.Bool("webhook", cfg.Webhook.Enabled()))

	shutdownTelemetry, err := telemetry.Init(context.Background(), telemetry.Config{
		ServiceName: "bondd",
		Environment: env,
		Endpoint:    cfg.Telemetry.Endpoint,
		Insecure:    cfg.Telemetry.Insecure,
		Headers:     telemetry.ParseHeaders(cfg.Telemetry.Headers),
		Metrics:     cfg.Telemetry.Metrics,
		Traces:      cfg.Telemetry.Traces,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(ctx); err != nil {
			logger.Warn("telemetry shutdown failed", slog.Any("error", err))
		}
	}()

	node, err := bondd.Build(cfg, cfgPath, bondd.Options{}, logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := node.Close(); err != nil {
			logger.Warn("node close failed", slog.Any("error", err))
		}
	}()

	server := &http.Server{
		Addr:              cfg.ListenAddress,
		Handler:           node.Handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.Oracle.Timeout.Duration*time.Duration(len(cfg.Oracle.Windows())) + 15*time.Second,
		IdleTimeout:       60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	listener, err := net.Listen("tcp", cfg.ListenAddress)
	if err != nil {
		return err
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("listening", slog.String("address", listener.Addr().String()), slog.Int("bonds", len(node.Engines)))
		if err := server.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case err := <-serveErr:
		return err
	case <-ctx.Done():
	}
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
