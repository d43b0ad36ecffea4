// Command querycache runs a query cache node: it connects the shared Redis
// tier, serves the admin gRPC service and exposes Prometheus metrics until
// it receives SIGINT or SIGTERM.
//
// Settings come from the environment, optionally seeded from a .env file in
// the working directory. See package config for the variables.
package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Keksclan/querycache"
	"github.com/Keksclan/querycache/admin"
	"github.com/Keksclan/querycache/cache"
	"github.com/Keksclan/querycache/config"
	"github.com/Keksclan/querycache/internal/logging"
	"github.com/Keksclan/querycache/tracing"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "querycache: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// A missing .env file is fine; the environment alone is enough.
	_ = godotenv.Load()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		return err
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogFormat)
	if err != nil {
		return err
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	opts := []querycache.Option{
		querycache.WithL1Capacity(cfg.L1MaxEntries),
		querycache.WithL1MaxTTL(cfg.L1MaxTTL),
		querycache.WithRemoteTimeout(cfg.RemoteTimeout),
		querycache.WithLogger(log),
		querycache.WithRegisterer(reg),
	}
	if cfg.HasRemote() {
		l2, err := cache.NewL2FromURL(cfg.RedisURL, cfg.RedisPassword)
		if err != nil {
			return err
		}
		opts = append(opts, querycache.WithRemote(l2), querycache.WithBroadcast(cfg.InvalidationChannel))
	}
	if cfg.Singleflight {
		opts = append(opts, querycache.WithSingleflight())
	}

	var tracingCfg *tracing.Config
	if cfg.TraceStdout {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("stdout exporter: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		defer func() { _ = tp.Shutdown(context.Background()) }()
		tracingCfg = &tracing.Config{TracerProvider: tp}
		opts = append(opts, querycache.WithTracerProvider(tp))
	}

	qc, err := querycache.New(opts...)
	if err != nil {
		return err
	}
	qc.Init(ctx)

	srv := admin.NewServer(admin.NewHandler(qc),
		admin.WithLogger(log.Named("admin")),
		admin.WithTracing(tracingCfg),
	)
	lis, err := net.Listen("tcp", cfg.AdminAddr)
	if err != nil {
		return multierr.Append(fmt.Errorf("admin listener: %w", err), qc.Close())
	}

	metrics := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           admin.MetricsHandler(reg),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 2)
	go func() {
		log.Info("admin server listening", zap.String("addr", lis.Addr().String()))
		errCh <- srv.Serve(lis)
	}()
	go func() {
		log.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
		if err := metrics.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		log.Info("shutting down")
	case runErr = <-errCh:
		log.Error("server stopped", zap.Error(runErr))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	srv.GracefulStop()
	runErr = multierr.Append(runErr, metrics.Shutdown(shutdownCtx))
	runErr = multierr.Append(runErr, qc.Close())
	return runErr
}
