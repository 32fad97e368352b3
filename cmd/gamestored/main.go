// gamestored is the game store service daemon.
//
// Usage:
//
//	gamestored <command> [flags]
//
// Commands:
//
//	serve     Run the HTTP service
//	migrate   Create event log tables and document store indices
//	version   Show version information
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"

	"github.com/playvault/gamestore"
	"github.com/playvault/gamestore/analytics"
	"github.com/playvault/gamestore/catalog"
	"github.com/playvault/gamestore/codec/msgpack"
	"github.com/playvault/gamestore/config"
	"github.com/playvault/gamestore/docstore"
	dselastic "github.com/playvault/gamestore/docstore/elastic"
	dsmemory "github.com/playvault/gamestore/docstore/memory"
	"github.com/playvault/gamestore/eventlog"
	elmemory "github.com/playvault/gamestore/eventlog/memory"
	elpostgres "github.com/playvault/gamestore/eventlog/postgres"
	"github.com/playvault/gamestore/httpapi"
	"github.com/playvault/gamestore/middleware/metrics"
	"github.com/playvault/gamestore/middleware/tracing"
	"github.com/playvault/gamestore/orders"
	"github.com/playvault/gamestore/relay"
	relaykafka "github.com/playvault/gamestore/relay/kafka"
)

// Build information (set via ldflags).
var (
	version   = "dev"
	commit    = "none"
	buildDate = "unknown"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:           "gamestored",
		Short:         "Event-sourced game store service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", config.ConfigFileName, "Path to the configuration file")

	root.AddCommand(newServeCommand(&configPath))
	root.AddCommand(newMigrateCommand(&configPath))
	root.AddCommand(newVersionCommand())
	return root
}

func newServeCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg)
		},
	}
}

func newMigrateCommand(configPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create event log tables and document store indices",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*configPath)
			if err != nil {
				return err
			}
			return migrate(cmd.Context(), cfg)
		},
	}
}

func newVersionCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Show version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("gamestored %s (commit %s, built %s)\n", version, commit, buildDate)
		},
	}
}

// backends holds the wired infrastructure for the configured drivers.
type backends struct {
	adapter eventlog.Adapter
	source  relay.Source
	store   docstore.Store
	esStore *dselastic.Store
}

func buildBackends(cfg *config.Config) (*backends, error) {
	b := &backends{}

	switch cfg.EventLog.Driver {
	case "postgres":
		pg, err := elpostgres.NewAdapter(cfg.EventLog.URL, elpostgres.WithSchema(cfg.EventLog.Schema))
		if err != nil {
			return nil, err
		}
		b.adapter = pg
		b.source = pg
	case "memory":
		mem := elmemory.NewAdapter()
		b.adapter = mem
		b.source = mem
	}

	switch cfg.DocStore.Driver {
	case "elastic":
		var opts []dselastic.Option
		if cfg.DocStore.Username != "" {
			opts = append(opts, dselastic.WithBasicAuth(cfg.DocStore.Username, cfg.DocStore.Password))
		}
		es, err := dselastic.NewStore(cfg.DocStore.Addresses, opts...)
		if err != nil {
			b.adapter.Close()
			return nil, err
		}
		b.store = es
		b.esStore = es
	case "memory":
		b.store = dsmemory.NewStore()
	}

	return b, nil
}

func migrate(ctx context.Context, cfg *config.Config) error {
	b, err := buildBackends(cfg)
	if err != nil {
		return err
	}
	defer b.adapter.Close()
	defer b.store.Close()

	if err := b.adapter.Initialize(ctx); err != nil {
		return fmt.Errorf("event log migration failed: %w", err)
	}
	if b.esStore != nil {
		if err := b.esStore.Initialize(ctx); err != nil {
			return fmt.Errorf("document store migration failed: %w", err)
		}
	}

	fmt.Println("migration complete")
	return nil
}

func serve(ctx context.Context, cfg *config.Config) error {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))

	m := metrics.New(metrics.WithServiceName(cfg.Observability.ServiceName))
	m.MustRegister()

	if cfg.Observability.Tracing {
		exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
		if err != nil {
			return fmt.Errorf("tracing setup failed: %w", err)
		}
		tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
		otel.SetTracerProvider(tp)
		defer func() {
			_ = tp.Shutdown(context.Background())
		}()
	}
	tracer := tracing.NewTracer(tracing.WithServiceName(cfg.Observability.ServiceName))

	b, err := buildBackends(cfg)
	if err != nil {
		return err
	}
	defer b.adapter.Close()
	defer b.store.Close()

	if err := b.adapter.Initialize(ctx); err != nil {
		return fmt.Errorf("event log initialization failed: %w", err)
	}
	if b.esStore != nil {
		if err := b.esStore.Initialize(ctx); err != nil {
			return fmt.Errorf("document store initialization failed: %w", err)
		}
	}

	adapter := eventlog.Adapter(m.WrapEventLog(tracing.WrapEventLog(b.adapter, tracer)))
	store := docstore.Store(m.WrapStore(tracing.WrapStore(b.store, tracer)))

	logOpts := []eventlog.Option{eventlog.WithLogger(logger)}
	if cfg.EventLog.Codec == "msgpack" {
		logOpts = append(logOpts, eventlog.WithCodec(msgpack.New()))
	}
	events := eventlog.New(adapter, logOpts...)

	catalogSvc := catalog.New(events, store, catalog.WithLogger(logger))
	ordersSvc := orders.New(events, store, orders.WithLogger(logger))
	analyticsSvc := analytics.New(store)

	if len(cfg.Relay.Brokers) > 0 {
		publisher := relaykafka.New(cfg.Relay.Brokers)
		rly := relay.New(b.source, publisher,
			relay.WithTopicPrefix(cfg.Relay.TopicPrefix),
			relay.WithPollInterval(cfg.Relay.PollInterval),
			relay.WithBatchSize(cfg.Relay.BatchSize),
			relay.WithLogger(logger),
		)
		if err := rly.Start(ctx); err != nil {
			return err
		}
		defer func() {
			stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
			defer cancel()
			if err := rly.Stop(stopCtx); err != nil {
				logger.Error("relay shutdown failed", "error", err)
			}
			if err := publisher.Close(); err != nil {
				logger.Error("publisher close failed", "error", err)
			}
		}()
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), m.GinMiddleware())

	api := httpapi.New(catalogSvc, ordersSvc, analyticsSvc, httpapi.WithLogger(logger))
	api.Register(router.Group("/api"))

	router.GET("/healthz", func(c *gin.Context) {
		if err := store.Ping(c.Request.Context()); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{"status": "degraded", "error": err.Error()})
			return
		}
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	server := &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server listening", "addr", cfg.Server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errCh:
		return err
	case sig := <-stop:
		logger.Info("shutting down", "signal", sig.String())
	case <-ctx.Done():
		logger.Info("shutting down", "reason", "context cancelled")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// slog.Logger satisfies gamestore.Logger.
var _ gamestore.Logger = (*slog.Logger)(nil)
