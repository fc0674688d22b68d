package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vanshika/umkhondo/internal/auth"
	"github.com/vanshika/umkhondo/internal/category"
	"github.com/vanshika/umkhondo/internal/config"
	"github.com/vanshika/umkhondo/internal/daraja"
	"github.com/vanshika/umkhondo/internal/events"
	"github.com/vanshika/umkhondo/internal/graph"
	"github.com/vanshika/umkhondo/internal/ledger"
	"github.com/vanshika/umkhondo/internal/logging"
	"github.com/vanshika/umkhondo/internal/metrics"
	"github.com/vanshika/umkhondo/internal/payment"
	"github.com/vanshika/umkhondo/internal/phone"
	"github.com/vanshika/umkhondo/internal/server"
	"github.com/vanshika/umkhondo/internal/store"
	"github.com/vanshika/umkhondo/internal/token"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := logging.New(cfg.Logging)
	if err := run(ctx, logger, cfg); err != nil {
		logger.Error("payment service exited", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger, cfg config.Config) error {
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m, err := metrics.New(reg)
	if err != nil {
		return fmt.Errorf("register metrics: %w", err)
	}

	health := server.CompositeHealth{}

	payments, closeStore, err := buildStore(ctx, logger, cfg, health)
	if err != nil {
		return err
	}
	defer closeStore()

	led, closeLedger, err := buildLedger(ctx, logger, cfg)
	if err != nil {
		return err
	}
	defer closeLedger()
	health["ledger"] = server.ProbeFunc(led.Ping)

	publisher := buildPublisher(logger, cfg)
	defer func() {
		if err := publisher.Close(); err != nil {
			logger.Warn("closing event publisher failed", "error", err)
		}
	}()

	directory, err := auth.Open(cfg.Auth.ConfigPath)
	if err != nil {
		return fmt.Errorf("open user directory: %w", err)
	}

	creds := payment.Credentials{
		ConsumerKey:    cfg.Mpesa.ConsumerKey,
		ConsumerSecret: cfg.Mpesa.ConsumerSecret,
		ShortCode:      cfg.Mpesa.ShortCode,
		Passkey:        cfg.Mpesa.Passkey,
		CallbackURL:    cfg.Mpesa.CallbackURL,
	}
	if !creds.Configured() {
		logger.Warn("mpesa credentials are incomplete; payment initiation will be refused")
	}

	gateway, tokens, err := buildGateway(cfg, creds, m)
	if err != nil {
		return err
	}
	logger.Info("payment gateway selected", "gateway", gateway.Name(), "demo_mode", cfg.Mpesa.DemoMode)

	categorizer := category.NewKeyword()
	settlement := payment.NewSettlement(led, directory, publisher, m, logger)

	engine, err := payment.NewEngine(payment.EngineDeps{
		Credentials: creds,
		Gateway:     gateway,
		Tokens:      tokens,
		Guard:       phone.NewGuard(directory),
		Store:       payments,
		Categorizer: categorizer,
		Settlement:  settlement,
		Metrics:     m,
		Logger:      logger,
	})
	if err != nil {
		return fmt.Errorf("build payment engine: %w", err)
	}

	apiHandlers := server.NewAPIHandlers(logger, engine,
		payment.NewStatusService(payments, gateway, tokens, settlement, m, logger),
		payment.NewProcessor(payments, categorizer, settlement, m, logger),
		led)

	deps := server.RouterDependencies{
		Health:           health,
		API:              apiHandlers,
		AllowedOrigins:   cfg.HTTP.AllowedOrigins(),
		AllowCredentials: true,
	}
	if cfg.HTTP.MetricsEnabled {
		deps.Metrics = promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
	}

	srv := server.New(logger, cfg.HTTP, server.NewRouter(logger, deps))

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("server stopped unexpectedly", "error", err)
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", "error", err)
	}
	return nil
}

func buildStore(ctx context.Context, logger *slog.Logger, cfg config.Config, health server.CompositeHealth) (store.Store, func(), error) {
	if cfg.Store.Backend != config.StoreGraph {
		return store.NewMemoryStore(), func() {}, nil
	}

	client, err := buildGraphClient(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create graph client: %w", err)
	}
	closeFn := func() {
		if err := client.Close(context.Background()); err != nil {
			logger.Warn("closing graph client failed", "error", err)
		}
	}

	graphStore := store.NewGraphStore(client)
	if err := graphStore.EnsureSchema(ctx); err != nil {
		closeFn()
		return nil, nil, fmt.Errorf("ensure payment schema: %w", err)
	}
	health["store"] = graphStore
	return graphStore, closeFn, nil
}

func buildGraphClient(ctx context.Context, cfg config.Config) (graph.Client, error) {
	if cfg.Graph.URI == "" {
		return nil, graph.ErrMissingURI
	}

	opts := graph.Options{
		URI:            cfg.Graph.URI,
		Database:       cfg.Graph.Database,
		Username:       cfg.Graph.Username,
		Password:       cfg.Graph.Password,
		MaxConnections: cfg.Graph.MaxConnections,
	}
	return graph.NewNeo4jClient(ctx, opts)
}

func buildLedger(ctx context.Context, logger *slog.Logger, cfg config.Config) (ledger.Ledger, func(), error) {
	if cfg.Ledger.DatabaseURL == "" {
		logger.Info("ledger kept in memory")
		return ledger.NewMemoryLedger(), func() {}, nil
	}

	if cfg.Ledger.Migrate {
		if err := ledger.Migrate(cfg.Ledger.DatabaseURL); err != nil {
			return nil, nil, fmt.Errorf("migrate ledger: %w", err)
		}
	}
	pg, err := ledger.NewPostgresLedger(ctx, cfg.Ledger.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("connect ledger: %w", err)
	}
	return pg, pg.Close, nil
}

func buildPublisher(logger *slog.Logger, cfg config.Config) events.Publisher {
	if !cfg.Events.Enabled() {
		return events.NopPublisher{}
	}
	logger.Info("publishing payment events", "topic", cfg.Events.Topic, "brokers", cfg.Events.Brokers())
	return events.NewKafkaPublisher(cfg.Events.Brokers(), cfg.Events.Topic)
}

// buildGateway picks the payment strategy once. Demo mode never talks to
// Daraja, including for the OAuth handshake.
func buildGateway(cfg config.Config, creds payment.Credentials, m *metrics.Metrics) (payment.Gateway, *token.Cache, error) {
	if cfg.Mpesa.DemoMode {
		tokens := token.NewCache(token.DemoFetcher{}, token.WithRefreshHook(m.TokenRefreshed))
		return payment.NewSimulatedGateway(cfg.Mpesa.SimulatedLatency), tokens, nil
	}

	client, err := daraja.NewClient(daraja.ClientOptions{
		BaseURL:        cfg.Mpesa.APIURL,
		ConsumerKey:    cfg.Mpesa.ConsumerKey,
		ConsumerSecret: cfg.Mpesa.ConsumerSecret,
		Timeout:        cfg.Mpesa.RequestTimeout,
		Retries:        cfg.Mpesa.Retries,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("live mode: %w", err)
	}
	tokens := token.NewCache(client, token.WithRefreshHook(m.TokenRefreshed))
	return payment.NewLiveGateway(client, creds), tokens, nil
}
