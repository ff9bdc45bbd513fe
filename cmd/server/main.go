// Command server runs the onboarding API with the storage backend and billing
// provider selected by environment variables.
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

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	onbhttp "github.com/mihaimyh/goonboard/middleware/http"
	"github.com/mihaimyh/goonboard/pkg/api"
	"github.com/mihaimyh/goonboard/pkg/billing"
	billingmetrics "github.com/mihaimyh/goonboard/pkg/billing/metrics/prometheus"
	"github.com/mihaimyh/goonboard/pkg/billing/stripe"
	"github.com/mihaimyh/goonboard/pkg/onboarding"
	zerologadapter "github.com/mihaimyh/goonboard/pkg/onboarding/logger/zerolog"
	onboardingmetrics "github.com/mihaimyh/goonboard/pkg/onboarding/metrics/prometheus"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "server: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	log := newLogger(cfg)

	store, closeStorage, err := openStorage(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer closeStorage()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	handler, err := newHandler(cfg, store, reg, log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           newRouter(handler, reg),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.Info().Str("addr", cfg.Addr).Str("storage", cfg.StorageBackend).
			Bool("billing", cfg.billingEnabled()).Msg("server starting")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}

func newLogger(cfg Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}

	var log zerolog.Logger
	if cfg.LogFormat == "console" {
		log = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log = zerolog.New(os.Stdout)
	}
	return log.Level(level).With().Timestamp().Str("service", "goonboard").Logger()
}

// newHandler wires the state machine, the billing synchronizer and the API
// handler. Billing is left out when no Stripe key is configured; the payment
// step then fails with 503.
func newHandler(cfg Config, store onboarding.Storage, reg prometheus.Registerer, log zerolog.Logger) (*api.Handler, error) {
	logger := zerologadapter.NewLogger(&log)
	metrics := onboardingmetrics.NewMetrics(reg, cfg.MetricsNamespace)
	billingMetrics := billingmetrics.NewMetrics(reg, cfg.MetricsNamespace)

	apiConfig := api.Config{
		GetUserID:        onbhttp.UserIDFromRequest,
		PortalReturnURL:  cfg.Billing.PortalReturnURL,
		WebhookRateLimit: cfg.Billing.WebhookRateLimit,
		Logger:           logger,
		Metrics:          billingMetrics,
		Middleware: []func(http.Handler) http.Handler{
			onbhttp.Authenticate(onbhttp.Config{GetUserID: onbhttp.FromHeader(cfg.UserIDHeader)}),
		},
	}

	machineConfig := onboarding.Config{Logger: logger, Metrics: metrics}

	if cfg.billingEnabled() {
		provider, err := stripe.NewProvider(stripe.Config{
			Config: billing.Config{
				APIKey:        cfg.Stripe.APIKey,
				WebhookSecret: cfg.Stripe.WebhookSecret,
				Timeout:       cfg.Stripe.Timeout,
				Metrics:       billingMetrics,
			},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create stripe provider: %w", err)
		}

		breaker := billing.NewCircuitBreaker(cfg.Billing.BreakerThreshold, cfg.Billing.BreakerReset,
			func(state billing.CircuitBreakerState) {
				billingMetrics.RecordCircuitBreakerStateChange(provider.Name(), string(state))
				log.Warn().Str("state", string(state)).Msg("billing circuit breaker changed state")
			})

		syncer := onboarding.NewSynchronizer(store, provider, onboarding.SyncConfig{
			ProviderTimeout: cfg.Billing.ProviderTimeout,
			CircuitBreaker:  breaker,
			Logger:          logger,
			Metrics:         metrics,
		})
		machineConfig.Billing = syncer
		apiConfig.Synchronizer = syncer
		apiConfig.Provider = provider
	} else {
		log.Warn().Msg("STRIPE_API_KEY not set, billing endpoints are disabled")
	}

	machine, err := onboarding.NewMachine(store, machineConfig)
	if err != nil {
		return nil, err
	}
	apiConfig.Machine = machine

	return api.NewHandler(apiConfig)
}

func newRouter(handler *api.Handler, gatherer prometheus.Gatherer) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	r.Mount("/", handler.Routes())
	return r
}
