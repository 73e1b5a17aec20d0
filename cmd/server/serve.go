package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/Hadxxx/MedicIA/internal/agent"
	"github.com/Hadxxx/MedicIA/internal/billing"
	"github.com/Hadxxx/MedicIA/internal/config"
	"github.com/Hadxxx/MedicIA/internal/consultation"
	"github.com/Hadxxx/MedicIA/internal/platform/database"
	"github.com/Hadxxx/MedicIA/internal/platform/httpio"
	"github.com/Hadxxx/MedicIA/internal/platform/metrics"
	"github.com/Hadxxx/MedicIA/internal/platform/telegram"
	"github.com/Hadxxx/MedicIA/internal/platform/tracing"
	"github.com/Hadxxx/MedicIA/internal/report"
	"github.com/Hadxxx/MedicIA/internal/store"
)

func runServer(ctx context.Context, cfg *config.Config, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tp, err := tracing.Init(ctx, tracing.Config{
		Enabled:     cfg.TracingEnabled,
		ServiceName: cfg.AppName,
		Endpoint:    cfg.TracingEndpoint,
		SampleRate:  cfg.TracingSampleRate,
	})
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tp.Shutdown(shutdownCtx); err != nil {
			log.Warn("tracer shutdown", zap.Error(err))
		}
	}()

	backend, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer backend.Close()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	handler, err := newRouter(cfg, backend, reg, log)
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
		// Synthesis requests hold the connection for the whole collaborator call.
		WriteTimeout: cfg.AISynthesisTimeout + 30*time.Second,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("server starting", zap.String("addr", srv.Addr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("http server: %w", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}
	log.Info("server stopped")
	return nil
}

func openBackend(ctx context.Context, cfg *config.Config, log *zap.Logger) (store.Backend, error) {
	switch cfg.StoreDriver {
	case "postgres":
		db, err := database.Open(ctx, database.Options{
			URL:             cfg.DatabaseURL,
			MaxOpenConns:    cfg.DBMaxConns,
			ConnectAttempts: 10,
			RetryDelay:      2 * time.Second,
		}, log)
		if err != nil {
			return nil, err
		}
		if err := database.MigrateUp(cfg.MigrationsPath, cfg.DatabaseURL, log); err != nil {
			db.Close()
			return nil, err
		}
		return store.NewPostgres(db), nil

	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			client.Close()
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.RedisAddr, err)
		}
		log.Info("connected to redis", zap.String("addr", cfg.RedisAddr))
		return store.NewRedis(client, cfg.RedisKeyPrefix), nil
	}

	if !cfg.IsDev() {
		log.Warn("using in-memory store; records are lost on restart")
	}
	return store.NewMemory(), nil
}

func newAssistant(cfg *config.Config, m *metrics.Collector, log *zap.Logger) (*agent.Assistant, error) {
	base := agent.Config{
		Timeout:         cfg.AISynthesisTimeout,
		Retries:         1,
		RateLimit:       cfg.AIRateLimitRPS,
		Burst:           cfg.AIRateLimitBurst,
		BreakerFailures: cfg.AIBreakerFailures,
		BreakerCooldown: cfg.AIBreakerCooldown,
	}

	var clients []*agent.Client
	if cfg.PremiumAvailable() {
		premium := base
		premium.BaseURL = cfg.AIBaseURL
		premium.APIKey = cfg.AIAPIKey
		premium.Model = cfg.AIPremiumModel
		clients = append(clients, agent.NewClient(premium, m, log))
	}
	standard := base
	standard.BaseURL = cfg.AIDefaultBaseURL
	standard.Model = cfg.AIDefaultModel
	clients = append(clients, agent.NewClient(standard, m, log))

	return agent.NewAssistant(log, clients...)
}

// newRouter wires every service over backend and returns the root handler.
func newRouter(cfg *config.Config, backend store.Backend, reg *prometheus.Registry, log *zap.Logger) (http.Handler, error) {
	m := metrics.NewCollector(reg, cfg.AppName)

	assistant, err := newAssistant(cfg, m, log)
	if err != nil {
		return nil, err
	}

	var tg report.TelegramClient
	if cfg.TelegramBotToken != "" {
		tg = telegram.NewClient("", cfg.TelegramBotToken, log)
	}
	reports := report.NewService(tg, cfg.DoctorChatID, cfg.ReportFontPaths, log)

	var delivery consultation.ReportService
	if tg != nil {
		delivery = reports
	} else {
		log.Info("doctor reports disabled; TELEGRAM_BOT_TOKEN is not set")
	}

	consultations := consultation.NewService(
		consultation.NewRepository(backend),
		assistant, assistant, delivery, m, log,
		consultation.Options{
			TurnTimeout:          cfg.AITurnTimeout,
			SynthesisTimeout:     cfg.AISynthesisTimeout,
			MinSynthesisMessages: cfg.MinSynthesisMessage,
		},
	)
	payments := billing.NewService(backend, billing.NewSimulatedGateway(cfg.PaymentSuccessRate, cfg.PaymentDelay), m, log)

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(httpio.RequestLogger(log))
	r.Use(middleware.Recoverer)
	r.Use(httpio.CORS(cfg.CORSOrigins))
	r.Use(m.Middleware)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpio.JSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Handle("/metrics", metrics.Handler(reg))

	r.Route("/api", func(r chi.Router) {
		consultation.RegisterRoutes(r, consultation.NewHandler(consultations, reports, log))
		billing.RegisterRoutes(r, billing.NewHandler(payments, log))
	})
	return r, nil
}
