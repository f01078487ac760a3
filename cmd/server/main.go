package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jogardn/creperie/internal/auth"
	"github.com/jogardn/creperie/internal/circuitbreaker"
	"github.com/jogardn/creperie/internal/config"
	"github.com/jogardn/creperie/internal/events"
	"github.com/jogardn/creperie/internal/live"
	"github.com/jogardn/creperie/internal/server"
	"github.com/jogardn/creperie/internal/store"
	"github.com/jogardn/creperie/internal/validation"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})

	cfg, err := config.Load()
	if err != nil {
		logger.WithError(err).Fatal("Failed to load configuration")
	}
	logger.SetLevel(cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	breakers := circuitbreaker.NewManager(logger)

	st := openStore(ctx, cfg, breakers, logger)
	defer st.Close()

	if err := store.Seed(ctx, st); err != nil {
		logger.WithError(err).Fatal("Failed to seed menu")
	}

	authService := auth.NewService(st, openSessions(ctx, cfg, logger), validation.New(), cfg.OwnerEmails, logger)
	registerProviders(authService, cfg, breakers, logger)

	hub := live.NewHub(cfg.AllowedOrigins, logger)
	go hub.Run(ctx)

	deps := server.Deps{
		Config:   cfg,
		Store:    st,
		Breakers: breakers,
		Auth:     authService,
		Hub:      hub,
		Logger:   logger,
	}

	if len(cfg.KafkaBrokers) == 0 {
		// Single replica: the hub is fed directly.
		deps.Publisher = hub
	} else {
		producer, err := events.NewKafkaProducer(cfg.KafkaBrokers, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Kafka producer")
		}
		defer producer.Close()

		relay, err := events.NewConsumer(cfg.KafkaBrokers, cfg.KafkaGroupID, hub, logger)
		if err != nil {
			logger.WithError(err).Fatal("Failed to create Kafka relay")
		}
		defer relay.Close()
		go func() {
			if err := relay.Start(ctx); err != nil {
				logger.WithError(err).Error("Kafka relay stopped")
			}
		}()

		deps.Publisher = producer
		deps.Relay = relay
	}

	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      server.New(deps).Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		logger.WithFields(logrus.Fields{
			"port":  cfg.Port,
			"store": cfg.Store,
			"kafka": len(cfg.KafkaBrokers) > 0,
		}).Info("Starting creperie server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.WithError(err).Fatal("Failed to start server")
		}
	}()

	<-ctx.Done()

	logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.WithError(err).Error("Server forced to shutdown")
	}

	logger.Info("Server gracefully stopped")
}

func openStore(ctx context.Context, cfg *config.Config, breakers *circuitbreaker.Manager, logger *logrus.Logger) store.Store {
	if cfg.Store == config.StoreMemory {
		logger.Warn("Using in-memory store; data is lost on restart")
		return store.NewMemory()
	}

	db, err := store.Open(ctx, cfg.PostgresDSN(), 30, 2*time.Second, logger)
	if err != nil {
		logger.WithError(err).Fatal("Failed to connect to database")
	}

	breaker := breakers.GetOrCreate("postgres", circuitbreaker.Config{
		MaxFailures: 5,
		Timeout:     30 * time.Second,
		MaxRequests: 1,
		IsFailure:   store.IsInfraFailure,
	})
	pg := store.NewPostgres(db, breaker, logger)
	if err := pg.EnsureSchema(ctx); err != nil {
		logger.WithError(err).Fatal("Failed to create tables")
	}
	return pg
}

func openSessions(ctx context.Context, cfg *config.Config, logger *logrus.Logger) auth.SessionStore {
	if cfg.RedisAddr == "" {
		logger.Warn("REDIS_ADDR not set; sessions are kept in memory")
		return auth.NewMemorySessions(cfg.SessionTTL)
	}

	client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	if err := client.Ping(ctx).Err(); err != nil {
		logger.WithError(err).Fatal("Failed to connect to Redis")
	}
	logger.WithField("addr", cfg.RedisAddr).Info("Redis session store connected")
	return auth.NewRedisSessions(client, cfg.SessionTTL)
}

func registerProviders(service *auth.Service, cfg *config.Config, breakers *circuitbreaker.Manager, logger *logrus.Logger) {
	providerBreaker := func(name string) *circuitbreaker.CircuitBreaker {
		return breakers.GetOrCreate(name, circuitbreaker.Config{
			MaxFailures: 3,
			Timeout:     time.Minute,
			MaxRequests: 1,
			IsFailure:   auth.IsProviderFailure,
		})
	}

	httpClient := &http.Client{Timeout: 10 * time.Second}
	if cfg.FirebaseProjectID != "" {
		service.RegisterProvider(auth.ProviderFirebase,
			auth.NewFirebaseVerifier(cfg.FirebaseProjectID, "", httpClient, providerBreaker("firebase")))
		logger.WithField("project_id", cfg.FirebaseProjectID).Info("Firebase sign-in enabled")
	}
	if cfg.SupabaseURL != "" && cfg.SupabaseAnonKey != "" {
		service.RegisterProvider(auth.ProviderSupabase,
			auth.NewSupabaseVerifier(cfg.SupabaseURL, cfg.SupabaseAnonKey, httpClient, providerBreaker("supabase")))
		logger.WithField("url", cfg.SupabaseURL).Info("Supabase sign-in enabled")
	}
}
