package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/getditto/DittoChat-sub001/internal/config"
	"github.com/getditto/DittoChat-sub001/internal/database"
	"github.com/getditto/DittoChat-sub001/internal/handlers"
	"github.com/getditto/DittoChat-sub001/internal/metrics"
	"github.com/getditto/DittoChat-sub001/internal/middleware"
	"github.com/getditto/DittoChat-sub001/internal/remote"
	"github.com/getditto/DittoChat-sub001/internal/remote/cloudstore"
	"github.com/getditto/DittoChat-sub001/internal/remote/memstore"
	"github.com/getditto/DittoChat-sub001/internal/remote/mongostore"
	"github.com/getditto/DittoChat-sub001/internal/remote/pgstore"
	"github.com/getditto/DittoChat-sub001/internal/routes"
	"github.com/getditto/DittoChat-sub001/internal/services"
)

func main() {
	// Load env
	if err := godotenv.Load(); err != nil {
		log.Info().Msg("no .env file found")
	}
	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("config_invalid")
	}

	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	if !cfg.IsProduction() {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	}
	logger := log.Logger

	if err := run(cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("server_failed")
	}
}

func run(cfg *config.Config, logger zerolog.Logger) error {
	store, closeStore, err := openStore(cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	m := metrics.New()
	chat, err := services.Open(services.Options{
		Store:                 store,
		UserID:                cfg.UserID,
		UserName:              cfg.UserName,
		Retention:             &cfg.Retention,
		RBAC:                  cfg.RBAC,
		ConsistencyCheckDelay: cfg.ConsistencyCheckDelay,
		Logger:                logger,
		Metrics:               m,
	})
	if err != nil {
		return err
	}
	defer chat.Dispose()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	err = chat.Start(ctx)
	cancel()
	if err != nil {
		return err
	}
	handlers.InitChatService(chat, logger)

	limiter := middleware.NewLimiter(cfg.MutationRate, cfg.MutationBurst)
	defer limiter.Stop()

	// Setup router
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(middleware.CORS(cfg.AllowedOrigins))
	r.Use(middleware.SecurityHeaders)
	r.Use(limiter.Mutations)
	routes.SetupRoutes(r, m)

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	errCh := make(chan error, 1)
	go func() {
		logger.Info().
			Str("port", cfg.Port).
			Str("backend", cfg.StoreBackend).
			Str("user_id", cfg.UserID).
			Msg("server_started")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
	case sig := <-stop:
		logger.Info().Str("signal", sig.String()).Msg("server_stopping")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}

// openStore connects the configured backend. The returned func releases it.
func openStore(cfg *config.Config, logger zerolog.Logger) (remote.Adapter, func(), error) {
	var blobs remote.AttachmentStore
	if cfg.HasCloudinary() {
		cs, err := cloudstore.New(cfg.CloudinaryName, cfg.CloudinaryAPIKey, cfg.CloudinaryAPISecret, cfg.CloudinaryFolder, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("cloudinary_unavailable")
		} else {
			blobs = cs
			logger.Info().Msg("cloudinary_attachments_enabled")
		}
	}

	switch cfg.StoreBackend {
	case config.BackendMongo:
		if err := database.Connect(cfg.MongoURI); err != nil {
			return nil, nil, err
		}
		if cfg.RedisURI != "" {
			if err := database.ConnectRedis(cfg.RedisURI); err != nil {
				logger.Warn().Err(err).Msg("redis_unavailable_using_change_streams")
				database.DisconnectRedis()
				database.RedisClient = nil
			}
		}
		opts := []mongostore.Option{mongostore.WithLogger(logger)}
		if blobs != nil {
			opts = append(opts, mongostore.WithAttachments(blobs))
		}
		s, err := mongostore.New(database.DB, database.RedisClient, opts...)
		if err != nil {
			database.Disconnect()
			return nil, nil, err
		}
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := s.EnsureIndexes(ctx); err != nil {
			logger.Warn().Err(err).Msg("mongo_indexes_failed")
		}
		s.Start()
		return s, func() {
			s.Close()
			database.DisconnectRedis()
			database.Disconnect()
		}, nil

	case config.BackendPostgres:
		if err := database.ConnectPostgres(cfg.PostgresURI); err != nil {
			return nil, nil, err
		}
		opts := []pgstore.Option{pgstore.WithLogger(logger)}
		if blobs != nil {
			opts = append(opts, pgstore.WithAttachments(blobs))
		}
		s := pgstore.New(database.PostgresDB, cfg.PostgresURI, opts...)
		if err := s.Start(); err != nil {
			database.DisconnectPostgres()
			return nil, nil, err
		}
		return s, func() {
			s.Close()
			database.DisconnectPostgres()
		}, nil
	}

	logger.Warn().Msg("memory_backend_data_is_not_persisted")
	s := memstore.New()
	return s, s.Close, nil
}
