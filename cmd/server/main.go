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

	"github.com/gin-gonic/gin"
	"github.com/lalith-99/dataroom/internal/api"
	"github.com/lalith-99/dataroom/internal/config"
	"github.com/lalith-99/dataroom/internal/dataroom"
	"github.com/lalith-99/dataroom/internal/db"
	"github.com/lalith-99/dataroom/internal/feed"
	"github.com/lalith-99/dataroom/internal/middleware"
	"github.com/lalith-99/dataroom/internal/objectstore"
	"github.com/lalith-99/dataroom/internal/observ"
	"github.com/lalith-99/dataroom/internal/repository/postgres"
	"github.com/lalith-99/dataroom/internal/watermark"
	"go.uber.org/zap"
)

const shutdownTimeout = 10 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ---------------------------------------------------------------
	// 1. Load config
	// ---------------------------------------------------------------
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// ---------------------------------------------------------------
	// 2. Create logger
	// ---------------------------------------------------------------
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// ---------------------------------------------------------------
	// 3. Connect to Postgres and Redis
	// ---------------------------------------------------------------
	database, err := db.New(ctx, cfg.DatabaseURL, logger)
	if err != nil {
		return fmt.Errorf("connect to database: %w", err)
	}
	defer database.Close()

	rdb, err := db.NewRedis(ctx, cfg.RedisURL, logger)
	if err != nil {
		return fmt.Errorf("connect to redis: %w", err)
	}
	defer rdb.Close()

	// ---------------------------------------------------------------
	// 4. Object storage and watermarking
	// ---------------------------------------------------------------
	presigner, err := objectstore.New(ctx, objectstore.Config{
		Bucket:   cfg.S3Bucket,
		Region:   cfg.AWSRegion,
		Endpoint: cfg.S3Endpoint,
	})
	if err != nil {
		return fmt.Errorf("object store: %w", err)
	}
	engine := watermark.NewEngine(cfg.WatermarkSecret, cfg.WatermarkTimezone)

	// ---------------------------------------------------------------
	// 5. Repositories and the access-control service
	//
	// Every store shares the one pool; pgxpool is goroutine-safe.
	// ---------------------------------------------------------------
	pool := database.Pool()
	stores := dataroom.Stores{
		Rooms:      postgres.NewRoomStore(pool),
		Viewers:    postgres.NewViewerStore(pool),
		Documents:  postgres.NewDocumentStore(pool),
		Links:      postgres.NewSecureLinkStore(pool),
		AccessLogs: postgres.NewAccessLogStore(pool),
		Watermarks: postgres.NewWatermarkStore(pool),
	}

	bus := feed.NewBus(rdb, logger)
	svc, err := dataroom.NewService(stores, presigner, engine, logger,
		dataroom.WithPublisher(bus),
		dataroom.WithPublicBaseURL(cfg.PublicBaseURL),
		dataroom.WithTTLs(cfg.ContentURLTTL, cfg.UploadURLTTL, cfg.LinkDefaultTTL),
	)
	if err != nil {
		return fmt.Errorf("create service: %w", err)
	}

	// ---------------------------------------------------------------
	// 6. HTTP server
	// ---------------------------------------------------------------
	if cfg.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}
	observ.Init()

	shareLimit, err := middleware.RateLimit(middleware.NewRedisCounter(rdb), "share", cfg.ShareRateLimit, time.Minute, logger)
	if err != nil {
		return fmt.Errorf("share rate limit: %w", err)
	}

	router := api.NewRouter(api.RouterConfig{
		Service:    svc,
		Feed:       feed.NewHandler(bus, nil, logger),
		JWTSecret:  cfg.JWTSecret,
		Logger:     logger,
		ShareLimit: shareLimit,
		Health: func(c *gin.Context) error {
			if err := database.Health(c.Request.Context()); err != nil {
				return fmt.Errorf("postgres: %w", err)
			}
			if err := rdb.Ping(c.Request.Context()).Err(); err != nil {
				return fmt.Errorf("redis: %w", err)
			}
			return nil
		},
	})

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("starting dataroom",
			zap.String("port", cfg.Port),
			zap.String("env", cfg.Env),
		)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("listen: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	// Shutdown does not track hijacked websocket feeds; they end once the
	// deferred Redis close tears down their subscriptions.
	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("stopped")
	return nil
}
