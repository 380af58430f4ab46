package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"storefront/internal/config"
	"storefront/internal/database"
	"storefront/internal/handlers"
	"storefront/internal/logging"
	"storefront/internal/metrics"
	"storefront/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

func main() {
	defaultConfig := os.Getenv("CONFIG_PATH")
	if defaultConfig == "" {
		defaultConfig = "config.yaml"
	}
	configPath := flag.String("config", defaultConfig, "path to the YAML configuration file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration: %v\n", err)
		os.Exit(1)
	}
	logger, err := logging.New(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (database.DBInterface, error) {
	switch cfg.Driver {
	case "postgres":
		db, err := database.Connect(ctx, cfg.URL, cfg.MaxOpenConns)
		if err != nil {
			return nil, err
		}
		if err := db.InitializeTables(ctx); err != nil {
			db.Close()
			return nil, err
		}
		logger.Info("connected to postgres")
		return db, nil
	default:
		db, err := database.NewDatabase(cfg.JSONPath)
		if err != nil {
			return nil, err
		}
		logger.Info("using json database", zap.String("path", cfg.JSONPath))
		return db, nil
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := openDatabase(ctx, cfg.Database, logger)
	if err != nil {
		return fmt.Errorf("database: %w", err)
	}
	defer db.Close()

	cartService := services.NewCartService(db, logger, services.Options{
		StoreTimeout: cfg.Cart.StoreTimeout,
		RetryBackoff: cfg.Cart.RetryBackoff,
	})
	h := handlers.NewHandler(db, cartService, logger, cfg)

	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(handlers.RequestLogger(logger.Named("access")))
	if err := r.SetTrustedProxies(cfg.Server.TrustedProxies); err != nil {
		return fmt.Errorf("trusted proxies: %w", err)
	}

	r.GET("/metrics", gin.WrapH(metrics.MetricsHandler()))
	h.RegisterRoutes(r,
		handlers.AuthMiddleware(cfg.Admin, logger.Named("admin")),
		handlers.NewRateLimiter(cfg.RateLimit).Middleware(),
	)

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.Server.CORSOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Accept-Language"},
		AllowCredentials: true,
	}).Handler(r)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      corsHandler,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		logger.Info("HTTP server shutting down")
		return srv.Shutdown(shutdownCtx)
	})
	if cfg.Cart.AbandonAfter > 0 {
		g.Go(func() error {
			cleanupAbandonedCarts(gctx, cartService, cfg.Cart, logger)
			return nil
		})
	}
	return g.Wait()
}

// cleanupAbandonedCarts deletes stale carts every cleanup interval until ctx ends.
func cleanupAbandonedCarts(ctx context.Context, cartService *services.CartService, cfg config.CartConfig, logger *zap.Logger) {
	ticker := time.NewTicker(cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := cartService.CleanupAbandoned(ctx, cfg.AbandonAfter)
			if err != nil {
				logger.Warn("abandoned cart cleanup failed", zap.Error(err))
				continue
			}
			metrics.RecordAbandonedCartsDeleted(deleted)
		}
	}
}
