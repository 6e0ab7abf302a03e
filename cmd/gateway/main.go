package main

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httptransport "github.com/salesgrid/platform/internal/api/http"
	"github.com/salesgrid/platform/internal/api/http/handlers"
	"github.com/salesgrid/platform/internal/auth"
	"github.com/salesgrid/platform/internal/clock"
	"github.com/salesgrid/platform/internal/config"
	"github.com/salesgrid/platform/internal/gateway"
	"github.com/salesgrid/platform/internal/observability"
	"github.com/salesgrid/platform/internal/persistence"
	"github.com/salesgrid/platform/internal/session"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("gateway stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	if len(cfg.Gateway.Routes) == 0 {
		return errors.New("GATEWAY_ROUTES is empty")
	}
	routes, err := gateway.NewRouteTable(cfg.Gateway.Routes)
	if err != nil {
		return err
	}
	for _, r := range routes.Routes() {
		logger.Info("gateway route", zap.String("prefix", r.Prefix), zap.String("upstream", r.Upstream.String()))
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	metrics := observability.NewMetrics()
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AccessTokenTTL(), clock.Real())
	filter := auth.NewFilter(tokens,
		auth.PublicEndpoints.With(cfg.Auth.PublicPaths, cfg.Auth.PublicPrefixes),
		logger,
		auth.WithRevocationChecker(session.NewStore(redis.Client)),
		auth.WithResultRecorder(metrics),
	)

	app := fiber.New(fiber.Config{
		AppName:      "gateway",
		ErrorHandler: httptransport.ErrorHandler(logger),
	})
	// Upstream calls carry their own deadline.
	httptransport.RegisterMiddlewares(app, logger, metrics, 0)
	gateway.RegisterRoutes(app, gateway.RouteConfig{
		Health:  handlers.NewHealthHandler("gateway", cfg.App.Version, map[string]handlers.Pinger{"redis": redis}, logger),
		Filter:  filter,
		Proxy:   gateway.NewProxy(routes, cfg.App.RequestTimeout(), logger),
		Metrics: metrics.Handler(),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.App.Addr()))
		if err := app.Listen(cfg.App.Addr()); err != nil {
			return fmt.Errorf("fiber listen: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		return app.ShutdownWithTimeout(shutdownTimeout)
	})
	return g.Wait()
}
