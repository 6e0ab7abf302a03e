package main

import (
	"context"
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
	"github.com/salesgrid/platform/internal/events"
	"github.com/salesgrid/platform/internal/observability"
	"github.com/salesgrid/platform/internal/persistence"
	"github.com/salesgrid/platform/internal/repository"
	"github.com/salesgrid/platform/internal/service"
	"github.com/salesgrid/platform/internal/session"
	"github.com/salesgrid/platform/internal/worker"
)

const (
	notificationWorkers = 4
	notificationBuffer  = 256
	shutdownTimeout     = 10 * time.Second
)

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
		logger.Fatal("auth service stopped", zap.Error(err))
	}
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	redis := persistence.NewRedis(cfg.Redis, logger)
	defer redis.Close()

	clk := clock.Real()
	metrics := observability.NewMetrics()
	sessions := session.NewStore(redis.Client)
	tokens := auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.AccessTokenTTL(), clk)

	notifier := worker.NewNotificationWorker(events.NewInMemoryDispatcher(), logger, notificationWorkers, notificationBuffer)
	sms, err := service.NewSMSSender(cfg.SMS, logger)
	if err != nil {
		return err
	}
	service.NewNotificationService(notifier, sms, logger, cfg.SMS).RegisterHandlers()

	pool := pg.PoolHandle()
	userRepo := repository.NewUserRepository(pool)
	invitations := service.NewInvitationService(service.InvitationDependencies{
		CodeRepo:   repository.NewInvitationRepository(pool),
		UserRepo:   userRepo,
		Dispatcher: notifier,
		Clock:      clk,
		Recorder:   metrics,
		Logger:     logger,
	})
	authService := service.NewAuthService(*cfg, service.AuthDependencies{
		UserRepo:    userRepo,
		Invitations: invitations,
		Sessions:    sessions,
		Tokens:      tokens,
		Dispatcher:  notifier,
		Clock:       clk,
		Logger:      logger,
	})
	userService := service.NewUserService(userRepo, logger)

	filter := auth.NewFilter(tokens,
		auth.PublicEndpoints.With(cfg.Auth.PublicPaths, cfg.Auth.PublicPrefixes),
		logger,
		auth.WithRevocationChecker(sessions),
		auth.WithResultRecorder(metrics),
	)

	app := fiber.New(fiber.Config{
		AppName:      cfg.App.Name,
		ErrorHandler: httptransport.ErrorHandler(logger),
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
			"postgres": pg,
			"redis":    redis,
		}, logger),
		Auth:        handlers.NewAuthHandler(authService),
		Users:       handlers.NewUsersHandler(authService, userService),
		Invitations: handlers.NewInvitationsHandler(invitations, clk),
		Filter:      filter,
		RateLimiter: httptransport.NewRateLimiter(cfg.RateLimit.PerSecond, cfg.RateLimit.Burst),
		Metrics:     metrics.Handler(),
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return notifier.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("listening", zap.String("addr", cfg.App.Addr()), zap.String("env", cfg.App.Env))
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
