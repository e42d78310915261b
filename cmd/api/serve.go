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

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"usermgr/core"
)

const shutdownTimeout = 15 * time.Second

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP API",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg := core.Load()
		if err := cfg.Validate(); err != nil {
			return fmt.Errorf("invalid configuration: %w", err)
		}
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		return serve(ctx, cfg)
	},
}

func serve(ctx context.Context, cfg core.Config) error {
	logger, logCloser, err := core.SetupLogging(cfg, "api.log")
	if err != nil {
		return fmt.Errorf("setup logging: %w", err)
	}
	defer logCloser.Close()

	db, err := core.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer db.Close()
	if err := core.EnsureSchema(ctx, db); err != nil {
		return fmt.Errorf("ensure schema: %w", err)
	}

	probes := map[string]core.Probe{"postgres": core.PostgresProbe(db)}

	var limiter core.LoginLimiter
	if cfg.RedisURL != "" {
		redisClient, err := core.NewRedisClient(ctx, cfg.RedisURL)
		if err != nil {
			return fmt.Errorf("connect redis: %w", err)
		}
		defer redisClient.Close()
		limiter = core.NewRedisLoginLimiter(redisClient, cfg.LoginRateLimit, cfg.LoginRateWindow)
		probes["redis"] = core.RedisProbe(redisClient)
	} else {
		logger.Warn("REDIS_URL is empty; login rate limiting disabled")
	}

	photoStore, err := core.NewPhotoStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("photo storage: %w", err)
	}

	tokens, err := core.NewTokenCodecFromConfig(cfg)
	if err != nil {
		return err
	}
	hasher := core.NewBcryptHasher(cfg.BcryptCost)
	users := core.NewPgUserRepository(db)
	roles := core.NewPgRoleRepository(db)
	details := core.NewPgDetailsRepository(db)

	if err := core.BootstrapAdmin(ctx, users, roles, hasher, cfg, logger); err != nil {
		return fmt.Errorf("bootstrap admin: %w", err)
	}

	metrics := core.NewMetrics()
	router, err := core.NewRouter(cfg, core.RouterDeps{
		Auth:     core.NewAuthenticator(users, hasher, tokens),
		Requests: core.NewRequestAuthenticator(tokens, users, metrics, logger),
		Users:    core.NewUserService(users, roles, hasher),
		Details:  core.NewDetailsService(users, details),
		Photos:   core.NewPhotoService(users, details, photoStore),
		Limiter:  limiter,
		Metrics:  metrics,
		Probes:   probes,
		Logger:   logger,
	})
	if err != nil {
		return err
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.WithField("addr", srv.Addr).Info("starting api server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down api server")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		return srv.Shutdown(sctx)
	})
	if err := g.Wait(); err != nil {
		logger.WithError(err).Error("server stopped with error")
		return err
	}
	logger.Info("server stopped")
	return nil
}
