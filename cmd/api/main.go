package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/joho/godotenv"

	"github.com/xjrogers/Forma-sub002/internal/app/migrate"
	httpx "github.com/xjrogers/Forma-sub002/internal/http"
	"github.com/xjrogers/Forma-sub002/internal/provision"
	"github.com/xjrogers/Forma-sub002/internal/repository/postgres"
	"github.com/xjrogers/Forma-sub002/internal/service/auth"
	"github.com/xjrogers/Forma-sub002/internal/service/deploy"
	"github.com/xjrogers/Forma-sub002/internal/service/project"
	"github.com/xjrogers/Forma-sub002/internal/sourcehost"
	"github.com/xjrogers/Forma-sub002/internal/ws"
	"github.com/xjrogers/Forma-sub002/pkg/config"
	"github.com/xjrogers/Forma-sub002/pkg/logger"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()
	log := logger.New("api", logger.ParseLevel(config.GetString("LOG_LEVEL", "info")))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)
	hub := ws.NewHub()

	provider := provision.NewRailwayClient(cfg.ProvisionEndpoint, cfg.ProvisionToken, cfg.ProvisionTimeout, log)

	// Without a source-hosting token deployments fail fast at credential
	// resolution instead of partway through the saga.
	var repos sourcehost.Client
	if strings.TrimSpace(cfg.GitHubToken) != "" && strings.TrimSpace(cfg.GitHubOwner) != "" {
		repos = sourcehost.NewGitHubClient(ctx, cfg.GitHubToken, cfg.GitHubOwner, log)
	} else {
		log.Warn("source hosting credential not configured, deployments will be rejected")
	}

	authSvc := auth.New(repo, log, cfg.JWTSecret, cfg.AccessTokenTTL)
	projectSvc := project.New(repo, log, cfg.EnvEncryptionKey)
	poller := deploy.NewPoller(provider, cfg.BuildPollInterval, cfg.BuildPollTimeout, log)
	deploySvc := deploy.New(repo, repo, repo, repo, repo, provider, repos, poller, hub, log, cfg)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, authSvc, projectSvc, deploySvc, hub, limiter, pool.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr, "env", cfg.Environment)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
