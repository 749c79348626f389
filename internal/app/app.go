package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"session-auth/internal/config"
	"session-auth/internal/database"
	"session-auth/internal/handler"
	"session-auth/internal/middleware"
	"session-auth/internal/repository"
	"session-auth/internal/router"
	"session-auth/internal/security"
	"session-auth/internal/service"
)

type App struct {
	server       *http.Server
	cleanupFuncs []func()
}

type stores struct {
	users  service.UserStore
	tokens service.TokenStore
	audit  service.AuditStore
}

func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{}

	st, err := a.openStores(ctx, cfg)
	if err != nil {
		a.cleanup()
		return nil, err
	}

	hasher, err := security.NewPasswordHasher(security.HasherOptions{
		SaltLength: cfg.PasswordSaltLength,
		Time:       cfg.Argon2Time,
		MemoryKiB:  cfg.Argon2MemoryKiB,
		Threads:    cfg.Argon2Threads,
		KeyLength:  cfg.Argon2KeyLength,
	})
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("failed to initialize password hasher: %w", err)
	}

	// The key pair lives only in memory: a restart invalidates every
	// outstanding access token.
	keys, err := security.GenerateKeyPair(cfg.JWTAlgorithm)
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("failed to generate signing key pair: %w", err)
	}
	slog.Info("signing key pair generated", "algorithm", keys.Algorithm())

	codec, err := security.NewTokenCodec(cfg.JWTAccessTTL, cfg.JWTIssuer)
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("failed to initialize token codec: %w", err)
	}

	sessions, err := service.NewSessionService(st.users, st.tokens, hasher, codec, keys,
		security.NewRefreshGenerator(cfg.RefreshTokenBytes),
		service.SessionOptions{MinPasswordLength: cfg.MinPasswordLength, Logger: slog.Default()})
	if err != nil {
		a.cleanup()
		return nil, fmt.Errorf("failed to initialize session service: %w", err)
	}
	auditService := service.NewAuditService(st.audit, slog.Default())

	authMiddleware := middleware.NewAuthMiddleware(sessions)
	appRouter := router.New(cfg, authMiddleware, router.Handlers{
		Auth:   handler.NewAuthHandler(sessions, auditService, handler.CookieOptions{Secure: cfg.CookieSecure, MaxAge: cfg.CookieMaxAge}),
		User:   handler.NewUserHandler(sessions, auditService),
		Audit:  handler.NewAuditHandler(auditService),
		Health: handler.NewHealthHandler(sessions),
	})

	a.server = &http.Server{
		Addr:              ":" + cfg.ServerPort,
		Handler:           appRouter,
		ReadHeaderTimeout: cfg.ServerReadHeaderTimeout,
		WriteTimeout:      cfg.ServerWriteTimeout,
		IdleTimeout:       cfg.ServerIdleTimeout,
	}

	return a, nil
}

func (a *App) openStores(ctx context.Context, cfg *config.Config) (stores, error) {
	var st stores

	switch cfg.StoreBackend {
	case config.StorePostgres:
		slog.Info("connecting to PostgreSQL")
		db, err := database.Open(ctx, cfg.DatabaseURL, database.PoolOptions{MaxConns: cfg.DBMaxConns, MinConns: cfg.DBMinConns})
		if err != nil {
			return st, fmt.Errorf("failed to connect to database: %w", err)
		}
		a.cleanupFuncs = append(a.cleanupFuncs, db.Close)

		if err := db.EnsureSchema(ctx); err != nil {
			return st, fmt.Errorf("failed to ensure database schema: %w", err)
		}

		st.users = repository.NewUserRepository(db.Pool)
		st.tokens = repository.NewTokenRepository(db.Pool)
		st.audit = repository.NewAuditRepository(db.Pool)
		slog.Info("database ready")
	default:
		slog.Warn("using in-memory stores; data is lost on restart")
		st.users = repository.NewMemoryUserRepository()
		st.tokens = repository.NewMemoryTokenRepository()
		st.audit = repository.NewMemoryAuditRepository()
	}

	if cfg.TokenStoreBackend == config.TokenStoreRedis {
		redisTokens, err := repository.NewRedisTokenRepository(ctx, cfg.RedisURL, cfg.RedisKeyPrefix)
		if err != nil {
			return st, fmt.Errorf("failed to connect to redis: %w", err)
		}
		a.cleanupFuncs = append(a.cleanupFuncs, func() { _ = redisTokens.Close() })
		st.tokens = redisTokens
		slog.Info("refresh tokens stored in redis", "prefix", cfg.RedisKeyPrefix)
	}

	return st, nil
}

func (a *App) cleanup() {
	for i := len(a.cleanupFuncs) - 1; i >= 0; i-- {
		a.cleanupFuncs[i]()
	}
	a.cleanupFuncs = nil
}

// Run serves until SIGINT/SIGTERM, then drains in-flight requests.
func (a *App) Run() error {
	serveErr := make(chan error, 1)
	go func() {
		slog.Info("server starting", "addr", a.server.Addr)
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(stop)

	select {
	case err := <-serveErr:
		a.cleanup()
		return fmt.Errorf("server failed: %w", err)
	case <-stop:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	err := a.server.Shutdown(ctx)
	a.cleanup()
	if err != nil {
		return fmt.Errorf("graceful shutdown failed: %w", err)
	}

	slog.Info("server stopped")
	return nil
}
