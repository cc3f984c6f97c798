package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/vidstream/backend/internal/auth"
	"github.com/vidstream/backend/internal/config"
	"github.com/vidstream/backend/internal/db"
	"github.com/vidstream/backend/internal/handlers"
	"github.com/vidstream/backend/internal/middleware"
	"github.com/vidstream/backend/internal/repositories"
	"github.com/vidstream/backend/internal/storage"
)

// devTokenSecret signs tokens when the memory store runs without configured secrets.
const devTokenSecret = "vidstream-development-only"

type cleanupFunc func(ctx context.Context) error

// buildDependencies wires together concrete implementations used by the HTTP handlers.
func buildDependencies(ctx context.Context, cfg config.Config, logger *slog.Logger) (handlers.Dependencies, cleanupFunc, error) {
	var closers []cleanupFunc
	cleanup := func(ctx context.Context) error {
		var firstErr error
		for i := len(closers) - 1; i >= 0; i-- {
			if err := closers[i](ctx); err != nil && firstErr == nil {
				firstErr = err
			}
		}
		return firstErr
	}
	fail := func(err error) (handlers.Dependencies, cleanupFunc, error) {
		_ = cleanup(context.Background())
		return handlers.Dependencies{}, nil, err
	}

	users, closeUsers, err := newUserRepository(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, closeUsers)

	media, err := newMediaStore(ctx, cfg)
	if err != nil {
		return fail(err)
	}

	limiter, closeLimiter, err := newRateLimiter(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, closeLimiter)

	accessSecret, refreshSecret := cfg.Tokens.AccessSecret, cfg.Tokens.RefreshSecret
	if cfg.Store == config.StoreMemory && (accessSecret == "" || refreshSecret == "") {
		logger.Warn("token secrets not configured, using development secrets")
		accessSecret, refreshSecret = devTokenSecret+"-access", devTokenSecret+"-refresh"
	}
	signer, err := auth.NewSigner(accessSecret, refreshSecret, cfg.Tokens.AccessTTL, cfg.Tokens.RefreshTTL)
	if err != nil {
		return fail(err)
	}

	logger.Info("dependencies configured",
		"store", cfg.Store,
		"distributedRateLimit", cfg.RedisAddr != "",
	)

	return handlers.Dependencies{
		Credentials:    auth.NewCredentialVerifier(users, media, auth.BcryptHasher{Cost: cfg.Tokens.BcryptCost}),
		Sessions:       auth.NewManager(users, signer),
		RateLimiter:    limiter,
		Cookies:        handlers.CookieSettings{Secure: cfg.Cookies.Secure, Domain: cfg.Cookies.Domain},
		MaxUploadBytes: cfg.MaxUploadBytes,
		AllowedOrigins: cfg.AllowedOrigins,
	}, cleanup, nil
}

func newUserRepository(ctx context.Context, cfg config.Config) (repositories.UserRepository, cleanupFunc, error) {
	switch cfg.Store {
	case config.StorePostgres:
		pool, err := db.Connect(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		return repositories.NewPostgresUserRepository(pool), func(context.Context) error {
			pool.Close()
			return nil
		}, nil
	case config.StoreMongo:
		client, err := db.ConnectMongo(ctx, cfg.MongoURI)
		if err != nil {
			return nil, nil, err
		}
		repo := repositories.NewMongoUserRepository(client.Database(cfg.MongoDatabase))
		if err := repo.EnsureIndexes(ctx); err != nil {
			_ = client.Disconnect(context.Background())
			return nil, nil, err
		}
		return repo, client.Disconnect, nil
	case config.StoreMemory:
		return repositories.NewMemoryUserRepository(), func(context.Context) error { return nil }, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}

// newMediaStore uploads to S3 unless the memory store runs without an explicit endpoint.
func newMediaStore(ctx context.Context, cfg config.Config) (auth.MediaStore, error) {
	if cfg.Store == config.StoreMemory && strings.TrimSpace(cfg.ObjectStore.Endpoint) == "" {
		return storage.NewMemoryStorage(cfg.ObjectStore.PublicBaseURL), nil
	}
	return storage.NewS3Storage(ctx, cfg.ObjectStore)
}

func newRateLimiter(ctx context.Context, cfg config.Config) (middleware.RateLimiter, cleanupFunc, error) {
	if cfg.RedisAddr == "" {
		limiter := middleware.NewTokenBucketLimiter(cfg.RateLimit)
		return limiter, func(context.Context) error { return nil }, nil
	}

	client, err := db.ConnectRedis(ctx, cfg.RedisAddr)
	if err != nil {
		return nil, nil, err
	}
	limiter := middleware.NewRedisRateLimiter(client, cfg.RateLimit)
	return limiter, func(context.Context) error { return client.Close() }, nil
}
