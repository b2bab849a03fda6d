// Command authcore runs the authentication service.
//
// Users live in PostgreSQL when DATABASE_URL is set and in memory otherwise.
// Refresh tokens live in Redis unless SESSION_BACKEND=postgres.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/sitebook/authcore"
	"github.com/sitebook/authcore/httpapi"
	otelexport "github.com/sitebook/authcore/metrics/export/otel"
	promexport "github.com/sitebook/authcore/metrics/export/prometheus"
	"github.com/sitebook/authcore/middleware"
	"github.com/sitebook/authcore/session"
	"github.com/sitebook/authcore/store/memory"
	"github.com/sitebook/authcore/store/postgres"
	"go.opentelemetry.io/otel"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		fx.Provide(
			loadServerConfig,
			authcore.LoadConfigFromEnv,
			newLogger,
			newPGXPool,
			newRedisClient,
			newSessionStore,
			newUserStore,
			newEngine,
			newRateLimiter,
			newRouter,
		),
		fx.Invoke(registerOtelMetrics, startHTTPServer),
	)

	app.Run()
}

func newLogger(cfg serverConfig) (*zap.Logger, error) {
	var (
		logger *zap.Logger
		err    error
	)
	if cfg.Production() {
		logger, err = zap.NewProduction()
	} else {
		logger, err = zap.NewDevelopment()
	}
	if err != nil {
		return nil, err
	}
	zap.ReplaceGlobals(logger)
	return logger, nil
}

// newPGXPool returns nil when no database is configured.
func newPGXPool(lc fx.Lifecycle, cfg serverConfig, logger *zap.Logger) (*pgxpool.Pool, error) {
	if cfg.DatabaseURL == "" {
		logger.Warn("DATABASE_URL not set; users are kept in memory")
		return nil, nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := postgres.NewPool(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			pool.Close()
			return nil
		},
	})
	return pool, nil
}

// newRedisClient returns nil when refresh tokens are kept in PostgreSQL.
func newRedisClient(lc fx.Lifecycle, cfg serverConfig) (redis.UniversalClient, error) {
	if cfg.SessionBackend != backendRedis {
		return nil, nil
	}

	client := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func newSessionStore(cfg serverConfig, authCfg authcore.Config, pool *pgxpool.Pool, client redis.UniversalClient) session.Store {
	if cfg.SessionBackend == backendPostgres {
		return postgres.NewTokenStore(pool)
	}
	return session.NewRedisStore(client, authCfg.Session.RedisPrefix, authCfg.Session.Retention)
}

func newUserStore(pool *pgxpool.Pool) authcore.UserStore {
	if pool == nil {
		return memory.NewUserStore()
	}
	return postgres.NewUserStore(pool)
}

func newEngine(lc fx.Lifecycle, cfg authcore.Config, sessions session.Store, users authcore.UserStore, logger *zap.Logger) (*authcore.Engine, error) {
	engine, err := authcore.New().
		WithConfig(cfg).
		WithSessionStore(sessions).
		WithUserStore(users).
		WithLogger(logger).
		WithAuditSink(authcore.NewZapSink(logger)).
		Build()
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}

	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			engine.Close()
			return nil
		},
	})
	return engine, nil
}

func newRateLimiter(cfg serverConfig) *middleware.RateLimiter {
	return middleware.NewRateLimiter(cfg.RateLimitRPM)
}

func newRouter(cfg serverConfig, engine *authcore.Engine, limiter *middleware.RateLimiter, logger *zap.Logger) *gin.Engine {
	if cfg.Production() {
		gin.SetMode(gin.ReleaseMode)
	}
	h := httpapi.NewHandler(engine, logger, cfg.Production())
	return httpapi.NewRouter(h, httpapi.RouterOptions{
		Limiter: limiter,
		Metrics: promexport.NewExporter(engine).Handler(),
	})
}

// registerOtelMetrics publishes the engine counters on the global meter
// provider. Without an SDK installed the instruments are no-ops.
func registerOtelMetrics(lc fx.Lifecycle, engine *authcore.Engine) error {
	exporter, err := otelexport.NewExporter(otel.GetMeterProvider().Meter("authcore"), engine)
	if err != nil {
		return fmt.Errorf("otel metrics: %w", err)
	}
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return exporter.Close()
		},
	})
	return nil
}

func startHTTPServer(lc fx.Lifecycle, cfg serverConfig, router *gin.Engine, logger *zap.Logger) {
	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			go func() {
				logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					logger.Error("http server stopped", zap.Error(err))
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return srv.Shutdown(ctx)
		},
	})
}
