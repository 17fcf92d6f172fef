// Package app wires the shop components together and runs them.
package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fjod/go_cart/shop-service/internal/cache"
	"github.com/fjod/go_cart/shop-service/internal/cart"
	"github.com/fjod/go_cart/shop-service/internal/catalog"
	"github.com/fjod/go_cart/shop-service/internal/config"
	"github.com/fjod/go_cart/shop-service/internal/httpapi"
	"github.com/fjod/go_cart/shop-service/internal/ledger"
	"github.com/fjod/go_cart/shop-service/internal/lock"
	"github.com/fjod/go_cart/shop-service/internal/notify"
	"github.com/fjod/go_cart/shop-service/internal/order"
	"github.com/fjod/go_cart/shop-service/internal/ratelimit"
	"github.com/fjod/go_cart/shop-service/internal/repository"
	"github.com/fjod/go_cart/shop-service/internal/users"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	limiterSweepEvery = time.Minute
	limiterMaxAge     = 10 * time.Minute
)

type App struct {
	cfg    *config.Config
	logger *zap.Logger

	repo    *repository.Repository
	redis   *redis.Client
	kafka   *notify.KafkaSink
	memory  *ratelimit.Memory
	server  *http.Server
	Catalog *catalog.Service
	Orders  *order.Engine
	Users   *users.Directory
	Carts   *cart.Service
}

// New opens storage, applies migrations and builds every component.
// Redis and Kafka are used only when configured.
func New(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*App, error) {
	a := &App{cfg: cfg, logger: logger}

	repo, err := repository.NewRepository(&repository.Credentials{
		Driver:       cfg.Database.Driver,
		Host:         cfg.Database.Host,
		Port:         cfg.Database.Port,
		User:         cfg.Database.User,
		Password:     cfg.Database.Password,
		DBName:       cfg.Database.Name,
		SSLMode:      cfg.Database.SSLMode,
		Path:         cfg.Database.Path,
		MaxOpenConns: cfg.Database.MaxOpenConns,
		MaxIdleConns: cfg.Database.MaxIdleConns,
		LockTimeout:  cfg.Lock.Timeout,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	a.repo = repo
	if err := repo.RunMigrations(); err != nil {
		a.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	logger.Info("database ready", zap.String("driver", repo.Driver()))

	var (
		catalogCache cache.CatalogCache = cache.Nop{}
		limiter      ratelimit.Limiter
	)
	if cfg.Redis.Addr != "" {
		a.redis = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := a.redis.Ping(ctx).Err(); err != nil {
			a.Close()
			return nil, fmt.Errorf("redis connection failed: %w", err)
		}
		logger.Info("redis ping succeeded", zap.String("addr", cfg.Redis.Addr))
		catalogCache = cache.NewRedisCache(a.redis, cfg.Redis.CacheTTL)
		limiter = ratelimit.NewRedis(a.redis, "ratelimit")
	} else {
		a.memory = ratelimit.NewMemory()
		limiter = a.memory
	}

	sinks := notify.Fanout{notify.NewLogSink(logger)}
	if len(cfg.Kafka.Brokers) > 0 {
		a.kafka = notify.NewKafkaSink(notify.KafkaConfig{
			Brokers:   cfg.Kafka.Brokers,
			Topic:     cfg.Kafka.Topic,
			QueueSize: cfg.Kafka.QueueSize,
		}, logger)
		sinks = append(sinks, a.kafka)
	}

	locks := lock.NewManager(cfg.Lock.Timeout)
	l := ledger.New(repo, logger)
	a.Catalog = catalog.NewService(repo, catalogCache, sinks, locks, logger, cfg.Catalog.LowStockThreshold)
	a.Orders = order.NewEngine(repo, l, locks, a.Catalog, sinks, logger, order.Config{
		BonusRate:       cfg.Loyalty.BonusRate,
		MaxDiscountRate: cfg.Loyalty.MaxDiscountRate,
		ReferralBonus:   cfg.Loyalty.ReferralBonus,
	})
	a.Users = users.NewDirectory(repo, l, locks, logger,
		users.WithFulfiller(a.Orders),
		users.WithSignupBonus(cfg.Loyalty.SignupBonus))
	a.Carts = cart.NewService(repo, locks, logger)

	h := httpapi.NewHandler(a.Catalog, a.Carts, a.Orders, a.Users, limiter, httpapi.Options{
		AdminToken:       cfg.Admin.Token,
		RequestTimeout:   cfg.Server.RequestTimeout,
		MaxBodyBytes:     cfg.Server.MaxBodyBytes,
		Cooldown:         cfg.RateLimit.Cooldown,
		CheckoutCooldown: cfg.RateLimit.CheckoutCooldown,
	}, logger)
	a.server = &http.Server{
		Addr:         cfg.Server.Addr,
		Handler:      h.Router(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.Server.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}
	if cfg.Admin.Token == "" {
		logger.Warn("admin token is empty, admin routes are disabled")
	}
	return a, nil
}

// Run serves HTTP and the background workers until ctx is cancelled,
// then shuts the server down and drains the notification queue.
func (a *App) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.logger.Info("shop service starting", zap.String("addr", a.server.Addr))
		if err := a.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		a.logger.Info("shutting down server...")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		return a.server.Shutdown(shutdownCtx)
	})

	if a.kafka != nil {
		g.Go(func() error { return a.kafka.Run(gctx) })
	}
	if a.memory != nil {
		g.Go(func() error { return a.memory.Run(gctx, limiterSweepEvery, limiterMaxAge) })
	}

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		err = nil
	}
	return err
}

// Close releases storage and Redis connections.
func (a *App) Close() {
	if a.redis != nil {
		if err := a.redis.Close(); err != nil {
			a.logger.Warn("failed to close redis", zap.Error(err))
		}
	}
	if a.repo != nil {
		if err := a.repo.Close(); err != nil {
			a.logger.Warn("failed to close database", zap.Error(err))
		}
	}
}

// Handler exposes the HTTP handler, mainly for tests.
func (a *App) Handler() http.Handler {
	return a.server.Handler
}
