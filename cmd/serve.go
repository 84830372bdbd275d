package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/extra/redisotel/v9"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/fjod/go_cart/cart-api/internal/cache"
	"github.com/fjod/go_cart/cart-api/internal/catalog"
	"github.com/fjod/go_cart/cart-api/internal/config"
	cartgrpc "github.com/fjod/go_cart/cart-api/internal/grpc"
	carthttp "github.com/fjod/go_cart/cart-api/internal/http"
	"github.com/fjod/go_cart/cart-api/internal/log"
	"github.com/fjod/go_cart/cart-api/internal/metrics"
	"github.com/fjod/go_cart/cart-api/internal/poller"
	"github.com/fjod/go_cart/cart-api/internal/repository"
	"github.com/fjod/go_cart/cart-api/internal/service"
	"github.com/fjod/go_cart/cart-api/internal/telemetry"
)

type store interface {
	repository.CartRepository
	Ping(ctx context.Context) error
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

func runServe(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	logger = logger.With().Str(log.KeyTag, "serve").Logger()

	shutdownTracing, err := telemetry.Init(ctx, cfg.Name, cfg.Otel.Endpoint)
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if err := shutdownTracing(ctx); err != nil {
			logger.Error().Err(err).Msg("failed flushing traces")
		}
	}()

	m := metrics.New()

	repo, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()
	checks := map[string]cartgrpc.Pinger{"store": repo}

	var cartCache cache.CartCache = cache.Nop{}
	if cfg.Redis.Addr != "" {
		client, err := openRedis(ctx, cfg.Redis)
		if err != nil {
			return err
		}
		defer client.Close()
		cartCache = cache.NewRedisCache(client, cfg.Redis.TTL)
		checks["cache"] = pingFunc(func(ctx context.Context) error { return client.Ping(ctx).Err() })
		logger.Info().Str("addr", cfg.Redis.Addr).Msg("redis cache enabled")
	}

	catalogClient := catalog.NewClient(catalog.Config{
		BaseURL:            cfg.Catalog.BaseURL,
		Timeout:            cfg.Catalog.Timeout,
		BreakerFailures:    cfg.Catalog.BreakerFailures,
		BreakerOpenTimeout: cfg.Catalog.BreakerOpenTimeout,
	}, m)

	carts := service.NewCartService(repo, cartCache, catalogClient,
		service.WithMetrics(m),
		service.WithMaxAttempts(cfg.Cart.MaxAttempts),
	)

	srv := &http.Server{
		Addr: fmt.Sprintf(":%d", cfg.HTTP.Port),
		Handler: carthttp.NewRouter(carthttp.RouterConfig{
			Logger:         logger,
			JWTSecret:      cfg.Auth.JWTSecret,
			RequestTimeout: cfg.HTTP.RequestTimeout,
			MaxBodyBytes:   cfg.HTTP.MaxBodyBytes,
			Metrics:        m.Handler(),
		}, carthttp.NewCartHandler(carts)),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.HTTP.RequestTimeout + 5*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	var grpcLis net.Listener
	if cfg.GRPC.Port != 0 {
		grpcLis, err = net.Listen("tcp", fmt.Sprintf(":%d", cfg.GRPC.Port))
		if err != nil {
			return fmt.Errorf("failed to listen on grpc port: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		logger.Info().Str("addr", srv.Addr).Msg("cart service listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server error: %w", err)
		}
		return nil
	})

	var healthSrv *cartgrpc.Server
	if grpcLis != nil {
		healthSrv = cartgrpc.NewServer(logger, checks)
		g.Go(func() error { return healthSrv.Serve(grpcLis) })
		g.Go(func() error {
			healthSrv.Watch(gctx, 15*time.Second)
			return nil
		})
	}

	var consumer *poller.Poller
	if len(cfg.Kafka.Brokers) > 0 {
		consumer = poller.NewPoller(carts, poller.Config{
			Brokers: cfg.Kafka.Brokers,
			Topic:   cfg.Kafka.Topic,
			GroupID: cfg.Kafka.GroupID,
		}, logger)
		g.Go(func() error {
			consumer.Run(gctx)
			return nil
		})
		logger.Info().Strs("brokers", cfg.Kafka.Brokers).Str("topic", cfg.Kafka.Topic).Msg("checkout consumer started")
	}

	g.Go(func() error {
		<-gctx.Done()
		logger.Info().Msg("shutting down cart service")

		ctx, cancel := context.WithTimeout(context.Background(), cfg.HTTP.ShutdownTimeout)
		defer cancel()
		if healthSrv != nil {
			healthSrv.Shutdown()
		}
		if consumer != nil {
			consumer.Close()
		}
		if err := srv.Shutdown(ctx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	err = g.Wait()
	logger.Info().Err(err).Msg("cart service stopped")
	return err
}

func openStore(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (store, func(), error) {
	if cfg.Store.Driver == "memory" {
		logger.Warn().Msg("using in-memory cart store, carts are lost on restart")
		return repository.NewMemoryRepository(), func() {}, nil
	}

	db, err := repository.ConnectMongoDB(ctx, mongoOptions(cfg))
	if err != nil {
		return nil, nil, err
	}
	logger.Info().Str("database", cfg.Mongo.Database).Msg("connected to MongoDB")

	repo := repository.NewMongoRepository(db)
	if err := repo.CreateIndexes(ctx); err != nil {
		_ = db.Client().Disconnect(context.Background())
		return nil, nil, err
	}

	closeFn := func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := db.Client().Disconnect(ctx); err != nil {
			logger.Error().Err(err).Msg("failed disconnecting from MongoDB")
		}
	}
	return repo, closeFn, nil
}

func mongoOptions(cfg *config.Config) repository.ConnectOptions {
	return repository.ConnectOptions{
		URI:            cfg.Mongo.URI,
		Database:       cfg.Mongo.Database,
		AppName:        cfg.Name,
		MaxPoolSize:    cfg.Mongo.MaxPoolSize,
		MinPoolSize:    cfg.Mongo.MinPoolSize,
		ConnectTimeout: cfg.Mongo.ConnectTimeout,
	}
}

func openRedis(ctx context.Context, cfg config.Redis) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := redisotel.InstrumentTracing(client); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed initializing redis tracing: %w", err)
	}
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}
	return client, nil
}
