package main

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/fjod/go_cart/cart-api/internal/config"
	"github.com/fjod/go_cart/cart-api/internal/log"
	"github.com/fjod/go_cart/cart-api/internal/repository"
)

func runMigrate(ctx context.Context, cfg *config.Config, logger zerolog.Logger) error {
	logger = logger.With().Str(log.KeyTag, "migrate").Logger()
	if cfg.Store.Driver != "mongo" {
		logger.Info().Str("driver", cfg.Store.Driver).Msg("nothing to migrate")
		return nil
	}

	db, err := repository.ConnectMongoDB(ctx, mongoOptions(cfg))
	if err != nil {
		return err
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = db.Client().Disconnect(ctx)
	}()

	if err := repository.NewMongoRepository(db).CreateIndexes(ctx); err != nil {
		return err
	}
	logger.Info().Str("database", cfg.Mongo.Database).Msg("cart indexes are in place")
	return nil
}
