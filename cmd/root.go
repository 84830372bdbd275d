package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/fjod/go_cart/cart-api/internal/config"
	"github.com/fjod/go_cart/cart-api/internal/log"
)

func newRootCmd() *cobra.Command {
	var configPath string

	root := &cobra.Command{
		Use:          "cart",
		Short:        "Shopping cart service",
		SilenceUsage: true,
	}
	root.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a yaml config file (default ./config.yaml)")

	root.AddCommand(
		&cobra.Command{
			Use:   "serve",
			Short: "Run the cart HTTP API, checkout consumer and health server",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, logger, err := setup(configPath)
				if err != nil {
					return err
				}
				return runServe(logger.WithContext(cmd.Context()), cfg, logger)
			},
		},
		&cobra.Command{
			Use:   "migrate",
			Short: "Create the cart store indexes",
			RunE: func(cmd *cobra.Command, _ []string) error {
				cfg, logger, err := setup(configPath)
				if err != nil {
					return err
				}
				return runMigrate(logger.WithContext(cmd.Context()), cfg, logger)
			},
		},
	)
	return root
}

func setup(configPath string) (*config.Config, zerolog.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		logger := log.New(log.Options{AppName: "cart-service"})
		logger.Error().Err(err).Msg("failed loading config")
		return nil, logger, err
	}

	logger := log.New(log.Options{
		AppName:    cfg.Name,
		Level:      cfg.Log.Level,
		File:       cfg.Log.File,
		MaxSizeMB:  100,
		MaxBackups: 3,
	})
	logger.Info().Interface(log.KeyConfig, cfg).Msg("loaded config")
	return cfg, logger, nil
}
