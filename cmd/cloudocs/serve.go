package main

import (
	"context"
	"fmt"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"github.com/ssau-fiit/cloudocs-sync/database"
	"github.com/ssau-fiit/cloudocs-sync/server"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the document relay server",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if addr, _ := cmd.Flags().GetString("listen"); cmd.Flags().Changed("listen") {
			cfg.Server.Listen = addr
		}
		if store, _ := cmd.Flags().GetString("store"); cmd.Flags().Changed("store") {
			cfg.Server.Store = store
		}

		store, closeStore, err := openStore(cmd.Context())
		if err != nil {
			return err
		}
		defer closeStore()

		srv := server.New(store,
			server.WithHeartbeat(cfg.Server.Heartbeat),
			server.WithLogger(log.Logger),
		)
		return srv.Run(cfg.Server.Listen)
	},
}

func openStore(ctx context.Context) (database.Store, func(), error) {
	switch cfg.Server.Store {
	case "", "memory":
		return database.NewMemoryStore(), func() {}, nil
	case "redis":
		if ctx == nil {
			ctx = context.Background()
		}
		store, err := database.OpenRedis(ctx, cfg.RedisOptions())
		if err != nil {
			return nil, nil, fmt.Errorf("failed to connect to redis: %w", err)
		}
		return store, func() {
			if err := store.Close(); err != nil {
				log.Error().Err(err).Msg("failed to close redis")
			}
		}, nil
	default:
		return nil, nil, fmt.Errorf("unknown store %q", cfg.Server.Store)
	}
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().String("listen", "", "Listen address (default from config)")
	serveCmd.Flags().String("store", "", "Document store: memory or redis")
}
