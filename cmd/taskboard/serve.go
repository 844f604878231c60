package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	handler "taskboard-sync-backend/api"
	"taskboard-sync-backend/pkg/database"
	"taskboard-sync-backend/pkg/fanout"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
)

const shutdownTimeout = 10 * time.Second

func newServeCmd(a *app) *cobra.Command {
	var migrateFirst bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API and live event stream",
		Long: `Run the HTTP API and the websocket event stream.

With REDIS_URL set, events are relayed between instances through Redis
so observers connected to any instance see every accepted mutation.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), a, migrateFirst)
		},
	}
	cmd.Flags().BoolVar(&migrateFirst, "migrate", false, "apply pending migrations before serving")
	return cmd
}

func runServe(ctx context.Context, a *app, migrateFirst bool) error {
	cfg, log := a.cfg, a.logger

	if migrateFirst && !cfg.UseMemoryDB {
		if err := database.Migrate(ctx, cfg.PostgresDSN, 0); err != nil {
			return err
		}
	}

	db, err := database.GetDatabase(ctx, database.DatabaseConfig{
		UseMemoryDB: cfg.UseMemoryDB,
		PostgresDSN: cfg.PostgresDSN,
		Debug:       cfg.Debug,
	})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer func() {
		if err := database.ClosePool(); err != nil {
			log.Warn().Err(err).Msg("close database")
		}
	}()

	hub := fanout.NewHub(cfg.FanoutBuffer, log)
	g, gctx := errgroup.WithContext(ctx)

	var publisher fanout.Publisher = hub
	if cfg.RedisURL != "" {
		client, err := fanout.NewRedisClient(cfg.RedisURL)
		if err != nil {
			return err
		}
		defer client.Close()
		relay := fanout.NewRelay(hub, client, log)
		publisher = relay
		g.Go(func() error { return relay.Run(gctx) })
	}

	srv := &http.Server{
		Addr: ":" + cfg.Port,
		Handler: handler.NewRouter(handler.Deps{
			Config:    cfg,
			DB:        db,
			Hub:       hub,
			Publisher: publisher,
			Logger:    log,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g.Go(func() error {
		log.Info().
			Str("addr", srv.Addr).
			Str("environment", cfg.Environment).
			Bool("memory_db", cfg.UseMemoryDB).
			Str("fanout_scope", cfg.FanoutScope).
			Bool("redis_relay", cfg.RedisURL != "").
			Msg("server listening")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		log.Info().Msg("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		// websocket streams are hijacked connections; Shutdown does not wait for them
		return srv.Shutdown(sctx)
	})

	return g.Wait()
}
