package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/punchamoorthee/teampool/internal/api"
	"github.com/punchamoorthee/teampool/internal/config"
	"github.com/punchamoorthee/teampool/internal/events"
	"github.com/punchamoorthee/teampool/internal/service"
	"github.com/punchamoorthee/teampool/internal/store"
)

func main() {
	root := &cobra.Command{
		Use:           "teampool-api",
		Short:         "Pooled contribution service",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	var envFile string
	root.PersistentFlags().StringVar(&envFile, "env-file", ".env", "optional dotenv file loaded before the environment")

	serve := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			return runServer(cmd.Context(), cfg)
		},
	}

	migrate := &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := config.Load(envFile)
			if err != nil {
				return err
			}
			log := cfg.NewLogger()
			if err := store.Migrate(cmd.Context(), cfg.DBSource); err != nil {
				return err
			}
			log.Info("migrations applied")
			return nil
		},
	}

	root.AddCommand(serve, migrate)
	root.RunE = serve.RunE

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := root.ExecuteContext(ctx); err != nil {
		logrus.WithError(err).Fatal("teampool-api failed")
	}
}

func runServer(ctx context.Context, cfg *config.Config) error {
	log := cfg.NewLogger()

	// Initialize Layers
	var ledger service.Ledger
	switch cfg.Store {
	case config.StorePostgres:
		dbPool, err := store.Connect(ctx, cfg.DBSource)
		if err != nil {
			return err
		}
		pgStore := store.NewPostgresStore(dbPool)
		defer pgStore.Close()
		ledger = pgStore
	case config.StoreMemory:
		log.Warn("using in-memory store, state is lost on exit")
		ledger = store.NewMemoryStore()
	}

	emitters := events.Multi{events.NewLogEmitter(log), events.MetricsEmitter{}}
	if cfg.RedisURL != "" {
		redisEmitter, err := events.NewRedisEmitter(cfg.RedisURL, cfg.RedisChannel, log)
		if err != nil {
			return err
		}
		defer redisEmitter.Close()
		emitters = append(emitters, redisEmitter)
	}

	policy := service.Policy{
		UniqueMembers:   cfg.Policy.UniqueMembers,
		StrictClose:     cfg.Policy.StrictClose,
		StrictPayout:    cfg.Policy.StrictPayout,
		MaxMembersLimit: cfg.Policy.MaxMembersLimit,
	}
	svc := service.NewPoolService(ledger, emitters, policy, log)

	idem, err := api.NewIdempotencyCache(cfg.IdempotencyCacheSize)
	if err != nil {
		return err
	}
	limiter, err := api.NewRateLimiter(cfg.RateLimitRPS, cfg.RateLimitBurst, cfg.IdempotencyCacheSize)
	if err != nil {
		return err
	}
	auth, err := api.NewAuthenticator(cfg.JWTSecret)
	if err != nil {
		return err
	}

	handler := api.NewHandler(svc, idem, api.NewAmounts(cfg.AmountDecimals), log)
	if cfg.DevFunding {
		log.Warn("development funding enabled: POST /api/v1/accounts/{id}/fund mints balances")
		handler = handler.WithDevFunding()
	}
	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           api.NewRouter(handler, auth, limiter),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithFields(logrus.Fields{"port": cfg.Port, "store": cfg.Store}).Info("server starting")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Shutdown(shutdownCtx)
}
