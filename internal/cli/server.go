package cli

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"factcheck-challenge-service/internal/app"
	"factcheck-challenge-service/internal/config"
	"factcheck-challenge-service/internal/generate"
	"factcheck-challenge-service/internal/infra/memory"
	pgstore "factcheck-challenge-service/internal/infra/postgres"
	rediscache "factcheck-challenge-service/internal/infra/redis"
	"factcheck-challenge-service/internal/logger"
	"factcheck-challenge-service/internal/metrics"
	"factcheck-challenge-service/internal/normalize"
	transport "factcheck-challenge-service/internal/transport/http"
	"github.com/jackc/pgx/v4/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

// NewStartCmd builds the CLI subcommand to start the server.
func NewStartCmd(configPath, port *string) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Start the challenge server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServer(cmd.Context(), *configPath, *port)
		},
	}
}

func runServer(ctx context.Context, configPath, portFlag string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Log.Mode)
	if err != nil {
		return err
	}
	defer log.Sync()

	if cfg.Postgres.URL != "" {
		if err := runMigrationsWithConfig(ctx, cfg, log.With("component", "migrate")); err != nil {
			return err
		}
	}

	finalPort := portFlag
	if finalPort == "" {
		finalPort = cfg.Server.Port
	}
	if finalPort == "" {
		finalPort = "8080"
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(registry)

	detailTTL := config.TTLDuration(cfg.Cache.DetailTTL, 5*time.Minute)
	leaderboardTTL := config.TTLDuration(cfg.Cache.LeaderboardTTL, time.Minute)

	var cache app.ReadCache
	if cfg.Redis.Addr != "" {
		redisClient := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		defer redisClient.Close()
		cache = rediscache.NewReadCache(redisClient, detailTTL, leaderboardTTL)
		log.Info("read cache backed by redis", "addr", cfg.Redis.Addr)
	} else {
		cache = memory.NewReadCache(detailTTL, leaderboardTTL)
		log.Info("read cache in memory")
	}

	var store app.ChallengeStore
	if cfg.Postgres.URL != "" {
		pool, err := pgxpool.Connect(ctx, cfg.Postgres.URL)
		if err != nil {
			return err
		}
		defer pool.Close()
		store = pgstore.NewChallengeStore(pool, cache).WithLogger(log.With("component", "store"))
		log.Info("challenge store backed by postgres")
	} else {
		store = memory.NewChallengeStore(cache)
		log.Warn("challenge store in memory; data is lost on restart")
	}

	normalizer, err := buildNormalizer(ctx, cfg, log)
	if err != nil {
		return err
	}
	generationTimeout := config.TTLDuration(cfg.Generation.Timeout, 60*time.Second)
	generator := generate.New(buildProvider(cfg, log), log.With("component", "generator")).
		WithTimeout(generationTimeout)

	service := app.NewChallengeService(store, cache, normalizer, generator,
		app.WithLogger(log.With("component", "service")),
		app.WithMetrics(m),
	)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))
	mux.HandleFunc("/ws", transport.NewWSHandler(service, log).ServeWS)
	transport.NewHandler(service, log).Register(mux)

	server := &http.Server{
		Addr:         ":" + finalPort,
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: generationTimeout + 30*time.Second,
	}

	go func() {
		log.Info("starting challenge service", "port", finalPort)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("failed to start server", "error", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-stop:
		log.Info("shutting down server")
	case <-ctx.Done():
		log.Info("context canceled, shutting down server")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildNormalizer wires every extraction backend that has credentials.
func buildNormalizer(ctx context.Context, cfg config.Config, log *logger.Logger) (*normalize.Normalizer, error) {
	opts := []normalize.Option{
		normalize.WithDocuments(normalize.NewPDFExtractor()),
		normalize.WithPages(normalize.NewWebExtractor(normalize.WebConfig{
			Timeout:   config.TTLDuration(cfg.Web.Timeout, 15*time.Second),
			MaxBytes:  cfg.Web.MaxBytes,
			UserAgent: cfg.Web.UserAgent,
		})),
	}
	if cfg.YouTube.APIKey != "" && cfg.Transcript.APIKey != "" {
		resolver, err := normalize.NewYouTubeResolver(ctx, cfg.YouTube.APIKey)
		if err != nil {
			return nil, err
		}
		transcripts := normalize.NewTranscriptClient(cfg.Transcript.BaseURL, cfg.Transcript.APIKey, 30*time.Second)
		opts = append(opts, normalize.WithVideos(resolver, transcripts))
	} else {
		log.Warn("video sources disabled; youtube and transcript api keys required")
	}
	return normalize.New(opts...), nil
}

func buildProvider(cfg config.Config, log *logger.Logger) generate.Provider {
	if cfg.Generation.APIKey == "" {
		log.Warn("no generation api key; every challenge will use fallback items")
		return nil
	}
	return generate.NewOpenAIProvider(cfg.Generation.APIKey, cfg.Generation.BaseURL, cfg.Generation.Model)
}
