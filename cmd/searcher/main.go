package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/dev-kumaralingam/xorsearch/internal/notify"
	"github.com/dev-kumaralingam/xorsearch/internal/search"
	"github.com/dev-kumaralingam/xorsearch/internal/searcher/cache"
	"github.com/dev-kumaralingam/xorsearch/internal/searcher/handler"
	"github.com/dev-kumaralingam/xorsearch/pkg/config"
	"github.com/dev-kumaralingam/xorsearch/pkg/health"
	"github.com/dev-kumaralingam/xorsearch/pkg/kafka"
	"github.com/dev-kumaralingam/xorsearch/pkg/logger"
	"github.com/dev-kumaralingam/xorsearch/pkg/metrics"
	"github.com/dev-kumaralingam/xorsearch/pkg/middleware"
	pkgredis "github.com/dev-kumaralingam/xorsearch/pkg/redis"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var configPath, indexPath string
	flagSet := pflag.NewFlagSet("xorsearch-searcher", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to YAML config file")
	flagSet.StringVar(&indexPath, "index", "", "index file to serve (overrides index.path)")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if indexPath != "" {
		cfg.Index.Path = indexPath
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	slog.Info("starting search service", "port", cfg.Server.Port, "index", cfg.Index.Path)

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m := metrics.New(reg)

	engine := search.NewEngine(
		search.Weights{Title: cfg.Search.TitleWeight, Filter: cfg.Search.FilterWeight},
		search.WithMetrics(m),
	)
	if err := engine.Load(cfg.Index.Path); err != nil {
		return err
	}
	slog.Info("index loaded", "path", cfg.Index.Path, "version", engine.Version(), "documents", engine.Snapshot().Len())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var queryCache *cache.QueryCache
	var redisClient *pkgredis.Client
	if cfg.Redis.Enabled {
		redisClient, err = pkgredis.NewClient(ctx, cfg.Redis)
		if err != nil {
			slog.Warn("redis unavailable, search caching disabled", "error", err)
		} else {
			defer redisClient.Close()
			queryCache = cache.New(redisClient, cfg.Redis.CacheTTL, m)
			slog.Info("search cache enabled", "addr", cfg.Redis.Addr, "ttl", cfg.Redis.CacheTTL)
		}
	}

	h := handler.New(engine, queryCache, m, handler.Config{
		IndexPath:    cfg.Index.Path,
		DefaultLimit: cfg.Search.DefaultLimit,
		MaxResults:   cfg.Search.MaxResults,
	})

	checker := health.NewChecker(cfg.Server.RequestTimeout)
	checker.Register("index", h.IndexCheck())
	if cfg.Redis.Enabled {
		checker.Register("redis", func(ctx context.Context) health.ComponentHealth {
			if redisClient == nil {
				return health.Degraded("not connected")
			}
			if err := redisClient.Ping(ctx); err != nil {
				return health.Degraded(err.Error())
			}
			return health.Up("")
		})
	}

	mux := http.NewServeMux()
	h.Register(mux)
	mux.HandleFunc("GET /health/live", checker.LiveHandler())
	mux.HandleFunc("GET /health/ready", checker.ReadyHandler())

	var chain http.Handler = mux
	chain = middleware.Timeout(cfg.Server.RequestTimeout)(chain)
	if cfg.Server.RateLimit > 0 {
		chain = middleware.RateLimit(middleware.NewLimiter(cfg.Server.RateLimit, cfg.Server.RateLimitWindow))(chain)
	}
	chain = middleware.Metrics(m, mux)(chain)
	chain = middleware.RequestID(chain)

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      chain,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		slog.Info("search service listening", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		slog.Info("shutting down search service")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})
	if cfg.Metrics.Enabled {
		g.Go(func() error {
			return metrics.Serve(ctx, cfg.Metrics.Port, reg)
		})
	}
	if cfg.Kafka.Enabled {
		// Each searcher needs every announcement, so each gets its own group.
		hostname, _ := os.Hostname()
		groupID := cfg.Kafka.ConsumerGroup + "-" + hostname
		consumer := kafka.NewConsumer(cfg.Kafka, groupID, notify.Handler(engine, cfg.Index.Path))
		g.Go(func() error {
			return consumer.Start(ctx)
		})
	}
	g.Go(func() error {
		hup := make(chan os.Signal, 1)
		signal.Notify(hup, syscall.SIGHUP)
		defer signal.Stop(hup)
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-hup:
				slog.Info("SIGHUP received, reloading index")
				previous := engine.Version()
				if err := engine.Load(cfg.Index.Path); err != nil {
					slog.Error("reload failed, keeping current index", "error", err)
					continue
				}
				slog.Info("index reloaded", "version", engine.Version(), "previous_version", previous)
			}
		}
	})

	if err := g.Wait(); err != nil {
		return err
	}
	slog.Info("search service stopped")
	return nil
}
