package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/pflag"

	"github.com/dev-kumaralingam/xorsearch/internal/corpus"
	"github.com/dev-kumaralingam/xorsearch/internal/indexer"
	"github.com/dev-kumaralingam/xorsearch/internal/notify"
	"github.com/dev-kumaralingam/xorsearch/pkg/config"
	"github.com/dev-kumaralingam/xorsearch/pkg/kafka"
	"github.com/dev-kumaralingam/xorsearch/pkg/logger"
	"github.com/dev-kumaralingam/xorsearch/pkg/metrics"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath  string
		corpusPath  string
		outPath     string
		compression string
		metricsFile string
	)
	flagSet := pflag.NewFlagSet("xorsearch-indexer", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to YAML config file")
	flagSet.StringVar(&corpusPath, "corpus", "", "corpus file to index (overrides corpus.path and selects the file source)")
	flagSet.StringVar(&outPath, "out", "", "index file to write (overrides index.path)")
	flagSet.StringVar(&compression, "compression", "", "payload compression: none, lz4 or zstd (overrides index.compression)")
	flagSet.StringVar(&metricsFile, "metrics-file", "", "write build metrics in Prometheus text format to this file")
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
	if corpusPath != "" {
		cfg.Corpus.Source = "file"
		cfg.Corpus.Path = corpusPath
	}
	if outPath != "" {
		cfg.Index.Path = outPath
	}
	if compression != "" {
		cfg.Index.Compression = compression
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger.Setup(cfg.Logging.Level, cfg.Logging.Format)
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)

	src, err := corpus.Open(ctx, cfg)
	if err != nil {
		return fmt.Errorf("opening corpus: %w", err)
	}
	if c, ok := src.(io.Closer); ok {
		defer c.Close()
	}
	records, err := src.Load(ctx)
	if err != nil {
		return fmt.Errorf("loading corpus: %w", err)
	}
	slog.Info("corpus loaded", "source", cfg.Corpus.Source, "records", len(records))

	builder, err := indexer.NewBuilder(cfg.Index, indexer.WithMetrics(m))
	if err != nil {
		return err
	}
	defer builder.Release()

	s, err := builder.BuildAndSave(ctx, records, cfg.Index.Path)
	if err != nil {
		return err
	}
	stats := s.Stats()

	if metricsFile != "" {
		if err := prometheus.WriteToTextfile(metricsFile, reg); err != nil {
			slog.Warn("writing metrics file failed", "path", metricsFile, "error", err)
		}
	}

	if cfg.Kafka.Enabled {
		absPath, err := filepath.Abs(cfg.Index.Path)
		if err != nil {
			absPath = cfg.Index.Path
		}
		producer := kafka.NewProducer(cfg.Kafka)
		defer producer.Close()
		err = notify.NewPublisher(producer).Announce(ctx, notify.IndexBuilt{
			Path:      absPath,
			Version:   s.Version(),
			Documents: stats.Documents,
			BuiltAt:   time.Now().UTC(),
		})
		if err != nil {
			return err
		}
	}

	fmt.Printf("indexed %d documents into %s (version %s, %d filter bytes, %d skipped)\n",
		stats.Documents, cfg.Index.Path, s.Version(), stats.FilterBytes, len(records)-stats.Documents)
	return nil
}
