package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/spf13/pflag"

	"github.com/dev-kumaralingam/xorsearch/internal/corpus"
	"github.com/dev-kumaralingam/xorsearch/internal/tokenizer"
)

type Config struct {
	BaseURL     string
	Concurrency int
	Duration    time.Duration
	Limit       int
	Queries     []string
}

var defaultQueries = []string{
	"rust",
	"go concurrency",
	"systems programming",
	"xor filter",
	"search engine",
	"probabilistic data structures",
	"false positive rate",
	"java",
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg := Config{}
	var corpusPath string
	flagSet := pflag.NewFlagSet("xorsearch-loadtest", pflag.ContinueOnError)
	flagSet.StringVar(&cfg.BaseURL, "url", "http://localhost:8080", "base URL of the search service")
	flagSet.IntVar(&cfg.Concurrency, "concurrency", 10, "number of concurrent workers")
	flagSet.DurationVar(&cfg.Duration, "duration", 30*time.Second, "test duration")
	flagSet.IntVar(&cfg.Limit, "limit", 10, "limit parameter sent with every query")
	flagSet.StringVar(&corpusPath, "corpus", "", "draw queries from the titles of this corpus file")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	cfg.Queries = defaultQueries
	if corpusPath != "" {
		records, err := (&corpus.FileSource{Path: corpusPath}).Load(context.Background())
		if err != nil {
			return err
		}
		cfg.Queries = queriesFromTitles(records, 1000)
		if len(cfg.Queries) == 0 {
			return fmt.Errorf("corpus %s has no titled records", corpusPath)
		}
	}

	fmt.Println("=== xorsearch load test ===")
	fmt.Printf("Target:      %s\n", cfg.BaseURL)
	fmt.Printf("Concurrency: %d\n", cfg.Concurrency)
	fmt.Printf("Duration:    %s\n", cfg.Duration)
	fmt.Printf("Queries:     %d unique\n", len(cfg.Queries))
	fmt.Println()

	stats := runLoadTest(cfg)
	report := stats.Report(cfg.Duration)
	report.Print(os.Stdout)
	if report.Total == 0 {
		return errors.New("no requests completed, is the service running?")
	}
	return nil
}

// queriesFromTitles turns up to n distinct record titles into queries.
func queriesFromTitles(records []corpus.Record, n int) []string {
	seen := make(map[string]struct{})
	var queries []string
	for _, r := range records {
		q := tokenizer.Join(tokenizer.Tokenize(r.Title))
		if q == "" {
			continue
		}
		if _, ok := seen[q]; ok {
			continue
		}
		seen[q] = struct{}{}
		queries = append(queries, q)
		if len(queries) == n {
			break
		}
	}
	return queries
}

type searchBody struct {
	TotalHits int `json:"total_hits"`
}

func runLoadTest(cfg Config) *Stats {
	stats := NewStats()
	client := &http.Client{
		Timeout: 10 * time.Second,
		Transport: &http.Transport{
			MaxIdleConns:        cfg.Concurrency * 2,
			MaxIdleConnsPerHost: cfg.Concurrency * 2,
			IdleConnTimeout:     90 * time.Second,
		},
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Duration)
	defer cancel()

	var wg sync.WaitGroup
	for w := range cfg.Concurrency {
		wg.Go(func() {
			queryIdx := w
			for ctx.Err() == nil {
				query := cfg.Queries[queryIdx%len(cfg.Queries)]
				queryIdx++

				searchURL := fmt.Sprintf("%s/api/v1/search?q=%s&limit=%d",
					cfg.BaseURL, url.QueryEscape(query), cfg.Limit)
				req, err := http.NewRequestWithContext(ctx, http.MethodGet, searchURL, nil)
				if err != nil {
					stats.Record(0, 0, false, err)
					return
				}

				start := time.Now()
				resp, err := client.Do(req)
				if err != nil {
					if ctx.Err() == nil {
						stats.Record(time.Since(start), 0, false, err)
					}
					continue
				}
				var body searchBody
				decodeErr := json.NewDecoder(resp.Body).Decode(&body)
				io.Copy(io.Discard, resp.Body)
				resp.Body.Close()
				elapsed := time.Since(start)

				zero := resp.StatusCode == http.StatusOK && decodeErr == nil && body.TotalHits == 0
				stats.Record(elapsed, resp.StatusCode, zero, nil)
			}
		})
	}
	wg.Wait()
	return stats
}
