// Package config loads and validates xorsearch configuration from YAML files
// with environment-variable overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Index    IndexConfig    `yaml:"index"`
	Search   SearchConfig   `yaml:"search"`
	Corpus   CorpusConfig   `yaml:"corpus"`
	Postgres PostgresConfig `yaml:"postgres"`
	Redis    RedisConfig    `yaml:"redis"`
	Kafka    KafkaConfig    `yaml:"kafka"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"readTimeout"`
	WriteTimeout    time.Duration `yaml:"writeTimeout"`
	RequestTimeout  time.Duration `yaml:"requestTimeout"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout"`
	// RateLimit is the number of API requests one client address may make
	// per RateLimitWindow. Zero disables limiting.
	RateLimit       int           `yaml:"rateLimit"`
	RateLimitWindow time.Duration `yaml:"rateLimitWindow"`
}

// IndexConfig controls where the index lives and how it is built.
type IndexConfig struct {
	Path        string  `yaml:"path"`
	Compression string  `yaml:"compression"`
	TargetFPR   float64 `yaml:"targetFPR"`
	Workers     int     `yaml:"workers"`
	SkipFailed  bool    `yaml:"skipFailed"`
}

// SearchConfig controls result limits and score weights.
type SearchConfig struct {
	DefaultLimit int `yaml:"defaultLimit"`
	MaxResults   int `yaml:"maxResults"`
	TitleWeight  int `yaml:"titleWeight"`
	FilterWeight int `yaml:"filterWeight"`
}

// CorpusConfig selects where the indexer reads documents from.
type CorpusConfig struct {
	Source string `yaml:"source"`
	Path   string `yaml:"path"`
	Query  string `yaml:"query"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Database        string        `yaml:"database"`
	User            string        `yaml:"user"`
	Password        string        `yaml:"password"`
	SSLMode         string        `yaml:"sslMode"`
	MaxOpenConns    int           `yaml:"maxOpenConns"`
	MaxIdleConns    int           `yaml:"maxIdleConns"`
	ConnMaxLifetime time.Duration `yaml:"connMaxLifetime"`
}

// DSN returns a lib/pq-compatible data source name.
func (p PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		p.Host, p.Port, p.User, p.Password, p.Database, p.SSLMode,
	)
}

// RedisConfig holds Redis connection and query cache parameters.
type RedisConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	PoolSize int           `yaml:"poolSize"`
	CacheTTL time.Duration `yaml:"cacheTTL"`
}

// KafkaConfig holds the index-built notification settings.
type KafkaConfig struct {
	Enabled       bool     `yaml:"enabled"`
	Brokers       []string `yaml:"brokers"`
	ConsumerGroup string   `yaml:"consumerGroup"`
	Topic         string   `yaml:"topic"`
}

// LoggingConfig controls structured logging level and output format.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus metrics server.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
	Port    int  `yaml:"port"`
}

// Load reads a YAML config file (if provided), applies environment-variable
// overrides and validates the result.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file %s: %w", path, err)
		}
	}
	if err := applyEnvOverrides(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a Config suitable for local development.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    10 * time.Second,
			RequestTimeout:  5 * time.Second,
			ShutdownTimeout: 15 * time.Second,
			RateLimitWindow: time.Minute,
		},
		Index: IndexConfig{
			Path:        "data/index.xsix",
			Compression: "zstd",
			TargetFPR:   1.0 / 256,
			Workers:     8,
		},
		Search: SearchConfig{
			DefaultLimit: 10,
			MaxResults:   100,
			TitleWeight:  3,
			FilterWeight: 1,
		},
		Corpus: CorpusConfig{
			Source: "file",
			Path:   "data/corpus.jsonl",
			Query:  "SELECT title, url, meta, body FROM documents ORDER BY id",
		},
		Postgres: PostgresConfig{
			Host:            "localhost",
			Port:            5432,
			Database:        "xorsearch",
			User:            "xorsearch",
			Password:        "localdev",
			SSLMode:         "disable",
			MaxOpenConns:    10,
			MaxIdleConns:    2,
			ConnMaxLifetime: 5 * time.Minute,
		},
		Redis: RedisConfig{
			Addr:     "localhost:6379",
			PoolSize: 10,
			CacheTTL: 5 * time.Minute,
		},
		Kafka: KafkaConfig{
			Brokers:       []string{"localhost:9092"},
			ConsumerGroup: "xorsearch-searcher",
			Topic:         "index-built",
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
		},
		Metrics: MetricsConfig{
			Enabled: true,
			Port:    9090,
		},
	}
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.RateLimit < 0 {
		errs = append(errs, fmt.Errorf("server.rateLimit %d must not be negative", c.Server.RateLimit))
	}
	if c.Server.RateLimit > 0 && c.Server.RateLimitWindow <= 0 {
		errs = append(errs, errors.New("server.rateLimitWindow must be positive when rate limiting is on"))
	}
	if c.Index.Path == "" {
		errs = append(errs, errors.New("index.path is required"))
	}
	switch c.Index.Compression {
	case "", "none", "lz4", "zstd":
	default:
		errs = append(errs, fmt.Errorf("index.compression %q must be none, lz4 or zstd", c.Index.Compression))
	}
	if c.Index.TargetFPR <= 0 || c.Index.TargetFPR >= 1 {
		errs = append(errs, fmt.Errorf("index.targetFPR %v must be in (0, 1)", c.Index.TargetFPR))
	}
	if c.Index.Workers <= 0 {
		errs = append(errs, fmt.Errorf("index.workers %d must be positive", c.Index.Workers))
	}
	if c.Search.DefaultLimit <= 0 {
		errs = append(errs, fmt.Errorf("search.defaultLimit %d must be positive", c.Search.DefaultLimit))
	}
	if c.Search.MaxResults < c.Search.DefaultLimit {
		errs = append(errs, fmt.Errorf("search.maxResults %d is below search.defaultLimit %d",
			c.Search.MaxResults, c.Search.DefaultLimit))
	}
	if c.Search.TitleWeight < 1 {
		errs = append(errs, fmt.Errorf("search.titleWeight %d must be at least 1", c.Search.TitleWeight))
	}
	if c.Search.FilterWeight < 0 {
		errs = append(errs, fmt.Errorf("search.filterWeight %d must not be negative", c.Search.FilterWeight))
	}
	switch c.Corpus.Source {
	case "file":
		if c.Corpus.Path == "" {
			errs = append(errs, errors.New("corpus.path is required for the file source"))
		}
	case "postgres":
		if c.Corpus.Query == "" {
			errs = append(errs, errors.New("corpus.query is required for the postgres source"))
		}
	default:
		errs = append(errs, fmt.Errorf("corpus.source %q must be file or postgres", c.Corpus.Source))
	}
	if c.Kafka.Enabled {
		if len(c.Kafka.Brokers) == 0 {
			errs = append(errs, errors.New("kafka.brokers is required when kafka is enabled"))
		}
		if c.Kafka.Topic == "" {
			errs = append(errs, errors.New("kafka.topic is required when kafka is enabled"))
		}
	}
	if c.Redis.Enabled && c.Redis.Addr == "" {
		errs = append(errs, errors.New("redis.addr is required when redis is enabled"))
	}
	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}

// applyEnvOverrides reads XS_* environment variables and overrides the
// corresponding config fields.
func applyEnvOverrides(cfg *Config) error {
	var errs []error
	setInt := func(key string, dst *int) {
		if v := os.Getenv(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}
	setBool := func(key string, dst *bool) {
		if v := os.Getenv(key); v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	setString := func(key string, dst *string) {
		if v := os.Getenv(key); v != "" {
			*dst = v
		}
	}

	setInt("XS_SERVER_PORT", &cfg.Server.Port)
	setInt("XS_SERVER_RATE_LIMIT", &cfg.Server.RateLimit)
	setString("XS_INDEX_PATH", &cfg.Index.Path)
	setString("XS_INDEX_COMPRESSION", &cfg.Index.Compression)
	if v := os.Getenv("XS_INDEX_TARGET_FPR"); v != "" {
		fpr, err := strconv.ParseFloat(v, 64)
		if err != nil {
			errs = append(errs, fmt.Errorf("XS_INDEX_TARGET_FPR: %w", err))
		} else {
			cfg.Index.TargetFPR = fpr
		}
	}
	setString("XS_CORPUS_SOURCE", &cfg.Corpus.Source)
	setString("XS_CORPUS_PATH", &cfg.Corpus.Path)
	setString("XS_POSTGRES_HOST", &cfg.Postgres.Host)
	setInt("XS_POSTGRES_PORT", &cfg.Postgres.Port)
	setString("XS_POSTGRES_DATABASE", &cfg.Postgres.Database)
	setString("XS_POSTGRES_USER", &cfg.Postgres.User)
	setString("XS_POSTGRES_PASSWORD", &cfg.Postgres.Password)
	setString("XS_REDIS_ADDR", &cfg.Redis.Addr)
	setString("XS_REDIS_PASSWORD", &cfg.Redis.Password)
	setBool("XS_REDIS_ENABLED", &cfg.Redis.Enabled)
	if v := os.Getenv("XS_KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
	setBool("XS_KAFKA_ENABLED", &cfg.Kafka.Enabled)
	setString("XS_LOGGING_LEVEL", &cfg.Logging.Level)
	setString("XS_LOGGING_FORMAT", &cfg.Logging.Format)

	if err := errors.Join(errs...); err != nil {
		return fmt.Errorf("applying environment overrides: %w", err)
	}
	return nil
}
