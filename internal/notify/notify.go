// Package notify announces freshly built indexes over Kafka and reloads
// searchers when an announcement arrives.
package notify

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/dev-kumaralingam/xorsearch/pkg/kafka"
	"github.com/dev-kumaralingam/xorsearch/pkg/resilience"
)

const EventType = "index.built"

// IndexBuilt is published after an index file has been written.
type IndexBuilt struct {
	Path      string    `json:"path"`
	Version   string    `json:"version"`
	Documents int       `json:"documents"`
	BuiltAt   time.Time `json:"built_at"`
}

type eventPublisher interface {
	Publish(ctx context.Context, event kafka.Event) error
}

type Publisher struct {
	producer eventPublisher
	retry    resilience.RetryConfig
	logger   *slog.Logger
}

func NewPublisher(producer eventPublisher) *Publisher {
	return &Publisher{
		producer: producer,
		retry:    resilience.RetryConfig{MaxAttempts: 5, InitialDelay: 200 * time.Millisecond},
		logger:   slog.Default().With("component", "notify-publisher"),
	}
}

// Announce publishes ev, retrying transient broker failures.
func (p *Publisher) Announce(ctx context.Context, ev IndexBuilt) error {
	err := resilience.Retry(ctx, "announce-index", p.retry, func() error {
		return p.producer.Publish(ctx, kafka.Event{Key: ev.Version, Type: EventType, Value: ev})
	})
	if err != nil {
		return fmt.Errorf("announcing index %s: %w", ev.Version, err)
	}
	p.logger.Info("index announced", "version", ev.Version, "path", ev.Path, "documents", ev.Documents)
	return nil
}

// Reloader is the part of the search engine a notification drives.
type Reloader interface {
	Load(path string) error
	Version() string
}

// Handler reloads r from path when an announcement names a version other
// than the one being served. Undecodable messages are logged and dropped so
// they are committed rather than redelivered forever.
func Handler(r Reloader, path string) kafka.MessageHandler {
	logger := slog.Default().With("component", "notify-handler")
	return func(ctx context.Context, key []byte, value []byte) error {
		ev, err := kafka.DecodeJSON[IndexBuilt](value)
		if err != nil {
			logger.Warn("dropping undecodable notification", "key", string(key), "error", err)
			return nil
		}
		if ev.Version != "" && ev.Version == r.Version() {
			logger.Debug("index already serving", "version", ev.Version)
			return nil
		}
		previous := r.Version()
		if err := r.Load(path); err != nil {
			return fmt.Errorf("reloading after notification for %s: %w", ev.Version, err)
		}
		logger.Info("index reloaded", "path", path, "version", r.Version(), "previous_version", previous)
		if got := r.Version(); ev.Version != "" && got != ev.Version {
			logger.Warn("reloaded index differs from announced version",
				"announced", ev.Version, "loaded", got, "path", path)
		}
		return nil
	}
}
