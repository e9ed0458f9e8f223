// Package corpus reads the documents to index from files or PostgreSQL.
package corpus

import (
	"context"

	"github.com/dev-kumaralingam/xorsearch/internal/store"
	"github.com/dev-kumaralingam/xorsearch/pkg/config"
	apperrors "github.com/dev-kumaralingam/xorsearch/pkg/errors"
	"github.com/dev-kumaralingam/xorsearch/pkg/postgres"
)

// Record is one document as delivered by a corpus source.
type Record struct {
	Title string
	URL   string
	Meta  store.Meta
	Body  string
}

// ID returns the identity stored in the index for r.
func (r Record) ID() store.DocumentID {
	return store.DocumentID{Title: r.Title, URL: r.URL, Meta: r.Meta}
}

// Source loads a whole corpus. Sources that hold connections also implement
// io.Closer.
type Source interface {
	Load(ctx context.Context) ([]Record, error)
}

// rawRecord is the on-disk shape shared by the JSON and YAML formats.
type rawRecord struct {
	Title string  `json:"title" yaml:"title"`
	URL   string  `json:"url" yaml:"url"`
	Meta  *string `json:"meta" yaml:"meta"`
	Body  string  `json:"body" yaml:"body"`
}

func (r rawRecord) record() Record {
	return Record{Title: r.Title, URL: r.URL, Meta: store.MetaFromPtr(r.Meta), Body: r.Body}
}

func validate(r Record, pos string) error {
	if r.Title == "" && r.URL == "" {
		return apperrors.InvalidInputf("corpus record %s has neither title nor url", pos)
	}
	return nil
}

// Open returns the source selected by cfg.Corpus.Source.
func Open(ctx context.Context, cfg *config.Config) (Source, error) {
	switch cfg.Corpus.Source {
	case "file":
		return &FileSource{Path: cfg.Corpus.Path}, nil
	case "postgres":
		client, err := postgres.New(ctx, cfg.Postgres)
		if err != nil {
			return nil, err
		}
		return &PostgresSource{DB: client.DB, Query: cfg.Corpus.Query, closer: client}, nil
	default:
		return nil, apperrors.InvalidInputf("unknown corpus source %q", cfg.Corpus.Source)
	}
}
