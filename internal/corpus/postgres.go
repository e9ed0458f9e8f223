package corpus

import (
	"context"
	"database/sql"
	"fmt"
	"io"
)

// DefaultQuery selects the corpus columns in a stable order.
const DefaultQuery = "SELECT title, url, meta, body FROM documents ORDER BY id"

// PostgresSource reads the corpus with a query returning title, url, a
// nullable meta and body, in that column order.
type PostgresSource struct {
	DB     *sql.DB
	Query  string
	closer io.Closer
}

type rowScanner interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
}

func (p *PostgresSource) Load(ctx context.Context) ([]Record, error) {
	query := p.Query
	if query == "" {
		query = DefaultQuery
	}
	rows, err := p.DB.QueryContext(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("querying corpus: %w", err)
	}
	defer rows.Close()
	return scanRecords(rows)
}

func scanRecords(rows rowScanner) ([]Record, error) {
	var records []Record
	for rows.Next() {
		var (
			raw  rawRecord
			meta sql.NullString
		)
		if err := rows.Scan(&raw.Title, &raw.URL, &meta, &raw.Body); err != nil {
			return nil, fmt.Errorf("scanning corpus row %d: %w", len(records), err)
		}
		if meta.Valid {
			raw.Meta = &meta.String
		}
		r := raw.record()
		if err := validate(r, fmt.Sprintf("row %d", len(records))); err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating corpus rows: %w", err)
	}
	return records, nil
}

// Close releases the connection pool opened by Open.
func (p *PostgresSource) Close() error {
	if p.closer == nil {
		return nil
	}
	return p.closer.Close()
}
