package corpus

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dev-kumaralingam/xorsearch/internal/store"
	"github.com/dev-kumaralingam/xorsearch/pkg/config"
	apperrors "github.com/dev-kumaralingam/xorsearch/pkg/errors"
)

func writeFile(t *testing.T, name, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0644))
	return path
}

var want = []Record{
	{Title: "Rust Guide", URL: "/rust", Body: "rust systems programming"},
	{Title: "Go Tutorial", URL: "/go", Meta: store.SomeMeta("lang=go"), Body: "go concurrency basics"},
	{Title: "", URL: "/untitled", Meta: store.SomeMeta(""), Body: ""},
}

func TestFileSourceFormats(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"corpus.jsonl", `{"title":"Rust Guide","url":"/rust","meta":null,"body":"rust systems programming"}

{"title":"Go Tutorial","url":"/go","meta":"lang=go","body":"go concurrency basics"}
{"url":"/untitled","meta":""}
`},
		{"corpus.ndjson", `{"title":"Rust Guide","url":"/rust","body":"rust systems programming"}
{"title":"Go Tutorial","url":"/go","meta":"lang=go","body":"go concurrency basics"}
{"url":"/untitled","meta":""}`},
		{"corpus.json", `[
  {"title":"Rust Guide","url":"/rust","body":"rust systems programming"},
  {"title":"Go Tutorial","url":"/go","meta":"lang=go","body":"go concurrency basics"},
  {"url":"/untitled","meta":""}
]`},
		{"corpus.yaml", `
- title: Rust Guide
  url: /rust
  meta: null
  body: rust systems programming
- title: Go Tutorial
  url: /go
  meta: lang=go
  body: go concurrency basics
- url: /untitled
  meta: ""
`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			src := &FileSource{Path: writeFile(t, tt.name, tt.body)}
			got, err := src.Load(context.Background())
			require.NoError(t, err)
			assert.Equal(t, want, got)
		})
	}
}

func TestFileSourceErrors(t *testing.T) {
	tests := []struct {
		name string
		file string
		body string
		msg  string
	}{
		{"bad extension", "corpus.csv", "a,b", ".csv"},
		{"bad json line", "c.jsonl", "{\"title\":\"a\"}\n{oops\n", "line 2"},
		{"no identity", "c.jsonl", "{\"title\":\"a\"}\n{\"body\":\"x\"}\n", "at line 2"},
		{"no identity array", "c.json", `[{"title":"a"},{"body":"x"}]`, "#1"},
		{"not an array", "c.json", `{"title":"a"}`, ""},
		{"bad yaml", "c.yml", "- title: [unclosed", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := (&FileSource{Path: writeFile(t, tt.file, tt.body)}).Load(context.Background())
			require.Error(t, err)
			assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
			assert.Contains(t, err.Error(), tt.msg)
		})
	}

	_, err := (&FileSource{Path: filepath.Join(t.TempDir(), "missing.jsonl")}).Load(context.Background())
	assert.ErrorIs(t, err, os.ErrNotExist)
}

type fakeRows struct {
	rows [][4]any
	i    int
	err  error
}

func (f *fakeRows) Next() bool {
	if f.i >= len(f.rows) {
		return false
	}
	f.i++
	return true
}

func (f *fakeRows) Scan(dest ...any) error {
	row := f.rows[f.i-1]
	*dest[0].(*string) = row[0].(string)
	*dest[1].(*string) = row[1].(string)
	if err := dest[2].(*sql.NullString).Scan(row[2]); err != nil {
		return err
	}
	*dest[3].(*string) = row[3].(string)
	return nil
}

func (f *fakeRows) Err() error { return f.err }

func TestScanRecords(t *testing.T) {
	rows := &fakeRows{rows: [][4]any{
		{"Rust Guide", "/rust", nil, "rust systems programming"},
		{"Go Tutorial", "/go", "lang=go", "go concurrency basics"},
		{"", "/untitled", "", ""},
	}}
	got, err := scanRecords(rows)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestScanRecordsErrors(t *testing.T) {
	_, err := scanRecords(&fakeRows{rows: [][4]any{{"", "", nil, "body"}}})
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.ErrorContains(t, err, "row 0")

	_, err = scanRecords(&fakeRows{err: errors.New("conn reset")})
	assert.ErrorContains(t, err, "conn reset")
}

func TestOpen(t *testing.T) {
	cfg := config.Default()
	cfg.Corpus.Path = "/data/c.jsonl"
	src, err := Open(context.Background(), cfg)
	require.NoError(t, err)
	assert.Equal(t, &FileSource{Path: "/data/c.jsonl"}, src)

	cfg.Corpus.Source = "s3"
	_, err = Open(context.Background(), cfg)
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
}

func TestRecordID(t *testing.T) {
	r := Record{Title: "t", URL: "/u", Meta: store.SomeMeta("m"), Body: "ignored"}
	assert.Equal(t, store.DocumentID{Title: "t", URL: "/u", Meta: store.SomeMeta("m")}, r.ID())
}
