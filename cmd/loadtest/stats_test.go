package main

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/dev-kumaralingam/xorsearch/internal/corpus"
)

func TestPercentile(t *testing.T) {
	var samples []time.Duration
	for i := 1; i <= 100; i++ {
		samples = append(samples, time.Duration(i)*time.Millisecond)
	}
	assert.Equal(t, 50*time.Millisecond, percentile(samples, 50))
	assert.Equal(t, 99*time.Millisecond, percentile(samples, 99))
	assert.Equal(t, 1*time.Millisecond, percentile(samples, 0))
	assert.Equal(t, 100*time.Millisecond, percentile(samples, 100))
	assert.Zero(t, percentile(nil, 50))
}

func TestStatsReport(t *testing.T) {
	s := NewStats()
	s.Record(30*time.Millisecond, 200, false, nil)
	s.Record(10*time.Millisecond, 200, true, nil)
	s.Record(20*time.Millisecond, 503, false, nil)
	s.Record(0, 0, false, errors.New("refused"))

	r := s.Report(2 * time.Second)
	assert.Equal(t, int64(4), r.Total)
	assert.Equal(t, int64(2), r.Success)
	assert.Equal(t, int64(2), r.Errors)
	assert.Equal(t, int64(1), r.ZeroResults)
	assert.InDelta(t, 2.0, r.RPS, 1e-9)
	assert.Equal(t, 10*time.Millisecond, r.Min)
	assert.Equal(t, 20*time.Millisecond, r.Avg)
	assert.Equal(t, 30*time.Millisecond, r.Max)
	assert.Equal(t, map[int]int64{200: 2, 503: 1}, r.StatusCodes)

	var buf bytes.Buffer
	r.Print(&buf)
	assert.Contains(t, buf.String(), "  503: 1")
	assert.Contains(t, buf.String(), "Zero results:    1")
}

func TestQueriesFromTitles(t *testing.T) {
	records := []corpus.Record{
		{Title: "Rust Guide", URL: "/a"},
		{Title: "rust  guide", URL: "/b"},
		{Title: "", URL: "/c"},
		{Title: "Go Tutorial", URL: "/d"},
		{Title: "Third", URL: "/e"},
	}
	assert.Equal(t, []string{"rust guide", "go tutorial"}, queriesFromTitles(records, 2))
	assert.Len(t, queriesFromTitles(records, 10), 3)
}
