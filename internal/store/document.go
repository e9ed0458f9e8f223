package store

import (
	"bytes"
	"encoding/json"

	"github.com/dev-kumaralingam/xorsearch/internal/filter"
)

// Meta is an optional metadata string. The zero value is absent. Meta is
// comparable, so DocumentID values compare structurally with ==.
type Meta struct {
	value string
	ok    bool
}

// NoMeta is the absent Meta.
var NoMeta = Meta{}

// SomeMeta returns a present Meta holding s. An empty s is still present.
func SomeMeta(s string) Meta {
	return Meta{value: s, ok: true}
}

// MetaFromPtr converts a nullable string.
func MetaFromPtr(s *string) Meta {
	if s == nil {
		return NoMeta
	}
	return SomeMeta(*s)
}

// Get returns the value and whether it is present.
func (m Meta) Get() (string, bool) {
	return m.value, m.ok
}

// Ptr returns nil when absent.
func (m Meta) Ptr() *string {
	if !m.ok {
		return nil
	}
	v := m.value
	return &v
}

func (m Meta) MarshalJSON() ([]byte, error) {
	if !m.ok {
		return []byte("null"), nil
	}
	return json.Marshal(m.value)
}

func (m *Meta) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*m = NoMeta
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	*m = SomeMeta(s)
	return nil
}

// DocumentID identifies a document: its title, URL and optional metadata.
type DocumentID struct {
	Title string `json:"title"`
	URL   string `json:"url"`
	Meta  Meta   `json:"meta"`
}

// IndexedDocument pairs a document with the filter over its content terms.
type IndexedDocument struct {
	ID     DocumentID
	Filter *filter.Filter
}
