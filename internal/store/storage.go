// Package store holds the ordered collection of indexed documents and its
// persisted form. A Storage is built once, never changed, and replaced as a
// whole when the corpus is reindexed.
package store

import (
	"encoding/hex"
	"iter"
	"sync"

	"github.com/zeebo/blake3"

	"github.com/dev-kumaralingam/xorsearch/internal/filter"
)

// Storage is an immutable, ordered sequence of indexed documents. Order is
// insertion order and only matters for determinism.
type Storage struct {
	docs []IndexedDocument

	digestOnce sync.Once
	digest     [32]byte
	digestErr  error
}

// New returns a Storage holding a copy of docs.
func New(docs []IndexedDocument) *Storage {
	return &Storage{docs: append([]IndexedDocument(nil), docs...)}
}

// newWithDigest is used by Decode, which already knows the digest.
func newWithDigest(docs []IndexedDocument, digest [32]byte) *Storage {
	s := &Storage{docs: docs, digest: digest}
	s.digestOnce.Do(func() {})
	return s
}

// Len returns the number of documents.
func (s *Storage) Len() int {
	return len(s.docs)
}

// At returns the i-th document.
func (s *Storage) At(i int) IndexedDocument {
	return s.docs[i]
}

// All yields documents in storage order.
func (s *Storage) All() iter.Seq2[int, IndexedDocument] {
	return func(yield func(int, IndexedDocument) bool) {
		for i, doc := range s.docs {
			if !yield(i, doc) {
				return
			}
		}
	}
}

// Digest returns the BLAKE3-256 digest of the encoded (uncompressed) payload.
// Two storages with the same documents and filters have the same digest.
func (s *Storage) Digest() ([32]byte, error) {
	s.digestOnce.Do(func() {
		raw, err := encodePayload(s.docs)
		if err != nil {
			s.digestErr = err
			return
		}
		s.digest = blake3.Sum256(raw)
	})
	return s.digest, s.digestErr
}

// Version is a short hex form of the digest, used to tag caches and
// notifications. It is empty if the digest cannot be computed.
func (s *Storage) Version() string {
	d, err := s.Digest()
	if err != nil {
		return ""
	}
	return hex.EncodeToString(d[:16])
}

// Stats summarises the filters held by a Storage.
type Stats struct {
	Documents   int            `json:"documents"`
	FilterBytes int            `json:"filter_bytes"`
	Kinds       map[string]int `json:"kinds"`
}

// Stats walks every filter once.
func (s *Storage) Stats() Stats {
	st := Stats{Documents: len(s.docs), Kinds: make(map[string]int)}
	for _, doc := range s.docs {
		if doc.Filter == nil {
			st.Kinds[filter.KindEmpty.String()]++
			continue
		}
		st.FilterBytes += doc.Filter.SizeBytes()
		st.Kinds[doc.Filter.Kind().String()]++
	}
	return st
}
