// Package filter implements the per-document approximate membership filter.
// A Filter answers "possibly present" or "definitely absent" for a term:
// every term it was built from tests present, other terms test present with
// a small fixed probability that depends on the filter's Kind.
//
// Filters are immutable values. Build them with Build, query them with
// Contains, and persist them with MarshalBinary/UnmarshalBinary.
package filter

import (
	"fmt"
	"slices"

	"github.com/cespare/xxhash/v2"

	apperrors "github.com/dev-kumaralingam/xorsearch/pkg/errors"
)

// Kind identifies the filter flavour, which fixes its fingerprint width and
// therefore its false-positive rate.
type Kind uint8

const (
	KindEmpty Kind = 0
	KindXor8  Kind = 1
	KindXor16 Kind = 2
)

// DefaultTargetFPR is the false-positive rate used when none is configured.
// It selects KindXor8.
const DefaultTargetFPR = 1.0 / 256

func (k Kind) String() string {
	switch k {
	case KindEmpty:
		return "empty"
	case KindXor8:
		return "xor8"
	case KindXor16:
		return "xor16"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(k))
	}
}

// FalsePositiveRate is the expected probability that a term absent from the
// build set tests present.
func (k Kind) FalsePositiveRate() float64 {
	switch k {
	case KindXor8:
		return 1.0 / 256
	case KindXor16:
		return 1.0 / 65536
	default:
		return 0
	}
}

// KindFor returns the narrowest non-empty kind whose false-positive rate is
// at or below target.
func KindFor(target float64) (Kind, error) {
	if !(target > 0 && target < 1) {
		return 0, apperrors.Constructionf("target false-positive rate %v must be in (0, 1)", target)
	}
	for _, k := range []Kind{KindXor8, KindXor16} {
		if k.FalsePositiveRate() <= target {
			return k, nil
		}
	}
	return 0, apperrors.Constructionf("target false-positive rate %v is below the supported minimum %v",
		target, KindXor16.FalsePositiveRate())
}

// set is the capability every filter flavour provides.
type set interface {
	contains(key uint64) bool
	header() (seed uint64, blockLength uint32)
	appendFingerprints(b []byte) []byte
	slots() int
}

// Filter is an immutable approximate set of terms.
type Filter struct {
	kind Kind
	keys uint32
	set  set
}

// Empty returns a filter that contains nothing.
func Empty() *Filter {
	return &Filter{kind: KindEmpty}
}

// Build constructs a filter over terms. Repeated terms are allowed. An empty
// term set yields the empty filter. The kind is chosen from targetFPR with
// KindFor.
func Build(terms []string, targetFPR float64) (*Filter, error) {
	kind, err := KindFor(targetFPR)
	if err != nil {
		return nil, err
	}
	keys := make([]uint64, len(terms))
	for i, term := range terms {
		keys[i] = hashTerm(term)
	}
	slices.Sort(keys)
	keys = slices.Compact(keys)
	if len(keys) == 0 {
		return Empty(), nil
	}

	f := &Filter{kind: kind, keys: uint32(len(keys))}
	var ok bool
	switch kind {
	case KindXor8:
		var x *xorFilter[uint8]
		x, ok = populate[uint8](keys)
		f.set = x
	case KindXor16:
		var x *xorFilter[uint16]
		x, ok = populate[uint16](keys)
		f.set = x
	}
	if !ok {
		return nil, apperrors.Constructionf("no seed separated %d keys after %d attempts", len(keys), maxIterations)
	}
	return f, nil
}

// Contains reports whether term may be in the set. It never returns false
// for a term the filter was built from.
func (f *Filter) Contains(term string) bool {
	if f == nil || f.set == nil {
		return false
	}
	return f.set.contains(hashTerm(term))
}

// Kind returns the filter flavour.
func (f *Filter) Kind() Kind {
	return f.kind
}

// Len returns the number of distinct keys the filter was built from.
func (f *Filter) Len() int {
	return int(f.keys)
}

// SizeBytes returns the size of the fingerprint table.
func (f *Filter) SizeBytes() int {
	switch f.kind {
	case KindXor8:
		return f.set.slots()
	case KindXor16:
		return f.set.slots() * 2
	default:
		return 0
	}
}

// FalsePositiveRate returns the expected false-positive rate.
func (f *Filter) FalsePositiveRate() float64 {
	return f.kind.FalsePositiveRate()
}

// hashTerm maps the UTF-8 bytes of a term to a 64-bit key.
func hashTerm(term string) uint64 {
	return xxhash.Sum64String(term)
}

func (x *xorFilter[F]) header() (uint64, uint32) {
	return x.seed, x.blockLength
}

func (x *xorFilter[F]) slots() int {
	return len(x.fingerprints)
}
