package store

import (
	"encoding/binary"
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"
	"github.com/zeebo/blake3"

	"github.com/dev-kumaralingam/xorsearch/internal/filter"
	apperrors "github.com/dev-kumaralingam/xorsearch/pkg/errors"
)

// MagicBytes identifies an index file ("XSIX").
const (
	MagicBytes    uint32 = 0x58534958
	FormatVersion uint32 = 1
	HeaderSize    int    = 40
	FooterSize    int    = 32
)

// MaxPayloadSize caps the decoded payload so a corrupt header cannot force a
// huge allocation.
const MaxPayloadSize = 1 << 30

// Header is the fixed 40-byte header at the start of every index file.
type Header struct {
	Magic       uint32
	Version     uint32
	DocCount    uint32
	Compression Compression
	CreatedAt   int64
	StoredSize  uint64
	RawSize     uint64
}

type record struct {
	Title  string  `cbor:"1,keyasint"`
	URL    string  `cbor:"2,keyasint"`
	Meta   *string `cbor:"3,keyasint,omitempty"`
	Filter []byte  `cbor:"4,keyasint"`
}

type payload struct {
	Documents []record `cbor:"1,keyasint"`
}

// encMode uses Core Deterministic Encoding so the same documents always
// produce the same payload bytes and digest.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error
	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("store: CBOR encoder initialization failed: " + err.Error())
	}
	decMode, err = cbor.DecOptions{
		MaxArrayElements: 2147483647,
	}.DecMode()
	if err != nil {
		panic("store: CBOR decoder initialization failed: " + err.Error())
	}
}

func encodePayload(docs []IndexedDocument) ([]byte, error) {
	p := payload{Documents: make([]record, 0, len(docs))}
	for _, doc := range docs {
		f := doc.Filter
		if f == nil {
			f = filter.Empty()
		}
		fb, err := f.MarshalBinary()
		if err != nil {
			return nil, fmt.Errorf("marshaling filter for %q: %w", doc.ID.URL, err)
		}
		p.Documents = append(p.Documents, record{
			Title:  doc.ID.Title,
			URL:    doc.ID.URL,
			Meta:   doc.ID.Meta.Ptr(),
			Filter: fb,
		})
	}
	raw, err := encMode.Marshal(p)
	if err != nil {
		return nil, fmt.Errorf("encoding payload: %w", err)
	}
	return raw, nil
}

// Encode serialises s into the index file format.
func Encode(s *Storage, c Compression) ([]byte, error) {
	raw, err := encodePayload(s.docs)
	if err != nil {
		return nil, err
	}
	if len(raw) > MaxPayloadSize {
		return nil, fmt.Errorf("payload of %d bytes exceeds the %d byte limit", len(raw), MaxPayloadSize)
	}
	stored, used, err := compress(raw, c)
	if err != nil {
		return nil, fmt.Errorf("compressing payload: %w", err)
	}
	digest := blake3.Sum256(raw)

	out := make([]byte, HeaderSize, HeaderSize+len(stored)+FooterSize)
	binary.LittleEndian.PutUint32(out[0:4], MagicBytes)
	binary.LittleEndian.PutUint32(out[4:8], FormatVersion)
	binary.LittleEndian.PutUint32(out[8:12], uint32(len(s.docs)))
	out[12] = byte(used)
	binary.LittleEndian.PutUint64(out[16:24], uint64(time.Now().Unix()))
	binary.LittleEndian.PutUint64(out[24:32], uint64(len(stored)))
	binary.LittleEndian.PutUint64(out[32:40], uint64(len(raw)))
	out = append(out, stored...)
	out = append(out, digest[:]...)
	return out, nil
}

// ReadHeader parses and checks the fixed header of an index file.
func ReadHeader(data []byte) (Header, error) {
	if len(data) < HeaderSize {
		return Header{}, apperrors.Formatf("index is %d bytes, shorter than its header", len(data))
	}
	h := Header{
		Magic:       binary.LittleEndian.Uint32(data[0:4]),
		Version:     binary.LittleEndian.Uint32(data[4:8]),
		DocCount:    binary.LittleEndian.Uint32(data[8:12]),
		Compression: Compression(data[12]),
		CreatedAt:   int64(binary.LittleEndian.Uint64(data[16:24])),
		StoredSize:  binary.LittleEndian.Uint64(data[24:32]),
		RawSize:     binary.LittleEndian.Uint64(data[32:40]),
	}
	if h.Magic != MagicBytes {
		return Header{}, apperrors.Formatf("bad magic bytes %x", h.Magic)
	}
	if h.Version != FormatVersion {
		return Header{}, apperrors.Formatf("unsupported index version %d", h.Version)
	}
	if h.RawSize > MaxPayloadSize {
		return Header{}, apperrors.Formatf("raw payload size %d exceeds limit", h.RawSize)
	}
	return h, nil
}

// Decode parses an index file. It verifies the header, the payload length,
// the digest and every filter; any failure is ErrFormat and no partial
// Storage is returned.
func Decode(data []byte) (*Storage, error) {
	h, err := ReadHeader(data)
	if err != nil {
		return nil, err
	}
	if h.StoredSize > uint64(len(data)) {
		return nil, apperrors.Formatf("stored payload size %d exceeds file size %d", h.StoredSize, len(data))
	}
	if want := uint64(HeaderSize) + h.StoredSize + uint64(FooterSize); uint64(len(data)) != want {
		return nil, apperrors.Formatf("index is %d bytes, header describes %d", len(data), want)
	}
	stored := data[HeaderSize : HeaderSize+int(h.StoredSize)]
	raw, err := decompress(stored, h.Compression, int(h.RawSize))
	if err != nil {
		return nil, err
	}

	var digest [32]byte
	copy(digest[:], data[len(data)-FooterSize:])
	if got := blake3.Sum256(raw); got != digest {
		return nil, apperrors.Formatf("payload digest mismatch")
	}

	var p payload
	if err := decMode.Unmarshal(raw, &p); err != nil {
		return nil, apperrors.Formatf("decoding payload: %v", err)
	}
	if uint64(len(p.Documents)) != uint64(h.DocCount) {
		return nil, apperrors.Formatf("payload holds %d documents, header says %d", len(p.Documents), h.DocCount)
	}

	docs := make([]IndexedDocument, len(p.Documents))
	for i, rec := range p.Documents {
		f := new(filter.Filter)
		if err := f.UnmarshalBinary(rec.Filter); err != nil {
			return nil, fmt.Errorf("document %d (%q): %w", i, rec.URL, err)
		}
		docs[i] = IndexedDocument{
			ID:     DocumentID{Title: rec.Title, URL: rec.URL, Meta: MetaFromPtr(rec.Meta)},
			Filter: f,
		}
	}
	return newWithDigest(docs, digest), nil
}
