package filter

import (
	"encoding/binary"
	"hash/crc32"

	apperrors "github.com/dev-kumaralingam/xorsearch/pkg/errors"
)

// FormatVersion is the first byte of every encoded filter.
const FormatVersion uint8 = 1

const (
	prefixSize   = 2  // version, kind
	xorHeaderEnd = 18 // prefix + seed(8) + blockLength(4) + keys(4)
	checksumSize = 4
)

// MarshalBinary encodes the filter. The layout is a version byte, a kind
// byte, for non-empty kinds the seed, block length, key count and
// fingerprints (little endian), and a trailing CRC-32 of everything before it.
func (f *Filter) MarshalBinary() ([]byte, error) {
	size := prefixSize + checksumSize
	if f.set != nil {
		size = xorHeaderEnd + f.SizeBytes() + checksumSize
	}
	b := make([]byte, 0, size)
	b = append(b, FormatVersion, byte(f.kind))
	if f.set != nil {
		seed, blockLength := f.set.header()
		b = binary.LittleEndian.AppendUint64(b, seed)
		b = binary.LittleEndian.AppendUint32(b, blockLength)
		b = binary.LittleEndian.AppendUint32(b, f.keys)
		b = f.set.appendFingerprints(b)
	}
	b = binary.LittleEndian.AppendUint32(b, crc32.ChecksumIEEE(b))
	return b, nil
}

// UnmarshalBinary decodes data produced by MarshalBinary into f. Any
// truncation, trailing garbage, unknown version or kind, or checksum
// mismatch is reported as ErrFormat and leaves f unchanged.
func (f *Filter) UnmarshalBinary(data []byte) error {
	if len(data) < prefixSize+checksumSize {
		return apperrors.Formatf("filter: %d bytes is shorter than the minimum encoding", len(data))
	}
	body := data[:len(data)-checksumSize]
	want := binary.LittleEndian.Uint32(data[len(data)-checksumSize:])
	if got := crc32.ChecksumIEEE(body); got != want {
		return apperrors.Formatf("filter: checksum mismatch (stored %08x, computed %08x)", want, got)
	}
	if body[0] != FormatVersion {
		return apperrors.Formatf("filter: unsupported format version %d", body[0])
	}

	kind := Kind(body[1])
	switch kind {
	case KindEmpty:
		if len(body) != prefixSize {
			return apperrors.Formatf("filter: empty filter carries %d unexpected bytes", len(body)-prefixSize)
		}
		*f = Filter{kind: KindEmpty}
		return nil
	case KindXor8, KindXor16:
	default:
		return apperrors.Formatf("filter: unknown kind %d", body[1])
	}

	if len(body) < xorHeaderEnd {
		return apperrors.Formatf("filter: header truncated at %d bytes", len(body))
	}
	seed := binary.LittleEndian.Uint64(body[2:10])
	blockLength := binary.LittleEndian.Uint32(body[10:14])
	keys := binary.LittleEndian.Uint32(body[14:18])
	if blockLength == 0 {
		return apperrors.Formatf("filter: zero block length")
	}
	if keys == 0 || uint64(keys) > 3*uint64(blockLength) {
		return apperrors.Formatf("filter: key count %d does not fit %d slots", keys, 3*uint64(blockLength))
	}

	width := uint64(1)
	if kind == KindXor16 {
		width = 2
	}
	table := body[xorHeaderEnd:]
	if expected := 3 * uint64(blockLength) * width; uint64(len(table)) != expected {
		return apperrors.Formatf("filter: fingerprint table is %d bytes, want %d", len(table), expected)
	}

	decoded := Filter{kind: kind, keys: keys}
	switch kind {
	case KindXor8:
		fps := make([]uint8, len(table))
		copy(fps, table)
		decoded.set = &xorFilter[uint8]{seed: seed, blockLength: blockLength, fingerprints: fps}
	case KindXor16:
		fps := make([]uint16, len(table)/2)
		for i := range fps {
			fps[i] = binary.LittleEndian.Uint16(table[2*i:])
		}
		decoded.set = &xorFilter[uint16]{seed: seed, blockLength: blockLength, fingerprints: fps}
	}
	*f = decoded
	return nil
}

func (x *xorFilter[F]) appendFingerprints(b []byte) []byte {
	switch fps := any(x.fingerprints).(type) {
	case []uint8:
		return append(b, fps...)
	case []uint16:
		for _, fp := range fps {
			b = binary.LittleEndian.AppendUint16(b, fp)
		}
		return b
	}
	return b
}
