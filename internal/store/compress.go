package store

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"

	apperrors "github.com/dev-kumaralingam/xorsearch/pkg/errors"
)

// Compression identifies how the index payload is compressed. The values
// are stored in the file header.
type Compression uint8

const (
	CompressionNone Compression = 0
	CompressionLZ4  Compression = 1
	CompressionZstd Compression = 2
)

func (c Compression) String() string {
	switch c {
	case CompressionNone:
		return "none"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(c))
	}
}

// ParseCompression parses the configuration name of a compression.
func ParseCompression(name string) (Compression, error) {
	switch name {
	case "none", "":
		return CompressionNone, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("unknown compression %q", name)
	}
}

// zstdWindow bounds the history a zstd frame may declare. Frames we write
// never exceed it, so a larger window marks a corrupt file.
const zstdWindow = 8 << 20

var zstdEncoder *zstd.Encoder

func init() {
	var err error
	zstdEncoder, err = zstd.NewWriter(nil,
		zstd.WithEncoderLevel(zstd.SpeedDefault),
		zstd.WithWindowSize(zstdWindow),
	)
	if err != nil {
		panic("store: zstd encoder initialization failed: " + err.Error())
	}
}

// compress returns the stored bytes and the compression actually used.
// Payloads that do not shrink are stored uncompressed.
func compress(raw []byte, c Compression) ([]byte, Compression, error) {
	switch c {
	case CompressionNone:
		return raw, CompressionNone, nil
	case CompressionLZ4:
		dst := make([]byte, lz4.CompressBlockBound(len(raw)))
		n, err := lz4.CompressBlock(raw, dst, nil)
		if err != nil {
			return nil, 0, fmt.Errorf("lz4 compress: %w", err)
		}
		if n == 0 || n >= len(raw) {
			return raw, CompressionNone, nil
		}
		return dst[:n], CompressionLZ4, nil
	case CompressionZstd:
		out := zstdEncoder.EncodeAll(raw, nil)
		if len(out) >= len(raw) {
			return raw, CompressionNone, nil
		}
		return out, CompressionZstd, nil
	default:
		return nil, 0, fmt.Errorf("unsupported compression %d", c)
	}
}

func decompress(stored []byte, c Compression, rawSize int) ([]byte, error) {
	switch c {
	case CompressionNone:
		if len(stored) != rawSize {
			return nil, apperrors.Formatf("uncompressed payload is %d bytes, header says %d", len(stored), rawSize)
		}
		return stored, nil
	case CompressionLZ4:
		// LZ4 cannot expand data by more than 255x, so a larger claim is corrupt.
		if uint64(rawSize) > 255*uint64(len(stored))+16 {
			return nil, apperrors.Formatf("lz4 payload of %d bytes cannot expand to %d", len(stored), rawSize)
		}
		dst := make([]byte, rawSize)
		n, err := lz4.UncompressBlock(stored, dst)
		if err != nil {
			return nil, apperrors.Formatf("lz4 decompress: %v", err)
		}
		if n != rawSize {
			return nil, apperrors.Formatf("lz4 decompress: got %d bytes, want %d", n, rawSize)
		}
		return dst, nil
	case CompressionZstd:
		return zstdDecompress(stored, rawSize)
	default:
		return nil, apperrors.Formatf("unknown compression tag %d", c)
	}
}

// zstdDecompress streams the frame so memory grows with the bytes actually
// decoded, not with the size the header claims.
func zstdDecompress(stored []byte, rawSize int) ([]byte, error) {
	var fh zstd.Header
	if err := fh.Decode(stored); err != nil {
		return nil, apperrors.Formatf("zstd frame header: %v", err)
	}
	if fh.HasFCS && fh.FrameContentSize != uint64(rawSize) {
		return nil, apperrors.Formatf("zstd frame holds %d bytes, header says %d", fh.FrameContentSize, rawSize)
	}
	// A single-segment frame sizes its window from the content size.
	if fh.SingleSegment && fh.FrameContentSize > zstdWindow {
		return nil, apperrors.Formatf("zstd single-segment frame of %d bytes exceeds the %d byte window", fh.FrameContentSize, zstdWindow)
	}

	dec, err := zstd.NewReader(bytes.NewReader(stored),
		zstd.WithDecoderConcurrency(1),
		zstd.WithDecoderMaxWindow(zstdWindow),
		zstd.WithDecoderMaxMemory(MaxPayloadSize),
		zstd.WithDecodeBuffersBelow(0),
	)
	if err != nil {
		return nil, apperrors.Formatf("zstd decompress: %v", err)
	}
	defer dec.Close()

	buf := bytes.NewBuffer(make([]byte, 0, min(rawSize, 64*len(stored)+512)))
	if _, err := io.Copy(buf, io.LimitReader(dec, int64(rawSize)+1)); err != nil {
		return nil, apperrors.Formatf("zstd decompress: %v", err)
	}
	if buf.Len() != rawSize {
		return nil, apperrors.Formatf("zstd decompress: got %d bytes, want %d", buf.Len(), rawSize)
	}
	return buf.Bytes(), nil
}
