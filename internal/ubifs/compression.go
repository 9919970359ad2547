package ubifs

import (
	"bytes"
	"compress/flate"
	"fmt"

	"github.com/klauspost/compress/zstd"

	"github.com/go-ubift/ubift/internal/types"
)

// CompressionService decompresses a UBIFS data node's payload based on the
// compression tag carried in its common fields, mirroring the teacher's
// CompressionService but dispatching over UBIFS_COMPR_* instead of APFS's
// compression methods.
type CompressionService struct {
	zstdDecoder *zstd.Decoder
}

// NewCompressionService builds a service with a reusable zstd decoder.
func NewCompressionService() (*CompressionService, error) {
	dec, err := zstd.NewReader(nil)
	if err != nil {
		return nil, fmt.Errorf("ubifs: init zstd decoder: %w", err)
	}
	return &CompressionService{zstdDecoder: dec}, nil
}

// Decompress decompresses data according to compr, expecting the result to
// be exactly size bytes long.
func (cs *CompressionService) Decompress(data []byte, compr types.CompressionType, size int) ([]byte, error) {
	out, err := data, error(nil)
	switch compr {
	case types.ComprNone:
	case types.ComprZlib:
		out, err = cs.decompressRawDeflate(data)
	case types.ComprZstd:
		out, err = cs.decompressZstd(data, size)
	case types.ComprLZO:
		out, err = decompressLZO1X(data, size)
	default:
		return nil, fmt.Errorf("ubifs: unknown compression type %d", compr)
	}
	if err != nil {
		return nil, err
	}
	if len(out) != size {
		return nil, fmt.Errorf("ubifs: decompressed %d bytes, expected %d", len(out), size)
	}
	return out, nil
}

// decompressRawDeflate decompresses UBIFS's "zlib" payloads, which on disk
// are raw DEFLATE streams (no zlib header/trailer, no Adler-32) — the
// kernel calls zlib_deflate with a negative window bits value, so no
// checksum verification step applies here.
func (cs *CompressionService) decompressRawDeflate(data []byte) ([]byte, error) {
	reader := flate.NewReader(bytes.NewReader(data))
	defer reader.Close()

	var result bytes.Buffer
	if _, err := result.ReadFrom(reader); err != nil {
		return nil, fmt.Errorf("ubifs: deflate decompression failed: %w", err)
	}
	return result.Bytes(), nil
}

func (cs *CompressionService) decompressZstd(data []byte, size int) ([]byte, error) {
	out, err := cs.zstdDecoder.DecodeAll(data, make([]byte, 0, size))
	if err != nil {
		return nil, fmt.Errorf("ubifs: zstd decompression failed: %w", err)
	}
	return out, nil
}
