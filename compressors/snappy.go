package compressors

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/tagforge/tcdb/core"
)

// SnappyCompressor implements the Compressor interface using Snappy.
type SnappyCompressor struct{}

// snappyReadCloser wraps a bytes.Reader so decompressed in-memory data
// satisfies io.ReadCloser.
type snappyReadCloser struct {
	*bytes.Reader
}

func (src *snappyReadCloser) Close() error {
	return nil
}

var _ core.Compressor = (*SnappyCompressor)(nil)
var _ io.ReadCloser = (*snappyReadCloser)(nil)

func NewSnappyCompressor() *SnappyCompressor {
	return &SnappyCompressor{}
}

func (c *SnappyCompressor) Compress(data []byte) ([]byte, error) {
	return snappy.Encode(nil, data), nil
}

func (c *SnappyCompressor) Decompress(data []byte) (io.ReadCloser, error) {
	decompressed, err := snappy.Decode(nil, data)
	if err != nil {
		return nil, fmt.Errorf("snappy decompress error: %w", err)
	}
	return &snappyReadCloser{Reader: bytes.NewReader(decompressed)}, nil
}

func (c *SnappyCompressor) Type() core.CompressionType {
	return core.CompressionSnappy
}
