package compressors

import (
	"bytes"
	"io"

	"github.com/tagforge/tcdb/core"
)

// NoCompressionCompressor implements the Compressor interface without
// performing compression.
type NoCompressionCompressor struct{}

type plainTextDecoder struct {
	*bytes.Reader
}

func (p *plainTextDecoder) Close() error {
	return nil
}

var _ core.Compressor = (*NoCompressionCompressor)(nil)

func (c *NoCompressionCompressor) Compress(data []byte) ([]byte, error) {
	return data, nil
}

func (c *NoCompressionCompressor) Decompress(data []byte) (io.ReadCloser, error) {
	return &plainTextDecoder{Reader: bytes.NewReader(data)}, nil
}

func (c *NoCompressionCompressor) Type() core.CompressionType {
	return core.CompressionNone
}
