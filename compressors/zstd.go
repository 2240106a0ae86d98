package compressors

import (
	"bytes"
	"fmt"
	"io"
	"sync"

	"github.com/klauspost/compress/zstd"
	"github.com/tagforge/tcdb/core"
)

// ZstdCompressor implements the Compressor interface using zstd, with
// pooled encoders and decoders since construction is expensive.
type ZstdCompressor struct {
	encoderPool sync.Pool
	decoderPool sync.Pool
}

type zstdReadCloser struct {
	*zstd.Decoder
	pool *sync.Pool
}

func (zrc *zstdReadCloser) Close() error {
	// Returning the decoder to the pool keeps it reusable; Decoder.Close
	// would invalidate it permanently.
	zrc.pool.Put(zrc.Decoder)
	return nil
}

var _ core.Compressor = (*ZstdCompressor)(nil)
var _ io.ReadCloser = (*zstdReadCloser)(nil)

func NewZstdCompressor() *ZstdCompressor {
	return &ZstdCompressor{
		encoderPool: sync.Pool{
			New: func() interface{} {
				enc, err := zstd.NewWriter(nil)
				if err != nil {
					return nil
				}
				return enc
			},
		},
		decoderPool: sync.Pool{
			New: func() interface{} {
				dec, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(512*1024*1024))
				if err != nil {
					return nil
				}
				return dec
			},
		},
	}
}

func (c *ZstdCompressor) Compress(data []byte) ([]byte, error) {
	enc, _ := c.encoderPool.Get().(*zstd.Encoder)
	if enc == nil {
		return nil, fmt.Errorf("zstd encoder unavailable")
	}
	defer c.encoderPool.Put(enc)

	var buf bytes.Buffer
	enc.Reset(&buf)
	if _, err := enc.Write(data); err != nil {
		return nil, fmt.Errorf("zstd compress write error: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("zstd compress close error: %w", err)
	}
	return buf.Bytes(), nil
}

func (c *ZstdCompressor) Decompress(data []byte) (io.ReadCloser, error) {
	dec, _ := c.decoderPool.Get().(*zstd.Decoder)
	if dec == nil {
		return nil, fmt.Errorf("zstd decoder unavailable")
	}
	if err := dec.Reset(bytes.NewReader(data)); err != nil {
		c.decoderPool.Put(dec)
		return nil, fmt.Errorf("zstd decoder reset error: %w", err)
	}
	return &zstdReadCloser{Decoder: dec, pool: &c.decoderPool}, nil
}

func (c *ZstdCompressor) Type() core.CompressionType {
	return core.CompressionZSTD
}
