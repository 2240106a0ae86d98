// Package compressors provides the snapshot payload codecs behind the
// core.Compressor interface.
package compressors

import (
	"fmt"

	"github.com/tagforge/tcdb/core"
)

// NewCompressor returns the compressor for a stored compression type.
// Snapshot readers use it to honor whatever codec wrote the file,
// independent of the currently configured one.
func NewCompressor(t core.CompressionType) (core.Compressor, error) {
	switch t {
	case core.CompressionNone:
		return &NoCompressionCompressor{}, nil
	case core.CompressionSnappy:
		return NewSnappyCompressor(), nil
	case core.CompressionLZ4:
		return NewLz4Compressor(), nil
	case core.CompressionZSTD:
		return NewZstdCompressor(), nil
	default:
		return nil, fmt.Errorf("no compressor registered for type %v", t)
	}
}
