package core

import (
	"fmt"
	"io"
	"strings"
)

// CompressionType identifies the codec used for snapshot payloads.
// The value is stored in the snapshot header, so it must be stable.
type CompressionType uint8

const (
	CompressionNone CompressionType = iota
	CompressionSnappy
	CompressionLZ4
	CompressionZSTD
)

func (t CompressionType) String() string {
	switch t {
	case CompressionNone:
		return "none"
	case CompressionSnappy:
		return "snappy"
	case CompressionLZ4:
		return "lz4"
	case CompressionZSTD:
		return "zstd"
	default:
		return fmt.Sprintf("CompressionType(%d)", uint8(t))
	}
}

// ParseCompressionType resolves a config string to a compression type.
func ParseCompressionType(s string) (CompressionType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "none":
		return CompressionNone, nil
	case "snappy":
		return CompressionSnappy, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZSTD, nil
	default:
		return CompressionNone, fmt.Errorf("unknown compression type %q", s)
	}
}

// Compressor compresses and decompresses snapshot payloads.
type Compressor interface {
	Compress(data []byte) ([]byte, error)
	Decompress(data []byte) (io.ReadCloser, error)
	Type() CompressionType
}
