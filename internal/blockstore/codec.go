package blockstore

import (
	"bytes"
	"fmt"
	"io"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression selects how shred payloads are encoded at rest. Every stored
// payload carries a one-byte codec tag, so a ledger written with one setting
// stays readable after the setting changes.
type Compression byte

const (
	// CompressionNone stores payloads as-is.
	CompressionNone Compression = iota
	// CompressionSnappy uses snappy block encoding.
	CompressionSnappy
	// CompressionLZ4 uses the LZ4 frame format.
	CompressionLZ4
	// CompressionZstd uses zstd at the default level.
	CompressionZstd
)

var compressionNames = map[Compression]string{
	CompressionNone:   "none",
	CompressionSnappy: "snappy",
	CompressionLZ4:    "lz4",
	CompressionZstd:   "zstd",
}

func (c Compression) String() string {
	if name, ok := compressionNames[c]; ok {
		return name
	}
	return fmt.Sprintf("compression(%d)", byte(c))
}

// ParseCompression converts a config string to a Compression.
func ParseCompression(s string) (Compression, error) {
	if s == "" {
		return CompressionNone, nil
	}
	for c, name := range compressionNames {
		if name == s {
			return c, nil
		}
	}
	return CompressionNone, fmt.Errorf("blockstore: unknown compression %q", s)
}

// payloadCodec encodes and decodes tagged shred payloads.
type payloadCodec struct {
	compression Compression
	zenc        *zstd.Encoder
	zdec        *zstd.Decoder
}

func newPayloadCodec(c Compression) (*payloadCodec, error) {
	if _, ok := compressionNames[c]; !ok {
		return nil, fmt.Errorf("blockstore: unknown compression %d", byte(c))
	}
	enc, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, fmt.Errorf("zstd encoder: %w", err)
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		enc.Close()
		return nil, fmt.Errorf("zstd decoder: %w", err)
	}
	return &payloadCodec{compression: c, zenc: enc, zdec: dec}, nil
}

func (p *payloadCodec) encode(payload []byte) ([]byte, error) {
	out := []byte{byte(p.compression)}
	switch p.compression {
	case CompressionNone:
		return append(out, payload...), nil

	case CompressionSnappy:
		return append(out, snappy.Encode(nil, payload)...), nil

	case CompressionLZ4:
		buf := bytes.NewBuffer(out)
		w := lz4.NewWriter(buf)
		if _, err := w.Write(payload); err != nil {
			return nil, fmt.Errorf("lz4 writer: %w", err)
		}
		if err := w.Close(); err != nil {
			return nil, fmt.Errorf("lz4 writer: %w", err)
		}
		return buf.Bytes(), nil

	case CompressionZstd:
		return p.zenc.EncodeAll(payload, out), nil

	default:
		return nil, fmt.Errorf("unsupported compression: %s", p.compression)
	}
}

func (p *payloadCodec) decode(stored []byte) ([]byte, error) {
	if len(stored) == 0 {
		return nil, fmt.Errorf("blockstore: empty shred value")
	}
	data := stored[1:]
	switch Compression(stored[0]) {
	case CompressionNone:
		return append([]byte(nil), data...), nil

	case CompressionSnappy:
		return snappy.Decode(nil, data)

	case CompressionLZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(data)))

	case CompressionZstd:
		return p.zdec.DecodeAll(data, nil)

	default:
		return nil, fmt.Errorf("unsupported compression tag: %d", stored[0])
	}
}

func (p *payloadCodec) close() {
	p.zenc.Close()
	p.zdec.Close()
}
