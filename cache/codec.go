package cache

import (
	"bytes"
	"fmt"
	"io"

	"github.com/klauspost/compress/gzip"
)

// Encoded payloads carry a one-byte marker so readers never have to
// guess; a payload written uncompressed decodes unchanged.
const (
	markerIdentity byte = 0x00
	markerGzip     byte = 0x01
)

// compressFloor is the minimum payload size worth compressing. Small
// entries grow under gzip framing overhead.
const compressFloor = 256

// Codec frames shared-tier payloads, optionally gzip-compressing them.
type Codec struct{}

// NewCodec creates a new codec.
func NewCodec() *Codec {
	return &Codec{}
}

// Encode frames data for the shared tier. When compress is false, or
// the payload is below the compression floor, it passes through with
// the identity marker.
func (c *Codec) Encode(data []byte, compress bool) ([]byte, error) {
	if !compress || len(data) < compressFloor {
		out := make([]byte, 0, len(data)+1)
		out = append(out, markerIdentity)
		return append(out, data...), nil
	}

	var buf bytes.Buffer
	buf.WriteByte(markerGzip)
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(data); err != nil {
		return nil, fmt.Errorf("cache: gzip write: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("cache: gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// Decode unframes a shared-tier payload.
func (c *Codec) Decode(payload []byte) ([]byte, error) {
	if len(payload) == 0 {
		return nil, fmt.Errorf("cache: empty payload")
	}

	switch payload[0] {
	case markerIdentity:
		return payload[1:], nil
	case markerGzip:
		zr, err := gzip.NewReader(bytes.NewReader(payload[1:]))
		if err != nil {
			return nil, fmt.Errorf("cache: gzip reader: %w", err)
		}
		defer zr.Close()
		data, err := io.ReadAll(zr)
		if err != nil {
			return nil, fmt.Errorf("cache: gzip read: %w", err)
		}
		return data, nil
	default:
		return nil, fmt.Errorf("cache: unknown codec marker 0x%02x", payload[0])
	}
}
