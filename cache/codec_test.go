package cache

import (
	"bytes"
	"strings"
	"testing"
)

func TestCodec_IdentityRoundTrip(t *testing.T) {
	codec := NewCodec()
	data := []byte(`{"id":"u1","name":"test"}`)

	encoded, err := codec.Encode(data, false)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if encoded[0] != markerIdentity {
		t.Errorf("expected identity marker, got 0x%02x", encoded[0])
	}

	decoded, err := codec.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(decoded, data) {
		t.Errorf("round trip mismatch: got %q, want %q", decoded, data)
	}
}

func TestCodec_GzipRoundTrip(t *testing.T) {
	codec := NewCodec()
	data := []byte(strings.Repeat(`{"field":"value"},`, 200))

	encoded, err := codec.Encode(data, true)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if encoded[0] != markerGzip {
		t.Errorf("expected gzip marker, got 0x%02x", encoded[0])
	}
	if len(encoded) >= len(data) {
		t.Errorf("compressible payload did not shrink: %d >= %d", len(encoded), len(data))
	}

	decoded, err := codec.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if !bytes.Equal(decoded, data) {
		t.Error("gzip round trip mismatch")
	}
}

func TestCodec_SmallPayloadStaysUncompressed(t *testing.T) {
	codec := NewCodec()
	data := []byte(`{"id":"u1"}`)

	encoded, err := codec.Encode(data, true)
	if err != nil {
		t.Fatalf("Encode failed: %v", err)
	}
	if encoded[0] != markerIdentity {
		t.Errorf("small payload should use identity marker, got 0x%02x", encoded[0])
	}
}

func TestCodec_DecodeRejectsBadInput(t *testing.T) {
	codec := NewCodec()

	if _, err := codec.Decode(nil); err == nil {
		t.Error("expected error for empty payload")
	}
	if _, err := codec.Decode([]byte{0xFF, 0x01}); err == nil {
		t.Error("expected error for unknown marker")
	}
	if _, err := codec.Decode([]byte{markerGzip, 0x00, 0x01}); err == nil {
		t.Error("expected error for corrupt gzip payload")
	}
}
