package network

import (
	"bytes"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFrameRoundTrip(t *testing.T) {
	payload := []byte(`{"type":"hello","version":"1.0.0"}`)

	var buffer bytes.Buffer
	if err := WriteFrame(&buffer, payload); err != nil {
		t.Fatalf("WriteFrame failed: %v", err)
	}

	got, err := ReadFrame(&buffer)
	if err != nil {
		t.Fatalf("ReadFrame failed: %v", err)
	}
	if !bytes.Equal(got, payload) {
		t.Fatalf("payload mismatch")
	}
}

func TestWriteFrameRejectsOversizedPayload(t *testing.T) {
	payload := make([]byte, MaxFrameSize+1)
	var buffer bytes.Buffer
	if err := WriteFrame(&buffer, payload); err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestReadFrameRejectsOversizedHeader(t *testing.T) {
	buffer := bytes.NewBuffer([]byte{0x00, 0x01, 0x00, 0x00})
	if _, err := ReadFrame(buffer); err != ErrFrameTooLarge {
		t.Fatalf("expected ErrFrameTooLarge, got %v", err)
	}
}

func TestDataMessageFitsInOneFrame(t *testing.T) {
	payload, err := EncodeJSON(DataMessage{Type: TypeData, Offset: 1 << 40, Payload: make([]byte, ChunkSize)})
	require.NoError(t, err)
	// 16 bytes of AEAD tag are added on the wire.
	require.Less(t, len(payload)+16, MaxFrameSize)
}

func TestDecodeMessageType(t *testing.T) {
	msgType, err := DecodeMessageType([]byte(`{"type":"offer","name":"a"}`))
	require.NoError(t, err)
	require.Equal(t, TypeOffer, msgType)

	_, err = DecodeMessageType([]byte(`{"name":"a"}`))
	require.ErrorIs(t, err, ErrInvalidMessageType)
}

func TestCheckVersion(t *testing.T) {
	tests := []struct {
		version string
		ok      bool
	}{
		{version: "1.0.0", ok: true},
		{version: "1.4.2", ok: true},
		{version: "2.0.0", ok: false},
		{version: "0.9.0", ok: false},
		{version: "banana", ok: false},
	}

	for _, tt := range tests {
		err := CheckVersion(tt.version)
		if tt.ok && err != nil {
			t.Fatalf("CheckVersion(%q) failed: %v", tt.version, err)
		}
		if !tt.ok && !errors.Is(err, ErrUnsupportedVersion) {
			t.Fatalf("CheckVersion(%q) error = %v, want ErrUnsupportedVersion", tt.version, err)
		}
	}
}
