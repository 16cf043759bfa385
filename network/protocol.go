// Package network is the built-in LAN transport: mailboxes advertised over
// mDNS, a Noise-secured TCP stream, and a small framed offer protocol.
package network

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/Masterminds/semver/v3"

	"wyrmhole/models"
)

const (
	// ProtocolVersion is the wire protocol version sent in hello.
	ProtocolVersion = "1.0.0"
	// SupportedVersions is the semver constraint a peer's hello must satisfy.
	SupportedVersions = "^1"
	// MaxFrameSize is the largest frame a Noise transport message may occupy.
	MaxFrameSize = 65535
	// ChunkSize is the plaintext size of one data message.
	ChunkSize = 32 * 1024
	// DefaultConnectionTimeout bounds TCP dial and handshake duration.
	DefaultConnectionTimeout = 30 * time.Second
)

const (
	TypeHello  = "hello"
	TypeOffer  = "offer"
	TypeAnswer = "answer"
	TypeData   = "data"
	TypeDone   = "done"
	TypeAck    = "ack"
	TypeError  = "error"
)

var (
	// ErrFrameTooLarge indicates payload exceeds MaxFrameSize.
	ErrFrameTooLarge = errors.New("network: frame exceeds max size")
	// ErrUnsupportedVersion indicates protocol version mismatch.
	ErrUnsupportedVersion = errors.New("network: unsupported protocol version")
	// ErrInvalidMessageType indicates the message type is missing or unexpected.
	ErrInvalidMessageType = errors.New("network: invalid message type")
	// ErrOfferRejected indicates the receiver declined the offer.
	ErrOfferRejected = errors.New("network: offer rejected by peer")
	// ErrPeerError indicates the peer aborted with an error message.
	ErrPeerError = errors.New("network: peer reported an error")
	// ErrSizeMismatch indicates the byte count differs from the announced size.
	ErrSizeMismatch = errors.New("network: transferred size does not match offer")
	// ErrChecksumMismatch indicates the received bytes differ from what was sent.
	ErrChecksumMismatch = errors.New("network: checksum mismatch")
)

var supportedVersions = mustConstraint(SupportedVersions)

// Envelope identifies the protocol message type.
type Envelope struct {
	Type string `json:"type"`
}

// Hello opens every secure stream.
type Hello struct {
	Type    string `json:"type"`
	Version string `json:"version"`
}

// OfferMessage announces one payload.
type OfferMessage struct {
	Type       string             `json:"type"`
	Name       string             `json:"name"`
	Size       int64              `json:"size"`
	RelayHints []models.RelayHint `json:"relay_hints,omitempty"`
}

// AnswerMessage accepts or rejects an offer.
type AnswerMessage struct {
	Type     string `json:"type"`
	Accepted bool   `json:"accepted"`
	Message  string `json:"message,omitempty"`
}

// DataMessage carries one chunk.
type DataMessage struct {
	Type    string `json:"type"`
	Offset  int64  `json:"offset"`
	Payload []byte `json:"payload"`
}

// DoneMessage ends the data phase.
type DoneMessage struct {
	Type     string `json:"type"`
	Size     int64  `json:"size"`
	Checksum string `json:"checksum"`
}

// AckMessage confirms the receiver stored every byte.
type AckMessage struct {
	Type string `json:"type"`
	Size int64  `json:"size"`
}

// ErrorMessage reports protocol errors.
type ErrorMessage struct {
	Type    string `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (m ErrorMessage) err() error {
	return fmt.Errorf("%w: %s: %s", ErrPeerError, m.Code, m.Message)
}

// EncodeJSON marshals a protocol message to JSON.
func EncodeJSON(message any) ([]byte, error) {
	payload, err := json.Marshal(message)
	if err != nil {
		return nil, fmt.Errorf("marshal protocol message: %w", err)
	}
	return payload, nil
}

// DecodeMessageType extracts the "type" field from a payload.
func DecodeMessageType(payload []byte) (string, error) {
	var envelope Envelope
	if err := json.Unmarshal(payload, &envelope); err != nil {
		return "", fmt.Errorf("decode envelope: %w", err)
	}
	if envelope.Type == "" {
		return "", ErrInvalidMessageType
	}
	return envelope.Type, nil
}

func decodeMessage[T any](payload []byte) (T, error) {
	var msg T
	if err := json.Unmarshal(payload, &msg); err != nil {
		return msg, fmt.Errorf("decode %T: %w", msg, err)
	}
	return msg, nil
}

// CheckVersion rejects peers outside SupportedVersions.
func CheckVersion(raw string) error {
	version, err := semver.NewVersion(raw)
	if err != nil {
		return fmt.Errorf("%w: %q", ErrUnsupportedVersion, raw)
	}
	if !supportedVersions.Check(version) {
		return fmt.Errorf("%w: %s does not satisfy %s", ErrUnsupportedVersion, version, SupportedVersions)
	}
	return nil
}

// WriteFrame writes one length-prefixed frame.
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxFrameSize {
		return ErrFrameTooLarge
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(len(payload)))

	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write frame length: %w", err)
	}
	if len(payload) == 0 {
		return nil
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame payload: %w", err)
	}

	return nil
}

// ReadFrame reads one length-prefixed frame.
func ReadFrame(r io.Reader) ([]byte, error) {
	header := make([]byte, 4)
	if _, err := io.ReadFull(r, header); err != nil {
		return nil, fmt.Errorf("read frame length: %w", err)
	}

	length := binary.BigEndian.Uint32(header)
	if length > MaxFrameSize {
		return nil, ErrFrameTooLarge
	}
	if length == 0 {
		return []byte{}, nil
	}

	payload := make([]byte, int(length))
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("read frame payload: %w", err)
	}

	return payload, nil
}

// ReadFrameWithTimeout reads a frame with an optional read deadline.
func ReadFrameWithTimeout(conn net.Conn, timeout time.Duration) ([]byte, error) {
	if timeout > 0 {
		if err := conn.SetReadDeadline(time.Now().Add(timeout)); err != nil {
			return nil, fmt.Errorf("set read deadline: %w", err)
		}
		defer func() {
			_ = conn.SetReadDeadline(time.Time{})
		}()
	}
	return ReadFrame(conn)
}

func mustConstraint(raw string) *semver.Constraints {
	c, err := semver.NewConstraint(raw)
	if err != nil {
		panic(err)
	}
	return c
}
