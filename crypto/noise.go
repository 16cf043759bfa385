// Package crypto generates rendezvous codes and turns a shared code into an
// authenticated, encrypted session.
package crypto

import (
	"crypto/rand"
	"errors"
	"fmt"
	"sync"

	"github.com/flynn/noise"
)

// Prologue binds handshakes to this application's protocol.
const Prologue = "wyrmhole/1"

var (
	// ErrHandshakeNotComplete indicates ciphers were requested before the handshake finished.
	ErrHandshakeNotComplete = errors.New("crypto: handshake not complete")
	// ErrHandshakeFailed indicates the peer does not hold the same code.
	ErrHandshakeFailed = errors.New("crypto: handshake failed")
)

var cipherSuite = noise.NewCipherSuite(noise.DH25519, noise.CipherChaChaPoly, noise.HashSHA256)

// Handshake runs Noise NNpsk0 keyed by a code-derived pre-shared key.
// The initiator writes first; two messages complete the handshake.
type Handshake struct {
	initiator bool
	state     *noise.HandshakeState
	send      *noise.CipherState
	recv      *noise.CipherState
}

// NewHandshake prepares one side of the handshake.
func NewHandshake(psk []byte, initiator bool) (*Handshake, error) {
	if len(psk) != KeySize {
		return nil, fmt.Errorf("pre-shared key must be %d bytes, got %d", KeySize, len(psk))
	}

	state, err := noise.NewHandshakeState(noise.Config{
		CipherSuite:           cipherSuite,
		Random:                rand.Reader,
		Pattern:               noise.HandshakeNN,
		Initiator:             initiator,
		Prologue:              []byte(Prologue),
		PresharedKey:          psk,
		PresharedKeyPlacement: 0,
	})
	if err != nil {
		return nil, fmt.Errorf("create handshake state: %w", err)
	}

	return &Handshake{initiator: initiator, state: state}, nil
}

// WriteMessage produces the next outbound handshake message.
func (h *Handshake) WriteMessage(payload []byte) ([]byte, error) {
	msg, cs1, cs2, err := h.state.WriteMessage(nil, payload)
	if err != nil {
		return nil, fmt.Errorf("write handshake message: %w", err)
	}
	h.setCiphers(cs1, cs2)
	return msg, nil
}

// ReadMessage consumes an inbound handshake message and returns its payload.
func (h *Handshake) ReadMessage(msg []byte) ([]byte, error) {
	payload, cs1, cs2, err := h.state.ReadMessage(nil, msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrHandshakeFailed, err)
	}
	h.setCiphers(cs1, cs2)
	return payload, nil
}

// Complete reports whether both cipher states are available.
func (h *Handshake) Complete() bool {
	return h.send != nil && h.recv != nil
}

// Session returns the transport session once the handshake is complete.
func (h *Handshake) Session() (*Session, error) {
	if !h.Complete() {
		return nil, ErrHandshakeNotComplete
	}
	return &Session{send: h.send, recv: h.recv}, nil
}

func (h *Handshake) setCiphers(cs1, cs2 *noise.CipherState) {
	if cs1 == nil || cs2 == nil {
		return
	}
	// cs1 encrypts initiator->responder traffic.
	if h.initiator {
		h.send, h.recv = cs1, cs2
	} else {
		h.send, h.recv = cs2, cs1
	}
}

// Session seals and opens transport messages in order. Each direction has
// its own lock because Noise nonces are implicit counters.
type Session struct {
	sendMu sync.Mutex
	send   *noise.CipherState

	recvMu sync.Mutex
	recv   *noise.CipherState
}

// Seal encrypts plaintext for the peer.
func (s *Session) Seal(plaintext []byte) ([]byte, error) {
	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	out, err := s.send.Encrypt(nil, nil, plaintext)
	if err != nil {
		return nil, fmt.Errorf("seal: %w", err)
	}
	return out, nil
}

// Open decrypts a message sealed by the peer.
func (s *Session) Open(ciphertext []byte) ([]byte, error) {
	s.recvMu.Lock()
	defer s.recvMu.Unlock()

	out, err := s.recv.Decrypt(nil, nil, ciphertext)
	if err != nil {
		return nil, fmt.Errorf("open: %w", err)
	}
	return out, nil
}
