package network

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"wyrmhole/crypto"
)

// SecureStream is a Noise-encrypted framed TCP session between two peers.
type SecureStream struct {
	conn      net.Conn
	session   *crypto.Session
	initiator bool

	sendMu sync.Mutex

	inbound chan []byte

	closeOnce sync.Once
	closed    chan struct{}

	errMu    sync.RWMutex
	closeErr error
}

func newSecureStream(conn net.Conn, session *crypto.Session, initiator bool) *SecureStream {
	s := &SecureStream{
		conn:      conn,
		session:   session,
		initiator: initiator,
		inbound:   make(chan []byte, 64),
		closed:    make(chan struct{}),
	}
	go s.readLoop()
	return s
}

// RemoteAddr returns the peer's network address.
func (s *SecureStream) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

// LastError returns the terminal stream error, if any.
func (s *SecureStream) LastError() error {
	s.errMu.RLock()
	defer s.errMu.RUnlock()
	return s.closeErr
}

// SendMessage marshals, seals and writes one protocol message.
func (s *SecureStream) SendMessage(message any) error {
	payload, err := EncodeJSON(message)
	if err != nil {
		return err
	}

	select {
	case <-s.closed:
		return s.terminalError()
	default:
	}

	s.sendMu.Lock()
	defer s.sendMu.Unlock()

	sealed, err := s.session.Seal(payload)
	if err != nil {
		return err
	}
	if err := WriteFrame(s.conn, sealed); err != nil {
		s.closeWithError(fmt.Errorf("write frame: %w", err))
		return err
	}
	return nil
}

// ReceiveMessage waits for the next inbound protocol message. Messages read
// before the peer hung up are still delivered.
func (s *SecureStream) ReceiveMessage(ctx context.Context) ([]byte, error) {
	select {
	case payload, ok := <-s.inbound:
		if !ok {
			return nil, s.terminalError()
		}
		return payload, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close terminates the stream.
func (s *SecureStream) Close() error {
	s.closeWithError(nil)
	return nil
}

func (s *SecureStream) readLoop() {
	defer close(s.inbound)

	for {
		frame, err := ReadFrame(s.conn)
		if err != nil {
			if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) {
				s.closeWithError(nil)
				return
			}
			s.closeWithError(fmt.Errorf("read frame: %w", err))
			return
		}

		payload, err := s.session.Open(frame)
		if err != nil {
			s.closeWithError(err)
			return
		}

		select {
		case s.inbound <- payload:
		case <-s.closed:
			return
		}
	}
}

func (s *SecureStream) terminalError() error {
	if err := s.LastError(); err != nil {
		return err
	}
	return io.EOF
}

func (s *SecureStream) closeWithError(err error) {
	s.closeOnce.Do(func() {
		s.errMu.Lock()
		s.closeErr = err
		s.errMu.Unlock()

		_ = s.conn.Close()
		close(s.closed)
	})
}

// secureHandshake runs the Noise handshake on a raw connection. The dialing
// side is the initiator.
func secureHandshake(ctx context.Context, conn net.Conn, psk []byte, initiator bool, timeout time.Duration) (*crypto.Session, error) {
	if err := conn.SetDeadline(time.Now().Add(timeout)); err != nil {
		return nil, fmt.Errorf("set handshake deadline: %w", err)
	}
	stop := context.AfterFunc(ctx, func() {
		_ = conn.SetDeadline(time.Now())
	})
	defer stop()

	session, err := runHandshake(conn, psk, initiator)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if err != nil {
		return nil, err
	}

	if err := conn.SetDeadline(time.Time{}); err != nil {
		return nil, fmt.Errorf("clear handshake deadline: %w", err)
	}
	return session, nil
}

func runHandshake(conn net.Conn, psk []byte, initiator bool) (*crypto.Session, error) {
	hs, err := crypto.NewHandshake(psk, initiator)
	if err != nil {
		return nil, err
	}

	if initiator {
		msg, err := hs.WriteMessage(nil)
		if err != nil {
			return nil, err
		}
		if err := WriteFrame(conn, msg); err != nil {
			return nil, fmt.Errorf("write handshake: %w", err)
		}
		reply, err := ReadFrame(conn)
		if err != nil {
			return nil, fmt.Errorf("read handshake reply: %w", err)
		}
		if _, err := hs.ReadMessage(reply); err != nil {
			return nil, err
		}
	} else {
		msg, err := ReadFrame(conn)
		if err != nil {
			return nil, fmt.Errorf("read handshake: %w", err)
		}
		if _, err := hs.ReadMessage(msg); err != nil {
			return nil, err
		}
		reply, err := hs.WriteMessage(nil)
		if err != nil {
			return nil, err
		}
		if err := WriteFrame(conn, reply); err != nil {
			return nil, fmt.Errorf("write handshake reply: %w", err)
		}
	}

	return hs.Session()
}

// exchangeHello sends our hello and validates the peer's.
func exchangeHello(ctx context.Context, stream *SecureStream, timeout time.Duration) error {
	if err := stream.SendMessage(Hello{Type: TypeHello, Version: ProtocolVersion}); err != nil {
		return fmt.Errorf("send hello: %w", err)
	}

	helloCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	payload, err := stream.ReceiveMessage(helloCtx)
	if err != nil {
		return fmt.Errorf("receive hello: %w", err)
	}
	msgType, err := DecodeMessageType(payload)
	if err != nil {
		return err
	}
	if msgType != TypeHello {
		return fmt.Errorf("%w: expected %q, got %q", ErrInvalidMessageType, TypeHello, msgType)
	}
	hello, err := decodeMessage[Hello](payload)
	if err != nil {
		return err
	}
	if err := CheckVersion(hello.Version); err != nil {
		_ = stream.SendMessage(ErrorMessage{Type: TypeError, Code: "unsupported_version", Message: err.Error()})
		return err
	}
	return nil
}
