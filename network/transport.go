package network

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"wyrmhole/crypto"
	"wyrmhole/discovery"
	"wyrmhole/models"
)

const maxAdvertiseAttempts = 5

// Options controls the LAN transport.
type Options struct {
	// ListenAddress is where senders accept their peer. Defaults to ":0".
	ListenAddress     string
	ConnectionTimeout time.Duration
	CodeWords         int
}

func (o Options) withDefaults() Options {
	out := o
	if out.ListenAddress == "" {
		out.ListenAddress = ":0"
	}
	if out.ConnectionTimeout <= 0 {
		out.ConnectionTimeout = DefaultConnectionTimeout
	}
	if out.CodeWords <= 0 {
		out.CodeWords = crypto.DefaultCodeWords
	}
	return out
}

// Transport moves one payload between two peers that share a code.
type Transport struct {
	dir  discovery.Directory
	opts Options
}

// NewTransport creates a transport resolving mailboxes through dir.
func NewTransport(dir discovery.Directory, options Options) *Transport {
	return &Transport{dir: dir, opts: options.withDefaults()}
}

// mailbox is the rendezvous point for one transfer.
type mailbox struct {
	code      crypto.Code
	initiator bool

	server *Server
	adv    discovery.Advertisement

	mu   sync.Mutex
	conn net.Conn

	closeOnce sync.Once
}

func (m *mailbox) Code() string {
	return m.code.String()
}

func (m *mailbox) Close() error {
	m.closeOnce.Do(func() {
		m.release()
		if conn := m.takeConn(); conn != nil {
			_ = conn.Close()
		}
	})
	return nil
}

// release withdraws the advertisement and stops accepting peers.
func (m *mailbox) release() {
	if m.adv != nil {
		m.adv.Stop()
	}
	if m.server != nil {
		_ = m.server.Close()
	}
}

func (m *mailbox) takeConn() net.Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	conn := m.conn
	m.conn = nil
	return conn
}

// CreateChannel allocates a code, listens for the peer and advertises the nameplate.
func (t *Transport) CreateChannel(ctx context.Context) (models.Channel, error) {
	server, err := Listen(t.opts.ListenAddress)
	if err != nil {
		return nil, err
	}

	for attempt := 0; attempt < maxAdvertiseAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			_ = server.Close()
			return nil, err
		}

		code, err := crypto.GenerateCode(t.opts.CodeWords)
		if err != nil {
			_ = server.Close()
			return nil, err
		}

		adv, err := t.dir.Advertise(code.Nameplate, server.Port())
		if errors.Is(err, discovery.ErrNameplateInUse) {
			continue
		}
		if err != nil {
			_ = server.Close()
			return nil, err
		}

		logrus.WithFields(logrus.Fields{
			"nameplate": code.Nameplate,
			"address":   server.Addr().String(),
		}).Debug("Mailbox open")
		return &mailbox{code: code, server: server, adv: adv}, nil
	}

	_ = server.Close()
	return nil, fmt.Errorf("allocate nameplate: %w", discovery.ErrNameplateInUse)
}

// ConnectChannel resolves the code's nameplate and dials the sender.
func (t *Transport) ConnectChannel(ctx context.Context, code string) (models.Channel, error) {
	parsed, err := crypto.ParseCode(code)
	if err != nil {
		return nil, err
	}

	lookupCtx, cancel := context.WithTimeout(ctx, t.opts.ConnectionTimeout)
	defer cancel()

	endpoint, err := t.dir.Lookup(lookupCtx, parsed.Nameplate)
	if err != nil {
		return nil, err
	}

	dialer := net.Dialer{Timeout: t.opts.ConnectionTimeout}
	var dialErr error
	for _, address := range endpoint.DialAddresses() {
		conn, err := dialer.DialContext(ctx, "tcp", address)
		if err != nil {
			dialErr = err
			continue
		}
		return &mailbox{code: parsed, initiator: true, conn: conn}, nil
	}

	if forgetter, ok := t.dir.(interface{ Forget(string) }); ok {
		forgetter.Forget(parsed.Nameplate)
	}
	if ctxErr := ctx.Err(); ctxErr != nil {
		return nil, ctxErr
	}
	if dialErr == nil {
		dialErr = errors.New("no addresses advertised")
	}
	return nil, fmt.Errorf("dial mailbox %s: %w", parsed.Nameplate, dialErr)
}

// OpenSecureStream waits for the peer (sender side), then runs the Noise
// handshake and hello exchange.
func (t *Transport) OpenSecureStream(ctx context.Context, channel models.Channel) (models.Stream, error) {
	mb, ok := channel.(*mailbox)
	if !ok {
		return nil, fmt.Errorf("unsupported channel type %T", channel)
	}

	conn, err := t.claimConn(ctx, mb)
	if err != nil {
		return nil, err
	}

	session, err := secureHandshake(ctx, conn, crypto.DeriveKey(mb.code), mb.initiator, t.opts.ConnectionTimeout)
	if err != nil {
		_ = conn.Close()
		return nil, err
	}

	stream := newSecureStream(conn, session, mb.initiator)
	if err := exchangeHello(ctx, stream, t.opts.ConnectionTimeout); err != nil {
		_ = stream.Close()
		return nil, err
	}

	logrus.WithFields(logrus.Fields{
		"nameplate": mb.code.Nameplate,
		"peer":      conn.RemoteAddr().String(),
	}).Debug("Secure stream established")
	return stream, nil
}

func (t *Transport) claimConn(ctx context.Context, mb *mailbox) (net.Conn, error) {
	if mb.initiator {
		conn := mb.takeConn()
		if conn == nil {
			return nil, errors.New("channel is closed")
		}
		return conn, nil
	}

	select {
	case conn, ok := <-mb.server.Incoming():
		if !ok {
			return nil, errors.New("channel is closed")
		}
		// One peer per mailbox.
		mb.release()
		return conn, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Send offers req to the peer and streams it once accepted.
func (t *Transport) Send(ctx context.Context, stream models.Stream, hints []models.RelayHint, req models.SendRequest, onTransit models.TransitFunc, onProgress models.ProgressFunc) error {
	s, ok := stream.(*SecureStream)
	if !ok {
		return fmt.Errorf("unsupported stream type %T", stream)
	}

	stop := context.AfterFunc(ctx, func() {
		s.closeWithError(ctx.Err())
	})
	defer stop()

	err := t.send(ctx, s, hints, req, onTransit, onProgress)
	if ctxErr := ctx.Err(); ctxErr != nil {
		return ctxErr
	}
	return err
}

func (t *Transport) send(ctx context.Context, s *SecureStream, hints []models.RelayHint, req models.SendRequest, onTransit models.TransitFunc, onProgress models.ProgressFunc) error {
	if err := s.SendMessage(OfferMessage{
		Type:       TypeOffer,
		Name:       req.Name,
		Size:       req.Size,
		RelayHints: hints,
	}); err != nil {
		return fmt.Errorf("send offer: %w", err)
	}

	payload, err := s.ReceiveMessage(ctx)
	if err != nil {
		return fmt.Errorf("wait for answer: %w", err)
	}
	if err := expectType(payload, TypeAnswer); err != nil {
		return err
	}
	answer, err := decodeMessage[AnswerMessage](payload)
	if err != nil {
		return err
	}
	if !answer.Accepted {
		return ErrOfferRejected
	}

	if onTransit != nil {
		onTransit(transitFor(s.RemoteAddr(), hints))
	}

	hash := sha256.New()
	buf := make([]byte, ChunkSize)
	var sent int64
	for {
		n, readErr := req.Reader.Read(buf)
		if n > 0 {
			chunk := buf[:n]
			if err := s.SendMessage(DataMessage{Type: TypeData, Offset: sent, Payload: chunk}); err != nil {
				return fmt.Errorf("send chunk at %d: %w", sent, err)
			}
			_, _ = hash.Write(chunk)
			sent += int64(n)
			if onProgress != nil {
				onProgress(sent, req.Size)
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			_ = s.SendMessage(ErrorMessage{Type: TypeError, Code: "read_failed", Message: readErr.Error()})
			return fmt.Errorf("read payload: %w", readErr)
		}
	}

	if sent != req.Size {
		_ = s.SendMessage(ErrorMessage{Type: TypeError, Code: "size_mismatch", Message: "payload changed while sending"})
		return fmt.Errorf("%w: sent %d of %d bytes", ErrSizeMismatch, sent, req.Size)
	}

	if err := s.SendMessage(DoneMessage{
		Type:     TypeDone,
		Size:     sent,
		Checksum: hex.EncodeToString(hash.Sum(nil)),
	}); err != nil {
		return fmt.Errorf("send done: %w", err)
	}

	payload, err = s.ReceiveMessage(ctx)
	if err != nil {
		return fmt.Errorf("wait for ack: %w", err)
	}
	if err := expectType(payload, TypeAck); err != nil {
		return err
	}
	return nil
}

// Request waits for the peer's offer. A nil offer means the peer hung up
// without offering anything.
func (t *Transport) Request(ctx context.Context, stream models.Stream, hints []models.RelayHint) (models.Offer, error) {
	s, ok := stream.(*SecureStream)
	if !ok {
		return nil, fmt.Errorf("unsupported stream type %T", stream)
	}

	payload, err := s.ReceiveMessage(ctx)
	if errors.Is(err, io.EOF) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("wait for offer: %w", err)
	}
	if err := expectType(payload, TypeOffer); err != nil {
		return nil, err
	}
	msg, err := decodeMessage[OfferMessage](payload)
	if err != nil {
		return nil, err
	}
	if msg.Name == "" || msg.Size < 0 {
		_ = s.SendMessage(ErrorMessage{Type: TypeError, Code: "invalid_offer", Message: "offer has no name or a negative size"})
		return nil, fmt.Errorf("invalid offer %q (%d bytes)", msg.Name, msg.Size)
	}

	return &incomingOffer{
		stream: s,
		msg:    msg,
		hints:  append(append([]models.RelayHint(nil), hints...), msg.RelayHints...),
	}, nil
}

// expectType decodes the envelope and turns peer errors into Go errors.
func expectType(payload []byte, want string) error {
	msgType, err := DecodeMessageType(payload)
	if err != nil {
		return err
	}
	if msgType == want {
		return nil
	}
	if msgType == TypeError {
		msg, err := decodeMessage[ErrorMessage](payload)
		if err != nil {
			return err
		}
		return msg.err()
	}
	return fmt.Errorf("%w: expected %q, got %q", ErrInvalidMessageType, want, msgType)
}
