package transfer

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"
	"testing"

	"wyrmhole/config"
	"wyrmhole/models"
)

const testCode = "7-guitar-revenge"

type fakeChannel struct {
	closed atomic.Int32
}

func (c *fakeChannel) Code() string { return testCode }
func (c *fakeChannel) Close() error { c.closed.Add(1); return nil }

type fakeStream struct {
	closed atomic.Int32
}

func (s *fakeStream) Close() error { s.closed.Add(1); return nil }

// fakeTransport records what the engine hands it. Gates block the matching
// call until closed or until the context ends.
type fakeTransport struct {
	createGate  chan struct{}
	connectGate chan struct{}
	createErr   error
	connectErr  error
	sendErr     error
	offer       models.Offer
	requestErr  error

	// Hooks replace the default behaviour of a call when set.
	createHook func(ctx context.Context) error
	sendHook   func(ctx context.Context) error

	mu      sync.Mutex
	sent    []models.SendRequest
	payload bytes.Buffer
	hints   []models.RelayHint
	stream  *fakeStream
}

func (f *fakeTransport) CreateChannel(ctx context.Context) (models.Channel, error) {
	if f.createHook != nil {
		if err := f.createHook(ctx); err != nil {
			return nil, err
		}
		return &fakeChannel{}, nil
	}
	if err := wait(ctx, f.createGate); err != nil {
		return nil, err
	}
	if f.createErr != nil {
		return nil, f.createErr
	}
	return &fakeChannel{}, nil
}

func (f *fakeTransport) ConnectChannel(ctx context.Context, code string) (models.Channel, error) {
	if err := wait(ctx, f.connectGate); err != nil {
		return nil, err
	}
	if f.connectErr != nil {
		return nil, f.connectErr
	}
	return &fakeChannel{}, nil
}

func (f *fakeTransport) OpenSecureStream(ctx context.Context, channel models.Channel) (models.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stream = &fakeStream{}
	return f.stream, nil
}

func (f *fakeTransport) Send(ctx context.Context, stream models.Stream, hints []models.RelayHint, req models.SendRequest, onTransit models.TransitFunc, onProgress models.ProgressFunc) error {
	if f.sendHook != nil {
		return f.sendHook(ctx)
	}
	if f.sendErr != nil {
		return f.sendErr
	}

	f.mu.Lock()
	f.sent = append(f.sent, models.SendRequest{Name: req.Name, Size: req.Size})
	f.hints = hints
	f.payload.Reset()
	_, err := io.Copy(&f.payload, req.Reader)
	f.mu.Unlock()
	if err != nil {
		return err
	}

	onTransit(models.TransitInfo{Kind: models.TransitDirect, PeerAddr: "192.0.2.1:5000"})
	onProgress(req.Size/2, req.Size)
	onProgress(req.Size, req.Size)
	return ctx.Err()
}

func (f *fakeTransport) Request(ctx context.Context, stream models.Stream, hints []models.RelayHint) (models.Offer, error) {
	if f.requestErr != nil {
		return nil, f.requestErr
	}
	return f.offer, nil
}

func (f *fakeTransport) lastSent() models.SendRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.sent) == 0 {
		return models.SendRequest{}
	}
	return f.sent[len(f.sent)-1]
}

func (f *fakeTransport) sentBytes() []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]byte(nil), f.payload.Bytes()...)
}

func wait(ctx context.Context, gate chan struct{}) error {
	if gate == nil {
		return ctx.Err()
	}
	select {
	case <-gate:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// fakeOffer writes data on accept, or blocks until the context ends when
// block is set.
type fakeOffer struct {
	name  string
	data  []byte
	block bool
	err   error

	accepted atomic.Int32
	rejected atomic.Int32
}

func (o *fakeOffer) Name() string { return o.name }
func (o *fakeOffer) Size() int64  { return int64(len(o.data)) }

func (o *fakeOffer) Accept(ctx context.Context, onTransit models.TransitFunc, onProgress models.ProgressFunc, w io.Writer) error {
	o.accepted.Add(1)
	onTransit(models.TransitInfo{Kind: models.TransitRelay, RelayName: "lan", PeerAddr: "192.0.2.9:4001"})

	if o.block {
		if len(o.data) > 0 {
			if _, err := w.Write(o.data[:1]); err != nil {
				return err
			}
			onProgress(1, o.Size())
		}
		<-ctx.Done()
		return ctx.Err()
	}
	if o.err != nil {
		return o.err
	}

	if _, err := w.Write(o.data); err != nil {
		return err
	}
	onProgress(o.Size(), o.Size())
	return nil
}

func (o *fakeOffer) Reject() error {
	o.rejected.Add(1)
	return nil
}

type recordingNotifier struct {
	mu               sync.Mutex
	sendProgress     []models.SendProgress
	connectionCodes  []models.ConnectionCode
	sendErrors       []models.TransferError
	downloadProgress []models.DownloadProgress
	downloadErrors   []models.TransferError
}

func (n *recordingNotifier) SendProgress(p models.SendProgress) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sendProgress = append(n.sendProgress, p)
}

func (n *recordingNotifier) ConnectionCode(c models.ConnectionCode) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.connectionCodes = append(n.connectionCodes, c)
}

func (n *recordingNotifier) SendError(e models.TransferError) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.sendErrors = append(n.sendErrors, e)
}

func (n *recordingNotifier) DownloadProgress(p models.DownloadProgress) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.downloadProgress = append(n.downloadProgress, p)
}

func (n *recordingNotifier) DownloadError(e models.TransferError) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.downloadErrors = append(n.downloadErrors, e)
}

func (n *recordingNotifier) phases() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	var out []string
	for _, p := range n.sendProgress {
		if len(out) == 0 || out[len(out)-1] != p.Status {
			out = append(out, p.Status)
		}
	}
	return out
}

func (n *recordingNotifier) counts() (sendErrors, downloadErrors, codes int) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.sendErrors), len(n.downloadErrors), len(n.connectionCodes)
}

type memoryHistory struct {
	mu       sync.Mutex
	sent     []models.SentRecord
	received []models.ReceivedRecord
	failWith error
}

func (h *memoryHistory) AddSentFile(r models.SentRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failWith != nil {
		return h.failWith
	}
	h.sent = append(h.sent, r)
	return nil
}

func (h *memoryHistory) AddReceivedFile(r models.ReceivedRecord) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.failWith != nil {
		return h.failWith
	}
	h.received = append(h.received, r)
	return nil
}

func (h *memoryHistory) sentRecords() []models.SentRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.SentRecord(nil), h.sent...)
}

func (h *memoryHistory) receivedRecords() []models.ReceivedRecord {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]models.ReceivedRecord(nil), h.received...)
}

type harness struct {
	engine    *Engine
	transport *fakeTransport
	notifier  *recordingNotifier
	history   *memoryHistory
	tempDir   string
	downloads string
}

func newHarness(t *testing.T, mutate func(*config.Settings)) *harness {
	t.Helper()

	settings := config.Settings{
		DownloadDirectory:       t.TempDir(),
		DefaultFolderNameFormat: config.DefaultFolderNameFormat,
		MaxConcurrentArchives:   1,
	}
	if mutate != nil {
		mutate(&settings)
	}

	h := &harness{
		transport: &fakeTransport{},
		notifier:  &recordingNotifier{},
		history:   &memoryHistory{},
		tempDir:   t.TempDir(),
		downloads: settings.DownloadDirectory,
	}
	engine, err := New(Options{
		Settings:  settings,
		Transport: h.transport,
		Notifier:  h.notifier,
		History:   h.history,
		TempDir:   h.tempDir,
	})
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	h.engine = engine
	return h
}

var errBoom = errors.New("boom")
