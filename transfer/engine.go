// Package transfer drives send and receive sessions: it asks the transport
// for a secure stream, packs or unpacks archives, reports progress and
// records history.
package transfer

import (
	"context"
	"errors"
	"os"
	"time"

	"golang.org/x/sync/semaphore"

	"wyrmhole/config"
	"wyrmhole/metrics"
	"wyrmhole/session"
)

// Connection-code event statuses.
const (
	StatusSuccess = "success"
	StatusError   = "error"
)

// Options wires an Engine to its collaborators.
type Options struct {
	Settings  config.Settings
	Transport Transport
	Notifier  Notifier
	History   History

	// Registry defaults to a fresh registry.
	Registry *session.Registry
	// Metrics may be nil.
	Metrics *metrics.Metrics
	// TempDir holds outgoing archives. Defaults to os.TempDir().
	TempDir string
}

// Engine runs transfer sessions. All methods are safe for concurrent use.
type Engine struct {
	settings  config.Settings
	transport Transport
	notifier  Notifier
	history   History
	registry  *session.Registry
	metrics   *metrics.Metrics
	tempDir   string

	archives *semaphore.Weighted
}

// New validates options and returns an engine.
func New(options Options) (*Engine, error) {
	if options.Transport == nil {
		return nil, errors.New("transfer: transport is required")
	}
	if options.Notifier == nil {
		return nil, errors.New("transfer: notifier is required")
	}
	if options.History == nil {
		return nil, errors.New("transfer: history is required")
	}

	registry := options.Registry
	if registry == nil {
		registry = session.NewRegistry()
	}
	tempDir := options.TempDir
	if tempDir == "" {
		tempDir = os.TempDir()
	}
	workers := options.Settings.MaxConcurrentArchives
	if workers <= 0 {
		workers = config.DefaultMaxConcurrentArchives
	}

	return &Engine{
		settings:  options.Settings,
		transport: options.Transport,
		notifier:  options.Notifier,
		history:   options.History,
		registry:  registry,
		metrics:   options.Metrics,
		tempDir:   tempDir,
		archives:  semaphore.NewWeighted(int64(workers)),
	}, nil
}

// Registry exposes the live session tables.
func (e *Engine) Registry() *session.Registry {
	return e.registry
}

// CancelSend cancels a live send. The send itself publishes the terminal event.
func (e *Engine) CancelSend(id string) error {
	defer e.observeSessions()
	return e.registry.CancelSend(id)
}

// CancelDownload cancels an accepted download.
func (e *Engine) CancelDownload(id string) error {
	defer e.observeSessions()
	return e.registry.CancelDownload(id)
}

// CancelConnectionAttempt cancels a receive that has not produced an offer yet.
func (e *Engine) CancelConnectionAttempt(id string) error {
	defer e.observeSessions()
	return e.registry.CancelConnection(id)
}

// runArchiveJob runs fn once a worker slot is free.
func (e *Engine) runArchiveJob(ctx context.Context, operation string, fn func() error) error {
	if err := e.archives.Acquire(ctx, 1); err != nil {
		return err
	}
	defer e.archives.Release(1)

	started := time.Now()
	err := fn()
	e.metrics.ObserveArchive(operation, time.Since(started))
	return err
}

func (e *Engine) observeSessions() {
	e.metrics.SetActive("send", e.registry.Sends.Len())
	e.metrics.SetActive("download", e.registry.Downloads.Len())
	e.metrics.SetActive("connection", e.registry.Connections.Len())
	e.metrics.SetActive("offer", e.registry.Offers.Len())
}

// wasCancelled reports whether a failure came from a cancel request rather
// than from the transport.
func wasCancelled(token *session.CancelToken, parent context.Context) bool {
	return token.Cancelled() || parent.Err() != nil
}
