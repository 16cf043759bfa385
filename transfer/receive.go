package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"wyrmhole/archive"
	"wyrmhole/crypto"
	"wyrmhole/metrics"
	"wyrmhole/models"
	"wyrmhole/naming"
	"wyrmhole/session"
)

// BeginReceive connects with code and waits for the sender's offer. The
// offer is kept under a new id until AcceptOffer or DenyOffer is called.
// connID lets CancelConnectionAttempt abort the wait.
func (e *Engine) BeginReceive(ctx context.Context, rawCode, connID string) (models.OfferSummary, error) {
	code := crypto.NormalizeInput(rawCode)
	if code == "" {
		return models.OfferSummary{}, &Error{Kind: ErrInvalidCode, Message: msgNoCode}
	}
	if _, err := crypto.ParseCode(code); err != nil {
		return models.OfferSummary{}, newError(ErrInvalidCode, "Error parsing code", err)
	}

	token := session.NewCancelToken()
	if err := e.registry.Connections.Insert(connID, session.Connection{Token: token}); err != nil {
		return models.OfferSummary{}, err
	}
	e.observeSessions()
	defer func() {
		e.registry.RemoveConnection(connID, token)
		e.observeSessions()
	}()

	runCtx, cancel := token.Context(ctx)
	defer cancel()

	summary, err := e.requestOffer(runCtx, code)
	if err != nil && wasCancelled(token, ctx) {
		return models.OfferSummary{}, newError(ErrUserCancelled, "Connection attempt cancelled", nil)
	}
	return summary, err
}

func (e *Engine) requestOffer(ctx context.Context, code string) (models.OfferSummary, error) {
	channel, err := e.transport.ConnectChannel(ctx, code)
	if err != nil {
		return models.OfferSummary{}, newError(ErrTransportFailure, "Failed to create mailbox", err)
	}
	defer channel.Close()

	stream, err := e.transport.OpenSecureStream(ctx, channel)
	if err != nil {
		return models.OfferSummary{}, newError(ErrTransportFailure, "Failed to connect to Wormhole", err)
	}

	offer, err := e.transport.Request(ctx, stream, e.settings.RelayHints())
	if err != nil {
		_ = stream.Close()
		return models.OfferSummary{}, newError(ErrTransportFailure, "Failed to request file", err)
	}
	if offer == nil {
		_ = stream.Close()
		return models.OfferSummary{}, &Error{Kind: ErrNoOffer, Message: msgNoOffer}
	}

	id := uuid.NewString()
	if err := e.registry.Offers.Insert(id, session.PendingOffer{Offer: offer}); err != nil {
		_ = offer.Reject()
		return models.OfferSummary{}, err
	}
	e.observeSessions()

	logrus.WithFields(logrus.Fields{
		"id":        id,
		"file_name": offer.Name(),
		"size":      offer.Size(),
	}).Info("Offer received")
	return models.OfferSummary{ID: id, FileName: offer.Name(), FileSize: offer.Size()}, nil
}

// DenyOffer rejects a pending offer.
func (e *Engine) DenyOffer(id string) error {
	offer, err := e.registry.TakeOffer(id)
	if err != nil {
		return err
	}
	e.observeSessions()
	e.metrics.TransferFinished(metrics.DirectionReceive, metrics.OutcomeRejected)

	if err := offer.Reject(); err != nil {
		return newError(ErrTransportFailure, "Failed to close request", err)
	}
	return nil
}

// AcceptOffer downloads a pending offer into the download directory and,
// for archives with auto-extract on, unpacks it there.
func (e *Engine) AcceptOffer(ctx context.Context, id string) (string, error) {
	offer, err := e.registry.TakeOffer(id)
	if err != nil {
		return "", err
	}
	e.observeSessions()
	e.metrics.TransferStarted(metrics.DirectionReceive)

	name := offer.Name()
	summary, err := e.download(ctx, id, offer)
	switch {
	case err == nil:
		e.metrics.TransferFinished(metrics.DirectionReceive, metrics.OutcomeCompleted)
		return summary, nil
	case errors.Is(err, ErrUserCancelled):
		e.metrics.TransferFinished(metrics.DirectionReceive, metrics.OutcomeCancelled)
		return "", err
	default:
		e.metrics.TransferFinished(metrics.DirectionReceive, metrics.OutcomeFailed)
		e.notifier.DownloadError(models.TransferError{ID: id, FileName: name, Error: err.Error()})
		return "", err
	}
}

func (e *Engine) download(ctx context.Context, id string, offer models.Offer) (string, error) {
	name := offer.Name()
	dir := e.settings.DownloadDirectory

	if err := os.MkdirAll(dir, 0o755); err != nil {
		_ = offer.Reject()
		return "", newError(ErrFileSystem, "Failed to create download directory", err)
	}

	target := naming.UniquePath(dir, safeFileName(name))
	file, err := os.OpenFile(target, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
	if err != nil {
		_ = offer.Reject()
		return "", newError(ErrFileSystem, "Failed to create file at path: "+target, err)
	}

	token := session.NewCancelToken()
	if err := e.registry.Downloads.Insert(id, session.Download{FileName: name, Token: token}); err != nil {
		_ = file.Close()
		_ = os.Remove(target)
		_ = offer.Reject()
		return "", err
	}
	e.observeSessions()

	transit, received, err := e.receiveInto(ctx, token, id, offer, file)
	closeErr := file.Close()
	e.registry.RemoveDownload(id, token)
	e.observeSessions()
	e.metrics.AddBytes(metrics.DirectionReceive, received)

	if err == nil && closeErr != nil {
		err = newError(ErrFileSystem, "Failed to write "+target, closeErr)
	}
	if err != nil {
		_ = os.Remove(target)
		return "", err
	}

	finalName := filepath.Base(target)
	if archive.IsArchiveName(finalName) && e.settings.AutoExtract() {
		return e.extract(ctx, target, dir, transit)
	}

	stem, ext := naming.StemAndExtension(finalName)
	e.recordReceived(models.ReceivedRecord{
		FileName:       stem,
		FileSize:       offer.Size(),
		FileExtension:  ext,
		DownloadURL:    dir,
		ConnectionType: transit.ConnectionType(),
		PeerAddress:    transit.PeerAddr,
	})

	if archive.IsArchiveName(finalName) {
		return fmt.Sprintf("File transfer completed! Tarball saved to %s (auto-extract is disabled)", target), nil
	}
	return fmt.Sprintf("File transfer completed! File saved to %s", target), nil
}

// receiveInto runs the transport accept with cancellation and the idle watchdog.
func (e *Engine) receiveInto(ctx context.Context, token *session.CancelToken, id string, offer models.Offer, file *os.File) (models.TransitInfo, int64, error) {
	tokenCtx, cancelToken := token.Context(ctx)
	defer cancelToken()

	runCtx, cancelRun := context.WithCancelCause(tokenCtx)
	defer cancelRun(nil)

	watchdog := watchIdle(e.settings.IdleTimeout(), func() {
		cancelRun(ErrIdleTimeout)
	})
	defer watchdog.stop()

	transit := models.TransitInfo{Kind: models.TransitUnknown}
	var received int64
	name := offer.Name()

	err := offer.Accept(runCtx, func(info models.TransitInfo) {
		transit = info
		watchdog.touch()
	}, func(n, total int64) {
		received = n
		watchdog.touch()
		e.notifier.DownloadProgress(models.DownloadProgress{
			ID:          id,
			FileName:    name,
			Transferred: n,
			Total:       total,
			Percentage:  Percentage(n, total),
		})
	}, file)
	if err == nil {
		return transit, received, nil
	}

	switch {
	case wasCancelled(token, ctx):
		return transit, received, newError(ErrUserCancelled, msgCancelled, nil)
	case errors.Is(context.Cause(runCtx), ErrIdleTimeout):
		return transit, received, &Error{Kind: ErrIdleTimeout, Message: msgIdle, Err: err}
	default:
		return transit, received, newError(ErrTransportFailure, "Error accepting file", err)
	}
}

func (e *Engine) extract(ctx context.Context, archivePath, dir string, transit models.TransitInfo) (string, error) {
	var extracted []archive.Extracted
	err := e.runArchiveJob(ctx, "unpack", func() error {
		var unpackErr error
		extracted, unpackErr = archive.Unpack(archivePath, dir)
		return unpackErr
	})
	if err != nil {
		logrus.WithFields(logrus.Fields{
			"archive": archivePath,
			"written": len(extracted),
		}).WithError(err).Warn("Extraction stopped part way")
		return "", newError(archive.ErrExtractionFailed, "Failed to extract tarball", err)
	}

	for _, file := range extracted {
		stem, ext := naming.StemAndExtension(file.Name)
		e.recordReceived(models.ReceivedRecord{
			FileName:       stem,
			FileSize:       file.Size,
			FileExtension:  ext,
			DownloadURL:    dir,
			ConnectionType: transit.ConnectionType(),
			PeerAddress:    transit.PeerAddr,
		})
	}

	if err := os.Remove(archivePath); err != nil {
		logrus.WithError(err).WithField("archive", archivePath).Warn("Failed to remove extracted archive")
	}
	return fmt.Sprintf("Tarball extracted! %d file(s) saved to %s", len(extracted), dir), nil
}

func (e *Engine) recordReceived(record models.ReceivedRecord) {
	record.DownloadTime = time.Now()
	if err := e.history.AddReceivedFile(record); err != nil {
		logrus.WithError(err).WithField("file_name", record.FileName).Warn("Failed to record received file")
	}
}

// safeFileName keeps only the final path element of a peer-supplied name.
func safeFileName(name string) string {
	base := filepath.Base(strings.ReplaceAll(name, "\\", "/"))
	if base == "." || base == ".." || base == "/" || base == "" {
		return "download"
	}
	return base
}
