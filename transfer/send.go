package transfer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/sirupsen/logrus"

	"wyrmhole/archive"
	"wyrmhole/metrics"
	"wyrmhole/models"
	"wyrmhole/naming"
	"wyrmhole/session"
)

// payload is what actually goes over the wire for one send.
type payload struct {
	file        *os.File
	name        string
	size        int64
	archivePath string
	record      models.SentRecord
	summary     string
}

func (p *payload) cleanup() {
	if p.file != nil {
		_ = p.file.Close()
	}
	if p.archivePath != "" {
		if err := os.Remove(p.archivePath); err != nil && !errors.Is(err, os.ErrNotExist) {
			logrus.WithError(err).WithField("archive", p.archivePath).Warn("Failed to remove temporary archive")
		}
	}
}

// BeginSend sends one or more files or folders under session id. Several
// sources, or one folder, are packed into a single archive named after
// wrapperName (optional). It returns a human-readable summary.
func (e *Engine) BeginSend(ctx context.Context, paths []string, id, wrapperName string) (string, error) {
	if len(paths) == 0 {
		return "", errors.New("transfer: at least one path is required")
	}
	if wrapperName != "" {
		if err := archive.ValidateWrapper(wrapperName); err != nil {
			return "", &Error{Kind: archive.ErrInvalidWrapper, Message: err.Error(), Err: err}
		}
	}

	token := session.NewCancelToken()
	if err := e.registry.Sends.Insert(id, session.Send{Token: token}); err != nil {
		return "", err
	}
	e.observeSessions()
	e.metrics.TransferStarted(metrics.DirectionSend)

	displayName := e.displayName(paths, wrapperName)
	e.notifier.SendProgress(models.SendProgress{ID: id, FileName: displayName, Status: models.PhasePreparing})

	runCtx, cancel := token.Context(ctx)
	summary, err := e.send(runCtx, id, token, paths, wrapperName, displayName)
	cancel()

	e.registry.RemoveSend(id, token)
	e.observeSessions()

	if err == nil {
		e.metrics.TransferFinished(metrics.DirectionSend, metrics.OutcomeCompleted)
		return summary, nil
	}

	if wasCancelled(token, ctx) {
		err = newError(ErrUserCancelled, msgCancelled, nil)
		e.metrics.TransferFinished(metrics.DirectionSend, metrics.OutcomeCancelled)
	} else {
		e.metrics.TransferFinished(metrics.DirectionSend, metrics.OutcomeFailed)
	}
	logrus.WithFields(logrus.Fields{"id": id, "file_name": displayName}).WithError(err).Debug("Send ended")
	e.notifier.SendError(models.TransferError{ID: id, FileName: displayName, Error: err.Error()})
	return "", err
}

func (e *Engine) send(ctx context.Context, id string, token *session.CancelToken, paths []string, wrapperName, displayName string) (string, error) {
	channel, err := e.transport.CreateChannel(ctx)
	if err != nil {
		if ctx.Err() == nil {
			e.notifier.ConnectionCode(models.ConnectionCode{Status: StatusError, Message: err.Error()})
		}
		return "", newError(ErrTransportFailure, "Failed to create mailbox", err)
	}
	defer channel.Close()

	code := channel.Code()
	// A concurrent cancel may already have removed the entry.
	_ = e.registry.UpdateCode(id, token, code)
	e.notifier.ConnectionCode(models.ConnectionCode{Status: StatusSuccess, Code: code, SendID: id})
	e.notifier.SendProgress(models.SendProgress{ID: id, FileName: displayName, Code: code, Status: models.PhaseWaiting})

	stream, err := e.transport.OpenSecureStream(ctx, channel)
	if err != nil {
		return "", newError(ErrTransportFailure, "Failed to connect to Wormhole", err)
	}
	defer stream.Close()

	p, err := e.preparePayload(ctx, id, paths, wrapperName, code)
	if err != nil {
		return "", err
	}
	defer p.cleanup()

	e.notifier.SendProgress(models.SendProgress{ID: id, FileName: p.name, Total: p.size, Code: code, Status: models.PhaseSending})

	started := time.Now()
	var sent int64
	err = e.transport.Send(ctx, stream, e.settings.RelayHints(), models.SendRequest{
		Reader: p.file,
		Name:   p.name,
		Size:   p.size,
	}, func(info models.TransitInfo) {
		logrus.WithFields(logrus.Fields{"id": id, "transit": info.ConnectionType()}).Debug("Transit established")
	}, func(n, total int64) {
		sent = n
		e.notifier.SendProgress(models.SendProgress{
			ID:         id,
			FileName:   p.name,
			Sent:       n,
			Total:      total,
			Percentage: Percentage(n, total),
			Code:       code,
			Status:     models.PhaseSending,
		})
	})
	e.metrics.AddBytes(metrics.DirectionSend, sent)
	if err != nil {
		return "", newError(ErrTransportFailure, "Failed to send "+p.name, err)
	}

	logrus.WithFields(logrus.Fields{
		"id":      id,
		"bytes":   p.size,
		"elapsed": time.Since(started).String(),
	}).Info("Send complete")

	p.record.SendTime = time.Now()
	p.record.ConnectionCode = code
	if err := e.history.AddSentFile(p.record); err != nil {
		logrus.WithError(err).WithField("id", id).Warn("Failed to record sent file")
	}
	return p.summary, nil
}

// preparePayload opens the single file, or packs the sources. It runs only
// after the secure stream is open so the code is visible while packing.
func (e *Engine) preparePayload(ctx context.Context, id string, paths []string, wrapperName, code string) (*payload, error) {
	absolute := make([]string, 0, len(paths))
	for _, path := range paths {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, newError(archive.ErrSourceMissing, "Failed to resolve path", err)
		}
		absolute = append(absolute, abs)
	}

	if len(absolute) == 1 {
		info, err := os.Stat(absolute[0])
		if err != nil {
			return nil, newError(archive.ErrSourceMissing, "file or folder does not exist", err)
		}
		if !info.IsDir() {
			return openSingleFile(absolute[0], info)
		}
	}

	wrapper := e.wrapperName(absolute, wrapperName)
	archiveName := wrapper + archive.Extension
	e.notifier.SendProgress(models.SendProgress{ID: id, FileName: archiveName, Code: code, Status: models.PhasePackaging})

	var (
		size        int64
		archivePath string
	)
	err := e.runArchiveJob(ctx, "pack", func() error {
		var packErr error
		size, archivePath, packErr = archive.PackInto(ctx, e.tempDir, absolute, wrapper)
		return packErr
	})
	if err != nil {
		if errors.Is(err, archive.ErrSourceMissing) {
			return nil, &Error{Kind: archive.ErrSourceMissing, Message: err.Error(), Err: err}
		}
		return nil, newError(archive.ErrArchiveWriteFailed, "Failed to create tarball", err)
	}

	file, err := os.Open(archivePath)
	if err != nil {
		_ = os.Remove(archivePath)
		return nil, newError(archive.ErrArchiveWriteFailed, "Failed to open tarball", err)
	}

	summary := fmt.Sprintf("Successfully sent %d file(s)", len(absolute))
	if len(absolute) == 1 {
		summary = fmt.Sprintf("Successfully sent folder '%s' (%d bytes)", absolute[0], size)
	}

	return &payload{
		file:        file,
		name:        archiveName,
		size:        size,
		archivePath: archivePath,
		record: models.SentRecord{
			FileName:      wrapper,
			FileSize:      size,
			FileExtension: "gz",
			FilePaths:     absolute,
		},
		summary: summary,
	}, nil
}

func openSingleFile(path string, info os.FileInfo) (*payload, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, newError(archive.ErrSourceMissing, "Failed to open file", err)
	}

	name := filepath.Base(path)
	stem, ext := naming.StemAndExtension(name)
	return &payload{
		file: file,
		name: name,
		size: info.Size(),
		record: models.SentRecord{
			FileName:      stem,
			FileSize:      info.Size(),
			FileExtension: ext,
			FilePaths:     []string{path},
		},
		summary: fmt.Sprintf("Successfully sent file '%s' (%d bytes)", path, info.Size()),
	}, nil
}

// displayName is shown before the transport is ready: the basename for one
// source, otherwise the wrapper folder name.
func (e *Engine) displayName(paths []string, wrapperName string) string {
	if len(paths) == 1 {
		if abs, err := filepath.Abs(paths[0]); err == nil {
			return filepath.Base(abs)
		}
		return filepath.Base(paths[0])
	}
	return e.wrapperName(paths, wrapperName)
}

// wrapperName picks the override, the single folder's own name, or the
// settings template filled with the item count.
func (e *Engine) wrapperName(paths []string, override string) string {
	if override != "" {
		return override
	}
	if len(paths) == 1 {
		return filepath.Base(paths[0])
	}
	return e.settings.FolderName(len(paths))
}
