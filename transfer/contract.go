package transfer

import (
	"context"

	"wyrmhole/models"
)

// Transport is the secure-channel collaborator.
type Transport interface {
	CreateChannel(ctx context.Context) (models.Channel, error)
	ConnectChannel(ctx context.Context, code string) (models.Channel, error)
	OpenSecureStream(ctx context.Context, channel models.Channel) (models.Stream, error)
	Send(ctx context.Context, stream models.Stream, hints []models.RelayHint, req models.SendRequest, onTransit models.TransitFunc, onProgress models.ProgressFunc) error
	// Request returns a nil offer when the peer offered nothing.
	Request(ctx context.Context, stream models.Stream, hints []models.RelayHint) (models.Offer, error)
}

// Notifier receives user-facing events. Delivery is fire-and-forget.
type Notifier interface {
	SendProgress(models.SendProgress)
	ConnectionCode(models.ConnectionCode)
	SendError(models.TransferError)
	DownloadProgress(models.DownloadProgress)
	DownloadError(models.TransferError)
}

// History is the append-only transfer log.
type History interface {
	AddSentFile(models.SentRecord) error
	AddReceivedFile(models.ReceivedRecord) error
}
