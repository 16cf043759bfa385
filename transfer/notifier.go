package transfer

import (
	"github.com/sirupsen/logrus"

	"wyrmhole/models"
)

// LogNotifier writes every event to a logrus logger. Progress ticks are
// logged at debug level.
type LogNotifier struct {
	Logger logrus.FieldLogger
}

// NewLogNotifier returns a notifier on the standard logrus logger.
func NewLogNotifier() *LogNotifier {
	return &LogNotifier{Logger: logrus.StandardLogger()}
}

func (n *LogNotifier) SendProgress(p models.SendProgress) {
	n.Logger.WithFields(logrus.Fields{
		"id":         p.ID,
		"file_name":  p.FileName,
		"sent":       p.Sent,
		"total":      p.Total,
		"percentage": p.Percentage,
		"status":     p.Status,
	}).Debug("send-progress")
}

func (n *LogNotifier) ConnectionCode(c models.ConnectionCode) {
	entry := n.Logger.WithFields(logrus.Fields{"send_id": c.SendID, "status": c.Status})
	if c.Status == StatusError {
		entry.WithField("message", c.Message).Warn("connection-code")
		return
	}
	entry.WithField("code", c.Code).Info("connection-code")
}

func (n *LogNotifier) SendError(e models.TransferError) {
	n.Logger.WithFields(logrus.Fields{"id": e.ID, "file_name": e.FileName}).Error(e.Error)
}

func (n *LogNotifier) DownloadProgress(p models.DownloadProgress) {
	n.Logger.WithFields(logrus.Fields{
		"id":          p.ID,
		"file_name":   p.FileName,
		"transferred": p.Transferred,
		"total":       p.Total,
		"percentage":  p.Percentage,
	}).Debug("download-progress")
}

func (n *LogNotifier) DownloadError(e models.TransferError) {
	n.Logger.WithFields(logrus.Fields{"id": e.ID, "file_name": e.FileName}).Error(e.Error)
}
