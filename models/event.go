package models

// Send phases reported through SendProgress.Status.
const (
	PhasePreparing = "preparing"
	PhaseWaiting   = "waiting"
	PhasePackaging = "packaging"
	PhaseSending   = "sending"
)

// SendProgress is published on every send state change and progress tick.
type SendProgress struct {
	ID         string `json:"id"`
	FileName   string `json:"file_name"`
	Sent       int64  `json:"sent"`
	Total      int64  `json:"total"`
	Percentage int    `json:"percentage"`
	Code       string `json:"code"`
	Status     string `json:"status"`
}

// ConnectionCode reports whether a mailbox was created for a send.
type ConnectionCode struct {
	Status  string `json:"status"`
	Code    string `json:"code,omitempty"`
	SendID  string `json:"send_id,omitempty"`
	Message string `json:"message,omitempty"`
}

// DownloadProgress is published for each receive-side progress tick.
type DownloadProgress struct {
	ID          string `json:"id"`
	FileName    string `json:"file_name"`
	Transferred int64  `json:"transferred"`
	Total       int64  `json:"total"`
	Percentage  int    `json:"percentage"`
}

// TransferError is the terminal failure event for sends and downloads.
type TransferError struct {
	ID       string `json:"id"`
	FileName string `json:"file_name"`
	Error    string `json:"error"`
}

// OfferSummary is returned to the caller when an inbound offer is obtained.
type OfferSummary struct {
	ID       string `json:"id"`
	FileName string `json:"file_name"`
	FileSize int64  `json:"file_size"`
}
