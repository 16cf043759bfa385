package models

import "time"

// SentRecord is one completed outgoing transfer as kept in history.
type SentRecord struct {
	ID             string    `json:"id"`
	FileName       string    `json:"file_name"`
	FileSize       int64     `json:"file_size"`
	FileExtension  string    `json:"file_extension"`
	FilePaths      []string  `json:"file_paths"`
	SendTime       time.Time `json:"send_time"`
	ConnectionCode string    `json:"connection_code"`
}

// ReceivedRecord is one file written to disk by a completed download.
type ReceivedRecord struct {
	ID             string    `json:"id"`
	FileName       string    `json:"file_name"`
	FileSize       int64     `json:"file_size"`
	FileExtension  string    `json:"file_extension"`
	DownloadURL    string    `json:"download_url"`
	DownloadTime   time.Time `json:"download_time"`
	ConnectionType string    `json:"connection_type"`
	PeerAddress    string    `json:"peer_address"`
}
