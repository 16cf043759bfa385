package storage

import (
	"encoding/json"
	"fmt"
	"io"
)

// ExportJSON writes every record of kind ("sent" or "received") to w as an indented JSON array.
func (s *Store) ExportJSON(kind string, w io.Writer) error {
	if err := validateHistoryKind(kind); err != nil {
		return err
	}

	var records any
	switch kind {
	case HistorySent:
		sent, err := s.ListSentFiles(ListOptions{})
		if err != nil {
			return err
		}
		records = sent
	case HistoryReceived:
		received, err := s.ListReceivedFiles(ListOptions{})
		if err != nil {
			return err
		}
		records = received
	}

	encoder := json.NewEncoder(w)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(records); err != nil {
		return fmt.Errorf("encode %s history: %w", kind, err)
	}
	return nil
}

// ExportSentJSON writes the sent history to w.
func (s *Store) ExportSentJSON(w io.Writer) error {
	return s.ExportJSON(HistorySent, w)
}

// ExportReceivedJSON writes the received history to w.
func (s *Store) ExportReceivedJSON(w io.Writer) error {
	return s.ExportJSON(HistoryReceived, w)
}
