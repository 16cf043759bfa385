package storage

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotFound indicates a requested row does not exist.
	ErrNotFound = errors.New("storage: record not found")
)

const (
	// HistorySent selects the sent_files table.
	HistorySent = "sent"
	// HistoryReceived selects the received_files table.
	HistoryReceived = "received"
)

// ListOptions pages history queries. Zero Limit means no limit.
type ListOptions struct {
	Limit  int
	Offset int
}

func validateHistoryKind(kind string) error {
	switch kind {
	case HistorySent, HistoryReceived:
		return nil
	default:
		return fmt.Errorf("invalid history kind %q", kind)
	}
}

func validateListOptions(opts ListOptions) error {
	if opts.Limit < 0 {
		return errors.New("limit must be >= 0")
	}
	if opts.Offset < 0 {
		return errors.New("offset must be >= 0")
	}
	return nil
}

// limitClause mirrors SQLite's "LIMIT -1" for unbounded queries.
func limitClause(opts ListOptions) (int, int) {
	if opts.Limit == 0 {
		return -1, opts.Offset
	}
	return opts.Limit, opts.Offset
}

func nowUnixMilli() int64 {
	return time.Now().UnixMilli()
}
