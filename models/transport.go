package models

import (
	"context"
	"io"
)

// ProgressFunc receives cumulative byte counters in transport order.
type ProgressFunc func(transferred, total int64)

// TransitFunc is called once the transit connection is known.
type TransitFunc func(TransitInfo)

// Channel is a rendezvous mailbox shared by two peers.
type Channel interface {
	// Code returns the rendezvous code bound to this mailbox.
	Code() string
	Close() error
}

// Stream is an authenticated point-to-point stream between peers.
type Stream interface {
	Close() error
}

// Offer is an inbound file offer that has not been answered yet. It owns
// the open negotiation with the sender until Accept or Reject is called.
type Offer interface {
	Name() string
	Size() int64
	Accept(ctx context.Context, onTransit TransitFunc, onProgress ProgressFunc, w io.Writer) error
	Reject() error
}

// SendRequest is the payload handed to a transport for one offer.
type SendRequest struct {
	Reader io.Reader
	Name   string
	Size   int64
}
