// Package session tracks live transfer sessions by id so any caller can
// reach and cancel them.
package session

import (
	"fmt"

	"wyrmhole/models"
)

// Send is an outgoing transfer. Code is empty until the mailbox exists.
type Send struct {
	Code  string
	Token *CancelToken
}

// Download is an accepted inbound offer whose bytes are being written.
type Download struct {
	FileName string
	Token    *CancelToken
}

// Connection spans a submitted receive code until an offer arrives or the attempt ends.
type Connection struct {
	Token *CancelToken
}

// PendingOffer holds an inbound offer awaiting accept or deny.
type PendingOffer struct {
	Offer models.Offer
}

// Registry owns the four independently locked session tables.
type Registry struct {
	Sends       *Table[Send]
	Downloads   *Table[Download]
	Connections *Table[Connection]
	Offers      *Table[PendingOffer]
}

// NewRegistry returns a registry with empty tables.
func NewRegistry() *Registry {
	return &Registry{
		Sends:       NewTable[Send]("send"),
		Downloads:   NewTable[Download]("download"),
		Connections: NewTable[Connection]("connection"),
		Offers:      NewTable[PendingOffer]("offer"),
	}
}

// UpdateCode records the rendezvous code on the live send owned by token.
func (r *Registry) UpdateCode(id string, token *CancelToken, code string) error {
	stale := false
	err := r.Sends.Update(id, func(s *Send) {
		if s.Token != token {
			stale = true
			return
		}
		s.Code = code
	})
	if err == nil && stale {
		return fmt.Errorf("%w: send %q belongs to another session", ErrNotFound, id)
	}
	return err
}

// RemoveSend drops the send entry for id if token still owns it.
func (r *Registry) RemoveSend(id string, token *CancelToken) bool {
	return r.Sends.RemoveIf(id, func(s Send) bool { return s.Token == token })
}

// RemoveDownload drops the download entry for id if token still owns it.
func (r *Registry) RemoveDownload(id string, token *CancelToken) bool {
	return r.Downloads.RemoveIf(id, func(d Download) bool { return d.Token == token })
}

// RemoveConnection drops the connection entry for id if token still owns it.
func (r *Registry) RemoveConnection(id string, token *CancelToken) bool {
	return r.Connections.RemoveIf(id, func(c Connection) bool { return c.Token == token })
}

// CancelSend removes the send and fires its token.
func (r *Registry) CancelSend(id string) error {
	return cancelEntry(r.Sends, id, func(s Send) *CancelToken { return s.Token })
}

// CancelDownload removes the download and fires its token.
func (r *Registry) CancelDownload(id string) error {
	return cancelEntry(r.Downloads, id, func(d Download) *CancelToken { return d.Token })
}

// CancelConnection removes the connection attempt and fires its token.
func (r *Registry) CancelConnection(id string) error {
	return cancelEntry(r.Connections, id, func(c Connection) *CancelToken { return c.Token })
}

// TakeOffer removes a pending offer. Exactly one concurrent caller wins.
func (r *Registry) TakeOffer(id string) (models.Offer, error) {
	pending, err := r.Offers.Take(id)
	if err != nil {
		return nil, err
	}
	return pending.Offer, nil
}

func cancelEntry[T any](table *Table[T], id string, token func(T) *CancelToken) error {
	entry, err := table.Take(id)
	if err != nil {
		return err
	}
	if t := token(entry); t != nil {
		t.Cancel()
	}
	return nil
}
