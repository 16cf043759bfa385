// Package discovery lets two peers holding the same code find each other.
package discovery

import (
	"context"
	"errors"
	"net"
	"strconv"
)

var (
	// ErrNameplateNotFound indicates no mailbox was advertised for a nameplate.
	ErrNameplateNotFound = errors.New("discovery: nameplate not found")
	// ErrNameplateInUse indicates the nameplate is already advertised.
	ErrNameplateInUse = errors.New("discovery: nameplate already advertised")
)

// Endpoint is a resolved mailbox address.
type Endpoint struct {
	Nameplate string
	Version   string
	HostName  string
	Port      int
	Addresses []string
}

// DialAddresses returns host:port pairs in preference order.
func (e Endpoint) DialAddresses() []string {
	out := make([]string, 0, len(e.Addresses)+1)
	for _, addr := range e.Addresses {
		out = append(out, net.JoinHostPort(addr, strconv.Itoa(e.Port)))
	}
	if len(out) == 0 && e.HostName != "" {
		out = append(out, net.JoinHostPort(e.HostName, strconv.Itoa(e.Port)))
	}
	return out
}

// Advertisement is a live mailbox announcement.
type Advertisement interface {
	Stop()
}

// Directory advertises and resolves mailboxes by nameplate.
type Directory interface {
	Advertise(nameplate string, port int) (Advertisement, error)
	Lookup(ctx context.Context, nameplate string) (Endpoint, error)
}
