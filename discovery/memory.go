package discovery

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
)

// MemoryDirectory is an in-process Directory. Endpoints resolve to the
// given host, so it suits loopback use and tests.
type MemoryDirectory struct {
	host string

	mu      sync.Mutex
	entries map[string]Endpoint
	changed chan struct{}
}

// NewMemoryDirectory creates a directory resolving every mailbox to host.
func NewMemoryDirectory(host string) *MemoryDirectory {
	if host == "" {
		host = "127.0.0.1"
	}
	return &MemoryDirectory{
		host:    host,
		entries: make(map[string]Endpoint),
		changed: make(chan struct{}),
	}
}

// Advertise records a mailbox for nameplate.
func (d *MemoryDirectory) Advertise(nameplate string, port int) (Advertisement, error) {
	nameplate = strings.TrimSpace(nameplate)
	if nameplate == "" {
		return nil, errors.New("nameplate is required")
	}
	if port <= 0 {
		return nil, errors.New("listening port must be > 0")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.entries[nameplate]; exists {
		return nil, fmt.Errorf("%w: %s", ErrNameplateInUse, nameplate)
	}
	d.entries[nameplate] = Endpoint{
		Nameplate: nameplate,
		Version:   DefaultVersion,
		Port:      port,
		Addresses: []string{d.host},
	}
	close(d.changed)
	d.changed = make(chan struct{})

	return &memoryAdvertisement{dir: d, nameplate: nameplate}, nil
}

// Lookup waits until nameplate is advertised or ctx ends.
func (d *MemoryDirectory) Lookup(ctx context.Context, nameplate string) (Endpoint, error) {
	nameplate = strings.TrimSpace(nameplate)
	for {
		d.mu.Lock()
		endpoint, ok := d.entries[nameplate]
		changed := d.changed
		d.mu.Unlock()
		if ok {
			return endpoint, nil
		}

		select {
		case <-changed:
		case <-ctx.Done():
			return Endpoint{}, fmt.Errorf("%w: %s: %v", ErrNameplateNotFound, nameplate, ctx.Err())
		}
	}
}

// Len returns the number of live advertisements.
func (d *MemoryDirectory) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.entries)
}

type memoryAdvertisement struct {
	dir       *MemoryDirectory
	nameplate string
	once      sync.Once
}

func (a *memoryAdvertisement) Stop() {
	a.once.Do(func() {
		a.dir.mu.Lock()
		delete(a.dir.entries, a.nameplate)
		a.dir.mu.Unlock()
	})
}
