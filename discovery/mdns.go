package discovery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/sirupsen/logrus"
)

const (
	// DefaultService is the mDNS service name without domain suffix.
	DefaultService = "_wyrmhole._tcp"
	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
	// DefaultVersion is the TXT record protocol version.
	DefaultVersion = "1.0.0"
	// DefaultLookupTimeout bounds one nameplate lookup.
	DefaultLookupTimeout = 10 * time.Second
	// DefaultCacheSize is the number of resolved nameplates kept.
	DefaultCacheSize = 64
	// DefaultCacheTTL is how long a resolved nameplate stays cached.
	DefaultCacheTTL = 30 * time.Second

	txtNameplate = "nameplate"
	txtVersion   = "version"
)

type registerFunc func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error)
type browseFunc func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error

// Config controls mDNS advertisement and lookup.
type Config struct {
	Service       string
	Domain        string
	Version       string
	LookupTimeout time.Duration
	CacheSize     int
	CacheTTL      time.Duration

	registerFn registerFunc
	browseFn   browseFunc
}

func (c Config) withDefaults() Config {
	out := c
	if out.Service == "" {
		out.Service = DefaultService
	}
	if out.Domain == "" {
		out.Domain = DefaultDomain
	}
	if out.Version == "" {
		out.Version = DefaultVersion
	}
	if out.LookupTimeout <= 0 {
		out.LookupTimeout = DefaultLookupTimeout
	}
	if out.CacheSize <= 0 {
		out.CacheSize = DefaultCacheSize
	}
	if out.CacheTTL <= 0 {
		out.CacheTTL = DefaultCacheTTL
	}
	if out.registerFn == nil {
		out.registerFn = zeroconf.Register
	}
	return out
}

// MDNSDirectory advertises mailboxes as zeroconf services on the LAN.
type MDNSDirectory struct {
	cfg    Config
	browse browseFunc
	cache  *expirable.LRU[string, Endpoint]

	mu     sync.Mutex
	active map[string]*mdnsAdvertisement
}

// NewMDNSDirectory creates a directory with config defaults applied.
func NewMDNSDirectory(config Config) (*MDNSDirectory, error) {
	cfg := config.withDefaults()

	browse := cfg.browseFn
	if browse == nil {
		resolver, err := zeroconf.NewResolver(nil)
		if err != nil {
			return nil, fmt.Errorf("create mDNS resolver: %w", err)
		}
		browse = resolver.Browse
	}

	return &MDNSDirectory{
		cfg:    cfg,
		browse: browse,
		cache:  expirable.NewLRU[string, Endpoint](cfg.CacheSize, nil, cfg.CacheTTL),
		active: make(map[string]*mdnsAdvertisement),
	}, nil
}

// Advertise registers a mailbox for nameplate on port.
func (d *MDNSDirectory) Advertise(nameplate string, port int) (Advertisement, error) {
	nameplate = strings.TrimSpace(nameplate)
	if nameplate == "" {
		return nil, errors.New("nameplate is required")
	}
	if port <= 0 {
		return nil, errors.New("listening port must be > 0")
	}

	d.mu.Lock()
	defer d.mu.Unlock()
	if _, exists := d.active[nameplate]; exists {
		return nil, fmt.Errorf("%w: %s", ErrNameplateInUse, nameplate)
	}

	txt := []string{
		txtNameplate + "=" + nameplate,
		txtVersion + "=" + d.cfg.Version,
	}
	server, err := d.cfg.registerFn("wyrmhole-"+nameplate, d.cfg.Service, d.cfg.Domain, port, txt, nil)
	if err != nil {
		return nil, fmt.Errorf("register mDNS service: %w", err)
	}

	adv := &mdnsAdvertisement{dir: d, nameplate: nameplate, server: server}
	d.active[nameplate] = adv
	logrus.WithFields(logrus.Fields{"nameplate": nameplate, "port": port}).Debug("Advertising mailbox")
	return adv, nil
}

// Lookup browses until a service with nameplate appears or the lookup times out.
func (d *MDNSDirectory) Lookup(ctx context.Context, nameplate string) (Endpoint, error) {
	nameplate = strings.TrimSpace(nameplate)
	if endpoint, ok := d.cache.Get(nameplate); ok {
		return endpoint, nil
	}

	lookupCtx, cancel := context.WithTimeout(ctx, d.cfg.LookupTimeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry, 32)
	found := make(chan Endpoint, 1)
	collectorDone := make(chan struct{})

	go func() {
		defer close(collectorDone)
		for {
			select {
			case <-lookupCtx.Done():
				return
			case entry := <-entries:
				if entry == nil {
					continue
				}
				endpoint, ok := parseEntry(entry)
				if !ok || endpoint.Nameplate != nameplate {
					continue
				}
				found <- endpoint
				cancel()
				return
			}
		}
	}()

	browseErr := d.browse(lookupCtx, d.cfg.Service, d.cfg.Domain, entries)
	if browseErr != nil {
		cancel()
		<-collectorDone
		return Endpoint{}, fmt.Errorf("browse mDNS: %w", browseErr)
	}

	<-lookupCtx.Done()
	<-collectorDone

	select {
	case endpoint := <-found:
		d.cache.Add(nameplate, endpoint)
		return endpoint, nil
	default:
	}

	if err := ctx.Err(); err != nil {
		return Endpoint{}, err
	}
	return Endpoint{}, fmt.Errorf("%w: %s", ErrNameplateNotFound, nameplate)
}

// Forget drops a cached endpoint, e.g. after a failed dial.
func (d *MDNSDirectory) Forget(nameplate string) {
	d.cache.Remove(nameplate)
}

func (d *MDNSDirectory) release(nameplate string) {
	d.mu.Lock()
	delete(d.active, nameplate)
	d.mu.Unlock()
	d.cache.Remove(nameplate)
}

type mdnsAdvertisement struct {
	dir       *MDNSDirectory
	nameplate string
	server    *zeroconf.Server
	stopOnce  sync.Once
}

// Stop withdraws the advertisement.
func (a *mdnsAdvertisement) Stop() {
	a.stopOnce.Do(func() {
		if a.server != nil {
			a.server.Shutdown()
		}
		a.dir.release(a.nameplate)
	})
}

func parseEntry(entry *zeroconf.ServiceEntry) (Endpoint, bool) {
	txt := txtToMap(entry.Text)

	nameplate := strings.TrimSpace(txt[txtNameplate])
	if nameplate == "" || entry.Port <= 0 {
		return Endpoint{}, false
	}

	addresses := make([]string, 0, len(entry.AddrIPv4)+len(entry.AddrIPv6))
	seen := make(map[string]struct{})
	for _, ip := range append(entry.AddrIPv4, entry.AddrIPv6...) {
		if ip == nil {
			continue
		}
		raw := ip.String()
		if _, exists := seen[raw]; exists {
			continue
		}
		seen[raw] = struct{}{}
		addresses = append(addresses, raw)
	}
	// IPv4 first; it is the common LAN case.
	sort.SliceStable(addresses, func(i, j int) bool {
		return strings.Contains(addresses[j], ":") && !strings.Contains(addresses[i], ":")
	})

	return Endpoint{
		Nameplate: nameplate,
		Version:   strings.TrimSpace(txt[txtVersion]),
		HostName:  entry.HostName,
		Port:      entry.Port,
		Addresses: addresses,
	}, true
}

func txtToMap(text []string) map[string]string {
	out := make(map[string]string, len(text))
	for _, entry := range text {
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		key := strings.TrimSpace(parts[0])
		if key == "" {
			continue
		}
		out[key] = strings.TrimSpace(parts[1])
	}
	return out
}
