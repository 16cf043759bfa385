package discovery

import (
	"context"
	"errors"
	"net"
	"sync/atomic"
	"testing"
	"time"

	"github.com/grandcat/zeroconf"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func noopRegister(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
	return nil, nil
}

func browseEntries(calls *int32, entries ...*zeroconf.ServiceEntry) browseFunc {
	return func(ctx context.Context, service, domain string, out chan<- *zeroconf.ServiceEntry) error {
		if calls != nil {
			atomic.AddInt32(calls, 1)
		}
		for _, entry := range entries {
			select {
			case out <- entry:
			case <-ctx.Done():
				return nil
			}
		}
		return nil
	}
}

func serviceEntry(nameplate string, port int, ips ...string) *zeroconf.ServiceEntry {
	entry := zeroconf.NewServiceEntry("wyrmhole-"+nameplate, DefaultService, DefaultDomain)
	entry.Port = port
	entry.Text = []string{"nameplate=" + nameplate, "version=1.0.0"}
	for _, raw := range ips {
		ip := net.ParseIP(raw)
		if ip.To4() != nil {
			entry.AddrIPv4 = append(entry.AddrIPv4, ip)
		} else {
			entry.AddrIPv6 = append(entry.AddrIPv6, ip)
		}
	}
	return entry
}

func TestAdvertiseBuildsExpectedTXTRecords(t *testing.T) {
	var (
		gotInstance string
		gotService  string
		gotDomain   string
		gotPort     int
		gotTXT      []string
	)

	dir, err := NewMDNSDirectory(Config{
		registerFn: func(instance, service, domain string, port int, text []string, ifaces []net.Interface) (*zeroconf.Server, error) {
			gotInstance = instance
			gotService = service
			gotDomain = domain
			gotPort = port
			gotTXT = append([]string(nil), text...)
			return nil, nil
		},
		browseFn: browseEntries(nil),
	})
	if err != nil {
		t.Fatalf("NewMDNSDirectory failed: %v", err)
	}

	adv, err := dir.Advertise("42", 9999)
	if err != nil {
		t.Fatalf("Advertise failed: %v", err)
	}
	defer adv.Stop()

	if gotInstance != "wyrmhole-42" {
		t.Fatalf("unexpected instance name: %q", gotInstance)
	}
	if gotService != DefaultService {
		t.Fatalf("unexpected service: %q", gotService)
	}
	if gotDomain != DefaultDomain {
		t.Fatalf("unexpected domain: %q", gotDomain)
	}
	if gotPort != 9999 {
		t.Fatalf("unexpected port: %d", gotPort)
	}
	assert.ElementsMatch(t, []string{"nameplate=42", "version=" + DefaultVersion}, gotTXT)
}

func TestAdvertiseRejectsDuplicateUntilStopped(t *testing.T) {
	dir, err := NewMDNSDirectory(Config{registerFn: noopRegister, browseFn: browseEntries(nil)})
	require.NoError(t, err)

	adv, err := dir.Advertise("7", 1000)
	require.NoError(t, err)

	_, err = dir.Advertise("7", 1001)
	require.True(t, errors.Is(err, ErrNameplateInUse), "got %v", err)

	adv.Stop()
	adv.Stop()

	again, err := dir.Advertise("7", 1001)
	require.NoError(t, err)
	again.Stop()
}

func TestAdvertiseValidatesArguments(t *testing.T) {
	dir, err := NewMDNSDirectory(Config{registerFn: noopRegister, browseFn: browseEntries(nil)})
	require.NoError(t, err)

	_, err = dir.Advertise(" ", 1000)
	require.Error(t, err)
	_, err = dir.Advertise("1", 0)
	require.Error(t, err)
}

func TestLookupFindsMatchingNameplateAndCaches(t *testing.T) {
	var calls int32
	dir, err := NewMDNSDirectory(Config{
		registerFn: noopRegister,
		browseFn: browseEntries(&calls,
			serviceEntry("8", 4000, "10.0.0.8"),
			serviceEntry("9", 4100, "fe80::1", "10.0.0.9", "10.0.0.9"),
		),
		LookupTimeout: time.Second,
	})
	require.NoError(t, err)

	endpoint, err := dir.Lookup(context.Background(), "9")
	require.NoError(t, err)
	assert.Equal(t, "9", endpoint.Nameplate)
	assert.Equal(t, 4100, endpoint.Port)
	assert.Equal(t, []string{"10.0.0.9", "fe80::1"}, endpoint.Addresses)
	assert.Equal(t, []string{"10.0.0.9:4100", "[fe80::1]:4100"}, endpoint.DialAddresses())

	_, err = dir.Lookup(context.Background(), "9")
	require.NoError(t, err)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))

	dir.Forget("9")
	_, err = dir.Lookup(context.Background(), "9")
	require.NoError(t, err)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestLookupTimesOutWhenNameplateMissing(t *testing.T) {
	dir, err := NewMDNSDirectory(Config{
		registerFn:    noopRegister,
		browseFn:      browseEntries(nil, serviceEntry("1", 4000, "10.0.0.1")),
		LookupTimeout: 50 * time.Millisecond,
	})
	require.NoError(t, err)

	_, err = dir.Lookup(context.Background(), "2")
	if !errors.Is(err, ErrNameplateNotFound) {
		t.Fatalf("expected ErrNameplateNotFound, got %v", err)
	}
}

func TestLookupReturnsBrowseError(t *testing.T) {
	dir, err := NewMDNSDirectory(Config{
		registerFn: noopRegister,
		browseFn: func(ctx context.Context, service, domain string, entries chan<- *zeroconf.ServiceEntry) error {
			return errors.New("no multicast interface")
		},
	})
	require.NoError(t, err)

	_, err = dir.Lookup(context.Background(), "3")
	require.ErrorContains(t, err, "no multicast interface")
}

func TestParseEntrySkipsForeignServices(t *testing.T) {
	entry := zeroconf.NewServiceEntry("printer", DefaultService, DefaultDomain)
	entry.Port = 631
	entry.Text = []string{"rp=queue"}

	_, ok := parseEntry(entry)
	assert.False(t, ok)
}
