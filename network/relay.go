package network

import (
	"context"
	"fmt"
	"net"
	"time"

	"wyrmhole/config"
	"wyrmhole/models"
)

// TestRelay dials the relay behind rawURL and reports how long the TCP
// connect took.
func TestRelay(ctx context.Context, rawURL string) (time.Duration, error) {
	address, err := config.RelayAddress(rawURL)
	if err != nil {
		return 0, err
	}

	dialer := net.Dialer{Timeout: DefaultConnectionTimeout}
	started := time.Now()
	conn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return 0, fmt.Errorf("connect to relay %s: %w", address, err)
	}
	elapsed := time.Since(started)
	_ = conn.Close()
	return elapsed, nil
}

// transitFor classifies the connection to remote. A peer reached at one of
// the relay hint addresses is reported as relayed.
func transitFor(remote net.Addr, hints []models.RelayHint) models.TransitInfo {
	info := models.TransitInfo{Kind: models.TransitDirect}
	if remote == nil {
		info.Kind = models.TransitUnknown
		return info
	}
	info.PeerAddr = remote.String()

	remoteHost, _, err := net.SplitHostPort(remote.String())
	if err != nil {
		return info
	}
	for _, hint := range hints {
		address, err := config.RelayAddress(hint.URL)
		if err != nil {
			continue
		}
		if host, _, err := net.SplitHostPort(address); err == nil && host == remoteHost {
			info.Kind = models.TransitRelay
			info.RelayName = hint.Name
			if info.RelayName == "" {
				info.RelayName = host
			}
			return info
		}
	}
	return info
}
