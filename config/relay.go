package config

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"strconv"
	"strings"

	"wyrmhole/models"
)

// DefaultRelayURL is the public transit relay used when none is configured.
const DefaultRelayURL = "tcp://transit.magic-wormhole.io:4001"

// ErrInvalidRelayURL indicates a relay URL that cannot be dialled.
var ErrInvalidRelayURL = errors.New("config: invalid relay url")

// ValidateRelayURL accepts tcp://, ws:// and wss:// URLs, or the legacy
// "tcp:host:port" form, each with an explicit host and port.
func ValidateRelayURL(raw string) error {
	_, err := RelayAddress(raw)
	return err
}

// RelayAddress returns the host:port a relay URL points at.
func RelayAddress(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", fmt.Errorf("%w: empty", ErrInvalidRelayURL)
	}

	if strings.HasPrefix(raw, "tcp:") && !strings.HasPrefix(raw, "tcp://") {
		parts := strings.Split(strings.TrimPrefix(raw, "tcp:"), ":")
		if len(parts) != 2 {
			return "", fmt.Errorf("%w: %q", ErrInvalidRelayURL, raw)
		}
		return joinHostPort(raw, parts[0], parts[1])
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "", fmt.Errorf("%w: %q: %v", ErrInvalidRelayURL, raw, err)
	}
	switch parsed.Scheme {
	case "tcp", "ws", "wss":
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrInvalidRelayURL, parsed.Scheme)
	}
	return joinHostPort(raw, parsed.Hostname(), parsed.Port())
}

func joinHostPort(raw, host, port string) (string, error) {
	if host == "" {
		return "", fmt.Errorf("%w: %q has no host", ErrInvalidRelayURL, raw)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return "", fmt.Errorf("%w: %q has no valid port", ErrInvalidRelayURL, raw)
	}
	return net.JoinHostPort(host, port), nil
}

// EffectiveRelayURL returns the configured relay, or the default one when
// the setting is blank or invalid.
func (s *Settings) EffectiveRelayURL() string {
	if s.RelayServerURL != "" && ValidateRelayURL(s.RelayServerURL) == nil {
		return s.RelayServerURL
	}
	return DefaultRelayURL
}

// RelayHints returns the hints handed to the transport for every session.
func (s *Settings) RelayHints() []models.RelayHint {
	return []models.RelayHint{{URL: s.EffectiveRelayURL()}}
}
