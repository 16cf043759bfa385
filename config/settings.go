package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Keys accepted by Set.
const (
	KeyDownloadDirectory   = "download_directory"
	KeyAutoExtract         = "auto_extract_tarballs"
	KeyFolderNameFormat    = "default_folder_name_format"
	KeyRelayServerURL      = "relay_server_url"
	KeyDownloadIdleTimeout = "download_idle_timeout"
	KeyMaxConcurrent       = "max_concurrent_archives"
	KeyLogLevel            = "log_level"
	KeyMetricsAddress      = "metrics_address"
)

// Set updates one setting from its string form.
func (s *Settings) Set(key, value string) error {
	value = strings.TrimSpace(value)

	switch key {
	case KeyDownloadDirectory:
		if value == "" {
			return fmt.Errorf("%s must not be empty", key)
		}
		s.DownloadDirectory = value
	case KeyAutoExtract:
		enabled, err := strconv.ParseBool(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		s.SetAutoExtract(enabled)
	case KeyFolderNameFormat:
		// Blank resets to the default template.
		if value == "" {
			value = DefaultFolderNameFormat
		}
		if err := ValidateFolderNameFormat(value); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		s.DefaultFolderNameFormat = value
	case KeyRelayServerURL:
		if value != "" {
			if err := ValidateRelayURL(value); err != nil {
				return err
			}
		}
		s.RelayServerURL = value
	case KeyDownloadIdleTimeout:
		timeout, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if timeout < 0 {
			return fmt.Errorf("%s must be >= 0", key)
		}
		s.DownloadIdleTimeout = Duration(timeout)
	case KeyMaxConcurrent:
		n, err := strconv.Atoi(value)
		if err != nil || n <= 0 {
			return fmt.Errorf("%s must be a positive integer", key)
		}
		s.MaxConcurrentArchives = n
	case KeyLogLevel:
		s.LogLevel = value
	case KeyMetricsAddress:
		s.MetricsAddress = value
	default:
		return fmt.Errorf("unknown setting %q", key)
	}

	return nil
}
