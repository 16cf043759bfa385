package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/google/uuid"

	"wyrmhole/archive"
)

const (
	// AppDirectoryName is the per-user application data directory name.
	AppDirectoryName = "wyrmhole"
	// DataDirEnv overrides the resolved data directory.
	DataDirEnv = "WYRMHOLE_DATA_DIR"
	// DefaultFolderNameFormat names multi-item archives; # becomes the item count.
	DefaultFolderNameFormat = "#-files-via-wyrmhole"
	// DefaultDownloadIdleTimeout cancels accepted downloads that stop making progress.
	DefaultDownloadIdleTimeout = 5 * time.Minute
	// DefaultMaxConcurrentArchives bounds parallel pack/unpack jobs.
	DefaultMaxConcurrentArchives = 2
	// DefaultLogLevel is used when no level is configured.
	DefaultLogLevel = "info"
	// configFileName is the persisted configuration file.
	configFileName = "settings.json"
)

// Settings contains persistent user preferences.
type Settings struct {
	InstallID               string   `json:"install_id"`
	DownloadDirectory       string   `json:"download_directory"`
	AutoExtractTarballs     *bool    `json:"auto_extract_tarballs"`
	DefaultFolderNameFormat string   `json:"default_folder_name_format"`
	RelayServerURL          string   `json:"relay_server_url"`
	DownloadIdleTimeout     Duration `json:"download_idle_timeout"`
	MaxConcurrentArchives   int      `json:"max_concurrent_archives"`
	LogLevel                string   `json:"log_level"`
	MetricsAddress          string   `json:"metrics_address"`
}

// Duration is a time.Duration persisted as a Go duration string ("5m0s").
type Duration time.Duration

// MarshalJSON encodes the duration as a string.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// UnmarshalJSON accepts a duration string or a number of nanoseconds.
func (d *Duration) UnmarshalJSON(raw []byte) error {
	var text string
	if err := json.Unmarshal(raw, &text); err == nil {
		parsed, err := time.ParseDuration(text)
		if err != nil {
			return fmt.Errorf("parse duration %q: %w", text, err)
		}
		*d = Duration(parsed)
		return nil
	}

	var nanos int64
	if err := json.Unmarshal(raw, &nanos); err != nil {
		return fmt.Errorf("parse duration: %w", err)
	}
	*d = Duration(nanos)
	return nil
}

// AutoExtract reports the auto-extract preference, defaulting to true.
func (s *Settings) AutoExtract() bool {
	if s.AutoExtractTarballs == nil {
		return true
	}
	return *s.AutoExtractTarballs
}

// SetAutoExtract stores the auto-extract preference.
func (s *Settings) SetAutoExtract(enabled bool) {
	s.AutoExtractTarballs = &enabled
}

// FolderName renders the folder-name template for count items. A blank or
// invalid template falls back to the default.
func (s *Settings) FolderName(count int) string {
	format := strings.TrimSpace(s.DefaultFolderNameFormat)
	if format == "" || ValidateFolderNameFormat(format) != nil {
		format = DefaultFolderNameFormat
	}
	return strings.ReplaceAll(format, "#", fmt.Sprint(count))
}

// ValidateFolderNameFormat rejects templates that would not render to a
// single folder name.
func ValidateFolderNameFormat(format string) error {
	return archive.ValidateWrapper(strings.ReplaceAll(format, "#", "1"))
}

// IdleTimeout returns the download idle timeout. Zero disables it.
func (s *Settings) IdleTimeout() time.Duration {
	return time.Duration(s.DownloadIdleTimeout)
}

// ResolveDataDir returns the OS-aware app data directory.
//
// If WYRMHOLE_DATA_DIR is set, its value is used as an explicit override.
func ResolveDataDir() (string, error) {
	if override := os.Getenv(DataDirEnv); override != "" {
		return override, nil
	}

	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("resolve user home: %w", err)
	}

	switch runtime.GOOS {
	case "windows":
		base := os.Getenv("APPDATA")
		if base == "" {
			base = filepath.Join(home, "AppData", "Roaming")
		}
		return filepath.Join(base, AppDirectoryName), nil
	case "darwin":
		return filepath.Join(home, "Library", "Application Support", AppDirectoryName), nil
	default:
		base := os.Getenv("XDG_CONFIG_HOME")
		if base == "" {
			base = filepath.Join(home, ".config")
		}
		return filepath.Join(base, AppDirectoryName), nil
	}
}

// ConfigPath returns the full path to settings.json for a data directory.
func ConfigPath(dataDir string) string {
	return filepath.Join(dataDir, configFileName)
}

// EnsureDataDirectories creates the app data directory if needed.
func EnsureDataDirectories(dataDir string) error {
	if err := os.MkdirAll(dataDir, 0o700); err != nil {
		return fmt.Errorf("create directory %q: %w", dataDir, err)
	}
	return nil
}

// Load reads and unmarshals settings.json from disk.
func Load(path string) (*Settings, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read settings: %w", err)
	}

	var cfg Settings
	if err := json.Unmarshal(raw, &cfg); err != nil {
		return nil, fmt.Errorf("parse settings: %w", err)
	}

	return &cfg, nil
}

// Save marshals and writes settings.json to disk.
func Save(path string, cfg *Settings) error {
	raw, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal settings: %w", err)
	}

	raw = append(raw, '\n')
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		return fmt.Errorf("write settings: %w", err)
	}

	return nil
}

// LoadOrCreate ensures directories and settings exist, then returns both.
func LoadOrCreate() (*Settings, string, error) {
	dataDir, err := ResolveDataDir()
	if err != nil {
		return nil, "", err
	}
	if err := EnsureDataDirectories(dataDir); err != nil {
		return nil, "", err
	}

	cfgPath := ConfigPath(dataDir)
	cfg, err := Load(cfgPath)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", err
		}

		cfg = defaultSettings()
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}

		return cfg, cfgPath, nil
	}

	if normalizeDefaults(cfg) {
		if err := Save(cfgPath, cfg); err != nil {
			return nil, "", err
		}
	}

	return cfg, cfgPath, nil
}

func defaultSettings() *Settings {
	cfg := &Settings{DownloadIdleTimeout: Duration(DefaultDownloadIdleTimeout)}
	normalizeDefaults(cfg)
	return cfg
}

// defaultDownloadDirectory prefers ~/Downloads and falls back to the working directory.
func defaultDownloadDirectory() string {
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		if wd, err := os.Getwd(); err == nil {
			return wd
		}
		return "."
	}
	return filepath.Join(home, "Downloads")
}

func normalizeDefaults(cfg *Settings) bool {
	updated := false

	if cfg.InstallID == "" {
		cfg.InstallID = uuid.NewString()
		updated = true
	}

	if strings.TrimSpace(cfg.DownloadDirectory) == "" {
		cfg.DownloadDirectory = defaultDownloadDirectory()
		updated = true
	}

	if cfg.AutoExtractTarballs == nil {
		cfg.SetAutoExtract(true)
		updated = true
	}

	if strings.TrimSpace(cfg.DefaultFolderNameFormat) == "" || ValidateFolderNameFormat(cfg.DefaultFolderNameFormat) != nil {
		cfg.DefaultFolderNameFormat = DefaultFolderNameFormat
		updated = true
	}

	if cfg.RelayServerURL != "" && ValidateRelayURL(cfg.RelayServerURL) != nil {
		cfg.RelayServerURL = ""
		updated = true
	}

	if cfg.DownloadIdleTimeout < 0 {
		cfg.DownloadIdleTimeout = Duration(DefaultDownloadIdleTimeout)
		updated = true
	}

	if cfg.MaxConcurrentArchives <= 0 {
		cfg.MaxConcurrentArchives = DefaultMaxConcurrentArchives
		updated = true
	}

	if strings.TrimSpace(cfg.LogLevel) == "" {
		cfg.LogLevel = DefaultLogLevel
		updated = true
	}

	return updated
}
