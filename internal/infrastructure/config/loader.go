// Package config loads and persists ~/.cmdrelay/config.yaml.
package config

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/doeshing/cmdrelay/assets"
	"github.com/doeshing/cmdrelay/internal/domain"
	"github.com/doeshing/cmdrelay/internal/pkg/filesystem"
	"github.com/doeshing/cmdrelay/internal/ports"
)

// EnvConfigPath overrides the config file location.
const EnvConfigPath = "CMDRELAY_CONFIG"

// FileLoader loads YAML configuration from ~/.cmdrelay/config.yaml (overridable via CMDRELAY_CONFIG).
type FileLoader struct {
	overridePath string
}

// NewFileLoader builds a new loader. An empty path uses the environment or the default location.
func NewFileLoader(path string) *FileLoader {
	return &FileLoader{overridePath: path}
}

// Load implements ports.ConfigProvider. A missing file is created from the embedded defaults.
func (l *FileLoader) Load(context.Context) (domain.Config, error) {
	path := l.resolvePath()
	if err := ensureConfigDir(path); err != nil {
		return domain.Config{}, fmt.Errorf("ensure config dir: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			if err := os.WriteFile(path, assets.DefaultConfigYAML, domain.SecureFilePermissions); err != nil {
				return domain.Config{}, fmt.Errorf("write default config: %w", err)
			}
			return DefaultConfig(), nil
		}
		return domain.Config{}, err
	}

	var cfg domain.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return domain.Config{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return expandPaths(hydrateDefaults(cfg)), nil
}

func (l *FileLoader) resolvePath() string {
	if l.overridePath != "" {
		return expandPath(l.overridePath)
	}
	if custom := os.Getenv(EnvConfigPath); custom != "" {
		return expandPath(custom)
	}
	return filepath.Join(filesystem.UserHomeDir(), ".cmdrelay", "config.yaml")
}

func ensureConfigDir(path string) error {
	return os.MkdirAll(filepath.Dir(path), domain.DirectoryPermissions)
}

// Path returns the resolved config file path.
func (l *FileLoader) Path() string {
	return l.resolvePath()
}

// Save writes the given config back to disk.
func (l *FileLoader) Save(cfg domain.Config) error {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	path := l.resolvePath()
	if err := ensureConfigDir(path); err != nil {
		return err
	}
	return os.WriteFile(path, raw, domain.SecureFilePermissions)
}

// Reset overwrites the config with the embedded defaults and returns them.
func (l *FileLoader) Reset() (domain.Config, error) {
	path := l.resolvePath()
	if err := ensureConfigDir(path); err != nil {
		return domain.Config{}, err
	}
	if err := os.WriteFile(path, assets.DefaultConfigYAML, domain.SecureFilePermissions); err != nil {
		return domain.Config{}, err
	}
	return DefaultConfig(), nil
}

// Backup copies the current config file to a timestamped backup.
func (l *FileLoader) Backup() (string, error) {
	path := l.resolvePath()
	data, err := os.ReadFile(path)
	if err != nil {
		return "", err
	}
	backup := fmt.Sprintf("%s.%s.bak", path, time.Now().Format("20060102T150405"))
	if err := os.WriteFile(backup, data, domain.SecureFilePermissions); err != nil {
		return "", err
	}
	return backup, nil
}

// DefaultConfig returns the embedded default configuration with paths expanded.
func DefaultConfig() domain.Config {
	var cfg domain.Config
	if err := yaml.Unmarshal(assets.DefaultConfigYAML, &cfg); err != nil {
		// embedded YAML is covered by tests; keep a usable minimum anyway
		cfg = domain.Config{ConfigFormatVersion: "1"}
	}
	return expandPaths(hydrateDefaults(cfg))
}

// hydrateDefaults fills zero values that have no meaningful zero.
func hydrateDefaults(cfg domain.Config) domain.Config {
	if cfg.ConfigFormatVersion == "" {
		cfg.ConfigFormatVersion = "1"
	}

	s := &cfg.Server
	if s.Host == "" {
		s.Host = domain.DefaultHost
	}
	if s.Port == 0 {
		s.Port = domain.DefaultPort
	}
	if s.BindAttempts <= 0 {
		s.BindAttempts = domain.DefaultBindAttempts
	}
	if s.BindBackoff <= 0 {
		s.BindBackoff = domain.DefaultBindBackoff
	}
	if s.MaxMessageSize <= 0 {
		s.MaxMessageSize = domain.DefaultMaxMessageSize
	}
	if s.WriteTimeout <= 0 {
		s.WriteTimeout = domain.DefaultWriteTimeout
	}

	lg := &cfg.Ledger
	if lg.MaxHistorySize <= 0 {
		lg.MaxHistorySize = domain.DefaultMaxHistorySize
	}
	if lg.MaxRetries < 0 {
		lg.MaxRetries = 0
	}
	if lg.RetryCooldown < 0 {
		lg.RetryCooldown = 0
	}

	ex := &cfg.Executor
	if ex.Shell == "" {
		ex.Shell = "auto"
	}
	if ex.ShellTimeout <= 0 {
		ex.ShellTimeout = domain.DefaultShellTimeout
	}
	if ex.CodeTimeout <= 0 {
		ex.CodeTimeout = domain.DefaultCodeTimeout
	}
	if ex.LibraryTimeout <= 0 {
		ex.LibraryTimeout = domain.DefaultLibraryTimeout
	}
	if ex.MaxOutputChars <= 0 {
		ex.MaxOutputChars = domain.DefaultMaxOutputChars
	}
	if ex.MaxConcurrent <= 0 {
		ex.MaxConcurrent = domain.DefaultMaxConcurrent
	}
	if ex.CacheTTL <= 0 {
		ex.CacheTTL = domain.DefaultCacheTTL
	}
	if ex.CacheMaxEntries <= 0 {
		ex.CacheMaxEntries = domain.DefaultMaxCacheEntries
	}

	if cfg.Files.MaxReadChars <= 0 {
		cfg.Files.MaxReadChars = domain.DefaultMaxReadChars
	}
	if cfg.Journal.RetainDays < 0 {
		cfg.Journal.RetainDays = 0
	}
	if cfg.Diagnostics.Timeout <= 0 {
		cfg.Diagnostics.Timeout = domain.DefaultDiagnosticsTimeout
	}
	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "console"
	}
	return cfg
}

func expandPaths(cfg domain.Config) domain.Config {
	cfg.Security.RulesFile = expandPath(cfg.Security.RulesFile)
	cfg.Journal.Path = expandPath(cfg.Journal.Path)
	cfg.Ledger.PersistFile = expandPath(cfg.Ledger.PersistFile)
	cfg.Files.Root = expandPath(cfg.Files.Root)
	cfg.Logging.File = expandPath(cfg.Logging.File)
	return cfg
}

func expandPath(path string) string {
	if path == "" || filepath.IsAbs(path) {
		return path
	}
	if path == "~" {
		return filesystem.UserHomeDir()
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(filesystem.UserHomeDir(), path[2:])
	}
	return filepath.Clean(path)
}

var _ ports.ConfigProvider = (*FileLoader)(nil)
