// Package config validates a loaded configuration before the server starts.
package config

import (
	"errors"
	"fmt"
	"net"
	"strings"

	"github.com/doeshing/cmdrelay/internal/domain"
)

var (
	validLogLevels  = []string{"debug", "info", "warn", "error"}
	validLogFormats = []string{"console", "json"}
)

// Validate ensures config structure is consistent. All problems are reported together.
func Validate(cfg domain.Config) error {
	errs := []error{
		validateServer(cfg.Server),
		validateLedger(cfg.Ledger),
		validateExecutor(cfg.Executor),
		validateFiles(cfg.Files),
		validateJournal(cfg.Journal),
		validateDiagnostics(cfg.Diagnostics),
		validateLogging(cfg.Logging),
		cfg.ValidateConsistency(),
	}
	return errors.Join(errs...)
}

func validateServer(s domain.ServerSettings) error {
	if s.Port < 1 || s.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", s.Port)
	}
	if s.BindAttempts < 1 {
		return fmt.Errorf("server.bind_attempts must be >= 1")
	}
	if s.BindBackoff < 0 {
		return fmt.Errorf("server.bind_backoff must be >= 0")
	}
	if s.FallbackPorts < 0 {
		return fmt.Errorf("server.fallback_ports must be >= 0")
	}
	if s.MaxConnections < 0 {
		return fmt.Errorf("server.max_connections must be >= 0")
	}
	if s.MaxMessageSize <= 0 {
		return fmt.Errorf("server.max_message_size must be > 0")
	}
	return nil
}

func validateLedger(l domain.LedgerSettings) error {
	if l.MaxHistorySize < 0 {
		return fmt.Errorf("ledger.max_history_size must be >= 0")
	}
	if l.MaxRetries < 0 {
		return fmt.Errorf("ledger.max_retries must be >= 0")
	}
	if l.RetryCooldown < 0 || l.RetryInterval < 0 {
		return fmt.Errorf("ledger durations must be >= 0")
	}
	return nil
}

func validateExecutor(e domain.ExecutorSettings) error {
	if e.ShellTimeout <= 0 || e.CodeTimeout <= 0 {
		return fmt.Errorf("executor timeouts must be > 0")
	}
	if e.MaxOutputChars <= 0 {
		return fmt.Errorf("executor.max_output_chars must be > 0")
	}
	if e.MaxConcurrent <= 0 {
		return fmt.Errorf("executor.max_concurrent must be > 0")
	}
	for _, arg := range e.Interpreter {
		if strings.TrimSpace(arg) == "" {
			return fmt.Errorf("executor.interpreter contains an empty argument")
		}
	}
	return nil
}

func validateFiles(f domain.FileSettings) error {
	if f.MaxReadChars <= 0 {
		return fmt.Errorf("files.max_read_chars must be > 0")
	}
	return nil
}

func validateJournal(j domain.JournalSettings) error {
	if j.RetainDays < 0 {
		return fmt.Errorf("journal.retain_days must be >= 0")
	}
	return nil
}

func validateDiagnostics(d domain.DiagnosticsSettings) error {
	for _, target := range d.TCPTargets {
		if _, _, err := net.SplitHostPort(target); err != nil {
			return fmt.Errorf("diagnostics.tcp_targets: %q: %w", target, err)
		}
	}
	return nil
}

func validateLogging(l domain.LoggingSettings) error {
	if l.Level != "" && !contains(validLogLevels, strings.ToLower(l.Level)) {
		return fmt.Errorf("logging.level must be one of %s, got %s", strings.Join(validLogLevels, "|"), l.Level)
	}
	if l.Format != "" && !contains(validLogFormats, strings.ToLower(l.Format)) {
		return fmt.Errorf("logging.format must be one of %s, got %s", strings.Join(validLogFormats, "|"), l.Format)
	}
	return nil
}

func contains(values []string, v string) bool {
	for _, candidate := range values {
		if candidate == v {
			return true
		}
	}
	return false
}
