package domain

import "time"

// Config mirrors ~/.cmdrelay/config.yaml.
type Config struct {
	ConfigFormatVersion string              `yaml:"config_format_version"`
	Server              ServerSettings      `yaml:"server"`
	Ledger              LedgerSettings      `yaml:"ledger"`
	Executor            ExecutorSettings    `yaml:"executor"`
	Files               FileSettings        `yaml:"files"`
	Security            SecuritySettings    `yaml:"security"`
	Journal             JournalSettings     `yaml:"journal"`
	Diagnostics         DiagnosticsSettings `yaml:"diagnostics"`
	Logging             LoggingSettings     `yaml:"logging"`
}

// ServerSettings configures the listener and its bind retry policy.
type ServerSettings struct {
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	BindAttempts   int           `yaml:"bind_attempts"`
	BindBackoff    time.Duration `yaml:"bind_backoff"`
	FallbackPorts  int           `yaml:"fallback_ports"`
	MaxConnections int           `yaml:"max_connections"`
	MaxMessageSize int64         `yaml:"max_message_size"`
	WriteTimeout   time.Duration `yaml:"write_timeout"`
}

// LedgerSettings bounds history and retry bookkeeping.
type LedgerSettings struct {
	MaxHistorySize int           `yaml:"max_history_size"`
	MaxRetries     int           `yaml:"max_retries"`
	RetryCooldown  time.Duration `yaml:"retry_cooldown"`
	RetryInterval  time.Duration `yaml:"retry_interval"`
	PersistFile    string        `yaml:"persist_file"`
}

// ExecutorSettings controls how commands and snippets run.
type ExecutorSettings struct {
	Shell           string        `yaml:"shell"`
	Interpreter     []string      `yaml:"interpreter"`
	ShellTimeout    time.Duration `yaml:"shell_timeout"`
	CodeTimeout     time.Duration `yaml:"code_timeout"`
	LibraryTimeout  time.Duration `yaml:"library_timeout"`
	MaxOutputChars  int           `yaml:"max_output_chars"`
	MaxConcurrent   int           `yaml:"max_concurrent"`
	CacheTTL        time.Duration `yaml:"cache_ttl"`
	CacheMaxEntries int           `yaml:"cache_max_entries"`
}

// FileSettings configures FILE: operations.
type FileSettings struct {
	Root         string `yaml:"root"`
	MaxReadChars int    `yaml:"max_read_chars"`
}

// SecuritySettings defines guardrail behavior.
type SecuritySettings struct {
	Enabled    bool   `yaml:"enabled"`
	RulesFile  string `yaml:"rules_file"`
	WatchRules bool   `yaml:"watch_rules"`
}

// JournalSettings configures the append-only SQLite journal.
type JournalSettings struct {
	Enabled    bool   `yaml:"enabled"`
	Path       string `yaml:"path"`
	RetainDays int    `yaml:"retain_days"`
}

// DiagnosticsSettings lists the probes run by the netdiag builtin.
type DiagnosticsSettings struct {
	TCPTargets []string      `yaml:"tcp_targets"`
	DNSNames   []string      `yaml:"dns_names"`
	Timeout    time.Duration `yaml:"timeout"`
}

// LoggingSettings selects the zap encoder and level.
type LoggingSettings struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	File   string `yaml:"file"`
}
