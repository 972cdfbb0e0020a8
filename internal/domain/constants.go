package domain

import "time"

// File permissions constants
const (
	// DirectoryPermissions is the default permission for directories (rwxr-xr-x)
	DirectoryPermissions = 0o755
	// SecureFilePermissions is the permission for sensitive files (rw-------)
	SecureFilePermissions = 0o600
	// DefaultFilePermissions is used for files written by FILE:write
	DefaultFilePermissions = 0o644
)

// Server defaults
const (
	DefaultHost           = "localhost"
	DefaultPort           = 8765
	DefaultBindAttempts   = 3
	DefaultBindBackoff    = 2 * time.Second
	DefaultFallbackPorts  = 10
	DefaultMaxMessageSize = 1 << 20
	DefaultWriteTimeout   = 10 * time.Second
)

// Ledger defaults
const (
	DefaultMaxHistorySize = 10
	DefaultMaxRetries     = 3
	DefaultRetryCooldown  = time.Second
)

// Executor defaults
const (
	// DefaultShellTimeout bounds CMD: subprocesses
	DefaultShellTimeout = 60 * time.Second
	// DefaultCodeTimeout bounds CODE: subprocesses
	DefaultCodeTimeout = 60 * time.Second
	// DefaultLibraryTimeout bounds builtin library commands
	DefaultLibraryTimeout  = 15 * time.Second
	DefaultMaxOutputChars  = 1000
	DefaultMaxConcurrent   = 4
	DefaultCacheTTL        = 5 * time.Minute
	DefaultMaxCacheEntries = 100
	// TruncationMarker is appended to capped output
	TruncationMarker = "\n... [output truncated]"
)

// File operation defaults
const (
	DefaultMaxReadChars  = 5000
	ReadTruncationMarker = "\n...(truncated)..."
)

// Journal defaults
const (
	// DefaultHistoryLimit is the default number of journal records to display
	DefaultHistoryLimit = 20
	// DefaultHistorySearchLimit is the default number of search results to return
	DefaultHistorySearchLimit = 50
	// DefaultHistoryRetainDays is the default number of days to retain journal rows
	DefaultHistoryRetainDays = 30
	// MaxHistoryAnalysisRecords is the maximum number of records to analyze
	MaxHistoryAnalysisRecords = 1000
)

// DefaultDiagnosticsTimeout bounds each netdiag probe.
const DefaultDiagnosticsTimeout = 3 * time.Second

// Time formats
const (
	// TimestampFormat is the standard timestamp format
	TimestampFormat = time.RFC3339
)
