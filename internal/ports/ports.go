// Package ports defines the interfaces (ports) for the hexagonal architecture.
//
// This package establishes the contract between the application core and external
// adapters (infrastructure). The dispatcher and ledger depend only on these
// interfaces, so the WebSocket transport, subprocess executor, SQLite journal and
// YAML config loader can be swapped or faked in tests.
//
// Key architectural concepts:
//   - Ports: Interfaces defined here (e.g., CommandExecutor, ConfigProvider)
//   - Adapters: Concrete implementations in the infrastructure layer
//   - Dependency inversion: Application depends on abstractions, not implementations
package ports

import (
	"context"
	"time"

	"github.com/doeshing/cmdrelay/internal/domain"
)

// ConfigProvider loads the latest configuration from persistent storage.
// Implementations typically read from ~/.cmdrelay/config.yaml.
type ConfigProvider interface {
	Load(context.Context) (domain.Config, error)
}

// SecurityService evaluates commands and paths before anything is executed.
type SecurityService interface {
	Evaluate(command string) (domain.RiskAssessment, error)
	EvaluatePath(path string) error
}

// CommandExecutor runs shell commands and code snippets as subprocesses.
// Implementations never touch ledger state.
type CommandExecutor interface {
	RunShell(ctx context.Context, command string, timeout time.Duration) domain.Outcome
	RunCode(ctx context.Context, source string, timeout time.Duration) domain.Outcome
}

// SystemInfoCollector produces the INFO: snapshot.
type SystemInfoCollector interface {
	Snapshot(context.Context) domain.SystemSnapshot
}

// HistoryRepository persists ledger snapshots for export and import.
type HistoryRepository interface {
	SaveHistory([]domain.CommandEntry) error
	LoadHistory() ([]domain.CommandEntry, error)
}

// Journal is an append-only audit sink for recorded commands.
type Journal interface {
	Append(context.Context, domain.JournalRecord) error
}

// JournalReader exposes stored journal rows to the CLI.
type JournalReader interface {
	Records(ctx context.Context, limit int, search string) ([]domain.JournalRecord, error)
	Clear(context.Context) error
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// CacheRepository stores short-lived library command results.
type CacheRepository interface {
	Get(key string) (domain.CacheEntry, bool)
	Set(entry domain.CacheEntry)
}

// Logger provides structured logging abstraction for the application layer.
// Implementations can route to different backends (stdout, files, external services).
type Logger interface {
	Debug(msg string, fields map[string]interface{})
	Info(msg string, fields map[string]interface{})
	Warn(msg string, fields map[string]interface{})
	Error(msg string, err error, fields map[string]interface{})
}

// FileService performs traversal-checked FILE: operations and returns display text.
type FileService interface {
	Read(path string) (string, error)
	Write(path, content string) (string, error)
	List(path string) (string, error)
}
