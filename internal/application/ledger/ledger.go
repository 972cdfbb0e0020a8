// Package ledger keeps the bounded command history together with the
// failure counters and last-run timestamps that gate automatic retries.
//
// A single Ledger is shared by every connection. All mutations happen inside
// one mutex-guarded critical section that performs no I/O, so concurrent
// records can never push the history past its capacity or lose an eviction.
package ledger

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/doeshing/cmdrelay/internal/application/classify"
	"github.com/doeshing/cmdrelay/internal/domain"
	"github.com/doeshing/cmdrelay/internal/pkg/logger"
	"github.com/doeshing/cmdrelay/internal/ports"
)

const logPreviewLen = 50

// Ledger is the history and retry bookkeeping shared across connections.
type Ledger struct {
	capacity   int
	maxRetries int
	cooldown   time.Duration

	now     func() time.Time
	journal ports.Journal
	logger  ports.Logger

	mu       sync.Mutex
	history  []domain.CommandEntry
	failures map[string]int
	lastRun  map[string]time.Time
}

// Option customizes a Ledger.
type Option func(*Ledger)

// WithClock replaces time.Now, mainly for cooldown tests.
func WithClock(now func() time.Time) Option {
	return func(l *Ledger) { l.now = now }
}

// WithJournal appends every recorded entry to j.
func WithJournal(j ports.Journal) Option {
	return func(l *Ledger) { l.journal = j }
}

// WithLogger sets the logger.
func WithLogger(log ports.Logger) Option {
	return func(l *Ledger) { l.logger = log }
}

// New builds a Ledger from the ledger config section. Zero values fall back to defaults.
func New(cfg domain.LedgerSettings, opts ...Option) *Ledger {
	l := &Ledger{
		capacity:   cfg.MaxHistorySize,
		maxRetries: cfg.MaxRetries,
		cooldown:   cfg.RetryCooldown,
		now:        time.Now,
		logger:     logger.NewNop(),
		failures:   make(map[string]int),
		lastRun:    make(map[string]time.Time),
	}
	if l.capacity <= 0 {
		l.capacity = domain.DefaultMaxHistorySize
	}
	if l.maxRetries <= 0 {
		l.maxRetries = domain.DefaultMaxRetries
	}
	if l.cooldown < 0 {
		l.cooldown = 0
	}
	for _, opt := range opts {
		opt(l)
	}
	l.history = make([]domain.CommandEntry, 0, l.capacity)
	return l
}

// Capacity returns the maximum history length.
func (l *Ledger) Capacity() int { return l.capacity }

// Record inserts a completed command at the front of the history and
// updates the retry bookkeeping for its command string.
func (l *Ledger) Record(command, response string, success bool) domain.CommandEntry {
	l.mu.Lock()
	now := l.now()
	entry := domain.CommandEntry{
		Timestamp: now,
		Command:   command,
		Response:  response,
		Success:   success,
	}

	l.history = append(l.history, domain.CommandEntry{})
	copy(l.history[1:], l.history)
	l.history[0] = entry
	if len(l.history) > l.capacity {
		l.history = l.history[:l.capacity]
	}

	l.lastRun[command] = now
	if success {
		delete(l.failures, command)
	} else {
		l.failures[command]++
	}
	attempts := l.failures[command]
	l.mu.Unlock()

	l.logger.Info("command recorded", map[string]interface{}{
		"command":  preview(command),
		"success":  success,
		"failures": attempts,
	})
	l.appendJournal(entry)
	return entry
}

func (l *Ledger) appendJournal(entry domain.CommandEntry) {
	if l.journal == nil {
		return
	}
	rec := domain.JournalRecord{
		ID:        uuid.NewString(),
		Timestamp: entry.Timestamp,
		Command:   entry.Command,
		Response:  entry.Response,
		Success:   entry.Success,
		Category:  classify.Classify(entry.Response),
	}
	if err := l.journal.Append(context.Background(), rec); err != nil {
		l.logger.Error("journal append failed", err, map[string]interface{}{"command": preview(entry.Command)})
	}
}

// Get returns the entry currently at the 1-based position index.
func (l *Ledger) Get(index int) (domain.CommandEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if index < 1 || index > len(l.history) {
		return domain.CommandEntry{}, false
	}
	return l.history[index-1], true
}

// Len returns the current history length.
func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.history)
}

// ShouldRetry reports whether command is below the failure threshold and out of cooldown.
// A command never seen before is always eligible.
func (l *Ledger) ShouldRetry(command string) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.shouldRetryLocked(command, l.now())
}

func (l *Ledger) shouldRetryLocked(command string, now time.Time) bool {
	if l.failures[command] >= l.maxRetries {
		return false
	}
	if last, ok := l.lastRun[command]; ok && now.Sub(last) < l.cooldown {
		return false
	}
	return true
}

// RetryStatus reports attempts, eligibility and remaining cooldown for command.
func (l *Ledger) RetryStatus(command string) domain.RetryStatus {
	l.mu.Lock()
	defer l.mu.Unlock()
	now := l.now()
	status := domain.RetryStatus{
		Command:    command,
		Attempts:   l.failures[command],
		MaxRetries: l.maxRetries,
		CanRetry:   l.shouldRetryLocked(command, now),
	}
	if last, ok := l.lastRun[command]; ok {
		if remaining := l.cooldown - now.Sub(last); remaining > 0 {
			status.CooldownRemaining = remaining
		}
	}
	return status
}

// FailedCommands lists commands with a live failure counter, newest history first.
func (l *Ledger) FailedCommands() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.failures))
	seen := make(map[string]bool, len(l.failures))
	for _, e := range l.history {
		if _, failed := l.failures[e.Command]; failed && !seen[e.Command] {
			seen[e.Command] = true
			out = append(out, e.Command)
		}
	}
	return out
}

// Clear empties history, failure counters and timestamps in one step.
func (l *Ledger) Clear() {
	l.mu.Lock()
	l.history = make([]domain.CommandEntry, 0, l.capacity)
	l.failures = make(map[string]int)
	l.lastRun = make(map[string]time.Time)
	l.mu.Unlock()
	l.logger.Info("command history cleared", nil)
}

// Validate reports whether command has a known prefix and, for REPLAY:, an in-range index.
func (l *Ledger) Validate(command string) bool {
	if command == "" || !domain.HasValidPrefix(command) {
		return false
	}
	if !strings.HasPrefix(command, domain.PrefixReplay) {
		return true
	}
	index, err := domain.ParseReplayIndex(command[len(domain.PrefixReplay):])
	if err != nil {
		return false
	}
	return index <= l.Len()
}

// Snapshot returns a copy of the history, newest first.
func (l *Ledger) Snapshot() []domain.CommandEntry {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]domain.CommandEntry, len(l.history))
	copy(out, l.history)
	return out
}

// Export writes the current history through repo.
func (l *Ledger) Export(repo ports.HistoryRepository) error {
	entries := l.Snapshot()
	if err := repo.SaveHistory(entries); err != nil {
		l.logger.Error("history export failed", err, nil)
		return fmt.Errorf("export history: %w", err)
	}
	l.logger.Info("command history exported", map[string]interface{}{"entries": len(entries)})
	return nil
}

// Import replaces the history with the entries loaded from repo, truncated to capacity.
// On any error the in-memory state is left untouched.
func (l *Ledger) Import(repo ports.HistoryRepository) error {
	entries, err := repo.LoadHistory()
	if err != nil {
		l.logger.Error("history import failed", err, nil)
		return fmt.Errorf("import history: %w", err)
	}
	for i, e := range entries {
		if e.Command == "" || !domain.HasValidPrefix(e.Command) {
			err := fmt.Errorf("%w: entry %d has command %q", domain.ErrInvalidHistory, i+1, preview(e.Command))
			l.logger.Error("history import failed", err, nil)
			return err
		}
	}
	if len(entries) > l.capacity {
		entries = entries[:l.capacity]
	}

	history := make([]domain.CommandEntry, len(entries), l.capacity)
	copy(history, entries)

	l.mu.Lock()
	l.history = history
	l.mu.Unlock()
	l.logger.Info("command history imported", map[string]interface{}{"entries": len(history)})
	return nil
}

func preview(s string) string {
	r := []rune(s)
	if len(r) <= logPreviewLen {
		return s
	}
	return string(r[:logPreviewLen]) + "..."
}
