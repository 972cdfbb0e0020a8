package domain

import "time"

// CommandEntry is one completed command as kept by the ledger.
type CommandEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`
	Response  string    `json:"response"`
	Success   bool      `json:"success"`
}

// RetryStatus reports the ledger's view of a single retry key.
type RetryStatus struct {
	Command           string        `json:"command"`
	Attempts          int           `json:"attempts"`
	MaxRetries        int           `json:"max_retries"`
	CanRetry          bool          `json:"can_retry"`
	CooldownRemaining time.Duration `json:"cooldown_remaining"`
}

// JournalRecord is a persisted audit row of a recorded command.
type JournalRecord struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`
	Response  string    `json:"response"`
	Success   bool      `json:"success"`
	Category  Category  `json:"category"`
}

// CacheEntry stores a cached library command result.
type CacheEntry struct {
	Key       string    `json:"key"`
	Output    string    `json:"output"`
	CreatedAt time.Time `json:"created_at"`
}
