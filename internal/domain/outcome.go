package domain

import (
	"errors"
	"time"
)

// OutcomeStatus classifies how an execution ended.
type OutcomeStatus int

const (
	StatusSucceeded OutcomeStatus = iota
	// StatusRetryable marks a failed attempt eligible for one immediate re-run.
	// It never reaches the client.
	StatusRetryable
	StatusFailed
	StatusTimedOut
	StatusRejected
)

func (s OutcomeStatus) String() string {
	switch s {
	case StatusSucceeded:
		return "succeeded"
	case StatusRetryable:
		return "retryable"
	case StatusFailed:
		return "failed"
	case StatusTimedOut:
		return "timed_out"
	case StatusRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// Outcome is the result of one executor call.
type Outcome struct {
	Status    OutcomeStatus
	Output    string
	ExitCode  int
	Duration  time.Duration
	Truncated bool
}

// OK reports whether the attempt succeeded.
func (o Outcome) OK() bool { return o.Status == StatusSucceeded }

// Sentinel errors shared across layers.
var (
	ErrPathTraversal  = errors.New("path contains a traversal or home reference")
	ErrCommandBlocked = errors.New("command blocked by guardrail")
	ErrHistoryIndex   = errors.New("no such history index")
	ErrInvalidHistory = errors.New("invalid history snapshot")
)
