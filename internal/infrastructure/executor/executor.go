// Package executor runs CMD: and CODE: payloads as subprocesses.
//
// Every run has a hard wall-clock timeout after which the whole process group
// is killed and any partial output is discarded. Output is decoded as UTF-8
// with replacement characters for invalid bytes and capped to a fixed number
// of characters. The executor never touches the ledger; callers record results.
package executor

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/doeshing/cmdrelay/internal/domain"
	"github.com/doeshing/cmdrelay/internal/pkg/logger"
	"github.com/doeshing/cmdrelay/internal/pkg/textenc"
	"github.com/doeshing/cmdrelay/internal/ports"
)

const (
	noOutputMessage = "Command executed (no output)"
	// rawCaptureFactor bounds captured bytes relative to the character cap,
	// leaving room for multi-byte runes before decoding.
	rawCaptureFactor = 4
	waitDelay        = time.Second
	scratchFileName  = "snippet.py"
)

// Executor implements ports.CommandExecutor.
type Executor struct {
	shell       string
	interpreter []string
	maxOutput   int
	scratchRoot string

	guard   ports.SecurityService
	library *Library
	sem     *semaphore.Weighted
	logger  ports.Logger
}

// Option customizes an Executor.
type Option func(*Executor)

// WithLibrary routes known builtin names to lib before falling back to the shell.
func WithLibrary(lib *Library) Option {
	return func(e *Executor) { e.library = lib }
}

// WithLogger sets the logger.
func WithLogger(log ports.Logger) Option {
	return func(e *Executor) { e.logger = log }
}

// WithScratchRoot sets where CODE: scratch directories are created.
func WithScratchRoot(dir string) Option {
	return func(e *Executor) { e.scratchRoot = dir }
}

// New builds an Executor from the executor config section.
func New(cfg domain.Config, guard ports.SecurityService, opts ...Option) *Executor {
	limit := int64(cfg.Executor.MaxConcurrent)
	if limit <= 0 {
		limit = domain.DefaultMaxConcurrent
	}
	e := &Executor{
		shell:       resolveShell(cfg.Executor.Shell),
		interpreter: cfg.GetInterpreter(),
		maxOutput:   cfg.GetMaxOutputChars(),
		guard:       guard,
		sem:         semaphore.NewWeighted(limit),
		logger:      logger.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.library != nil {
		e.library.bind(e)
	}
	return e
}

// resolveShell keeps the configured shell, "auto" and empty mean $SHELL or /bin/sh.
func resolveShell(shell string) string {
	if shell != "" && shell != "auto" {
		return shell
	}
	if env := os.Getenv("SHELL"); env != "" {
		return env
	}
	return "/bin/sh"
}

// RunShell implements ports.CommandExecutor.
func (e *Executor) RunShell(ctx context.Context, command string, timeout time.Duration) domain.Outcome {
	if e.guard != nil {
		assessment, err := e.guard.Evaluate(command)
		if err != nil {
			return domain.Outcome{Status: domain.StatusRejected, Output: fmt.Sprintf("Error: guardrail unavailable: %v", err)}
		}
		if assessment.Blocked() {
			e.logger.Warn("command blocked", map[string]interface{}{
				"command": command,
				"level":   string(assessment.Level),
				"rules":   assessment.MatchedRules,
			})
			return domain.Outcome{
				Status: domain.StatusRejected,
				Output: fmt.Sprintf("Error: command blocked for security reasons: %s", strings.Join(assessment.Reasons, "; ")),
			}
		}
		if assessment.Action == domain.ActionWarn {
			e.logger.Warn("command matched guardrail warning", map[string]interface{}{
				"command": command,
				"reasons": assessment.Reasons,
			})
		}
	}

	if e.library != nil {
		if outcome, ok := e.library.Run(ctx, command); ok {
			return outcome
		}
	}

	return e.run(ctx, shellArgs(e.shell, command), "", timeout)
}

// RunCode implements ports.CommandExecutor. The snippet is written to a fresh
// scratch directory and run by the configured interpreter.
func (e *Executor) RunCode(ctx context.Context, source string, timeout time.Duration) domain.Outcome {
	source = UnwrapFence(source)
	if strings.TrimSpace(source) == "" {
		return domain.Outcome{Status: domain.StatusFailed, Output: "Error: empty code snippet"}
	}

	dir, err := os.MkdirTemp(e.scratchRoot, "cmdrelay-code-*")
	if err != nil {
		return domain.Outcome{Status: domain.StatusRetryable, Output: fmt.Sprintf("Error: creating scratch directory: %v", err)}
	}
	defer os.RemoveAll(dir)

	file := filepath.Join(dir, scratchFileName)
	if err := os.WriteFile(file, []byte(source), domain.SecureFilePermissions); err != nil {
		return domain.Outcome{Status: domain.StatusRetryable, Output: fmt.Sprintf("Error: writing scratch file: %v", err)}
	}

	argv := append(append([]string{}, e.interpreter...), file)
	return e.run(ctx, argv, dir, timeout)
}

// run executes argv with a hard timeout. Non-zero exits and launch failures are retryable.
func (e *Executor) run(ctx context.Context, argv []string, dir string, timeout time.Duration) domain.Outcome {
	if len(argv) == 0 {
		return domain.Outcome{Status: domain.StatusFailed, Output: "Error: nothing to execute"}
	}
	if timeout <= 0 {
		timeout = domain.DefaultShellTimeout
	}

	if err := e.sem.Acquire(ctx, 1); err != nil {
		return domain.Outcome{Status: domain.StatusFailed, Output: fmt.Sprintf("Error: execution cancelled: %v", err)}
	}
	defer e.sem.Release(1)

	execCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(execCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), "PYTHONIOENCODING=utf-8")
	configureProcessGroup(cmd)
	cmd.Cancel = func() error { return killProcessGroup(cmd) }
	cmd.WaitDelay = waitDelay

	maxBytes := int64(e.maxOutput * rawCaptureFactor)
	var stdoutBuf, stderrBuf bytes.Buffer
	stdout := &limitedWriter{w: &stdoutBuf, max: maxBytes}
	stderr := &limitedWriter{w: &stderrBuf, max: maxBytes}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	started := time.Now()
	err := cmd.Run()
	duration := time.Since(started)

	if errors.Is(execCtx.Err(), context.DeadlineExceeded) {
		e.logger.Warn("command timed out", map[string]interface{}{
			"argv0":   argv[0],
			"timeout": timeout.String(),
		})
		return domain.Outcome{
			Status:   domain.StatusTimedOut,
			Output:   fmt.Sprintf("Error: command timed out after %s", timeout),
			ExitCode: -1,
			Duration: duration,
		}
	}
	if errors.Is(execCtx.Err(), context.Canceled) {
		return domain.Outcome{
			Status:   domain.StatusFailed,
			Output:   "Error: execution cancelled",
			ExitCode: -1,
			Duration: duration,
		}
	}

	outText := strings.TrimRight(textenc.DecodeLossy(stdoutBuf.Bytes()), "\r\n")
	errText := strings.TrimRight(textenc.DecodeLossy(stderrBuf.Bytes()), "\r\n")
	truncatedRaw := stdout.truncated || stderr.truncated

	if err != nil {
		var exitErr *exec.ExitError
		exitCode := -1
		detail := errText
		if detail == "" {
			detail = outText
		}
		if errors.As(err, &exitErr) {
			exitCode = exitErr.ExitCode()
			if detail == "" {
				detail = "command failed with no output"
			}
		} else {
			detail = err.Error()
		}
		output, cut := textenc.Truncate(fmt.Sprintf("Error: exit status %d: %s", exitCode, detail), e.maxOutput, domain.TruncationMarker)
		e.logger.Debug("command failed", map[string]interface{}{
			"argv0":     argv[0],
			"exit_code": exitCode,
		})
		return domain.Outcome{
			Status:    domain.StatusRetryable,
			Output:    output,
			ExitCode:  exitCode,
			Duration:  duration,
			Truncated: cut || truncatedRaw,
		}
	}

	text := outText
	if text == "" {
		text = errText
	}
	if text == "" {
		text = noOutputMessage
	}
	output, cut := textenc.Truncate(text, e.maxOutput, domain.TruncationMarker)
	if truncatedRaw && !cut {
		output += domain.TruncationMarker
		cut = true
	}
	return domain.Outcome{
		Status:    domain.StatusSucceeded,
		Output:    output,
		Duration:  duration,
		Truncated: cut,
	}
}

// UnwrapFence strips a surrounding ``` fence and its language tag, if present.
func UnwrapFence(source string) string {
	trimmed := strings.TrimSpace(source)
	if !strings.HasPrefix(trimmed, "```") || !strings.HasSuffix(trimmed, "```") || len(trimmed) < 6 {
		return source
	}
	body := strings.TrimSuffix(strings.TrimPrefix(trimmed, "```"), "```")
	if nl := strings.IndexByte(body, '\n'); nl >= 0 {
		tag := strings.TrimSpace(body[:nl])
		if tag == "" || !strings.ContainsAny(tag, " \t(=") {
			body = body[nl+1:]
		}
	}
	return strings.TrimSpace(body)
}

// limitedWriter keeps the first max bytes and silently drops the rest.
type limitedWriter struct {
	w         io.Writer
	max       int64
	written   int64
	truncated bool
}

func (lw *limitedWriter) Write(p []byte) (int, error) {
	n := len(p)
	if lw.written >= lw.max {
		lw.truncated = true
		return n, nil
	}
	remaining := lw.max - lw.written
	if int64(n) > remaining {
		lw.truncated = true
		written, err := lw.w.Write(p[:remaining])
		lw.written += int64(written)
		// report the full length so the child does not see a short write
		return n, err
	}
	written, err := lw.w.Write(p)
	lw.written += int64(written)
	return written, err
}

var _ ports.CommandExecutor = (*Executor)(nil)
