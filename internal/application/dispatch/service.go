// Package dispatch turns one inbound protocol message into exactly one reply.
//
// Each message is parsed once, routed by prefix, given at most one immediate
// re-run when the executor reports a retryable failure, and then recorded in
// the ledger under the command it actually ran. The immediate re-run belongs to
// the message alone; the ledger's failure counters and cooldowns only drive the
// background retry worker.
package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/doeshing/cmdrelay/internal/application/classify"
	"github.com/doeshing/cmdrelay/internal/application/ledger"
	"github.com/doeshing/cmdrelay/internal/domain"
	"github.com/doeshing/cmdrelay/internal/pkg/logger"
	"github.com/doeshing/cmdrelay/internal/ports"
)

// Reply is what the protocol layer writes back.
type Reply struct {
	Text     string
	Success  bool
	Category domain.Category
	// Recorded is false for replies that never reached the ledger.
	Recorded bool
}

// Service wires the executor, file operations and system info to the ledger.
type Service struct {
	Executor ports.CommandExecutor
	Ledger   *ledger.Ledger
	Files    ports.FileService
	Info     ports.SystemInfoCollector
	Logger   ports.Logger

	ShellTimeout time.Duration
	CodeTimeout  time.Duration
}

// NewService builds a Service using the executor timeouts from cfg.
func NewService(cfg domain.Config, exec ports.CommandExecutor, l *ledger.Ledger, files ports.FileService, info ports.SystemInfoCollector, log ports.Logger) *Service {
	if log == nil {
		log = logger.NewNop()
	}
	return &Service{
		Executor:     exec,
		Ledger:       l,
		Files:        files,
		Info:         info,
		Logger:       log,
		ShellTimeout: cfg.Executor.ShellTimeout,
		CodeTimeout:  cfg.Executor.CodeTimeout,
	}
}

// Handle processes one raw message.
func (s *Service) Handle(ctx context.Context, raw string) Reply {
	return s.handle(ctx, raw, true)
}

// Retry re-runs a previously failed command for the background retry worker.
// The per-message re-run is skipped; the worker already is the retry.
func (s *Service) Retry(ctx context.Context, command string) {
	reply := s.handle(ctx, command, false)
	s.log().Debug("background retry finished", map[string]interface{}{
		"success":  reply.Success,
		"category": string(reply.Category),
	})
}

func (s *Service) handle(ctx context.Context, raw string, allowRetry bool) Reply {
	cmd, err := domain.ParseCommand(raw)
	if err != nil {
		return errorReply(err)
	}

	if cmd.Kind == domain.KindReplay {
		resolved, reply, ok := s.resolveReplay(cmd)
		if !ok {
			return reply
		}
		cmd = resolved
	}

	outcome := s.execute(ctx, cmd)
	if outcome.Status == domain.StatusRetryable && allowRetry && ctx.Err() == nil {
		s.log().Info("retrying command once", map[string]interface{}{
			"kind":      cmd.Kind.String(),
			"exit_code": outcome.ExitCode,
		})
		outcome = s.execute(ctx, cmd)
	}

	success := outcome.OK()
	if ctx.Err() != nil && !success {
		// shutdown interrupted the command; it did not fail on its own
		s.log().Warn("command interrupted, not recorded", map[string]interface{}{
			"kind":  cmd.Kind.String(),
			"error": ctx.Err().Error(),
		})
		return Reply{
			Text:     outcome.Output,
			Category: classify.Classify(outcome.Output),
		}
	}
	s.Ledger.Record(cmd.Raw, outcome.Output, success)
	return Reply{
		Text:     outcome.Output,
		Success:  success,
		Category: classify.Classify(outcome.Output),
		Recorded: true,
	}
}

// resolveReplay swaps a REPLAY:n command for the history entry it points at.
func (s *Service) resolveReplay(cmd domain.Command) (domain.Command, Reply, bool) {
	entry, ok := s.Ledger.Get(cmd.ReplayIndex)
	if !ok {
		err := fmt.Errorf("%w %d (history size %d)", domain.ErrHistoryIndex, cmd.ReplayIndex, s.Ledger.Len())
		return domain.Command{}, errorReply(err), false
	}
	resolved, err := domain.ParseCommand(entry.Command)
	if err != nil {
		return domain.Command{}, errorReply(err), false
	}
	if resolved.Kind == domain.KindReplay {
		return domain.Command{}, errorReply(fmt.Errorf("history entry %d is itself a replay", cmd.ReplayIndex)), false
	}
	s.log().Debug("replaying history entry", map[string]interface{}{
		"index": cmd.ReplayIndex,
		"kind":  resolved.Kind.String(),
	})
	return resolved, Reply{}, true
}

func (s *Service) execute(ctx context.Context, cmd domain.Command) domain.Outcome {
	switch cmd.Kind {
	case domain.KindShell:
		return s.Executor.RunShell(ctx, cmd.Payload, s.ShellTimeout)
	case domain.KindCode:
		return s.Executor.RunCode(ctx, cmd.Payload, s.CodeTimeout)
	case domain.KindInfo:
		return s.info(ctx)
	case domain.KindFile:
		return s.file(cmd.File)
	default:
		return domain.Outcome{Status: domain.StatusFailed, Output: fmt.Sprintf("Error: cannot execute %s command", cmd.Kind)}
	}
}

func (s *Service) info(ctx context.Context) domain.Outcome {
	var snapshot domain.SystemSnapshot
	if s.Info != nil {
		snapshot = s.Info.Snapshot(ctx)
	} else {
		snapshot = domain.SystemSnapshot{Timestamp: time.Now().Format(domain.TimestampFormat)}
	}
	raw, err := json.Marshal(snapshot)
	if err != nil {
		return domain.Outcome{Status: domain.StatusFailed, Output: fmt.Sprintf("Error: encoding system info: %v", err)}
	}
	return domain.Outcome{Status: domain.StatusSucceeded, Output: string(raw)}
}

func (s *Service) file(op domain.FileOp) domain.Outcome {
	if s.Files == nil {
		return domain.Outcome{Status: domain.StatusFailed, Output: "Error: file operations are unavailable"}
	}
	var (
		out string
		err error
	)
	switch op.Op {
	case domain.FileRead:
		out, err = s.Files.Read(op.Path)
	case domain.FileWrite:
		out, err = s.Files.Write(op.Path, op.Content)
	case domain.FileList:
		out, err = s.Files.List(op.Path)
	default:
		err = fmt.Errorf("unsupported FILE operation %q", op.Op)
	}

	switch {
	case err == nil:
		return domain.Outcome{Status: domain.StatusSucceeded, Output: out}
	case errors.Is(err, domain.ErrPathTraversal):
		s.log().Warn("file path rejected", map[string]interface{}{"op": string(op.Op), "path": op.Path})
		return domain.Outcome{Status: domain.StatusRejected, Output: fmt.Sprintf("Error: security violation: %v", err)}
	default:
		return domain.Outcome{Status: domain.StatusFailed, Output: fmt.Sprintf("Error: %v", err)}
	}
}

func (s *Service) log() ports.Logger {
	if s.Logger == nil {
		return logger.NewNop()
	}
	return s.Logger
}

func errorReply(err error) Reply {
	text := "Error: " + err.Error()
	return Reply{Text: text, Success: false, Category: domain.CategoryError}
}
