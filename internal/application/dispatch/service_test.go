package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/doeshing/cmdrelay/internal/application/ledger"
	"github.com/doeshing/cmdrelay/internal/domain"
)

// scriptedExecutor returns queued outcomes in order, then repeats the last one.
type scriptedExecutor struct {
	mu       sync.Mutex
	outcomes []domain.Outcome
	shell    []string
	code     []string
}

func (e *scriptedExecutor) next() domain.Outcome {
	if len(e.outcomes) == 0 {
		return domain.Outcome{Status: domain.StatusSucceeded, Output: "ok"}
	}
	out := e.outcomes[0]
	if len(e.outcomes) > 1 {
		e.outcomes = e.outcomes[1:]
	}
	return out
}

func (e *scriptedExecutor) RunShell(_ context.Context, command string, _ time.Duration) domain.Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.shell = append(e.shell, command)
	return e.next()
}

func (e *scriptedExecutor) RunCode(_ context.Context, source string, _ time.Duration) domain.Outcome {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.code = append(e.code, source)
	return e.next()
}

func (e *scriptedExecutor) calls() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.shell) + len(e.code)
}

// echoExecutor answers CMD: echo <x> with x.
type echoExecutor struct{ scriptedExecutor }

func (e *echoExecutor) RunShell(ctx context.Context, command string, timeout time.Duration) domain.Outcome {
	e.scriptedExecutor.RunShell(ctx, command, timeout)
	return domain.Outcome{Status: domain.StatusSucceeded, Output: strings.TrimPrefix(command, "echo ")}
}

type fakeFiles struct {
	err error
}

func (f fakeFiles) Read(path string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "File content of " + path + ":\n\nhello", nil
}

func (f fakeFiles) Write(path, content string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return fmt.Sprintf("Successfully wrote %d bytes to %s", len(content), path), nil
}

func (f fakeFiles) List(path string) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	return "Contents of " + path + ":\n- a.txt (5 B)\n", nil
}

type fakeInfo struct{}

func (fakeInfo) Snapshot(context.Context) domain.SystemSnapshot {
	return domain.SystemSnapshot{Host: "box", OS: "linux", Arch: "amd64", Runtime: "go", Timestamp: "now", CPUs: 2}
}

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

func newService(t *testing.T, exec *scriptedExecutor) (*Service, *ledger.Ledger, *clock) {
	t.Helper()
	c := &clock{now: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)}
	l := ledger.New(domain.LedgerSettings{MaxHistorySize: 10, MaxRetries: 3, RetryCooldown: time.Second}, ledger.WithClock(c.Now))
	svc := NewService(domain.Config{}, exec, l, fakeFiles{}, fakeInfo{}, nil)
	return svc, l, c
}

func TestHandle_UnsupportedFormatIsNotRecorded(t *testing.T) {
	exec := &scriptedExecutor{}
	svc, l, _ := newService(t, exec)

	for _, raw := range []string{"hello", "", "cmd: lower", "REPLAY:abc", "REPLAY:0", "FILE:delete x"} {
		reply := svc.Handle(context.Background(), raw)
		assert.False(t, reply.Success, raw)
		assert.Equal(t, domain.CategoryError, reply.Category, raw)
		assert.True(t, strings.HasPrefix(reply.Text, "Error: unsupported command format"), reply.Text)
		assert.False(t, reply.Recorded)
	}
	assert.Equal(t, 0, l.Len())
	assert.Equal(t, 0, exec.calls())
}

func TestHandle_ShellSuccessIsRecorded(t *testing.T) {
	exec := &scriptedExecutor{outcomes: []domain.Outcome{{Status: domain.StatusSucceeded, Output: "hi"}}}
	svc, l, _ := newService(t, exec)

	reply := svc.Handle(context.Background(), "CMD: echo hi")
	assert.True(t, reply.Success)
	assert.Equal(t, "hi", reply.Text)
	assert.Equal(t, []string{"echo hi"}, exec.shell)

	entry, ok := l.Get(1)
	require.True(t, ok)
	assert.Equal(t, "CMD: echo hi", entry.Command)
	assert.Equal(t, "hi", entry.Response)
	assert.True(t, entry.Success)
}

func TestHandle_OneShotRetrySucceeds(t *testing.T) {
	exec := &scriptedExecutor{outcomes: []domain.Outcome{
		{Status: domain.StatusRetryable, Output: "Error: exit status 1: flaky"},
		{Status: domain.StatusSucceeded, Output: "recovered"},
	}}
	svc, l, _ := newService(t, exec)

	reply := svc.Handle(context.Background(), "CMD: flaky")
	assert.True(t, reply.Success)
	assert.Equal(t, "recovered", reply.Text)
	assert.Equal(t, 2, exec.calls())

	entry, ok := l.Get(1)
	require.True(t, ok)
	assert.True(t, entry.Success)
	assert.Equal(t, 1, l.Len(), "the retry is one message, one record")
	assert.Equal(t, 0, l.RetryStatus("CMD: flaky").Attempts, "no failure counter after success")
}

func TestHandle_SecondRetryableFailureIsReturned(t *testing.T) {
	exec := &scriptedExecutor{outcomes: []domain.Outcome{
		{Status: domain.StatusRetryable, Output: "Error: exit status 2: first"},
		{Status: domain.StatusRetryable, Output: "Error: exit status 2: second"},
		{Status: domain.StatusSucceeded, Output: "never"},
	}}
	svc, l, _ := newService(t, exec)

	reply := svc.Handle(context.Background(), "CMD: broken")
	assert.False(t, reply.Success)
	assert.Equal(t, "Error: exit status 2: second", reply.Text)
	assert.Equal(t, domain.CategoryError, reply.Category)
	assert.Equal(t, 2, exec.calls(), "exactly one re-run per message")
	assert.Equal(t, 1, l.RetryStatus("CMD: broken").Attempts)
}

func TestHandle_RetryInsideCooldownStillRuns(t *testing.T) {
	exec := &scriptedExecutor{outcomes: []domain.Outcome{
		{Status: domain.StatusSucceeded, Output: "ok"},
		{Status: domain.StatusRetryable, Output: "Error: exit status 1: flaky"},
		{Status: domain.StatusSucceeded, Output: "recovered"},
	}}
	svc, l, _ := newService(t, exec)
	ctx := context.Background()

	require.True(t, svc.Handle(ctx, "CMD: flaky").Success)
	require.False(t, l.ShouldRetry("CMD: flaky"), "command is inside its cooldown")

	reply := svc.Handle(ctx, "CMD: flaky")
	assert.True(t, reply.Success)
	assert.Equal(t, "recovered", reply.Text)
	assert.Equal(t, 3, exec.calls())

	entry, ok := l.Get(1)
	require.True(t, ok)
	assert.True(t, entry.Success)
	assert.Equal(t, 0, l.RetryStatus("CMD: flaky").Attempts)
}

func TestHandle_RetryAfterLedgerGaveUp(t *testing.T) {
	exec := &scriptedExecutor{outcomes: []domain.Outcome{
		{Status: domain.StatusRetryable, Output: "Error: exit status 1: nope"},
	}}
	svc, l, _ := newService(t, exec)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		svc.Handle(ctx, "CMD: nope")
	}
	assert.Equal(t, 6, exec.calls(), "every message gets its own re-run")
	assert.Equal(t, 3, l.RetryStatus("CMD: nope").Attempts)
	assert.False(t, l.ShouldRetry("CMD: nope"))

	svc.Handle(ctx, "CMD: nope")
	assert.Equal(t, 8, exec.calls())
}

// cancellingExecutor simulates a shutdown arriving while the command runs.
type cancellingExecutor struct {
	scriptedExecutor
	cancel context.CancelFunc
}

func (e *cancellingExecutor) RunShell(ctx context.Context, command string, timeout time.Duration) domain.Outcome {
	e.scriptedExecutor.RunShell(ctx, command, timeout)
	e.cancel()
	return domain.Outcome{Status: domain.StatusRetryable, Output: "Error: execution cancelled", ExitCode: -1}
}

func TestHandle_CancelledCommandIsNotRecorded(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	exec := &cancellingExecutor{cancel: cancel}
	l := ledger.New(domain.LedgerSettings{MaxHistorySize: 10, MaxRetries: 3})
	svc := NewService(domain.Config{}, exec, l, nil, nil, nil)

	reply := svc.Handle(ctx, "CMD: sleep 30")
	assert.False(t, reply.Success)
	assert.False(t, reply.Recorded)
	assert.Equal(t, "Error: execution cancelled", reply.Text)
	assert.Equal(t, 1, exec.calls(), "no re-run after cancellation")
	assert.Equal(t, 0, l.Len())
	assert.Equal(t, 0, l.RetryStatus("CMD: sleep 30").Attempts)
}

func TestHandle_TerminalFailuresAreNotRetried(t *testing.T) {
	for _, status := range []domain.OutcomeStatus{domain.StatusTimedOut, domain.StatusRejected, domain.StatusFailed} {
		t.Run(status.String(), func(t *testing.T) {
			exec := &scriptedExecutor{outcomes: []domain.Outcome{{Status: status, Output: "Error: terminal"}}}
			svc, l, _ := newService(t, exec)

			reply := svc.Handle(context.Background(), "CMD: x")
			assert.False(t, reply.Success)
			assert.Equal(t, 1, exec.calls())
			assert.Equal(t, 1, l.RetryStatus("CMD: x").Attempts, "terminal failures still count")
		})
	}
}

func TestHandle_CodeDispatch(t *testing.T) {
	exec := &scriptedExecutor{outcomes: []domain.Outcome{{Status: domain.StatusSucceeded, Output: "2"}}}
	svc, _, _ := newService(t, exec)

	reply := svc.Handle(context.Background(), "CODE: print(1+1)")
	assert.True(t, reply.Success)
	assert.Equal(t, []string{"print(1+1)"}, exec.code)
}

func TestHandle_InfoAlwaysSucceeds(t *testing.T) {
	exec := &scriptedExecutor{}
	svc, l, _ := newService(t, exec)

	reply := svc.Handle(context.Background(), "INFO:")
	assert.True(t, reply.Success)
	assert.Equal(t, domain.CategoryJSON, reply.Category)
	assert.Contains(t, reply.Text, `"host":"box"`)
	assert.Equal(t, 0, exec.calls())
	assert.Equal(t, 1, l.Len())
}

func TestHandle_FileOperations(t *testing.T) {
	exec := &scriptedExecutor{}
	svc, _, _ := newService(t, exec)
	ctx := context.Background()

	reply := svc.Handle(ctx, "FILE:read notes.txt")
	assert.True(t, reply.Success)
	assert.Equal(t, "File content of notes.txt:\n\nhello", reply.Text)

	reply = svc.Handle(ctx, "FILE:write out/a.txt || hello world")
	assert.True(t, reply.Success)
	assert.Equal(t, "Successfully wrote 11 bytes to out/a.txt", reply.Text)

	reply = svc.Handle(ctx, "FILE:list .")
	assert.True(t, reply.Success)
	assert.Contains(t, reply.Text, "- a.txt")
}

func TestHandle_FileTraversalIsSecurityViolation(t *testing.T) {
	exec := &scriptedExecutor{}
	svc, l, _ := newService(t, exec)
	svc.Files = fakeFiles{err: fmt.Errorf("%w: ../etc/passwd", domain.ErrPathTraversal)}

	reply := svc.Handle(context.Background(), "FILE:read ../etc/passwd")
	assert.False(t, reply.Success)
	assert.True(t, strings.HasPrefix(reply.Text, "Error: security violation:"), reply.Text)
	assert.Equal(t, domain.CategoryError, reply.Category)
	assert.Equal(t, 1, l.Len())
}

func TestHandle_FileErrorIsFailure(t *testing.T) {
	exec := &scriptedExecutor{}
	svc, _, _ := newService(t, exec)
	svc.Files = fakeFiles{err: errors.New("file not found: x")}

	reply := svc.Handle(context.Background(), "FILE:read x")
	assert.False(t, reply.Success)
	assert.Equal(t, "Error: file not found: x", reply.Text)
}

func TestHandle_ReplayReturnsSameResponse(t *testing.T) {
	exec := &echoExecutor{}
	c := &clock{now: time.Now()}
	l := ledger.New(domain.LedgerSettings{MaxHistorySize: 10}, ledger.WithClock(c.Now))
	svc := NewService(domain.Config{}, exec, l, nil, nil, nil)
	ctx := context.Background()

	first := svc.Handle(ctx, "CMD: echo hi")
	require.True(t, first.Success)
	assert.Contains(t, first.Text, "hi")

	replayed := svc.Handle(ctx, "REPLAY:1")
	assert.Equal(t, first.Text, replayed.Text)
	assert.True(t, replayed.Success)

	latest, ok := l.Get(1)
	require.True(t, ok)
	assert.Equal(t, "CMD: echo hi", latest.Command, "replays record under the resolved command")
	assert.Equal(t, 2, l.Len())
}

func TestHandle_ReplayIndicesArePositional(t *testing.T) {
	exec := &echoExecutor{}
	l := ledger.New(domain.LedgerSettings{MaxHistorySize: 10})
	svc := NewService(domain.Config{}, exec, l, nil, nil, nil)
	ctx := context.Background()

	svc.Handle(ctx, "CMD: echo a")
	svc.Handle(ctx, "CMD: echo b")

	assert.Equal(t, "a", svc.Handle(ctx, "REPLAY:2").Text)
	// "a" is now the newest entry, so position 2 points at "b"
	assert.Equal(t, "b", svc.Handle(ctx, "REPLAY:2").Text)
}

func TestHandle_ReplayMissingIndex(t *testing.T) {
	exec := &scriptedExecutor{}
	svc, l, _ := newService(t, exec)

	reply := svc.Handle(context.Background(), "REPLAY:3")
	assert.Equal(t, "Error: no such history index 3 (history size 0)", reply.Text)
	assert.False(t, reply.Success)
	assert.Equal(t, 0, l.Len())
	assert.Equal(t, 0, exec.calls())
}

func TestRetry_SkipsImmediateRerun(t *testing.T) {
	exec := &scriptedExecutor{outcomes: []domain.Outcome{
		{Status: domain.StatusRetryable, Output: "Error: exit status 1: x"},
	}}
	svc, l, _ := newService(t, exec)

	svc.Retry(context.Background(), "CMD: x")
	assert.Equal(t, 1, exec.calls())
	assert.Equal(t, 1, l.Len())
}

func TestHandle_ConcurrentMessagesKeepCapacity(t *testing.T) {
	exec := &scriptedExecutor{}
	svc, l, _ := newService(t, exec)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			svc.Handle(context.Background(), fmt.Sprintf("CMD: echo %d", i))
		}(i)
	}
	wg.Wait()
	assert.Equal(t, l.Capacity(), l.Len())
}
