package executor

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/user"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/doeshing/cmdrelay/internal/domain"
	"github.com/doeshing/cmdrelay/internal/pkg/textenc"
	"github.com/doeshing/cmdrelay/internal/ports"
)

// BuiltinFunc implements a library command in-process.
type BuiltinFunc func(ctx context.Context, args string) (string, error)

type builtin struct {
	run  BuiltinFunc
	help string
}

// Library resolves the first word of a CMD: payload to a builtin command or
// a cached platform alias. Unknown names fall through to the shell.
type Library struct {
	builtins map[string]builtin
	aliases  map[string]string
	phrases  map[string]string

	cache   ports.CacheRepository
	timeout time.Duration
	now     func() time.Time
	exec    *Executor
}

// LibraryDeps are the collaborators used by builtins.
type LibraryDeps struct {
	Files    ports.FileService
	Info     ports.SystemInfoCollector
	Diag     *Diagnoser
	Cache    ports.CacheRepository
	Timeout  time.Duration
	Hostname func() (string, error)
}

// jsonCall is the structured form {"command": "<name>", "args": "<args>"}.
type jsonCall struct {
	Command string `json:"command"`
	Args    string `json:"args"`
}

// NewLibrary registers the builtin commands.
func NewLibrary(deps LibraryDeps) *Library {
	timeout := deps.Timeout
	if timeout <= 0 {
		timeout = domain.DefaultLibraryTimeout
	}
	hostname := deps.Hostname
	if hostname == nil {
		hostname = os.Hostname
	}

	l := &Library{
		builtins: make(map[string]builtin),
		aliases:  platformAliases(),
		phrases:  map[string]string{"diagnose network": "netdiag"},
		cache:    deps.Cache,
		timeout:  timeout,
		now:      time.Now,
	}

	l.register("echo", "Return the given text (echo <text>)", func(_ context.Context, args string) (string, error) {
		return args, nil
	})
	l.register("date", "Current date", func(context.Context, string) (string, error) {
		return l.now().Format("2006-01-02"), nil
	})
	l.register("time", "Current time", func(context.Context, string) (string, error) {
		return l.now().Format("15:04:05"), nil
	})
	l.register("whoami", "Current user name", func(context.Context, string) (string, error) {
		u, err := user.Current()
		if err != nil {
			return "", err
		}
		return u.Username, nil
	})
	l.register("hostname", "Machine host name", func(context.Context, string) (string, error) {
		return hostname()
	})
	l.register("help", "This help", func(context.Context, string) (string, error) {
		return l.Help(), nil
	})

	if deps.Files != nil {
		list := func(_ context.Context, args string) (string, error) {
			path := strings.TrimSpace(args)
			if path == "" {
				path = "."
			}
			return deps.Files.List(path)
		}
		read := func(_ context.Context, args string) (string, error) {
			path := strings.TrimSpace(args)
			if path == "" {
				return "", fmt.Errorf("usage: cat <file>")
			}
			return deps.Files.Read(path)
		}
		l.register("dir", "List a directory (dir [path])", list)
		l.register("ls", "List a directory (ls [path])", list)
		l.register("cat", "Show a file (cat <file>)", read)
		l.register("type", "Show a file (type <file>)", read)
	}
	if deps.Info != nil {
		l.register("sysinfo", "Detailed system information", func(ctx context.Context, _ string) (string, error) {
			raw, err := json.MarshalIndent(deps.Info.Snapshot(ctx), "", "  ")
			if err != nil {
				return "", err
			}
			return string(raw), nil
		})
	}
	if deps.Diag != nil {
		l.register("netdiag", "Network diagnostics (also: diagnose network)", func(ctx context.Context, _ string) (string, error) {
			report := deps.Diag.Run(ctx)
			raw, err := json.Marshal(report)
			if err != nil {
				return "", err
			}
			return string(raw), nil
		})
	}
	return l
}

func (l *Library) register(name, help string, fn BuiltinFunc) {
	l.builtins[name] = builtin{run: fn, help: help}
}

func (l *Library) bind(e *Executor) { l.exec = e }

// Names lists every builtin and alias name, sorted.
func (l *Library) Names() []string {
	names := make([]string, 0, len(l.builtins)+len(l.aliases))
	for name := range l.builtins {
		names = append(names, name)
	}
	for name := range l.aliases {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Help renders one line per library command.
func (l *Library) Help() string {
	var b strings.Builder
	b.WriteString("Available library commands:\n")
	for _, name := range l.Names() {
		if bi, ok := l.builtins[name]; ok {
			fmt.Fprintf(&b, "- %s: %s\n", name, bi.help)
			continue
		}
		fmt.Fprintf(&b, "- %s: runs %q (cached)\n", name, l.aliases[name])
	}
	return b.String()
}

// Run executes text if it names a library command. ok is false when the
// command is not part of the library and should go to the shell.
func (l *Library) Run(ctx context.Context, text string) (domain.Outcome, bool) {
	text = strings.TrimSpace(text)

	if strings.HasPrefix(text, "{") && strings.HasSuffix(text, "}") {
		var call jsonCall
		if err := json.Unmarshal([]byte(text), &call); err != nil {
			return domain.Outcome{Status: domain.StatusFailed, Output: fmt.Sprintf("Error: malformed JSON command: %v", err)}, true
		}
		name := strings.ToLower(strings.TrimSpace(call.Command))
		if name == "" {
			return domain.Outcome{Status: domain.StatusFailed, Output: "Error: JSON command is missing \"command\""}, true
		}
		if outcome, ok := l.call(ctx, name, strings.TrimSpace(call.Args)); ok {
			return outcome, true
		}
		return domain.Outcome{Status: domain.StatusFailed, Output: fmt.Sprintf("Error: unknown library command: %s", name)}, true
	}

	if name, ok := l.phrases[strings.ToLower(text)]; ok {
		return l.call(ctx, name, "")
	}

	name, args, _ := strings.Cut(text, " ")
	return l.call(ctx, strings.ToLower(name), strings.TrimSpace(args))
}

func (l *Library) call(ctx context.Context, name, args string) (domain.Outcome, bool) {
	if bi, ok := l.builtins[name]; ok {
		ctx, cancel := context.WithTimeout(ctx, l.timeout)
		defer cancel()
		started := time.Now()
		out, err := bi.run(ctx, args)
		if err != nil {
			return domain.Outcome{
				Status:   domain.StatusFailed,
				Output:   fmt.Sprintf("Error: %s failed: %v", name, err),
				Duration: time.Since(started),
			}, true
		}
		return l.finish(out, time.Since(started)), true
	}

	shellCmd, ok := l.aliases[name]
	if !ok {
		return domain.Outcome{}, false
	}
	if args != "" {
		shellCmd += " " + args
	}
	if l.cache != nil {
		if entry, hit := l.cache.Get(cacheKey(shellCmd)); hit {
			return domain.Outcome{Status: domain.StatusSucceeded, Output: entry.Output}, true
		}
	}
	if l.exec == nil {
		return domain.Outcome{Status: domain.StatusFailed, Output: "Error: library is not bound to an executor"}, true
	}
	outcome := l.exec.run(ctx, shellArgs(l.exec.shell, shellCmd), "", l.timeout)
	if outcome.OK() && l.cache != nil {
		l.cache.Set(domain.CacheEntry{Key: cacheKey(shellCmd), Output: outcome.Output, CreatedAt: l.now()})
	}
	return outcome, true
}

func (l *Library) finish(out string, d time.Duration) domain.Outcome {
	if out == "" {
		out = noOutputMessage
	}
	max := domain.DefaultMaxOutputChars
	if l.exec != nil {
		max = l.exec.maxOutput
	}
	output, cut := textenc.Truncate(out, max, domain.TruncationMarker)
	return domain.Outcome{Status: domain.StatusSucceeded, Output: output, Duration: d, Truncated: cut}
}

func cacheKey(shellCmd string) string {
	host, _ := os.Hostname()
	return shellCmd + "__" + host
}

func platformAliases() map[string]string {
	if runtime.GOOS == "windows" {
		return map[string]string{
			"processes":   "tasklist",
			"network":     "netstat -ano",
			"open_ports":  "netstat -an",
			"diskspace":   "wmic logicaldisk get caption,freespace,size",
			"system_info": "systeminfo",
		}
	}
	return map[string]string{
		"processes":   "ps aux",
		"network":     "netstat -an",
		"open_ports":  "netstat -tln",
		"diskspace":   "df -h",
		"system_info": "uname -a",
	}
}
