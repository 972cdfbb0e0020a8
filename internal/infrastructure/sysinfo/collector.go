// Package sysinfo builds the host snapshot returned for INFO: requests.
package sysinfo

import (
	"context"
	"os"
	"os/exec"
	"os/user"
	"path/filepath"
	"runtime"
	"sort"
	"strings"
	"time"

	"github.com/doeshing/cmdrelay/internal/domain"
	"github.com/doeshing/cmdrelay/internal/ports"
)

// Collector implements ports.SystemInfoCollector with runtime data and tool detection.
type Collector struct {
	toolsToCheck []string
	now          func() time.Time
	hostname     func() (string, error)
}

// NewCollector returns a Collector probing the usual developer tools on PATH.
func NewCollector() *Collector {
	return &Collector{
		toolsToCheck: []string{"python3", "python", "git", "go", "node", "docker", "make", "netstat", "ps", "df"},
		now:          time.Now,
		hostname:     os.Hostname,
	}
}

// Snapshot gathers the current host facts. It never fails; missing facts are left empty.
func (c *Collector) Snapshot(ctx context.Context) domain.SystemSnapshot {
	host, err := c.hostname()
	if err != nil {
		host = "unknown"
	}
	wd, _ := os.Getwd()

	return domain.SystemSnapshot{
		Host:      host,
		OS:        runtime.GOOS,
		Arch:      runtime.GOARCH,
		Runtime:   runtime.Version(),
		Timestamp: c.now().Format(domain.TimestampFormat),
		User:      currentUser(),
		WorkDir:   wd,
		Shell:     detectShell(),
		CPUs:      runtime.NumCPU(),
		Tools:     c.detectTools(ctx),
	}
}

func (c *Collector) detectTools(ctx context.Context) []string {
	var available []string
	for _, tool := range c.toolsToCheck {
		if ctx.Err() != nil {
			break
		}
		if _, err := exec.LookPath(tool); err == nil {
			available = append(available, tool)
		}
	}
	sort.Strings(available)
	return available
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	if name := os.Getenv("USER"); name != "" {
		return name
	}
	return os.Getenv("USERNAME")
}

func detectShell() string {
	if shell := os.Getenv("SHELL"); shell != "" {
		return filepath.Base(shell)
	}
	if comspec := os.Getenv("COMSPEC"); comspec != "" {
		return strings.ToLower(filepath.Base(comspec))
	}
	return "unknown"
}

var _ ports.SystemInfoCollector = (*Collector)(nil)
