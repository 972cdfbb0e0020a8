package doctor

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/doeshing/cmdrelay/internal/domain"
	"github.com/doeshing/cmdrelay/internal/ports"
)

// Service runs environment diagnostics.
type Service struct {
	ConfigProvider ports.ConfigProvider
	Security       ports.SecurityService
	SystemInfo     ports.SystemInfoCollector

	// LookPath resolves executables; defaults to exec.LookPath.
	LookPath func(string) (string, error)
	// Listen probes the listen address; defaults to net.Listen.
	Listen func(network, address string) (net.Listener, error)
}

// Run executes checks and returns a report.
func (s *Service) Run(ctx context.Context) (domain.HealthReport, error) {
	var checks []domain.HealthCheck

	cfg, err := s.ConfigProvider.Load(ctx)
	if err != nil {
		checks = append(checks, fail("Config file", fmt.Sprintf("load failed: %v", err)))
		return domain.HealthReport{Checks: checks}, err
	}
	checks = append(checks, ok("Config file", fmt.Sprintf("loaded format %s", cfg.ConfigFormatVersion)))

	if s.Security != nil {
		if _, err := s.Security.Evaluate("ls"); err != nil {
			checks = append(checks, fail("Guardrail", err.Error()))
		} else if cfg.IsSecurityEnabled() {
			checks = append(checks, ok("Guardrail", "rules loaded"))
		} else {
			checks = append(checks, warn("Guardrail", "pattern checks disabled in config"))
		}
	} else {
		checks = append(checks, warn("Guardrail", "security service not initialized"))
	}

	checks = append(checks, s.executableCheck("Shell", cfg.GetExecutionShell()))
	if interp := cfg.GetInterpreter(); len(interp) > 0 {
		checks = append(checks, s.executableCheck("Interpreter", interp[0]))
	}

	if s.SystemInfo != nil {
		snapshot := s.SystemInfo.Snapshot(ctx)
		checks = append(checks, ok("System info", fmt.Sprintf("%s/%s, tools: %s", snapshot.OS, snapshot.Arch, strings.Join(snapshot.Tools, ", "))))
	}

	checks = append(checks, journalCheck(cfg))
	checks = append(checks, s.listenCheck(cfg))

	return domain.HealthReport{Checks: checks}, nil
}

func (s *Service) executableCheck(name, program string) domain.HealthCheck {
	if program == "" || program == "auto" {
		program = os.Getenv("SHELL")
		if program == "" {
			program = "/bin/sh"
		}
	}
	lookPath := s.LookPath
	if lookPath == nil {
		lookPath = exec.LookPath
	}
	path, err := lookPath(program)
	if err != nil {
		return fail(name, fmt.Sprintf("%s not found: %v", program, err))
	}
	return ok(name, path)
}

func journalCheck(cfg domain.Config) domain.HealthCheck {
	if !cfg.IsJournalEnabled() {
		return warn("Journal", "disabled")
	}
	dir := filepath.Dir(cfg.Journal.Path)
	if err := os.MkdirAll(dir, domain.DirectoryPermissions); err != nil {
		return fail("Journal", fmt.Sprintf("cannot create %s: %v", dir, err))
	}
	probe, err := os.CreateTemp(dir, ".doctor-*")
	if err != nil {
		return fail("Journal", fmt.Sprintf("%s is not writable: %v", dir, err))
	}
	name := probe.Name()
	_ = probe.Close()
	_ = os.Remove(name)
	return ok("Journal", cfg.Journal.Path)
}

func (s *Service) listenCheck(cfg domain.Config) domain.HealthCheck {
	listen := s.Listen
	if listen == nil {
		listen = net.Listen
	}
	addr := cfg.ListenAddress()
	ln, err := listen("tcp", addr)
	if err != nil {
		return warn("Listen address", fmt.Sprintf("%s unavailable (fallback ports will be scanned): %v", addr, err))
	}
	_ = ln.Close()
	return ok("Listen address", addr)
}

func ok(name, details string) domain.HealthCheck {
	return domain.HealthCheck{Name: name, Status: domain.HealthOK, Details: details}
}

func warn(name, details string) domain.HealthCheck {
	return domain.HealthCheck{Name: name, Status: domain.HealthWarn, Details: details}
}

func fail(name, details string) domain.HealthCheck {
	return domain.HealthCheck{Name: name, Status: domain.HealthError, Details: details}
}
