package domain

import (
	"fmt"
	"net"
	"strconv"
)

// ListenAddress returns host:port for the configured listener.
func (c *Config) ListenAddress() string {
	return c.AddressForPort(c.GetPort())
}

// AddressForPort joins the configured host with an arbitrary port.
func (c *Config) AddressForPort(port int) string {
	host := c.Server.Host
	if host == "" {
		host = DefaultHost
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// GetPort returns the configured port or the default
func (c *Config) GetPort() int {
	if c.Server.Port <= 0 {
		return DefaultPort
	}
	return c.Server.Port
}

// FallbackPortRange returns the ports scanned after bind retries are exhausted,
// starting just above the configured port.
func (c *Config) FallbackPortRange() []int {
	count := c.Server.FallbackPorts
	if count <= 0 {
		return nil
	}
	base := c.GetPort()
	ports := make([]int, 0, count)
	for p := base + 1; p <= base+count && p <= 65535; p++ {
		ports = append(ports, p)
	}
	return ports
}

// IsSecurityEnabled checks if guardrail patterns are enforced
func (c *Config) IsSecurityEnabled() bool {
	return c.Security.Enabled
}

// IsJournalEnabled checks if recorded commands are appended to the journal
func (c *Config) IsJournalEnabled() bool {
	return c.Journal.Enabled
}

// GetExecutionShell returns the configured shell for command execution
// Returns the default shell if not configured
func (c *Config) GetExecutionShell() string {
	const defaultShell = "sh"

	if c.Executor.Shell == "" {
		return defaultShell
	}
	return c.Executor.Shell
}

// GetInterpreter returns the argv prefix used to run CODE: snippets.
func (c *Config) GetInterpreter() []string {
	if len(c.Executor.Interpreter) == 0 {
		return []string{"python3", "-X", "utf8"}
	}
	return c.Executor.Interpreter
}

// GetMaxOutputChars returns the output cap applied to executor results
func (c *Config) GetMaxOutputChars() int {
	if c.Executor.MaxOutputChars <= 0 {
		return DefaultMaxOutputChars
	}
	return c.Executor.MaxOutputChars
}

// GetCacheMaxEntries returns the maximum number of cache entries
func (c *Config) GetCacheMaxEntries() int {
	if c.Executor.CacheMaxEntries <= 0 {
		return DefaultMaxCacheEntries
	}
	return c.Executor.CacheMaxEntries
}

// GetHistoryRetentionDays returns the number of days to retain journal rows
func (c *Config) GetHistoryRetentionDays() int {
	if c.Journal.RetainDays <= 0 {
		return DefaultHistoryRetainDays
	}
	return c.Journal.RetainDays
}

// IsRetryWorkerEnabled reports whether failed commands are retried in the background.
func (c *Config) IsRetryWorkerEnabled() bool {
	return c.Ledger.RetryInterval > 0
}

// ValidateConsistency checks cross-section constraints.
func (c *Config) ValidateConsistency() error {
	if c.Ledger.MaxRetries > 0 && c.Ledger.MaxHistorySize == 0 {
		return fmt.Errorf("ledger.max_history_size must be set when retries are enabled")
	}
	if c.Security.WatchRules && c.Security.RulesFile == "" {
		return fmt.Errorf("security.watch_rules requires security.rules_file")
	}
	if c.Journal.Enabled && c.Journal.Path == "" {
		return fmt.Errorf("journal.enabled requires journal.path")
	}
	return nil
}
