package security

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/doeshing/cmdrelay/assets"
	"github.com/doeshing/cmdrelay/internal/domain"
	"github.com/doeshing/cmdrelay/internal/pkg/filesystem"
	"github.com/doeshing/cmdrelay/internal/ports"
)

// DefaultMaxCommandLength rejects oversized CMD: payloads when the rules file does not set one.
const DefaultMaxCommandLength = 500

// Guardrail implements the SecurityService port.
type Guardrail struct {
	path    string
	enabled bool

	mu        sync.RWMutex
	patterns  []compiledPattern
	maxLength int
}

type compiledPattern struct {
	re   *regexp.Regexp
	rule DangerPattern
}

// DangerPattern describes a regex-based guardrail rule.
type DangerPattern struct {
	Pattern string `yaml:"pattern"`
	Level   string `yaml:"level"`
	Message string `yaml:"message"`
	Action  string `yaml:"action"`
}

// RulesFile is the YAML schema root.
type RulesFile struct {
	Rules struct {
		MaxCommandLength int             `yaml:"max_command_length"`
		DangerPatterns   []DangerPattern `yaml:"danger_patterns"`
	} `yaml:"rules"`
}

// NewGuardrail loads guardrail rules from path, or the embedded defaults when
// path is empty or missing.
func NewGuardrail(path string) (*Guardrail, error) {
	g := &Guardrail{path: expandPath(path), enabled: true}
	if err := g.Reload(); err != nil {
		return nil, err
	}
	return g, nil
}

// NewFromSettings builds a guardrail for the security config section.
func NewFromSettings(cfg domain.SecuritySettings) (*Guardrail, error) {
	g, err := NewGuardrail(cfg.RulesFile)
	if err != nil {
		return nil, err
	}
	g.enabled = cfg.Enabled
	return g, nil
}

// Path returns the rules file backing this guardrail, if any.
func (g *Guardrail) Path() string { return g.path }

// Reload re-reads and recompiles the rules. On error the previous rules stay active.
func (g *Guardrail) Reload() error {
	rules, err := loadRules(g.path)
	if err != nil {
		return err
	}
	compiled, err := compile(rules.Rules.DangerPatterns)
	if err != nil {
		return err
	}
	maxLength := rules.Rules.MaxCommandLength
	if maxLength <= 0 {
		maxLength = DefaultMaxCommandLength
	}

	g.mu.Lock()
	g.patterns = compiled
	g.maxLength = maxLength
	g.mu.Unlock()
	return nil
}

// RuleCount returns the number of active danger patterns.
func (g *Guardrail) RuleCount() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.patterns)
}

// Evaluate implements ports.SecurityService.
func (g *Guardrail) Evaluate(command string) (domain.RiskAssessment, error) {
	if g == nil {
		return domain.RiskAssessment{}, errors.New("guardrail nil")
	}
	assessment := domain.RiskAssessment{
		Level:  domain.RiskSafe,
		Action: domain.ActionAllow,
	}
	if !g.enabled {
		return assessment, nil
	}

	g.mu.RLock()
	patterns := g.patterns
	maxLength := g.maxLength
	g.mu.RUnlock()

	if n := len([]rune(command)); n > maxLength {
		assessment.Level = domain.RiskHigh
		assessment.Action = domain.ActionBlock
		assessment.Reasons = append(assessment.Reasons, fmt.Sprintf("Command too long (%d > %d characters)", n, maxLength))
		assessment.MatchedRules = append(assessment.MatchedRules, "max_command_length")
	}

	highest := assessment.Level
	for _, pattern := range patterns {
		if !pattern.re.MatchString(command) {
			continue
		}
		ruleLevel := parseRiskLevel(pattern.rule.Level)
		action := parseAction(pattern.rule.Action, ruleLevel)
		if moreSevere(ruleLevel, highest) {
			highest = ruleLevel
			assessment.Level = ruleLevel
		}
		if moreRestrictive(action, assessment.Action) {
			assessment.Action = action
		}
		assessment.Reasons = append(assessment.Reasons, pattern.rule.Message)
		assessment.MatchedRules = append(assessment.MatchedRules, pattern.rule.Pattern)
	}
	return assessment, nil
}

// EvaluatePath rejects paths with parent traversal or home references.
// It is enforced even when pattern checks are disabled.
func (g *Guardrail) EvaluatePath(path string) error {
	return CheckPath(path)
}

// CheckPath is the stateless form of EvaluatePath.
func CheckPath(path string) error {
	if strings.Contains(path, "..") || strings.Contains(path, "~") {
		return fmt.Errorf("%w: %s", domain.ErrPathTraversal, path)
	}
	return nil
}

func compile(patterns []DangerPattern) ([]compiledPattern, error) {
	compiled := make([]compiledPattern, 0, len(patterns))
	for _, pattern := range patterns {
		re, err := regexp.Compile(pattern.Pattern)
		if err != nil {
			return nil, fmt.Errorf("compile guardrail pattern %q: %w", pattern.Pattern, err)
		}
		compiled = append(compiled, compiledPattern{re: re, rule: pattern})
	}
	return compiled, nil
}

func loadRules(path string) (RulesFile, error) {
	var rules RulesFile
	data, err := os.ReadFile(path)
	if err != nil || path == "" {
		// fall back to defaults
		return DefaultRules()
	}
	if err := yaml.Unmarshal(data, &rules); err != nil {
		return RulesFile{}, fmt.Errorf("parse guardrail rules %s: %w", path, err)
	}
	if len(rules.Rules.DangerPatterns) == 0 {
		defaults, err := DefaultRules()
		if err != nil {
			return RulesFile{}, err
		}
		rules.Rules.DangerPatterns = defaults.Rules.DangerPatterns
	}
	return rules, nil
}

// DefaultRules parses the embedded rule set.
func DefaultRules() (RulesFile, error) {
	var rules RulesFile
	if err := yaml.Unmarshal(assets.DefaultGuardrailYAML, &rules); err != nil {
		return RulesFile{}, fmt.Errorf("parse embedded guardrail rules: %w", err)
	}
	return rules, nil
}

func parseRiskLevel(value string) domain.RiskLevel {
	switch strings.ToLower(value) {
	case "low":
		return domain.RiskLow
	case "medium":
		return domain.RiskMedium
	case "high":
		return domain.RiskHigh
	case "critical":
		return domain.RiskCritical
	default:
		return domain.RiskSafe
	}
}

func parseAction(value string, fallback domain.RiskLevel) domain.GuardrailAction {
	switch strings.ToLower(value) {
	case "allow":
		return domain.ActionAllow
	case "warn":
		return domain.ActionWarn
	case "block":
		return domain.ActionBlock
	default:
		if fallback == domain.RiskSafe {
			return domain.ActionAllow
		}
		if fallback == domain.RiskCritical {
			return domain.ActionBlock
		}
		return domain.ActionWarn
	}
}

func moreSevere(next domain.RiskLevel, current domain.RiskLevel) bool {
	order := map[domain.RiskLevel]int{
		domain.RiskSafe:     0,
		domain.RiskLow:      1,
		domain.RiskMedium:   2,
		domain.RiskHigh:     3,
		domain.RiskCritical: 4,
	}
	return order[next] > order[current]
}

func moreRestrictive(next, current domain.GuardrailAction) bool {
	order := map[domain.GuardrailAction]int{
		domain.ActionAllow: 0,
		domain.ActionWarn:  1,
		domain.ActionBlock: 2,
	}
	return order[next] > order[current]
}

func expandPath(path string) string {
	if path == "" {
		return ""
	}
	if filepath.IsAbs(path) {
		return path
	}
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(filesystem.UserHomeDir(), path[2:])
	}
	return filepath.Join(filesystem.UserHomeDir(), path)
}

var _ ports.SecurityService = (*Guardrail)(nil)
