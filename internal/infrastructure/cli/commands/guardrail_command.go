package commands

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/doeshing/cmdrelay/internal/app"
	"github.com/doeshing/cmdrelay/internal/infrastructure/cli/helpers"
)

// NewGuardrailCommand creates the guardrail command with its subcommands
func NewGuardrailCommand(container *app.Container) *cobra.Command {
	guardrailCmd := &cobra.Command{
		Use:   "guardrail",
		Short: "Manage the command deny-list",
	}

	guardrailCmd.AddCommand(
		newGuardrailEnableCommand(container),
		newGuardrailDisableCommand(container),
		newGuardrailStatusCommand(container),
		newGuardrailCheckCommand(container),
	)

	return guardrailCmd
}

func newGuardrailEnableCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "enable",
		Short: "Enable the deny-list",
		RunE: func(cmd *cobra.Command, args []string) error {
			return setGuardrailState(cmd.Context(), cmd.OutOrStdout(), container, true)
		},
	}
}

func newGuardrailDisableCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "disable",
		Short: "Disable the deny-list (not recommended)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return setGuardrailState(cmd.Context(), cmd.OutOrStdout(), container, false)
		},
	}
}

func newGuardrailStatusCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show guardrail status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showGuardrailStatus(cmd.OutOrStdout(), container)
		},
	}
}

func newGuardrailCheckCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "check <command...>",
		Short: "Evaluate a shell command against the rules without running it",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return checkCommand(cmd.OutOrStdout(), container, strings.Join(args, " "))
		},
	}
}

// setGuardrailState enables or disables guardrails in the config file
func setGuardrailState(ctx context.Context, out io.Writer, container *app.Container, enabled bool) error {
	cfg, err := container.ConfigProvider.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	cfg.Security.Enabled = enabled

	if err := helpers.SaveConfigWithValidation(container, cfg); err != nil {
		return err
	}

	fmt.Fprintf(out, "Guardrails %s. Restart the server to apply.\n", enabledLabel(enabled))
	return nil
}

// showGuardrailStatus displays the current guardrail status
func showGuardrailStatus(out io.Writer, container *app.Container) error {
	cfg := container.Config
	fmt.Fprintf(out, "Guardrails are currently %s.\n", enabledLabel(cfg.Security.Enabled))
	if container.Guardrail == nil {
		return nil
	}
	rules := container.Guardrail.Path()
	if rules == "" {
		rules = "(embedded defaults)"
	}
	fmt.Fprintf(out, "Rules file: %s\nPatterns: %d\nHot reload: %s\n",
		rules,
		container.Guardrail.RuleCount(),
		enabledLabel(cfg.Security.WatchRules))
	return nil
}

func checkCommand(out io.Writer, container *app.Container, command string) error {
	if container.Guardrail == nil {
		return fmt.Errorf("guardrail unavailable")
	}
	assessment, err := container.Guardrail.Evaluate(command)
	if err != nil {
		return fmt.Errorf("failed to evaluate command: %w", err)
	}

	fmt.Fprintf(out, "Level: %s\nAction: %s\n", assessment.Level, assessment.Action)
	for _, reason := range assessment.Reasons {
		fmt.Fprintf(out, "  - %s\n", reason)
	}
	if assessment.Blocked() {
		fmt.Fprintln(out, "Verdict: blocked")
		return nil
	}
	fmt.Fprintln(out, "Verdict: allowed")
	return nil
}

func enabledLabel(enabled bool) string {
	if enabled {
		return "enabled"
	}
	return "disabled"
}
