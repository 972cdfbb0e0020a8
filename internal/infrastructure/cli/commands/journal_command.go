package commands

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/doeshing/cmdrelay/internal/app"
	"github.com/doeshing/cmdrelay/internal/domain"
	"github.com/doeshing/cmdrelay/internal/infrastructure/cli/helpers"
	"github.com/doeshing/cmdrelay/internal/infrastructure/history"
)

// NewJournalCommand creates the journal command with all subcommands
func NewJournalCommand(container *app.Container) *cobra.Command {
	journalCmd := &cobra.Command{
		Use:   "journal",
		Short: "Inspect the command journal",
	}

	journalCmd.AddCommand(
		newJournalListCommand(container),
		newJournalSearchCommand(container),
		newJournalStatsCommand(container),
		newJournalClearCommand(container),
		newJournalExportCommand(container),
		newJournalRetainCommand(container),
	)

	return journalCmd
}

func newJournalListCommand(container *app.Container) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recent journal entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return listJournalEntries(cmd.Context(), cmd.OutOrStdout(), container, limit, "")
		},
	}

	cmd.Flags().IntVar(&limit, "limit", domain.DefaultHistoryLimit, "Max entries to show")
	return cmd
}

func newJournalSearchCommand(container *app.Container) *cobra.Command {
	var (
		query string
		limit int
	)

	cmd := &cobra.Command{
		Use:   "search",
		Short: "Search the journal for a keyword in commands or responses",
		RunE: func(cmd *cobra.Command, args []string) error {
			if query == "" {
				return fmt.Errorf(ErrQueryRequired)
			}
			return listJournalEntries(cmd.Context(), cmd.OutOrStdout(), container, limit, query)
		},
	}

	cmd.Flags().StringVar(&query, "query", "", "Search keyword")
	cmd.Flags().IntVar(&limit, "limit", domain.DefaultHistorySearchLimit, "Limit search results")
	return cmd
}

func newJournalStatsCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show success rate, categories and top commands",
		RunE: func(cmd *cobra.Command, args []string) error {
			return showJournalStats(cmd.Context(), cmd.OutOrStdout(), container)
		},
	}
}

func newJournalClearCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every journal entry",
		RunE: func(cmd *cobra.Command, args []string) error {
			journal, err := requireJournal(container)
			if err != nil {
				return err
			}
			if err := journal.Clear(cmd.Context()); err != nil {
				return fmt.Errorf("failed to clear journal: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Journal cleared.")
			return nil
		},
	}
}

func newJournalExportCommand(container *app.Container) *cobra.Command {
	return &cobra.Command{
		Use:   "export <path>",
		Short: "Export the journal to a JSONL file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			journal, err := requireJournal(container)
			if err != nil {
				return err
			}
			n, err := journal.ExportJSON(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("failed to export journal to %s: %w", args[0], err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported %d entries to %s\n", n, args[0])
			return nil
		},
	}
}

func newJournalRetainCommand(container *app.Container) *cobra.Command {
	var retainDays int

	cmd := &cobra.Command{
		Use:   "retain",
		Short: "Prune entries older than N days and update the retention policy",
		RunE: func(cmd *cobra.Command, args []string) error {
			if retainDays <= 0 {
				return fmt.Errorf(ErrInvalidRetainDays)
			}
			return updateJournalRetention(cmd.Context(), cmd.OutOrStdout(), container, retainDays)
		},
	}

	cmd.Flags().IntVar(&retainDays, "days", domain.DefaultHistoryRetainDays, "Days to retain journal entries")
	return cmd
}

func requireJournal(container *app.Container) (*history.SQLiteJournal, error) {
	if container.Journal == nil {
		return nil, fmt.Errorf(ErrJournalDisabled)
	}
	return container.Journal, nil
}

// listJournalEntries prints one line per record, newest first
func listJournalEntries(ctx context.Context, out io.Writer, container *app.Container, limit int, query string) error {
	journal, err := requireJournal(container)
	if err != nil {
		return err
	}

	records, err := journal.Records(ctx, limit, query)
	if err != nil {
		return fmt.Errorf("failed to retrieve journal records: %w", err)
	}
	if len(records) == 0 {
		fmt.Fprintln(out, MsgNoJournalRecorded)
		return nil
	}

	for _, rec := range records {
		fmt.Fprintf(out, "%s (%s) | %s | %s | %s\n",
			rec.Timestamp.Local().Format(TimestampFormat),
			humanize.Time(rec.Timestamp),
			statusLabel(rec.Success),
			rec.Category,
			rec.Command)
	}
	return nil
}

// showJournalStats displays totals, category distribution and top commands
func showJournalStats(ctx context.Context, out io.Writer, container *app.Container) error {
	journal, err := requireJournal(container)
	if err != nil {
		return err
	}

	stats, err := journal.Stats(ctx)
	if err != nil {
		return fmt.Errorf("failed to compute journal stats: %w", err)
	}
	if stats.Total == 0 {
		fmt.Fprintln(out, MsgNoJournalRecorded)
		return nil
	}

	records, err := journal.Records(ctx, domain.MaxHistoryAnalysisRecords, "")
	if err != nil {
		return fmt.Errorf("failed to retrieve journal for analysis: %w", err)
	}

	displayJournalStatistics(out, stats, records)
	return nil
}

func displayJournalStatistics(out io.Writer, stats history.JournalStats, records []domain.JournalRecord) {
	fmt.Fprintf(out, "Entries: %s\nSucceeded: %d\nFailed: %d\nSuccess rate: %.1f%%\n",
		humanize.Comma(int64(stats.Total)),
		stats.Succeeded,
		stats.Failed,
		helpers.CalculateSuccessRate(stats.Succeeded, stats.Total))

	if !stats.Oldest.IsZero() {
		fmt.Fprintf(out, "Oldest: %s\nNewest: %s\n",
			humanize.Time(stats.Oldest),
			humanize.Time(stats.Newest))
	}

	fmt.Fprintln(out, "Categories:")
	categories := make([]string, 0, len(stats.ByCategory))
	for category := range stats.ByCategory {
		categories = append(categories, string(category))
	}
	sort.Strings(categories)
	for _, category := range categories {
		fmt.Fprintf(out, "  %s: %d\n", category, stats.ByCategory[domain.Category(category)])
	}

	commandFreq := make(map[string]int)
	for _, rec := range records {
		commandFreq[rec.Command]++
	}
	fmt.Fprintln(out, "Top commands:")
	for _, stat := range helpers.CalculateTopCommands(commandFreq, 5) {
		fmt.Fprintf(out, "  %s (%d)\n", helpers.Shorten(stat.Command, 60), stat.Count)
	}
}

// updateJournalRetention prunes old entries and persists the new retention policy
func updateJournalRetention(ctx context.Context, out io.Writer, container *app.Container, days int) error {
	journal, err := requireJournal(container)
	if err != nil {
		return err
	}

	removed, err := journal.PruneOlderThan(ctx, time.Now().AddDate(0, 0, -days))
	if err != nil {
		return fmt.Errorf("failed to prune journal: %w", err)
	}

	cfg, err := container.ConfigProvider.Load(ctx)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	cfg.Journal.RetainDays = days
	if err := helpers.SaveConfigWithValidation(container, cfg); err != nil {
		return err
	}

	fmt.Fprintf(out, "Removed %d entries. Retaining last %d days of journal.\n", removed, days)
	return nil
}

func statusLabel(success bool) string {
	if success {
		return "OK"
	}
	return "FAIL"
}
