package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/doeshing/cmdrelay/internal/app"
	configapp "github.com/doeshing/cmdrelay/internal/application/config"
	"github.com/doeshing/cmdrelay/internal/application/ledger"
	"github.com/doeshing/cmdrelay/internal/infrastructure/security"
)

// NewServeCommand creates the serve command
func NewServeCommand(container *app.Container) *cobra.Command {
	var (
		host string
		port int
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the WebSocket command server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runServer(ctx, cmd.OutOrStdout(), container, host, port)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "Listen host (default from config)")
	cmd.Flags().IntVar(&port, "port", 0, "Listen port (default from config)")
	return cmd
}

// runServer serves until ctx is cancelled. The ledger snapshot is imported
// before the listener opens and exported after it has drained.
func runServer(ctx context.Context, out io.Writer, container *app.Container, host string, port int) error {
	cfg := container.Config
	log := container.Logger

	if err := configapp.Validate(cfg); err != nil {
		return fmt.Errorf("configuration validation failed: %w", err)
	}

	if container.HistoryStore != nil {
		if err := container.Ledger.Import(container.HistoryStore); err != nil {
			log.Warn("starting with empty history", map[string]interface{}{"error": err.Error()})
		}
	}
	pruneJournal(ctx, container)

	srv := container.NewServer(host, port)
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return srv.ListenAndServe(gctx)
	})

	if cfg.Security.WatchRules {
		watcher, err := security.NewRuleWatcher(container.Guardrail, log)
		if err != nil {
			log.Warn("guardrail hot reload disabled", map[string]interface{}{"error": err.Error()})
		} else {
			g.Go(func() error {
				watcher.Run(gctx)
				return nil
			})
		}
	}

	if cfg.IsRetryWorkerEnabled() {
		worker := &ledger.RetryWorker{
			Ledger:   container.Ledger,
			Retry:    container.Dispatcher.Retry,
			Interval: cfg.Ledger.RetryInterval,
			Logger:   log,
		}
		g.Go(func() error {
			worker.Run(gctx)
			return nil
		})
	}

	g.Go(func() error {
		select {
		case <-srv.Ready():
			fmt.Fprintf(out, "cmdrelay listening on ws://%s\n", srv.Addr())
		case <-gctx.Done():
		}
		return nil
	})

	err := g.Wait()

	if container.HistoryStore != nil {
		if exportErr := container.Ledger.Export(container.HistoryStore); exportErr != nil && err == nil {
			err = exportErr
		}
	}
	return err
}

func pruneJournal(ctx context.Context, container *app.Container) {
	if container.Journal == nil || container.Config.Journal.RetainDays <= 0 {
		return
	}
	cutoff := time.Now().AddDate(0, 0, -container.Config.Journal.RetainDays)
	removed, err := container.Journal.PruneOlderThan(ctx, cutoff)
	if err != nil {
		container.Logger.Warn("journal prune failed", map[string]interface{}{"error": err.Error()})
		return
	}
	if removed > 0 {
		container.Logger.Info("journal pruned", map[string]interface{}{
			"removed":     removed,
			"retain_days": container.Config.Journal.RetainDays,
		})
	}
}
