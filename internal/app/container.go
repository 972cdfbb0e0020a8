package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"

	"github.com/doeshing/cmdrelay/internal/application/dispatch"
	"github.com/doeshing/cmdrelay/internal/application/doctor"
	"github.com/doeshing/cmdrelay/internal/application/ledger"
	"github.com/doeshing/cmdrelay/internal/domain"
	"github.com/doeshing/cmdrelay/internal/infrastructure/cache"
	"github.com/doeshing/cmdrelay/internal/infrastructure/config"
	"github.com/doeshing/cmdrelay/internal/infrastructure/executor"
	"github.com/doeshing/cmdrelay/internal/infrastructure/fileops"
	"github.com/doeshing/cmdrelay/internal/infrastructure/history"
	"github.com/doeshing/cmdrelay/internal/infrastructure/security"
	"github.com/doeshing/cmdrelay/internal/infrastructure/server"
	"github.com/doeshing/cmdrelay/internal/infrastructure/sysinfo"
	"github.com/doeshing/cmdrelay/internal/pkg/logger"
	"github.com/doeshing/cmdrelay/internal/ports"
)

// Options selects the config file and log verbosity.
type Options struct {
	ConfigPath string
	Verbose    bool
}

// Container wires up application services with infrastructure adapters.
type Container struct {
	Config         domain.Config
	ConfigProvider ports.ConfigProvider
	ConfigLoader   *config.FileLoader
	Logger         *logger.ZapLogger
	Guardrail      *security.Guardrail
	Executor       *executor.Executor
	Ledger         *ledger.Ledger
	Dispatcher     *dispatch.Service
	DoctorService  *doctor.Service
	// Journal is nil when journal.enabled is false.
	Journal *history.SQLiteJournal
	// HistoryStore is nil when ledger.persist_file is empty.
	HistoryStore ports.HistoryRepository
}

// BuildContainer constructs the dependency graph.
func BuildContainer(ctx context.Context, opts Options) (*Container, error) {
	cfgLoader := config.NewFileLoader(opts.ConfigPath)
	cfg, err := cfgLoader.Load(ctx)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(logger.OptionsFromConfig(cfg.Logging, opts.Verbose))
	if err != nil {
		return nil, err
	}

	guardrail, err := security.NewFromSettings(cfg.Security)
	if err != nil {
		log.Warn("guardrail rules unusable, falling back to embedded defaults", map[string]interface{}{
			"rules_file": cfg.Security.RulesFile,
			"error":      err.Error(),
		})
		guardrail, err = security.NewFromSettings(domain.SecuritySettings{Enabled: cfg.Security.Enabled})
		if err != nil {
			return nil, err
		}
	}

	files := fileops.NewService(cfg.Files, guardrail)
	collector := sysinfo.NewCollector()
	library := executor.NewLibrary(executor.LibraryDeps{
		Files:   files,
		Info:    collector,
		Diag:    executor.NewDiagnoser(cfg.Diagnostics),
		Cache:   cache.NewMemoryCache(cfg.Executor.CacheTTL, cfg.GetCacheMaxEntries()),
		Timeout: cfg.Executor.LibraryTimeout,
	})
	exec := executor.New(cfg, guardrail,
		executor.WithLibrary(library),
		executor.WithLogger(log),
	)

	ledgerOpts := []ledger.Option{ledger.WithLogger(log)}
	var journal *history.SQLiteJournal
	if cfg.IsJournalEnabled() {
		journal, err = history.OpenSQLiteJournal(cfg.Journal.Path)
		if err != nil {
			return nil, fmt.Errorf("open journal: %w", err)
		}
		ledgerOpts = append(ledgerOpts, ledger.WithJournal(journal))
	}
	l := ledger.New(cfg.Ledger, ledgerOpts...)

	var store ports.HistoryRepository
	if cfg.Ledger.PersistFile != "" {
		store = history.NewFileStore(cfg.Ledger.PersistFile)
	}

	doctorService := &doctor.Service{
		ConfigProvider: cfgLoader,
		Security:       guardrail,
		SystemInfo:     collector,
	}

	return &Container{
		Config:         cfg,
		ConfigProvider: cfgLoader,
		ConfigLoader:   cfgLoader,
		Logger:         log,
		Guardrail:      guardrail,
		Executor:       exec,
		Ledger:         l,
		Dispatcher:     dispatch.NewService(cfg, exec, l, files, collector, log),
		DoctorService:  doctorService,
		Journal:        journal,
		HistoryStore:   store,
	}, nil
}

// NewServer builds a protocol server, overriding the configured host and port
// when host is non-empty or port is positive.
func (c *Container) NewServer(host string, port int) *server.Server {
	cfg := c.Config
	if host != "" {
		cfg.Server.Host = host
	}
	if port > 0 {
		cfg.Server.Port = port
	}
	return server.New(cfg, c.Dispatcher, c.Logger)
}

// ClientAddress is the host:port a local client should dial.
func (c *Container) ClientAddress(host string, port int) string {
	if host == "" {
		host = c.Config.Server.Host
	}
	if port <= 0 {
		port = c.Config.GetPort()
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}

// Close releases the journal and flushes the logger.
func (c *Container) Close() error {
	var errs []error
	if c.Journal != nil {
		errs = append(errs, c.Journal.Close())
	}
	if c.Logger != nil {
		// stderr sync fails on some terminals; nothing to report
		_ = c.Logger.Sync()
	}
	return errors.Join(errs...)
}
