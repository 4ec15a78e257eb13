package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/tinytelemetry/burrow/internal/applog"
	"github.com/tinytelemetry/burrow/internal/backup"
	"github.com/tinytelemetry/burrow/internal/buffer"
	"github.com/tinytelemetry/burrow/internal/duckdb"
	"github.com/tinytelemetry/burrow/internal/httpserver"
	"github.com/tinytelemetry/burrow/internal/ingest"
	"github.com/tinytelemetry/burrow/internal/journal"
	"github.com/tinytelemetry/burrow/internal/logstore"
	"github.com/tinytelemetry/burrow/internal/model"
	"github.com/tinytelemetry/burrow/internal/otlpserver"
	"github.com/tinytelemetry/burrow/internal/project"
	"github.com/tinytelemetry/burrow/internal/retention"
)

// runServer starts ingestion, the HTTP API and the background workers, and
// blocks until SIGINT or SIGTERM.
func runServer(cfg appConfig) error {
	cleanupLogger, err := configureLogger(cfg)
	if err != nil {
		return err
	}
	defer cleanupLogger()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store, err := duckdb.NewStore(cfg.DBPath, cfg.QueryTimeout)
	if err != nil {
		return fmt.Errorf("failed to initialize DuckDB: %w", err)
	}
	defer store.Close()

	logs := logstore.NewRepository(store)
	appLogs := applog.NewRepository(store)
	projects := project.NewService(project.NewRepository(store), project.WithCacheTTL(cfg.ProjectCacheTTL))
	if err := projects.RefreshCache(ctx); err != nil {
		log.Warn().Err(err).Msg("server: initial project cache load failed")
	}

	// Primary buffer, optionally journaled for crash-safe replay.
	var bufOpts []buffer.Option[model.LogEntry]
	if cfg.JournalEnabled {
		j, err := journal.Open[model.LogEntry](cfg.JournalPath)
		if err != nil {
			return fmt.Errorf("failed to open ingest journal: %w", err)
		}
		if err := replayJournal(ctx, j, logs, cfg.BatchSize); err != nil {
			_ = j.Close()
			return fmt.Errorf("failed to replay ingest journal: %w", err)
		}
		bufOpts = append(bufOpts, buffer.WithJournal[model.LogEntry](j))
	}
	logBuffer := buffer.New(logs.InsertBatch, buffer.Config{
		Name:          logs.Name(),
		BatchSize:     cfg.BatchSize,
		FlushInterval: cfg.FlushInterval,
	}, bufOpts...)
	defer logBuffer.Stop()

	appLogService := applog.NewService(appLogs, applog.Config{
		BatchSize:     cfg.AppLogBatchSize,
		FlushInterval: cfg.AppLogFlushInterval,
	})
	defer appLogService.Stop()

	cleaner := retention.New([]retention.Target{
		{Pruner: logs, Days: cfg.LogRetention},
		{Pruner: appLogs, Days: cfg.AppLogRetention},
	})
	if cleaner != nil {
		defer cleaner.Stop()
	}

	backupManager, err := backup.NewManager(store, backup.Config{
		Enabled:        cfg.BackupEnabled,
		Interval:       cfg.BackupInterval,
		LocalDir:       cfg.BackupLocalDir,
		KeepLast:       cfg.BackupKeepLast,
		BucketURL:      cfg.BackupBucketURL,
		S3Endpoint:     cfg.BackupS3Endpoint,
		S3Region:       cfg.BackupS3Region,
		S3AccessKey:    cfg.BackupS3AccessKey,
		S3SecretKey:    cfg.BackupS3SecretKey,
		S3SessionToken: cfg.BackupS3SessionToken,
		S3UseSSL:       cfg.BackupS3UseSSL,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize backups: %w", err)
	}
	if backupManager != nil {
		defer backupManager.Stop()
	}

	apiServer := httpserver.NewServer(httpserver.Config{
		Addr:           cfg.APIAddr,
		RequireAPIKey:  cfg.RequireAPIKey,
		AdminToken:     cfg.AdminToken,
		TrustedProxies: cfg.TrustedProxies,
		Version:        version,
	}, httpserver.Deps{
		Logs:     logs,
		AppLogs:  appLogs,
		Ingest:   logBuffer,
		Projects: projects,
		Recorder: appLogService,
		Pending:  logBuffer.Len,
	})
	if err := apiServer.Start(); err != nil {
		return fmt.Errorf("failed to start API server: %w", err)
	}
	defer apiServer.Stop()

	if cfg.OTLPEnabled {
		otlp := otlpserver.NewServer(otlpserver.Config{
			Addr:          cfg.OTLPAddr,
			RequireAPIKey: cfg.RequireAPIKey,
		}, logBuffer, projects)
		if err := otlp.Start(); err != nil {
			return fmt.Errorf("failed to start OTLP receiver: %w", err)
		}
		defer otlp.Stop()
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)

	go func() {
		select {
		case <-sigCh:
		case <-ctx.Done():
			return
		}
		fmt.Println("\nShutting down gracefully... (press Ctrl+C again to force)")
		cancel()

		// Shutdown deadline starts now, not at boot.
		deadline := time.NewTimer(10 * time.Second)
		defer deadline.Stop()

		select {
		case <-sigCh:
			fmt.Println("\nForce shutdown.")
		case <-deadline.C:
			fmt.Println("Shutdown timed out, forcing exit.")
		}
		os.Exit(1)
	}()

	lineProject, lineEnabled, err := resolveLineProject(ctx, cfg, projects)
	if err != nil {
		return err
	}
	var sources []NamedLogSource
	if lineEnabled {
		var errs []error
		sources, errs = buildSources(ctx, buildInputPlugins(InputPluginConfig{
			TCPEnabled: cfg.TCPEnabled,
			TCPAddr:    cfg.TCPAddr,
		}))
		for _, err := range errs {
			log.Error().Err(err).Msg("server: input plugin failed to start")
		}
	}

	mux := NewSourceMultiplexer(ctx, sources, cfg.MuxBufferSize)
	mux.Start()
	defer mux.Stop()

	printStartupBanner(cfg, mux.SourceNames())

	g, gctx := errgroup.WithContext(ctx)

	if mux.HasSources() {
		g.Go(func() error {
			meta := ingest.Meta{Project: lineProject}
			for env := range mux.Lines() {
				if entry, ok := ingest.DecodeLine(env, cfg.LineAppName, meta); ok {
					logBuffer.Enqueue(entry)
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	if err := g.Wait(); err != nil {
		log.Error().Err(err).Msg("server: errgroup exited with error")
	}
	ev := log.Info().Int("pending", logBuffer.Len())
	for name, n := range mux.Counts() {
		ev = ev.Int64("lines_"+name, n)
	}
	ev.Msg("server: stopping")
	return nil
}

// resolveLineProject maps line-api-key to the project stamped on every
// line-ingested entry. Line inputs are disabled when keys are required and
// none is configured.
func resolveLineProject(ctx context.Context, cfg appConfig, keys otlpserver.KeyValidator) (*model.Project, bool, error) {
	if !cfg.TCPEnabled && !(stdinInputPlugin{}).Enabled() {
		return nil, false, nil
	}
	if strings.TrimSpace(cfg.LineAPIKey) == "" {
		if cfg.RequireAPIKey {
			log.Warn().Msg("server: line inputs disabled, require-api-key is set but line-api-key is empty")
			return nil, false, nil
		}
		return nil, true, nil
	}
	p, err := keys.ValidateAPIKey(ctx, cfg.LineAPIKey)
	if err != nil {
		return nil, false, fmt.Errorf("validate line-api-key: %w", err)
	}
	if p == nil {
		return nil, false, errors.New("line-api-key is unknown or expired")
	}
	return p, true, nil
}

// configureLogger installs the global zerolog logger: human-readable on
// stderr, or JSON lines when log-file is set.
func configureLogger(cfg appConfig) (func(), error) {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zerolog.SetGlobalLevel(level)

	if cfg.LogFile == "" {
		log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.DateTime}).
			With().Timestamp().Logger()
		return func() {}, nil
	}

	if err := os.MkdirAll(filepath.Dir(cfg.LogFile), 0755); err != nil {
		return nil, fmt.Errorf("create log directory: %w", err)
	}
	f, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}
	log.Logger = zerolog.New(f).With().Timestamp().Logger()
	return func() { _ = f.Close() }, nil
}

// replayJournal persists entries a previous run accepted but never
// flushed, committing the journal as batches land.
func replayJournal(ctx context.Context, j *journal.Journal[model.LogEntry], w model.LogWriter, batchSize int) error {
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}

	batch := make([]model.LogEntry, 0, batchSize)
	var maxSeq uint64
	replayed := 0

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		if err := w.InsertBatch(ctx, batch); err != nil {
			return err
		}
		if err := j.Commit(maxSeq); err != nil {
			return err
		}
		replayed += len(batch)
		batch = batch[:0]
		return nil
	}

	if err := j.Replay(func(seq uint64, record model.LogEntry) error {
		batch = append(batch, record)
		maxSeq = max(maxSeq, seq)
		if len(batch) >= batchSize {
			return flush()
		}
		return nil
	}); err != nil {
		return err
	}
	if err := flush(); err != nil {
		return err
	}
	if replayed > 0 {
		log.Info().Int("entries", replayed).Msg("server: replayed uncommitted journal entries")
	}
	return nil
}

func printStartupBanner(cfg appConfig, lineSources []string) {
	dim := lipgloss.NewStyle().Foreground(lipgloss.Color("240"))
	green := lipgloss.NewStyle().Foreground(lipgloss.Color("42"))
	cyan := lipgloss.NewStyle().Foreground(lipgloss.Color("39"))
	yellow := lipgloss.NewStyle().Foreground(lipgloss.Color("220"))
	bold := lipgloss.NewStyle().Bold(true)

	check := green.Render("●")
	dot := dim.Render("●")

	row := func(on bool, label, value string) string {
		if on {
			return fmt.Sprintf("    %s  %-14s %s", check, label, cyan.Render(value))
		}
		return fmt.Sprintf("    %s  %-14s %s", dot, label, dim.Render(value))
	}

	logo := cyan.Bold(true).Render(`
    ╔╗ ╦ ╦╦═╗╦═╗╔═╗╦ ╦
    ╠╩╗║ ║╠╦╝╠╦╝║ ║║║║
    ╚═╝╚═╝╩╚═╩╚═╚═╝╚╩╝`)

	separator := dim.Render("    ─────────────────────────────────")

	lines := []string{"", logo, "    " + dim.Render("v"+version), "", separator, ""}

	lines = append(lines, bold.Render("    Gateway"), "")
	lines = append(lines, row(true, "HTTP API", cfg.APIAddr))
	if cfg.OTLPEnabled {
		lines = append(lines, row(true, "OTLP gRPC", cfg.OTLPAddr))
	} else {
		lines = append(lines, row(false, "OTLP gRPC", "disabled"))
	}
	if len(lineSources) > 0 {
		lines = append(lines, row(true, "Line Ingest", strings.Join(lineSources, ", ")))
	} else {
		lines = append(lines, row(false, "Line Ingest", "disabled"))
	}
	if cfg.RequireAPIKey {
		lines = append(lines, row(true, "API Keys", "required"))
	} else {
		lines = append(lines, row(false, "API Keys", "optional"))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Storage"), "")
	lines = append(lines, row(true, "Storage", shortenPath(cfg.DBPath)))
	if cfg.JournalEnabled {
		lines = append(lines, row(true, "Journal", shortenPath(cfg.JournalPath)))
	} else {
		lines = append(lines, row(false, "Journal", "disabled"))
	}
	if cfg.LogRetention > 0 {
		lines = append(lines, row(true, "Retention", fmt.Sprintf("%d days", cfg.LogRetention)))
	} else {
		lines = append(lines, row(false, "Retention", "disabled"))
	}
	if cfg.BackupEnabled {
		lines = append(lines, row(true, "Snapshots", shortenPath(cfg.BackupLocalDir)))
	} else {
		lines = append(lines, row(false, "Snapshots", "disabled"))
	}
	lines = append(lines, "")

	lines = append(lines, bold.Render("    Config"), "")
	if cfg.ConfigPath != "" {
		lines = append(lines, row(true, "Config File", shortenPath(cfg.ConfigPath)))
	} else {
		lines = append(lines, row(false, "Config File", "default (no file)"))
	}

	lines = append(lines, "", separator, "")
	lines = append(lines, "    "+dim.Render("Press ")+yellow.Render("Ctrl+C")+dim.Render(" to stop"), "")

	fmt.Println(strings.Join(lines, "\n"))
}

func shortenPath(path string) string {
	if path == "" {
		return "in-memory"
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	if strings.HasPrefix(path, home) {
		return "~" + path[len(home):]
	}
	return path
}
