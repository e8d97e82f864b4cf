package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	goversion "github.com/caarlos0/go-version"

	"github.com/samandartukhtayev/authentik-sync/authentik"
	"github.com/samandartukhtayev/authentik-sync/backup"
	"github.com/samandartukhtayev/authentik-sync/config"
	"github.com/samandartukhtayev/authentik-sync/database"
	"github.com/samandartukhtayev/authentik-sync/models"
	"github.com/samandartukhtayev/authentik-sync/prompt"
	"github.com/samandartukhtayev/authentik-sync/reconcile"
	"github.com/samandartukhtayev/authentik-sync/repository"
)

var (
	version   = "dev"
	commit    = ""
	treeState = ""
	date      = ""
	builtBy   = ""
)

var (
	envFile     = flag.String("env-file", "", "Path to a .env file. Defaults to ./.env when present.")
	debug       = flag.Bool("debug", false, "Enable debug logging")
	logFile     = flag.String("log-file", "", "Path to a file where logs should be written. If empty, logs go to stderr.")
	dryRun      = flag.Bool("dry-run", false, "Fetch users and report how many exist locally without writing")
	assumeYes   = flag.Bool("yes", false, "Skip the confirmation prompts even when CONFIRM_BEFORE is set")
	showVersion = flag.Bool("version", false, "Print version information and exit")
)

func main() {
	os.Exit(run())
}

func run() int {
	flag.Parse()

	if *showVersion {
		fmt.Println(buildVersion(version, commit, date, builtBy, treeState).String())
		return 0
	}

	logWriter := os.Stderr
	if *logFile != "" {
		f, err := os.OpenFile(*logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			slog.Error("Failed to open log file", "file", *logFile, "error", err)
			return 1
		}
		defer f.Close()
		logWriter = f
	}

	logLevel := slog.LevelInfo
	if *debug {
		logLevel = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(logWriter, &slog.HandlerOptions{Level: logLevel}))
	slog.SetDefault(logger)

	cfg, err := config.Load(*envFile)
	if err != nil {
		logger.Error("Failed to load configuration", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opts := runOptions{DryRun: *dryRun, AssumeYes: *assumeYes}
	result, err := runSync(ctx, *cfg, opts, logger)
	if err != nil {
		if errors.Is(err, models.ErrCancelled) {
			fmt.Println("Operation cancelled.")
		} else {
			logger.Error("Sync failed", "error", err)
		}
		return exitCode(err)
	}

	if opts.DryRun {
		fmt.Printf("Dry run: %d users fetched, %d exist in %s table.\n", result.Submitted, result.Matched, cfg.Database.Table)
		return 0
	}
	fmt.Printf("Updated %d rows in %s table for %d users.\n", result.Matched, cfg.Database.Table, result.Submitted)
	if result.Mismatch() {
		fmt.Printf("Warning: %d users have no local account.\n", len(result.Unmatched))
	}
	return 0
}

// runOptions carries the command line switches that shape a single run
type runOptions struct {
	DryRun    bool
	AssumeYes bool
}

// exitCode maps the outcome of a run to the process exit status. An operator
// declining a confirmation is not a failure.
func exitCode(err error) int {
	if err == nil || errors.Is(err, models.ErrCancelled) {
		return 0
	}
	return 1
}

// runSync fetches the full user list, then reconciles it against the database
func runSync(ctx context.Context, cfg config.Config, flags runOptions, logger *slog.Logger) (models.BindResult, error) {
	client, err := authentik.NewClient(cfg.Authentik, authentik.WithLogger(logger))
	if err != nil {
		return models.BindResult{}, err
	}

	logger.Info("Fetching users", "url", cfg.Authentik.BaseURL, "page_size", cfg.Authentik.PageSize)
	records, err := client.FetchAll(ctx)
	if err != nil {
		return models.BindResult{}, err
	}

	conn, err := database.Connect(ctx, cfg.Database)
	if err != nil {
		return models.BindResult{}, err
	}
	defer conn.Close(context.Background())

	opts := reconcile.Options{
		AuthService:      cfg.AuthService,
		AllowDumpFailure: cfg.Dump.AllowFailure,
		DryRun:           flags.DryRun,
		Logger:           logger,
	}
	if cfg.Dump.Enabled {
		opts.Dumper = backup.NewDumper(cfg.Dump, cfg.Database, logger)
	}
	if cfg.Confirm && !flags.AssumeYes {
		opts.Gate = prompt.NewConfirmer(os.Stdin, os.Stdout)
	}

	repo := repository.NewIdentityRepository(conn, cfg.Database.Table)
	return reconcile.New(repo, opts).Run(ctx, records)
}

func buildVersion(version, commit, date, builtBy, treeState string) goversion.Info {
	return goversion.GetVersionInfo(
		goversion.WithAppDetails("authentik-sync", "Copy Authentik user ids into the local users table", "https://github.com/samandartukhtayev/authentik-sync"),
		func(i *goversion.Info) {
			if commit != "" {
				i.GitCommit = commit
			}
			if version != "" {
				i.GitVersion = version
			}
			if treeState != "" {
				i.GitTreeState = treeState
			}
			if date != "" {
				i.BuildDate = date
			}
			if builtBy != "" {
				i.BuiltBy = builtBy
			}
		},
	)
}
