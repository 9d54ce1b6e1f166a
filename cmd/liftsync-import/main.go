// Command liftsync-import loads strength-log CSV exports into the local
// store so suggestions and PR detection see past training.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"

	"github.com/claude/liftsync/internal/config"
	"github.com/claude/liftsync/internal/importer"
	"github.com/claude/liftsync/internal/store"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to config file")
	importPath := flag.String("path", "", "CSV file or directory of exports (required)")
	userName := flag.String("user", "default", "user to import for")
	dryRun := flag.Bool("dry-run", false, "report counts without inserting into the store")
	flag.Parse()

	log := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))

	if *importPath == "" {
		fmt.Fprintf(os.Stderr, "Usage: liftsync-import -config config.yaml -path export.csv [-user name] [-dry-run]\n")
		flag.PrintDefaults()
		os.Exit(1)
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	migrations := cfg.Store.MigrationsPath
	if migrations == "" {
		migrations = "migrations"
	}
	if err := store.RunMigrations(cfg.Store.Path, migrations); err != nil {
		log.Error("migration failed", "error", err)
		os.Exit(1)
	}
	log.Info("migrations applied")

	ctx := context.Background()

	if *dryRun {
		log.Info("DRY RUN mode — nothing will be written to the store")
	}

	st, err := store.Open(cfg.Store.Path)
	if err != nil {
		log.Error("failed to open store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	userID, err := st.GetOrCreateUser(ctx, *userName)
	if err != nil {
		log.Error("failed to resolve user", "user", *userName, "error", err)
		os.Exit(1)
	}

	imp := importer.New(st, log, *dryRun)
	stats, err := imp.Import(ctx, *importPath, userID)
	if err != nil {
		log.Error("import failed", "error", err)
		printStats(log, stats)
		os.Exit(1)
	}

	printStats(log, stats)
	log.Info("import complete")
}

func printStats(log *slog.Logger, stats *importer.Stats) {
	log.Info("import stats",
		"files_processed", stats.FilesProcessed,
		"files_skipped", stats.FilesSkipped,
		"files_errored", stats.FilesErrored,
		"sessions_imported", stats.SessionsImported,
		"sessions_duplicated", stats.SessionsDuplicated,
		"sets_imported", stats.SetsImported,
	)
}
