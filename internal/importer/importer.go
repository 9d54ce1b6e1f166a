// Package importer loads historical strength-log CSV exports into the
// local store so PR detection and weight suggestions start from real
// history instead of an empty database.
package importer

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/claude/liftsync/internal/store"
	"github.com/google/uuid"
)

// historyNamespace derives stable session ids from the export content so
// re-importing the same file never duplicates a session.
var historyNamespace = uuid.MustParse("6ba7b810-9dad-11d1-80b4-00c04fd430c8")

// Stats tracks import progress.
type Stats struct {
	FilesProcessed int
	FilesSkipped   int
	FilesErrored   int

	SessionsImported   int
	SessionsDuplicated int
	SetsImported       int
}

// Importer reads CSV exports and inserts completed sessions into the store.
type Importer struct {
	store  *store.Store
	log    *slog.Logger
	dryRun bool
	stats  Stats
}

// New creates a new Importer. With dryRun set, files are parsed and
// counted but nothing is written.
func New(st *store.Store, log *slog.Logger, dryRun bool) *Importer {
	return &Importer{store: st, log: log, dryRun: dryRun}
}

// Import processes a CSV file, or every .csv under a directory, for the
// given user.
func (imp *Importer) Import(ctx context.Context, path string, userID int) (*Stats, error) {
	info, err := os.Stat(path)
	if err != nil {
		return &imp.stats, fmt.Errorf("stat %s: %w", path, err)
	}

	if !info.IsDir() {
		if err := imp.importFile(ctx, path, userID); err != nil {
			return &imp.stats, err
		}
		return &imp.stats, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return &imp.stats, fmt.Errorf("reading %s: %w", path, err)
	}
	var names []string
	for _, entry := range entries {
		if entry.IsDir() || !strings.EqualFold(filepath.Ext(entry.Name()), ".csv") {
			imp.stats.FilesSkipped++
			continue
		}
		names = append(names, entry.Name())
	}
	sort.Strings(names)

	for _, name := range names {
		if err := imp.importFile(ctx, filepath.Join(path, name), userID); err != nil {
			imp.stats.FilesErrored++
			imp.log.Error("importing file", "file", name, "error", err)
		}
	}
	return &imp.stats, nil
}

func (imp *Importer) importFile(ctx context.Context, path string, userID int) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening %s: %w", path, err)
	}
	defer f.Close()

	sessions, err := ParseLog(f)
	if err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}
	imp.stats.FilesProcessed++
	imp.log.Info("parsed export", "file", filepath.Base(path), "sessions", len(sessions))

	for _, sess := range sessions {
		if err := imp.importSession(ctx, sess, userID); err != nil {
			return fmt.Errorf("importing session %q: %w", sess.Name, err)
		}
	}
	return nil
}

func (imp *Importer) importSession(ctx context.Context, sess Session, userID int) error {
	rec := convertSession(sess, userID)

	exists, err := imp.store.SessionExists(ctx, rec.ID)
	if err != nil {
		return err
	}
	if exists {
		imp.stats.SessionsDuplicated++
		return nil
	}

	if imp.dryRun {
		imp.stats.SessionsImported++
		imp.stats.SetsImported += len(rec.Sets)
		return nil
	}

	if err := imp.store.SaveCompletedSession(ctx, rec); err != nil {
		return err
	}
	imp.stats.SessionsImported++
	imp.stats.SetsImported += len(rec.Sets)
	return nil
}

// convertSession maps a parsed session onto the store's record. The id is
// derived from the user, name and start time so the mapping is stable
// across runs. Imported history carries no plan id and no PRs; it is a
// baseline, not a claim about records.
func convertSession(sess Session, userID int) *store.CompletedSession {
	rec := &store.CompletedSession{
		ID: uuid.NewSHA1(historyNamespace,
			[]byte(fmt.Sprintf("%d/%s/%s", userID, sess.Name, sess.Date.Format("2006-01-02 15:04")))),
		UserID:    userID,
		Name:      sess.Name,
		StartedAt: sess.Date,
		EndedAt:   sess.Date.Add(sess.Duration),
	}

	for _, ex := range sess.Exercises {
		for _, set := range ex.Sets {
			rec.Sets = append(rec.Sets, store.SessionSet{
				ID:           uuid.New(),
				ExerciseName: ex.Name,
				SetNumber:    set.Number,
				Weight:       set.WeightKg,
				Reps:         set.Reps,
				Warmup:       set.Warmup,
			})
			rec.TotalSets++
			if !set.Warmup {
				rec.TotalVolume += set.WeightKg * float64(set.Reps)
			}
		}
	}
	return rec
}
