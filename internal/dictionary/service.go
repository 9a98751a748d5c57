package dictionary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/ahmethakanbesel/diadict/internal/job"
	"github.com/ahmethakanbesel/diadict/internal/progress"
)

const (
	methodList     = "lst"
	csvDir         = "csv_files"
	repairLemma    = "lemma"
	updateInterval = 250 * time.Millisecond
)

type Service struct {
	repo     Repository
	jobRepo  job.Repository
	mediaDir string
	workers  int
	interval time.Duration
}

func NewService(repo Repository, jobRepo job.Repository, mediaDir string, workers int) *Service {
	if workers <= 0 {
		workers = 1
	}
	return &Service{
		repo:     repo,
		jobRepo:  jobRepo,
		mediaDir: mediaDir,
		workers:  workers,
		interval: updateInterval,
	}
}

// Process implements job.Processor. Called by the worker pool with a claimed
// (running) job; it leaves the job done or failed.
func (s *Service) Process(ctx context.Context, j *job.Job) error {
	tr := job.NewTracker(s.jobRepo, j, s.interval)

	var err error
	switch j.Kind {
	case progress.KindImport:
		err = s.runImport(ctx, j.Params, tr)
	case progress.KindRepair:
		err = s.runRepair(ctx, j.Params, tr)
	default:
		err = fmt.Errorf("unknown job type: %s", j.Kind)
	}

	if err != nil {
		slog.Error("job failed", "job", j.ID, "kind", j.Kind, "error", err)
		return tr.Fail(ctx, err.Error())
	}
	return tr.Finish(ctx)
}

func (s *Service) runImport(ctx context.Context, params map[string]string, tr *job.Tracker) error {
	if err := tr.SetStatus(ctx, "preparing", methodList); err != nil {
		return err
	}

	a, err := parseAflevering(params)
	if err != nil {
		return err
	}
	if a.IsAll() {
		return s.importAll(ctx, tr)
	}

	name := strings.TrimSpace(params["csv_file"])
	path := filepath.Join(s.mediaDir, csvDir, filepath.Base(name))
	if _, err := os.Stat(path); err != nil {
		return fmt.Errorf("Cannot find file %s", name) //nolint:staticcheck // shown to users as is
	}

	if err := tr.SetStatus(ctx, "working "+a.String(), ""); err != nil {
		return err
	}
	entries, err := s.parseFile(ctx, path, tr)
	if err != nil {
		return err
	}
	if err := s.repo.ReplaceEntries(ctx, a, entries); err != nil {
		return fmt.Errorf("save entries: %w", err)
	}

	slog.Info("imported file", "file", name, "aflevering", a.String(), "entries", len(entries))
	return nil
}

// importAll parses every export under the csv directory concurrently, then
// stores them one installment at a time.
func (s *Service) importAll(ctx context.Context, tr *job.Tracker) error {
	dir := filepath.Join(s.mediaDir, csvDir)
	dirEntries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("Cannot find directory %s", csvDir) //nolint:staticcheck // shown to users as is
	}

	type file struct {
		path string
		afl  Aflevering
	}
	var files []file
	for _, de := range dirEntries {
		if de.IsDir() {
			continue
		}
		a, ok := ParseFileName(de.Name())
		if !ok {
			slog.Warn("skipping file with unrecognised name", "file", de.Name())
			continue
		}
		files = append(files, file{path: filepath.Join(dir, de.Name()), afl: a})
	}
	sort.Slice(files, func(i, k int) bool { return files[i].path < files[k].path })

	if err := tr.SetStatus(ctx, "working "+strconv.Itoa(len(files))+" files", ""); err != nil {
		return err
	}

	results := make([][]Entry, len(files))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.workers)
	for i, f := range files {
		g.Go(func() error {
			entries, err := s.parseFile(gctx, f.path, tr)
			if err != nil {
				return fmt.Errorf("%s: %w", filepath.Base(f.path), err)
			}
			results[i] = entries
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	for i, f := range files {
		if err := tr.SetStatus(ctx, "working "+f.afl.String(), ""); err != nil {
			return err
		}
		if err := s.repo.ReplaceEntries(ctx, f.afl, results[i]); err != nil {
			return fmt.Errorf("save entries of %s: %w", filepath.Base(f.path), err)
		}
	}
	slog.Info("imported all files", "files", len(files))
	return nil
}

func (s *Service) parseFile(ctx context.Context, path string, tr *job.Tracker) ([]Entry, error) {
	f, err := os.Open(path) //nolint:gosec // path is confined to the media directory
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	return parseEntries(f, func(ok bool) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		if ok {
			return tr.Add(ctx, 1, 0)
		}
		return tr.Add(ctx, 0, 1)
	})
}

func (s *Service) runRepair(ctx context.Context, params map[string]string, tr *job.Tracker) error {
	repairType := strings.TrimSpace(params["repairtype"])
	switch repairType {
	case repairLemma:
		return s.repairLemmas(ctx, tr)
	default:
		return fmt.Errorf("Unknown repair type: %s", repairType) //nolint:staticcheck // shown to users as is
	}
}

func (s *Service) repairLemmas(ctx context.Context, tr *job.Tracker) error {
	lemmas, err := s.repo.Lemmas(ctx)
	if err != nil {
		return fmt.Errorf("list lemmas: %w", err)
	}

	n := len(lemmas)
	for i, l := range lemmas {
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := tr.Note(ctx, fmt.Sprintf("Working on %d (of %d)", i+1, n)); err != nil {
			return err
		}

		gloss, changed := cleanGloss(l.Gloss)
		if !changed {
			continue
		}
		if err := s.repo.UpdateGloss(ctx, l.ID, gloss); err != nil {
			return fmt.Errorf("update lemma %d: %w", l.ID, err)
		}
		if err := tr.Add(ctx, 1, 0); err != nil {
			return err
		}
		if err := tr.Note(ctx, fmt.Sprintf("Saved changes in %d (of %d)", i+1, n)); err != nil {
			return err
		}
	}
	return tr.Flush(ctx)
}

func parseAflevering(params map[string]string) (Aflevering, error) {
	var a Aflevering
	for key, dst := range map[string]*int{"deel": &a.Deel, "sectie": &a.Sectie, "aflevering": &a.Number} {
		v := strings.TrimSpace(params[key])
		if v == "" {
			continue
		}
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return Aflevering{}, errors.New("invalid " + key + ": " + v)
		}
		*dst = n
	}
	return a, nil
}
