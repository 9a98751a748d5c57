package dictionary

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmethakanbesel/diadict/internal/job"
	"github.com/ahmethakanbesel/diadict/internal/progress"
)

type memRepo struct {
	mu      sync.Mutex
	entries map[Aflevering][]Entry
	lemmas  []Lemma
}

func newMemRepo() *memRepo {
	return &memRepo{entries: make(map[Aflevering][]Entry)}
}

func (m *memRepo) ReplaceEntries(_ context.Context, a Aflevering, entries []Entry) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[a] = entries
	return nil
}

func (m *memRepo) CountEntries(_ context.Context, a Aflevering) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return int64(len(m.entries[a])), nil
}

func (m *memRepo) Lemmas(_ context.Context) ([]Lemma, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Lemma(nil), m.lemmas...), nil
}

func (m *memRepo) UpdateGloss(_ context.Context, id int64, gloss string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range m.lemmas {
		if m.lemmas[i].ID == id {
			m.lemmas[i].Gloss = gloss
		}
	}
	return nil
}

// jobLog records every write of a job row. Only Update is used by processors.
type jobLog struct {
	job.Repository
	mu      sync.Mutex
	updates []job.Job
}

func (l *jobLog) Update(_ context.Context, j *job.Job) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.updates = append(l.updates, *j)
	return nil
}

func (l *jobLog) statuses() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	var out []string
	for _, u := range l.updates {
		if len(out) == 0 || out[len(out)-1] != u.Status {
			out = append(out, u.Status)
		}
	}
	return out
}

func writeExport(t *testing.T, dir, name string, lines ...string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, csvDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, csvDir, name), []byte(export(lines...)), 0o600))
}

func newTestService(t *testing.T, workers int) (*Service, *memRepo, *jobLog, string) {
	t.Helper()
	media := t.TempDir()
	repo := newMemRepo()
	log := &jobLog{}
	svc := NewService(repo, log, media, workers)
	svc.interval = 0
	return svc, repo, log, media
}

func runJob(t *testing.T, svc *Service, kind string, params map[string]string) *job.Job {
	t.Helper()
	j := &job.Job{ID: 1, Kind: kind, Params: params, State: job.StateRunning}
	require.NoError(t, svc.Process(context.Background(), j))
	return j
}

func TestImport(t *testing.T) {
	svc, repo, log, media := newTestService(t, 2)
	writeExport(t, media, "upload.csv",
		row("kikker", "kikvors", "kwakker", "Venlo", "", "L271p"),
		row("kikker", "kikvors", "pogge", "Tegelen", "", "L270p"),
		row("", "kikvors", "pogge", "Tegelen", "", "L270p"),
	)

	j := runJob(t, svc, progress.KindImport, map[string]string{"csv_file": "upload.csv", "deel": "1", "sectie": "", "aflevering": "2"})

	assert.Equal(t, job.StateDone, j.State)
	assert.Equal(t, int64(2), j.Read)
	assert.Equal(t, int64(1), j.Skipped)
	assert.Equal(t, "lst", j.Method)
	assert.Len(t, repo.entries[Aflevering{Deel: 1, Number: 2}], 2)
	assert.Equal(t, []string{"preparing", "working 1//2", progress.StatusDone}, log.statuses())
}

func TestImport_MissingFile(t *testing.T) {
	svc, _, _, _ := newTestService(t, 1)

	j := runJob(t, svc, progress.KindImport, map[string]string{"csv_file": "nope.csv", "deel": "1", "aflevering": "2"})

	assert.Equal(t, job.StateError, j.State)
	assert.Equal(t, "Cannot find file nope.csv", j.Message)
	assert.Equal(t, progress.Report{Status: progress.StatusError, Method: "lst", Message: "Cannot find file nope.csv"}, j.Report())
}

func TestImport_PathStaysInMediaDir(t *testing.T) {
	svc, repo, _, media := newTestService(t, 1)
	writeExport(t, media, "upload.csv", row("kikker", "kikvors", "kwakker", "Venlo", "", "L271p"))

	j := runJob(t, svc, progress.KindImport, map[string]string{"csv_file": "../../elsewhere/upload.csv", "deel": "1", "aflevering": "2"})

	assert.Equal(t, job.StateDone, j.State)
	assert.Len(t, repo.entries[Aflevering{Deel: 1, Number: 2}], 1)
}

func TestImport_BadHeader(t *testing.T) {
	svc, _, _, media := newTestService(t, 1)
	require.NoError(t, os.MkdirAll(filepath.Join(media, csvDir), 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(media, csvDir, "x.csv"), []byte("lemma\tx\n"), 0o600))

	j := runJob(t, svc, progress.KindImport, map[string]string{"csv_file": "x.csv", "deel": "1", "aflevering": "2"})

	assert.Equal(t, job.StateError, j.State)
	assert.Contains(t, j.Message, headerTag)
}

func TestImport_InvalidNumber(t *testing.T) {
	svc, _, _, _ := newTestService(t, 1)

	j := runJob(t, svc, progress.KindImport, map[string]string{"csv_file": "x.csv", "deel": "een", "aflevering": "2"})

	assert.Equal(t, job.StateError, j.State)
	assert.Equal(t, "invalid deel: een", j.Message)
}

func TestImport_All(t *testing.T) {
	svc, repo, _, media := newTestService(t, 2)
	writeExport(t, media, "d1-a1.csv", row("kikker", "kikvors", "kwakker", "Venlo", "", "L271p"))
	writeExport(t, media, "d1-a2.csv",
		row("pad", "pad", "padde", "Venlo", "", "L271p"),
		row("pad", "pad", "-", "Venlo", "", "L271p"),
	)
	writeExport(t, media, "d3-s1-a4.csv", row("mol", "mol", "moll", "Weert", "", "L318p"))
	writeExport(t, media, "readme.csv", row("x", "y", "z", "Weert", "", "L318p"))

	j := runJob(t, svc, progress.KindImport, map[string]string{"csv_file": "ignored", "deel": "0", "sectie": "0", "aflevering": "0"})

	require.Equal(t, job.StateDone, j.State, j.Message)
	assert.Equal(t, int64(3), j.Read)
	assert.Equal(t, int64(1), j.Skipped)

	var got []Aflevering
	for a := range repo.entries {
		got = append(got, a)
	}
	sort.Slice(got, func(i, k int) bool { return got[i].String() < got[k].String() })
	assert.Equal(t, []Aflevering{{Deel: 1, Number: 1}, {Deel: 1, Number: 2}, {Deel: 3, Sectie: 1, Number: 4}}, got)
}

func TestRepairLemma(t *testing.T) {
	svc, repo, log, _ := newTestService(t, 1)
	repo.lemmas = []Lemma{{ID: 1, Gloss: "kikker"}, {ID: 2, Gloss: ` "pad" `}, {ID: 3, Gloss: "'mol'"}}

	j := runJob(t, svc, progress.KindRepair, map[string]string{"repairtype": "lemma"})

	assert.Equal(t, job.StateDone, j.State)
	assert.Equal(t, int64(2), j.Read)
	assert.Equal(t, []Lemma{{ID: 1, Gloss: "kikker"}, {ID: 2, Gloss: "pad"}, {ID: 3, Gloss: "mol"}}, repo.lemmas)
	assert.Contains(t, log.statuses(), "Working on 3 (of 3)")
	assert.Contains(t, log.statuses(), "Saved changes in 2 (of 3)")
	assert.NotContains(t, log.statuses(), "Saved changes in 1 (of 3)")
}

func TestRepair_UnknownType(t *testing.T) {
	svc, _, _, _ := newTestService(t, 1)

	j := runJob(t, svc, progress.KindRepair, map[string]string{"repairtype": "dialects"})

	assert.Equal(t, job.StateError, j.State)
	assert.Equal(t, "Unknown repair type: dialects", j.Message)
}

func TestProcess_UnknownKind(t *testing.T) {
	svc, _, _, _ := newTestService(t, 1)

	j := runJob(t, svc, "export", nil)

	assert.Equal(t, job.StateError, j.State)
}
