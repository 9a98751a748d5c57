package server

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/ahmethakanbesel/diadict/internal/job"
	"github.com/ahmethakanbesel/diadict/internal/platform/sqlite"
	"github.com/ahmethakanbesel/diadict/internal/progress"
	jobrepo "github.com/ahmethakanbesel/diadict/internal/repository/job"
	"github.com/google/uuid"
)

// stubProcessor finishes every job with fixed counters, or fails it when the
// job's params carry fail=<msg>.
type stubProcessor struct {
	repo job.Repository
}

func (p *stubProcessor) Process(ctx context.Context, j *job.Job) error {
	if msg := j.Params["fail"]; msg != "" {
		j.Fail(msg)
	} else {
		j.Read, j.Skipped = 12, 1
		j.Method = "lst"
		j.Finish()
	}
	return p.repo.Update(ctx, j)
}

type testEnv struct {
	ts   *httptest.Server
	repo *jobrepo.Repository
	svc  *job.Service
}

func setup(t *testing.T, csrfToken string, withPool bool) *testEnv {
	t.Helper()

	db, err := sqlite.Open(":memory:")
	if err != nil {
		t.Fatalf("open db: %v", err)
	}
	t.Cleanup(func() { _ = db.Close() })

	repo := jobrepo.NewRepository(db.DB)
	svc := job.NewService(repo, &stubProcessor{repo: repo})

	if withPool {
		ctx, cancel := context.WithCancel(context.Background())
		pool := job.NewWorkerPool(repo, svc, 1)
		svc.SetNotify(pool.Notify)
		done := make(chan struct{})
		go func() {
			pool.Run(ctx)
			close(done)
		}()
		t.Cleanup(func() {
			cancel()
			<-done
		})
	}

	ts := httptest.NewServer(NewHandler(svc, csrfToken))
	t.Cleanup(ts.Close)
	return &testEnv{ts: ts, repo: repo, svc: svc}
}

func decodeReport(t *testing.T, resp *http.Response) progress.Report {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		t.Fatalf("expected 200, got %d: %s", resp.StatusCode, body)
	}
	var r progress.Report
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		t.Fatalf("decode report: %v", err)
	}
	return r
}

func TestHealth(t *testing.T) {
	env := setup(t, "", false)

	resp, err := http.Get(env.ts.URL + "/health")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200, got %d", resp.StatusCode)
	}
	if _, err := uuid.Parse(resp.Header.Get("X-Request-ID")); err != nil {
		t.Errorf("expected generated request id: %v", err)
	}
}

func TestRequestID_Propagated(t *testing.T) {
	env := setup(t, "", false)
	id := uuid.NewString()

	req, err := http.NewRequest(http.MethodGet, env.ts.URL+"/health", nil)
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("X-Request-ID", id)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	_ = resp.Body.Close()

	if got := resp.Header.Get("X-Request-ID"); got != id {
		t.Errorf("expected %s, got %s", id, got)
	}
}

func TestProgress_Idle(t *testing.T) {
	env := setup(t, "", false)

	resp, err := http.Get(env.ts.URL + "/dictionary/import/progress?deel=1&aflevering=2")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	r := decodeReport(t, resp)
	if r.Status != progress.StatusIdle {
		t.Errorf("expected idle, got %+v", r)
	}
}

func TestProgress_UnknownKind(t *testing.T) {
	env := setup(t, "", false)

	resp, err := http.Get(env.ts.URL + "/dictionary/export/progress")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestProgress_QueuedJob(t *testing.T) {
	env := setup(t, "", false)

	_, err := env.svc.Submit(context.Background(), job.StartRequest{
		Kind:   progress.KindImport,
		Params: progress.Params{"csv_file": "d1-a2.csv", "deel": "1", "aflevering": "2"},
	})
	if err != nil {
		t.Fatalf("submit: %v", err)
	}

	// A blank sectie matches a job started without one.
	resp, err := http.Get(env.ts.URL + "/dictionary/import/progress?deel=1&sectie=&aflevering=2")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	r := decodeReport(t, resp)
	if r.Status != "queued" {
		t.Errorf("expected queued, got %+v", r)
	}
}

func TestProgress_ClaimedJobReportsRunning(t *testing.T) {
	env := setup(t, "", false)
	ctx := context.Background()

	if _, err := env.svc.Submit(ctx, job.StartRequest{
		Kind:   progress.KindRepair,
		Params: progress.Params{"repairtype": "lemma"},
	}); err != nil {
		t.Fatalf("submit: %v", err)
	}
	// Claimed by a worker that has not reported anything yet.
	if _, err := env.repo.ClaimPending(ctx); err != nil {
		t.Fatalf("claim: %v", err)
	}

	resp, err := http.Get(env.ts.URL + "/dictionary/repair/progress?repairtype=lemma")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	r := decodeReport(t, resp)
	if r.Status != "running" || r.Terminal() {
		t.Errorf("expected running, got %+v", r)
	}
}

func TestStart_ReturnsFinalReport(t *testing.T) {
	env := setup(t, "", true)

	form := url.Values{"csv_file": {"d1-a2.csv"}, "deel": {"1"}, "aflevering": {"2"}}
	resp, err := http.PostForm(env.ts.URL+"/dictionary/import/start", form)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	r := decodeReport(t, resp)
	if r.Status != progress.StatusDone || r.Read != 12 || r.Skipped != 1 || r.Method != "lst" {
		t.Errorf("unexpected report: %+v", r)
	}

	// The progress endpoint keeps answering with the finished job.
	resp, err = http.Get(env.ts.URL + "/dictionary/import/progress?deel=1&aflevering=2")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if got := decodeReport(t, resp); got != r {
		t.Errorf("progress %+v, want %+v", got, r)
	}
}

func TestStart_FailedJob(t *testing.T) {
	env := setup(t, "", true)

	form := url.Values{"repairtype": {"lemma"}, "fail": {"Unknown repair type: x"}}
	resp, err := http.PostForm(env.ts.URL+"/dictionary/repair/start", form)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	r := decodeReport(t, resp)
	if r.Status != progress.StatusError || r.Message != "Unknown repair type: x" {
		t.Errorf("unexpected report: %+v", r)
	}
}

func TestStart_MissingParam(t *testing.T) {
	env := setup(t, "", false)

	resp, err := http.PostForm(env.ts.URL+"/dictionary/import/start", url.Values{"deel": {"1"}})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400, got %d", resp.StatusCode)
	}
	var body APIResponse[string]
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(body.Message, "csv_file") {
		t.Errorf("expected message naming csv_file, got %q", body.Message)
	}
}

func TestStart_CSRF(t *testing.T) {
	env := setup(t, "s3cret", true)
	form := url.Values{"repairtype": {"lemma"}}

	resp, err := http.PostForm(env.ts.URL+"/dictionary/repair/start", form)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("expected 403 without token, got %d", resp.StatusCode)
	}

	form.Set(csrfField, "s3cret")
	resp, err = http.PostForm(env.ts.URL+"/dictionary/repair/start", form)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if r := decodeReport(t, resp); r.Status != progress.StatusDone {
		t.Errorf("unexpected report: %+v", r)
	}

	req, err := http.NewRequest(http.MethodPost, env.ts.URL+"/dictionary/repair/start",
		strings.NewReader(url.Values{"repairtype": {"lemma"}}.Encode()))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(csrfHeader, "s3cret")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if r := decodeReport(t, resp); r.Status != progress.StatusDone {
		t.Errorf("unexpected report: %+v", r)
	}
}

func TestStart_TokenNotStoredInParams(t *testing.T) {
	env := setup(t, "s3cret", true)

	form := url.Values{"repairtype": {"lemma"}, csrfField: {"s3cret"}}
	resp, err := http.PostForm(env.ts.URL+"/dictionary/repair/start", form)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	decodeReport(t, resp)

	jobs, err := env.repo.List(context.Background(), progress.KindRepair)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 1 {
		t.Fatalf("expected 1 job, got %d", len(jobs))
	}
	if _, ok := jobs[0].Params[csrfField]; ok {
		t.Errorf("csrf token stored with job params: %v", jobs[0].Params)
	}
}

func TestStart_ClientGoneReleasesRequest(t *testing.T) {
	env := setup(t, "", false)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, env.ts.URL+"/dictionary/repair/start",
		strings.NewReader("repairtype=lemma"))
	if err != nil {
		t.Fatal(err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	// No workers: the job stays queued and the request only ends with its context.
	if resp, err := http.DefaultClient.Do(req); err == nil {
		_ = resp.Body.Close()
		t.Fatal("expected the request to time out")
	}

	jobs, err := env.repo.List(context.Background(), progress.KindRepair)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(jobs) != 1 || jobs[0].State != job.StatePending {
		t.Errorf("expected one queued job, got %+v", jobs)
	}
}

func TestJobsAPI(t *testing.T) {
	env := setup(t, "", true)

	resp, err := http.PostForm(env.ts.URL+"/dictionary/repair/start", url.Values{"repairtype": {"lemma"}})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	decodeReport(t, resp)

	resp, err = http.Get(env.ts.URL + "/api/v1/jobs?kind=repair")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var list APIResponse[[]job.Job]
	err = json.NewDecoder(resp.Body).Decode(&list)
	_ = resp.Body.Close()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list.Data) != 1 || list.Data[0].State != job.StateDone {
		t.Fatalf("unexpected jobs: %+v", list.Data)
	}

	resp, err = http.Get(env.ts.URL + "/api/v1/jobs/" + strconv.FormatInt(list.Data[0].ID, 10))
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	var one APIResponse[job.Job]
	err = json.NewDecoder(resp.Body).Decode(&one)
	_ = resp.Body.Close()
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if one.Data.Identity != "repair|repairtype=lemma" {
		t.Errorf("unexpected job: %+v", one.Data)
	}

	for path, want := range map[string]int{
		"/api/v1/jobs/abc":          http.StatusBadRequest,
		"/api/v1/jobs/999":          http.StatusNotFound,
		"/api/v1/jobs?kind=unknown": http.StatusNotFound,
	} {
		resp, err := http.Get(env.ts.URL + path)
		if err != nil {
			t.Fatalf("request %s: %v", path, err)
		}
		_ = resp.Body.Close()
		if resp.StatusCode != want {
			t.Errorf("%s: expected %d, got %d", path, want, resp.StatusCode)
		}
	}
}

func TestAdminPage(t *testing.T) {
	env := setup(t, "s3cret", true)

	resp, err := http.PostForm(env.ts.URL+"/dictionary/repair/start",
		url.Values{"repairtype": {"lemma"}, csrfField: {"s3cret"}})
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	decodeReport(t, resp)

	resp, err = http.Get(env.ts.URL + "/dictionary/admin")
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	body, err := io.ReadAll(resp.Body)
	_ = resp.Body.Close()
	if err != nil {
		t.Fatal(err)
	}

	page := string(body)
	for _, want := range []string{
		`import-start="/dictionary/import/start"`,
		`import-progress="/dictionary/import/progress"`,
		`repair-start="/dictionary/repair/start"`,
		`repair-progress="/dictionary/repair/progress"`,
		`name="csrfmiddlewaretoken" value="s3cret"`,
		"repair|repairtype=lemma",
		"done lst (read=12, skipped=1)",
	} {
		if !strings.Contains(page, want) {
			t.Errorf("admin page missing %q", want)
		}
	}
}
