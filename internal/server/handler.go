package server

import (
	"context"
	"crypto/subtle"
	"errors"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/ahmethakanbesel/diadict/internal/apperror"
	"github.com/ahmethakanbesel/diadict/internal/job"
	"github.com/ahmethakanbesel/diadict/internal/progress"
)

const (
	csrfField  = "csrfmiddlewaretoken"
	csrfHeader = "X-CSRFToken"
)

type handler struct {
	jobSvc    *job.Service
	csrfToken string
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// startJob queues the job and holds the request open until it has ended.
// The answer is the final status report.
func (h *handler) startJob(w http.ResponseWriter, r *http.Request) {
	if err := r.ParseForm(); err != nil {
		writeError(w, http.StatusBadRequest, "invalid form")
		return
	}
	if !h.csrfValid(r) {
		writeAppError(w, apperror.New(apperror.Forbidden, "CSRF verification failed"))
		return
	}

	req := job.StartRequest{
		Kind:   r.PathValue("kind"),
		Params: formParams(r.PostForm),
	}
	if appErr := req.Validate(); appErr != nil {
		writeError(w, appErr.HTTPStatus(), appErr.Message())
		return
	}

	j, err := h.jobSvc.Submit(r.Context(), req)
	if err != nil {
		writeAppError(w, err)
		return
	}

	done, err := h.jobSvc.Await(r.Context(), j.ID)
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			slog.Info("start request ended before its job", "job", j.ID, "error", err)
			return
		}
		writeAppError(w, err)
		return
	}

	writeReport(w, done.Report())
}

func (h *handler) jobProgress(w http.ResponseWriter, r *http.Request) {
	req := job.ProgressRequest{
		Kind:   r.PathValue("kind"),
		Params: formParams(r.URL.Query()),
	}
	if appErr := req.Validate(); appErr != nil {
		writeError(w, appErr.HTTPStatus(), appErr.Message())
		return
	}

	report, err := h.jobSvc.Progress(r.Context(), req)
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeReport(w, report)
}

func (h *handler) getJob(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid job id")
		return
	}

	j, err := h.jobSvc.Get(r.Context(), job.GetJobRequest{ID: id})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, j)
}

func (h *handler) listJobs(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobSvc.List(r.Context(), job.ListJobsRequest{Kind: r.URL.Query().Get("kind")})
	if err != nil {
		writeAppError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (h *handler) csrfValid(r *http.Request) bool {
	if h.csrfToken == "" {
		return true
	}
	got := r.Header.Get(csrfHeader)
	if got == "" {
		got = r.PostForm.Get(csrfField)
	}
	return subtle.ConstantTimeCompare([]byte(got), []byte(h.csrfToken)) == 1
}

// formParams keeps the first value of every field except the CSRF token.
func formParams(v url.Values) progress.Params {
	p := make(progress.Params, len(v))
	for k := range v {
		if k == csrfField {
			continue
		}
		p[k] = v.Get(k)
	}
	return p
}

func writeAppError(w http.ResponseWriter, err error) {
	if ae, ok := apperror.As(err); ok {
		writeError(w, ae.HTTPStatus(), ae.Message())
		return
	}
	slog.Error("request failed", "error", err)
	writeError(w, http.StatusInternalServerError, err.Error())
}
