package server

import (
	"net/http"

	"github.com/ahmethakanbesel/diadict/internal/job"
)

// NewHandler creates the full HTTP handler with routes and middleware.
// Exported for use in tests (e.g., httptest.NewServer).
func NewHandler(jobSvc *job.Service, csrfToken string) http.Handler {
	return newMux(jobSvc, csrfToken)
}

func newMux(jobSvc *job.Service, csrfToken string) http.Handler {
	h := &handler{
		jobSvc:    jobSvc,
		csrfToken: csrfToken,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.health)
	mux.HandleFunc("GET /dictionary/admin", h.admin)
	mux.HandleFunc("POST /dictionary/{kind}/start", h.startJob)
	mux.HandleFunc("GET /dictionary/{kind}/progress", h.jobProgress)
	mux.HandleFunc("GET /api/v1/jobs", h.listJobs)
	mux.HandleFunc("GET /api/v1/jobs/{id}", h.getJob)

	// Apply middleware stack: recovery -> requestID -> logging
	var handler http.Handler = mux
	handler = logging(handler)
	handler = requestID(handler)
	handler = recovery(handler)

	return handler
}
