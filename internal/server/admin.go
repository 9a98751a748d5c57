package server

import (
	"embed"
	"html/template"
	"log/slog"
	"net/http"

	"github.com/ahmethakanbesel/diadict/internal/job"
)

//go:embed templates/admin.html
var templateFS embed.FS

var adminTmpl = template.Must(template.ParseFS(templateFS, "templates/admin.html"))

// recentJobs caps the job table on the admin page.
const recentJobs = 20

type adminPage struct {
	ImportStart    string
	ImportProgress string
	RepairStart    string
	RepairProgress string
	CSRFToken      string
	Jobs           []job.Job
}

// admin renders the page the command line client discovers its endpoints from.
func (h *handler) admin(w http.ResponseWriter, r *http.Request) {
	jobs, err := h.jobSvc.List(r.Context(), job.ListJobsRequest{})
	if err != nil {
		writeAppError(w, err)
		return
	}
	if len(jobs) > recentJobs {
		jobs = jobs[:recentJobs]
	}

	page := adminPage{
		ImportStart:    "/dictionary/import/start",
		ImportProgress: "/dictionary/import/progress",
		RepairStart:    "/dictionary/repair/start",
		RepairProgress: "/dictionary/repair/progress",
		CSRFToken:      h.csrfToken,
		Jobs:           jobs,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := adminTmpl.Execute(w, page); err != nil {
		slog.Error("render admin page", "error", err)
	}
}
