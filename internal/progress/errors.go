package progress

import "errors"

var (
	// ErrMissingParam means a required parameter was absent or empty; nothing was sent.
	ErrMissingParam = errors.New("missing required parameter")
	// ErrAlreadyRunning means a poll cycle is already active for the job.
	ErrAlreadyRunning = errors.New("job is already being tracked")
	// ErrRejected means the server answered the start request with a non-2xx status.
	ErrRejected = errors.New("start request rejected")
)

// ErrJobFailed means the job ended in an error: reported by the server, or
// because the progress endpoint stayed unreachable.
var ErrJobFailed = errors.New("job failed")

var errPollerUsed = errors.New("poller already finished")
