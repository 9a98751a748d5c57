package job

import (
	"time"

	"github.com/ahmethakanbesel/diadict/internal/progress"
)

// State is where a job is in its lifecycle. Status carries what the job
// reports about itself and is free text while running.
type State string

const (
	StatePending State = "pending"
	StateRunning State = "running"
	StateDone    State = "done"
	StateError   State = "error"
)

type Job struct {
	ID        int64             `json:"id"`
	Kind      string            `json:"kind"`
	Identity  string            `json:"identity"`
	Params    map[string]string `json:"params"`
	State     State             `json:"state"`
	Status    string            `json:"status"`
	Method    string            `json:"method,omitempty"`
	Message   string            `json:"msg,omitempty"`
	Read      int64             `json:"read"`
	Skipped   int64             `json:"skipped"`
	CreatedAt time.Time         `json:"createdAt"`
	UpdatedAt time.Time         `json:"updatedAt"`
}

func (j *Job) Terminal() bool {
	return j.State == StateDone || j.State == StateError
}

// Report is what the progress endpoint answers for j.
func (j *Job) Report() progress.Report {
	status := j.Status
	switch j.State {
	case StateDone:
		status = progress.StatusDone
	case StateError:
		status = progress.StatusError
	case StatePending:
		if status == "" {
			status = "queued"
		}
	case StateRunning:
		if status == "" {
			status = string(StateRunning)
		}
	}
	return progress.Report{
		Status:  status,
		Read:    j.Read,
		Skipped: j.Skipped,
		Message: j.Message,
		Method:  j.Method,
	}
}

// Finish marks j done.
func (j *Job) Finish() {
	j.State = StateDone
	j.Status = progress.StatusDone
}

// Fail marks j failed with msg.
func (j *Job) Fail(msg string) {
	j.State = StateError
	j.Status = progress.StatusError
	j.Message = msg
}
