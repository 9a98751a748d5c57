package progress

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Status tags with a fixed meaning. Any other tag reported by the server
// (e.g. "preparing", "working 1/0/3") means the job is still in progress.
const (
	StatusIdle  = "idle"
	StatusDone  = "done"
	StatusError = "error"
)

// Report is the body returned by a progress endpoint.
type Report struct {
	Status  string `json:"status"`
	Read    int64  `json:"read,omitempty"`
	Skipped int64  `json:"skipped,omitempty"`
	Message string `json:"msg,omitempty"`
	Method  string `json:"method,omitempty"`
}

// Terminal reports whether no further polling should happen after r.
func (r Report) Terminal() bool {
	return r.Status == StatusDone || r.Status == StatusError
}

// HasCounters reports whether at least one counter is positive.
func (r Report) HasCounters() bool {
	return r.Read > 0 || r.Skipped > 0
}

// Text renders the report the way the status region shows it:
// "status method (read=N, skipped=M)", followed by ": msg" when a message is set.
func (r Report) Text() string {
	var b strings.Builder
	b.WriteString(r.Status)
	if r.Method != "" {
		b.WriteByte(' ')
		b.WriteString(r.Method)
	}
	fmt.Fprintf(&b, " (read=%d, skipped=%d)", r.Read, r.Skipped)
	if r.Message != "" {
		b.WriteString(": ")
		b.WriteString(r.Message)
	}
	return b.String()
}

// ErrorText renders an error report.
func (r Report) ErrorText() string {
	if r.Message == "" {
		return "Error"
	}
	return "Error: " + r.Message
}

var errMissingStatus = errors.New("report has no status")

// UnmarshalJSON decodes a report strictly: status is mandatory and counters
// may not be negative. Unknown fields are ignored.
func (r *Report) UnmarshalJSON(data []byte) error {
	var raw struct {
		Status  *string `json:"status"`
		Read    int64   `json:"read"`
		Skipped int64   `json:"skipped"`
		Message string  `json:"msg"`
		Method  string  `json:"method"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Status == nil || strings.TrimSpace(*raw.Status) == "" {
		return errMissingStatus
	}
	if raw.Read < 0 || raw.Skipped < 0 {
		return fmt.Errorf("negative counters in report (read=%d, skipped=%d)", raw.Read, raw.Skipped)
	}
	*r = Report{
		Status:  strings.TrimSpace(*raw.Status),
		Read:    raw.Read,
		Skipped: raw.Skipped,
		Message: raw.Message,
		Method:  raw.Method,
	}
	return nil
}
