package progress

import (
	"fmt"
	"io"
	"sync"
)

// Display is the status region a poller renders into. Calls for one poller
// never overlap.
type Display interface {
	ShowStatus(text string)
	ShowCounters(read, skipped int64)
}

// WriterDisplay prints every update as a line, prefixed with the job type.
type WriterDisplay struct {
	mu     sync.Mutex
	w      io.Writer
	prefix string
}

// NewWriterDisplay returns a Display writing to w. Several pollers may share it.
func NewWriterDisplay(w io.Writer, prefix string) *WriterDisplay {
	return &WriterDisplay{w: w, prefix: prefix}
}

func (d *WriterDisplay) ShowStatus(text string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, _ = fmt.Fprintf(d.w, "[%s] %s\n", d.prefix, text)
}

func (d *WriterDisplay) ShowCounters(read, skipped int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, _ = fmt.Fprintf(d.w, "[%s] read=%d skipped=%d\n", d.prefix, read, skipped)
}
