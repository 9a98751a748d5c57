package progress

import (
	"context"
	"sort"
	"sync"
)

// Manager keeps at most one active poller per job identity.
type Manager struct {
	transport  Transport
	newDisplay func(kind string) Display
	opts       []Option

	mu     sync.Mutex
	active map[string]*Poller
}

// NewManager creates a manager. newDisplay is called once per started job.
func NewManager(transport Transport, newDisplay func(kind string) Display, opts ...Option) *Manager {
	return &Manager{
		transport:  transport,
		newDisplay: newDisplay,
		opts:       opts,
		active:     make(map[string]*Poller),
	}
}

// Start begins tracking a job. It returns ErrAlreadyRunning when a poller for
// the same job type and identity is still active.
func (m *Manager) Start(ctx context.Context, kind Kind, params Params) (*Poller, error) {
	key := kind.Identity(params)

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.active[key]; ok {
		return nil, ErrAlreadyRunning
	}

	p := NewPoller(kind, m.transport, m.newDisplay(kind.Name), m.opts...)
	if err := p.Start(ctx, params); err != nil {
		return nil, err
	}
	m.active[key] = p

	go func() {
		<-p.Done()
		m.mu.Lock()
		defer m.mu.Unlock()
		if m.active[key] == p {
			delete(m.active, key)
		}
	}()
	return p, nil
}

// Active lists the identities of the jobs being tracked.
func (m *Manager) Active() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	keys := make([]string, 0, len(m.active))
	for k := range m.active {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Close tears down every active poller.
func (m *Manager) Close() {
	m.mu.Lock()
	pollers := make([]*Poller, 0, len(m.active))
	for _, p := range m.active {
		pollers = append(pollers, p)
	}
	m.mu.Unlock()

	for _, p := range pollers {
		p.Close()
	}
}
