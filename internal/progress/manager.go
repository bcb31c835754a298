package progress

import (
	"errors"
	"sync"

	"github.com/google/uuid"
)

// ErrJobRunning is returned when a job is already active for an owner.
var ErrJobRunning = errors.New("a processing job is already running for this owner")

// Manager tracks jobs by ID and by owner. At most one job may be active per
// owner; the most recent terminal job of an owner stays retrievable until
// the next one starts.
type Manager struct {
	mu     sync.Mutex
	byID   map[string]*Job
	active map[string]*Job
	last   map[string]*Job
}

// NewManager creates an empty job manager.
func NewManager() *Manager {
	return &Manager{
		byID:   make(map[string]*Job),
		active: make(map[string]*Job),
		last:   make(map[string]*Job),
	}
}

// Start registers a new pending job for the owner. It fails with
// ErrJobRunning when the owner already has an active job.
func (m *Manager) Start(owner, folderID string) (*Job, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.active[owner]; ok {
		return nil, ErrJobRunning
	}

	job := NewJob(uuid.New().String(), owner, folderID)
	job.onTerminal = m.release

	// The previous terminal job is replaced by the new one.
	if prev, ok := m.last[owner]; ok {
		delete(m.byID, prev.ID())
		delete(m.last, owner)
	}

	m.active[owner] = job
	m.byID[job.ID()] = job
	return job, nil
}

// release moves a job from the active map to the terminal archive. Wired as
// the job's terminal hook by Start.
func (m *Manager) release(job *Job) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.active[job.Owner()] == job {
		delete(m.active, job.Owner())
		m.last[job.Owner()] = job
	}
}

// Get retrieves a job by ID.
func (m *Manager) Get(id string) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.byID[id]
	return job, ok
}

// Active retrieves the owner's currently running job, if any.
func (m *Manager) Active(owner string) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.active[owner]
	return job, ok
}

// Last retrieves the owner's most recent terminal job, if any.
func (m *Manager) Last(owner string) (*Job, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	job, ok := m.last[owner]
	return job, ok
}
