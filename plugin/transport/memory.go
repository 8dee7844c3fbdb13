package transport

import (
	"context"
	"sync"
	"time"
)

type memoryJob struct {
	status  Status
	task    string
	tokens  []string
	changed chan struct{}
	expiry  *time.Timer
}

// Memory is an in-process Transport. It serves a single server process
// running its own workers.
type Memory struct {
	mu        sync.Mutex
	jobs      map[string]*memoryJob
	retention time.Duration
}

func NewMemory(retention time.Duration) *Memory {
	return &Memory{
		jobs:      map[string]*memoryJob{},
		retention: retention,
	}
}

// job returns the job, creating it when missing. Callers hold mu.
func (m *Memory) job(jobID string) *memoryJob {
	j, ok := m.jobs[jobID]
	if !ok {
		j = &memoryJob{changed: make(chan struct{})}
		m.jobs[jobID] = j
	}
	return j
}

// notify wakes every reader waiting on the job. Callers hold mu.
func (*Memory) notify(j *memoryJob) {
	close(j.changed)
	j.changed = make(chan struct{})
}

func (m *Memory) SetStatus(_ context.Context, jobID string, status Status) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	j := m.job(jobID)
	j.status = status
	if status.Terminal() && j.expiry == nil {
		j.expiry = time.AfterFunc(m.retention, func() {
			m.mu.Lock()
			defer m.mu.Unlock()
			if m.jobs[jobID] == j {
				delete(m.jobs, jobID)
			}
		})
	}
	m.notify(j)
	return nil
}

func (m *Memory) Claim(_ context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || j.status != StatusPending {
		return false, nil
	}
	j.status = StatusStarted
	m.notify(j)
	return true, nil
}

func (m *Memory) GetStatus(_ context.Context, jobID string) (Status, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[jobID]; ok {
		return j.status, nil
	}
	return "", nil
}

func (m *Memory) SetTask(_ context.Context, jobID, handle string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.job(jobID)
	j.task = handle
	m.notify(j)
	return nil
}

func (m *Memory) GetTask(_ context.Context, jobID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[jobID]; ok {
		return j.task, nil
	}
	return "", nil
}

func (m *Memory) AppendToken(_ context.Context, jobID, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j := m.job(jobID)
	j.tokens = append(j.tokens, token)
	m.notify(j)
	return nil
}

func (m *Memory) ReadSince(_ context.Context, jobID string, offset int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok || offset >= len(j.tokens) {
		return nil, nil
	}
	tokens := make([]string, len(j.tokens)-offset)
	copy(tokens, j.tokens[offset:])
	return tokens, nil
}

func (m *Memory) Exists(_ context.Context, jobID string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.jobs[jobID]
	return ok, nil
}

func (m *Memory) Trim(_ context.Context, jobID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	j, ok := m.jobs[jobID]
	if !ok {
		return nil
	}
	if j.expiry != nil {
		j.expiry.Stop()
	}
	delete(m.jobs, jobID)
	m.notify(j)
	return nil
}

func (m *Memory) Changed(jobID string) <-chan struct{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	if j, ok := m.jobs[jobID]; ok {
		return j.changed
	}
	// Unknown jobs never change; the caller's timers decide.
	return make(chan struct{})
}
