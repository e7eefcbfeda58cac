package memory

import (
	"context"
	"sync"

	"expensemanager/internal/core"
)

// Mirror records applied tasks in memory. Failures can be scripted with
// FailNext.
type Mirror struct {
	mu       sync.Mutex
	applied  []core.SyncTask
	failures []error
}

func New() *Mirror {
	return &Mirror{}
}

func (m *Mirror) Apply(_ context.Context, task core.SyncTask) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.failures) > 0 {
		err := m.failures[0]
		m.failures = m.failures[1:]
		return &core.SyncError{Operation: task.Operation, Err: err}
	}
	m.applied = append(m.applied, task)
	return nil
}

// FailNext makes the next n calls fail with err.
func (m *Mirror) FailNext(n int, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := 0; i < n; i++ {
		m.failures = append(m.failures, err)
	}
}

// Applied returns the tasks applied so far, in order.
func (m *Mirror) Applied() []core.SyncTask {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]core.SyncTask(nil), m.applied...)
}
