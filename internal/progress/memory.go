package progress

import (
	"context"
	"sync"
	"time"
)

type entry struct {
	pct   float64
	timer *time.Timer
}

// MemoryTracker keeps progress in process memory. Suitable when the API and
// the ingest worker run in the same process.
type MemoryTracker struct {
	mu        sync.Mutex
	jobs      map[int64]*entry
	retention time.Duration
}

func NewMemoryTracker(retention time.Duration) *MemoryTracker {
	if retention <= 0 {
		retention = DefaultRetention
	}
	return &MemoryTracker{jobs: make(map[int64]*entry), retention: retention}
}

func (t *MemoryTracker) Start(ctx context.Context, jobID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if e, ok := t.jobs[jobID]; ok && e.timer != nil {
		e.timer.Stop()
	}
	t.jobs[jobID] = &entry{}
	return nil
}

func (t *MemoryTracker) Advance(ctx context.Context, jobID int64, pct float64) error {
	pct = clamp(pct)

	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.jobs[jobID]
	if !ok {
		e = &entry{}
		t.jobs[jobID] = e
	}
	if pct > e.pct {
		e.pct = pct
	}
	return nil
}

func (t *MemoryTracker) Get(ctx context.Context, jobID int64) (float64, bool, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.jobs[jobID]
	if !ok {
		return 0, false, nil
	}
	return e.pct, true, nil
}

func (t *MemoryTracker) Finish(ctx context.Context, jobID int64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	e, ok := t.jobs[jobID]
	if !ok {
		return nil
	}
	if e.timer != nil {
		e.timer.Stop()
	}
	e.timer = time.AfterFunc(t.retention, func() {
		t.mu.Lock()
		defer t.mu.Unlock()
		// A restarted job owns a fresh entry.
		if cur, ok := t.jobs[jobID]; ok && cur == e {
			delete(t.jobs, jobID)
		}
	})
	return nil
}
