// Package jobindex remembers the render jobs seen by the bridge so videos can
// be listed without scanning the media directory.
package jobindex

import (
	"context"
	"sort"
	"sync"
	"time"
)

// Record describes one render job.
type Record struct {
	JobID     string    `json:"job_id"`
	Scene     string    `json:"scene,omitempty"`
	Quality   string    `json:"quality,omitempty"`
	Success   bool      `json:"success"`
	CreatedAt time.Time `json:"created_at"`
}

// Store persists job records.
type Store interface {
	Put(ctx context.Context, r Record) error
	Get(ctx context.Context, jobID string) (Record, bool, error)
	// List returns up to limit records, newest first.
	List(ctx context.Context, limit int) ([]Record, error)
}

// Memory is an in-process Store.
type Memory struct {
	mu   sync.RWMutex
	jobs map[string]Record
}

// NewMemory returns an empty in-process store.
func NewMemory() *Memory {
	return &Memory{jobs: map[string]Record{}}
}

func (m *Memory) Put(_ context.Context, r Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.jobs[r.JobID] = r
	return nil
}

func (m *Memory) Get(_ context.Context, jobID string) (Record, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.jobs[jobID]
	return r, ok, nil
}

func (m *Memory) List(_ context.Context, limit int) ([]Record, error) {
	m.mu.RLock()
	out := make([]Record, 0, len(m.jobs))
	for _, r := range m.jobs {
		out = append(out, r)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].JobID < out[j].JobID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
