package jobs

import (
	"context"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"

	"github.com/opencdms/opencdms-process/internal/core/observability"
)

type memEntry struct {
	job     Job
	expires time.Time
}

// MemoryStore keeps at most size jobs, evicting the least recently used.
type MemoryStore struct {
	lru *lru.Cache[string, memEntry]
	ttl time.Duration
	now func() time.Time
}

func NewMemoryStore(size int, ttl time.Duration) (*MemoryStore, error) {
	if size <= 0 {
		size = 1024
	}
	c, err := lru.New[string, memEntry](size)
	if err != nil {
		return nil, err
	}
	return &MemoryStore{lru: c, ttl: ttl, now: time.Now}, nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (Job, error) {
	start := time.Now()
	e, ok := m.lru.Get(id)
	if ok && !e.expires.IsZero() && m.now().After(e.expires) {
		m.lru.Remove(id)
		ok = false
	}
	var err error
	if !ok {
		err = ErrNotFound
	}
	observability.ObserveStoreOp("memory", "get", err, time.Since(start).Seconds(), ErrNotFound)
	return e.job, err
}

func (m *MemoryStore) Put(_ context.Context, job Job) error {
	start := time.Now()
	e := memEntry{job: job}
	if m.ttl > 0 {
		e.expires = m.now().Add(m.ttl)
	}
	m.lru.Add(job.ID, e)
	observability.ObserveStoreOp("memory", "put", nil, time.Since(start).Seconds(), nil)
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, id string) error {
	m.lru.Remove(id)
	return nil
}

func (m *MemoryStore) Len() int { return m.lru.Len() }
