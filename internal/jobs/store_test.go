package jobs

import (
	"context"
	"errors"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"

	"github.com/opencdms/opencdms-process/internal/process"
)

func sampleJob(id string) Job {
	return Job{
		ID:      id,
		Process: "climatic-summary",
		Status:  StatusFailed,
		Created: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Err:     &process.Error{Kind: process.KindDependencyUnavailable, Message: "R missing", Missing: []string{"cdms.products"}},
	}
}

func TestMemoryStore_GetPutEvict(t *testing.T) {
	ctx := context.Background()
	s, err := NewMemoryStore(2, 0)
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	for _, id := range []string{"a", "b", "c"} {
		if err := s.Put(ctx, sampleJob(id)); err != nil {
			t.Fatalf("put %s: %v", id, err)
		}
	}
	if _, err := s.Get(ctx, "a"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("oldest job must be evicted, err=%v", err)
	}
	got, err := s.Get(ctx, "c")
	if err != nil || got.Err.Missing[0] != "cdms.products" {
		t.Fatalf("get c: %+v %v", got, err)
	}
	_ = s.Delete(ctx, "c")
	if _, err := s.Get(ctx, "c"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted job found")
	}
}

func TestMemoryStore_Expiry(t *testing.T) {
	ctx := context.Background()
	s, _ := NewMemoryStore(8, time.Minute)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	_ = s.Put(ctx, sampleJob("x"))

	now = now.Add(59 * time.Second)
	if _, err := s.Get(ctx, "x"); err != nil {
		t.Fatalf("job expired early: %v", err)
	}
	now = now.Add(2 * time.Second)
	if _, err := s.Get(ctx, "x"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected expiry, got %v", err)
	}
	if s.Len() != 0 {
		t.Fatalf("expired job must be removed, len=%d", s.Len())
	}
}

func newMini(t *testing.T, ttl time.Duration) (*RedisStore, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	t.Cleanup(cancel)

	s, err := NewRedisStore(ctx, mr.Addr(), ttl)
	if err != nil {
		t.Fatalf("NewRedisStore: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s, mr
}

func TestRedisStore_RoundTripAndTTL(t *testing.T) {
	s, mr := newMini(t, time.Hour)
	ctx := context.Background()

	if err := s.Put(ctx, sampleJob("j1")); err != nil {
		t.Fatalf("put: %v", err)
	}
	if ttl := mr.TTL(keyPrefix + "j1"); ttl != time.Hour {
		t.Fatalf("ttl=%v", ttl)
	}
	got, err := s.Get(ctx, "j1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got.Status != StatusFailed || got.Err.Kind != process.KindDependencyUnavailable || !got.Created.Equal(sampleJob("").Created) {
		t.Fatalf("got %+v", got)
	}

	mr.FastForward(2 * time.Hour)
	if _, err := s.Get(ctx, "j1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected not found after ttl, got %v", err)
	}
}

func TestRedisStore_DeleteAndErrors(t *testing.T) {
	s, mr := newMini(t, 0)
	ctx := context.Background()
	_ = s.Put(ctx, sampleJob("j2"))
	if err := s.Delete(ctx, "j2"); err != nil {
		t.Fatalf("del: %v", err)
	}
	if _, err := s.Get(ctx, "j2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("deleted job found: %v", err)
	}

	_ = mr.Set(keyPrefix+"junk", "{not json")
	if _, err := s.Get(ctx, "junk"); err == nil || errors.Is(err, ErrNotFound) {
		t.Fatalf("expected decode error, got %v", err)
	}

	mr.Close()
	if err := s.Put(ctx, sampleJob("j3")); err == nil {
		t.Fatalf("expected error with redis down")
	}
}

func TestNewRedisStore_Errors(t *testing.T) {
	if _, err := NewRedisStore(context.Background(), "", 0); err == nil {
		t.Fatalf("empty address must fail")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	if _, err := NewRedisStore(ctx, "127.0.0.1:1", 0, WithDialTimeout(100*time.Millisecond)); err == nil {
		t.Fatalf("unreachable redis must fail")
	}
}
