package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opencdms/opencdms-process/internal/logger"
	"github.com/opencdms/opencdms-process/internal/process"
)

// Invoker runs a processor and converts every failure into a Result.
type Invoker interface {
	Invoke(ctx context.Context, p process.Processor, req process.Request) process.Result
}

type Option func(*Manager)

func WithLogger(l *slog.Logger) Option {
	return func(m *Manager) { m.log = l }
}

func WithNotifier(n Notifier) Option {
	return func(m *Manager) { m.notify = n }
}

// WithTimeout bounds every job's execution.
func WithTimeout(d time.Duration) Option {
	return func(m *Manager) { m.timeout = d }
}

type Manager struct {
	store   Store
	inv     Invoker
	log     *slog.Logger
	notify  Notifier
	timeout time.Duration
	now     func() time.Time

	base   context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func NewManager(store Store, inv Invoker, opts ...Option) *Manager {
	m := &Manager{
		store: store,
		inv:   inv,
		log:   slog.New(slog.DiscardHandler),
		now:   func() time.Time { return time.Now().UTC() },
	}
	for _, o := range opts {
		o(m)
	}
	m.base, m.cancel = context.WithCancel(context.Background())
	return m
}

// Submit stores an accepted job and runs it in the background.
func (m *Manager) Submit(ctx context.Context, p process.Processor, req process.Request) (Job, error) {
	job := Job{
		ID:      uuid.NewString(),
		Process: p.Metadata().ID,
		Status:  StatusAccepted,
		Created: m.now(),
	}
	if err := m.store.Put(ctx, job); err != nil {
		return Job{}, fmt.Errorf("store job: %w", err)
	}
	m.emit(job)

	// the job outlives the request; keep only its request id
	jctx := logger.WithJobID(m.base, job.ID)
	if rid, ok := logger.RequestID(ctx); ok {
		jctx = logger.WithRequestID(jctx, rid)
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.run(jctx, job, p, req)
	}()
	return job, nil
}

func (m *Manager) run(ctx context.Context, job Job, p process.Processor, req process.Request) {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	started := m.now()
	job.Status = StatusRunning
	job.Started = &started
	_ = m.save(ctx, job)
	m.emit(job)

	res := m.inv.Invoke(ctx, p, req)

	finished := m.now()
	job.Finished = &finished
	if res.OK() {
		job.Status = StatusSuccessful
		job.MediaType = res.MediaType
		job.Outputs = res.Outputs
	} else {
		job.Status = StatusFailed
		job.Err = res.Err
		job.Message = res.Err.Message
	}
	// the run context may be expired by now
	saveCtx := context.WithoutCancel(ctx)
	if err := m.save(saveCtx, job); err != nil && job.Status == StatusSuccessful {
		job.Status = StatusFailed
		job.MediaType, job.Outputs = "", nil
		job.Err = &process.Error{Kind: process.KindInternal, Message: "results not stored: " + err.Error()}
		job.Message = job.Err.Message
		_ = m.save(saveCtx, job)
	}
	m.emit(job)
	m.log.InfoContext(ctx, "job finished", "job_id", job.ID, "process", job.Process,
		"status", string(job.Status), "dur_ms", finished.Sub(started).Milliseconds())
}

func (m *Manager) save(ctx context.Context, job Job) error {
	err := m.store.Put(ctx, job)
	if err != nil {
		m.log.ErrorContext(ctx, "job store", "job_id", job.ID, "status", string(job.Status), "err", err)
	}
	return err
}

func (m *Manager) emit(job Job) {
	if m.notify == nil {
		return
	}
	ev := Event{JobID: job.ID, Process: job.Process, Status: job.Status, TS: m.now()}
	if job.Err != nil {
		ev.Kind = string(job.Err.Kind)
	}
	m.notify.Notify(ev)
}

func (m *Manager) Get(ctx context.Context, id string) (Job, error) {
	return m.store.Get(ctx, id)
}

// Close cancels running jobs and waits for them to record their outcome.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()
}

// Wait blocks until all submitted jobs are done.
func (m *Manager) Wait() {
	m.wg.Wait()
}
