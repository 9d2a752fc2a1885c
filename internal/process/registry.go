package process

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sort"
	"sync"
	"time"

	"github.com/opencdms/opencdms-process/internal/core/observability"
)

var (
	mu        sync.RWMutex
	factories = map[string]Factory{}
)

// Register makes a process available under id. Later registrations replace
// earlier ones.
func Register(id string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	factories[id] = f
}

func IDs() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(factories))
	for id := range factories {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Registry holds the built processors of one host.
type Registry struct {
	procs map[string]Processor
	log   *slog.Logger
}

// Build instantiates every registered process with deps.
func Build(deps Deps) (*Registry, error) {
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	r := &Registry{procs: map[string]Processor{}, log: deps.Logger}
	mu.RLock()
	defer mu.RUnlock()
	for id, f := range factories {
		p, err := f(deps)
		if err != nil {
			return nil, fmt.Errorf("process %s: %w", id, err)
		}
		r.procs[id] = p
	}
	return r, nil
}

func (r *Registry) Get(id string) (Processor, bool) {
	p, ok := r.procs[id]
	return p, ok
}

// List returns process metadata sorted by id.
func (r *Registry) List() []Metadata {
	out := make([]Metadata, 0, len(r.procs))
	for _, p := range r.procs {
		out = append(out, p.Metadata())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Invoke runs p and turns a panic into an internal error result.
func (r *Registry) Invoke(ctx context.Context, p Processor, req Request) (res Result) {
	id := p.Metadata().ID
	start := time.Now()
	defer func() {
		if v := recover(); v != nil {
			r.log.ErrorContext(ctx, "process panicked", "process", id, "panic", fmt.Sprint(v), "stack", string(debug.Stack()))
			res = Result{MediaType: "application/json", Err: &Error{Kind: KindInternal, Message: fmt.Sprintf("process %s failed unexpectedly", id)}}
		}
		outcome := "ok"
		if res.Err != nil {
			outcome = string(res.Err.Kind)
		}
		observability.ObserveProcess(id, outcome, time.Since(start).Seconds())
		r.log.InfoContext(ctx, "process executed", "process", id, "outcome", outcome, "duration_ms", time.Since(start).Milliseconds())
	}()

	if req.Inputs == nil {
		req.Inputs = map[string]any{}
	}
	if err := ctx.Err(); err != nil {
		return Failed(err)
	}
	return p.Execute(ctx, req)
}
