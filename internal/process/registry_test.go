package process

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/opencdms/opencdms-process/internal/core/model"
)

type stubProc struct {
	id   string
	exec func() Result
}

func (s stubProc) Metadata() Metadata { return Metadata{ID: s.id} }

func (s stubProc) Execute(context.Context, Request) Result { return s.exec() }

func TestInvoke_PanicBecomesInternalError(t *testing.T) {
	r := &Registry{procs: map[string]Processor{}}
	p := stubProc{id: "boom", exec: func() Result { panic("nil map") }}

	res := r.Invoke(context.Background(), p, Request{})
	if res.Err == nil || res.Err.Kind != KindInternal {
		t.Fatalf("expected internal error, got %+v", res)
	}
}

func TestInvoke_CanceledContext(t *testing.T) {
	r := &Registry{procs: map[string]Processor{}}
	called := false
	p := stubProc{id: "x", exec: func() Result { called = true; return Result{} }}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if res := r.Invoke(ctx, p, Request{}); res.Err == nil {
		t.Fatalf("expected error for canceled context")
	}
	if called {
		t.Fatalf("processor must not run")
	}
}

func TestBuild_RegisteredFactories(t *testing.T) {
	Register("test-echo", func(Deps) (Processor, error) {
		return stubProc{id: "test-echo", exec: func() Result { return Result{Outputs: map[string]any{"ok": true}} }}, nil
	})
	r, err := Build(Deps{})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	p, ok := r.Get("test-echo")
	if !ok {
		t.Fatalf("test-echo not built; ids=%v", IDs())
	}
	if res := r.Invoke(context.Background(), p, Request{}); !res.OK() {
		t.Fatalf("result=%+v", res)
	}
	if l := r.List(); len(l) == 0 || l[0].ID == "" {
		t.Fatalf("list=%v", l)
	}
}

func TestBuild_FactoryErrorIsReported(t *testing.T) {
	Register("test-broken", func(Deps) (Processor, error) { return nil, errors.New("no provider") })
	defer func() {
		mu.Lock()
		delete(factories, "test-broken")
		mu.Unlock()
	}()
	if _, err := Build(Deps{}); err == nil {
		t.Fatalf("expected factory error")
	}
}

func TestErrorFrom_Classifies(t *testing.T) {
	cases := map[Kind]error{
		KindInvalidInput:          fmt.Errorf("wrap: %w", &model.InvalidFilterError{Key: "x", Reason: "bad"}),
		KindArchiveNotFound:       &model.ArchiveNotFoundError{Location: "/x"},
		KindDependencyUnavailable: &model.DependencyUnavailableError{Dependency: "R"},
		KindInternal:              errors.New("disk on fire"),
	}
	for want, err := range cases {
		if got := ErrorFrom(err); got.Kind != want {
			t.Fatalf("%v: kind=%s want %s", err, got.Kind, want)
		}
	}
	if ErrorFrom(nil) != nil {
		t.Fatalf("nil error must map to nil")
	}
}
