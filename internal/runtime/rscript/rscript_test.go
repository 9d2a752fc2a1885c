package rscript

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/spf13/afero"

	"github.com/opencdms/opencdms-process/internal/core/model"
)

// fakeR answers like Rscript for --version and package checks and runs
// scripts by calling script.
type fakeR struct {
	mu        sync.Mutex
	missing   error
	installed map[string]bool
	script    func(dir string) ([]byte, error)
	runs      int
}

func (f *fakeR) Run(_ context.Context, dir, name string, args ...string) ([]byte, []byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.missing != nil {
		return nil, nil, f.missing
	}
	switch {
	case len(args) == 1 && args[0] == "--version":
		return nil, []byte("Rscript (R) version 4.3.1 (2023-06-16)\n"), nil
	case len(args) == 2 && args[0] == "-e":
		var b strings.Builder
		for p, ok := range f.installed {
			if strings.Contains(args[1], `"`+p+`"`) {
				if ok {
					b.WriteString(p + " TRUE \n")
				} else {
					b.WriteString(p + " FALSE \n")
				}
			}
		}
		return []byte(b.String()), nil, nil
	default:
		f.runs++
		stderr, err := f.script(dir)
		return nil, stderr, err
	}
}

// exitErr stands in for *exec.ExitError.
type exitErr int

func (e exitErr) Error() string { return fmt.Sprintf("exit status %d", int(e)) }

func (e exitErr) ExitCode() int { return int(e) }

func notFound() error {
	return &exec.Error{Name: "Rscript", Err: exec.ErrNotFound}
}

func TestProbe_ReportsVersionAndMissingPackages(t *testing.T) {
	f := &fakeR{installed: map[string]bool{"clifro": true, "magick": false}}
	rt := New(Config{Packages: []string{"clifro", "magick"}}, WithRunner(f))

	st := rt.Probe(context.Background())
	if !st.Available || st.Version != "4.3.1" {
		t.Fatalf("status=%+v", st)
	}
	if st.Ready() {
		t.Fatalf("must not be ready with a missing package")
	}
	if len(st.Missing) != 1 || st.Missing[0] != "magick" {
		t.Fatalf("missing=%v", st.Missing)
	}
	if st.CheckedAt.IsZero() {
		t.Fatalf("CheckedAt not set")
	}
}

func TestRequire_RuntimeAbsentNamesRuntime(t *testing.T) {
	rt := New(Config{}, WithRunner(&fakeR{missing: notFound()}))

	err := rt.Require(context.Background(), "clifro")
	if !errors.Is(err, model.ErrDependencyUnavailable) {
		t.Fatalf("expected ErrDependencyUnavailable, got %v", err)
	}
	var due *model.DependencyUnavailableError
	if !errors.As(err, &due) || due.Dependency != Dependency {
		t.Fatalf("error must name the runtime: %v", err)
	}
	if !strings.Contains(err.Error(), "Rscript") {
		t.Fatalf("message must mention Rscript: %q", err.Error())
	}
	if rt.Status().Available {
		t.Fatalf("status must say unavailable")
	}
}

func TestRequire_ChecksUnknownPackagesOnDemand(t *testing.T) {
	f := &fakeR{installed: map[string]bool{"clifro": true, "cdms.products": false}}
	rt := New(Config{Packages: []string{"clifro"}}, WithRunner(f))

	if err := rt.Require(context.Background(), "clifro"); err != nil {
		t.Fatalf("clifro: %v", err)
	}
	err := rt.Require(context.Background(), "cdms.products")
	var due *model.DependencyUnavailableError
	if !errors.As(err, &due) || len(due.Missing) != 1 || due.Missing[0] != "cdms.products" {
		t.Fatalf("expected cdms.products missing, got %v", err)
	}
}

func TestProbe_ChecksWatchedPackages(t *testing.T) {
	f := &fakeR{installed: map[string]bool{"clifro": true, "cdms.products": false}}
	rt := New(Config{}, WithRunner(f))
	rt.Watch("cdms.products", "clifro")

	st := rt.Probe(context.Background())
	if len(st.Packages) != 1 || st.Packages[0] != "clifro" || len(st.Missing) != 1 {
		t.Fatalf("status=%+v", st)
	}

	f.mu.Lock()
	f.installed["cdms.products"] = true
	f.mu.Unlock()
	if st = rt.Probe(context.Background()); !st.Ready() {
		t.Fatalf("installed package not picked up: %+v", st)
	}
}

func TestRun_ReturnsOutputAndCleansUp(t *testing.T) {
	fs := afero.NewMemMapFs()
	var seen string
	f := &fakeR{script: func(dir string) ([]byte, error) {
		seen = dir
		in, err := afero.ReadFile(fs, filepath.Join(dir, "obs.csv"))
		if err != nil {
			return []byte("cannot open obs.csv"), errors.New("exit status 1")
		}
		return nil, afero.WriteFile(fs, filepath.Join(dir, "out.txt"), append([]byte("ok:"), in...), 0o600)
	}}
	rt := New(Config{}, WithRunner(f), WithFs(fs))

	out, err := rt.Run(context.Background(), Call{
		Script: "writeLines('ok')",
		Inputs: map[string][]byte{"obs.csv": []byte("a,b\n")},
		Output: "out.txt",
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if string(out) != "ok:a,b\n" {
		t.Fatalf("out=%q", out)
	}
	if ok, _ := afero.DirExists(fs, seen); ok {
		t.Fatalf("scratch dir %s left behind", seen)
	}
}

func TestRun_MissingPackageInStderr(t *testing.T) {
	f := &fakeR{script: func(string) ([]byte, error) {
		return []byte("Error in library(clifro) : there is no package called ‘clifro’\nExecution halted\n"), errors.New("exit status 1")
	}}
	rt := New(Config{}, WithRunner(f), WithFs(afero.NewMemMapFs()))

	_, err := rt.Run(context.Background(), Call{Script: "library(clifro)", Output: "x"})
	var due *model.DependencyUnavailableError
	if !errors.As(err, &due) || len(due.Missing) != 1 || due.Missing[0] != "clifro" {
		t.Fatalf("expected clifro missing, got %v", err)
	}
}

func TestRun_BreakerStopsSpawningAfterFailures(t *testing.T) {
	f := &fakeR{script: func(string) ([]byte, error) {
		return []byte("segfault"), errors.New("exit status 139")
	}}
	rt := New(Config{BreakerFailures: 2, BreakerCooldown: time.Hour}, WithRunner(f), WithFs(afero.NewMemMapFs()))

	for i := 0; i < 2; i++ {
		_, err := rt.Run(context.Background(), Call{Output: "x"})
		if err == nil || errors.Is(err, model.ErrDependencyUnavailable) {
			t.Fatalf("run %d: expected plain failure, got %v", i, err)
		}
	}
	_, err := rt.Run(context.Background(), Call{Output: "x"})
	if !errors.Is(err, model.ErrDependencyUnavailable) {
		t.Fatalf("expected open breaker to report unavailable, got %v", err)
	}
	if f.runs != 2 {
		t.Fatalf("runs=%d want 2", f.runs)
	}
}

func TestRun_CancelledCallsDoNotTripBreaker(t *testing.T) {
	f := &fakeR{script: func(string) ([]byte, error) {
		return []byte("killed"), exitErr(-1)
	}}
	fs := afero.NewMemMapFs()
	rt := New(Config{BreakerFailures: 2, BreakerCooldown: time.Hour}, WithRunner(f), WithFs(fs))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < 3; i++ {
		if _, err := rt.Run(ctx, Call{Output: "x"}); !errors.Is(err, context.Canceled) {
			t.Fatalf("run %d: expected context.Canceled, got %v", i, err)
		}
	}

	f.script = func(dir string) ([]byte, error) {
		return nil, afero.WriteFile(fs, filepath.Join(dir, "x"), []byte("ok"), 0o600)
	}
	out, err := rt.Run(context.Background(), Call{Output: "x"})
	if err != nil || string(out) != "ok" {
		t.Fatalf("healthy run after cancellations: out=%q err=%v", out, err)
	}
}

func TestRun_ScriptErrorsDoNotTripBreaker(t *testing.T) {
	f := &fakeR{script: func(string) ([]byte, error) {
		return []byte("Error: no complete wind observations\nExecution halted\n"), exitErr(1)
	}}
	rt := New(Config{BreakerFailures: 2, BreakerCooldown: time.Hour}, WithRunner(f), WithFs(afero.NewMemMapFs()))

	for i := 0; i < 4; i++ {
		_, err := rt.Run(context.Background(), Call{Output: "x"})
		var se *ScriptError
		if !errors.As(err, &se) || se.Code != 1 || !strings.Contains(se.Stderr, "no complete wind") {
			t.Fatalf("run %d: expected script error, got %v", i, err)
		}
	}
	if f.runs != 4 {
		t.Fatalf("runs=%d want 4", f.runs)
	}
}

func TestRun_MissingOutputDoesNotTripBreaker(t *testing.T) {
	f := &fakeR{script: func(string) ([]byte, error) { return nil, nil }}
	rt := New(Config{BreakerFailures: 1, BreakerCooldown: time.Hour}, WithRunner(f), WithFs(afero.NewMemMapFs()))

	for i := 0; i < 2; i++ {
		if _, err := rt.Run(context.Background(), Call{Output: "x"}); err == nil || errors.Is(err, model.ErrDependencyUnavailable) {
			t.Fatalf("run %d: got %v", i, err)
		}
	}
	if f.runs != 2 {
		t.Fatalf("runs=%d want 2", f.runs)
	}
}

func TestRun_CrashesTripBreaker(t *testing.T) {
	f := &fakeR{script: func(string) ([]byte, error) { return nil, exitErr(-1) }}
	rt := New(Config{BreakerFailures: 2, BreakerCooldown: time.Hour}, WithRunner(f), WithFs(afero.NewMemMapFs()))

	for i := 0; i < 2; i++ {
		var se *ScriptError
		if _, err := rt.Run(context.Background(), Call{Output: "x"}); err == nil || errors.As(err, &se) {
			t.Fatalf("run %d: a crash is not a script error: %v", i, err)
		}
	}
	if _, err := rt.Run(context.Background(), Call{Output: "x"}); !errors.Is(err, model.ErrDependencyUnavailable) {
		t.Fatalf("expected open breaker, got %v", err)
	}
}

func TestMonitor_ProbesImmediately(t *testing.T) {
	rt := New(Config{}, WithRunner(&fakeR{installed: map[string]bool{}}))
	m, err := rt.Monitor(time.Hour)
	if err != nil {
		t.Fatalf("Monitor: %v", err)
	}
	defer m.Stop()

	deadline := time.Now().Add(2 * time.Second)
	for rt.Status().CheckedAt.IsZero() {
		if time.Now().After(deadline) {
			t.Fatalf("monitor did not probe")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if !rt.Status().Available {
		t.Fatalf("status=%+v", rt.Status())
	}
}
