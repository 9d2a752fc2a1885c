// Package rscript is the boundary to the R statistical runtime. Scripts run
// in a scratch directory through Rscript; availability of the runtime and its
// packages is probed and kept as first-class status.
package rscript

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os/exec"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sony/gobreaker"
	"github.com/spf13/afero"

	"github.com/opencdms/opencdms-process/internal/core/model"
	"github.com/opencdms/opencdms-process/internal/core/observability"
)

// Dependency names the runtime in DependencyUnavailableError.
const Dependency = "R runtime (Rscript)"

const metricName = "rscript"

type Config struct {
	Path            string
	Packages        []string
	ProbeTimeout    time.Duration
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.Path == "" {
		c.Path = "Rscript"
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = 20 * time.Second
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 3
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	return c
}

type Status struct {
	Available bool      `json:"available"`
	Runtime   string    `json:"runtime"`
	Version   string    `json:"version,omitempty"`
	Packages  []string  `json:"packages,omitempty"`
	Missing   []string  `json:"missing,omitempty"`
	Message   string    `json:"message,omitempty"`
	CheckedAt time.Time `json:"checked_at"`
}

// Ready reports whether the runtime and every probed package are present.
func (s Status) Ready() bool { return s.Available && len(s.Missing) == 0 }

type Option func(*Runtime)

func WithRunner(r Runner) Option { return func(rt *Runtime) { rt.runner = r } }

func WithLogger(l *slog.Logger) Option {
	return func(rt *Runtime) {
		if l != nil {
			rt.log = l
		}
	}
}

// WithFs sets where scratch directories are created. Scripts only see them
// when this is the host filesystem.
func WithFs(fs afero.Fs) Option { return func(rt *Runtime) { rt.fs = fs } }

type Runtime struct {
	cfg    Config
	runner Runner
	fs     afero.Fs
	log    *slog.Logger
	cb     *gobreaker.CircuitBreaker

	mu       sync.RWMutex
	status   Status
	probed   bool
	packages map[string]bool
	wanted   map[string]struct{}
}

func New(cfg Config, opts ...Option) *Runtime {
	rt := &Runtime{
		cfg:      cfg.withDefaults(),
		runner:   Exec{},
		fs:       afero.NewOsFs(),
		log:      slog.New(slog.DiscardHandler),
		packages: map[string]bool{},
		wanted:   map[string]struct{}{},
	}
	for _, p := range rt.cfg.Packages {
		rt.wanted[p] = struct{}{}
	}
	for _, o := range opts {
		o(rt)
	}
	rt.log = rt.log.With("component", "rscript")
	rt.status = Status{Runtime: rt.cfg.Path, Message: "not probed yet"}

	failures := rt.cfg.BreakerFailures
	rt.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        metricName,
		MaxRequests: 1,
		Interval:    time.Minute,
		Timeout:     rt.cfg.BreakerCooldown,
		ReadyToTrip: func(c gobreaker.Counts) bool {
			return c.ConsecutiveFailures >= failures
		},
		IsSuccessful: func(err error) bool { return !brokenRuntime(err) },
		OnStateChange: func(name string, from, to gobreaker.State) {
			observability.SetBreakerState(name, int(to))
			rt.log.Warn("runtime breaker state changed", "from", from.String(), "to", to.String())
		},
	})
	return rt
}

func (r *Runtime) Status() Status {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st := r.status
	st.Packages = append([]string(nil), st.Packages...)
	st.Missing = append([]string(nil), st.Missing...)
	return st
}

// Watch adds pkgs to the packages every Probe checks.
func (r *Runtime) Watch(pkgs ...string) {
	r.mu.Lock()
	for _, p := range pkgs {
		r.wanted[p] = struct{}{}
	}
	r.mu.Unlock()
}

func (r *Runtime) watched() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.wanted)+len(r.packages))
	for p := range r.wanted {
		out = append(out, p)
	}
	for p := range r.packages {
		if _, ok := r.wanted[p]; !ok {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

var versionRe = regexp.MustCompile(`version (\d+\.\d+(?:\.\d+)?)`)

// Probe checks that Rscript starts and which watched packages load.
func (r *Runtime) Probe(ctx context.Context) Status {
	ctx, cancel := context.WithTimeout(ctx, r.cfg.ProbeTimeout)
	defer cancel()

	st := Status{Runtime: r.cfg.Path, CheckedAt: time.Now().UTC()}
	stdout, stderr, err := r.runner.Run(ctx, "", r.cfg.Path, "--version")
	if err != nil {
		st.Message = startFailure(err, stderr)
		r.store(st, nil)
		return r.Status()
	}
	if m := versionRe.FindSubmatch(append(stdout, stderr...)); m != nil {
		st.Version = string(m[1])
	}
	st.Available = true

	found, err := r.checkPackages(ctx, r.watched())
	if err != nil {
		st.Message = err.Error()
	}
	r.store(st, found)
	return r.Status()
}

func (r *Runtime) store(st Status, found map[string]bool) {
	r.mu.Lock()
	for p, ok := range found {
		r.packages[p] = ok
	}
	if !st.Available {
		clear(r.packages)
	}
	for p, ok := range r.packages {
		if ok {
			st.Packages = append(st.Packages, p)
		} else {
			st.Missing = append(st.Missing, p)
		}
	}
	sort.Strings(st.Packages)
	sort.Strings(st.Missing)
	r.status, r.probed = st, true
	r.mu.Unlock()

	observability.SetRuntimeAvailable(metricName, st.Ready())
	if st.Ready() {
		r.log.Debug("runtime probed", "version", st.Version, "packages", st.Packages)
	} else {
		r.log.Warn("runtime not ready", "available", st.Available, "missing", st.Missing, "message", st.Message)
	}
}

func (r *Runtime) checkPackages(ctx context.Context, pkgs []string) (map[string]bool, error) {
	if len(pkgs) == 0 {
		return nil, nil
	}
	quoted := make([]string, len(pkgs))
	for i, p := range pkgs {
		quoted[i] = fmt.Sprintf("%q", p)
	}
	expr := fmt.Sprintf(`for (p in c(%s)) cat(p, requireNamespace(p, quietly = TRUE), "\n")`, strings.Join(quoted, ", "))
	stdout, stderr, err := r.runner.Run(ctx, "", r.cfg.Path, "-e", expr)
	if err != nil {
		return nil, fmt.Errorf("package check: %s", startFailure(err, stderr))
	}
	found := make(map[string]bool, len(pkgs))
	for _, line := range strings.Split(string(stdout), "\n") {
		f := strings.Fields(line)
		if len(f) == 2 {
			found[f[0]] = f[1] == "TRUE"
		}
	}
	for _, p := range pkgs {
		if _, ok := found[p]; !ok {
			found[p] = false
		}
	}
	return found, nil
}

// Require returns a *model.DependencyUnavailableError unless the runtime and
// all pkgs are usable. Packages not seen before are checked on demand.
func (r *Runtime) Require(ctx context.Context, pkgs ...string) error {
	r.mu.RLock()
	probed := r.probed
	r.mu.RUnlock()
	if !probed {
		r.Probe(ctx)
	}

	r.mu.RLock()
	st := r.status
	var unknown []string
	for _, p := range pkgs {
		if _, ok := r.packages[p]; !ok {
			unknown = append(unknown, p)
		}
	}
	r.mu.RUnlock()
	if !st.Available {
		return &model.DependencyUnavailableError{Dependency: Dependency, Reason: st.Message}
	}
	if len(unknown) > 0 {
		found, err := r.checkPackages(ctx, unknown)
		if err != nil {
			return &model.DependencyUnavailableError{Dependency: Dependency, Reason: err.Error()}
		}
		st.CheckedAt = time.Now().UTC()
		st.Packages, st.Missing = nil, nil
		r.store(st, found)
	}

	r.mu.RLock()
	var missing []string
	for _, p := range pkgs {
		if !r.packages[p] {
			missing = append(missing, p)
		}
	}
	r.mu.RUnlock()
	if len(missing) > 0 {
		sort.Strings(missing)
		return &model.DependencyUnavailableError{Dependency: Dependency, Missing: missing}
	}
	return nil
}

// Call is one script execution. Inputs are written next to the script and
// Output names the file the script must leave behind.
type Call struct {
	Script string
	Inputs map[string][]byte
	Output string
	Args   []string
}

var missingPkgRe = regexp.MustCompile(`there is no package called ['‘’"]?([A-Za-z0-9._]+)`)

// Run executes c and returns the bytes of its output file.
func (r *Runtime) Run(ctx context.Context, c Call) ([]byte, error) {
	dir, err := afero.TempDir(r.fs, "", "rscript-")
	if err != nil {
		return nil, fmt.Errorf("scratch dir: %w", err)
	}
	defer func() {
		if err := r.fs.RemoveAll(dir); err != nil {
			r.log.Warn("scratch dir not removed", "dir", dir, "err", err)
		}
	}()

	if err := afero.WriteFile(r.fs, filepath.Join(dir, "script.R"), []byte(c.Script), 0o600); err != nil {
		return nil, fmt.Errorf("write script: %w", err)
	}
	for name, data := range c.Inputs {
		if err := afero.WriteFile(r.fs, filepath.Join(dir, name), data, 0o600); err != nil {
			return nil, fmt.Errorf("write input %s: %w", name, err)
		}
	}

	args := append([]string{"--vanilla", "script.R"}, c.Args...)
	out, err := r.cb.Execute(func() (interface{}, error) {
		_, stderr, err := r.runner.Run(ctx, dir, r.cfg.Path, args...)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, r.runFailure(err, stderr)
		}
		data, err := afero.ReadFile(r.fs, filepath.Join(dir, c.Output))
		if err != nil {
			return nil, fmt.Errorf("%w: %s: %w", errNoOutput, c.Output, err)
		}
		return data, nil
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, &model.DependencyUnavailableError{Dependency: Dependency, Reason: "suspended after repeated failures"}
		}
		return nil, err
	}
	data, ok := out.([]byte)
	if !ok {
		return nil, fmt.Errorf("unexpected result type %T", out)
	}
	return data, nil
}

func (r *Runtime) runFailure(err error, stderr []byte) error {
	if isNotFound(err) {
		r.store(Status{Runtime: r.cfg.Path, CheckedAt: time.Now().UTC(), Message: startFailure(err, stderr)}, nil)
		return &model.DependencyUnavailableError{Dependency: Dependency, Reason: "Rscript not found"}
	}
	if m := missingPkgRe.FindSubmatch(stderr); m != nil {
		pkg := string(m[1])
		st := r.Status()
		st.Packages, st.Missing = nil, nil
		r.store(st, map[string]bool{pkg: false})
		return &model.DependencyUnavailableError{Dependency: Dependency, Missing: []string{pkg}}
	}
	var ec exitCoder
	if errors.As(err, &ec) && ec.ExitCode() > 0 && ec.ExitCode() < 128 {
		return &ScriptError{Code: ec.ExitCode(), Stderr: tail(stderr, 512)}
	}
	return fmt.Errorf("rscript: %w: %s", err, tail(stderr, 512))
}

// ScriptError is a script that ran and exited non-zero, usually through
// stop(). The runtime itself is fine.
type ScriptError struct {
	Code   int
	Stderr string
}

func (e *ScriptError) Error() string {
	return fmt.Sprintf("rscript: exit status %d: %s", e.Code, e.Stderr)
}

type exitCoder interface{ ExitCode() int }

var errNoOutput = errors.New("script produced no output")

// brokenRuntime reports whether err means Rscript cannot be started or
// crashed. Only those count against the breaker.
func brokenRuntime(err error) bool {
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var se *ScriptError
	if errors.As(err, &se) || errors.Is(err, errNoOutput) {
		return false
	}
	var due *model.DependencyUnavailableError
	if errors.As(err, &due) && len(due.Missing) > 0 {
		return false
	}
	return true
}

func isNotFound(err error) bool {
	return errors.Is(err, exec.ErrNotFound) || errors.Is(err, afero.ErrFileNotFound)
}

func startFailure(err error, stderr []byte) string {
	if isNotFound(err) {
		return "Rscript not found"
	}
	if s := tail(stderr, 256); s != "" {
		return fmt.Sprintf("%v: %s", err, s)
	}
	return err.Error()
}

func tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		s = "..." + s[len(s)-n:]
	}
	return s
}
