// Package provider exposes archives of any registered family behind one
// query contract: filters in, observation table out.
package provider

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/opencdms/opencdms-process/internal/archive"
	"github.com/opencdms/opencdms-process/internal/core/model"
	"github.com/opencdms/opencdms-process/internal/core/observability"
	"github.com/opencdms/opencdms-process/internal/filter"
	"github.com/opencdms/opencdms-process/internal/table"
)

// Family is everything needed to serve one archive layout.
type Family struct {
	Name       string
	Vocabulary *filter.Vocabulary
	Reader     archive.Reader
}

type Factory func(logger *slog.Logger) Family

var (
	mu  sync.RWMutex
	reg = map[string]Factory{}
)

func Register(name string, f Factory) {
	mu.Lock()
	defer mu.Unlock()
	reg[name] = f
}

// Families returns the registered family names, sorted.
func Families() []string {
	mu.RLock()
	defer mu.RUnlock()
	out := make([]string, 0, len(reg))
	for n := range reg {
		out = append(out, n)
	}
	sort.Strings(out)
	return out
}

type Option func(*Provider)

func WithLogger(l *slog.Logger) Option {
	return func(p *Provider) {
		if l != nil {
			p.log = l
		}
	}
}

// Provider holds nothing but its family and location, so one value may
// serve any number of concurrent Obs calls.
type Provider struct {
	family Family
	loc    archive.Location
	log    *slog.Logger
}

func New(family string, loc archive.Location, opts ...Option) (*Provider, error) {
	p := &Provider{loc: loc, log: slog.New(slog.DiscardHandler)}
	for _, o := range opts {
		o(p)
	}

	mu.RLock()
	f, ok := reg[family]
	mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("no archive family %q (registered: %v)", family, Families())
	}
	p.log = p.log.With("family", family)
	p.family = f(p.log)

	if err := loc.Check(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Provider) Family() string { return p.family.Name }

func (p *Provider) Location() archive.Location { return p.loc }

func (p *Provider) Vocabulary() *filter.Vocabulary { return p.family.Vocabulary }

// Plan normalizes filters without touching the archive.
func (p *Provider) Plan(filters model.FilterSpec) (model.QueryPlan, error) {
	return filter.Normalize(filters, p.family.Vocabulary)
}

// Obs returns the observations matching filters. Unknown or malformed
// filters fail before any archive access.
func (p *Provider) Obs(ctx context.Context, filters model.FilterSpec) (*table.Table, error) {
	start := time.Now()
	plan, err := p.Plan(filters)
	if err != nil {
		p.observe("invalid_filter", 0, 0, start)
		return nil, err
	}

	cur, err := p.family.Reader.Open(ctx, p.loc, plan)
	if err != nil {
		p.observe(outcome(err), 0, 0, start)
		return nil, err
	}
	defer cur.Close()

	b := table.NewBuilder(plan.Elements)
	n := 0
	for rec := range cur.All() {
		b.Add(rec)
		n++
	}
	if err := cur.Err(); err != nil {
		p.observe(outcome(err), n, cur.Skipped(), start)
		return nil, fmt.Errorf("read %s: %w", p.loc, err)
	}
	b.Skip(cur.Skipped())
	t := b.Build()

	p.observe("ok", n, cur.Skipped(), start)
	p.log.DebugContext(ctx, "obs",
		"key", filter.Key(plan),
		"records", n,
		"rows", t.Len(),
		"skipped", cur.Skipped(),
		"segments", cur.Segments(),
		"duration_ms", time.Since(start).Milliseconds(),
	)
	if s := cur.Skipped(); s > 0 {
		p.log.WarnContext(ctx, "malformed records skipped", "key", filter.Key(plan), "skipped", s)
	}
	return t, nil
}

func (p *Provider) observe(outcome string, records, skipped int, start time.Time) {
	observability.ObserveObs(p.family.Name, outcome, records, skipped, time.Since(start).Seconds())
}

func outcome(err error) string {
	switch {
	case errors.Is(err, model.ErrArchiveNotFound):
		return "archive_not_found"
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return "canceled"
	default:
		return "error"
	}
}
