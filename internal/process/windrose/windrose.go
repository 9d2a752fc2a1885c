// Package windrose renders a wind rose chart for the observations selected
// by a filter.
package windrose

import (
	"bytes"
	"context"
	_ "embed"
	"encoding/base64"
	"errors"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/opencdms/opencdms-process/internal/core/model"
	"github.com/opencdms/opencdms-process/internal/process"
	"github.com/opencdms/opencdms-process/internal/runtime/rscript"
	"github.com/opencdms/opencdms-process/internal/table"
)

const ID = "windrose-generator"

//go:embed windrose.R
var script string

var packages = []string{"clifro", "magick"}

var requiredElements = []string{"wind_direction", "wind_speed"}

// Example is used whenever a request does not carry all of its inputs.
var Example = map[string]any{
	"src_id":   838,
	"period":   "hourly",
	"year":     1991,
	"elements": []any{"wind_speed", "wind_direction"},
}

func init() {
	process.Register(ID, New)
}

type Processor struct {
	deps process.Deps
	log  *slog.Logger
}

func New(deps process.Deps) (process.Processor, error) {
	if deps.Provider == nil {
		return nil, errors.New("windrose needs an observation provider")
	}
	if deps.Runtime == nil {
		return nil, errors.New("windrose needs a runtime")
	}
	log := deps.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return &Processor{deps: deps, log: log.With("process", ID)}, nil
}

func (p *Processor) Metadata() process.Metadata {
	return process.Metadata{
		ID:          ID,
		Version:     "0.2.0",
		Title:       "Windrose Generator",
		Description: "Generates windrose chart.",
		Keywords:    []string{"windrose-generator", "opencdms"},
		Inputs:      process.FilterSchema(),
		Outputs: map[string]process.Output{
			"windrose": {
				Title:       "Windrose chart",
				Description: "Return a chart with windrose visualization.",
				Schema:      map[string]any{"type": "string", "contentMediaType": "image/png", "contentEncoding": "base64"},
			},
		},
		Example:  map[string]any{"inputs": Example},
		Packages: packages,
	}
}

// filters uses the request inputs only when all four are present.
func filters(inputs map[string]any) model.FilterSpec {
	for _, k := range []string{"src_id", "period", "year", "elements"} {
		if _, ok := inputs[k]; !ok {
			return model.FilterSpec(Example)
		}
	}
	return model.FilterSpec(inputs)
}

func (p *Processor) Execute(ctx context.Context, req process.Request) process.Result {
	f := filters(req.Inputs)
	plan, err := p.deps.Provider.Plan(f)
	if err != nil {
		return process.Failed(err)
	}
	for _, e := range requiredElements {
		if !slices.Contains(plan.Elements, e) {
			return process.Result{Err: process.InvalidInput("elements must include %s", e)}
		}
	}
	if err := p.deps.Runtime.Require(ctx, packages...); err != nil {
		return process.Failed(err)
	}

	tb, err := p.deps.Provider.Obs(ctx, f)
	if err != nil {
		return process.Failed(err)
	}
	if tb.Len() == 0 {
		return process.Result{Err: process.InvalidInput("no observations match the inputs")}
	}
	if completeRows(tb) == 0 {
		return process.Result{Err: process.InvalidInput("no observation has both wind_direction and wind_speed")}
	}
	var csv bytes.Buffer
	if err := tb.WriteDelimited(&csv, ','); err != nil {
		return process.Failed(err)
	}

	png, err := p.deps.Runtime.Run(ctx, rscript.Call{
		Script: script,
		Inputs: map[string][]byte{"obs.csv": csv.Bytes()},
		Output: "windrose.png",
		Args:   p.title(tb.Stations()),
	})
	if err != nil {
		return process.Failed(err)
	}
	p.log.DebugContext(ctx, "windrose rendered", "rows", tb.Len(), "bytes", len(png))
	return process.Result{
		MediaType: "application/json",
		Outputs: map[string]any{
			"windrose": "data:image/png;base64," + base64.StdEncoding.EncodeToString(png),
			"skipped":  tb.Skipped(),
		},
	}
}

func completeRows(tb *table.Table) int {
	dir, speed := tb.Column("wind_direction"), tb.Column("wind_speed")
	n := 0
	for i := range min(len(dir), len(speed)) {
		if dir[i].Valid && speed[i].Valid {
			n++
		}
	}
	return n
}

// title returns the chart title args: station ids and, for a single
// station, its name.
func (p *Processor) title(ids []int) []string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(id)
	}
	name := ""
	if len(ids) == 1 && p.deps.Stations != nil {
		if st, ok := p.deps.Stations.Get(ids[0]); ok {
			name = st.Name
		}
	}
	return []string{strings.Join(parts, ","), name}
}
