// Package products runs the cdms.products climate products over archive
// observations. Every product reads the filtered observation table, hands
// it to an R script and returns the resulting data frame as rows.
package products

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strconv"
	"strings"

	"github.com/opencdms/opencdms-process/internal/core/model"
	"github.com/opencdms/opencdms-process/internal/process"
	"github.com/opencdms/opencdms-process/internal/runtime/rscript"
)

var packages = []string{"cdms.products"}

// Targets are the time groupings a product can be put into.
var Targets = []string{
	"hourly", "daily", "pentad", "dekadal", "monthly",
	"annual-within-year", "annual", "longterm-monthly",
	"longterm-within-year", "station", "overall",
}

const outFile = "out.csv"

type product struct {
	id     string
	script string
	output string
	deps   process.Deps
	log    *slog.Logger
}

func newProduct(deps process.Deps, id, script, output string) (product, error) {
	if deps.Provider == nil || deps.Runtime == nil {
		return product{}, errors.New(id + " needs a provider and a runtime")
	}
	log := deps.Logger
	if log == nil {
		log = slog.New(slog.DiscardHandler)
	}
	return product{id: id, script: script, output: output, deps: deps, log: log.With("process", id)}, nil
}

func (p product) outputs(title string) map[string]process.Output {
	return map[string]process.Output{
		p.output: {
			Title:  title,
			Schema: map[string]any{"type": "array", "items": map[string]any{"type": "object"}},
		},
		"skipped": {
			Title:  "Skipped records",
			Schema: map[string]any{"type": "integer"},
		},
	}
}

// run reads the observations selected by f and calls the script with the
// args built from the query plan.
func (p product) run(ctx context.Context, f model.FilterSpec, args func(model.QueryPlan) []string) process.Result {
	plan, err := p.deps.Provider.Plan(f)
	if err != nil {
		return process.Failed(err)
	}
	if err := p.deps.Runtime.Require(ctx, packages...); err != nil {
		return process.Failed(err)
	}

	tb, err := p.deps.Provider.Obs(ctx, f)
	if err != nil {
		return process.Failed(err)
	}
	if tb.Len() == 0 {
		return process.Failed(process.InvalidInput("no observations match the inputs"))
	}
	var obs bytes.Buffer
	if err := tb.WriteDelimited(&obs, ','); err != nil {
		return process.Failed(err)
	}

	out, err := p.deps.Runtime.Run(ctx, rscript.Call{
		Script: p.script,
		Inputs: map[string][]byte{"obs.csv": obs.Bytes()},
		Output: outFile,
		Args:   args(plan),
	})
	if err != nil {
		return process.Failed(err)
	}
	rows, err := parseFrame(out)
	if err != nil {
		return process.Failed(fmt.Errorf("%s output: %w", p.id, err))
	}
	p.log.DebugContext(ctx, "product computed", "rows", len(rows), "skipped", tb.Skipped())
	return process.Result{
		MediaType: "application/json",
		Outputs:   map[string]any{p.output: rows, "skipped": tb.Skipped()},
	}
}

// parseFrame turns an R data frame written by write.csv into row objects.
// Numbers become float64; NA, NaN and infinities become null.
func parseFrame(data []byte) ([]map[string]any, error) {
	r := csv.NewReader(bytes.NewReader(data))
	records, err := r.ReadAll()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, errors.New("empty")
	}
	header := records[0]
	rows := make([]map[string]any, 0, len(records)-1)
	for _, rec := range records[1:] {
		row := make(map[string]any, len(header))
		for i, name := range header {
			if i >= len(rec) {
				row[name] = nil
				continue
			}
			row[name] = cell(name, rec[i])
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func cell(name, v string) any {
	if v == "NA" {
		return nil
	}
	if name == "src_id" {
		return v
	}
	f, err := strconv.ParseFloat(v, 64)
	if errors.Is(err, strconv.ErrRange) {
		return nil
	}
	if err != nil {
		return v
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return nil
	}
	return f
}

func flag(b bool) string { return strings.ToUpper(strconv.FormatBool(b)) }
