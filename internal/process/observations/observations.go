// Package observations returns archive observations as a process result.
// It runs entirely in Go and never needs the R runtime.
package observations

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"

	"github.com/opencdms/opencdms-process/internal/process"
)

const ID = "observations"

func init() {
	process.Register(ID, New)
}

type Processor struct {
	deps process.Deps
}

func New(deps process.Deps) (process.Processor, error) {
	if deps.Provider == nil {
		return nil, errors.New("observations needs an observation provider")
	}
	return &Processor{deps: deps}, nil
}

func (p *Processor) Metadata() process.Metadata {
	in := process.FilterSchema()
	in["format"] = process.Input{
		Title:       "Format",
		Description: "json for row objects, csv for a comma separated export.",
		Schema:      map[string]any{"type": "string", "enum": []string{"json", "csv"}, "default": "json"},
	}
	return process.Metadata{
		ID:          ID,
		Version:     "0.1.0",
		Title:       "Observations",
		Description: "Returns the observations matching a filter as a table.",
		Keywords:    []string{"observations", "obs", "opencdms"},
		Inputs:      in,
		Outputs: map[string]process.Output{
			"observations": {Title: "Observation table", Schema: map[string]any{"type": "array"}},
			"skipped":      {Title: "Malformed records skipped", Schema: map[string]any{"type": "integer"}},
		},
		Example: map[string]any{"inputs": map[string]any{
			"src_id": 838, "period": "hourly", "year": 1991, "elements": []string{"wind_speed", "wind_direction"},
		}},
	}
}

func (p *Processor) Execute(ctx context.Context, req process.Request) process.Result {
	f, rest := process.FilterInputs(req.Inputs)
	format, err := process.String(rest, "format", "json")
	if err != nil {
		return process.Failed(err)
	}
	if err := process.Unexpected(rest, "format"); err != nil {
		return process.Failed(err)
	}
	if format != "json" && format != "csv" {
		return process.Failed(process.InvalidInput("format must be json or csv, got %q", format))
	}

	tb, err := p.deps.Provider.Obs(ctx, f)
	if err != nil {
		return process.Failed(err)
	}
	if format == "csv" {
		var buf bytes.Buffer
		if err := tb.WriteDelimited(&buf, ','); err != nil {
			return process.Failed(err)
		}
		return process.Result{
			MediaType: "text/csv",
			Outputs:   map[string]any{"observations": buf.String(), "skipped": tb.Skipped()},
		}
	}
	raw, err := json.Marshal(tb)
	if err != nil {
		return process.Failed(err)
	}
	return process.Result{
		MediaType: "application/json",
		Outputs:   map[string]any{"observations": json.RawMessage(raw), "skipped": tb.Skipped()},
	}
}
