package products

import (
	"context"
	_ "embed"
	"strings"

	"github.com/opencdms/opencdms-process/internal/core/model"
	"github.com/opencdms/opencdms-process/internal/process"
)

const MissingID = "climatic-missing"

//go:embed climatic_missing.R
var missingScript string

func init() {
	process.Register(MissingID, NewMissing)
}

type Missing struct{ product }

func NewMissing(deps process.Deps) (process.Processor, error) {
	p, err := newProduct(deps, MissingID, missingScript, "missing")
	if err != nil {
		return nil, err
	}
	return &Missing{p}, nil
}

func (p *Missing) Metadata() process.Metadata {
	in := process.FilterSchema()
	in["start"] = process.Input{
		Title:       "Start",
		Description: "Count from the first observation of each station rather than the first date.",
		Schema:      map[string]any{"type": "boolean", "default": true},
	}
	in["end"] = process.Input{
		Title:       "End",
		Description: "Count up to the last observation of each station rather than the last date.",
		Schema:      map[string]any{"type": "boolean", "default": false},
	}
	return process.Metadata{
		ID:          MissingID,
		Version:     "0.1.0",
		Title:       "Climatic Missing",
		Description: "Summarises the number and percentage of missing values of elements per station.",
		Keywords:    []string{"climatic-missing", "cdms.products", "opencdms"},
		Inputs:      in,
		Outputs:     p.outputs("Missing data table"),
		Example: map[string]any{"inputs": map[string]any{
			"src_id": 838, "period": "hourly", "year": 1991, "elements": []string{"wind_speed"},
		}},
		Packages: packages,
	}
}

func (p *Missing) Execute(ctx context.Context, req process.Request) process.Result {
	f, rest := process.FilterInputs(req.Inputs)
	start, err := process.Bool(rest, "start", true)
	if err != nil {
		return process.Failed(err)
	}
	end, err := process.Bool(rest, "end", false)
	if err != nil {
		return process.Failed(err)
	}
	if err := process.Unexpected(rest, "start", "end"); err != nil {
		return process.Failed(err)
	}
	return p.run(ctx, f, func(plan model.QueryPlan) []string {
		return []string{flag(start), flag(end), strings.Join(plan.Elements, ",")}
	})
}
