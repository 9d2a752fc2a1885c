package products

import (
	"context"
	_ "embed"
	"strings"

	"github.com/opencdms/opencdms-process/internal/core/model"
	"github.com/opencdms/opencdms-process/internal/process"
)

const ExtremesID = "climatic-extremes"

//go:embed climatic_extremes.R
var extremesScript string

func init() {
	process.Register(ExtremesID, NewExtremes)
}

type Extremes struct{ product }

func NewExtremes(deps process.Deps) (process.Processor, error) {
	p, err := newProduct(deps, ExtremesID, extremesScript, "extremes")
	if err != nil {
		return nil, err
	}
	return &Extremes{p}, nil
}

var extremeFlags = []struct {
	key, title, desc string
	def              bool
}{
	{"max_val", "Maximum", "Calculate the extreme maximum.", true},
	{"min_val", "Minimum", "Calculate the extreme minimum.", false},
	{"first_date", "First date", "Include the first time the extreme occurred.", false},
	{"n_dates", "Number of dates", "Include how often the extreme occurred.", false},
	{"last_date", "Last date", "Include the last time the extreme occurred.", false},
	{"na_rm", "Remove missing values", "Drop missing values before calculating.", false},
}

func (p *Extremes) Metadata() process.Metadata {
	in := process.FilterSchema()
	in["to"] = process.Input{
		Title:       "To",
		Description: "Time grouping of the extremes.",
		Schema:      map[string]any{"type": "string", "enum": Targets, "default": "overall"},
	}
	for _, f := range extremeFlags {
		in[f.key] = process.Input{
			Title:       f.title,
			Description: f.desc,
			Schema:      map[string]any{"type": "boolean", "default": f.def},
		}
	}
	return process.Metadata{
		ID:          ExtremesID,
		Version:     "0.1.0",
		Title:       "Climatic Extremes",
		Description: "Calculates the minimum and/or maximum of elements per station over a time grouping.",
		Keywords:    []string{"climatic-extremes", "cdms.products", "opencdms"},
		Inputs:      in,
		Outputs:     p.outputs("Extremes table"),
		Example: map[string]any{"inputs": map[string]any{
			"src_id": 838, "period": "daily", "year": 1991,
			"elements": []string{"max_air_temp"}, "to": "monthly", "first_date": true,
		}},
		Packages: packages,
	}
}

func (p *Extremes) Execute(ctx context.Context, req process.Request) process.Result {
	f, rest := process.FilterInputs(req.Inputs)
	to, err := target(rest)
	if err != nil {
		return process.Failed(err)
	}
	flags := make(map[string]bool, len(extremeFlags))
	for _, fl := range extremeFlags {
		v, err := process.Bool(rest, fl.key, fl.def)
		if err != nil {
			return process.Failed(err)
		}
		flags[fl.key] = v
	}
	if !flags["max_val"] && !flags["min_val"] {
		return process.Failed(process.InvalidInput("at least one of max_val and min_val must be true"))
	}
	if err := process.Unexpected(rest, "to", "max_val", "min_val", "first_date", "n_dates", "last_date", "na_rm"); err != nil {
		return process.Failed(err)
	}
	return p.run(ctx, f, func(plan model.QueryPlan) []string {
		args := []string{to}
		for _, fl := range extremeFlags {
			args = append(args, flag(flags[fl.key]))
		}
		return append(args, strings.Join(plan.Elements, ","))
	})
}
