package products

import (
	"context"
	_ "embed"
	"slices"
	"strings"

	"github.com/opencdms/opencdms-process/internal/core/model"
	"github.com/opencdms/opencdms-process/internal/process"
)

const SummaryID = "climatic-summary"

//go:embed climatic_summary.R
var summaryScript string

// Summaries are the statistics a caller may ask for.
var Summaries = []string{"mean", "sd", "min", "max", "median", "sum", "n"}

func init() {
	process.Register(SummaryID, NewSummary)
}

type Summary struct{ product }

func NewSummary(deps process.Deps) (process.Processor, error) {
	p, err := newProduct(deps, SummaryID, summaryScript, "summary")
	if err != nil {
		return nil, err
	}
	return &Summary{p}, nil
}

func (p *Summary) Metadata() process.Metadata {
	in := process.FilterSchema()
	in["summaries"] = process.Input{
		Title:       "Summaries",
		Description: "Summary statistics to compute.",
		Schema:      map[string]any{"type": "array", "items": map[string]any{"type": "string", "enum": Summaries}, "default": []string{"mean"}},
	}
	in["to"] = process.Input{
		Title:       "To",
		Description: "Time grouping of the summary.",
		Schema:      map[string]any{"type": "string", "enum": Targets, "default": "overall"},
	}
	in["na_rm"] = process.Input{
		Title:       "Remove missing values",
		Description: "Drop missing values before summarising.",
		Schema:      map[string]any{"type": "boolean", "default": false},
	}
	return process.Metadata{
		ID:          SummaryID,
		Version:     "0.1.0",
		Title:       "Climatic Summary",
		Description: "Calculates summary statistics of elements per station over a time grouping.",
		Keywords:    []string{"climatic-summary", "cdms.products", "opencdms"},
		Inputs:      in,
		Outputs:     p.outputs("Summary table"),
		Example: map[string]any{"inputs": map[string]any{
			"src_id": 838, "period": "hourly", "year": 1991,
			"elements": []string{"wind_speed"}, "summaries": []string{"mean", "max"}, "to": "monthly",
		}},
		Packages: packages,
	}
}

type summaryOptions struct {
	summaries []string
	to        string
	naRm      bool
}

func parseSummaryOptions(rest map[string]any) (summaryOptions, error) {
	var o summaryOptions
	var err error
	if o.summaries, err = process.Strings(rest, "summaries", []string{"mean"}); err != nil {
		return o, err
	}
	for _, s := range o.summaries {
		if !slices.Contains(Summaries, s) {
			return o, process.InvalidInput("unknown summary %q (allowed: %s)", s, strings.Join(Summaries, ", "))
		}
	}
	if len(o.summaries) == 0 {
		return o, process.InvalidInput("summaries must not be empty")
	}
	if o.to, err = target(rest); err != nil {
		return o, err
	}
	if o.naRm, err = process.Bool(rest, "na_rm", false); err != nil {
		return o, err
	}
	return o, process.Unexpected(rest, "summaries", "to", "na_rm")
}

func target(rest map[string]any) (string, error) {
	to, err := process.String(rest, "to", "overall")
	if err != nil {
		return "", err
	}
	if !slices.Contains(Targets, to) {
		return "", process.InvalidInput("unknown to %q (allowed: %s)", to, strings.Join(Targets, ", "))
	}
	return to, nil
}

func (p *Summary) Execute(ctx context.Context, req process.Request) process.Result {
	f, rest := process.FilterInputs(req.Inputs)
	opts, err := parseSummaryOptions(rest)
	if err != nil {
		return process.Failed(err)
	}
	return p.run(ctx, f, func(plan model.QueryPlan) []string {
		return []string{
			opts.to,
			flag(opts.naRm),
			strings.Join(opts.summaries, ","),
			strings.Join(plan.Elements, ","),
		}
	})
}
