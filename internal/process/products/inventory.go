package products

import (
	"context"
	_ "embed"
	"strings"

	"github.com/opencdms/opencdms-process/internal/core/model"
	"github.com/opencdms/opencdms-process/internal/process"
)

const InventoryID = "inventory-table"

//go:embed inventory_table.R
var inventoryScript string

func init() {
	process.Register(InventoryID, NewInventory)
}

type Inventory struct{ product }

func NewInventory(deps process.Deps) (process.Processor, error) {
	p, err := newProduct(deps, InventoryID, inventoryScript, "inventory")
	if err != nil {
		return nil, err
	}
	return &Inventory{p}, nil
}

func (p *Inventory) Metadata() process.Metadata {
	in := process.FilterSchema()
	in["missing_indicator"] = process.Input{
		Title:       "Missing indicator",
		Description: "Marker for a missing value.",
		Schema:      map[string]any{"type": "string", "default": "M"},
	}
	in["observed_indicator"] = process.Input{
		Title:       "Observed indicator",
		Description: "Marker for an observed value.",
		Schema:      map[string]any{"type": "string", "default": "X"},
	}
	return process.Metadata{
		ID:          InventoryID,
		Version:     "0.1.0",
		Title:       "Inventory Table",
		Description: "Marks every day of every station and element as observed or missing.",
		Keywords:    []string{"inventory-table", "cdms.products", "opencdms"},
		Inputs:      in,
		Outputs:     p.outputs("Inventory table"),
		Example: map[string]any{"inputs": map[string]any{
			"src_id": 838, "period": "daily", "year": 1991, "elements": []string{"max_air_temp", "min_air_temp"},
		}},
		Packages: packages,
	}
}

func (p *Inventory) Execute(ctx context.Context, req process.Request) process.Result {
	f, rest := process.FilterInputs(req.Inputs)
	missing, err := process.String(rest, "missing_indicator", "M")
	if err != nil {
		return process.Failed(err)
	}
	observed, err := process.String(rest, "observed_indicator", "X")
	if err != nil {
		return process.Failed(err)
	}
	if missing == observed {
		return process.Failed(process.InvalidInput("missing_indicator and observed_indicator must differ"))
	}
	if err := process.Unexpected(rest, "missing_indicator", "observed_indicator"); err != nil {
		return process.Failed(err)
	}
	return p.run(ctx, f, func(plan model.QueryPlan) []string {
		return []string{missing, observed, strings.Join(plan.Elements, ",")}
	})
}
