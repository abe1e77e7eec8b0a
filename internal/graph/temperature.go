package graph

import (
	"context"

	"github.com/DataDog/sketches-go/ddsketch"

	"github.com/xtxerr/pyrometer/internal/storage/query"
)

// HeatProfile summarizes the distribution of per-entity values produced by
// a temperature node. Total includes the unattributed share; the
// percentiles cover attributed entities only.
type HeatProfile struct {
	Count int64
	Total float64
	P50   float64
	P90   float64
	P99   float64
}

// evaluateTemperature completes a temperature node's result: the aggregate
// over rows where the unattributed dimension is the no-value marker, plus a
// distribution summary of the attributed per-entity values.
//
// Unattributed rows carry consumption that cannot be assigned to any entity
// of the dimension (shared or background work). It still counts toward the
// total; reassigning entities cannot reduce it. This misattribution is a
// known, accepted approximation.
func (n *Node) evaluateTemperature(ctx context.Context, engine *query.Engine, out *Result) error {
	unattributed, err := engine.QueryUnattributed(ctx,
		n.Metric, n.UnattributedDimension, n.Aggregation)
	if err != nil {
		return err
	}
	out.Unattributed = unattributed

	sketch, err := ddsketch.NewDefaultDDSketch(0.01)
	if err != nil {
		log.Warn("heat profile sketch unavailable", "node", n.Name, "error", err)
		return nil
	}

	profile := &HeatProfile{}
	for _, row := range out.Rows {
		if !row.Value.Valid {
			continue
		}
		if dim, ok := row.Dimensions[n.UnattributedDimension]; ok && !dim.Valid {
			// The grouped view repeats the unattributed share as a
			// NULL-dimension tuple; it is already accounted for.
			continue
		}
		profile.Count++
		profile.Total += row.Value.Float64
		sketch.Add(row.Value.Float64)
	}
	if unattributed.Valid {
		profile.Total += unattributed.Float64
	}

	if profile.Count > 0 {
		profile.P50, _ = sketch.GetValueAtQuantile(0.50)
		profile.P90, _ = sketch.GetValueAtQuantile(0.90)
		profile.P99, _ = sketch.GetValueAtQuantile(0.99)
	}
	out.Profile = profile
	return nil
}
