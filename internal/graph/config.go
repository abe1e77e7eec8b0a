package graph

import (
	"github.com/xtxerr/pyrometer/config"
	"github.com/xtxerr/pyrometer/internal/storage/query"
)

// FromConfig builds a graph from the declarative daemon configuration.
// Nodes without an interval get the default; nodes without an aggregation
// read sums. A node declaring an unattributed dimension becomes a
// temperature calculator.
func FromConfig(gc *config.GraphConfig) (*Graph, error) {
	g := New()
	for _, nc := range gc.Nodes {
		interval := nc.IntervalSec
		if interval == 0 {
			interval = config.DefaultNodeIntervalSec
		}
		agg := query.Aggregation(nc.Aggregation)
		if nc.Aggregation == "" {
			agg = query.AggSum
		}
		n := &Node{
			Name:                  nc.Name,
			IntervalSec:           interval,
			Metric:                nc.Metric,
			Aggregation:           agg,
			GroupBy:               nc.GroupBy,
			FilterUnattributed:    nc.UnattributedDimension != "",
			UnattributedDimension: nc.UnattributedDimension,
		}
		if err := g.AddNode(n); err != nil {
			return nil, err
		}
	}
	for _, ec := range gc.Edges {
		if err := g.Connect(ec.From, ec.To); err != nil {
			return nil, err
		}
	}
	return g, nil
}
