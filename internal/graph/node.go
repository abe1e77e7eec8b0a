// Package graph implements the analysis layer: a directed graph of nodes
// that read aggregated metrics from the current window store on a recurring
// schedule and derive higher-order signals such as per-resource temperature.
//
// Nodes are plain data. A node declares which metric it reads, the
// aggregation to apply, and the dimensions to group by; behavior variants
// are expressed as tags on the node rather than as separate node types. The
// unattributed-cost tag turns a node into a temperature calculator that
// additionally accounts for consumption no entity can claim.
package graph

import (
	"context"
	"database/sql"
	"sync"
	"sync/atomic"

	"github.com/xtxerr/pyrometer/internal/errors"
	"github.com/xtxerr/pyrometer/internal/logging"
	"github.com/xtxerr/pyrometer/internal/storage/query"
)

var log = logging.Component("graph")

// State is a node's evaluation state.
type State int32

const (
	Idle State = iota
	Evaluating
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Evaluating:
		return "evaluating"
	default:
		return "unknown"
	}
}

// Node is one unit of the analysis graph.
type Node struct {
	// Name identifies the node within its graph.
	Name string

	// IntervalSec is how often the node evaluates, in seconds. The
	// scheduler may override it without touching the graph.
	IntervalSec int

	// Metric, Aggregation and GroupBy declare the node's read: one
	// aggregated value per GroupBy tuple of Metric.
	Metric      string
	Aggregation query.Aggregation
	GroupBy     []string

	// FilterUnattributed tags the node as a temperature calculator: the
	// evaluation additionally aggregates rows where UnattributedDimension
	// is the explicit no-value marker, capturing shared cost that belongs
	// to no single entity of that dimension, and summarizes the
	// per-entity distribution as a heat profile.
	FilterUnattributed    bool
	UnattributedDimension string

	state atomic.Int32

	mu   sync.Mutex
	last *Result
}

// State returns the node's current evaluation state.
func (n *Node) State() State {
	return State(n.state.Load())
}

// Last returns the node's most recent evaluation result. Nil means the node
// has not produced a result yet, or its last evaluation found no data.
func (n *Node) Last() *Result {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.last
}

func (n *Node) setLast(r *Result) {
	n.mu.Lock()
	n.last = r
	n.mu.Unlock()
}

// tryBegin transitions Idle -> Evaluating. It fails if the node is already
// evaluating; a node never evaluates concurrently with itself.
func (n *Node) tryBegin() bool {
	return n.state.CompareAndSwap(int32(Idle), int32(Evaluating))
}

func (n *Node) finish() {
	n.state.Store(int32(Idle))
}

// validate checks the node's declaration at graph-insertion time.
func (n *Node) validate() error {
	if n.Name == "" {
		return errors.Wrap(errors.ErrInvalidArgument, "node name is empty")
	}
	if n.IntervalSec <= 0 {
		return errors.Wrapf(errors.ErrInvalidInterval,
			"node %s: interval %d", n.Name, n.IntervalSec)
	}
	if n.Metric == "" {
		return errors.Wrapf(errors.ErrInvalidArgument, "node %s: no metric", n.Name)
	}
	if _, err := query.ParseAggregation(string(n.Aggregation)); err != nil {
		return err
	}
	if n.FilterUnattributed && n.UnattributedDimension == "" {
		return errors.Wrapf(errors.ErrInvalidDimension,
			"node %s: unattributed filter without a dimension", n.Name)
	}
	return nil
}

// ResultRow is one derived value for one dimension tuple.
type ResultRow struct {
	Dimensions map[string]sql.NullString
	Value      sql.NullFloat64
}

// Result is the output of one node evaluation. A nil *Result is the absent
// result: the window held no data for the node's metric.
type Result struct {
	Node        string
	WindowStart int64
	Rows        []ResultRow

	// Unattributed and Profile are set only for nodes tagged with the
	// unattributed filter.
	Unattributed sql.NullFloat64
	Profile      *HeatProfile
}

// Evaluate runs the node's declared query against one window through the
// given engine. The engine (and the window handle behind it) is borrowed
// for this call only; the node keeps no reference to it.
//
// The absent result (nil, nil) means the metric has no table in the window.
func (n *Node) Evaluate(ctx context.Context, engine *query.Engine) (*Result, error) {
	res, err := engine.QueryMetrics(ctx,
		[]string{n.Metric},
		[]string{string(n.Aggregation)},
		n.GroupBy)
	if err != nil {
		return nil, err
	}
	if res.Missing() {
		return nil, nil
	}

	out := &Result{
		Node:        n.Name,
		WindowStart: engine.WindowStart(),
		Rows:        make([]ResultRow, 0, res.Len()),
	}
	for _, row := range res.Rows {
		out.Rows = append(out.Rows, ResultRow{
			Dimensions: row.Dimensions,
			Value:      row.Value(n.Metric),
		})
	}

	if n.FilterUnattributed {
		if err := n.evaluateTemperature(ctx, engine, out); err != nil {
			return nil, err
		}
	}
	return out, nil
}
