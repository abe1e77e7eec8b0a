package query

import (
	"github.com/xtxerr/pyrometer/internal/errors"
	"github.com/xtxerr/pyrometer/internal/storage/metricsdb"
)

// Aggregation selects which of the four fixed aggregate columns a query
// reads, and which SQL aggregate function folds it across rows sharing a
// dimension tuple. Requesting "avg" applies AVG over the stored avg column:
// a second-order aggregation of a pre-aggregated value. The precision loss
// of re-averaging averages is accepted; changing it would change the values
// this system has always reported.
type Aggregation string

const (
	AggSum Aggregation = metricsdb.Sum
	AggAvg Aggregation = metricsdb.Avg
	AggMin Aggregation = metricsdb.Min
	AggMax Aggregation = metricsdb.Max
)

// ParseAggregation validates an aggregation token. Anything outside
// {sum, avg, min, max} fails before any storage is touched.
func ParseAggregation(token string) (Aggregation, error) {
	switch Aggregation(token) {
	case AggSum, AggAvg, AggMin, AggMax:
		return Aggregation(token), nil
	default:
		return "", errors.Wrapf(errors.ErrUnsupportedAggregation, "%q", token)
	}
}

// ParseAggregations validates a list of tokens, failing on the first bad one.
func ParseAggregations(tokens []string) ([]Aggregation, error) {
	aggs := make([]Aggregation, len(tokens))
	for i, token := range tokens {
		agg, err := ParseAggregation(token)
		if err != nil {
			return nil, err
		}
		aggs[i] = agg
	}
	return aggs, nil
}

// Column returns the fixed aggregate column this aggregation reads.
func (a Aggregation) Column() string {
	return string(a)
}

// Func returns the SQL aggregate function applied over the column.
func (a Aggregation) Func() string {
	switch a {
	case AggSum:
		return "SUM"
	case AggAvg:
		return "AVG"
	case AggMin:
		return "MIN"
	default:
		return "MAX"
	}
}
