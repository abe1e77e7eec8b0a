package query

import (
	"context"
	"database/sql"
	"strings"

	"github.com/xtxerr/pyrometer/internal/errors"
	"github.com/xtxerr/pyrometer/internal/storage/metricsdb"
)

// QueryUnattributed aggregates the rows of one metric where the given
// dimension holds the explicit no-value marker. These rows carry consumption
// that could not be attributed to any entity of that dimension (shared or
// background cost); it still counts toward totals even though it cannot be
// assigned to a specific entity.
//
// A missing table, or zero matching rows, both yield an invalid
// sql.NullFloat64 with a nil error.
func (e *Engine) QueryUnattributed(ctx context.Context, metric, dimension string, agg Aggregation) (sql.NullFloat64, error) {
	var none sql.NullFloat64
	if err := metricsdb.ValidIdent(metric); err != nil {
		return none, err
	}
	if err := metricsdb.ValidIdent(dimension); err != nil {
		return none, err
	}
	if !e.db.MetricExists(metric) {
		log.Info("metric table does not exist, returning null for the metric",
			"window", e.db.WindowStart(),
			"metric", metric)
		return none, nil
	}

	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(agg.Func())
	b.WriteString("(")
	b.WriteString(metricsdb.QuoteIdent(agg.Column()))
	b.WriteString(") FROM ")
	b.WriteString(metricsdb.QuoteIdent(metric))
	b.WriteString(" WHERE ")
	b.WriteString(metricsdb.QuoteIdent(dimension))
	b.WriteString(" IS NULL")

	rows, err := e.db.QueryContext(ctx, b.String())
	if err != nil {
		e.reporter.Record(errors.KindQueryError)
		return none, errors.Wrapf(errors.ErrAccess, "query unattributed %s: %v", metric, err)
	}
	defer rows.Close()

	var value sql.NullFloat64
	if rows.Next() {
		if err := rows.Scan(&value); err != nil {
			e.reporter.Record(errors.KindQueryError)
			return none, errors.Wrapf(errors.ErrAccess, "scan unattributed %s: %v", metric, err)
		}
	}
	if err := rows.Err(); err != nil {
		e.reporter.Record(errors.KindQueryError)
		return none, errors.Wrapf(errors.ErrAccess, "query unattributed %s: %v", metric, err)
	}
	return value, nil
}
