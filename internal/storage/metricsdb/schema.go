package metricsdb

import (
	"regexp"
	"strings"

	"github.com/xtxerr/pyrometer/internal/errors"
)

// Schema describes the ordered dimension columns of a metric table. It is a
// plain value: storage statements are generated from it, there is no
// reflection involved.
//
// The dimension set of a metric is fixed for the lifetime of the window once
// its table is created; there is no schema migration.
type Schema struct {
	// Dimensions are the grouping columns, in declaration order. All are
	// text-typed.
	Dimensions []string

	// ValueType is the SQL type of the four aggregate columns. Empty means
	// DOUBLE, the only type this domain uses.
	ValueType string
}

// NewSchema returns a Schema over the given dimension columns.
func NewSchema(dimensions ...string) Schema {
	return Schema{Dimensions: dimensions}
}

func (s Schema) valueType() string {
	if s.ValueType == "" {
		return "DOUBLE"
	}
	return s.ValueType
}

// identPattern constrains metric and dimension names spliced into SQL text.
var identPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

func validIdent(name string) error {
	if !identPattern.MatchString(name) {
		return errors.Wrapf(errors.ErrInvalidName, "%q", name)
	}
	return nil
}

// ValidIdent reports whether a name is safe to splice into SQL text as an
// identifier. The query engine shares this check.
func ValidIdent(name string) error {
	return validIdent(name)
}

// QuoteIdent quotes an already validated identifier.
func QuoteIdent(name string) string {
	return quoteIdent(name)
}

// quoteIdent quotes an already validated identifier.
func quoteIdent(name string) string {
	return `"` + name + `"`
}

func quoteIdents(names []string) []string {
	quoted := make([]string, len(names))
	for i, n := range names {
		quoted[i] = quoteIdent(n)
	}
	return quoted
}

// CreateMetric creates the table for a metric: dimension columns in schema
// order followed by the four fixed aggregate columns. Creation is
// idempotent: if the table already exists this is a no-op, the existing
// schema is left untouched.
//
// The store never auto-creates on write; creation must precede the first
// write for a metric, which is the ingestion caller's responsibility.
func (d *DB) CreateMetric(metric string, schema Schema) error {
	if err := validIdent(metric); err != nil {
		return err
	}
	for _, dim := range schema.Dimensions {
		if err := validIdent(dim); err != nil {
			return err
		}
	}

	exists, err := d.tableExists(metric)
	if err != nil {
		return err
	}
	if exists {
		return nil
	}

	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(quoteIdent(metric))
	b.WriteString(" (")
	for _, dim := range schema.Dimensions {
		b.WriteString(quoteIdent(dim))
		b.WriteString(" TEXT, ")
	}
	for i, agg := range AggColumns {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(quoteIdent(agg))
		b.WriteString(" ")
		b.WriteString(schema.valueType())
	}
	b.WriteString(")")

	if _, err := d.Exec(b.String()); err != nil {
		d.reporter.Record(errors.KindMetricsDBAccess)
		return errors.Wrapf(errors.ErrAccess, "create table %s: %v", metric, err)
	}

	log.Debug("metric table created",
		"window", d.windowStart,
		"metric", metric,
		"dimensions", len(schema.Dimensions))
	return nil
}

// MetricExists reports whether a table for the metric exists in this window.
func (d *DB) MetricExists(metric string) bool {
	if validIdent(metric) != nil {
		return false
	}
	exists, err := d.tableExists(metric)
	if err != nil {
		return false
	}
	return exists
}

// DeleteMetric drops a metric table if present. This is a maintenance and
// test operation, not part of steady-state ingestion.
func (d *DB) DeleteMetric(metric string) error {
	if err := validIdent(metric); err != nil {
		return err
	}
	exists, err := d.tableExists(metric)
	if err != nil {
		return err
	}
	if !exists {
		return nil
	}
	if _, err := d.Exec("DROP TABLE " + quoteIdent(metric)); err != nil {
		d.reporter.Record(errors.KindMetricsDBAccess)
		return errors.Wrapf(errors.ErrAccess, "drop table %s: %v", metric, err)
	}
	return nil
}

// ListMetrics returns the name of every metric table in this window, sorted.
func (d *DB) ListMetrics() ([]string, error) {
	rows, err := d.Query(
		"SELECT table_name FROM information_schema.tables WHERE table_schema = 'main' ORDER BY table_name")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var metrics []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			d.reporter.Record(errors.KindMetricsDBAccess)
			return nil, errors.Wrapf(errors.ErrAccess, "list tables: %v", err)
		}
		metrics = append(metrics, name)
	}
	if err := rows.Err(); err != nil {
		d.reporter.Record(errors.KindMetricsDBAccess)
		return nil, errors.Wrapf(errors.ErrAccess, "list tables: %v", err)
	}
	return metrics, nil
}

// tableExists checks the catalog through the staging transaction so tables
// created before the first commit are visible to their creator.
func (d *DB) tableExists(metric string) (bool, error) {
	row, err := d.QueryRow(
		"SELECT count(*) FROM information_schema.tables WHERE table_name = ?", metric)
	if err != nil {
		return false, err
	}

	var n int
	if err := row.Scan(&n); err != nil {
		d.reporter.Record(errors.KindMetricsDBAccess)
		return false, errors.Wrapf(errors.ErrAccess, "table lookup %s: %v", metric, err)
	}
	return n > 0, nil
}
