package query

import "database/sql"

// Row is one dimension tuple with one value per requested metric column.
// NULL is the explicit no-value marker: a dimension can be NULL (resource
// consumption not attributable to a finer-grained entity) and a metric value
// can be NULL (that metric had no row for this tuple). Neither is ever a
// fabricated zero.
type Row struct {
	Dimensions map[string]sql.NullString
	Values     map[string]sql.NullFloat64
}

// Dimension returns the value of a dimension column.
func (r Row) Dimension(name string) sql.NullString {
	return r.Dimensions[name]
}

// Value returns the value of a metric column.
func (r Row) Value(name string) sql.NullFloat64 {
	return r.Values[name]
}

// Result is the outcome of a query against one window.
//
// A nil *Result is the absent result: no underlying table existed to answer
// the query. It is distinct from a non-nil Result with zero rows, which
// means the tables exist but matched nothing. Callers decide whether "no
// data yet" is acceptable; the store never conflates the two.
type Result struct {
	// Dimensions are the grouping columns, in request order.
	Dimensions []string

	// Metrics are the value columns, in request order. For the raw read
	// paths these are the four fixed aggregate columns.
	Metrics []string

	Rows []Row
}

// Len returns the number of rows.
func (r *Result) Len() int {
	if r == nil {
		return 0
	}
	return len(r.Rows)
}

// Missing reports whether this is the absent result.
func (r *Result) Missing() bool {
	return r == nil
}
