package metricsdb

import (
	"database/sql"
	"strings"

	"github.com/xtxerr/pyrometer/internal/errors"
)

// BatchPut accumulates rows for a single bulk insert into one metric table.
// Rows are bound positionally: dimension values in schema order followed by
// sum, avg, min, max. Execute stages everything through the window's open
// transaction; nothing is durable until the next Commit.
type BatchPut struct {
	db      *DB
	metric  string
	columns int
	rows    [][]any
}

// StartBatchPut begins a batch insert for a metric table. It fails with an
// invalid-argument error when dimCount is not positive or the table does not
// exist in this window.
func (d *DB) StartBatchPut(metric string, dimCount int) (*BatchPut, error) {
	if err := validIdent(metric); err != nil {
		return nil, err
	}
	if dimCount < 1 {
		return nil, errors.Wrapf(errors.ErrInvalidDimension, "metric %s: dimCount %d", metric, dimCount)
	}
	exists, err := d.tableExists(metric)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, errors.Wrapf(errors.ErrInvalidArgument, "metric table %s does not exist", metric)
	}

	return &BatchPut{
		db:      d,
		metric:  metric,
		columns: dimCount + len(AggColumns),
	}, nil
}

// Add stages one row. The value count must equal dimension count plus the
// four aggregate columns.
func (b *BatchPut) Add(values ...any) error {
	if len(values) != b.columns {
		return errors.Wrapf(errors.ErrInvalidArgument,
			"metric %s: got %d values, want %d", b.metric, len(values), b.columns)
	}
	b.rows = append(b.rows, values)
	return nil
}

// Len returns the number of staged rows.
func (b *BatchPut) Len() int {
	return len(b.rows)
}

// Execute inserts all staged rows through one prepared statement and clears
// the batch. A failed row aborts the batch; previously staged windows remain
// untouched since nothing is committed here.
func (b *BatchPut) Execute() error {
	if len(b.rows) == 0 {
		return nil
	}

	tx, err := b.db.session()
	if err != nil {
		return err
	}

	stmt, err := tx.Prepare(insertSQL(b.metric, b.columns))
	if err != nil {
		b.db.reporter.Record(errors.KindMetricsDBAccess)
		return errors.Wrapf(errors.ErrAccess, "prepare insert %s: %v", b.metric, err)
	}
	defer stmt.Close()

	for _, row := range b.rows {
		if _, err := stmt.Exec(row...); err != nil {
			b.db.reporter.Record(errors.KindMetricsDBAccess)
			return errors.Wrapf(errors.ErrAccess, "insert into %s: %v", b.metric, err)
		}
	}

	log.Debug("batch executed",
		"window", b.db.windowStart,
		"metric", b.metric,
		"rows", len(b.rows))

	b.rows = b.rows[:0]
	return nil
}

// PutMetric inserts a single aggregated row for a metric, equivalent to a
// one-row batch. Dimension values use sql.NullString so unattributed rows
// can carry the explicit no-value marker.
func (d *DB) PutMetric(metric string, dims []sql.NullString, sum, avg, min, max float64) error {
	batch, err := d.StartBatchPut(metric, len(dims))
	if err != nil {
		return err
	}

	values := make([]any, 0, len(dims)+len(AggColumns))
	for _, dim := range dims {
		values = append(values, dim)
	}
	values = append(values, sum, avg, min, max)

	if err := batch.Add(values...); err != nil {
		return err
	}
	return batch.Execute()
}

func insertSQL(metric string, columns int) string {
	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(quoteIdent(metric))
	b.WriteString(" VALUES (")
	for i := 0; i < columns; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString("?")
	}
	b.WriteString(")")
	return b.String()
}
