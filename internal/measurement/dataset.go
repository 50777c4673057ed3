package measurement

import (
	"context"

	"github.com/jszwec/csvutil"

	"github.com/sells-group/cdr-etl/internal/db"
	"github.com/sells-group/cdr-etl/internal/gate"
)

// reject is the reason a decoded row was dropped.
type reject int

const (
	accepted reject = iota
	invalidDate
	unmatchedProvince
	invalidCell
)

// Dataset describes one fact table and how its source rows are cleaned.
type Dataset interface {
	// Entity is the gate entity for the fact table.
	Entity() gate.Entity
	// Schema is the input column contract.
	Schema() Schema
	// Columns are the target table columns, in row order.
	Columns() []string
	// Prepare runs once before any file is opened.
	Prepare(ctx context.Context, pool db.Pool) error
	// row decodes the next record and cleans it into a target row.
	row(dec *csvutil.Decoder, c *cleaner) ([]any, reject, error)
}
