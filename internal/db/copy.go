package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"
)

// DefaultBatchSize is the number of rows sent per COPY when the caller does
// not choose one.
const DefaultBatchSize = 5000

// CopyFrom bulk-inserts rows into a table using the PostgreSQL COPY protocol.
// Failures are returned as *StorageError.
func CopyFrom(ctx context.Context, pool Pool, table string, columns []string, rows [][]any) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}

	n, err := pool.CopyFrom(ctx, Identifier(table), columns, pgx.CopyFromRows(rows))
	if err != nil {
		return 0, NewStorageError("copy", table, err)
	}
	return n, nil
}

// CopyInBatches splits rows into chunks of batchSize and COPYs them one after
// another. Chunking bounds the size of a single COPY; it is not a unit of
// atomicity, so callers that need all-or-nothing pass a pgx.Tx as pool.
func CopyInBatches(ctx context.Context, pool Pool, table string, columns []string, rows [][]any, batchSize int) (int64, error) {
	if len(rows) == 0 {
		return 0, nil
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}

	log := zap.L().With(
		zap.String("component", "db.copy"),
		zap.String("table", table),
		zap.Int("total_rows", len(rows)),
	)

	var total int64
	for i := 0; i < len(rows); i += batchSize {
		end := min(i+batchSize, len(rows))

		n, err := pool.CopyFrom(ctx, Identifier(table), columns, pgx.CopyFromRows(rows[i:end]))
		if err != nil {
			return total, NewStorageError("copy", fmt.Sprintf("%s (batch %d-%d)", table, i, end), err)
		}
		total += n

		log.Debug("batch loaded",
			zap.Int("batch_start", i),
			zap.Int("batch_end", end),
			zap.Int64("batch_rows", n),
		)
	}
	return total, nil
}

// CountRows returns the number of rows currently in table.
func CountRows(ctx context.Context, pool Pool, table string) (int64, error) {
	var n int64
	sql := fmt.Sprintf("SELECT COUNT(*) FROM %s", Identifier(table).Sanitize())
	if err := pool.QueryRow(ctx, sql).Scan(&n); err != nil {
		return 0, NewStorageError("count", table, err)
	}
	return n, nil
}

// Identifier splits a possibly schema-qualified table name ("public.t") into
// a pgx.Identifier.
func Identifier(table string) pgx.Identifier {
	parts := strings.SplitN(table, ".", 2)
	if len(parts) == 2 {
		return pgx.Identifier{parts[0], parts[1]}
	}
	return pgx.Identifier{table}
}
