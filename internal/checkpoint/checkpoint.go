// Package checkpoint keeps the per-file load ledger (etl_load_checkpoints).
// A ledger row is written in the same transaction as the file's facts, so its
// presence proves the file was committed.
package checkpoint

import (
	"context"
	"encoding/hex"
	"io"
	"os"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/cdr-etl/internal/db"
)

// Table is the ledger table name.
const Table = "etl_load_checkpoints"

// Entry is one committed file.
type Entry struct {
	Entity       string
	FileName     string
	Fingerprint  string
	RowsLoaded   int64
	RowsRejected int64
	RunID        uuid.UUID
	LoadedAt     time.Time
}

// Ledger reads the checkpoint table.
type Ledger struct {
	pool db.Pool
}

// NewLedger creates a Ledger backed by pool.
func NewLedger(pool db.Pool) *Ledger {
	return &Ledger{pool: pool}
}

// Count returns the number of checkpointed files for entity.
func (l *Ledger) Count(ctx context.Context, entity string) (int64, error) {
	var n int64
	err := l.pool.QueryRow(ctx,
		"SELECT COUNT(*) FROM etl_load_checkpoints WHERE entity = $1", entity,
	).Scan(&n)
	if err != nil {
		return 0, db.NewStorageError("count", Table, err)
	}
	return n, nil
}

// Fingerprints returns file name → fingerprint for every checkpointed file of
// entity.
func (l *Ledger) Fingerprints(ctx context.Context, entity string) (map[string]string, error) {
	rows, err := l.pool.Query(ctx,
		"SELECT file_name, fingerprint FROM etl_load_checkpoints WHERE entity = $1", entity,
	)
	if err != nil {
		return nil, db.NewStorageError("query", Table, err)
	}
	defer rows.Close()

	out := make(map[string]string)
	for rows.Next() {
		var name, fp string
		if err := rows.Scan(&name, &fp); err != nil {
			return nil, eris.Wrap(err, "checkpoint: scan fingerprint")
		}
		out[name] = fp
	}
	if err := rows.Err(); err != nil {
		return nil, db.NewStorageError("query", Table, err)
	}
	return out, nil
}

// List returns every ledger entry ordered by entity and file name.
func (l *Ledger) List(ctx context.Context) ([]Entry, error) {
	rows, err := l.pool.Query(ctx, `
		SELECT entity, file_name, fingerprint, rows_loaded, rows_rejected, run_id, loaded_at
		FROM etl_load_checkpoints
		ORDER BY entity, file_name`)
	if err != nil {
		return nil, db.NewStorageError("query", Table, err)
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Entity, &e.FileName, &e.Fingerprint, &e.RowsLoaded, &e.RowsRejected, &e.RunID, &e.LoadedAt); err != nil {
			return nil, eris.Wrap(err, "checkpoint: scan entry")
		}
		entries = append(entries, e)
	}
	if err := rows.Err(); err != nil {
		return nil, db.NewStorageError("query", Table, err)
	}
	return entries, nil
}

// Record inserts e. tx is the transaction carrying the file's facts. A file is
// never checkpointed twice; a duplicate violates the primary key.
func Record(ctx context.Context, tx db.Pool, e Entry) error {
	_, err := tx.Exec(ctx, `
		INSERT INTO etl_load_checkpoints (entity, file_name, fingerprint, rows_loaded, rows_rejected, run_id, loaded_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())`,
		e.Entity, e.FileName, e.Fingerprint, e.RowsLoaded, e.RowsRejected, e.RunID,
	)
	if err != nil {
		return db.NewStorageError("insert", Table, err)
	}
	return nil
}

// Fingerprint returns the hex xxhash64 digest of the file at path.
func Fingerprint(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", eris.Wrapf(err, "checkpoint: open %s", path)
	}
	defer func() { _ = f.Close() }()

	h := xxhash.New()
	if _, err := io.Copy(h, f); err != nil {
		return "", eris.Wrapf(err, "checkpoint: hash %s", path)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
