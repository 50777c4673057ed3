package checkpoint

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/google/uuid"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/cdr-etl/internal/db"
)

func TestFingerprint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "sms-call-internet-mi-2013-11-01.csv")
	content := "datetime,CellID,smsin\n2013-11-01 00:00:00,1,0.5\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	fp, err := Fingerprint(path)
	require.NoError(t, err)
	assert.Equal(t, fmt.Sprintf("%016x", xxhash.Sum64String(content)), fp)

	// Any change to the content changes the fingerprint.
	require.NoError(t, os.WriteFile(path, []byte(content+"\n"), 0o644))
	fp2, err := Fingerprint(path)
	require.NoError(t, err)
	assert.NotEqual(t, fp, fp2)
}

func TestFingerprint_Missing(t *testing.T) {
	_, err := Fingerprint(filepath.Join(t.TempDir(), "missing.csv"))
	assert.Error(t, err)
}

func TestLedgerCount(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("traffic").
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(int64(3)))

	n, err := NewLedger(mock).Count(context.Background(), "traffic")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerCount_Error(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT COUNT").
		WithArgs("traffic").
		WillReturnError(fmt.Errorf("relation does not exist"))

	_, err = NewLedger(mock).Count(context.Background(), "traffic")
	require.Error(t, err)
	assert.True(t, db.IsStorageFailure(err))
}

func TestLedgerFingerprints(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery("SELECT file_name, fingerprint FROM etl_load_checkpoints").
		WithArgs("mobility").
		WillReturnRows(pgxmock.NewRows([]string{"file_name", "fingerprint"}).
			AddRow("mi-to-provinces-2013-11-01.csv", "aa").
			AddRow("mi-to-provinces-2013-11-02.csv", "bb"))

	got, err := NewLedger(mock).Fingerprints(context.Background(), "mobility")
	require.NoError(t, err)
	assert.Equal(t, map[string]string{
		"mi-to-provinces-2013-11-01.csv": "aa",
		"mi-to-provinces-2013-11-02.csv": "bb",
	}, got)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestLedgerList(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runID := uuid.New()
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	mock.ExpectQuery("SELECT entity, file_name").
		WillReturnRows(pgxmock.NewRows([]string{"entity", "file_name", "fingerprint", "rows_loaded", "rows_rejected", "run_id", "loaded_at"}).
			AddRow("traffic", "a.csv", "ff", int64(88), int64(12), runID, at))

	entries, err := NewLedger(mock).List(context.Background())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, Entry{
		Entity: "traffic", FileName: "a.csv", Fingerprint: "ff",
		RowsLoaded: 88, RowsRejected: 12, RunID: runID, LoadedAt: at,
	}, entries[0])
}

func TestRecord(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	runID := uuid.New()
	mock.ExpectExec("INSERT INTO etl_load_checkpoints").
		WithArgs("traffic", "a.csv", "ff", int64(88), int64(12), runID).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	err = Record(context.Background(), mock, Entry{
		Entity: "traffic", FileName: "a.csv", Fingerprint: "ff",
		RowsLoaded: 88, RowsRejected: 12, RunID: runID,
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord_DuplicateIsStorageFailure(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectExec("INSERT INTO etl_load_checkpoints").
		WithArgs("traffic", "a.csv", pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg(), pgxmock.AnyArg()).
		WillReturnError(fmt.Errorf("duplicate key value violates unique constraint"))

	err = Record(context.Background(), mock, Entry{Entity: "traffic", FileName: "a.csv"})
	require.Error(t, err)
	assert.True(t, db.IsStorageFailure(err))
	assert.NoError(t, mock.ExpectationsWereMet())
}
