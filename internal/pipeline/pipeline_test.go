package pipeline

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/cdr-etl/internal/audit"
	"github.com/sells-group/cdr-etl/internal/config"
	"github.com/sells-group/cdr-etl/internal/crs"
	"github.com/sells-group/cdr-etl/internal/db"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func testConfig(dir string) *config.Config {
	return &config.Config{
		Data: config.DataConfig{
			Dir:             dir,
			GridFile:        "milano-grid.geojson",
			ProvincesFile:   "Italian_provinces.geojson",
			TrafficPattern:  "sms-call-internet-mi-*.csv",
			MobilityPattern: "mi-to-provinces-*.csv",
			TargetCRS:       "EPSG:32632",
			Timezone:        "UTC",
			Delimiter:       ",",
		},
		Load: config.LoadConfig{BatchSize: 100},
	}
}

func expectCount(mock pgxmock.PgxPoolIface, pattern string, n int64) {
	mock.ExpectQuery(pattern).WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(n))
}

// expectLedgerCount matches the per-entity checkpoint count, which binds the
// entity name as its only argument.
func expectLedgerCount(mock pgxmock.PgxPoolIface, entity string, n int64) {
	mock.ExpectQuery("FROM etl_load_checkpoints WHERE entity").
		WithArgs(entity).
		WillReturnRows(pgxmock.NewRows([]string{"count"}).AddRow(n))
}

func TestRun_GeoAlreadyLoaded(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectCount(mock, `SELECT COUNT\(\*\) FROM "dim_grid_milan"`, 10000)
	mock.ExpectExec("UPDATE dim_grid_milan").WillReturnResult(pgxmock.NewResult("UPDATE", 0))
	expectCount(mock, `SELECT COUNT\(\*\) FROM "dim_provinces_it"`, 110)

	res, err := New(testConfig(t.TempDir()), mock).Run(context.Background(), Options{Geo: true})
	require.NoError(t, err)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, StepGrid, res.Steps[0].Name)
	assert.Equal(t, StepSkipped, res.Steps[0].Status)
	assert.Equal(t, StepProvinces, res.Steps[1].Name)
	assert.Equal(t, StepSkipped, res.Steps[1].Status)
	assert.NotEmpty(t, res.RunID.String())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_FirstFailureHalts(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM "dim_grid_milan"`).
		WillReturnError(fmt.Errorf("connection refused"))

	res, err := New(testConfig(t.TempDir()), mock).Run(context.Background(), Options{Geo: true, Data: true, Audit: true})
	require.Error(t, err)
	assert.True(t, db.IsStorageFailure(err))
	require.Len(t, res.Steps, 1)
	assert.Equal(t, StepFailed, res.Steps[0].Status)
	assert.Contains(t, res.Steps[0].Error, "connection refused")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_DataWithoutFilesIsNoop(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	expectLedgerCount(mock, "traffic", 0)
	expectCount(mock, `SELECT COUNT\(\*\) FROM "fact_traffic_milan"`, 0)
	expectLedgerCount(mock, "mobility", 0)
	expectCount(mock, `SELECT COUNT\(\*\) FROM "fact_mobility_provinces"`, 0)

	res, err := New(testConfig(t.TempDir()), mock).Run(context.Background(), Options{Data: true})
	require.NoError(t, err)
	require.Len(t, res.Steps, 2)
	assert.Equal(t, StepNoFiles, res.Steps[0].Status)
	assert.Equal(t, StepNoFiles, res.Steps[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_LimitFilesIsForwarded(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	dir := t.TempDir()
	content := "datetime,CellID,countrycode,smsin,smsout,callin,callout,internet\n" +
		"2013-11-01 00:00:00,1,39,1,1,1,1,1\n"
	for _, day := range []string{"01", "02", "03"} {
		path := filepath.Join(dir, "sms-call-internet-mi-2013-11-"+day+".csv")
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	expectLedgerCount(mock, "traffic", 0)
	expectCount(mock, `SELECT COUNT\(\*\) FROM "fact_traffic_milan"`, 0)
	mock.ExpectBegin()
	mock.ExpectCopyFrom(pgx.Identifier{"fact_traffic_milan"},
		[]string{"datetime", "cell_id", "countrycode", "smsin", "smsout", "callin", "callout", "internet"}).
		WillReturnResult(1)
	mock.ExpectExec("INSERT INTO etl_load_checkpoints").
		WithArgs("traffic", "sms-call-internet-mi-2013-11-01.csv", pgxmock.AnyArg(), int64(1), int64(0), pgxmock.AnyArg()).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectCommit()
	expectLedgerCount(mock, "mobility", 0)
	expectCount(mock, `SELECT COUNT\(\*\) FROM "fact_mobility_provinces"`, 0)

	res, err := New(testConfig(dir), mock).Run(context.Background(), Options{Data: true, LimitFiles: 1})
	require.NoError(t, err)
	require.NotNil(t, res.Traffic)
	assert.Len(t, res.Traffic.Files, 1)
	assert.Equal(t, StepComplete, res.Steps[0].Status)
	assert.Equal(t, int64(1), res.Steps[0].Loaded)
	assert.Equal(t, StepNoFiles, res.Steps[1].Status)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_AuditOnly(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	for _, c := range audit.Checks {
		var n int64
		if c.Name == "traffic_orphan_cell" {
			n = 3
		}
		expectCount(mock, regexp.QuoteMeta(c.Query()), n)
	}

	res, err := New(testConfig(t.TempDir()), mock).Run(context.Background(), Options{Audit: true})
	require.NoError(t, err)
	require.Len(t, res.Steps, 1)
	assert.Equal(t, StepAudit, res.Steps[0].Name)
	assert.Equal(t, int64(3), res.Steps[0].Rejected)
	assert.Len(t, res.Findings, len(audit.Checks))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRun_BadTargetCRS(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	cfg := testConfig(t.TempDir())
	cfg.Data.TargetCRS = "EPSG:999999"

	res, err := New(cfg, mock).Run(context.Background(), Options{Geo: true})
	assert.ErrorIs(t, err, crs.ErrUnsupported)
	assert.Empty(t, res.Steps)
	assert.NoError(t, mock.ExpectationsWereMet())
}
