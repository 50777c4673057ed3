package schema

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/cdr-etl/internal/db"
)

// EnsureDatabase creates the target database when it does not exist. pool
// must be connected to a maintenance database (usually "postgres"), since a
// database cannot be created from a connection to itself.
func EnsureDatabase(ctx context.Context, pool db.Pool, name string) (bool, error) {
	if name == "" {
		return false, eris.New("schema: empty database name")
	}
	log := zap.L().With(zap.String("component", "schema.database"), zap.String("database", name))

	var exists bool
	err := pool.QueryRow(ctx,
		"SELECT EXISTS (SELECT 1 FROM pg_database WHERE datname = $1)", name,
	).Scan(&exists)
	if err != nil {
		return false, db.NewStorageError("query", "pg_database", err)
	}
	if exists {
		log.Info("database already exists")
		return false, nil
	}

	// CREATE DATABASE takes no bind parameters; the name is quoted instead.
	if _, err := pool.Exec(ctx, "CREATE DATABASE "+pgx.Identifier{name}.Sanitize()); err != nil {
		return false, db.NewStorageError("create database", name, err)
	}
	log.Info("database created")
	return true, nil
}

// PostGISVersion returns the installed PostGIS version, confirming the
// extension is usable.
func PostGISVersion(ctx context.Context, pool db.Pool) (string, error) {
	var version string
	if err := pool.QueryRow(ctx, "SELECT postgis_full_version()").Scan(&version); err != nil {
		return "", db.NewStorageError("query", "postgis_full_version", err)
	}
	return version, nil
}
