package judge

import (
	"context"
	"fmt"
	"github.com/elmanelman/sql-judge/config"
	"github.com/elmanelman/sql-judge/sandbox"
	"github.com/elmanelman/sql-judge/templates"
	"github.com/jmoiron/sqlx"
)

func connectDB(ctx context.Context, cfg config.DatabaseConfig) (*sqlx.DB, error) {
	db, err := sandbox.Connect(ctx, cfg.Driver, cfg.DSN)
	if err != nil {
		return nil, err
	}
	if cfg.Driver == config.DriverSQLite {
		// sqlite serialises writers; one connection avoids SQLITE_BUSY
		db.SetMaxOpenConns(1)
	}
	return db, nil
}

// migrate creates the submissions table unless it already exists.
func migrate(ctx context.Context, db *sqlx.DB) error {
	if _, err := db.ExecContext(ctx, templates.ProbeSubmissions); err == nil {
		return nil
	}
	ddl, ok := templates.CreateSubmissionsTable[db.DriverName()]
	if !ok {
		return fmt.Errorf("no submissions table definition for driver %s", db.DriverName())
	}
	if _, err := db.ExecContext(ctx, ddl); err != nil {
		return fmt.Errorf("create submissions table: %w", err)
	}
	return nil
}
