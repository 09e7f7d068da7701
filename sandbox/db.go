package sandbox

import (
	"context"
	"github.com/elmanelman/sql-judge/config"
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/godror/godror"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/jmoiron/sqlx"
	_ "github.com/marcboeker/go-duckdb"
	_ "github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
)

type connectFunc func(ctx context.Context, driverName, dsn string) (*sqlx.DB, error)

// Connect opens a handle for driverName and makes sure the database answers.
func Connect(ctx context.Context, driverName, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open(driverName, dsn)
	if err != nil {
		return nil, errors.Wrapf(err, "open %s database", driverName)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, errors.Wrapf(err, "ping %s database", driverName)
	}
	return db, nil
}

// nativeScripts reports whether the driver executes a delimited script
// passed as a single statement.
func nativeScripts(driverName string) bool {
	return driverName == config.DriverSQLite
}
