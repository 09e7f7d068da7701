package sandbox

import (
	"context"
	"github.com/elmanelman/sql-judge/catalog"
	"github.com/elmanelman/sql-judge/config"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"os"
	"path/filepath"
)

// FileBackend keeps every instance in a database file inside its own
// temporary directory.
type FileBackend struct {
	logger *zap.Logger
	engine string
	dir    string
}

func NewFileBackend(logger *zap.Logger, cfg config.FileBackendConfig) *FileBackend {
	engine := cfg.Engine
	if engine == "" {
		engine = config.DriverSQLite
	}
	return &FileBackend{
		logger: logger,
		engine: engine,
		dir:    cfg.Dir,
	}
}

func (b *FileBackend) Name() string {
	return config.BackendFile
}

func (b *FileBackend) Provision(ctx context.Context, challenge *catalog.Challenge, userID string) (*Instance, error) {
	inst := newInstance(b.Name(), b.engine, challenge.ID, userID)

	dir, err := os.MkdirTemp(b.dir, "sqljudge-")
	if err != nil {
		return nil, provisionError(b, challenge, errors.Wrap(err, "create instance directory"))
	}
	inst.dir = dir

	path := filepath.Join(dir, inst.ID+b.extension())
	db, err := Connect(ctx, b.engine, path)
	if err != nil {
		return nil, abort(ctx, b.logger, b, challenge, inst, err)
	}
	db.SetMaxOpenConns(1)
	inst.db = db

	if err := seed(ctx, inst, challenge); err != nil {
		return nil, abort(ctx, b.logger, b, challenge, inst, err)
	}

	b.logger.Debug(
		"file instance provisioned",
		zap.String("instance_id", inst.ID),
		zap.String("path", path),
		zap.Int("challenge_id", challenge.ID),
	)

	return inst, nil
}

func (b *FileBackend) Teardown(_ context.Context, inst *Instance) error {
	if inst == nil {
		return nil
	}
	err := inst.close()
	if inst.dir != "" {
		err = multierr.Append(err, os.RemoveAll(inst.dir))
		inst.dir = ""
	}
	return err
}

func (b *FileBackend) extension() string {
	if b.engine == config.DriverDuckDB {
		return ".duckdb"
	}
	return ".db"
}
