package sandbox

import (
	"context"
	"fmt"
	"github.com/elmanelman/sql-judge/catalog"
	"github.com/elmanelman/sql-judge/config"
	"go.uber.org/zap"
)

// MemoryBackend gives every instance its own named in-memory sqlite
// database. The database lives as long as its single connection.
type MemoryBackend struct {
	logger *zap.Logger
}

func NewMemoryBackend(logger *zap.Logger) *MemoryBackend {
	return &MemoryBackend{logger: logger}
}

func (b *MemoryBackend) Name() string {
	return config.BackendMemory
}

func (b *MemoryBackend) Provision(ctx context.Context, challenge *catalog.Challenge, userID string) (*Instance, error) {
	inst := newInstance(b.Name(), config.DriverSQLite, challenge.ID, userID)

	db, err := Connect(ctx, config.DriverSQLite, fmt.Sprintf("file:%s?mode=memory&cache=shared", inst.ID))
	if err != nil {
		return nil, provisionError(b, challenge, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	inst.db = db

	if err := seed(ctx, inst, challenge); err != nil {
		return nil, abort(ctx, b.logger, b, challenge, inst, err)
	}

	b.logger.Debug(
		"memory instance provisioned",
		zap.String("instance_id", inst.ID),
		zap.Int("challenge_id", challenge.ID),
	)

	return inst, nil
}

func (b *MemoryBackend) Teardown(_ context.Context, inst *Instance) error {
	return inst.close()
}
