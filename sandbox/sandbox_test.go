package sandbox

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"

	"github.com/elmanelman/sql-judge/catalog"
	"github.com/elmanelman/sql-judge/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testChallenge() *catalog.Challenge {
	return &catalog.Challenge{
		ID:    42,
		Name:  "products",
		Level: catalog.LevelBasic,
		SchemaSQL: catalog.Script{`
CREATE TABLE products (
  id INTEGER PRIMARY KEY,
  name TEXT NOT NULL,
  note TEXT
);`},
		SeedSQL: catalog.Script{
			"INSERT INTO products VALUES (1, 'Laptop', 'fast; light')",
			"INSERT INTO products VALUES (2, 'Mouse', NULL)",
		},
	}
}

func countProducts(t *testing.T, inst *Instance) int {
	t.Helper()
	var n int
	require.NoError(t, inst.DB().Get(&n, "SELECT COUNT(*) FROM products"))
	return n
}

func TestMemoryBackend(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend(zaptest.NewLogger(t))

	inst, err := b.Provision(ctx, testChallenge(), "alice@example.com")
	require.NoError(t, err)
	assert.Equal(t, config.BackendMemory, inst.Backend)
	assert.Regexp(t, `^challenge_42_alice_example_com_[0-9a-f]{8}$`, inst.ID)
	assert.Equal(t, 2, countProducts(t, inst))

	var note string
	require.NoError(t, inst.DB().Get(&note, "SELECT note FROM products WHERE id = 1"))
	assert.Equal(t, "fast; light", note)

	require.NoError(t, b.Teardown(ctx, inst))
	require.NoError(t, b.Teardown(ctx, inst))
	require.NoError(t, b.Teardown(ctx, nil))
}

func TestMemoryInstancesAreIsolated(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend(zaptest.NewLogger(t))

	first, err := b.Provision(ctx, testChallenge(), "u")
	require.NoError(t, err)
	defer b.Teardown(ctx, first)

	second, err := b.Provision(ctx, testChallenge(), "u")
	require.NoError(t, err)
	defer b.Teardown(ctx, second)

	assert.NotEqual(t, first.ID, second.ID)

	_, err = first.DB().Exec("DELETE FROM products")
	require.NoError(t, err)

	assert.Equal(t, 0, countProducts(t, first))
	assert.Equal(t, 2, countProducts(t, second))
}

func TestProvisionFailsOnBrokenSchema(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend(zaptest.NewLogger(t))

	ch := testChallenge()
	ch.SeedSQL = catalog.Script{"INSERT INTO missing VALUES (1)"}

	inst, err := b.Provision(ctx, ch, "u")
	require.Error(t, err)
	assert.Nil(t, inst)

	var perr *ProvisionError
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, config.BackendMemory, perr.Backend)
	assert.Equal(t, 42, perr.ChallengeID)
}

func TestFileBackendRemovesDirectory(t *testing.T) {
	for _, engine := range []string{config.DriverSQLite, config.DriverDuckDB} {
		t.Run(engine, func(t *testing.T) {
			ctx := context.Background()
			b := NewFileBackend(zaptest.NewLogger(t), config.FileBackendConfig{Engine: engine, Dir: t.TempDir()})

			inst, err := b.Provision(ctx, testChallenge(), "bob")
			require.NoError(t, err)
			assert.Equal(t, engine, inst.Driver)
			assert.Equal(t, 2, countProducts(t, inst))

			var note string
			require.NoError(t, inst.DB().Get(&note, "SELECT note FROM products WHERE id = 1"))
			assert.Equal(t, "fast; light", note)

			dir := inst.dir
			_, err = os.Stat(dir)
			require.NoError(t, err)

			require.NoError(t, b.Teardown(ctx, inst))
			_, err = os.Stat(dir)
			assert.True(t, os.IsNotExist(err))

			require.NoError(t, b.Teardown(ctx, inst))
		})
	}
}

func TestRegistry(t *testing.T) {
	ctx := context.Background()
	b := NewMemoryBackend(zaptest.NewLogger(t))
	r := NewRegistry()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			inst, err := b.Provision(ctx, testChallenge(), fmt.Sprintf("user%d", i))
			if !assert.NoError(t, err) {
				return
			}
			r.Add(inst)
			if i%2 == 0 {
				r.Remove(inst.ID)
				assert.NoError(t, b.Teardown(ctx, inst))
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, 4, r.Len())
	list := r.List()
	for i := 1; i < len(list); i++ {
		assert.False(t, list[i].CreatedAt.Before(list[i-1].CreatedAt))
	}

	require.NoError(t, r.CloseAll(ctx, b))
	assert.Equal(t, 0, r.Len())
	for _, inst := range list {
		assert.Nil(t, inst.DB())
	}
}

func TestNewSelectsBackend(t *testing.T) {
	logger := zaptest.NewLogger(t)
	cfg := config.Default()

	b, err := New(logger, cfg)
	require.NoError(t, err)
	assert.Equal(t, config.BackendMemory, b.Name())

	cfg.Backend = config.BackendManaged
	b, err = New(logger, cfg)
	require.NoError(t, err)
	assert.Equal(t, config.BackendManaged, b.Name())

	cfg.Backend = "nowhere"
	_, err = New(logger, cfg)
	require.Error(t, err)
}
