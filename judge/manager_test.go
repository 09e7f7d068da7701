package judge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/elmanelman/sql-judge/catalog"
	"github.com/elmanelman/sql-judge/config"
	"github.com/elmanelman/sql-judge/sandbox"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newTestManager(t *testing.T, c *catalog.Catalog, backend sandbox.Backend, metrics *Metrics) *Manager {
	t.Helper()
	if c == nil {
		var err error
		c, err = catalog.Default()
		require.NoError(t, err)
	}
	logger := zaptest.NewLogger(t)
	if backend == nil {
		backend = sandbox.NewMemoryBackend(logger)
	}
	m := NewManager(logger, c, backend, newTestExecutor(t, config.ExecutorConfig{}), metrics)
	t.Cleanup(func() { _ = m.Close(context.Background()) })
	return m
}

func TestExecuteCorrectQuery(t *testing.T) {
	m := newTestManager(t, nil, nil, nil)

	outcome, err := m.Execute(context.Background(), 1, "alice", "SELECT * FROM products")
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.True(t, outcome.IsPassed())
	assert.Equal(t, Accepted, outcome.Verdict)
	assert.Equal(t, []string{"id", "name", "price", "category"}, outcome.Columns)
	require.Len(t, outcome.Results, 5)
	assert.Equal(t, []string{"1", "Laptop", "1200", "Electronics"}, outcome.Results[0])
	assert.Equal(t, []string{"5", "Book", "15", "Books"}, outcome.Results[4])
	assert.Nil(t, outcome.Expected)
}

func TestExecuteWrongColumns(t *testing.T) {
	m := newTestManager(t, nil, nil, nil)

	outcome, err := m.Execute(context.Background(), 1, "alice", "SELECT name FROM products")
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	require.NotNil(t, outcome.Passed)
	assert.False(t, *outcome.Passed)
	assert.Equal(t, IncorrectContent, outcome.Verdict)
	assert.Len(t, outcome.Expected, 5)
	assert.Equal(t, []string{"id", "name", "price", "category"}, outcome.ExpectedColumns)
}

func TestExecuteMissingTable(t *testing.T) {
	m := newTestManager(t, nil, nil, nil)

	outcome, err := m.Execute(context.Background(), 1, "alice", "SELECT * FROM nonexistent_table")
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Nil(t, outcome.Passed)
	assert.Contains(t, outcome.Error, "no such table")
	assert.Equal(t, ExecutionError, outcome.Verdict)
}

func TestExecuteEmptyQuery(t *testing.T) {
	m := newTestManager(t, nil, nil, nil)

	outcome, err := m.Execute(context.Background(), 1, "alice", "")
	require.NoError(t, err)
	assert.False(t, outcome.Success)
	assert.Nil(t, outcome.Passed)
	assert.NotEmpty(t, outcome.Error)
}

func TestExecuteRowOrderMatters(t *testing.T) {
	c, err := catalog.New([]*catalog.Challenge{{
		ID:    1,
		Name:  "order by price",
		Level: catalog.LevelBasic,
		SchemaSQL: catalog.Script{
			"CREATE TABLE products (id INTEGER PRIMARY KEY, name TEXT, price INTEGER)",
		},
		SeedSQL: catalog.Script{`
INSERT INTO products VALUES (1, 'Laptop', 1200);
INSERT INTO products VALUES (2, 'Mouse', 25);
INSERT INTO products VALUES (3, 'Keyboard', 75);`},
		ExpectedColumnNames: []string{"name", "price"},
		ExpectedOutput:      [][]string{{"Laptop", "1200"}, {"Keyboard", "75"}, {"Mouse", "25"}},
	}})
	require.NoError(t, err)
	m := newTestManager(t, c, nil, nil)

	outcome, err := m.Execute(context.Background(), 1, "bob", "SELECT name, price FROM products ORDER BY price DESC")
	require.NoError(t, err)
	assert.True(t, outcome.IsPassed())

	outcome, err = m.Execute(context.Background(), 1, "bob", "SELECT name, price FROM products")
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.False(t, outcome.IsPassed())
	assert.Equal(t, IncorrectOrder, outcome.Verdict)
	assert.Equal(t, [][]string{{"Laptop", "1200"}, {"Mouse", "25"}, {"Keyboard", "75"}}, outcome.Results)
}

func TestExecuteWriteQuery(t *testing.T) {
	m := newTestManager(t, nil, nil, nil)

	outcome, err := m.Execute(context.Background(), 1, "carol", "UPDATE products SET price = price + 1")
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Nil(t, outcome.Results)
	assert.Equal(t, int64(5), outcome.RowsAffected)
	assert.Equal(t, "Query executed successfully. 5 rows affected.", outcome.Message)
	assert.False(t, outcome.IsPassed())

	// the update must not leak into the next attempt
	outcome, err = m.Execute(context.Background(), 1, "carol", "SELECT * FROM products")
	require.NoError(t, err)
	assert.True(t, outcome.IsPassed())
}

func TestExecuteRestrictedQuery(t *testing.T) {
	m := newTestManager(t, nil, nil, nil)

	outcome, err := m.Execute(context.Background(), 20, "dave", "SELECT name, price FROM products ORDER BY price DESC LIMIT 1")
	require.NoError(t, err)
	assert.True(t, outcome.Success)
	assert.Equal(t, [][]string{{"Laptop", "1200"}}, outcome.Results)
	assert.False(t, outcome.IsPassed())
	assert.Equal(t, RestrictionViolated, outcome.Verdict)
	assert.Equal(t, `"ORDER BY" is restricted`, outcome.Message)
}

func TestExecuteUnknownChallenge(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	m := newTestManager(t, nil, nil, metrics)

	_, err := m.Execute(context.Background(), 999, "erin", "SELECT 1")
	require.ErrorIs(t, err, catalog.ErrChallengeNotFound)
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.provisionFailures.WithLabelValues(config.BackendMemory)))
}

func TestEveryCatalogSolutionPasses(t *testing.T) {
	for name, newBackend := range map[string]func(t *testing.T) sandbox.Backend{
		"memory": func(t *testing.T) sandbox.Backend {
			return sandbox.NewMemoryBackend(zaptest.NewLogger(t))
		},
		"file sqlite": func(t *testing.T) sandbox.Backend {
			return sandbox.NewFileBackend(zaptest.NewLogger(t), config.FileBackendConfig{Engine: config.DriverSQLite, Dir: t.TempDir()})
		},
		"file duckdb": func(t *testing.T) sandbox.Backend {
			return sandbox.NewFileBackend(zaptest.NewLogger(t), config.FileBackendConfig{Engine: config.DriverDuckDB, Dir: t.TempDir()})
		},
	} {
		t.Run(name, func(t *testing.T) {
			m := newTestManager(t, nil, newBackend(t), nil)

			for _, ch := range m.Catalog().All() {
				t.Run(fmt.Sprintf("%d %s", ch.ID, ch.Name), func(t *testing.T) {
					outcome, err := m.Execute(context.Background(), ch.ID, "verifier", ch.Solution)
					require.NoError(t, err)
					require.True(t, outcome.Success, outcome.Error)
					assert.Equal(t, ch.ExpectedOutput, outcome.Results)
					assert.Equal(t, Accepted, outcome.Verdict)
				})
			}
		})
	}
}

func TestConcurrentSubmissionsAreIsolated(t *testing.T) {
	metrics := NewMetrics(prometheus.NewRegistry())
	m := newTestManager(t, nil, nil, metrics)

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			user := fmt.Sprintf("user%d", i)
			if i%2 == 0 {
				outcome, err := m.Execute(context.Background(), 1, user, "DELETE FROM products")
				if assert.NoError(t, err) {
					assert.Equal(t, int64(5), outcome.RowsAffected)
				}
				return
			}
			outcome, err := m.Execute(context.Background(), 1, user, "SELECT * FROM products")
			if assert.NoError(t, err) {
				assert.True(t, outcome.IsPassed(), "attempt by %s saw another attempt's writes", user)
			}
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 0, m.registry.Len())
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.activeInstances))
	assert.Equal(t, 8.0, testutil.ToFloat64(metrics.submissions.WithLabelValues(Accepted.String())))
}

type failingBackend struct {
	sandbox.Backend
	provisionErr error
	teardownErr  error
}

func (b *failingBackend) Provision(ctx context.Context, ch *catalog.Challenge, userID string) (*sandbox.Instance, error) {
	if b.provisionErr != nil {
		return nil, b.provisionErr
	}
	return b.Backend.Provision(ctx, ch, userID)
}

func (b *failingBackend) Teardown(ctx context.Context, inst *sandbox.Instance) error {
	err := b.Backend.Teardown(ctx, inst)
	if b.teardownErr != nil {
		return b.teardownErr
	}
	return err
}

func TestExecuteProvisionFailure(t *testing.T) {
	perr := &sandbox.ProvisionError{Backend: "memory", ChallengeID: 1, Err: errors.New("disk full")}
	backend := &failingBackend{
		Backend:      sandbox.NewMemoryBackend(zaptest.NewLogger(t)),
		provisionErr: perr,
	}
	metrics := NewMetrics(prometheus.NewRegistry())
	m := newTestManager(t, nil, backend, metrics)

	_, err := m.Execute(context.Background(), 1, "frank", "SELECT * FROM products")
	var target *sandbox.ProvisionError
	require.ErrorAs(t, err, &target)
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.provisionFailures.WithLabelValues(config.BackendMemory)))
}

func TestExecuteSwallowsTeardownFailure(t *testing.T) {
	backend := &failingBackend{
		Backend:     sandbox.NewMemoryBackend(zaptest.NewLogger(t)),
		teardownErr: errors.New("container already gone"),
	}
	metrics := NewMetrics(prometheus.NewRegistry())
	m := newTestManager(t, nil, backend, metrics)

	outcome, err := m.Execute(context.Background(), 1, "grace", "SELECT * FROM products")
	require.NoError(t, err)
	assert.True(t, outcome.IsPassed())
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.teardownFailures))
	assert.Equal(t, 0, m.registry.Len())
}

func TestOutcomeJSON(t *testing.T) {
	passed := false
	data, err := json.Marshal(&Outcome{
		Success:      true,
		Passed:       &passed,
		RowsAffected: 2,
		Message:      "Query executed successfully. 2 rows affected.",
		Verdict:      IncorrectContent,
	})
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"success": true,
		"passed": false,
		"rows_affected": 2,
		"message": "Query executed successfully. 2 rows affected.",
		"verdict": "IncorrectContent"
	}`, string(data))

	data, err = json.Marshal(&Outcome{Error: "no such table: t", Verdict: ExecutionError})
	require.NoError(t, err)
	assert.JSONEq(t, `{"success": false, "error": "no such table: t", "verdict": "ExecutionError"}`, string(data))
}
