package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultCatalog(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)
	require.Equal(t, 20, c.Len())

	ch, err := c.Find(1)
	require.NoError(t, err)
	assert.Equal(t, "Select All Products", ch.Name)
	assert.Equal(t, LevelBasic, ch.Level)
	assert.Equal(t, []string{"id", "name", "price", "category"}, ch.ExpectedColumnNames)
	assert.Len(t, ch.ExpectedOutput, 5)
	assert.Equal(t, []string{"1", "Laptop", "1200", "Electronics"}, ch.ExpectedOutput[0])

	for _, ch := range c.All() {
		assert.NotEmpty(t, ch.Solution, "challenge %d has no solution", ch.ID)
		assert.NotEmpty(t, ch.SeedSQL, "challenge %d has no seed data", ch.ID)
	}
}

func TestFindMissing(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	_, err = c.Find(999)
	require.ErrorIs(t, err, ErrChallengeNotFound)
}

func TestAllOrdersByDifficulty(t *testing.T) {
	c, err := New([]*Challenge{
		{ID: 3, Name: "c", Level: LevelAdvanced, SchemaSQL: Script{"CREATE TABLE t (a INTEGER)"}},
		{ID: 2, Name: "b", Level: LevelBasic, SchemaSQL: Script{"CREATE TABLE t (a INTEGER)"}},
		{ID: 1, Name: "a", Level: LevelIntermediate, SchemaSQL: Script{"CREATE TABLE t (a INTEGER)"}},
		{ID: 4, Name: "d", Level: LevelBasic, SchemaSQL: Script{"CREATE TABLE t (a INTEGER)"}},
	})
	require.NoError(t, err)

	var ids []int
	for _, ch := range c.All() {
		ids = append(ids, ch.ID)
	}
	assert.Equal(t, []int{2, 4, 1, 3}, ids)
}

func TestNext(t *testing.T) {
	c, err := Default()
	require.NoError(t, err)

	next := c.Next(nil)
	require.NotNil(t, next)
	assert.Equal(t, 1, next.ID)

	solved := map[int]bool{}
	for _, ch := range c.All() {
		if ch.Level == LevelBasic {
			solved[ch.ID] = true
		}
	}
	next = c.Next(solved)
	require.NotNil(t, next)
	assert.Equal(t, LevelIntermediate, next.Level)
	assert.Equal(t, 11, next.ID)

	for _, ch := range c.All() {
		solved[ch.ID] = true
	}
	assert.Nil(t, c.Next(solved))
}

func TestParseRejectsInvalidCatalogs(t *testing.T) {
	for name, doc := range map[string]string{
		"duplicate id": `
challenges:
  - {id: 1, name: a, level: Basic, schema_sql: "CREATE TABLE t (a INTEGER);"}
  - {id: 1, name: b, level: Basic, schema_sql: "CREATE TABLE t (a INTEGER);"}
`,
		"unknown level": `
challenges:
  - {id: 1, name: a, level: Expert, schema_sql: "CREATE TABLE t (a INTEGER);"}
`,
		"missing schema": `
challenges:
  - {id: 1, name: a, level: Basic}
`,
		"ragged expected output": `
challenges:
  - id: 1
    name: a
    level: Basic
    schema_sql: "CREATE TABLE t (a INTEGER, b INTEGER);"
    expected_column_names: [a, b]
    expected_output:
      - ['1', '2']
      - ['3']
`,
	} {
		t.Run(name, func(t *testing.T) {
			_, err := Parse([]byte(doc))
			require.Error(t, err)
		})
	}
}

func TestScriptAcceptsStringOrList(t *testing.T) {
	c, err := Parse([]byte(`
challenges:
  - id: 1
    name: string form
    level: Basic
    schema_sql: |
      CREATE TABLE a (x INTEGER);
      CREATE TABLE b (y INTEGER);
  - id: 2
    name: list form
    level: basic
    schema_sql:
      - CREATE TABLE a (x INTEGER)
      - CREATE TABLE b (y INTEGER)
`))
	require.NoError(t, err)

	one, err := c.Find(1)
	require.NoError(t, err)
	assert.Len(t, one.SchemaSQL, 1)

	two, err := c.Find(2)
	require.NoError(t, err)
	assert.Equal(t, Script{"CREATE TABLE a (x INTEGER)", "CREATE TABLE b (y INTEGER)"}, two.SchemaSQL)
	assert.Equal(t, "CREATE TABLE a (x INTEGER);\nCREATE TABLE b (y INTEGER);", two.SchemaSQL.String())
}

func TestLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "catalog.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
challenges:
  - {id: 7, name: only, level: Advanced, schema_sql: "CREATE TABLE t (a INTEGER);"}
`), 0o600))

	c, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, c.Len())

	_, err = LoadFile(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
}

func TestLevelText(t *testing.T) {
	l, err := ParseLevel("intermediate")
	require.NoError(t, err)
	assert.Equal(t, LevelIntermediate, l)

	text, err := LevelAdvanced.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "Advanced", string(text))

	_, err = ParseLevel("Expert")
	require.Error(t, err)
}
