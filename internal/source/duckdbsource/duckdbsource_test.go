package duckdbsource

import (
	"context"
	"database/sql"
	"testing"

	"github.com/stretchr/testify/require"

	_ "github.com/marcboeker/go-duckdb"

	"github.com/liveql/engine/internal/row"
	"github.com/liveql/engine/internal/source"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := sql.Open("duckdb", "")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(`CREATE TABLE metrics (id INTEGER, value DOUBLE, updated_at INTEGER)`)
	require.NoError(t, err)
	return db
}

func newCollection(db *sql.DB) *Collection {
	return New("metrics", db, Config{
		Relation:      "metrics",
		KeyColumn:     "id",
		VersionColumn: "updated_at",
		Columns:       []string{"id", "value", "updated_at"},
	})
}

func TestCurrentStateAsChangesReadsEveryRow(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Exec(`INSERT INTO metrics VALUES (1, 1.5, 1), (2, 2.5, 1)`)
	require.NoError(t, err)

	c := newCollection(db)
	batch, err := c.CurrentStateAsChanges(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 2, batch.Len())
	require.Equal(t, source.StatusReady, c.Status())
}

func TestCurrentStateAsChangesAppliesPushdown(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Exec(`INSERT INTO metrics VALUES (1, 1.5, 1), (2, 9.5, 1)`)
	require.NoError(t, err)

	c := newCollection(db)
	batch, err := c.CurrentStateAsChanges(context.Background(), func(r row.Row) bool {
		return r.Get("value").(float64) > 5
	})
	require.NoError(t, err)
	require.Equal(t, 1, batch.Len())
}

func TestGetReturnsRowByKeyAndMissForUnknownKey(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Exec(`INSERT INTO metrics VALUES (1, 1.5, 1)`)
	require.NoError(t, err)

	c := newCollection(db)
	r, found, err := c.Get(context.Background(), int32(1))
	require.NoError(t, err)
	require.True(t, found)
	require.EqualValues(t, 1.5, r["value"])

	_, found, err = c.Get(context.Background(), int32(42))
	require.NoError(t, err)
	require.False(t, found)
}

func TestDiffAgainstMirrorDetectsInsertUpdateAndDelete(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Exec(`INSERT INTO metrics VALUES (1, 1.5, 1), (2, 2.5, 1)`)
	require.NoError(t, err)

	c := newCollection(db)
	_, err = c.CurrentStateAsChanges(context.Background(), nil)
	require.NoError(t, err)

	_, err = db.Exec(`UPDATE metrics SET value = 9.9 WHERE id = 1`)
	require.NoError(t, err)
	_, err = db.Exec(`DELETE FROM metrics WHERE id = 2`)
	require.NoError(t, err)

	batch, err := c.diffAgainstMirror(context.Background(), nil)
	require.NoError(t, err)
	require.Equal(t, 3, batch.Len()) // retract+insert for id 1, retract for id 2
}

func TestIndexTakePaginatesInSortOrder(t *testing.T) {
	db := openTestDB(t)
	_, err := db.Exec(`INSERT INTO metrics VALUES (1, 3.0, 1), (2, 1.0, 1), (3, 2.0, 1)`)
	require.NoError(t, err)

	c := newCollection(db)
	cmp := func(a, b row.Row) int {
		av, bv := a.Get("value").(float64), b.Get("value").(float64)
		switch {
		case av < bv:
			return -1
		case av > bv:
			return 1
		default:
			return 0
		}
	}

	idx := c.Index()
	batch, err := idx.Take(context.Background(), cmp, nil, 2, nil)
	require.NoError(t, err)
	require.Equal(t, 2, batch.Len())
	require.EqualValues(t, 1.0, batch.Tuples[0].Payload.(row.Row)["value"])
	require.EqualValues(t, 2.0, batch.Tuples[1].Payload.(row.Row)["value"])
}
