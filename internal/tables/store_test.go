package tables

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/raphaelgruber/contextbase/internal/models"
)

func newTestStore(t *testing.T, batchSize int) *Store {
	t.Helper()
	s, err := Open("sqlite", ":memory:", batchSize, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestCreateOrReplaceTable(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 2)

	frame := &models.Frame{
		Columns: []string{"name", "price.usd", `say "hi"?`},
		Rows: [][]string{
			{"apple", "1.20", "yes"},
			{"pear", "0.90", ""},
			{"plum", "2.00", "no"},
			{"fig", "3.10", "maybe"},
			{"kiwi", "0.50", "no"},
		},
	}
	require.NoError(t, s.CreateOrReplaceTable(ctx, "acme/fruit", frame))

	got, err := s.ReadRows(ctx, "acme/fruit", 0)
	require.NoError(t, err)
	assert.Equal(t, frame.Columns, got.Columns)
	assert.Equal(t, frame.Rows, got.Rows, "rows keep insertion order across batches")

	head, err := s.ReadRows(ctx, "acme/fruit", 3)
	require.NoError(t, err)
	assert.Equal(t, frame.Rows[:3], head.Rows)
}

func TestCreateOrReplaceTableReplaces(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 1000)

	require.NoError(t, s.CreateOrReplaceTable(ctx, "acme/t", &models.Frame{
		Columns: []string{"a", "b"},
		Rows:    [][]string{{"1", "2"}, {"3", "4"}},
	}))
	require.NoError(t, s.CreateOrReplaceTable(ctx, "acme/t", &models.Frame{
		Columns: []string{"c"},
		Rows:    [][]string{{"x"}},
	}))

	got, err := s.ReadRows(ctx, "acme/t", 0)
	require.NoError(t, err)
	assert.Equal(t, []string{"c"}, got.Columns)
	assert.Equal(t, [][]string{{"x"}}, got.Rows)
}

func TestWideTableBatches(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 1000)

	cols := make([]string, 60)
	for i := range cols {
		cols[i] = fmt.Sprintf("c%d", i)
	}
	rows := make([][]string, 1200)
	for i := range rows {
		rows[i] = make([]string, len(cols))
		for j := range cols {
			rows[i][j] = fmt.Sprintf("%d-%d", i, j)
		}
	}
	require.NoError(t, s.CreateOrReplaceTable(ctx, "acme/wide", &models.Frame{Columns: cols, Rows: rows}))

	got, err := s.ReadRows(ctx, "acme/wide", 0)
	require.NoError(t, err)
	require.Len(t, got.Rows, 1200)
	assert.Equal(t, "1199-59", got.Rows[1199][59])
}

func TestDropTable(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, 0)

	require.NoError(t, s.CreateOrReplaceTable(ctx, "acme/gone", &models.Frame{Columns: []string{"a"}}))
	require.NoError(t, s.DropTable(ctx, "acme/gone"))
	require.NoError(t, s.DropTable(ctx, "acme/gone"), "dropping a missing table is not an error")

	_, err := s.ReadRows(ctx, "acme/gone", 0)
	assert.ErrorIs(t, err, ErrTableNotFound)
}

func TestOpenUnknownDialect(t *testing.T) {
	_, err := Open("oracle", "", 0, nil)
	assert.Error(t, err)
}
