package model

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go-etl-pipeline/internal/errors"
)

func TestNewDataset(t *testing.T) {
	tests := []struct {
		name    string
		cols    []Column
		wantErr bool
	}{
		{
			name: "valid",
			cols: []Column{
				{Name: "id", Type: TypeInteger, Values: []any{int64(1), int64(2)}},
				{Name: "amount", Type: TypeFloat, Values: []any{50.0, nil}},
			},
		},
		{
			name: "duplicate names",
			cols: []Column{
				{Name: "id", Type: TypeInteger, Values: []any{int64(1)}},
				{Name: "id", Type: TypeInteger, Values: []any{int64(2)}},
			},
			wantErr: true,
		},
		{
			name: "ragged rows",
			cols: []Column{
				{Name: "a", Type: TypeString, Values: []any{"x", "y"}},
				{Name: "b", Type: TypeString, Values: []any{"x"}},
			},
			wantErr: true,
		},
		{
			name:    "value does not conform",
			cols:    []Column{{Name: "a", Type: TypeInteger, Values: []any{1.5}}},
			wantErr: true,
		},
		{
			name:    "unknown type",
			cols:    []Column{{Name: "a", Type: "decimal", Values: []any{}}},
			wantErr: true,
		},
		{
			name:    "empty name",
			cols:    []Column{{Name: "", Type: TypeString, Values: []any{}}},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ds, err := NewDataset(tt.cols...)
			if tt.wantErr {
				require.Error(t, err)
				assert.True(t, errors.Is(err, ErrInvalidDataset))
				return
			}
			require.NoError(t, err)
			assert.Equal(t, 2, ds.RowCount())
			assert.Equal(t, []string{"id", "amount"}, ds.ColumnNames())
		})
	}
}

func TestDatasetDoesNotAliasInput(t *testing.T) {
	vals := []any{int64(1), int64(2)}
	ds := MustDataset(Column{Name: "id", Type: TypeInteger, Values: vals})

	vals[0] = int64(99)
	assert.Equal(t, int64(1), ds.Value(0, "id"))

	col, ok := ds.Column("id")
	require.True(t, ok)
	col.Values[1] = int64(42)
	assert.Equal(t, int64(2), ds.Value(1, "id"))
}

func TestWithColumn(t *testing.T) {
	ds := MustDataset(Column{Name: "id", Type: TypeInteger, Values: []any{int64(1), int64(2)}})

	added, err := ds.WithColumn(Column{Name: "flag", Type: TypeBoolean, Values: []any{true, false}})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "flag"}, added.ColumnNames())
	assert.Equal(t, 1, ds.ColumnCount(), "input must be unchanged")

	replaced, err := added.WithColumn(Column{Name: "id", Type: TypeString, Values: []any{"a", "b"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "flag"}, replaced.ColumnNames())
	typ, _ := replaced.TypeOf("id")
	assert.Equal(t, TypeString, typ)

	_, err = ds.WithColumn(Column{Name: "short", Type: TypeBoolean, Values: []any{true}})
	assert.Error(t, err)

	first, err := Empty().WithColumn(Column{Name: "x", Type: TypeFloat, Values: []any{1.0, 2.0, 3.0}})
	require.NoError(t, err)
	assert.Equal(t, 3, first.RowCount())
}

func TestRename(t *testing.T) {
	ds := MustDataset(
		Column{Name: "a", Type: TypeInteger, Values: []any{int64(1)}},
		Column{Name: "b", Type: TypeString, Values: []any{"x"}},
	)
	out, err := ds.Rename("a", "id")
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "b"}, out.ColumnNames())
	assert.Equal(t, int64(1), out.Value(0, "id"))
	assert.Equal(t, []string{"a", "b"}, ds.ColumnNames())

	_, err = ds.Rename("a", "b")
	assert.ErrorIs(t, err, ErrInvalidDataset)
	_, err = ds.Rename("zzz", "c")
	assert.ErrorIs(t, err, ErrInvalidDataset)
}

func TestSelectRows(t *testing.T) {
	ds := MustDataset(
		Column{Name: "id", Type: TypeInteger, Values: []any{int64(1), int64(2), int64(3)}},
		Column{Name: "name", Type: TypeString, Values: []any{"a", nil, "c"}},
	)

	out, err := ds.SelectRows([]int{2, 0})
	require.NoError(t, err)
	assert.Equal(t, 2, out.RowCount())
	assert.Equal(t, int64(3), out.Value(0, "id"))
	assert.Equal(t, "a", out.Value(1, "name"))

	_, err = ds.SelectRows([]int{5})
	assert.Error(t, err)
}

func TestRowKey(t *testing.T) {
	ts := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	ds := MustDataset(
		Column{Name: "a", Type: TypeString, Values: []any{"1", nil, nil, "1"}},
		Column{Name: "b", Type: TypeTimestamp, Values: []any{ts, nil, nil, ts.In(time.FixedZone("x", 3600))}},
	)

	assert.Equal(t, ds.RowKey(1, []string{"a", "b"}), ds.RowKey(2, []string{"a", "b"}), "nulls compare equal")
	assert.Equal(t, ds.RowKey(0, []string{"a", "b"}), ds.RowKey(3, []string{"a", "b"}), "same instant in another zone")
	assert.NotEqual(t, ds.RowKey(0, []string{"a"}), ds.RowKey(1, []string{"a"}))

	ints := MustDataset(
		Column{Name: "i", Type: TypeInteger, Values: []any{int64(1)}},
		Column{Name: "s", Type: TypeString, Values: []any{"1"}},
	)
	assert.NotEqual(t, ints.RowKey(0, []string{"i"}), ints.RowKey(0, []string{"s"}))
}

func TestEqual(t *testing.T) {
	a := MustDataset(Column{Name: "x", Type: TypeFloat, Values: []any{1.0, nil}})
	b := MustDataset(Column{Name: "x", Type: TypeFloat, Values: []any{1.0, nil}})
	c := MustDataset(Column{Name: "x", Type: TypeFloat, Values: []any{1.0, 2.0}})

	assert.True(t, a.Equal(b))
	assert.False(t, a.Equal(c))
}

func TestFormatValue(t *testing.T) {
	assert.Equal(t, "", FormatValue(nil))
	assert.Equal(t, "42", FormatValue(int64(42)))
	assert.Equal(t, "12.5", FormatValue(12.5))
	assert.Equal(t, "true", FormatValue(true))
	assert.Equal(t, "2024-01-01T05:00:00Z", FormatValue(time.Date(2024, 1, 1, 5, 0, 0, 0, time.UTC)))
}
