package model

import (
	"fmt"
	"time"

	"go-etl-pipeline/internal/errors"
)

// LogicalType is the declared type of a Dataset column.
type LogicalType string

const (
	TypeInteger     LogicalType = "integer"
	TypeFloat       LogicalType = "float"
	TypeString      LogicalType = "string"
	TypeBoolean     LogicalType = "boolean"
	TypeTimestamp   LogicalType = "timestamp"
	TypeCategorical LogicalType = "categorical"
)

// Valid reports whether t is one of the known logical types.
func (t LogicalType) Valid() bool {
	switch t {
	case TypeInteger, TypeFloat, TypeString, TypeBoolean, TypeTimestamp, TypeCategorical:
		return true
	}
	return false
}

// Numeric reports whether values of t can be compared as numbers.
func (t LogicalType) Numeric() bool {
	return t == TypeInteger || t == TypeFloat
}

// ErrInvalidDataset is wrapped by every Dataset construction failure.
var ErrInvalidDataset = errors.New("invalid dataset")

// Column is a named, typed sequence of values. A nil value is a null cell.
//
// Values are stored as int64 (integer), float64 (float), string (string and
// categorical), bool (boolean) and time.Time (timestamp).
type Column struct {
	Name   string      `json:"name"`
	Type   LogicalType `json:"type"`
	Values []any       `json:"values"`
}

// NullCount returns the number of null cells in the column.
func (c Column) NullCount() int {
	n := 0
	for _, v := range c.Values {
		if v == nil {
			n++
		}
	}
	return n
}

// Dataset is an immutable table of equally long, uniquely named columns.
// Every method that changes shape or content returns a new Dataset.
type Dataset struct {
	columns []Column
	index   map[string]int
	rows    int
}

// NewDataset validates cols and builds a Dataset that owns copies of them.
func NewDataset(cols ...Column) (*Dataset, error) {
	ds := &Dataset{
		columns: make([]Column, 0, len(cols)),
		index:   make(map[string]int, len(cols)),
	}
	for i, c := range cols {
		if c.Name == "" {
			return nil, errors.Wrapf(ErrInvalidDataset, "column %d has no name", i)
		}
		if !c.Type.Valid() {
			return nil, errors.Wrapf(ErrInvalidDataset, "column %q has unknown type %q", c.Name, c.Type)
		}
		if _, dup := ds.index[c.Name]; dup {
			return nil, errors.Wrapf(ErrInvalidDataset, "duplicate column name %q", c.Name)
		}
		if i == 0 {
			ds.rows = len(c.Values)
		} else if len(c.Values) != ds.rows {
			return nil, errors.Wrapf(ErrInvalidDataset, "column %q has %d rows, want %d", c.Name, len(c.Values), ds.rows)
		}
		for row, v := range c.Values {
			if !Conforms(c.Type, v) {
				return nil, errors.Wrapf(ErrInvalidDataset, "column %q row %d: %T does not conform to %s", c.Name, row, v, c.Type)
			}
		}
		ds.index[c.Name] = i
		ds.columns = append(ds.columns, Column{Name: c.Name, Type: c.Type, Values: cloneValues(c.Values)})
	}
	return ds, nil
}

// MustDataset is NewDataset for fixtures; it panics on invalid input.
func MustDataset(cols ...Column) *Dataset {
	ds, err := NewDataset(cols...)
	if err != nil {
		panic(err)
	}
	return ds
}

// Empty returns a Dataset with no columns and no rows.
func Empty() *Dataset {
	return &Dataset{index: map[string]int{}}
}

// RowCount returns the number of rows.
func (d *Dataset) RowCount() int { return d.rows }

// ColumnCount returns the number of columns.
func (d *Dataset) ColumnCount() int { return len(d.columns) }

// ColumnNames returns the column names in order.
func (d *Dataset) ColumnNames() []string {
	names := make([]string, len(d.columns))
	for i, c := range d.columns {
		names[i] = c.Name
	}
	return names
}

// Has reports whether a column named name exists.
func (d *Dataset) Has(name string) bool {
	_, ok := d.index[name]
	return ok
}

// Column returns a copy of the named column.
func (d *Dataset) Column(name string) (Column, bool) {
	i, ok := d.index[name]
	if !ok {
		return Column{}, false
	}
	c := d.columns[i]
	return Column{Name: c.Name, Type: c.Type, Values: cloneValues(c.Values)}, true
}

// Columns returns copies of every column in order.
func (d *Dataset) Columns() []Column {
	out := make([]Column, len(d.columns))
	for i, c := range d.columns {
		out[i] = Column{Name: c.Name, Type: c.Type, Values: cloneValues(c.Values)}
	}
	return out
}

// TypeOf returns the declared type of the named column.
func (d *Dataset) TypeOf(name string) (LogicalType, bool) {
	i, ok := d.index[name]
	if !ok {
		return "", false
	}
	return d.columns[i].Type, true
}

// Value returns the cell at row for the named column. It returns nil for
// unknown columns and out-of-range rows.
func (d *Dataset) Value(row int, name string) any {
	i, ok := d.index[name]
	if !ok || row < 0 || row >= d.rows {
		return nil
	}
	return d.columns[i].Values[row]
}

// Row returns the values of one row keyed by column name.
func (d *Dataset) Row(row int) map[string]any {
	out := make(map[string]any, len(d.columns))
	for _, c := range d.columns {
		out[c.Name] = c.Values[row]
	}
	return out
}

// values exposes the backing slice for read-only scans inside the package.
func (d *Dataset) values(name string) ([]any, LogicalType, bool) {
	i, ok := d.index[name]
	if !ok {
		return nil, "", false
	}
	return d.columns[i].Values, d.columns[i].Type, true
}

// Scan calls fn for every cell of the named column without copying it.
// fn must not retain or modify v beyond the call.
func (d *Dataset) Scan(name string, fn func(row int, v any)) bool {
	vals, _, ok := d.values(name)
	if !ok {
		return false
	}
	for i, v := range vals {
		fn(i, v)
	}
	return true
}

// WithColumn returns a new Dataset with c appended, or replacing the
// existing column of the same name in place.
func (d *Dataset) WithColumn(c Column) (*Dataset, error) {
	cols := d.Columns()
	if i, ok := d.index[c.Name]; ok {
		cols[i] = c
	} else {
		cols = append(cols, c)
	}
	if len(d.columns) > 0 && len(c.Values) != d.rows {
		return nil, errors.Wrapf(ErrInvalidDataset, "column %q has %d rows, want %d", c.Name, len(c.Values), d.rows)
	}
	return NewDataset(cols...)
}

// Rename returns a new Dataset with column from renamed to to, keeping its
// position.
func (d *Dataset) Rename(from, to string) (*Dataset, error) {
	i, ok := d.index[from]
	if !ok {
		return nil, errors.Wrapf(ErrInvalidDataset, "column %q not found", from)
	}
	cols := d.Columns()
	cols[i].Name = to
	return NewDataset(cols...)
}

// SelectRows returns a new Dataset holding the given rows in the given order.
func (d *Dataset) SelectRows(rows []int) (*Dataset, error) {
	cols := make([]Column, len(d.columns))
	for ci, c := range d.columns {
		vals := make([]any, len(rows))
		for i, r := range rows {
			if r < 0 || r >= d.rows {
				return nil, errors.Wrapf(ErrInvalidDataset, "row %d out of range [0,%d)", r, d.rows)
			}
			vals[i] = c.Values[r]
		}
		cols[ci] = Column{Name: c.Name, Type: c.Type, Values: vals}
	}
	out := &Dataset{columns: cols, index: make(map[string]int, len(cols)), rows: len(rows)}
	for i, c := range cols {
		out.index[c.Name] = i
	}
	return out, nil
}

// Equal reports whether two datasets have the same schema and cells.
func (d *Dataset) Equal(o *Dataset) bool {
	if d.rows != o.rows || len(d.columns) != len(o.columns) {
		return false
	}
	for i, c := range d.columns {
		oc := o.columns[i]
		if c.Name != oc.Name || c.Type != oc.Type {
			return false
		}
		for r := range c.Values {
			if !ValuesEqual(c.Values[r], oc.Values[r]) {
				return false
			}
		}
	}
	return true
}

// String summarises the shape of the dataset.
func (d *Dataset) String() string {
	return fmt.Sprintf("Dataset(%d rows × %d columns)", d.rows, len(d.columns))
}

func cloneValues(in []any) []any {
	out := make([]any, len(in))
	copy(out, in)
	return out
}

// ValuesEqual compares two cells; timestamps compare by instant.
func ValuesEqual(a, b any) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	if ta, ok := a.(time.Time); ok {
		tb, ok := b.(time.Time)
		return ok && ta.Equal(tb)
	}
	return a == b
}
