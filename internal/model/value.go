package model

import (
	"math"
	"strconv"
	"strings"
	"time"
)

// TimestampLayout is used when timestamps are rendered as text.
const TimestampLayout = time.RFC3339

// Conforms reports whether v is a legal cell value for a column of type t.
// Null always conforms.
func Conforms(t LogicalType, v any) bool {
	if v == nil {
		return true
	}
	switch t {
	case TypeInteger:
		_, ok := v.(int64)
		return ok
	case TypeFloat:
		_, ok := v.(float64)
		return ok
	case TypeString, TypeCategorical:
		_, ok := v.(string)
		return ok
	case TypeBoolean:
		_, ok := v.(bool)
		return ok
	case TypeTimestamp:
		_, ok := v.(time.Time)
		return ok
	}
	return false
}

// Numeric converts integer and float cells to float64.
func Numeric(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		if math.IsNaN(n) {
			return 0, false
		}
		return n, true
	}
	return 0, false
}

// FormatValue renders a cell as text; null renders as the empty string.
func FormatValue(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case int64:
		return strconv.FormatInt(x, 10)
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	case string:
		return x
	case time.Time:
		return x.UTC().Format(TimestampLayout)
	}
	return ""
}

// RowKey encodes the cells of row over cols into a string usable as a map
// key. Cells of different types never collide and nulls compare equal.
func (d *Dataset) RowKey(row int, cols []string) string {
	var b strings.Builder
	for _, name := range cols {
		v := d.Value(row, name)
		switch x := v.(type) {
		case nil:
			b.WriteString("n:")
		case int64:
			b.WriteString("i:")
			b.WriteString(strconv.FormatInt(x, 10))
		case float64:
			b.WriteString("f:")
			b.WriteString(strconv.FormatFloat(x, 'g', -1, 64))
		case bool:
			b.WriteString("b:")
			b.WriteString(strconv.FormatBool(x))
		case string:
			b.WriteString("s:")
			b.WriteString(strconv.Quote(x))
		case time.Time:
			b.WriteString("t:")
			b.WriteString(strconv.FormatInt(x.UnixNano(), 10))
		}
		b.WriteByte('|')
	}
	return b.String()
}
