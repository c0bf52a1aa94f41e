package pipeline

import (
	"context"
	"strings"

	"go-etl-pipeline/internal/errors"
	"go-etl-pipeline/internal/model"
)

// Aggregations supported by GroupBroadcast.
const (
	AggCount = "count"
	AggMean  = "mean"
	AggSum   = "sum"
	AggMin   = "min"
	AggMax   = "max"
)

// GroupBroadcast computes a per-group aggregate and writes it back onto
// every row of the group, like a windowed aggregate without ordering.
//
// count counts non-null values of Column, or rows when Column is empty.
// Nulls are skipped by every other aggregate. Rows with a null group key
// get a null result.
type GroupBroadcast struct {
	GroupBy []string
	Column  string
	Agg     string
	Output  string
}

// groupAccumulator is the running state of one group.
type groupAccumulator struct {
	count int64
	sum   float64
	isum  int64
	min   any
	max   any
}

func (g *GroupBroadcast) Name() string {
	return "group_broadcast(" + g.Agg + " " + g.Column + " by " + strings.Join(g.GroupBy, ",") + ")"
}

func (g *GroupBroadcast) output() string {
	if g.Output != "" {
		return g.Output
	}
	if g.Column == "" {
		return g.Agg
	}
	return g.Agg + "_" + g.Column
}

func (g *GroupBroadcast) check() error {
	if len(g.GroupBy) == 0 {
		return errors.Wrap(ErrInvalidStep, "group_by is required")
	}
	switch g.Agg {
	case AggCount:
	case AggMean, AggSum, AggMin, AggMax:
		if g.Column == "" {
			return errors.Wrapf(ErrInvalidStep, "%s needs a column", g.Agg)
		}
	default:
		return errors.Wrapf(ErrInvalidStep, "unknown aggregation %q", g.Agg)
	}
	return nil
}

// resultType is the logical type of the broadcast column.
func (g *GroupBroadcast) resultType(src model.LogicalType) model.LogicalType {
	switch g.Agg {
	case AggCount:
		return model.TypeInteger
	case AggMean:
		return model.TypeFloat
	case AggSum:
		if src == model.TypeInteger {
			return model.TypeInteger
		}
		return model.TypeFloat
	}
	return src
}

func (g *GroupBroadcast) Apply(ctx context.Context, ds *model.Dataset) (*model.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := g.check(); err != nil {
		return nil, stepError(g.Name(), g.Column, err)
	}
	for _, k := range g.GroupBy {
		if !ds.Has(k) {
			return nil, columnNotFound(g.Name(), k)
		}
	}
	var src model.LogicalType
	if g.Column != "" {
		t, ok := ds.TypeOf(g.Column)
		if !ok {
			return nil, columnNotFound(g.Name(), g.Column)
		}
		src = t
		if (g.Agg == AggMean || g.Agg == AggSum) && !t.Numeric() {
			return nil, stepError(g.Name(), g.Column, errors.Wrapf(ErrTypeMismatch, "%s needs a numeric column, got %s", g.Agg, t))
		}
		if (g.Agg == AggMin || g.Agg == AggMax) && t == model.TypeBoolean {
			return nil, stepError(g.Name(), g.Column, errors.Wrapf(ErrTypeMismatch, "%s on a boolean column", g.Agg))
		}
	}

	// pass one: accumulate
	keys := make([]string, ds.RowCount())
	groups := make(map[string]*groupAccumulator)
	for row := 0; row < ds.RowCount(); row++ {
		if hasNull(ds, row, g.GroupBy) {
			continue
		}
		key := ds.RowKey(row, g.GroupBy)
		keys[row] = key
		acc, ok := groups[key]
		if !ok {
			acc = &groupAccumulator{}
			groups[key] = acc
		}
		if g.Column == "" {
			acc.count++
			continue
		}
		v := ds.Value(row, g.Column)
		if v == nil {
			continue
		}
		acc.count++
		if i, ok := v.(int64); ok {
			acc.isum += i
		}
		if n, ok := model.Numeric(v); ok {
			acc.sum += n
		}
		if acc.min == nil || compareValues(v, acc.min) < 0 {
			acc.min = v
		}
		if acc.max == nil || compareValues(v, acc.max) > 0 {
			acc.max = v
		}
	}

	// pass two: broadcast
	rt := g.resultType(src)
	values := make([]any, ds.RowCount())
	for row, key := range keys {
		acc, ok := groups[key]
		if key == "" || !ok {
			continue
		}
		values[row] = g.result(acc, rt)
	}
	out, err := ds.WithColumn(model.Column{Name: g.output(), Type: rt, Values: values})
	if err != nil {
		return nil, stepError(g.Name(), g.Column, err)
	}
	return out, nil
}

func (g *GroupBroadcast) result(acc *groupAccumulator, rt model.LogicalType) any {
	switch g.Agg {
	case AggCount:
		return acc.count
	case AggMean:
		if acc.count == 0 {
			return nil
		}
		return acc.sum / float64(acc.count)
	case AggSum:
		if rt == model.TypeInteger {
			return acc.isum
		}
		return acc.sum
	case AggMin:
		return acc.min
	case AggMax:
		return acc.max
	}
	return nil
}

func hasNull(ds *model.Dataset, row int, cols []string) bool {
	for _, c := range cols {
		if ds.Value(row, c) == nil {
			return true
		}
	}
	return false
}
