package pipeline

import (
	"context"
	"math"
	"sort"
	"strings"
	"time"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"

	"go-etl-pipeline/internal/errors"
	"go-etl-pipeline/internal/model"
	"go-etl-pipeline/pkg/utils"
)

// TransformStep maps one dataset to a new one. Steps never modify their
// input.
type TransformStep interface {
	Name() string
	Apply(ctx context.Context, ds *model.Dataset) (*model.Dataset, error)
}

// Fill policies.
const (
	FillConstant = "constant"
	FillUnknown  = "unknown"
	FillMedian   = "median"
	FillMean     = "mean"
	FillMode     = "mode"
)

// UnknownValue is the replacement used by the unknown fill policy.
const UnknownValue = "Unknown"

// BuildSteps turns step specs into transform steps, in order.
func BuildSteps(specs []model.StepSpec) ([]TransformStep, error) {
	steps := make([]TransformStep, 0, len(specs))
	for i, s := range specs {
		step, err := buildStep(s)
		if err != nil {
			return nil, errors.Wrapf(err, "transform %d (%s)", i, s.Type)
		}
		steps = append(steps, step)
	}
	return steps, nil
}

func buildStep(s model.StepSpec) (TransformStep, error) {
	switch strings.ToLower(s.Type) {
	case "fill_nulls":
		if s.Column == "" {
			return nil, errors.Wrap(ErrInvalidStep, "column is required")
		}
		policy := strings.ToLower(s.Policy)
		if policy == "" {
			policy = FillConstant
		}
		switch policy {
		case FillConstant:
			if s.Value == nil {
				return nil, errors.Wrap(ErrInvalidStep, "value is required for the constant policy")
			}
		case FillUnknown, FillMedian, FillMean, FillMode:
		default:
			return nil, errors.Wrapf(ErrInvalidStep, "unknown fill policy %q", s.Policy)
		}
		return &FillNulls{Column: s.Column, Policy: policy, Value: s.Value}, nil
	case "dedupe":
		return &Dedupe{Columns: s.Columns}, nil
	case "date_parts":
		if s.Column == "" {
			return nil, errors.Wrap(ErrInvalidStep, "column is required")
		}
		for _, p := range s.Parts {
			if !validDatePart(p) {
				return nil, errors.Wrapf(ErrInvalidStep, "unknown date part %q", p)
			}
		}
		return &DateParts{Column: s.Column, Parts: s.Parts, Prefix: s.Prefix}, nil
	case "bin":
		b := &Bin{Column: s.Column, Output: s.Output, Boundaries: s.Boundaries, Labels: s.Labels}
		if err := b.check(); err != nil {
			return nil, err
		}
		return b, nil
	case "filter":
		f := &Filter{Column: s.Column, Op: s.Op, Value: s.Value, Expr: s.Expr}
		if err := f.check(); err != nil {
			return nil, err
		}
		return f, nil
	case "group_broadcast":
		g := &GroupBroadcast{GroupBy: s.GroupBy, Column: s.Column, Agg: strings.ToLower(s.Agg), Output: s.Output}
		if err := g.check(); err != nil {
			return nil, err
		}
		return g, nil
	case "cast":
		if s.Column == "" || !s.To.Valid() {
			return nil, errors.Wrap(ErrInvalidStep, "column and a valid target type are required")
		}
		return &Cast{Column: s.Column, To: s.To}, nil
	case "derive":
		if s.Output == "" || s.Expr == "" {
			return nil, errors.Wrap(ErrInvalidStep, "output and expr are required")
		}
		if s.To != "" && !s.To.Valid() {
			return nil, errors.Wrapf(ErrInvalidStep, "unknown type %q", s.To)
		}
		return &Derive{Output: s.Output, Expr: s.Expr, Type: s.To}, nil
	case "rename":
		if s.Column == "" || s.Output == "" {
			return nil, errors.Wrap(ErrInvalidStep, "column and output are required")
		}
		return &Rename{Column: s.Column, Output: s.Output}, nil
	}
	return nil, errors.Wrapf(ErrInvalidStep, "unknown transform %q", s.Type)
}

// ------------------- FillNulls -------------------

// FillNulls replaces every null in Column according to Policy. The row
// count is preserved and no null remains in the column.
type FillNulls struct {
	Column string
	Policy string
	Value  any
}

func (f *FillNulls) Name() string { return "fill_nulls(" + f.Column + ")" }

func (f *FillNulls) Apply(ctx context.Context, ds *model.Dataset) (*model.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	col, ok := ds.Column(f.Column)
	if !ok {
		return nil, columnNotFound(f.Name(), f.Column)
	}
	fill, err := f.replacement(col)
	if err != nil {
		return nil, stepError(f.Name(), f.Column, err)
	}
	if fill == nil {
		return ds, nil
	}
	for i, v := range col.Values {
		if v == nil {
			col.Values[i] = fill
		}
	}
	out, err := ds.WithColumn(col)
	if err != nil {
		return nil, stepError(f.Name(), f.Column, err)
	}
	return out, nil
}

// replacement computes the fill value. A nil result with no error means
// the column has no nulls.
func (f *FillNulls) replacement(col model.Column) (any, error) {
	if col.NullCount() == 0 {
		return nil, nil
	}
	switch f.Policy {
	case FillConstant, "":
		if f.Value == nil {
			return nil, errors.Wrap(ErrInvalidStep, "constant fill needs a value")
		}
		v, err := utils.Coerce(f.Value, col.Type)
		if err != nil {
			return nil, errors.Wrapf(ErrTypeMismatch, "fill value: %v", err)
		}
		return v, nil
	case FillUnknown:
		if col.Type != model.TypeString && col.Type != model.TypeCategorical {
			return nil, errors.Wrapf(ErrTypeMismatch, "unknown fill needs a string column, got %s", col.Type)
		}
		return UnknownValue, nil
	case FillMedian, FillMean:
		if !col.Type.Numeric() {
			return nil, errors.Wrapf(ErrTypeMismatch, "%s fill needs a numeric column, got %s", f.Policy, col.Type)
		}
		nums := make([]float64, 0, len(col.Values))
		for _, v := range col.Values {
			if n, ok := model.Numeric(v); ok {
				nums = append(nums, n)
			}
		}
		if len(nums) == 0 {
			return nil, errors.Wrapf(ErrInvalidStep, "%s fill on a column with no values", f.Policy)
		}
		var stat float64
		if f.Policy == FillMedian {
			stat = median(nums)
		} else {
			stat = mean(nums)
		}
		if col.Type == model.TypeInteger {
			return int64(math.Round(stat)), nil
		}
		return stat, nil
	case FillMode:
		v := mode(col.Values)
		if v == nil {
			return nil, errors.Wrap(ErrInvalidStep, "mode fill on a column with no values")
		}
		return v, nil
	}
	return nil, errors.Wrapf(ErrInvalidStep, "unknown fill policy %q", f.Policy)
}

func median(nums []float64) float64 {
	sorted := append([]float64(nil), nums...)
	sort.Float64s(sorted)
	mid := len(sorted) / 2
	if len(sorted)%2 == 0 {
		return (sorted[mid-1] + sorted[mid]) / 2
	}
	return sorted[mid]
}

func mean(nums []float64) float64 {
	var sum float64
	for _, n := range nums {
		sum += n
	}
	return sum / float64(len(nums))
}

// mode returns the most frequent non-null value; ties go to the value seen
// first.
func mode(values []any) any {
	counts := map[any]int{}
	var best any
	bestCount := 0
	for _, v := range values {
		if v == nil {
			continue
		}
		key := v
		if t, ok := v.(time.Time); ok {
			key = t.UnixNano()
		}
		counts[key]++
		if counts[key] > bestCount {
			best, bestCount = v, counts[key]
		}
	}
	return best
}

// ------------------- Dedupe -------------------

// Dedupe drops rows whose key columns repeat an earlier row. With no
// Columns the whole row is the key. The first occurrence is kept and the
// relative order of survivors is preserved.
type Dedupe struct {
	Columns []string
}

func (d *Dedupe) Name() string {
	if len(d.Columns) == 0 {
		return "dedupe"
	}
	return "dedupe(" + strings.Join(d.Columns, ",") + ")"
}

func (d *Dedupe) Apply(ctx context.Context, ds *model.Dataset) (*model.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	keys := d.Columns
	if len(keys) == 0 {
		keys = ds.ColumnNames()
	}
	for _, k := range keys {
		if !ds.Has(k) {
			return nil, columnNotFound(d.Name(), k)
		}
	}
	seen := make(map[string]struct{}, ds.RowCount())
	keep := make([]int, 0, ds.RowCount())
	for row := 0; row < ds.RowCount(); row++ {
		k := ds.RowKey(row, keys)
		if _, dup := seen[k]; dup {
			continue
		}
		seen[k] = struct{}{}
		keep = append(keep, row)
	}
	if len(keep) == ds.RowCount() {
		return ds, nil
	}
	out, err := ds.SelectRows(keep)
	if err != nil {
		return nil, stepError(d.Name(), "", err)
	}
	return out, nil
}

// ------------------- DateParts -------------------

// Date parts.
const (
	PartYear      = "year"
	PartMonth     = "month"
	PartDay       = "day"
	PartDayOfWeek = "day_of_week"
	PartHour      = "hour"
)

var defaultDateParts = []string{PartYear, PartMonth, PartDayOfWeek, PartHour}

func validDatePart(p string) bool {
	switch p {
	case PartYear, PartMonth, PartDay, PartDayOfWeek, PartHour:
		return true
	}
	return false
}

// DateParts adds integer columns derived from a timestamp column, named
// Prefix + part. Prefix defaults to the column name up to its last
// underscore ("transaction_date" gives "transaction_"). day_of_week counts
// from Monday=0. Null timestamps give null parts.
type DateParts struct {
	Column string
	Parts  []string
	Prefix string
}

func (p *DateParts) Name() string { return "date_parts(" + p.Column + ")" }

func (p *DateParts) prefix() string {
	if p.Prefix != "" {
		return p.Prefix
	}
	if i := strings.LastIndex(p.Column, "_"); i > 0 {
		return p.Column[:i+1]
	}
	return p.Column + "_"
}

func (p *DateParts) Apply(ctx context.Context, ds *model.Dataset) (*model.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	col, ok := ds.Column(p.Column)
	if !ok {
		return nil, columnNotFound(p.Name(), p.Column)
	}
	if col.Type != model.TypeTimestamp {
		return nil, stepError(p.Name(), p.Column, errors.Wrapf(ErrTypeMismatch, "need a timestamp column, got %s", col.Type))
	}
	parts := p.Parts
	if len(parts) == 0 {
		parts = defaultDateParts
	}
	out := ds
	for _, part := range parts {
		if !validDatePart(part) {
			return nil, stepError(p.Name(), p.Column, errors.Wrapf(ErrInvalidStep, "unknown date part %q", part))
		}
		values := make([]any, len(col.Values))
		for i, v := range col.Values {
			t, ok := v.(time.Time)
			if !ok {
				continue
			}
			values[i] = datePart(t, part)
		}
		var err error
		out, err = out.WithColumn(model.Column{Name: p.prefix() + part, Type: model.TypeInteger, Values: values})
		if err != nil {
			return nil, stepError(p.Name(), p.Column, err)
		}
	}
	return out, nil
}

func datePart(t time.Time, part string) int64 {
	switch part {
	case PartYear:
		return int64(t.Year())
	case PartMonth:
		return int64(t.Month())
	case PartDay:
		return int64(t.Day())
	case PartDayOfWeek:
		return int64((int(t.Weekday()) + 6) % 7)
	default:
		return int64(t.Hour())
	}
}

// ------------------- Bin -------------------

// Bin maps a numeric column into labelled buckets. Buckets are half-open
// [b_i, b_i+1) except the last, which also includes its upper boundary.
// Values outside every bucket, and nulls, become null.
type Bin struct {
	Column     string
	Output     string
	Boundaries []float64
	Labels     []string
}

func (b *Bin) Name() string { return "bin(" + b.Column + ")" }

func (b *Bin) output() string {
	if b.Output != "" {
		return b.Output
	}
	return b.Column + "_category"
}

func (b *Bin) check() error {
	if b.Column == "" {
		return errors.Wrap(ErrInvalidStep, "column is required")
	}
	if len(b.Boundaries) < 2 {
		return errors.Wrap(ErrInvalidStep, "at least two boundaries are required")
	}
	if len(b.Labels) != len(b.Boundaries)-1 {
		return errors.Wrapf(ErrInvalidStep, "%d boundaries need %d labels, got %d", len(b.Boundaries), len(b.Boundaries)-1, len(b.Labels))
	}
	for i := 1; i < len(b.Boundaries); i++ {
		if b.Boundaries[i] <= b.Boundaries[i-1] {
			return errors.Wrap(ErrInvalidStep, "boundaries must be strictly increasing")
		}
	}
	return nil
}

func (b *Bin) Apply(ctx context.Context, ds *model.Dataset) (*model.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := b.check(); err != nil {
		return nil, stepError(b.Name(), b.Column, err)
	}
	t, ok := ds.TypeOf(b.Column)
	if !ok {
		return nil, columnNotFound(b.Name(), b.Column)
	}
	if !t.Numeric() {
		return nil, stepError(b.Name(), b.Column, errors.Wrapf(ErrTypeMismatch, "need a numeric column, got %s", t))
	}
	values := make([]any, ds.RowCount())
	ds.Scan(b.Column, func(row int, v any) {
		n, ok := model.Numeric(v)
		if !ok {
			return
		}
		if label, ok := b.bucket(n); ok {
			values[row] = label
		}
	})
	out, err := ds.WithColumn(model.Column{Name: b.output(), Type: model.TypeCategorical, Values: values})
	if err != nil {
		return nil, stepError(b.Name(), b.Column, err)
	}
	return out, nil
}

func (b *Bin) bucket(n float64) (string, bool) {
	last := len(b.Boundaries) - 1
	if n < b.Boundaries[0] || n > b.Boundaries[last] {
		return "", false
	}
	// first boundary strictly greater than n, clamped into the last bucket
	i := sort.SearchFloat64s(b.Boundaries, math.Nextafter(n, math.Inf(1)))
	if i > last {
		i = last
	}
	return b.Labels[i-1], true
}

// ------------------- Filter -------------------

// Filter keeps the rows for which a predicate holds. The predicate is
// either Column Op Value or an expr-lang expression over the row. Rows
// where the predicate touches a null are dropped.
type Filter struct {
	Column string
	Op     string
	Value  any
	Expr   string
}

var filterOps = map[string]bool{">": true, ">=": true, "<": true, "<=": true, "==": true, "!=": true}

func (f *Filter) Name() string {
	if f.Expr != "" {
		return "filter(" + f.Expr + ")"
	}
	return "filter(" + f.Column + " " + f.Op + ")"
}

func (f *Filter) check() error {
	if f.Expr != "" {
		if f.Column != "" || f.Op != "" {
			return errors.Wrap(ErrInvalidStep, "expr cannot be combined with column and op")
		}
		return nil
	}
	if f.Column == "" || !filterOps[f.Op] {
		return errors.Wrapf(ErrInvalidStep, "column and one of > >= < <= == != are required, got op %q", f.Op)
	}
	if f.Value == nil {
		return errors.Wrap(ErrInvalidStep, "value is required")
	}
	return nil
}

func (f *Filter) Apply(ctx context.Context, ds *model.Dataset) (*model.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := f.check(); err != nil {
		return nil, stepError(f.Name(), f.Column, err)
	}
	var (
		keep []int
		err  error
	)
	if f.Expr != "" {
		keep, err = f.exprRows(ds)
	} else {
		keep, err = f.compareRows(ds)
	}
	if err != nil {
		return nil, err
	}
	if len(keep) == ds.RowCount() {
		return ds, nil
	}
	out, err := ds.SelectRows(keep)
	if err != nil {
		return nil, stepError(f.Name(), f.Column, err)
	}
	return out, nil
}

func (f *Filter) compareRows(ds *model.Dataset) ([]int, error) {
	t, ok := ds.TypeOf(f.Column)
	if !ok {
		return nil, columnNotFound(f.Name(), f.Column)
	}
	// numeric columns compare as floats so 18.5 works on an integer column
	targetType := t
	if t.Numeric() {
		targetType = model.TypeFloat
	}
	target, err := utils.Coerce(f.Value, targetType)
	if err != nil {
		return nil, stepError(f.Name(), f.Column, errors.Wrapf(ErrTypeMismatch, "filter value: %v", err))
	}
	if t == model.TypeBoolean && f.Op != "==" && f.Op != "!=" {
		return nil, stepError(f.Name(), f.Column, errors.Wrapf(ErrTypeMismatch, "operator %s on a boolean column", f.Op))
	}
	keep := make([]int, 0, ds.RowCount())
	ds.Scan(f.Column, func(row int, v any) {
		if v == nil {
			return
		}
		if holds(compareValues(v, target), f.Op) {
			keep = append(keep, row)
		}
	})
	return keep, nil
}

// compareValues orders two non-null cells of the same logical type.
func compareValues(a, b any) int {
	if x, ok := model.Numeric(a); ok {
		y, _ := model.Numeric(b)
		switch {
		case x < y:
			return -1
		case x > y:
			return 1
		}
		return 0
	}
	switch x := a.(type) {
	case string:
		return strings.Compare(x, b.(string))
	case time.Time:
		return x.Compare(b.(time.Time))
	case bool:
		if x == b.(bool) {
			return 0
		}
		return 1
	}
	return 0
}

func holds(cmp int, op string) bool {
	switch op {
	case ">":
		return cmp > 0
	case ">=":
		return cmp >= 0
	case "<":
		return cmp < 0
	case "<=":
		return cmp <= 0
	case "==":
		return cmp == 0
	case "!=":
		return cmp != 0
	}
	return false
}

func (f *Filter) exprRows(ds *model.Dataset) ([]int, error) {
	program, err := expr.Compile(f.Expr, expr.Env(exprEnv(ds)), expr.AsBool())
	if err != nil {
		return nil, stepError(f.Name(), "", errors.Wrapf(ErrInvalidStep, "compile: %v", err))
	}
	keep := make([]int, 0, ds.RowCount())
	for row := 0; row < ds.RowCount(); row++ {
		out, err := expr.Run(program, ds.Row(row))
		if err != nil {
			// null operands fail at runtime; the row is dropped
			continue
		}
		if ok, _ := out.(bool); ok {
			keep = append(keep, row)
		}
	}
	return keep, nil
}

// exprEnv is a type template of the row map used to compile expressions,
// so unknown column names fail at compile time.
func exprEnv(ds *model.Dataset) map[string]any {
	env := make(map[string]any, ds.ColumnCount())
	for _, name := range ds.ColumnNames() {
		t, _ := ds.TypeOf(name)
		env[name] = zeroValue(t)
	}
	return env
}

func zeroValue(t model.LogicalType) any {
	switch t {
	case model.TypeInteger:
		return int64(0)
	case model.TypeFloat:
		return float64(0)
	case model.TypeBoolean:
		return false
	case model.TypeTimestamp:
		return time.Time{}
	}
	return ""
}

// ------------------- Cast -------------------

// Cast converts a column to another logical type. Booleans become 1 and 0,
// floats truncate toward zero, strings are parsed and every type renders
// to string.
type Cast struct {
	Column string
	To     model.LogicalType
}

func (c *Cast) Name() string { return "cast(" + c.Column + ")" }

func (c *Cast) Apply(ctx context.Context, ds *model.Dataset) (*model.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	col, ok := ds.Column(c.Column)
	if !ok {
		return nil, columnNotFound(c.Name(), c.Column)
	}
	if col.Type == c.To {
		return ds, nil
	}
	for i, v := range col.Values {
		cv, err := castValue(v, col.Type, c.To)
		if err != nil {
			return nil, stepError(c.Name(), c.Column, errors.Wrapf(ErrTypeMismatch, "row %d: %v", i, err))
		}
		col.Values[i] = cv
	}
	col.Type = c.To
	out, err := ds.WithColumn(col)
	if err != nil {
		return nil, stepError(c.Name(), c.Column, err)
	}
	return out, nil
}

func castValue(v any, from, to model.LogicalType) (any, error) {
	if v == nil {
		return nil, nil
	}
	if to == model.TypeString || to == model.TypeCategorical {
		return model.FormatValue(v), nil
	}
	switch x := v.(type) {
	case string:
		return utils.ParseAs(x, to)
	case bool:
		n := int64(0)
		if x {
			n = 1
		}
		switch to {
		case model.TypeInteger:
			return n, nil
		case model.TypeFloat:
			return float64(n), nil
		}
	case int64:
		switch to {
		case model.TypeFloat:
			return float64(x), nil
		case model.TypeBoolean:
			return x != 0, nil
		case model.TypeTimestamp:
			return time.Unix(x, 0).UTC(), nil
		}
	case float64:
		switch to {
		case model.TypeInteger:
			return int64(math.Trunc(x)), nil
		case model.TypeBoolean:
			return x != 0, nil
		}
	case time.Time:
		if to == model.TypeInteger {
			return x.Unix(), nil
		}
	}
	return nil, errors.Newf("cannot cast %s to %s", from, to)
}

// ------------------- Derive -------------------

// Derive adds or replaces Output with the result of an expr-lang
// expression evaluated per row. Rows where evaluation fails, typically
// because an operand is null, get a null cell. An empty Type is taken from
// the results.
type Derive struct {
	Output string
	Expr   string
	Type   model.LogicalType
}

func (d *Derive) Name() string { return "derive(" + d.Output + ")" }

func (d *Derive) Apply(ctx context.Context, ds *model.Dataset) (*model.Dataset, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	program, err := expr.Compile(d.Expr, expr.Env(exprEnv(ds)))
	if err != nil {
		return nil, stepError(d.Name(), d.Output, errors.Wrapf(ErrInvalidStep, "compile: %v", err))
	}
	raw := evalRows(program, ds)
	t := d.Type
	if t == "" {
		for _, v := range raw {
			t = utils.WidenType(t, goValueType(v))
		}
		if t == "" {
			t = model.TypeString
		}
	}
	values := make([]any, len(raw))
	for i, v := range raw {
		cv, err := utils.Coerce(v, t)
		if err != nil {
			return nil, stepError(d.Name(), d.Output, errors.Wrapf(ErrTypeMismatch, "row %d: %v", i, err))
		}
		values[i] = cv
	}
	out, err := ds.WithColumn(model.Column{Name: d.Output, Type: t, Values: values})
	if err != nil {
		return nil, stepError(d.Name(), d.Output, err)
	}
	return out, nil
}

func evalRows(program *vm.Program, ds *model.Dataset) []any {
	out := make([]any, ds.RowCount())
	for row := range out {
		v, err := expr.Run(program, ds.Row(row))
		if err != nil {
			continue
		}
		out[row] = v
	}
	return out
}

func goValueType(v any) model.LogicalType {
	switch x := v.(type) {
	case nil:
		return ""
	case bool:
		return model.TypeBoolean
	case string:
		return model.TypeString
	case time.Time:
		return model.TypeTimestamp
	case float32, float64:
		return model.TypeFloat
	default:
		if _, ok := utils.Numeric(x); ok {
			return model.TypeInteger
		}
	}
	return model.TypeString
}

// ------------------- Rename -------------------

// Rename gives Column the name Output. Renaming onto another existing
// column is an error.
type Rename struct {
	Column string
	Output string
}

func (r *Rename) Name() string { return "rename(" + r.Column + ")" }

func (r *Rename) Apply(ctx context.Context, ds *model.Dataset) (*model.Dataset, error) {
	if !ds.Has(r.Column) {
		return nil, columnNotFound(r.Name(), r.Column)
	}
	if r.Output != r.Column && ds.Has(r.Output) {
		return nil, stepError(r.Name(), r.Output, errors.Wrapf(ErrInvalidStep, "column %q already exists", r.Output))
	}
	out, err := ds.Rename(r.Column, r.Output)
	if err != nil {
		return nil, stepError(r.Name(), r.Column, err)
	}
	return out, nil
}
