package pipeline

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"go-etl-pipeline/internal/logger"
	"go-etl-pipeline/internal/model"
)

// DefaultValidationWorkers bounds concurrent rule evaluation when the
// engine is not configured.
const DefaultValidationWorkers = 4

// monetaryNames are the column name fragments that mark a monetary
// quantity for sign consistency.
var monetaryNames = []string{"amount", "price", "cost", "revenue", "income", "salary", "fee", "balance", "payment"}

// IsMonetary reports whether a column name implies a monetary quantity.
func IsMonetary(column string) bool {
	lower := strings.ToLower(column)
	for _, m := range monetaryNames {
		if strings.Contains(lower, m) {
			return true
		}
	}
	return false
}

// Engine evaluates data-quality rules against a dataset. Rules are
// independent and may run concurrently, but the outcome order of a Report
// always matches the rule order.
type Engine struct {
	Workers int
	Logger  *zap.SugaredLogger
	// Now stamps reports; tests replace it for stable output.
	Now func() time.Time
}

// NewEngine returns an engine evaluating at most workers rules at once.
func NewEngine(workers int, log *zap.SugaredLogger) *Engine {
	return &Engine{Workers: workers, Logger: log, Now: time.Now}
}

// Evaluate runs every rule against ds and aggregates the outcomes. All
// rules run; a failing rule never stops the others.
func (e *Engine) Evaluate(ctx context.Context, ds *model.Dataset, label string, rules []model.Rule) model.Report {
	log := logger.FromContext(ctx, e.Logger)
	expanded := ExpandRules(ds, rules)
	outcomes := make([]model.CheckOutcome, len(expanded))

	workers := e.Workers
	if workers <= 0 {
		workers = DefaultValidationWorkers
	}
	var g errgroup.Group
	g.SetLimit(workers)
	for i, r := range expanded {
		g.Go(func() error {
			outcomes[i] = EvaluateRule(ds, r)
			return nil
		})
	}
	_ = g.Wait()

	now := time.Now
	if e.Now != nil {
		now = e.Now
	}
	b := model.NewReportBuilder(label, now())
	for _, o := range outcomes {
		b.Add(o)
		if !o.Passed {
			log.Debugw("Check failed",
				logger.FieldRule, o.Rule.Name(),
				logger.FieldSeverity, o.Severity(),
				"violations", o.Violations,
				"message", o.Message)
		}
	}
	report := b.Finalize()
	log.Infow("Validation complete",
		"dataset", label,
		"total", report.Total(),
		"passed", report.Passed,
		"failed", report.Failed,
		logger.FieldStatus, report.Status())
	return report
}

// ExpandRules resolves rules without target columns against ds. A
// completeness rule with no column becomes one rule per column; a sign
// consistency rule with no column becomes one rule per numeric column with
// a monetary name. Other rules pass through unchanged.
func ExpandRules(ds *model.Dataset, rules []model.Rule) []model.Rule {
	out := make([]model.Rule, 0, len(rules))
	for _, r := range rules {
		if len(r.Columns) > 0 {
			out = append(out, r)
			continue
		}
		switch r.Kind {
		case model.KindCompleteness:
			for _, name := range ds.ColumnNames() {
				out = append(out, withColumn(r, name))
			}
		case model.KindSignConsistency:
			for _, name := range ds.ColumnNames() {
				t, _ := ds.TypeOf(name)
				if t.Numeric() && IsMonetary(name) {
					out = append(out, withColumn(r, name))
				}
			}
		default:
			out = append(out, r)
		}
	}
	return out
}

func withColumn(r model.Rule, column string) model.Rule {
	r.Columns = []string{column}
	if r.ID != "" {
		r.ID = r.ID + ":" + column
	}
	return r
}

// EvaluateRule computes the outcome of a single rule. It never panics on
// bad input: invalid rules and absent columns produce failing outcomes.
func EvaluateRule(ds *model.Dataset, r model.Rule) model.CheckOutcome {
	if err := r.Validate(); err != nil {
		return fail(r, 0, 0, err.Error())
	}
	for _, c := range r.Columns {
		if !ds.Has(c) {
			return fail(r, 0, 0, fmt.Sprintf("column %s not found", c))
		}
	}
	switch r.Kind {
	case model.KindCompleteness:
		return checkCompleteness(ds, r)
	case model.KindUniqueness:
		return checkUniqueness(ds, r)
	case model.KindTypeConformance:
		return checkType(ds, r)
	case model.KindRange:
		return checkRange(ds, r)
	case model.KindCategoricalMembership:
		return checkCategorical(ds, r)
	case model.KindSignConsistency:
		return checkSign(ds, r)
	}
	return fail(r, 0, 0, fmt.Sprintf("unknown rule kind %q", r.Kind))
}

func fail(r model.Rule, violations int, pct float64, msg string) model.CheckOutcome {
	return model.CheckOutcome{Rule: r, Passed: false, Violations: violations, Percentage: pct, Message: msg}
}

func outcome(r model.Rule, violations int, pct float64, msg string) model.CheckOutcome {
	return model.CheckOutcome{Rule: r, Passed: violations == 0, Violations: violations, Percentage: pct, Message: msg}
}

// percent is count/rows*100 rounded to two decimals; zero rows give zero.
func percent(count, rows int) float64 {
	if rows == 0 {
		return 0
	}
	return math.Round(float64(count)/float64(rows)*100*100) / 100
}

func num(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func checkCompleteness(ds *model.Dataset, r model.Rule) model.CheckOutcome {
	col := r.Column()
	missing := 0
	ds.Scan(col, func(_ int, v any) {
		if v == nil {
			missing++
		}
	})
	pct := percent(missing, ds.RowCount())
	threshold := r.Params.Threshold
	msg := fmt.Sprintf("%s has %s%% missing values (threshold: %s%%)", col, num(pct), num(threshold))
	// multiply before dividing so a share exactly at the threshold fails
	return model.CheckOutcome{
		Rule:       r,
		Passed:     float64(missing)*100 < threshold*float64(ds.RowCount()),
		Violations: missing,
		Percentage: pct,
		Message:    msg,
	}
}

func checkUniqueness(ds *model.Dataset, r model.Rule) model.CheckOutcome {
	seen := make(map[string]struct{}, ds.RowCount())
	dups := 0
	for row := 0; row < ds.RowCount(); row++ {
		k := ds.RowKey(row, r.Columns)
		if _, ok := seen[k]; ok {
			dups++
			continue
		}
		seen[k] = struct{}{}
	}
	return outcome(r, dups, percent(dups, ds.RowCount()), fmt.Sprintf("%d duplicate records found", dups))
}

func checkType(ds *model.Dataset, r model.Rule) model.CheckOutcome {
	col := r.Column()
	actual, _ := ds.TypeOf(col)
	expected := r.Params.ExpectedType
	if actual == expected {
		return outcome(r, 0, 0, fmt.Sprintf("%s has type %s", col, actual))
	}
	return fail(r, 1, 0, fmt.Sprintf("%s has incorrect type: %s (expected: %s)", col, actual, expected))
}

func checkRange(ds *model.Dataset, r model.Rule) model.CheckOutcome {
	col := r.Column()
	t, _ := ds.TypeOf(col)
	if !t.Numeric() {
		return fail(r, 0, 0, fmt.Sprintf("%s is not numeric (%s)", col, t))
	}
	lo, hi := math.Inf(-1), math.Inf(1)
	if r.Params.Min != nil {
		lo = *r.Params.Min
	}
	if r.Params.Max != nil {
		hi = *r.Params.Max
	}
	outside := 0
	ds.Scan(col, func(_ int, v any) {
		n, ok := model.Numeric(v)
		if ok && (n < lo || n > hi) {
			outside++
		}
	})
	msg := fmt.Sprintf("%s has %d values outside range [%s, %s]", col, outside, num(lo), num(hi))
	return outcome(r, outside, percent(outside, ds.RowCount()), msg)
}

func checkCategorical(ds *model.Dataset, r model.Rule) model.CheckOutcome {
	col := r.Column()
	allowed := make(map[string]struct{}, len(r.Params.Allowed))
	for _, a := range r.Params.Allowed {
		allowed[a] = struct{}{}
	}
	invalid := 0
	seen := map[string]bool{}
	var values []string
	ds.Scan(col, func(_ int, v any) {
		if v == nil {
			if r.Params.AllowNull {
				return
			}
			invalid++
			if !seen["<null>"] {
				seen["<null>"] = true
				values = append(values, "<null>")
			}
			return
		}
		s := model.FormatValue(v)
		if _, ok := allowed[s]; ok {
			return
		}
		invalid++
		if !seen[s] {
			seen[s] = true
			values = append(values, s)
		}
	})
	o := outcome(r, invalid, percent(invalid, ds.RowCount()), fmt.Sprintf("%s has %d invalid categorical values", col, invalid))
	o.Values = values
	return o
}

func checkSign(ds *model.Dataset, r model.Rule) model.CheckOutcome {
	col := r.Column()
	t, _ := ds.TypeOf(col)
	if !t.Numeric() {
		return fail(r, 0, 0, fmt.Sprintf("%s is not numeric (%s)", col, t))
	}
	negative := 0
	ds.Scan(col, func(_ int, v any) {
		if n, ok := model.Numeric(v); ok && n < 0 {
			negative++
		}
	})
	return outcome(r, negative, percent(negative, ds.RowCount()), fmt.Sprintf("%s has %d negative values", col, negative))
}

// FormatReport renders a report as a human-readable summary.
func FormatReport(r model.Report) string {
	var b strings.Builder
	rule := strings.Repeat("=", 60)
	fmt.Fprintln(&b, rule)
	fmt.Fprintln(&b, "VALIDATION SUMMARY")
	fmt.Fprintln(&b, rule)
	fmt.Fprintf(&b, "Dataset: %s\n", r.Dataset)
	fmt.Fprintf(&b, "Timestamp: %s\n", r.Timestamp.Format(time.RFC3339))
	fmt.Fprintf(&b, "\nTotal checks: %d\n", r.Total())
	fmt.Fprintf(&b, "Passed: %d (%.1f%%)\n", r.Passed, r.SuccessRate())
	fmt.Fprintf(&b, "Failed: %d\n", r.Failed)
	fmt.Fprintf(&b, "Warnings: %d\n", len(r.Warnings))
	if len(r.Errors) > 0 {
		fmt.Fprintf(&b, "\nERRORS (%d):\n", len(r.Errors))
		for i, o := range r.Errors {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, o.Message)
		}
	}
	if len(r.Warnings) > 0 {
		fmt.Fprintf(&b, "\nWARNINGS (%d):\n", len(r.Warnings))
		for i, o := range r.Warnings {
			fmt.Fprintf(&b, "  %d. %s\n", i+1, o.Message)
		}
	}
	switch {
	case r.Failed == 0:
		fmt.Fprintln(&b, "\nALL VALIDATIONS PASSED")
	case r.Status() == model.ReportPass:
		fmt.Fprintf(&b, "\nPASSED WITH WARNINGS - %d checks did not pass\n", r.Failed)
	default:
		fmt.Fprintf(&b, "\nVALIDATION FAILED - %d checks did not pass\n", r.Failed)
	}
	fmt.Fprintln(&b, rule)
	return b.String()
}
