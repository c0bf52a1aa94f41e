package model

import (
	"fmt"
	"strings"

	"go-etl-pipeline/internal/errors"
)

// RuleKind is the closed set of data-quality checks the engine knows.
type RuleKind string

const (
	KindCompleteness          RuleKind = "completeness"
	KindUniqueness            RuleKind = "uniqueness"
	KindTypeConformance       RuleKind = "type_conformance"
	KindRange                 RuleKind = "range"
	KindCategoricalMembership RuleKind = "categorical_membership"
	KindSignConsistency       RuleKind = "sign_consistency"
)

// Severity decides whether a failing rule blocks loading.
type Severity string

const (
	SeverityError   Severity = "ERROR"
	SeverityWarning Severity = "WARNING"
)

// DefaultCompletenessThreshold is the missing-value percentage at which a
// completeness rule fails when the rule does not set one.
const DefaultCompletenessThreshold = 5.0

// ErrInvalidRule is wrapped by every rule validation failure.
var ErrInvalidRule = errors.New("invalid rule")

// RuleParams is the parameter payload of a Rule. Which fields are read
// depends on the rule kind.
type RuleParams struct {
	// Threshold is the completeness failure percentage, compared with >=.
	Threshold    float64     `json:"threshold,omitempty" yaml:"threshold,omitempty"`
	Min          *float64    `json:"min,omitempty" yaml:"min,omitempty"`
	Max          *float64    `json:"max,omitempty" yaml:"max,omitempty"`
	Allowed      []string    `json:"allowed,omitempty" yaml:"allowed,omitempty"`
	AllowNull    bool        `json:"allow_null,omitempty" yaml:"allow_null,omitempty"`
	ExpectedType LogicalType `json:"expected_type,omitempty" yaml:"expected_type,omitempty"`
}

// Rule is an immutable data-quality check descriptor.
type Rule struct {
	ID       string     `json:"id,omitempty" yaml:"id,omitempty"`
	Kind     RuleKind   `json:"kind" yaml:"kind"`
	Columns  []string   `json:"columns,omitempty" yaml:"columns,omitempty"`
	Params   RuleParams `json:"params" yaml:"params"`
	Severity Severity   `json:"severity" yaml:"severity"`
}

// Completeness fails when the column's missing percentage reaches threshold.
// A threshold of zero or less means DefaultCompletenessThreshold; a Rule
// built by hand with a zero threshold fails on every dataset.
func Completeness(column string, threshold float64, sev Severity) Rule {
	if threshold <= 0 {
		threshold = DefaultCompletenessThreshold
	}
	return Rule{Kind: KindCompleteness, Columns: columns(column), Params: RuleParams{Threshold: threshold}, Severity: sev}
}

// Uniqueness fails when any key combination over keys repeats.
func Uniqueness(keys []string, sev Severity) Rule {
	return Rule{Kind: KindUniqueness, Columns: append([]string(nil), keys...), Severity: sev}
}

// TypeConformance fails when column is not declared as expected.
func TypeConformance(column string, expected LogicalType, sev Severity) Rule {
	return Rule{Kind: KindTypeConformance, Columns: columns(column), Params: RuleParams{ExpectedType: expected}, Severity: sev}
}

// Range fails when any non-null value lies outside [min, max].
func Range(column string, min, max float64, sev Severity) Rule {
	return Rule{Kind: KindRange, Columns: columns(column), Params: RuleParams{Min: &min, Max: &max}, Severity: sev}
}

// CategoricalMembership fails when any value is outside allowed.
func CategoricalMembership(column string, allowed []string, sev Severity) Rule {
	return Rule{Kind: KindCategoricalMembership, Columns: columns(column), Params: RuleParams{Allowed: append([]string(nil), allowed...)}, Severity: sev}
}

// SignConsistency warns when a monetary column holds negative values. An
// empty column selects every numeric column with a monetary name.
func SignConsistency(column string) Rule {
	return Rule{Kind: KindSignConsistency, Columns: columns(column), Severity: SeverityWarning}
}

func columns(c string) []string {
	if c == "" {
		return nil
	}
	return []string{c}
}

// EffectiveSeverity is the severity used for gating. Sign consistency is
// always a warning.
func (r Rule) EffectiveSeverity() Severity {
	if r.Kind == KindSignConsistency || r.Severity == "" {
		return SeverityWarning
	}
	return r.Severity
}

// Column returns the first target column, or "" when none is set.
func (r Rule) Column() string {
	if len(r.Columns) == 0 {
		return ""
	}
	return r.Columns[0]
}

// Name is a stable human label: the ID when set, otherwise kind and columns.
func (r Rule) Name() string {
	if r.ID != "" {
		return r.ID
	}
	if len(r.Columns) == 0 {
		return string(r.Kind)
	}
	return fmt.Sprintf("%s(%s)", r.Kind, strings.Join(r.Columns, ","))
}

// Validate checks the parameter payload against the rule kind.
func (r Rule) Validate() error {
	switch r.Severity {
	case SeverityError, SeverityWarning, "":
	default:
		return errors.Wrapf(ErrInvalidRule, "%s: unknown severity %q", r.Name(), r.Severity)
	}
	switch r.Kind {
	case KindCompleteness:
		if r.Params.Threshold < 0 || r.Params.Threshold > 100 {
			return errors.Wrapf(ErrInvalidRule, "%s: threshold %v outside [0,100]", r.Name(), r.Params.Threshold)
		}
	case KindUniqueness:
		if len(r.Columns) == 0 {
			return errors.Wrapf(ErrInvalidRule, "%s: at least one key column is required", r.Name())
		}
	case KindTypeConformance:
		if len(r.Columns) != 1 {
			return errors.Wrapf(ErrInvalidRule, "%s: exactly one column is required", r.Name())
		}
		if !r.Params.ExpectedType.Valid() {
			return errors.Wrapf(ErrInvalidRule, "%s: unknown expected type %q", r.Name(), r.Params.ExpectedType)
		}
	case KindRange:
		if len(r.Columns) != 1 {
			return errors.Wrapf(ErrInvalidRule, "%s: exactly one column is required", r.Name())
		}
		if r.Params.Min == nil && r.Params.Max == nil {
			return errors.Wrapf(ErrInvalidRule, "%s: min or max is required", r.Name())
		}
		if r.Params.Min != nil && r.Params.Max != nil && *r.Params.Min > *r.Params.Max {
			return errors.Wrapf(ErrInvalidRule, "%s: min %v greater than max %v", r.Name(), *r.Params.Min, *r.Params.Max)
		}
	case KindCategoricalMembership:
		if len(r.Columns) != 1 {
			return errors.Wrapf(ErrInvalidRule, "%s: exactly one column is required", r.Name())
		}
		if len(r.Params.Allowed) == 0 {
			return errors.Wrapf(ErrInvalidRule, "%s: allowed values are required", r.Name())
		}
	case KindSignConsistency:
		if len(r.Columns) > 1 {
			return errors.Wrapf(ErrInvalidRule, "%s: at most one column is allowed", r.Name())
		}
	default:
		return errors.Wrapf(ErrInvalidRule, "unknown rule kind %q", r.Kind)
	}
	return nil
}

// CheckOutcome is the immutable result of evaluating one rule.
type CheckOutcome struct {
	Rule       Rule     `json:"rule"`
	Passed     bool     `json:"passed"`
	Violations int      `json:"violations"`
	Percentage float64  `json:"percentage"`
	Values     []string `json:"values,omitempty"`
	Message    string   `json:"message"`
}

// Severity is the effective severity of the rule that produced o.
func (o CheckOutcome) Severity() Severity {
	return o.Rule.EffectiveSeverity()
}
