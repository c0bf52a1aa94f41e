package model

import (
	"strings"
)

// SourceSpec selects and configures the extractor.
type SourceSpec struct {
	Type    string                 `json:"type"`              // csv, ndjson, synthetic
	Path    string                 `json:"path,omitempty"`    // file path or http(s) URL
	Schema  map[string]LogicalType `json:"schema,omitempty"`  // declared column types, inferred otherwise
	Records int                    `json:"records,omitempty"` // synthetic only
	Seed    int64                  `json:"seed,omitempty"`    // synthetic only
	Profile string                 `json:"profile,omitempty"` // synthetic only: transactions or customers
}

// StepSpec describes one transform step. Which fields apply depends on Type.
type StepSpec struct {
	Type       string      `json:"type"` // fill_nulls, dedupe, date_parts, bin, filter, group_broadcast, cast, derive, rename
	Column     string      `json:"column,omitempty"`
	Columns    []string    `json:"columns,omitempty"`
	Output     string      `json:"output,omitempty"`
	Policy     string      `json:"policy,omitempty"`
	Value      any         `json:"value,omitempty"`
	Parts      []string    `json:"parts,omitempty"`
	Prefix     string      `json:"prefix,omitempty"`
	Boundaries []float64   `json:"boundaries,omitempty"`
	Labels     []string    `json:"labels,omitempty"`
	Op         string      `json:"op,omitempty"`
	Expr       string      `json:"expr,omitempty"`
	GroupBy    []string    `json:"group_by,omitempty"`
	Agg        string      `json:"agg,omitempty"`
	To         LogicalType `json:"to,omitempty"`
}

// RuleSpec is the job-file form of a Rule.
type RuleSpec struct {
	ID           string      `json:"id,omitempty"`
	Kind         RuleKind    `json:"kind"`
	Column       string      `json:"column,omitempty"`
	Columns      []string    `json:"columns,omitempty"`
	Threshold    *float64    `json:"threshold,omitempty"`
	Min          *float64    `json:"min,omitempty"`
	Max          *float64    `json:"max,omitempty"`
	Allowed      []string    `json:"allowed,omitempty"`
	AllowNull    bool        `json:"allow_null,omitempty"`
	ExpectedType LogicalType `json:"expected_type,omitempty"`
	Severity     string      `json:"severity,omitempty"`
}

// ToRule normalises the spec into an engine Rule. Severity defaults to
// ERROR; completeness thresholds default to DefaultCompletenessThreshold.
func (s RuleSpec) ToRule() Rule {
	cols := append([]string(nil), s.Columns...)
	if s.Column != "" {
		cols = append([]string{s.Column}, cols...)
	}
	sev := Severity(strings.ToUpper(strings.TrimSpace(s.Severity)))
	if sev == "" {
		sev = SeverityError
	}
	r := Rule{
		ID:       s.ID,
		Kind:     s.Kind,
		Columns:  cols,
		Severity: sev,
		Params: RuleParams{
			Min:          s.Min,
			Max:          s.Max,
			Allowed:      append([]string(nil), s.Allowed...),
			AllowNull:    s.AllowNull,
			ExpectedType: s.ExpectedType,
		},
	}
	if s.Threshold != nil {
		r.Params.Threshold = *s.Threshold
	} else if s.Kind == KindCompleteness {
		r.Params.Threshold = DefaultCompletenessThreshold
	}
	if s.Kind == KindSignConsistency {
		r.Severity = SeverityWarning
	}
	return r
}

// OutputSpec configures the loaders and the metadata sidecar.
type OutputSpec struct {
	Path     string `json:"path,omitempty"`     // CSV output file
	Snapshot bool   `json:"snapshot,omitempty"` // also write a raw JSON snapshot
	Table    string `json:"table,omitempty"`    // SQLite table in the run store
}

// TimeoutSpec bounds the external stages, e.g. "30s" or "5m".
type TimeoutSpec struct {
	Extract string `json:"extract,omitempty"`
	Load    string `json:"load,omitempty"`
}

// ValidationSpec tunes the validation engine for one job.
type ValidationSpec struct {
	Label   string `json:"label,omitempty"`
	Workers int    `json:"workers,omitempty"`
}

// JobSpec is a complete pipeline definition, loaded from YAML or JSON and
// accepted by POST /api/v1/pipelines.
type JobSpec struct {
	Name       string         `json:"name"`
	Source     SourceSpec     `json:"source"`
	Transforms []StepSpec     `json:"transforms,omitempty"`
	Rules      []RuleSpec     `json:"rules,omitempty"`
	Validation ValidationSpec `json:"validation,omitempty"`
	Output     OutputSpec     `json:"output"`
	Timeouts   TimeoutSpec    `json:"timeouts,omitempty"`
}

// EngineRules converts every rule spec into a Rule.
func (j JobSpec) EngineRules() []Rule {
	if len(j.Rules) == 0 {
		return nil
	}
	rules := make([]Rule, len(j.Rules))
	for i, s := range j.Rules {
		rules[i] = s.ToRule()
	}
	return rules
}

// DatasetLabel is the label used on validation reports.
func (j JobSpec) DatasetLabel() string {
	if j.Validation.Label != "" {
		return j.Validation.Label
	}
	return j.Name
}
