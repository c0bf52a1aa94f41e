package model

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRuleValidate(t *testing.T) {
	lo, hi := 10.0, 1.0
	tests := []struct {
		name    string
		rule    Rule
		wantErr bool
	}{
		{name: "completeness", rule: Completeness("email", 5, SeverityError)},
		{name: "completeness over all columns", rule: Completeness("", 5, SeverityWarning)},
		{name: "completeness threshold too high", rule: Completeness("email", 120, SeverityError), wantErr: true},
		{name: "uniqueness", rule: Uniqueness([]string{"id"}, SeverityError)},
		{name: "uniqueness without keys", rule: Uniqueness(nil, SeverityError), wantErr: true},
		{name: "type conformance", rule: TypeConformance("age", TypeFloat, SeverityError)},
		{name: "type conformance bad type", rule: TypeConformance("age", "decimal", SeverityError), wantErr: true},
		{name: "range", rule: Range("age", 18, 100, SeverityWarning)},
		{name: "range inverted", rule: Rule{Kind: KindRange, Columns: []string{"age"}, Params: RuleParams{Min: &lo, Max: &hi}, Severity: SeverityError}, wantErr: true},
		{name: "range without bounds", rule: Rule{Kind: KindRange, Columns: []string{"age"}, Severity: SeverityError}, wantErr: true},
		{name: "categorical", rule: CategoricalMembership("category", []string{"A", "B"}, SeverityError)},
		{name: "categorical empty set", rule: CategoricalMembership("category", nil, SeverityError), wantErr: true},
		{name: "sign consistency", rule: SignConsistency("amount")},
		{name: "unknown kind", rule: Rule{Kind: "freshness"}, wantErr: true},
		{name: "unknown severity", rule: Rule{Kind: KindUniqueness, Columns: []string{"id"}, Severity: "FATAL"}, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if tt.wantErr {
				assert.ErrorIs(t, err, ErrInvalidRule)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestEffectiveSeverity(t *testing.T) {
	r := SignConsistency("amount")
	r.Severity = SeverityError
	assert.Equal(t, SeverityWarning, r.EffectiveSeverity())
	assert.Equal(t, SeverityError, Uniqueness([]string{"id"}, SeverityError).EffectiveSeverity())
}

func TestRuleName(t *testing.T) {
	assert.Equal(t, "uniqueness(a,b)", Uniqueness([]string{"a", "b"}, SeverityError).Name())
	assert.Equal(t, "sign_consistency", SignConsistency("").Name())
	r := Completeness("x", 5, SeverityError)
	r.ID = "email-complete"
	assert.Equal(t, "email-complete", r.Name())
}

func TestRuleSpecToRule(t *testing.T) {
	r := RuleSpec{Kind: KindCompleteness, Column: "email"}.ToRule()
	assert.Equal(t, DefaultCompletenessThreshold, r.Params.Threshold)
	assert.Equal(t, SeverityError, r.Severity)
	assert.Equal(t, []string{"email"}, r.Columns)

	zero := 0.0
	r = RuleSpec{Kind: KindCompleteness, Column: "email", Threshold: &zero, Severity: "warning"}.ToRule()
	assert.Equal(t, 0.0, r.Params.Threshold)
	assert.Equal(t, SeverityWarning, r.Severity)

	r = RuleSpec{Kind: KindSignConsistency, Severity: "error"}.ToRule()
	assert.Equal(t, SeverityWarning, r.Severity)

	r = RuleSpec{Kind: KindUniqueness, Column: "a", Columns: []string{"b"}}.ToRule()
	assert.Equal(t, []string{"a", "b"}, r.Columns)
}

func TestReportBuilder(t *testing.T) {
	ts := time.Date(2026, 1, 10, 0, 0, 0, 0, time.UTC)
	b := NewReportBuilder("customers", ts)
	b.Add(CheckOutcome{Rule: Uniqueness([]string{"id"}, SeverityError), Passed: true, Message: "ok"})
	b.Add(CheckOutcome{Rule: Range("age", 18, 100, SeverityWarning), Passed: false, Message: "age out of range"})
	b.Add(CheckOutcome{Rule: CategoricalMembership("c", []string{"A"}, SeverityError), Passed: false, Message: "c bad"})
	r := b.Finalize()

	assert.Equal(t, 3, r.Total())
	assert.Equal(t, r.Total(), r.Passed+r.Failed)
	assert.Equal(t, ReportFail, r.Status())
	assert.InDelta(t, 33.33, r.SuccessRate(), 0.01)

	s := r.Summary()
	assert.Equal(t, "customers", s.Dataset)
	assert.Equal(t, "2026-01-10T00:00:00Z", s.Timestamp)
	assert.Equal(t, []string{"age out of range"}, s.Warnings)
	assert.Equal(t, []string{"c bad"}, s.Errors)

	require.Panics(t, func() { b.Add(CheckOutcome{}) })
}

func TestEmptyReportPasses(t *testing.T) {
	r := NewReportBuilder("empty", time.Now()).Finalize()
	assert.Equal(t, ReportPass, r.Status())
	assert.Equal(t, 0.0, r.SuccessRate())
	assert.NotNil(t, r.Summary().Errors)
}

func TestStateStatus(t *testing.T) {
	assert.Equal(t, StatusInitialized, StateInitialized.Status())
	assert.Equal(t, StatusRunning, StateValidating.Status())
	assert.Equal(t, StatusSuccess, StateSucceeded.Status())
	assert.Equal(t, StatusFailed, StateFailed.Status())
	assert.True(t, StateFailed.Terminal())
	assert.False(t, StateLoading.Terminal())
}

func TestMetadataClone(t *testing.T) {
	m := NewPipelineMetadata("demo")
	m.Steps = append(m.Steps, StepStats{Step: "dedupe"})
	now := time.Now()
	m.EndTime = &now

	c := m.Clone()
	c.Steps[0].Step = "changed"
	*c.EndTime = now.Add(time.Hour)

	assert.Equal(t, "dedupe", m.Steps[0].Step)
	assert.True(t, m.EndTime.Equal(now))

	empty := NewPipelineMetadata("no steps").Clone()
	require.NotNil(t, empty.Steps)
	raw, err := json.Marshal(empty)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"steps":[]`)
}

func TestCompletenessDefaultThreshold(t *testing.T) {
	assert.Equal(t, DefaultCompletenessThreshold, Completeness("email", 0, SeverityError).Params.Threshold)
	assert.Equal(t, 12.5, Completeness("email", 12.5, SeverityError).Params.Threshold)
}
