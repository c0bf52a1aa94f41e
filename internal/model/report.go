package model

import (
	"time"
)

// ReportStatus is the overall verdict of a validation run.
type ReportStatus string

const (
	ReportPass ReportStatus = "PASS"
	ReportFail ReportStatus = "FAIL"
)

// Report aggregates the outcomes of one validation run. Reports are built
// through a ReportBuilder and are not modified after Finalize.
type Report struct {
	Dataset   string         `json:"dataset"`
	Timestamp time.Time      `json:"timestamp"`
	Outcomes  []CheckOutcome `json:"outcomes"`
	Passed    int            `json:"passed"`
	Failed    int            `json:"failed"`
	Errors    []CheckOutcome `json:"errors"`
	Warnings  []CheckOutcome `json:"warnings"`
}

// Total is the number of checks evaluated.
func (r Report) Total() int { return len(r.Outcomes) }

// Status is PASS iff no ERROR-severity check failed.
func (r Report) Status() ReportStatus {
	if len(r.Errors) > 0 {
		return ReportFail
	}
	return ReportPass
}

// HasErrors reports whether any ERROR-severity check failed.
func (r Report) HasErrors() bool { return len(r.Errors) > 0 }

// SuccessRate is the passed percentage, 0 when nothing ran.
func (r Report) SuccessRate() float64 {
	if r.Total() == 0 {
		return 0
	}
	return float64(r.Passed) / float64(r.Total()) * 100
}

// ReportSummary is the JSON shape of a validation report.
type ReportSummary struct {
	Dataset      string       `json:"dataset"`
	Timestamp    string       `json:"timestamp"`
	TotalChecks  int          `json:"total_checks"`
	PassedChecks int          `json:"passed_checks"`
	FailedChecks int          `json:"failed_checks"`
	Warnings     []string     `json:"warnings"`
	Errors       []string     `json:"errors"`
	Status       ReportStatus `json:"status"`
}

// Summary renders the report as its JSON-serialisable summary.
func (r Report) Summary() ReportSummary {
	s := ReportSummary{
		Dataset:      r.Dataset,
		Timestamp:    r.Timestamp.Format(time.RFC3339),
		TotalChecks:  r.Total(),
		PassedChecks: r.Passed,
		FailedChecks: r.Failed,
		Warnings:     make([]string, 0, len(r.Warnings)),
		Errors:       make([]string, 0, len(r.Errors)),
		Status:       r.Status(),
	}
	for _, o := range r.Warnings {
		s.Warnings = append(s.Warnings, o.Message)
	}
	for _, o := range r.Errors {
		s.Errors = append(s.Errors, o.Message)
	}
	return s
}

// ReportBuilder accumulates outcomes in rule order.
type ReportBuilder struct {
	report    Report
	finalized bool
}

// NewReportBuilder starts a report for the labelled dataset.
func NewReportBuilder(dataset string, ts time.Time) *ReportBuilder {
	return &ReportBuilder{report: Report{
		Dataset:   dataset,
		Timestamp: ts,
		Outcomes:  []CheckOutcome{},
		Errors:    []CheckOutcome{},
		Warnings:  []CheckOutcome{},
	}}
}

// Add appends an outcome. Adding after Finalize panics.
func (b *ReportBuilder) Add(o CheckOutcome) {
	if b.finalized {
		panic("model: Add called on finalized report")
	}
	b.report.Outcomes = append(b.report.Outcomes, o)
	if o.Passed {
		b.report.Passed++
		return
	}
	b.report.Failed++
	if o.Severity() == SeverityError {
		b.report.Errors = append(b.report.Errors, o)
	} else {
		b.report.Warnings = append(b.report.Warnings, o)
	}
}

// Finalize freezes the builder and returns the report.
func (b *ReportBuilder) Finalize() Report {
	b.finalized = true
	return b.report
}
