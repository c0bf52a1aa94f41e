package model

import (
	"time"
)

// RunStatus is the coarse status persisted in the metadata record.
type RunStatus string

const (
	StatusInitialized RunStatus = "initialized"
	StatusRunning     RunStatus = "running"
	StatusSuccess     RunStatus = "success"
	StatusFailed      RunStatus = "failed"
)

// State is a step of the executor state machine.
type State string

const (
	StateInitialized  State = "initialized"
	StateExtracting   State = "extracting"
	StateTransforming State = "transforming"
	StateValidating   State = "validating"
	StateLoading      State = "loading"
	StateSucceeded    State = "succeeded"
	StateFailed       State = "failed"
)

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Status maps an executor state to the persisted run status.
func (s State) Status() RunStatus {
	switch s {
	case StateInitialized:
		return StatusInitialized
	case StateSucceeded:
		return StatusSuccess
	case StateFailed:
		return StatusFailed
	default:
		return StatusRunning
	}
}

// Stage names used in errors, logs and metadata.
type Stage string

const (
	StageExtract   Stage = "extract"
	StageTransform Stage = "transform"
	StageValidate  Stage = "validate"
	StageLoad      Stage = "load"
	StageRecord    Stage = "record"
)

// StepStats is reported by the executor for every transform step. It is the
// channel through which removed-row counts reach the metadata.
type StepStats struct {
	Step        string        `json:"step"`
	RowsIn      int           `json:"rows_in"`
	RowsOut     int           `json:"rows_out"`
	RowsRemoved int           `json:"rows_removed"`
	Duration    time.Duration `json:"duration_ns"`
}

// PipelineMetadata is the per-run bookkeeping record written next to the
// load output. Only the executor mutates it.
type PipelineMetadata struct {
	RunID            string         `json:"run_id"`
	PipelineName     string         `json:"pipeline_name"`
	StartTime        time.Time      `json:"start_time"`
	EndTime          *time.Time     `json:"end_time,omitempty"`
	ExecutionTime    string         `json:"execution_time,omitempty"`
	RecordsExtracted int            `json:"records_processed"`
	RecordsLoaded    int            `json:"records_loaded"`
	RecordsRemoved   int            `json:"records_removed"`
	Status           RunStatus      `json:"status"`
	State            State          `json:"state"`
	FailureReason    string         `json:"failure_reason,omitempty"`
	FailedStage      Stage          `json:"failed_stage,omitempty"`
	Steps            []StepStats    `json:"steps"`
	Validation       *ReportSummary `json:"validation,omitempty"`
}

// NewPipelineMetadata returns metadata in the initialized state.
func NewPipelineMetadata(name string) *PipelineMetadata {
	return &PipelineMetadata{
		PipelineName: name,
		Status:       StatusInitialized,
		State:        StateInitialized,
		Steps:        []StepStats{},
	}
}

// Duration is the wall time of a finished run, zero while running.
func (m *PipelineMetadata) Duration() time.Duration {
	if m.EndTime == nil {
		return 0
	}
	return m.EndTime.Sub(m.StartTime)
}

// Clone returns a deep copy safe to hand to recorders and callers.
func (m *PipelineMetadata) Clone() *PipelineMetadata {
	c := *m
	c.Steps = make([]StepStats, len(m.Steps))
	copy(c.Steps, m.Steps)
	if m.EndTime != nil {
		t := *m.EndTime
		c.EndTime = &t
	}
	if m.Validation != nil {
		v := *m.Validation
		v.Warnings = append([]string(nil), m.Validation.Warnings...)
		v.Errors = append([]string(nil), m.Validation.Errors...)
		c.Validation = &v
	}
	return &c
}
