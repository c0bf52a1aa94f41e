package pipeline

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"go-etl-pipeline/internal/errors"
	"go-etl-pipeline/internal/logger"
	"go-etl-pipeline/internal/model"
	"go-etl-pipeline/internal/store"
	"go-etl-pipeline/pkg/utils"
)

// Default stage budgets.
const (
	DefaultExtractTimeout = 5 * time.Minute
	DefaultLoadTimeout    = 5 * time.Minute
)

// RunResult is what a run leaves behind. Dataset is the transformed
// dataset, nil when extraction or a transform failed. Report is nil when
// no rules were supplied.
type RunResult struct {
	RunID    string
	Metadata *model.PipelineMetadata
	Report   *model.Report
	Dataset  *model.Dataset
}

// Executor drives one pipeline through extract, transform, validate and
// load. Stages run strictly in sequence; the first stage error fails the
// run. An Executor holds no per-run state and may be run repeatedly.
type Executor struct {
	Name      string
	Extractor Extractor
	Steps     []TransformStep
	Rules     []model.Rule
	Engine    *Engine
	// Label names the dataset on validation reports; Name when empty.
	Label    string
	Loader   Loader
	Recorder MetadataRecorder
	Observer Observer
	// SkipLoad stops after validation; the run succeeds without loading.
	SkipLoad bool

	ExtractTimeout time.Duration
	LoadTimeout    time.Duration

	Logger   *zap.SugaredLogger
	NewRunID func() string
	Now      func() time.Time
}

// run carries the mutable state of a single execution.
type run struct {
	e      *Executor
	ctx    context.Context
	log    *zap.SugaredLogger
	md     *model.PipelineMetadata
	result *RunResult
}

// Run executes the pipeline under a fresh run id.
func (e *Executor) Run(ctx context.Context) (*RunResult, error) {
	newID := e.NewRunID
	if newID == nil {
		newID = uuid.NewString
	}
	return e.RunWithID(ctx, newID())
}

// RunWithID executes the pipeline under the given run id. The error is a
// *ExtractionError, *TransformError, *ValidationGateError or *LoadError
// for stage failures, possibly joined with a recorder failure.
func (e *Executor) RunWithID(ctx context.Context, runID string) (*RunResult, error) {
	md := model.NewPipelineMetadata(e.Name)
	md.RunID = runID
	md.StartTime = e.now()

	ctx = logger.WithRunID(ctx, runID)
	r := &run{
		e:      e,
		ctx:    ctx,
		log:    logger.WithRun(e.Logger, runID, e.Name),
		md:     md,
		result: &RunResult{RunID: runID},
	}
	r.log.Infow("Starting pipeline")
	err := r.execute()
	return r.finish(err)
}

func (e *Executor) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (r *run) execute() error {
	e := r.e
	if e.Extractor == nil {
		return r.fail(model.StageExtract, &ExtractionError{Source: "none", Err: errors.New("no extractor configured")})
	}
	if e.Loader == nil && !e.SkipLoad {
		return r.fail(model.StageLoad, &LoadError{Sink: "none", Err: errors.New("no loader configured")})
	}

	// Extract
	r.transition(model.StateExtracting)
	start := time.Now()
	ds, err := bounded(r.ctx, e.ExtractTimeout, e.Extractor.Extract)
	if err != nil {
		var xerr *ExtractionError
		if !errors.As(err, &xerr) {
			err = &ExtractionError{Source: describeExtractor(e.Extractor), Err: err}
		}
		return r.fail(model.StageExtract, err)
	}
	if ds == nil {
		ds = model.Empty()
	}
	r.md.RecordsExtracted = ds.RowCount()
	r.log.Infow("Extracted", logger.FieldRecords, ds.RowCount(), logger.FieldDurationMS, time.Since(start).Milliseconds())

	// Transform
	r.transition(model.StateTransforming)
	for _, step := range e.Steps {
		if err := r.ctx.Err(); err != nil {
			return r.fail(model.StageTransform, &TransformError{Step: step.Name(), Err: err})
		}
		stepStart := time.Now()
		out, err := step.Apply(r.ctx, ds)
		if err != nil {
			var terr *TransformError
			if !errors.As(err, &terr) {
				err = &TransformError{Step: step.Name(), Err: err}
			}
			return r.fail(model.StageTransform, err)
		}
		stats := model.StepStats{
			Step:     step.Name(),
			RowsIn:   ds.RowCount(),
			RowsOut:  out.RowCount(),
			Duration: time.Since(stepStart),
		}
		if stats.RowsOut < stats.RowsIn {
			stats.RowsRemoved = stats.RowsIn - stats.RowsOut
			r.md.RecordsRemoved += stats.RowsRemoved
		}
		r.md.Steps = append(r.md.Steps, stats)
		r.log.Debugw("Step applied",
			logger.FieldStep, stats.Step,
			logger.FieldRowsIn, stats.RowsIn,
			logger.FieldRowsOut, stats.RowsOut,
			logger.FieldDurationMS, stats.Duration.Milliseconds())
		ds = out
	}
	r.result.Dataset = ds

	// Validate
	if len(e.Rules) > 0 {
		r.transition(model.StateValidating)
		engine := e.Engine
		if engine == nil {
			engine = NewEngine(DefaultValidationWorkers, e.Logger)
		}
		label := e.Label
		if label == "" {
			label = e.Name
		}
		report := engine.Evaluate(r.ctx, ds, label, e.Rules)
		summary := report.Summary()
		r.md.Validation = &summary
		r.result.Report = &report
		if report.HasErrors() {
			return r.fail(model.StageValidate, &ValidationGateError{Report: report})
		}
	}

	if e.SkipLoad {
		r.transition(model.StateSucceeded)
		return nil
	}

	// Load
	r.transition(model.StateLoading)
	start = time.Now()
	n, err := bounded(r.ctx, e.LoadTimeout, func(ctx context.Context) (int, error) {
		return e.Loader.Load(ctx, ds)
	})
	if err != nil {
		var lerr *LoadError
		if !errors.As(err, &lerr) {
			err = &LoadError{Sink: sinkName(e.Loader), Err: err}
		}
		return r.fail(model.StageLoad, err)
	}
	r.md.RecordsLoaded = n
	r.log.Infow("Loaded", logger.FieldSink, sinkName(e.Loader), logger.FieldRecords, n,
		logger.FieldDurationMS, time.Since(start).Milliseconds())

	r.transition(model.StateSucceeded)
	return nil
}

func (r *run) transition(to model.State) {
	from := r.md.State
	r.md.State = to
	r.md.Status = to.Status()
	if r.e.Observer != nil {
		if err := r.e.Observer.Transition(r.ctx, r.md.RunID, from, to); err != nil {
			r.log.Warnw("State observer failed", logger.FieldState, to, logger.FieldError, err)
		}
	}
}

func (r *run) fail(stage model.Stage, err error) error {
	r.md.FailedStage = stage
	r.md.FailureReason = err.Error()
	r.transition(model.StateFailed)
	r.log.Errorw("Pipeline failed", logger.FieldStage, stage, logger.FieldError, err)
	return err
}

// finish stamps the end time and hands the metadata to the recorder, once.
func (r *run) finish(runErr error) (*RunResult, error) {
	end := r.e.now()
	r.md.EndTime = &end
	r.md.ExecutionTime = end.Format(time.RFC3339)
	if runErr == nil {
		r.log.Infow("Pipeline succeeded",
			logger.FieldRecords, r.md.RecordsLoaded,
			logger.FieldDurationMS, r.md.Duration().Milliseconds())
	}

	if r.e.Recorder != nil {
		// record even when the caller's context is already cancelled
		ctx := context.WithoutCancel(r.ctx)
		if err := r.e.Recorder.Record(ctx, r.md.Clone()); err != nil {
			r.log.Errorw("Failed to record metadata", logger.FieldStage, model.StageRecord, logger.FieldError, err)
			runErr = errors.Join(runErr, errors.Wrap(err, "record metadata"))
		}
	}
	r.result.Metadata = r.md.Clone()
	return r.result, runErr
}

// bounded runs fn under timeout. It returns once the timeout fires even if
// fn ignores its context; fn then finishes in the background and its
// result is discarded.
func bounded[T any](ctx context.Context, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if timeout <= 0 {
		return fn(ctx)
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	type result struct {
		v   T
		err error
	}
	done := make(chan result, 1)
	go func() {
		v, err := fn(ctx)
		done <- result{v, err}
	}()
	select {
	case res := <-done:
		return res.v, res.err
	case <-ctx.Done():
		var zero T
		err := ctx.Err()
		if errors.Is(err, context.DeadlineExceeded) {
			err = errors.Wrapf(err, "exceeded %s", timeout)
		}
		return zero, err
	}
}

func describeExtractor(x Extractor) string {
	switch v := x.(type) {
	case *CSVExtractor:
		return v.Path
	case *NDJSONExtractor:
		return v.Path
	case *SyntheticExtractor:
		return "synthetic"
	}
	return "extractor"
}

// ------------------- Construction -------------------

// Deps are the collaborators and defaults shared by executors built from
// job specs.
type Deps struct {
	Store          *store.Store
	Logger         *zap.SugaredLogger
	Workers        int
	ExtractTimeout time.Duration
	LoadTimeout    time.Duration
	// OutputDir receives <run>/<pipeline>.csv when the spec names no path.
	OutputDir string
	// RunID pins the run id so default output paths can be derived from it.
	RunID string
}

// NewExecutorFromSpec builds an executor for spec. The file recorder
// writes the metadata sidecar next to the CSV output; with a store, runs
// are also recorded in the run database and their states mirrored there.
func NewExecutorFromSpec(spec model.JobSpec, deps Deps) (*Executor, error) {
	log := logger.OrNop(deps.Logger)
	extractor, err := NewExtractor(spec.Source, log)
	if err != nil {
		return nil, errors.Wrap(err, "source")
	}
	steps, err := BuildSteps(spec.Transforms)
	if err != nil {
		return nil, err
	}
	rules := spec.EngineRules()
	for _, r := range rules {
		if err := r.Validate(); err != nil {
			return nil, err
		}
	}

	output := spec.Output
	if output.Path == "" && deps.OutputDir != "" && deps.RunID != "" {
		path, err := utils.NewOutputManager(deps.OutputDir).DefaultOutputPath(deps.RunID, spec.Name)
		if err != nil {
			return nil, err
		}
		output.Path = path
	}
	loader, err := NewLoader(output, deps.Store, log)
	if err != nil {
		return nil, err
	}

	var recorders MultiRecorder
	if output.Path != "" {
		recorders = append(recorders, &FileRecorder{
			Path:       utils.MetadataPath(output.Path),
			ReportPath: utils.ReportPath(output.Path),
		})
	}
	var observer Observer = &LogObserver{Logger: log}
	if deps.Store != nil {
		recorders = append(recorders, &StoreRecorder{Store: deps.Store})
		observer = &StoreObserver{Store: deps.Store}
	}

	workers := spec.Validation.Workers
	if workers <= 0 {
		workers = deps.Workers
	}
	e := &Executor{
		Name:           spec.Name,
		Extractor:      extractor,
		Steps:          steps,
		Rules:          rules,
		Engine:         NewEngine(workers, log),
		Label:          spec.DatasetLabel(),
		Loader:         loader,
		Observer:       observer,
		ExtractTimeout: utils.ParseDuration(spec.Timeouts.Extract, orDefault(deps.ExtractTimeout, DefaultExtractTimeout)),
		LoadTimeout:    utils.ParseDuration(spec.Timeouts.Load, orDefault(deps.LoadTimeout, DefaultLoadTimeout)),
		Logger:         log,
	}
	if len(recorders) > 0 {
		e.Recorder = recorders
	}
	if deps.RunID != "" {
		id := deps.RunID
		e.NewRunID = func() string { return id }
	}
	return e, nil
}

func orDefault(d, fallback time.Duration) time.Duration {
	if d > 0 {
		return d
	}
	return fallback
}
