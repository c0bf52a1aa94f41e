package pipeline

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"go-etl-pipeline/internal/errors"
	"go-etl-pipeline/internal/model"
	"go-etl-pipeline/internal/store"
	"go-etl-pipeline/pkg/utils"
)

type stubLoader struct {
	calls int
	got   *model.Dataset
	err   error
}

func (l *stubLoader) Load(_ context.Context, ds *model.Dataset) (int, error) {
	l.calls++
	l.got = ds
	if l.err != nil {
		return 0, l.err
	}
	return ds.RowCount(), nil
}

type stubRecorder struct {
	calls []*model.PipelineMetadata
	err   error
}

func (r *stubRecorder) Record(_ context.Context, md *model.PipelineMetadata) error {
	r.calls = append(r.calls, md)
	return r.err
}

type stateLog struct {
	mu     sync.Mutex
	states []model.State
}

func (o *stateLog) Transition(_ context.Context, _ string, _, to model.State) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.states = append(o.states, to)
	return nil
}

func staticSource(ds *model.Dataset) Extractor {
	return ExtractorFunc(func(context.Context) (*model.Dataset, error) { return ds, nil })
}

func idAmount() *model.Dataset {
	return model.MustDataset(
		model.Column{Name: "id", Type: model.TypeInteger, Values: []any{int64(1), int64(2), int64(2), int64(3)}},
		model.Column{Name: "amount", Type: model.TypeFloat, Values: []any{10.0, -5.0, -5.0, 30.0}},
	)
}

func testExecutor(t *testing.T, x Extractor) (*Executor, *stubLoader, *stubRecorder, *stateLog) {
	loader := &stubLoader{}
	rec := &stubRecorder{}
	obs := &stateLog{}
	return &Executor{
		Name:      "test",
		Extractor: x,
		Engine:    testEngine(t, 2),
		Loader:    loader,
		Recorder:  rec,
		Observer:  obs,
		Logger:    zaptest.NewLogger(t).Sugar(),
		NewRunID:  func() string { return "run-1" },
		Now:       fixedNow,
	}, loader, rec, obs
}

func TestExecutorSuccess(t *testing.T) {
	e, loader, rec, obs := testExecutor(t, staticSource(idAmount()))
	e.Steps = []TransformStep{&Dedupe{}}
	e.Rules = []model.Rule{
		model.Uniqueness([]string{"id"}, model.SeverityError),
		model.SignConsistency("amount"),
	}

	res, err := e.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "run-1", res.RunID)
	assert.Equal(t, 1, loader.calls)
	assert.Equal(t, 3, loader.got.RowCount())
	require.Len(t, rec.calls, 1)

	md := rec.calls[0]
	assert.Equal(t, model.StatusSuccess, md.Status)
	assert.Equal(t, model.StateSucceeded, md.State)
	assert.Equal(t, 4, md.RecordsExtracted)
	assert.Equal(t, 3, md.RecordsLoaded)
	assert.Equal(t, 1, md.RecordsRemoved)
	require.Len(t, md.Steps, 1)
	assert.Equal(t, 1, md.Steps[0].RowsRemoved)
	assert.Equal(t, fixedNow().Format(time.RFC3339), md.ExecutionTime)
	require.NotNil(t, md.Validation)
	assert.Equal(t, model.ReportPass, md.Validation.Status)
	assert.Equal(t, []string{"amount has 1 negative values"}, md.Validation.Warnings)

	assert.Equal(t, []model.State{
		model.StateExtracting, model.StateTransforming, model.StateValidating,
		model.StateLoading, model.StateSucceeded,
	}, obs.states)
	assert.Equal(t, md, res.Metadata)
	require.NotNil(t, res.Report)
	assert.True(t, res.Dataset.Equal(loader.got))
}

func TestExecutorGatesLoadOnErrors(t *testing.T) {
	e, loader, rec, obs := testExecutor(t, staticSource(idAmount()))
	e.Rules = []model.Rule{model.Uniqueness([]string{"id"}, model.SeverityError)}

	res, err := e.Run(context.Background())
	var gate *ValidationGateError
	require.ErrorAs(t, err, &gate)
	assert.Equal(t, "1 duplicate records found", gate.Report.Errors[0].Message)

	assert.Zero(t, loader.calls)
	require.Len(t, rec.calls, 1)
	assert.Equal(t, model.StatusFailed, rec.calls[0].Status)
	assert.Equal(t, model.StageValidate, rec.calls[0].FailedStage)
	assert.Zero(t, rec.calls[0].RecordsLoaded)
	assert.Equal(t, model.StateFailed, obs.states[len(obs.states)-1])
	assert.NotContains(t, obs.states, model.StateLoading)
	require.NotNil(t, res.Report)
}

func TestExecutorWarningsDoNotGate(t *testing.T) {
	e, loader, _, _ := testExecutor(t, staticSource(idAmount()))
	e.Rules = []model.Rule{model.Uniqueness([]string{"id"}, model.SeverityWarning)}

	_, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, loader.calls)
}

func TestExecutorTransformFailure(t *testing.T) {
	e, loader, rec, _ := testExecutor(t, staticSource(idAmount()))
	e.Steps = []TransformStep{&Bin{Column: "price", Boundaries: []float64{0, 10}, Labels: []string{"low"}}}

	res, err := e.Run(context.Background())
	var terr *TransformError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, "price", terr.Column)
	assert.ErrorIs(t, err, ErrColumnNotFound)

	assert.Zero(t, loader.calls)
	require.Len(t, rec.calls, 1)
	assert.Equal(t, model.StatusFailed, rec.calls[0].Status)
	assert.Equal(t, model.StageTransform, rec.calls[0].FailedStage)
	assert.Contains(t, rec.calls[0].FailureReason, "price")
	assert.Nil(t, res.Dataset)
}

func TestExecutorExtractTimeout(t *testing.T) {
	slow := ExtractorFunc(func(ctx context.Context) (*model.Dataset, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	e, loader, rec, _ := testExecutor(t, slow)
	e.ExtractTimeout = 20 * time.Millisecond

	_, err := e.Run(context.Background())
	var xerr *ExtractionError
	require.ErrorAs(t, err, &xerr)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Zero(t, loader.calls)
	assert.Equal(t, model.StageExtract, rec.calls[0].FailedStage)
}

func TestExecutorExtractTimeoutIgnoringContext(t *testing.T) {
	release := make(chan struct{})
	defer close(release)
	stuck := ExtractorFunc(func(context.Context) (*model.Dataset, error) {
		<-release
		return idAmount(), nil
	})
	e, _, _, _ := testExecutor(t, stuck)
	e.ExtractTimeout = 20 * time.Millisecond

	_, err := e.Run(context.Background())
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestExecutorLoadFailure(t *testing.T) {
	e, loader, rec, _ := testExecutor(t, staticSource(idAmount()))
	loader.err = errors.New("disk full")

	_, err := e.Run(context.Background())
	var lerr *LoadError
	require.ErrorAs(t, err, &lerr)
	assert.Equal(t, "loader", lerr.Sink)
	assert.Equal(t, model.StageLoad, rec.calls[0].FailedStage)
	assert.Equal(t, model.StatusFailed, rec.calls[0].Status)
}

func TestExecutorRecorderFailureKeepsStatus(t *testing.T) {
	e, _, rec, _ := testExecutor(t, staticSource(idAmount()))
	rec.err = errors.New("metadata store down")

	res, err := e.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metadata store down")
	assert.Len(t, rec.calls, 1)
	assert.Equal(t, model.StatusSuccess, res.Metadata.Status)
}

func TestExecutorSkipLoad(t *testing.T) {
	e, loader, rec, _ := testExecutor(t, staticSource(idAmount()))
	e.SkipLoad = true
	e.Loader = nil

	_, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, loader.calls)
	assert.Equal(t, model.StatusSuccess, rec.calls[0].Status)
}

func TestExecutorMisconfigured(t *testing.T) {
	e, _, rec, _ := testExecutor(t, nil)
	_, err := e.Run(context.Background())
	var xerr *ExtractionError
	require.ErrorAs(t, err, &xerr)
	require.Len(t, rec.calls, 1)

	e, _, _, _ = testExecutor(t, staticSource(idAmount()))
	e.Loader = nil
	_, err = e.Run(context.Background())
	var lerr *LoadError
	assert.ErrorAs(t, err, &lerr)
}

func TestExecutorFromSpec(t *testing.T) {
	dir := t.TempDir()
	st, err := store.Open(context.Background(), filepath.Join(dir, "runs.db"), zaptest.NewLogger(t).Sugar())
	require.NoError(t, err)
	defer st.Close()

	spec := model.JobSpec{
		Name:   "Daily Transactions",
		Source: model.SourceSpec{Type: "synthetic", Records: 200},
		Transforms: []model.StepSpec{
			{Type: "fill_nulls", Column: "email", Policy: FillConstant, Value: "unknown@example.com"},
			{Type: "fill_nulls", Column: "country", Policy: FillUnknown},
			{Type: "dedupe"},
			{Type: "date_parts", Column: "transaction_date"},
			{Type: "bin", Column: "amount", Boundaries: []float64{0, 50, 200, 1000}, Labels: []string{"Low", "Medium", "High"}},
			{Type: "group_broadcast", GroupBy: []string{"customer_id"}, Agg: AggCount, Output: "total_transactions"},
		},
		Rules: []model.RuleSpec{
			{Kind: model.KindCompleteness},
			{Kind: model.KindUniqueness, Column: "customer_id"},
			{Kind: model.KindRange, Column: "customer_age", Min: ptr(18), Max: ptr(100), Severity: "warning"},
		},
		Output: model.OutputSpec{Table: "transactions"},
	}

	e, err := NewExecutorFromSpec(spec, Deps{
		Store:     st,
		Logger:    zaptest.NewLogger(t).Sugar(),
		OutputDir: dir,
		RunID:     "run-42",
	})
	require.NoError(t, err)
	e.Now = fixedNow
	require.NoError(t, st.CreateRun(context.Background(), "run-42", spec))

	res, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "run-42", res.RunID)
	assert.Equal(t, 200, res.Metadata.RecordsLoaded)

	out := filepath.Join(dir, "run-42", "daily_transactions.csv")
	assert.FileExists(t, out)
	assert.FileExists(t, utils.ReportPath(out))

	raw, err := os.ReadFile(utils.MetadataPath(out))
	require.NoError(t, err)
	var sidecar map[string]any
	require.NoError(t, json.Unmarshal(raw, &sidecar))
	for _, key := range []string{"pipeline_name", "start_time", "records_processed", "status", "execution_time"} {
		assert.Contains(t, sidecar, key)
	}
	assert.Equal(t, "success", sidecar["status"])
	assert.Equal(t, "Daily Transactions", sidecar["pipeline_name"])

	n, err := st.CountRows(context.Background(), "transactions")
	require.NoError(t, err)
	assert.Equal(t, 200, n)

	run, err := st.GetRun(context.Background(), "run-42")
	require.NoError(t, err)
	assert.Equal(t, model.StateSucceeded, run.State)
	report, err := st.GetReport(context.Background(), "run-42")
	require.NoError(t, err)
	assert.Equal(t, 3+len(res.Dataset.ColumnNames())-1, report.TotalChecks)
}

func TestExecutorFromSpecErrors(t *testing.T) {
	base := model.JobSpec{Name: "x", Source: model.SourceSpec{Type: "synthetic"}, Output: model.OutputSpec{Path: "out.csv"}}

	bad := base
	bad.Source.Type = "ftp"
	_, err := NewExecutorFromSpec(bad, Deps{})
	assert.ErrorIs(t, err, ErrInvalidStep)

	bad = base
	bad.Transforms = []model.StepSpec{{Type: "bin", Column: "amount"}}
	_, err = NewExecutorFromSpec(bad, Deps{})
	assert.ErrorIs(t, err, ErrInvalidStep)

	bad = base
	bad.Rules = []model.RuleSpec{{Kind: model.KindRange, Column: "amount"}}
	_, err = NewExecutorFromSpec(bad, Deps{})
	assert.Error(t, err)

	bad = base
	bad.Output = model.OutputSpec{}
	_, err = NewExecutorFromSpec(bad, Deps{})
	assert.ErrorIs(t, err, ErrInvalidStep)

	bad = base
	bad.Output = model.OutputSpec{Table: "t"}
	_, err = NewExecutorFromSpec(bad, Deps{})
	assert.ErrorIs(t, err, ErrInvalidStep, "a table needs a store")
}

func TestMultiRecorderRecordsAll(t *testing.T) {
	var seen []string
	record := func(name string, err error) MetadataRecorder {
		return RecorderFunc(func(_ context.Context, md *model.PipelineMetadata) error {
			seen = append(seen, name+":"+md.PipelineName)
			return err
		})
	}
	m := MultiRecorder{record("file", errors.New("read-only fs")), record("store", nil), record("log", errors.New("closed"))}

	err := m.Record(context.Background(), model.NewPipelineMetadata("daily"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "read-only fs")
	assert.Contains(t, err.Error(), "closed")
	assert.Equal(t, []string{"file:daily", "store:daily", "log:daily"}, seen)

	assert.NoError(t, MultiRecorder{record("store", nil)}.Record(context.Background(), model.NewPipelineMetadata("daily")))
}
