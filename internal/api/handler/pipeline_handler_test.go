package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"go-etl-pipeline/internal/model"
	"go-etl-pipeline/internal/pipeline"
	"go-etl-pipeline/internal/store"
	"go-etl-pipeline/pkg/router"
)

const transactionsJob = `{
  "name": "transactions",
  "source": {"type": "synthetic", "records": 50},
  "transforms": [
    {"type": "fill_nulls", "column": "email", "policy": "constant", "value": "unknown@example.com"},
    {"type": "dedupe"}
  ],
  "rules": [
    {"kind": "uniqueness", "column": "customer_id"},
    {"kind": "range", "column": "customer_age", "min": 18, "max": 100, "severity": "warning"}
  ],
  "output": {"table": "transactions"}
}`

const customersJob = `{
  "name": "customers",
  "source": {"type": "synthetic", "profile": "customers"},
  "rules": [{"kind": "uniqueness", "column": "customer_id"}],
  "output": {"table": "customers"}
}`

type testAPI struct {
	handler *PipelineHandler
	store   *store.Store
	mux     *router.Router
}

func newTestAPI(t *testing.T) *testAPI {
	t.Helper()
	log := zaptest.NewLogger(t).Sugar()
	dir := t.TempDir()
	st, err := store.Open(context.Background(), filepath.Join(dir, "runs.db"), log)
	require.NoError(t, err)

	h := NewPipelineHandler(context.Background(), st, pipeline.Deps{Logger: log, OutputDir: dir, Workers: 2})
	var seq atomic.Int64
	h.newID = func() string { return fmt.Sprintf("run-%d", seq.Add(1)) }
	t.Cleanup(func() {
		h.Wait()
		st.Close()
	})

	r := router.New(log)
	r.POST("/api/v1/pipelines", h.CreatePipeline)
	r.GET("/api/v1/pipelines", h.ListPipelines)
	r.GET("/api/v1/pipelines/*/errors", h.GetPipelineErrors)
	r.GET("/api/v1/pipelines/*/report", h.GetPipelineReport)
	r.POST("/api/v1/pipelines/*/retry", h.RetryPipeline)
	r.GET("/api/v1/pipelines/*", h.GetPipeline)
	return &testAPI{handler: h, store: st, mux: r}
}

func (a *testAPI) do(t *testing.T, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	a.mux.ServeHTTP(rec, httptest.NewRequest(method, path, bytes.NewBufferString(body)))
	return rec
}

func (a *testAPI) create(t *testing.T, job string) RunAccepted {
	t.Helper()
	rec := a.do(t, http.MethodPost, "/api/v1/pipelines", job)
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	var accepted RunAccepted
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &accepted))
	return accepted
}

// finish waits for the background runs and returns the stored run.
func (a *testAPI) finish(t *testing.T, runID string) *store.RunRecord {
	t.Helper()
	a.handler.Wait()
	run, err := a.store.GetRun(context.Background(), runID)
	require.NoError(t, err)
	require.True(t, run.State.Terminal(), "run %s is %s", runID, run.State)
	return run
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestCreatePipelineRunsToCompletion(t *testing.T) {
	a := newTestAPI(t)
	accepted := a.create(t, transactionsJob)
	assert.Equal(t, "run-1", accepted.RunID)
	assert.Equal(t, model.StatusInitialized, accepted.Status)
	assert.Empty(t, accepted.RetryOf)

	run := a.finish(t, accepted.RunID)
	assert.Equal(t, model.StateSucceeded, run.State)

	rec := a.do(t, http.MethodGet, "/api/v1/pipelines/run-1", "")
	require.Equal(t, http.StatusOK, rec.Code)
	got := decode[store.RunRecord](t, rec)
	assert.Equal(t, "transactions", got.Pipeline)
	assert.Equal(t, model.StatusSuccess, got.Status)
	require.NotNil(t, got.Spec)
	assert.Equal(t, "transactions", got.Spec.Output.Table)
	require.NotNil(t, got.Metadata)
	assert.Equal(t, 50, got.Metadata.RecordsLoaded)

	rec = a.do(t, http.MethodGet, "/api/v1/pipelines/run-1/report", "")
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[model.ReportSummary](t, rec)
	assert.Equal(t, model.ReportPass, report.Status)
	assert.Equal(t, 2, report.TotalChecks)

	rec = a.do(t, http.MethodGet, "/api/v1/pipelines/run-1/errors", "")
	require.Equal(t, http.StatusOK, rec.Code)
	errs := decode[ErrorsResponse](t, rec)
	assert.Equal(t, "run-1", errs.RunID)
	assert.Zero(t, errs.Count)
	assert.NotNil(t, errs.Errors)

	n, err := a.store.CountRows(context.Background(), "transactions")
	require.NoError(t, err)
	assert.Equal(t, 50, n)
}

func TestCreatePipelineRejectsInvalidJob(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodPost, "/api/v1/pipelines", `{"name": "x", "source": {"type": "ftp"}}`)
	require.Equal(t, http.StatusBadRequest, rec.Code)
	resp := decode[ErrorResponse](t, rec)
	assert.Equal(t, "Invalid job spec", resp.Error)
	require.NotEmpty(t, resp.Problems)
	paths := make([]string, len(resp.Problems))
	for i, p := range resp.Problems {
		paths[i] = p.Path
	}
	assert.Contains(t, paths, "/source/type")

	rec = a.do(t, http.MethodPost, "/api/v1/pipelines", `not json`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	runs, err := a.store.ListRuns(context.Background())
	require.NoError(t, err)
	assert.Empty(t, runs)
}

func TestCreatePipelineConfinesPaths(t *testing.T) {
	a := newTestAPI(t)
	for _, tt := range []struct {
		name, source, output, problem string
	}{
		{"absolute output", `{"type": "synthetic"}`, "/tmp/out.csv", "/output/path"},
		{"escaping output", `{"type": "synthetic"}`, "../../out.csv", "/output/path"},
		{"absolute source", `{"type": "csv", "path": "/etc/passwd"}`, "out.csv", "/source/path"},
		{"escaping source", `{"type": "csv", "path": "../secrets.csv"}`, "out.csv", "/source/path"},
	} {
		t.Run(tt.name, func(t *testing.T) {
			body := fmt.Sprintf(`{"name": "x", "source": %s, "output": {"path": %q}}`, tt.source, tt.output)
			rec := a.do(t, http.MethodPost, "/api/v1/pipelines", body)
			require.Equal(t, http.StatusBadRequest, rec.Code)
			resp := decode[ErrorResponse](t, rec)
			require.Len(t, resp.Problems, 1)
			assert.Equal(t, tt.problem, resp.Problems[0].Path)
		})
	}

	accepted := a.create(t, `{"name": "local", "source": {"type": "synthetic", "records": 10}, "output": {"path": "reports/local.csv"}}`)
	run := a.finish(t, accepted.RunID)
	assert.Equal(t, model.StateSucceeded, run.State)
	assert.FileExists(t, filepath.Join(a.handler.deps.OutputDir, "reports", "local.csv"))

	runs, err := a.store.ListRuns(context.Background())
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestGatedRunRecordsError(t *testing.T) {
	a := newTestAPI(t)
	accepted := a.create(t, customersJob)

	run := a.finish(t, accepted.RunID)
	assert.Equal(t, model.StateFailed, run.State)
	assert.Equal(t, model.StatusFailed, run.Status)

	rec := a.do(t, http.MethodGet, "/api/v1/pipelines/"+accepted.RunID+"/errors", "")
	require.Equal(t, http.StatusOK, rec.Code)
	errs := decode[ErrorsResponse](t, rec)
	require.Equal(t, 1, errs.Count)
	assert.Equal(t, model.StageValidate, errs.Errors[0].Stage)
	assert.Contains(t, errs.Errors[0].Message, "duplicate")

	rec = a.do(t, http.MethodGet, "/api/v1/pipelines/"+accepted.RunID+"/report", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, model.ReportFail, decode[model.ReportSummary](t, rec).Status)

	_, err := a.store.CountRows(context.Background(), "customers")
	assert.Error(t, err, "gated runs must not load")
}

func TestListPipelines(t *testing.T) {
	a := newTestAPI(t)

	rec := a.do(t, http.MethodGet, "/api/v1/pipelines", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())

	first := a.create(t, transactionsJob)
	second := a.create(t, customersJob)
	a.finish(t, first.RunID)
	a.finish(t, second.RunID)

	rec = a.do(t, http.MethodGet, "/api/v1/pipelines", "")
	require.Equal(t, http.StatusOK, rec.Code)
	runs := decode[[]store.RunRecord](t, rec)
	require.Len(t, runs, 2)
	ids := []string{runs[0].ID, runs[1].ID}
	assert.ElementsMatch(t, []string{first.RunID, second.RunID}, ids)
}

func TestUnknownRunIsNotFound(t *testing.T) {
	a := newTestAPI(t)
	for _, path := range []string{
		"/api/v1/pipelines/nope",
		"/api/v1/pipelines/nope/report",
		"/api/v1/pipelines/nope/errors",
	} {
		rec := a.do(t, http.MethodGet, path, "")
		assert.Equal(t, http.StatusNotFound, rec.Code, path)
	}
	rec := a.do(t, http.MethodPost, "/api/v1/pipelines/nope/retry", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRetryPipeline(t *testing.T) {
	a := newTestAPI(t)
	first := a.create(t, customersJob)
	a.finish(t, first.RunID)

	rec := a.do(t, http.MethodPost, "/api/v1/pipelines/"+first.RunID+"/retry", "")
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	retry := decode[RunAccepted](t, rec)
	assert.Equal(t, first.RunID, retry.RetryOf)
	assert.NotEqual(t, first.RunID, retry.RunID)

	run := a.finish(t, retry.RunID)
	require.NotNil(t, run.Spec)
	assert.Equal(t, "customers", run.Spec.Name)

	// the original run keeps its own history
	original, err := a.store.GetRun(context.Background(), first.RunID)
	require.NoError(t, err)
	assert.Equal(t, model.StateFailed, original.State)
}

func TestRetryRejectsActiveAndSpeclessRuns(t *testing.T) {
	a := newTestAPI(t)
	ctx := context.Background()

	spec := model.JobSpec{Name: "cli", Source: model.SourceSpec{Type: "synthetic"}, Output: model.OutputSpec{Path: "out.csv"}}
	require.NoError(t, a.store.CreateRun(ctx, "active", spec))
	require.NoError(t, a.store.UpdateRunStatus(ctx, "active", model.StateTransforming))

	rec := a.do(t, http.MethodPost, "/api/v1/pipelines/active/retry", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	// CLI runs are recorded from their metadata alone
	require.NoError(t, a.store.SaveMetadata(ctx, &model.PipelineMetadata{
		RunID:        "cli-run",
		PipelineName: "cli",
		Status:       model.StatusSuccess,
		State:        model.StateSucceeded,
		StartTime:    time.Now(),
	}))
	rec = a.do(t, http.MethodPost, "/api/v1/pipelines/cli-run/retry", "")
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
}

func TestRunIDFromPath(t *testing.T) {
	tests := []struct {
		path, suffix, want string
		ok                 bool
	}{
		{"/api/v1/pipelines/abc", "", "abc", true},
		{"/api/v1/pipelines/abc/report", "/report", "abc", true},
		{"/api/v1/pipelines/abc/def", "", "", false},
		{"/api/v1/pipelines//report", "/report", "", false},
		{"/other/abc", "", "", false},
	}
	for _, tt := range tests {
		rec := httptest.NewRecorder()
		got, ok := runIDFromPath(rec, httptest.NewRequest(http.MethodGet, tt.path, nil), tt.suffix)
		assert.Equal(t, tt.ok, ok, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
		if !ok {
			assert.Equal(t, http.StatusBadRequest, rec.Code, tt.path)
		}
	}
}
