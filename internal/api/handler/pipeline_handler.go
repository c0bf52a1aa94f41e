package handler

import (
	"context"
	"io"
	"net/http"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"go-etl-pipeline/internal/config"
	"go-etl-pipeline/internal/errors"
	"go-etl-pipeline/internal/logger"
	"go-etl-pipeline/internal/model"
	"go-etl-pipeline/internal/pipeline"
	"go-etl-pipeline/internal/store"
)

const pipelinesPrefix = "/api/v1/pipelines/"

// maxBodyBytes bounds job spec uploads.
const maxBodyBytes = 1 << 20

// PipelineHandler serves the pipeline run API. Runs execute in background
// goroutines; their progress is read back from the run store.
type PipelineHandler struct {
	store *store.Store
	deps  pipeline.Deps
	log   *zap.SugaredLogger

	// ctx is the parent of every run; cancelling it stops in-flight runs.
	ctx  context.Context
	runs sync.WaitGroup
	// newID is uuid.NewString outside tests
	newID func() string
}

// NewPipelineHandler creates a handler that records runs in st. deps
// supplies the executor defaults; its Store and RunID are set per run.
func NewPipelineHandler(ctx context.Context, st *store.Store, deps pipeline.Deps) *PipelineHandler {
	return &PipelineHandler{
		store: st,
		deps:  deps,
		log:   logger.OrNop(deps.Logger).Named("api"),
		ctx:   ctx,
		newID: uuid.NewString,
	}
}

// Wait blocks until every started run has finished.
func (h *PipelineHandler) Wait() {
	h.runs.Wait()
}

// CreatePipeline creates a new pipeline run
// @Summary Create a new pipeline run
// @Description Validate the job spec and start it asynchronously. The response carries the run id to poll.
// @Tags pipelines
// @Accept json
// @Produce json
// @Param pipeline body model.JobSpec true "Pipeline job spec"
// @Success 202 {object} RunAccepted "Run started"
// @Failure 400 {object} ErrorResponse "Invalid job spec"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /pipelines [post]
func (h *PipelineHandler) CreatePipeline(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusBadRequest, "Failed to read request body", nil)
		return
	}
	spec, err := config.ParseJob(body, "json", "request body")
	if err != nil {
		var jerr *config.JobError
		if errors.As(err, &jerr) {
			writeError(w, http.StatusBadRequest, "Invalid job spec", jerr.Problems)
			return
		}
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	if problems := confinePaths(&spec, h.deps.OutputDir); len(problems) > 0 {
		writeError(w, http.StatusBadRequest, "Invalid job spec", problems)
		return
	}
	h.start(w, spec, "")
}

// confinePaths keeps submitted jobs inside the server's directories: local
// source paths must be relative without "..", and output paths are resolved
// under outputDir.
func confinePaths(spec *model.JobSpec, outputDir string) []config.Problem {
	var problems []config.Problem
	src := spec.Source.Path
	isURL := strings.HasPrefix(src, "http://") || strings.HasPrefix(src, "https://")
	if src != "" && !isURL && !filepath.IsLocal(src) {
		problems = append(problems, config.Problem{Path: "/source/path", Message: "must be a URL or a relative path inside the working directory"})
	}
	if out := spec.Output.Path; out != "" {
		if !filepath.IsLocal(out) {
			problems = append(problems, config.Problem{Path: "/output/path", Message: "must be a relative path inside the output directory"})
		} else {
			spec.Output.Path = filepath.Join(outputDir, out)
		}
	}
	return problems
}

// ListPipelines lists pipeline runs
// @Summary List pipeline runs
// @Description List every recorded run, newest first
// @Tags pipelines
// @Produce json
// @Success 200 {array} store.RunRecord "Runs"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /pipelines [get]
func (h *PipelineHandler) ListPipelines(w http.ResponseWriter, r *http.Request) {
	runs, err := h.store.ListRuns(r.Context())
	if err != nil {
		h.log.Errorw("Failed to list runs", logger.FieldError, err)
		writeError(w, http.StatusInternalServerError, "Failed to fetch pipelines", nil)
		return
	}
	if runs == nil {
		runs = []store.RunRecord{}
	}
	writeJSON(w, http.StatusOK, runs)
}

// GetPipeline returns one run
// @Summary Get pipeline run
// @Description Current state, spec and metadata of a run
// @Tags pipelines
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} store.RunRecord "Run"
// @Failure 404 {object} ErrorResponse "Run not found"
// @Router /pipelines/{id} [get]
func (h *PipelineHandler) GetPipeline(w http.ResponseWriter, r *http.Request) {
	runID, ok := runIDFromPath(w, r, "")
	if !ok {
		return
	}
	run, err := h.store.GetRun(r.Context(), runID)
	if err != nil {
		h.storeError(w, runID, err)
		return
	}
	writeJSON(w, http.StatusOK, run)
}

// GetPipelineReport returns the validation report of a run
// @Summary Get validation report
// @Description The validation report summary of a finished run
// @Tags pipelines
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} model.ReportSummary "Report"
// @Failure 404 {object} ErrorResponse "Run or report not found"
// @Router /pipelines/{id}/report [get]
func (h *PipelineHandler) GetPipelineReport(w http.ResponseWriter, r *http.Request) {
	runID, ok := runIDFromPath(w, r, "/report")
	if !ok {
		return
	}
	report, err := h.store.GetReport(r.Context(), runID)
	if err != nil {
		h.storeError(w, runID, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// GetPipelineErrors retrieves errors for a run
// @Summary Get pipeline errors
// @Description Retrieve all errors recorded against a run
// @Tags pipelines
// @Produce json
// @Param id path string true "Run ID"
// @Success 200 {object} ErrorsResponse "Run errors"
// @Failure 404 {object} ErrorResponse "Run not found"
// @Failure 500 {object} ErrorResponse "Internal server error"
// @Router /pipelines/{id}/errors [get]
func (h *PipelineHandler) GetPipelineErrors(w http.ResponseWriter, r *http.Request) {
	runID, ok := runIDFromPath(w, r, "/errors")
	if !ok {
		return
	}
	if _, err := h.store.GetRun(r.Context(), runID); err != nil {
		h.storeError(w, runID, err)
		return
	}
	runErrors, err := h.store.ListRunErrors(r.Context(), runID)
	if err != nil {
		h.storeError(w, runID, err)
		return
	}
	if runErrors == nil {
		runErrors = []store.RunError{}
	}
	writeJSON(w, http.StatusOK, ErrorsResponse{RunID: runID, Errors: runErrors, Count: len(runErrors)})
}

// RetryPipeline re-runs a finished run's job
// @Summary Retry pipeline
// @Description Start a fresh run of the same job spec. The original run is left untouched.
// @Tags pipelines
// @Produce json
// @Param id path string true "Run ID"
// @Success 202 {object} RunAccepted "Retry started"
// @Failure 404 {object} ErrorResponse "Run not found"
// @Failure 409 {object} ErrorResponse "Run still in progress"
// @Failure 422 {object} ErrorResponse "Run was not started through the API"
// @Router /pipelines/{id}/retry [post]
func (h *PipelineHandler) RetryPipeline(w http.ResponseWriter, r *http.Request) {
	runID, ok := runIDFromPath(w, r, "/retry")
	if !ok {
		return
	}
	run, err := h.store.GetRun(r.Context(), runID)
	if err != nil {
		h.storeError(w, runID, err)
		return
	}
	if !run.State.Terminal() {
		writeError(w, http.StatusConflict, "Run is still "+string(run.State), nil)
		return
	}
	if run.Spec == nil {
		writeError(w, http.StatusUnprocessableEntity, "Run has no stored job spec", nil)
		return
	}
	h.start(w, *run.Spec, runID)
}

// start registers a run and executes it in the background.
func (h *PipelineHandler) start(w http.ResponseWriter, spec model.JobSpec, retryOf string) {
	runID := h.newID()
	deps := h.deps
	deps.Store = h.store
	deps.RunID = runID
	executor, err := pipeline.NewExecutorFromSpec(spec, deps)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error(), nil)
		return
	}
	// the row must exist before the first state transition is mirrored
	if err := h.store.CreateRun(h.ctx, runID, spec); err != nil {
		h.log.Errorw("Failed to save run", logger.FieldRunID, runID, logger.FieldError, err)
		writeError(w, http.StatusInternalServerError, "Failed to save run", nil)
		return
	}

	h.runs.Add(1)
	go func() {
		defer h.runs.Done()
		if _, err := executor.RunWithID(h.ctx, runID); err != nil {
			h.log.Warnw("Run finished with error", logger.FieldRunID, runID, logger.FieldError, err)
		}
	}()

	h.log.Infow("Run started", logger.FieldRunID, runID, logger.FieldPipeline, spec.Name, "retry_of", retryOf)
	writeJSON(w, http.StatusAccepted, RunAccepted{
		Message:   "Pipeline run started",
		RunID:     runID,
		RetryOf:   retryOf,
		Status:    model.StatusInitialized,
		CreatedAt: time.Now().UTC(),
	})
}

func (h *PipelineHandler) storeError(w http.ResponseWriter, runID string, err error) {
	if errors.IsNotFound(err) {
		writeError(w, http.StatusNotFound, err.Error(), nil)
		return
	}
	h.log.Errorw("Store query failed", logger.FieldRunID, runID, logger.FieldError, err)
	writeError(w, http.StatusInternalServerError, "Failed to query run store", nil)
}

// runIDFromPath extracts the id from /api/v1/pipelines/{id}<suffix>.
func runIDFromPath(w http.ResponseWriter, r *http.Request, suffix string) (string, bool) {
	path := r.URL.Path
	if !strings.HasPrefix(path, pipelinesPrefix) || !strings.HasSuffix(path, suffix) {
		writeError(w, http.StatusBadRequest, "Invalid path", nil)
		return "", false
	}
	runID := path[len(pipelinesPrefix) : len(path)-len(suffix)]
	if runID == "" || strings.Contains(runID, "/") {
		writeError(w, http.StatusBadRequest, "Run ID is required", nil)
		return "", false
	}
	return runID, true
}
