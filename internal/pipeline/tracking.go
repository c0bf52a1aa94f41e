package pipeline

import (
	"context"
	"encoding/json"
	"os"

	"go.uber.org/zap"

	"go-etl-pipeline/internal/errors"
	"go-etl-pipeline/internal/logger"
	"go-etl-pipeline/internal/model"
	"go-etl-pipeline/internal/store"
)

// MetadataRecorder persists the final metadata of a run. The executor
// calls it exactly once per run, after a terminal state is reached.
type MetadataRecorder interface {
	Record(ctx context.Context, md *model.PipelineMetadata) error
}

// RecorderFunc adapts a function to the MetadataRecorder interface.
type RecorderFunc func(ctx context.Context, md *model.PipelineMetadata) error

func (f RecorderFunc) Record(ctx context.Context, md *model.PipelineMetadata) error { return f(ctx, md) }

// FileRecorder writes the metadata as indented JSON to Path, normally the
// "_metadata.json" sidecar of the output file. When ReportPath is set and
// the run was validated, the report summary is written there as well.
type FileRecorder struct {
	Path       string
	ReportPath string
}

func (r *FileRecorder) Record(ctx context.Context, md *model.PipelineMetadata) error {
	if err := writeJSON(r.Path, md); err != nil {
		return errors.Wrapf(err, "write metadata %s", r.Path)
	}
	if r.ReportPath != "" && md.Validation != nil {
		if err := writeJSON(r.ReportPath, md.Validation); err != nil {
			return errors.Wrapf(err, "write report %s", r.ReportPath)
		}
	}
	return nil
}

func writeJSON(path string, v any) error {
	return writeAtomic(path, func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	})
}

// StoreRecorder saves the metadata, the report summary and the failure
// reason in the run store.
type StoreRecorder struct {
	Store *store.Store
}

func (r *StoreRecorder) Record(ctx context.Context, md *model.PipelineMetadata) error {
	if err := r.Store.SaveMetadata(ctx, md); err != nil {
		return err
	}
	if md.Validation != nil {
		if err := r.Store.SaveReport(ctx, md.RunID, *md.Validation); err != nil {
			return err
		}
	}
	if md.FailureReason != "" {
		return r.Store.SaveRunError(ctx, md.RunID, md.FailedStage, errors.New(md.FailureReason))
	}
	return nil
}

// MultiRecorder records to every recorder, even after a failure, and joins
// the errors.
type MultiRecorder []MetadataRecorder

func (m MultiRecorder) Record(ctx context.Context, md *model.PipelineMetadata) error {
	var errs []error
	for _, r := range m {
		if err := r.Record(ctx, md); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return errors.Join(errs...)
}

// Observer is told about every state transition of a run, for progress
// tracking. Errors are logged and otherwise ignored.
type Observer interface {
	Transition(ctx context.Context, runID string, from, to model.State) error
}

// StoreObserver mirrors run states into the run store so the API can show
// progress while a run is in flight. Runs without a row, such as CLI runs,
// are skipped until the recorder creates one.
type StoreObserver struct {
	Store *store.Store
}

func (o *StoreObserver) Transition(ctx context.Context, runID string, _, to model.State) error {
	err := o.Store.UpdateRunStatus(ctx, runID, to)
	if errors.IsNotFound(err) {
		return nil
	}
	return err
}

// LogObserver logs every transition at debug level.
type LogObserver struct {
	Logger *zap.SugaredLogger
}

func (o *LogObserver) Transition(ctx context.Context, _ string, from, to model.State) error {
	logger.FromContext(ctx, o.Logger).Debugw("State transition", "from", from, logger.FieldState, to)
	return nil
}
