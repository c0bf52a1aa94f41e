package pipeline

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"time"

	"go.uber.org/zap"

	"go-etl-pipeline/internal/errors"
	"go-etl-pipeline/internal/logger"
	"go-etl-pipeline/internal/model"
	"go-etl-pipeline/internal/store"
	"go-etl-pipeline/pkg/utils"
)

// Loader persists a finalized dataset and returns the records written.
// Loaders replace their previous content so re-runs are safe.
type Loader interface {
	Load(ctx context.Context, ds *model.Dataset) (int, error)
}

// LoaderFunc adapts a function to the Loader interface.
type LoaderFunc func(ctx context.Context, ds *model.Dataset) (int, error)

func (f LoaderFunc) Load(ctx context.Context, ds *model.Dataset) (int, error) { return f(ctx, ds) }

// NewLoader builds the loaders described by spec. A table needs st; both
// a path and a table give a MultiLoader.
func NewLoader(spec model.OutputSpec, st *store.Store, log *zap.SugaredLogger) (Loader, error) {
	var loaders []Loader
	if spec.Path != "" {
		loaders = append(loaders, &CSVLoader{Path: spec.Path, Snapshot: spec.Snapshot, Logger: log})
	}
	if spec.Table != "" {
		if st == nil {
			return nil, errors.Wrapf(ErrInvalidStep, "table %q needs a database", spec.Table)
		}
		loaders = append(loaders, &SQLiteLoader{Store: st, Table: spec.Table})
	}
	switch len(loaders) {
	case 0:
		return nil, errors.Wrap(ErrInvalidStep, "output needs a path or a table")
	case 1:
		return loaders[0], nil
	}
	return MultiLoader(loaders), nil
}

// ------------------- CSV -------------------

// CSVLoader writes the dataset as CSV in column order. Timestamps are
// RFC 3339 and nulls are empty cells. The file is written to a temp file
// and renamed into place. With Snapshot set, the rows are also written as
// JSON objects next to it.
type CSVLoader struct {
	Path     string
	Snapshot bool
	Logger   *zap.SugaredLogger
}

func (l *CSVLoader) Load(ctx context.Context, ds *model.Dataset) (int, error) {
	if err := l.writeCSV(ctx, ds); err != nil {
		return 0, &LoadError{Sink: l.Path, Err: err}
	}
	if l.Snapshot {
		if err := writeSnapshot(utils.SnapshotPath(l.Path), ds); err != nil {
			return 0, &LoadError{Sink: utils.SnapshotPath(l.Path), Err: err}
		}
	}
	logger.FromContext(ctx, l.Logger).Infow("CSV written", logger.FieldPath, l.Path, logger.FieldRecords, ds.RowCount())
	return ds.RowCount(), nil
}

func (l *CSVLoader) writeCSV(ctx context.Context, ds *model.Dataset) error {
	return writeAtomic(l.Path, func(f *os.File) error {
		w := csv.NewWriter(f)
		if err := w.Write(ds.ColumnNames()); err != nil {
			return errors.Wrap(err, "write header")
		}
		cols := ds.Columns()
		record := make([]string, len(cols))
		for row := 0; row < ds.RowCount(); row++ {
			if row%1000 == 0 {
				if err := ctx.Err(); err != nil {
					return err
				}
			}
			for i, c := range cols {
				record[i] = model.FormatValue(c.Values[row])
			}
			if err := w.Write(record); err != nil {
				return errors.Wrapf(err, "write row %d", row)
			}
		}
		w.Flush()
		return errors.Wrap(w.Error(), "flush")
	})
}

// writeAtomic writes through a temp file in the target directory and
// renames it over path.
func writeAtomic(path string, write func(f *os.File) error) (err error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrap(err, "failed to create directory")
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return errors.Wrap(err, "failed to create file")
	}
	defer func() {
		if err != nil {
			tmp.Close()
			os.Remove(tmp.Name())
		}
	}()
	if err = write(tmp); err != nil {
		return err
	}
	if err = tmp.Close(); err != nil {
		return errors.Wrap(err, "close")
	}
	if err = os.Rename(tmp.Name(), path); err != nil {
		return errors.Wrap(err, "rename")
	}
	return nil
}

// writeSnapshot writes the rows as JSON objects under an export_info
// envelope.
func writeSnapshot(path string, ds *model.Dataset) error {
	rows := make([]map[string]any, ds.RowCount())
	for i := range rows {
		row := ds.Row(i)
		for k, v := range row {
			if t, ok := v.(time.Time); ok {
				row[k] = t.UTC().Format(model.TimestampLayout)
			}
		}
		rows[i] = row
	}
	doc := map[string]any{
		"export_info": map[string]any{
			"exported_at":  time.Now().UTC(),
			"record_count": ds.RowCount(),
			"columns":      ds.ColumnNames(),
			"export_type":  "dataset_snapshot",
		},
		"data": rows,
	}
	return writeAtomic(path, func(f *os.File) error {
		enc := json.NewEncoder(f)
		enc.SetIndent("", "  ")
		return errors.Wrap(enc.Encode(doc), "failed to encode JSON")
	})
}

// ------------------- SQLite -------------------

// SQLiteLoader replaces a table in the run database with the dataset.
type SQLiteLoader struct {
	Store *store.Store
	Table string
}

func (l *SQLiteLoader) Load(ctx context.Context, ds *model.Dataset) (int, error) {
	n, err := l.Store.ReplaceTable(ctx, l.Table, ds)
	if err != nil {
		return 0, &LoadError{Sink: "sqlite:" + l.Table, Err: err}
	}
	return n, nil
}

// ------------------- Multi -------------------

// MultiLoader loads into every loader in order and stops at the first
// failure. The count is the one reported by the first loader.
type MultiLoader []Loader

func (m MultiLoader) Load(ctx context.Context, ds *model.Dataset) (int, error) {
	written := 0
	for i, l := range m {
		n, err := l.Load(ctx, ds)
		if err != nil {
			return 0, err
		}
		if i == 0 {
			written = n
		}
	}
	return written, nil
}

// sinkName describes a loader for logs and metadata.
func sinkName(l Loader) string {
	switch x := l.(type) {
	case *CSVLoader:
		return x.Path
	case *SQLiteLoader:
		return "sqlite:" + x.Table
	case MultiLoader:
		names := make([]string, len(x))
		for i, inner := range x {
			names[i] = sinkName(inner)
		}
		return strings.Join(names, ",")
	}
	return "loader"
}
