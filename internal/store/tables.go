package store

import (
	"context"
	"regexp"
	"strings"
	"time"

	"go-etl-pipeline/internal/errors"
	"go-etl-pipeline/internal/logger"
	"go-etl-pipeline/internal/model"
)

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// reservedTables cannot be used as sink tables.
var reservedTables = map[string]bool{"runs": true, "run_errors": true, "run_reports": true}

// ValidTableName reports whether name can be used as a sink table.
func ValidTableName(name string) bool {
	return tableName.MatchString(name) && !reservedTables[strings.ToLower(name)] &&
		!strings.HasPrefix(strings.ToLower(name), "sqlite_")
}

func sqlType(t model.LogicalType) string {
	switch t {
	case model.TypeInteger, model.TypeBoolean:
		return "INTEGER"
	case model.TypeFloat:
		return "REAL"
	}
	return "TEXT"
}

func quoteIdent(name string) string {
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

func sqlValue(v any) any {
	switch x := v.(type) {
	case bool:
		if x {
			return int64(1)
		}
		return int64(0)
	case time.Time:
		return x.UTC().Format(model.TimestampLayout)
	}
	return v
}

// ReplaceTable drops and recreates table from the dataset schema and
// inserts every row, all in one transaction. It returns the rows written.
func (s *Store) ReplaceTable(ctx context.Context, table string, ds *model.Dataset) (n int, err error) {
	if !ValidTableName(table) {
		return 0, errors.Wrapf(errors.ErrInvalidRequest, "invalid table name %q", table)
	}
	cols := ds.Columns()
	if len(cols) == 0 {
		return 0, errors.Wrapf(errors.ErrInvalidRequest, "dataset for table %s has no columns", table)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, errors.Wrap(err, "begin transaction")
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	if _, err = tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+quoteIdent(table)); err != nil {
		return 0, errors.Wrapf(err, "drop table %s", table)
	}
	defs := make([]string, len(cols))
	names := make([]string, len(cols))
	marks := make([]string, len(cols))
	for i, c := range cols {
		names[i] = quoteIdent(c.Name)
		defs[i] = names[i] + " " + sqlType(c.Type)
		marks[i] = "?"
	}
	if _, err = tx.ExecContext(ctx, `CREATE TABLE `+quoteIdent(table)+` (`+strings.Join(defs, ", ")+`)`); err != nil {
		return 0, errors.Wrapf(err, "create table %s", table)
	}

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO `+quoteIdent(table)+` (`+strings.Join(names, ", ")+`) VALUES (`+strings.Join(marks, ", ")+`)`)
	if err != nil {
		return 0, errors.Wrapf(err, "prepare insert into %s", table)
	}
	defer stmt.Close()

	args := make([]any, len(cols))
	for row := 0; row < ds.RowCount(); row++ {
		for i, c := range cols {
			args[i] = sqlValue(c.Values[row])
		}
		if _, err = stmt.ExecContext(ctx, args...); err != nil {
			return 0, errors.Wrapf(err, "insert row %d into %s", row, table)
		}
	}
	if err = tx.Commit(); err != nil {
		return 0, errors.Wrapf(err, "commit table %s", table)
	}
	s.log.Debugw("Table replaced", "table", table, logger.FieldRecords, ds.RowCount())
	return ds.RowCount(), nil
}

// CountRows returns the number of rows in a sink table.
func (s *Store) CountRows(ctx context.Context, table string) (int, error) {
	if !ValidTableName(table) {
		return 0, errors.Wrapf(errors.ErrInvalidRequest, "invalid table name %q", table)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM `+quoteIdent(table)).Scan(&n); err != nil {
		return 0, errors.Wrapf(err, "count rows in %s", table)
	}
	return n, nil
}
