package core

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
)

// DefaultEngineSchema is where the import module installs its tables and
// functions.
const DefaultEngineSchema = "lizmap_import_module"

// MetadataColumn is the provenance column the engine adds to destinations.
const MetadataColumn = "import_metadata"

// RulesEngine is the set of database-side capabilities the pipeline
// consumes. Implementations own the validation rules, duplicate detection
// and the merge itself.
type RulesEngine interface {
	// CheckValidity returns the rules of one category that at least one
	// staged row violates.
	CheckValidity(ctx context.Context, s *Session, category Category) ([]Finding, error)

	// CheckDuplicates reports staged rows that already exist in the
	// destination according to the configured duplicate check fields.
	CheckDuplicates(ctx context.Context, s *Session) (DuplicateReport, error)

	// CheckMissingIDs reports staged identifiers absent from the destination.
	CheckMissingIDs(ctx context.Context, s *Session) (MissingIDReport, error)

	// HasMetadataColumn reports whether the destination already carries the
	// provenance column.
	HasMetadataColumn(ctx context.Context, schema, table string) (bool, error)

	// AddMetadataColumn ensures the provenance column and the uniqueness
	// constraint exist. It returns false when the engine refused.
	AddMetadataColumn(ctx context.Context, schema, table string) (bool, error)

	// ImportIntoTarget merges the staged rows through q, stamping them with
	// login and the session token, and returns the number of affected rows.
	ImportIntoTarget(ctx context.Context, q DBTX, s *Session, login string) (int64, error)

	// DeleteImportedData removes destination rows carrying token.
	DeleteImportedData(ctx context.Context, schema, table, token string) (int64, error)
}

// PostgresRulesEngine calls the import module functions installed in the
// engine schema.
type PostgresRulesEngine struct {
	db     DBTX
	schema string
}

// NewPostgresRulesEngine returns an engine bound to the functions in
// schema. An empty schema selects DefaultEngineSchema.
func NewPostgresRulesEngine(db DBTX, schema string) *PostgresRulesEngine {
	if schema == "" {
		schema = DefaultEngineSchema
	}
	return &PostgresRulesEngine{db: db, schema: schema}
}

func (e *PostgresRulesEngine) fn(name string) string {
	return pgx.Identifier{e.schema, name}.Sanitize()
}

func (e *PostgresRulesEngine) CheckValidity(ctx context.Context, s *Session, category Category) ([]Finding, error) {
	sql := `SELECT label, coalesce(description, ''), nb_lines, coalesce(ids::text[], '{}')
		FROM ` + e.fn("import_csv_check_validity") + `($1, $2, $3, $4, $5)
		WHERE nb_lines > 0`

	rows, err := e.db.Query(ctx, sql,
		s.Staging.TargetName(), s.Config.TargetSchema, s.Config.TargetTable,
		string(category), s.Config.UniqueIDField,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "check validity %s", category)
	}

	findings, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (Finding, error) {
		f := Finding{Category: category}
		err := row.Scan(&f.Label, &f.Description, &f.RowCount, &f.IDs)
		return f, err
	})
	if err != nil {
		return nil, errors.Wrapf(err, "read validity %s", category)
	}
	return findings, nil
}

func (e *PostgresRulesEngine) CheckDuplicates(ctx context.Context, s *Session) (DuplicateReport, error) {
	sql := `SELECT coalesce(duplicate_count, 0), coalesce(duplicate_ids::text[], '{}')
		FROM ` + e.fn("import_csv_check_duplicates") + `($1, $2, $3, $4::text[], $5, $6)`

	var r DuplicateReport
	err := e.db.QueryRow(ctx, sql,
		s.Staging.TargetName(), s.Config.TargetSchema, s.Config.TargetTable,
		s.Config.RequiredFields, string(s.Config.GeometrySource), s.Config.UniqueIDField,
	).Scan(&r.Count, &r.IDs)
	if err != nil {
		return DuplicateReport{}, errors.Wrap(err, "check duplicates")
	}
	return r, nil
}

// CheckMissingIDs compares the staged identifiers with the destination as
// text, so integer and uuid identifier columns both work.
func (e *PostgresRulesEngine) CheckMissingIDs(ctx context.Context, s *Session) (MissingIDReport, error) {
	uid := pgx.Identifier{s.Config.UniqueIDField}.Sanitize()
	dest := pgx.Identifier{s.Config.TargetSchema, s.Config.TargetTable}.Sanitize()

	sql := `SELECT count(DISTINCT t.` + uid + `), coalesce(array_agg(DISTINCT t.` + uid + `), '{}')
		FROM ` + s.Staging.Target() + ` t
		WHERE t.` + uid + ` IS NOT NULL
		AND NOT EXISTS (SELECT 1 FROM ` + dest + ` d WHERE d.` + uid + `::text = t.` + uid + `)`

	var r MissingIDReport
	if err := e.db.QueryRow(ctx, sql).Scan(&r.Count, &r.IDs); err != nil {
		return MissingIDReport{}, errors.Wrap(err, "check missing ids")
	}
	return r, nil
}

func (e *PostgresRulesEngine) HasMetadataColumn(ctx context.Context, schema, table string) (bool, error) {
	const sql = `SELECT EXISTS (
		SELECT 1 FROM information_schema.columns
		WHERE table_schema = $1 AND table_name = $2 AND column_name = $3
	)`
	var exists bool
	if err := e.db.QueryRow(ctx, sql, schema, table, MetadataColumn).Scan(&exists); err != nil {
		return false, errors.Wrap(err, "look up metadata column")
	}
	return exists, nil
}

func (e *PostgresRulesEngine) AddMetadataColumn(ctx context.Context, schema, table string) (bool, error) {
	sql := `SELECT coalesce(` + e.fn("import_csv_add_metadata_column") + `($1, $2), false)`
	var ok bool
	if err := e.db.QueryRow(ctx, sql, schema, table).Scan(&ok); err != nil {
		return false, errors.Wrap(err, "add metadata column")
	}
	return ok, nil
}

func (e *PostgresRulesEngine) ImportIntoTarget(ctx context.Context, q DBTX, s *Session, login string) (int64, error) {
	sql := `SELECT count(*) FROM ` + e.fn("import_csv_data_to_target_table") + `($1, $2, $3, $4::text[], $5, $6)`
	var n int64
	err := q.QueryRow(ctx, sql,
		s.Staging.TargetName(), s.Config.TargetSchema, s.Config.TargetTable,
		s.Config.RequiredFields, string(s.Config.GeometrySource), login,
	).Scan(&n)
	if err != nil {
		return 0, errors.Wrap(err, "import into target")
	}
	return n, nil
}

func (e *PostgresRulesEngine) DeleteImportedData(ctx context.Context, schema, table, token string) (int64, error) {
	sql := `SELECT count(*) FROM ` + e.fn("import_csv_delete_imported_data") + `($1, $2, $3)`
	var n int64
	if err := e.db.QueryRow(ctx, sql, token, schema, table).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "delete imported data")
	}
	return n, nil
}
