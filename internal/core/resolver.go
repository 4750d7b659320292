package core

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/geoimport/internal/logging"
)

// ConfigStore resolves the import configuration of a destination table.
// A missing configuration is an *ImportError of KindConfigurationNotFound.
type ConfigStore interface {
	Resolve(ctx context.Context, key Key) (ImportConfiguration, error)
}

// PostgresConfigStore reads import_csv_destination_tables in the engine
// schema.
type PostgresConfigStore struct {
	db     DBTX
	schema string
}

// NewPostgresConfigStore returns a store reading from schema. An empty
// schema selects DefaultEngineSchema.
func NewPostgresConfigStore(db DBTX, schema string) *PostgresConfigStore {
	if schema == "" {
		schema = DefaultEngineSchema
	}
	return &PostgresConfigStore{db: db, schema: schema}
}

func (p *PostgresConfigStore) table() string {
	return pgx.Identifier{p.schema, "import_csv_destination_tables"}.Sanitize()
}

// Resolve implements ConfigStore. A store failure is reported like a
// missing row; the cause stays in the error chain for logs.
func (p *PostgresConfigStore) Resolve(ctx context.Context, key Key) (ImportConfiguration, error) {
	sql := `SELECT table_schema, table_name,
		coalesce(target_fields, '{}')::text[],
		geometry_source, unique_id_field,
		coalesce(import_type, ''),
		coalesce(duplicate_check_fields, '{}')::text[]
		FROM ` + p.table() + `
		WHERE lizmap_repository = $1
		AND lizmap_project = $2
		AND table_schema = $3
		AND table_name = $4
		LIMIT 1`

	var (
		cfg              ImportConfiguration
		geom, importType string
	)
	err := p.db.QueryRow(ctx, sql, key.Repository, key.Project, key.Schema, key.Table).Scan(
		&cfg.TargetSchema, &cfg.TargetTable, &cfg.RequiredFields,
		&geom, &cfg.UniqueIDField, &importType, &cfg.DuplicateCheckFields,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return ImportConfiguration{}, newImportError(KindConfigurationNotFound, nil,
			"no import configuration for %s.%s in %s/%s", key.Schema, key.Table, key.Repository, key.Project)
	}
	if err != nil {
		logging.FromContext(ctx).Error("configuration lookup failed", "destination", key.String(), "error", err)
		return ImportConfiguration{}, newImportError(KindConfigurationNotFound, errors.Wrap(err, "query configuration"),
			"no import configuration for %s.%s in %s/%s", key.Schema, key.Table, key.Repository, key.Project)
	}

	if cfg.GeometrySource, err = ParseGeometrySource(geom); err != nil {
		return ImportConfiguration{}, newImportError(KindConfigurationNotFound, err,
			"the import configuration of %s.%s is invalid", key.Schema, key.Table)
	}
	if cfg.ImportType, err = ParseImportType(importType); err != nil {
		return ImportConfiguration{}, newImportError(KindConfigurationNotFound, err,
			"the import configuration of %s.%s is invalid", key.Schema, key.Table)
	}
	if err := cfg.Validate(); err != nil {
		return ImportConfiguration{}, newImportError(KindConfigurationNotFound, err,
			"the import configuration of %s.%s is invalid", key.Schema, key.Table)
	}
	return cfg, nil
}

// EngineInstalled reports whether the engine schema holds the destination
// configuration table.
func (p *PostgresConfigStore) EngineInstalled(ctx context.Context) (bool, error) {
	const sql = `SELECT EXISTS (
		SELECT 1 FROM pg_tables
		WHERE schemaname = $1 AND tablename = 'import_csv_destination_tables'
	)`
	var ok bool
	if err := p.db.QueryRow(ctx, sql, p.schema).Scan(&ok); err != nil {
		return false, errors.Wrap(err, "check engine installation")
	}
	return ok, nil
}
