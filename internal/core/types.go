package core

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is the query surface shared by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// DB is a DBTX that can also open transactions.
type DB interface {
	DBTX
	Begin(ctx context.Context) (pgx.Tx, error)
}

// GeometrySource tells how the geometry of a row is supplied in the CSV.
type GeometrySource string

const (
	GeometryWKT    GeometrySource = "wkt"
	GeometryLonLat GeometrySource = "lonlat"
)

// Geometry column names expected in the CSV header.
const (
	FieldWKT       = "wkt"
	FieldLongitude = "longitude"
	FieldLatitude  = "latitude"
)

// ParseGeometrySource accepts "wkt" or "lonlat" in any case.
func ParseGeometrySource(s string) (GeometrySource, error) {
	switch GeometrySource(strings.ToLower(strings.TrimSpace(s))) {
	case GeometryWKT:
		return GeometryWKT, nil
	case GeometryLonLat:
		return GeometryLonLat, nil
	}
	return "", fmt.Errorf("unknown geometry source %q", s)
}

// Fields returns the header fields the geometry source requires.
func (g GeometrySource) Fields() []string {
	switch g {
	case GeometryWKT:
		return []string{FieldWKT}
	case GeometryLonLat:
		return []string{FieldLongitude, FieldLatitude}
	}
	return nil
}

// ImportType selects between appending new rows and updating existing ones.
type ImportType string

const (
	ImportInsert ImportType = "insert"
	ImportUpdate ImportType = "update"
)

// ParseImportType maps an empty value to ImportInsert.
func ParseImportType(s string) (ImportType, error) {
	switch ImportType(strings.ToLower(strings.TrimSpace(s))) {
	case "", ImportInsert:
		return ImportInsert, nil
	case ImportUpdate:
		return ImportUpdate, nil
	}
	return "", fmt.Errorf("unknown import type %q", s)
}

// Action is what the caller asked the session to do.
type Action string

const (
	ActionCheck  Action = "check"
	ActionImport Action = "import"
)

// ParseAction maps an empty value to ActionCheck.
func ParseAction(s string) (Action, error) {
	switch Action(strings.ToLower(strings.TrimSpace(s))) {
	case "", ActionCheck:
		return ActionCheck, nil
	case ActionImport:
		return ActionImport, nil
	}
	return "", fmt.Errorf("unknown action %q", s)
}

// Key identifies a destination table configuration.
type Key struct {
	Repository string `json:"repository" yaml:"repository"`
	Project    string `json:"project" yaml:"project"`
	Schema     string `json:"schema" yaml:"schema"`
	Table      string `json:"table" yaml:"table"`
}

func (k Key) String() string {
	return k.Repository + "/" + k.Project + ":" + k.Schema + "." + k.Table
}

// ImportConfiguration describes how CSV files are imported into one
// destination table. It is loaded once per session and never modified.
type ImportConfiguration struct {
	TargetSchema         string         `json:"target_schema"`
	TargetTable          string         `json:"target_table"`
	RequiredFields       []string       `json:"required_fields"`
	GeometrySource       GeometrySource `json:"geometry_source"`
	UniqueIDField        string         `json:"unique_id_field"`
	ImportType           ImportType     `json:"import_type"`
	DuplicateCheckFields []string       `json:"duplicate_check_fields,omitempty"`
}

// Validate checks that the configuration is usable by the pipeline.
func (c ImportConfiguration) Validate() error {
	var errs []string
	if c.TargetSchema == "" || c.TargetTable == "" {
		errs = append(errs, "target schema and table are required")
	}
	if c.UniqueIDField == "" {
		errs = append(errs, "unique id field is required")
	}
	if c.GeometrySource != GeometryWKT && c.GeometrySource != GeometryLonLat {
		errs = append(errs, fmt.Sprintf("geometry source %q must be wkt or lonlat", c.GeometrySource))
	}
	if c.ImportType != ImportInsert && c.ImportType != ImportUpdate {
		errs = append(errs, fmt.Sprintf("import type %q must be insert or update", c.ImportType))
	}
	for _, f := range c.RequiredFields {
		if strings.TrimSpace(f) == "" {
			errs = append(errs, "required fields must not contain empty names")
			break
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("invalid import configuration: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Clone returns a deep copy so callers cannot alias the slices.
func (c ImportConfiguration) Clone() ImportConfiguration {
	c.RequiredFields = slices.Clone(c.RequiredFields)
	c.DuplicateCheckFields = slices.Clone(c.DuplicateCheckFields)
	return c
}

// Category is a class of validation rule evaluated by the rules engine.
type Category string

const (
	CategoryNotNull Category = "not_null"
	CategoryFormat  Category = "format"
	CategoryValid   Category = "valid"
)

// Categories lists the rule categories in evaluation order.
var Categories = []Category{CategoryNotNull, CategoryFormat, CategoryValid}

// Finding is one failing validation rule.
type Finding struct {
	Category    Category `json:"category"`
	Label       string   `json:"label"`
	Description string   `json:"description,omitempty"`
	RowCount    int64    `json:"nb_lines"`
	IDs         []string `json:"ids"`
}

// DisplayLabel prefers the description and falls back to the label.
func (f Finding) DisplayLabel() string {
	if f.Description != "" {
		return f.Description
	}
	return f.Label
}

// DuplicateReport lists staged rows that already exist in the destination.
type DuplicateReport struct {
	Count int64    `json:"duplicate_count"`
	IDs   []string `json:"duplicate_ids"`
}

// MissingIDReport lists staged identifiers absent from the destination.
type MissingIDReport struct {
	Count int64    `json:"missing_count"`
	IDs   []string `json:"missing_ids"`
}

// MergeResult is the outcome of merging staged rows into the destination.
// Empty is true when the engine reported zero affected rows.
type MergeResult struct {
	Count int64 `json:"count"`
	Empty bool  `json:"empty"`
}

// Report is everything a session tells its caller.
type Report struct {
	Action     Action                 `json:"action"`
	Checked    bool                   `json:"status_check"`
	Imported   bool                   `json:"status_import"`
	Message    string                 `json:"message"`
	Findings   map[Category][]Finding `json:"data,omitempty"`
	Duplicates *DuplicateReport       `json:"duplicates,omitempty"`
	Missing    *MissingIDReport       `json:"missing,omitempty"`
	Merge      *MergeResult           `json:"merge,omitempty"`
	Token      string                 `json:"token,omitempty"`
	Structure  *Structure             `json:"structure,omitempty"`
}

// FindingCount returns the number of failing rules across all categories.
func (r *Report) FindingCount() int {
	n := 0
	for _, fs := range r.Findings {
		n += len(fs)
	}
	return n
}
