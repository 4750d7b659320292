package core

// staging.go manages the scratch relation pair of a session.
//
// The source relation mirrors the CSV header (one text column per field).
// The target relation holds only the fields the destination knows about.
// Both carry a serial temporary_id so the rules engine can report row
// positions. Loading happens in one transaction: a single bad row leaves
// nothing behind.

import (
	"context"
	"iter"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// DefaultLoadBatchSize is the number of row inserts queued per round trip.
const DefaultLoadBatchSize = 1000

// stagingKeyColumn numbers staged rows in file order.
const stagingKeyColumn = "temporary_id"

// RowSource yields the data records of a file keyed by line number. Err
// reports the read failure that ended iteration early, if any.
type RowSource interface {
	All() iter.Seq2[int, []string]
	Err() error
}

// Stager creates, fills and drops the staging relations of a session.
//
// Each session owns a pair of relations in the destination schema, named
// after its namespace. CreateStagingRelations replaces any leftover pair,
// LoadSourceRows fills the source relation from the file and
// ProjectToTarget copies the known columns across. Nothing is kept from a
// load that fails part way, whether the database refuses a row or the file
// cannot be read to its end.
//
// A Stager holds no per-session state and may be shared.
type Stager struct {
	db        DB
	batchSize int
}

// NewStager returns a Stager that sends batchSize inserts per round trip.
func NewStager(db DB, batchSize int) *Stager {
	if batchSize <= 0 {
		batchSize = DefaultLoadBatchSize
	}
	return &Stager{db: db, batchSize: batchSize}
}

func quoteColumns(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = pgx.Identifier{c}.Sanitize()
	}
	return strings.Join(quoted, ", ")
}

func createRelationSQL(rel string, cols []string) string {
	var b strings.Builder
	b.WriteString("CREATE TABLE ")
	b.WriteString(rel)
	b.WriteString(" (" + stagingKeyColumn + " serial")
	for _, c := range cols {
		b.WriteString(", ")
		b.WriteString(pgx.Identifier{c}.Sanitize())
		b.WriteString(" text")
	}
	b.WriteString(")")
	return b.String()
}

func dropStagingSQL(st Staging) string {
	return "DROP TABLE IF EXISTS " + st.Source() + ", " + st.Target()
}

func insertRowSQL(rel string, cols []string) string {
	params := make([]string, len(cols))
	for i := range cols {
		params[i] = "$" + strconv.Itoa(i+1)
	}
	return "INSERT INTO " + rel + " (" + quoteColumns(cols) + ") VALUES (" + strings.Join(params, ", ") + ")"
}

func projectionSQL(st Staging, cols []string) string {
	list := quoteColumns(cols)
	return "INSERT INTO " + st.Target() + " (" + list + ") SELECT " + list +
		" FROM " + st.Source() + " ORDER BY " + stagingKeyColumn
}

// normalizeField trims v and maps "" and the literal NULL to SQL NULL.
func normalizeField(v string) pgtype.Text {
	v = strings.TrimSpace(v)
	if v == "" || v == "NULL" {
		return pgtype.Text{}
	}
	return pgtype.Text{String: v, Valid: true}
}

// CreateStagingRelations drops any leftover pair with the same namespace and
// creates both relations.
func (m *Stager) CreateStagingRelations(ctx context.Context, s *Session) error {
	stmts := []string{
		dropStagingSQL(s.Staging),
		createRelationSQL(s.Staging.Source(), s.Structure.Header),
		createRelationSQL(s.Staging.Target(), s.TargetColumns()),
	}
	for _, sql := range stmts {
		if _, err := m.db.Exec(ctx, sql); err != nil {
			return newImportError(KindStagingCreationFailed, errors.Wrap(err, "create staging relations"),
				"scratch tables could not be created")
		}
	}
	return nil
}

// LoadSourceRows inserts every record from rows into the source relation
// inside one transaction and returns the number of rows loaded.
func (m *Stager) LoadSourceRows(ctx context.Context, s *Session, rows RowSource) (int64, error) {
	header := s.Structure.Header
	insert := insertRowSQL(s.Staging.Source(), header)

	fail := func(cause error, format string, args ...any) (int64, error) {
		return 0, newImportError(KindStagingLoadFailed, cause, format, args...)
	}

	tx, err := m.db.Begin(ctx)
	if err != nil {
		return fail(errors.Wrap(err, "begin load"), "rows could not be loaded")
	}
	defer tx.Rollback(ctx)

	batch := &pgx.Batch{}
	flush := func() error {
		if batch.Len() == 0 {
			return nil
		}
		err := tx.SendBatch(ctx, batch).Close()
		batch = &pgx.Batch{}
		return err
	}

	var loaded int64
	for line, rec := range rows.All() {
		if err := ctx.Err(); err != nil {
			return fail(err, "loading was interrupted")
		}
		if len(rec) != len(header) {
			return fail(nil, "line %d has %d columns, expected %d", line, len(rec), len(header))
		}
		args := make([]any, len(rec))
		for i, v := range rec {
			args[i] = normalizeField(v)
		}
		batch.Queue(insert, args...)
		loaded++

		if batch.Len() >= m.batchSize {
			if err := flush(); err != nil {
				return fail(errors.Wrapf(err, "insert batch ending at line %d", line), "rows could not be loaded")
			}
		}
	}
	if err := rows.Err(); err != nil {
		return fail(errors.Wrapf(err, "read source after %d rows", loaded), "the file could not be read to its end")
	}
	if err := flush(); err != nil {
		return fail(errors.Wrap(err, "insert final batch"), "rows could not be loaded")
	}

	if loaded == 0 {
		return fail(nil, "the file contains no data rows")
	}

	if err := tx.Commit(ctx); err != nil {
		return fail(errors.Wrap(err, "commit load"), "rows could not be loaded")
	}
	return loaded, nil
}

// ProjectToTarget copies the corresponding fields from the source relation
// into the target relation with one set-based statement. Zero rows is not
// an error.
func (m *Stager) ProjectToTarget(ctx context.Context, s *Session) (int64, error) {
	tag, err := m.db.Exec(ctx, projectionSQL(s.Staging, s.Structure.Corresponding))
	if err != nil {
		return 0, newImportError(KindProjectionFailed, errors.Wrap(err, "project staging rows"),
			"rows could not be formatted for the destination table")
	}
	return tag.RowsAffected(), nil
}

// DropStagingRelations drops both relations if they exist.
func (m *Stager) DropStagingRelations(ctx context.Context, st Staging) error {
	if _, err := m.db.Exec(ctx, dropStagingSQL(st)); err != nil {
		return errors.Wrapf(err, "drop staging %s", st.Namespace)
	}
	return nil
}
