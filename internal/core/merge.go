package core

import (
	"context"
	"strings"

	"github.com/go-faster/errors"

	"github.com/JonMunkholm/geoimport/internal/logging"
)

// Merger writes staged rows into the destination table.
//
// Every row a Merger writes is stamped with the session's provenance token,
// the name of its target staging relation. When a step after the first
// write fails, the Merger deletes the rows carrying that token, so a failed
// import leaves the destination as it found it. The same token is what a
// later rollback uses to undo a successful import.
type Merger struct {
	db     DB
	engine RulesEngine
}

// NewMerger returns a Merger that opens its transactions on db.
func NewMerger(db DB, engine RulesEngine) *Merger {
	return &Merger{db: db, engine: engine}
}

// AddMetadataColumn ensures the destination carries the provenance column
// and the uniqueness constraint over the duplicate check fields. It
// reports whether the column existed before the call. On failure the
// session's provenance token is swept from the destination.
func (m *Merger) AddMetadataColumn(ctx context.Context, s *Session) (bool, error) {
	schema, table := s.Config.TargetSchema, s.Config.TargetTable

	existed, err := m.engine.HasMetadataColumn(ctx, schema, table)
	if err != nil {
		return false, m.compensate(ctx, s, newImportError(KindMetadataColumnFailed, err,
			"the metadata column of %s.%s could not be inspected", schema, table))
	}

	ok, err := m.engine.AddMetadataColumn(ctx, schema, table)
	if err != nil || !ok {
		return existed, m.compensate(ctx, s, newImportError(KindMetadataColumnFailed, err,
			"the metadata column or the unique constraint on (%s) could not be added to %s.%s",
			strings.Join(s.Config.DuplicateCheckFields, ", "), schema, table))
	}
	return existed, nil
}

// ImportIntoTarget merges the staged rows inside one transaction. A
// failure rolls the transaction back and sweeps the provenance token.
// Zero affected rows is a valid, empty result.
func (m *Merger) ImportIntoTarget(ctx context.Context, s *Session, login string) (MergeResult, error) {
	fail := func(cause error) (MergeResult, error) {
		return MergeResult{}, m.compensate(ctx, s, newImportError(KindMergeFailed, cause,
			"the rows could not be imported into %s.%s", s.Config.TargetSchema, s.Config.TargetTable))
	}

	tx, err := m.db.Begin(ctx)
	if err != nil {
		return fail(errors.Wrap(err, "begin merge"))
	}
	defer tx.Rollback(ctx)

	n, err := m.engine.ImportIntoTarget(ctx, tx, s, login)
	if err != nil {
		return fail(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fail(errors.Wrap(err, "commit merge"))
	}

	return MergeResult{Count: n, Empty: n == 0}, nil
}

// DeleteImportedData removes destination rows stamped with the session's
// provenance token.
func (m *Merger) DeleteImportedData(ctx context.Context, s *Session) (int64, error) {
	return m.DeleteByToken(ctx, s.Config.TargetSchema, s.Config.TargetTable, s.Staging.TargetName())
}

// DeleteByToken removes destination rows stamped with token.
func (m *Merger) DeleteByToken(ctx context.Context, schema, table, token string) (int64, error) {
	n, err := m.engine.DeleteImportedData(ctx, schema, table, token)
	if err != nil {
		return 0, newImportError(KindRollbackFailed, err, "rows imported with token %s could not be removed", token)
	}
	return n, nil
}

// compensate runs DeleteImportedData after a failed merge step and returns
// cause. A failing compensation is logged, not returned.
func (m *Merger) compensate(ctx context.Context, s *Session, cause error) error {
	log := logging.WithFields(ctx,
		"namespace", s.Staging.Namespace,
		"table", s.Config.TargetSchema+"."+s.Config.TargetTable,
	)
	n, err := m.DeleteImportedData(context.WithoutCancel(ctx), s)
	if err != nil {
		log.Error("compensating delete failed", "error", err)
		return cause
	}
	if n > 0 {
		log.Warn("compensating delete removed rows", "rows", n)
	}
	return cause
}
