package core

import (
	"context"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
)

// Checker runs the data quality checks against the target staging relation.
type Checker struct {
	db     DBTX
	engine RulesEngine
}

// NewChecker returns a Checker using db for its own queries and engine for
// rule evaluation.
func NewChecker(db DBTX, engine RulesEngine) *Checker {
	return &Checker{db: db, engine: engine}
}

func uniqueCheckSQL(st Staging, field string) string {
	col := pgx.Identifier{field}.Sanitize()
	return "SELECT count(" + col + ") = count(DISTINCT " + col + ") FROM " + st.Target()
}

// CheckUniqueIDFieldValues fails with KindNonUniqueIdentifiers when two
// staged rows share a unique identifier value. NULL values are ignored.
func (c *Checker) CheckUniqueIDFieldValues(ctx context.Context, s *Session) error {
	var unique bool
	if err := c.db.QueryRow(ctx, uniqueCheckSQL(s.Staging, s.Config.UniqueIDField)).Scan(&unique); err != nil {
		return newImportError(KindRuleEngineFailed, errors.Wrap(err, "unique id check"),
			"the unique identifier values could not be checked")
	}
	if !unique {
		return fieldsError(KindNonUniqueIdentifiers, []string{s.Config.UniqueIDField},
			"the column %q contains duplicate values", s.Config.UniqueIDField)
	}
	return nil
}

// ValidateCSVData returns the failing rules of one category. An engine
// failure is an error, never an empty list.
func (c *Checker) ValidateCSVData(ctx context.Context, s *Session, category Category) ([]Finding, error) {
	findings, err := c.engine.CheckValidity(ctx, s, category)
	if err != nil {
		return nil, newImportError(KindRuleEngineFailed, err, "the %s rules could not be evaluated", category)
	}
	return findings, nil
}

// CheckDuplicatedRecords is run for insert imports. Any staged row already
// present in the destination is a hard stop.
func (c *Checker) CheckDuplicatedRecords(ctx context.Context, s *Session) (DuplicateReport, error) {
	r, err := c.engine.CheckDuplicates(ctx, s)
	if err != nil {
		return DuplicateReport{}, newImportError(KindRuleEngineFailed, err, "duplicates could not be checked")
	}
	if r.Count > 0 {
		return r, fieldsError(KindDuplicateRecordsFound, r.IDs,
			"%d rows already exist in the destination: %s", r.Count, strings.Join(r.IDs, ", "))
	}
	return r, nil
}

// CheckContainsGivenIDs is run for update imports. Every staged identifier
// must already exist in the destination.
func (c *Checker) CheckContainsGivenIDs(ctx context.Context, s *Session) (MissingIDReport, error) {
	r, err := c.engine.CheckMissingIDs(ctx, s)
	if err != nil {
		return MissingIDReport{}, newImportError(KindRuleEngineFailed, err, "identifiers could not be checked")
	}
	if r.Count > 0 {
		return r, fieldsError(KindMissingIdentifiersFound, r.IDs,
			"%d identifiers do not exist in the destination: %s", r.Count, strings.Join(r.IDs, ", "))
	}
	return r, nil
}
