// Package core provides the business logic for CSV imports into destination tables.
//
// This package holds all domain logic independent of any transport. It is
// used by the HTTP handlers in internal/web and by the csvimport CLI without
// modification.
//
// # Architecture
//
// An import runs as one session through an ordered pipeline:
//
//  1. Resolve the [ImportConfiguration] for (repository, project, schema, table)
//     from a [ConfigStore].
//  2. Read the header and the first data row and run [ValidateStructure].
//  3. Create the staging pair (<namespace>_source, <namespace>_target) in the
//     target schema, load every row into the source relation inside one
//     transaction, and project the corresponding fields into the target
//     relation with a single INSERT ... SELECT.
//  4. Run the integrity checks: unique identifier values, then the rules
//     engine categories not_null, format and valid.
//  5. For action "check" the session stops here and reports its findings.
//  6. For action "import" any finding stops the session. Otherwise the
//     duplicate check (insert) or missing identifier check (update) runs,
//     the import_metadata column is ensured on the destination, and the
//     staged rows are merged by the rules engine with the principal's login
//     and the session namespace as provenance token.
//  7. The session cleaner removes the uploaded file and drops the staging
//     pair on every exit path.
//
// # Rules Engine
//
// Validation rules, duplicate detection and the merge itself are owned by
// PL/pgSQL functions installed in the engine schema (lizmap_import_module by
// default). [RulesEngine] abstracts them; [PostgresRulesEngine] calls them.
//
// # Errors
//
// Every hard stop is an [*ImportError] carrying a [Kind]. [MapError] turns any
// error into a [UserMessage] with a support code; raw database messages are
// only logged.
//
// # Background Work
//
// [Service.StartStagingJanitor] sweeps staging relations and uploaded files
// left behind by sessions that never reached their cleaner (process crash,
// killed container).
package core
