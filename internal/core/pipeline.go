package core

// pipeline.go runs one import session through its ordered steps.
//
// The order is fixed: authorize, resolve configuration, validate structure,
// stage (create, load, project), unique identifier check, rule categories
// not_null/format/valid, then either stop (check) or continue through the
// findings gate, principal check, duplicate or missing identifier check,
// metadata column and merge (import). The first hard stop ends the session.
// The cleaner runs on every exit path.

import (
	"context"
	"fmt"
	"time"

	"github.com/JonMunkholm/geoimport/internal/logging"
)

// ImportRequest is what a caller submits for one session.
type ImportRequest struct {
	Key       Key
	Action    Action
	FilePath  string
	Separator string
	Encoding  string
	Principal string
}

// steps is the set of operations the pipeline sequences. Service
// implements it on top of the real components; tests substitute fakes.
type steps interface {
	authorize(ctx context.Context, principal string, key Key, action Action) error
	resolve(ctx context.Context, key Key) (ImportConfiguration, error)
	readProbe(s *Session) (header, probe [][]string, err error)
	createStaging(ctx context.Context, s *Session) error
	loadSource(ctx context.Context, s *Session) (int64, error)
	project(ctx context.Context, s *Session) (int64, error)
	checkUnique(ctx context.Context, s *Session) error
	validate(ctx context.Context, s *Session, category Category) ([]Finding, error)
	checkDuplicates(ctx context.Context, s *Session) (DuplicateReport, error)
	checkMissing(ctx context.Context, s *Session) (MissingIDReport, error)
	addMetadata(ctx context.Context, s *Session) (bool, error)
	merge(ctx context.Context, s *Session, login string) (MergeResult, error)
	clean(ctx context.Context, s *Session) error
}

// runPipeline executes one session. The returned report is never nil and
// describes how far the session got, even on a hard stop.
func runPipeline(ctx context.Context, st steps, req ImportRequest, namespace string) (rep *Report, err error) {
	rep = &Report{Action: req.Action}
	s := &Session{
		Key:       req.Key,
		Action:    req.Action,
		FilePath:  req.FilePath,
		Separator: req.Separator,
		Encoding:  req.Encoding,
		Principal: req.Principal,
	}

	fields := []any{
		"destination", req.Key.String(),
		"action", string(req.Action),
		"namespace", namespace,
		"principal", displayPrincipal(req.Principal),
	}
	if ip := IPAddressFromContext(ctx); ip != "" {
		fields = append(fields, "ip", ip, "user_agent", UserAgentFromContext(ctx))
	}
	log := logging.WithFields(ctx, fields...)

	defer func() {
		if cerr := st.clean(ctx, s); cerr != nil {
			log.Error("session cleanup failed", "error", cerr)
		}
		if err != nil {
			rep.Message = FormatUserError(err)
			log.Warn("import stopped", "kind", KindOf(err).String(), "error", err)
		}
	}()

	if err := st.authorize(ctx, req.Principal, req.Key, req.Action); err != nil {
		return rep, err
	}

	cfg, err := st.resolve(ctx, req.Key)
	if err != nil {
		return rep, err
	}
	s.Config = cfg

	header, probe, err := st.readProbe(s)
	if err != nil {
		return rep, err
	}
	structure, err := ValidateStructure(cfg, header, probe)
	if err != nil {
		return rep, err
	}
	s.Structure = structure
	rep.Structure = &structure

	s.Staging = Staging{Schema: cfg.TargetSchema, Namespace: namespace}
	if err := st.createStaging(ctx, s); err != nil {
		return rep, err
	}
	loaded, err := st.loadSource(ctx, s)
	if err != nil {
		return rep, err
	}
	projected, err := st.project(ctx, s)
	if err != nil {
		return rep, err
	}
	log.Info("rows staged", "loaded", loaded, "projected", projected)

	if err := st.checkUnique(ctx, s); err != nil {
		return rep, err
	}

	for _, cat := range Categories {
		findings, err := st.validate(ctx, s, cat)
		if err != nil {
			return rep, err
		}
		if len(findings) > 0 {
			if rep.Findings == nil {
				rep.Findings = make(map[Category][]Finding)
			}
			rep.Findings[cat] = findings
		}
	}
	rep.Checked = true

	if req.Action == ActionCheck {
		if n := rep.FindingCount(); n > 0 {
			rep.Message = fmt.Sprintf("%d validation rules failed", n)
		} else {
			rep.Message = "the data satisfies every validation rule"
		}
		return rep, nil
	}

	if n := rep.FindingCount(); n > 0 {
		return rep, newImportError(KindNonConformantData, nil, "%d validation rules failed", n)
	}

	if req.Principal == "" {
		return rep, newImportError(KindPrincipalUnresolved, nil, "the import requires an authenticated user")
	}

	switch cfg.ImportType {
	case ImportUpdate:
		missing, err := st.checkMissing(ctx, s)
		rep.Missing = &missing
		if err != nil {
			return rep, err
		}
	default:
		dups, err := st.checkDuplicates(ctx, s)
		rep.Duplicates = &dups
		if err != nil {
			return rep, err
		}
	}

	existed, err := st.addMetadata(ctx, s)
	if err != nil {
		return rep, err
	}
	if !existed {
		log.Info("metadata column added to destination")
	}

	result, err := st.merge(ctx, s, req.Principal)
	if err != nil {
		return rep, err
	}
	rep.Merge = &result
	rep.Imported = true
	rep.Token = s.Staging.TargetName()

	if result.Empty {
		rep.Message = "the import completed but no rows were written"
		log.Warn("merge affected no rows")
	} else {
		rep.Message = fmt.Sprintf("%d rows imported", result.Count)
		log.Info("import completed", "rows", result.Count)
	}
	return rep, nil
}

// stageTimer returns a func that records the stage duration when called.
func (s *Service) stageTimer(stage string) func() {
	start := time.Now()
	return func() { s.metrics.observeStage(stage, start) }
}
