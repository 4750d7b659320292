package core

import (
	"context"
	"time"

	"github.com/JonMunkholm/geoimport/internal/csvfile"
	"github.com/JonMunkholm/geoimport/internal/logging"
)

// DefaultImportTimeout bounds one session.
const DefaultImportTimeout = 10 * time.Minute

// Authorizer answers whether a principal may act on a destination.
type Authorizer interface {
	Allowed(ctx context.Context, principal string, key Key, action string) (bool, error)
}

// Authorization actions passed to Authorizer.
const (
	PermCheck    = "check"
	PermImport   = "import"
	PermRollback = "rollback"
)

// UploadSweeper removes uploaded files older than a given age.
type UploadSweeper interface {
	SweepOlderThan(age time.Duration) (int, error)
}

// Options tune a Service. Zero values select defaults.
type Options struct {
	EngineSchema  string
	Encoding      string
	LoadBatchSize int
	MaxConcurrent int
	MaxWait       time.Duration
	Timeout       time.Duration
	Metrics       *Metrics
	Files         FileRemover
	Uploads       UploadSweeper
}

// Service provides the import operations used by the web and CLI layers.
//
// RunImport drives one session through authorization, configuration
// lookup, structure validation, staging, the data checks and, for an
// import, the merge. A session owns a pair of staging relations and the
// uploaded file; both are removed when the session ends, however it ends.
//
// Sessions are admitted through an ImportLimiter, so a Service caps how
// many imports hit the database at once and how long a caller may queue.
// Each admitted session also runs under its own timeout.
//
// A Service is safe for concurrent use.
type Service struct {
	db      DB
	configs ConfigStore
	engine  RulesEngine
	authz   Authorizer

	stager  *Stager
	checker *Checker
	merger  *Merger
	cleaner *Cleaner
	limiter *ImportLimiter
	metrics *Metrics
	uploads UploadSweeper

	encoding string
	timeout  time.Duration
	now      func() time.Time
}

// NewService wires the pipeline components on db. configs resolves
// destinations; authz decides who may do what.
func NewService(db DB, configs ConfigStore, authz Authorizer, opts Options) *Service {
	engine := NewPostgresRulesEngine(db, opts.EngineSchema)
	return newService(db, configs, engine, authz, opts)
}

func newService(db DB, configs ConfigStore, engine RulesEngine, authz Authorizer, opts Options) *Service {
	if opts.Metrics == nil {
		opts.Metrics = NewMetrics(nil)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultImportTimeout
	}

	stager := NewStager(db, opts.LoadBatchSize)
	limiter := NewImportLimiter(opts.MaxConcurrent, opts.MaxWait)
	limiter.OnChange(func(active int) { opts.Metrics.ActiveSessions.Set(float64(active)) })

	return &Service{
		db:       db,
		configs:  configs,
		engine:   engine,
		authz:    authz,
		stager:   stager,
		checker:  NewChecker(db, engine),
		merger:   NewMerger(db, engine),
		cleaner:  NewCleaner(stager, opts.Files),
		limiter:  limiter,
		metrics:  opts.Metrics,
		uploads:  opts.Uploads,
		encoding: opts.Encoding,
		timeout:  opts.Timeout,
		now:      time.Now,
	}
}

// RunImport runs one session. The report is returned even when err is a
// hard stop, so callers can show findings and duplicate lists.
func (s *Service) RunImport(ctx context.Context, req ImportRequest) (*Report, error) {
	if err := s.limiter.Acquire(ctx); err != nil {
		return &Report{Action: req.Action}, err
	}
	defer s.limiter.Release()

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	if req.Encoding == "" {
		req.Encoding = s.encoding
	}

	start := time.Now()
	rep, err := runPipeline(ctx, s, req, NewNamespace(s.now()))
	s.metrics.observeSession(req.Action, err)
	s.metrics.observeStage("session", start)
	return rep, err
}

// DescribeDestination returns the configuration of a destination after
// checking the engine is installed, when the store can tell.
func (s *Service) DescribeDestination(ctx context.Context, key Key) (ImportConfiguration, error) {
	if inst, ok := s.configs.(interface {
		EngineInstalled(context.Context) (bool, error)
	}); ok {
		installed, err := inst.EngineInstalled(ctx)
		if err != nil || !installed {
			return ImportConfiguration{}, newImportError(KindEngineNotInstalled, err, "the import module is not installed")
		}
	}
	return s.configs.Resolve(ctx, key)
}

// RollbackImport removes the rows a past import stamped with token.
func (s *Service) RollbackImport(ctx context.Context, principal string, key Key, token string) (int64, error) {
	if err := s.authorizePerm(ctx, principal, key, PermRollback); err != nil {
		return 0, err
	}
	cfg, err := s.configs.Resolve(ctx, key)
	if err != nil {
		return 0, err
	}
	if m := stagingPattern.FindStringSubmatch(token); m == nil || m[2] != "target" {
		return 0, newImportError(KindInvalidRequest, nil, "%q is not an import token", token)
	}

	n, err := s.merger.DeleteByToken(ctx, cfg.TargetSchema, cfg.TargetTable, token)
	if err != nil {
		return 0, err
	}
	logging.WithFields(ctx, "destination", key.String(), "token", token).
		Info("import rolled back", "rows", n, "principal", principal)
	return n, nil
}

// LimiterStatus reports the session limiter state.
func (s *Service) LimiterStatus() ImportLimiterStatus {
	return s.limiter.Status()
}

// WaitForImports blocks until running sessions finish or ctx is done.
func (s *Service) WaitForImports(ctx context.Context) error {
	return s.limiter.WaitForDrain(ctx)
}

// Ping checks the database connection.
func (s *Service) Ping(ctx context.Context) error {
	var one int
	return s.db.QueryRow(ctx, "SELECT 1").Scan(&one)
}

// The methods below implement steps for runPipeline.

func (s *Service) authorize(ctx context.Context, principal string, key Key, action Action) error {
	return s.authorizePerm(ctx, principal, key, string(action))
}

func (s *Service) authorizePerm(ctx context.Context, principal string, key Key, perm string) error {
	ok, err := s.authz.Allowed(ctx, principal, key, perm)
	if err != nil {
		return newImportError(KindNotAuthorized, err, "the permission check failed")
	}
	if !ok {
		return newImportError(KindNotAuthorized, nil, "%s is not allowed to %s %s", displayPrincipal(principal), perm, key)
	}
	return nil
}

func displayPrincipal(p string) string {
	if p == "" {
		return "anonymous"
	}
	return p
}

func (s *Service) resolve(ctx context.Context, key Key) (ImportConfiguration, error) {
	return s.configs.Resolve(ctx, key)
}

func (s *Service) readProbe(sess *Session) ([][]string, [][]string, error) {
	r, err := csvfile.Open(sess.FilePath, sess.Separator, sess.Encoding)
	if err != nil {
		return nil, nil, newImportError(KindInvalidRequest, err, "the file cannot be read with the given separator or encoding")
	}
	header, err := r.Read(0, 1)
	if err != nil {
		return nil, nil, newImportError(KindUploadRejected, err, "the uploaded file cannot be opened")
	}
	probe, err := r.Read(1, 1)
	if err != nil {
		return nil, nil, newImportError(KindUploadRejected, err, "the uploaded file cannot be opened")
	}
	return header, probe, nil
}

func (s *Service) createStaging(ctx context.Context, sess *Session) error {
	defer s.stageTimer("create_staging")()
	return s.stager.CreateStagingRelations(ctx, sess)
}

func (s *Service) loadSource(ctx context.Context, sess *Session) (int64, error) {
	defer s.stageTimer("load")()
	r, err := csvfile.Open(sess.FilePath, sess.Separator, sess.Encoding)
	if err != nil {
		return 0, newImportError(KindStagingLoadFailed, err, "the file cannot be read")
	}
	n, err := s.stager.LoadSourceRows(ctx, sess, r.Records(1))
	if err == nil {
		s.metrics.StagedRows.Add(float64(n))
	}
	return n, err
}

func (s *Service) project(ctx context.Context, sess *Session) (int64, error) {
	defer s.stageTimer("project")()
	return s.stager.ProjectToTarget(ctx, sess)
}

func (s *Service) checkUnique(ctx context.Context, sess *Session) error {
	defer s.stageTimer("check_unique")()
	return s.checker.CheckUniqueIDFieldValues(ctx, sess)
}

func (s *Service) validate(ctx context.Context, sess *Session, category Category) ([]Finding, error) {
	defer s.stageTimer("validate_" + string(category))()
	return s.checker.ValidateCSVData(ctx, sess, category)
}

func (s *Service) checkDuplicates(ctx context.Context, sess *Session) (DuplicateReport, error) {
	defer s.stageTimer("check_duplicates")()
	return s.checker.CheckDuplicatedRecords(ctx, sess)
}

func (s *Service) checkMissing(ctx context.Context, sess *Session) (MissingIDReport, error) {
	defer s.stageTimer("check_missing_ids")()
	return s.checker.CheckContainsGivenIDs(ctx, sess)
}

func (s *Service) addMetadata(ctx context.Context, sess *Session) (bool, error) {
	defer s.stageTimer("metadata_column")()
	return s.merger.AddMetadataColumn(ctx, sess)
}

func (s *Service) merge(ctx context.Context, sess *Session, login string) (MergeResult, error) {
	defer s.stageTimer("merge")()
	res, err := s.merger.ImportIntoTarget(ctx, sess, login)
	if err == nil {
		s.metrics.MergedRows.Add(float64(res.Count))
	}
	return res, err
}

func (s *Service) clean(ctx context.Context, sess *Session) error {
	return s.cleaner.Clean(ctx, sess)
}
