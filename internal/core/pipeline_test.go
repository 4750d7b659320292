package core

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSteps records the order in which the pipeline calls its steps.
type fakeSteps struct {
	calls []string

	cfg       ImportConfiguration
	header    [][]string
	probe     [][]string
	findings  map[Category][]Finding
	dups      DuplicateReport
	missing   MissingIDReport
	merged    MergeResult
	denied    bool
	failAt    string
	failWith  error
	cleaned   int
	cleanedNS string

	// staged, when set, runs load, projection and the unique check through
	// the real Stager and Checker over rows.
	staged *memStaging
	rows   [][]string
}

func (f *fakeSteps) record(name string) error {
	f.calls = append(f.calls, name)
	if f.failAt == name {
		return f.failWith
	}
	return nil
}

func (f *fakeSteps) authorize(_ context.Context, _ string, _ Key, _ Action) error {
	if err := f.record("authorize"); err != nil {
		return err
	}
	if f.denied {
		return newImportError(KindNotAuthorized, nil, "denied")
	}
	return nil
}

func (f *fakeSteps) resolve(context.Context, Key) (ImportConfiguration, error) {
	return f.cfg, f.record("resolve")
}

func (f *fakeSteps) readProbe(*Session) ([][]string, [][]string, error) {
	return f.header, f.probe, f.record("read")
}

func (f *fakeSteps) createStaging(context.Context, *Session) error {
	return f.record("create_staging")
}

func (f *fakeSteps) loadSource(ctx context.Context, s *Session) (int64, error) {
	if err := f.record("load"); err != nil || f.staged == nil {
		return 3, err
	}
	f.staged.bind(s)
	return NewStager(f.staged, 0).LoadSourceRows(ctx, s, rowsOf(f.rows...))
}

func (f *fakeSteps) project(ctx context.Context, s *Session) (int64, error) {
	if err := f.record("project"); err != nil || f.staged == nil {
		return 3, err
	}
	return NewStager(f.staged, 0).ProjectToTarget(ctx, s)
}

func (f *fakeSteps) checkUnique(ctx context.Context, s *Session) error {
	if err := f.record("check_unique"); err != nil || f.staged == nil {
		return err
	}
	return NewChecker(f.staged, nil).CheckUniqueIDFieldValues(ctx, s)
}

func (f *fakeSteps) validate(_ context.Context, _ *Session, c Category) ([]Finding, error) {
	return f.findings[c], f.record("validate_" + string(c))
}

func (f *fakeSteps) checkDuplicates(context.Context, *Session) (DuplicateReport, error) {
	if err := f.record("check_duplicates"); err != nil {
		return DuplicateReport{}, err
	}
	if f.dups.Count > 0 {
		return f.dups, newImportError(KindDuplicateRecordsFound, nil, "duplicates")
	}
	return f.dups, nil
}

func (f *fakeSteps) checkMissing(context.Context, *Session) (MissingIDReport, error) {
	if err := f.record("check_missing"); err != nil {
		return MissingIDReport{}, err
	}
	if f.missing.Count > 0 {
		return f.missing, newImportError(KindMissingIdentifiersFound, nil, "missing")
	}
	return f.missing, nil
}

func (f *fakeSteps) addMetadata(context.Context, *Session) (bool, error) {
	return true, f.record("metadata")
}

func (f *fakeSteps) merge(context.Context, *Session, string) (MergeResult, error) {
	return f.merged, f.record("merge")
}

func (f *fakeSteps) clean(_ context.Context, s *Session) error {
	f.cleaned++
	f.cleanedNS = s.Staging.Namespace
	return nil
}

func lonLatConfig(it ImportType) ImportConfiguration {
	return ImportConfiguration{
		TargetSchema:   "public",
		TargetTable:    "trees",
		RequiredFields: []string{"species", "height"},
		GeometrySource: GeometryLonLat,
		UniqueIDField:  "uid",
		ImportType:     it,
	}
}

func newFake(it ImportType) *fakeSteps {
	return &fakeSteps{
		cfg:    lonLatConfig(it),
		header: [][]string{{"uid", "species", "height", "longitude", "latitude", "note"}},
		probe:  [][]string{{"1", "oak", "12", "2.35", "48.85", ""}},
		merged: MergeResult{Count: 3},
	}
}

const testNamespace = "temp_20260101120000_0123abcd"

var stagedPrefix = []string{
	"authorize", "resolve", "read", "create_staging", "load", "project",
	"check_unique", "validate_not_null", "validate_format", "validate_valid",
}

func TestPipeline_CheckWithFindings(t *testing.T) {
	f := newFake(ImportInsert)
	f.findings = map[Category][]Finding{
		CategoryNotNull: {
			{Category: CategoryNotNull, Label: "species not null", RowCount: 2, IDs: []string{"4", "9"}},
			{Category: CategoryNotNull, Label: "height not null", RowCount: 1, IDs: []string{"4"}},
		},
	}

	rep, err := runPipeline(context.Background(), f, ImportRequest{Action: ActionCheck, Principal: "alice"}, testNamespace)

	require.NoError(t, err)
	assert.True(t, rep.Checked)
	assert.False(t, rep.Imported)
	assert.Len(t, rep.Findings[CategoryNotNull], 2)
	assert.Equal(t, 2, rep.FindingCount())
	assert.Equal(t, stagedPrefix, f.calls, "check must not reach duplicate checks or merge")
	assert.Equal(t, 1, f.cleaned)
	assert.Equal(t, testNamespace, f.cleanedNS)
}

func TestPipeline_MissingGeometryStopsBeforeStaging(t *testing.T) {
	f := newFake(ImportInsert)
	f.header = [][]string{{"uid", "species", "height", "latitude"}}
	f.probe = [][]string{{"1", "oak", "12", "48.85"}}

	rep, err := runPipeline(context.Background(), f, ImportRequest{Action: ActionImport, Principal: "alice"}, testNamespace)

	require.Error(t, err)
	assert.Equal(t, KindMissingGeometryFields, KindOf(err))
	assert.Equal(t, []string{"authorize", "resolve", "read"}, f.calls)
	assert.Equal(t, 1, f.cleaned, "cleanup runs even when no staging exists")
	assert.Empty(t, f.cleanedNS, "no staging namespace was assigned")
	assert.NotEmpty(t, rep.Message)
}

func TestPipeline_DuplicatesStopBeforeMetadataColumn(t *testing.T) {
	f := newFake(ImportInsert)
	f.dups = DuplicateReport{Count: 2, IDs: []string{"1", "2"}}

	rep, err := runPipeline(context.Background(), f, ImportRequest{Action: ActionImport, Principal: "alice"}, testNamespace)

	require.Error(t, err)
	assert.Equal(t, KindDuplicateRecordsFound, KindOf(err))
	require.NotNil(t, rep.Duplicates)
	assert.Equal(t, int64(2), rep.Duplicates.Count)
	assert.Equal(t, append(append([]string{}, stagedPrefix...), "check_duplicates"), f.calls)
	assert.NotContains(t, f.calls, "metadata")
	assert.Equal(t, 1, f.cleaned)
}

func TestPipeline_UpdateWithMissingIDsStopsBeforeMerge(t *testing.T) {
	f := newFake(ImportUpdate)
	f.missing = MissingIDReport{Count: 1, IDs: []string{"42"}}

	rep, err := runPipeline(context.Background(), f, ImportRequest{Action: ActionImport, Principal: "alice"}, testNamespace)

	require.Error(t, err)
	assert.Equal(t, KindMissingIdentifiersFound, KindOf(err))
	require.NotNil(t, rep.Missing)
	assert.Equal(t, []string{"42"}, rep.Missing.IDs)
	assert.NotContains(t, f.calls, "check_duplicates")
	assert.NotContains(t, f.calls, "merge")
	assert.Equal(t, 1, f.cleaned)
}

func TestPipeline_ImportSucceeds(t *testing.T) {
	f := newFake(ImportInsert)

	rep, err := runPipeline(context.Background(), f, ImportRequest{Action: ActionImport, Principal: "alice"}, testNamespace)

	require.NoError(t, err)
	assert.True(t, rep.Imported)
	assert.Equal(t, testNamespace+"_target", rep.Token)
	require.NotNil(t, rep.Merge)
	assert.Equal(t, int64(3), rep.Merge.Count)
	assert.Equal(t, append(append([]string{}, stagedPrefix...), "check_duplicates", "metadata", "merge"), f.calls)
}

func TestPipeline_ZeroRowsMergedIsNotAFailure(t *testing.T) {
	f := newFake(ImportUpdate)
	f.merged = MergeResult{Count: 0, Empty: true}

	rep, err := runPipeline(context.Background(), f, ImportRequest{Action: ActionImport, Principal: "alice"}, testNamespace)

	require.NoError(t, err)
	assert.True(t, rep.Imported)
	assert.True(t, rep.Merge.Empty)
}

func TestPipeline_ImportWithFindingsIsRefused(t *testing.T) {
	f := newFake(ImportInsert)
	f.findings = map[Category][]Finding{
		CategoryFormat: {{Category: CategoryFormat, Label: "height is numeric", RowCount: 1, IDs: []string{"3"}}},
	}

	rep, err := runPipeline(context.Background(), f, ImportRequest{Action: ActionImport, Principal: "alice"}, testNamespace)

	require.Error(t, err)
	assert.Equal(t, KindNonConformantData, KindOf(err))
	assert.True(t, rep.Checked)
	assert.Equal(t, stagedPrefix, f.calls)
}

func TestPipeline_ImportWithoutPrincipal(t *testing.T) {
	f := newFake(ImportInsert)

	_, err := runPipeline(context.Background(), f, ImportRequest{Action: ActionImport}, testNamespace)

	require.Error(t, err)
	assert.Equal(t, KindPrincipalUnresolved, KindOf(err))
	assert.NotContains(t, f.calls, "check_duplicates")
}

func TestPipeline_EarlyStops(t *testing.T) {
	boom := errors.New("boom")
	tests := []struct {
		name     string
		failAt   string
		failWith error
		wantKind Kind
	}{
		{"unknown configuration", "resolve", newImportError(KindConfigurationNotFound, nil, "none"), KindConfigurationNotFound},
		{"staging creation", "create_staging", newImportError(KindStagingCreationFailed, boom, "x"), KindStagingCreationFailed},
		{"staging load", "load", newImportError(KindStagingLoadFailed, boom, "x"), KindStagingLoadFailed},
		{"projection", "project", newImportError(KindProjectionFailed, boom, "x"), KindProjectionFailed},
		{"non unique ids", "check_unique", newImportError(KindNonUniqueIdentifiers, nil, "x"), KindNonUniqueIdentifiers},
		{"rule engine", "validate_format", newImportError(KindRuleEngineFailed, boom, "x"), KindRuleEngineFailed},
		{"metadata column", "metadata", newImportError(KindMetadataColumnFailed, boom, "x"), KindMetadataColumnFailed},
		{"merge", "merge", newImportError(KindMergeFailed, boom, "x"), KindMergeFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFake(ImportInsert)
			f.failAt = tt.failAt
			f.failWith = tt.failWith

			rep, err := runPipeline(context.Background(), f, ImportRequest{Action: ActionImport, Principal: "alice"}, testNamespace)

			require.Error(t, err)
			assert.Equal(t, tt.wantKind, KindOf(err))
			assert.Equal(t, tt.failAt, f.calls[len(f.calls)-1], "pipeline must stop at the failing step")
			assert.False(t, rep.Imported)
			assert.Equal(t, 1, f.cleaned)
		})
	}
}

func TestPipeline_Unauthorized(t *testing.T) {
	f := newFake(ImportInsert)
	f.denied = true

	_, err := runPipeline(context.Background(), f, ImportRequest{Action: ActionImport, Principal: "mallory"}, testNamespace)

	require.Error(t, err)
	assert.Equal(t, KindNotAuthorized, KindOf(err))
	assert.Equal(t, []string{"authorize"}, f.calls)
	assert.Equal(t, 1, f.cleaned)
}

func wktFake(rows ...[]string) *fakeSteps {
	return &fakeSteps{
		cfg: ImportConfiguration{
			TargetSchema: "public", TargetTable: "people",
			RequiredFields: []string{"name"}, GeometrySource: GeometryWKT,
			UniqueIDField: "id", ImportType: ImportInsert,
		},
		header: [][]string{{"id", "name", "wkt"}},
		probe:  rows[:1],
		staged: &memStaging{},
		rows:   rows,
	}
}

func TestPipeline_CleanCheckHasNoFindings(t *testing.T) {
	f := wktFake([]string{"1", "Alice", "POINT(0 0)"}, []string{"2", "Bob", "POINT(1 1)"})

	rep, err := runPipeline(context.Background(), f, ImportRequest{Action: ActionCheck}, testNamespace)

	require.NoError(t, err)
	assert.True(t, rep.Checked)
	assert.Zero(t, rep.FindingCount())
	assert.Equal(t, stagedPrefix, f.calls)
	assert.Equal(t, []string{"id", "name", "wkt"}, rep.Structure.Corresponding)
	assert.Len(t, f.staged.target, 2)
}

func TestPipeline_NonUniqueIDsStopBeforeRules(t *testing.T) {
	f := wktFake([]string{"1", "Alice", "POINT(0 0)"}, []string{"1", "Bob", "POINT(1 1)"})

	rep, err := runPipeline(context.Background(), f, ImportRequest{Action: ActionCheck}, testNamespace)

	require.Error(t, err)
	assert.Equal(t, KindNonUniqueIdentifiers, KindOf(err))
	assert.Len(t, f.staged.target, 2, "both rows reached the target relation")
	assert.Equal(t, "check_unique", f.calls[len(f.calls)-1])
	assert.NotContains(t, f.calls, "validate_not_null", "no rule is evaluated after a failed unique check")
	assert.False(t, rep.Checked)
	assert.Contains(t, rep.Message, "CHK002")
	assert.Equal(t, testNamespace, f.cleanedNS)
}
