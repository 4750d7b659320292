package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/geoimport/internal/config"
	"github.com/JonMunkholm/geoimport/internal/core"
)

type fakeService struct {
	req      core.ImportRequest
	report   *core.Report
	runErr   error
	token    string
	rows     int64
	cfg      core.ImportConfiguration
	sweepAge time.Duration
}

func (f *fakeService) RunImport(_ context.Context, req core.ImportRequest) (*core.Report, error) {
	f.req = req
	return f.report, f.runErr
}

func (f *fakeService) RollbackImport(_ context.Context, _ string, _ core.Key, token string) (int64, error) {
	f.token = token
	return f.rows, nil
}

func (f *fakeService) DescribeDestination(context.Context, core.Key) (core.ImportConfiguration, error) {
	return f.cfg, nil
}

func (f *fakeService) RunSweep(_ context.Context, maxAge time.Duration) (int, int, error) {
	f.sweepAge = maxAge
	return 2, 3, nil
}

type fakeUploads struct {
	imported string
	removed  []string
}

func (f *fakeUploads) Import(path string) (string, error) {
	f.imported = path
	return "/uploads/upload-1.csv", nil
}

func (f *fakeUploads) Remove(path string) error {
	f.removed = append(f.removed, path)
	return nil
}

func testOpener(svc *fakeService, up *fakeUploads) opener {
	cfg := &config.Config{Import: config.ImportConfig{
		DefaultSeparator: ";",
		Timeout:          10 * time.Minute,
		StagingMaxAge:    time.Hour,
	}}
	return func(context.Context) (*deps, error) {
		return &deps{cfg: cfg, service: svc, uploads: up, close: func() {}}, nil
	}
}

func execute(t *testing.T, open opener, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd(open)
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func writeCSV(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "trees.csv")
	require.NoError(t, os.WriteFile(path, []byte("uid;wkt\n1;POINT(1 2)\n"), 0o600))
	return path
}

var destArgs = []string{"--repository", "demo", "--project", "trees", "--schema", "public", "--table", "tree"}

func TestRunCommand_Check(t *testing.T) {
	svc := &fakeService{report: &core.Report{Action: core.ActionCheck, Checked: true}}
	up := &fakeUploads{}
	file := writeCSV(t)

	out, err := execute(t, testOpener(svc, up), append([]string{"run", "--file", file, "--user", "alice"}, destArgs...)...)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got), out)
	assert.Equal(t, true, got["status_check"])

	assert.Equal(t, file, up.imported, "the original file is copied, never handed to the session")
	assert.Equal(t, "/uploads/upload-1.csv", svc.req.FilePath)
	assert.Equal(t, []string{"/uploads/upload-1.csv"}, up.removed)
	assert.Equal(t, ";", svc.req.Separator)
	assert.Equal(t, core.ActionCheck, svc.req.Action)
	assert.Equal(t, "alice", svc.req.Principal)
	assert.Equal(t, "tree", svc.req.Key.Table)
}

func TestRunCommand_HardStopPrintsReportAndFails(t *testing.T) {
	svc := &fakeService{
		report: &core.Report{Action: core.ActionImport, Checked: true},
		runErr: core.NewImportError(core.KindPrincipalUnresolved, nil, "no user"),
	}
	file := writeCSV(t)

	out, err := execute(t, testOpener(svc, &fakeUploads{}),
		append([]string{"run", "--file", file, "--action", "import", "--separator", ","}, destArgs...)...)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "AUTH001")

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got), out)
	assert.Equal(t, "AUTH001", got["error"].(map[string]any)["code"])
	assert.Equal(t, ",", svc.req.Separator)
}

func TestRunCommand_InvalidArguments(t *testing.T) {
	file := writeCSV(t)
	tests := []struct {
		name string
		args []string
	}{
		{"unknown action", append([]string{"run", "--file", file, "--action", "merge"}, destArgs...)},
		{"missing file", append([]string{"run", "--file", filepath.Join(t.TempDir(), "nope.csv")}, destArgs...)},
		{"missing table flag", []string{"run", "--file", file, "--repository", "demo", "--project", "trees", "--schema", "public"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := &fakeService{}
			_, err := execute(t, testOpener(svc, &fakeUploads{}), tt.args...)
			assert.Error(t, err)
			assert.Empty(t, svc.req.FilePath)
		})
	}
}

func TestDescribeCommand(t *testing.T) {
	svc := &fakeService{cfg: core.ImportConfiguration{
		TargetSchema: "public", TargetTable: "tree", UniqueIDField: "uid",
		GeometrySource: core.GeometryWKT, RequiredFields: []string{"species"},
	}}
	out, err := execute(t, testOpener(svc, &fakeUploads{}), append([]string{"describe"}, destArgs...)...)
	require.NoError(t, err)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, []any{"uid", "wkt", "species"}, got["expected_columns"])
}

func TestRollbackCommand(t *testing.T) {
	svc := &fakeService{rows: 4}
	token := "temp_20260101120000_0123abcd_target"
	out, err := execute(t, testOpener(svc, &fakeUploads{}), append([]string{"rollback", "--token", token}, destArgs...)...)
	require.NoError(t, err)
	assert.Equal(t, token, svc.token)
	assert.Contains(t, out, `"rows": 4`)
}

func TestSweepCommand(t *testing.T) {
	svc := &fakeService{}
	out, err := execute(t, testOpener(svc, &fakeUploads{}), "sweep")
	require.NoError(t, err)
	assert.Equal(t, time.Hour, svc.sweepAge)
	assert.Contains(t, out, `"staging_pairs": 2`)

	_, err = execute(t, testOpener(svc, &fakeUploads{}), "sweep", "--max-age", "5m")
	assert.ErrorContains(t, err, "must exceed")
}
