package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/sebdah/goldie/v2"
	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	revenueProgram = "testdata/revenue.yaml"
	wrongExpect    = "testdata/wrong_expect.yaml"
)

func golden(t *testing.T) *goldie.Goldie {
	t.Helper()
	return goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
}

// execute runs cmd with args and returns stdout and stderr.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, string, error) {
	t.Helper()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func textOpts() *RootOptions { return &RootOptions{Format: "text"} }

func jsonOpts() *RootOptions { return &RootOptions{Format: "json"} }

func TestRootRejectsFormat(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Execute([]string{"--format", "xml", "backends"}, &stdout, &stderr)
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr.String(), `invalid format "xml"`)
}

func TestExecuteSuccess(t *testing.T) {
	var stdout, stderr bytes.Buffer
	code := Execute([]string{"run", revenueProgram, "--backend", "gota"}, &stdout, &stderr)
	assert.Equal(t, ExitSuccess, code)
	assert.Contains(t, stdout.String(), "revenue on gota: 3 rows")
}

func TestVerboseLogsToStderr(t *testing.T) {
	tests := []struct {
		name    string
		args    []string
		wantLog bool
	}{
		{"quiet", []string{"--format", "json", "run", revenueProgram, "-b", "gota"}, false},
		{"verbose", []string{"--format", "json", "-v", "run", revenueProgram, "-b", "gota"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var stdout, stderr bytes.Buffer
			code := Execute(tt.args, &stdout, &stderr)
			require.Equal(t, ExitSuccess, code)

			var resp CLIResponse
			require.NoError(t, json.Unmarshal(stdout.Bytes(), &resp))
			assert.Equal(t, "ok", resp.Status)
			if tt.wantLog {
				assert.Contains(t, stderr.String(), "program finished")
			} else {
				assert.NotContains(t, stderr.String(), "program finished")
			}
		})
	}
}

func TestBackends(t *testing.T) {
	out, _, err := execute(t, NewBackendsCommand(textOpts()))
	require.NoError(t, err)

	assert.Contains(t, out, "TAG")
	assert.Contains(t, out, "gota")
	assert.Contains(t, out, "arrow")
	assert.Contains(t, out, "sqlite")
}

func TestBackendsJSON(t *testing.T) {
	out, _, err := execute(t, NewBackendsCommand(jsonOpts()))
	require.NoError(t, err)

	var resp struct {
		Status string         `json:"status"`
		Data   BackendsResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)

	byTag := make(map[string]BackendInfo)
	for _, b := range resp.Data.Backends {
		byTag[b.Tag] = b
	}
	require.Contains(t, byTag, "sqlite")
	assert.True(t, byTag["sqlite"].Lazy)
	assert.Equal(t, "lazy", byTag["sqlite"].Family)
	assert.NotEmpty(t, byTag["sqlite"].Version)
	assert.False(t, byTag["gota"].Lazy)
}

func TestCompatGolden(t *testing.T) {
	out, _, err := execute(t, NewCompatCommand(textOpts()), "sqlite", "--version", "3.20.0")
	require.NoError(t, err)
	golden(t).Assert(t, "compat_sqlite_3.20.0", []byte(out))
}

func TestCompatSelectedFeatures(t *testing.T) {
	out, _, err := execute(t, NewCompatCommand(jsonOpts()), "sqlite", "join.full", "window.rank", "--version", "3.45.1")
	require.NoError(t, err)

	var resp struct {
		Data CompatResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, []CompatEntry{
		{Feature: "join.full", Strategy: "native"},
		{Feature: "window.rank", Strategy: "native"},
	}, resp.Data.Features)
}

func TestCompatUnknownFeatureIsUnsupported(t *testing.T) {
	out, _, err := execute(t, NewCompatCommand(textOpts()), "postgres", "no.such.feature", "--version", "16.4")
	require.NoError(t, err)
	assert.Contains(t, out, "unsupported")
}

func TestCompatUnknownBackend(t *testing.T) {
	out, _, err := execute(t, NewCompatCommand(textOpts()), "duckdb", "--version", "1.0.0")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "duckdb")
}

func TestCompatInstalledVersion(t *testing.T) {
	out, _, err := execute(t, NewCompatCommand(textOpts()), "sqlite", "join")
	require.NoError(t, err)
	assert.Contains(t, out, "backend: sqlite")
	assert.Contains(t, out, "version: 3.")
}

func TestRunGolden(t *testing.T) {
	out, _, err := execute(t, NewRunCommand(textOpts()), revenueProgram, "--backend", "arrow")
	require.NoError(t, err)
	golden(t).Assert(t, "run_revenue_arrow", []byte(out))
}

func TestRunOnSQLiteCollects(t *testing.T) {
	out, _, err := execute(t, NewRunCommand(textOpts()), revenueProgram, "-b", "sqlite")
	require.NoError(t, err)
	assert.Contains(t, out, "revenue on sqlite: 3 rows")
	assert.Contains(t, out, "expect: ok")
}

func TestRunJSON(t *testing.T) {
	out, _, err := execute(t, NewRunCommand(jsonOpts()), revenueProgram, "-b", "gota")
	require.NoError(t, err)

	var resp struct {
		Status string    `json:"status"`
		Data   RunResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, "revenue", resp.Data.Program)
	assert.Equal(t, []fieldJSON{{"region", "String"}, {"total", "Float64"}, {"avg", "Float64"}}, resp.Data.Columns)
	require.Len(t, resp.Data.Rows, 3)
	assert.Equal(t, []any{"east", 4.5, 4.5}, resp.Data.Rows[0])
	require.NotNil(t, resp.Data.Expect)
	assert.True(t, resp.Data.Expect.Equal)
}

func TestRunExpectMismatch(t *testing.T) {
	out, _, err := execute(t, NewRunCommand(textOpts()), wrongExpect, "-b", "arrow")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "Error [EXPECTATION_FAILED]")
	assert.Contains(t, out, `column "y" row 2`)
}

func TestRunInvalidProgram(t *testing.T) {
	out, _, err := execute(t, NewRunCommand(textOpts()), "testdata/invalid.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "steps list is required")
}

func TestRunMissingProgram(t *testing.T) {
	_, _, err := execute(t, NewRunCommand(textOpts()), "testdata/nope.yaml")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestRunUnknownBackend(t *testing.T) {
	out, _, err := execute(t, NewRunCommand(textOpts()), revenueProgram, "-b", "duckdb")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "UNRECOGNIZED")
}

func TestRunExecutionError(t *testing.T) {
	out, _, err := execute(t, NewRunCommand(textOpts()), "testdata/unknown_column.yaml", "-b", "arrow")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))
	assert.Contains(t, out, "missing")
}

func TestRunUsesConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dfbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("default_backend: gota\nbackends: [gota, arrow]\n"), 0o644))

	opts := textOpts()
	opts.ConfigPath = path
	out, _, err := execute(t, NewRunCommand(opts), revenueProgram)
	require.NoError(t, err)
	assert.Contains(t, out, "revenue on gota")
}

func TestRunBadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dfbridge.yaml")
	require.NoError(t, os.WriteFile(path, []byte("log_level: loud\n"), 0o644))

	opts := textOpts()
	opts.ConfigPath = path
	out, _, err := execute(t, NewRunCommand(opts), revenueProgram)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "CONFIG_ERROR")
}

func TestExplainSQL(t *testing.T) {
	out, _, err := execute(t, NewExplainCommand(textOpts()), revenueProgram, "-b", "sqlite")
	require.NoError(t, err)
	assert.Contains(t, out, "revenue on sqlite:")
	assert.Contains(t, out, "GROUP BY")
}

func TestExplainJSON(t *testing.T) {
	out, _, err := execute(t, NewExplainCommand(jsonOpts()), revenueProgram, "-b", "sqlite")
	require.NoError(t, err)

	var resp struct {
		Data ExplainResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "sqlite", resp.Data.Backend)
	assert.Contains(t, resp.Data.Plan, "SELECT")
}

func TestEquivGolden(t *testing.T) {
	out, _, err := execute(t, NewEquivCommand(textOpts()), revenueProgram, "--backends", "gota,arrow,sqlite")
	require.NoError(t, err)
	golden(t).Assert(t, "equiv_revenue", []byte(out))
}

func TestEquivNeedsTwoBackends(t *testing.T) {
	_, _, err := execute(t, NewEquivCommand(textOpts()), revenueProgram, "--backends", "arrow")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
}

func TestEquivReportsFailures(t *testing.T) {
	out, _, err := execute(t, NewEquivCommand(jsonOpts()), "testdata/unknown_column.yaml", "--backends", "gota,arrow")
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
}

func TestFormatCell(t *testing.T) {
	tests := []struct {
		in   any
		want string
	}{
		{nil, "null"},
		{3.0, "3.0"},
		{2.5, "2.5"},
		{1e21, "1e+21"},
		{int64(7), "7"},
		{true, "true"},
		{[]any{int64(1), nil}, "[1, null]"},
		{map[string]any{"b": "x", "a": 1.0}, "{a: 1.0, b: x}"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, formatCell(tt.in))
	}
}

func TestTextTableWideRunes(t *testing.T) {
	tbl := &textTable{}
	tbl.add("名前", "n")
	tbl.add("ab", "1")

	var buf bytes.Buffer
	require.NoError(t, tbl.write(&buf))
	assert.Equal(t, "名前  n\nab    1\n", buf.String())
}
