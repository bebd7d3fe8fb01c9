package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type cliRun struct {
	out string
	err error
}

// runCLI executes the root command against a database in dir.
func runCLI(t *testing.T, dir string, args ...string) cliRun {
	t.Helper()
	t.Setenv("TONEGEN_MEMORY_MONITOR", "false")

	buf := &bytes.Buffer{}
	opts := &RootOptions{Logger: zaptest.NewLogger(t)}
	cmd := newRootCommand(opts)
	cmd.SetOut(buf)
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs(append([]string{"--db", filepath.Join(dir, "patterns.db")}, args...))

	err := cmd.Execute()
	return cliRun{out: buf.String(), err: err}
}

// decodeData decodes a successful JSON response payload into v.
func decodeData(t *testing.T, out string, v any) {
	t.Helper()
	var resp struct {
		Status string          `json:"status"`
		Data   json.RawMessage `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "ok", resp.Status, out)
	require.NoError(t, json.Unmarshal(resp.Data, v))
}

func decodeError(t *testing.T, out string) CLIError {
	t.Helper()
	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp), out)
	require.Equal(t, "error", resp.Status, out)
	require.NotNil(t, resp.Error)
	return *resp.Error
}

func TestGenerate_FastPath(t *testing.T) {
	dir := t.TempDir()

	run := runCLI(t, dir, "generate", "440Hz sine wave")
	require.NoError(t, run.err)
	assert.Contains(t, run.out, "s.waitForBoot({")
	assert.Contains(t, run.out, `Synth(\basicSine, [\freq, 440, \amp, 0.5]);`)
}

func TestGenerate_JSONNoPatterns(t *testing.T) {
	dir := t.TempDir()

	run := runCLI(t, dir, "--format", "json", "generate", "--no-patterns",
		"--param", "frequency=220", "bright saw")
	require.NoError(t, run.err)

	var res GenerateResult
	decodeData(t, run.out, &res)
	assert.Equal(t, "GENERATE_SOUND", res.IntentType)
	assert.False(t, res.FastPath)
	assert.Empty(t, res.Pattern)
	assert.NotEmpty(t, res.Template)
	assert.Contains(t, res.Code, "Saw")
	assert.Contains(t, res.Code, "220")
	assert.False(t, res.Hits.All(), "a fresh process has empty caches")
}

func TestGenerate_Errors(t *testing.T) {
	dir := t.TempDir()

	tests := []struct {
		name     string
		args     []string
		code     string
		exitCode int
	}{
		{"unknown_type", []string{"generate", "--type", "MAKE_NOISE", "x"}, ErrCodeInput, ExitCommandError},
		{"bad_param", []string{"generate", "--param", "frequency", "x"}, ErrCodeInput, ExitCommandError},
		{"unsupported_intent", []string{"generate", "--type", "CREATE_CHORD", "C major"}, ErrCodeConversion, ExitFailure},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			run := runCLI(t, dir, append([]string{"--format", "json"}, tt.args...)...)
			require.Error(t, run.err)
			assert.Equal(t, tt.exitCode, GetExitCode(run.err))
			assert.Equal(t, tt.code, decodeError(t, run.out).Code)
		})
	}
}

func TestBuildIntent_Parameters(t *testing.T) {
	intent, err := buildIntent("apply_effect", "long echo", []string{"delaytime=0.75", " effect_type = delay "})
	require.NoError(t, err)
	assert.Equal(t, "APPLY_EFFECT", intent.Type.String())

	params, ok := intent.Metadata["extracted_parameters"]
	require.True(t, ok)
	encoded, err := json.Marshal(params)
	require.NoError(t, err)
	assert.JSONEq(t, `{"delaytime": 0.75, "effect_type": "delay"}`, string(encoded))
}

func TestInvalidFormat(t *testing.T) {
	run := runCLI(t, t.TempDir(), "--format", "yaml", "stats")
	require.Error(t, run.err)
	assert.Contains(t, run.err.Error(), "invalid format")
}

func TestCatalogInit(t *testing.T) {
	dir := t.TempDir()

	run := runCLI(t, dir, "--format", "json", "catalog", "init")
	require.NoError(t, run.err)

	var first struct {
		Total     int `json:"total"`
		Succeeded int `json:"succeeded"`
		Failed    int `json:"failed"`
		Entries   []struct {
			Key    string `json:"key"`
			Status string `json:"status"`
		} `json:"entries"`
	}
	decodeData(t, run.out, &first)
	assert.Equal(t, 10, first.Total)
	assert.Equal(t, 10, first.Succeeded)
	assert.Zero(t, first.Failed)
	for _, e := range first.Entries {
		assert.Equal(t, "compiled", e.Status, e.Key)
	}

	again := runCLI(t, dir, "--format", "json", "catalog", "init")
	require.NoError(t, again.err)
	decodeData(t, again.out, &first)
	for _, e := range first.Entries {
		assert.Equal(t, "existing", e.Status, e.Key)
	}

	forced := runCLI(t, dir, "catalog", "init", "--force")
	require.NoError(t, forced.err)
	assert.Contains(t, forced.out, "10/10 entries ready")
}

func TestCatalogList(t *testing.T) {
	dir := t.TempDir()

	run := runCLI(t, dir, "--format", "json", "catalog", "list", "--category", "effect")
	require.NoError(t, run.err)

	var entries []CatalogEntry
	decodeData(t, run.out, &entries)
	require.Len(t, entries, 2)
	names := []string{entries[0].Name, entries[1].Name}
	assert.ElementsMatch(t, []string{"basic_reverb", "basic_delay"}, names)

	text := runCLI(t, dir, "catalog", "list")
	require.NoError(t, text.err)
	assert.Contains(t, text.out, "KEY")
	assert.Contains(t, text.out, "wind")

	unknown := runCLI(t, dir, "catalog", "list", "--category", "orchestral")
	require.Error(t, unknown.err)
	assert.Equal(t, ExitCommandError, GetExitCode(unknown.err))
	assert.Contains(t, unknown.out, "Error [E006]")
}

func TestPatterns_ListGetDelete(t *testing.T) {
	dir := t.TempDir()

	empty := runCLI(t, dir, "patterns", "list")
	require.NoError(t, empty.err)
	assert.Contains(t, empty.out, "No patterns stored")

	require.NoError(t, runCLI(t, dir, "catalog", "init").err)

	list := runCLI(t, dir, "--format", "json", "patterns", "list", "--type", "effect")
	require.NoError(t, list.err)
	var effects []PatternView
	decodeData(t, list.out, &effects)
	require.Len(t, effects, 2)
	for _, p := range effects {
		assert.Equal(t, "effect", p.PatternType)
		assert.Empty(t, p.CompiledCode, "list omits code")
	}

	get := runCLI(t, dir, "--format", "json", "patterns", "get", "basic_sine")
	require.NoError(t, get.err)
	var sine PatternView
	decodeData(t, get.out, &sine)
	assert.Equal(t, "basic_sine", sine.Name)
	assert.Contains(t, sine.CompiledCode, "SynthDef")
	assert.Contains(t, string(sine.Metadata), `"synth_name":"basicSine"`)
	require.NotEmpty(t, sine.ContentID)

	byID := runCLI(t, dir, "patterns", "get", "--id", sine.ContentID)
	require.NoError(t, byID.err)
	assert.Contains(t, byID.out, "basic_sine (synth_def)")

	del := runCLI(t, dir, "patterns", "delete", sine.ContentID)
	require.NoError(t, del.err)
	assert.Contains(t, del.out, "Deleted")

	gone := runCLI(t, dir, "--format", "json", "patterns", "get", "basic_sine")
	require.Error(t, gone.err)
	assert.Equal(t, ExitCommandError, GetExitCode(gone.err))
	assert.Equal(t, ErrCodeNotFound, decodeError(t, gone.out).Code)
}

func TestPatterns_Prune(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, runCLI(t, dir, "catalog", "init").err)

	run := runCLI(t, dir, "--format", "json", "patterns", "prune", "--days", "30")
	require.NoError(t, run.err)
	var res map[string]int64
	decodeData(t, run.out, &res)
	assert.Zero(t, res["deleted"], "freshly compiled patterns are kept")
}

func TestStats(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, runCLI(t, dir, "catalog", "init").err)

	run := runCLI(t, dir, "--format", "json", "stats")
	require.NoError(t, run.err)

	var report StatsReport
	decodeData(t, run.out, &report)
	assert.Equal(t, filepath.Join(dir, "patterns.db"), report.Database)
	assert.Positive(t, report.DatabaseBytes)
	assert.Equal(t, 10, report.Catalog.Entries)
	assert.Equal(t, 10, report.Catalog.Stored)
	assert.Equal(t, 6, report.Catalog.StoredByType["synth_def"])
	assert.Len(t, report.Pipeline.Stages, 3)
	assert.False(t, report.Memory.Monitoring)
	assert.InDelta(t, 0.85, report.Thresholds.High, 1e-9)

	text := runCLI(t, dir, "stats")
	require.NoError(t, text.err)
	assert.Contains(t, text.out, "Catalog:")
	assert.Contains(t, text.out, "synth_def")
}

func TestConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "tonegen.yaml")
	require.NoError(t, os.WriteFile(cfgPath, []byte("catalog:\n  prefer_patterns: false\n"), 0o644))

	run := runCLI(t, dir, "--config", cfgPath, "--format", "json", "generate", "440Hz sine wave")
	require.NoError(t, run.err)
	var res GenerateResult
	decodeData(t, run.out, &res)
	assert.False(t, res.FastPath)
	assert.Contains(t, res.Code, "SinOsc")

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("bogus: true\n"), 0o644))
	failed := runCLI(t, dir, "--config", bad, "stats")
	require.Error(t, failed.err)
	assert.Equal(t, ExitCommandError, GetExitCode(failed.err))
}
