package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/adalundhe/scopechain/core/config"
)

const passingScenario = `name: passing
steps:
  - bind: {id: counter, value: 1}
  - scope:
      name: child
      steps:
        - bind: {id: local, value: x}
        - mutate: {id: counter, value: 2}
  - access: {id: counter, expect: 2}
`

const failingScenario = `name: failing
steps:
  - bind: {id: key, value: foo}
  - access: {id: key, expect: bar}
`

func writeScenario(t *testing.T, dir, name, body string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o644))
	return path
}

func testOptions(paths ...string) runOptions {
	return runOptions{
		Paths:  paths,
		Config: config.DefaultConfig(),
		Logger: slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil)),
	}
}

func TestRunCmd_Definition(t *testing.T) {
	assert.Equal(t, "run <scenario.yaml>...", runCmd.Use)

	flags := runCmd.Flags()
	configFlag := flags.Lookup("config")
	require.NotNil(t, configFlag)
	assert.Equal(t, "c", configFlag.Shorthand)

	watchFlag := flags.Lookup("watch")
	require.NotNil(t, watchFlag)
	assert.Equal(t, "w", watchFlag.Shorthand)
	assert.Equal(t, "false", watchFlag.DefValue)

	assert.NotNil(t, flags.Lookup("show"))
	assert.NotNil(t, flags.Lookup("json"))
}

func TestExecuteScenarios_Text(t *testing.T) {
	dir := t.TempDir()
	pass := writeScenario(t, dir, "pass.yaml", passingScenario)
	fail := writeScenario(t, dir, "fail.yaml", failingScenario)

	var out bytes.Buffer
	ok, err := executeScenarios(context.Background(), &out, testOptions(pass, fail))
	require.NoError(t, err)
	assert.False(t, ok)

	s := out.String()
	assert.Contains(t, s, "PASS")
	assert.Contains(t, s, "FAIL")
	assert.Contains(t, s, "got foo, want bar")
	assert.Contains(t, s, "[main/child] mutate counter = 2 (depth 1)")
	assert.Contains(t, s, "1/2 scenarios passed")
}

func TestExecuteScenarios_JSONWithFrames(t *testing.T) {
	dir := t.TempDir()
	pass := writeScenario(t, dir, "pass.yaml", passingScenario)

	opts := testOptions(pass)
	opts.JSON = true
	opts.Show = "lo*"

	var out bytes.Buffer
	ok, err := executeScenarios(context.Background(), &out, opts)
	require.NoError(t, err)
	assert.True(t, ok)

	var report runReport
	require.NoError(t, json.Unmarshal(out.Bytes(), &report))
	require.Len(t, report.Scenarios, 1)
	assert.Equal(t, "passing", report.Scenarios[0].Name)
	assert.True(t, report.Scenarios[0].Passed)
	assert.NotEmpty(t, report.Scenarios[0].Trace)

	require.Len(t, report.Frames, 1)
	assert.Equal(t, 1, report.Frames[0].Depth)
	require.Len(t, report.Frames[0].Bindings, 1)
	assert.Equal(t, "local", report.Frames[0].Bindings[0].Identifier)
	assert.Equal(t, "x", report.Frames[0].Bindings[0].Value)
}

func TestExecuteScenarios_InvalidPattern(t *testing.T) {
	dir := t.TempDir()
	pass := writeScenario(t, dir, "pass.yaml", passingScenario)

	opts := testOptions(pass)
	opts.Show = "[unterminated"
	_, err := executeScenarios(context.Background(), &bytes.Buffer{}, opts)
	assert.Error(t, err)
}

func TestExecuteScenarios_UnreadableFile(t *testing.T) {
	var out bytes.Buffer
	ok, err := executeScenarios(context.Background(), &out, testOptions(filepath.Join(t.TempDir(), "missing.yaml")))
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Contains(t, out.String(), "ERROR")
	assert.Contains(t, out.String(), "0/1 scenarios passed")
}

func TestRunCmd_Execute(t *testing.T) {
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
	dir := t.TempDir()
	pass := writeScenario(t, dir, "pass.yaml", passingScenario)
	fail := writeScenario(t, dir, "fail.yaml", failingScenario)
	cfgFile := writeScenario(t, dir, "config.yaml", "log:\n  level: error\n  format: text\n")
	t.Cleanup(func() {
		runConfigFiles, runShow, runWatch, runJSON = nil, "", false, false
		rootCmd.SetArgs(nil)
	})

	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)

	rootCmd.SetArgs([]string{"run", "--config", cfgFile, pass})
	require.NoError(t, rootCmd.Execute())
	assert.Contains(t, out.String(), "1/1 scenarios passed")

	out.Reset()
	rootCmd.SetArgs([]string{"run", "--config", cfgFile, fail})
	assert.ErrorIs(t, rootCmd.Execute(), ErrScenariosFailed)

	rootCmd.SetArgs([]string{"run", "--config", filepath.Join(dir, "absent.yaml"), pass})
	assert.Error(t, rootCmd.Execute())
}

func TestFileWatcher_ReportsChanges(t *testing.T) {
	dir := t.TempDir()
	path := writeScenario(t, dir, "watched.yaml", passingScenario)
	writeScenario(t, dir, "ignored.yaml", passingScenario)

	fw, err := newFileWatcher([]string{path}, 10*time.Millisecond, slog.Default())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	changes := make(chan []string, 1)
	done := make(chan error, 1)
	go func() {
		done <- fw.Run(ctx, func(changed []string) {
			changes <- changed
			cancel()
		})
	}()

	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.yaml"), []byte("x"), 0o644))
	require.NoError(t, os.WriteFile(path, []byte(failingScenario), 0o644))

	select {
	case changed := <-changes:
		abs, _ := filepath.Abs(path)
		assert.Equal(t, []string{abs}, changed)
	case <-ctx.Done():
		t.Fatal("no change reported")
	}
	assert.NoError(t, <-done)
}

func TestNewLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(&buf, config.LogConfig{Level: "warn", Format: "auto"})
	logger.Info("hidden")
	logger.Warn("shown", "k", "v")

	var entry map[string]any
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry), "non-terminal writers get JSON")
	assert.Equal(t, "shown", entry["msg"])

	buf.Reset()
	newLogger(&buf, config.LogConfig{Level: "debug", Format: "text"}).Debug("plain")
	assert.Contains(t, buf.String(), "msg=plain")
}

func TestParseLevel(t *testing.T) {
	assert.Equal(t, slog.LevelDebug, parseLevel("debug"))
	assert.Equal(t, slog.LevelError, parseLevel("error"))
	assert.Equal(t, slog.LevelInfo, parseLevel("nonsense"))
}

func TestVersionCmd(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)
	assert.Contains(t, out.String(), "scopechain dev")
}
