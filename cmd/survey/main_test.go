package main

import (
	"bytes"
	"encoding/csv"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/niikun/social-listening/internal/model"
)

func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	t.Setenv("LLM_PROVIDER", "simulation")
	t.Setenv("SEARCH_ENABLED", "false")

	var stdout, stderr bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	err := root.Execute()
	return stdout.String(), stderr.String(), err
}

func TestPersonasCmd(t *testing.T) {
	out, _, err := execute(t, "personas", "--count", "3", "--seed", "9")
	require.NoError(t, err)

	var personas []model.Persona
	require.NoError(t, json.Unmarshal([]byte(out), &personas))
	assert.Len(t, personas, 3)

	again, _, err := execute(t, "personas", "--count", "3", "--seed", "9")
	require.NoError(t, err)
	assert.Equal(t, out, again)

	_, _, err = execute(t, "personas", "--count", "0")
	assert.Equal(t, exitConfig, exitCode(err))
}

func TestRunCmd_CSV(t *testing.T) {
	out, stderr, err := execute(t, "run", "-q", "Should the town build a new library?", "-n", "4", "--seed", "1", "--no-search")
	require.NoError(t, err)

	rows, err := csv.NewReader(bytes.NewBufferString(out)).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 5)
	assert.Contains(t, stderr, "4/4 answered")
	assert.Contains(t, stderr, "ok 4")
}

func TestRunCmd_JSONFileWithInsight(t *testing.T) {
	path := filepath.Join(t.TempDir(), "run.json")
	_, stderr, err := execute(t, "run", "-q", "Is remote work good for cities?", "-n", "3", "--seed", "2",
		"--format", "json", "--out", path, "--insight")
	require.NoError(t, err)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	var rows []map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &rows))
	assert.Len(t, rows, 3)
	assert.Contains(t, stderr, "[Key themes]")
}

func TestRunCmd_ConfigErrors(t *testing.T) {
	_, _, err := execute(t, "run", "-q", "   ")
	require.Error(t, err)
	assert.Equal(t, exitConfig, exitCode(err))

	_, _, err = execute(t, "run", "-q", "ok?", "--format", "xml")
	assert.Equal(t, exitConfig, exitCode(err))

	_, _, err = execute(t, "run", "-q", "ok?", "--concurrency", "0")
	assert.Equal(t, exitConfig, exitCode(err))
}

func TestPreflightCmd(t *testing.T) {
	out, _, err := execute(t, "preflight")
	require.NoError(t, err)

	var caps model.Capabilities
	require.NoError(t, json.Unmarshal([]byte(out), &caps))
	assert.True(t, caps.ModelOK)
	assert.Equal(t, model.SearchDisabled, caps.SearchMode)
}

type closeFailer struct {
	bytes.Buffer
	err error
}

func (c *closeFailer) Close() error { return c.err }

func TestWriteAndClose(t *testing.T) {
	run := &model.SurveyRun{ID: "r1", Question: model.SurveyQuestion{Text: "q"}}
	errDisk := errors.New("disk full")

	wc := &closeFailer{err: errDisk}
	assert.ErrorIs(t, writeAndClose(wc, "json", run), errDisk)
	assert.NotZero(t, wc.Len())

	ok := &closeFailer{}
	require.NoError(t, writeAndClose(ok, "csv", run))
	rows, err := csv.NewReader(&ok.Buffer).ReadAll()
	require.NoError(t, err)
	assert.Len(t, rows, 1)
}
