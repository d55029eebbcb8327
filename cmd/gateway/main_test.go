package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	configPath, envFile = "", ".env"
	scoreMethod, scorePath = "POST", "/"
	for _, name := range []string{"config", "env-file"} {
		rootCmd.PersistentFlags().Lookup(name).Changed = false
	}

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&out)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestCheck_PrintsSummary(t *testing.T) {
	path := writeConfig(t, "gateway.yaml", "backend:\n  url: http://127.0.0.1:9000\nanomaly:\n  blockThreshold: 60\n")

	out, err := execute(t, "", "check", "--config", path)
	require.NoError(t, err)
	assert.Contains(t, out, "Backend: http://127.0.0.1:9000")
	assert.Contains(t, out, "Block threshold: 60")
	assert.Contains(t, out, "POST /login (2 fields)")
}

func TestCheck_RejectsInvalidConfig(t *testing.T) {
	path := writeConfig(t, "gateway.toml", "[limits]\nmaxBodyBytes = 0\n")

	_, err := execute(t, "", "check", "--config", path)
	assert.Error(t, err)
}

func TestScore_FromStdin(t *testing.T) {
	out, err := execute(t, "'; DROP TABLE users; UNION SELECT *", "score")
	require.NoError(t, err)
	assert.Contains(t, out, "Score: 120 (threshold 70)")
	assert.Contains(t, out, "Keywords: drop, select *, union")
	assert.Contains(t, out, "Decision: block 403")
}

func TestScore_FileAndSchema(t *testing.T) {
	body := writeConfig(t, "body.json", `{"username":"alice_01","password":"hunter22"}`)

	out, err := execute(t, "", "score", "--path", "/login", body)
	require.NoError(t, err)
	assert.Contains(t, out, "Decision: allow")

	bad := writeConfig(t, "bad.json", `{"username":"a!","password":"hunter22"}`)
	out, err = execute(t, "", "score", "-p", "/login", bad)
	require.NoError(t, err)
	assert.Contains(t, out, "Decision: reject 422")
}

func TestEnvFile_ExplicitMissingFails(t *testing.T) {
	_, err := execute(t, "", "check", "--env-file", filepath.Join(t.TempDir(), "missing.env"))
	assert.Error(t, err)
}

func TestEnvFile_Loaded(t *testing.T) {
	env := writeConfig(t, "test.env", "BLOCK_THRESHOLD=55\n")
	t.Setenv("BLOCK_THRESHOLD", "")
	require.NoError(t, os.Unsetenv("BLOCK_THRESHOLD"))

	out, err := execute(t, "", "check", "--env-file", env)
	require.NoError(t, err)
	assert.Contains(t, out, "Block threshold: 55")
}
