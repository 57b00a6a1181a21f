package main

import (
	"bytes"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const letter = "Write to jane.doe@example.com or call (555) 123-4567. Copy jane.doe@example.com too.\n"

// isolate points the store at a temp dir and turns the model off so tests
// never touch the network or the working directory.
func isolate(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	t.Setenv("STORE_PATH", filepath.Join(dir, "sessions.db"))
	t.Setenv("USE_NER", "false")
	return dir
}

// run executes the CLI with args and stdin, returning stdout and stderr.
func run(t *testing.T, stdin string, args ...string) (string, string, error) {
	t.Helper()
	var stdout, stderr bytes.Buffer
	cmd := newRootCmd()
	cmd.SetArgs(append([]string{"--config", filepath.Join(t.TempDir(), "none.json")}, args...))
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

var sessionLine = regexp.MustCompile(`session: (\S+)`)

func sessionOf(t *testing.T, stderr string) string {
	t.Helper()
	m := sessionLine.FindStringSubmatch(stderr)
	require.NotNil(t, m, "no session in stderr:\n%s", stderr)
	return m[1]
}

func TestAnonymizeAndRestoreBySession(t *testing.T) {
	isolate(t)

	out, errOut, err := run(t, letter, "anonymize")
	require.NoError(t, err)
	assert.Equal(t, "Write to [EMAIL_1] or call [PHONE_1]. Copy [EMAIL_1] too.\n", out)
	assert.Contains(t, errOut, "entities: 3 (2 unique)")

	restored, _, err := run(t, out, "restore", "--session", sessionOf(t, errOut))
	require.NoError(t, err)
	assert.Equal(t, letter, restored)
}

func TestAnonymizeOutDirAndRestoreFromMappingFile(t *testing.T) {
	dir := isolate(t)
	in := filepath.Join(dir, "letter.txt")
	require.NoError(t, os.WriteFile(in, []byte(letter), 0600))
	outDir := filepath.Join(dir, "output")

	stdout, _, err := run(t, "", "anonymize", in, "--out", outDir)
	require.NoError(t, err)
	assert.Empty(t, stdout, "text goes to files when --out is set")

	for _, name := range []string{anonymizedFile, originalFile, mappingsFile, statisticsFile} {
		assert.FileExists(t, filepath.Join(outDir, name))
	}
	original, err := os.ReadFile(filepath.Join(outDir, originalFile))
	require.NoError(t, err)
	assert.Equal(t, letter, string(original))

	mappings, err := os.ReadFile(filepath.Join(outDir, mappingsFile))
	require.NoError(t, err)
	assert.Contains(t, string(mappings), "[EMAIL_1] → 'jane.doe@example.com'")

	stats, err := os.ReadFile(filepath.Join(outDir, statisticsFile))
	require.NoError(t, err)
	assert.Contains(t, string(stats), "Total entities found: 3")

	restored, _, err := run(t, "", "restore", filepath.Join(outDir, anonymizedFile),
		"--mapping", filepath.Join(outDir, mappingsFile))
	require.NoError(t, err)
	assert.Equal(t, letter, restored)
}

func TestAnonymizeJSON(t *testing.T) {
	isolate(t)
	body := `{"to":"jane.doe@example.com","notes":["call (555) 123-4567"]}`

	out, errOut, err := run(t, body, "anonymize", "--json")
	require.NoError(t, err)
	assert.JSONEq(t, `{"to":"[EMAIL_1]","notes":["call [PHONE_1]"]}`, out)

	restored, _, err := run(t, out, "restore", "--json", "--session", sessionOf(t, errOut))
	require.NoError(t, err)
	assert.JSONEq(t, body, restored)
}

func TestAnonymizeMetricsFlag(t *testing.T) {
	isolate(t)
	_, errOut, err := run(t, letter, "anonymize", "--metrics")
	require.NoError(t, err)
	assert.Contains(t, errOut, `"placeholdersCreated": 2`)
}

func TestRestoreNeedsExactlyOneSource(t *testing.T) {
	isolate(t)
	_, _, err := run(t, "x", "restore")
	assert.Error(t, err)

	_, _, err = run(t, "x", "restore", "--session", "a", "--mapping", "b")
	assert.Error(t, err)
}

func TestForget(t *testing.T) {
	isolate(t)
	out, errOut, err := run(t, letter, "anonymize")
	require.NoError(t, err)
	session := sessionOf(t, errOut)

	_, _, err = run(t, "", "forget", session)
	require.NoError(t, err)

	_, _, err = run(t, out, "restore", "--session", session)
	assert.Error(t, err)
}

func TestInvalidConfigFails(t *testing.T) {
	isolate(t)
	t.Setenv("WORKERS", "0")
	_, _, err := run(t, letter, "anonymize")
	assert.Error(t, err)
}
