package main

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bookleaf/assist/internal/confidence"
	"github.com/bookleaf/assist/internal/identity"
	"github.com/bookleaf/assist/internal/intent"
	"github.com/bookleaf/assist/pkg/types"
)

func setupEnv(t *testing.T) string {
	t.Helper()
	dbPath := filepath.Join(t.TempDir(), "bookleaf.db")
	t.Setenv("BOOKLEAF_STORAGE_ENGINE", "sqlite")
	t.Setenv("BOOKLEAF_DATA_PATH", dbPath)
	t.Setenv("BOOKLEAF_LLM_PROVIDER", "none")
	t.Setenv("BOOKLEAF_LOG_LEVEL", "error")
	t.Setenv("BOOKLEAF_CONFIDENCE_WEIGHTS", "")
	t.Setenv("BOOKLEAF_CONFIDENCE_THRESHOLD", "")
	return dbPath
}

func runCLI(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCommand()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	cmd.SetIn(strings.NewReader(stdin))
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSeedThenResolve(t *testing.T) {
	setupEnv(t)

	out, err := runCLI(t, "", "seed")
	require.NoError(t, err)
	assert.Contains(t, out, "Authors created: 5")

	out, err = runCLI(t, "", "resolve", "--email", "Sarah.Johnson@example.com", "--platform", "web_chat")
	require.NoError(t, err)

	var resp identity.Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.True(t, resp.Success)
	assert.Equal(t, types.MethodExactMatch, resp.Method)
	assert.Equal(t, "Sarah Johnson", resp.Author.FullName)

	out, err = runCLI(t, "", "identities", resp.Author.ID)
	require.NoError(t, err)
	assert.Contains(t, out, "Sarah Johnson")
	assert.Contains(t, out, "whatsapp")
	assert.Contains(t, out, "web_chat")

	out, err = runCLI(t, "", "seed")
	require.NoError(t, err)
	assert.Contains(t, out, "Authors created: 0")
}

func TestResolveCreatesAuthorForUnknownContact(t *testing.T) {
	setupEnv(t)

	out, err := runCLI(t, "", "resolve", "--name", "Jane Doe", "--email", "jane@example.com", "--platform", "email")
	require.NoError(t, err)

	var resp identity.Response
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, types.MethodNewIdentity, resp.Method)
	assert.Equal(t, 0.5, resp.Confidence)
	assert.Equal(t, "jane@example.com", resp.Identity.PlatformIdentifier)
}

func TestResolveFromTextFlag(t *testing.T) {
	setupEnv(t)

	out, err := runCLI(t, "", "resolve", "--text", "hi, this is jane@example.com", "--platform", "web_chat")
	require.NoError(t, err)
	assert.Contains(t, out, `"email": "jane@example.com"`)

	_, err = runCLI(t, "", "resolve", "--text", "no identifiers here", "--platform", "web_chat")
	assert.ErrorIs(t, err, identity.ErrInsufficientIdentifiers)
}

func TestResolveRejectsEmptyRequest(t *testing.T) {
	setupEnv(t)

	_, err := runCLI(t, "", "resolve", "--platform", "web_chat")
	assert.ErrorIs(t, err, identity.ErrInsufficientIdentifiers)
}

func TestResolveBatch(t *testing.T) {
	setupEnv(t)
	input := strings.Join([]string{
		`{"name": "Ada Writer", "email": "ada@example.com", "platform": "email"}`,
		`not json`,
		``,
		`{"phone": "+1 415 555 0199", "platform": "whatsapp"}`,
		`{"platform": "email"}`,
	}, "\n")

	metricsPath := filepath.Join(t.TempDir(), "resolve.prom")
	out, err := runCLI(t, input, "resolve-batch", "--workers", "2", "--metrics-out", metricsPath)
	require.NoError(t, err)

	var results []batchResult
	scanner := bufio.NewScanner(strings.NewReader(out))
	for scanner.Scan() {
		var r batchResult
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &r))
		results = append(results, r)
	}
	require.Len(t, results, 4)

	assert.Equal(t, 1, results[0].Line)
	assert.True(t, results[0].Success)
	assert.Equal(t, types.MethodNewIdentity, results[0].Method)

	assert.Equal(t, 2, results[1].Line)
	assert.False(t, results[1].Success)
	assert.Contains(t, results[1].Error, "invalid request JSON")

	assert.Equal(t, 4, results[2].Line)
	assert.True(t, results[2].Success)

	assert.Equal(t, 5, results[3].Line)
	assert.False(t, results[3].Success)
	assert.NotEmpty(t, results[3].Error)

	metrics, err := os.ReadFile(metricsPath)
	require.NoError(t, err)
	assert.Contains(t, string(metrics), `bookleaf_identity_resolutions_total{method="new_identity_created"} 2`)
	assert.Contains(t, string(metrics), "bookleaf_identity_rejected_requests_total 1")
}

func TestReadBatchKeepsLineNumbers(t *testing.T) {
	reqs, err := readBatch(strings.NewReader("\n{\"email\":\"a@example.com\",\"platform\":\"email\"}\n{bad\n"))
	require.NoError(t, err)
	require.Len(t, reqs, 2)
	assert.Equal(t, 2, reqs[0].line)
	assert.NoError(t, reqs[0].err)
	assert.Equal(t, "a@example.com", reqs[0].req.Email)
	assert.Equal(t, 3, reqs[1].line)
	assert.Error(t, reqs[1].err)
}

func TestScoreTable(t *testing.T) {
	setupEnv(t)

	out, err := runCLI(t, "", "score", "--identity", "1.0", "--intent", "0.92", "--retrieval", "0.85", "--generation", "0.75")
	require.NoError(t, err)
	assert.Contains(t, out, "0.884")
	assert.Contains(t, out, "auto_respond")
	assert.Contains(t, out, "generation *")
	assert.NotContains(t, out, "Escalation:")
}

func TestScoreJSON(t *testing.T) {
	setupEnv(t)

	out, err := runCLI(t, "", "score", "--identity", "0.5", "--intent", "0.45", "--retrieval", "0.4", "--generation", "0.5", "--json")
	require.NoError(t, err)

	var got struct {
		confidence.Breakdown
		Explanation string `json:"explanation"`
		Escalation  string `json:"escalation_reason"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.InDelta(t, 0.465, got.Overall, 1e-9)
	assert.Equal(t, confidence.ActionEscalate, got.Action)
	assert.Equal(t, confidence.FactorRetrieval, got.Weakest.Name)
	assert.Contains(t, got.Escalation, "No relevant knowledge base information found")
	assert.NotEmpty(t, got.Explanation)
}

func TestScoreOverrides(t *testing.T) {
	setupEnv(t)

	out, err := runCLI(t, "", "score", "--identity", "1", "--weights", "1,0,0,0", "--threshold", "0.9", "--json")
	require.NoError(t, err)
	assert.Contains(t, out, `"overall_confidence": 1`)
	assert.Contains(t, out, `"threshold": 0.9`)

	_, err = runCLI(t, "", "score", "--identity", "1", "--weights", "1,0,0")
	assert.Error(t, err)

	_, err = runCLI(t, "", "score", "--identity", "1", "--threshold", "1.5")
	assert.ErrorIs(t, err, confidence.ErrInvalidThreshold)
}

func TestClassifyRules(t *testing.T) {
	setupEnv(t)

	out, err := runCLI(t, "", "classify", "When", "will", "I", "get", "paid?")
	require.NoError(t, err)

	var c intent.Classification
	require.NoError(t, json.Unmarshal([]byte(out), &c))
	assert.Equal(t, intent.RoyaltyInquiry, c.Intent)
	assert.Equal(t, 0.8, c.Confidence)

	_, err = runCLI(t, "", "classify")
	assert.Error(t, err)
}

func TestConfigFileFlag(t *testing.T) {
	setupEnv(t)
	path := filepath.Join(t.TempDir(), "bookleaf.yaml")
	require.NoError(t, os.WriteFile(path, []byte("confidence:\n  threshold: 0.4\n"), 0o600))

	out, err := runCLI(t, "", "--config", path, "score", "--identity", "0.5", "--intent", "0.45", "--retrieval", "0.4", "--generation", "0.5")
	require.NoError(t, err)
	assert.Contains(t, out, "auto_respond")

	_, err = runCLI(t, "", "--config", filepath.Join(t.TempDir(), "missing.yaml"), "score")
	assert.Error(t, err)

	_, err = runCLI(t, "", "--log-level", "loud", "score")
	assert.Error(t, err)
}

func TestIdentitiesUnknownAuthor(t *testing.T) {
	setupEnv(t)

	_, err := runCLI(t, "", "identities", "does-not-exist")
	assert.Error(t, err)
}

func TestSnapshot(t *testing.T) {
	setupEnv(t)
	_, err := runCLI(t, "", "seed")
	require.NoError(t, err)

	dest := filepath.Join(t.TempDir(), "snap.db")
	out, err := runCLI(t, "", "snapshot", "--out", dest)
	require.NoError(t, err)
	assert.Contains(t, out, dest)
	_, err = os.Stat(dest)
	assert.NoError(t, err)

	t.Setenv("BOOKLEAF_STORAGE_ENGINE", "memory")
	_, err = runCLI(t, "", "snapshot", "--out", filepath.Join(t.TempDir(), "mem.db"))
	assert.ErrorContains(t, err, "does not support snapshots")
}
