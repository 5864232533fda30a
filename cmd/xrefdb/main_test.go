package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jward/xrefdb"
	"github.com/jward/xrefdb/internal/model"
	"github.com/jward/xrefdb/internal/symbols"
)

// runCLI executes the root command with args and returns what it wrote to
// stdout. Commands share package-level flags, so callers must not run in
// parallel.
func runCLI(t *testing.T, args ...string) (string, error) {
	t.Helper()
	flagDB, flagConfig, flagFormat, flagLogLevel = "", "", "json", ""
	flagForce, flagWorkers, flagScriptsDir = false, 0, ""

	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetArgs(args)
	err := rootCmd.Execute()
	return out.String(), err
}

func writeSource(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

// =============================================================================
// Formatting
// =============================================================================

func TestValidateFormat(t *testing.T) {
	t.Parallel()
	assert.NoError(t, validateFormat("json"))
	assert.NoError(t, validateFormat("text"))
	assert.ErrorContains(t, validateFormat("yaml"), `invalid format "yaml"`)
}

func TestLinkToCLI_Status(t *testing.T) {
	t.Parallel()
	target := &model.Topic{TopicID: 7, Symbol: symbols.SymbolString("main.Greet")}

	resolved := linkToCLI(&xrefdb.ResolvedLink{
		Link:   &model.Link{LinkID: 1, Type: model.LinkNaturalDocs, TextOrSymbol: "Greet", TargetTopicID: 7, TargetScore: 42},
		Target: target,
	})
	assert.Equal(t, linkStatusResolved, resolved.Status)
	assert.Equal(t, "main.Greet", resolved.Target)
	assert.Equal(t, int64(42), resolved.Score)

	none := linkToCLI(&xrefdb.ResolvedLink{Link: &model.Link{LinkID: 2, TargetTopicID: model.TargetNone}})
	assert.Equal(t, linkStatusNoTarget, none.Status)
	assert.Zero(t, none.TargetID)

	pending := linkToCLI(&xrefdb.ResolvedLink{Link: &model.Link{LinkID: 3}})
	assert.Equal(t, linkStatusUnresolved, pending.Status)
}

func TestTopicToCLI_TypeIsScriptKey(t *testing.T) {
	t.Parallel()
	reg := model.DefaultRegistry()
	fn, ok := reg.TopicTypeByName("function")
	require.True(t, ok)
	goLang, ok := reg.LanguageByName("Go")
	require.True(t, ok)

	c := topicToCLI(reg, &model.Topic{TopicID: 3, TopicTypeID: fn.ID, LanguageID: goLang.ID, Symbol: symbols.SymbolString("main.Run")})
	assert.Equal(t, "function", c.Type)
	assert.Equal(t, "Go", c.Language)
	assert.Equal(t, "main.Run", c.Symbol)
}

func TestOutputResultText_UnsupportedType(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	err := outputResultText(&buf, CLIResult{Results: 3})
	assert.ErrorContains(t, err, "unsupported result type")
}

func TestFormatLinksText(t *testing.T) {
	t.Parallel()
	var buf bytes.Buffer
	formatLinksText(&buf, []CLILink{
		{ID: 1, Type: "NaturalDocs", Text: "Greet", Status: linkStatusResolved, TargetID: 4, Target: "main.Greet"},
		{ID: 2, Type: "NaturalDocs", Text: "Missing", Status: linkStatusNoTarget},
	})
	out := buf.String()
	assert.Contains(t, out, "main.Greet (#4)")
	assert.Contains(t, out, "no_target")
}

// =============================================================================
// Commands
// =============================================================================

type ingestEnvelope struct {
	Command string           `json:"command"`
	Results CLIIngestSummary `json:"results"`
	Error   string           `json:"error"`
}

type topicsEnvelope struct {
	Results    []CLITopic `json:"results"`
	TotalCount int        `json:"total_count"`
}

func TestCLI_IngestAndQuery(t *testing.T) {
	dir := t.TempDir()
	src := filepath.Join(dir, "src")
	require.NoError(t, os.Mkdir(src, 0o755))
	writeSource(t, src, "greeter.go", "package main\n\nfunc Greet(name string) string { return name }\n")
	caller := writeSource(t, src, "caller.go", "package main\n\n// Run calls <Greet> and <Missing>.\nfunc Run() {}\n")
	db := filepath.Join(dir, "test.db")

	out, err := runCLI(t, "ingest", "--db", db, "--log-level", "error", src)
	require.NoError(t, err)
	var ingest ingestEnvelope
	require.NoError(t, json.Unmarshal([]byte(out), &ingest))
	assert.Equal(t, "ingest", ingest.Command)
	assert.Equal(t, 2, ingest.Results.Ingested)
	require.NotNil(t, ingest.Results.Stats)
	assert.Equal(t, 2, ingest.Results.Stats.Links)
	assert.Equal(t, 1, ingest.Results.Stats.Resolved)
	assert.Equal(t, 1, ingest.Results.Stats.NoTarget)
	assert.Zero(t, ingest.Results.Stats.Pending)

	out, err = runCLI(t, "topics", "--db", db, "--log-level", "error", caller)
	require.NoError(t, err)
	var topics topicsEnvelope
	require.NoError(t, json.Unmarshal([]byte(out), &topics))
	require.Equal(t, 1, topics.TotalCount)
	assert.Equal(t, "main.Run", topics.Results[0].Symbol)
	assert.Equal(t, "function", topics.Results[0].Type)
	assert.Equal(t, "Go", topics.Results[0].Language)

	out, err = runCLI(t, "links", "--db", db, "--log-level", "error", "--format", "text", caller)
	require.NoError(t, err)
	assert.Contains(t, out, "main.Greet")
	assert.Contains(t, out, "no_target")

	out, err = runCLI(t, "ingest", "--db", db, "--log-level", "error", src)
	require.NoError(t, err)
	require.NoError(t, json.Unmarshal([]byte(out), &ingest))
	assert.Equal(t, 2, ingest.Results.Unchanged)

	out, err = runCLI(t, "stats", "--db", db, "--log-level", "error", "--format", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "Files:       2 (images 0)")
	assert.Contains(t, out, "Image links: 0 (resolved 0)")
}

func TestCLI_TopicsUnknownFileWritesErrorEnvelope(t *testing.T) {
	db := filepath.Join(t.TempDir(), "test.db")
	out, err := runCLI(t, "topics", "--db", db, "--log-level", "error", "nowhere.go")
	require.Error(t, err)
	assert.True(t, errorHandled)

	var result CLIResult
	require.NoError(t, json.Unmarshal([]byte(out), &result))
	assert.Equal(t, "topics", result.Command)
	assert.NotEmpty(t, result.Error)
}

func TestCLI_InvalidFormat(t *testing.T) {
	_, err := runCLI(t, "stats", "--format", "yaml")
	assert.ErrorContains(t, err, "invalid format")
}
