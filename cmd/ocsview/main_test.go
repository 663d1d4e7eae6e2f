// Package main contains tests for the ocsview CLI entrypoint and its
// console and JSON output behavior.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
)

func TestCLIVersion(t *testing.T) {
	isolateConfig(t)

	root := newRootCmd()
	root.SetArgs([]string{"version"})

	output, err := executeCommand(root)
	if err != nil {
		t.Fatalf("command returned error: %v\nOutput: %s", err, output)
	}
	expectContains(t, output, "ocsview version: dev", "version banner missing")
}

func TestCLIInspectConsole(t *testing.T) {
	isolateConfig(t)
	dir := t.TempDir()
	left := writeTempDoc(t, dir, "a.json", `{"x": 1}`)
	right := writeTempDoc(t, dir, "b.json", `{"x": 2}`)

	root := newRootCmd()
	root.SetArgs([]string{"inspect", left, right, "--color", "never"})

	output, err := executeCommand(root)
	if err != nil {
		t.Fatalf("command returned error: %v\nOutput: %s", err, output)
	}

	expectContains(t, output, "OCS Configuration Report", "report banner missing")
	expectContains(t, output, "FILE", "files table header missing")
	expectContains(t, output, "a.json", "left file missing from files table")
	expectContains(t, output, "b.json", "right file missing from files table")
	expectContains(t, output, "Files loaded: 2", "summary file count missing")
	expectContains(t, output, "Pairs compared: 1", "summary pair count missing")
	expectContains(t, output, "Pairs with differences: 1", "summary divergence count missing")
	expectContains(t, output, "~ x: 1 -> 2", "changed field line missing")
	if strings.Contains(output, "\x1b[") {
		t.Errorf("expected no ANSI sequences with --color never, got %q", output)
	}
}

func TestCLIInspectJSON(t *testing.T) {
	isolateConfig(t)
	dir := t.TempDir()
	left := writeTempDoc(t, dir, "a.json", `{"x": 1}`)
	right := writeTempDoc(t, dir, "b.json", `{"x": 2}`)

	root := newRootCmd()
	root.SetArgs([]string{"inspect", left, right, "--output", "json", "--json-indent"})

	output, err := executeCommand(root)
	if err != nil {
		t.Fatalf("command returned error: %v\nOutput: %s", err, output)
	}

	var parsed struct {
		Version string `json:"cliVersion"`
		Files   []struct {
			Name       string `json:"name"`
			FieldCount int    `json:"field_count"`
		} `json:"files"`
		Pairs []struct {
			Left  string `json:"left"`
			Right string `json:"right"`
			Stats struct {
				Changed int `json:"changed"`
				Total   int `json:"total"`
			} `json:"stats"`
		} `json:"pairs"`
		Heatmap []struct {
			Path string  `json:"path"`
			Max  float64 `json:"max"`
		} `json:"heatmap"`
		Summary struct {
			FileCount      int `json:"fileCount"`
			FieldCount     int `json:"fieldCount"`
			PairCount      int `json:"pairCount"`
			DifferingPairs int `json:"differingPairs"`
		} `json:"summary"`
	}
	if err := json.Unmarshal([]byte(output), &parsed); err != nil {
		t.Fatalf("failed to parse JSON output: %v\nOutput: %s", err, output)
	}

	if parsed.Version != "dev" {
		t.Errorf("expected cliVersion=dev, got %q", parsed.Version)
	}
	if parsed.Summary.FileCount != 2 {
		t.Errorf("expected fileCount=2, got %d", parsed.Summary.FileCount)
	}
	if parsed.Summary.FieldCount != 2 {
		t.Errorf("expected fieldCount=2, got %d", parsed.Summary.FieldCount)
	}
	if parsed.Summary.PairCount != 1 {
		t.Errorf("expected pairCount=1, got %d", parsed.Summary.PairCount)
	}
	if parsed.Summary.DifferingPairs != 1 {
		t.Errorf("expected differingPairs=1, got %d", parsed.Summary.DifferingPairs)
	}
	if len(parsed.Pairs) != 1 || parsed.Pairs[0].Stats.Changed != 1 {
		t.Errorf("expected one pair with one changed field, got %+v", parsed.Pairs)
	}
	if len(parsed.Heatmap) != 1 || parsed.Heatmap[0].Path != "x" {
		t.Errorf("expected heatmap row for x, got %+v", parsed.Heatmap)
	}

	// Pretty-print (indent) check: expect leading newline+two-spaces before a key
	if !strings.Contains(output, "\n  \"files\"") {
		t.Errorf("expected indented JSON output (--json-indent), pattern not found")
	}
}

func TestCLIInspectFullWithTooltips(t *testing.T) {
	isolateConfig(t)
	dir := t.TempDir()
	doc := writeTempDoc(t, dir, "app.json", `{"workflow": {"retries": 3}}`)
	tips := writeTempDoc(t, dir, "tips.yaml", "retries: Retry budget per step\n")
	cfgPath := writeTempConfig(t, fmt.Sprintf("tooltips:\n  path: %s\n", tips))

	root := newRootCmd()
	root.SetArgs([]string{"inspect", doc, "--full", "--tooltips", "--config", cfgPath, "--color", "never"})

	output, err := executeCommand(root)
	if err != nil {
		t.Fatalf("command returned error: %v\nOutput: %s", err, output)
	}

	expectContains(t, output, "app.json fields:", "field dump header missing")
	expectContains(t, output, "HELP", "help column missing")
	expectContains(t, output, "workflow.retries", "field path missing from dump")
	expectContains(t, output, "Retry budget per step", "tooltip text missing from dump")
	expectContains(t, output, "Pairs compared: 0", "single file should compare no pairs")
}

func TestCLISearchConsole(t *testing.T) {
	isolateConfig(t)
	dir := t.TempDir()
	left := writeTempDoc(t, dir, "a.json", `{"service": {"timeout": 30}}`)
	right := writeTempDoc(t, dir, "b.json", `{"service": {"timeout": 45, "retry": true}}`)

	root := newRootCmd()
	root.SetArgs([]string{"search", "timeout", left, right, "--color", "never"})

	output, err := executeCommand(root)
	if err != nil {
		t.Fatalf("command returned error: %v\nOutput: %s", err, output)
	}

	expectContains(t, output, `Search results for "timeout"`, "search banner missing")
	expectContains(t, output, "service.timeout", "matching path missing")
	expectContains(t, output, "30", "matching value missing")
	expectContains(t, output, "Matches: 2", "match count missing")
}

func TestCLISearchNoMatches(t *testing.T) {
	isolateConfig(t)
	dir := t.TempDir()
	doc := writeTempDoc(t, dir, "a.json", `{"x": 1}`)

	root := newRootCmd()
	root.SetArgs([]string{"search", "nosuchthing", doc, "--color", "never"})

	output, err := executeCommand(root)
	if err != nil {
		t.Fatalf("command returned error: %v\nOutput: %s", err, output)
	}
	expectContains(t, output, "no matches", "no-match notice missing")
}

func TestCLISearchJSON(t *testing.T) {
	isolateConfig(t)
	dir := t.TempDir()
	left := writeTempDoc(t, dir, "a.json", `{"service": {"timeout": 30}}`)
	right := writeTempDoc(t, dir, "b.json", `{"service": {"timeout": 45}}`)

	root := newRootCmd()
	root.SetArgs([]string{"search", "timeout", left, right, "--output", "json"})

	output, err := executeCommand(root)
	if err != nil {
		t.Fatalf("command returned error: %v\nOutput: %s", err, output)
	}

	var parsed struct {
		Query   string `json:"query"`
		Count   int    `json:"count"`
		Matches []struct {
			File  string `json:"file"`
			Path  string `json:"path"`
			Value string `json:"value"`
		} `json:"matches"`
	}
	if err := json.Unmarshal([]byte(output), &parsed); err != nil {
		t.Fatalf("failed to parse JSON output: %v\nOutput: %s", err, output)
	}
	if parsed.Query != "timeout" {
		t.Errorf("expected query=timeout, got %q", parsed.Query)
	}
	if parsed.Count != 2 || len(parsed.Matches) != 2 {
		t.Fatalf("expected 2 matches, got count=%d len=%d", parsed.Count, len(parsed.Matches))
	}
	if parsed.Matches[0].Path != "service.timeout" || parsed.Matches[0].Value != "30" {
		t.Errorf("unexpected first match: %+v", parsed.Matches[0])
	}
}

func TestCLIDiffConsole(t *testing.T) {
	isolateConfig(t)
	dir := t.TempDir()
	left := writeTempDoc(t, dir, "a.json", `{"x": 1, "y": "keep"}`)
	right := writeTempDoc(t, dir, "b.json", `{"x": 2, "y": "keep"}`)

	root := newRootCmd()
	root.SetArgs([]string{"diff", left, right, "--color", "never"})

	output, err := executeCommand(root)
	if err != nil {
		t.Fatalf("command returned error: %v\nOutput: %s", err, output)
	}
	expectContains(t, output, "a.json vs b.json", "diff header missing")
	expectContains(t, output, "~ x: 1 -> 2", "changed field line missing")
	expectContains(t, output, "0 added, 0 removed, 1 changed", "stats line missing")
}

func TestCLIDiffIdentical(t *testing.T) {
	isolateConfig(t)
	dir := t.TempDir()
	left := writeTempDoc(t, dir, "a.json", `{"x": 1}`)
	right := writeTempDoc(t, dir, "b.json", `{"x": 1}`)

	root := newRootCmd()
	root.SetArgs([]string{"diff", left, right, "--color", "never"})

	output, err := executeCommand(root)
	if err != nil {
		t.Fatalf("command returned error: %v\nOutput: %s", err, output)
	}
	expectContains(t, output, "documents are identical", "identical notice missing")
}

func TestCLIDiffPatch(t *testing.T) {
	isolateConfig(t)
	dir := t.TempDir()
	left := writeTempDoc(t, dir, "a.json", `{"x": 1}`)
	right := writeTempDoc(t, dir, "b.json", `{"x": 2}`)

	root := newRootCmd()
	root.SetArgs([]string{"diff", left, right, "--patch", "--color", "never"})

	output, err := executeCommand(root)
	if err != nil {
		t.Fatalf("command returned error: %v\nOutput: %s", err, output)
	}
	expectContains(t, output, "Merge patch (left -> right):", "patch header missing")
	expectContains(t, output, `"x": 2`, "patch body missing")
}

func TestCLIDiffColorsAlways(t *testing.T) {
	isolateConfig(t)
	dir := t.TempDir()
	left := writeTempDoc(t, dir, "a.json", `{"x": 1}`)
	right := writeTempDoc(t, dir, "b.json", `{"x": 2}`)

	root := newRootCmd()
	root.SetArgs([]string{"diff", left, right, "--color", "always"})

	output, err := executeCommand(root)
	if err != nil {
		t.Fatalf("command returned error: %v\nOutput: %s", err, output)
	}
	if !strings.Contains(output, "\x1b[") {
		t.Errorf("expected ANSI sequences with --color always, got %q", output)
	}
}

func TestCLIDiffJSON(t *testing.T) {
	isolateConfig(t)
	dir := t.TempDir()
	left := writeTempDoc(t, dir, "a.json", `{"x": 1}`)
	right := writeTempDoc(t, dir, "b.json", `{"x": 2}`)

	root := newRootCmd()
	root.SetArgs([]string{"diff", left, right, "--output", "json"})

	output, err := executeCommand(root)
	if err != nil {
		t.Fatalf("command returned error: %v\nOutput: %s", err, output)
	}

	var parsed struct {
		Pair struct {
			Left  string `json:"left"`
			Right string `json:"right"`
			Stats struct {
				Changed int `json:"changed"`
			} `json:"stats"`
			MergePatch map[string]any `json:"merge_patch"`
		} `json:"pair"`
	}
	if err := json.Unmarshal([]byte(output), &parsed); err != nil {
		t.Fatalf("failed to parse JSON output: %v\nOutput: %s", err, output)
	}
	if parsed.Pair.Left != "a.json" || parsed.Pair.Right != "b.json" {
		t.Errorf("unexpected pair names: %+v", parsed.Pair)
	}
	if parsed.Pair.Stats.Changed != 1 {
		t.Errorf("expected 1 changed field, got %d", parsed.Pair.Stats.Changed)
	}
	if got, ok := parsed.Pair.MergePatch["x"]; !ok || got != 2.0 {
		t.Errorf("expected merge patch {x: 2}, got %v", parsed.Pair.MergePatch)
	}
}

func TestCLIHeatmapConsole(t *testing.T) {
	isolateConfig(t)
	dir := t.TempDir()
	a := writeTempDoc(t, dir, "a.json", `{"host": "alpha", "port": 80}`)
	b := writeTempDoc(t, dir, "b.json", `{"host": "alpha", "port": 80}`)
	c := writeTempDoc(t, dir, "c.json", `{"host": "omega", "port": 80}`)

	root := newRootCmd()
	root.SetArgs([]string{"heatmap", a, b, c, "--color", "never"})

	output, err := executeCommand(root)
	if err != nil {
		t.Fatalf("command returned error: %v\nOutput: %s", err, output)
	}
	expectContains(t, output, "FIELD", "heatmap header missing")
	expectContains(t, output, "MAX", "max column missing")
	expectContains(t, output, "host", "host row missing")
	expectContains(t, output, "port", "port row missing")
	expectContains(t, output, "0.00", "cold score missing")
	expectContains(t, output, "0.80", "hot score missing")
	expectContains(t, output, "thresholds: warm >= 0.25, hot >= 0.60", "threshold footer missing")
}

func TestCLIHeatmapSortScoreTop(t *testing.T) {
	isolateConfig(t)
	dir := t.TempDir()
	a := writeTempDoc(t, dir, "a.json", `{"host": "alpha", "port": 80}`)
	b := writeTempDoc(t, dir, "b.json", `{"host": "omega", "port": 80}`)

	root := newRootCmd()
	root.SetArgs([]string{"heatmap", a, b, "--sort", "score", "--top", "1", "--color", "never"})

	output, err := executeCommand(root)
	if err != nil {
		t.Fatalf("command returned error: %v\nOutput: %s", err, output)
	}
	expectContains(t, output, "host", "hottest row missing")
	if strings.Contains(output, "port") {
		t.Errorf("expected port row to be cut by --top 1, output: %s", output)
	}
}

func TestCLIHeatmapJSON(t *testing.T) {
	isolateConfig(t)
	dir := t.TempDir()
	a := writeTempDoc(t, dir, "a.json", `{"host": "alpha"}`)
	b := writeTempDoc(t, dir, "b.json", `{"host": "omega"}`)

	root := newRootCmd()
	root.SetArgs([]string{"heatmap", a, b, "--output", "json"})

	output, err := executeCommand(root)
	if err != nil {
		t.Fatalf("command returned error: %v\nOutput: %s", err, output)
	}

	var parsed struct {
		Files []string `json:"files"`
		Pairs []string `json:"pairs"`
		Rows  []struct {
			Path   string             `json:"path"`
			Scores map[string]float64 `json:"scores"`
			Max    float64            `json:"max"`
		} `json:"rows"`
	}
	if err := json.Unmarshal([]byte(output), &parsed); err != nil {
		t.Fatalf("failed to parse JSON output: %v\nOutput: %s", err, output)
	}
	if len(parsed.Files) != 2 || len(parsed.Pairs) != 1 {
		t.Fatalf("expected 2 files and 1 pair, got %d/%d", len(parsed.Files), len(parsed.Pairs))
	}
	if parsed.Pairs[0] != "a.json / b.json" {
		t.Errorf("unexpected pair label %q", parsed.Pairs[0])
	}
	if len(parsed.Rows) != 1 || parsed.Rows[0].Path != "host" {
		t.Fatalf("expected one host row, got %+v", parsed.Rows)
	}
	if got := parsed.Rows[0].Scores["a.json / b.json"]; math.Abs(got-0.8) > 1e-9 {
		t.Errorf("expected host score 0.8, got %v", got)
	}
}

func TestCLIHeatmapRequiresTwoFiles(t *testing.T) {
	isolateConfig(t)
	dir := t.TempDir()
	doc := writeTempDoc(t, dir, "a.json", `{"x": 1}`)

	root := newRootCmd()
	root.SetArgs([]string{"heatmap", doc})

	output, err := executeCommand(root)
	if err == nil {
		t.Fatalf("expected error for single file, got success. Output: %s", output)
	}
	if !strings.Contains(err.Error(), "heatmap requires at least two documents") {
		t.Errorf("expected document count message in error: %v", err)
	}
}

func TestCLITooltips(t *testing.T) {
	isolateConfig(t)

	root := newRootCmd()
	root.SetArgs([]string{"tooltips", "--color", "never"})

	output, err := executeCommand(root)
	if err != nil {
		t.Fatalf("command returned error: %v\nOutput: %s", err, output)
	}
	expectContains(t, output, "KEY", "key column missing")
	expectContains(t, output, "workflow", "built-in key missing")
	expectContains(t, output, "Workflow definitions - sequence of services to run, retry logic.", "built-in text missing")
	expectContains(t, output, "Entries: 29", "entry count missing")
}

func TestCLITooltipsOverride(t *testing.T) {
	isolateConfig(t)
	dir := t.TempDir()
	tips := writeTempDoc(t, dir, "tips.yaml", "workflow: Custom workflow help\n")

	root := newRootCmd()
	root.SetArgs([]string{"tooltips", "--table", tips, "--color", "never"})

	output, err := executeCommand(root)
	if err != nil {
		t.Fatalf("command returned error: %v\nOutput: %s", err, output)
	}
	expectContains(t, output, "Custom workflow help", "override text missing")
	if strings.Contains(output, "sequence of services to run") {
		t.Errorf("expected override to replace the built-in workflow text, output: %s", output)
	}
}

func TestCLITooltipsBrokenOverride(t *testing.T) {
	isolateConfig(t)
	dir := t.TempDir()
	tips := writeTempDoc(t, dir, "tips.yaml", "workflow: [broken\n")

	root := newRootCmd()
	root.SetArgs([]string{"tooltips", "--table", tips, "--color", "never"})

	output, err := executeCommand(root)
	if err != nil {
		t.Fatalf("expected fallback to built-ins, got error: %v\nOutput: %s", err, output)
	}
	expectContains(t, output, "Workflow definitions - sequence of services to run, retry logic.", "built-in text missing after fallback")
	expectContains(t, output, "Entries: 29", "entry count missing")
}

func TestCLIInvalidColorFlag(t *testing.T) {
	isolateConfig(t)
	dir := t.TempDir()
	doc := writeTempDoc(t, dir, "a.json", `{"x": 1}`)

	root := newRootCmd()
	root.SetArgs([]string{"inspect", doc, "--color", "sometimes"})

	output, err := executeCommand(root)
	if err == nil {
		t.Fatalf("expected error for bad color value, got success. Output: %s", output)
	}
	if !strings.Contains(err.Error(), "unsupported --color value") {
		t.Errorf("expected color message in error: %v", err)
	}
}

func TestCLIUnsupportedOutputFormat(t *testing.T) {
	isolateConfig(t)
	dir := t.TempDir()
	doc := writeTempDoc(t, dir, "a.json", `{"x": 1}`)

	root := newRootCmd()
	root.SetArgs([]string{"inspect", doc, "--output", "xml"})

	output, err := executeCommand(root)
	if err == nil {
		t.Fatalf("expected error for bad output format, got success. Output: %s", output)
	}
	if !strings.Contains(err.Error(), "unsupported output format: xml") {
		t.Errorf("expected format message in error: %v", err)
	}
}

func TestCLIInspectOutFile(t *testing.T) {
	isolateConfig(t)
	dir := t.TempDir()
	doc := writeTempDoc(t, dir, "a.json", `{"x": 1}`)
	outPath := filepath.Join(dir, "nested", "report.txt")

	root := newRootCmd()
	root.SetArgs([]string{"inspect", doc, "--out", outPath, "--color", "never"})

	output, err := executeCommand(root)
	if err != nil {
		t.Fatalf("command returned error: %v\nOutput: %s", err, output)
	}

	data, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("failed to read output file: %v", err)
	}
	expectContains(t, string(data), "Summary:", "summary missing from output file")
	if strings.Contains(output, "Summary:") {
		t.Errorf("expected report to go to the file, not stdout, got %q", output)
	}
}

func TestCLIDirectoryExpansion(t *testing.T) {
	isolateConfig(t)
	dir := t.TempDir()
	writeTempDoc(t, dir, "a.json", `{"x": 1}`)
	writeTempDoc(t, dir, "b.yaml", "x: 2\n")
	writeTempDoc(t, dir, "notes.txt", "not a config\n")

	root := newRootCmd()
	root.SetArgs([]string{"inspect", dir, "--color", "never"})

	output, err := executeCommand(root)
	if err != nil {
		t.Fatalf("command returned error: %v\nOutput: %s", err, output)
	}
	expectContains(t, output, "Files loaded: 2", "directory expansion should load two config files")
	expectContains(t, output, "a.json", "json file missing")
	expectContains(t, output, "b.yaml", "yaml file missing")
	if strings.Contains(output, "notes.txt") {
		t.Errorf("expected non-config file to be skipped, output: %s", output)
	}
}

func TestCLIMissingFile(t *testing.T) {
	isolateConfig(t)

	root := newRootCmd()
	root.SetArgs([]string{"inspect", filepath.Join(t.TempDir(), "nope.json")})

	output, err := executeCommand(root)
	if err == nil {
		t.Fatalf("expected error for missing file, got success. Output: %s", output)
	}
}

// Helper: point the user config dir at an empty directory so a
// developer's real ocsview config never leaks into assertions.
func isolateConfig(t *testing.T) {
	t.Helper()
	t.Setenv("XDG_CONFIG_HOME", t.TempDir())
}

// Helper: write a document under dir
func writeTempDoc(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write temp document: %v", err)
	}
	return path
}

// Helper: write temp config file
func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(strings.TrimSpace(content)+"\n"), 0o600); err != nil {
		t.Fatalf("failed to write temp config: %v", err)
	}
	return path
}

// Helper: execute a Cobra command capturing stdout
func executeCommand(root *cobra.Command) (string, error) {
	oldStdout := os.Stdout
	r, w, _ := os.Pipe()
	os.Stdout = w

	var execErr error
	done := make(chan struct{})
	go func() {
		execErr = root.Execute()
		if err := w.Close(); err != nil {
			fmt.Fprintf(os.Stderr, "pipe close error: %v\n", err)
		}
		close(done)
	}()

	var buf bytes.Buffer
	_, _ = buf.ReadFrom(r)
	<-done

	os.Stdout = oldStdout
	return buf.String(), execErr
}

// Helper: minimal contains assertion
func expectContains(t *testing.T, s, substr, msg string) {
	t.Helper()
	if !strings.Contains(s, substr) {
		t.Fatalf("%s: expected %q to contain %q", msg, s, substr)
	}
}
