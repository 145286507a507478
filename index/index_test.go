package index

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func testIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(filepath.Join(t.TempDir(), "index.db"))
	if err != nil {
		t.Fatalf("opening index: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("writing %s: %v", name, err)
	}
}

const greeterSrc = `package greeter

// Greet returns a friendly greeting for the given name.
func Greet(name string) string {
	return "Hello, " + name
}
`

const mathSrc = `package mathutil

// Add returns the sum of two integers.
func Add(a, b int) int {
	return a + b
}

// Sub returns the difference of two integers.
func Sub(a, b int) int {
	return a - b
}
`

func TestRefreshAndSearch(t *testing.T) {
	ix := testIndex(t)
	ws := t.TempDir()
	writeFile(t, ws, "greeter/greeter.go", greeterSrc)
	writeFile(t, ws, "mathutil/math.go", mathSrc)

	if err := ix.Refresh(context.Background(), ws); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	stats, err := ix.GetStats(ws)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalFiles != 2 {
		t.Errorf("expected 2 indexed files, got %d", stats.TotalFiles)
	}
	if stats.TotalChunks == 0 {
		t.Error("expected chunks to be indexed")
	}
	if stats.LastIndexed.IsZero() {
		t.Error("expected LastIndexed to be set after a refresh")
	}

	matches, err := ix.Search(ws, "friendly greeting", 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("expected at least one match for 'friendly greeting'")
	}
	if matches[0].Path != "greeter/greeter.go" {
		t.Errorf("expected top match in greeter/greeter.go, got %s", matches[0].Path)
	}
}

func TestRefreshIncremental(t *testing.T) {
	ix := testIndex(t)
	ws := t.TempDir()
	writeFile(t, ws, "greeter/greeter.go", greeterSrc)
	writeFile(t, ws, "mathutil/math.go", mathSrc)

	ctx := context.Background()
	if err := ix.Refresh(ctx, ws); err != nil {
		t.Fatalf("first refresh: %v", err)
	}

	// Rewrite one file, remove the other.
	writeFile(t, ws, "greeter/greeter.go", strings.Replace(greeterSrc, "Greet", "Welcome", 2))
	if err := os.Remove(filepath.Join(ws, "mathutil/math.go")); err != nil {
		t.Fatalf("removing file: %v", err)
	}

	if err := ix.Refresh(ctx, ws); err != nil {
		t.Fatalf("second refresh: %v", err)
	}

	stats, err := ix.GetStats(ws)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalFiles != 1 {
		t.Errorf("expected 1 indexed file after delete, got %d", stats.TotalFiles)
	}

	matches, err := ix.SearchSymbol(ws, "Welcome", 5)
	if err != nil {
		t.Fatalf("symbol search: %v", err)
	}
	if len(matches) == 0 {
		t.Fatal("expected renamed symbol to be indexed")
	}

	if matches, _ := ix.SearchSymbol(ws, "Add", 5); len(matches) != 0 {
		t.Error("expected chunks from deleted file to be gone")
	}
}

func TestRefreshSkipsUnindexable(t *testing.T) {
	ix := testIndex(t)
	ws := t.TempDir()
	writeFile(t, ws, "greeter/greeter.go", greeterSrc)
	writeFile(t, ws, "node_modules/pkg/index.js", "module.exports = {};")
	writeFile(t, ws, "photo.png", "not really a png")

	if err := ix.Refresh(context.Background(), ws); err != nil {
		t.Fatalf("refresh: %v", err)
	}

	stats, err := ix.GetStats(ws)
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	if stats.TotalFiles != 1 {
		t.Errorf("expected only the Go file indexed, got %d files", stats.TotalFiles)
	}
}

func TestContext(t *testing.T) {
	ix := testIndex(t)
	ws := t.TempDir()
	writeFile(t, ws, "greeter/greeter.go", greeterSrc)

	out, err := ix.Context(context.Background(), ws, "greeting name")
	if err != nil {
		t.Fatalf("context: %v", err)
	}
	if !strings.Contains(out, "## Relevant Code Context") {
		t.Error("expected context header")
	}
	if !strings.Contains(out, "greeter/greeter.go") {
		t.Error("expected context to reference the matched file")
	}
	if !strings.Contains(out, "func Greet") {
		t.Error("expected context to include the matched code")
	}
}

func TestFormatContext_Empty(t *testing.T) {
	if out := FormatContext(nil); out != "" {
		t.Errorf("expected empty context for no matches, got %q", out)
	}
}

func TestFormatContext_TruncatesLongChunks(t *testing.T) {
	m := Match{
		Path:    "big.go",
		Kind:    "function",
		Symbol:  "Big",
		Content: strings.Repeat("x", 5000),
	}
	out := FormatContext([]Match{m})
	if !strings.Contains(out, "truncated") {
		t.Error("expected long chunk content to be truncated")
	}
}
