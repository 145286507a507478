package apply

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/codesift/codesift/model"
)

func TestNewFileCreates(t *testing.T) {
	ws := New(t.TempDir())

	if err := ws.NewFile("sub/dir/hello.txt", "hi"); err != nil {
		t.Fatalf("NewFile: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(ws.Root, "sub/dir/hello.txt"))
	if err != nil {
		t.Fatalf("reading created file: %v", err)
	}
	if string(data) != "hi\n" {
		t.Fatalf("expected 'hi\\n', got %q", string(data))
	}
}

func TestNewFileRefusesOverwrite(t *testing.T) {
	ws := New(t.TempDir())
	if err := ws.NewFile("a.txt", "one"); err != nil {
		t.Fatalf("NewFile: %v", err)
	}
	if err := ws.NewFile("a.txt", "two"); err == nil {
		t.Fatal("expected error overwriting existing file")
	}
}

func TestRewriteFileReplacesContent(t *testing.T) {
	ws := New(t.TempDir())
	ws.NewFile("a.txt", "old content")

	if err := ws.RewriteFile("a.txt", "new content"); err != nil {
		t.Fatalf("RewriteFile: %v", err)
	}

	data, _ := os.ReadFile(filepath.Join(ws.Root, "a.txt"))
	if string(data) != "new content\n" {
		t.Fatalf("expected rewritten content, got %q", string(data))
	}
}

func TestRewriteFileRequiresExisting(t *testing.T) {
	ws := New(t.TempDir())
	if err := ws.RewriteFile("missing.txt", "x"); err == nil {
		t.Fatal("expected error rewriting a missing file")
	}
}

func TestEditReplacesFirstOccurrence(t *testing.T) {
	ws := New(t.TempDir())
	os.WriteFile(filepath.Join(ws.Root, "a.go"), []byte("foo bar foo"), 0o644)

	if err := ws.Edit("a.go", "foo", "baz"); err != nil {
		t.Fatalf("Edit: %v", err)
	}

	data, _ := os.ReadFile(filepath.Join(ws.Root, "a.go"))
	if string(data) != "baz bar foo" {
		t.Fatalf("expected only first occurrence replaced, got %q", string(data))
	}
}

func TestEditFailsWhenSearchAbsent(t *testing.T) {
	ws := New(t.TempDir())
	os.WriteFile(filepath.Join(ws.Root, "a.go"), []byte("content"), 0o644)

	if err := ws.Edit("a.go", "not there", "x"); err == nil {
		t.Fatal("expected error when search text is absent")
	}
}

func TestPathEscapeRejected(t *testing.T) {
	ws := New(t.TempDir())

	if err := ws.NewFile("../escape.txt", "x"); err == nil {
		t.Fatal("expected error for path escaping the workspace")
	}
	if err := ws.NewFile("/etc/passwd", "x"); err == nil {
		t.Fatal("expected error for absolute path")
	}
	if err := ws.NewFile("", "x"); err == nil {
		t.Fatal("expected error for empty path")
	}
}

func TestApplyDispatch(t *testing.T) {
	ws := New(t.TempDir())

	if err := ws.Apply(&model.Directive{Kind: "new_file", FilePath: "n.txt", Content: "n"}); err != nil {
		t.Fatalf("Apply new_file: %v", err)
	}
	if err := ws.Apply(&model.Directive{Kind: "rewrite_file", FilePath: "n.txt", Content: "r"}); err != nil {
		t.Fatalf("Apply rewrite_file: %v", err)
	}
	if err := ws.Apply(&model.Directive{Kind: "edit", FilePath: "n.txt", Search: "r", Replace: "e"}); err != nil {
		t.Fatalf("Apply edit: %v", err)
	}
	if err := ws.Apply(&model.Directive{Kind: "bogus", FilePath: "n.txt"}); err == nil {
		t.Fatal("expected error for unknown directive kind")
	}

	data, _ := os.ReadFile(filepath.Join(ws.Root, "n.txt"))
	if string(data) != "e\n" {
		t.Fatalf("expected final content 'e\\n', got %q", string(data))
	}
}
