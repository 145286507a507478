package transcript

import "testing"

func TestExtractFencedWithSurroundingProse(t *testing.T) {
	in := "Here you go:\n```\nmain.go\n<<<<<<< NEW FILE\npackage main\n>>>>>>> NEW FILE\n```\nDone."
	segs := Parse(in)
	if len(segs) != 3 {
		t.Fatalf("expected 3 segments, got %d: %+v", len(segs), segs)
	}
	if segs[0].Kind != KindProse || segs[0].Text != "Here you go:\n" {
		t.Errorf("unexpected leading prose: %+v", segs[0])
	}
	if segs[1].Kind != KindNewFile || segs[1].FilePath != "main.go" || segs[1].Content != "package main" {
		t.Errorf("unexpected directive: %+v", segs[1])
	}
	if segs[2].Kind != KindProse || segs[2].Text != "Done." {
		t.Errorf("unexpected trailing prose: %+v", segs[2])
	}
}

func TestExtractFenceWithoutPathDegradesToProse(t *testing.T) {
	in := "```\n<<<<<<< NEW FILE\nstuff\n>>>>>>> NEW FILE\n```"
	segs := Parse(in)
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segs))
	}
	if segs[0].Kind != KindProse || segs[0].Text != in {
		t.Fatalf("expected whole span surfaced as prose, got %+v", segs[0])
	}
}

func TestExtractPlainFenceStaysProse(t *testing.T) {
	in := "look:\n```go\nfunc main() {}\n```\nneat"
	segs := Parse(in)
	if len(segs) != 1 {
		t.Fatalf("expected 1 prose segment, got %d: %+v", len(segs), segs)
	}
	if segs[0].Kind != KindProse || segs[0].Text != in {
		t.Fatalf("expected input surfaced unchanged, got %+v", segs[0])
	}
}

func TestExtractRawFallbackRewrite(t *testing.T) {
	in := "app.js\n<<<<<<< REWRITE FILE\nconsole.log(1)\n>>>>>>> REWRITE FILE\nthanks"
	segs := Parse(in)
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d: %+v", len(segs), segs)
	}
	if segs[0].Kind != KindRewriteFile || segs[0].FilePath != "app.js" || segs[0].Content != "console.log(1)" {
		t.Errorf("unexpected directive: %+v", segs[0])
	}
	if segs[1].Kind != KindProse || segs[1].Text != "\nthanks" {
		t.Errorf("unexpected trailing prose: %+v", segs[1])
	}
}

func TestExtractRawOverlapEarliestStartWins(t *testing.T) {
	// The NEW FILE block's payload embeds a complete REWRITE pair; the
	// later-starting rewrite match overlaps and is discarded.
	in := "a.md\n<<<<<<< NEW FILE\nb.md\n<<<<<<< REWRITE FILE\nx\n>>>>>>> REWRITE FILE\n>>>>>>> NEW FILE"
	segs := Parse(in)
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment, got %d: %+v", len(segs), segs)
	}
	if segs[0].Kind != KindNewFile || segs[0].FilePath != "a.md" {
		t.Fatalf("expected outer new_file to win, got %+v", segs[0])
	}
	want := "b.md\n<<<<<<< REWRITE FILE\nx\n>>>>>>> REWRITE FILE"
	if segs[0].Content != want {
		t.Errorf("expected embedded pair kept as payload:\nwant %q\ngot  %q", want, segs[0].Content)
	}
}

func TestExtractRawSkippedWhenFencedPassMatches(t *testing.T) {
	// Once the fenced pass matches anything, unfenced marker pairs are left
	// to the tail handling (here: prose).
	in := "```\na.go\n<<<<<<< SEARCH\nx\n=======\ny\n>>>>>>> REPLACE\n```\nb.go\n<<<<<<< REWRITE FILE\nz\n>>>>>>> REWRITE FILE"
	segs := Parse(in)
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d: %+v", len(segs), segs)
	}
	if segs[0].Kind != KindEdit {
		t.Errorf("expected fenced edit first, got %+v", segs[0])
	}
	if segs[1].Kind != KindProse {
		t.Errorf("expected unfenced trailing pair as prose, got %+v", segs[1])
	}
}

func TestExtractIncompleteTailNewFile(t *testing.T) {
	in := "some.txt\n<<<<<<< NEW FILE\npartial content"
	segs := Parse(in)
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment, got %d: %+v", len(segs), segs)
	}
	s := segs[0]
	if s.Kind != KindIncomplete || s.Partial != PartialNew {
		t.Fatalf("expected incomplete new, got %+v", s)
	}
	if s.FilePath != "some.txt" || s.Content != "partial content" {
		t.Errorf("unexpected fields: %+v", s)
	}
}

func TestExtractIncompleteTailWithLeadingProse(t *testing.T) {
	in := "intro\n\nfile.py\n<<<<<<< SEARCH\nfoo"
	segs := Parse(in)
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d: %+v", len(segs), segs)
	}
	if segs[0].Kind != KindProse || segs[0].Text != "intro\n\n" {
		t.Errorf("unexpected leading prose: %+v", segs[0])
	}
	if segs[1].Kind != KindIncomplete || segs[1].Partial != PartialEdit || segs[1].FilePath != "file.py" {
		t.Errorf("unexpected incomplete tail: %+v", segs[1])
	}
	if segs[1].Content != "foo" {
		t.Errorf("expected partial content 'foo', got %q", segs[1].Content)
	}
}

func TestExtractTailFirstMatchWinsByDeclarationOrder(t *testing.T) {
	// Two unclosed openers: the REWRITE pattern is declared before SEARCH,
	// so it wins even though SEARCH opened at an earlier position.
	in := "a.go\n<<<<<<< SEARCH\nx\nb.go\n<<<<<<< REWRITE FILE\ny"
	segs := Parse(in)
	if len(segs) != 2 {
		t.Fatalf("expected 2 segments, got %d: %+v", len(segs), segs)
	}
	if segs[0].Kind != KindProse {
		t.Errorf("expected leading prose, got %+v", segs[0])
	}
	tail := segs[1]
	if tail.Kind != KindIncomplete || tail.Partial != PartialRewrite || tail.FilePath != "b.go" {
		t.Errorf("expected rewrite tail for b.go, got %+v", tail)
	}
}

func TestExtractMarkersWithoutPathStayProse(t *testing.T) {
	in := "<<<<<<< NEW FILE\nhi\n>>>>>>> NEW FILE"
	segs := Parse(in)
	if len(segs) != 1 || segs[0].Kind != KindProse || segs[0].Text != in {
		t.Fatalf("expected whole input as prose, got %+v", segs)
	}
}

func TestExtractEmptyInput(t *testing.T) {
	if segs := Parse(""); len(segs) != 0 {
		t.Fatalf("expected no segments, got %+v", segs)
	}
}
