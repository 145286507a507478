package transcript

import "testing"

func TestParseBlockNewFile(t *testing.T) {
	inner := "main.go\n<<<<<<< NEW FILE\npackage main\n>>>>>>> NEW FILE"
	segs := parseBlock(inner)
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segs))
	}
	if segs[0].Kind != KindNewFile {
		t.Fatalf("expected new_file, got %q", segs[0].Kind)
	}
	if segs[0].FilePath != "main.go" {
		t.Errorf("expected path 'main.go', got %q", segs[0].FilePath)
	}
	if segs[0].Content != "package main" {
		t.Errorf("expected content 'package main', got %q", segs[0].Content)
	}
}

func TestParseBlockRewriteFile(t *testing.T) {
	inner := "app.js\n<<<<<<< REWRITE FILE\nconsole.log(1)\n>>>>>>> REWRITE FILE"
	segs := parseBlock(inner)
	if len(segs) != 1 || segs[0].Kind != KindRewriteFile {
		t.Fatalf("expected one rewrite_file segment, got %+v", segs)
	}
	if segs[0].Content != "console.log(1)" {
		t.Errorf("expected content 'console.log(1)', got %q", segs[0].Content)
	}
}

func TestParseBlockTolerantClosers(t *testing.T) {
	newFile := "a.txt\n<<<<<<< NEW FILE\nhi\n>>>>>>> NEW"
	segs := parseBlock(newFile)
	if len(segs) != 1 || segs[0].Kind != KindNewFile {
		t.Fatalf("expected bare NEW to close a NEW FILE block, got %+v", segs)
	}

	rewrite := "b.txt\n<<<<<<< REWRITE FILE\nbye\n>>>>>>> REPLACE"
	segs = parseBlock(rewrite)
	if len(segs) != 1 || segs[0].Kind != KindRewriteFile {
		t.Fatalf("expected REPLACE to close a REWRITE FILE block, got %+v", segs)
	}
}

func TestParseBlockCaseInsensitiveKeywords(t *testing.T) {
	inner := "c.txt\n<<<<<<< new file\nhey\n>>>>>>> new file"
	segs := parseBlock(inner)
	if len(segs) != 1 || segs[0].Kind != KindNewFile {
		t.Fatalf("expected case-insensitive keyword match, got %+v", segs)
	}
}

func TestParseBlockEditPairs(t *testing.T) {
	inner := "file.go\n<<<<<<< SEARCH\na\n=======\nb\n>>>>>>> REPLACE\n<<<<<<< SEARCH\nc\n=======\nd\n>>>>>>> REPLACE"
	segs := parseBlock(inner)
	if len(segs) != 2 {
		t.Fatalf("expected 2 edit segments, got %d", len(segs))
	}
	for i, want := range []struct{ search, replace string }{{"a", "b"}, {"c", "d"}} {
		if segs[i].Kind != KindEdit {
			t.Fatalf("segment %d: expected edit, got %q", i, segs[i].Kind)
		}
		if segs[i].FilePath != "file.go" {
			t.Errorf("segment %d: expected path 'file.go', got %q", i, segs[i].FilePath)
		}
		if segs[i].Search != want.search || segs[i].Replace != want.replace {
			t.Errorf("segment %d: expected %q->%q, got %q->%q",
				i, want.search, want.replace, segs[i].Search, segs[i].Replace)
		}
	}
}

func TestParseBlockEditWithoutSeparator(t *testing.T) {
	inner := "file.go\n<<<<<<< SEARCH\na\nb\n>>>>>>> REPLACE"
	if segs := parseBlock(inner); len(segs) != 0 {
		t.Fatalf("expected no segments without a separator, got %+v", segs)
	}
}

func TestParseBlockMissingFilePath(t *testing.T) {
	inner := "<<<<<<< NEW FILE\ncontent\n>>>>>>> NEW FILE"
	if segs := parseBlock(inner); len(segs) != 0 {
		t.Fatalf("expected rejection without a file path, got %+v", segs)
	}
}

func TestParseBlockBlankLinesBeforePath(t *testing.T) {
	inner := "\n\n  main.go  \n<<<<<<< NEW FILE\nx\n>>>>>>> NEW FILE"
	segs := parseBlock(inner)
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segs))
	}
	if segs[0].FilePath != "main.go" {
		t.Errorf("expected trimmed path 'main.go', got %q", segs[0].FilePath)
	}
}

func TestParseBlockClassificationPriority(t *testing.T) {
	// A block satisfying both the NEW FILE and SEARCH/REPLACE grammars
	// classifies as NewFile: first satisfied grammar wins.
	inner := "x.go\n<<<<<<< NEW FILE\n<<<<<<< SEARCH\na\n=======\nb\n>>>>>>> REPLACE\n>>>>>>> NEW FILE"
	segs := parseBlock(inner)
	if len(segs) != 1 || segs[0].Kind != KindNewFile {
		t.Fatalf("expected new_file to win classification, got %+v", segs)
	}
}

func TestParseBlockPayloadRenormalized(t *testing.T) {
	// A markdown payload with its own nested example fence gets the outer
	// payload fence lengthened.
	inner := "doc.md\n<<<<<<< NEW FILE\n```\ntext\n````sh\nls\n````\nend\n```\n>>>>>>> NEW FILE"
	segs := parseBlock(inner)
	if len(segs) != 1 {
		t.Fatalf("expected 1 segment, got %d", len(segs))
	}
	want := "`````\ntext\n````sh\nls\n````\nend\n`````"
	if segs[0].Content != want {
		t.Errorf("expected renormalized payload:\nwant %q\ngot  %q", want, segs[0].Content)
	}
}
