package transcript

import "testing"

func TestNormalizeEmpty(t *testing.T) {
	if got := Normalize(""); got != "" {
		t.Fatalf("expected empty string, got %q", got)
	}
}

func TestNormalizePlainText(t *testing.T) {
	in := "just some prose\nwith two lines"
	if got := Normalize(in); got != in {
		t.Fatalf("expected passthrough, got %q", got)
	}
}

func TestNormalizeSimpleFenceUnchanged(t *testing.T) {
	in := "```go\nfunc main() {}\n```"
	if got := Normalize(in); got != in {
		t.Fatalf("expected fence unchanged, got %q", got)
	}
}

func TestNormalizeLengthensFenceWithNestedFence(t *testing.T) {
	in := "```\nnotes.md\n<<<<<<< NEW FILE\n# Title\n```py\nprint(1)\n```\n>>>>>>> NEW FILE\n```"
	want := "````\nnotes.md\n<<<<<<< NEW FILE\n# Title\n```py\nprint(1)\n```\n>>>>>>> NEW FILE\n````"
	if got := Normalize(in); got != want {
		t.Fatalf("expected 4-backtick outer fence:\nwant %q\ngot  %q", want, got)
	}
}

func TestNormalizeMarkerBlockOpacity(t *testing.T) {
	// A bare fence line inside a directive payload nests instead of closing
	// the outer fence.
	in := "```\ndoc.md\n<<<<<<< NEW FILE\nIntro\n```\nexample\n```\n>>>>>>> NEW FILE\n```"
	want := "````\ndoc.md\n<<<<<<< NEW FILE\nIntro\n```\nexample\n```\n>>>>>>> NEW FILE\n````"
	if got := Normalize(in); got != want {
		t.Fatalf("expected payload fences treated as nested:\nwant %q\ngot  %q", want, got)
	}
}

func TestNormalizeTildeFence(t *testing.T) {
	in := "~~~\nplain\n~~~"
	if got := Normalize(in); got != in {
		t.Fatalf("expected tilde fence unchanged, got %q", got)
	}
}

func TestNormalizeTildeUnaffectedByBackticks(t *testing.T) {
	// Backtick runs inside a tilde fence are not boundary candidates.
	in := "~~~\n```\ncode\n```\n~~~"
	if got := Normalize(in); got != in {
		t.Fatalf("expected backticks inside tilde fence ignored, got %q", got)
	}
}

func TestNormalizeUnterminatedFencePassthrough(t *testing.T) {
	in := "before\n```py\nprint(1)"
	if got := Normalize(in); got != in {
		t.Fatalf("expected unterminated fence passthrough, got %q", got)
	}
}

func TestNormalizeShorterRunIsContent(t *testing.T) {
	// A 3-run inside a 4-delimited fence is plain content, and the body
	// contains no 4-run, so nothing is rewritten.
	in := "````\n```\n````"
	if got := Normalize(in); got != in {
		t.Fatalf("expected shorter run treated as content, got %q", got)
	}
}

func TestNormalizeDelimiterExceedsBodyRuns(t *testing.T) {
	// Body holds a 4-run (nested fence), so the rewritten delimiter grows
	// past it, not just past the original 3.
	in := "```\na\n````go\nx\n````\nb\n```"
	want := "`````\na\n````go\nx\n````\nb\n`````"
	if got := Normalize(in); got != want {
		t.Fatalf("want %q, got %q", want, got)
	}
}

func TestNormalizeIdempotent(t *testing.T) {
	inputs := []string{
		"",
		"plain prose",
		"```go\ncode\n```",
		"```\nnotes.md\n<<<<<<< NEW FILE\n# T\n```py\nprint(1)\n```\n>>>>>>> NEW FILE\n```",
		"```\na\n````go\nx\n````\nb\n```",
		"before\n```py\nunterminated",
		"~~~\n```\nmixed\n```\n~~~",
		"```\ndoc.md\n<<<<<<< NEW FILE\n```\ninner\n```\n>>>>>>> NEW FILE\n```",
		"text\n```\nfenced\n```\nmore\n```\nsecond\n```",
	}
	for _, in := range inputs {
		once := Normalize(in)
		twice := Normalize(once)
		if once != twice {
			t.Errorf("not idempotent for %q:\nonce  %q\ntwice %q", in, once, twice)
		}
	}
}

func TestNormalizeKeepsLanguageTag(t *testing.T) {
	in := "```markdown\nREADME.md\n<<<<<<< NEW FILE\n# Hi\n```sh\nls\n```\n>>>>>>> NEW FILE\n```"
	want := "````markdown\nREADME.md\n<<<<<<< NEW FILE\n# Hi\n```sh\nls\n```\n>>>>>>> NEW FILE\n````"
	if got := Normalize(in); got != want {
		t.Fatalf("expected language tag preserved on rewrite:\nwant %q\ngot  %q", want, got)
	}
}
