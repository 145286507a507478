package transcript

import "strings"

// Normalize rewrites a text blob so that code fences whose content contains
// fence-looking lines become unambiguous: when a closed fence's body contains
// the fence's own delimiter sequence, the pair is re-emitted with a longer
// delimiter so the body can never be confused with the boundary again.
//
// Normalize is pure and idempotent. Every string is valid input; an
// unterminated fence (a normal intermediate state while the transcript is
// still streaming) passes through verbatim and is picked up again on the
// next, longer transcript.
func Normalize(text string) string {
	if text == "" {
		return text
	}

	lines := strings.Split(text, "\n")
	out := make([]string, 0, len(lines))
	var f *openFence
	inMarkerBlock := false

	for _, line := range lines {
		stripped := strings.TrimRight(line, "\r")

		// Marker lines toggle payload opacity regardless of fence nesting.
		if markerOpenLineRe.MatchString(stripped) {
			inMarkerBlock = true
		} else if markerCloseLineRe.MatchString(stripped) {
			inMarkerBlock = false
		}

		if f == nil {
			if delim, n, _, ok := fenceRun(stripped); ok {
				f = &openFence{delim: delim, delimLen: n, openLine: line}
				continue
			}
			out = append(out, line)
			continue
		}

		delim, n, rest, ok := fenceRun(stripped)
		if !ok || delim != f.delim || n < f.delimLen {
			f.body = append(f.body, line)
			continue
		}

		switch {
		case strings.TrimSpace(rest) != "":
			// Language tag or trailing content: opens a nested fence.
			f.depth++
			f.body = append(f.body, line)
		case f.depth > 0:
			// Plain fence line closing a nested level.
			f.depth--
			f.body = append(f.body, line)
		case inMarkerBlock:
			// Directive payloads are opaque: a bare fence line inside one
			// nests instead of closing the outer fence.
			f.depth++
			f.body = append(f.body, line)
		default:
			out = append(out, f.emit(line)...)
			f = nil
		}
	}

	if f != nil {
		// Unterminated fence at end of input: emit with the original
		// delimiter, to be re-normalized once more text arrives.
		out = append(out, f.openLine)
		out = append(out, f.body...)
	}

	return strings.Join(out, "\n")
}

type openFence struct {
	delim    byte
	delimLen int
	openLine string
	depth    int
	body     []string
}

// emit returns the fence's lines, lengthening the delimiter pair when the
// body contains the original delimiter sequence anywhere.
func (f *openFence) emit(closeLine string) []string {
	body := strings.Join(f.body, "\n")
	orig := strings.Repeat(string(f.delim), f.delimLen)

	if !strings.Contains(body, orig) {
		lines := make([]string, 0, len(f.body)+2)
		lines = append(lines, f.openLine)
		lines = append(lines, f.body...)
		return append(lines, closeLine)
	}

	// New delimiter must exceed both the original and any run inside the
	// body, so a second pass finds nothing to rewrite.
	n := f.delimLen + 1
	if r := longestRun(body, f.delim) + 1; r > n {
		n = r
	}
	if n < 4 {
		n = 4
	}
	delim := strings.Repeat(string(f.delim), n)

	_, _, info, _ := fenceRun(strings.TrimRight(f.openLine, "\r"))
	lines := make([]string, 0, len(f.body)+2)
	lines = append(lines, delim+info)
	lines = append(lines, f.body...)
	return append(lines, delim)
}

// fenceRun reports whether the line starts with a run of 3+ backticks or
// tildes, returning the delimiter character, run length, and the rest of the
// line after the run.
func fenceRun(line string) (delim byte, n int, rest string, ok bool) {
	if line == "" {
		return 0, 0, "", false
	}
	c := line[0]
	if c != '`' && c != '~' {
		return 0, 0, "", false
	}
	i := 0
	for i < len(line) && line[i] == c {
		i++
	}
	if i < 3 {
		return 0, 0, "", false
	}
	return c, i, line[i:], true
}

// longestRun returns the length of the longest consecutive run of c in s.
func longestRun(s string, c byte) int {
	best, cur := 0, 0
	for i := 0; i < len(s); i++ {
		if s[i] == c {
			cur++
			if cur > best {
				best = cur
			}
		} else {
			cur = 0
		}
	}
	return best
}
