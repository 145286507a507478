package transcript

import (
	"regexp"
	"sort"
	"strings"
)

// extract runs the two extraction strategies over normalized text and
// assembles the final ordered segment sequence. The fenced pass runs first;
// the raw fallback only runs when the fenced pass matched nothing. Whatever
// remains after the last consumed match is inspected for a trailing
// directive whose closing marker has not arrived yet.
//
// The result covers the input losslessly: segments appear in strictly
// increasing span order and concatenating their source spans reconstructs
// the input. Nothing is remembered between calls.
func extract(text string) []Segment {
	if text == "" {
		return nil
	}

	var segs []Segment
	cursor := 0
	matched := false

	for _, b := range findFencedBlocks(text) {
		inner := text[b.innerStart:b.innerEnd]
		if !hasDirectiveSignature(inner) {
			continue
		}
		matched = true
		if b.start > cursor {
			segs = append(segs, proseSegment(text, cursor, b.start))
		}
		segs = append(segs, blockSegments(text, inner, b.start, b.end)...)
		cursor = b.end
	}

	if !matched {
		for _, m := range rawMatches(text) {
			if m.start > cursor {
				segs = append(segs, proseSegment(text, cursor, m.start))
			}
			segs = append(segs, blockSegments(text, text[m.start:m.end], m.start, m.end)...)
			cursor = m.end
		}
	}

	return append(segs, tailSegments(text, cursor)...)
}

// blockSegments parses one candidate span and returns its directives, or the
// whole span (markers and fences included) as a single prose segment when
// classification fails.
func blockSegments(text, inner string, start, end int) []Segment {
	directives := parseBlock(inner)
	if len(directives) == 0 {
		return []Segment{proseSegment(text, start, end)}
	}
	for i := range directives {
		directives[i].Start = start
		directives[i].End = end
	}
	return directives
}

func proseSegment(text string, start, end int) Segment {
	return Segment{Kind: KindProse, Text: text[start:end], Start: start, End: end}
}

// --- Fenced pass ---

type fencedBlock struct {
	start      int // offset of the opening fence line
	innerStart int
	innerEnd   int
	end        int // offset just past the closing fence line and its newline
}

// findFencedBlocks locates complete backtick-fenced blocks in normalized
// text. Normalization guarantees a closed fence's body never contains the
// fence's own delimiter sequence, so the first bare line with an equal or
// longer backtick run is the closing boundary.
func findFencedBlocks(text string) []fencedBlock {
	var blocks []fencedBlock
	offset := 0
	openStart := -1
	delimLen := 0
	innerStart := 0

	for offset <= len(text) {
		lineEnd := strings.IndexByte(text[offset:], '\n')
		next := len(text) + 1
		line := text[offset:]
		if lineEnd >= 0 {
			line = text[offset : offset+lineEnd]
			next = offset + lineEnd + 1
		}
		stripped := strings.TrimRight(line, "\r")

		delim, n, rest, ok := fenceRun(stripped)
		isBacktick := ok && delim == '`'

		if openStart < 0 {
			if isBacktick {
				openStart = offset
				delimLen = n
				innerStart = next
			}
		} else if isBacktick && n >= delimLen && strings.TrimSpace(rest) == "" {
			innerEnd := offset
			if innerEnd > innerStart {
				innerEnd-- // exclude the newline before the closing line
			} else {
				innerEnd = innerStart
			}
			end := offset + len(line)
			if end < len(text) {
				end++ // consume the closing line's newline
			}
			blocks = append(blocks, fencedBlock{openStart, innerStart, innerEnd, end})
			openStart = -1
		}

		if next > len(text) {
			break
		}
		offset = next
	}

	return blocks
}

// --- Raw fallback pass ---

// Raw patterns match a file-path line directly followed by a complete marker
// pair, without any fencing. The search/replace pattern swallows consecutive
// triples so multi-edit runs keep their shared path line.
var (
	rawNewFileRe = regexp.MustCompile(`(?m)^[^<>=\s][^\n]*\r?\n<{3,}[ \t]*(?i:NEW FILE)[ \t\r]*\n(?s:.*?)\n>{3,}[ \t]*(?i:NEW FILE|NEW)[ \t\r]*$`)
	rawRewriteRe = regexp.MustCompile(`(?m)^[^<>=\s][^\n]*\r?\n<{3,}[ \t]*(?i:REWRITE FILE)[ \t\r]*\n(?s:.*?)\n>{3,}[ \t]*(?i:REWRITE FILE|REPLACE)[ \t\r]*$`)
	rawEditRe    = regexp.MustCompile(`(?m)^[^<>=\s][^\n]*\r?\n(?:<{3,}[ \t]*(?i:SEARCH)[ \t\r]*\n(?s:.*?)\n={3,}[ \t\r]*\n(?s:.*?)\n>{3,}[ \t]*(?i:REPLACE)[ \t\r]*(?:\n|$))+`)
)

type rawMatch struct {
	start, end int
}

// rawMatches collects matches from all three raw patterns, sorts them by
// start offset, and greedily keeps only non-overlapping matches in position
// order. The earliest-starting match always wins an overlap.
func rawMatches(text string) []rawMatch {
	var all []rawMatch
	for _, re := range []*regexp.Regexp{rawNewFileRe, rawRewriteRe, rawEditRe} {
		for _, loc := range re.FindAllStringIndex(text, -1) {
			all = append(all, rawMatch{loc[0], loc[1]})
		}
	}
	sort.SliceStable(all, func(i, j int) bool { return all[i].start < all[j].start })

	kept := all[:0]
	lastEnd := -1
	for _, m := range all {
		if m.start < lastEnd {
			continue
		}
		kept = append(kept, m)
		lastEnd = m.end
	}
	return kept
}

// --- Incomplete tail ---

type tailPattern struct {
	kind    PartialKind
	open    *regexp.Regexp
	closing *regexp.Regexp
}

// Tail detection enumerates exactly these patterns and stops at the first
// whose opening marker appears without its closer anywhere later, in
// declaration order rather than position order.
var tailPatterns = []tailPattern{
	{PartialNew, regexp.MustCompile(`(?m)^([^<>=\s][^\n]*)\r?\n<{3,}[ \t]*(?i:NEW FILE)[ \t\r]*(?:\n|$)`), newFileCloseRe},
	{PartialRewrite, regexp.MustCompile(`(?m)^([^<>=\s][^\n]*)\r?\n<{3,}[ \t]*(?i:REWRITE FILE)[ \t\r]*(?:\n|$)`), rewriteCloseRe},
	{PartialEdit, regexp.MustCompile(`(?m)^([^<>=\s][^\n]*)\r?\n<{3,}[ \t]*(?i:SEARCH)[ \t\r]*(?:\n|$)`), replaceCloseRe},
}

// tailSegments handles the unconsumed remainder after the last match. A
// file-path line followed by an opening marker with no closer yet becomes
// the single trailing incomplete segment; everything else (no markers at
// all, or a leftover the passes above declined) is prose.
func tailSegments(text string, cursor int) []Segment {
	if cursor >= len(text) {
		return nil
	}
	rem := text[cursor:]

	for _, p := range tailPatterns {
		loc := p.open.FindStringSubmatchIndex(rem)
		if loc == nil {
			continue
		}
		after := rem[loc[1]:]
		if p.closing.MatchString(after) {
			continue
		}

		var segs []Segment
		if loc[0] > 0 {
			segs = append(segs, proseSegment(text, cursor, cursor+loc[0]))
		}
		segs = append(segs, Segment{
			Kind:     KindIncomplete,
			Partial:  p.kind,
			FilePath: strings.TrimSpace(rem[loc[2]:loc[3]]),
			Content:  strings.TrimSpace(after),
			Start:    cursor + loc[0],
			End:      len(text),
		})
		return segs
	}

	return []Segment{proseSegment(text, cursor, len(text))}
}
