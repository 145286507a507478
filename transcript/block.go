package transcript

import (
	"regexp"
	"strings"
)

// parseBlock classifies the inner text of one candidate directive block
// (markers included) into zero or more directive segments. Classification is
// checked in priority order: NewFile, RewriteFile, then Edit; the first
// satisfied grammar wins. A block without a usable file-path line is rejected
// wholesale and the caller surfaces the whole span as prose.
//
// Returned segments carry no span offsets; the caller assigns the consumed
// span.
func parseBlock(inner string) []Segment {
	path := blockFilePath(inner)
	if path == "" {
		return nil
	}

	if newFileOpenRe.MatchString(inner) && newFileCloseRe.MatchString(inner) {
		return []Segment{{
			Kind:     KindNewFile,
			FilePath: path,
			Content:  markerPayload(inner, newFileOpenRe, newFileCloseRe),
		}}
	}

	if rewriteOpenRe.MatchString(inner) && rewriteCloseRe.MatchString(inner) {
		return []Segment{{
			Kind:     KindRewriteFile,
			FilePath: path,
			Content:  markerPayload(inner, rewriteOpenRe, rewriteCloseRe),
		}}
	}

	if searchOpenRe.MatchString(inner) && replaceCloseRe.MatchString(inner) {
		var segs []Segment
		for _, m := range editPairRe.FindAllStringSubmatch(inner, -1) {
			segs = append(segs, Segment{
				Kind:     KindEdit,
				FilePath: path,
				Search:   strings.TrimSpace(m[1]),
				Replace:  strings.TrimSpace(m[2]),
			})
		}
		return segs
	}

	return nil
}

// blockFilePath returns the first trimmed non-empty line preceding the
// block's opening marker. If the opening marker arrives before any such line
// the block has no path and is rejected.
func blockFilePath(inner string) string {
	for _, line := range strings.Split(inner, "\n") {
		t := strings.TrimSpace(line)
		if t == "" {
			continue
		}
		if markerOpenLineRe.MatchString(t) {
			return ""
		}
		return t
	}
	return ""
}

// markerPayload extracts the content strictly between the opening and closing
// marker lines, trimmed, and re-normalizes it: the payload may itself be a
// markdown file containing example fences.
func markerPayload(inner string, open, closing *regexp.Regexp) string {
	openLoc := open.FindStringIndex(inner)
	closeLoc := closing.FindStringIndex(inner)
	if openLoc == nil || closeLoc == nil || closeLoc[0] < openLoc[1] {
		return ""
	}
	return Normalize(strings.TrimSpace(inner[openLoc[1]:closeLoc[0]]))
}
