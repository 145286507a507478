package transcript

import "regexp"

// Directive marker grammar. Markers are length-tolerant (3+ delimiter
// characters) and keyword-case-insensitive. The closer synonyms (NEW for
// NEW FILE, REPLACE for REWRITE FILE) are empirically observed model typos
// treated as a fixed synonym table, not a fuzzy-match rule.
var (
	// Whole-line marker patterns, used to toggle payload opacity during
	// fence normalization. ORIGINAL/UPDATED markers delimit payloads in an
	// older block style and count for opacity even though no directive is
	// extracted from them.
	markerOpenLineRe  = regexp.MustCompile(`^<{3,}[ \t]*(?i:NEW FILE|REWRITE FILE|SEARCH|ORIGINAL)[ \t]*$`)
	markerCloseLineRe = regexp.MustCompile(`^>{3,}[ \t]*(?i:NEW FILE|NEW|REWRITE FILE|REPLACE|UPDATED)[ \t]*$`)

	newFileOpenRe  = regexp.MustCompile(`(?m)^<{3,}[ \t]*(?i:NEW FILE)[ \t\r]*$`)
	newFileCloseRe = regexp.MustCompile(`(?m)^>{3,}[ \t]*(?i:NEW FILE|NEW)[ \t\r]*$`)

	rewriteOpenRe  = regexp.MustCompile(`(?m)^<{3,}[ \t]*(?i:REWRITE FILE)[ \t\r]*$`)
	rewriteCloseRe = regexp.MustCompile(`(?m)^>{3,}[ \t]*(?i:REWRITE FILE|REPLACE)[ \t\r]*$`)

	searchOpenRe   = regexp.MustCompile(`(?m)^<{3,}[ \t]*(?i:SEARCH)[ \t\r]*$`)
	replaceCloseRe = regexp.MustCompile(`(?m)^>{3,}[ \t]*(?i:REPLACE)[ \t\r]*$`)

	// One SEARCH/=======/REPLACE triple. A single block may hold several
	// consecutive triples for the same file.
	editPairRe = regexp.MustCompile(`(?ms)^<{3,}[ \t]*(?i:SEARCH)[ \t\r]*\n(.*?)^={3,}[ \t\r]*\n(.*?)^>{3,}[ \t]*(?i:REPLACE)[ \t\r]*$`)
)

// hasDirectiveSignature reports whether the text contains one of the three
// marker-pair signatures that make it a candidate directive block.
func hasDirectiveSignature(s string) bool {
	switch {
	case newFileOpenRe.MatchString(s) && newFileCloseRe.MatchString(s):
		return true
	case rewriteOpenRe.MatchString(s) && rewriteCloseRe.MatchString(s):
		return true
	case searchOpenRe.MatchString(s) && replaceCloseRe.MatchString(s):
		return true
	}
	return false
}
