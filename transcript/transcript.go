// Package transcript turns the accumulated text of one assistant turn into an
// ordered sequence of prose and file-edit directive segments.
//
// Model output mixes ordinary markdown with embedded edit directives (create a
// file, rewrite a file, or search/replace patches) delimited by marker lines:
//
//	path/to/file.go
//	<<<<<<< SEARCH
//	old code
//	=======
//	new code
//	>>>>>>> REPLACE
//
// The parser tolerates malformed fencing, nested code blocks, and mid-stream
// truncation. Callers re-parse the full transcript on every new chunk; each
// call is independent and produces a fresh result, so a directive that has
// closed in one prefix stays closed (with identical fields) in every longer
// prefix. Anything that matches none of the known grammars is surfaced
// unchanged as prose.
package transcript

// Kind discriminates the segment variants.
type Kind string

const (
	KindProse       Kind = "prose"
	KindNewFile     Kind = "new_file"
	KindRewriteFile Kind = "rewrite_file"
	KindEdit        Kind = "edit"
	// KindIncomplete marks a directive whose closing marker has not arrived
	// yet. At most one per parse result, always the final segment.
	KindIncomplete Kind = "incomplete"
)

// PartialKind identifies which directive grammar an incomplete tail opened.
type PartialKind string

const (
	PartialNew     PartialKind = "new"
	PartialRewrite PartialKind = "rewrite"
	PartialEdit    PartialKind = "edit"
)

// Segment is one ordered unit of parse output.
//
// Which fields are set depends on Kind: prose uses Text; new_file and
// rewrite_file use FilePath and Content; edit uses FilePath, Search and
// Replace; incomplete uses Partial, FilePath and Content (the best-effort
// partial payload seen so far).
type Segment struct {
	Kind     Kind        `json:"kind"`
	Text     string      `json:"text,omitempty"`
	FilePath string      `json:"file_path,omitempty"`
	Content  string      `json:"content,omitempty"`
	Search   string      `json:"search,omitempty"`
	Replace  string      `json:"replace,omitempty"`
	Partial  PartialKind `json:"partial,omitempty"`

	// Start and End are byte offsets of the source span this segment was
	// derived from, into the normalized transcript. Segments appear in
	// strictly increasing span order and cover the normalized text without
	// gaps; several edits extracted from one block share that block's span.
	Start int `json:"-"`
	End   int `json:"-"`
}

// Parse segments one assistant turn's transcript. It normalizes ambiguous
// code fences first, then extracts directives; the input may still be
// growing, in which case a trailing unclosed directive is reported as a
// single incomplete segment.
func Parse(raw string) []Segment {
	return extract(Normalize(raw))
}
