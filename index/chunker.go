package index

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"path/filepath"
	"regexp"
	"strings"
)

// Chunk is a semantic unit of code extracted from a workspace file.
type Chunk struct {
	Path      string
	Kind      string // "function", "method", "class", "struct", "interface", "preamble", "block"
	Symbol    string // e.g. "Engine.runTurn", "handleWebhook"
	StartLine int
	EndLine   int
	Content   string
}

// ChunkFile parses a source file and returns semantic chunks.
// Go files go through the stdlib AST parser; other languages fall
// back to regex-based extraction, then fixed-size line windows.
func ChunkFile(path string, source []byte) []Chunk {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".go":
		return chunkGo(path, source)
	case ".py":
		return chunkByRegex(path, source, pythonPatterns)
	case ".js", ".jsx", ".ts", ".tsx":
		return chunkByRegex(path, source, jsPatterns)
	case ".rs":
		return chunkByRegex(path, source, rustPatterns)
	case ".java", ".kt":
		return chunkByRegex(path, source, javaPatterns)
	case ".rb":
		return chunkByRegex(path, source, rubyPatterns)
	default:
		return chunkByLines(path, source, 60)
	}
}

// --- Go chunker (using stdlib go/parser) ---

func chunkGo(path string, source []byte) []Chunk {
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, path, source, parser.ParseComments)
	if err != nil {
		// Fall back to line-based chunking if parsing fails.
		return chunkByLines(path, source, 60)
	}

	lines := strings.Split(string(source), "\n")
	var chunks []Chunk

	for _, decl := range f.Decls {
		switch d := decl.(type) {
		case *ast.FuncDecl:
			chunks = append(chunks, goFuncChunk(fset, d, lines, path))

		case *ast.GenDecl:
			for _, spec := range d.Specs {
				if ts, ok := spec.(*ast.TypeSpec); ok {
					chunks = append(chunks, goTypeChunk(fset, d, ts, lines, path))
				}
			}
		}
	}

	// Capture the package clause, imports, and top-level vars before the
	// first declaration as their own chunk.
	if preamble := goPreamble(fset, f, lines, path); preamble.Content != "" {
		chunks = append([]Chunk{preamble}, chunks...)
	}

	if len(chunks) == 0 {
		return chunkByLines(path, source, 60)
	}
	return chunks
}

func goFuncChunk(fset *token.FileSet, fn *ast.FuncDecl, lines []string, path string) Chunk {
	start := fset.Position(fn.Pos()).Line
	end := fset.Position(fn.End()).Line

	name := fn.Name.Name
	kind := "function"
	if fn.Recv != nil && len(fn.Recv.List) > 0 {
		kind = "method"
		if recv := exprName(fn.Recv.List[0].Type); recv != "" {
			name = recv + "." + name
		}
	}

	return Chunk{
		Path:      path,
		Kind:      kind,
		Symbol:    name,
		StartLine: start,
		EndLine:   end,
		Content:   extractLines(lines, start, end),
	}
}

func goTypeChunk(fset *token.FileSet, gen *ast.GenDecl, ts *ast.TypeSpec, lines []string, path string) Chunk {
	start := fset.Position(gen.Pos()).Line
	end := fset.Position(gen.End()).Line

	kind := "type"
	switch ts.Type.(type) {
	case *ast.StructType:
		kind = "struct"
	case *ast.InterfaceType:
		kind = "interface"
	}

	return Chunk{
		Path:      path,
		Kind:      kind,
		Symbol:    ts.Name.Name,
		StartLine: start,
		EndLine:   end,
		Content:   extractLines(lines, start, end),
	}
}

func goPreamble(fset *token.FileSet, f *ast.File, lines []string, path string) Chunk {
	// The boundary is the first func or type declaration. Imports and
	// top-level var/const blocks stay in the preamble so they are indexed.
	firstDeclLine := len(lines)
	for _, decl := range f.Decls {
		if gen, ok := decl.(*ast.GenDecl); ok && gen.Tok != token.TYPE {
			continue
		}
		firstDeclLine = fset.Position(decl.Pos()).Line - 1
		break
	}

	if firstDeclLine <= 1 {
		return Chunk{}
	}

	content := strings.TrimSpace(extractLines(lines, 1, firstDeclLine))
	if content == "" {
		return Chunk{}
	}

	return Chunk{
		Path:      path,
		Kind:      "preamble",
		StartLine: 1,
		EndLine:   firstDeclLine,
		Content:   content,
	}
}

// exprName extracts the type name from a receiver expression (handles *T and T).
func exprName(expr ast.Expr) string {
	switch e := expr.(type) {
	case *ast.Ident:
		return e.Name
	case *ast.StarExpr:
		return exprName(e.X)
	default:
		return ""
	}
}

// --- Regex-based chunker for non-Go languages ---

type langPattern struct {
	kind    string
	pattern *regexp.Regexp
}

var pythonPatterns = []langPattern{
	{"class", regexp.MustCompile(`^class\s+(\w+)`)},
	{"function", regexp.MustCompile(`^def\s+(\w+)`)},
	{"method", regexp.MustCompile(`^\s+def\s+(\w+)`)},
}

var jsPatterns = []langPattern{
	{"class", regexp.MustCompile(`^(?:export\s+)?class\s+(\w+)`)},
	{"function", regexp.MustCompile(`^(?:export\s+)?(?:async\s+)?function\s+(\w+)`)},
	{"function", regexp.MustCompile(`^(?:export\s+)?(?:const|let|var)\s+(\w+)\s*=\s*(?:async\s+)?\(`)},
	{"function", regexp.MustCompile(`^(?:export\s+)?(?:const|let|var)\s+(\w+)\s*=\s*(?:async\s+)?(?:\([^)]*\)|[a-zA-Z_]\w*)\s*=>`)},
}

var rustPatterns = []langPattern{
	{"struct", regexp.MustCompile(`^(?:pub\s+)?struct\s+(\w+)`)},
	{"function", regexp.MustCompile(`^(?:pub\s+)?(?:async\s+)?fn\s+(\w+)`)},
	{"trait", regexp.MustCompile(`^(?:pub\s+)?trait\s+(\w+)`)},
	{"impl", regexp.MustCompile(`^impl(?:\s*<[^>]*>)?\s+(\w+)`)},
}

var javaPatterns = []langPattern{
	{"class", regexp.MustCompile(`^(?:public|private|protected)?\s*(?:abstract\s+)?class\s+(\w+)`)},
	{"interface", regexp.MustCompile(`^(?:public|private|protected)?\s*interface\s+(\w+)`)},
	{"method", regexp.MustCompile(`^\s+(?:public|private|protected)?\s*(?:static\s+)?(?:\w+(?:<[^>]*>)?)\s+(\w+)\s*\(`)},
}

var rubyPatterns = []langPattern{
	{"class", regexp.MustCompile(`^class\s+(\w+)`)},
	{"module", regexp.MustCompile(`^module\s+(\w+)`)},
	{"method", regexp.MustCompile(`^\s*def\s+(\w+[?!]?)`)},
}

func chunkByRegex(path string, source []byte, patterns []langPattern) []Chunk {
	lines := strings.Split(string(source), "\n")
	var chunks []Chunk
	var current *regexAccum

	for i, line := range lines {
		lineNum := i + 1

		for _, p := range patterns {
			matches := p.pattern.FindStringSubmatch(line)
			if matches != nil {
				if current != nil {
					chunks = append(chunks, current.toChunk(path, lines))
				}
				current = &regexAccum{
					kind:      p.kind,
					symbol:    matches[1],
					startLine: lineNum,
					endLine:   lineNum,
				}
				break
			}
		}

		if current != nil {
			current.endLine = lineNum
		}
	}

	if current != nil {
		chunks = append(chunks, current.toChunk(path, lines))
	}

	if len(chunks) == 0 {
		return chunkByLines(path, source, 60)
	}
	return chunks
}

type regexAccum struct {
	kind      string
	symbol    string
	startLine int
	endLine   int
}

func (r *regexAccum) toChunk(path string, lines []string) Chunk {
	return Chunk{
		Path:      path,
		Kind:      r.kind,
		Symbol:    r.symbol,
		StartLine: r.startLine,
		EndLine:   r.endLine,
		Content:   extractLines(lines, r.startLine, r.endLine),
	}
}

// --- Line-based fallback ---

func chunkByLines(path string, source []byte, maxLines int) []Chunk {
	lines := strings.Split(string(source), "\n")
	if len(lines) == 0 {
		return nil
	}

	var chunks []Chunk
	for i := 0; i < len(lines); i += maxLines {
		end := i + maxLines
		if end > len(lines) {
			end = len(lines)
		}

		content := strings.Join(lines[i:end], "\n")
		content = strings.TrimRight(content, "\n ")
		if content == "" {
			continue
		}

		chunks = append(chunks, Chunk{
			Path:      path,
			Kind:      "block",
			Symbol:    fmt.Sprintf("lines_%d_%d", i+1, end),
			StartLine: i + 1,
			EndLine:   end,
			Content:   content,
		})
	}
	return chunks
}

// --- Helpers ---

func extractLines(lines []string, start, end int) string {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return ""
	}
	return strings.Join(lines[start-1:end], "\n")
}

// DetectLanguage returns a language identifier based on file extension.
func DetectLanguage(path string) string {
	ext := strings.ToLower(filepath.Ext(path))
	switch ext {
	case ".go":
		return "go"
	case ".py":
		return "python"
	case ".js":
		return "javascript"
	case ".jsx":
		return "jsx"
	case ".ts":
		return "typescript"
	case ".tsx":
		return "tsx"
	case ".rs":
		return "rust"
	case ".java":
		return "java"
	case ".kt":
		return "kotlin"
	case ".rb":
		return "ruby"
	case ".c", ".h":
		return "c"
	case ".cpp", ".cc", ".cxx", ".hpp":
		return "cpp"
	case ".cs":
		return "csharp"
	case ".swift":
		return "swift"
	case ".sh", ".bash":
		return "shell"
	case ".yaml", ".yml":
		return "yaml"
	case ".json":
		return "json"
	case ".md":
		return "markdown"
	case ".sql":
		return "sql"
	default:
		return ""
	}
}

// IsIndexable returns true if the file should be indexed.
func IsIndexable(path string) bool {
	skipPaths := []string{
		"node_modules/", "vendor/", ".git/", "__pycache__/",
		".venv/", "venv/", "dist/", "build/", ".next/",
		".cache/", "coverage/", ".nyc_output/",
	}
	for _, skip := range skipPaths {
		if strings.Contains(path, skip) {
			return false
		}
	}

	skipSuffixes := []string{
		".min.js", ".min.css", ".map",
		".lock", ".sum",
		".png", ".jpg", ".jpeg", ".gif", ".ico", ".svg",
		".woff", ".woff2", ".ttf", ".eot",
		".pdf", ".zip", ".tar", ".gz",
		".exe", ".dll", ".so", ".dylib",
		".o", ".a",
	}
	lower := strings.ToLower(path)
	for _, suffix := range skipSuffixes {
		if strings.HasSuffix(lower, suffix) {
			return false
		}
	}

	return DetectLanguage(path) != ""
}
