// Package index maintains a searchable SQLite index of a workspace's code.
//
// Files are split into semantic chunks (functions, methods, types) and stored
// with an FTS5 full-text index. The engine queries the index each turn to
// ground answers in the actual workspace code.
package index

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// maxFileSize is the largest file the indexer will read. Bigger files are
// almost always generated or vendored.
const maxFileSize = 100 * 1024

// Index stores and searches code chunks for one or more workspaces.
type Index struct {
	db *sql.DB

	mu sync.Mutex // serializes Refresh per process
}

// Match is a retrieval result with its relevance score.
type Match struct {
	ID        int64
	Workspace string
	Path      string
	Kind      string
	Symbol    string
	StartLine int
	EndLine   int
	Content   string
	Score     float64
}

// Stats describes the index state for one workspace.
type Stats struct {
	Workspace   string
	LastIndexed time.Time
	TotalFiles  int
	TotalChunks int
}

// Open opens (or creates) an index database at the given path.
func Open(dbPath string) (*Index, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening index database: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running index migrations: %w", err)
	}

	return &Index{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS workspace_files (
			workspace  TEXT NOT NULL,
			path       TEXT NOT NULL,
			language   TEXT NOT NULL DEFAULT '',
			hash       TEXT NOT NULL,
			indexed_at DATETIME NOT NULL,
			PRIMARY KEY (workspace, path)
		);

		CREATE TABLE IF NOT EXISTS workspace_chunks (
			id         INTEGER PRIMARY KEY AUTOINCREMENT,
			workspace  TEXT NOT NULL,
			path       TEXT NOT NULL,
			kind       TEXT NOT NULL,
			symbol     TEXT NOT NULL DEFAULT '',
			start_line INTEGER NOT NULL,
			end_line   INTEGER NOT NULL,
			content    TEXT NOT NULL
		);

		CREATE INDEX IF NOT EXISTS idx_chunks_workspace_path
			ON workspace_chunks(workspace, path);
	`)
	if err != nil {
		return err
	}

	// FTS5 may be compiled out; the index degrades to LIKE search without it.
	db.Exec(`
		CREATE VIRTUAL TABLE IF NOT EXISTS workspace_chunks_fts
		USING fts5(symbol, path, content, content='workspace_chunks', content_rowid='id')
	`)
	return nil
}

// Close closes the index database.
func (ix *Index) Close() error {
	return ix.db.Close()
}

// Context returns a markdown context block of workspace code relevant to the
// query. The workspace is re-indexed first so results reflect the files on
// disk, including changes applied by earlier turns.
func (ix *Index) Context(ctx context.Context, workspace, query string) (string, error) {
	if err := ix.Refresh(ctx, workspace); err != nil {
		return "", fmt.Errorf("refreshing index: %w", err)
	}
	matches, err := ix.Search(workspace, query, 8)
	if err != nil {
		return "", fmt.Errorf("searching index: %w", err)
	}
	return FormatContext(matches), nil
}

// Refresh brings the index up to date with the files on disk. Only files
// whose content hash changed since the last refresh are re-chunked, so
// repeat calls on an unchanged workspace are cheap.
func (ix *Index) Refresh(ctx context.Context, workspace string) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	known, err := ix.knownHashes(workspace)
	if err != nil {
		return fmt.Errorf("loading file hashes: %w", err)
	}

	seen := make(map[string]bool)
	changed := false

	err = filepath.Walk(workspace, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return nil // skip unreadable entries
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if info.IsDir() {
			base := filepath.Base(path)
			if strings.HasPrefix(base, ".") && base != "." || base == "node_modules" || base == "vendor" || base == "__pycache__" {
				return filepath.SkipDir
			}
			return nil
		}

		relPath, err := filepath.Rel(workspace, path)
		if err != nil {
			return nil
		}
		relPath = filepath.ToSlash(relPath)
		if !IsIndexable(relPath) {
			return nil
		}
		if info.Size() > maxFileSize {
			return nil
		}

		source, err := os.ReadFile(path)
		if err != nil {
			return nil
		}

		seen[relPath] = true
		hash := fileHash(source)
		if known[relPath] == hash {
			return nil // unchanged since last refresh
		}

		if err := ix.reindexFile(workspace, relPath, source, hash); err != nil {
			return fmt.Errorf("indexing %s: %w", relPath, err)
		}
		changed = true
		return nil
	})
	if err != nil {
		return fmt.Errorf("walking workspace: %w", err)
	}

	// Drop entries for files that disappeared from disk.
	for path := range known {
		if !seen[path] {
			ix.deleteFile(workspace, path)
			changed = true
		}
	}

	if changed {
		ix.rebuildFTS()
	}
	return nil
}

func (ix *Index) reindexFile(workspace, relPath string, source []byte, hash string) error {
	tx, err := ix.db.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.Exec(
		"DELETE FROM workspace_chunks WHERE workspace = ? AND path = ?",
		workspace, relPath,
	); err != nil {
		return err
	}

	for _, chunk := range ChunkFile(relPath, source) {
		if _, err := tx.Exec(
			`INSERT INTO workspace_chunks (workspace, path, kind, symbol, start_line, end_line, content)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			workspace, chunk.Path, chunk.Kind, chunk.Symbol,
			chunk.StartLine, chunk.EndLine, chunk.Content,
		); err != nil {
			return err
		}
	}

	if _, err := tx.Exec(
		`INSERT INTO workspace_files (workspace, path, language, hash, indexed_at)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (workspace, path) DO UPDATE SET
		   language = excluded.language,
		   hash = excluded.hash,
		   indexed_at = excluded.indexed_at`,
		workspace, relPath, DetectLanguage(relPath), hash, time.Now().UTC(),
	); err != nil {
		return err
	}

	return tx.Commit()
}

func (ix *Index) knownHashes(workspace string) (map[string]string, error) {
	rows, err := ix.db.Query(
		"SELECT path, hash FROM workspace_files WHERE workspace = ?", workspace,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	hashes := make(map[string]string)
	for rows.Next() {
		var path, hash string
		if err := rows.Scan(&path, &hash); err != nil {
			return nil, err
		}
		hashes[path] = hash
	}
	return hashes, rows.Err()
}

func (ix *Index) deleteFile(workspace, path string) {
	ix.db.Exec("DELETE FROM workspace_chunks WHERE workspace = ? AND path = ?", workspace, path)
	ix.db.Exec("DELETE FROM workspace_files WHERE workspace = ? AND path = ?", workspace, path)
}

func (ix *Index) rebuildFTS() {
	// Resync the external-content FTS table. Fast for typical workspace sizes.
	ix.db.Exec("INSERT INTO workspace_chunks_fts(workspace_chunks_fts) VALUES('rebuild')")
}

// GetStats returns index statistics for the given workspace.
func (ix *Index) GetStats(workspace string) (*Stats, error) {
	stats := &Stats{Workspace: workspace}

	// MAX() strips column affinity, so the driver hands the datetime back as
	// text rather than time.Time. Scan a string and parse it.
	var last sql.NullString
	if err := ix.db.QueryRow(
		"SELECT COUNT(*), MAX(indexed_at) FROM workspace_files WHERE workspace = ?",
		workspace,
	).Scan(&stats.TotalFiles, &last); err != nil {
		return nil, fmt.Errorf("reading index stats: %w", err)
	}
	if last.Valid {
		stats.LastIndexed = parseStoredTime(last.String)
	}
	ix.db.QueryRow(
		"SELECT COUNT(*) FROM workspace_chunks WHERE workspace = ?", workspace,
	).Scan(&stats.TotalChunks)

	return stats, nil
}

// --- Search ---

// Search returns up to topK chunks matching the query, ranked by relevance.
// Uses FTS5 when available, degrading to a LIKE scan otherwise.
func (ix *Index) Search(workspace, query string, topK int) ([]Match, error) {
	if topK <= 0 {
		topK = 10
	}

	results, err := ix.ftsSearch(workspace, query, topK)
	if err != nil {
		return nil, fmt.Errorf("searching chunks: %w", err)
	}
	return results, nil
}

// SearchSymbol finds chunks whose symbol name contains the given string.
func (ix *Index) SearchSymbol(workspace, symbol string, topK int) ([]Match, error) {
	rows, err := ix.db.Query(
		`SELECT id, workspace, path, kind, symbol, start_line, end_line, content
		 FROM workspace_chunks
		 WHERE workspace = ? AND symbol LIKE ?
		 LIMIT ?`,
		workspace, "%"+symbol+"%", topK,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	return scanMatches(rows)
}

func (ix *Index) ftsSearch(workspace, query string, limit int) ([]Match, error) {
	ftsQuery := sanitizeFTS(query)
	if ftsQuery == "" {
		return nil, nil
	}

	rows, err := ix.db.Query(
		`SELECT c.id, c.workspace, c.path, c.kind, c.symbol,
		        c.start_line, c.end_line, c.content, rank
		 FROM workspace_chunks_fts fts
		 JOIN workspace_chunks c ON c.id = fts.rowid
		 WHERE workspace_chunks_fts MATCH ? AND c.workspace = ?
		 ORDER BY rank
		 LIMIT ?`,
		ftsQuery, workspace, limit,
	)
	if err != nil {
		return ix.likeSearch(workspace, query, limit)
	}
	defer rows.Close()

	var results []Match
	for rows.Next() {
		var m Match
		var rank float64
		err := rows.Scan(
			&m.ID, &m.Workspace, &m.Path, &m.Kind, &m.Symbol,
			&m.StartLine, &m.EndLine, &m.Content, &rank,
		)
		if err != nil {
			continue
		}
		m.Score = -rank // FTS5 rank is negative (lower = better), flip it.
		results = append(results, m)
	}

	if len(results) == 0 {
		return ix.likeSearch(workspace, query, limit)
	}
	return results, nil
}

func (ix *Index) likeSearch(workspace, query string, limit int) ([]Match, error) {
	words := strings.Fields(query)
	if len(words) == 0 {
		return nil, nil
	}

	var conditions []string
	var args []any
	args = append(args, workspace)
	for _, w := range words {
		conditions = append(conditions, "(content LIKE ? OR symbol LIKE ? OR path LIKE ?)")
		pattern := "%" + w + "%"
		args = append(args, pattern, pattern, pattern)
	}

	q := fmt.Sprintf(
		`SELECT id, workspace, path, kind, symbol, start_line, end_line, content
		 FROM workspace_chunks
		 WHERE workspace = ? AND (%s)
		 LIMIT ?`,
		strings.Join(conditions, " OR "),
	)
	args = append(args, limit)

	rows, err := ix.db.Query(q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	results, err := scanMatches(rows)
	if err != nil {
		return nil, err
	}

	// Rank by how many query words each chunk matches.
	for i := range results {
		lower := strings.ToLower(results[i].Content + " " + results[i].Symbol)
		for _, w := range words {
			if strings.Contains(lower, strings.ToLower(w)) {
				results[i].Score++
			}
		}
	}
	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	return results, nil
}

// --- Context formatting ---

// FormatContext builds a markdown string from retrieved chunks suitable
// for injecting into the system prompt.
func FormatContext(matches []Match) string {
	if len(matches) == 0 {
		return ""
	}

	var b strings.Builder
	b.WriteString("## Relevant Code Context\n\n")

	seenFiles := make(map[string]bool)
	for _, m := range matches {
		if !seenFiles[m.Path] {
			b.WriteString(fmt.Sprintf("### %s\n", m.Path))
			seenFiles[m.Path] = true
		}
		if m.Symbol != "" {
			b.WriteString(fmt.Sprintf("**%s** `%s` (lines %d-%d):\n",
				m.Kind, m.Symbol, m.StartLine, m.EndLine))
		}
		b.WriteString("```\n")
		content := m.Content
		if len(content) > 2000 {
			content = content[:2000] + "\n// ... (truncated)"
		}
		b.WriteString(content)
		b.WriteString("\n```\n\n")
	}
	return b.String()
}

// --- Helpers ---

func sanitizeFTS(query string) string {
	// Strip FTS5 operators that would otherwise cause syntax errors.
	replacer := strings.NewReplacer(
		"*", "",
		"\"", "",
		"(", "",
		")", "",
		":", "",
		"^", "",
		"~", "",
		"+", "",
		"-", "",
	)
	cleaned := replacer.Replace(query)

	words := strings.Fields(cleaned)
	if len(words) == 0 {
		return ""
	}
	return strings.Join(words, " OR ")
}

func scanMatches(rows *sql.Rows) ([]Match, error) {
	var results []Match
	for rows.Next() {
		var m Match
		err := rows.Scan(
			&m.ID, &m.Workspace, &m.Path, &m.Kind, &m.Symbol,
			&m.StartLine, &m.EndLine, &m.Content,
		)
		if err != nil {
			return nil, err
		}
		results = append(results, m)
	}
	return results, rows.Err()
}

// parseStoredTime handles the text forms the sqlite driver stores datetime
// values in. Returns the zero time if none match.
func parseStoredTime(s string) time.Time {
	for _, layout := range []string{
		"2006-01-02 15:04:05.999999999 -0700 MST",
		"2006-01-02 15:04:05.999999999-07:00",
		time.RFC3339Nano,
		"2006-01-02 15:04:05",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func fileHash(data []byte) string {
	h := sha256.Sum256(data)
	return fmt.Sprintf("%x", h[:8])
}
