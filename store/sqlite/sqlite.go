// Package sqlite implements store.ConversationStore using SQLite.
package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/codesift/codesift/model"
)

// Store manages conversation and directive persistence in SQLite.
type Store struct {
	db *sql.DB
}

// New opens (or creates) a SQLite database at the given path.
func New(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	// Enable WAL mode for better concurrent read/write performance.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("setting WAL mode: %w", err)
	}

	if err := migrate(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func migrate(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS conversations (
			id         TEXT PRIMARY KEY,
			workspace  TEXT NOT NULL,
			repo       TEXT NOT NULL DEFAULT '',
			title      TEXT NOT NULL DEFAULT '',
			status     TEXT NOT NULL DEFAULT 'pending',
			error      TEXT NOT NULL DEFAULT '',
			created_at DATETIME NOT NULL DEFAULT (datetime('now')),
			updated_at DATETIME NOT NULL DEFAULT (datetime('now'))
		);

		CREATE TABLE IF NOT EXISTS messages (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			role            TEXT NOT NULL,
			content         TEXT NOT NULL,
			created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_messages_conversation_id
			ON messages(conversation_id);

		CREATE TABLE IF NOT EXISTS conversation_events (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			type            TEXT NOT NULL,
			data            TEXT NOT NULL DEFAULT '',
			created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_events_conversation_id
			ON conversation_events(conversation_id);

		CREATE TABLE IF NOT EXISTS directives (
			id              INTEGER PRIMARY KEY AUTOINCREMENT,
			conversation_id TEXT NOT NULL,
			message_id      INTEGER NOT NULL DEFAULT 0,
			kind            TEXT NOT NULL,
			file_path       TEXT NOT NULL,
			content         TEXT NOT NULL DEFAULT '',
			search          TEXT NOT NULL DEFAULT '',
			replace         TEXT NOT NULL DEFAULT '',
			applied         INTEGER NOT NULL DEFAULT 0,
			created_at      DATETIME NOT NULL DEFAULT (datetime('now')),
			FOREIGN KEY (conversation_id) REFERENCES conversations(id)
		);

		CREATE INDEX IF NOT EXISTS idx_directives_conversation_id
			ON directives(conversation_id);
	`)
	if err != nil {
		return err
	}

	// Add title column to existing databases (idempotent).
	_, _ = db.Exec(`ALTER TABLE conversations ADD COLUMN title TEXT NOT NULL DEFAULT ''`)

	return nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// CreateConversation inserts a new conversation.
func (s *Store) CreateConversation(conv *model.Conversation) error {
	_, err := s.db.Exec(
		`INSERT INTO conversations (id, workspace, repo, title, status, created_at, updated_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conv.ID, conv.Workspace, conv.Repo, conv.Title, conv.Status,
		conv.CreatedAt, conv.UpdatedAt,
	)
	return err
}

// GetConversation retrieves a conversation by ID.
func (s *Store) GetConversation(id string) (*model.Conversation, error) {
	row := s.db.QueryRow(
		`SELECT id, workspace, repo, title, status, error, created_at, updated_at
		 FROM conversations WHERE id = ?`, id,
	)
	return scanConversation(row)
}

// ListConversations returns all conversations ordered by creation time (newest first).
func (s *Store) ListConversations() ([]*model.Conversation, error) {
	rows, err := s.db.Query(
		`SELECT id, workspace, repo, title, status, error, created_at, updated_at
		 FROM conversations ORDER BY created_at DESC`,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var convs []*model.Conversation
	for rows.Next() {
		conv, err := scanConversation(rows)
		if err != nil {
			return nil, err
		}
		convs = append(convs, conv)
	}
	return convs, rows.Err()
}

// UpdateConversation updates mutable fields of a conversation.
func (s *Store) UpdateConversation(conv *model.Conversation) error {
	conv.UpdatedAt = time.Now().UTC()
	_, err := s.db.Exec(
		`UPDATE conversations SET
			title = ?, status = ?, error = ?, updated_at = ?
		 WHERE id = ?`,
		conv.Title, conv.Status, conv.Error, conv.UpdatedAt, conv.ID,
	)
	return err
}

// AddMessage inserts a new message and sets its ID.
func (s *Store) AddMessage(msg *model.Message) error {
	result, err := s.db.Exec(
		`INSERT INTO messages (conversation_id, role, content, created_at)
		 VALUES (?, ?, ?, ?)`,
		msg.ConversationID, msg.Role, msg.Content, msg.CreatedAt,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	msg.ID = id
	return nil
}

// GetMessages returns all messages for a conversation ordered by insertion.
func (s *Store) GetMessages(conversationID string) ([]*model.Message, error) {
	rows, err := s.db.Query(
		`SELECT id, conversation_id, role, content, created_at
		 FROM messages
		 WHERE conversation_id = ?
		 ORDER BY id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var msgs []*model.Message
	for rows.Next() {
		m := &model.Message{}
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content, &m.CreatedAt); err != nil {
			return nil, err
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// AddEvent inserts a new event and sets its ID.
func (s *Store) AddEvent(event *model.Event) error {
	result, err := s.db.Exec(
		`INSERT INTO conversation_events (conversation_id, type, data, created_at)
		 VALUES (?, ?, ?, ?)`,
		event.ConversationID, event.Type, event.Data, event.CreatedAt,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	event.ID = id
	return nil
}

// GetEvents returns events for a conversation, optionally after a given event ID.
func (s *Store) GetEvents(conversationID string, afterID int64) ([]*model.Event, error) {
	rows, err := s.db.Query(
		`SELECT id, conversation_id, type, data, created_at
		 FROM conversation_events
		 WHERE conversation_id = ? AND id > ?
		 ORDER BY id ASC`,
		conversationID, afterID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var events []*model.Event
	for rows.Next() {
		e := &model.Event{}
		if err := rows.Scan(&e.ID, &e.ConversationID, &e.Type, &e.Data, &e.CreatedAt); err != nil {
			return nil, err
		}
		events = append(events, e)
	}
	return events, rows.Err()
}

// AddDirective inserts a new directive and sets its ID.
func (s *Store) AddDirective(d *model.Directive) error {
	result, err := s.db.Exec(
		`INSERT INTO directives (conversation_id, message_id, kind, file_path, content, search, replace, applied, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ConversationID, d.MessageID, d.Kind, d.FilePath, d.Content,
		d.Search, d.Replace, d.Applied, d.CreatedAt,
	)
	if err != nil {
		return err
	}
	id, err := result.LastInsertId()
	if err != nil {
		return err
	}
	d.ID = id
	return nil
}

// GetDirective retrieves a directive by ID.
func (s *Store) GetDirective(id int64) (*model.Directive, error) {
	row := s.db.QueryRow(
		`SELECT id, conversation_id, message_id, kind, file_path, content, search, replace, applied, created_at
		 FROM directives WHERE id = ?`, id,
	)
	return scanDirective(row)
}

// GetDirectives returns all directives for a conversation ordered by insertion.
func (s *Store) GetDirectives(conversationID string) ([]*model.Directive, error) {
	rows, err := s.db.Query(
		`SELECT id, conversation_id, message_id, kind, file_path, content, search, replace, applied, created_at
		 FROM directives
		 WHERE conversation_id = ?
		 ORDER BY id ASC`,
		conversationID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var directives []*model.Directive
	for rows.Next() {
		d, err := scanDirective(rows)
		if err != nil {
			return nil, err
		}
		directives = append(directives, d)
	}
	return directives, rows.Err()
}

// MarkDirectiveApplied flags a directive as applied to the workspace.
func (s *Store) MarkDirectiveApplied(id int64) error {
	_, err := s.db.Exec(`UPDATE directives SET applied = 1 WHERE id = ?`, id)
	return err
}

// --- Scan helpers ---

type scannable interface {
	Scan(dest ...any) error
}

func scanConversation(row scannable) (*model.Conversation, error) {
	conv := &model.Conversation{}
	err := row.Scan(
		&conv.ID, &conv.Workspace, &conv.Repo, &conv.Title, &conv.Status,
		&conv.Error, &conv.CreatedAt, &conv.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return conv, nil
}

func scanDirective(row scannable) (*model.Directive, error) {
	d := &model.Directive{}
	err := row.Scan(
		&d.ID, &d.ConversationID, &d.MessageID, &d.Kind, &d.FilePath,
		&d.Content, &d.Search, &d.Replace, &d.Applied, &d.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	return d, nil
}
