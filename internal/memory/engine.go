package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Engine is the SQLite-backed store for messages, memories, settings, the
// content library and trigger phrases.
type Engine struct {
	db *sql.DB
	mu sync.Mutex
}

func NewEngine(dbPath string) (*Engine, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db dir: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	e := &Engine{db: db}
	if err := e.configure(); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := e.initSchema(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return e, nil
}

func (e *Engine) configure() error {
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, p := range pragmas {
		if _, err := e.db.Exec(p); err != nil {
			return fmt.Errorf("sqlite pragma %q: %w", p, err)
		}
	}
	return nil
}

func (e *Engine) Close() error {
	if e.db == nil {
		return nil
	}
	return e.db.Close()
}

func (e *Engine) initSchema() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS messages (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL,
			content TEXT NOT NULL,
			is_from_user INTEGER NOT NULL DEFAULT 1,
			timestamp TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_messages_user ON messages(user_id, timestamp, id)`,
		`CREATE TABLE IF NOT EXISTS memories (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id TEXT NOT NULL UNIQUE,
			context TEXT NOT NULL,
			last_updated TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS settings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			key TEXT NOT NULL UNIQUE,
			value TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS contents (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			type TEXT NOT NULL,
			content TEXT NOT NULL,
			timestamp TEXT NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_contents_type ON contents(type, timestamp)`,
		`CREATE VIRTUAL TABLE IF NOT EXISTS contents_fts USING fts5(
			content,
			content='contents',
			content_rowid='id',
			tokenize='unicode61'
		)`,
		`CREATE TRIGGER IF NOT EXISTS contents_ai AFTER INSERT ON contents BEGIN
			INSERT INTO contents_fts(rowid, content) VALUES (new.id, new.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS contents_ad AFTER DELETE ON contents BEGIN
			INSERT INTO contents_fts(contents_fts, rowid, content) VALUES('delete', old.id, old.content);
		END`,
		`CREATE TRIGGER IF NOT EXISTS contents_au AFTER UPDATE ON contents BEGIN
			INSERT INTO contents_fts(contents_fts, rowid, content) VALUES('delete', old.id, old.content);
			INSERT INTO contents_fts(rowid, content) VALUES (new.id, new.content);
		END`,
		`CREATE TABLE IF NOT EXISTS trigger_phrases (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			phrase TEXT NOT NULL UNIQUE,
			guidelines TEXT NOT NULL DEFAULT '',
			personality TEXT NOT NULL DEFAULT '',
			examples TEXT NOT NULL DEFAULT '',
			identity TEXT NOT NULL DEFAULT '',
			purpose TEXT NOT NULL DEFAULT '',
			audience TEXT NOT NULL DEFAULT '',
			task TEXT NOT NULL DEFAULT '',
			active INTEGER NOT NULL DEFAULT 1
		)`,
	}

	for _, stmt := range stmts {
		if _, err := e.db.Exec(stmt); err != nil {
			return fmt.Errorf("init schema: %w", err)
		}
	}
	return nil
}

// AddMessage persists msg, assigning its id and (when unset) its timestamp.
func (e *Engine) AddMessage(ctx context.Context, msg Message) (Message, error) {
	if strings.TrimSpace(msg.UserID) == "" {
		return Message{}, fmt.Errorf("add message: empty user id")
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	msg.Timestamp = msg.Timestamp.UTC()

	e.mu.Lock()
	defer e.mu.Unlock()

	res, err := e.db.ExecContext(ctx, `
		INSERT INTO messages (user_id, content, is_from_user, timestamp)
		VALUES (?, ?, ?, ?)
	`, msg.UserID, msg.Content, boolToInt(msg.IsFromUser), msg.Timestamp.Format(timeLayout))
	if err != nil {
		return Message{}, fmt.Errorf("add message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Message{}, fmt.Errorf("add message id: %w", err)
	}
	msg.ID = id
	return msg, nil
}

// GetMessages returns the user's messages in chronological order. A positive
// limit keeps only the most recent ones.
func (e *Engine) GetMessages(ctx context.Context, userID string, limit int) ([]Message, error) {
	q := `
		SELECT id, user_id, content, is_from_user, timestamp
		FROM messages
		WHERE user_id = ?
		ORDER BY timestamp DESC, id DESC
	`
	args := []any{userID}
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := e.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("get messages: %w", err)
	}
	defer rows.Close()

	var out []Message
	for rows.Next() {
		var (
			m        Message
			fromUser int
			ts       string
		)
		if err := rows.Scan(&m.ID, &m.UserID, &m.Content, &fromUser, &ts); err != nil {
			return nil, fmt.Errorf("scan message: %w", err)
		}
		m.IsFromUser = fromUser == 1
		m.Timestamp = parseTime(ts)
		out = append(out, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate messages: %w", err)
	}

	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

// ListConversations returns one entry per user with stored messages.
func (e *Engine) ListConversations(ctx context.Context) ([]ConversationInfo, error) {
	rows, err := e.db.QueryContext(ctx, `
		SELECT user_id, COUNT(1), MAX(timestamp)
		FROM messages
		GROUP BY user_id
		ORDER BY MAX(timestamp) DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("list conversations: %w", err)
	}
	defer rows.Close()

	var out []ConversationInfo
	for rows.Next() {
		var (
			info ConversationInfo
			last string
		)
		if err := rows.Scan(&info.UserID, &info.MessageCount, &last); err != nil {
			return nil, fmt.Errorf("scan conversation: %w", err)
		}
		info.LastMessage = parseTime(last)
		out = append(out, info)
	}
	return out, rows.Err()
}

// DeleteConversation removes a user's messages and memory. It reports
// whether anything was deleted.
func (e *Engine) DeleteConversation(ctx context.Context, userID string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("begin delete conversation: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE user_id = ?`, userID)
	if err != nil {
		return false, fmt.Errorf("delete messages: %w", err)
	}
	deleted, _ := res.RowsAffected()

	res, err = tx.ExecContext(ctx, `DELETE FROM memories WHERE user_id = ?`, userID)
	if err != nil {
		return false, fmt.Errorf("delete memory: %w", err)
	}
	memDeleted, _ := res.RowsAffected()

	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("commit delete conversation: %w", err)
	}
	return deleted+memDeleted > 0, nil
}

func (e *Engine) GetMemory(ctx context.Context, userID string) (*Record, error) {
	var raw, updated string
	err := e.db.QueryRowContext(ctx, `
		SELECT context, last_updated FROM memories WHERE user_id = ?
	`, userID).Scan(&raw, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get memory: %w", err)
	}

	mc, err := DecodeContext([]byte(raw))
	if err != nil {
		return nil, fmt.Errorf("get memory %s: %w", userID, err)
	}
	return &Record{UserID: userID, Context: mc, LastUpdated: parseTime(updated)}, nil
}

// PutMemory creates or replaces the user's memory. Last writer wins.
func (e *Engine) PutMemory(ctx context.Context, userID string, mem MemoryContext) (*Record, error) {
	data, err := EncodeContext(mem)
	if err != nil {
		return nil, fmt.Errorf("put memory: %w", err)
	}
	now := time.Now().UTC()

	e.mu.Lock()
	defer e.mu.Unlock()

	_, err = e.db.ExecContext(ctx, `
		INSERT INTO memories (user_id, context, last_updated)
		VALUES (?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET context = excluded.context, last_updated = excluded.last_updated
	`, userID, string(data), now.Format(timeLayout))
	if err != nil {
		return nil, fmt.Errorf("put memory: %w", err)
	}
	return &Record{UserID: userID, Context: mem, LastUpdated: now}, nil
}

// ListMemories returns every stored memory record.
func (e *Engine) ListMemories(ctx context.Context) ([]Record, error) {
	rows, err := e.db.QueryContext(ctx, `SELECT user_id, context, last_updated FROM memories ORDER BY user_id`)
	if err != nil {
		return nil, fmt.Errorf("list memories: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var userID, raw, updated string
		if err := rows.Scan(&userID, &raw, &updated); err != nil {
			return nil, fmt.Errorf("scan memory: %w", err)
		}
		mc, err := DecodeContext([]byte(raw))
		if err != nil {
			return nil, fmt.Errorf("list memories %s: %w", userID, err)
		}
		out = append(out, Record{UserID: userID, Context: mc, LastUpdated: parseTime(updated)})
	}
	return out, rows.Err()
}

func (e *Engine) Stats(ctx context.Context) (Stats, error) {
	var s Stats
	queries := []struct {
		q   string
		dst *int
	}{
		{`SELECT COUNT(1) FROM messages`, &s.Messages},
		{`SELECT COUNT(DISTINCT user_id) FROM messages`, &s.Users},
		{`SELECT COUNT(1) FROM memories`, &s.Memories},
		{`SELECT COUNT(1) FROM settings`, &s.Settings},
		{`SELECT COUNT(1) FROM contents`, &s.Contents},
		{`SELECT COUNT(1) FROM trigger_phrases`, &s.Triggers},
	}
	for _, q := range queries {
		if err := e.db.QueryRowContext(ctx, q.q).Scan(q.dst); err != nil {
			return Stats{}, fmt.Errorf("stats: %w", err)
		}
	}
	return s, nil
}

func parseTime(s string) time.Time {
	for _, layout := range []string{timeLayout, time.RFC3339Nano, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

func boolToInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
