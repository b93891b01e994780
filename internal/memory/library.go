package memory

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

func (e *Engine) ListSettings(ctx context.Context) ([]Setting, error) {
	rows, err := e.db.QueryContext(ctx, `SELECT id, key, value FROM settings ORDER BY key`)
	if err != nil {
		return nil, fmt.Errorf("list settings: %w", err)
	}
	defer rows.Close()

	var out []Setting
	for rows.Next() {
		var s Setting
		if err := rows.Scan(&s.ID, &s.Key, &s.Value); err != nil {
			return nil, fmt.Errorf("scan setting: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (e *Engine) GetSetting(ctx context.Context, key string) (Setting, error) {
	var s Setting
	err := e.db.QueryRowContext(ctx, `SELECT id, key, value FROM settings WHERE key = ?`, key).Scan(&s.ID, &s.Key, &s.Value)
	if errors.Is(err, sql.ErrNoRows) {
		return Setting{}, ErrNotFound
	}
	if err != nil {
		return Setting{}, fmt.Errorf("get setting %s: %w", key, err)
	}
	return s, nil
}

// PutSetting creates or updates a setting by key.
func (e *Engine) PutSetting(ctx context.Context, key, value string) (Setting, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return Setting{}, fmt.Errorf("put setting: empty key")
	}

	e.mu.Lock()
	_, err := e.db.ExecContext(ctx, `
		INSERT INTO settings (key, value) VALUES (?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value
	`, key, value)
	e.mu.Unlock()
	if err != nil {
		return Setting{}, fmt.Errorf("put setting %s: %w", key, err)
	}
	return e.GetSetting(ctx, key)
}

func (e *Engine) DeleteSetting(ctx context.Context, key string) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	res, err := e.db.ExecContext(ctx, `DELETE FROM settings WHERE key = ?`, key)
	if err != nil {
		return false, fmt.Errorf("delete setting %s: %w", key, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListContents returns the content library, optionally narrowed to one type.
func (e *Engine) ListContents(ctx context.Context, contentType string) ([]ContentItem, error) {
	q := `SELECT id, type, content, timestamp FROM contents`
	var args []any
	if t := strings.TrimSpace(contentType); t != "" {
		q += ` WHERE type = ?`
		args = append(args, t)
	}
	q += ` ORDER BY timestamp DESC, id DESC`

	rows, err := e.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("list contents: %w", err)
	}
	defer rows.Close()
	return scanContents(rows)
}

// SearchContents runs a full-text query over the content library.
func (e *Engine) SearchContents(ctx context.Context, query string, limit int) ([]ContentItem, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	if limit <= 0 {
		limit = 20
	}

	rows, err := e.db.QueryContext(ctx, `
		SELECT c.id, c.type, c.content, c.timestamp
		FROM contents c
		JOIN contents_fts f ON c.id = f.rowid
		WHERE contents_fts MATCH ?
		ORDER BY bm25(contents_fts)
		LIMIT ?
	`, ftsQuery(query), limit)
	if err != nil {
		return nil, fmt.Errorf("search contents: %w", err)
	}
	defer rows.Close()
	return scanContents(rows)
}

func (e *Engine) AddContent(ctx context.Context, item ContentItem) (ContentItem, error) {
	if strings.TrimSpace(item.Type) == "" || strings.TrimSpace(item.Content) == "" {
		return ContentItem{}, fmt.Errorf("add content: type and content are required")
	}
	if item.Timestamp.IsZero() {
		item.Timestamp = time.Now()
	}
	item.Timestamp = item.Timestamp.UTC()

	e.mu.Lock()
	defer e.mu.Unlock()
	res, err := e.db.ExecContext(ctx, `
		INSERT INTO contents (type, content, timestamp) VALUES (?, ?, ?)
	`, item.Type, item.Content, item.Timestamp.Format(timeLayout))
	if err != nil {
		return ContentItem{}, fmt.Errorf("add content: %w", err)
	}
	item.ID, err = res.LastInsertId()
	if err != nil {
		return ContentItem{}, fmt.Errorf("add content id: %w", err)
	}
	return item, nil
}

func (e *Engine) DeleteContent(ctx context.Context, id int64) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	res, err := e.db.ExecContext(ctx, `DELETE FROM contents WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete content %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// ListTriggerPhrases returns trigger phrases, optionally only active ones.
func (e *Engine) ListTriggerPhrases(ctx context.Context, activeOnly bool) ([]TriggerPhrase, error) {
	q := `
		SELECT id, phrase, guidelines, personality, examples, identity, purpose, audience, task, active
		FROM trigger_phrases
	`
	if activeOnly {
		q += ` WHERE active = 1`
	}
	q += ` ORDER BY phrase`

	rows, err := e.db.QueryContext(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list trigger phrases: %w", err)
	}
	defer rows.Close()

	var out []TriggerPhrase
	for rows.Next() {
		var (
			t      TriggerPhrase
			active int
		)
		if err := rows.Scan(&t.ID, &t.Phrase, &t.Guidelines, &t.Personality, &t.Examples,
			&t.Identity, &t.Purpose, &t.Audience, &t.Task, &active); err != nil {
			return nil, fmt.Errorf("scan trigger phrase: %w", err)
		}
		t.Active = active == 1
		out = append(out, t)
	}
	return out, rows.Err()
}

// PutTriggerPhrase creates or replaces a trigger phrase keyed by phrase.
func (e *Engine) PutTriggerPhrase(ctx context.Context, t TriggerPhrase) (TriggerPhrase, error) {
	t.Phrase = strings.TrimSpace(t.Phrase)
	if t.Phrase == "" {
		return TriggerPhrase{}, fmt.Errorf("put trigger phrase: empty phrase")
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	err := e.db.QueryRowContext(ctx, `
		INSERT INTO trigger_phrases (phrase, guidelines, personality, examples, identity, purpose, audience, task, active)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(phrase) DO UPDATE SET
			guidelines = excluded.guidelines,
			personality = excluded.personality,
			examples = excluded.examples,
			identity = excluded.identity,
			purpose = excluded.purpose,
			audience = excluded.audience,
			task = excluded.task,
			active = excluded.active
		RETURNING id
	`, t.Phrase, t.Guidelines, t.Personality, t.Examples, t.Identity, t.Purpose, t.Audience, t.Task, boolToInt(t.Active)).Scan(&t.ID)
	if err != nil {
		return TriggerPhrase{}, fmt.Errorf("put trigger phrase %q: %w", t.Phrase, err)
	}
	return t, nil
}

func (e *Engine) DeleteTriggerPhrase(ctx context.Context, id int64) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	res, err := e.db.ExecContext(ctx, `DELETE FROM trigger_phrases WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete trigger phrase %d: %w", id, err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

func scanContents(rows *sql.Rows) ([]ContentItem, error) {
	var out []ContentItem
	for rows.Next() {
		var (
			c  ContentItem
			ts string
		)
		if err := rows.Scan(&c.ID, &c.Type, &c.Content, &ts); err != nil {
			return nil, fmt.Errorf("scan content: %w", err)
		}
		c.Timestamp = parseTime(ts)
		out = append(out, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate contents: %w", err)
	}
	return out, nil
}

// ftsQuery quotes each term so user input cannot inject FTS5 syntax.
func ftsQuery(q string) string {
	terms := strings.Fields(q)
	for i, t := range terms {
		terms[i] = `"` + strings.ReplaceAll(t, `"`, `""`) + `"`
	}
	return strings.Join(terms, " OR ")
}
