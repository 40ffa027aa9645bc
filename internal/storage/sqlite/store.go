// Package sqlite provides a single-file Store for single-node deployments.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite" // registers the "sqlite" driver

	"github.com/JakeFAU/mangawatch/internal/id/uuid"
	"github.com/JakeFAU/mangawatch/internal/manga"
)

const schema = `
	CREATE TABLE IF NOT EXISTS tracked_titles (
		id                 TEXT PRIMARY KEY,
		title_id           TEXT NOT NULL,
		display_title      TEXT NOT NULL DEFAULT '',
		cover_url          TEXT NOT NULL DEFAULT '',
		last_known_chapter TEXT NOT NULL DEFAULT '',
		source             TEXT NOT NULL DEFAULT '',
		owner_user_id      TEXT NOT NULL,
		created_at         INTEGER NOT NULL,
		UNIQUE (title_id, owner_user_id)
	);

	CREATE TABLE IF NOT EXISTS bookmark_queue (
		id              TEXT PRIMARY KEY,
		user_id         TEXT NOT NULL,
		manga_id        TEXT NOT NULL,
		source          TEXT NOT NULL DEFAULT '',
		title           TEXT NOT NULL DEFAULT '',
		cover           TEXT NOT NULL DEFAULT '',
		last_chapter    TEXT NOT NULL DEFAULT '',
		last_checked_at INTEGER,
		UNIQUE (user_id, manga_id)
	);

	CREATE INDEX IF NOT EXISTS idx_bookmark_queue_checked ON bookmark_queue(last_checked_at);

	CREATE TABLE IF NOT EXISTS notification_settings (
		user_id         TEXT PRIMARY KEY,
		chat_bot_token  TEXT NOT NULL DEFAULT '',
		chat_channel_id TEXT NOT NULL DEFAULT '',
		webhook_url     TEXT NOT NULL DEFAULT ''
	);
`

// Store implements manga.Store and manga.Library on a SQLite file.
// Timestamps are stored as unix milliseconds.
type Store struct {
	db  *sql.DB
	ids manga.IDGenerator
	now func() time.Time
}

// Open creates the database file (and its directory) if needed and applies the schema.
func Open(path string, ids manga.IDGenerator) (*Store, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("store.sqlite_path is required")
	}
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// A single connection keeps :memory: databases shared and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	if ids == nil {
		ids = uuid.New()
	}
	return &Store{db: db, ids: ids, now: func() time.Time { return time.Now().UTC() }}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// FindOldest returns up to limit queue items, never-checked first.
func (s *Store) FindOldest(ctx context.Context, limit int) ([]manga.BookmarkQueueItem, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, manga_id, source, title, cover, last_chapter, last_checked_at
		FROM bookmark_queue
		ORDER BY last_checked_at IS NOT NULL, last_checked_at ASC, id ASC
		LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("querying oldest queue items: %w", err)
	}
	defer rows.Close()

	var items []manga.BookmarkQueueItem
	for rows.Next() {
		var (
			item    manga.BookmarkQueueItem
			checked sql.NullInt64
		)
		if err := rows.Scan(&item.ID, &item.UserID, &item.MangaID, &item.Source, &item.Title, &item.Cover, &item.LastChapter, &checked); err != nil {
			return nil, fmt.Errorf("scanning queue row: %w", err)
		}
		if checked.Valid {
			at := time.UnixMilli(checked.Int64).UTC()
			item.LastCheckedAt = &at
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating queue rows: %w", err)
	}
	return items, nil
}

// UpdateChapter stores the new marker on the queue item and the matching tracked title.
func (s *Store) UpdateChapter(ctx context.Context, id, marker string) error {
	return s.inTx(ctx, "update chapter", func(tx *sql.Tx) error {
		var userID, mangaID string
		err := tx.QueryRowContext(ctx,
			`UPDATE bookmark_queue SET last_chapter = ? WHERE id = ? RETURNING user_id, manga_id`,
			marker, id).Scan(&userID, &mangaID)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("update chapter %s: %w", id, manga.ErrNoRows)
		}
		if err != nil {
			return fmt.Errorf("updating queue chapter: %w", err)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE tracked_titles SET last_known_chapter = ? WHERE owner_user_id = ? AND title_id = ?`,
			marker, userID, mangaID); err != nil {
			return fmt.Errorf("updating tracked title chapter: %w", err)
		}
		return nil
	})
}

// TouchCheckedAt stamps every listed queue item.
func (s *Store) TouchCheckedAt(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	args := make([]any, 0, len(ids)+1)
	args = append(args, at.UTC().UnixMilli())
	for _, id := range ids {
		args = append(args, id)
	}
	query := `UPDATE bookmark_queue SET last_checked_at = ? WHERE id IN (` + placeholders(len(ids)) + `)`
	if _, err := s.db.ExecContext(ctx, query, args...); err != nil {
		return fmt.Errorf("touching checked_at: %w", err)
	}
	return nil
}

// FindSettingsForUsers returns the stored settings of the listed users.
func (s *Store) FindSettingsForUsers(ctx context.Context, userIDs []string) ([]manga.UserNotificationSettings, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	args := make([]any, len(userIDs))
	for i, id := range userIDs {
		args[i] = id
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, chat_bot_token, chat_channel_id, webhook_url
		FROM notification_settings
		WHERE user_id IN (`+placeholders(len(userIDs))+`)
		ORDER BY user_id`, args...)
	if err != nil {
		return nil, fmt.Errorf("querying notification settings: %w", err)
	}
	defer rows.Close()

	var out []manga.UserNotificationSettings
	for rows.Next() {
		var st manga.UserNotificationSettings
		if err := rows.Scan(&st.UserID, &st.ChatBotToken, &st.ChatChannelID, &st.WebhookURL); err != nil {
			return nil, fmt.Errorf("scanning settings row: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating settings rows: %w", err)
	}
	return out, nil
}

// Track adds a title to a user's collection.
func (s *Store) Track(ctx context.Context, title manga.TrackedTitle) (manga.TrackedTitle, error) {
	if strings.TrimSpace(title.TitleID) == "" || strings.TrimSpace(title.OwnerUserID) == "" {
		return manga.TrackedTitle{}, fmt.Errorf("track: title id and owner are required")
	}
	if title.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return manga.TrackedTitle{}, fmt.Errorf("track: %w", err)
		}
		title.ID = id
	}
	if title.CreatedAt.IsZero() {
		title.CreatedAt = s.now()
	}
	title.CreatedAt = title.CreatedAt.UTC().Truncate(time.Millisecond)

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tracked_titles (id, title_id, display_title, cover_url, last_known_chapter, source, owner_user_id, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		title.ID, title.TitleID, title.DisplayTitle, title.CoverURL, title.LastKnownChapter,
		title.Source, title.OwnerUserID, title.CreatedAt.UnixMilli())
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE constraint failed") {
			return manga.TrackedTitle{}, fmt.Errorf("track %s: %w", title.TitleID, manga.ErrDuplicate)
		}
		return manga.TrackedTitle{}, fmt.Errorf("inserting tracked title: %w", err)
	}
	return title, nil
}

// TrackedTitles lists a user's collection, oldest first.
func (s *Store) TrackedTitles(ctx context.Context, ownerUserID string) ([]manga.TrackedTitle, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, title_id, display_title, cover_url, last_known_chapter, source, owner_user_id, created_at
		FROM tracked_titles
		WHERE owner_user_id = ?
		ORDER BY created_at ASC, id ASC`, ownerUserID)
	if err != nil {
		return nil, fmt.Errorf("querying tracked titles: %w", err)
	}
	defer rows.Close()

	var out []manga.TrackedTitle
	for rows.Next() {
		var (
			t       manga.TrackedTitle
			created int64
		)
		if err := rows.Scan(&t.ID, &t.TitleID, &t.DisplayTitle, &t.CoverURL, &t.LastKnownChapter, &t.Source, &t.OwnerUserID, &created); err != nil {
			return nil, fmt.Errorf("scanning tracked title: %w", err)
		}
		t.CreatedAt = time.UnixMilli(created).UTC()
		out = append(out, t)
	}
	return out, rows.Err()
}

// Untrack removes a title and its queue entry from a user's collection.
func (s *Store) Untrack(ctx context.Context, titleID, ownerUserID string) error {
	return s.inTx(ctx, "untrack", func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, `DELETE FROM tracked_titles WHERE title_id = ? AND owner_user_id = ?`, titleID, ownerUserID); err != nil {
			return fmt.Errorf("deleting tracked title: %w", err)
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM bookmark_queue WHERE manga_id = ? AND user_id = ?`, titleID, ownerUserID); err != nil {
			return fmt.Errorf("deleting queue item: %w", err)
		}
		return nil
	})
}

// DeleteUser removes every record owned by userID.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	return s.inTx(ctx, "delete user", func(tx *sql.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM tracked_titles WHERE owner_user_id = ?`,
			`DELETE FROM bookmark_queue WHERE user_id = ?`,
			`DELETE FROM notification_settings WHERE user_id = ?`,
		} {
			if _, err := tx.ExecContext(ctx, stmt, userID); err != nil {
				return fmt.Errorf("deleting user rows: %w", err)
			}
		}
		return nil
	})
}

// Enqueue inserts a queue item, or refreshes the display fields of the
// existing item for the same user and title while keeping its marker.
func (s *Store) Enqueue(ctx context.Context, item manga.BookmarkQueueItem) (manga.BookmarkQueueItem, error) {
	if strings.TrimSpace(item.UserID) == "" || strings.TrimSpace(item.MangaID) == "" {
		return manga.BookmarkQueueItem{}, fmt.Errorf("enqueue: user id and manga id are required")
	}
	if item.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return manga.BookmarkQueueItem{}, fmt.Errorf("enqueue: %w", err)
		}
		item.ID = id
	}
	var checked sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO bookmark_queue (id, user_id, manga_id, source, title, cover, last_chapter)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, manga_id) DO UPDATE
		SET source = excluded.source, title = excluded.title, cover = excluded.cover
		RETURNING id, last_chapter, last_checked_at`,
		item.ID, item.UserID, item.MangaID, item.Source, item.Title, item.Cover, item.LastChapter,
	).Scan(&item.ID, &item.LastChapter, &checked)
	if err != nil {
		return manga.BookmarkQueueItem{}, fmt.Errorf("enqueueing: %w", err)
	}
	item.LastCheckedAt = nil
	if checked.Valid {
		at := time.UnixMilli(checked.Int64).UTC()
		item.LastCheckedAt = &at
	}
	return item, nil
}

// SaveSettings stores or replaces a user's notification settings.
func (s *Store) SaveSettings(ctx context.Context, st manga.UserNotificationSettings) error {
	if strings.TrimSpace(st.UserID) == "" {
		return fmt.Errorf("save settings: user id is required")
	}
	if _, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_settings (user_id, chat_bot_token, chat_channel_id, webhook_url)
		VALUES (?, ?, ?, ?)
		ON CONFLICT (user_id) DO UPDATE
		SET chat_bot_token = excluded.chat_bot_token,
			chat_channel_id = excluded.chat_channel_id,
			webhook_url = excluded.webhook_url`,
		st.UserID, st.ChatBotToken, st.ChatChannelID, st.WebhookURL); err != nil {
		return fmt.Errorf("saving settings: %w", err)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, op string, fn func(*sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin %s: %w", op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit %s: %w", op, err)
	}
	return nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}
