// Package postgres provides Postgres-backed persistence implementations.
package postgres

import (
	"context"
	_ "embed" // schema.sql
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/mangawatch/internal/id/uuid"
	"github.com/JakeFAU/mangawatch/internal/manga"
)

//go:embed schema.sql
var schema string

const uniqueViolation = "23505"

// Config controls the Postgres connection pool.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
}

type pool interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Query(context.Context, string, ...any) (pgx.Rows, error)
	QueryRow(context.Context, string, ...any) pgx.Row
	Begin(context.Context) (pgx.Tx, error)
	Close()
}

// Store implements manga.Store and manga.Library on Postgres.
type Store struct {
	pool pool
	ids  manga.IDGenerator
}

// NewStore connects a pool using cfg.
func NewStore(ctx context.Context, cfg Config, ids manga.IDGenerator) (*Store, error) {
	if cfg.DSN == "" {
		return nil, fmt.Errorf("store.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	p, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return NewStoreWithPool(p, ids)
}

// NewStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewStoreWithPool(p pool, ids manga.IDGenerator) (*Store, error) {
	if p == nil {
		return nil, fmt.Errorf("pool is required")
	}
	if ids == nil {
		ids = uuid.New()
	}
	return &Store{pool: p, ids: ids}, nil
}

// Close releases the underlying pool resources.
func (s *Store) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// Migrate creates the tables when they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// FindOldest returns up to limit queue items, never-checked first.
func (s *Store) FindOldest(ctx context.Context, limit int) ([]manga.BookmarkQueueItem, error) {
	query := `
		SELECT id, user_id, manga_id, source, title, cover, last_chapter, last_checked_at
		FROM bookmark_queue
		ORDER BY last_checked_at ASC NULLS FIRST, id ASC
		LIMIT $1;
	`
	rows, err := s.pool.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to find oldest queue items: %w", err)
	}
	defer rows.Close()

	var items []manga.BookmarkQueueItem
	for rows.Next() {
		var (
			item    manga.BookmarkQueueItem
			checked pgtype.Timestamptz
		)
		err := rows.Scan(
			&item.ID,
			&item.UserID,
			&item.MangaID,
			&item.Source,
			&item.Title,
			&item.Cover,
			&item.LastChapter,
			&checked,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan queue row: %w", err)
		}
		if checked.Valid {
			at := checked.Time.UTC()
			item.LastCheckedAt = &at
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate queue rows: %w", err)
	}
	return items, nil
}

// UpdateChapter stores the new marker on the queue item and the matching
// tracked title in one transaction.
func (s *Store) UpdateChapter(ctx context.Context, id, marker string) (err error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin update chapter: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	var userID, mangaID string
	err = tx.QueryRow(ctx, `
		UPDATE bookmark_queue SET last_chapter = $1
		WHERE id = $2
		RETURNING user_id, manga_id;
	`, marker, id).Scan(&userID, &mangaID)
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("update chapter %s: %w", id, manga.ErrNoRows)
	}
	if err != nil {
		return fmt.Errorf("failed to update queue chapter: %w", err)
	}

	if _, err = tx.Exec(ctx, `
		UPDATE tracked_titles SET last_known_chapter = $1
		WHERE owner_user_id = $2 AND title_id = $3;
	`, marker, userID, mangaID); err != nil {
		return fmt.Errorf("failed to update tracked title chapter: %w", err)
	}
	if err = tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit update chapter: %w", err)
	}
	return nil
}

// TouchCheckedAt stamps every listed queue item.
func (s *Store) TouchCheckedAt(ctx context.Context, ids []string, at time.Time) error {
	if len(ids) == 0 {
		return nil
	}
	if _, err := s.pool.Exec(ctx, `
		UPDATE bookmark_queue SET last_checked_at = $1
		WHERE id = ANY($2);
	`, at, ids); err != nil {
		return fmt.Errorf("failed to touch checked_at: %w", err)
	}
	return nil
}

// FindSettingsForUsers returns the stored settings of the listed users.
func (s *Store) FindSettingsForUsers(ctx context.Context, userIDs []string) ([]manga.UserNotificationSettings, error) {
	if len(userIDs) == 0 {
		return nil, nil
	}
	rows, err := s.pool.Query(ctx, `
		SELECT user_id, chat_bot_token, chat_channel_id, webhook_url
		FROM notification_settings
		WHERE user_id = ANY($1);
	`, userIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to find notification settings: %w", err)
	}
	defer rows.Close()

	var out []manga.UserNotificationSettings
	for rows.Next() {
		var st manga.UserNotificationSettings
		if err := rows.Scan(&st.UserID, &st.ChatBotToken, &st.ChatChannelID, &st.WebhookURL); err != nil {
			return nil, fmt.Errorf("failed to scan settings row: %w", err)
		}
		out = append(out, st)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate settings rows: %w", err)
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
	err := s.pool.QueryRow(ctx, `
		INSERT INTO tracked_titles (id, title_id, display_title, cover_url, last_known_chapter, source, owner_user_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at;
	`,
		title.ID,
		title.TitleID,
		title.DisplayTitle,
		title.CoverURL,
		title.LastKnownChapter,
		title.Source,
		title.OwnerUserID,
	).Scan(&title.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return manga.TrackedTitle{}, fmt.Errorf("track %s: %w", title.TitleID, manga.ErrDuplicate)
		}
		return manga.TrackedTitle{}, fmt.Errorf("failed to insert tracked title: %w", err)
	}
	return title, nil
}

// Untrack removes a title and its queue entry from a user's collection.
func (s *Store) Untrack(ctx context.Context, titleID, ownerUserID string) error {
	return s.inTx(ctx, "untrack", func(tx pgx.Tx) error {
		if _, err := tx.Exec(ctx, `DELETE FROM tracked_titles WHERE title_id = $1 AND owner_user_id = $2;`, titleID, ownerUserID); err != nil {
			return fmt.Errorf("failed to delete tracked title: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM bookmark_queue WHERE manga_id = $1 AND user_id = $2;`, titleID, ownerUserID); err != nil {
			return fmt.Errorf("failed to delete queue item: %w", err)
		}
		return nil
	})
}

// DeleteUser removes every record owned by userID.
func (s *Store) DeleteUser(ctx context.Context, userID string) error {
	return s.inTx(ctx, "delete user", func(tx pgx.Tx) error {
		for _, stmt := range []string{
			`DELETE FROM tracked_titles WHERE owner_user_id = $1;`,
			`DELETE FROM bookmark_queue WHERE user_id = $1;`,
			`DELETE FROM notification_settings WHERE user_id = $1;`,
		} {
			if _, err := tx.Exec(ctx, stmt, userID); err != nil {
				return fmt.Errorf("failed to delete user rows: %w", err)
			}
		}
		return nil
	})
}

// Enqueue inserts a queue item, or refreshes the display fields of the
// existing item for the same user and title.
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
	err := s.pool.QueryRow(ctx, `
		INSERT INTO bookmark_queue (id, user_id, manga_id, source, title, cover, last_chapter)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (user_id, manga_id) DO UPDATE
		SET source = EXCLUDED.source, title = EXCLUDED.title, cover = EXCLUDED.cover
		RETURNING id, last_chapter;
	`,
		item.ID,
		item.UserID,
		item.MangaID,
		item.Source,
		item.Title,
		item.Cover,
		item.LastChapter,
	).Scan(&item.ID, &item.LastChapter)
	if err != nil {
		return manga.BookmarkQueueItem{}, fmt.Errorf("failed to enqueue: %w", err)
	}
	return item, nil
}

// SaveSettings stores or replaces a user's notification settings.
func (s *Store) SaveSettings(ctx context.Context, st manga.UserNotificationSettings) error {
	if strings.TrimSpace(st.UserID) == "" {
		return fmt.Errorf("save settings: user id is required")
	}
	if _, err := s.pool.Exec(ctx, `
		INSERT INTO notification_settings (user_id, chat_bot_token, chat_channel_id, webhook_url)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id) DO UPDATE
		SET chat_bot_token = EXCLUDED.chat_bot_token,
			chat_channel_id = EXCLUDED.chat_channel_id,
			webhook_url = EXCLUDED.webhook_url;
	`, st.UserID, st.ChatBotToken, st.ChatChannelID, st.WebhookURL); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

func (s *Store) inTx(ctx context.Context, op string, fn func(pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin %s: %w", op, err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback(ctx)
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit %s: %w", op, err)
	}
	return nil
}
