// Package memory provides in-process implementations for development and tests.
package memory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/JakeFAU/mangawatch/internal/id/uuid"
	"github.com/JakeFAU/mangawatch/internal/manga"
)

// Store implements manga.Store and manga.Library behind a single mutex.
type Store struct {
	mu       sync.RWMutex
	ids      manga.IDGenerator
	now      func() time.Time
	titles   map[string]manga.TrackedTitle
	queue    map[string]manga.BookmarkQueueItem
	settings map[string]manga.UserNotificationSettings
}

// NewStore constructs an empty Store. ids may be nil.
func NewStore(ids manga.IDGenerator) *Store {
	if ids == nil {
		ids = uuid.New()
	}
	return &Store{
		ids:      ids,
		now:      func() time.Time { return time.Now().UTC() },
		titles:   make(map[string]manga.TrackedTitle),
		queue:    make(map[string]manga.BookmarkQueueItem),
		settings: make(map[string]manga.UserNotificationSettings),
	}
}

// FindOldest returns up to limit queue items, never-checked first, then by
// ascending last check time.
func (s *Store) FindOldest(_ context.Context, limit int) ([]manga.BookmarkQueueItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	items := make([]manga.BookmarkQueueItem, 0, len(s.queue))
	for _, item := range s.queue {
		items = append(items, copyItem(item))
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i].LastCheckedAt, items[j].LastCheckedAt
		switch {
		case a == nil && b == nil:
			return items[i].ID < items[j].ID
		case a == nil:
			return true
		case b == nil:
			return false
		case !a.Equal(*b):
			return a.Before(*b)
		default:
			return items[i].ID < items[j].ID
		}
	})
	if limit >= 0 && len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

// UpdateChapter records a new marker on the queue item and the matching
// tracked title.
func (s *Store) UpdateChapter(_ context.Context, id, marker string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.queue[id]
	if !ok {
		return fmt.Errorf("update chapter %s: %w", id, manga.ErrNoRows)
	}
	item.LastChapter = marker
	s.queue[id] = item
	if title, ok := s.titles[titleKey(item.MangaID, item.UserID)]; ok {
		title.LastKnownChapter = marker
		s.titles[titleKey(item.MangaID, item.UserID)] = title
	}
	return nil
}

// TouchCheckedAt stamps every listed queue item. Unknown ids are ignored.
func (s *Store) TouchCheckedAt(_ context.Context, ids []string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, id := range ids {
		item, ok := s.queue[id]
		if !ok {
			continue
		}
		stamp := at
		item.LastCheckedAt = &stamp
		s.queue[id] = item
	}
	return nil
}

// FindSettingsForUsers returns the stored settings of the listed users.
func (s *Store) FindSettingsForUsers(_ context.Context, userIDs []string) ([]manga.UserNotificationSettings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]manga.UserNotificationSettings, 0, len(userIDs))
	seen := make(map[string]struct{}, len(userIDs))
	for _, uid := range userIDs {
		if _, dup := seen[uid]; dup {
			continue
		}
		seen[uid] = struct{}{}
		if settings, ok := s.settings[uid]; ok {
			out = append(out, settings)
		}
	}
	return out, nil
}

// Track adds a title to a user's collection.
func (s *Store) Track(_ context.Context, title manga.TrackedTitle) (manga.TrackedTitle, error) {
	if strings.TrimSpace(title.TitleID) == "" || strings.TrimSpace(title.OwnerUserID) == "" {
		return manga.TrackedTitle{}, fmt.Errorf("track: title id and owner are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	key := titleKey(title.TitleID, title.OwnerUserID)
	if _, exists := s.titles[key]; exists {
		return manga.TrackedTitle{}, fmt.Errorf("track %s: %w", title.TitleID, manga.ErrDuplicate)
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
	s.titles[key] = title
	return title, nil
}

// Untrack removes a title and its queue entry from a user's collection.
func (s *Store) Untrack(_ context.Context, titleID, ownerUserID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.titles, titleKey(titleID, ownerUserID))
	for id, item := range s.queue {
		if item.UserID == ownerUserID && item.MangaID == titleID {
			delete(s.queue, id)
		}
	}
	return nil
}

// DeleteUser removes every record owned by userID.
func (s *Store) DeleteUser(_ context.Context, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for key, title := range s.titles {
		if title.OwnerUserID == userID {
			delete(s.titles, key)
		}
	}
	for id, item := range s.queue {
		if item.UserID == userID {
			delete(s.queue, id)
		}
	}
	delete(s.settings, userID)
	return nil
}

// Enqueue inserts a queue item, or refreshes the display fields of the
// existing item for the same user and title.
func (s *Store) Enqueue(_ context.Context, item manga.BookmarkQueueItem) (manga.BookmarkQueueItem, error) {
	if strings.TrimSpace(item.UserID) == "" || strings.TrimSpace(item.MangaID) == "" {
		return manga.BookmarkQueueItem{}, fmt.Errorf("enqueue: user id and manga id are required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.queue {
		if existing.UserID == item.UserID && existing.MangaID == item.MangaID {
			existing.Source = item.Source
			existing.Title = item.Title
			existing.Cover = item.Cover
			s.queue[id] = existing
			return copyItem(existing), nil
		}
	}
	if item.ID == "" {
		id, err := s.ids.NewID()
		if err != nil {
			return manga.BookmarkQueueItem{}, fmt.Errorf("enqueue: %w", err)
		}
		item.ID = id
	}
	item = copyItem(item)
	s.queue[item.ID] = item
	return copyItem(item), nil
}

// SaveSettings stores or replaces a user's notification settings.
func (s *Store) SaveSettings(_ context.Context, settings manga.UserNotificationSettings) error {
	if strings.TrimSpace(settings.UserID) == "" {
		return fmt.Errorf("save settings: user id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.settings[settings.UserID] = settings
	return nil
}

// TrackedTitles lists a user's collection ordered by creation time.
func (s *Store) TrackedTitles(_ context.Context, ownerUserID string) ([]manga.TrackedTitle, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]manga.TrackedTitle, 0)
	for _, title := range s.titles {
		if title.OwnerUserID == ownerUserID {
			out = append(out, title)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func titleKey(titleID, owner string) string {
	return owner + "\x00" + titleID
}

func copyItem(item manga.BookmarkQueueItem) manga.BookmarkQueueItem {
	if item.LastCheckedAt != nil {
		stamp := *item.LastCheckedAt
		item.LastCheckedAt = &stamp
	}
	return item
}
