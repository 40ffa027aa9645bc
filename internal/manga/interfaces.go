// Package manga holds the domain types and collaborator interfaces shared across the service.
package manga

import (
	"context"
	"time"
)

// Fetcher resolves a single logical HTTP GET.
type Fetcher interface {
	Fetch(ctx context.Context, request FetchRequest) (FetchResponse, error)
}

// Provider adapts one upstream catalog to the canonical schema.
// Lookups that find nothing return a nil/empty result and a nil error;
// errors are reserved for transport failures.
type Provider interface {
	Name() string
	Search(ctx context.Context, query string) ([]CanonicalItem, error)
	Detail(ctx context.Context, canonicalID string) (*CanonicalDetail, error)
	ChapterImages(ctx context.Context, chapterID string) ([]string, error)
	LatestChapterMarker(ctx context.Context, canonicalID string) (string, error)
}

// Store is the persistence surface the poll loop needs.
type Store interface {
	FindOldest(ctx context.Context, limit int) ([]BookmarkQueueItem, error)
	UpdateChapter(ctx context.Context, id, marker string) error
	TouchCheckedAt(ctx context.Context, ids []string, at time.Time) error
	FindSettingsForUsers(ctx context.Context, userIDs []string) ([]UserNotificationSettings, error)
}

// Library manages user collections and is used for seeding and account cleanup.
type Library interface {
	Track(ctx context.Context, title TrackedTitle) (TrackedTitle, error)
	Untrack(ctx context.Context, titleID, ownerUserID string) error
	DeleteUser(ctx context.Context, userID string) error
	Enqueue(ctx context.Context, item BookmarkQueueItem) (BookmarkQueueItem, error)
	SaveSettings(ctx context.Context, settings UserNotificationSettings) error
}

// Publisher emits change events for downstream consumers.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Clock abstracts time for deterministic tests.
type Clock interface {
	Now() time.Time
}

// IDGenerator issues identifiers for new records.
type IDGenerator interface {
	NewID() (string, error)
}
