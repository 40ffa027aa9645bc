package manga

import (
	"net/http"
	"strings"
	"time"
)

// Defaults substituted when a provider omits optional detail fields.
const (
	DefaultSynopsis = "No synopsis available."
	DefaultAuthor   = "Unknown"
	DefaultStatus   = "Unknown"
)

// TrackedTitle is one title a user keeps in their collection.
type TrackedTitle struct {
	ID               string    `json:"id"`
	TitleID          string    `json:"title_id"`
	DisplayTitle     string    `json:"display_title"`
	CoverURL         string    `json:"cover_url"`
	LastKnownChapter string    `json:"last_known_chapter"`
	Source           string    `json:"source,omitempty"`
	OwnerUserID      string    `json:"owner_user_id"`
	CreatedAt        time.Time `json:"created_at"`
}

// BookmarkQueueItem is the lightweight record driving the poll queue.
type BookmarkQueueItem struct {
	ID            string     `json:"id"`
	UserID        string     `json:"user_id"`
	MangaID       string     `json:"manga_id"`
	Source        string     `json:"source"`
	Title         string     `json:"title"`
	Cover         string     `json:"cover"`
	LastChapter   string     `json:"last_chapter"`
	LastCheckedAt *time.Time `json:"last_checked_at,omitempty"`
}

// UserNotificationSettings holds the outbound channels a user configured.
type UserNotificationSettings struct {
	UserID        string `json:"user_id"`
	ChatBotToken  string `json:"chat_bot_token"`
	ChatChannelID string `json:"chat_channel_id"`
	WebhookURL    string `json:"webhook_url"`
}

// ChatBotConfigured reports whether both chat-bot fields are present.
func (s UserNotificationSettings) ChatBotConfigured() bool {
	return strings.TrimSpace(s.ChatBotToken) != "" && strings.TrimSpace(s.ChatChannelID) != ""
}

// WebhookConfigured reports whether a webhook URL is present.
func (s UserNotificationSettings) WebhookConfigured() bool {
	return strings.TrimSpace(s.WebhookURL) != ""
}

// CanonicalItem is a provider-agnostic search result.
type CanonicalItem struct {
	ID            string  `json:"id"`
	Title         string  `json:"title"`
	Cover         string  `json:"cover"`
	LatestChapter string  `json:"latest_chapter,omitempty"`
	Type          string  `json:"type,omitempty"`
	Rating        float64 `json:"rating,omitempty"`
	Source        string  `json:"source"`
}

// CanonicalDetail is a provider-agnostic title detail page.
type CanonicalDetail struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	AltTitle    string    `json:"alt_title,omitempty"`
	Cover       string    `json:"cover"`
	Synopsis    string    `json:"synopsis"`
	Author      string    `json:"author"`
	Status      string    `json:"status"`
	Type        string    `json:"type,omitempty"`
	ReleaseYear int       `json:"release_year"`
	Genres      []string  `json:"genres"`
	Chapters    []Chapter `json:"chapters"`
	Source      string    `json:"source"`
}

// ApplyDefaults fills the optional fields a provider left blank.
func (d *CanonicalDetail) ApplyDefaults() {
	if strings.TrimSpace(d.Synopsis) == "" {
		d.Synopsis = DefaultSynopsis
	}
	if strings.TrimSpace(d.Author) == "" {
		d.Author = DefaultAuthor
	}
	if strings.TrimSpace(d.Status) == "" {
		d.Status = DefaultStatus
	}
	if d.Genres == nil {
		d.Genres = []string{}
	}
	if d.Chapters == nil {
		d.Chapters = []Chapter{}
	}
}

// LatestChapter returns the title of the newest chapter, or "" for an empty list.
func (d *CanonicalDetail) LatestChapter() string {
	if d == nil || len(d.Chapters) == 0 {
		return ""
	}
	return d.Chapters[0].Title
}

// Chapter is one entry of a newest-first chapter list.
type Chapter struct {
	ID         string `json:"id"`
	Title      string `json:"title"`
	URL        string `json:"url,omitempty"`
	ReleasedAt string `json:"released_at,omitempty"`
}

// ChapterRead bundles chapter images with navigation to its neighbours.
type ChapterRead struct {
	ChapterID string   `json:"chapter_id"`
	MangaID   string   `json:"manga_id"`
	Source    string   `json:"source"`
	Images    []string `json:"images"`
	Prev      string   `json:"prev,omitempty"`
	Next      string   `json:"next,omitempty"`
}

// FetchRequest describes one logical outbound GET.
type FetchRequest struct {
	URL     string
	Headers http.Header
	// Timeout overrides the direct attempt timeout when non-zero.
	Timeout time.Duration
}

// FetchResponse is the successful result of a fetch.
type FetchResponse struct {
	URL        string
	StatusCode int
	Headers    http.Header
	Body       []byte
	Duration   time.Duration
	Strategy   string
}
