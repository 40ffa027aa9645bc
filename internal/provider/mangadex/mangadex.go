// Package mangadex adapts the public MangaDex API to the canonical manga schema.
// Only UUID-shaped identifiers are looked up; anything else is not found
// without touching the network.
package mangadex

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/JakeFAU/mangawatch/internal/logging"
	"github.com/JakeFAU/mangawatch/internal/manga"
	"github.com/JakeFAU/mangawatch/internal/provider"
	"github.com/JakeFAU/mangawatch/internal/slug"
)

// Name is the source key of this adapter.
const Name = "mangadex"

// DefaultBaseURL is used when Config.BaseURL is empty.
const DefaultBaseURL = "https://api.mangadex.org"

const (
	coverBase   = "https://uploads.mangadex.org/covers/%s/%s"
	chapterBase = "https://mangadex.org/chapter/"
	searchLimit = 20
	feedLimit   = 100
)

// Config holds adapter settings.
type Config struct {
	BaseURL string
	// Language filters the chapter feed. Defaults to "en".
	Language string
}

// Provider talks to api.mangadex.org.
type Provider struct {
	base     string
	language string
	fetcher  manga.Fetcher
	logger   *zap.Logger
}

type mangaRecord struct {
	ID         string `json:"id"`
	Attributes struct {
		Title       map[string]string   `json:"title"`
		AltTitles   []map[string]string `json:"altTitles"`
		Description map[string]string   `json:"description"`
		Status      string              `json:"status"`
		Year        int                 `json:"year"`
		LastChapter string              `json:"lastChapter"`
		Tags        []struct {
			Attributes struct {
				Name  map[string]string `json:"name"`
				Group string            `json:"group"`
			} `json:"attributes"`
		} `json:"tags"`
		PublicationDemographic string `json:"publicationDemographic"`
	} `json:"attributes"`
	Relationships []struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		Attributes struct {
			Name     string `json:"name"`
			FileName string `json:"fileName"`
		} `json:"attributes"`
	} `json:"relationships"`
}

type chapterRecord struct {
	ID         string `json:"id"`
	Attributes struct {
		Chapter   *string `json:"chapter"`
		Title     string  `json:"title"`
		PublishAt string  `json:"publishAt"`
	} `json:"attributes"`
}

type atHome struct {
	BaseURL string `json:"baseUrl"`
	Chapter struct {
		Hash string   `json:"hash"`
		Data []string `json:"data"`
	} `json:"chapter"`
}

// New builds the adapter.
func New(cfg Config, fetcher manga.Fetcher, logger *zap.Logger) *Provider {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	lang := cfg.Language
	if lang == "" {
		lang = "en"
	}
	return &Provider{
		base:     base,
		language: lang,
		fetcher:  fetcher,
		logger:   logging.OrNop(logger).Named(Name),
	}
}

// Name implements manga.Provider.
func (p *Provider) Name() string { return Name }

// Search implements manga.Provider.
func (p *Provider) Search(ctx context.Context, query string) (items []manga.CanonicalItem, err error) {
	defer func() { provider.Observe(Name, "search", len(items) > 0, err) }()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}
	q := url.Values{}
	q.Set("title", query)
	q.Set("limit", strconv.Itoa(searchLimit))
	q.Add("includes[]", "cover_art")
	q.Add("includes[]", "author")

	var records []mangaRecord
	found, err := p.get(ctx, p.base+"/manga?"+q.Encode(), &records)
	if err != nil || !found {
		return nil, err
	}
	for _, r := range records {
		title := pickLang(r.Attributes.Title, p.language)
		if r.ID == "" || title == "" {
			continue
		}
		item := manga.CanonicalItem{
			ID:     r.ID,
			Title:  title,
			Cover:  coverURL(r),
			Type:   r.Attributes.PublicationDemographic,
			Source: Name,
		}
		if r.Attributes.LastChapter != "" {
			item.LatestChapter = "Chapter " + r.Attributes.LastChapter
		}
		items = append(items, item)
	}
	return items, nil
}

// Detail implements manga.Provider.
func (p *Provider) Detail(ctx context.Context, canonicalID string) (detail *manga.CanonicalDetail, err error) {
	defer func() { provider.Observe(Name, "detail", detail != nil, err) }()

	id, ok := parseID(canonicalID)
	if !ok {
		return nil, nil
	}
	q := url.Values{}
	q.Add("includes[]", "author")
	q.Add("includes[]", "cover_art")

	var record mangaRecord
	found, err := p.get(ctx, p.base+"/manga/"+id+"?"+q.Encode(), &record)
	if err != nil || !found {
		return nil, err
	}
	title := pickLang(record.Attributes.Title, p.language)
	if title == "" {
		return nil, nil
	}

	chapters, err := p.feed(ctx, id, feedLimit)
	if err != nil {
		return nil, err
	}

	detail = &manga.CanonicalDetail{
		ID:          id,
		Title:       title,
		Cover:       coverURL(record),
		Synopsis:    pickLang(record.Attributes.Description, p.language),
		Status:      titleCase(record.Attributes.Status),
		Type:        titleCase(record.Attributes.PublicationDemographic),
		ReleaseYear: record.Attributes.Year,
		Chapters:    chapters,
		Source:      Name,
	}
	for _, alt := range record.Attributes.AltTitles {
		if v := pickLang(alt, p.language); v != "" && v != title {
			detail.AltTitle = v
			break
		}
	}
	for _, rel := range record.Relationships {
		if rel.Type == "author" && rel.Attributes.Name != "" {
			detail.Author = rel.Attributes.Name
			break
		}
	}
	for _, tag := range record.Attributes.Tags {
		if tag.Attributes.Group != "" && tag.Attributes.Group != "genre" {
			continue
		}
		if name := pickLang(tag.Attributes.Name, "en"); name != "" {
			detail.Genres = append(detail.Genres, name)
		}
	}
	detail.ApplyDefaults()
	return detail, nil
}

// ChapterImages implements manga.Provider.
func (p *Provider) ChapterImages(ctx context.Context, chapterID string) (images []string, err error) {
	defer func() { provider.Observe(Name, "chapter_images", len(images) > 0, err) }()

	id, ok := parseID(chapterID)
	if !ok {
		return nil, nil
	}
	body, err := provider.Get(ctx, p.fetcher, p.base+"/at-home/server/"+id, jsonHeaders())
	if err != nil {
		return nil, fmt.Errorf("mangadex at-home %s: %w", id, err)
	}
	if body == nil {
		return nil, nil
	}
	var server atHome
	if err := json.Unmarshal(body, &server); err != nil || server.BaseURL == "" || server.Chapter.Hash == "" {
		p.logger.Debug("unexpected at-home payload", zap.String("chapter_id", id), zap.Error(err))
		return nil, nil
	}
	for _, file := range server.Chapter.Data {
		if file == "" {
			continue
		}
		images = append(images, provider.JoinURL(server.BaseURL, "data", server.Chapter.Hash, file))
	}
	return images, nil
}

// LatestChapterMarker implements manga.Provider.
func (p *Provider) LatestChapterMarker(ctx context.Context, canonicalID string) (string, error) {
	id, ok := parseID(canonicalID)
	if !ok {
		return "", nil
	}
	chapters, err := p.feed(ctx, id, 1)
	provider.Observe(Name, "latest_marker", len(chapters) > 0, err)
	if err != nil || len(chapters) == 0 {
		return "", err
	}
	return chapters[0].Title, nil
}

func (p *Provider) feed(ctx context.Context, id string, limit int) ([]manga.Chapter, error) {
	q := url.Values{}
	q.Add("translatedLanguage[]", p.language)
	q.Set("order[chapter]", "desc")
	q.Set("limit", strconv.Itoa(limit))

	var records []chapterRecord
	found, err := p.get(ctx, p.base+"/manga/"+id+"/feed?"+q.Encode(), &records)
	if err != nil || !found {
		return nil, err
	}
	chapters := make([]manga.Chapter, 0, len(records))
	for _, r := range records {
		if r.ID == "" {
			continue
		}
		title := strings.TrimSpace(r.Attributes.Title)
		if r.Attributes.Chapter != nil && *r.Attributes.Chapter != "" {
			title = "Chapter " + *r.Attributes.Chapter
		} else if title == "" {
			title = "Oneshot"
		}
		chapters = append(chapters, manga.Chapter{
			ID:         r.ID,
			Title:      title,
			URL:        chapterBase + r.ID,
			ReleasedAt: r.Attributes.PublishAt,
		})
	}
	return chapters, nil
}

// get fetches target and decodes the "data" member of a MangaDex envelope.
func (p *Provider) get(ctx context.Context, target string, out any) (bool, error) {
	body, err := provider.Get(ctx, p.fetcher, target, jsonHeaders())
	if err != nil {
		return false, fmt.Errorf("mangadex get %s: %w", target, err)
	}
	if body == nil {
		return false, nil
	}
	var envelope struct {
		Result string          `json:"result"`
		Data   json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || envelope.Result == "error" || len(envelope.Data) == 0 {
		p.logger.Debug("unexpected payload", zap.String("url", target), zap.Error(err))
		return false, nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		p.logger.Debug("payload schema mismatch", zap.String("url", target), zap.Error(err))
		return false, nil
	}
	return true, nil
}

func parseID(raw string) (string, bool) {
	cleaned := slug.Clean(raw)
	if len(cleaned) != 36 {
		return "", false
	}
	id, err := uuid.Parse(cleaned)
	if err != nil {
		return "", false
	}
	return id.String(), true
}

func coverURL(r mangaRecord) string {
	for _, rel := range r.Relationships {
		if rel.Type == "cover_art" && rel.Attributes.FileName != "" {
			return fmt.Sprintf(coverBase, r.ID, rel.Attributes.FileName)
		}
	}
	return ""
}

func pickLang(m map[string]string, lang string) string {
	if v := strings.TrimSpace(m[lang]); v != "" {
		return v
	}
	if v := strings.TrimSpace(m["en"]); v != "" {
		return v
	}
	// Map order is random; pick the smallest key for stable output.
	best := ""
	for k, v := range m {
		if strings.TrimSpace(v) == "" {
			continue
		}
		if best == "" || k < best {
			best = k
		}
	}
	return strings.TrimSpace(m[best])
}

func titleCase(s string) string {
	if s == "" {
		return ""
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

func jsonHeaders() http.Header {
	return http.Header{"Accept": {"application/json"}}
}
