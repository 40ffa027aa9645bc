// Package shinigami adapts the Shinigami JSON API to the canonical manga schema.
package shinigami

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/JakeFAU/mangawatch/internal/logging"
	"github.com/JakeFAU/mangawatch/internal/manga"
	"github.com/JakeFAU/mangawatch/internal/provider"
	"github.com/JakeFAU/mangawatch/internal/slug"
)

// Name is the source key of this adapter.
const Name = "shinigami"

// DefaultBaseURL is used when Config.BaseURL is empty.
const DefaultBaseURL = "https://api.shngm.io"

const (
	searchPageSize  = 24
	chapterPageSize = 200
)

// Config holds adapter settings.
type Config struct {
	BaseURL string
}

// Provider talks to the Shinigami v1 API.
type Provider struct {
	base    string
	fetcher manga.Fetcher
	logger  *zap.Logger
}

type named struct {
	Name string `json:"name"`
}

type mangaRecord struct {
	MangaID             string   `json:"manga_id"`
	Title               string   `json:"title"`
	AlternativeTitle    string   `json:"alternative_title"`
	CoverImageURL       string   `json:"cover_image_url"`
	Description         string   `json:"description"`
	Status              int      `json:"status"`
	ReleaseYear         string   `json:"release_year"`
	UserRate            float64  `json:"user_rate"`
	LatestChapterNumber *float64 `json:"latest_chapter_number"`
	Taxonomy            struct {
		Author []named `json:"Author"`
		Genre  []named `json:"Genre"`
		Format []named `json:"Format"`
	} `json:"taxonomy"`
}

type chapterRecord struct {
	ChapterID     string  `json:"chapter_id"`
	ChapterNumber float64 `json:"chapter_number"`
	ReleaseDate   string  `json:"release_date"`
}

type chapterDetail struct {
	BaseURL string `json:"base_url"`
	Chapter *struct {
		Path string   `json:"path"`
		Data []string `json:"data"`
	} `json:"chapter"`
	Images []string `json:"images"`
	Pages  []string `json:"pages"`
}

// New builds the adapter.
func New(cfg Config, fetcher manga.Fetcher, logger *zap.Logger) *Provider {
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return &Provider{
		base:    base,
		fetcher: fetcher,
		logger:  logging.OrNop(logger).Named(Name),
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
	q.Set("q", query)
	q.Set("page", "1")
	q.Set("page_size", strconv.Itoa(searchPageSize))

	var records []mangaRecord
	found, err := p.getData(ctx, p.base+"/v1/manga/list?"+q.Encode(), &records)
	if err != nil || !found {
		return nil, err
	}
	for _, r := range records {
		id := slug.Clean(r.MangaID)
		if id == "" || strings.TrimSpace(r.Title) == "" {
			continue
		}
		item := manga.CanonicalItem{
			ID:     id,
			Title:  strings.TrimSpace(r.Title),
			Cover:  r.CoverImageURL,
			Type:   firstName(r.Taxonomy.Format),
			Rating: r.UserRate,
			Source: Name,
		}
		if r.LatestChapterNumber != nil {
			item.LatestChapter = marker(*r.LatestChapterNumber)
		}
		items = append(items, item)
	}
	return items, nil
}

// Detail implements manga.Provider.
func (p *Provider) Detail(ctx context.Context, canonicalID string) (detail *manga.CanonicalDetail, err error) {
	defer func() { provider.Observe(Name, "detail", detail != nil, err) }()

	id := slug.Clean(canonicalID)
	if id == "" {
		return nil, nil
	}
	var record mangaRecord
	found, err := p.getData(ctx, p.base+"/v1/manga/detail/"+url.PathEscape(id), &record)
	if err != nil || !found {
		return nil, err
	}
	if strings.TrimSpace(record.Title) == "" {
		p.logger.Debug("detail payload missing title", zap.String("manga_id", id))
		return nil, nil
	}

	chapters, err := p.chapters(ctx, id, chapterPageSize)
	if err != nil {
		return nil, err
	}

	detail = &manga.CanonicalDetail{
		ID:       id,
		Title:    strings.TrimSpace(record.Title),
		AltTitle: strings.TrimSpace(record.AlternativeTitle),
		Cover:    record.CoverImageURL,
		Synopsis: strings.TrimSpace(record.Description),
		Author:   firstName(record.Taxonomy.Author),
		Status:   statusLabel(record.Status),
		Type:     firstName(record.Taxonomy.Format),
		Chapters: chapters,
		Source:   Name,
	}
	if year, perr := strconv.Atoi(strings.TrimSpace(record.ReleaseYear)); perr == nil {
		detail.ReleaseYear = year
	}
	for _, g := range record.Taxonomy.Genre {
		if name := strings.TrimSpace(g.Name); name != "" {
			detail.Genres = append(detail.Genres, name)
		}
	}
	detail.ApplyDefaults()
	return detail, nil
}

// ChapterImages implements manga.Provider. Images come from the declared
// chapter schema; data.images and then data.pages are the only fallbacks.
func (p *Provider) ChapterImages(ctx context.Context, chapterID string) (images []string, err error) {
	defer func() { provider.Observe(Name, "chapter_images", len(images) > 0, err) }()

	id := slug.Clean(chapterID)
	if id == "" {
		return nil, nil
	}
	var data chapterDetail
	found, err := p.getData(ctx, p.base+"/v1/chapter/detail/"+url.PathEscape(id), &data)
	if err != nil || !found {
		return nil, err
	}

	if data.Chapter != nil && len(data.Chapter.Data) > 0 {
		for _, file := range data.Chapter.Data {
			if strings.TrimSpace(file) == "" {
				continue
			}
			images = append(images, provider.JoinURL(data.BaseURL, data.Chapter.Path, file))
		}
		return images, nil
	}
	fallback := data.Images
	if len(fallback) == 0 {
		fallback = data.Pages
	}
	for _, src := range fallback {
		if src = strings.TrimSpace(src); src == "" {
			continue
		}
		if data.BaseURL != "" {
			src = provider.Absolute(data.BaseURL+"/", src)
		}
		images = append(images, src)
	}
	return images, nil
}

// LatestChapterMarker implements manga.Provider.
func (p *Provider) LatestChapterMarker(ctx context.Context, canonicalID string) (string, error) {
	id := slug.Clean(canonicalID)
	if id == "" {
		return "", nil
	}
	chapters, err := p.chapters(ctx, id, 1)
	provider.Observe(Name, "latest_marker", len(chapters) > 0, err)
	if err != nil || len(chapters) == 0 {
		return "", err
	}
	return chapters[0].Title, nil
}

func (p *Provider) chapters(ctx context.Context, id string, pageSize int) ([]manga.Chapter, error) {
	q := url.Values{}
	q.Set("page", "1")
	q.Set("page_size", strconv.Itoa(pageSize))
	q.Set("sort_by", "chapter_number")
	q.Set("sort_order", "desc")

	var records []chapterRecord
	found, err := p.getData(ctx, p.base+"/v1/chapter/"+url.PathEscape(id)+"/list?"+q.Encode(), &records)
	if err != nil || !found {
		return nil, err
	}
	chapters := make([]manga.Chapter, 0, len(records))
	for _, r := range records {
		if r.ChapterID == "" {
			continue
		}
		chapters = append(chapters, manga.Chapter{
			ID:         r.ChapterID,
			Title:      marker(r.ChapterNumber),
			ReleasedAt: r.ReleaseDate,
		})
	}
	return chapters, nil
}

// getData fetches target and decodes its "data" envelope into out. found is
// false when the record is gone or the payload does not match the schema.
func (p *Provider) getData(ctx context.Context, target string, out any) (bool, error) {
	body, err := provider.Get(ctx, p.fetcher, target, http.Header{"Accept": {"application/json"}})
	if err != nil {
		return false, fmt.Errorf("shinigami get %s: %w", target, err)
	}
	if body == nil {
		return false, nil
	}
	var envelope struct {
		Data json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil || len(envelope.Data) == 0 || string(envelope.Data) == "null" {
		p.logger.Debug("unexpected payload", zap.String("url", target), zap.Error(err))
		return false, nil
	}
	if err := json.Unmarshal(envelope.Data, out); err != nil {
		p.logger.Debug("payload schema mismatch", zap.String("url", target), zap.Error(err))
		return false, nil
	}
	return true, nil
}

func marker(n float64) string {
	return "Chapter " + strconv.FormatFloat(n, 'f', -1, 64)
}

func firstName(list []named) string {
	for _, n := range list {
		if v := strings.TrimSpace(n.Name); v != "" {
			return v
		}
	}
	return ""
}

func statusLabel(code int) string {
	switch code {
	case 1:
		return "Ongoing"
	case 2:
		return "Completed"
	case 3:
		return "Hiatus"
	default:
		return ""
	}
}
