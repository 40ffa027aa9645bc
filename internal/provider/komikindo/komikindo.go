// Package komikindo adapts the Komikindo reader site, an HTML catalog, to the
// canonical manga schema.
package komikindo

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"regexp"
	"strconv"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"go.uber.org/zap"

	"github.com/JakeFAU/mangawatch/internal/logging"
	"github.com/JakeFAU/mangawatch/internal/manga"
	"github.com/JakeFAU/mangawatch/internal/provider"
	"github.com/JakeFAU/mangawatch/internal/slug"
)

// Name is the source key of this adapter.
const Name = "komikindo"

// DefaultBaseURL is used when Config.BaseURL is empty.
const DefaultBaseURL = "https://komikindo.ch"

var (
	searchCards   = ".animposx, .bs"
	imageSelector = []string{"#chimg-auh img", ".chapter-image img", ".reader-area img"}
	yearPattern   = regexp.MustCompile(`\b(1[89]\d\d|20\d\d)\b`)
)

// Config holds adapter settings.
type Config struct {
	BaseURL string
}

// Provider scrapes Komikindo pages with goquery.
type Provider struct {
	base    string
	fetcher manga.Fetcher
	logger  *zap.Logger
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
	doc, err := p.document(ctx, p.base+"/?s="+url.QueryEscape(query))
	if err != nil || doc == nil {
		return nil, err
	}

	doc.Find(searchCards).Each(func(_ int, card *goquery.Selection) {
		link := card.Find("a").First()
		href, _ := link.Attr("href")
		id := slug.Clean(href)
		title := firstText(card, ".tt", "h4", ".title")
		if title == "" {
			title = strings.TrimSpace(link.AttrOr("title", ""))
		}
		if id == "" || title == "" {
			return
		}
		item := manga.CanonicalItem{
			ID:            id,
			Title:         title,
			Cover:         p.imageURL(card.Find("img").First()),
			LatestChapter: firstText(card, ".lsch a", ".epxs", ".adds .epxs"),
			Type:          firstText(card, ".typeflag", ".type"),
			Source:        Name,
		}
		if rating, perr := strconv.ParseFloat(firstText(card, ".rating i", ".numscore"), 64); perr == nil {
			item.Rating = rating
		}
		items = append(items, item)
	})
	return items, nil
}

// Detail implements manga.Provider.
func (p *Provider) Detail(ctx context.Context, canonicalID string) (detail *manga.CanonicalDetail, err error) {
	defer func() { provider.Observe(Name, "detail", detail != nil, err) }()

	id := slug.Clean(canonicalID)
	if id == "" {
		return nil, nil
	}
	doc, err := p.document(ctx, p.base+"/komik/"+id+"/")
	if err != nil || doc == nil {
		return nil, err
	}
	detail = p.parseDetail(id, doc)
	if detail == nil {
		p.logger.Debug("detail page did not match expected layout", zap.String("manga_id", id))
	}
	return detail, nil
}

func (p *Provider) parseDetail(id string, doc *goquery.Document) *manga.CanonicalDetail {
	title := strings.TrimSpace(doc.Find("h1.entry-title").First().Text())
	title = strings.TrimSpace(strings.TrimPrefix(title, "Komik "))
	if title == "" {
		return nil
	}

	detail := &manga.CanonicalDetail{
		ID:     id,
		Title:  title,
		Cover:  p.imageURL(doc.Find(".thumb img").First()),
		Source: Name,
	}
	detail.Synopsis = firstText(doc.Selection, ".entry-content.entry-content-single", ".desc")

	doc.Find(".spe span").Each(func(_ int, row *goquery.Selection) {
		key, value, ok := strings.Cut(row.Text(), ":")
		if !ok {
			return
		}
		value = strings.TrimSpace(value)
		switch strings.ToLower(strings.TrimSpace(key)) {
		case "pengarang", "author":
			detail.Author = value
		case "status":
			detail.Status = value
		case "jenis komik", "jenis", "type":
			detail.Type = value
		case "judul alternatif", "alternative":
			detail.AltTitle = value
		case "rilis", "released":
			if m := yearPattern.FindString(value); m != "" {
				detail.ReleaseYear, _ = strconv.Atoi(m)
			}
		}
	})

	doc.Find(".genre-info a").Each(func(_ int, a *goquery.Selection) {
		if g := strings.TrimSpace(a.Text()); g != "" {
			detail.Genres = append(detail.Genres, g)
		}
	})

	doc.Find("#chapter_list li").Each(func(_ int, li *goquery.Selection) {
		a := li.Find(".lchx a").First()
		href := strings.TrimSpace(a.AttrOr("href", ""))
		name := strings.TrimSpace(a.Text())
		chapterID := slug.Clean(href)
		if chapterID == "" || name == "" {
			return
		}
		detail.Chapters = append(detail.Chapters, manga.Chapter{
			ID:         chapterID,
			Title:      name,
			URL:        provider.Absolute(p.base, href),
			ReleasedAt: strings.TrimSpace(li.Find(".dt").First().Text()),
		})
	})

	detail.ApplyDefaults()
	return detail
}

// ChapterImages implements manga.Provider.
func (p *Provider) ChapterImages(ctx context.Context, chapterID string) (images []string, err error) {
	defer func() { provider.Observe(Name, "chapter_images", len(images) > 0, err) }()

	id := slug.Clean(chapterID)
	if id == "" {
		return nil, nil
	}
	doc, err := p.document(ctx, p.base+"/"+id+"/")
	if err != nil || doc == nil {
		return nil, err
	}
	for _, sel := range imageSelector {
		doc.Find(sel).Each(func(_ int, img *goquery.Selection) {
			if src := p.imageURL(img); src != "" {
				images = append(images, src)
			}
		})
		if len(images) > 0 {
			break
		}
	}
	return images, nil
}

// LatestChapterMarker implements manga.Provider.
func (p *Provider) LatestChapterMarker(ctx context.Context, canonicalID string) (string, error) {
	detail, err := p.Detail(ctx, canonicalID)
	if err != nil {
		return "", err
	}
	return detail.LatestChapter(), nil
}

func (p *Provider) document(ctx context.Context, target string) (*goquery.Document, error) {
	body, err := provider.Get(ctx, p.fetcher, target, p.headers())
	if err != nil {
		return nil, fmt.Errorf("komikindo get %s: %w", target, err)
	}
	if body == nil {
		return nil, nil
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		p.logger.Debug("unparsable html", zap.String("url", target), zap.Error(err))
		return nil, nil
	}
	return doc, nil
}

func (p *Provider) headers() http.Header {
	return http.Header{
		"Referer": {p.base + "/"},
		"Accept":  {"text/html,application/xhtml+xml"},
	}
}

func (p *Provider) imageURL(img *goquery.Selection) string {
	for _, attr := range []string{"src", "data-src", "data-lazy-src"} {
		if v := strings.TrimSpace(img.AttrOr(attr, "")); v != "" && !strings.HasPrefix(v, "data:") {
			return provider.Absolute(p.base, v)
		}
	}
	return ""
}

func firstText(s *goquery.Selection, selectors ...string) string {
	for _, sel := range selectors {
		if text := strings.TrimSpace(s.Find(sel).First().Text()); text != "" {
			return text
		}
	}
	return ""
}
