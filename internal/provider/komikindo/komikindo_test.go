package komikindo

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mangawatch/internal/manga"
)

const detailPage = `<html><body>
<div class="thumb"><img src="https://cdn.komikindo.ch/one-piece.jpg"></div>
<h1 class="entry-title">Komik One Piece</h1>
<div class="spe">
  <span><b>Judul Alternatif:</b> ワンピース</span>
  <span><b>Status:</b> Berjalan</span>
  <span><b>Pengarang:</b> Eiichiro Oda</span>
  <span><b>Jenis Komik:</b> Manga</span>
  <span><b>Rilis:</b> 22 Juli 1997</span>
</div>
<div class="genre-info"><a href="/genres/action/">Action</a><a href="/genres/adventure/">Adventure</a></div>
<div class="entry-content entry-content-single"><p>Monkey D. Luffy sets sail.</p></div>
<div id="chapter_list"><ul>
  <li><span class="lchx"><a href="https://komikindo.ch/one-piece-chapter-1101/">Chapter 1101</a></span><span class="dt">2 hari lalu</span></li>
  <li><span class="lchx"><a href="https://komikindo.ch/one-piece-chapter-1100/">Chapter 1100</a></span><span class="dt">1 minggu lalu</span></li>
  <li><span class="lchx"><a href="/one-piece-chapter-1099/">Chapter 1099</a></span></li>
</ul></div>
</body></html>`

const sparseDetailPage = `<html><body><h1 class="entry-title">Komik Quiet Title</h1></body></html>`

const searchPage = `<html><body>
<div class="animposx">
  <a href="https://komikindo.ch/komik/one-piece/" title="One Piece">
    <img data-src="/covers/one-piece.jpg">
    <div class="typeflag">Manga</div>
    <div class="tt"><h4>One Piece</h4></div>
  </a>
  <div class="lsch"><a href="/one-piece-chapter-1101/">Ch. 1101</a></div>
  <div class="rating"><i>8.9</i></div>
</div>
<div class="animposx"><a href=""><div class="tt">Broken</div></a></div>
</body></html>`

const readerPage = `<html><body>
<div id="chimg-auh">
  <img src="https://cdn.komikindo.ch/op/1101/01.jpg">
  <img src="" data-src="https://cdn.komikindo.ch/op/1101/02.jpg">
  <img src="  ">
</div>
</body></html>`

const fallbackReaderPage = `<html><body>
<div class="reader-area"><img src="/op/1100/01.jpg"></div>
</body></html>`

type fakeFetcher struct {
	pages    map[string]string
	statuses map[string]int
	requests []manga.FetchRequest
}

func (f *fakeFetcher) Fetch(_ context.Context, req manga.FetchRequest) (manga.FetchResponse, error) {
	f.requests = append(f.requests, req)
	if body, ok := f.pages[req.URL]; ok {
		return manga.FetchResponse{URL: req.URL, StatusCode: http.StatusOK, Body: []byte(body)}, nil
	}
	status := http.StatusNotFound
	if s, ok := f.statuses[req.URL]; ok {
		status = s
	}
	return manga.FetchResponse{}, &manga.TransportError{URL: req.URL, Attempts: []manga.AttemptError{
		{Strategy: "direct", URL: req.URL, StatusCode: status, Err: errors.New(http.StatusText(status))},
	}}
}

func TestDetail(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{pages: map[string]string{"https://komikindo.ch/komik/one-piece/": detailPage}}
	p := New(Config{}, f, nil)

	detail, err := p.Detail(context.Background(), "https://komikindo.ch/komik/one-piece/")
	require.NoError(t, err)
	require.NotNil(t, detail)

	assert.Equal(t, "one-piece", detail.ID)
	assert.Equal(t, "One Piece", detail.Title)
	assert.Equal(t, "ワンピース", detail.AltTitle)
	assert.Equal(t, "https://cdn.komikindo.ch/one-piece.jpg", detail.Cover)
	assert.Equal(t, "Monkey D. Luffy sets sail.", detail.Synopsis)
	assert.Equal(t, "Eiichiro Oda", detail.Author)
	assert.Equal(t, "Berjalan", detail.Status)
	assert.Equal(t, "Manga", detail.Type)
	assert.Equal(t, 1997, detail.ReleaseYear)
	assert.Equal(t, []string{"Action", "Adventure"}, detail.Genres)
	assert.Equal(t, Name, detail.Source)

	require.Len(t, detail.Chapters, 3)
	assert.Equal(t, manga.Chapter{
		ID:         "one-piece-chapter-1101",
		Title:      "Chapter 1101",
		URL:        "https://komikindo.ch/one-piece-chapter-1101/",
		ReleasedAt: "2 hari lalu",
	}, detail.Chapters[0])
	assert.Equal(t, "https://komikindo.ch/one-piece-chapter-1099/", detail.Chapters[2].URL)

	require.Equal(t, "https://komikindo.ch/", f.requests[0].Headers.Get("Referer"))
}

func TestDetailDefaults(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{pages: map[string]string{"https://komikindo.ch/komik/quiet/": sparseDetailPage}}
	detail, err := New(Config{}, f, nil).Detail(context.Background(), "quiet")
	require.NoError(t, err)
	require.NotNil(t, detail)
	assert.Equal(t, "Quiet Title", detail.Title)
	assert.Equal(t, manga.DefaultSynopsis, detail.Synopsis)
	assert.Equal(t, manga.DefaultAuthor, detail.Author)
	assert.Equal(t, manga.DefaultStatus, detail.Status)
	assert.Equal(t, 0, detail.ReleaseYear)
	assert.Empty(t, detail.Genres)
	assert.NotNil(t, detail.Genres)
}

func TestDetailNotFound(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{pages: map[string]string{
		"https://komikindo.ch/komik/landing/": `<html><body><p>nothing here</p></body></html>`,
	}}
	p := New(Config{}, f, nil)

	detail, err := p.Detail(context.Background(), "missing")
	require.NoError(t, err)
	require.Nil(t, detail)

	detail, err = p.Detail(context.Background(), "landing")
	require.NoError(t, err)
	require.Nil(t, detail)

	detail, err = p.Detail(context.Background(), "   ")
	require.NoError(t, err)
	require.Nil(t, detail)
}

func TestDetailTransportFailure(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{statuses: map[string]int{"https://komikindo.ch/komik/one-piece/": http.StatusBadGateway}}
	_, err := New(Config{}, f, nil).Detail(context.Background(), "one-piece")
	require.Error(t, err)
	require.True(t, manga.IsTransport(err))
}

func TestLatestChapterMarker(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{pages: map[string]string{"https://mirror.example/komik/one-piece/": detailPage}}
	p := New(Config{BaseURL: "https://mirror.example/"}, f, nil)

	marker, err := p.LatestChapterMarker(context.Background(), "manga-one-piece")
	require.NoError(t, err)
	require.Equal(t, "Chapter 1101", marker)

	marker, err = p.LatestChapterMarker(context.Background(), "unknown")
	require.NoError(t, err)
	require.Empty(t, marker)
}

func TestSearch(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{pages: map[string]string{"https://komikindo.ch/?s=one+piece": searchPage}}
	items, err := New(Config{}, f, nil).Search(context.Background(), " one piece ")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, manga.CanonicalItem{
		ID:            "one-piece",
		Title:         "One Piece",
		Cover:         "https://komikindo.ch/covers/one-piece.jpg",
		LatestChapter: "Ch. 1101",
		Type:          "Manga",
		Rating:        8.9,
		Source:        Name,
	}, items[0])

	items, err = New(Config{}, f, nil).Search(context.Background(), "")
	require.NoError(t, err)
	require.Empty(t, items)
}

func TestChapterImages(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{pages: map[string]string{
		"https://komikindo.ch/one-piece-chapter-1101/": readerPage,
		"https://komikindo.ch/one-piece-chapter-1100/": fallbackReaderPage,
	}}
	p := New(Config{}, f, nil)

	images, err := p.ChapterImages(context.Background(), "https://komikindo.ch/one-piece-chapter-1101/")
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://cdn.komikindo.ch/op/1101/01.jpg",
		"https://cdn.komikindo.ch/op/1101/02.jpg",
	}, images)

	images, err = p.ChapterImages(context.Background(), "chapter/one-piece-chapter-1100")
	require.NoError(t, err)
	require.Equal(t, []string{"https://komikindo.ch/op/1100/01.jpg"}, images)

	images, err = p.ChapterImages(context.Background(), "one-piece-chapter-1")
	require.NoError(t, err)
	require.Empty(t, images)
}
