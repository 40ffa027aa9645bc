package mangadex

import (
	"context"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mangawatch/internal/manga"
)

const (
	api     = "https://api.mangadex.org"
	mangaID = "a1c7c817-4e59-43b7-9365-09675a149a6f"
)

type fakeFetcher struct {
	bodies   map[string]string
	statuses map[string]int
	calls    int
}

func (f *fakeFetcher) Fetch(_ context.Context, req manga.FetchRequest) (manga.FetchResponse, error) {
	f.calls++
	if body, ok := f.bodies[req.URL]; ok {
		return manga.FetchResponse{StatusCode: http.StatusOK, Body: []byte(body)}, nil
	}
	status := http.StatusNotFound
	if s, ok := f.statuses[req.URL]; ok {
		status = s
	}
	return manga.FetchResponse{}, &manga.TransportError{URL: req.URL, Attempts: []manga.AttemptError{
		{Strategy: "direct", StatusCode: status, Err: errors.New(http.StatusText(status))},
	}}
}

const mangaBody = `{"result":"ok","data":{
	"id":"a1c7c817-4e59-43b7-9365-09675a149a6f",
	"attributes":{
		"title":{"en":"One Piece"},
		"altTitles":[{"ja":"ワンピース"},{"en":"One Piece"}],
		"description":{"en":"Gol D. Roger was known as the Pirate King."},
		"status":"ongoing","year":1997,"publicationDemographic":"shounen",
		"tags":[
			{"attributes":{"name":{"en":"Action"},"group":"genre"}},
			{"attributes":{"name":{"en":"Pirates"},"group":"theme"}},
			{"attributes":{"name":{"en":"Adventure"},"group":"genre"}}
		]},
	"relationships":[
		{"id":"auth-1","type":"author","attributes":{"name":"Oda Eiichiro"}},
		{"id":"cover-1","type":"cover_art","attributes":{"fileName":"cover.jpg"}}
	]}}`

const feedBody = `{"result":"ok","data":[
	{"id":"11111111-1111-1111-1111-111111111111","attributes":{"chapter":"1101","title":"Bonney's Adventure","publishAt":"2024-01-01T00:00:00+00:00"}},
	{"id":"22222222-2222-2222-2222-222222222222","attributes":{"chapter":null,"title":""}}
]}`

func detailURL() string {
	return api + "/manga/" + mangaID + "?includes%5B%5D=author&includes%5B%5D=cover_art"
}

func feedURL(limit string) string {
	return api + "/manga/" + mangaID + "/feed?limit=" + limit + "&order%5Bchapter%5D=desc&translatedLanguage%5B%5D=en"
}

func TestDetail(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{bodies: map[string]string{
		detailURL():    mangaBody,
		feedURL("100"): feedBody,
	}}
	detail, err := New(Config{}, f, nil).Detail(context.Background(), "https://mangadex.org/title/"+mangaID)
	require.NoError(t, err)
	require.NotNil(t, detail)

	assert.Equal(t, mangaID, detail.ID)
	assert.Equal(t, "One Piece", detail.Title)
	assert.Equal(t, "ワンピース", detail.AltTitle)
	assert.Equal(t, "https://uploads.mangadex.org/covers/"+mangaID+"/cover.jpg", detail.Cover)
	assert.Equal(t, "Oda Eiichiro", detail.Author)
	assert.Equal(t, "Ongoing", detail.Status)
	assert.Equal(t, "Shounen", detail.Type)
	assert.Equal(t, 1997, detail.ReleaseYear)
	assert.Equal(t, []string{"Action", "Adventure"}, detail.Genres)
	require.Len(t, detail.Chapters, 2)
	assert.Equal(t, "Chapter 1101", detail.Chapters[0].Title)
	assert.Equal(t, "https://mangadex.org/chapter/11111111-1111-1111-1111-111111111111", detail.Chapters[0].URL)
	assert.Equal(t, "Oneshot", detail.Chapters[1].Title)
}

func TestNonUUIDIsNotFoundWithoutIO(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{}
	p := New(Config{}, f, nil)

	detail, err := p.Detail(context.Background(), "one-piece")
	require.NoError(t, err)
	require.Nil(t, detail)

	marker, err := p.LatestChapterMarker(context.Background(), "komik/one-piece")
	require.NoError(t, err)
	require.Empty(t, marker)

	images, err := p.ChapterImages(context.Background(), "one-piece-chapter-1")
	require.NoError(t, err)
	require.Empty(t, images)

	require.Zero(t, f.calls)
}

func TestLatestChapterMarker(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{
		bodies:   map[string]string{feedURL("1"): feedBody},
		statuses: map[string]int{},
	}
	marker, err := New(Config{}, f, nil).LatestChapterMarker(context.Background(), mangaID)
	require.NoError(t, err)
	require.Equal(t, "Chapter 1101", marker)

	f.bodies = map[string]string{}
	f.statuses[feedURL("1")] = http.StatusTooManyRequests
	_, err = New(Config{}, f, nil).LatestChapterMarker(context.Background(), mangaID)
	require.True(t, manga.IsTransport(err))
}

func TestSearch(t *testing.T) {
	t.Parallel()

	f := &fakeFetcher{bodies: map[string]string{
		api + "/manga?includes%5B%5D=cover_art&includes%5B%5D=author&limit=20&title=one+piece": `{"result":"ok","data":[
			{"id":"a1c7c817-4e59-43b7-9365-09675a149a6f","attributes":{"title":{"ja-ro":"Wan Pisu"},"lastChapter":"1101","publicationDemographic":"shounen"},
			 "relationships":[{"type":"cover_art","attributes":{"fileName":"c.png"}}]},
			{"id":"","attributes":{"title":{"en":"ghost"}}}]}`,
	}}
	items, err := New(Config{}, f, nil).Search(context.Background(), "one piece")
	require.NoError(t, err)
	require.Equal(t, []manga.CanonicalItem{{
		ID:            mangaID,
		Title:         "Wan Pisu",
		Cover:         "https://uploads.mangadex.org/covers/" + mangaID + "/c.png",
		LatestChapter: "Chapter 1101",
		Type:          "shounen",
		Source:        Name,
	}}, items)
}

func TestChapterImages(t *testing.T) {
	t.Parallel()

	chapterID := "11111111-1111-1111-1111-111111111111"
	f := &fakeFetcher{bodies: map[string]string{
		api + "/at-home/server/" + chapterID: `{"result":"ok","baseUrl":"https://uploads.example.org","chapter":{"hash":"abc","data":["1.png","2.png"]}}`,
	}}
	images, err := New(Config{}, f, nil).ChapterImages(context.Background(), chapterID)
	require.NoError(t, err)
	require.Equal(t, []string{
		"https://uploads.example.org/data/abc/1.png",
		"https://uploads.example.org/data/abc/2.png",
	}, images)
}

func TestPickLang(t *testing.T) {
	t.Parallel()

	require.Equal(t, "Judul", pickLang(map[string]string{"id": "Judul", "en": "Title"}, "id"))
	require.Equal(t, "Title", pickLang(map[string]string{"ja": "タイトル", "en": "Title"}, "id"))
	require.Equal(t, "B", pickLang(map[string]string{"zz": "Z", "ab": "B"}, "en"))
	require.Empty(t, pickLang(nil, "en"))
}
