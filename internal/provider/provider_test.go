package provider

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/mangawatch/internal/fetcher/resilient"
	"github.com/JakeFAU/mangawatch/internal/manga"
)

type stubFetcher struct {
	body []byte
	err  error
}

func (s stubFetcher) Fetch(_ context.Context, _ manga.FetchRequest) (manga.FetchResponse, error) {
	if s.err != nil {
		return manga.FetchResponse{}, s.err
	}
	return manga.FetchResponse{StatusCode: http.StatusOK, Body: s.body}, nil
}

func TestGet(t *testing.T) {
	t.Parallel()

	body, err := Get(context.Background(), stubFetcher{body: []byte("ok")}, "https://x", nil)
	require.NoError(t, err)
	require.Equal(t, "ok", string(body))

	gone := &manga.TransportError{URL: "https://x", Attempts: []manga.AttemptError{
		{Strategy: "direct", StatusCode: http.StatusNotFound, Err: errors.New("Not Found")},
	}}
	body, err = Get(context.Background(), stubFetcher{err: gone}, "https://x", nil)
	require.NoError(t, err)
	require.Nil(t, body)

	failed := &manga.TransportError{URL: "https://x", Attempts: []manga.AttemptError{
		{Strategy: "direct", StatusCode: http.StatusBadGateway, Err: errors.New("Bad Gateway")},
	}}
	_, err = Get(context.Background(), stubFetcher{err: failed}, "https://x", nil)
	require.True(t, manga.IsTransport(err))
}

func TestGetRelayNotFoundStaysTransportFailure(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "blocked", http.StatusForbidden)
	}))
	defer upstream.Close()
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer relay.Close()

	f := resilient.New(resilient.Config{Proxies: []string{relay.URL + "/raw?url={url}"}}, nil, nil, nil, nil)
	body, err := Get(context.Background(), f, upstream.URL+"/komik/one-piece/", nil)
	require.Error(t, err)
	require.Nil(t, body)
	require.True(t, manga.IsTransport(err))
	require.False(t, manga.IsGone(err))
}

func TestGetUpstreamNotFoundIsEmpty(t *testing.T) {
	t.Parallel()

	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.NotFound(w, r)
	}))
	defer upstream.Close()
	relay := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "upstream error", http.StatusBadGateway)
	}))
	defer relay.Close()

	f := resilient.New(resilient.Config{Proxies: []string{relay.URL + "/raw?url={url}"}}, nil, nil, nil, nil)
	body, err := Get(context.Background(), f, upstream.URL+"/komik/missing/", nil)
	require.NoError(t, err)
	require.Nil(t, body)
}

func TestAbsolute(t *testing.T) {
	t.Parallel()

	tests := []struct {
		base, ref, want string
	}{
		{"https://komikindo.ch", "/komik/one-piece/", "https://komikindo.ch/komik/one-piece/"},
		{"https://komikindo.ch/a/", "img.jpg", "https://komikindo.ch/a/img.jpg"},
		{"https://komikindo.ch", "//cdn.example/x.jpg", "https://cdn.example/x.jpg"},
		{"https://komikindo.ch", "https://other.example/y.png", "https://other.example/y.png"},
		{"https://komikindo.ch", "  ", ""},
	}
	for _, tt := range tests {
		require.Equal(t, tt.want, Absolute(tt.base, tt.ref), tt.ref)
	}
}

func TestJoinURL(t *testing.T) {
	t.Parallel()

	require.Equal(t, "https://cdn.example/chapter/x/01.jpg", JoinURL("https://cdn.example/", "/chapter/x/", "01.jpg"))
	require.Equal(t, "https://cdn.example/01.jpg", JoinURL("https://cdn.example", "", "01.jpg"))
}
