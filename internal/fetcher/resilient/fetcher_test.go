package resilient

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gocolly/colly/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/mangawatch/internal/fetcher/challenge"
	"github.com/JakeFAU/mangawatch/internal/manga"
)

func TestFetchDirectSuccess(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		require.Equal(t, "https://komikindo.ch/", r.Header.Get("Referer"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	f := New(Config{Proxies: []string{"http://127.0.0.1:1/raw?url={url}"}}, nil, nil, challenge.NewDetector(0), zap.NewNop())
	resp, err := f.Fetch(context.Background(), manga.FetchRequest{
		URL:     srv.URL + "/api",
		Headers: http.Header{"Referer": {"https://komikindo.ch/"}},
	})
	require.NoError(t, err)
	require.Equal(t, StrategyDirect, resp.Strategy)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.JSONEq(t, `{"ok":true}`, string(resp.Body))
	require.Equal(t, int32(1), hits.Load())
}

func TestFetchFallsBackToProxyOnStatus(t *testing.T) {
	t.Parallel()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer origin.Close()

	target := origin.URL + "/komik/one-piece/?page=1"
	var relayed atomic.Value
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		relayed.Store(r.URL.Query().Get("url"))
		w.Header().Set("Content-Type", "text/plain")
		_, _ = w.Write([]byte("relayed body"))
	}))
	defer proxy.Close()

	f := New(Config{Proxies: []string{proxy.URL + "/raw?url={url}"}}, nil, nil, nil, nil)
	resp, err := f.Fetch(context.Background(), manga.FetchRequest{URL: target})
	require.NoError(t, err)
	require.Equal(t, "proxy-1", resp.Strategy)
	require.Equal(t, "relayed body", string(resp.Body))
	require.Equal(t, target, relayed.Load())
}

func TestFetchExhaustsChain(t *testing.T) {
	t.Parallel()

	var hits atomic.Int32
	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer failing.Close()

	f := New(Config{
		DirectTimeout: time.Second,
		ProxyTimeout:  time.Second,
		Proxies: []string{
			failing.URL + "/a?u={url}",
			failing.URL + "/b?u={url}",
		},
	}, nil, nil, nil, nil)
	require.Equal(t, 3, f.Attempts())

	_, err := f.Fetch(context.Background(), manga.FetchRequest{URL: failing.URL + "/origin"})
	require.Error(t, err)

	var te *manga.TransportError
	require.True(t, errors.As(err, &te))
	require.Len(t, te.Attempts, 3)
	require.Equal(t, StrategyDirect, te.Attempts[0].Strategy)
	require.Equal(t, "proxy-2", te.Attempts[2].Strategy)
	for _, a := range te.Attempts {
		require.Equal(t, http.StatusBadGateway, a.StatusCode)
	}
	require.Equal(t, int32(3), hits.Load())
}

func TestFetchTreatsChallengeAsFailure(t *testing.T) {
	t.Parallel()

	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Just a moment...</title></head><body></body></html>`))
	}))
	defer origin.Close()
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><body><h1 class="entry-title">Komik One Piece</h1><p>real page content here</p></body></html>`))
	}))
	defer proxy.Close()

	f := New(Config{Proxies: []string{proxy.URL + "/?url={url}"}}, nil, nil, challenge.NewDetector(10), nil)
	resp, err := f.Fetch(context.Background(), manga.FetchRequest{URL: origin.URL})
	require.NoError(t, err)
	require.Equal(t, "proxy-1", resp.Strategy)
	require.Contains(t, string(resp.Body), "entry-title")
}

func TestFetchDirectTimeout(t *testing.T) {
	t.Parallel()

	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(500 * time.Millisecond):
		}
		_, _ = w.Write([]byte("late"))
	}))
	defer slow.Close()
	proxy := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("fast"))
	}))
	defer proxy.Close()

	f := New(Config{DirectTimeout: 50 * time.Millisecond, Proxies: []string{proxy.URL + "/?url={url}"}}, nil, nil, nil, nil)
	start := time.Now()
	resp, err := f.Fetch(context.Background(), manga.FetchRequest{URL: slow.URL})
	require.NoError(t, err)
	require.Equal(t, "fast", string(resp.Body))
	require.Less(t, time.Since(start), 450*time.Millisecond)
}

func TestFetchHeadlessLastResort(t *testing.T) {
	t.Parallel()

	failing := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer failing.Close()

	browser := &fakeBrowser{resp: manga.FetchResponse{StatusCode: 200, Body: []byte(`{"data":[]}`)}}
	f := New(Config{}, nil, browser, nil, nil)
	require.Equal(t, 2, f.Attempts())

	resp, err := f.Fetch(context.Background(), manga.FetchRequest{URL: failing.URL})
	require.NoError(t, err)
	require.Equal(t, StrategyHeadless, resp.Strategy)
	require.Equal(t, 1, browser.calls)

	browser.err = errors.New("chrome missing")
	_, err = f.Fetch(context.Background(), manga.FetchRequest{URL: failing.URL})
	var te *manga.TransportError
	require.True(t, errors.As(err, &te))
	require.Len(t, te.Attempts, 2)
	require.Equal(t, StrategyHeadless, te.Attempts[1].Strategy)
}

func TestFetchWaitsOnLimiterForDirectOnly(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	limiter := &fakeLimiter{}
	f := New(Config{}, limiter, nil, nil, nil)
	_, err := f.Fetch(context.Background(), manga.FetchRequest{URL: srv.URL})
	require.NoError(t, err)
	require.Equal(t, []string{srv.URL}, limiter.urls)

	limiter.err = context.Canceled
	_, err = f.Fetch(context.Background(), manga.FetchRequest{URL: srv.URL})
	require.True(t, manga.IsTransport(err))
}

func TestFetchRejectsInvalidURL(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil, nil, nil, nil)
	_, err := f.Fetch(context.Background(), manga.FetchRequest{URL: "not a url"})
	require.True(t, manga.IsTransport(err))
}

func TestFetchStopsWhenContextCanceled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	f := New(Config{Proxies: []string{"http://127.0.0.1:1/?u={url}"}}, nil, nil, nil, nil)
	_, err := f.Fetch(ctx, manga.FetchRequest{URL: "http://127.0.0.1:1/x"})
	var te *manga.TransportError
	require.True(t, errors.As(err, &te))
	require.Len(t, te.Attempts, 1)
	require.ErrorIs(t, te.Attempts[0], context.Canceled)
}

func TestProxyURL(t *testing.T) {
	t.Parallel()

	target := "https://api.example/v1/manga?q=one piece"
	got := ProxyURL("https://relay.example/raw?url={url}", target)
	require.Equal(t, "https://relay.example/raw?url="+url.QueryEscape(target), got)

	got = ProxyURL("https://relay.example/?", target)
	require.Equal(t, "https://relay.example/?"+url.QueryEscape(target), got)
}

func TestConfigureCollectorHooks(t *testing.T) {
	t.Parallel()

	f := New(Config{}, nil, nil, nil, nil)
	hooks := &stubHooks{}
	var (
		result   manga.FetchResponse
		fetchErr error
		status   int
	)
	f.configureCollectorHooks(hooks, manga.FetchRequest{Headers: http.Header{"X-Test": {"1"}}}, time.Now(), &result, &fetchErr, &status)

	reqHeaders := http.Header{}
	hooks.onRequest(&colly.Request{Headers: &reqHeaders})
	require.Equal(t, "1", reqHeaders.Get("X-Test"))
	require.NotEmpty(t, reqHeaders.Get("Accept"))

	hooks.onError(&colly.Response{StatusCode: 429}, errors.New("Too Many Requests"))
	require.Equal(t, 429, status)
	require.EqualError(t, fetchErr, "Too Many Requests")
}

type stubHooks struct {
	onRequest  colly.RequestCallback
	onResponse colly.ResponseCallback
	onError    colly.ErrorCallback
}

func (s *stubHooks) OnRequest(cb colly.RequestCallback) { s.onRequest = cb }
func (s *stubHooks) OnResponse(cb colly.ResponseCallback) { s.onResponse = cb }
func (s *stubHooks) OnError(cb colly.ErrorCallback) { s.onError = cb }

type fakeBrowser struct {
	resp  manga.FetchResponse
	err   error
	calls int
}

func (b *fakeBrowser) Fetch(_ context.Context, _ manga.FetchRequest) (manga.FetchResponse, error) {
	b.calls++
	if b.err != nil {
		return manga.FetchResponse{}, b.err
	}
	return b.resp, nil
}

type fakeLimiter struct {
	urls []string
	err  error
}

func (l *fakeLimiter) Wait(_ context.Context, rawURL string) error {
	l.urls = append(l.urls, rawURL)
	return l.err
}
