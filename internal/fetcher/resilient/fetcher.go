// Package resilient resolves one logical GET through a fixed chain of transport
// strategies: a direct request, then each relay proxy in order, then optionally
// a headless browser. The first success wins and every failure is recorded.
package resilient

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/mangawatch/internal/logging"
	"github.com/JakeFAU/mangawatch/internal/manga"
	"github.com/JakeFAU/mangawatch/internal/metrics"
)

// Strategy names reported in attempts, metrics and responses.
const (
	StrategyDirect   = manga.StrategyDirect
	StrategyHeadless = manga.StrategyHeadless
)

var errChallenge = errors.New("challenge page")

// Config controls the attempt chain.
type Config struct {
	UserAgent     string
	DirectTimeout time.Duration
	ProxyTimeout  time.Duration
	// Proxies are URL templates; "{url}" is replaced by the query-escaped target.
	Proxies []string
}

// Waiter throttles requests per host.
type Waiter interface {
	Wait(ctx context.Context, rawURL string) error
}

// ChallengeDetector flags 2xx responses that are really block pages.
type ChallengeDetector interface {
	IsChallenge(resp manga.FetchResponse) bool
}

// Fetcher implements manga.Fetcher with colly-backed HTTP attempts.
type Fetcher struct {
	cfg       Config
	transport http.RoundTripper
	limiter   Waiter
	headless  manga.Fetcher
	detector  ChallengeDetector
	logger    *zap.Logger
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

type attempt struct {
	strategy string
	url      string
	timeout  time.Duration
}

// New builds a Fetcher. limiter, headless and detector may be nil.
func New(cfg Config, limiter Waiter, headless manga.Fetcher, detector ChallengeDetector, logger *zap.Logger) *Fetcher {
	if cfg.DirectTimeout <= 0 {
		cfg.DirectTimeout = 5 * time.Second
	}
	if cfg.ProxyTimeout <= 0 {
		cfg.ProxyTimeout = 9 * time.Second
	}
	return &Fetcher{
		cfg:       cfg,
		transport: newHTTPTransport(),
		limiter:   limiter,
		headless:  headless,
		detector:  detector,
		logger:    logging.OrNop(logger),
	}
}

// Attempts returns the number of strategies each Fetch may try.
func (f *Fetcher) Attempts() int {
	n := 1 + len(f.cfg.Proxies)
	if f.headless != nil {
		n++
	}
	return n
}

// Fetch walks the strategy chain and returns the first usable response. When
// every strategy fails it returns a *manga.TransportError listing each attempt.
func (f *Fetcher) Fetch(ctx context.Context, request manga.FetchRequest) (manga.FetchResponse, error) {
	if _, err := url.ParseRequestURI(request.URL); err != nil {
		return manga.FetchResponse{}, &manga.TransportError{
			URL:      request.URL,
			Attempts: []manga.AttemptError{{Strategy: StrategyDirect, URL: request.URL, Err: err}},
		}
	}

	failures := make([]manga.AttemptError, 0, f.Attempts())
	for _, a := range f.plan(request) {
		if err := ctx.Err(); err != nil {
			failures = append(failures, manga.AttemptError{Strategy: a.strategy, URL: a.url, Err: err})
			break
		}
		start := time.Now()
		resp, err := f.try(ctx, a, request)
		if err == nil {
			metrics.ObserveFetchAttempt(a.strategy, "success", time.Since(start))
			resp.Strategy = a.strategy
			if len(failures) > 0 {
				f.logger.Debug("fetch recovered via fallback",
					zap.String("url", request.URL),
					zap.String("strategy", a.strategy),
					zap.Int("failed_attempts", len(failures)),
				)
			}
			return resp, nil
		}
		outcome := "error"
		if errors.Is(err, errChallenge) {
			outcome = "challenge"
		}
		metrics.ObserveFetchAttempt(a.strategy, outcome, time.Since(start))

		var ae manga.AttemptError
		if !errors.As(err, &ae) {
			ae = manga.AttemptError{Err: err}
		}
		ae.Strategy, ae.URL = a.strategy, a.url
		failures = append(failures, ae)
		f.logger.Debug("fetch attempt failed",
			zap.String("url", request.URL),
			zap.String("strategy", a.strategy),
			zap.Int("status", ae.StatusCode),
			zap.Error(ae.Err),
		)
	}

	if f.headless != nil && ctx.Err() == nil {
		start := time.Now()
		resp, err := f.tryHeadless(ctx, request)
		if err == nil {
			metrics.ObserveFetchAttempt(StrategyHeadless, "success", time.Since(start))
			return resp, nil
		}
		metrics.ObserveFetchAttempt(StrategyHeadless, "error", time.Since(start))
		var ae manga.AttemptError
		if !errors.As(err, &ae) {
			ae = manga.AttemptError{Err: err}
		}
		ae.Strategy, ae.URL = StrategyHeadless, request.URL
		failures = append(failures, ae)
	}

	return manga.FetchResponse{}, &manga.TransportError{URL: request.URL, Attempts: failures}
}

func (f *Fetcher) plan(request manga.FetchRequest) []attempt {
	direct := f.cfg.DirectTimeout
	if request.Timeout > 0 {
		direct = request.Timeout
	}
	plan := make([]attempt, 0, 1+len(f.cfg.Proxies))
	plan = append(plan, attempt{strategy: StrategyDirect, url: request.URL, timeout: direct})
	for i, tmpl := range f.cfg.Proxies {
		plan = append(plan, attempt{
			strategy: fmt.Sprintf("proxy-%d", i+1),
			url:      ProxyURL(tmpl, request.URL),
			timeout:  f.cfg.ProxyTimeout,
		})
	}
	return plan
}

// ProxyURL wraps target into a relay template.
func ProxyURL(tmpl, target string) string {
	escaped := url.QueryEscape(target)
	if strings.Contains(tmpl, "{url}") {
		return strings.ReplaceAll(tmpl, "{url}", escaped)
	}
	return tmpl + escaped
}

func (f *Fetcher) try(ctx context.Context, a attempt, request manga.FetchRequest) (manga.FetchResponse, error) {
	if a.strategy == StrategyDirect && f.limiter != nil {
		if err := f.limiter.Wait(ctx, a.url); err != nil {
			return manga.FetchResponse{}, err
		}
	}
	attemptCtx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	var (
		result   manga.FetchResponse
		fetchErr error
		status   int
	)
	start := time.Now()
	collector := f.buildCollector(a.timeout)
	f.configureCollectorHooks(collector, request, start, &result, &fetchErr, &status)

	if err := f.runCollector(attemptCtx, collector, a.url, &fetchErr); err != nil {
		return manga.FetchResponse{}, manga.AttemptError{StatusCode: status, Err: err}
	}
	return f.accept(result)
}

func (f *Fetcher) tryHeadless(ctx context.Context, request manga.FetchRequest) (manga.FetchResponse, error) {
	resp, err := f.headless.Fetch(ctx, request)
	if err != nil {
		return manga.FetchResponse{}, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return manga.FetchResponse{}, manga.AttemptError{
			StatusCode: resp.StatusCode,
			Err:        fmt.Errorf("headless status %d", resp.StatusCode),
		}
	}
	resp.Strategy = StrategyHeadless
	return f.accept(resp)
}

func (f *Fetcher) accept(resp manga.FetchResponse) (manga.FetchResponse, error) {
	if f.detector != nil && f.detector.IsChallenge(resp) {
		return manga.FetchResponse{}, manga.AttemptError{StatusCode: resp.StatusCode, Err: errChallenge}
	}
	return resp, nil
}

func (f *Fetcher) buildCollector(timeout time.Duration) *colly.Collector {
	collector := colly.NewCollector(
		colly.AllowURLRevisit(),
		colly.IgnoreRobotsTxt(),
	)
	if f.cfg.UserAgent != "" {
		collector.UserAgent = f.cfg.UserAgent
	}
	collector.WithTransport(f.transport)
	collector.SetRequestTimeout(timeout)
	return collector
}

func (f *Fetcher) configureCollectorHooks(
	hooks collectorHooks,
	request manga.FetchRequest,
	start time.Time,
	result *manga.FetchResponse,
	fetchErr *error,
	status *int,
) {
	hooks.OnRequest(func(r *colly.Request) {
		applyHeaders(request.Headers, r)
	})

	hooks.OnResponse(func(r *colly.Response) {
		*result = manga.FetchResponse{
			URL:        r.Request.URL.String(),
			StatusCode: r.StatusCode,
			Headers:    r.Headers.Clone(),
			Body:       append([]byte(nil), r.Body...),
			Duration:   time.Since(start),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil {
			*status = r.StatusCode
		}
		*fetchErr = err
	})
}

func (f *Fetcher) runCollector(ctx context.Context, collector *colly.Collector, target string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(target)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly fetch canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

func applyHeaders(headers http.Header, r *colly.Request) {
	if r.Headers.Get("Accept") == "" {
		r.Headers.Set("Accept", "text/html,application/json;q=0.9,*/*;q=0.8")
	}
	if r.Headers.Get("Accept-Language") == "" {
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9,id;q=0.8")
	}
	for key, values := range headers {
		r.Headers.Del(key)
		for _, v := range values {
			r.Headers.Add(key, v)
		}
	}
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   5 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   5 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		IdleConnTimeout:       90 * time.Second,
	}
}
