// Package provider holds helpers shared by the upstream catalog adapters.
package provider

import (
	"context"
	"net/http"
	"net/url"
	"strings"

	"github.com/JakeFAU/mangawatch/internal/manga"
	"github.com/JakeFAU/mangawatch/internal/metrics"
)

// Outcome labels used for provider call metrics.
const (
	OutcomeFound    = "found"
	OutcomeNotFound = "not_found"
	OutcomeError    = "error"
)

// Get performs one logical GET through the fetch layer. A record the upstream
// itself reports as gone (404/410 on the direct or headless attempt) yields a
// nil body and a nil error so adapters can map it to their not-found result.
// A relay's 404 stays a transport failure.
func Get(ctx context.Context, fetcher manga.Fetcher, rawURL string, headers http.Header) ([]byte, error) {
	resp, err := fetcher.Fetch(ctx, manga.FetchRequest{URL: rawURL, Headers: headers})
	if err != nil {
		if manga.IsGone(err) {
			return nil, nil
		}
		return nil, err
	}
	return resp.Body, nil
}

// Observe records the outcome of one adapter operation.
func Observe(name, op string, found bool, err error) {
	outcome := OutcomeNotFound
	switch {
	case err != nil:
		outcome = OutcomeError
	case found:
		outcome = OutcomeFound
	}
	metrics.ObserveProviderCall(name, op, outcome)
}

// Absolute resolves ref against base. Protocol-relative and relative refs are
// supported; unparsable input is returned trimmed.
func Absolute(base, ref string) string {
	ref = strings.TrimSpace(ref)
	if ref == "" {
		return ""
	}
	r, err := url.Parse(ref)
	if err != nil {
		return ref
	}
	if r.IsAbs() {
		return r.String()
	}
	b, err := url.Parse(base)
	if err != nil {
		return ref
	}
	return b.ResolveReference(r).String()
}

// JoinURL concatenates a base URL and path segments with exactly one slash
// between them.
func JoinURL(base string, parts ...string) string {
	out := strings.TrimRight(base, "/")
	for _, p := range parts {
		p = strings.Trim(p, "/")
		if p == "" {
			continue
		}
		out += "/" + p
	}
	return out
}
