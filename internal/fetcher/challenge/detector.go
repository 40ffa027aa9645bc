// Package challenge recognises bot-challenge interstitials served with a 2xx status.
package challenge

import (
	"bytes"
	"strings"

	"github.com/JakeFAU/mangawatch/internal/manga"
)

// Detector implements a handful of rule-based checks.
type Detector struct {
	// BodyLengthThreshold is the size below which a script-heavy page is treated as a shell.
	BodyLengthThreshold int
}

// NewDetector creates a new detector.
func NewDetector(threshold int) *Detector {
	if threshold == 0 {
		threshold = 2048
	}
	return &Detector{BodyLengthThreshold: threshold}
}

var challengeMarkers = [][]byte{
	[]byte("<title>just a moment...</title>"),
	[]byte("cf-browser-verification"),
	[]byte("challenge-platform"),
	[]byte("cf_chl_opt"),
	[]byte("attention required! | cloudflare"),
	[]byte("ddos-guard"),
	[]byte("checking your browser before accessing"),
}

// IsChallenge reports whether a successful response is really a block page.
// Empty bodies count as failures since no provider can parse them.
func (d *Detector) IsChallenge(resp manga.FetchResponse) bool {
	body := bytes.TrimSpace(resp.Body)
	if len(body) == 0 {
		return true
	}
	if !looksLikeHTML(resp, body) {
		return false
	}
	lower := bytes.ToLower(body)
	for _, marker := range challengeMarkers {
		if bytes.Contains(lower, marker) {
			return true
		}
	}
	return len(body) < d.BodyLengthThreshold && scriptDensityHigh(lower)
}

func looksLikeHTML(resp manga.FetchResponse, body []byte) bool {
	if ct := resp.Headers.Get("Content-Type"); ct != "" {
		return strings.Contains(strings.ToLower(ct), "html")
	}
	return body[0] == '<'
}

func scriptDensityHigh(lower []byte) bool {
	doc := string(lower)
	total := len(doc)
	if total == 0 {
		return false
	}

	const (
		openTag  = "<script"
		closeTag = "</script>"
	)
	scriptCoverage := 0
	searchPos := 0

	for {
		relativeStart := strings.Index(doc[searchPos:], openTag)
		if relativeStart == -1 {
			break
		}
		start := searchPos + relativeStart

		tagClose := strings.IndexByte(doc[start:], '>')
		if tagClose == -1 {
			// Malformed tag; count the rest of the document.
			scriptCoverage += total - start
			break
		}
		contentStart := start + tagClose + 1

		relativeEnd := strings.Index(doc[contentStart:], closeTag)
		nextSearch := total
		if relativeEnd != -1 {
			nextSearch = contentStart + relativeEnd + len(closeTag)
		}

		scriptCoverage += nextSearch - start
		searchPos = nextSearch
	}

	return scriptCoverage*100/total >= 50
}
