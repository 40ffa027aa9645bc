// Package resolver turns a canonical title id into a provider result by
// racing every registered adapter, or asking exactly one when the caller
// supplies a source hint.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/mangawatch/internal/logging"
	"github.com/JakeFAU/mangawatch/internal/manga"
	"github.com/JakeFAU/mangawatch/internal/slug"
)

// Resolution is a detail result tagged with the adapter that produced it.
type Resolution struct {
	Detail *manga.CanonicalDetail
	Source string
}

// MarkerResolution is a latest-chapter marker tagged with its adapter.
type MarkerResolution struct {
	Marker string
	Source string
}

// Resolver holds the adapters in priority order.
type Resolver struct {
	providers []manga.Provider
	byName    map[string]manga.Provider
	logger    *zap.Logger
}

// New orders providers by priority. Providers not named in priority keep
// their registration order after the listed ones; unknown names are ignored.
func New(providers []manga.Provider, priority []string, logger *zap.Logger) *Resolver {
	byName := make(map[string]manga.Provider, len(providers))
	for _, p := range providers {
		if p == nil {
			continue
		}
		if _, dup := byName[p.Name()]; !dup {
			byName[p.Name()] = p
		}
	}

	ordered := make([]manga.Provider, 0, len(byName))
	placed := make(map[string]bool, len(byName))
	for _, name := range priority {
		name = strings.ToLower(strings.TrimSpace(name))
		if p, ok := byName[name]; ok && !placed[name] {
			ordered = append(ordered, p)
			placed[name] = true
		}
	}
	for _, p := range providers {
		if p == nil || placed[p.Name()] {
			continue
		}
		ordered = append(ordered, p)
		placed[p.Name()] = true
	}

	return &Resolver{
		providers: ordered,
		byName:    byName,
		logger:    logging.OrNop(logger).Named("resolver"),
	}
}

// Providers returns the adapter names in priority order.
func (r *Resolver) Providers() []string {
	names := make([]string, len(r.providers))
	for i, p := range r.providers {
		names[i] = p.Name()
	}
	return names
}

// Provider looks up one adapter by name.
func (r *Resolver) Provider(name string) (manga.Provider, error) {
	p, ok := r.byName[strings.ToLower(strings.TrimSpace(name))]
	if !ok {
		return nil, fmt.Errorf("%w: %q", manga.ErrUnknownSource, name)
	}
	return p, nil
}

// Resolve fetches the detail for titleID. With a hint only that adapter is
// asked; otherwise all adapters run concurrently and the first non-nil
// result in priority order wins.
func (r *Resolver) Resolve(ctx context.Context, titleID, hint string) (Resolution, error) {
	titleID = slug.Clean(titleID)
	source, detail, err := race(ctx, r, hint, func(ctx context.Context, p manga.Provider) (*manga.CanonicalDetail, bool, error) {
		d, err := p.Detail(ctx, titleID)
		return d, d != nil, err
	})
	if err != nil {
		return Resolution{}, fmt.Errorf("resolve %s: %w", titleID, err)
	}
	return Resolution{Detail: detail, Source: source}, nil
}

// LatestMarker fetches only the newest chapter marker for titleID, with the
// same routing rules as Resolve. An empty marker counts as not found.
func (r *Resolver) LatestMarker(ctx context.Context, titleID, hint string) (MarkerResolution, error) {
	titleID = slug.Clean(titleID)
	source, marker, err := race(ctx, r, hint, func(ctx context.Context, p manga.Provider) (string, bool, error) {
		m, err := p.LatestChapterMarker(ctx, titleID)
		m = strings.TrimSpace(m)
		return m, m != "", err
	})
	if err != nil {
		return MarkerResolution{}, fmt.Errorf("latest marker %s: %w", titleID, err)
	}
	return MarkerResolution{Marker: marker, Source: source}, nil
}

// Search queries the hinted adapter, or every adapter concurrently, and
// concatenates results in priority order. Failing adapters are skipped.
func (r *Resolver) Search(ctx context.Context, query, hint string) ([]manga.CanonicalItem, error) {
	targets, err := r.targets(hint)
	if err != nil {
		return nil, err
	}
	results := make([][]manga.CanonicalItem, len(targets))
	var wg sync.WaitGroup
	for i, p := range targets {
		wg.Add(1)
		go func(i int, p manga.Provider) {
			defer wg.Done()
			items, err := p.Search(ctx, query)
			if err != nil {
				r.logger.Warn("search failed", zap.String("provider", p.Name()), zap.Error(err))
				return
			}
			results[i] = items
		}(i, p)
	}
	wg.Wait()

	out := make([]manga.CanonicalItem, 0)
	for _, items := range results {
		out = append(out, items...)
	}
	return out, nil
}

func (r *Resolver) targets(hint string) ([]manga.Provider, error) {
	if strings.TrimSpace(hint) == "" {
		return r.providers, nil
	}
	p, err := r.Provider(hint)
	if err != nil {
		return nil, err
	}
	return []manga.Provider{p}, nil
}

type slot[T any] struct {
	value T
	ok    bool
	err   error
}

// race runs call on every target concurrently, waits for all of them, and
// returns the first successful slot in priority order. When nothing is found
// the error wraps manga.ErrNotFound, plus the last adapter error if every
// adapter failed.
func race[T any](
	ctx context.Context,
	r *Resolver,
	hint string,
	call func(context.Context, manga.Provider) (T, bool, error),
) (string, T, error) {
	var zero T
	targets, err := r.targets(hint)
	if err != nil {
		return "", zero, err
	}

	slots := make([]slot[T], len(targets))
	var wg sync.WaitGroup
	for i, p := range targets {
		wg.Add(1)
		go func(i int, p manga.Provider) {
			defer wg.Done()
			v, ok, err := call(ctx, p)
			slots[i] = slot[T]{value: v, ok: ok, err: err}
		}(i, p)
	}
	wg.Wait()

	var (
		lastErr error
		failed  int
	)
	for i, s := range slots {
		if s.err != nil {
			failed++
			lastErr = s.err
			r.logger.Debug("provider failed",
				zap.String("provider", targets[i].Name()),
				zap.Error(s.err),
			)
			continue
		}
		if s.ok {
			return targets[i].Name(), s.value, nil
		}
	}
	if len(targets) > 0 && failed == len(targets) {
		return "", zero, errors.Join(manga.ErrNotFound, lastErr)
	}
	return "", zero, manga.ErrNotFound
}
