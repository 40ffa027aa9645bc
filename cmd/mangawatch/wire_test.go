package main

import (
	"context"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/mangawatch/internal/config"
	"github.com/JakeFAU/mangawatch/internal/storage/memory"
)

type counterIDs struct{ n int }

func (c *counterIDs) NewID() (string, error) {
	c.n++
	return fmt.Sprintf("id-%d", c.n), nil
}

func TestSeedLibraryIsRepeatable(t *testing.T) {
	t.Parallel()

	store := memory.NewStore(&counterIDs{})
	seed := config.Seed{
		Titles: []config.SeedTitle{
			{UserID: "u1", MangaID: "one-piece", Source: "Komikindo", Title: "One Piece", LastChapter: "Chapter 1100"},
			{UserID: "u1", MangaID: "solo-leveling", Source: "shinigami", Title: "Solo Leveling", LastChapter: "Chapter 200"},
		},
		Settings: []config.SeedSettings{{UserID: "u1", WebhookURL: "https://hooks.example/abc"}},
	}

	ctx := context.Background()
	require.NoError(t, seedLibrary(ctx, store, seed, zap.NewNop()))
	require.NoError(t, seedLibrary(ctx, store, seed, zap.NewNop()))

	items, err := store.FindOldest(ctx, 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	sources := map[string]string{}
	for _, it := range items {
		sources[it.MangaID] = it.Source
	}
	assert.Equal(t, "komikindo", sources["one-piece"])

	settings, err := store.FindSettingsForUsers(ctx, []string{"u1"})
	require.NoError(t, err)
	require.Len(t, settings, 1)
	assert.Equal(t, "https://hooks.example/abc", settings[0].WebhookURL)
}

func TestBuildRejectsEmptyProviderSet(t *testing.T) {
	t.Parallel()

	cfg := config.Config{Store: config.StoreConfig{Driver: "memory"}}
	_, err := build(context.Background(), cfg, zap.NewNop())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no providers enabled")
}

func TestBuildInMemoryApplication(t *testing.T) {
	t.Parallel()

	cfg := config.Config{
		Fetch:     config.FetchConfig{DirectTimeoutMs: 100, ProxyTimeoutMs: 100},
		Providers: config.ProvidersConfig{MangaDex: config.ProviderConfig{Enabled: true, BaseURL: "http://127.0.0.1:1"}},
		Store:     config.StoreConfig{Driver: "memory"},
		Archive:   config.ArchiveConfig{Driver: "memory"},
		Publisher: config.PublisherConfig{Driver: "memory", Topic: "chapter-updates"},
	}
	app, err := build(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer app.Close()

	require.NotNil(t, app.scheduler)
	require.NoError(t, app.ready(context.Background()))

	report, err := app.scheduler.Poll(context.Background())
	require.NoError(t, err)
	assert.Empty(t, report.Checked)
}
