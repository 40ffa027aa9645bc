package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"cloud.google.com/go/storage"
	"go.uber.org/zap"

	"github.com/JakeFAU/mangawatch/internal/archive"
	gcsarchive "github.com/JakeFAU/mangawatch/internal/archive/gcs"
	localarchive "github.com/JakeFAU/mangawatch/internal/archive/local"
	memoryarchive "github.com/JakeFAU/mangawatch/internal/archive/memory"
	"github.com/JakeFAU/mangawatch/internal/clock/system"
	"github.com/JakeFAU/mangawatch/internal/config"
	"github.com/JakeFAU/mangawatch/internal/fetcher/challenge"
	headlessfetcher "github.com/JakeFAU/mangawatch/internal/fetcher/headless"
	"github.com/JakeFAU/mangawatch/internal/fetcher/resilient"
	"github.com/JakeFAU/mangawatch/internal/id/uuid"
	"github.com/JakeFAU/mangawatch/internal/manga"
	"github.com/JakeFAU/mangawatch/internal/notify"
	"github.com/JakeFAU/mangawatch/internal/policy/ratelimit"
	"github.com/JakeFAU/mangawatch/internal/provider/komikindo"
	"github.com/JakeFAU/mangawatch/internal/provider/mangadex"
	"github.com/JakeFAU/mangawatch/internal/provider/shinigami"
	memorypublisher "github.com/JakeFAU/mangawatch/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/mangawatch/internal/publisher/pubsub"
	"github.com/JakeFAU/mangawatch/internal/resolver"
	"github.com/JakeFAU/mangawatch/internal/scheduler"
	memorystore "github.com/JakeFAU/mangawatch/internal/storage/memory"
	"github.com/JakeFAU/mangawatch/internal/storage/postgres"
	"github.com/JakeFAU/mangawatch/internal/storage/sqlite"
)

type backend interface {
	manga.Store
	manga.Library
}

type application struct {
	scheduler *scheduler.Scheduler
	resolver  *resolver.Resolver
	library   manga.Library
	ready     func(ctx context.Context) error
	closers   []func()
}

// Close releases resources in reverse construction order.
func (a *application) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

func build(ctx context.Context, cfg config.Config, logger *zap.Logger) (*application, error) {
	app := &application{}
	ids := uuid.New()

	limiter := ratelimit.New(ratelimit.Config{DefaultRPS: cfg.Fetch.RatePerHost, DefaultBurst: cfg.Fetch.Burst})
	var headless manga.Fetcher
	if cfg.Headless.Enabled {
		hf, err := headlessfetcher.New(headlessfetcher.Config{
			MaxParallel:       cfg.Headless.MaxParallel,
			UserAgent:         cfg.Fetch.UserAgent,
			NavigationTimeout: time.Duration(cfg.Headless.NavTimeoutSec) * time.Second,
		})
		if err != nil {
			logger.Warn("headless fetcher init failed", zap.Error(err))
		} else {
			headless = hf
			app.closers = append(app.closers, hf.Close)
		}
	}
	fetcher := resilient.New(resilient.Config{
		UserAgent:     cfg.Fetch.UserAgent,
		DirectTimeout: cfg.DirectTimeout(),
		ProxyTimeout:  cfg.ProxyTimeout(),
		Proxies:       cfg.Fetch.Proxies,
	}, limiter, headless, challenge.NewDetector(0), logger)

	providers := buildProviders(cfg.Providers, fetcher, logger)
	if len(providers) == 0 {
		app.Close()
		return nil, errors.New("no providers enabled")
	}
	app.resolver = resolver.New(providers, cfg.Providers.Priority, logger)

	store, err := buildStore(ctx, cfg.Store, ids, app, logger)
	if err != nil {
		app.Close()
		return nil, err
	}
	app.library = store
	app.ready = func(ctx context.Context) error {
		_, err := store.FindOldest(ctx, 1)
		return err
	}

	blobs, err := buildArchive(ctx, cfg.Archive, app)
	if err != nil {
		app.Close()
		return nil, err
	}
	publisher, err := buildPublisher(ctx, cfg.Publisher, app)
	if err != nil {
		app.Close()
		return nil, err
	}

	dispatcher := notify.New(notify.NotificationConfig{
		ChatAPIBase:     cfg.Notify.ChatAPIBase,
		ParseMode:       cfg.Notify.ParseMode,
		WebhookUsername: cfg.Notify.WebhookUsername,
		ChannelTimeout:  cfg.ChannelTimeout(),
		SiteURL:         cfg.Notify.SiteURL,
	}, nil, logger)
	app.scheduler = scheduler.New(
		store,
		app.resolver,
		dispatcher,
		publisher,
		blobs,
		system.New(),
		ids,
		scheduler.Config{
			QueueLimit:    cfg.Scheduler.QueueLimit,
			BatchSize:     cfg.Scheduler.BatchSize,
			BatchDelay:    cfg.BatchDelay(),
			Deadline:      cfg.PollDeadline(),
			Topic:         cfg.Publisher.Topic,
			ArchivePrefix: cfg.Archive.Prefix,
		},
		logger,
	)
	return app, nil
}

func buildProviders(cfg config.ProvidersConfig, fetcher manga.Fetcher, logger *zap.Logger) []manga.Provider {
	var out []manga.Provider
	if cfg.Komikindo.Enabled {
		out = append(out, komikindo.New(komikindo.Config{BaseURL: cfg.Komikindo.BaseURL}, fetcher, logger))
	}
	if cfg.Shinigami.Enabled {
		out = append(out, shinigami.New(shinigami.Config{BaseURL: cfg.Shinigami.BaseURL}, fetcher, logger))
	}
	if cfg.MangaDex.Enabled {
		out = append(out, mangadex.New(mangadex.Config{BaseURL: cfg.MangaDex.BaseURL}, fetcher, logger))
	}
	return out
}

func buildStore(ctx context.Context, cfg config.StoreConfig, ids manga.IDGenerator, app *application, logger *zap.Logger) (backend, error) {
	switch cfg.Driver {
	case "postgres":
		store, err := postgres.NewStore(ctx, postgres.Config{DSN: cfg.DSN, MaxConns: cfg.MaxConns}, ids)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, store.Close)
		if err := store.Migrate(ctx); err != nil {
			return nil, err
		}
		logger.Info("using postgres store")
		return store, nil
	case "sqlite":
		store, err := sqlite.Open(cfg.Path, ids)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, func() { _ = store.Close() })
		logger.Info("using sqlite store", zap.String("path", cfg.Path))
		return store, nil
	default:
		logger.Info("using in-memory store")
		return memorystore.NewStore(ids), nil
	}
}

func buildArchive(ctx context.Context, cfg config.ArchiveConfig, app *application) (archive.BlobStore, error) {
	switch cfg.Driver {
	case "memory":
		return memoryarchive.NewBlobStore(), nil
	case "local":
		return localarchive.New(localarchive.Config{BaseDir: cfg.BaseDir})
	case "gcs":
		client, err := storage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("create storage client: %w", err)
		}
		app.closers = append(app.closers, func() { _ = client.Close() })
		return gcsarchive.New(client, gcsarchive.Config{Bucket: cfg.GCSBucket})
	default:
		return nil, nil
	}
}

func buildPublisher(ctx context.Context, cfg config.PublisherConfig, app *application) (manga.Publisher, error) {
	switch cfg.Driver {
	case "memory":
		return memorypublisher.New(), nil
	case "pubsub":
		pub, err := pubsubpublisher.New(ctx, cfg.ProjectID)
		if err != nil {
			return nil, err
		}
		app.closers = append(app.closers, func() { _ = pub.Close() })
		return pub, nil
	default:
		return nil, nil
	}
}

// seedLibrary preloads tracked titles, their queue entries and user settings.
// Titles already tracked keep their stored marker.
func seedLibrary(ctx context.Context, lib manga.Library, seed config.Seed, logger *zap.Logger) error {
	for _, t := range seed.Titles {
		_, err := lib.Track(ctx, manga.TrackedTitle{
			TitleID:          t.MangaID,
			DisplayTitle:     t.Title,
			CoverURL:         t.Cover,
			LastKnownChapter: t.LastChapter,
			Source:           strings.ToLower(t.Source),
			OwnerUserID:      t.UserID,
		})
		if err != nil && !errors.Is(err, manga.ErrDuplicate) {
			return fmt.Errorf("seed title %s: %w", t.MangaID, err)
		}
		if _, err := lib.Enqueue(ctx, manga.BookmarkQueueItem{
			UserID:      t.UserID,
			MangaID:     t.MangaID,
			Source:      strings.ToLower(t.Source),
			Title:       t.Title,
			Cover:       t.Cover,
			LastChapter: t.LastChapter,
		}); err != nil {
			return fmt.Errorf("seed queue %s: %w", t.MangaID, err)
		}
	}
	for _, st := range seed.Settings {
		if err := lib.SaveSettings(ctx, manga.UserNotificationSettings{
			UserID:        st.UserID,
			ChatBotToken:  st.ChatBotToken,
			ChatChannelID: st.ChatChannelID,
			WebhookURL:    st.WebhookURL,
		}); err != nil {
			return fmt.Errorf("seed settings %s: %w", st.UserID, err)
		}
	}
	logger.Info("seed loaded", zap.Int("titles", len(seed.Titles)), zap.Int("settings", len(seed.Settings)))
	return nil
}
