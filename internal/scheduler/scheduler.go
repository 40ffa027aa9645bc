// Package scheduler runs the change-detection poll over the bookmark queue.
//
// One pass reads the least-recently-checked items, checks them in
// fixed-size batches (items inside a batch run concurrently, batches run one
// after another), persists new chapter markers, notifies the owning users and
// finally stamps every examined item so the queue keeps rotating.
package scheduler

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/mangawatch/internal/archive"
	"github.com/JakeFAU/mangawatch/internal/logging"
	"github.com/JakeFAU/mangawatch/internal/manga"
	"github.com/JakeFAU/mangawatch/internal/metrics"
	"github.com/JakeFAU/mangawatch/internal/notify"
	"github.com/JakeFAU/mangawatch/internal/resolver"
)

// Item outcomes.
const (
	OutcomeUpdated   = "updated"
	OutcomeUnchanged = "unchanged"
	OutcomeNotFound  = "not_found"
	OutcomeFailed    = "failed"
)

// Config bounds one poll pass.
type Config struct {
	QueueLimit    int
	BatchSize     int
	BatchDelay    time.Duration
	Deadline      time.Duration
	Topic         string
	ArchivePrefix string
}

// MarkerResolver finds the newest chapter marker of a title.
type MarkerResolver interface {
	LatestMarker(ctx context.Context, titleID, hint string) (resolver.MarkerResolution, error)
}

// Notifier delivers an alert to a user's configured channels.
type Notifier interface {
	Notify(ctx context.Context, settings manga.UserNotificationSettings, alert notify.Alert) notify.DispatchReport
}

// CheckedTitle is the outcome of one examined queue item.
type CheckedTitle struct {
	ID            string          `json:"id"`
	MangaID       string          `json:"manga_id"`
	Title         string          `json:"title"`
	Source        string          `json:"source"`
	Outcome       string          `json:"outcome"`
	Old           string          `json:"old,omitempty"`
	New           string          `json:"new,omitempty"`
	Error         string          `json:"error,omitempty"`
	Notifications []notify.Result `json:"notifications,omitempty"`
}

// Report summarises one pass.
type Report struct {
	RunID       string         `json:"run_id"`
	StartedAt   time.Time      `json:"started_at"`
	Duration    time.Duration  `json:"duration_ns"`
	Checked     []CheckedTitle `json:"checked"`
	Logs        []string       `json:"logs"`
	Batches     int            `json:"batches"`
	DeadlineHit bool           `json:"deadline_hit"`
	TouchError  string         `json:"touch_error,omitempty"`
	ArchiveURI  string         `json:"archive_uri,omitempty"`
}

// ChapterEvent is published for every detected update.
type ChapterEvent struct {
	RunID      string    `json:"run_id"`
	QueueID    string    `json:"queue_id"`
	UserID     string    `json:"user_id"`
	MangaID    string    `json:"manga_id"`
	Source     string    `json:"source"`
	Title      string    `json:"title"`
	Old        string    `json:"old"`
	New        string    `json:"new"`
	DetectedAt time.Time `json:"detected_at"`
}

// Scheduler wires the store, resolver and notifier into a poll pass.
type Scheduler struct {
	store     manga.Store
	resolver  MarkerResolver
	notifier  Notifier
	publisher manga.Publisher
	archive   archive.BlobStore
	clock     manga.Clock
	ids       manga.IDGenerator
	cfg       Config
	logger    *zap.Logger
	sleep     func(ctx context.Context, d time.Duration) error
}

// New constructs a Scheduler. publisher and blobs may be nil.
func New(
	store manga.Store,
	res MarkerResolver,
	notifier Notifier,
	publisher manga.Publisher,
	blobs archive.BlobStore,
	clock manga.Clock,
	ids manga.IDGenerator,
	cfg Config,
	logger *zap.Logger,
) *Scheduler {
	if cfg.QueueLimit <= 0 {
		cfg.QueueLimit = 8
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 5
	}
	if cfg.Deadline <= 0 {
		cfg.Deadline = 50 * time.Second
	}
	if cfg.ArchivePrefix == "" {
		cfg.ArchivePrefix = "polls"
	}
	return &Scheduler{
		store:     store,
		resolver:  res,
		notifier:  notifier,
		publisher: publisher,
		archive:   blobs,
		clock:     clock,
		ids:       ids,
		cfg:       cfg,
		logger:    logging.OrNop(logger).Named("scheduler"),
		sleep:     sleepContext,
	}
}

// Poll runs one pass. An error is returned only when the queue cannot be
// read at all; every per-item failure is recorded in the Report instead.
func (s *Scheduler) Poll(ctx context.Context) (Report, error) {
	start := s.clock.Now()
	runID, err := s.ids.NewID()
	if err != nil {
		metrics.ObservePoll("error", 0)
		return Report{}, fmt.Errorf("generate run id: %w", err)
	}
	report := Report{RunID: runID, StartedAt: start, Checked: []CheckedTitle{}, Logs: []string{}}
	logger := s.logger.With(zap.String("run_id", runID))

	items, err := s.store.FindOldest(ctx, s.cfg.QueueLimit)
	if err != nil {
		metrics.ObservePoll("error", s.clock.Now().Sub(start))
		return report, fmt.Errorf("find oldest queue items: %w", err)
	}
	settings := s.loadSettings(ctx, items, &report, logger)

	batches := partition(items, s.cfg.BatchSize)
	examined := make([]string, 0, len(items))
	for i, batch := range batches {
		if i > 0 {
			if elapsed := s.clock.Now().Sub(start); elapsed >= s.cfg.Deadline {
				deferred := len(items) - len(examined)
				report.DeadlineHit = true
				report.Logs = append(report.Logs, fmt.Sprintf("DEADLINE reached after %s, %d items deferred", elapsed.Round(time.Millisecond), deferred))
				logger.Warn("poll deadline reached", zap.Duration("elapsed", elapsed), zap.Int("deferred", deferred))
				break
			}
			if err := s.sleep(ctx, s.cfg.BatchDelay); err != nil {
				report.Logs = append(report.Logs, fmt.Sprintf("DEADLINE poll canceled: %v", err))
				logger.Warn("poll canceled between batches", zap.Error(err))
				break
			}
		}

		results := s.runBatch(ctx, runID, batch, settings)
		report.Batches++
		for j, res := range results {
			examined = append(examined, batch[j].ID)
			report.Checked = append(report.Checked, res.checked)
			report.Logs = append(report.Logs, res.logs...)
			metrics.ObservePollItem(res.checked.Outcome)
		}
	}

	// Finalize even if the caller went away, so the queue always rotates.
	finalCtx := context.WithoutCancel(ctx)
	if err := s.store.TouchCheckedAt(finalCtx, examined, s.clock.Now()); err != nil {
		report.TouchError = err.Error()
		report.Logs = append(report.Logs, fmt.Sprintf("STORE failed to stamp %d items: %v", len(examined), err))
		logger.Error("touch checked_at failed", zap.Int("items", len(examined)), zap.Error(err))
	}

	report.Duration = s.clock.Now().Sub(start)
	s.archiveReport(finalCtx, &report, logger)
	metrics.ObservePoll("ok", report.Duration)
	logger.Info("poll finished",
		zap.Int("checked", len(report.Checked)),
		zap.Int("batches", report.Batches),
		zap.Bool("deadline_hit", report.DeadlineHit),
		zap.Duration("duration", report.Duration),
	)
	return report, nil
}

func (s *Scheduler) loadSettings(
	ctx context.Context,
	items []manga.BookmarkQueueItem,
	report *Report,
	logger *zap.Logger,
) map[string]manga.UserNotificationSettings {
	seen := make(map[string]bool, len(items))
	userIDs := make([]string, 0, len(items))
	for _, item := range items {
		if !seen[item.UserID] {
			seen[item.UserID] = true
			userIDs = append(userIDs, item.UserID)
		}
	}
	out := make(map[string]manga.UserNotificationSettings, len(userIDs))
	if len(userIDs) == 0 {
		return out
	}
	found, err := s.store.FindSettingsForUsers(ctx, userIDs)
	if err != nil {
		report.Logs = append(report.Logs, fmt.Sprintf("NOTIFY settings lookup failed, notifications disabled for this pass: %v", err))
		logger.Error("settings lookup failed", zap.Error(err))
		return out
	}
	for _, st := range found {
		out[st.UserID] = st
	}
	return out
}

type itemResult struct {
	checked CheckedTitle
	logs    []string
}

func (s *Scheduler) runBatch(
	ctx context.Context,
	runID string,
	batch []manga.BookmarkQueueItem,
	settings map[string]manga.UserNotificationSettings,
) []itemResult {
	results := make([]itemResult, len(batch))
	var g errgroup.Group
	for i, item := range batch {
		g.Go(func() error {
			results[i] = s.check(ctx, runID, item, settings)
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (s *Scheduler) check(
	ctx context.Context,
	runID string,
	item manga.BookmarkQueueItem,
	settings map[string]manga.UserNotificationSettings,
) (res itemResult) {
	title := item.Title
	if title == "" {
		title = item.MangaID
	}
	res.checked = CheckedTitle{
		ID:      item.ID,
		MangaID: item.MangaID,
		Title:   title,
		Source:  item.Source,
		Old:     item.LastChapter,
	}
	logger := s.logger.With(
		zap.String("run_id", runID),
		zap.String("queue_id", item.ID),
		zap.String("manga_id", item.MangaID),
		zap.String("source", item.Source),
	)
	defer func() {
		if r := recover(); r != nil {
			res.checked.Outcome = OutcomeFailed
			res.checked.Error = fmt.Sprintf("panic: %v", r)
			res.logs = append(res.logs, fmt.Sprintf("FAIL %s: panic during check", title))
			logger.Error("check panicked", zap.Any("panic", r))
		}
	}()

	found, err := s.resolver.LatestMarker(ctx, item.MangaID, item.Source)
	switch {
	case err != nil && errors.Is(err, manga.ErrNotFound) && !manga.IsTransport(err):
		res.checked.Outcome = OutcomeNotFound
		res.logs = append(res.logs, fmt.Sprintf("NOT FOUND %s (%s)", title, item.Source))
		logger.Info("title not found")
		return res
	case err != nil:
		res.checked.Outcome = OutcomeFailed
		res.checked.Error = err.Error()
		res.logs = append(res.logs, fmt.Sprintf("FAIL %s (%s): %v", title, item.Source, err))
		logger.Warn("check failed", zap.Error(err))
		return res
	}

	res.checked.New = found.Marker
	if !manga.IsUpdate(item.LastChapter, found.Marker) {
		res.checked.Outcome = OutcomeUnchanged
		res.logs = append(res.logs, fmt.Sprintf("SAME %s: %s", title, found.Marker))
		return res
	}

	if err := s.store.UpdateChapter(ctx, item.ID, found.Marker); err != nil {
		res.checked.Outcome = OutcomeFailed
		res.checked.Error = err.Error()
		res.logs = append(res.logs, fmt.Sprintf("STORE %s: failed to save %s: %v", title, found.Marker, err))
		logger.Error("update chapter failed", zap.String("marker", found.Marker), zap.Error(err))
		return res
	}
	res.checked.Outcome = OutcomeUpdated
	res.logs = append(res.logs, fmt.Sprintf("UPDATE %s: %s -> %s", title, displayMarker(item.LastChapter), found.Marker))
	logger.Info("new chapter", zap.String("old", item.LastChapter), zap.String("new", found.Marker))

	if st, ok := settings[item.UserID]; ok && s.notifier != nil {
		dispatch := s.notifier.Notify(ctx, st, notify.Alert{
			Title:    title,
			Marker:   found.Marker,
			CoverURL: item.Cover,
			MangaID:  item.MangaID,
			Source:   item.Source,
		})
		res.checked.Notifications = dispatch.Results
		for _, r := range dispatch.Results {
			if r.Status == notify.StatusError {
				res.logs = append(res.logs, fmt.Sprintf("NOTIFY %s via %s failed: %s", title, r.Channel, r.Error))
			}
		}
	}

	s.publish(ctx, ChapterEvent{
		RunID:      runID,
		QueueID:    item.ID,
		UserID:     item.UserID,
		MangaID:    item.MangaID,
		Source:     item.Source,
		Title:      title,
		Old:        item.LastChapter,
		New:        found.Marker,
		DetectedAt: s.clock.Now(),
	}, logger)
	return res
}

func (s *Scheduler) publish(ctx context.Context, event ChapterEvent, logger *zap.Logger) {
	if s.publisher == nil || s.cfg.Topic == "" {
		return
	}
	id, err := s.publisher.Publish(ctx, s.cfg.Topic, event)
	if err != nil {
		logger.Warn("publish chapter event failed", zap.String("topic", s.cfg.Topic), zap.Error(err))
		return
	}
	logger.Debug("chapter event published", zap.String("message_id", id))
}

func (s *Scheduler) archiveReport(ctx context.Context, report *Report, logger *zap.Logger) {
	if s.archive == nil {
		return
	}
	data, err := json.Marshal(report)
	if err != nil {
		logger.Warn("encode report failed", zap.Error(err))
		return
	}
	path := archive.ReportPath(s.cfg.ArchivePrefix, report.StartedAt, report.RunID)
	uri, err := s.archive.PutObject(ctx, path, archive.ContentTypeJSON, bytes.NewReader(data))
	if err != nil {
		logger.Warn("archive report failed", zap.String("path", path), zap.Error(err))
		return
	}
	report.ArchiveURI = uri
}

func partition(items []manga.BookmarkQueueItem, size int) [][]manga.BookmarkQueueItem {
	var out [][]manga.BookmarkQueueItem
	for start := 0; start < len(items); start += size {
		end := min(start+size, len(items))
		out = append(out, items[start:end])
	}
	return out
}

func displayMarker(m string) string {
	if m == "" {
		return "(none)"
	}
	return m
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
