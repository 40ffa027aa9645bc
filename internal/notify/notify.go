// Package notify fans a chapter-update alert out to every channel a user has
// configured and reports a structured result per channel.
package notify

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/mangawatch/internal/logging"
	"github.com/JakeFAU/mangawatch/internal/manga"
	"github.com/JakeFAU/mangawatch/internal/metrics"
)

// Result statuses.
const (
	StatusOK      = "ok"
	StatusError   = "error"
	StatusSkipped = "skipped"
)

// NotificationConfig is built once at startup and shared by all channels.
type NotificationConfig struct {
	ChatAPIBase     string
	ParseMode       string
	WebhookUsername string
	ChannelTimeout  time.Duration
	// SiteURL is prefixed to read links when set.
	SiteURL string
}

// Alert describes one detected chapter update.
type Alert struct {
	Title    string `json:"title"`
	Marker   string `json:"marker"`
	CoverURL string `json:"cover_url,omitempty"`
	MangaID  string `json:"manga_id"`
	Source   string `json:"source,omitempty"`
}

// Result is the outcome of one channel.
type Result struct {
	Channel  string        `json:"channel"`
	Status   string        `json:"status"`
	Error    string        `json:"error,omitempty"`
	Duration time.Duration `json:"duration"`
}

// DispatchReport collects the per-channel results of one Notify call.
type DispatchReport struct {
	Results []Result `json:"results"`
}

// Delivered reports whether at least one channel succeeded.
func (r DispatchReport) Delivered() bool {
	for _, res := range r.Results {
		if res.Status == StatusOK {
			return true
		}
	}
	return false
}

// Channel is one outbound notification transport.
type Channel interface {
	Name() string
	Configured(settings manga.UserNotificationSettings) bool
	Send(ctx context.Context, settings manga.UserNotificationSettings, alert Alert) error
}

// Dispatcher sends alerts over its channels concurrently.
type Dispatcher struct {
	cfg      NotificationConfig
	channels []Channel
	logger   *zap.Logger
}

// New builds a Dispatcher with the chat-bot and webhook channels.
func New(cfg NotificationConfig, client *http.Client, logger *zap.Logger) *Dispatcher {
	if client == nil {
		client = &http.Client{}
	}
	cfg = withDefaults(cfg)
	return NewWithChannels(cfg, logger,
		&Telegram{cfg: cfg, client: client},
		&Discord{cfg: cfg, client: client},
	)
}

// NewWithChannels builds a Dispatcher over arbitrary channels.
func NewWithChannels(cfg NotificationConfig, logger *zap.Logger, channels ...Channel) *Dispatcher {
	return &Dispatcher{
		cfg:      withDefaults(cfg),
		channels: channels,
		logger:   logging.OrNop(logger).Named("notify"),
	}
}

func withDefaults(cfg NotificationConfig) NotificationConfig {
	if cfg.ChatAPIBase == "" {
		cfg.ChatAPIBase = "https://api.telegram.org"
	}
	cfg.ChatAPIBase = strings.TrimRight(cfg.ChatAPIBase, "/")
	if cfg.ParseMode == "" {
		cfg.ParseMode = "HTML"
	}
	if cfg.WebhookUsername == "" {
		cfg.WebhookUsername = "MangaWatch"
	}
	if cfg.ChannelTimeout <= 0 {
		cfg.ChannelTimeout = 8 * time.Second
	}
	return cfg
}

// Notify sends alert to every configured channel. Unconfigured channels are
// reported as skipped. Channel failures never abort the others.
func (d *Dispatcher) Notify(ctx context.Context, settings manga.UserNotificationSettings, alert Alert) DispatchReport {
	results := make([]Result, len(d.channels))
	var wg sync.WaitGroup
	for i, ch := range d.channels {
		if !ch.Configured(settings) {
			results[i] = Result{Channel: ch.Name(), Status: StatusSkipped}
			metrics.ObserveNotification(ch.Name(), StatusSkipped)
			continue
		}
		wg.Add(1)
		go func(i int, ch Channel) {
			defer wg.Done()
			results[i] = d.send(ctx, ch, settings, alert)
		}(i, ch)
	}
	wg.Wait()
	return DispatchReport{Results: results}
}

func (d *Dispatcher) send(ctx context.Context, ch Channel, settings manga.UserNotificationSettings, alert Alert) (res Result) {
	start := time.Now()
	res = Result{Channel: ch.Name(), Status: StatusOK}
	defer func() {
		if r := recover(); r != nil {
			res.Status = StatusError
			res.Error = "channel panicked"
			d.logger.Error("notification channel panicked", zap.String("channel", ch.Name()), zap.Any("panic", r))
		}
		res.Duration = time.Since(start)
		metrics.ObserveNotification(ch.Name(), res.Status)
	}()

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.ChannelTimeout)
	defer cancel()
	if err := ch.Send(sendCtx, settings, alert); err != nil {
		res.Status = StatusError
		res.Error = err.Error()
		d.logger.Warn("notification failed",
			zap.String("channel", ch.Name()),
			zap.String("user_id", settings.UserID),
			zap.String("manga_id", alert.MangaID),
			zap.Error(err),
		)
	}
	return res
}

func readLink(cfg NotificationConfig, alert Alert) string {
	base := strings.TrimRight(cfg.SiteURL, "/")
	if base == "" {
		return ""
	}
	id := alert.MangaID
	if alert.Source != "" {
		id = alert.Source + ":" + id
	}
	return base + "/manga/" + id
}
