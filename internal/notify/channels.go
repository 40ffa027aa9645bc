package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"net/url"
	"strings"

	"github.com/JakeFAU/mangawatch/internal/manga"
)

const embedColor = 0x5865F2

// Telegram posts messages through the Bot API sendMessage method.
type Telegram struct {
	cfg    NotificationConfig
	client *http.Client
}

// Name implements Channel.
func (t *Telegram) Name() string { return "telegram" }

// Configured implements Channel.
func (t *Telegram) Configured(s manga.UserNotificationSettings) bool { return s.ChatBotConfigured() }

// Send implements Channel.
func (t *Telegram) Send(ctx context.Context, s manga.UserNotificationSettings, alert Alert) error {
	payload := map[string]any{
		"chat_id":    strings.TrimSpace(s.ChatChannelID),
		"text":       t.text(alert),
		"parse_mode": t.cfg.ParseMode,
	}
	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", t.cfg.ChatAPIBase, strings.TrimSpace(s.ChatBotToken))
	return postJSON(ctx, t.client, endpoint, payload)
}

func (t *Telegram) text(alert Alert) string {
	var b strings.Builder
	b.WriteString("📢 <b>")
	b.WriteString(html.EscapeString(alert.Title))
	b.WriteString("</b>\n")
	b.WriteString("New chapter: ")
	b.WriteString(html.EscapeString(alert.Marker))
	if link := readLink(t.cfg, alert); link != "" {
		fmt.Fprintf(&b, "\n<a href=\"%s\">Read now</a>", html.EscapeString(link))
	}
	return b.String()
}

// Discord posts an embed to a webhook URL.
type Discord struct {
	cfg    NotificationConfig
	client *http.Client
}

// Name implements Channel.
func (d *Discord) Name() string { return "discord" }

// Configured implements Channel.
func (d *Discord) Configured(s manga.UserNotificationSettings) bool { return s.WebhookConfigured() }

type discordImage struct {
	URL string `json:"url"`
}

type discordEmbed struct {
	Title       string        `json:"title"`
	Description string        `json:"description"`
	URL         string        `json:"url,omitempty"`
	Image       *discordImage `json:"image,omitempty"`
	Color       int           `json:"color"`
}

type discordPayload struct {
	Username string         `json:"username"`
	Embeds   []discordEmbed `json:"embeds"`
}

// Send implements Channel.
func (d *Discord) Send(ctx context.Context, s manga.UserNotificationSettings, alert Alert) error {
	embed := discordEmbed{
		Title:       alert.Title,
		Description: "New chapter: " + alert.Marker,
		URL:         readLink(d.cfg, alert),
		Color:       embedColor,
	}
	if alert.CoverURL != "" {
		embed.Image = &discordImage{URL: alert.CoverURL}
	}
	payload := discordPayload{Username: d.cfg.WebhookUsername, Embeds: []discordEmbed{embed}}
	return postJSON(ctx, d.client, strings.TrimSpace(s.WebhookURL), payload)
}

func postJSON(ctx context.Context, client *http.Client, endpoint string, payload any) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := client.Do(req)
	if err != nil {
		// The endpoint may embed a bot token; keep it out of logs.
		var uerr *url.Error
		if errors.As(err, &uerr) {
			err = uerr.Err
		}
		return fmt.Errorf("post: %w", err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}
