package manga

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNavigate(t *testing.T) {
	t.Parallel()

	chapters := []Chapter{
		{ID: "one-piece-chapter-1101", URL: "https://komikindo.ch/one-piece-chapter-1101/"},
		{ID: "one-piece-chapter-1100", URL: "https://komikindo.ch/one-piece-chapter-1100/"},
		{ID: "one-piece-chapter-1099", URL: "https://komikindo.ch/one-piece-chapter-1099/"},
	}

	prev, next := Navigate(chapters, "one-piece-chapter-1100")
	require.Equal(t, "one-piece-chapter-1099", prev)
	require.Equal(t, "one-piece-chapter-1101", next)

	prev, next = Navigate(chapters, "https://komikindo.ch/one-piece-chapter-1101/")
	require.Equal(t, "one-piece-chapter-1100", prev)
	require.Empty(t, next)

	prev, next = Navigate(chapters, "/one-piece-chapter-1099")
	require.Empty(t, prev)
	require.Equal(t, "one-piece-chapter-1100", next)
}

func TestNavigateMissingChapter(t *testing.T) {
	t.Parallel()

	prev, next := Navigate([]Chapter{{ID: "a"}, {ID: "b"}}, "c")
	require.Empty(t, prev)
	require.Empty(t, next)

	prev, next = Navigate(nil, "a")
	require.Empty(t, prev)
	require.Empty(t, next)
}

func TestCanonicalDetailDefaults(t *testing.T) {
	t.Parallel()

	d := &CanonicalDetail{ID: "x", Title: "X"}
	d.ApplyDefaults()
	require.Equal(t, DefaultSynopsis, d.Synopsis)
	require.Equal(t, DefaultAuthor, d.Author)
	require.Equal(t, DefaultStatus, d.Status)
	require.NotNil(t, d.Genres)
	require.Empty(t, d.LatestChapter())

	d.Chapters = []Chapter{{ID: "x-2", Title: "Chapter 2"}, {ID: "x-1", Title: "Chapter 1"}}
	require.Equal(t, "Chapter 2", d.LatestChapter())
}

func TestNotificationSettingsConfigured(t *testing.T) {
	t.Parallel()

	s := UserNotificationSettings{ChatBotToken: "tok", ChatChannelID: " "}
	require.False(t, s.ChatBotConfigured())
	require.False(t, s.WebhookConfigured())

	s.ChatChannelID = "123"
	s.WebhookURL = "https://discord.example/hook"
	require.True(t, s.ChatBotConfigured())
	require.True(t, s.WebhookConfigured())
}
