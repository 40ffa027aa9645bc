package config

import (
	"fmt"

	"github.com/spf13/viper"
)

// Seed describes tracked titles and notification settings to preload into a store.
type Seed struct {
	Titles   []SeedTitle    `mapstructure:"titles"`
	Settings []SeedSettings `mapstructure:"settings"`
}

// SeedTitle is one tracked title owned by a user.
type SeedTitle struct {
	UserID      string `mapstructure:"user_id"`
	MangaID     string `mapstructure:"manga_id"`
	Source      string `mapstructure:"source"`
	Title       string `mapstructure:"title"`
	Cover       string `mapstructure:"cover"`
	LastChapter string `mapstructure:"last_chapter"`
}

// SeedSettings is one user's channel configuration.
type SeedSettings struct {
	UserID        string `mapstructure:"user_id"`
	ChatBotToken  string `mapstructure:"chat_bot_token"`
	ChatChannelID string `mapstructure:"chat_channel_id"`
	WebhookURL    string `mapstructure:"webhook_url"`
}

// LoadSeed reads a YAML or JSON seed file.
func LoadSeed(path string) (Seed, error) {
	v := viper.New()
	v.SetConfigFile(path)
	if err := v.ReadInConfig(); err != nil {
		return Seed{}, fmt.Errorf("read seed: %w", err)
	}
	var seed Seed
	if err := v.Unmarshal(&seed); err != nil {
		return Seed{}, fmt.Errorf("unmarshal seed: %w", err)
	}
	for i, t := range seed.Titles {
		if t.UserID == "" || t.MangaID == "" || t.Source == "" {
			return Seed{}, fmt.Errorf("seed titles[%d]: user_id, manga_id and source are required", i)
		}
	}
	return seed, nil
}
