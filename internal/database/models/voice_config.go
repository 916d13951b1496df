package models

import "github.com/uptrace/bun"

// GuildVoiceConfig holds the per-guild creator channel settings.
// One row per guild, written only by the setup command.
type GuildVoiceConfig struct {
	bun.BaseModel

	GuildID          string `bun:",pk"`
	CreatorChannelID string
	CategoryID       *string
	NameTemplate     string
	DefaultLimit     int
}
