// Package discord talks to the REST collaborator that fronts the chat
// platform. Every call is fallible and time-bounded; a timeout counts
// as a failure, never as unknown state — the reconciler heals whatever
// drifted as a result.
package discord

import "context"

// Permission bits carried in channel overwrites.
const (
	PermManageChannels uint64 = 1 << 4
	PermViewChannel    uint64 = 1 << 10
	PermConnect        uint64 = 1 << 20
	PermMoveMembers    uint64 = 1 << 24
	PermManageRoles    uint64 = 1 << 28
)

const (
	OverwriteRole   = "role"
	OverwriteMember = "member"
)

// Overwrite is one permission overwrite on a channel. For the
// @everyone role the target id equals the guild id.
type Overwrite struct {
	TargetID string `json:"targetId"`
	Type     string `json:"type"`
	Allow    uint64 `json:"allow"`
	Deny     uint64 `json:"deny"`
}

type ChannelCreate struct {
	Name       string      `json:"name"`
	CategoryID string      `json:"categoryId,omitempty"`
	UserLimit  int         `json:"userLimit"`
	Overwrites []Overwrite `json:"overwrites,omitempty"`
}

// ChannelPatch updates a channel in place. Nil fields are untouched.
type ChannelPatch struct {
	Name      *string `json:"name,omitempty"`
	UserLimit *int    `json:"userLimit,omitempty"`
}

type ChannelInfo struct {
	ChannelID   string   `json:"channelId"`
	Name        string   `json:"name"`
	OccupantIDs []string `json:"occupantIds"`
}

// API is the remote channel surface the lifecycle engine and the
// reconciler depend on. MoveMember with an empty channel id
// disconnects the member from voice.
type API interface {
	CreateChannel(ctx context.Context, guildID string, req ChannelCreate) (channelID string, err error)
	DeleteChannel(ctx context.Context, channelID string) error
	UpdateChannel(ctx context.Context, channelID string, patch ChannelPatch) error
	MoveMember(ctx context.Context, guildID, userID, channelID string) error
	EditOverwrites(ctx context.Context, channelID string, overwrites []Overwrite) error
	ListChannels(ctx context.Context, guildID, categoryID string) ([]ChannelInfo, error)
}
