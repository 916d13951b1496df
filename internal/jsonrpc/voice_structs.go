package jsonrpc

import "time"

type Room struct {
	RoomID     string    `json:"roomId"`
	GuildID    string    `json:"guildId"`
	OwnerID    *string   `json:"ownerId"`
	CreatedAt  time.Time `json:"createdAt"`
	Locked     bool      `json:"locked"`
	Occupants  []string  `json:"occupants"`
	AllowList  []string  `json:"allowList"`
	RejectList []string  `json:"rejectList"`
}
