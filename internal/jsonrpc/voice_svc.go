// Package jsonrpc exposes the voice room command surface to the
// dispatch collaborator. Methods take explicit requester ids: the
// dispatcher authenticates as a service, the requester is whichever
// guild member invoked the command.
package jsonrpc

import (
	"context"

	"github.com/voxroom-project/backend/internal/orchestrator"
)

func NewVoiceService(orc *orchestrator.Orchestrator) *VoiceService {
	return &VoiceService{orc: orc}
}

type VoiceService struct {
	orc *orchestrator.Orchestrator
}

func (s *VoiceService) Setup(ctx context.Context, guildID, creatorChannelID, categoryID, nameTemplate string, defaultLimit int) (ok bool, err error) {
	err = s.orc.Setup(ctx, guildID, creatorChannelID, categoryID, nameTemplate, defaultLimit)
	ok = err == nil
	return
}

func (s *VoiceService) Lock(ctx context.Context, roomID, requesterID string) (ok bool, err error) {
	err = s.orc.Lock(ctx, roomID, requesterID)
	ok = err == nil
	return
}

func (s *VoiceService) Unlock(ctx context.Context, roomID, requesterID string) (ok bool, err error) {
	err = s.orc.Unlock(ctx, roomID, requesterID)
	ok = err == nil
	return
}

func (s *VoiceService) Rename(ctx context.Context, roomID, requesterID, newName string) (ok bool, err error) {
	err = s.orc.Rename(ctx, roomID, requesterID, newName)
	ok = err == nil
	return
}

func (s *VoiceService) SetLimit(ctx context.Context, roomID, requesterID string, limit int) (ok bool, err error) {
	err = s.orc.SetLimit(ctx, roomID, requesterID, limit)
	ok = err == nil
	return
}

func (s *VoiceService) Allow(ctx context.Context, roomID, requesterID, targetUserID string) (ok bool, err error) {
	err = s.orc.Allow(ctx, roomID, requesterID, targetUserID)
	ok = err == nil
	return
}

func (s *VoiceService) Reject(ctx context.Context, roomID, requesterID, targetUserID string) (ok bool, err error) {
	err = s.orc.Reject(ctx, roomID, requesterID, targetUserID)
	ok = err == nil
	return
}

func (s *VoiceService) Claim(ctx context.Context, roomID, requesterID string) (ok bool, err error) {
	err = s.orc.Claim(ctx, roomID, requesterID)
	ok = err == nil
	return
}

func (s *VoiceService) Transfer(ctx context.Context, roomID, requesterID, targetUserID string) (ok bool, err error) {
	err = s.orc.Transfer(ctx, roomID, requesterID, targetUserID)
	ok = err == nil
	return
}

func (s *VoiceService) Info(ctx context.Context, roomID string) (room Room, err error) {
	var info orchestrator.RoomInfo
	if info, err = s.orc.Info(ctx, roomID); err != nil {
		return
	}

	room = Room{
		RoomID:     info.RoomID,
		GuildID:    info.GuildID,
		OwnerID:    info.OwnerID,
		CreatedAt:  info.CreatedAt,
		Locked:     info.Locked,
		Occupants:  info.Occupants,
		AllowList:  info.AllowList,
		RejectList: info.RejectList,
	}
	return
}
