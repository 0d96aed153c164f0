// Copyright 2025-2026 Taylan Derstadt
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package moderation enforces the invite-abuse ban policy: banned users are
// kicked on rejoin, every pending invite is revoked, and invite creators are
// banned themselves once their links have enabled enough rejoins.
package moderation

import (
	"context"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/SpotsTheFemboy/BanBotAndOtherModUtils/pkg/metrics"
	"github.com/SpotsTheFemboy/BanBotAndOtherModUtils/pkg/pronto"
	"github.com/SpotsTheFemboy/BanBotAndOtherModUtils/pkg/store"
)

// Backend is the slice of the chat client the policy engine needs.
type Backend interface {
	KickUsers(ctx context.Context, bubbleID int64, userIDs []int64) error
	AddMembers(ctx context.Context, bubbleID int64, userIDs []int64) error
	ListInvites(ctx context.Context, bubbleID int64) ([]pronto.Invite, error)
	DeleteInvite(ctx context.Context, code string) error
	SendMessage(ctx context.Context, text string, bubbleID int64, mediaKeys []string) (*pronto.MessageRef, error)
}

// BanStore persists the full ban list on every mutation.
type BanStore interface {
	Save(ids []int64) error
}

// CounterStore persists the full invite-offense table on every mutation.
type CounterStore interface {
	Save(counters []store.InviteCounter) error
}

// Engine holds the ban list and invite-offense counters. Rejoin checks may
// run concurrently, so all mutable state lives behind one mutex; network
// calls happen outside it.
type Engine struct {
	backend       Backend
	banStore      BanStore
	counterStore  CounterStore
	bubbleID      int64
	adminBubbleID int64
	threshold     int
	log           zerolog.Logger

	mu       sync.Mutex
	banSet   map[int64]struct{}
	banOrder []int64
	counters []store.InviteCounter
}

// NewEngine builds a policy engine seeded with the persisted ban list and
// counter table.
func NewEngine(backend Backend, banStore BanStore, counterStore CounterStore, bubbleID, adminBubbleID int64, threshold int, bans []int64, counters []store.InviteCounter, log zerolog.Logger) *Engine {
	e := &Engine{
		backend:       backend,
		banStore:      banStore,
		counterStore:  counterStore,
		bubbleID:      bubbleID,
		adminBubbleID: adminBubbleID,
		threshold:     threshold,
		log:           log.With().Str("component", "moderation").Logger(),
		banSet:        make(map[int64]struct{}, len(bans)),
		counters:      counters,
	}
	for _, id := range bans {
		if _, dup := e.banSet[id]; dup {
			continue
		}
		e.banSet[id] = struct{}{}
		e.banOrder = append(e.banOrder, id)
	}
	return e
}

// IsBanned reports whether the user is on the ban list.
func (e *Engine) IsBanned(userID int64) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	_, ok := e.banSet[userID]
	return ok
}

// Ban adds the user to the ban list (idempotently), persists it, and kicks
// the user from the main bubble.
func (e *Engine) Ban(ctx context.Context, userID int64) error {
	if added, err := e.addBan(userID); err != nil {
		return err
	} else if added {
		metrics.BansIssued.Inc()
	}
	return e.kick(ctx, userID)
}

// Unban removes the user from the ban list, persists it, and re-adds the
// user as a member. A user not on the list is a no-op.
func (e *Engine) Unban(ctx context.Context, userID int64) error {
	e.mu.Lock()
	if _, ok := e.banSet[userID]; !ok {
		e.mu.Unlock()
		return nil
	}
	delete(e.banSet, userID)
	for i, id := range e.banOrder {
		if id == userID {
			e.banOrder = append(e.banOrder[:i], e.banOrder[i+1:]...)
			break
		}
	}
	err := e.banStore.Save(e.banSnapshotLocked())
	e.mu.Unlock()
	if err != nil {
		return fmt.Errorf("persist ban list: %w", err)
	}

	if err := e.backend.AddMembers(ctx, e.bubbleID, []int64{userID}); err != nil {
		return fmt.Errorf("re-add member %d: %w", userID, err)
	}
	return nil
}

// OnUserRejoinDetected runs the full rejoin policy for a user whose read
// mark changed: kick if banned, revoke all pending invites, and charge each
// invite's creator one offense. Each invite is processed independently;
// failures are logged per item and never abort the batch.
func (e *Engine) OnUserRejoinDetected(ctx context.Context, userID int64) {
	if !e.IsBanned(userID) {
		return
	}

	log := e.log.With().Int64("user_id", userID).Logger()
	log.Info().Msg("Banned user rejoin detected")

	// Kick first so a banned user never lingers even if invite cleanup fails.
	if err := e.kick(ctx, userID); err != nil {
		log.Error().Err(err).Msg("Failed to kick banned user")
	}

	invites, err := e.backend.ListInvites(ctx, e.bubbleID)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list invites")
		return
	}

	seen := make(map[int64]struct{})
	for _, invite := range invites {
		if err := e.backend.DeleteInvite(ctx, invite.Code); err != nil {
			log.Error().Err(err).Str("code", invite.Code).Msg("Failed to delete invite")
		} else {
			metrics.InvitesDeleted.Inc()
		}

		// Each creator is charged at most one offense per batch.
		if _, dup := seen[invite.UserID]; dup {
			continue
		}
		seen[invite.UserID] = struct{}{}
		e.chargeInviter(ctx, invite.UserID, log)
	}
}

// SweepInvites deletes every pending invite for the bubble. Run once at
// startup: links that accumulated while the bot was down are a rejoin vector
// for banned users. Failures are logged per item and never block startup.
func (e *Engine) SweepInvites(ctx context.Context) {
	invites, err := e.backend.ListInvites(ctx, e.bubbleID)
	if err != nil {
		e.log.Warn().Err(err).Msg("Failed to list invites at startup")
		return
	}
	for _, invite := range invites {
		if err := e.backend.DeleteInvite(ctx, invite.Code); err != nil {
			e.log.Warn().Err(err).Str("code", invite.Code).Msg("Failed to delete invite")
			continue
		}
		metrics.InvitesDeleted.Inc()
	}
	if len(invites) > 0 {
		e.log.Info().Int("count", len(invites)).Msg("Swept pending invites")
	}
}

// chargeInviter increments the creator's offense counter and bans them once
// the threshold is reached.
func (e *Engine) chargeInviter(ctx context.Context, creatorID int64, log zerolog.Logger) {
	e.mu.Lock()
	if _, banned := e.banSet[creatorID]; banned {
		// Tracking stops for this ban cycle once the creator is banned.
		e.mu.Unlock()
		return
	}

	count := 0
	found := false
	for i := range e.counters {
		if e.counters[i].UserID == creatorID {
			e.counters[i].Count++
			count = e.counters[i].Count
			found = true
			break
		}
	}
	if !found {
		e.counters = append(e.counters, store.InviteCounter{UserID: creatorID, Count: 1})
		count = 1
	}
	if err := e.counterStore.Save(append([]store.InviteCounter(nil), e.counters...)); err != nil {
		log.Error().Err(err).Msg("Failed to persist invite counters")
	}

	crossed := count >= e.threshold
	if crossed {
		e.banSet[creatorID] = struct{}{}
		e.banOrder = append(e.banOrder, creatorID)
		if err := e.banStore.Save(e.banSnapshotLocked()); err != nil {
			log.Error().Err(err).Msg("Failed to persist ban list")
		}
	}
	e.mu.Unlock()

	if !crossed {
		return
	}

	metrics.BansIssued.Inc()
	log.Info().Int64("creator_id", creatorID).Int("count", count).Msg("Inviter crossed ban threshold")

	if err := e.kick(ctx, creatorID); err != nil {
		log.Error().Err(err).Int64("creator_id", creatorID).Msg("Failed to kick banned inviter")
	}
	notice := fmt.Sprintf("<@%d> has made invite links after a banned user rejoined %d times, so they are now banned.", creatorID, e.threshold)
	if _, err := e.backend.SendMessage(ctx, notice, e.adminBubbleID, nil); err != nil {
		log.Error().Err(err).Msg("Failed to post oversight notice")
	}
}

// addBan inserts the user into the ban list if absent and persists it.
// Returns whether the list actually changed.
func (e *Engine) addBan(userID int64) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.banSet[userID]; ok {
		return false, nil
	}
	e.banSet[userID] = struct{}{}
	e.banOrder = append(e.banOrder, userID)
	if err := e.banStore.Save(e.banSnapshotLocked()); err != nil {
		return true, fmt.Errorf("persist ban list: %w", err)
	}
	return true, nil
}

func (e *Engine) kick(ctx context.Context, userID int64) error {
	if err := e.backend.KickUsers(ctx, e.bubbleID, []int64{userID}); err != nil {
		return fmt.Errorf("kick user %d: %w", userID, err)
	}
	metrics.KicksIssued.Inc()
	return nil
}

// banSnapshotLocked copies the ordered ban list for persistence. Callers
// must hold e.mu.
func (e *Engine) banSnapshotLocked() []int64 {
	return append([]int64(nil), e.banOrder...)
}
