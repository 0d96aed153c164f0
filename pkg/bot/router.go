// Copyright 2025-2026 Taylan Derstadt
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package bot parses owner-issued text commands and executes them against
// the policy engine and the chat backend. Commands that fail or reference
// nothing silently no-op rather than reporting errors back to chat.
package bot

import (
	"context"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/SpotsTheFemboy/BanBotAndOtherModUtils/pkg/metrics"
	"github.com/SpotsTheFemboy/BanBotAndOtherModUtils/pkg/pronto"
	"github.com/SpotsTheFemboy/BanBotAndOtherModUtils/pkg/store"
)

// pinExpiry is the far-future expiry attached to bot-pinned messages.
const pinExpiry = "2031-11-11 11:11:11"

// mentionRe matches a user reference as a numeric id in a <@NNNNN> token.
var mentionRe = regexp.MustCompile(`<@(\d+)>`)

// Backend is the slice of the chat client the router needs.
type Backend interface {
	SendMessage(ctx context.Context, text string, bubbleID int64, mediaKeys []string) (*pronto.MessageRef, error)
	EditMessage(ctx context.Context, messageID int64, text string) error
	PinMessage(ctx context.Context, messageID int64, expiresAt string) error
	SendReaction(ctx context.Context, emoji string, messageID int64) error
	GetBubbleInfo(ctx context.Context, bubbleID int64) (*pronto.BubbleInfo, error)
	GetThread(ctx context.Context, bubbleID, messageID int64) (*pronto.Thread, error)
}

// Policy is the slice of the moderation engine reachable from commands.
type Policy interface {
	Ban(ctx context.Context, userID int64) error
	Unban(ctx context.Context, userID int64) error
}

// PollStore persists the full poll list on every mutation.
type PollStore interface {
	Save(polls []store.Poll) error
}

// Router dispatches chat messages to command handlers. The owner set is
// loaded once at startup; the process-wide enable flag tolerates races since
// it only gates behavior.
type Router struct {
	backend   Backend
	policy    Policy
	pollStore PollStore
	bubbleID  int64
	botUserID int64
	owners    map[int64]struct{}
	log       zerolog.Logger

	enabled atomic.Bool

	pollMu sync.Mutex
	polls  []store.Poll
}

// NewRouter builds a command router seeded with the bubble's owner set and
// the persisted poll records. Message processing starts enabled.
func NewRouter(backend Backend, policy Policy, pollStore PollStore, bubbleID, botUserID int64, owners []int64, polls []store.Poll, log zerolog.Logger) *Router {
	r := &Router{
		backend:   backend,
		policy:    policy,
		pollStore: pollStore,
		bubbleID:  bubbleID,
		botUserID: botUserID,
		owners:    make(map[int64]struct{}, len(owners)),
		polls:     polls,
		log:       log.With().Str("component", "router").Logger(),
	}
	for _, id := range owners {
		r.owners[id] = struct{}{}
	}
	r.enabled.Store(true)
	return r
}

// Enabled reports whether message processing is currently on.
func (r *Router) Enabled() bool {
	return r.enabled.Load()
}

func (r *Router) isOwner(userID int64) bool {
	_, ok := r.owners[userID]
	return ok
}

// HandleMessage parses a single message into zero or one command and
// executes it. The bot toggle is handled even while processing is off; every
// other command is ignored until it is turned back on.
func (r *Router) HandleMessage(ctx context.Context, msg *pronto.Message) {
	text := msg.Message
	// Commands start the message; "!" anywhere later is just chat.
	if !strings.HasPrefix(text, "!") {
		return
	}
	fields := strings.Fields(text)
	cmd := strings.ToLower(fields[0])

	if cmd == "!bot" {
		r.handleToggle(ctx, msg, fields)
		return
	}
	if !r.enabled.Load() {
		return
	}
	if !r.isOwner(msg.UserID) {
		return
	}

	rest := ""
	if idx := strings.IndexAny(text, " \t"); idx >= 0 {
		rest = strings.TrimSpace(text[idx+1:])
	}

	switch cmd {
	case "!pin":
		r.handlePin(ctx, msg, rest, false)
	case "!atpin":
		r.handlePin(ctx, msg, rest, true)
	case "!ban":
		r.handleBan(ctx, rest)
	case "!unban":
		r.handleUnban(ctx, rest)
	case "!poll":
		r.handlePoll(ctx, rest, store.PollBinary)
	case "!advpoll":
		r.handlePoll(ctx, rest, store.PollOpen)
	case "!getpoll":
		r.handleGetPoll(ctx, rest)
	case "!checkpoll":
		r.handleCheckPoll(ctx, rest)
	default:
		return
	}
	metrics.CommandsProcessed.WithLabelValues(strings.TrimPrefix(cmd, "!")).Inc()
}

// handleToggle flips the process-wide message-processing flag and
// acknowledges with a reaction.
func (r *Router) handleToggle(ctx context.Context, msg *pronto.Message, fields []string) {
	if len(fields) < 2 || !r.isOwner(msg.UserID) {
		return
	}
	switch strings.ToLower(fields[1]) {
	case "on":
		r.enabled.Store(true)
		r.log.Info().Int64("user_id", msg.UserID).Msg("Bot enabled")
		r.react(ctx, "\U0001F4A1", msg.ID) // 💡
	case "off":
		r.enabled.Store(false)
		r.log.Info().Int64("user_id", msg.UserID).Msg("Bot disabled")
		r.react(ctx, "\U0001F4F4", msg.ID) // 📴
	}
}

// handlePin sends or edits the bubble's pinned message. If the current pin
// was not authored by this bot, a fresh message is posted and pinned;
// otherwise the existing pin is edited in place (replaced, or appended to in
// append mode).
func (r *Router) handlePin(ctx context.Context, msg *pronto.Message, content string, appendMode bool) {
	if content == "" {
		return
	}
	r.react(ctx, "\U0001F4CC", msg.ID) // 📌

	info, err := r.backend.GetBubbleInfo(ctx, r.bubbleID)
	if err != nil {
		r.log.Error().Err(err).Msg("Failed to fetch bubble info for pin")
		return
	}
	pinned := info.Bubble.PinnedMessage

	if pinned == nil || pinned.UserID != r.botUserID {
		ref, err := r.backend.SendMessage(ctx, content, r.bubbleID, nil)
		if err != nil {
			r.log.Error().Err(err).Msg("Failed to send pin message")
			return
		}
		if err := r.backend.PinMessage(ctx, ref.Message.ID, pinExpiry); err != nil {
			r.log.Error().Err(err).Msg("Failed to pin message")
		}
		return
	}

	newText := content
	if appendMode {
		newText = pinned.Message + "\n" + content
	}
	if err := r.backend.EditMessage(ctx, pinned.ID, newText); err != nil {
		r.log.Error().Err(err).Msg("Failed to edit pinned message")
	}
}

func (r *Router) handleBan(ctx context.Context, rest string) {
	target, ok := parseMention(rest)
	if !ok {
		return
	}
	if err := r.policy.Ban(ctx, target); err != nil {
		r.log.Error().Err(err).Int64("target", target).Msg("Ban command failed")
	}
}

func (r *Router) handleUnban(ctx context.Context, rest string) {
	target, ok := parseMention(rest)
	if !ok {
		return
	}
	if err := r.policy.Unban(ctx, target); err != nil {
		r.log.Error().Err(err).Int64("target", target).Msg("Unban command failed")
	}
}

func (r *Router) react(ctx context.Context, emoji string, messageID int64) {
	if err := r.backend.SendReaction(ctx, emoji, messageID); err != nil {
		r.log.Warn().Err(err).Str("emoji", emoji).Msg("Failed to send reaction")
	}
}

// parseMention extracts the target user id from a <@NNNNN> token. Absence
// of a match is a silent no-op, not an error.
func parseMention(s string) (int64, bool) {
	m := mentionRe.FindStringSubmatch(s)
	if m == nil {
		return 0, false
	}
	id, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0, false
	}
	return id, true
}
