// Copyright 2025-2026 Taylan Derstadt
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package bot

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"

	"github.com/SpotsTheFemboy/BanBotAndOtherModUtils/pkg/pronto"
	"github.com/SpotsTheFemboy/BanBotAndOtherModUtils/pkg/store"
)

// Canonical reaction options seeded on binary polls.
const (
	pollYes = "✅" // ✅
	pollNo  = "❌" // ❌
)

// handlePoll creates a poll anchored on a fresh message. Poll numbers come
// from the stored count plus one; the mutex spans the whole creation so
// concurrent polls cannot collide on a number.
func (r *Router) handlePoll(ctx context.Context, prompt string, kind store.PollKind) {
	if prompt == "" {
		return
	}

	r.pollMu.Lock()
	defer r.pollMu.Unlock()

	number := len(r.polls) + 1
	body := fmt.Sprintf("Poll #%d: %s", number, prompt)
	if kind == store.PollBinary {
		body += fmt.Sprintf("\nVote %s for yes or %s for no.", pollYes, pollNo)
	}

	ref, err := r.backend.SendMessage(ctx, body, r.bubbleID, nil)
	if err != nil {
		r.log.Error().Err(err).Msg("Failed to post poll message")
		return
	}

	if kind == store.PollBinary {
		// Seed both options so voters only have to tap.
		for _, emoji := range []string{pollYes, pollNo} {
			if err := r.backend.SendReaction(ctx, emoji, ref.Message.ID); err != nil {
				r.log.Warn().Err(err).Str("emoji", emoji).Msg("Failed to seed poll reaction")
			}
		}
	}

	r.polls = append(r.polls, store.Poll{
		PollNumber:      number,
		Prompt:          prompt,
		Message:         body,
		AnchorMessageID: ref.Message.ID,
		Kind:            kind,
	})
	if err := r.pollStore.Save(append([]store.Poll(nil), r.polls...)); err != nil {
		r.log.Error().Err(err).Msg("Failed to persist poll records")
	}
}

// handleGetPoll re-shares a reference to an existing poll's anchor message.
// Out-of-range or non-numeric arguments are silent no-ops.
func (r *Router) handleGetPoll(ctx context.Context, arg string) {
	poll, ok := r.pollByNumber(arg)
	if !ok {
		return
	}
	text := fmt.Sprintf("%s\n(see message %d)", poll.Message, poll.AnchorMessageID)
	if _, err := r.backend.SendMessage(ctx, text, r.bubbleID, nil); err != nil {
		r.log.Error().Err(err).Int("poll", poll.PollNumber).Msg("Failed to re-share poll")
	}
}

// handleCheckPoll tallies reactions on a poll's anchor message and posts a
// results summary.
func (r *Router) handleCheckPoll(ctx context.Context, arg string) {
	poll, ok := r.pollByNumber(arg)
	if !ok {
		return
	}

	thread, err := r.backend.GetThread(ctx, r.bubbleID, poll.AnchorMessageID)
	if err != nil {
		r.log.Error().Err(err).Int("poll", poll.PollNumber).Msg("Failed to fetch poll thread")
		return
	}
	anchor := findMessage(thread, poll.AnchorMessageID)
	if anchor == nil {
		r.log.Warn().Int("poll", poll.PollNumber).Msg("Poll anchor message not found in thread")
		return
	}

	var summary string
	if poll.Kind == store.PollBinary {
		summary = binarySummary(poll, anchor.Reactions)
	} else {
		summary = openSummary(poll, anchor.Reactions)
	}
	if _, err := r.backend.SendMessage(ctx, summary, r.bubbleID, nil); err != nil {
		r.log.Error().Err(err).Int("poll", poll.PollNumber).Msg("Failed to post poll results")
	}
}

// pollByNumber resolves a 1-based poll number argument against the stored
// records.
func (r *Router) pollByNumber(arg string) (store.Poll, bool) {
	n, err := strconv.Atoi(strings.TrimSpace(arg))
	if err != nil {
		return store.Poll{}, false
	}
	r.pollMu.Lock()
	defer r.pollMu.Unlock()
	if n < 1 || n > len(r.polls) {
		return store.Poll{}, false
	}
	return r.polls[n-1], true
}

func findMessage(thread *pronto.Thread, messageID int64) *pronto.Message {
	for i := range thread.ParentMessages {
		if thread.ParentMessages[i].ID == messageID {
			return &thread.ParentMessages[i]
		}
	}
	for i := range thread.Messages {
		if thread.Messages[i].ID == messageID {
			return &thread.Messages[i]
		}
	}
	return nil
}

// normalizeEmoji strips the variation selector so seeded and typed variants
// of the same emoji tally together.
func normalizeEmoji(emoji string) string {
	return strings.TrimSuffix(emoji, "️")
}

// binarySummary reports yes/no counts and a verdict. One vote per option is
// subtracted for the bot's own seeded reaction; this assumes the seeds are
// still present, which is a documented precondition rather than a checked
// invariant.
func binarySummary(poll store.Poll, reactions []pronto.Reaction) string {
	var yes, no int
	for _, re := range reactions {
		// Bare and variation-selector variants arrive as separate entries.
		switch normalizeEmoji(re.Emoji) {
		case pollYes:
			yes += re.Count
		case pollNo:
			no += re.Count
		}
	}
	if yes > 0 {
		yes--
	}
	if no > 0 {
		no--
	}

	verdict := "It's a tie."
	switch {
	case yes > no:
		verdict = "The majority voted Yes."
	case no > yes:
		verdict = "The majority voted No."
	}
	return fmt.Sprintf("Poll #%d results: %s %d, %s %d. %s", poll.PollNumber, pollYes, yes, pollNo, no, verdict)
}

// openSummary reports a count per distinct reaction and the mode
// reaction(s).
func openSummary(poll store.Poll, reactions []pronto.Reaction) string {
	if len(reactions) == 0 {
		return fmt.Sprintf("Poll #%d results: no reactions yet.", poll.PollNumber)
	}

	counts := make(map[string]int)
	for _, re := range reactions {
		counts[normalizeEmoji(re.Emoji)] += re.Count
	}

	emojis := make([]string, 0, len(counts))
	for emoji := range counts {
		emojis = append(emojis, emoji)
	}
	sort.Strings(emojis)

	max := 0
	for _, count := range counts {
		if count > max {
			max = count
		}
	}

	var lines []string
	var top []string
	for _, emoji := range emojis {
		lines = append(lines, fmt.Sprintf("%s: %d", emoji, counts[emoji]))
		if counts[emoji] == max {
			top = append(top, emoji)
		}
	}
	return fmt.Sprintf("Poll #%d results:\n%s\nTop reaction(s): %s",
		poll.PollNumber, strings.Join(lines, "\n"), strings.Join(top, " "))
}
