// Copyright 2025-2026 Taylan Derstadt
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package pronto

// User is the message author as embedded in message payloads.
type User struct {
	ID        int64  `json:"id"`
	FirstName string `json:"firstname"`
	LastName  string `json:"lastname"`
}

// MessageMedia is an attachment reference on a message.
type MessageMedia struct {
	URL  string `json:"url"`
	Type string `json:"type"`
}

// Reaction is an aggregated reaction entry on a message.
type Reaction struct {
	Emoji string  `json:"emoji"`
	Count int     `json:"count"`
	Users []int64 `json:"users"`
}

// Message is a single chat message as returned by the backend.
type Message struct {
	ID           int64          `json:"id"`
	Message      string         `json:"message"`
	UserID       int64          `json:"user_id"`
	CreatedAt    string         `json:"created_at"`
	User         User           `json:"user"`
	MessageMedia []MessageMedia `json:"messagemedia"`
	Reactions    []Reaction     `json:"reactions"`
}

// MessageRef is the envelope returned by message.create.
type MessageRef struct {
	Message Message `json:"message"`
}

// PinnedMessage is the currently pinned message of a bubble, if any.
type PinnedMessage struct {
	ID      int64  `json:"id"`
	UserID  int64  `json:"user_id"`
	Message string `json:"message"`
}

// Membership is one member row in a bubble's membership list.
type Membership struct {
	UserID int64  `json:"user_id"`
	Role   string `json:"role"`
}

// Bubble describes a group conversation: its pub/sub channel code, member
// roles, and pinned message.
type Bubble struct {
	ID            int64          `json:"id"`
	Title         string         `json:"title"`
	ChannelCode   string         `json:"channelcode"`
	Memberships   []Membership   `json:"memberships"`
	PinnedMessage *PinnedMessage `json:"pinned_message"`
}

// BubbleInfo is the envelope returned by bubble.info.
type BubbleInfo struct {
	Bubble Bubble `json:"bubble"`
}

// OwnerIDs returns the user ids of all members with the owner role.
func (b *Bubble) OwnerIDs() []int64 {
	var owners []int64
	for _, m := range b.Memberships {
		if m.Role == "owner" {
			owners = append(owners, m.UserID)
		}
	}
	return owners
}

// Thread is the envelope returned by bubble.history for a thread lookup.
type Thread struct {
	Messages       []Message `json:"messages"`
	ParentMessages []Message `json:"parentmessages"`
}

// Invite is one pending invite link for a bubble. UserID is the creator.
type Invite struct {
	Code   string `json:"code"`
	UserID int64  `json:"user_id"`
}

// DM is the envelope returned by dm.create.
type DM struct {
	Bubble Bubble `json:"bubble"`
}
