// Copyright 2025-2026 Taylan Derstadt
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package session

import (
	"encoding/json"
	"fmt"

	"github.com/SpotsTheFemboy/BanBotAndOtherModUtils/pkg/pronto"
)

// Wire-level event names used by the pub/sub backend.
const (
	eventConnEstablished = "pusher:connection_established"
	eventPing            = "pusher:ping"
	eventPong            = "pusher:pong"
	eventSubscribe       = "pusher:subscribe"
	eventUnsubscribe     = "pusher:unsubscribe"
	eventBubbleChanged   = `App\Events\BubbleChanged`
	eventMessageAdded    = `App\Events\MessageAdded`
	eventMarkUpdated     = `App\Events\MarkUpdated`
)

// EventType classifies an inbound frame. Unrecognized event names map to
// EventUnknown so that "ignored" is an explicit branch, not a fallthrough.
type EventType int

const (
	EventUnknown EventType = iota
	EventPing
	EventTopologyChanged
	EventMessageAdded
	EventMarkUpdated
)

func (t EventType) String() string {
	switch t {
	case EventPing:
		return "ping"
	case EventTopologyChanged:
		return "topology_changed"
	case EventMessageAdded:
		return "message_added"
	case EventMarkUpdated:
		return "mark_updated"
	default:
		return "unknown"
	}
}

// InboundEvent is the decoded form of one frame. Only the fields for the
// matching Type are populated.
type InboundEvent struct {
	Type     EventType
	BubbleID int64           // EventTopologyChanged
	Message  *pronto.Message // EventMessageAdded
	UserID   int64           // EventMarkUpdated
}

// frame is the outer envelope of every JSON frame. Data is either a JSON
// object or a JSON-encoded string containing one.
type frame struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// decodeData unmarshals a frame's data field into out, unwrapping the
// string-encoded variant first when present.
func decodeData(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return fmt.Errorf("empty event data")
	}
	if raw[0] == '"' {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return fmt.Errorf("unwrap event data: %w", err)
		}
		raw = json.RawMessage(inner)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decode event data: %w", err)
	}
	return nil
}

// classifyFrame parses one raw JSON frame into an InboundEvent. A malformed
// frame returns an error and is dropped by the caller; the read loop itself
// never stops over a single bad frame.
func classifyFrame(data []byte) (InboundEvent, error) {
	var f frame
	if err := json.Unmarshal(data, &f); err != nil {
		return InboundEvent{}, fmt.Errorf("parse frame: %w", err)
	}

	switch f.Event {
	case eventPing:
		return InboundEvent{Type: EventPing}, nil

	case eventBubbleChanged:
		var change struct {
			Bubble struct {
				ID int64 `json:"id"`
			} `json:"bubble"`
		}
		if err := decodeData(f.Data, &change); err != nil {
			return InboundEvent{}, err
		}
		if change.Bubble.ID == 0 {
			return InboundEvent{}, fmt.Errorf("topology change event without bubble id")
		}
		return InboundEvent{Type: EventTopologyChanged, BubbleID: change.Bubble.ID}, nil

	case eventMessageAdded:
		var added struct {
			Message pronto.Message `json:"message"`
		}
		if err := decodeData(f.Data, &added); err != nil {
			return InboundEvent{}, err
		}
		return InboundEvent{Type: EventMessageAdded, Message: &added.Message}, nil

	case eventMarkUpdated:
		var mark struct {
			UserID int64 `json:"user_id"`
		}
		if err := decodeData(f.Data, &mark); err != nil {
			return InboundEvent{}, err
		}
		return InboundEvent{Type: EventMarkUpdated, UserID: mark.UserID}, nil

	default:
		return InboundEvent{Type: EventUnknown}, nil
	}
}
