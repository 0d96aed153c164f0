// Copyright 2025-2026 Taylan Derstadt
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package session

import "testing"

// TestClassifyFrame_StructuredPing verifies the structured ping variant is
// recognized.
func TestClassifyFrame_StructuredPing(t *testing.T) {
	t.Parallel()
	evt, err := classifyFrame([]byte(`{"event":"pusher:ping","data":{}}`))
	if err != nil {
		t.Fatalf("classifyFrame: %v", err)
	}
	if evt.Type != EventPing {
		t.Errorf("type: got %v, want EventPing", evt.Type)
	}
}

// TestClassifyFrame_TopologyChanged_StringData verifies the string-encoded
// data variant unwraps to the changed bubble id.
func TestClassifyFrame_TopologyChanged_StringData(t *testing.T) {
	t.Parallel()
	raw := `{"event":"App\\Events\\BubbleChanged","data":"{\"bubble\":{\"id\":3832006}}"}`
	evt, err := classifyFrame([]byte(raw))
	if err != nil {
		t.Fatalf("classifyFrame: %v", err)
	}
	if evt.Type != EventTopologyChanged || evt.BubbleID != 3832006 {
		t.Errorf("event: got %+v, want TopologyChanged for 3832006", evt)
	}
}

// TestClassifyFrame_TopologyChanged_ObjectData verifies the object-encoded
// data variant also decodes.
func TestClassifyFrame_TopologyChanged_ObjectData(t *testing.T) {
	t.Parallel()
	raw := `{"event":"App\\Events\\BubbleChanged","data":{"bubble":{"id":42}}}`
	evt, err := classifyFrame([]byte(raw))
	if err != nil {
		t.Fatalf("classifyFrame: %v", err)
	}
	if evt.Type != EventTopologyChanged || evt.BubbleID != 42 {
		t.Errorf("event: got %+v, want TopologyChanged for 42", evt)
	}
}

// TestClassifyFrame_TopologyChanged_MissingID verifies a change event
// without a bubble id is rejected as malformed.
func TestClassifyFrame_TopologyChanged_MissingID(t *testing.T) {
	t.Parallel()
	raw := `{"event":"App\\Events\\BubbleChanged","data":{"bubble":{}}}`
	if _, err := classifyFrame([]byte(raw)); err == nil {
		t.Error("expected error for change event without bubble id")
	}
}

// TestClassifyFrame_MessageAdded verifies message fields are extracted from
// the string-encoded payload.
func TestClassifyFrame_MessageAdded(t *testing.T) {
	t.Parallel()
	raw := `{"event":"App\\Events\\MessageAdded","data":"{\"message\":{\"id\":55,\"message\":\"!ban <@7>\",\"user_id\":9,\"user\":{\"id\":9,\"firstname\":\"A\",\"lastname\":\"B\"}}}"}`
	evt, err := classifyFrame([]byte(raw))
	if err != nil {
		t.Fatalf("classifyFrame: %v", err)
	}
	if evt.Type != EventMessageAdded {
		t.Fatalf("type: got %v, want EventMessageAdded", evt.Type)
	}
	if evt.Message.ID != 55 || evt.Message.Message != "!ban <@7>" || evt.Message.UserID != 9 {
		t.Errorf("message: got %+v", evt.Message)
	}
}

// TestClassifyFrame_MarkUpdated verifies the acting user id is extracted.
func TestClassifyFrame_MarkUpdated(t *testing.T) {
	t.Parallel()
	raw := `{"event":"App\\Events\\MarkUpdated","data":"{\"user_id\":777}"}`
	evt, err := classifyFrame([]byte(raw))
	if err != nil {
		t.Fatalf("classifyFrame: %v", err)
	}
	if evt.Type != EventMarkUpdated || evt.UserID != 777 {
		t.Errorf("event: got %+v, want MarkUpdated for 777", evt)
	}
}

// TestClassifyFrame_UnknownName verifies unrecognized event names map to the
// explicit Unknown variant instead of an error.
func TestClassifyFrame_UnknownName(t *testing.T) {
	t.Parallel()
	evt, err := classifyFrame([]byte(`{"event":"App\\Events\\SomethingNew","data":{}}`))
	if err != nil {
		t.Fatalf("classifyFrame: %v", err)
	}
	if evt.Type != EventUnknown {
		t.Errorf("type: got %v, want EventUnknown", evt.Type)
	}
}

// TestClassifyFrame_MalformedJSON verifies garbage frames produce an error
// for the caller to drop.
func TestClassifyFrame_MalformedJSON(t *testing.T) {
	t.Parallel()
	if _, err := classifyFrame([]byte(`{"event":`)); err == nil {
		t.Error("expected error for malformed frame")
	}
}

// TestClassifyFrame_MalformedInnerData verifies a valid envelope with
// corrupt inner data is rejected without affecting other frames.
func TestClassifyFrame_MalformedInnerData(t *testing.T) {
	t.Parallel()
	raw := `{"event":"App\\Events\\MessageAdded","data":"not json"}`
	if _, err := classifyFrame([]byte(raw)); err == nil {
		t.Error("expected error for corrupt inner data")
	}
}

// TestEventTypeString covers the metric label names.
func TestEventTypeString(t *testing.T) {
	t.Parallel()
	cases := map[EventType]string{
		EventPing:            "ping",
		EventTopologyChanged: "topology_changed",
		EventMessageAdded:    "message_added",
		EventMarkUpdated:     "mark_updated",
		EventUnknown:         "unknown",
	}
	for typ, want := range cases {
		if got := typ.String(); got != want {
			t.Errorf("String(%d): got %q, want %q", typ, got, want)
		}
	}
}
