// Copyright 2025-2026 Taylan Derstadt
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package store

import (
	"encoding/json"
	"fmt"
	"os"
)

// PollKind selects between a seeded yes/no poll and an open-ended one.
type PollKind string

const (
	PollBinary PollKind = "binary"
	PollOpen   PollKind = "open"
)

// Poll is one recorded poll. Numbers are 1-based and contiguous: the next
// poll's number is always the stored count plus one, and polls are never
// deleted.
type Poll struct {
	PollNumber      int      `json:"poll_number"`
	Prompt          string   `json:"prompt"`
	Message         string   `json:"message"`
	AnchorMessageID int64    `json:"anchor_message_id"`
	Kind            PollKind `json:"kind"`
}

// PollFile persists the poll records as a JSON array.
type PollFile struct {
	path string
}

// NewPollFile returns a poll store backed by the given file path.
func NewPollFile(path string) *PollFile {
	return &PollFile{path: path}
}

// Load reads all recorded polls. A missing file is an empty list.
func (f *PollFile) Load() ([]Poll, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read poll file: %w", err)
	}
	var polls []Poll
	if err := json.Unmarshal(data, &polls); err != nil {
		return nil, fmt.Errorf("parse poll file: %w", err)
	}
	return polls, nil
}

// Save rewrites the full poll list.
func (f *PollFile) Save(polls []Poll) error {
	if polls == nil {
		polls = []Poll{}
	}
	data, err := json.MarshalIndent(polls, "", "  ")
	if err != nil {
		return fmt.Errorf("encode poll file: %w", err)
	}
	return writeAtomic(f.path, data)
}
