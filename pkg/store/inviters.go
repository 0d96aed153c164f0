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

// InviteCounter tracks how many times a user's invite links were implicated
// in a banned-user rejoin. The count only grows until the user is banned.
type InviteCounter struct {
	UserID int64 `json:"user_id"`
	Count  int   `json:"count"`
}

// InviterFile persists the invite-offense counter table as a JSON array.
type InviterFile struct {
	path string
}

// NewInviterFile returns a counter store backed by the given file path.
func NewInviterFile(path string) *InviterFile {
	return &InviterFile{path: path}
}

// Load reads the counter table. A missing file is an empty table.
func (f *InviterFile) Load() ([]InviteCounter, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read inviter file: %w", err)
	}
	var counters []InviteCounter
	if err := json.Unmarshal(data, &counters); err != nil {
		return nil, fmt.Errorf("parse inviter file: %w", err)
	}
	return counters, nil
}

// Save rewrites the full counter table.
func (f *InviterFile) Save(counters []InviteCounter) error {
	if counters == nil {
		counters = []InviteCounter{}
	}
	data, err := json.MarshalIndent(counters, "", "  ")
	if err != nil {
		return fmt.Errorf("encode inviter file: %w", err)
	}
	return writeAtomic(f.path, data)
}
