// Copyright 2025-2026 Taylan Derstadt
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package store

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// BanFile persists the banned user id set as a newline-delimited list.
type BanFile struct {
	path string
}

// NewBanFile returns a ban store backed by the given file path.
func NewBanFile(path string) *BanFile {
	return &BanFile{path: path}
}

// Load reads the ban list. A missing file is an empty list, not an error.
func (f *BanFile) Load() ([]int64, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read ban file: %w", err)
	}

	var ids []int64
	for _, line := range strings.Split(string(data), "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		id, err := strconv.ParseInt(line, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse ban file line %q: %w", line, err)
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// Save rewrites the full ban list.
func (f *BanFile) Save(ids []int64) error {
	var b strings.Builder
	for _, id := range ids {
		b.WriteString(strconv.FormatInt(id, 10))
		b.WriteByte('\n')
	}
	return writeAtomic(f.path, []byte(b.String()))
}
