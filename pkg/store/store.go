// Copyright 2025-2026 Taylan Derstadt
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package store persists the bot's moderation and poll records as plain
// files. Every mutation rewrites the full file; volume is low enough that an
// embedded database would be overkill, but callers needing more throughput
// can swap in one behind the same load/save shape.
package store

import (
	"fmt"
	"os"
	"path/filepath"
)

// writeAtomic writes data to path via a temp file and rename so a crash
// mid-write never leaves a truncated record file behind.
func writeAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write %s: %w", filepath.Base(tmp), err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename %s: %w", filepath.Base(path), err)
	}
	return nil
}
