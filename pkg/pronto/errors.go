// Copyright 2025-2026 Taylan Derstadt
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package pronto

import "fmt"

// BackendError is returned for any non-2xx response from the chat backend,
// and for transport-level failures that produced no response at all (in which
// case StatusCode is zero).
type BackendError struct {
	StatusCode int
	Message    string
}

func (e *BackendError) Error() string {
	if e.StatusCode == 0 {
		return fmt.Sprintf("backend request failed: %s", e.Message)
	}
	return fmt.Sprintf("backend returned %d: %s", e.StatusCode, e.Message)
}

// IsAuthFailure reports whether the error is an authentication or
// authorization rejection. Auth failures on the signed-auth routines are
// recoverable: they surface to the reconnection supervisor like any other
// backend error instead of halting the process.
func (e *BackendError) IsAuthFailure() bool {
	return e.StatusCode == 401 || e.StatusCode == 403
}
