// Copyright 2025-2026 Taylan Derstadt
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package session

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/SpotsTheFemboy/BanBotAndOtherModUtils/pkg/metrics"
)

// Supervisor restarts the connect/listen cycle after failures with a fixed
// interval and a bounded attempt budget, after which it gives up and returns
// the last error. The budget does not reset on a successful cycle. No
// exponential backoff, no jitter.
type Supervisor struct {
	connect  func(ctx context.Context) error
	interval time.Duration
	attempts uint64
	log      zerolog.Logger
}

// NewSupervisor wraps a connect/listen cycle. attempts is the total number
// of connect attempts for the process lifetime, the first included.
func NewSupervisor(connect func(ctx context.Context) error, interval time.Duration, attempts uint64, log zerolog.Logger) *Supervisor {
	if attempts < 1 {
		attempts = 1
	}
	return &Supervisor{
		connect:  connect,
		interval: interval,
		attempts: attempts,
		log:      log.With().Str("component", "supervisor").Logger(),
	}
}

// Run blocks until a cycle ends cleanly, the retry budget is exhausted, or
// ctx is canceled.
func (s *Supervisor) Run(ctx context.Context) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewConstantBackOff(s.interval), s.attempts-1),
		ctx,
	)
	first := true
	err := backoff.RetryNotify(
		func() error {
			if !first {
				metrics.Reconnects.Inc()
			}
			first = false
			return s.connect(ctx)
		},
		policy,
		func(err error, next time.Duration) {
			s.log.Error().Err(err).Dur("retry_in", next).Msg("Session ended, reconnecting")
		},
	)
	if err != nil {
		s.log.Error().Err(err).Msg("Giving up on reconnection")
	}
	return err
}
