// Copyright 2025-2026 Taylan Derstadt
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package metrics exposes Prometheus counters for the bot's event and
// moderation activity.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"
)

var (
	// Session metrics
	EventsReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "banbot_events_received_total",
		Help: "The total number of inbound events received, by event type.",
	}, []string{"type"})
	FramesDropped = promauto.NewCounter(prometheus.CounterOpts{
		Name: "banbot_frames_dropped_total",
		Help: "The total number of inbound frames dropped as malformed.",
	})
	Reconnects = promauto.NewCounter(prometheus.CounterOpts{
		Name: "banbot_reconnects_total",
		Help: "The total number of reconnect attempts made by the supervisor.",
	})
	Resubscribes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "banbot_resubscribes_total",
		Help: "The total number of channel resubscriptions after topology changes.",
	})

	// Moderation metrics
	BansIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "banbot_bans_issued_total",
		Help: "The total number of users added to the ban list.",
	})
	KicksIssued = promauto.NewCounter(prometheus.CounterOpts{
		Name: "banbot_kicks_issued_total",
		Help: "The total number of kick requests sent to the backend.",
	})
	InvitesDeleted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "banbot_invites_deleted_total",
		Help: "The total number of invite links revoked.",
	})

	// Command metrics
	CommandsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "banbot_commands_processed_total",
		Help: "The total number of owner commands executed, by command.",
	}, []string{"command"})
)

// StartServer serves the Prometheus scrape endpoint on addr in the
// background. A serve failure is logged, not fatal: metrics are a sidecar
// concern for this bot.
func StartServer(addr string, log zerolog.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	log.Info().Str("addr", addr).Msg("Starting metrics server")
	go func() {
		if err := http.ListenAndServe(addr, mux); err != nil {
			log.Error().Err(err).Msg("Metrics server stopped")
		}
	}()
}
