// Copyright 2025-2026 Taylan Derstadt
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Command banbot is a moderation and engagement bot for a group-chat
// platform. It keeps a live subscription to the chat's pub/sub backend,
// enforces the invite-abuse ban policy, and serves owner-issued commands for
// pinning, banning, and poll-taking.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/SpotsTheFemboy/BanBotAndOtherModUtils/pkg/bot"
	"github.com/SpotsTheFemboy/BanBotAndOtherModUtils/pkg/config"
	"github.com/SpotsTheFemboy/BanBotAndOtherModUtils/pkg/metrics"
	"github.com/SpotsTheFemboy/BanBotAndOtherModUtils/pkg/moderation"
	"github.com/SpotsTheFemboy/BanBotAndOtherModUtils/pkg/pronto"
	"github.com/SpotsTheFemboy/BanBotAndOtherModUtils/pkg/session"
	"github.com/SpotsTheFemboy/BanBotAndOtherModUtils/pkg/store"
)

// These are filled at build time with -ldflags.
var (
	Tag       = "unknown"
	Commit    = "unknown"
	BuildTime = "unknown"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:          "banbot",
	Short:        "Group-chat moderation and poll bot",
	Version:      fmt.Sprintf("%s (%s, built %s)", Tag, Commit, BuildTime),
	SilenceUsage: true,
	RunE:         run,
}

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "path to the config file (default ./config.yaml)")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func run(cmd *cobra.Command, _ []string) error {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}).
		With().Timestamp().Logger()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	client := pronto.NewClient(cfg.APIBaseURL, cfg.AccessToken, cfg.UserID, log)

	info, err := client.GetBubbleInfo(ctx, cfg.BubbleID)
	if err != nil {
		return fmt.Errorf("fetch bubble info: %w", err)
	}
	owners := info.Bubble.OwnerIDs()
	log.Info().Int64("bubble_id", cfg.BubbleID).Ints64("owners", owners).
		Str("channel_code", info.Bubble.ChannelCode).Msg("Loaded bubble info")

	banFile := store.NewBanFile(filepath.Join(cfg.DataDir, "bans.txt"))
	bans, err := banFile.Load()
	if err != nil {
		return err
	}
	inviterFile := store.NewInviterFile(filepath.Join(cfg.DataDir, "inviters.json"))
	counters, err := inviterFile.Load()
	if err != nil {
		return err
	}
	pollFile := store.NewPollFile(filepath.Join(cfg.DataDir, "polls.json"))
	polls, err := pollFile.Load()
	if err != nil {
		return err
	}

	engine := moderation.NewEngine(client, banFile, inviterFile,
		cfg.BubbleID, cfg.AdminBubbleID, cfg.Moderation.BanThreshold, bans, counters, log)
	engine.SweepInvites(ctx)
	router := bot.NewRouter(client, engine, pollFile,
		cfg.BubbleID, cfg.UserID, owners, polls, log)

	if cfg.MetricsAddr != "" {
		metrics.StartServer(cfg.MetricsAddr, log)
	}

	supervisor := session.NewSupervisor(
		func(ctx context.Context) error {
			// The channel code may have rotated while disconnected, so every
			// cycle starts from a fresh descriptor.
			info, err := client.GetBubbleInfo(ctx, cfg.BubbleID)
			if err != nil {
				return fmt.Errorf("refresh bubble info: %w", err)
			}
			sess := session.New(session.Options{
				URL:              cfg.Session.WebSocketURL,
				BubbleID:         cfg.BubbleID,
				ChannelCode:      info.Bubble.ChannelCode,
				UserID:           cfg.UserID,
				PingInterval:     time.Duration(cfg.Session.PingInterval) * time.Second,
				HandshakeTimeout: time.Duration(cfg.Session.HandshakeTimeout) * time.Second,
			}, client, router, engine, log)
			defer sess.Close()
			return sess.Run(ctx)
		},
		time.Duration(cfg.Session.ReconnectBackoff)*time.Second,
		uint64(cfg.Session.MaxReconnectAttempts),
		log,
	)

	err = supervisor.Run(ctx)
	if errors.Is(err, context.Canceled) {
		log.Info().Msg("Shutting down")
		return nil
	}
	return err
}
