// Copyright 2025-2026 Taylan Derstadt
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package config loads the bot configuration from a YAML file with
// environment overrides. The resulting struct is built once at startup and
// handed to each component constructor; nothing reads configuration through
// package-level state afterwards.
package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

// Config is the complete bot configuration.
type Config struct {
	APIBaseURL    string `mapstructure:"api_base_url"`
	AccessToken   string `mapstructure:"access_token"`
	UserID        int64  `mapstructure:"user_id"`
	BubbleID      int64  `mapstructure:"bubble_id"`
	AdminBubbleID int64  `mapstructure:"admin_bubble_id"`
	OrgID         int64  `mapstructure:"org_id"`
	DataDir       string `mapstructure:"data_dir"`
	MetricsAddr   string `mapstructure:"metrics_addr"`

	Session    SessionConfig    `mapstructure:"session"`
	Moderation ModerationConfig `mapstructure:"moderation"`
}

// SessionConfig tunes the live event session and its supervisor.
type SessionConfig struct {
	WebSocketURL         string `mapstructure:"websocket_url"`
	PingInterval         int    `mapstructure:"ping_interval"`          // seconds
	HandshakeTimeout     int    `mapstructure:"handshake_timeout"`      // seconds
	ReconnectBackoff     int    `mapstructure:"reconnect_backoff"`      // seconds
	MaxReconnectAttempts int    `mapstructure:"max_reconnect_attempts"` // total connect attempts per process
}

// ModerationConfig tunes the invite-abuse policy.
type ModerationConfig struct {
	BanThreshold int `mapstructure:"ban_threshold"`
}

// Load reads the configuration from the given file (or ./config.yaml when
// path is empty), applies BANBOT_-prefixed environment overrides, and
// validates the result.
func Load(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./configs")
	}

	v.SetEnvPrefix("BANBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	// The access token is a secret and normally arrives via environment.
	_ = v.BindEnv("access_token", "BANBOT_ACCESS_TOKEN")

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("data_dir", ".")
	v.SetDefault("metrics_addr", "")
	v.SetDefault("session.ping_interval", 30)
	v.SetDefault("session.handshake_timeout", 10)
	v.SetDefault("session.reconnect_backoff", 5)
	v.SetDefault("session.max_reconnect_attempts", 3)
	v.SetDefault("moderation.ban_threshold", 5)
}
