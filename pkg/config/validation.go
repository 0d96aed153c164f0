// Copyright 2025-2026 Taylan Derstadt
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package config

import "errors"

func (c *Config) Validate() error {
	if c.APIBaseURL == "" {
		return errors.New("api_base_url must be set")
	}
	if c.AccessToken == "" {
		return errors.New("access_token must be set (BANBOT_ACCESS_TOKEN)")
	}
	if c.UserID == 0 {
		return errors.New("user_id must be set")
	}
	if c.BubbleID == 0 {
		return errors.New("bubble_id must be set")
	}
	if c.AdminBubbleID == 0 {
		return errors.New("admin_bubble_id must be set")
	}
	if c.Session.WebSocketURL == "" {
		return errors.New("session.websocket_url must be set")
	}
	if c.Session.PingInterval < 1 {
		return errors.New("session.ping_interval must be at least 1 second")
	}
	if c.Session.HandshakeTimeout < 1 {
		return errors.New("session.handshake_timeout must be at least 1 second")
	}
	if c.Session.MaxReconnectAttempts < 1 {
		return errors.New("session.max_reconnect_attempts must be positive")
	}
	if c.Moderation.BanThreshold < 1 {
		return errors.New("moderation.ban_threshold must be positive")
	}
	return nil
}
