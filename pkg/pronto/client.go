// Copyright 2025-2026 Taylan Derstadt
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package pronto is a thin authenticated client for the chat backend's REST
// API. Every method is a one-call wrapper around a single endpoint; all
// non-2xx responses surface as *BackendError.
package pronto

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.mau.fi/util/exsync"
)

const (
	timestampFormat    = "2006-01-02 15:04:05"
	invalidDataMessage = "The given data was invalid."
)

// Client issues authenticated requests to the chat backend.
type Client struct {
	baseURL string
	token   string
	userID  int64
	http    *http.Client
	log     zerolog.Logger

	// dm.create is idempotent per peer, so resolved DM bubble ids are cached
	// for the lifetime of the process.
	dmCache *exsync.Map[int64, int64]
}

// NewClient creates a backend client. baseURL must not have a trailing slash.
func NewClient(baseURL, token string, userID int64, log zerolog.Logger) *Client {
	return &Client{
		baseURL: baseURL,
		token:   token,
		userID:  userID,
		http:    &http.Client{Timeout: 30 * time.Second},
		log:     log.With().Str("component", "pronto_client").Logger(),
		dmCache: exsync.NewMap[int64, int64](),
	}
}

func (c *Client) do(ctx context.Context, method, path string, payload, out any) error {
	var body io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("encode %s payload: %w", path, err)
		}
		body = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("build %s request: %w", path, err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(req)
	if err != nil {
		return &BackendError{Message: err.Error()}
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return &BackendError{StatusCode: resp.StatusCode, Message: err.Error()}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return &BackendError{StatusCode: resp.StatusCode, Message: apiMessage(data)}
	}
	if out != nil && len(data) > 0 {
		if err := json.Unmarshal(data, out); err != nil {
			return fmt.Errorf("decode %s response: %w", path, err)
		}
	}
	return nil
}

func (c *Client) post(ctx context.Context, path string, payload, out any) error {
	return c.do(ctx, http.MethodPost, path, payload, out)
}

// apiMessage extracts the backend's human-readable error message from an
// error response body, falling back to the raw body.
func apiMessage(data []byte) string {
	var envelope struct {
		Message string `json:"message"`
	}
	if err := json.Unmarshal(data, &envelope); err == nil && envelope.Message != "" {
		return envelope.Message
	}
	if len(data) > 200 {
		data = data[:200]
	}
	return string(data)
}

// SendMessage posts a new message to a bubble and returns the created
// message. mediaKeys may be nil.
func (c *Client) SendMessage(ctx context.Context, text string, bubbleID int64, mediaKeys []string) (*MessageRef, error) {
	if mediaKeys == nil {
		mediaKeys = []string{}
	}
	payload := map[string]any{
		"id":                   "Null",
		"uuid":                 uuid.NewString(),
		"bubble_id":            bubbleID,
		"message":              text,
		"created_at":           time.Now().UTC().Format(timestampFormat),
		"user_id":              c.userID,
		"attachment_file_keys": mediaKeys,
	}
	var ref MessageRef
	if err := c.post(ctx, "/api/v1/message.create", payload, &ref); err != nil {
		return nil, err
	}
	return &ref, nil
}

// EditMessage replaces the text of an existing message.
func (c *Client) EditMessage(ctx context.Context, messageID int64, text string) error {
	payload := map[string]any{
		"message":    text,
		"message_id": messageID,
	}
	return c.post(ctx, "/api/v1/message.edit", payload, nil)
}

// DeleteMessage removes a message.
func (c *Client) DeleteMessage(ctx context.Context, messageID int64) error {
	payload := map[string]any{"message_id": messageID}
	return c.post(ctx, "/api/v1/message.delete", payload, nil)
}

// PinMessage pins a message until expiresAt ("2006-01-02 15:04:05" in UTC).
func (c *Client) PinMessage(ctx context.Context, messageID int64, expiresAt string) error {
	payload := map[string]any{
		"pinned_message_id":         messageID,
		"pinned_message_expires_at": expiresAt,
	}
	return c.post(ctx, "/api/v1/bubble.update", payload, nil)
}

// SendReaction adds an emoji reaction to a message. Some emoji are only
// accepted by the backend with a trailing variation selector, so a rejected
// reaction is retried once with U+FE0F appended.
func (c *Client) SendReaction(ctx context.Context, emoji string, messageID int64) error {
	if err := c.sendReactionOnce(ctx, emoji, messageID); err != nil {
		if !isInvalidData(err) {
			return err
		}
		retry := emoji + "️"
		c.log.Debug().Str("emoji", retry).Int64("message_id", messageID).
			Msg("Reaction rejected, retrying with variation selector")
		return c.sendReactionOnce(ctx, retry, messageID)
	}
	return nil
}

func (c *Client) sendReactionOnce(ctx context.Context, emoji string, messageID int64) error {
	path := fmt.Sprintf("/api/clients/messages/%d/reactions", messageID)
	var result struct {
		Message string `json:"message"`
	}
	if err := c.post(ctx, path, map[string]any{"emoji": emoji}, &result); err != nil {
		return err
	}
	if result.Message == invalidDataMessage {
		return &BackendError{StatusCode: http.StatusUnprocessableEntity, Message: result.Message}
	}
	return nil
}

func isInvalidData(err error) bool {
	var be *BackendError
	return errors.As(err, &be) && be.Message == invalidDataMessage
}

// GetBubbleInfo fetches a bubble's channel code, memberships, and pinned
// message.
func (c *Client) GetBubbleInfo(ctx context.Context, bubbleID int64) (*BubbleInfo, error) {
	var info BubbleInfo
	if err := c.post(ctx, "/api/v2/bubble.info", map[string]any{"bubble_id": bubbleID}, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

// GetThread fetches the thread rooted at a message, including the parent
// messages with their reaction tallies.
func (c *Client) GetThread(ctx context.Context, bubbleID, messageID int64) (*Thread, error) {
	payload := map[string]any{
		"bubble_id": bubbleID,
		"thread_id": messageID,
	}
	var thread Thread
	if err := c.post(ctx, "/api/v1/bubble.history", payload, &thread); err != nil {
		return nil, err
	}
	return &thread, nil
}

// KickUsers removes the given users from a bubble.
func (c *Client) KickUsers(ctx context.Context, bubbleID int64, userIDs []int64) error {
	payload := map[string]any{
		"bubble_id": bubbleID,
		"users":     userIDs,
	}
	return c.post(ctx, "/api/v1/bubble.kick", payload, nil)
}

// AddMembers adds the given users back to a bubble.
func (c *Client) AddMembers(ctx context.Context, bubbleID int64, userIDs []int64) error {
	path := fmt.Sprintf("/api/clients/chats/%d/memberships/batch", bubbleID)
	return c.post(ctx, path, map[string]any{"user_ids": userIDs}, nil)
}

// ListInvites returns all pending invite links for a bubble.
func (c *Client) ListInvites(ctx context.Context, bubbleID int64) ([]Invite, error) {
	path := fmt.Sprintf("/api/clients/groups/%d/invites", bubbleID)
	var envelope struct {
		Data []Invite `json:"data"`
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &envelope); err != nil {
		return nil, err
	}
	return envelope.Data, nil
}

// DeleteInvite revokes a single invite link by code.
func (c *Client) DeleteInvite(ctx context.Context, code string) error {
	return c.do(ctx, http.MethodDelete, "/api/clients/invites/"+code, nil, nil)
}

// CreateDM returns the bubble id of a direct-message conversation with the
// given user, creating it if needed. Results are cached per user.
func (c *Client) CreateDM(ctx context.Context, userID, orgID int64) (int64, error) {
	if id, ok := c.dmCache.Get(userID); ok {
		return id, nil
	}
	payload := map[string]any{
		"organization_id": orgID,
		"user_id":         userID,
	}
	var dm DM
	if err := c.post(ctx, "/api/v1/dm.create", payload, &dm); err != nil {
		return 0, err
	}
	c.dmCache.Set(userID, dm.Bubble.ID)
	return dm.Bubble.ID, nil
}

// MarkBubble marks a bubble as read up to the given message. messageID may
// be zero to mark the whole bubble.
func (c *Client) MarkBubble(ctx context.Context, bubbleID, messageID int64) error {
	payload := map[string]any{"bubble_id": bubbleID}
	if messageID != 0 {
		payload["message_id"] = messageID
	}
	return c.post(ctx, "/api/v1/bubble.mark", payload, nil)
}

// ChannelAuth signs a subscription to a bubble's private channel for the
// given transport socket. The returned token is opaque and single-use.
func (c *Client) ChannelAuth(ctx context.Context, bubbleID int64, channelCode, socketID string) (string, error) {
	return c.pusherAuth(ctx, socketID, fmt.Sprintf("private-bubble.%d.%s", bubbleID, channelCode))
}

// UserAuth signs a subscription to the operator's private user channel.
func (c *Client) UserAuth(ctx context.Context, socketID string) (string, error) {
	return c.pusherAuth(ctx, socketID, fmt.Sprintf("private-user.%d", c.userID))
}

func (c *Client) pusherAuth(ctx context.Context, socketID, channelName string) (string, error) {
	payload := map[string]any{
		"socket_id":    socketID,
		"channel_name": channelName,
	}
	var result struct {
		Auth string `json:"auth"`
	}
	if err := c.post(ctx, "/api/v1/pusher.auth", payload, &result); err != nil {
		return "", err
	}
	return result.Auth, nil
}
