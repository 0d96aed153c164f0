// Copyright 2025-2026 Taylan Derstadt
// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

// Package session owns the live connection to the pub/sub event backend: the
// subscription handshake, keep-alive, resubscription after topology changes,
// and dispatch of inbound events to the command router and policy engine.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/SpotsTheFemboy/BanBotAndOtherModUtils/pkg/metrics"
	"github.com/SpotsTheFemboy/BanBotAndOtherModUtils/pkg/pronto"
)

// TransportError wraps a connection-level failure. It triggers the
// reconnection supervisor and never crashes the process.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("transport %s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// errConnClosed is returned for writes attempted after Close tore down the
// connection.
var errConnClosed = errors.New("connection closed")

// Backend is the slice of the chat client the session needs for signing
// subscriptions and refreshing channel descriptors.
type Backend interface {
	GetBubbleInfo(ctx context.Context, bubbleID int64) (*pronto.BubbleInfo, error)
	ChannelAuth(ctx context.Context, bubbleID int64, channelCode, socketID string) (string, error)
	UserAuth(ctx context.Context, socketID string) (string, error)
}

// MessageHandler receives each inbound chat message on its own goroutine.
type MessageHandler interface {
	HandleMessage(ctx context.Context, msg *pronto.Message)
}

// RejoinChecker receives each mark-updated user id on its own goroutine.
type RejoinChecker interface {
	OnUserRejoinDetected(ctx context.Context, userID int64)
}

// Options configures a session.
type Options struct {
	URL              string
	BubbleID         int64
	ChannelCode      string
	UserID           int64
	PingInterval     time.Duration
	HandshakeTimeout time.Duration
}

// Session keeps exactly one logical connection to the event backend alive,
// correctly subscribed, and feeding events to the handlers. The read loop is
// single-threaded; handler work and the keep-alive timer run as independent
// goroutines that the loop never waits on.
type Session struct {
	opts     Options
	backend  Backend
	messages MessageHandler
	rejoins  RejoinChecker
	log      zerolog.Logger

	// channelCode is the current signing code of the bubble channel. It is
	// replaced on resubscription and only touched from the read loop.
	channelCode string
	socketID    string

	writeMu sync.Mutex
	conn    *websocket.Conn

	tasks     sync.WaitGroup
	closeOnce sync.Once
	closed    chan struct{}
}

// New creates a session. ChannelCode is the bubble's current channel code as
// fetched at startup; the session refreshes it itself after topology changes.
func New(opts Options, backend Backend, messages MessageHandler, rejoins RejoinChecker, log zerolog.Logger) *Session {
	return &Session{
		opts:        opts,
		backend:     backend,
		messages:    messages,
		rejoins:     rejoins,
		log:         log.With().Str("component", "session").Logger(),
		channelCode: opts.ChannelCode,
		closed:      make(chan struct{}),
	}
}

// Run performs one full connect/handshake/subscribe/listen cycle and blocks
// until the transport fails or the session is closed. The caller (the
// reconnection supervisor) decides whether to retry.
func (s *Session) Run(ctx context.Context) error {
	// The cycle holds a task slot for its whole lifetime: dispatch goroutines
	// then add against a nonzero counter, and Close's wait covers the read
	// loop as well. Taken under writeMu so it cannot race Close.
	s.writeMu.Lock()
	select {
	case <-s.closed:
		s.writeMu.Unlock()
		return nil
	default:
	}
	s.tasks.Add(1)
	s.writeMu.Unlock()
	defer s.tasks.Done()

	dialer := websocket.Dialer{HandshakeTimeout: s.opts.HandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, s.opts.URL, nil)
	if err != nil {
		return &TransportError{Op: "dial", Err: err}
	}
	defer conn.Close()

	s.writeMu.Lock()
	s.conn = conn
	s.writeMu.Unlock()

	s.handshake(conn)
	s.subscribe(ctx)

	// done stops the keep-alive goroutine when this cycle's read loop exits.
	done := make(chan struct{})
	defer close(done)
	go s.keepAlive(done)

	return s.readLoop(ctx, conn)
}

// handshake waits for the backend's initial frame and extracts the socket
// identifier used to sign subscriptions. A malformed handshake is logged and
// the session proceeds degraded: some event types still work without it.
func (s *Session) handshake(conn *websocket.Conn) {
	_, data, err := conn.ReadMessage()
	if err != nil {
		s.log.Warn().Err(err).Msg("Failed to read handshake frame, proceeding without socket id")
		return
	}

	var f frame
	if err := json.Unmarshal(data, &f); err != nil || f.Event != eventConnEstablished {
		s.log.Warn().Msg("Unexpected handshake frame, proceeding without socket id")
		return
	}
	var inner struct {
		SocketID string `json:"socket_id"`
	}
	if err := decodeData(f.Data, &inner); err != nil || inner.SocketID == "" {
		s.log.Warn().Msg("Handshake frame missing socket id, proceeding without it")
		return
	}

	s.socketID = inner.SocketID
	s.log.Info().Str("socket_id", s.socketID).Msg("Connection established")
}

// subscribe attempts both channel subscriptions. Either one failing is
// logged, not fatal: the session proceeds with whatever succeeded.
func (s *Session) subscribe(ctx context.Context) {
	auth, err := s.backend.ChannelAuth(ctx, s.opts.BubbleID, s.channelCode, s.socketID)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to sign bubble channel subscription")
	} else if err := s.sendSubscribe(s.bubbleChannel(), auth); err != nil {
		s.log.Error().Err(err).Msg("Failed to subscribe to bubble channel")
	}

	userAuth, err := s.backend.UserAuth(ctx, s.socketID)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to sign user channel subscription")
	} else if err := s.sendSubscribe(s.userChannel(), userAuth); err != nil {
		s.log.Error().Err(err).Msg("Failed to subscribe to user channel")
	}
}

func (s *Session) readLoop(ctx context.Context, conn *websocket.Conn) error {
	for {
		select {
		case <-s.closed:
			return nil
		default:
		}

		_, data, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-s.closed:
				return nil
			default:
			}
			return &TransportError{Op: "read", Err: err}
		}

		// Bare text ping, answered with a bare pong.
		if string(data) == "ping" {
			if err := s.writeText("pong"); err != nil {
				s.log.Error().Err(err).Msg("Failed to answer bare ping")
			}
			continue
		}

		evt, err := classifyFrame(data)
		if err != nil {
			metrics.FramesDropped.Inc()
			s.log.Warn().Err(err).Msg("Dropping malformed frame")
			continue
		}
		metrics.EventsReceived.WithLabelValues(evt.Type.String()).Inc()

		switch evt.Type {
		case EventPing:
			if err := s.writeFrame(eventPong, struct{}{}); err != nil {
				s.log.Error().Err(err).Msg("Failed to answer structured ping")
			}

		case EventTopologyChanged:
			if evt.BubbleID != s.opts.BubbleID {
				continue
			}
			s.resubscribe(ctx)

		case EventMessageAdded:
			msg := evt.Message
			s.tasks.Add(1)
			go func() {
				defer s.tasks.Done()
				s.messages.HandleMessage(ctx, msg)
			}()

		case EventMarkUpdated:
			userID := evt.UserID
			s.tasks.Add(1)
			go func() {
				defer s.tasks.Done()
				s.rejoins.OnUserRejoinDetected(ctx, userID)
			}()

		case EventUnknown:
			s.log.Trace().Msg("Ignoring unrecognized event")
		}
	}
}

// resubscribe replaces the stale bubble subscription after a topology
// change: the backend may have rotated the channel's signing code, and
// staying on the old channel silently drops all future events.
func (s *Session) resubscribe(ctx context.Context) {
	s.log.Info().Msg("Topology changed, resubscribing bubble channel")

	if err := s.writeFrame(eventUnsubscribe, subscribeData{Channel: s.bubbleChannel()}); err != nil {
		s.log.Error().Err(err).Msg("Failed to unsubscribe stale channel")
	}

	info, err := s.backend.GetBubbleInfo(ctx, s.opts.BubbleID)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to refresh bubble channel descriptor")
		return
	}
	s.channelCode = info.Bubble.ChannelCode

	auth, err := s.backend.ChannelAuth(ctx, s.opts.BubbleID, s.channelCode, s.socketID)
	if err != nil {
		s.log.Error().Err(err).Msg("Failed to re-sign bubble channel subscription")
		return
	}
	if err := s.sendSubscribe(s.bubbleChannel(), auth); err != nil {
		s.log.Error().Err(err).Msg("Failed to resubscribe bubble channel")
		return
	}

	metrics.Resubscribes.Inc()
	s.log.Info().Int64("bubble_id", s.opts.BubbleID).Msg("Resubscribed to bubble channel")
}

// keepAlive sends a periodic ping for the lifetime of the connection. Write
// errors after the transport closes are expected and only logged.
func (s *Session) keepAlive(done <-chan struct{}) {
	ticker := time.NewTicker(s.opts.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := s.writeFrame(eventPing, struct{}{}); err != nil {
				s.log.Debug().Err(err).Msg("Keep-alive ping failed")
				return
			}
		case <-done:
			return
		case <-s.closed:
			return
		}
	}
}

// Close tears down the connection and drains all in-flight handler
// goroutines. Safe to call more than once.
func (s *Session) Close() {
	s.closeOnce.Do(func() {
		close(s.closed)
	})
	s.writeMu.Lock()
	if s.conn != nil {
		s.conn.Close()
		s.conn = nil
	}
	s.writeMu.Unlock()
	s.tasks.Wait()
}

func (s *Session) bubbleChannel() string {
	return fmt.Sprintf("private-bubble.%d.%s", s.opts.BubbleID, s.channelCode)
}

func (s *Session) userChannel() string {
	return fmt.Sprintf("private-user.%d", s.opts.UserID)
}

// subscribeData is the payload of subscribe/unsubscribe frames.
type subscribeData struct {
	Channel string `json:"channel"`
	Auth    string `json:"auth,omitempty"`
}

func (s *Session) sendSubscribe(channel, auth string) error {
	return s.writeFrame(eventSubscribe, subscribeData{Channel: channel, Auth: auth})
}

// writeFrame serializes writes: gorilla connections do not allow concurrent
// writers and the keep-alive timer shares the connection with the read loop.
func (s *Session) writeFrame(event string, data any) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn == nil {
		return &TransportError{Op: "write", Err: errConnClosed}
	}
	return s.conn.WriteJSON(struct {
		Event string `json:"event"`
		Data  any    `json:"data"`
	}{Event: event, Data: data})
}

func (s *Session) writeText(text string) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	if s.conn == nil {
		return &TransportError{Op: "write", Err: errConnClosed}
	}
	return s.conn.WriteMessage(websocket.TextMessage, []byte(text))
}
