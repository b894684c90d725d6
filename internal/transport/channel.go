// SPDX-FileCopyrightText: 2026 Nextcloud GmbH and Nextcloud contributors
// SPDX-License-Identifier: AGPL-3.0-or-later

package transport

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nextcloud/go_speaker_client/internal/constants"
	"github.com/nextcloud/go_speaker_client/internal/protocol"
)

var (
	ErrNotConnected = errors.New("channel is not connected")
	ErrAlreadyOpen  = errors.New("channel already opened")
)

// Handler receives channel lifecycle and inbound events. Calls are made from
// a single goroutine in arrival order.
type Handler interface {
	OnOpen()
	OnEvent(ev protocol.Event)
	OnClose(err error)
}

// Channel is the JSON framed websocket to the speaker server. It is opened
// once; a closed channel is not reconnected.
type Channel struct {
	mu sync.Mutex // serialises writes

	wsURL    string
	skipCert bool
	handler  Handler

	conn      *websocket.Conn
	opened    atomic.Bool
	connected atomic.Bool
	closeOnce sync.Once
	done      chan struct{}

	logger *slog.Logger
}

func NewChannel(wsURL string, skipCertVerify bool, handler Handler) *Channel {
	return &Channel{
		wsURL:    wsURL,
		skipCert: skipCertVerify,
		handler:  handler,
		done:     make(chan struct{}),
		logger:   slog.With("component", "channel", "url", wsURL),
	}
}

// Open dials the server, reports OnOpen and starts delivering inbound events.
func (c *Channel) Open(ctx context.Context) error {
	if !c.opened.CompareAndSwap(false, true) {
		return ErrAlreadyOpen
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: constants.WSHandshakeTimeout,
	}
	if c.skipCert {
		dialer.TLSClientConfig = &tls.Config{InsecureSkipVerify: true}
	}

	conn, _, err := dialer.DialContext(ctx, c.wsURL, nil)
	if err != nil {
		c.logger.Error("failed to connect to speaker server", "error", err)
		c.shutdown(err)
		return fmt.Errorf("websocket dial: %w", err)
	}
	conn.SetReadLimit(constants.MaxInboundFrameSize)

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)

	c.logger.Info("connected to speaker server")
	c.handler.OnOpen()

	go c.monitor()
	return nil
}

func (c *Channel) IsConnected() bool {
	return c.connected.Load()
}

// Done is closed once the channel has shut down and OnClose has returned.
func (c *Channel) Done() <-chan struct{} {
	return c.done
}

// Send writes one command frame. Callers check IsConnected first; there is
// no queueing.
func (c *Channel) Send(frame protocol.CommandFrame) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}

	data, err := json.Marshal(frame)
	if err != nil {
		return fmt.Errorf("marshal frame: %w", err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn == nil {
		return ErrNotConnected
	}
	c.conn.SetWriteDeadline(time.Now().Add(constants.WSWriteTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		c.logger.Error("failed to send frame", "error", err, "task", frame.Task)
		return fmt.Errorf("write frame: %w", err)
	}
	return nil
}

// Close tears the connection down; OnClose follows from the monitor.
func (c *Channel) Close() {
	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()

	if conn == nil {
		c.shutdown(nil)
		return
	}

	c.connected.Store(false)
	c.mu.Lock()
	conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	c.mu.Unlock()
	conn.Close()
}

func (c *Channel) monitor() {
	c.logger.Debug("channel monitor started")
	defer c.logger.Debug("channel monitor stopped")

	for {
		msgType, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || !c.connected.Load() {
				c.shutdown(nil)
			} else {
				c.logger.Error("websocket error in monitor, closing", "error", err)
				c.shutdown(err)
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}

		ev, err := protocol.ParseEvent(data)
		if err != nil {
			c.logger.Warn("dropping inbound frame", "error", err)
			continue
		}
		if u, ok := ev.(protocol.UnknownEvent); ok {
			c.logger.Debug("ignoring frame with unknown task", "task", u.Task)
			continue
		}
		c.handler.OnEvent(ev)
	}
}

func (c *Channel) shutdown(err error) {
	c.closeOnce.Do(func() {
		c.connected.Store(false)
		c.mu.Lock()
		if c.conn != nil {
			c.conn.Close()
		}
		c.mu.Unlock()
		c.logger.Info("channel closed")
		c.handler.OnClose(err)
		close(c.done)
	})
}
