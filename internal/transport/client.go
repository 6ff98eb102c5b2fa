// Package transport owns the single push-event WebSocket session for a
// signed-in user. Connection failures never propagate to callers; they
// are logged and reflected in IsConnected, and reconnection is bounded.
package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"github.com/makereels/sync/internal/model"
)

const (
	handshakeTimeout = 30 * time.Second
	readLimit        = 512 * 1024
	pongWait         = 60 * time.Second
	pingPeriod       = 54 * time.Second
	writeWait        = 10 * time.Second
)

// EventHandler receives every inbound envelope in delivery order
type EventHandler func(env model.Envelope)

// ConnectHandler fires after every successful connect, including reconnects
type ConnectHandler func()

// Subscription is the unsubscribe token returned by OnEvent/OnConnect
type Subscription struct {
	cancel func()
}

// Cancel removes the handler. Safe to call more than once.
func (s *Subscription) Cancel() {
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
}

// Config configures a transport Client
type Config struct {
	URL               string
	Token             string
	ReconnectAttempts int
	ReconnectDelay    time.Duration
	Logger            *logrus.Entry
}

// Client maintains one logical WebSocket session. After Start it keeps
// the session alive through a bounded number of reconnect attempts;
// once those are exhausted it stays disconnected until the owner tears
// it down and builds a new one.
type Client struct {
	url               string
	token             string
	reconnectAttempts int
	reconnectDelay    time.Duration
	log               *logrus.Entry

	mu          sync.RWMutex
	conn        *websocket.Conn
	connected   bool
	closed      bool
	nextSub     int
	eventSubs   map[int]EventHandler
	connectSubs map[int]ConnectHandler

	stopCh chan struct{}
}

func NewClient(cfg Config) *Client {
	if cfg.ReconnectAttempts == 0 {
		cfg.ReconnectAttempts = 5
	}
	if cfg.ReconnectDelay == 0 {
		cfg.ReconnectDelay = 3 * time.Second
	}
	return &Client{
		url:               cfg.URL,
		token:             cfg.Token,
		reconnectAttempts: cfg.ReconnectAttempts,
		reconnectDelay:    cfg.ReconnectDelay,
		log:               cfg.Logger,
		eventSubs:         make(map[int]EventHandler),
		connectSubs:       make(map[int]ConnectHandler),
		stopCh:            make(chan struct{}),
	}
}

// OnEvent registers a handler for inbound envelopes
func (c *Client) OnEvent(h EventHandler) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.eventSubs[id] = h
	return &Subscription{cancel: func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.eventSubs, id)
	}}
}

// OnConnect registers a handler fired on every successful (re)connect
func (c *Client) OnConnect(h ConnectHandler) *Subscription {
	c.mu.Lock()
	defer c.mu.Unlock()
	id := c.nextSub
	c.nextSub++
	c.connectSubs[id] = h
	return &Subscription{cancel: func() {
		c.mu.Lock()
		defer c.mu.Unlock()
		delete(c.connectSubs, id)
	}}
}

// Start runs the session supervisor in the background and returns
// immediately. Dial failures surface only through IsConnected and logs.
func (c *Client) Start(ctx context.Context) {
	go c.supervise(ctx)
}

func (c *Client) supervise(ctx context.Context) {
	attempt := 0
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		default:
		}

		conn, err := c.dial(ctx)
		if err != nil {
			attempt++
			c.log.WithError(err).WithField("attempt", attempt).Warn("WebSocket connect failed")
			if attempt >= c.reconnectAttempts {
				c.log.Error("Reconnect attempts exhausted, staying disconnected")
				return
			}
			select {
			case <-time.After(c.reconnectDelay):
			case <-ctx.Done():
				return
			case <-c.stopCh:
				return
			}
			continue
		}
		attempt = 0

		c.mu.Lock()
		c.conn = conn
		c.connected = true
		connectHandlers := snapshotConnectSubs(c.connectSubs)
		c.mu.Unlock()

		c.log.Info("Connected to push-event channel")
		for _, h := range connectHandlers {
			h()
		}

		writerDone := make(chan struct{})
		go c.writePump(conn, writerDone)
		c.readPump(conn)
		close(writerDone)

		c.mu.Lock()
		c.connected = false
		c.conn = nil
		stopped := c.closed
		c.mu.Unlock()

		if stopped {
			return
		}
		c.log.Warn("Push-event connection dropped, reconnecting")
		select {
		case <-time.After(c.reconnectDelay):
		case <-ctx.Done():
			return
		case <-c.stopCh:
			return
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := &websocket.Dialer{HandshakeTimeout: handshakeTimeout}

	headers := make(http.Header)
	if c.token != "" {
		headers.Set("Authorization", "Bearer "+c.token)
	}

	conn, resp, err := dialer.DialContext(ctx, c.url, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("failed to connect (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("failed to connect: %w", err)
	}
	return conn, nil
}

func (c *Client) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(readLimit)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		var env model.Envelope
		if err := conn.ReadJSON(&env); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.log.WithError(err).Error("WebSocket read error")
			}
			return
		}

		c.mu.RLock()
		handlers := make([]EventHandler, 0, len(c.eventSubs))
		for _, h := range c.eventSubs {
			handlers = append(handlers, h)
		}
		c.mu.RUnlock()

		for _, h := range handlers {
			h(env)
		}
	}
}

func (c *Client) writePump(conn *websocket.Conn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-c.stopCh:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// IsConnected reports whether a live session currently exists
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// Close tears the session down and stops all reconnection. Idempotent.
func (c *Client) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.stopCh)
	conn := c.conn
	c.mu.Unlock()

	if conn != nil {
		conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(writeWait))
		conn.Close()
	}
}

// BuildURL turns an http(s) base URL and path into the ws(s) endpoint
func BuildURL(baseURL, path string) string {
	u, err := url.Parse(baseURL)
	if err != nil {
		return fmt.Sprintf("ws://%s%s", baseURL, path)
	}

	scheme := "ws"
	if u.Scheme == "https" || u.Scheme == "wss" {
		scheme = "wss"
	}

	wsURL := &url.URL{
		Scheme: scheme,
		Host:   u.Host,
		Path:   path,
	}
	return wsURL.String()
}

func snapshotConnectSubs(subs map[int]ConnectHandler) []ConnectHandler {
	out := make([]ConnectHandler, 0, len(subs))
	for _, h := range subs {
		out = append(out, h)
	}
	return out
}
