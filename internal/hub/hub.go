/*
Package hub is the daemon's client for the remote control plane: a
persistent, auto-reconnecting WebSocket connection that carries signed
telemetry and accepts signed commands, plus a request/response RPC used
to fetch install recipes by name. Every frame, inbound and outbound, is
HMAC-SHA256 signed with the Hub Credential's secret so a compromised
network path cannot forge commands the daemon would act on.
*/
package hub

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/odacrun/odac/internal/config"
	"github.com/odacrun/odac/internal/models"
)

// Frame is the wire shape for both directions: commands from the hub
// carry Action/Data, the hub's answer to a recipe fetch carries its
// payload in Result, everything the daemon sends (telemetry and command
// results) carries Action/Data, and Signature always covers Action+Data.
type Frame struct {
	Action    string          `json:"action"`
	Data      json.RawMessage `json:"data,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Signature string          `json:"signature"`
}

// Handler processes one command frame and returns the result to report
// back upstream.
type Handler func(ctx context.Context, data json.RawMessage) (any, error)

// Client maintains the connection to the hub and dispatches inbound
// commands through a dotted-action command table, the same shape
// internal/control uses for local IPC requests.
type Client struct {
	store  *config.Store
	logger *slog.Logger
	url    string

	mu       sync.Mutex
	handlers map[string]Handler
	conn     *websocket.Conn

	pendingMu sync.Mutex
	pending   map[string]chan Frame
}

// New constructs a Client targeting the hub's WebSocket URL. Call
// Register for every supported action before calling Run.
func New(store *config.Store, logger *slog.Logger, url string) *Client {
	return &Client{
		store:    store,
		logger:   logger,
		url:      url,
		handlers: make(map[string]Handler),
		pending:  make(map[string]chan Frame),
	}
}

// Register adds a handler for a dotted action name.
func (c *Client) Register(action string, h Handler) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.handlers[action] = h
}

// Run connects to the hub and processes frames until ctx is canceled,
// reconnecting with exponential backoff on any disconnect.
func (c *Client) Run(ctx context.Context) error {
	backoff := time.Second
	const maxBackoff = 30 * time.Second

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := c.runOnce(ctx); err != nil {
			c.logger.Warn("hub connection lost, reconnecting", "error", err, "backoff", backoff)
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}

func (c *Client) runOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.url, nil)
	if err != nil {
		return fmt.Errorf("hub: dial: %w", err)
	}
	defer conn.Close()

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()

	c.logger.Info("hub connection established", "url", c.url)

	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return fmt.Errorf("hub: read: %w", err)
		}

		if !c.verify(frame) {
			c.logger.Warn("dropped hub frame with invalid signature", "action", frame.Action)
			continue
		}

		if ch, ok := c.takePending(frame.Action); ok {
			ch <- frame
			continue
		}

		go c.dispatch(ctx, frame)
	}
}

func (c *Client) dispatch(ctx context.Context, frame Frame) {
	c.mu.Lock()
	handler, ok := c.handlers[frame.Action]
	c.mu.Unlock()

	if !ok {
		c.logger.Warn("unknown hub action", "action", frame.Action)
		return
	}

	result, err := handler(ctx, frame.Data)
	if err != nil {
		c.logger.Error("hub command failed", "action", frame.Action, "error", err)
		return
	}

	if err := c.send(frame.Action+".result", result); err != nil {
		c.logger.Error("failed to report hub command result", "action", frame.Action, "error", err)
	}
}

// send signs and writes a frame carrying payload as Data.
func (c *Client) send(action string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("hub: encode payload: %w", err)
	}

	frame := Frame{Action: action, Data: data}
	frame.Signature = c.sign(action, data)

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("hub: not connected")
	}
	return conn.WriteJSON(frame)
}

func (c *Client) sign(action string, data json.RawMessage) string {
	var secret string
	c.store.ViewHub(func(h models.HubCredential) { secret = h.Secret })

	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(action))
	mac.Write(data)
	return hex.EncodeToString(mac.Sum(nil))
}

func (c *Client) verify(frame Frame) bool {
	expected := c.sign(frame.Action, frame.Data)
	return hmac.Equal([]byte(expected), []byte(frame.Signature))
}

func (c *Client) takePending(action string) (chan Frame, bool) {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	ch, ok := c.pending[action]
	if ok {
		delete(c.pending, action)
	}
	return ch, ok
}

// Telemetry pushes a one-way status payload upstream; it does not wait
// for acknowledgement.
func (c *Client) Telemetry(kind string, payload any) error {
	return c.send("telemetry."+kind, payload)
}
