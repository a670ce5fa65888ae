// Package realtime is a websocket client for Phoenix-style realtime channels
// (the protocol spoken by the hosted backend's realtime service).
package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/coder/websocket"
)

// Protocol events.
const (
	EventJoin      = "phx_join"
	EventLeave     = "phx_leave"
	EventReply     = "phx_reply"
	EventError     = "phx_error"
	EventClose     = "phx_close"
	EventHeartbeat = "heartbeat"

	heartbeatTopic = "phoenix"
)

// DefaultHeartbeatInterval matches the interval the realtime service expects.
const DefaultHeartbeatInterval = 30 * time.Second

// DefaultReadTimeout is how long ListenWithTimeout waits without any frame (heartbeat
// replies included) before declaring the connection dead.
var DefaultReadTimeout = 75 * time.Second

// ErrReadTimeout is emitted when no frames arrive within the read timeout.
var ErrReadTimeout = errors.New("read timeout: no frames received")

// maxReadSize caps a single frame at 1 MB.
const maxReadSize = 1 << 20

// Message is one protocol frame.
type Message struct {
	Topic   string          `json:"topic"`
	Event   string          `json:"event"`
	Payload json.RawMessage `json:"payload"`
	Ref     string          `json:"ref,omitempty"`
}

// Event is delivered by ListenWithTimeout.
type Event struct {
	Message Message
	Err     error // non-nil on read error, channel error or close
}

type reply struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// Client is a realtime channel client.
type Client struct {
	conn *websocket.Conn
	ref  atomic.Int64

	mu      sync.Mutex
	pending []Message // frames read while waiting for a join reply
	topics  map[string]struct{}
}

// EndpointURL builds the websocket URL for a project base URL
// (https://xyz.example.co) and its public API key.
func EndpointURL(baseURL, apiKey string) (string, error) {
	u, err := url.Parse(strings.TrimSpace(baseURL))
	if err != nil {
		return "", fmt.Errorf("parse realtime url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported realtime url scheme %q", u.Scheme)
	}
	if !strings.HasSuffix(u.Path, "/websocket") {
		u.Path = strings.TrimSuffix(u.Path, "/") + "/realtime/v1/websocket"
	}
	q := u.Query()
	if apiKey != "" {
		q.Set("apikey", apiKey)
	}
	q.Set("vsn", "1.0.0")
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Connect dials the realtime endpoint.
func Connect(ctx context.Context, endpoint string) (*Client, error) {
	conn, _, err := websocket.Dial(ctx, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("dial: %w", err)
	}
	conn.SetReadLimit(maxReadSize)
	return &Client{conn: conn, topics: make(map[string]struct{})}, nil
}

// Close gracefully closes the connection.
func (c *Client) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}

func (c *Client) nextRef() string {
	return strconv.FormatInt(c.ref.Add(1), 10)
}

func (c *Client) send(ctx context.Context, topic, event string, payload any) (string, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("marshal payload: %w", err)
	}
	ref := c.nextRef()
	data, err := json.Marshal(Message{Topic: topic, Event: event, Payload: raw, Ref: ref})
	if err != nil {
		return "", fmt.Errorf("marshal frame: %w", err)
	}
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		return "", fmt.Errorf("write %s: %w", event, err)
	}
	return ref, nil
}

// Join subscribes to topic and waits for the server's reply. Frames for
// other refs that arrive meanwhile are kept and delivered by ListenWithTimeout.
func (c *Client) Join(ctx context.Context, topic string, payload any) error {
	if payload == nil {
		payload = struct{}{}
	}
	ref, err := c.send(ctx, topic, EventJoin, payload)
	if err != nil {
		return err
	}

	for {
		_, data, err := c.conn.Read(ctx)
		if err != nil {
			return fmt.Errorf("read join reply: %w", err)
		}
		var m Message
		if err := json.Unmarshal(data, &m); err != nil {
			return fmt.Errorf("parse join reply: %w", err)
		}
		if m.Event != EventReply || m.Ref != ref {
			c.mu.Lock()
			c.pending = append(c.pending, m)
			c.mu.Unlock()
			continue
		}
		var r reply
		if err := json.Unmarshal(m.Payload, &r); err != nil {
			return fmt.Errorf("parse join reply payload: %w", err)
		}
		if r.Status != "ok" {
			return fmt.Errorf("join %s rejected: %s %s", topic, r.Status, string(r.Response))
		}
		c.mu.Lock()
		c.topics[topic] = struct{}{}
		c.mu.Unlock()
		return nil
	}
}

// Leave unsubscribes from topic without waiting for a reply.
func (c *Client) Leave(ctx context.Context, topic string) error {
	c.mu.Lock()
	delete(c.topics, topic)
	c.mu.Unlock()
	_, err := c.send(ctx, topic, EventLeave, struct{}{})
	return err
}

// Track publishes this client's presence state on a joined topic.
func (c *Client) Track(ctx context.Context, topic string, state any) error {
	_, err := c.send(ctx, topic, "presence", map[string]any{
		"type":    "presence",
		"event":   "track",
		"payload": state,
	})
	return err
}

// StartHeartbeat sends heartbeats at the given interval until ctx is
// cancelled. If onError is non-nil it is called once on the first write
// failure before the goroutine exits.
func (c *Client) StartHeartbeat(ctx context.Context, interval time.Duration, onError func(error)) {
	if interval <= 0 {
		interval = DefaultHeartbeatInterval
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if _, err := c.send(ctx, heartbeatTopic, EventHeartbeat, struct{}{}); err != nil {
					if onError != nil && ctx.Err() == nil {
						onError(fmt.Errorf("heartbeat: %w", err))
					}
					return
				}
			}
		}
	}()
}

// ListenWithTimeout starts the read loop and returns a channel of events.
// Heartbeat replies are consumed silently. The channel closes when the
// connection drops, a joined topic errors or closes, or ctx is cancelled.
// Use 0 to disable the read timeout.
func (c *Client) ListenWithTimeout(ctx context.Context, readTimeout time.Duration) <-chan Event {
	ch := make(chan Event, 64)

	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()

	go func() {
		defer close(ch)

		emit := func(ev Event) bool {
			select {
			case ch <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}

		for _, m := range pending {
			if stop, ev := c.classify(m); ev != nil {
				if !emit(*ev) || stop {
					return
				}
			}
		}

		for {
			readCtx := ctx
			var readCancel context.CancelFunc
			if readTimeout > 0 {
				readCtx, readCancel = context.WithTimeout(ctx, readTimeout)
			}

			_, data, err := c.conn.Read(readCtx)

			if readCancel != nil {
				readCancel()
			}

			if err != nil {
				if readTimeout > 0 && ctx.Err() == nil && readCtx.Err() != nil {
					err = ErrReadTimeout
				}
				emit(Event{Err: err})
				return
			}

			var m Message
			if err := json.Unmarshal(data, &m); err != nil {
				continue
			}
			stop, ev := c.classify(m)
			if ev == nil {
				continue
			}
			if !emit(*ev) || stop {
				return
			}
		}
	}()
	return ch
}

// classify decides whether a frame is delivered and whether it ends the loop.
func (c *Client) classify(m Message) (stop bool, ev *Event) {
	switch {
	case m.Topic == heartbeatTopic:
		return false, nil
	case m.Event == EventReply:
		return false, nil
	case m.Event == EventError:
		return true, &Event{Message: m, Err: fmt.Errorf("channel error on %s", m.Topic)}
	case m.Event == EventClose:
		c.mu.Lock()
		_, joined := c.topics[m.Topic]
		c.mu.Unlock()
		if !joined {
			return false, nil
		}
		return true, &Event{Message: m, Err: fmt.Errorf("channel %s closed by server", m.Topic)}
	default:
		return false, &Event{Message: m}
	}
}
