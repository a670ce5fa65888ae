// Package bridge adapts realtime events to the unread, cooldown and presence trackers.
//
// The bridge is the only place that knows who the local user is: events the
// local user authored never reach an unread tracker, and their outbound
// messages feed the cooldown counter instead.
package bridge

import (
	"context"
	"log/slog"
	"sync"
	"time"
)

// EventType names the events the bridge consumes.
type EventType string

const (
	MessageInserted EventType = "message_inserted"
	ReplyInserted   EventType = "reply_inserted"
	PresenceSync    EventType = "presence_sync"
	PresenceJoin    EventType = "presence_join"
	PresenceLeave   EventType = "presence_leave"
)

// Event is one notification from the realtime source.
type Event struct {
	Type           EventType `json:"type"`
	ID             string    `json:"id,omitempty"`
	ConversationID string    `json:"conversation_id,omitempty"`
	AuthorID       string    `json:"author_id,omitempty"`
	CreatedAt      time.Time `json:"created_at,omitempty"`
	UserID         string    `json:"user_id,omitempty"`
	UserIDs        []string  `json:"user_ids,omitempty"`
}

// Kind separates order chats from support tickets.
type Kind string

const (
	KindOrder  Kind = "order"
	KindTicket Kind = "ticket"
)

// Outcome reports what Handle did with an event.
type Outcome string

const (
	Counted      Outcome = "counted"
	SelfAuthored Outcome = "self_authored"
	Duplicate    Outcome = "duplicate"
	Focused      Outcome = "focused"
	PresenceSet  Outcome = "presence"
	Ignored      Outcome = "ignored"
)

// UnreadCounter is the part of an unread tracker the bridge drives.
type UnreadCounter interface {
	Increment(conversationID string, at time.Time)
	MarkRead(conversationID string)
}

// CooldownCounter is the part of the cooldown tracker the bridge drives.
type CooldownCounter interface {
	IncrementMessageCount(conversationID string)
	ResetCooldown(conversationID string)
}

// PresenceSink receives presence changes.
type PresenceSink interface {
	SetOnline(userID string)
	SetOffline(userID string)
	Sync(userIDs []string)
}

// DefaultDedupeWindow is how many recent event ids are remembered.
const DefaultDedupeWindow = 1024

// Config wires a Bridge. Any tracker may be nil; its events are then ignored.
type Config struct {
	LocalUserID  string
	Orders       UnreadCounter
	Tickets      UnreadCounter
	Cooldowns    CooldownCounter
	Presence     PresenceSink
	DedupeWindow int
	Logger       *slog.Logger
}

// Bridge routes events. Handle is safe for concurrent use, though events for
// one conversation are expected in commit order from a single goroutine.
type Bridge struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	seen     map[string]struct{}
	ring     []string
	next     int
	focus    Kind
	focusID  string
	watchers map[string]map[string]struct{} // recipient -> conversations
}

func New(cfg Config) *Bridge {
	if cfg.DedupeWindow <= 0 {
		cfg.DedupeWindow = DefaultDedupeWindow
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Bridge{
		cfg:      cfg,
		logger:   logger.With("component", "bridge"),
		seen:     make(map[string]struct{}, cfg.DedupeWindow),
		ring:     make([]string, cfg.DedupeWindow),
		watchers: make(map[string]map[string]struct{}),
	}
}

// LocalUserID returns the id events are compared against.
func (b *Bridge) LocalUserID() string {
	return b.cfg.LocalUserID
}

// Focus marks the conversation read and keeps it read while focused.
func (b *Bridge) Focus(kind Kind, conversationID string) {
	b.mu.Lock()
	b.focus = kind
	b.focusID = conversationID
	b.mu.Unlock()

	if c := b.counter(kind); c != nil {
		c.MarkRead(conversationID)
	}
}

// Blur clears the focused conversation.
func (b *Bridge) Blur() {
	b.mu.Lock()
	b.focus = ""
	b.focusID = ""
	b.mu.Unlock()
}

// Watch records that recipientID is the counterparty of conversationID, so
// the cooldown is reset when that user comes online.
func (b *Bridge) Watch(conversationID, recipientID string) {
	if conversationID == "" || recipientID == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	convs, ok := b.watchers[recipientID]
	if !ok {
		convs = make(map[string]struct{})
		b.watchers[recipientID] = convs
	}
	convs[conversationID] = struct{}{}
}

// Unwatch removes a watch registered with Watch.
func (b *Bridge) Unwatch(conversationID, recipientID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if convs, ok := b.watchers[recipientID]; ok {
		delete(convs, conversationID)
		if len(convs) == 0 {
			delete(b.watchers, recipientID)
		}
	}
}

// Handle applies one event.
func (b *Bridge) Handle(ev Event) Outcome {
	switch ev.Type {
	case MessageInserted:
		return b.handleInsert(ev, KindOrder)
	case ReplyInserted:
		return b.handleInsert(ev, KindTicket)
	case PresenceSync:
		if b.cfg.Presence == nil {
			return Ignored
		}
		b.cfg.Presence.Sync(ev.UserIDs)
		for _, id := range ev.UserIDs {
			b.resetWatched(id)
		}
		return PresenceSet
	case PresenceJoin:
		if b.cfg.Presence == nil || ev.UserID == "" {
			return Ignored
		}
		b.cfg.Presence.SetOnline(ev.UserID)
		b.resetWatched(ev.UserID)
		return PresenceSet
	case PresenceLeave:
		if b.cfg.Presence == nil || ev.UserID == "" {
			return Ignored
		}
		b.cfg.Presence.SetOffline(ev.UserID)
		return PresenceSet
	default:
		b.logger.Debug("ignoring unknown event", "type", ev.Type)
		return Ignored
	}
}

func (b *Bridge) handleInsert(ev Event, kind Kind) Outcome {
	if ev.ConversationID == "" {
		return Ignored
	}
	if b.duplicate(ev.ID) {
		b.logger.Debug("dropping duplicate event", "id", ev.ID)
		return Duplicate
	}

	if ev.AuthorID != "" && ev.AuthorID == b.cfg.LocalUserID {
		if kind == KindOrder && b.cfg.Cooldowns != nil {
			b.cfg.Cooldowns.IncrementMessageCount(ev.ConversationID)
		}
		return SelfAuthored
	}

	counter := b.counter(kind)
	if counter == nil {
		return Ignored
	}

	b.mu.Lock()
	focused := b.focus == kind && b.focusID == ev.ConversationID
	b.mu.Unlock()
	if focused {
		return Focused
	}

	counter.Increment(ev.ConversationID, ev.CreatedAt)
	return Counted
}

// duplicate reports whether id was seen recently and remembers it.
// Events without an id are never treated as duplicates.
func (b *Bridge) duplicate(id string) bool {
	if id == "" {
		return false
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.seen[id]; ok {
		return true
	}
	if old := b.ring[b.next]; old != "" {
		delete(b.seen, old)
	}
	b.ring[b.next] = id
	b.next = (b.next + 1) % len(b.ring)
	b.seen[id] = struct{}{}
	return false
}

func (b *Bridge) resetWatched(userID string) {
	if b.cfg.Cooldowns == nil {
		return
	}
	b.mu.Lock()
	convs := make([]string, 0, len(b.watchers[userID]))
	for id := range b.watchers[userID] {
		convs = append(convs, id)
	}
	b.mu.Unlock()

	for _, id := range convs {
		b.cfg.Cooldowns.ResetCooldown(id)
	}
}

func (b *Bridge) counter(kind Kind) UnreadCounter {
	switch kind {
	case KindOrder:
		return b.cfg.Orders
	case KindTicket:
		return b.cfg.Tickets
	default:
		return nil
	}
}

// Run handles events until the channel closes or ctx is cancelled.
// onEvent, if non-nil, observes every event with its outcome.
func (b *Bridge) Run(ctx context.Context, events <-chan Event, onEvent func(Event, Outcome)) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			out := b.Handle(ev)
			if onEvent != nil {
				onEvent(ev, out)
			}
		}
	}
}
