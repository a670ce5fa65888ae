// Package cooldown throttles best-effort notifications per conversation.
//
// After a notification is sent for a conversation, further sends are held
// back for CooldownMinutes. Outbound messages written by the local user
// during that window are counted so the UI can offer an early "send now".
package cooldown

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/orderdesk/orderdesk-cli/internal/observer"
	"github.com/orderdesk/orderdesk-cli/internal/store"
)

const (
	// CooldownMinutes is the default window between notifications.
	CooldownMinutes = 15
	// StaleRetentionHours is how long an untouched entry survives ClearStaleEntries.
	StaleRetentionHours = 24

	// StoreName is the store key for cooldown entries.
	StoreName = "notification-cooldowns"

	persistTimeout = 5 * time.Second
)

// Entry is the cooldown state of one conversation.
type Entry struct {
	ConversationID                string    `json:"conversation_id"`
	LastNotifiedAt                time.Time `json:"last_notified_at"`
	LastNotifiedBy                string    `json:"last_notified_by"`
	MessagesSinceLastNotification int       `json:"messages_since_last_notification"`
}

// PresenceReader reports whether a user is online. The tracker only reads it.
type PresenceReader interface {
	IsOnline(userID string) bool
}

// Tracker owns the cooldown map.
type Tracker struct {
	mu        sync.Mutex
	entries   map[string]Entry
	cooldown  time.Duration
	retention time.Duration
	presence  PresenceReader
	store     store.Store
	codec     *store.Codec
	degraded  bool
	now       func() time.Time
	logger    *slog.Logger
	subs      observer.Registry
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithStore persists entries through s. Without it the tracker is memory-only.
func WithStore(s store.Store, codec *store.Codec) Option {
	return func(t *Tracker) {
		t.store = s
		t.codec = codec
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// WithLogger sets the logger used for persistence warnings.
func WithLogger(l *slog.Logger) Option {
	return func(t *Tracker) { t.logger = l }
}

// WithPresence lets State suppress banners for online recipients.
func WithPresence(p PresenceReader) Option {
	return func(t *Tracker) { t.presence = p }
}

// WithWindows overrides the cooldown and retention durations. Non-positive
// values keep the defaults.
func WithWindows(cooldown, retention time.Duration) Option {
	return func(t *Tracker) {
		if cooldown > 0 {
			t.cooldown = cooldown
		}
		if retention > 0 {
			t.retention = retention
		}
	}
}

// New builds a tracker and loads persisted entries.
func New(ctx context.Context, opts ...Option) *Tracker {
	t := &Tracker{
		entries:   make(map[string]Entry),
		cooldown:  CooldownMinutes * time.Minute,
		retention: StaleRetentionHours * time.Hour,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	t.logger = t.logger.With("component", "cooldown")
	if t.store != nil && t.codec == nil {
		t.codec = store.NewCodec()
	}

	t.mu.Lock()
	if entries, ok := t.load(ctx); ok {
		t.entries = entries
	}
	t.mu.Unlock()
	return t
}

// Cooldown returns the configured window.
func (t *Tracker) Cooldown() time.Duration { return t.cooldown }

// CanNotifyNow reports whether a notification may be sent. It is evaluated
// against the clock on every call.
func (t *Tracker) CanNotifyNow(conversationID string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[conversationID]
	if !ok {
		return true
	}
	return t.now().Sub(e.LastNotifiedAt) >= t.cooldown
}

// MinutesUntilNextNotification rounds the remaining window up to whole minutes.
func (t *Tracker) MinutesUntilNextNotification(conversationID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[conversationID]
	if !ok {
		return 0
	}
	return t.minutesLeft(e)
}

func (t *Tracker) minutesLeft(e Entry) int {
	remaining := t.cooldown - t.now().Sub(e.LastNotifiedAt)
	if remaining <= 0 {
		return 0
	}
	return int(math.Ceil(remaining.Minutes()))
}

// MessagesSinceLastNotification returns the counter, or 0 without an entry.
func (t *Tracker) MessagesSinceLastNotification(conversationID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.entries[conversationID].MessagesSinceLastNotification
}

// RecordNotification opens a new window. It is called as soon as a dispatch
// is attempted; a failed delivery does not undo it.
func (t *Tracker) RecordNotification(conversationID, actorID string) {
	if conversationID == "" {
		return
	}
	t.mu.Lock()
	t.entries[conversationID] = Entry{
		ConversationID: conversationID,
		LastNotifiedAt: t.now(),
		LastNotifiedBy: actorID,
	}
	t.persist()
	t.mu.Unlock()

	t.subs.Notify()
}

// IncrementMessageCount counts one outbound message. Conversations that
// have never notified have no baseline and are not counted.
func (t *Tracker) IncrementMessageCount(conversationID string) {
	t.mu.Lock()
	e, ok := t.entries[conversationID]
	if ok {
		e.MessagesSinceLastNotification++
		t.entries[conversationID] = e
		t.persist()
	}
	t.mu.Unlock()

	if ok {
		t.subs.Notify()
	}
}

// ResetCooldown deletes the entry.
func (t *Tracker) ResetCooldown(conversationID string) {
	t.mu.Lock()
	_, ok := t.entries[conversationID]
	if ok {
		delete(t.entries, conversationID)
		t.persist()
	}
	t.mu.Unlock()

	if ok {
		t.subs.Notify()
	}
}

// ClearStaleEntries removes entries whose last notification is older than
// the retention window and returns how many were removed.
func (t *Tracker) ClearStaleEntries() int {
	t.mu.Lock()
	now := t.now()
	removed := 0
	for id, e := range t.entries {
		if now.Sub(e.LastNotifiedAt) > t.retention {
			delete(t.entries, id)
			removed++
		}
	}
	if removed > 0 {
		t.persist()
	}
	t.mu.Unlock()

	if removed > 0 {
		t.logger.Debug("cleared stale cooldowns", "removed", removed)
		t.subs.Notify()
	}
	return removed
}

// Get returns the entry for one conversation.
func (t *Tracker) Get(conversationID string) (Entry, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	e, ok := t.entries[conversationID]
	return e, ok
}

// List returns every entry, most recently notified first.
func (t *Tracker) List() []Entry {
	t.mu.Lock()
	out := make([]Entry, 0, len(t.entries))
	for _, e := range t.entries {
		out = append(out, e)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastNotifiedAt.Equal(out[j].LastNotifiedAt) {
			return out[i].LastNotifiedAt.After(out[j].LastNotifiedAt)
		}
		return out[i].ConversationID < out[j].ConversationID
	})
	return out
}

// Subscribe registers fn to run after every mutation.
func (t *Tracker) Subscribe(fn func()) func() {
	return t.subs.Subscribe(fn)
}

// Reload replaces in-memory entries with the store's current content.
func (t *Tracker) Reload(ctx context.Context) {
	t.mu.Lock()
	entries, ok := t.load(ctx)
	if ok {
		t.entries = entries
	}
	t.mu.Unlock()

	if ok {
		t.subs.Notify()
	}
}

// Degraded reports whether persistence has been abandoned for this session.
func (t *Tracker) Degraded() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.degraded
}

func (t *Tracker) load(ctx context.Context) (map[string]Entry, bool) {
	if t.store == nil || t.degraded {
		return nil, false
	}
	data, err := t.store.Load(ctx, StoreName)
	if errors.Is(err, store.ErrNotFound) {
		return make(map[string]Entry), true
	}
	if err != nil {
		t.degrade("load", err)
		return nil, false
	}
	var p Persisted
	if _, err := t.codec.Decode(data, &p); err != nil {
		t.degrade("decode", err)
		return nil, false
	}
	return FromPersisted(p), true
}

func (t *Tracker) persist() {
	if t.store == nil || t.degraded {
		return
	}
	data, err := t.codec.Encode(ToPersisted(t.entries))
	if err != nil {
		t.degrade("encode", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := t.store.Save(ctx, StoreName, data); err != nil {
		t.degrade("save", err)
	}
}

func (t *Tracker) degrade(op string, err error) {
	t.degraded = true
	t.logger.Warn("cooldown persistence disabled for this session", "op", op, "error", err)
}
