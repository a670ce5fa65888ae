// Package unread tracks per-conversation unread badge counts.
//
// Counts reconcile three sources: a server snapshot taken at load time, live
// insert events pushed by the realtime bridge, and local mark-read actions.
// A snapshot never overwrites a local entry, because live events may have
// arrived between the fetch and its response.
package unread

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/orderdesk/orderdesk-cli/internal/observer"
	"github.com/orderdesk/orderdesk-cli/internal/store"
)

// Store names used by the CLI for the two conversation kinds.
const (
	StoreOrders  = "unread-orders"
	StoreTickets = "unread-tickets"
)

const persistTimeout = 5 * time.Second

// State is the unread state of one conversation.
type State struct {
	ConversationID string    `json:"conversation_id"`
	UnreadCount    int       `json:"unread_count"`
	LastEventAt    time.Time `json:"last_event_at"`
}

// ConversationSummary is one row of a server snapshot.
// UnreadCount is used when the server reports an exact count; otherwise a
// true Unread flag seeds a badge-only count of 1.
type ConversationSummary struct {
	ID             string    `json:"id"`
	Unread         bool      `json:"unread"`
	UnreadCount    int       `json:"unread_count"`
	LastActivityAt time.Time `json:"last_activity_at,omitempty"`
}

// SeedCount is the local count a snapshot row creates, or 0 for none.
func (s ConversationSummary) SeedCount() int {
	if s.UnreadCount > 0 {
		return s.UnreadCount
	}
	if s.Unread {
		return 1
	}
	return 0
}

// Tracker owns the unread map for one store name.
type Tracker struct {
	mu       sync.Mutex
	name     string
	states   map[string]State
	store    store.Store
	codec    *store.Codec
	degraded bool
	now      func() time.Time
	logger   *slog.Logger
	subs     observer.Registry
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithStore persists the tracker through s. Without it the tracker is memory-only.
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

// New builds a tracker and loads any persisted state stored under name.
// A failed load leaves the tracker empty and memory-only.
func New(ctx context.Context, name string, opts ...Option) *Tracker {
	t := &Tracker{
		name:   name,
		states: make(map[string]State),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(t)
	}
	if t.logger == nil {
		t.logger = slog.Default()
	}
	t.logger = t.logger.With("component", "unread", "store", name)
	if t.store != nil && t.codec == nil {
		t.codec = store.NewCodec()
	}

	t.mu.Lock()
	if states, ok := t.load(ctx); ok {
		t.states = states
	}
	t.mu.Unlock()
	return t
}

// Name returns the store name.
func (t *Tracker) Name() string {
	return t.name
}

// InitializeFromSnapshot seeds entries for conversations the server reports
// unread. Existing local entries are never touched, and rows without an
// unread indicator never create one.
func (t *Tracker) InitializeFromSnapshot(conversations []ConversationSummary) {
	t.mu.Lock()
	changed := false
	for _, c := range conversations {
		count := c.SeedCount()
		if c.ID == "" || count <= 0 {
			continue
		}
		if _, exists := t.states[c.ID]; exists {
			continue
		}
		at := c.LastActivityAt
		if at.IsZero() {
			at = t.now()
		}
		t.states[c.ID] = State{ConversationID: c.ID, UnreadCount: count, LastEventAt: at}
		changed = true
	}
	if changed {
		t.persist()
	}
	t.mu.Unlock()

	if changed {
		t.subs.Notify()
	}
}

// Increment counts one new event. Callers filter out events the local user
// authored before calling it.
func (t *Tracker) Increment(conversationID string, at time.Time) {
	if conversationID == "" {
		return
	}
	if at.IsZero() {
		at = t.now()
	}

	t.mu.Lock()
	st := t.states[conversationID]
	st.ConversationID = conversationID
	st.UnreadCount++
	if at.After(st.LastEventAt) {
		st.LastEventAt = at
	}
	t.states[conversationID] = st
	t.persist()
	t.mu.Unlock()

	t.subs.Notify()
}

// MarkRead removes the entry for conversationID.
func (t *Tracker) MarkRead(conversationID string) {
	t.mu.Lock()
	_, ok := t.states[conversationID]
	if ok {
		delete(t.states, conversationID)
		t.persist()
	}
	t.mu.Unlock()

	if ok {
		t.subs.Notify()
	}
}

// MarkAllRead clears every entry.
func (t *Tracker) MarkAllRead() {
	t.mu.Lock()
	changed := len(t.states) > 0
	if changed {
		t.states = make(map[string]State)
		t.persist()
	}
	t.mu.Unlock()

	if changed {
		t.subs.Notify()
	}
}

// Total sums every unread count.
func (t *Tracker) Total() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	total := 0
	for _, st := range t.states {
		total += st.UnreadCount
	}
	return total
}

// Count returns the unread count of one conversation.
func (t *Tracker) Count(conversationID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.states[conversationID].UnreadCount
}

// Get returns the state of one conversation.
func (t *Tracker) Get(conversationID string) (State, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	st, ok := t.states[conversationID]
	return st, ok
}

// List returns all entries, most recent activity first.
func (t *Tracker) List() []State {
	t.mu.Lock()
	out := make([]State, 0, len(t.states))
	for _, st := range t.states {
		out = append(out, st)
	}
	t.mu.Unlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastEventAt.Equal(out[j].LastEventAt) {
			return out[i].LastEventAt.After(out[j].LastEventAt)
		}
		return out[i].ConversationID < out[j].ConversationID
	})
	return out
}

// IDs returns the tracked conversation ids in sorted order.
func (t *Tracker) IDs() []string {
	t.mu.Lock()
	ids := make([]string, 0, len(t.states))
	for id := range t.states {
		ids = append(ids, id)
	}
	t.mu.Unlock()
	sort.Strings(ids)
	return ids
}

// Subscribe registers fn to run after every mutation.
func (t *Tracker) Subscribe(fn func()) func() {
	return t.subs.Subscribe(fn)
}

// Reload replaces in-memory state with what the store currently holds,
// picking up writes from other processes sharing it.
func (t *Tracker) Reload(ctx context.Context) {
	t.mu.Lock()
	states, ok := t.load(ctx)
	if ok {
		t.states = states
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

// load must be called with t.mu held.
func (t *Tracker) load(ctx context.Context) (map[string]State, bool) {
	if t.store == nil || t.degraded {
		return nil, false
	}
	data, err := t.store.Load(ctx, t.name)
	if errors.Is(err, store.ErrNotFound) {
		return make(map[string]State), true
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

// persist must be called with t.mu held.
func (t *Tracker) persist() {
	if t.store == nil || t.degraded {
		return
	}
	data, err := t.codec.Encode(ToPersisted(t.states))
	if err != nil {
		t.degrade("encode", err)
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := t.store.Save(ctx, t.name, data); err != nil {
		t.degrade("save", err)
	}
}

func (t *Tracker) degrade(op string, err error) {
	t.degraded = true
	t.logger.Warn("unread state persistence disabled for this session", "op", op, "error", err)
}
