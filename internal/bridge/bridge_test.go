package bridge

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingCounter struct {
	mu        sync.Mutex
	increment map[string]int
	read      []string
}

func newRecordingCounter() *recordingCounter {
	return &recordingCounter{increment: make(map[string]int)}
}

func (c *recordingCounter) Increment(id string, _ time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.increment[id]++
}

func (c *recordingCounter) MarkRead(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.increment, id)
	c.read = append(c.read, id)
}

func (c *recordingCounter) count(id string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.increment[id]
}

type recordingCooldowns struct {
	messages map[string]int
	resets   []string
}

func (c *recordingCooldowns) IncrementMessageCount(id string) {
	if c.messages == nil {
		c.messages = make(map[string]int)
	}
	c.messages[id]++
}

func (c *recordingCooldowns) ResetCooldown(id string) {
	c.resets = append(c.resets, id)
}

type recordingPresence struct {
	online map[string]bool
	syncs  int
}

func (p *recordingPresence) SetOnline(id string) {
	if p.online == nil {
		p.online = make(map[string]bool)
	}
	p.online[id] = true
}

func (p *recordingPresence) SetOffline(id string) { delete(p.online, id) }

func (p *recordingPresence) Sync(ids []string) {
	p.syncs++
	p.online = make(map[string]bool, len(ids))
	for _, id := range ids {
		p.online[id] = true
	}
}

type fixture struct {
	bridge    *Bridge
	orders    *recordingCounter
	tickets   *recordingCounter
	cooldowns *recordingCooldowns
	presence  *recordingPresence
}

func newFixture(window int) *fixture {
	f := &fixture{
		orders:    newRecordingCounter(),
		tickets:   newRecordingCounter(),
		cooldowns: &recordingCooldowns{},
		presence:  &recordingPresence{},
	}
	f.bridge = New(Config{
		LocalUserID:  "me",
		Orders:       f.orders,
		Tickets:      f.tickets,
		Cooldowns:    f.cooldowns,
		Presence:     f.presence,
		DedupeWindow: window,
	})
	return f
}

func TestHandle_RoutesByKind(t *testing.T) {
	f := newFixture(0)

	assert.Equal(t, Counted, f.bridge.Handle(Event{Type: MessageInserted, ID: "m1", ConversationID: "o1", AuthorID: "buyer"}))
	assert.Equal(t, Counted, f.bridge.Handle(Event{Type: ReplyInserted, ID: "r1", ConversationID: "t1", AuthorID: "agent"}))

	assert.Equal(t, 1, f.orders.count("o1"))
	assert.Equal(t, 0, f.orders.count("t1"))
	assert.Equal(t, 1, f.tickets.count("t1"))
}

func TestHandle_SelfAuthoredFeedsCooldown(t *testing.T) {
	f := newFixture(0)

	for i, id := range []string{"m1", "m2", "m3"} {
		out := f.bridge.Handle(Event{Type: MessageInserted, ID: id, ConversationID: "o1", AuthorID: "me"})
		assert.Equal(t, SelfAuthored, out, "event %d", i)
	}
	assert.Equal(t, 0, f.orders.count("o1"))
	assert.Equal(t, 3, f.cooldowns.messages["o1"])

	// Self-authored ticket replies touch neither tracker.
	assert.Equal(t, SelfAuthored, f.bridge.Handle(Event{Type: ReplyInserted, ID: "r1", ConversationID: "t1", AuthorID: "me"}))
	assert.Equal(t, 0, f.tickets.count("t1"))
	assert.Zero(t, f.cooldowns.messages["t1"])
}

func TestHandle_DropsDuplicates(t *testing.T) {
	f := newFixture(0)
	ev := Event{Type: MessageInserted, ID: "m1", ConversationID: "o1", AuthorID: "buyer"}

	assert.Equal(t, Counted, f.bridge.Handle(ev))
	assert.Equal(t, Duplicate, f.bridge.Handle(ev))
	assert.Equal(t, 1, f.orders.count("o1"))

	// Events without ids are always counted.
	anon := Event{Type: MessageInserted, ConversationID: "o1", AuthorID: "buyer"}
	f.bridge.Handle(anon)
	f.bridge.Handle(anon)
	assert.Equal(t, 3, f.orders.count("o1"))
}

func TestHandle_DedupeWindowIsBounded(t *testing.T) {
	f := newFixture(2)

	f.bridge.Handle(Event{Type: MessageInserted, ID: "a", ConversationID: "o1", AuthorID: "x"})
	f.bridge.Handle(Event{Type: MessageInserted, ID: "b", ConversationID: "o1", AuthorID: "x"})
	f.bridge.Handle(Event{Type: MessageInserted, ID: "c", ConversationID: "o1", AuthorID: "x"})

	// "a" fell out of the window.
	assert.Equal(t, Counted, f.bridge.Handle(Event{Type: MessageInserted, ID: "a", ConversationID: "o1", AuthorID: "x"}))
	assert.Equal(t, Duplicate, f.bridge.Handle(Event{Type: MessageInserted, ID: "c", ConversationID: "o1", AuthorID: "x"}))
	assert.Equal(t, 4, f.orders.count("o1"))
}

func TestHandle_IgnoresIncompleteEvents(t *testing.T) {
	f := newFixture(0)
	assert.Equal(t, Ignored, f.bridge.Handle(Event{Type: MessageInserted, ID: "m1"}))
	assert.Equal(t, Ignored, f.bridge.Handle(Event{Type: "typing"}))
	assert.Equal(t, Ignored, f.bridge.Handle(Event{Type: PresenceJoin}))
}

func TestHandle_NilTrackersAreIgnored(t *testing.T) {
	b := New(Config{LocalUserID: "me"})
	assert.Equal(t, Ignored, b.Handle(Event{Type: MessageInserted, ConversationID: "o1", AuthorID: "x"}))
	assert.Equal(t, SelfAuthored, b.Handle(Event{Type: MessageInserted, ConversationID: "o1", AuthorID: "me"}))
	assert.Equal(t, Ignored, b.Handle(Event{Type: PresenceSync, UserIDs: []string{"u1"}}))
	assert.Equal(t, "me", b.LocalUserID())
}

func TestFocus_SuppressesIncrements(t *testing.T) {
	f := newFixture(0)
	f.bridge.Handle(Event{Type: MessageInserted, ID: "m1", ConversationID: "o1", AuthorID: "buyer"})
	require.Equal(t, 1, f.orders.count("o1"))

	f.bridge.Focus(KindOrder, "o1")
	assert.Equal(t, 0, f.orders.count("o1"))
	assert.Equal(t, []string{"o1"}, f.orders.read)

	assert.Equal(t, Focused, f.bridge.Handle(Event{Type: MessageInserted, ID: "m2", ConversationID: "o1", AuthorID: "buyer"}))
	assert.Equal(t, 0, f.orders.count("o1"))

	// Focus is per kind: a ticket with the same id still counts.
	assert.Equal(t, Counted, f.bridge.Handle(Event{Type: ReplyInserted, ID: "r1", ConversationID: "o1", AuthorID: "agent"}))

	f.bridge.Blur()
	assert.Equal(t, Counted, f.bridge.Handle(Event{Type: MessageInserted, ID: "m3", ConversationID: "o1", AuthorID: "buyer"}))
	assert.Equal(t, 1, f.orders.count("o1"))
}

func TestPresence_JoinResetsWatchedCooldowns(t *testing.T) {
	f := newFixture(0)
	f.bridge.Watch("o1", "buyer")
	f.bridge.Watch("o2", "buyer")
	f.bridge.Watch("o3", "other")

	assert.Equal(t, PresenceSet, f.bridge.Handle(Event{Type: PresenceJoin, UserID: "buyer"}))
	assert.True(t, f.presence.online["buyer"])
	assert.ElementsMatch(t, []string{"o1", "o2"}, f.cooldowns.resets)

	f.bridge.Handle(Event{Type: PresenceLeave, UserID: "buyer"})
	assert.False(t, f.presence.online["buyer"])

	f.bridge.Unwatch("o1", "buyer")
	f.bridge.Unwatch("o2", "buyer")
	f.cooldowns.resets = nil
	f.bridge.Handle(Event{Type: PresenceJoin, UserID: "buyer"})
	assert.Empty(t, f.cooldowns.resets)
}

func TestPresence_SyncReplacesAndResets(t *testing.T) {
	f := newFixture(0)
	f.bridge.Watch("o3", "other")
	f.presence.SetOnline("stale")

	assert.Equal(t, PresenceSet, f.bridge.Handle(Event{Type: PresenceSync, UserIDs: []string{"other", "u2"}}))
	assert.Equal(t, 1, f.presence.syncs)
	assert.False(t, f.presence.online["stale"])
	assert.True(t, f.presence.online["other"])
	assert.Equal(t, []string{"o3"}, f.cooldowns.resets)
}

func TestWatch_IgnoresEmptyIDs(t *testing.T) {
	f := newFixture(0)
	f.bridge.Watch("", "buyer")
	f.bridge.Watch("o1", "")
	f.bridge.Handle(Event{Type: PresenceJoin, UserID: "buyer"})
	assert.Empty(t, f.cooldowns.resets)
}

func TestRun_ConsumesUntilClosed(t *testing.T) {
	f := newFixture(0)
	events := make(chan Event, 3)
	events <- Event{Type: MessageInserted, ID: "m1", ConversationID: "o1", AuthorID: "buyer"}
	events <- Event{Type: MessageInserted, ID: "m1", ConversationID: "o1", AuthorID: "buyer"}
	events <- Event{Type: PresenceJoin, UserID: "buyer"}
	close(events)

	var outcomes []Outcome
	err := f.bridge.Run(context.Background(), events, func(_ Event, o Outcome) {
		outcomes = append(outcomes, o)
	})
	require.NoError(t, err)
	assert.Equal(t, []Outcome{Counted, Duplicate, PresenceSet}, outcomes)
}

func TestRun_StopsOnCancel(t *testing.T) {
	f := newFixture(0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := f.bridge.Run(ctx, make(chan Event), nil)
	assert.ErrorIs(t, err, context.Canceled)
}
