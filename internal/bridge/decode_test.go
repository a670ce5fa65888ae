package bridge

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orderdesk/orderdesk-cli/internal/realtime"
)

func frame(event, payload string) realtime.Message {
	return realtime.Message{Topic: "realtime:orders", Event: event, Payload: json.RawMessage(payload)}
}

func TestDecode_MessageInsert(t *testing.T) {
	d := NewDecoder()
	events, err := d.Decode(frame("postgres_changes", `{"data":{"type":"INSERT","table":"messages",
		"record":{"id":42,"order_id":"ord-7","sender_id":"buyer","created_at":"2026-03-01T10:00:00Z"},
		"commit_timestamp":"2026-03-01T10:00:05Z"}}`))
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, MessageInserted, ev.Type)
	assert.Equal(t, "messages:42", ev.ID)
	assert.Equal(t, "ord-7", ev.ConversationID)
	assert.Equal(t, "buyer", ev.AuthorID)
	assert.True(t, ev.CreatedAt.Equal(time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)))
}

func TestDecode_TicketReplyUsesCommitTimestamp(t *testing.T) {
	d := NewDecoder()
	events, err := d.Decode(frame("postgres_changes", `{"data":{"type":"INSERT","table":"ticket_replies",
		"record":{"id":"r-1","ticket_id":9,"author_id":5},
		"commit_timestamp":"2026-03-01T10:00:05Z"}}`))
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	assert.Equal(t, ReplyInserted, ev.Type)
	assert.Equal(t, "ticket_replies:r-1", ev.ID)
	assert.Equal(t, "9", ev.ConversationID)
	assert.Equal(t, "5", ev.AuthorID)
	assert.True(t, ev.CreatedAt.Equal(time.Date(2026, 3, 1, 10, 0, 5, 0, time.UTC)))
}

func TestDecode_SkipsUninterestingChanges(t *testing.T) {
	d := NewDecoder()

	events, err := d.Decode(frame("postgres_changes", `{"data":{"type":"UPDATE","table":"messages","record":{"id":1,"order_id":"o"}}}`))
	require.NoError(t, err)
	assert.Empty(t, events)

	events, err = d.Decode(frame("postgres_changes", `{"data":{"type":"INSERT","table":"audit","record":{"id":1}}}`))
	require.NoError(t, err)
	assert.Empty(t, events)

	events, err = d.Decode(frame("broadcast", `{}`))
	require.NoError(t, err)
	assert.Empty(t, events)
}

func TestDecode_Errors(t *testing.T) {
	d := NewDecoder()

	_, err := d.Decode(frame("postgres_changes", `not json`))
	assert.Error(t, err)

	_, err = d.Decode(frame("postgres_changes", `{"data":{"type":"INSERT","table":"messages","record":{"id":1}}}`))
	assert.ErrorContains(t, err, "order_id")

	_, err = d.Decode(frame("presence_state", `[]`))
	assert.Error(t, err)
}

func TestDecode_PresenceState(t *testing.T) {
	d := NewDecoder()
	events, err := d.Decode(frame("presence_state", `{
		"k1":{"metas":[{"user_id":"u2","phx_ref":"a"}]},
		"u1":{"metas":[{"phx_ref":"b"}]},
		"k3":{"metas":[{"user_id":"u2"}]}}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, PresenceSync, events[0].Type)
	assert.Equal(t, []string{"u1", "u2"}, events[0].UserIDs)
}

func TestDecode_PresenceDiff(t *testing.T) {
	d := NewDecoder()
	events, err := d.Decode(frame("presence_diff", `{
		"joins":{"x":{"metas":[{"user_id":"u3"}]}},
		"leaves":{"y":{"metas":[{"user_id":"u1"}]}}}`))
	require.NoError(t, err)
	assert.Equal(t, []Event{
		{Type: PresenceLeave, UserID: "u1"},
		{Type: PresenceJoin, UserID: "u3"},
	}, events)
}

func TestNewDecoder_CustomMappings(t *testing.T) {
	d := NewDecoder(TableMapping{Table: "chat", Type: MessageInserted, ConversationColumn: "room", AuthorColumn: "user"})
	assert.Equal(t, []string{"chat"}, d.Tables())
	assert.Equal(t, []string{"messages", "ticket_replies"}, NewDecoder().Tables())

	events, err := d.Decode(frame("postgres_changes", `{"data":{"type":"insert","table":"chat","record":{"room":"r","user":"u"}}}`))
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, "r", events[0].ConversationID)
	assert.Empty(t, events[0].ID)
}

func TestPump_DecodesAndStopsOnError(t *testing.T) {
	b := New(Config{})
	frames := make(chan realtime.Event, 4)
	frames <- realtime.Event{Message: frame("postgres_changes", `garbage`)}
	frames <- realtime.Event{Message: frame("presence_diff", `{"joins":{"u1":{"metas":[]}}}`)}
	frames <- realtime.Event{Err: realtime.ErrReadTimeout}
	close(frames)

	out := make(chan Event, 4)
	err := b.Pump(context.Background(), frames, NewDecoder(), out)
	assert.True(t, errors.Is(err, realtime.ErrReadTimeout))
	require.Len(t, out, 1)
	assert.Equal(t, Event{Type: PresenceJoin, UserID: "u1"}, <-out)
}

func TestPump_ReturnsNilWhenClosed(t *testing.T) {
	b := New(Config{})
	frames := make(chan realtime.Event)
	close(frames)
	assert.NoError(t, b.Pump(context.Background(), frames, NewDecoder(), make(chan Event)))
}
