package bridge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/orderdesk/orderdesk-cli/internal/realtime"
)

// Realtime wire events the decoder understands.
const (
	wirePostgresChanges = "postgres_changes"
	wirePresenceState   = "presence_state"
	wirePresenceDiff    = "presence_diff"
)

// TableMapping maps inserts on one table to a bridge event.
type TableMapping struct {
	Table              string
	Type               EventType
	ConversationColumn string
	AuthorColumn       string
}

// DefaultMappings covers order chat messages and ticket replies.
var DefaultMappings = []TableMapping{
	{Table: "messages", Type: MessageInserted, ConversationColumn: "order_id", AuthorColumn: "sender_id"},
	{Table: "ticket_replies", Type: ReplyInserted, ConversationColumn: "ticket_id", AuthorColumn: "author_id"},
}

// Decoder turns realtime frames into bridge events.
type Decoder struct {
	tables map[string]TableMapping
}

// NewDecoder builds a decoder. With no mappings it uses DefaultMappings.
func NewDecoder(mappings ...TableMapping) *Decoder {
	if len(mappings) == 0 {
		mappings = DefaultMappings
	}
	d := &Decoder{tables: make(map[string]TableMapping, len(mappings))}
	for _, m := range mappings {
		d.tables[m.Table] = m
	}
	return d
}

// Tables returns the mapped table names in sorted order.
func (d *Decoder) Tables() []string {
	out := make([]string, 0, len(d.tables))
	for t := range d.tables {
		out = append(out, t)
	}
	sort.Strings(out)
	return out
}

type changePayload struct {
	Data struct {
		Type            string                     `json:"type"`
		Table           string                     `json:"table"`
		Record          map[string]json.RawMessage `json:"record"`
		CommitTimestamp string                     `json:"commit_timestamp"`
	} `json:"data"`
}

type presenceMeta struct {
	UserID string `json:"user_id"`
}

type presenceEntry struct {
	Metas []presenceMeta `json:"metas"`
}

type presenceDiff struct {
	Joins  map[string]presenceEntry `json:"joins"`
	Leaves map[string]presenceEntry `json:"leaves"`
}

// Decode converts one frame. Frames the bridge has no use for decode to no events.
func (d *Decoder) Decode(m realtime.Message) ([]Event, error) {
	switch m.Event {
	case wirePostgresChanges:
		return d.decodeChange(m.Payload)
	case wirePresenceState:
		var state map[string]presenceEntry
		if err := json.Unmarshal(m.Payload, &state); err != nil {
			return nil, fmt.Errorf("parse presence_state: %w", err)
		}
		return []Event{{Type: PresenceSync, UserIDs: presenceUsers(state)}}, nil
	case wirePresenceDiff:
		var diff presenceDiff
		if err := json.Unmarshal(m.Payload, &diff); err != nil {
			return nil, fmt.Errorf("parse presence_diff: %w", err)
		}
		var out []Event
		for _, id := range presenceUsers(diff.Leaves) {
			out = append(out, Event{Type: PresenceLeave, UserID: id})
		}
		for _, id := range presenceUsers(diff.Joins) {
			out = append(out, Event{Type: PresenceJoin, UserID: id})
		}
		return out, nil
	default:
		return nil, nil
	}
}

func (d *Decoder) decodeChange(payload json.RawMessage) ([]Event, error) {
	var p changePayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return nil, fmt.Errorf("parse postgres_changes: %w", err)
	}
	if !strings.EqualFold(p.Data.Type, "INSERT") {
		return nil, nil
	}
	mapping, ok := d.tables[p.Data.Table]
	if !ok {
		return nil, nil
	}

	rec := p.Data.Record
	ev := Event{
		Type:           mapping.Type,
		ConversationID: scalar(rec[mapping.ConversationColumn]),
		AuthorID:       scalar(rec[mapping.AuthorColumn]),
	}
	if id := scalar(rec["id"]); id != "" {
		ev.ID = mapping.Table + ":" + id
	}
	if ev.ConversationID == "" {
		return nil, fmt.Errorf("%s insert without %s", mapping.Table, mapping.ConversationColumn)
	}
	ev.CreatedAt = parseTime(scalar(rec["created_at"]))
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = parseTime(p.Data.CommitTimestamp)
	}
	return []Event{ev}, nil
}

// presenceUsers collects user ids from presence entries. The meta user_id
// wins over the presence key.
func presenceUsers(entries map[string]presenceEntry) []string {
	seen := make(map[string]struct{})
	for key, entry := range entries {
		found := false
		for _, meta := range entry.Metas {
			if meta.UserID != "" {
				seen[meta.UserID] = struct{}{}
				found = true
			}
		}
		if !found && key != "" {
			seen[key] = struct{}{}
		}
	}
	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// scalar renders a JSON string or number as a plain string.
func scalar(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return ""
		}
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err != nil {
		return ""
	}
	if i, err := n.Int64(); err == nil {
		return strconv.FormatInt(i, 10)
	}
	return n.String()
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999", "2006-01-02 15:04:05.999999-07"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// Pump decodes frames from a realtime listener and forwards events until the
// listener closes or ctx ends. Undecodable frames are logged and skipped; the
// listener's terminal error is returned.
func (b *Bridge) Pump(ctx context.Context, frames <-chan realtime.Event, d *Decoder, out chan<- Event) error {
	for {
		var fr realtime.Event
		var ok bool
		select {
		case <-ctx.Done():
			return ctx.Err()
		case fr, ok = <-frames:
		}
		if !ok {
			return nil
		}
		if fr.Err != nil {
			return fr.Err
		}
		events, err := d.Decode(fr.Message)
		if err != nil {
			b.logger.Warn("skipping undecodable frame", "event", fr.Message.Event, "error", err)
			continue
		}
		for _, ev := range events {
			select {
			case out <- ev:
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
}
