package cooldown

import (
	"sort"
	"time"
)

// Persisted is the stored shape of the cooldown map.
type Persisted struct {
	Entries []PersistedEntry `json:"entries"`
}

// PersistedEntry is one stored cooldown row.
type PersistedEntry struct {
	ConversationID string    `json:"conversation_id"`
	LastNotifiedAt time.Time `json:"last_notified_at"`
	LastNotifiedBy string    `json:"last_notified_by,omitempty"`
	Messages       int       `json:"messages"`
}

// ToPersisted converts entries to their stored shape, sorted by id.
func ToPersisted(entries map[string]Entry) Persisted {
	out := Persisted{Entries: make([]PersistedEntry, 0, len(entries))}
	for id, e := range entries {
		out.Entries = append(out.Entries, PersistedEntry{
			ConversationID: id,
			LastNotifiedAt: e.LastNotifiedAt.UTC(),
			LastNotifiedBy: e.LastNotifiedBy,
			Messages:       e.MessagesSinceLastNotification,
		})
	}
	sort.Slice(out.Entries, func(i, j int) bool {
		return out.Entries[i].ConversationID < out.Entries[j].ConversationID
	})
	return out
}

// FromPersisted rebuilds entries. Rows without an id or timestamp are dropped
// and negative counters clamp to zero.
func FromPersisted(p Persisted) map[string]Entry {
	entries := make(map[string]Entry, len(p.Entries))
	for _, pe := range p.Entries {
		if pe.ConversationID == "" || pe.LastNotifiedAt.IsZero() {
			continue
		}
		entries[pe.ConversationID] = Entry{
			ConversationID:                pe.ConversationID,
			LastNotifiedAt:                pe.LastNotifiedAt,
			LastNotifiedBy:                pe.LastNotifiedBy,
			MessagesSinceLastNotification: max(pe.Messages, 0),
		}
	}
	return entries
}
