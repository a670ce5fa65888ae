package unread

import (
	"sort"
	"time"
)

// Persisted is the on-disk shape of a tracker. Only fields listed here
// survive a restart.
type Persisted struct {
	Conversations []PersistedConversation `json:"conversations"`
}

// PersistedConversation is one persisted entry.
type PersistedConversation struct {
	ID          string    `json:"id"`
	Count       int       `json:"count"`
	LastEventAt time.Time `json:"last_event_at"`
}

// ToPersisted converts live state to its persisted shape, sorted by id.
func ToPersisted(states map[string]State) Persisted {
	out := Persisted{Conversations: make([]PersistedConversation, 0, len(states))}
	for id, st := range states {
		out.Conversations = append(out.Conversations, PersistedConversation{
			ID:          id,
			Count:       st.UnreadCount,
			LastEventAt: st.LastEventAt.UTC(),
		})
	}
	sort.Slice(out.Conversations, func(i, j int) bool {
		return out.Conversations[i].ID < out.Conversations[j].ID
	})
	return out
}

// FromPersisted rebuilds live state. Rows without an id or with a
// non-positive count are dropped; duplicate ids keep the larger count.
func FromPersisted(p Persisted) map[string]State {
	states := make(map[string]State, len(p.Conversations))
	for _, c := range p.Conversations {
		if c.ID == "" || c.Count <= 0 {
			continue
		}
		if prev, ok := states[c.ID]; ok && prev.UnreadCount >= c.Count {
			continue
		}
		states[c.ID] = State{ConversationID: c.ID, UnreadCount: c.Count, LastEventAt: c.LastEventAt}
	}
	return states
}
