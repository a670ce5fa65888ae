package cooldown

import (
	"fmt"
	"time"
)

// BannerState is what the notification banner shows for a conversation.
type BannerState int

const (
	// NoCooldown: nothing has been sent yet.
	NoCooldown BannerState = iota
	// Ready: the window has elapsed and messages are waiting.
	Ready
	// CooldownIdle: the window is open and nothing new was written.
	CooldownIdle
	// CooldownWaiting: the window is open and messages are waiting.
	CooldownWaiting
	// Suppressed: the recipient is online, so no banner is shown.
	Suppressed
)

func (s BannerState) String() string {
	switch s {
	case NoCooldown:
		return "no_cooldown"
	case Ready:
		return "ready"
	case CooldownIdle:
		return "cooldown"
	case CooldownWaiting:
		return "cooldown_waiting"
	case Suppressed:
		return "suppressed"
	default:
		return "unknown"
	}
}

// MarshalText renders the state by name in JSON output.
func (s BannerState) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *BannerState) UnmarshalText(text []byte) error {
	for _, candidate := range []BannerState{NoCooldown, Ready, CooldownIdle, CooldownWaiting, Suppressed} {
		if candidate.String() == string(text) {
			*s = candidate
			return nil
		}
	}
	return fmt.Errorf("unknown banner state %q", text)
}

// Status is a point-in-time view of one conversation's cooldown.
type Status struct {
	ConversationID  string      `json:"conversation_id"`
	State           BannerState `json:"state"`
	CanNotifyNow    bool        `json:"can_notify_now"`
	MinutesLeft     int         `json:"minutes_left"`
	MessagesWaiting int         `json:"messages_waiting"`
	LastNotifiedAt  *time.Time  `json:"last_notified_at,omitempty"`
	LastNotifiedBy  string      `json:"last_notified_by,omitempty"`
	RecipientOnline bool        `json:"recipient_online"`
}

// State derives the banner state. Time-based transitions (S2/S3 to S1) are
// only visible when State is called again after the window elapses.
// An expired entry with no waiting messages reports NoCooldown.
func (t *Tracker) State(conversationID, recipientID string) BannerState {
	return t.Status(conversationID, recipientID).State
}

// Status computes the full banner view.
func (t *Tracker) Status(conversationID, recipientID string) Status {
	online := recipientID != "" && t.presence != nil && t.presence.IsOnline(recipientID)

	t.mu.Lock()
	e, ok := t.entries[conversationID]
	st := Status{ConversationID: conversationID, RecipientOnline: online, CanNotifyNow: true}
	if ok {
		at := e.LastNotifiedAt
		st.LastNotifiedAt = &at
		st.LastNotifiedBy = e.LastNotifiedBy
		st.MessagesWaiting = e.MessagesSinceLastNotification
		st.MinutesLeft = t.minutesLeft(e)
		st.CanNotifyNow = t.now().Sub(e.LastNotifiedAt) >= t.cooldown
	}
	t.mu.Unlock()

	switch {
	case online:
		st.State = Suppressed
	case !ok:
		st.State = NoCooldown
	case st.CanNotifyNow && st.MessagesWaiting > 0:
		st.State = Ready
	case st.CanNotifyNow:
		st.State = NoCooldown
	case st.MessagesWaiting > 0:
		st.State = CooldownWaiting
	default:
		st.State = CooldownIdle
	}
	return st
}
