// Package snapshot fetches the server's view of unread conversations and
// seeds the local unread trackers from it.
package snapshot

import (
	"context"
	"errors"
	"fmt"

	"github.com/orderdesk/orderdesk-cli/internal/unread"
)

// ErrInvalidSource is returned when a source is missing its endpoint or DSN.
var ErrInvalidSource = errors.New("invalid snapshot source")

// Kind selects which conversations a source lists.
type Kind string

const (
	KindOrders  Kind = "orders"
	KindTickets Kind = "tickets"
)

// ParseKind validates a kind name.
func ParseKind(s string) (Kind, error) {
	switch Kind(s) {
	case KindOrders, KindTickets:
		return Kind(s), nil
	default:
		return "", fmt.Errorf("unknown snapshot kind %q (expected orders or tickets)", s)
	}
}

// Source lists conversations together with the server's unread indicator.
type Source interface {
	Fetch(ctx context.Context) ([]unread.ConversationSummary, error)
}

// Seeder is the part of an unread tracker Seed writes to.
type Seeder interface {
	InitializeFromSnapshot([]unread.ConversationSummary)
}

// Seed fetches a snapshot and hands it to the tracker. Fetch errors are
// returned and leave the tracker untouched.
func Seed(ctx context.Context, src Source, tracker Seeder) (int, error) {
	if src == nil {
		return 0, ErrInvalidSource
	}
	rows, err := src.Fetch(ctx)
	if err != nil {
		return 0, fmt.Errorf("fetch snapshot: %w", err)
	}
	tracker.InitializeFromSnapshot(rows)
	return len(rows), nil
}
