// Package presence tracks which users are currently online.
//
// The set is ephemeral: it is rebuilt from a full sync whenever the realtime
// channel reconnects and then patched by join and leave events.
package presence

import (
	"sort"
	"sync"

	"github.com/orderdesk/orderdesk-cli/internal/observer"
)

// Tracker is a concurrency-safe set of online user ids.
type Tracker struct {
	mu     sync.RWMutex
	online map[string]struct{}
	subs   observer.Registry
}

func New() *Tracker {
	return &Tracker{online: make(map[string]struct{})}
}

// SetOnline adds userID. Duplicate joins are ignored.
func (p *Tracker) SetOnline(userID string) {
	if userID == "" {
		return
	}
	p.mu.Lock()
	_, had := p.online[userID]
	p.online[userID] = struct{}{}
	p.mu.Unlock()

	if !had {
		p.subs.Notify()
	}
}

// SetOffline removes userID. Leaving without a prior join is a no-op.
func (p *Tracker) SetOffline(userID string) {
	p.mu.Lock()
	_, had := p.online[userID]
	delete(p.online, userID)
	p.mu.Unlock()

	if had {
		p.subs.Notify()
	}
}

// IsOnline reports whether userID is in the set.
func (p *Tracker) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[userID]
	return ok
}

// Sync replaces the whole set.
func (p *Tracker) Sync(userIDs []string) {
	next := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		if id != "" {
			next[id] = struct{}{}
		}
	}
	p.mu.Lock()
	p.online = next
	p.mu.Unlock()

	p.subs.Notify()
}

// Online returns the online ids in sorted order.
func (p *Tracker) Online() []string {
	p.mu.RLock()
	ids := make([]string, 0, len(p.online))
	for id := range p.online {
		ids = append(ids, id)
	}
	p.mu.RUnlock()
	sort.Strings(ids)
	return ids
}

// Len returns the number of online users.
func (p *Tracker) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.online)
}

// Subscribe registers fn to run after the set changes.
func (p *Tracker) Subscribe(fn func()) func() {
	return p.subs.Subscribe(fn)
}
