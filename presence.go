package chatsync

import (
	"sort"
	"sync"
)

// PresenceTracker holds the set of peers the server reports as online.
// It is rebuilt from the roster on every connect.
type PresenceTracker struct {
	mu       sync.RWMutex
	online   map[string]struct{}
	onChange func(n int)
}

// NewPresenceTracker creates an empty tracker. onChange, if non-nil, is
// called with the new set size after every mutation.
func NewPresenceTracker(onChange func(n int)) *PresenceTracker {
	return &PresenceTracker{
		online:   make(map[string]struct{}),
		onChange: onChange,
	}
}

// SetOnline adds userID to the online set.
func (p *PresenceTracker) SetOnline(userID string) {
	if userID == "" {
		return
	}
	p.mu.Lock()
	p.online[userID] = struct{}{}
	n := len(p.online)
	p.mu.Unlock()
	p.changed(n)
}

// SetOffline removes userID from the online set.
func (p *PresenceTracker) SetOffline(userID string) {
	p.mu.Lock()
	delete(p.online, userID)
	n := len(p.online)
	p.mu.Unlock()
	p.changed(n)
}

// Replace sets the online set to exactly the given ids. Duplicates collapse.
func (p *PresenceTracker) Replace(userIDs []string) {
	next := make(map[string]struct{}, len(userIDs))
	for _, id := range userIDs {
		if id != "" {
			next[id] = struct{}{}
		}
	}
	p.mu.Lock()
	p.online = next
	n := len(next)
	p.mu.Unlock()
	p.changed(n)
}

// IsOnline reports whether userID is in the online set.
func (p *PresenceTracker) IsOnline(userID string) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[userID]
	return ok
}

// Online returns the online peer ids, sorted.
func (p *PresenceTracker) Online() []string {
	p.mu.RLock()
	out := make([]string, 0, len(p.online))
	for id := range p.online {
		out = append(out, id)
	}
	p.mu.RUnlock()
	sort.Strings(out)
	return out
}

// Len returns the number of online peers.
func (p *PresenceTracker) Len() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.online)
}

func (p *PresenceTracker) changed(n int) {
	if p.onChange != nil {
		p.onChange(n)
	}
}
