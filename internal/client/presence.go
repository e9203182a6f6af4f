package client

import (
	"sort"
	"sync"

	"nickchat/internal/model"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
	StatusUnknown Status = "unknown"
)

type PresenceEntry struct {
	User   model.PublicUser
	Status Status
}

// PresenceView is the locally rendered user list. It is fed authoritative
// online-set snapshots and never forgets a user it has seen; going offline
// only changes status.
type PresenceView struct {
	mu     sync.Mutex
	byUUID map[string]PresenceEntry
}

func NewPresenceView() *PresenceView {
	return &PresenceView{byUUID: make(map[string]PresenceEntry)}
}

// Apply reconciles the view against a full online-set snapshot: announced
// users become online (created locally if new), everyone else known becomes
// offline. Applying the same snapshot twice yields the same view.
func (v *PresenceView) Apply(online []model.PublicUser) {
	v.mu.Lock()
	defer v.mu.Unlock()

	announced := make(map[string]struct{}, len(online))
	for _, u := range online {
		announced[u.UUID] = struct{}{}
	}

	for id, e := range v.byUUID {
		if _, ok := announced[id]; !ok {
			e.Status = StatusOffline
			v.byUUID[id] = e
		}
	}
	for _, u := range online {
		v.byUUID[u.UUID] = PresenceEntry{User: u, Status: StatusOnline}
	}
}

// Observe adds a user seen outside a presence snapshot (a message author
// from history, say) without assuming a status.
func (v *PresenceView) Observe(u model.PublicUser) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.byUUID[u.UUID]; ok {
		return
	}
	v.byUUID[u.UUID] = PresenceEntry{User: u, Status: StatusUnknown}
}

// Users returns the render order: online before everyone else, lexicographic
// by nickname within each group.
func (v *PresenceView) Users() []PresenceEntry {
	v.mu.Lock()
	entries := make([]PresenceEntry, 0, len(v.byUUID))
	for _, e := range v.byUUID {
		entries = append(entries, e)
	}
	v.mu.Unlock()

	rank := func(s Status) int {
		if s == StatusOnline {
			return 0
		}
		return 1
	}
	sort.Slice(entries, func(i, j int) bool {
		ri, rj := rank(entries[i].Status), rank(entries[j].Status)
		if ri != rj {
			return ri < rj
		}
		return entries[i].User.Nickname < entries[j].User.Nickname
	})
	return entries
}
