package state

import (
	"github.com/osa030/tunebox/internal/domain/tenant"
	"github.com/osa030/tunebox/internal/domain/track"
)

// Snapshot is the persisted form of every tenant, keyed by tenant id.
// The JSON layout is stable across versions.
type Snapshot map[tenant.ID]TenantSnapshot

// TenantSnapshot is the persisted form of one tenant.
type TenantSnapshot struct {
	Queue       []track.Ref     `json:"queue"`
	Played      []track.Ref     `json:"played"`
	Current     CurrentSnapshot `json:"current"`
	Blacklist   []track.Ref     `json:"blacklist"`
	BackHistory []track.Ref     `json:"back_history"`
}

// CurrentSnapshot is the persisted form of Current. Empty url, title and
// channel are written as null.
type CurrentSnapshot struct {
	URL            *string           `json:"url"`
	Title          *string           `json:"title"`
	ChannelID      *tenant.ChannelID `json:"channel_id"`
	Position       int               `json:"position"`
	FromBack       bool              `json:"from_back"`
	ProcessingBack bool              `json:"processing_back"`
}

// Snapshot captures all tenants. Played and back stack are cut to their caps.
func (s *Store) Snapshot() Snapshot {
	snap := make(Snapshot)
	limits := s.cfg.Limits
	s.tenants.Each(func(id tenant.ID, t *Tenant) {
		t.mu.Lock()
		defer t.mu.Unlock()
		snap[id] = TenantSnapshot{
			Queue:       cloneRefs(t.Queue),
			Played:      tail(t.Played, limits.MaxHistorySize),
			Current:     currentToSnapshot(t.Current),
			Blacklist:   t.Blacklist.Refs(),
			BackHistory: tail(t.BackStack, limits.MaxBackHistory),
		}
	})
	return snap
}

// Restore replaces all in-memory state with snap.
func (s *Store) Restore(snap Snapshot) {
	limits := s.cfg.Limits
	tenants := make(map[tenant.ID]*Tenant, len(snap))
	for id, ts := range snap {
		t := newTenant(limits)
		t.Queue = nonNil(ts.Queue)
		t.Played = tail(ts.Played, limits.MaxHistorySize)
		t.BackStack = tail(ts.BackHistory, limits.MaxBackHistory)
		t.Current = currentFromSnapshot(ts.Current)
		for _, ref := range ts.Blacklist {
			t.Blacklist.Add(ref)
		}
		tenants[id] = t
	}
	s.tenants.Replace(tenants)
}

func currentToSnapshot(c Current) CurrentSnapshot {
	cs := CurrentSnapshot{
		Position:       c.Position,
		FromBack:       c.FromBack,
		ProcessingBack: c.ProcessingBack,
	}
	if c.Ref != "" {
		url := string(c.Ref)
		cs.URL = &url
	}
	if c.Title != "" {
		title := c.Title
		cs.Title = &title
	}
	if c.Channel != "" {
		ch := c.Channel
		cs.ChannelID = &ch
	}
	return cs
}

func currentFromSnapshot(cs CurrentSnapshot) Current {
	c := Current{
		Position:       cs.Position,
		FromBack:       cs.FromBack,
		ProcessingBack: cs.ProcessingBack,
	}
	if cs.URL != nil {
		c.Ref = track.Ref(*cs.URL)
	}
	if cs.Title != nil {
		c.Title = *cs.Title
	}
	if cs.ChannelID != nil {
		c.Channel = *cs.ChannelID
	}
	return c
}

func nonNil(list []track.Ref) []track.Ref {
	if list == nil {
		return make([]track.Ref, 0)
	}
	return cloneRefs(list)
}
