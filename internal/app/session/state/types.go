// Package state provides the per-tenant playback state store.
package state

import (
	"sync"

	"github.com/osa030/tunebox/internal/domain/tenant"
	"github.com/osa030/tunebox/internal/domain/track"
)

// Limits bounds the per-tenant collections.
type Limits struct {
	MaxQueueSize   int // Queue capacity
	MaxHistorySize int // Played history cap (oldest evicted)
	MaxBackHistory int // Back stack cap (oldest evicted)
}

// DefaultLimits returns the stock limits.
func DefaultLimits() Limits {
	return Limits{
		MaxQueueSize:   100,
		MaxHistorySize: 50,
		MaxBackHistory: 20,
	}
}

// Current is the single active-or-pending item of a tenant.
type Current struct {
	Ref            track.Ref        // Empty when nothing is pending
	Title          string           // Resolved title
	Channel        tenant.ChannelID // Channel notifications for this tenant go to
	Position       int              // Playback position in seconds
	FromBack       bool             // Started by back navigation; not recorded in history
	ProcessingBack bool             // Back navigation in progress
}

// Active reports whether a ref is set.
func (c Current) Active() bool {
	return c.Ref != ""
}

// Status is a point-in-time summary of a tenant.
type Status struct {
	QueueLen       int
	PlayedCount    int
	BlacklistCount int
	CurrentRef     track.Ref
	CurrentTitle   string
	BackHistoryLen int
	FromBack       bool
}

// Tenant holds all state of one tenant. Fields are only touched through
// Store.Mutate or the Store accessors, which hold mu.
type Tenant struct {
	mu sync.Mutex

	Queue     []track.Ref // Pending refs, head plays next
	Played    []track.Ref // Completed normal playbacks, oldest first
	Current   Current
	BackStack []track.Ref // Visited currents, top is last
	Blacklist *Blacklist

	limits Limits
}

func newTenant(limits Limits) *Tenant {
	return &Tenant{
		Queue:     make([]track.Ref, 0),
		Played:    make([]track.Ref, 0),
		BackStack: make([]track.Ref, 0),
		Blacklist: NewBlacklist(limits.MaxQueueSize),
		limits:    limits,
	}
}

// Limits returns the limits the tenant was created with.
func (t *Tenant) Limits() Limits {
	return t.limits
}

// QueueFull reports whether the queue is at capacity.
func (t *Tenant) QueueFull() bool {
	return len(t.Queue) >= t.limits.MaxQueueSize
}

// RecordPlayed appends ref to the played history and mirrors it onto the
// back stack, evicting the oldest entries past the caps.
func (t *Tenant) RecordPlayed(ref track.Ref) {
	t.Played = appendBounded(t.Played, ref, t.limits.MaxHistorySize)
	t.PushBack(ref)
}

// PushBack pushes ref onto the back stack unless it is already the top.
func (t *Tenant) PushBack(ref track.Ref) {
	if n := len(t.BackStack); n > 0 && t.BackStack[n-1] == ref {
		return
	}
	t.BackStack = appendBounded(t.BackStack, ref, t.limits.MaxBackHistory)
}

// DropHead removes ref from the queue head if it is still there.
func (t *Tenant) DropHead(ref track.Ref) bool {
	if len(t.Queue) > 0 && t.Queue[0] == ref {
		t.Queue = t.Queue[1:]
		return true
	}
	return false
}

// EndBack clears the back-navigation flags of the current item.
func (t *Tenant) EndBack() {
	t.Current.FromBack = false
	t.Current.ProcessingBack = false
}

// ClearCurrent resets the current item but keeps the channel.
func (t *Tenant) ClearCurrent() {
	t.Current = Current{Channel: t.Current.Channel}
}

func appendBounded(list []track.Ref, ref track.Ref, max int) []track.Ref {
	list = append(list, ref)
	if max > 0 && len(list) > max {
		list = append([]track.Ref(nil), list[len(list)-max:]...)
	}
	return list
}

func tail(list []track.Ref, n int) []track.Ref {
	if n > 0 && len(list) > n {
		list = list[len(list)-n:]
	}
	return cloneRefs(list)
}

func cloneRefs(list []track.Ref) []track.Ref {
	out := make([]track.Ref, len(list))
	copy(out, list)
	return out
}
