package notification

import (
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/tunebox/internal/app/playback"
)

type recorder struct {
	mu    sync.Mutex
	got   []*Notification
	err   error
	block chan struct{}
}

func (r *recorder) Send(n *Notification) error {
	if r.block != nil {
		<-r.block
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.got = append(r.got, n)
	return nil
}

func (r *recorder) received() []*Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Notification(nil), r.got...)
}

func TestManager_BroadcastFiltersByTenant(t *testing.T) {
	m := NewManager(nil)
	all, g1, g2 := &recorder{}, &recorder{}, &recorder{}
	m.Subscribe("", all)
	m.Subscribe("g1", g1)
	m.Subscribe("g2", g2)
	assert.Equal(t, 3, m.SubscriberCount())

	m.Broadcast(&Notification{Tenant: "g1", Type: "now_playing"})
	m.Broadcast(&Notification{Tenant: "g2", Type: "now_playing"})

	assert.Len(t, all.received(), 2)
	require.Len(t, g1.received(), 1)
	assert.Equal(t, uint64(1), g1.received()[0].SequenceNo)
	require.Len(t, g2.received(), 1)
	assert.Equal(t, uint64(2), g2.received()[0].SequenceNo)
}

func TestManager_FailingStreamIsDropped(t *testing.T) {
	m := NewManager(nil)
	bad := &recorder{err: errors.New("closed")}
	m.Subscribe("", bad)

	m.Broadcast(&Notification{Tenant: "g1"})
	assert.Equal(t, 0, m.SubscriberCount())
}

func TestManager_SlowStreamDoesNotBlock(t *testing.T) {
	m := NewManager(nil)
	slow := &recorder{block: make(chan struct{})}
	defer close(slow.block)
	fast := &recorder{}
	m.Subscribe("", slow)
	m.Subscribe("", fast)

	start := time.Now()
	m.Broadcast(&Notification{Tenant: "g1"})
	assert.Less(t, time.Since(start), 2*time.Second)
	assert.Len(t, fast.received(), 1)
	assert.Equal(t, 2, m.SubscriberCount())
}

func TestManager_PersistentlySlowStreamIsDropped(t *testing.T) {
	m := NewManager(nil)
	m.sendTimeout = 10 * time.Millisecond
	slow := &recorder{block: make(chan struct{})}
	defer close(slow.block)
	m.Subscribe("", slow)

	for i := 0; i < maxMissed-1; i++ {
		m.Broadcast(&Notification{Tenant: "g1"})
	}
	assert.Equal(t, 1, m.SubscriberCount())

	m.Broadcast(&Notification{Tenant: "g1"})
	assert.Equal(t, 0, m.SubscriberCount())
}

func TestManager_UnsubscribeAndClose(t *testing.T) {
	m := NewManager(nil)
	r := &recorder{}
	id := m.Subscribe("", r)
	m.Subscribe("", &recorder{})

	m.Unsubscribe(id)
	m.Broadcast(&Notification{Tenant: "g1"})
	assert.Empty(t, r.received())

	m.Close()
	assert.Equal(t, 0, m.SubscriberCount())
}

func TestFromEvent(t *testing.T) {
	tests := []struct {
		name     string
		event    playback.Event
		expected string
	}{
		{"now playing", playback.Event{Type: playback.EventNowPlaying, Title: "Halo"}, "🎵 Halo"},
		{"now playing without title", playback.Event{Type: playback.EventNowPlaying, Ref: "https://x/a.mp3"}, "🎵 https://x/a.mp3"},
		{"blacklisted", playback.Event{Type: playback.EventSkipped, Reason: playback.ReasonBlacklisted}, "⚠️ Known to be unplayable, skipped"},
		{"user skip", playback.Event{Type: playback.EventSkipped, Reason: playback.ReasonUser}, "⏭️ Skipped"},
		{"failed resolve", playback.Event{Type: playback.EventSkipped, Reason: "timeout"}, "⚠️ Cannot play (skipped): timeout"},
		{"playback error", playback.Event{Type: playback.EventPlaybackError, Err: errors.New("decoder died")}, "⚠️ Playback failed: decoder died"},
		{"queue empty", playback.Event{Type: playback.EventQueueEmpty}, "🎵 Queue is empty"},
		{"list expanded", playback.Event{Type: playback.EventListExpanded, Count: 12}, "📝 Added 12 tracks"},
		{"back", playback.Event{Type: playback.EventBack, Ref: "B"}, "⏮️ Back to B"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			n := FromEvent(tt.event)
			assert.Equal(t, tt.expected, n.Message)
			assert.Equal(t, tt.event.Type.String(), n.Type)
			assert.False(t, n.Time.IsZero())
		})
	}
}

func TestManager_SequenceNumbersAreShared(t *testing.T) {
	m := NewManager(nil)
	r := &recorder{}
	m.Subscribe("", r)

	assert.Equal(t, uint64(1), m.NextSequenceNo())
	m.Broadcast(&Notification{Tenant: "g1"})
	require.Len(t, r.received(), 1)
	assert.Equal(t, uint64(2), r.received()[0].SequenceNo)
}
