// Package notification fans playback events out to subscribed streams.
package notification

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tunebox/internal/domain/tenant"
	"github.com/osa030/tunebox/internal/infra/metrics"
)

const (
	defaultSendTimeout = 500 * time.Millisecond
	// maxMissed consecutive timed-out sends drop a subscriber.
	maxMissed = 3
)

// Stream receives notifications for one subscriber.
type Stream interface {
	Send(*Notification) error
}

type subscriber struct {
	id     string
	tenant tenant.ID // Empty receives every tenant
	stream Stream
	missed atomic.Int32
}

// Manager tracks subscribers and broadcasts notifications to them.
type Manager struct {
	mu          sync.RWMutex
	subscribers map[string]*subscriber
	seq         atomic.Uint64
	sendTimeout time.Duration
	metrics     *metrics.Metrics
}

// NewManager creates a notification manager.
func NewManager(m *metrics.Metrics) *Manager {
	return &Manager{
		subscribers: make(map[string]*subscriber),
		sendTimeout: defaultSendTimeout,
		metrics:     m,
	}
}

// Subscribe registers stream for tenant t and returns the subscription ID.
// An empty tenant subscribes to every tenant.
func (m *Manager) Subscribe(t tenant.ID, stream Stream) string {
	sub := &subscriber{id: uuid.NewString(), tenant: t, stream: stream}

	m.mu.Lock()
	m.subscribers[sub.id] = sub
	n := len(m.subscribers)
	m.mu.Unlock()

	m.metrics.SetSubscribers(n)
	zlog.Debug().Msgf("subscriber added: id=%s tenant=%s total=%d", sub.id, t, n)
	return sub.id
}

// NextSequenceNo reserves the next sequence number. Broadcast uses the same
// counter, so numbers are unique across initial states and events.
func (m *Manager) NextSequenceNo() uint64 {
	return m.seq.Add(1)
}

// Unsubscribe removes a subscription. Unknown IDs are ignored.
func (m *Manager) Unsubscribe(id string) {
	m.mu.Lock()
	_, ok := m.subscribers[id]
	delete(m.subscribers, id)
	n := len(m.subscribers)
	m.mu.Unlock()

	if ok {
		m.metrics.SetSubscribers(n)
	}
}

func (m *Manager) matching(t tenant.ID) []*subscriber {
	m.mu.RLock()
	defer m.mu.RUnlock()
	subs := make([]*subscriber, 0, len(m.subscribers))
	for _, sub := range m.subscribers {
		if sub.tenant == "" || sub.tenant == t {
			subs = append(subs, sub)
		}
	}
	return subs
}

// Broadcast stamps n with a sequence number and delivers it to every
// subscriber of its tenant in parallel. It returns once every send has
// finished or timed out. Streams whose Send fails are dropped at once;
// streams that keep timing out are dropped after maxMissed broadcasts.
func (m *Manager) Broadcast(n *Notification) {
	n.SequenceNo = m.NextSequenceNo()

	subs := m.matching(n.Tenant)
	var wg sync.WaitGroup
	for _, sub := range subs {
		wg.Add(1)
		go func(s *subscriber) {
			defer wg.Done()
			m.deliver(s, n)
		}(sub)
	}
	wg.Wait()
}

func (m *Manager) deliver(s *subscriber, n *Notification) {
	done := make(chan error, 1)
	go func() {
		done <- s.stream.Send(n)
	}()

	timer := time.NewTimer(m.sendTimeout)
	defer timer.Stop()

	select {
	case err := <-done:
		if err != nil {
			zlog.Debug().Msgf("dropping subscriber: id=%s error=%v", s.id, err)
			m.Unsubscribe(s.id)
			return
		}
		s.missed.Store(0)
	case <-timer.C:
		missed := s.missed.Add(1)
		zlog.Debug().Msgf("notification send timed out: id=%s seq=%d missed=%d", s.id, n.SequenceNo, missed)
		if missed >= maxMissed {
			zlog.Warn().Msgf("dropping slow subscriber: id=%s tenant=%s", s.id, s.tenant)
			m.Unsubscribe(s.id)
		}
	}
}

// SubscriberCount returns the number of active subscribers.
func (m *Manager) SubscriberCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.subscribers)
}

// Close drops every subscription.
func (m *Manager) Close() {
	m.mu.Lock()
	m.subscribers = make(map[string]*subscriber)
	m.mu.Unlock()
	m.metrics.SetSubscribers(0)
}
