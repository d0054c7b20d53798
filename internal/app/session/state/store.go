package state

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-json"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tunebox/internal/app/session/registry"
	"github.com/osa030/tunebox/internal/domain/tenant"
	"github.com/osa030/tunebox/internal/domain/track"
	"github.com/osa030/tunebox/internal/infra/metrics"
	"github.com/osa030/tunebox/internal/infra/storage"
)

// ErrCapacity is returned when a tenant queue is full.
var ErrCapacity = errors.New("queue is full")

// Config holds store configuration.
type Config struct {
	Limits         Limits
	PersistTimeout time.Duration // Bound on one snapshot write or read
}

// Store owns the state of every tenant.
//
// Each accessor locks a single tenant, so calls for different tenants never
// contend. Ordering of calls for the same tenant is the caller's job.
type Store struct {
	cfg     Config
	tenants *registry.Registry[Tenant]
	backend storage.Backend
	metrics *metrics.Metrics

	// Serializes snapshot writes; the last write wins.
	persistMu sync.Mutex
}

// NewStore creates a store. backend may be nil, in which case Persist and
// Load succeed without touching any storage.
func NewStore(cfg Config, backend storage.Backend, m *metrics.Metrics) *Store {
	if cfg.Limits == (Limits{}) {
		cfg.Limits = DefaultLimits()
	}
	if cfg.PersistTimeout <= 0 {
		cfg.PersistTimeout = 2 * time.Second
	}
	limits := cfg.Limits
	return &Store{
		cfg: cfg,
		tenants: registry.New(func(tenant.ID) *Tenant {
			return newTenant(limits)
		}),
		backend: backend,
		metrics: m,
	}
}

// Limits returns the configured limits.
func (s *Store) Limits() Limits {
	return s.cfg.Limits
}

// Mutate runs fn with exclusive access to the tenant record.
// fn must not call back into the store.
func (s *Store) Mutate(id tenant.ID, fn func(t *Tenant)) {
	t := s.tenants.Get(id)
	t.mu.Lock()
	defer t.mu.Unlock()
	fn(t)
}

// Queue returns a copy of the queue.
func (s *Store) Queue(id tenant.ID) []track.Ref {
	var out []track.Ref
	s.Mutate(id, func(t *Tenant) { out = cloneRefs(t.Queue) })
	return out
}

// Played returns a copy of the played history.
func (s *Store) Played(id tenant.ID) []track.Ref {
	var out []track.Ref
	s.Mutate(id, func(t *Tenant) { out = cloneRefs(t.Played) })
	return out
}

// Current returns the current item.
func (s *Store) Current(id tenant.ID) Current {
	var out Current
	s.Mutate(id, func(t *Tenant) { out = t.Current })
	return out
}

// Blacklist returns the blacklisted refs.
func (s *Store) Blacklist(id tenant.ID) []track.Ref {
	var out []track.Ref
	s.Mutate(id, func(t *Tenant) { out = t.Blacklist.Refs() })
	return out
}

// BackStack returns a copy of the back stack, top last.
func (s *Store) BackStack(id tenant.ID) []track.Ref {
	var out []track.Ref
	s.Mutate(id, func(t *Tenant) { out = cloneRefs(t.BackStack) })
	return out
}

// Enqueue appends ref and returns the new queue length.
func (s *Store) Enqueue(id tenant.ID, ref track.Ref) (int, error) {
	var (
		n   int
		err error
	)
	s.Mutate(id, func(t *Tenant) {
		if t.QueueFull() {
			err = ErrCapacity
			return
		}
		t.Queue = append(t.Queue, ref)
		n = len(t.Queue)
	})
	return n, err
}

// RecordPlayed appends ref to the played history.
func (s *Store) RecordPlayed(id tenant.ID, ref track.Ref) {
	s.Mutate(id, func(t *Tenant) { t.RecordPlayed(ref) })
}

// AddBlacklist blacklists ref. Adding an existing entry is a no-op.
func (s *Store) AddBlacklist(id tenant.ID, ref track.Ref) bool {
	var added bool
	s.Mutate(id, func(t *Tenant) { added = t.Blacklist.Add(ref) })
	if added {
		s.metrics.Blacklisted()
	}
	return added
}

// IsBlacklisted reports whether ref is blacklisted for the tenant.
func (s *Store) IsBlacklisted(id tenant.ID, ref track.Ref) bool {
	var ok bool
	s.Mutate(id, func(t *Tenant) { ok = t.Blacklist.Has(ref) })
	return ok
}

// SetChannel records the channel notifications should go to.
func (s *Store) SetChannel(id tenant.ID, ch tenant.ChannelID) {
	if ch == "" {
		return
	}
	s.Mutate(id, func(t *Tenant) { t.Current.Channel = ch })
}

// Status summarizes a tenant.
func (s *Store) Status(id tenant.ID) Status {
	var st Status
	s.Mutate(id, func(t *Tenant) {
		st = Status{
			QueueLen:       len(t.Queue),
			PlayedCount:    len(t.Played),
			BlacklistCount: t.Blacklist.Len(),
			CurrentRef:     t.Current.Ref,
			CurrentTitle:   t.Current.Title,
			BackHistoryLen: len(t.BackStack),
			FromBack:       t.Current.FromBack,
		}
	})
	return st
}

// HasPendingWork reports whether the tenant has queued refs or a current item.
func (s *Store) HasPendingWork(id tenant.ID) bool {
	var pending bool
	s.Mutate(id, func(t *Tenant) { pending = len(t.Queue) > 0 || t.Current.Active() })
	return pending
}

// Tenants returns every known tenant id.
func (s *Store) Tenants() []tenant.ID {
	return s.tenants.IDs()
}

// RemoveTenant deletes all state of a tenant.
func (s *Store) RemoveTenant(id tenant.ID) bool {
	return s.tenants.Remove(id)
}

// Persist writes the snapshot to the backend. It never panics and reports
// success instead of returning an error.
func (s *Store) Persist(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("persist panicked: %v", r)
			ok = false
		}
		s.metrics.Persist("save", ok)
	}()

	if s.backend == nil {
		return true
	}

	s.persistMu.Lock()
	defer s.persistMu.Unlock()

	data, err := json.Marshal(s.Snapshot())
	if err != nil {
		zlog.Error().Msgf("failed to encode snapshot: %v", err)
		return false
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.PersistTimeout)
	defer cancel()
	if err := s.backend.Save(ctx, data); err != nil {
		zlog.Warn().Msgf("failed to persist state: %v", err)
		return false
	}
	return true
}

// Load reads the snapshot from the backend and restores it. A missing
// snapshot counts as success with empty state.
func (s *Store) Load(ctx context.Context) (ok bool) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("load panicked: %v", r)
			ok = false
		}
		s.metrics.Persist("load", ok)
	}()

	if s.backend == nil {
		return true
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.PersistTimeout)
	defer cancel()
	data, err := s.backend.Load(ctx)
	if errors.Is(err, storage.ErrNotFound) {
		zlog.Info().Msg("no saved state found, starting empty")
		return true
	}
	if err != nil {
		zlog.Warn().Msgf("failed to load state: %v", err)
		return false
	}

	var snap Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		zlog.Warn().Msgf("failed to decode saved state: %v", err)
		return false
	}
	s.Restore(snap)
	zlog.Info().Msgf("state loaded: tenants=%d", len(snap))
	return true
}
