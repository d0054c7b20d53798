package playback

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tunebox/internal/app/queue"
	"github.com/osa030/tunebox/internal/app/resolver"
	"github.com/osa030/tunebox/internal/app/session/registry"
	"github.com/osa030/tunebox/internal/app/session/state"
	"github.com/osa030/tunebox/internal/domain/tenant"
	"github.com/osa030/tunebox/internal/domain/track"
	"github.com/osa030/tunebox/internal/infra/metrics"
	"github.com/osa030/tunebox/internal/infra/voice"
)

var (
	// ErrBusy is returned when another playback attempt holds the tenant.
	ErrBusy = errors.New("playback is busy")
	// ErrNotConnected is returned when the tenant has no voice connection.
	ErrNotConnected = errors.New("not connected to a voice channel")
	// ErrQueueEmpty is returned when there is nothing left to play.
	ErrQueueEmpty = errors.New("queue is empty")
	// ErrNotPlaying is returned when there is no active playback to act on.
	ErrNotPlaying = errors.New("nothing is playing")
	// ErrNotPaused is returned by Resume when playback is not paused.
	ErrNotPaused = errors.New("playback is not paused")
	// ErrInsufficientHistory is returned when back has nowhere to go.
	ErrInsufficientHistory = errors.New("not enough history to go back")
	// ErrPlayback marks errors reported by the audio engine.
	ErrPlayback = errors.New("playback failed")
)

const (
	idlePoll      = 50 * time.Millisecond
	maxExpansions = 16 // Nested list expansions per advance
)

// Config represents playback manager configuration.
type Config struct {
	ResolveTimeout time.Duration // Bound on one resolve call
	IdleGrace      time.Duration // Wait for residual audio to stop
	BackGrace      time.Duration // Wait for a stopped track's completion on back
	SkipWindow     time.Duration // Skips this soon after an accepted skip are ignored; zero disables
}

type activePlayback struct {
	ref             track.Ref
	title           string
	popped          bool        // Taken off the queue before it started
	stopping        atomic.Bool // Stop already requested
	suppressAdvance atomic.Bool // Completion must not start the next item
	done            chan struct{}
}

// slot is the per-tenant playback slot.
type slot struct {
	// lock is held across resolve-and-start only, never for a whole track.
	lock sync.Mutex

	mu       sync.Mutex
	conn     voice.Connection
	active   *activePlayback
	phase    State
	lastSkip time.Time
}

func (s *slot) connection() voice.Connection {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn
}

func (s *slot) current() *activePlayback {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.active
}

// skipSettling reports whether an accepted skip happened less than window ago.
func (s *slot) skipSettling(window time.Duration) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return window > 0 && !s.lastSkip.IsZero() && time.Since(s.lastSkip) < window
}

func (s *slot) markSkip() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastSkip = time.Now()
}

func (s *slot) setPhase(p State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.phase = p
}

func (s *slot) setActive(a *activePlayback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.active = a
	s.phase = StatePlaying
}

func (s *slot) clearActive(a *activePlayback) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active == a {
		s.active = nil
		if s.phase == StatePlaying {
			s.phase = StateIdle
		}
	}
}

// Manager coordinates playback for every tenant.
type Manager struct {
	cfg      Config
	store    *state.Store
	queue    *queue.Scheduler
	resolver resolver.Resolver
	metrics  *metrics.Metrics
	slots    *registry.Registry[slot]

	eventMu sync.RWMutex
	eventCh chan Event
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewManager creates a playback manager.
func NewManager(cfg Config, store *state.Store, sched *queue.Scheduler, res resolver.Resolver, m *metrics.Metrics) *Manager {
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Manager{
		cfg:      cfg,
		store:    store,
		queue:    sched,
		resolver: res,
		metrics:  m,
		slots:    registry.New(func(tenant.ID) *slot { return &slot{} }),
		eventCh:  make(chan Event, 100),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Events returns the event channel.
func (m *Manager) Events() <-chan Event {
	return m.eventCh
}

// Close stops waiting for completions and closes the event channel.
// Tracks still playing keep their state for the next start.
func (m *Manager) Close() {
	m.cancel()
	m.wg.Wait()

	m.eventMu.Lock()
	defer m.eventMu.Unlock()
	if !m.closed {
		m.closed = true
		close(m.eventCh)
	}
}

// Attach sets the tenant's voice connection.
func (m *Manager) Attach(t tenant.ID, conn voice.Connection) {
	s := m.slots.Get(t)
	s.mu.Lock()
	defer s.mu.Unlock()
	s.conn = conn
}

// Detach removes and returns the tenant's voice connection.
func (m *Manager) Detach(t tenant.ID) voice.Connection {
	s := m.slots.Get(t)
	s.mu.Lock()
	defer s.mu.Unlock()
	conn := s.conn
	s.conn = nil
	return conn
}

// Connection returns the tenant's voice connection, or nil.
func (m *Manager) Connection(t tenant.ID) voice.Connection {
	return m.slots.Get(t).connection()
}

// Forget drops the tenant's slot. The caller must have stopped playback.
func (m *Manager) Forget(t tenant.ID) {
	m.slots.Remove(t)
}

// State returns the playback state of a tenant.
func (m *Manager) State(t tenant.ID) State {
	s := m.slots.Get(t)
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.phase == StatePlaying && s.conn != nil && s.conn.IsPaused() {
		return StatePaused
	}
	return s.phase
}

// TryLock acquires the tenant's playback lock without blocking.
func (m *Manager) TryLock(t tenant.ID) (unlock func(), ok bool) {
	s := m.slots.Get(t)
	if !s.lock.TryLock() {
		return nil, false
	}
	return s.lock.Unlock, true
}

// Play plays ref now. A blacklisted ref is skipped in favor of the next
// queued item. Returns ErrBusy without side effects when another attempt
// is in flight.
func (m *Manager) Play(ctx context.Context, t tenant.ID, ref track.Ref) error {
	if m.store.IsBlacklisted(t, ref) {
		m.skipped(t, ref, ReasonBlacklisted, true)
		return m.Advance(ctx, t)
	}

	s := m.slots.Get(t)
	if !s.lock.TryLock() {
		return ErrBusy
	}
	return m.runLocked(context.WithoutCancel(ctx), t, s, ref)
}

// Advance plays the next playable item from the queue.
func (m *Manager) Advance(ctx context.Context, t tenant.ID) error {
	s := m.slots.Get(t)
	if !s.lock.TryLock() {
		return ErrBusy
	}
	if s.current() != nil {
		s.lock.Unlock()
		return ErrBusy
	}
	return m.runLocked(context.WithoutCancel(ctx), t, s, "")
}

// runLocked plays ref, or the next queue item when ref is empty, skipping
// anything that cannot be played. The caller holds s.lock; runLocked
// releases it.
func (m *Manager) runLocked(ctx context.Context, t tenant.ID, s *slot, ref track.Ref) error {
	defer s.lock.Unlock()

	expansions := 0
	popped := false // ref came off the queue, so its head is already the next entry
	for {
		if err := m.ctx.Err(); err != nil {
			if ref != "" {
				m.requeue(t, ref)
			}
			s.setPhase(StateIdle)
			return errors.Wrap(err, "playback manager closed")
		}

		conn := s.connection()
		if conn == nil || !conn.IsConnected() {
			if ref != "" {
				m.requeue(t, ref)
			}
			s.setPhase(StateIdle)
			return ErrNotConnected
		}

		if ref == "" {
			next, ok := m.queue.PopNext(t)
			if !ok {
				var channel tenant.ChannelID
				m.store.Mutate(t, func(tn *state.Tenant) {
					tn.ClearCurrent()
					channel = tn.Current.Channel
				})
				s.setPhase(StateIdle)
				m.store.Persist(ctx)
				zlog.Info().Msgf("queue is empty: tenant=%s", t)
				m.sendEvent(Event{Type: EventQueueEmpty, Tenant: t, Channel: channel})
				return ErrQueueEmpty
			}
			ref = next
			popped = true
			m.store.Persist(ctx)
		}

		if m.store.IsBlacklisted(t, ref) {
			m.skipped(t, ref, ReasonBlacklisted, !popped)
			// The next item is ordinary playback even when ref was a back target.
			m.store.Mutate(t, func(tn *state.Tenant) { tn.EndBack() })
			ref = ""
			continue
		}

		s.setPhase(StateResolving)
		m.ensureIdle(ctx, t, s, conn)

		rctx, cancel := context.WithTimeout(ctx, m.cfg.ResolveTimeout)
		res, err := m.resolver.Resolve(rctx, ref)
		cancel()

		switch {
		case err != nil:
			m.failed(ctx, t, ref, err, !popped)
			ref = ""
			continue

		case res.Kind == track.KindList:
			expansions++
			if expansions > maxExpansions {
				m.failed(ctx, t, ref, resolver.Unplayable(errors.Newf("lists nested deeper than %d", maxExpansions)), !popped)
				ref = ""
				continue
			}
			m.expand(t, ref, res, !popped)
			ref = ""
			continue

		case !res.Playable():
			m.failed(ctx, t, ref, resolver.NotFound(errors.New("no playable endpoint")), !popped)
			ref = ""
			continue
		}

		if err := m.start(ctx, t, s, conn, ref, res, popped); err != nil {
			m.failed(ctx, t, ref, errors.Mark(err, ErrPlayback), !popped)
			ref = ""
			continue
		}
		return nil
	}
}

func (m *Manager) start(ctx context.Context, t tenant.ID, s *slot, conn voice.Connection, ref track.Ref, res *track.Resolution, popped bool) error {
	var channel tenant.ChannelID
	m.store.Mutate(t, func(tn *state.Tenant) {
		// from_back and processing_back are kept for back navigation
		tn.Current.Ref = ref
		tn.Current.Title = res.Title
		tn.Current.Position = 0
		channel = tn.Current.Channel
	})
	m.store.Persist(ctx)

	done, err := conn.Play(res.Endpoint)
	if err != nil {
		return errors.Wrap(err, "start playback")
	}

	a := &activePlayback{ref: ref, title: res.Title, popped: popped, done: make(chan struct{})}
	s.setActive(a)
	m.wg.Add(1)
	go m.awaitCompletion(t, s, a, done)

	zlog.Info().Msgf("now playing: tenant=%s title=%s ref=%s", t, res.Title, ref.Short(60))
	m.metrics.Playback("started")
	m.sendEvent(Event{Type: EventNowPlaying, Tenant: t, Channel: channel, Ref: ref, Title: res.Title})
	return nil
}

func (m *Manager) expand(t tenant.ID, ref track.Ref, res *track.Resolution, queued bool) {
	var channel tenant.ChannelID
	m.store.Mutate(t, func(tn *state.Tenant) {
		if queued {
			tn.DropHead(ref)
		}
		channel = tn.Current.Channel
	})
	n := m.queue.InsertFrontMany(t, res.Members)
	zlog.Info().Msgf("list expanded: tenant=%s title=%s members=%d inserted=%d", t, res.Title, len(res.Members), n)
	m.sendEvent(Event{Type: EventListExpanded, Tenant: t, Channel: channel, Ref: ref, Title: res.Title, Count: n})
}

// failed handles an item that could not be played: blacklist when the
// failure is permanent, drop it and notify. queued means ref may still sit
// at the queue head.
func (m *Manager) failed(ctx context.Context, t tenant.ID, ref track.Ref, err error, queued bool) {
	reason := string(resolver.ReasonOf(err))
	if errors.Is(err, ErrPlayback) {
		reason = ReasonPlayback
	}
	if resolver.ShouldBlacklist(err) {
		m.store.AddBlacklist(t, ref)
	}

	var channel tenant.ChannelID
	m.store.Mutate(t, func(tn *state.Tenant) {
		if queued {
			tn.DropHead(ref)
		}
		tn.ClearCurrent()
		channel = tn.Current.Channel
	})
	m.store.Persist(ctx)

	zlog.Warn().Msgf("skipping item: tenant=%s ref=%s reason=%s error=%v", t, ref.Short(60), reason, err)
	m.metrics.Skip(reason)
	m.sendEvent(Event{Type: EventSkipped, Tenant: t, Channel: channel, Ref: ref, Reason: reason, Err: err})
}

func (m *Manager) skipped(t tenant.ID, ref track.Ref, reason string, queued bool) {
	var channel tenant.ChannelID
	m.store.Mutate(t, func(tn *state.Tenant) {
		if queued {
			tn.DropHead(ref)
		}
		channel = tn.Current.Channel
	})
	zlog.Info().Msgf("skipping item: tenant=%s ref=%s reason=%s", t, ref.Short(60), reason)
	m.metrics.Skip(reason)
	m.sendEvent(Event{Type: EventSkipped, Tenant: t, Channel: channel, Ref: ref, Reason: reason})
}

// requeue puts ref back at the queue head unless it is already there.
func (m *Manager) requeue(t tenant.ID, ref track.Ref) {
	m.store.Mutate(t, func(tn *state.Tenant) {
		if len(tn.Queue) > 0 && tn.Queue[0] == ref {
			return
		}
		tn.Queue = append([]track.Ref{ref}, tn.Queue...)
	})
}

// ensureIdle stops residual audio and waits up to IdleGrace for silence.
func (m *Manager) ensureIdle(ctx context.Context, t tenant.ID, s *slot, conn voice.Connection) {
	a := s.current()
	if a == nil && !conn.IsPlaying() && !conn.IsPaused() {
		return
	}

	zlog.Warn().Msgf("residual audio detected, stopping: tenant=%s", t)
	if a != nil {
		a.suppressAdvance.Store(true)
		a.stopping.Store(true)
	}
	_ = conn.Stop()

	deadline := time.Now().Add(m.cfg.IdleGrace)
	for {
		if (a == nil || isClosed(a.done)) && !conn.IsPlaying() && !conn.IsPaused() {
			return
		}
		if !time.Now().Before(deadline) {
			zlog.Warn().Msgf("audio did not settle: tenant=%s grace=%v", t, m.cfg.IdleGrace)
			return
		}
		select {
		case <-ctx.Done():
			return
		case <-time.After(idlePoll):
		}
	}
}

func (m *Manager) awaitCompletion(t tenant.ID, s *slot, a *activePlayback, done <-chan error) {
	defer m.wg.Done()
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("panic in completion handler: tenant=%s panic=%v", t, r)
		}
	}()

	var result error
	select {
	case result = <-done:
	case <-m.ctx.Done():
		s.clearActive(a)
		close(a.done)
		return
	}

	advance := m.complete(t, s, a, result)
	close(a.done)
	if !advance {
		return
	}

	if err := m.Advance(m.ctx, t); err != nil && !errors.Is(err, ErrQueueEmpty) {
		zlog.Warn().Msgf("failed to advance after completion: tenant=%s error=%v", t, err)
	}
}

// complete runs once per started track and reports whether the next item
// should be started.
func (m *Manager) complete(t tenant.ID, s *slot, a *activePlayback, result error) bool {
	s.clearActive(a)

	if errors.Is(result, voice.ErrDisconnected) {
		// Current stays as is for the reconnect path.
		zlog.Warn().Msgf("playback interrupted by disconnect: tenant=%s ref=%s", t, a.ref.Short(60))
		m.store.Persist(context.Background())
		return false
	}

	var (
		fromBack bool
		channel  tenant.ChannelID
		queued   int
	)
	m.store.Mutate(t, func(tn *state.Tenant) {
		if !a.popped {
			tn.DropHead(a.ref)
		}
		fromBack = tn.Current.FromBack
		if !fromBack {
			tn.RecordPlayed(a.ref)
		}
		channel = tn.Current.Channel
		tn.ClearCurrent()
		queued = len(tn.Queue)
	})
	m.store.Persist(context.Background())

	if result != nil {
		err := errors.Mark(result, ErrPlayback)
		zlog.Warn().Msgf("playback error: tenant=%s ref=%s error=%v", t, a.ref.Short(60), err)
		m.metrics.Playback("error")
		m.sendEvent(Event{Type: EventPlaybackError, Tenant: t, Channel: channel, Ref: a.ref, Title: a.title, Reason: ReasonPlayback, Err: err})
	} else {
		zlog.Debug().Msgf("track finished: tenant=%s ref=%s from_back=%v", t, a.ref.Short(60), fromBack)
		m.metrics.Playback("finished")
		m.sendEvent(Event{Type: EventFinished, Tenant: t, Channel: channel, Ref: a.ref, Title: a.title})
	}

	if a.suppressAdvance.Load() {
		return false
	}
	return queued > 0 || fromBack
}

// Skip stops the active track; its completion starts the next item.
// A second skip while the first is in progress, or within SkipWindow of
// it, is a no-op.
func (m *Manager) Skip(t tenant.ID) error {
	return m.skip(t, m.cfg.SkipWindow)
}

// Interrupt stops the active track so the queue head plays now. It ignores
// the skip window.
func (m *Manager) Interrupt(t tenant.ID) error {
	return m.skip(t, 0)
}

func (m *Manager) skip(t tenant.ID, window time.Duration) error {
	s := m.slots.Get(t)
	if !s.lock.TryLock() {
		return ErrBusy
	}
	a := s.current()
	if a == nil || s.skipSettling(window) || !a.stopping.CompareAndSwap(false, true) {
		s.lock.Unlock()
		return ErrNotPlaying
	}
	s.markSkip()
	conn := s.connection()
	s.lock.Unlock()

	if conn != nil {
		if err := conn.Stop(); err != nil {
			return errors.Wrap(err, "stop playback")
		}
	}

	zlog.Info().Msgf("skipped by user: tenant=%s ref=%s", t, a.ref.Short(60))
	m.metrics.Skip(ReasonUser)
	m.sendEvent(Event{Type: EventSkipped, Tenant: t, Channel: m.store.Current(t).Channel, Ref: a.ref, Title: a.title, Reason: ReasonUser})
	return nil
}

// StopActive stops the active track without advancing and waits up to
// grace for its completion to finish. Reports whether it settled.
func (m *Manager) StopActive(t tenant.ID, grace time.Duration) bool {
	s := m.slots.Get(t)
	a := s.current()
	if a == nil {
		return true
	}
	a.suppressAdvance.Store(true)
	a.stopping.Store(true)
	if conn := s.connection(); conn != nil {
		_ = conn.Stop()
	}

	select {
	case <-a.done:
		return true
	case <-time.After(grace):
		zlog.Warn().Msgf("stopped track did not settle: tenant=%s grace=%v", t, grace)
		return false
	}
}

// Pause pauses the active track.
func (m *Manager) Pause(t tenant.ID) error {
	conn := m.Connection(t)
	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}
	if !conn.IsPlaying() {
		return ErrNotPlaying
	}
	if err := conn.Pause(); err != nil {
		return errors.Wrap(err, "pause")
	}
	m.sendEvent(Event{Type: EventPaused, Tenant: t, Channel: m.store.Current(t).Channel})
	return nil
}

// Resume resumes a paused track.
func (m *Manager) Resume(t tenant.ID) error {
	conn := m.Connection(t)
	if conn == nil || !conn.IsConnected() {
		return ErrNotConnected
	}
	if !conn.IsPaused() {
		return ErrNotPaused
	}
	if err := conn.Resume(); err != nil {
		return errors.Wrap(err, "resume")
	}
	m.sendEvent(Event{Type: EventResumed, Tenant: t, Channel: m.store.Current(t).Channel})
	return nil
}

// sendEvent sends an event without blocking.
func (m *Manager) sendEvent(e Event) {
	m.eventMu.RLock()
	defer m.eventMu.RUnlock()
	if m.closed {
		return
	}
	select {
	case m.eventCh <- e:
	default:
		zlog.Warn().Msgf("event channel full, dropping event: type=%s tenant=%s", e.Type, e.Tenant)
	}
}

func isClosed(ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
