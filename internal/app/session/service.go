// Package session provides the per-tenant command surface.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tunebox/internal/app/notification"
	"github.com/osa030/tunebox/internal/app/playback"
	"github.com/osa030/tunebox/internal/app/queue"
	"github.com/osa030/tunebox/internal/app/resolver"
	"github.com/osa030/tunebox/internal/app/session/registry"
	"github.com/osa030/tunebox/internal/app/session/state"
	"github.com/osa030/tunebox/internal/app/supervisor"
	"github.com/osa030/tunebox/internal/domain/tenant"
	"github.com/osa030/tunebox/internal/domain/track"
	"github.com/osa030/tunebox/internal/infra/metrics"
)

var (
	ErrEmptyRef       = errors.New("empty ref")
	ErrNothingToQueue = errors.New("nothing to queue")
	ErrReload         = errors.New("failed to reload state")
)

// Config represents command surface configuration.
type Config struct {
	ResolveTimeout  time.Duration
	ListPreviewSize int
	ConnectRetries  int
	SkipResume      bool // Do not auto-resume tenants on Start
}

// Deps holds the components the service drives.
type Deps struct {
	Store      *state.Store
	Queue      *queue.Scheduler
	Resolver   resolver.Resolver
	Playback   *playback.Manager
	Navigator  *playback.Navigator
	Supervisor *supervisor.Supervisor
	Notifier   *notification.Manager
	Metrics    *metrics.Metrics
}

// EnqueueResult describes what an enqueue added.
type EnqueueResult struct {
	Title    string
	Kind     track.Kind
	Position int // 1-indexed position of the first added ref
	Added    int
	Dropped  int // List members left out because the queue filled up
	Started  bool
}

// InterludeResult describes what an interlude inserted.
type InterludeResult struct {
	Added       int
	Interrupted bool // The playing track was stopped in favor of the interlude
}

// ClearResult describes what a clear removed.
type ClearResult struct {
	Removed   int
	Remaining int
}

// Status represents the current state of a tenant.
type Status struct {
	QueueLen       int
	PlayedCount    int
	BlacklistCount int
	CurrentRef     track.Ref
	CurrentTitle   string
	BackHistoryLen int
	FromBack       bool
	State          playback.State
	Connected      bool
	VoiceChannel   tenant.ChannelID
}

// Service serializes front-end commands per tenant and drives playback.
type Service struct {
	cfg Config

	store      *state.Store
	queue      *queue.Scheduler
	resolver   resolver.Resolver
	playback   *playback.Manager
	navigator  *playback.Navigator
	supervisor *supervisor.Supervisor
	notifier   *notification.Manager
	metrics    *metrics.Metrics

	locks *registry.Registry[sync.Mutex]

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewService creates a command service.
func NewService(cfg Config, deps Deps) *Service {
	if cfg.ResolveTimeout <= 0 {
		cfg.ResolveTimeout = 30 * time.Second
	}
	if cfg.ListPreviewSize <= 0 {
		cfg.ListPreviewSize = 10
	}
	if cfg.ConnectRetries <= 0 {
		cfg.ConnectRetries = 3
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:        cfg,
		store:      deps.Store,
		queue:      deps.Queue,
		resolver:   deps.Resolver,
		playback:   deps.Playback,
		navigator:  deps.Navigator,
		supervisor: deps.Supervisor,
		notifier:   deps.Notifier,
		metrics:    deps.Metrics,
		locks:      registry.New(func(tenant.ID) *sync.Mutex { return &sync.Mutex{} }),
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Start loads the last snapshot, starts the event loop and resumes tenants
// that still had work queued.
func (s *Service) Start(ctx context.Context) error {
	if !s.store.Load(ctx) {
		zlog.Warn().Msg("starting with empty state")
	}

	s.wg.Add(1)
	go s.playbackLoop()

	tenants := s.store.Tenants()
	zlog.Info().Msgf("session service started: tenants=%d", len(tenants))
	if s.cfg.SkipResume {
		return nil
	}

	for _, t := range tenants {
		if !s.store.HasPendingWork(t) {
			continue
		}
		s.wg.Add(1)
		go func(t tenant.ID) {
			defer s.wg.Done()
			zlog.Info().Msgf("auto-resuming tenant: tenant=%s", t)
			if err := s.supervisor.Recover(s.ctx, t); err != nil {
				zlog.Warn().Msgf("auto-resume failed: tenant=%s error=%v", t, err)
			}
		}(t)
	}
	return nil
}

// Close stops background work and persists state.
func (s *Service) Close(ctx context.Context) {
	s.cancel()
	s.supervisor.Close()
	s.playback.Close()
	s.wg.Wait()

	if s.store.Persist(ctx) {
		zlog.Info().Msg("state saved on shutdown")
	}
	s.notifier.Close()
}

// GetNotificationManager returns the notification manager.
func (s *Service) GetNotificationManager() *notification.Manager {
	return s.notifier
}

func (s *Service) lock(t tenant.ID) func() {
	mu := s.locks.Get(t)
	mu.Lock()
	return mu.Unlock
}

func (s *Service) resolve(ctx context.Context, ref track.Ref) (*track.Resolution, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ResolveTimeout)
	defer cancel()
	return s.resolver.Resolve(ctx, ref)
}

func (s *Service) connected(t tenant.ID) bool {
	conn := s.playback.Connection(t)
	return conn != nil && conn.IsConnected()
}

// Enqueue resolves ref and appends it to the queue. Lists are expanded up
// to capacity. Playback starts when the tenant is connected and idle.
func (s *Service) Enqueue(ctx context.Context, t tenant.ID, channel tenant.ChannelID, ref track.Ref) (*EnqueueResult, error) {
	if ref == "" {
		return nil, ErrEmptyRef
	}
	defer s.lock(t)()
	if channel != "" {
		s.store.SetChannel(t, channel)
	}

	res, err := s.resolve(ctx, ref)
	if err != nil {
		zlog.Warn().Msgf("enqueue rejected: tenant=%s ref=%s reason=%s", t, ref.Short(60), resolver.ReasonOf(err))
		return nil, err
	}

	result := &EnqueueResult{Title: res.Title, Kind: res.Kind}
	switch {
	case res.Kind == track.KindList:
		if len(res.Members) == 0 {
			return nil, errors.Mark(errors.Newf("%s is an empty list", ref.Short(60)), resolver.ErrUnplayable)
		}
		result.Position = s.queue.Len(t) + 1
		result.Added = s.queue.EnqueueMany(t, res.Members)
		result.Dropped = len(res.Members) - result.Added
		if result.Added == 0 {
			return nil, errors.Wrapf(state.ErrCapacity, "queue is full (%d)", s.store.Limits().MaxQueueSize)
		}
	case res.Playable():
		pos, err := s.queue.EnqueueSingle(t, ref)
		if err != nil {
			return nil, err
		}
		result.Position = pos
		result.Added = 1
	default:
		return nil, errors.Mark(errors.Newf("%s is not playable", ref.Short(60)), resolver.ErrUnplayable)
	}

	s.store.Persist(ctx)
	zlog.Info().Msgf("enqueued: tenant=%s ref=%s added=%d position=%d", t, ref.Short(60), result.Added, result.Position)

	if s.connected(t) && s.playback.State(t) == playback.StateIdle {
		err := s.playback.Advance(ctx, t)
		result.Started = err == nil
		if err != nil && !errors.Is(err, playback.ErrBusy) {
			zlog.Debug().Msgf("advance after enqueue: tenant=%s error=%v", t, err)
		}
	}
	return result, nil
}

// PlayOrResume resumes a paused track, or starts the queue when idle.
func (s *Service) PlayOrResume(ctx context.Context, t tenant.ID, channel tenant.ChannelID) (playback.State, error) {
	defer s.lock(t)()
	if !s.connected(t) {
		return s.playback.State(t), playback.ErrNotConnected
	}
	if channel != "" {
		s.store.SetChannel(t, channel)
	}

	switch st := s.playback.State(t); st {
	case playback.StatePaused:
		if err := s.playback.Resume(t); err != nil {
			return st, err
		}
		return playback.StatePlaying, nil
	case playback.StateIdle:
		if err := s.playback.Advance(ctx, t); err != nil {
			return s.playback.State(t), err
		}
		return s.playback.State(t), nil
	default:
		return st, nil
	}
}

// Skip stops the playing track; the next queued item follows.
func (s *Service) Skip(_ context.Context, t tenant.ID) error {
	defer s.lock(t)()
	return s.playback.Skip(t)
}

// Back replays the previous track.
func (s *Service) Back(ctx context.Context, t tenant.ID, channel tenant.ChannelID) (track.Ref, error) {
	defer s.lock(t)()
	return s.navigator.Back(ctx, t, channel)
}

// Interlude puts refs ahead of everything queued and plays them now.
// Lists are expanded in place.
func (s *Service) Interlude(ctx context.Context, t tenant.ID, channel tenant.ChannelID, refs []track.Ref) (*InterludeResult, error) {
	defer s.lock(t)()
	if channel != "" {
		s.store.SetChannel(t, channel)
	}

	links := make([]track.Ref, 0, len(refs))
	for _, ref := range refs {
		if ref == "" {
			continue
		}
		res, err := s.resolve(ctx, ref)
		if err != nil {
			return nil, err
		}
		switch {
		case res.Kind == track.KindList:
			links = append(links, res.Members...)
		case res.Playable():
			links = append(links, ref)
		}
	}
	if len(links) == 0 {
		return nil, ErrNothingToQueue
	}

	result := &InterludeResult{Added: s.queue.InsertFrontMany(t, links)}
	s.store.Persist(ctx)
	zlog.Info().Msgf("interlude queued: tenant=%s added=%d", t, result.Added)

	if !s.connected(t) {
		return result, nil
	}
	switch s.playback.State(t) {
	case playback.StatePlaying, playback.StatePaused:
		result.Interrupted = s.playback.Interrupt(t) == nil
	case playback.StateIdle:
		if err := s.playback.Advance(ctx, t); err != nil && !errors.Is(err, playback.ErrBusy) {
			return result, err
		}
	}
	return result, nil
}

// Clear removes the first n queued refs, or all of them when n <= 0.
func (s *Service) Clear(ctx context.Context, t tenant.ID, n int) ClearResult {
	defer s.lock(t)()

	var removed int
	if n <= 0 {
		removed = s.queue.Clear(t)
	} else {
		removed = s.queue.TrimFront(t, n)
	}
	s.store.Persist(ctx)

	result := ClearResult{Removed: removed, Remaining: s.queue.Len(t)}
	zlog.Info().Msgf("queue cleared: tenant=%s removed=%d remaining=%d", t, result.Removed, result.Remaining)
	return result
}

// Status returns a summary of the tenant.
func (s *Service) Status(t tenant.ID) Status {
	st := s.store.Status(t)
	status := Status{
		QueueLen:       st.QueueLen,
		PlayedCount:    st.PlayedCount,
		BlacklistCount: st.BlacklistCount,
		CurrentRef:     st.CurrentRef,
		CurrentTitle:   st.CurrentTitle,
		BackHistoryLen: st.BackHistoryLen,
		FromBack:       st.FromBack,
		State:          s.playback.State(t),
	}
	if conn := s.playback.Connection(t); conn != nil && conn.IsConnected() {
		status.Connected = true
		status.VoiceChannel = conn.Channel()
	}
	return status
}

// List returns up to limit refs from the queue head and the queue length.
func (s *Service) List(t tenant.ID, limit int) ([]track.Ref, int) {
	if limit <= 0 {
		limit = s.cfg.ListPreviewSize
	}
	return s.queue.List(t, limit)
}

// Join connects the tenant to a voice channel. A track interrupted by an
// earlier leave or disconnect is resumed.
func (s *Service) Join(ctx context.Context, t tenant.ID, ch tenant.ChannelID) error {
	defer s.lock(t)()

	if conn := s.playback.Connection(t); conn != nil && conn.IsConnected() {
		if conn.Channel() == ch {
			return nil
		}
		if err := s.supervisor.Release(ctx, t); err != nil {
			zlog.Warn().Msgf("failed to leave previous channel: tenant=%s error=%v", t, err)
		}
	}

	conn, err := s.supervisor.Connect(ctx, t, ch, s.cfg.ConnectRetries)
	if err != nil {
		return err
	}
	s.supervisor.Supervise(t, conn)
	s.updateActiveTenants()
	zlog.Info().Msgf("joined voice channel: tenant=%s channel=%s", t, ch)

	if s.store.Current(t).Ref != "" && s.playback.State(t) == playback.StateIdle {
		if err := s.supervisor.ResumeAfterReconnect(ctx, t); err != nil {
			zlog.Warn().Msgf("failed to resume after join: tenant=%s error=%v", t, err)
		}
	}
	return nil
}

// Leave disconnects the tenant. The interrupted track stays current so it
// can resume on the next join.
func (s *Service) Leave(ctx context.Context, t tenant.ID) error {
	defer s.lock(t)()

	if !s.connected(t) {
		return playback.ErrNotConnected
	}
	err := s.supervisor.Release(ctx, t)
	s.store.Persist(ctx)
	s.updateActiveTenants()
	zlog.Info().Msgf("left voice channel: tenant=%s", t)
	return err
}

// Pause pauses the playing track.
func (s *Service) Pause(_ context.Context, t tenant.ID) error {
	defer s.lock(t)()
	return s.playback.Pause(t)
}

// Resume resumes a paused track.
func (s *Service) Resume(_ context.Context, t tenant.ID) error {
	defer s.lock(t)()
	return s.playback.Resume(t)
}

// Save persists every tenant now.
func (s *Service) Save(ctx context.Context) bool {
	return s.store.Persist(ctx)
}

// Reload replaces in-memory state with the last snapshot.
func (s *Service) Reload(ctx context.Context) error {
	if !s.store.Load(ctx) {
		return ErrReload
	}
	return nil
}

// RemoveTenant disconnects a tenant and forgets all of its state.
func (s *Service) RemoveTenant(ctx context.Context, t tenant.ID) error {
	unlock := s.lock(t)
	s.playback.StopActive(t, time.Second)
	if err := s.supervisor.Release(ctx, t); err != nil {
		zlog.Warn().Msgf("failed to release connection: tenant=%s error=%v", t, err)
	}
	s.playback.Forget(t)
	s.store.RemoveTenant(t)
	unlock()

	s.locks.Remove(t)
	s.store.Persist(ctx)
	s.updateActiveTenants()
	zlog.Info().Msgf("tenant removed: tenant=%s", t)
	return nil
}

func (s *Service) updateActiveTenants() {
	n := 0
	for _, t := range s.store.Tenants() {
		if s.connected(t) {
			n++
		}
	}
	s.metrics.SetActiveTenants(n)
}

// playbackLoop forwards playback events to subscribers.
func (s *Service) playbackLoop() {
	defer s.wg.Done()
	events := s.playback.Events()
	for {
		select {
		case <-s.ctx.Done():
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			s.handlePlaybackEvent(e)
		}
	}
}

func (s *Service) handlePlaybackEvent(e playback.Event) {
	defer func() {
		if r := recover(); r != nil {
			zlog.Error().Msgf("playback event handler panicked: type=%s panic=%v", e.Type, r)
		}
	}()

	zlog.Debug().Msgf("playback event: type=%s tenant=%s ref=%s", e.Type, e.Tenant, e.Ref.Short(60))
	s.notifier.Broadcast(notification.FromEvent(e))
}
