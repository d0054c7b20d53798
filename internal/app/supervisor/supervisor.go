// Package supervisor keeps voice connections alive and recovers from drops.
package supervisor

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tunebox/internal/app/playback"
	"github.com/osa030/tunebox/internal/app/queue"
	"github.com/osa030/tunebox/internal/app/resolver"
	"github.com/osa030/tunebox/internal/app/session/state"
	"github.com/osa030/tunebox/internal/domain/tenant"
	"github.com/osa030/tunebox/internal/domain/track"
	"github.com/osa030/tunebox/internal/infra/metrics"
	"github.com/osa030/tunebox/internal/infra/voice"
)

// ErrConnection is returned when a voice connection cannot be established.
var ErrConnection = errors.New("voice connection failed")

const (
	backoffStep   = 2 * time.Second
	silenceLength = 20 * time.Millisecond
	releaseSettle = 2 * time.Second // Wait for the interrupted track's completion
)

// Keepalive cycle results.
const (
	keepaliveSent         = "sent"
	keepaliveBusy         = "busy"
	keepaliveLocked       = "locked"
	keepaliveDisconnected = "disconnected"
	keepaliveError        = "error"
)

// Config represents supervisor configuration.
type Config struct {
	ConnectTimeout    time.Duration // Per attempt
	MaxRetries        int
	MaxBackoff        time.Duration // Cap of the linear backoff between attempts
	Stabilize         time.Duration // Wait after connecting before verifying
	KeepaliveInterval time.Duration
	ReconnectDelay    time.Duration // Wait before reconnecting after a drop
	ValidateTimeout   time.Duration // Bound on re-resolving the interrupted track
}

type watch struct {
	conn     voice.Connection
	cancel   context.CancelFunc
	released atomic.Bool
}

// Supervisor owns connection lifecycles for every tenant.
type Supervisor struct {
	cfg      Config
	dialer   voice.Dialer
	playback *playback.Manager
	store    *state.Store
	queue    *queue.Scheduler
	resolver resolver.Resolver
	metrics  *metrics.Metrics

	mu      sync.Mutex
	watches map[tenant.ID]*watch

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates a supervisor.
func New(cfg Config, dialer voice.Dialer, pb *playback.Manager, store *state.Store, sched *queue.Scheduler, res resolver.Resolver, m *metrics.Metrics) *Supervisor {
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = 240 * time.Second
	}
	if cfg.ValidateTimeout <= 0 {
		cfg.ValidateTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Supervisor{
		cfg:      cfg,
		dialer:   dialer,
		playback: pb,
		store:    store,
		queue:    sched,
		resolver: res,
		metrics:  m,
		watches:  make(map[tenant.ID]*watch),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Close stops every keepalive and watch loop. Connections stay open.
func (s *Supervisor) Close() {
	s.cancel()
	s.wg.Wait()
}

// Connect connects to ch, retrying with a capped linear backoff.
func (s *Supervisor) Connect(ctx context.Context, t tenant.ID, ch tenant.ChannelID, maxRetries int) (voice.Connection, error) {
	if maxRetries < 1 {
		maxRetries = 1
	}

	var lastErr error
	for attempt := 1; attempt <= maxRetries; attempt++ {
		conn, err := s.connectOnce(ctx, t, ch)
		if err == nil {
			zlog.Info().Msgf("voice connected: tenant=%s channel=%s attempt=%d", t, ch, attempt)
			s.metrics.Connect("connect", true)
			return conn, nil
		}
		lastErr = err
		zlog.Warn().Msgf("voice connect failed: tenant=%s channel=%s attempt=%d/%d error=%v", t, ch, attempt, maxRetries, err)

		if attempt == maxRetries {
			break
		}
		if err := sleep(ctx, min(s.cfg.MaxBackoff, backoffStep*time.Duration(attempt))); err != nil {
			lastErr = err
			break
		}
	}

	s.metrics.Connect("connect", false)
	return nil, errors.Mark(errors.Wrapf(lastErr, "connect to %s", ch), ErrConnection)
}

func (s *Supervisor) connectOnce(ctx context.Context, t tenant.ID, ch tenant.ChannelID) (voice.Connection, error) {
	actx, cancel := context.WithTimeout(ctx, s.cfg.ConnectTimeout)
	defer cancel()

	conn, err := s.dialer.Connect(actx, t, ch)
	if err != nil {
		return nil, err
	}
	if err := sleep(ctx, s.cfg.Stabilize); err != nil {
		_ = conn.Disconnect(context.Background())
		return nil, err
	}
	if !conn.IsConnected() {
		return nil, errors.New("connection dropped while stabilizing")
	}
	return conn, nil
}

// Supervise attaches conn to playback and starts its keepalive and drop
// watch. A previous connection of the tenant stops being watched.
func (s *Supervisor) Supervise(t tenant.ID, conn voice.Connection) {
	s.playback.Attach(t, conn)

	ctx, cancel := context.WithCancel(s.ctx)
	w := &watch{conn: conn, cancel: cancel}

	s.mu.Lock()
	if old := s.watches[t]; old != nil {
		old.released.Store(true)
		old.cancel()
	}
	s.watches[t] = w
	s.mu.Unlock()

	s.wg.Add(2)
	go func() {
		defer s.wg.Done()
		s.Keepalive(ctx, t, conn)
	}()
	go func() {
		defer s.wg.Done()
		s.watch(ctx, t, w)
	}()
}

// Release disconnects the tenant on purpose. No reconnection follows.
// It returns once the interrupted track, if any, has been wound down.
func (s *Supervisor) Release(ctx context.Context, t tenant.ID) error {
	s.mu.Lock()
	w := s.watches[t]
	delete(s.watches, t)
	s.mu.Unlock()

	if w != nil {
		w.released.Store(true)
		w.cancel()
	}

	conn := s.playback.Detach(t)
	if conn == nil {
		return nil
	}
	zlog.Info().Msgf("releasing voice connection: tenant=%s channel=%s", t, conn.Channel())
	err := conn.Disconnect(ctx)
	s.playback.StopActive(t, releaseSettle)
	return err
}

func (s *Supervisor) watch(ctx context.Context, t tenant.ID, w *watch) {
	select {
	case <-ctx.Done():
		return
	case <-w.conn.Closed():
	}
	if w.released.Load() {
		return
	}

	zlog.Warn().Msgf("voice connection dropped unexpectedly: tenant=%s channel=%s", t, w.conn.Channel())
	if err := s.OnUnexpectedDisconnect(s.ctx, t); err != nil {
		zlog.Error().Msgf("failed to recover voice connection: tenant=%s error=%v", t, err)
	}
}

// Keepalive sends a silent frame every interval while the connection is
// idle. Cycles that would contend with playback are skipped.
func (s *Supervisor) Keepalive(ctx context.Context, t tenant.ID, conn voice.Connection) {
	ticker := time.NewTicker(s.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-conn.Closed():
			return
		case <-ticker.C:
			result := s.keepaliveOnce(t, conn)
			s.metrics.Keepalive(result)
			zlog.Debug().Msgf("keepalive: tenant=%s result=%s", t, result)
		}
	}
}

func (s *Supervisor) keepaliveOnce(t tenant.ID, conn voice.Connection) string {
	if !conn.IsConnected() {
		return keepaliveDisconnected
	}
	if conn.IsPlaying() || conn.IsPaused() {
		return keepaliveBusy
	}
	unlock, ok := s.playback.TryLock(t)
	if !ok {
		return keepaliveLocked
	}
	defer unlock()

	if err := conn.PlaySilence(silenceLength); err != nil {
		zlog.Warn().Msgf("keepalive failed: tenant=%s error=%v", t, err)
		return keepaliveError
	}
	return keepaliveSent
}

// OnUnexpectedDisconnect reconnects a tenant that still has work to do and
// resumes playback. State is persisted either way.
func (s *Supervisor) OnUnexpectedDisconnect(ctx context.Context, t tenant.ID) error {
	defer s.store.Persist(ctx)

	if !s.store.HasPendingWork(t) {
		zlog.Info().Msgf("no pending work, not reconnecting: tenant=%s", t)
		return nil
	}

	if err := sleep(ctx, s.cfg.ReconnectDelay); err != nil {
		return err
	}
	return s.Recover(ctx, t)
}

// Recover connects the tenant to the first reachable channel that has
// listeners and resumes playback there.
func (s *Supervisor) Recover(ctx context.Context, t tenant.ID) error {
	chans, err := s.dialer.ActiveChannels(ctx, t)
	if err != nil {
		return errors.Wrap(err, "failed to list channels")
	}

	for _, ch := range chans {
		conn, err := s.Connect(ctx, t, ch, s.cfg.MaxRetries)
		if err != nil {
			continue
		}
		s.Supervise(t, conn)
		s.metrics.Connect("reconnect", true)
		zlog.Info().Msgf("reconnected: tenant=%s channel=%s", t, ch)
		return s.ResumeAfterReconnect(ctx, t)
	}

	s.metrics.Connect("reconnect", false)
	return errors.Mark(errors.Newf("no reachable channel among %d", len(chans)), ErrConnection)
}

// ResumeAfterReconnect puts the interrupted track back at the queue head
// when it still resolves, then continues playback.
func (s *Supervisor) ResumeAfterReconnect(ctx context.Context, t tenant.ID) error {
	cur := s.store.Current(t)
	if cur.Ref != "" {
		if head, ok := s.queue.Peek(t); !ok || head != cur.Ref {
			if s.stillPlayable(ctx, cur.Ref) {
				s.store.Mutate(t, func(tn *state.Tenant) {
					tn.Queue = append([]track.Ref{cur.Ref}, tn.Queue...)
				})
				zlog.Info().Msgf("resuming interrupted track: tenant=%s ref=%s", t, cur.Ref.Short(60))
			} else {
				s.store.Mutate(t, func(tn *state.Tenant) { tn.ClearCurrent() })
				zlog.Warn().Msgf("interrupted track no longer resolves, dropping: tenant=%s ref=%s", t, cur.Ref.Short(60))
			}
		}
	}
	s.store.Persist(ctx)

	if s.queue.Len(t) == 0 {
		return nil
	}
	err := s.playback.Advance(ctx, t)
	if errors.Is(err, playback.ErrQueueEmpty) {
		return nil
	}
	return err
}

// forgetter is implemented by resolvers that cache results.
type forgetter interface {
	Forget(ref track.Ref)
}

func (s *Supervisor) stillPlayable(ctx context.Context, ref track.Ref) bool {
	if f, ok := s.resolver.(forgetter); ok {
		f.Forget(ref)
	}
	ctx, cancel := context.WithTimeout(ctx, s.cfg.ValidateTimeout)
	defer cancel()
	res, err := s.resolver.Resolve(ctx, ref)
	if err != nil {
		return false
	}
	return res.Playable() || res.Kind == track.KindList
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
