package playback

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/tunebox/internal/app/queue"
	"github.com/osa030/tunebox/internal/app/resolver"
	"github.com/osa030/tunebox/internal/app/session/state"
	"github.com/osa030/tunebox/internal/domain/tenant"
	"github.com/osa030/tunebox/internal/domain/track"
	"github.com/osa030/tunebox/internal/infra/voice/sim"
)

const tid tenant.ID = "g1"

type fakeResolver struct {
	mu    sync.Mutex
	calls map[track.Ref]int
	lists map[track.Ref][]track.Ref
	fails map[track.Ref]error
	gates map[track.Ref]chan struct{}
}

func newFakeResolver() *fakeResolver {
	return &fakeResolver{
		calls: make(map[track.Ref]int),
		lists: make(map[track.Ref][]track.Ref),
		fails: make(map[track.Ref]error),
		gates: make(map[track.Ref]chan struct{}),
	}
}

func (f *fakeResolver) Resolve(ctx context.Context, ref track.Ref) (*track.Resolution, error) {
	f.mu.Lock()
	f.calls[ref]++
	gate := f.gates[ref]
	members, isList := f.lists[ref]
	err := f.fails[ref]
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, resolver.Timeout(ctx.Err())
		}
	}
	if err != nil {
		return nil, err
	}
	if isList {
		return track.NewList("list "+string(ref), members), nil
	}
	return track.NewSingle("title "+string(ref), "ep:"+string(ref)), nil
}

func (f *fakeResolver) Calls(ref track.Ref) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[ref]
}

func (f *fakeResolver) gate(ref track.Ref) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.gates[ref] = ch
	return ch
}

type harness struct {
	store *state.Store
	sched *queue.Scheduler
	res   *fakeResolver
	mgr   *Manager
	nav   *Navigator
	conn  *sim.Conn
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := state.NewStore(state.Config{Limits: state.DefaultLimits()}, nil, nil)
	sched := queue.NewScheduler(store)
	res := newFakeResolver()
	mgr := NewManager(Config{
		ResolveTimeout: time.Second,
		IdleGrace:      200 * time.Millisecond,
		BackGrace:      time.Second,
		SkipWindow:     300 * time.Millisecond,
	}, store, sched, res, nil)
	t.Cleanup(mgr.Close)

	d := sim.NewDialer(sim.Config{})
	conn, err := d.Connect(context.Background(), tid, "voice")
	require.NoError(t, err)
	mgr.Attach(tid, conn)
	store.SetChannel(tid, "text")

	return &harness{
		store: store,
		sched: sched,
		res:   res,
		mgr:   mgr,
		nav:   NewNavigator(mgr),
		conn:  d.Conn(tid),
	}
}

func (h *harness) enqueue(t *testing.T, refs ...track.Ref) {
	t.Helper()
	require.Equal(t, len(refs), h.sched.EnqueueMany(tid, refs))
}

// completeCurrent finishes the playing track and waits for the next one.
func (h *harness) completeCurrent(t *testing.T, next track.Ref) {
	t.Helper()
	h.conn.Complete()
	h.waitCurrent(t, next)
}

func (h *harness) waitCurrent(t *testing.T, ref track.Ref) {
	t.Helper()
	require.Eventually(t, func() bool {
		if h.store.Current(tid).Ref != ref {
			return false
		}
		if ref == "" {
			return h.mgr.State(tid) == StateIdle
		}
		return h.mgr.State(tid) == StatePlaying
	}, 2*time.Second, 5*time.Millisecond, "current never became %q", ref)
}

func waitEvent(t *testing.T, mgr *Manager, typ EventType) Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-mgr.Events():
			if e.Type == typ {
				return e
			}
		case <-timeout:
			t.Fatalf("event %s not received", typ)
			return Event{}
		}
	}
}

func TestManager_PlaysQueueInOrder(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, "A", "B", "C")
	assert.Equal(t, 3, h.store.Status(tid).QueueLen)

	require.NoError(t, h.mgr.Advance(context.Background(), tid))
	h.waitCurrent(t, "A")
	assert.Equal(t, []track.Ref{"B", "C"}, h.store.Queue(tid))

	e := waitEvent(t, h.mgr, EventNowPlaying)
	assert.Equal(t, track.Ref("A"), e.Ref)
	assert.Equal(t, "title A", e.Title)
	assert.Equal(t, tenant.ChannelID("text"), e.Channel)

	h.completeCurrent(t, "B")
	assert.Equal(t, []track.Ref{"A"}, h.store.Played(tid))
	assert.Equal(t, []track.Ref{"C"}, h.store.Queue(tid))

	h.completeCurrent(t, "C")
	h.completeCurrent(t, "")

	assert.Equal(t, []track.Ref{"A", "B", "C"}, h.store.Played(tid))
	assert.Equal(t, []string{"ep:A", "ep:B", "ep:C"}, h.conn.Played())
	assert.Empty(t, h.store.Queue(tid))
}

func TestManager_AdvanceOnEmptyQueue(t *testing.T) {
	h := newHarness(t)

	err := h.mgr.Advance(context.Background(), tid)
	assert.ErrorIs(t, err, ErrQueueEmpty)
	waitEvent(t, h.mgr, EventQueueEmpty)
}

func TestManager_NotConnectedKeepsQueue(t *testing.T) {
	h := newHarness(t)
	h.mgr.Detach(tid)
	h.enqueue(t, "A")

	assert.ErrorIs(t, h.mgr.Advance(context.Background(), tid), ErrNotConnected)
	assert.ErrorIs(t, h.mgr.Play(context.Background(), tid, "B"), ErrNotConnected)
	assert.Equal(t, []track.Ref{"B", "A"}, h.store.Queue(tid))
}

func TestManager_FailedResolveIsBlacklistedAndNeverResolvedAgain(t *testing.T) {
	h := newHarness(t)
	h.res.fails["bad"] = resolver.Unplayable(errors.New("drm"))
	h.enqueue(t, "bad", "good")

	require.NoError(t, h.mgr.Advance(context.Background(), tid))
	h.waitCurrent(t, "good")

	e := waitEvent(t, h.mgr, EventSkipped)
	assert.Equal(t, track.Ref("bad"), e.Ref)
	assert.Equal(t, string(resolver.ReasonUnplayable), e.Reason)
	assert.True(t, h.store.IsBlacklisted(tid, "bad"))

	h.enqueue(t, "bad", "next")
	h.completeCurrent(t, "next")

	assert.Equal(t, 1, h.res.Calls("bad"))
	assert.Equal(t, []track.Ref{"good"}, h.store.Played(tid))

	assert.NoError(t, h.mgr.Skip(tid))
	h.waitCurrent(t, "")
	assert.ErrorIs(t, h.mgr.Play(context.Background(), tid, "bad"), ErrQueueEmpty)
	assert.Equal(t, 1, h.res.Calls("bad"))
}

func TestManager_TimeoutIsBlacklisted(t *testing.T) {
	h := newHarness(t)
	h.mgr.cfg.ResolveTimeout = 30 * time.Millisecond
	h.res.gate("slow")
	h.enqueue(t, "slow", "fast")

	require.NoError(t, h.mgr.Advance(context.Background(), tid))
	h.waitCurrent(t, "fast")

	e := waitEvent(t, h.mgr, EventSkipped)
	assert.Equal(t, string(resolver.ReasonTimeout), e.Reason)
	assert.True(t, h.store.IsBlacklisted(tid, "slow"))
}

func TestManager_NotFoundIsSkippedWithoutBlacklist(t *testing.T) {
	h := newHarness(t)
	h.res.fails["gone"] = resolver.NotFound(errors.New("404"))
	h.enqueue(t, "gone", "B")

	require.NoError(t, h.mgr.Advance(context.Background(), tid))
	h.waitCurrent(t, "B")

	e := waitEvent(t, h.mgr, EventSkipped)
	assert.Equal(t, string(resolver.ReasonNotFound), e.Reason)
	assert.False(t, h.store.IsBlacklisted(tid, "gone"))
}

func TestManager_ListExpandsAtHead(t *testing.T) {
	h := newHarness(t)
	h.res.lists["L"] = []track.Ref{"x", "y"}
	h.enqueue(t, "L", "z")

	require.NoError(t, h.mgr.Advance(context.Background(), tid))
	h.waitCurrent(t, "x")
	assert.Equal(t, []track.Ref{"y", "z"}, h.store.Queue(tid))

	e := waitEvent(t, h.mgr, EventListExpanded)
	assert.Equal(t, 2, e.Count)
}

func TestManager_SelfReferencingListIsBounded(t *testing.T) {
	h := newHarness(t)
	h.res.lists["loop"] = []track.Ref{"loop"}
	h.enqueue(t, "loop", "B")

	require.NoError(t, h.mgr.Advance(context.Background(), tid))
	h.waitCurrent(t, "B")
	assert.True(t, h.store.IsBlacklisted(tid, "loop"))
}

func TestManager_BusyWhileResolving(t *testing.T) {
	h := newHarness(t)
	gate := h.res.gate("A")
	h.enqueue(t, "A", "B")

	errCh := make(chan error, 1)
	go func() { errCh <- h.mgr.Advance(context.Background(), tid) }()
	require.Eventually(t, func() bool { return h.mgr.State(tid) == StateResolving }, time.Second, 5*time.Millisecond)

	assert.ErrorIs(t, h.mgr.Play(context.Background(), tid, "B"), ErrBusy)
	assert.ErrorIs(t, h.mgr.Advance(context.Background(), tid), ErrBusy)
	assert.Equal(t, []track.Ref{"B"}, h.store.Queue(tid))

	close(gate)
	require.NoError(t, <-errCh)
	h.waitCurrent(t, "A")
	assert.ErrorIs(t, h.mgr.Advance(context.Background(), tid), ErrBusy)
}

func TestManager_DoubleSkipAdvancesOnce(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, "A", "B", "C")
	require.NoError(t, h.mgr.Advance(context.Background(), tid))
	h.waitCurrent(t, "A")

	gate := h.res.gate("B")
	require.NoError(t, h.mgr.Skip(tid))
	second := h.mgr.Skip(tid)
	assert.True(t, errors.Is(second, ErrNotPlaying) || errors.Is(second, ErrBusy), "second skip: %v", second)

	close(gate)
	h.waitCurrent(t, "B")
	time.Sleep(50 * time.Millisecond)

	assert.Equal(t, track.Ref("B"), h.store.Current(tid).Ref)
	assert.Equal(t, []track.Ref{"C"}, h.store.Queue(tid))
	assert.Equal(t, []string{"ep:A", "ep:B"}, h.conn.Played())
	assert.Equal(t, []track.Ref{"A"}, h.store.Played(tid))
}

func TestManager_ConcurrentSkipsAdvanceOnce(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, "A", "B", "C")
	require.NoError(t, h.mgr.Advance(context.Background(), tid))
	h.waitCurrent(t, "A")

	errs := make([]error, 2)
	var wg sync.WaitGroup
	for i := range errs {
		wg.Add(1)
		go func() {
			defer wg.Done()
			errs[i] = h.mgr.Skip(tid)
		}()
	}
	wg.Wait()

	h.waitCurrent(t, "B")
	time.Sleep(50 * time.Millisecond)

	accepted := 0
	for _, err := range errs {
		if err == nil {
			accepted++
			continue
		}
		assert.True(t, errors.Is(err, ErrNotPlaying) || errors.Is(err, ErrBusy), "rejected skip: %v", err)
	}
	assert.Equal(t, 1, accepted)
	assert.Equal(t, []string{"ep:A", "ep:B"}, h.conn.Played())
	assert.Equal(t, []track.Ref{"C"}, h.store.Queue(tid))
}

func TestManager_SkipAcceptedAfterWindow(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, "A", "B", "C")
	require.NoError(t, h.mgr.Advance(context.Background(), tid))
	h.waitCurrent(t, "A")

	require.NoError(t, h.mgr.Skip(tid))
	h.waitCurrent(t, "B")
	assert.ErrorIs(t, h.mgr.Skip(tid), ErrNotPlaying)

	time.Sleep(h.mgr.cfg.SkipWindow)
	require.NoError(t, h.mgr.Skip(tid))
	h.waitCurrent(t, "C")
	assert.Equal(t, []track.Ref{"A", "B"}, h.store.Played(tid))
}

func TestManager_InterruptIgnoresSkipWindow(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, "A", "B", "C")
	require.NoError(t, h.mgr.Advance(context.Background(), tid))
	h.waitCurrent(t, "A")

	require.NoError(t, h.mgr.Skip(tid))
	h.waitCurrent(t, "B")
	require.NoError(t, h.mgr.Interrupt(tid))
	h.waitCurrent(t, "C")
}

func TestManager_DuplicateEntriesPlayOncePerEntry(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, "A", "A", "B")
	require.NoError(t, h.mgr.Advance(context.Background(), tid))
	h.waitCurrent(t, "A")
	assert.Equal(t, []track.Ref{"A", "B"}, h.store.Queue(tid))

	h.conn.Complete()
	require.Eventually(t, func() bool { return len(h.conn.Played()) == 2 }, 2*time.Second, 5*time.Millisecond)
	h.waitCurrent(t, "A")
	assert.Equal(t, []track.Ref{"B"}, h.store.Queue(tid))
	assert.Equal(t, []track.Ref{"A"}, h.store.Played(tid))

	h.completeCurrent(t, "B")
	assert.Empty(t, h.store.Queue(tid))
	assert.Equal(t, []track.Ref{"A", "A"}, h.store.Played(tid))
	assert.Equal(t, []string{"ep:A", "ep:A", "ep:B"}, h.conn.Played())
}

func TestManager_SkipWhenIdle(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.mgr.Skip(tid), ErrNotPlaying)
}

func TestManager_PlaybackErrorCountsAsCompletion(t *testing.T) {
	h := newHarness(t)
	h.conn.FailEnd("ep:A", errors.New("decoder crashed"))
	h.enqueue(t, "A", "B")

	require.NoError(t, h.mgr.Advance(context.Background(), tid))
	h.waitCurrent(t, "A")
	h.completeCurrent(t, "B")

	e := waitEvent(t, h.mgr, EventPlaybackError)
	assert.ErrorIs(t, e.Err, ErrPlayback)
	assert.Equal(t, []track.Ref{"A"}, h.store.Played(tid))
	assert.False(t, h.store.IsBlacklisted(tid, "A"))
}

func TestManager_StartFailureIsBlacklisted(t *testing.T) {
	h := newHarness(t)
	h.conn.FailPlay("ep:A", errors.New("unsupported codec"))
	h.enqueue(t, "A", "B")

	require.NoError(t, h.mgr.Advance(context.Background(), tid))
	h.waitCurrent(t, "B")

	e := waitEvent(t, h.mgr, EventSkipped)
	assert.Equal(t, ReasonPlayback, e.Reason)
	assert.True(t, h.store.IsBlacklisted(tid, "A"))
}

func TestManager_DisconnectKeepsCurrent(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, "A", "B")
	require.NoError(t, h.mgr.Advance(context.Background(), tid))
	h.waitCurrent(t, "A")

	h.conn.Drop()
	require.Eventually(t, func() bool { return h.mgr.State(tid) == StateIdle }, time.Second, 5*time.Millisecond)

	assert.Equal(t, track.Ref("A"), h.store.Current(tid).Ref)
	assert.Empty(t, h.store.Played(tid))
	assert.Equal(t, []track.Ref{"B"}, h.store.Queue(tid))
	assert.ErrorIs(t, h.mgr.Advance(context.Background(), tid), ErrNotConnected)
}

func TestManager_PauseResume(t *testing.T) {
	h := newHarness(t)
	assert.ErrorIs(t, h.mgr.Pause(tid), ErrNotPlaying)

	h.enqueue(t, "A")
	require.NoError(t, h.mgr.Advance(context.Background(), tid))
	h.waitCurrent(t, "A")

	require.NoError(t, h.mgr.Pause(tid))
	assert.Equal(t, StatePaused, h.mgr.State(tid))
	assert.ErrorIs(t, h.mgr.Pause(tid), ErrNotPlaying)

	require.NoError(t, h.mgr.Resume(tid))
	assert.Equal(t, StatePlaying, h.mgr.State(tid))
	assert.ErrorIs(t, h.mgr.Resume(tid), ErrNotPaused)
}

func TestManager_StopActiveSuppressesAdvance(t *testing.T) {
	h := newHarness(t)
	h.enqueue(t, "A", "B")
	require.NoError(t, h.mgr.Advance(context.Background(), tid))
	h.waitCurrent(t, "A")

	assert.True(t, h.mgr.StopActive(tid, time.Second))
	h.waitCurrent(t, "")
	assert.Equal(t, []track.Ref{"B"}, h.store.Queue(tid))
	assert.Equal(t, []track.Ref{"A"}, h.store.Played(tid))
}

func TestManager_TryLock(t *testing.T) {
	h := newHarness(t)
	unlock, ok := h.mgr.TryLock(tid)
	require.True(t, ok)

	_, ok = h.mgr.TryLock(tid)
	assert.False(t, ok)
	assert.ErrorIs(t, h.mgr.Advance(context.Background(), tid), ErrBusy)

	unlock()
	_, ok = h.mgr.TryLock(tid)
	assert.True(t, ok)
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "idle", StateIdle.String())
	assert.Equal(t, "back_pending", StateBackPending.String())
	assert.Equal(t, "now_playing", EventNowPlaying.String())
	assert.Equal(t, "unknown", EventType(99).String())
}
