package playback

import (
	"context"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tunebox/internal/app/session/state"
	"github.com/osa030/tunebox/internal/domain/tenant"
	"github.com/osa030/tunebox/internal/domain/track"
)

// fallbackSlice is how many history entries after the target are replayed
// when the interrupted track is not in history.
const fallbackSlice = 3

// Navigator rewinds playback through the back stack.
type Navigator struct {
	m *Manager
}

// NewNavigator creates a navigator on top of m.
func NewNavigator(m *Manager) *Navigator {
	return &Navigator{m: m}
}

// Back replays the previous track and queues the tracks that followed it
// ahead of the current queue. channel is where notifications should go.
func (n *Navigator) Back(ctx context.Context, t tenant.ID, channel tenant.ChannelID) (track.Ref, error) {
	m := n.m
	s := m.slots.Get(t)

	if conn := s.connection(); conn == nil || !conn.IsConnected() {
		return "", ErrNotConnected
	}
	if !s.lock.TryLock() {
		return "", ErrBusy
	}
	handedOff := false
	defer func() {
		if !handedOff {
			s.lock.Unlock()
		}
	}()

	ok := false
	m.store.Mutate(t, func(tn *state.Tenant) {
		stack := prepareStack(tn.BackStack, tn.Current.Ref, tn.Played)
		if len(stack) < 2 {
			return
		}
		limit := tn.Limits().MaxBackHistory
		if limit > 0 && len(stack) > limit {
			stack = stack[len(stack)-limit:]
		}
		tn.BackStack = stack
		ok = true
	})
	if !ok {
		m.metrics.Back(false)
		return "", ErrInsufficientHistory
	}

	m.StopActive(t, m.cfg.BackGrace)
	s.setPhase(StateBackPending)

	var (
		target, popped track.Ref
		notify         tenant.ChannelID
	)
	m.store.Mutate(t, func(tn *state.Tenant) {
		if len(tn.BackStack) < 2 {
			return
		}
		stack := append([]track.Ref(nil), tn.BackStack...)
		popped = stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		target = stack[len(stack)-1]
		tn.BackStack = stack

		if cont, found := continuation(tn.Played, target, popped); found {
			q := make([]track.Ref, 0, len(cont)+len(tn.Queue))
			q = append(q, cont...)
			q = append(q, tn.Queue...)
			tn.Queue = q
		}

		notify = channel
		if notify == "" {
			notify = tn.Current.Channel
		}
		tn.Current = state.Current{Channel: notify, FromBack: true, ProcessingBack: true}
	})
	if target == "" {
		s.setPhase(StateIdle)
		m.metrics.Back(false)
		return "", ErrInsufficientHistory
	}
	m.store.Persist(ctx)

	zlog.Info().Msgf("going back: tenant=%s target=%s interrupted=%s", t, target.Short(60), popped.Short(60))
	m.metrics.Back(true)
	m.sendEvent(Event{Type: EventBack, Tenant: t, Channel: notify, Ref: target})

	handedOff = true
	err := m.runLocked(context.WithoutCancel(ctx), t, s, target)
	m.store.Mutate(t, func(tn *state.Tenant) {
		tn.Current.ProcessingBack = false
	})

	if err != nil && !errors.Is(err, ErrQueueEmpty) {
		return target, err
	}
	return target, nil
}

// prepareStack pushes current onto a copy of stack and backfills it from
// history until it holds two entries. Only history older than the last
// play of the stack's bottom entry is used, most recent first.
func prepareStack(stack []track.Ref, current track.Ref, played []track.Ref) []track.Ref {
	out := append([]track.Ref(nil), stack...)
	if current != "" && (len(out) == 0 || out[len(out)-1] != current) {
		out = append(out, current)
	}
	if len(out) >= 2 {
		return out
	}

	limit := len(played)
	if len(out) > 0 {
		if i := lastIndex(played, out[0]); i >= 0 {
			limit = i
		}
	}
	for i := limit - 1; i >= 0 && len(out) < 2; i-- {
		if lastIndex(out, played[i]) >= 0 {
			continue
		}
		out = append([]track.Ref{played[i]}, out...)
	}
	return out
}

// continuation returns the tracks to replay after target: everything up to
// and including interrupted when it follows target in history, otherwise
// the next few entries. found is false when target is not in history.
func continuation(played []track.Ref, target, interrupted track.Ref) (cont []track.Ref, found bool) {
	ti := lastIndex(played, target)
	if ti < 0 {
		return nil, false
	}
	for j := ti + 1; j < len(played); j++ {
		if played[j] == interrupted {
			return append([]track.Ref(nil), played[ti+1:j+1]...), true
		}
	}
	end := min(ti+1+fallbackSlice, len(played))
	return append([]track.Ref(nil), played[ti+1:end]...), true
}

func lastIndex(list []track.Ref, ref track.Ref) int {
	for i := len(list) - 1; i >= 0; i-- {
		if list[i] == ref {
			return i
		}
	}
	return -1
}
