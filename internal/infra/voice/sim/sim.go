// Package sim provides an in-process voice engine that plays nothing.
// Tracks end on wall-clock timers, which is enough to drive the full
// playback lifecycle without an audio stack.
package sim

import (
	"context"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tunebox/internal/domain/tenant"
	"github.com/osa030/tunebox/internal/infra/voice"
)

// tick is the resolution of the wall-clock timer.
const tick = 10 * time.Millisecond

type playback struct {
	endpoint  string
	done      chan error
	cancel    func()
	remaining time.Duration
	startedAt time.Time
	paused    bool
}

// Conn is a simulated voice connection.
type Conn struct {
	mu        sync.Mutex
	tenant    tenant.ID
	channel   tenant.ChannelID
	duration  time.Duration
	connected bool
	current   *playback
	played    []string
	silences  int
	playErrs  map[string]error // Returned synchronously by Play
	endErrs   map[string]error // Delivered as the completion result

	closed    chan struct{}
	closeOnce sync.Once
}

func newConn(t tenant.ID, ch tenant.ChannelID, duration time.Duration) *Conn {
	return &Conn{
		tenant:    t,
		channel:   ch,
		duration:  duration,
		connected: true,
		playErrs:  make(map[string]error),
		endErrs:   make(map[string]error),
		closed:    make(chan struct{}),
	}
}

// Channel returns the connected channel.
func (c *Conn) Channel() tenant.ChannelID {
	return c.channel
}

// IsConnected reports whether the connection is up.
func (c *Conn) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// IsPlaying reports whether audio is playing and not paused.
func (c *Conn) IsPlaying() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil && !c.current.paused
}

// IsPaused reports whether audio is paused.
func (c *Conn) IsPaused() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current != nil && c.current.paused
}

// Play starts a simulated stream.
func (c *Conn) Play(endpoint string) (<-chan error, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return nil, voice.ErrNotConnected
	}
	if c.current != nil {
		return nil, voice.ErrAlreadyPlaying
	}
	if err := c.playErrs[endpoint]; err != nil {
		return nil, err
	}

	p := &playback{
		endpoint:  endpoint,
		done:      make(chan error, 1),
		remaining: c.duration,
		startedAt: toWallTime(time.Now()),
	}
	c.current = p
	c.played = append(c.played, endpoint)
	c.startTimerLocked(p)

	zlog.Debug().Msgf("sim: playing: tenant=%s channel=%s endpoint=%s", c.tenant, c.channel, endpoint)
	return p.done, nil
}

// PlaySilence records a keepalive frame.
func (c *Conn) PlaySilence(time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.connected {
		return voice.ErrNotConnected
	}
	if c.current != nil {
		return voice.ErrAlreadyPlaying
	}
	c.silences++
	return nil
}

// Pause pauses the current stream and keeps its remaining time.
func (c *Conn) Pause() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.current
	if p == nil || p.paused {
		return errors.New("nothing is playing")
	}
	if p.cancel != nil {
		p.cancel()
		p.cancel = nil
		p.remaining -= toWallTime(time.Now()).Sub(p.startedAt)
	}
	p.paused = true
	return nil
}

// Resume resumes a paused stream.
func (c *Conn) Resume() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	p := c.current
	if p == nil || !p.paused {
		return errors.New("nothing is paused")
	}
	p.paused = false
	p.startedAt = toWallTime(time.Now())
	c.startTimerLocked(p)
	return nil
}

// Stop ends the current stream. Its completion receives nil.
func (c *Conn) Stop() error {
	c.finish(nil)
	return nil
}

// Disconnect closes the connection. A running stream ends with
// voice.ErrDisconnected.
func (c *Conn) Disconnect(context.Context) error {
	c.drop()
	return nil
}

// Closed is closed once the connection is gone.
func (c *Conn) Closed() <-chan struct{} {
	return c.closed
}

// Complete ends the current stream as if it reached its end.
func (c *Conn) Complete() {
	c.mu.Lock()
	var err error
	if c.current != nil {
		err = c.endErrs[c.current.endpoint]
	}
	c.mu.Unlock()
	c.finish(err)
}

// Drop simulates the platform closing the connection.
func (c *Conn) Drop() {
	c.drop()
}

// FailPlay makes Play fail synchronously for endpoint.
func (c *Conn) FailPlay(endpoint string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.playErrs[endpoint] = err
}

// FailEnd makes the stream for endpoint end with err.
func (c *Conn) FailEnd(endpoint string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.endErrs[endpoint] = err
}

// Played returns every endpoint passed to Play, in order.
func (c *Conn) Played() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.played...)
}

// Silences returns the number of keepalive frames sent.
func (c *Conn) Silences() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.silences
}

func (c *Conn) drop() {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()

	c.finish(voice.ErrDisconnected)
	c.closeOnce.Do(func() { close(c.closed) })
}

// finish delivers err to the current stream's completion channel once.
func (c *Conn) finish(err error) {
	c.mu.Lock()
	p := c.current
	c.current = nil
	if p != nil && p.cancel != nil {
		p.cancel()
	}
	c.mu.Unlock()

	if p != nil {
		p.done <- err
	}
}

func (c *Conn) startTimerLocked(p *playback) {
	if c.duration <= 0 {
		return
	}
	endpoint := p.endpoint
	p.cancel = startWallClockTimer(p.remaining, func() {
		c.mu.Lock()
		same := c.current == p && !p.paused
		var err error
		if same {
			err = c.endErrs[endpoint]
		}
		c.mu.Unlock()
		if same {
			c.finish(err)
		}
	})
}

// startWallClockTimer calls callback after duration of wall-clock time and
// returns a cancel function.
func startWallClockTimer(duration time.Duration, callback func()) func() {
	ctx, cancel := context.WithCancel(context.Background())

	go func() {
		endTime := toWallTime(time.Now()).Add(duration)
		ticker := time.NewTicker(tick)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if toWallTime(time.Now()).After(endTime) {
					callback()
					return
				}
			}
		}
	}()

	return cancel
}

// toWallTime strips the monotonic clock reading.
func toWallTime(t time.Time) time.Time {
	return time.Unix(t.Unix(), int64(t.Nanosecond()))
}
