package sim

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/tunebox/internal/domain/tenant"
	"github.com/osa030/tunebox/internal/infra/voice"
)

// Config configures the simulated engine.
type Config struct {
	TrackDuration time.Duration // 0 means tracks only end through Conn.Complete
	ConnectDelay  time.Duration
	Channels      map[tenant.ID][]tenant.ChannelID // Channels with listeners
}

// Dialer hands out simulated connections.
type Dialer struct {
	mu           sync.Mutex
	cfg          Config
	channels     map[tenant.ID][]tenant.ChannelID
	conns        map[tenant.ID]*Conn
	failConnects int
	attempts     int
}

// NewDialer creates a dialer.
func NewDialer(cfg Config) *Dialer {
	channels := make(map[tenant.ID][]tenant.ChannelID, len(cfg.Channels))
	for t, chans := range cfg.Channels {
		channels[t] = append([]tenant.ChannelID(nil), chans...)
	}
	return &Dialer{
		cfg:      cfg,
		channels: channels,
		conns:    make(map[tenant.ID]*Conn),
	}
}

// Connect opens a connection to ch, replacing the tenant's previous one.
func (d *Dialer) Connect(ctx context.Context, t tenant.ID, ch tenant.ChannelID) (voice.Connection, error) {
	d.mu.Lock()
	d.attempts++
	fail := d.failConnects > 0
	if fail {
		d.failConnects--
	}
	delay := d.cfg.ConnectDelay
	d.mu.Unlock()

	if delay > 0 {
		select {
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), "connect")
		case <-time.After(delay):
		}
	}
	if err := ctx.Err(); err != nil {
		return nil, errors.Wrap(err, "connect")
	}
	if fail {
		return nil, errors.Newf("sim: connect to %s refused", ch)
	}

	conn := newConn(t, ch, d.cfg.TrackDuration)

	d.mu.Lock()
	prev := d.conns[t]
	d.conns[t] = conn
	d.mu.Unlock()

	if prev != nil && prev != conn {
		prev.drop()
	}
	return conn, nil
}

// ActiveChannels returns the configured channels for t, sorted.
func (d *Dialer) ActiveChannels(_ context.Context, t tenant.ID) ([]tenant.ChannelID, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := append([]tenant.ChannelID(nil), d.channels[t]...)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

// SetChannels replaces the channels with listeners for t.
func (d *Dialer) SetChannels(t tenant.ID, chans ...tenant.ChannelID) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.channels[t] = chans
}

// FailConnects makes the next n connect attempts fail.
func (d *Dialer) FailConnects(n int) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.failConnects = n
}

// Attempts returns the number of connect attempts so far.
func (d *Dialer) Attempts() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.attempts
}

// Conn returns the latest connection opened for t.
func (d *Dialer) Conn(t tenant.ID) *Conn {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.conns[t]
}
