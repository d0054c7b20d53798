// Package voice defines the audio transport used by playback.
package voice

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"

	"github.com/osa030/tunebox/internal/domain/tenant"
)

var (
	// ErrDisconnected is delivered as a completion result when playback ends
	// because the connection dropped.
	ErrDisconnected = errors.New("voice connection dropped")

	// ErrNotConnected is returned by operations on a closed connection.
	ErrNotConnected = errors.New("voice connection is not connected")

	// ErrAlreadyPlaying is returned when Play is called while audio is active.
	ErrAlreadyPlaying = errors.New("audio is already playing")
)

// Connection is one voice connection for a tenant.
type Connection interface {
	Channel() tenant.ChannelID
	IsConnected() bool
	IsPlaying() bool
	IsPaused() bool

	// Play starts streaming endpoint. The returned channel receives exactly
	// one value when playback ends: nil after a normal end or Stop, an
	// engine error otherwise.
	Play(endpoint string) (<-chan error, error)

	// PlaySilence sends a short silent frame.
	PlaySilence(d time.Duration) error

	Pause() error
	Resume() error
	Stop() error
	Disconnect(ctx context.Context) error

	// Closed is closed once the connection is gone, expected or not.
	Closed() <-chan struct{}
}

// Dialer opens voice connections.
type Dialer interface {
	Connect(ctx context.Context, t tenant.ID, ch tenant.ChannelID) (Connection, error)

	// ActiveChannels lists the tenant's channels that currently have listeners.
	ActiveChannels(ctx context.Context, t tenant.ID) ([]tenant.ChannelID, error)
}
