package notification

import (
	"fmt"
	"time"

	"github.com/osa030/tunebox/internal/app/playback"
	"github.com/osa030/tunebox/internal/domain/tenant"
	"github.com/osa030/tunebox/internal/domain/track"
)

// Notification is a user-facing message about a tenant's playback.
type Notification struct {
	SequenceNo uint64           `json:"sequence_no"`
	Type       string           `json:"type"`
	Tenant     tenant.ID        `json:"tenant"`
	Channel    tenant.ChannelID `json:"channel,omitempty"`
	Ref        track.Ref        `json:"ref,omitempty"`
	Title      string           `json:"title,omitempty"`
	Reason     string           `json:"reason,omitempty"`
	Count      int              `json:"count,omitempty"`
	Message    string           `json:"message"`
	Time       time.Time        `json:"time"`
}

// FromEvent converts a playback event into a notification.
func FromEvent(e playback.Event) *Notification {
	return &Notification{
		Type:    e.Type.String(),
		Tenant:  e.Tenant,
		Channel: e.Channel,
		Ref:     e.Ref,
		Title:   e.Title,
		Reason:  e.Reason,
		Count:   e.Count,
		Message: message(e),
		Time:    time.Now(),
	}
}

func message(e playback.Event) string {
	name := e.Title
	if name == "" {
		name = e.Ref.Short(80)
	}

	switch e.Type {
	case playback.EventNowPlaying:
		return "🎵 " + name
	case playback.EventFinished:
		return "Finished: " + name
	case playback.EventSkipped:
		switch e.Reason {
		case playback.ReasonBlacklisted:
			return "⚠️ Known to be unplayable, skipped"
		case playback.ReasonUser:
			return "⏭️ Skipped"
		}
		return fmt.Sprintf("⚠️ Cannot play (skipped): %s", e.Reason)
	case playback.EventPlaybackError:
		if e.Err != nil {
			return fmt.Sprintf("⚠️ Playback failed: %v", e.Err)
		}
		return "⚠️ Playback failed"
	case playback.EventQueueEmpty:
		return "🎵 Queue is empty"
	case playback.EventListExpanded:
		return fmt.Sprintf("📝 Added %d tracks", e.Count)
	case playback.EventBack:
		return "⏮️ Back to " + name
	case playback.EventPaused:
		return "⏸️ Paused"
	case playback.EventResumed:
		return "▶️ Resumed"
	}
	return e.Type.String()
}
