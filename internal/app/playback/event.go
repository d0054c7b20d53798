package playback

import (
	"github.com/osa030/tunebox/internal/domain/tenant"
	"github.com/osa030/tunebox/internal/domain/track"
)

// EventType represents a playback event type.
type EventType int

const (
	EventNowPlaying    EventType = iota // Track started playing
	EventFinished                       // Track finished or was stopped
	EventSkipped                        // Item was skipped without playing, or by a user
	EventPlaybackError                  // Engine reported an error mid-track
	EventQueueEmpty                     // Queue ran out
	EventListExpanded                   // A list ref was expanded into the queue
	EventBack                           // Back navigation started replaying a track
	EventPaused                         // Playback paused
	EventResumed                        // Playback resumed
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventNowPlaying:
		return "now_playing"
	case EventFinished:
		return "finished"
	case EventSkipped:
		return "skipped"
	case EventPlaybackError:
		return "playback_error"
	case EventQueueEmpty:
		return "queue_empty"
	case EventListExpanded:
		return "list_expanded"
	case EventBack:
		return "back"
	case EventPaused:
		return "paused"
	case EventResumed:
		return "resumed"
	default:
		return "unknown"
	}
}

// Skip reasons carried in Event.Reason.
const (
	ReasonBlacklisted = "blacklisted"
	ReasonUser        = "user"
	ReasonPlayback    = "playback_error"
)

// Event represents a playback event.
type Event struct {
	Type    EventType
	Tenant  tenant.ID
	Channel tenant.ChannelID // Channel notifications go to
	Ref     track.Ref
	Title   string
	Reason  string // Skip reason (resolver reason or one of the Reason constants)
	Count   int    // Number of refs inserted (list expansion)
	Err     error
}
