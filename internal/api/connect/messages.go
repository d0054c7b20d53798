package connect

import (
	"time"
)

// ServiceName is the fully-qualified name of the playback service.
const ServiceName = "tunebox.v1.PlaybackService"

// Procedure paths.
const (
	EnqueueProcedure      = "/" + ServiceName + "/Enqueue"
	PlayProcedure         = "/" + ServiceName + "/Play"
	SkipProcedure         = "/" + ServiceName + "/Skip"
	BackProcedure         = "/" + ServiceName + "/Back"
	InterludeProcedure    = "/" + ServiceName + "/Interlude"
	ClearProcedure        = "/" + ServiceName + "/Clear"
	StatusProcedure       = "/" + ServiceName + "/Status"
	ListProcedure         = "/" + ServiceName + "/List"
	PauseProcedure        = "/" + ServiceName + "/Pause"
	ResumeProcedure       = "/" + ServiceName + "/Resume"
	JoinProcedure         = "/" + ServiceName + "/Join"
	LeaveProcedure        = "/" + ServiceName + "/Leave"
	SaveProcedure         = "/" + ServiceName + "/Save"
	ReloadProcedure       = "/" + ServiceName + "/Reload"
	RemoveTenantProcedure = "/" + ServiceName + "/RemoveTenant"
	SubscribeProcedure    = "/" + ServiceName + "/Subscribe"
)

// TenantRequest addresses a tenant. Channel is where replies and
// notifications should go.
type TenantRequest struct {
	Tenant  string `json:"tenant"`
	Channel string `json:"channel,omitempty"`
}

// EnqueueRequest asks to queue a ref.
type EnqueueRequest struct {
	Tenant  string `json:"tenant"`
	Channel string `json:"channel,omitempty"`
	Ref     string `json:"ref"`
}

// EnqueueResponse describes what was queued.
type EnqueueResponse struct {
	Title    string `json:"title"`
	Kind     string `json:"kind"`
	Position int    `json:"position"`
	Added    int    `json:"added"`
	Dropped  int    `json:"dropped,omitempty"`
	Started  bool   `json:"started"`
}

// InterludeRequest asks to play refs ahead of the queue.
type InterludeRequest struct {
	Tenant  string   `json:"tenant"`
	Channel string   `json:"channel,omitempty"`
	Refs    []string `json:"refs"`
}

// InterludeResponse describes what the interlude inserted.
type InterludeResponse struct {
	Added       int  `json:"added"`
	Interrupted bool `json:"interrupted"`
}

// ClearRequest removes queued refs. Count <= 0 clears everything.
type ClearRequest struct {
	Tenant string `json:"tenant"`
	Count  int    `json:"count"`
}

// ClearResponse describes what was removed.
type ClearResponse struct {
	Removed   int `json:"removed"`
	Remaining int `json:"remaining"`
}

// ListRequest asks for a preview of the queue.
type ListRequest struct {
	Tenant string `json:"tenant"`
	Limit  int    `json:"limit,omitempty"`
}

// ListResponse is a queue preview.
type ListResponse struct {
	Refs  []string `json:"refs"`
	Total int      `json:"total"`
}

// JoinRequest asks to connect to a voice channel.
type JoinRequest struct {
	Tenant       string `json:"tenant"`
	VoiceChannel string `json:"voice_channel"`
}

// BackResponse names the track being replayed.
type BackResponse struct {
	Target string `json:"target"`
}

// PlayResponse carries the playback state after a play command.
type PlayResponse struct {
	State string `json:"state"`
}

// StatusResponse summarizes a tenant.
type StatusResponse struct {
	QueueLen       int    `json:"queue_len"`
	PlayedCount    int    `json:"played_count"`
	BlacklistCount int    `json:"blacklist_count"`
	CurrentRef     string `json:"current_ref,omitempty"`
	CurrentTitle   string `json:"current_title,omitempty"`
	BackHistoryLen int    `json:"back_history_len"`
	FromBack       bool   `json:"from_back"`
	State          string `json:"state"`
	Connected      bool   `json:"connected"`
	VoiceChannel   string `json:"voice_channel,omitempty"`
}

// Result is the response of commands without a payload.
type Result struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// SubscribeRequest opens a notification stream. An empty tenant receives
// every tenant.
type SubscribeRequest struct {
	Tenant string `json:"tenant,omitempty"`
}

// Notification is one message on the notification stream.
type Notification struct {
	SequenceNo uint64          `json:"sequence_no"`
	Type       string          `json:"type"`
	Tenant     string          `json:"tenant"`
	Channel    string          `json:"channel,omitempty"`
	Ref        string          `json:"ref,omitempty"`
	Title      string          `json:"title,omitempty"`
	Reason     string          `json:"reason,omitempty"`
	Count      int             `json:"count,omitempty"`
	Message    string          `json:"message"`
	Time       time.Time       `json:"time"`
	Status     *StatusResponse `json:"status,omitempty"`
}
