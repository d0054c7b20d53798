// Package connect provides Connect RPC service implementations.
package connect

import (
	"context"
	"net/http"
	"sync"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tunebox/internal/app/notification"
	"github.com/osa030/tunebox/internal/app/playback"
	"github.com/osa030/tunebox/internal/app/session"
	"github.com/osa030/tunebox/internal/domain/tenant"
	"github.com/osa030/tunebox/internal/domain/track"
)

// Commands is the command surface the RPC service exposes.
type Commands interface {
	Enqueue(ctx context.Context, t tenant.ID, channel tenant.ChannelID, ref track.Ref) (*session.EnqueueResult, error)
	PlayOrResume(ctx context.Context, t tenant.ID, channel tenant.ChannelID) (playback.State, error)
	Skip(ctx context.Context, t tenant.ID) error
	Back(ctx context.Context, t tenant.ID, channel tenant.ChannelID) (track.Ref, error)
	Interlude(ctx context.Context, t tenant.ID, channel tenant.ChannelID, refs []track.Ref) (*session.InterludeResult, error)
	Clear(ctx context.Context, t tenant.ID, n int) session.ClearResult
	Status(t tenant.ID) session.Status
	List(t tenant.ID, limit int) ([]track.Ref, int)
	Pause(ctx context.Context, t tenant.ID) error
	Resume(ctx context.Context, t tenant.ID) error
	Join(ctx context.Context, t tenant.ID, ch tenant.ChannelID) error
	Leave(ctx context.Context, t tenant.ID) error
	Save(ctx context.Context) bool
	Reload(ctx context.Context) error
	RemoveTenant(ctx context.Context, t tenant.ID) error
	GetNotificationManager() *notification.Manager
}

var errMissingTenant = errors.New("tenant is required")

// PlaybackService implements the PlaybackService RPC.
type PlaybackService struct {
	commands Commands

	closeOnce sync.Once
	done      chan struct{}
}

// NewPlaybackService creates a new PlaybackService.
func NewPlaybackService(commands Commands) *PlaybackService {
	return &PlaybackService{
		commands: commands,
		done:     make(chan struct{}),
	}
}

// Close ends every open notification stream.
func (s *PlaybackService) Close() {
	s.closeOnce.Do(func() { close(s.done) })
}

// Handler returns the path prefix and handler serving every procedure.
// The JSON codec is always registered; opts are applied after it.
func (s *PlaybackService) Handler(opts ...connect.HandlerOption) (string, http.Handler) {
	opts = append([]connect.HandlerOption{connect.WithCodec(Codec{})}, opts...)

	mux := http.NewServeMux()
	mux.Handle(EnqueueProcedure, connect.NewUnaryHandler(EnqueueProcedure, s.Enqueue, opts...))
	mux.Handle(PlayProcedure, connect.NewUnaryHandler(PlayProcedure, s.Play, opts...))
	mux.Handle(SkipProcedure, connect.NewUnaryHandler(SkipProcedure, s.Skip, opts...))
	mux.Handle(BackProcedure, connect.NewUnaryHandler(BackProcedure, s.Back, opts...))
	mux.Handle(InterludeProcedure, connect.NewUnaryHandler(InterludeProcedure, s.Interlude, opts...))
	mux.Handle(ClearProcedure, connect.NewUnaryHandler(ClearProcedure, s.Clear, opts...))
	mux.Handle(StatusProcedure, connect.NewUnaryHandler(StatusProcedure, s.Status, opts...))
	mux.Handle(ListProcedure, connect.NewUnaryHandler(ListProcedure, s.List, opts...))
	mux.Handle(PauseProcedure, connect.NewUnaryHandler(PauseProcedure, s.Pause, opts...))
	mux.Handle(ResumeProcedure, connect.NewUnaryHandler(ResumeProcedure, s.Resume, opts...))
	mux.Handle(JoinProcedure, connect.NewUnaryHandler(JoinProcedure, s.Join, opts...))
	mux.Handle(LeaveProcedure, connect.NewUnaryHandler(LeaveProcedure, s.Leave, opts...))
	mux.Handle(SaveProcedure, connect.NewUnaryHandler(SaveProcedure, s.Save, opts...))
	mux.Handle(ReloadProcedure, connect.NewUnaryHandler(ReloadProcedure, s.Reload, opts...))
	mux.Handle(RemoveTenantProcedure, connect.NewUnaryHandler(RemoveTenantProcedure, s.RemoveTenant, opts...))
	mux.Handle(SubscribeProcedure, connect.NewServerStreamHandler(SubscribeProcedure, s.Subscribe, opts...))
	return "/" + ServiceName + "/", mux
}

func tenantOf(id string) (tenant.ID, error) {
	if id == "" {
		return "", connect.NewError(connect.CodeInvalidArgument, errMissingTenant)
	}
	return tenant.ID(id), nil
}

func okResult(message string) *connect.Response[Result] {
	return connect.NewResponse(&Result{Success: true, Message: message})
}

// Enqueue queues a ref.
func (s *PlaybackService) Enqueue(
	ctx context.Context,
	req *connect.Request[EnqueueRequest],
) (*connect.Response[EnqueueResponse], error) {
	t, err := tenantOf(req.Msg.Tenant)
	if err != nil {
		return nil, err
	}

	res, err := s.commands.Enqueue(ctx, t, tenant.ChannelID(req.Msg.Channel), track.Ref(req.Msg.Ref))
	if err != nil {
		return nil, toConnectError(err)
	}

	return connect.NewResponse(&EnqueueResponse{
		Title:    res.Title,
		Kind:     res.Kind.String(),
		Position: res.Position,
		Added:    res.Added,
		Dropped:  res.Dropped,
		Started:  res.Started,
	}), nil
}

// Play starts the queue or resumes a paused track.
func (s *PlaybackService) Play(
	ctx context.Context,
	req *connect.Request[TenantRequest],
) (*connect.Response[PlayResponse], error) {
	t, err := tenantOf(req.Msg.Tenant)
	if err != nil {
		return nil, err
	}

	st, err := s.commands.PlayOrResume(ctx, t, tenant.ChannelID(req.Msg.Channel))
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&PlayResponse{State: st.String()}), nil
}

// Skip skips the current track.
func (s *PlaybackService) Skip(
	ctx context.Context,
	req *connect.Request[TenantRequest],
) (*connect.Response[Result], error) {
	t, err := tenantOf(req.Msg.Tenant)
	if err != nil {
		return nil, err
	}
	if err := s.commands.Skip(ctx, t); err != nil {
		return nil, toConnectError(err)
	}
	return okResult("Track skipped"), nil
}

// Back replays the previous track.
func (s *PlaybackService) Back(
	ctx context.Context,
	req *connect.Request[TenantRequest],
) (*connect.Response[BackResponse], error) {
	t, err := tenantOf(req.Msg.Tenant)
	if err != nil {
		return nil, err
	}

	target, err := s.commands.Back(ctx, t, tenant.ChannelID(req.Msg.Channel))
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&BackResponse{Target: string(target)}), nil
}

// Interlude plays refs ahead of the queue.
func (s *PlaybackService) Interlude(
	ctx context.Context,
	req *connect.Request[InterludeRequest],
) (*connect.Response[InterludeResponse], error) {
	t, err := tenantOf(req.Msg.Tenant)
	if err != nil {
		return nil, err
	}

	res, err := s.commands.Interlude(ctx, t, tenant.ChannelID(req.Msg.Channel), track.Refs(req.Msg.Refs...))
	if err != nil {
		return nil, toConnectError(err)
	}
	return connect.NewResponse(&InterludeResponse{
		Added:       res.Added,
		Interrupted: res.Interrupted,
	}), nil
}

// Clear removes queued refs.
func (s *PlaybackService) Clear(
	ctx context.Context,
	req *connect.Request[ClearRequest],
) (*connect.Response[ClearResponse], error) {
	t, err := tenantOf(req.Msg.Tenant)
	if err != nil {
		return nil, err
	}

	res := s.commands.Clear(ctx, t, req.Msg.Count)
	return connect.NewResponse(&ClearResponse{
		Removed:   res.Removed,
		Remaining: res.Remaining,
	}), nil
}

// Status returns the tenant status.
func (s *PlaybackService) Status(
	ctx context.Context,
	req *connect.Request[TenantRequest],
) (*connect.Response[StatusResponse], error) {
	t, err := tenantOf(req.Msg.Tenant)
	if err != nil {
		return nil, err
	}
	return connect.NewResponse(statusResponse(s.commands.Status(t))), nil
}

// List returns a preview of the queue.
func (s *PlaybackService) List(
	ctx context.Context,
	req *connect.Request[ListRequest],
) (*connect.Response[ListResponse], error) {
	t, err := tenantOf(req.Msg.Tenant)
	if err != nil {
		return nil, err
	}

	refs, total := s.commands.List(t, req.Msg.Limit)
	out := make([]string, 0, len(refs))
	for _, ref := range refs {
		out = append(out, string(ref))
	}
	return connect.NewResponse(&ListResponse{Refs: out, Total: total}), nil
}

// Pause pauses playback.
func (s *PlaybackService) Pause(
	ctx context.Context,
	req *connect.Request[TenantRequest],
) (*connect.Response[Result], error) {
	t, err := tenantOf(req.Msg.Tenant)
	if err != nil {
		return nil, err
	}
	if err := s.commands.Pause(ctx, t); err != nil {
		return nil, toConnectError(err)
	}
	return okResult("Paused"), nil
}

// Resume resumes playback.
func (s *PlaybackService) Resume(
	ctx context.Context,
	req *connect.Request[TenantRequest],
) (*connect.Response[Result], error) {
	t, err := tenantOf(req.Msg.Tenant)
	if err != nil {
		return nil, err
	}
	if err := s.commands.Resume(ctx, t); err != nil {
		return nil, toConnectError(err)
	}
	return okResult("Resumed"), nil
}

// Join connects the tenant to a voice channel.
func (s *PlaybackService) Join(
	ctx context.Context,
	req *connect.Request[JoinRequest],
) (*connect.Response[Result], error) {
	t, err := tenantOf(req.Msg.Tenant)
	if err != nil {
		return nil, err
	}
	if req.Msg.VoiceChannel == "" {
		return nil, connect.NewError(connect.CodeInvalidArgument, errors.New("voice_channel is required"))
	}
	if err := s.commands.Join(ctx, t, tenant.ChannelID(req.Msg.VoiceChannel)); err != nil {
		return nil, toConnectError(err)
	}
	return okResult("Joined " + req.Msg.VoiceChannel), nil
}

// Leave disconnects the tenant.
func (s *PlaybackService) Leave(
	ctx context.Context,
	req *connect.Request[TenantRequest],
) (*connect.Response[Result], error) {
	t, err := tenantOf(req.Msg.Tenant)
	if err != nil {
		return nil, err
	}
	if err := s.commands.Leave(ctx, t); err != nil {
		return nil, toConnectError(err)
	}
	return okResult("Left voice channel"), nil
}

// Save persists state now.
func (s *PlaybackService) Save(
	ctx context.Context,
	req *connect.Request[TenantRequest],
) (*connect.Response[Result], error) {
	if !s.commands.Save(ctx) {
		return connect.NewResponse(&Result{Success: false, Message: "Failed to save state"}), nil
	}
	return okResult("State saved"), nil
}

// Reload replaces state with the last snapshot.
func (s *PlaybackService) Reload(
	ctx context.Context,
	req *connect.Request[TenantRequest],
) (*connect.Response[Result], error) {
	if err := s.commands.Reload(ctx); err != nil {
		return connect.NewResponse(&Result{Success: false, Message: err.Error()}), nil
	}
	return okResult("State reloaded"), nil
}

// RemoveTenant forgets a tenant.
func (s *PlaybackService) RemoveTenant(
	ctx context.Context,
	req *connect.Request[TenantRequest],
) (*connect.Response[Result], error) {
	t, err := tenantOf(req.Msg.Tenant)
	if err != nil {
		return nil, err
	}
	if err := s.commands.RemoveTenant(ctx, t); err != nil {
		return nil, toConnectError(err)
	}
	return okResult("Tenant removed"), nil
}

// Subscribe streams notifications, starting with the current status when a
// tenant is given.
func (s *PlaybackService) Subscribe(
	ctx context.Context,
	req *connect.Request[SubscribeRequest],
	stream *connect.ServerStream[Notification],
) error {
	notifManager := s.commands.GetNotificationManager()
	t := tenant.ID(req.Msg.Tenant)

	if t != "" {
		initial := &Notification{
			SequenceNo: notifManager.NextSequenceNo(),
			Type:       "initial_state",
			Tenant:     string(t),
			Status:     statusResponse(s.commands.Status(t)),
		}
		if err := stream.Send(initial); err != nil {
			return err
		}
	}

	adapter := &notificationStreamAdapter{stream: stream}
	subscriptionID := notifManager.Subscribe(t, adapter)
	zlog.Debug().Msgf("notification stream opened: id=%s tenant=%s", subscriptionID, t)

	select {
	case <-ctx.Done():
	case <-s.done:
	}

	notifManager.Unsubscribe(subscriptionID)
	return nil
}

// notificationStreamAdapter adapts connect.ServerStream to notification.Stream.
type notificationStreamAdapter struct {
	mu     sync.Mutex
	stream *connect.ServerStream[Notification]
}

func (a *notificationStreamAdapter) Send(n *notification.Notification) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.stream.Send(toWire(n))
}

func toWire(n *notification.Notification) *Notification {
	return &Notification{
		SequenceNo: n.SequenceNo,
		Type:       n.Type,
		Tenant:     string(n.Tenant),
		Channel:    string(n.Channel),
		Ref:        string(n.Ref),
		Title:      n.Title,
		Reason:     n.Reason,
		Count:      n.Count,
		Message:    n.Message,
		Time:       n.Time,
	}
}

func statusResponse(st session.Status) *StatusResponse {
	return &StatusResponse{
		QueueLen:       st.QueueLen,
		PlayedCount:    st.PlayedCount,
		BlacklistCount: st.BlacklistCount,
		CurrentRef:     string(st.CurrentRef),
		CurrentTitle:   st.CurrentTitle,
		BackHistoryLen: st.BackHistoryLen,
		FromBack:       st.FromBack,
		State:          st.State.String(),
		Connected:      st.Connected,
		VoiceChannel:   string(st.VoiceChannel),
	}
}
