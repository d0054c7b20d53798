package connect

import (
	"context"
	"strings"

	"connectrpc.com/connect"
)

// Client calls the playback service over the JSON codec.
type Client struct {
	enqueue      *connect.Client[EnqueueRequest, EnqueueResponse]
	play         *connect.Client[TenantRequest, PlayResponse]
	skip         *connect.Client[TenantRequest, Result]
	back         *connect.Client[TenantRequest, BackResponse]
	interlude    *connect.Client[InterludeRequest, InterludeResponse]
	clear        *connect.Client[ClearRequest, ClearResponse]
	status       *connect.Client[TenantRequest, StatusResponse]
	list         *connect.Client[ListRequest, ListResponse]
	pause        *connect.Client[TenantRequest, Result]
	resume       *connect.Client[TenantRequest, Result]
	join         *connect.Client[JoinRequest, Result]
	leave        *connect.Client[TenantRequest, Result]
	save         *connect.Client[TenantRequest, Result]
	reload       *connect.Client[TenantRequest, Result]
	removeTenant *connect.Client[TenantRequest, Result]
	subscribe    *connect.Client[SubscribeRequest, Notification]
}

// NewClient creates a client for the service at baseURL. A non-empty token
// is sent with every unary call.
func NewClient(httpClient connect.HTTPClient, baseURL, token string, opts ...connect.ClientOption) *Client {
	baseURL = strings.TrimRight(baseURL, "/")
	opts = append([]connect.ClientOption{connect.WithCodec(Codec{})}, opts...)
	if token != "" {
		opts = append(opts, connect.WithInterceptors(NewTokenClientInterceptor(token)))
	}
	return &Client{
		enqueue:      connect.NewClient[EnqueueRequest, EnqueueResponse](httpClient, baseURL+EnqueueProcedure, opts...),
		play:         connect.NewClient[TenantRequest, PlayResponse](httpClient, baseURL+PlayProcedure, opts...),
		skip:         connect.NewClient[TenantRequest, Result](httpClient, baseURL+SkipProcedure, opts...),
		back:         connect.NewClient[TenantRequest, BackResponse](httpClient, baseURL+BackProcedure, opts...),
		interlude:    connect.NewClient[InterludeRequest, InterludeResponse](httpClient, baseURL+InterludeProcedure, opts...),
		clear:        connect.NewClient[ClearRequest, ClearResponse](httpClient, baseURL+ClearProcedure, opts...),
		status:       connect.NewClient[TenantRequest, StatusResponse](httpClient, baseURL+StatusProcedure, opts...),
		list:         connect.NewClient[ListRequest, ListResponse](httpClient, baseURL+ListProcedure, opts...),
		pause:        connect.NewClient[TenantRequest, Result](httpClient, baseURL+PauseProcedure, opts...),
		resume:       connect.NewClient[TenantRequest, Result](httpClient, baseURL+ResumeProcedure, opts...),
		join:         connect.NewClient[JoinRequest, Result](httpClient, baseURL+JoinProcedure, opts...),
		leave:        connect.NewClient[TenantRequest, Result](httpClient, baseURL+LeaveProcedure, opts...),
		save:         connect.NewClient[TenantRequest, Result](httpClient, baseURL+SaveProcedure, opts...),
		reload:       connect.NewClient[TenantRequest, Result](httpClient, baseURL+ReloadProcedure, opts...),
		removeTenant: connect.NewClient[TenantRequest, Result](httpClient, baseURL+RemoveTenantProcedure, opts...),
		subscribe:    connect.NewClient[SubscribeRequest, Notification](httpClient, baseURL+SubscribeProcedure, opts...),
	}
}

func call[Req, Res any](ctx context.Context, c *connect.Client[Req, Res], req *Req) (*Res, error) {
	resp, err := c.CallUnary(ctx, connect.NewRequest(req))
	if err != nil {
		return nil, err
	}
	return resp.Msg, nil
}

func (c *Client) Enqueue(ctx context.Context, req *EnqueueRequest) (*EnqueueResponse, error) {
	return call(ctx, c.enqueue, req)
}

func (c *Client) Play(ctx context.Context, req *TenantRequest) (*PlayResponse, error) {
	return call(ctx, c.play, req)
}

func (c *Client) Skip(ctx context.Context, req *TenantRequest) (*Result, error) {
	return call(ctx, c.skip, req)
}

func (c *Client) Back(ctx context.Context, req *TenantRequest) (*BackResponse, error) {
	return call(ctx, c.back, req)
}

func (c *Client) Interlude(ctx context.Context, req *InterludeRequest) (*InterludeResponse, error) {
	return call(ctx, c.interlude, req)
}

func (c *Client) Clear(ctx context.Context, req *ClearRequest) (*ClearResponse, error) {
	return call(ctx, c.clear, req)
}

func (c *Client) Status(ctx context.Context, req *TenantRequest) (*StatusResponse, error) {
	return call(ctx, c.status, req)
}

func (c *Client) List(ctx context.Context, req *ListRequest) (*ListResponse, error) {
	return call(ctx, c.list, req)
}

func (c *Client) Pause(ctx context.Context, req *TenantRequest) (*Result, error) {
	return call(ctx, c.pause, req)
}

func (c *Client) Resume(ctx context.Context, req *TenantRequest) (*Result, error) {
	return call(ctx, c.resume, req)
}

func (c *Client) Join(ctx context.Context, req *JoinRequest) (*Result, error) {
	return call(ctx, c.join, req)
}

func (c *Client) Leave(ctx context.Context, req *TenantRequest) (*Result, error) {
	return call(ctx, c.leave, req)
}

func (c *Client) Save(ctx context.Context) (*Result, error) {
	return call(ctx, c.save, &TenantRequest{})
}

func (c *Client) Reload(ctx context.Context) (*Result, error) {
	return call(ctx, c.reload, &TenantRequest{})
}

func (c *Client) RemoveTenant(ctx context.Context, req *TenantRequest) (*Result, error) {
	return call(ctx, c.removeTenant, req)
}

// Subscribe opens the notification stream. The caller must close it.
func (c *Client) Subscribe(ctx context.Context, req *SubscribeRequest) (*connect.ServerStreamForClient[Notification], error) {
	return c.subscribe.CallServerStream(ctx, connect.NewRequest(req))
}
