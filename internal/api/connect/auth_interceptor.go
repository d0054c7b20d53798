package connect

import (
	"context"
	"crypto/subtle"

	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
)

// AdminTokenHeader carries the admin token.
const AdminTokenHeader = "X-Admin-Token"

var (
	errMissingToken = errors.New("missing admin token")
	errInvalidToken = errors.New("invalid admin token")
)

// adminAuth guards commands with a shared token. Server streams
// (notifications) stay public.
type adminAuth struct {
	token []byte
}

// NewAdminAuthInterceptor creates an interceptor that requires token on
// every unary procedure.
func NewAdminAuthInterceptor(token string) connect.Interceptor {
	return &adminAuth{token: []byte(token)}
}

func (a *adminAuth) check(procedure, got string) error {
	if got == "" {
		return connect.NewError(connect.CodeUnauthenticated, errMissingToken)
	}
	if len(a.token) == 0 || subtle.ConstantTimeCompare([]byte(got), a.token) != 1 {
		zlog.Warn().Msgf("rejected admin call: procedure=%s", procedure)
		return connect.NewError(connect.CodeUnauthenticated, errInvalidToken)
	}
	return nil
}

func (a *adminAuth) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if !req.Spec().IsClient {
			if err := a.check(req.Spec().Procedure, req.Header().Get(AdminTokenHeader)); err != nil {
				return nil, err
			}
		}
		return next(ctx, req)
	}
}

func (a *adminAuth) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return next
}

func (a *adminAuth) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next
}

// tokenClient attaches the admin token to outgoing calls.
type tokenClient struct {
	token string
}

// NewTokenClientInterceptor attaches token to every outgoing call.
func NewTokenClientInterceptor(token string) connect.Interceptor {
	return &tokenClient{token: token}
}

func (c *tokenClient) WrapUnary(next connect.UnaryFunc) connect.UnaryFunc {
	return func(ctx context.Context, req connect.AnyRequest) (connect.AnyResponse, error) {
		if req.Spec().IsClient {
			req.Header().Set(AdminTokenHeader, c.token)
		}
		return next(ctx, req)
	}
}

func (c *tokenClient) WrapStreamingClient(next connect.StreamingClientFunc) connect.StreamingClientFunc {
	return func(ctx context.Context, spec connect.Spec) connect.StreamingClientConn {
		conn := next(ctx, spec)
		conn.RequestHeader().Set(AdminTokenHeader, c.token)
		return conn
	}
}

func (c *tokenClient) WrapStreamingHandler(next connect.StreamingHandlerFunc) connect.StreamingHandlerFunc {
	return next
}
