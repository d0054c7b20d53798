package connect

import (
	"connectrpc.com/connect"
	"github.com/cockroachdb/errors"

	"github.com/osa030/tunebox/internal/app/playback"
	"github.com/osa030/tunebox/internal/app/resolver"
	"github.com/osa030/tunebox/internal/app/session"
	"github.com/osa030/tunebox/internal/app/session/state"
	"github.com/osa030/tunebox/internal/app/supervisor"
)

// toConnectError maps command failures to RPC codes.
func toConnectError(err error) error {
	if err == nil {
		return nil
	}

	var code connect.Code
	switch {
	case errors.Is(err, session.ErrEmptyRef), errors.Is(err, session.ErrNothingToQueue):
		code = connect.CodeInvalidArgument
	case errors.Is(err, state.ErrCapacity):
		code = connect.CodeResourceExhausted
	case errors.Is(err, resolver.ErrNotFound):
		code = connect.CodeNotFound
	case errors.Is(err, resolver.ErrTimeout):
		code = connect.CodeDeadlineExceeded
	case errors.Is(err, resolver.ErrUnplayable):
		code = connect.CodeInvalidArgument
	case errors.Is(err, supervisor.ErrConnection):
		code = connect.CodeUnavailable
	case errors.Is(err, playback.ErrBusy):
		code = connect.CodeAborted
	case errors.Is(err, playback.ErrNotConnected),
		errors.Is(err, playback.ErrInsufficientHistory),
		errors.Is(err, playback.ErrQueueEmpty),
		errors.Is(err, playback.ErrNotPlaying),
		errors.Is(err, playback.ErrNotPaused):
		code = connect.CodeFailedPrecondition
	default:
		code = connect.CodeInternal
	}
	return connect.NewError(code, err)
}
