// Package resolver turns track refs into streamable endpoints or expandable lists.
package resolver

import (
	"context"

	"github.com/cockroachdb/errors"

	"github.com/osa030/tunebox/internal/domain/track"
)

// Resolve failure kinds. Strategies mark their errors with one of these.
var (
	ErrTimeout    = errors.New("resolve timed out")
	ErrNotFound   = errors.New("item not found")
	ErrUnplayable = errors.New("item is not playable")

	// ErrNotApplicable tells the chain to try the next strategy.
	ErrNotApplicable = errors.New("ref not handled by strategy")
)

// Resolver resolves refs.
type Resolver interface {
	Resolve(ctx context.Context, ref track.Ref) (*track.Resolution, error)
}

// Reason classifies a resolve failure.
type Reason string

const (
	ReasonTimeout    Reason = "timeout"
	ReasonNotFound   Reason = "not_found"
	ReasonUnplayable Reason = "unplayable"
)

// ReasonOf classifies err. Unknown failures count as unplayable.
func ReasonOf(err error) Reason {
	switch {
	case errors.Is(err, ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return ReasonTimeout
	case errors.Is(err, ErrNotFound):
		return ReasonNotFound
	default:
		return ReasonUnplayable
	}
}

// ShouldBlacklist reports whether a failure is permanent enough to blacklist
// the ref. Not-found is treated as transient.
func ShouldBlacklist(err error) bool {
	return ReasonOf(err) != ReasonNotFound
}

// NotFound marks err as a not-found failure.
func NotFound(err error) error {
	return errors.Mark(err, ErrNotFound)
}

// Unplayable marks err as an unplayable failure.
func Unplayable(err error) error {
	return errors.Mark(err, ErrUnplayable)
}

// Timeout marks err as a timeout.
func Timeout(err error) error {
	return errors.Mark(err, ErrTimeout)
}

// Func adapts a function to the Resolver interface.
type Func func(ctx context.Context, ref track.Ref) (*track.Resolution, error)

// Resolve calls f.
func (f Func) Resolve(ctx context.Context, ref track.Ref) (*track.Resolution, error) {
	return f(ctx, ref)
}

func cloneResolution(r *track.Resolution) *track.Resolution {
	if r == nil {
		return nil
	}
	out := *r
	if r.Members != nil {
		out.Members = append([]track.Ref(nil), r.Members...)
	}
	return &out
}
