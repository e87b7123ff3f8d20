package llm

import (
	"context"
	"time"
)

// timeoutProvider applies a per-call deadline to a wrapped Provider. Some
// backends accept an HTTP timeout natively; for the rest this wrapper keeps
// the guarantee that no Generate call runs unbounded.
type timeoutProvider struct {
	inner   Provider
	timeout time.Duration
}

// NewWithTimeout wraps p so that every Generate call carries a deadline of at
// most d. If the caller's context already has an earlier deadline, that one
// wins. A non-positive d returns p unchanged.
func NewWithTimeout(p Provider, d time.Duration) Provider {
	if d <= 0 {
		return p
	}
	return &timeoutProvider{inner: p, timeout: d}
}

func (t *timeoutProvider) Generate(ctx context.Context, req Request) (*Response, error) {
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()
	return t.inner.Generate(ctx, req)
}

func (t *timeoutProvider) ModelID() string {
	return t.inner.ModelID()
}
