package model

import (
	"context"
	"errors"
	"math"
	"time"

	"github.com/wavegraph/orchestrator/runtime/model/sse"
)

// Adapter is the capability set a provider adapter implements: translate a
// unified Request into the provider's native call, issue it, and decode
// both the non-streaming response and the provider's stream back into the
// unified vocabulary.
type Adapter interface {
	Provider() string
	Complete(ctx context.Context, req Request) (Response, error)
	Stream(ctx context.Context, req Request) (Streamer, error)
}

// BackoffPolicy configures the client's retry behavior for retryable
// provider errors.
type BackoffPolicy struct {
	BaseDelay  time.Duration
	MaxDelay   time.Duration
	MaxRetries int
}

// DefaultBackoffPolicy is a conservative exponential back-off: 500ms base,
// doubling up to a 30s cap, matching retryLimit from the task (the client
// itself defaults to 3 retries, i.e. up to 4 attempts, when no
// task-specific limit is supplied).
var DefaultBackoffPolicy = BackoffPolicy{BaseDelay: 500 * time.Millisecond, MaxDelay: 30 * time.Second, MaxRetries: 3}

// Delay returns the back-off delay before retry attempt n (1-indexed).
func (p BackoffPolicy) Delay(attempt int) time.Duration {
	d := time.Duration(float64(p.BaseDelay) * math.Pow(2, float64(attempt-1)))
	if d > p.MaxDelay {
		d = p.MaxDelay
	}
	return d
}

// client wraps an Adapter with retry/back-off and cancellation handling.
// The client owns this orchestration so every adapter shares identical
// retry semantics; adapters only translate.
type client struct {
	adapter Adapter
	policy  BackoffPolicy
	sleep   func(context.Context, time.Duration) error
}

// NewClient wraps adapter with the client's shared retry/back-off policy.
func NewClient(adapter Adapter, policy BackoffPolicy) Client {
	return &client{adapter: adapter, policy: policy, sleep: sleepCtx}
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Complete issues req, retrying retryable provider errors up to
// policy.MaxRetries with exponential back-off. Cancellation via ctx is
// always fatal and is never retried.
func (c *client) Complete(ctx context.Context, req Request) (Response, error) {
	var lastErr error
	for attempt := 1; attempt <= c.policy.MaxRetries+1; attempt++ {
		if ctx.Err() != nil {
			return Response{}, &CancellationError{Provider: c.adapter.Provider()}
		}
		resp, err := c.adapter.Complete(ctx, req)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return Response{}, &CancellationError{Provider: c.adapter.Provider()}
		}
		var perr *ProviderError
		if !errors.As(err, &perr) || !perr.Retryable() {
			return Response{}, err
		}
		if attempt <= c.policy.MaxRetries {
			if waitErr := c.sleep(ctx, c.policy.Delay(attempt)); waitErr != nil {
				return Response{}, &CancellationError{Provider: c.adapter.Provider()}
			}
		}
	}
	return Response{}, lastErr
}

// Stream issues req and returns the adapter's Streamer directly: streaming
// retries are the caller's responsibility since a partially-consumed
// stream cannot be transparently replayed.
func (c *client) Stream(ctx context.Context, req Request) (Streamer, error) {
	if ctx.Err() != nil {
		return nil, &CancellationError{Provider: c.adapter.Provider()}
	}
	return c.adapter.Stream(ctx, req)
}

// ClassifyStreamErrors wraps s so a per-stream idle timeout surfaces as a
// retryable ProviderError (504) for provider instead of a bare transport
// error, letting the caller's retry policy treat a stalled stream the same
// way it treats a gateway timeout.
func ClassifyStreamErrors(provider string, s Streamer) Streamer {
	return &classifiedStreamer{provider: provider, inner: s}
}

type classifiedStreamer struct {
	provider string
	inner    Streamer
}

func (c *classifiedStreamer) Recv() (Chunk, bool, error) {
	chunk, ok, err := c.inner.Recv()
	if err != nil && errors.Is(err, sse.ErrIdleTimeout) {
		return Chunk{}, false, NewProviderError(c.provider, 504, err)
	}
	return chunk, ok, err
}

func (c *classifiedStreamer) Close() error { return c.inner.Close() }

// Drain consumes every Chunk from s until Done (or an error), returning the
// aggregated Response from the Done chunk. It is a convenience for callers
// that don't need incremental chunks, layered over Streamer rather than
// duplicated per adapter.
func Drain(s Streamer) (Response, error) {
	defer s.Close()
	for {
		chunk, ok, err := s.Recv()
		if err != nil {
			return Response{}, err
		}
		if !ok {
			return Response{}, errors.New("model: stream ended without a done chunk")
		}
		if chunk.Type == ChunkDone {
			if chunk.Response == nil {
				return Response{}, errors.New("model: done chunk missing response")
			}
			return *chunk.Response, nil
		}
	}
}
