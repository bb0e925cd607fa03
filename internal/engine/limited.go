package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"imagelens/internal/metrics"
)

// Limited caps how many engine processes run at once. Callers beyond the cap
// wait for a slot until their context ends or maxWait elapses.
type Limited struct {
	next     Engine
	sem      *semaphore.Weighted
	capacity int64
	maxWait  time.Duration
	inflight atomic.Int64
}

func NewLimited(next Engine, capacity int, maxWait time.Duration) *Limited {
	if capacity <= 0 {
		capacity = 1
	}
	return &Limited{
		next:     next,
		sem:      semaphore.NewWeighted(int64(capacity)),
		capacity: int64(capacity),
		maxWait:  maxWait,
	}
}

func (l *Limited) Analyze(ctx context.Context, imagePath string) (*Invocation, error) {
	if err := l.acquire(ctx); err != nil {
		return nil, err
	}
	defer l.sem.Release(1)

	l.inflight.Add(1)
	metrics.EngineInflight.Inc()
	defer func() {
		l.inflight.Add(-1)
		metrics.EngineInflight.Dec()
	}()

	return l.next.Analyze(ctx, imagePath)
}

func (l *Limited) acquire(ctx context.Context) error {
	waitCtx := ctx
	if l.maxWait > 0 {
		var cancel context.CancelFunc
		waitCtx, cancel = context.WithTimeout(ctx, l.maxWait)
		defer cancel()
	}

	metrics.EngineWaiting.Inc()
	defer metrics.EngineWaiting.Dec()

	if err := l.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return &InvocationError{
				Reason:   ReasonTimeout,
				Message:  fmt.Sprintf("no free engine slot within %s", l.maxWait),
				ExitCode: -1,
				Err:      err,
			}
		}
		return &InvocationError{Reason: ReasonCanceled, Message: "request canceled while waiting for an engine slot", ExitCode: -1, Err: err}
	}
	return nil
}

func (l *Limited) Capacity() int {
	return int(l.capacity)
}

func (l *Limited) InFlight() int {
	return int(l.inflight.Load())
}
