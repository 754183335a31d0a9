package feed

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// flight is one in-progress feed computation shared by every request that
// joins it.
type flight struct {
	done    chan struct{}
	resp    Response
	err     error
	waiters int
	cancel  context.CancelFunc
}

// flightGroup collapses concurrent computations with the same key into one.
// Unlike a plain singleflight, the shared run is cancelled as soon as its
// last waiter gives up.
type flightGroup struct {
	mu      sync.Mutex
	flights map[string]*flight
	timeout time.Duration // bounds each run; zero means unbounded
}

// do runs fn once per key at a time. The run's context keeps the first
// caller's values but neither its cancellation nor its deadline: the run is
// bounded by the group's timeout, and each caller stops waiting at its own
// deadline.
func (g *flightGroup) do(ctx context.Context, key string, fn func(context.Context) (Response, error)) (Response, bool, error) {
	g.mu.Lock()
	if g.flights == nil {
		g.flights = make(map[string]*flight)
	}
	f, shared := g.flights[key]
	if shared {
		f.waiters++
	} else {
		runCtx, cancel := detach(ctx, g.timeout)
		f = &flight{done: make(chan struct{}), waiters: 1, cancel: cancel}
		g.flights[key] = f
		go g.run(runCtx, key, f, fn)
	}
	g.mu.Unlock()

	select {
	case <-f.done:
		return f.resp, shared, f.err
	case <-ctx.Done():
		g.leave(key, f)
		return Response{}, shared, ctx.Err()
	}
}

func (g *flightGroup) run(ctx context.Context, key string, f *flight, fn func(context.Context) (Response, error)) {
	defer f.cancel()

	var (
		resp Response
		err  error
	)
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("feed computation panicked: %v", r)
			}
		}()
		resp, err = fn(ctx)
	}()

	g.mu.Lock()
	f.resp, f.err = resp, err
	if g.flights[key] == f {
		delete(g.flights, key)
	}
	g.mu.Unlock()
	close(f.done)
}

func (g *flightGroup) leave(key string, f *flight) {
	g.mu.Lock()
	defer g.mu.Unlock()
	f.waiters--
	if f.waiters > 0 {
		return
	}
	f.cancel()
	if g.flights[key] == f {
		delete(g.flights, key)
	}
}

// waiters reports how many callers wait on key
func (g *flightGroup) waiters(key string) int {
	g.mu.Lock()
	defer g.mu.Unlock()
	if f, ok := g.flights[key]; ok {
		return f.waiters
	}
	return 0
}

func detach(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	base := context.WithoutCancel(ctx)
	if timeout > 0 {
		return context.WithTimeout(base, timeout)
	}
	return context.WithCancel(base)
}
