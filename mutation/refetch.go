package mutation

import (
	"context"
	"log/slog"
	"sync"
)

/*
This file defines how visible screens catch up after a write.

Once a write has invalidated its tags, every query still on screen that
depended on them has to reload with ForceRefresh. Two policies exist:
  - SyncRefetch: the write returns only after the screens reloaded
  - AsyncRefetch: reloads are queued to a background worker
*/

// Refetcher is a query currently on screen.
type Refetcher interface {
	Key() string
	Tags() []string

	// Refetch reloads with ForceRefresh. Failures end up in the query's own state.
	Refetch(ctx context.Context)
}

// RefetchPolicy is the contract every refetch strategy follows.
type RefetchPolicy interface {
	Refetch(ctx context.Context, visible []Refetcher)
	Close()
}

// SyncRefetch reloads every affected query before the write returns.
type SyncRefetch struct{}

func (SyncRefetch) Refetch(ctx context.Context, visible []Refetcher) {
	for _, r := range visible {
		r.Refetch(ctx)
	}
}

func (SyncRefetch) Close() {}

type refetchReq struct {
	ctx context.Context
	r   Refetcher
}

/*
AsyncRefetch hands reloads to one background worker.

The write returns as soon as the cache is invalidated. If the queue is
full the reload is dropped: the entry is already gone, so the next load of
that screen goes to the backend anyway.
*/
type AsyncRefetch struct {
	ch     chan refetchReq
	wg     sync.WaitGroup
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
}

func NewAsyncRefetch(buffer int, logger *slog.Logger) *AsyncRefetch {
	if logger == nil {
		logger = slog.Default()
	}
	a := &AsyncRefetch{
		ch:     make(chan refetchReq, buffer),
		logger: logger,
	}

	a.wg.Add(1)
	go a.worker()

	return a
}

func (a *AsyncRefetch) Refetch(ctx context.Context, visible []Refetcher) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	if a.closed {
		return
	}

	for _, r := range visible {
		select {
		case a.ch <- refetchReq{ctx: context.WithoutCancel(ctx), r: r}:
		default:
			a.logger.Warn("refetch queue full, dropping", "key", r.Key())
		}
	}
}

func (a *AsyncRefetch) worker() {
	defer a.wg.Done()

	for req := range a.ch {
		req.r.Refetch(req.ctx)
	}
}

// Close stops accepting reloads and waits for the queued ones to finish.
func (a *AsyncRefetch) Close() {
	a.mu.Lock()
	if a.closed {
		a.mu.Unlock()
		return
	}
	a.closed = true
	close(a.ch)
	a.mu.Unlock()

	a.wg.Wait()
}
