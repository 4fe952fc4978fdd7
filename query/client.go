// Package query implements the "latest-wins" async query: paint from the
// session cache, refresh in the background, and never let a superseded
// response overwrite a newer one.
package query

import (
	"context"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/singleflight"

	api "github.com/krisalay/posyandu-cache/api"
	"github.com/krisalay/posyandu-cache/client"
	"github.com/krisalay/posyandu-cache/types"
)

/*
Client is shared by every call site of one session.

It owns:
- the session cache the sites read and write
- a singleflight group, so screens mounting at the same time with a cold
  cache issue one request per key instead of one each
- the start order of requests, so a response only reaches the cache if no
  later-started request for its key got there first
- the background revalidations it started, so Close can wait for them
*/
type Client struct {
	store    api.Store
	group    singleflight.Group
	metrics  types.Metrics
	logger   *slog.Logger
	fallback string

	seq     atomic.Uint64
	mu      sync.Mutex
	written map[string]uint64

	bg sync.WaitGroup
}

type ClientOption func(*Client)

func WithMetrics(m types.Metrics) ClientOption {
	return func(c *Client) { c.metrics = m }
}

func WithLogger(l *slog.Logger) ClientOption {
	return func(c *Client) { c.logger = l }
}

// WithFallbackMessage sets the text shown when a failure has no backend message.
func WithFallbackMessage(msg string) ClientOption {
	return func(c *Client) { c.fallback = msg }
}

func NewClient(store api.Store, opts ...ClientOption) *Client {
	c := &Client{
		store:    store,
		metrics:  types.NoopMetrics{},
		logger:   slog.Default(),
		fallback: client.DefaultMessage,
		written:  make(map[string]uint64),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Store returns the session cache behind the client.
func (c *Client) Store() api.Store {
	return c.store
}

/*
Wait blocks until every background revalidation started so far is done.
Logout calls it before tearing the cache down; tests call it to observe
the outcome of a silent refresh.
*/
func (c *Client) Wait() {
	c.bg.Wait()
}

// response is what one backend call produced, with the order it started in.
type response struct {
	value any
	seq   uint64
}

/*
fetch runs one request for key and returns its start sequence with the result.

Only cold loads that may join do so, and only with a request that started in
the same invalidation epoch: a request that began before a write never
answers a read issued after it. Forced loads never join either; they exist to
see the backend after a write.

A joined request runs with the context of the caller that started it, and
its callers share its sequence.
*/
func (c *Client) fetch(ctx context.Context, key string, epoch uint64, join bool, fn func(context.Context) (any, error)) (any, uint64, error) {
	call := func() (any, error) {
		seq := c.seq.Add(1)
		v, err := fn(ctx)
		return response{value: v, seq: seq}, err
	}

	if !join {
		r, err := call()
		res := r.(response)
		return res.value, res.seq, err
	}

	r, err, shared := c.group.Do(key+"@"+strconv.FormatUint(epoch, 10), call)
	if shared {
		c.logger.Debug("joined in-flight request", "key", key, "epoch", epoch)
	}
	res := r.(response)
	return res.value, res.seq, err
}

/*
commit writes a response into the cache unless it is outdated: a request for
key that started later has already been cached, or key was invalidated after
epoch.
*/
func (c *Client) commit(key string, v any, seq, epoch uint64, tags []string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if seq < c.written[key] {
		c.logger.Debug("newer response already cached", "key", key, "seq", seq, "cached", c.written[key])
		return false
	}
	if !c.store.SetSince(key, v, epoch, tags...) {
		return false
	}
	c.written[key] = seq
	return true
}

// background runs fn detached from the caller's cancellation and tracks it for Wait.
func (c *Client) background(ctx context.Context, fn func(context.Context)) {
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()
		fn(context.WithoutCancel(ctx))
	}()
}
