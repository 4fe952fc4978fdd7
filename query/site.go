package query

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/krisalay/posyandu-cache/client"
)

var ErrNoFetcher = errors.New("query: request has no fetcher")

// Fetcher loads one payload from the backend.
type Fetcher[T any] func(ctx context.Context) (T, error)

// Request is one logical query: where its result lives in the cache and how to get it.
type Request[T any] struct {
	Key   string
	Tags  []string
	Fetch Fetcher[T]
}

// Options control a single load.
type Options struct {
	// ForceRefresh skips the cache and always calls the fetcher.
	ForceRefresh bool

	// ShowLoader sets State.Loading while the request is in flight.
	// Silent refreshes leave it alone.
	ShowLoader bool

	// Revalidate starts a silent background refresh after a cache hit.
	Revalidate bool
}

// State is what a screen renders.
type State[T any] struct {
	Key     string
	Data    T
	HasData bool
	Loading bool

	// Err is the failure of the latest request; Message is its user-facing text.
	Err     error
	Message string

	// FromCache is true when Data was painted from the session cache.
	FromCache bool

	// Token is the request token Data was committed under.
	Token     uint64
	UpdatedAt time.Time
}

/*
Site is one place on a screen that loads data: a table, a dashboard card,
a filtered list. It owns the request token for that place.

A site may switch keys between loads (a filter changes from "active" to
"inactive"); responses still in flight for the old key are superseded.
*/
type Site[T any] struct {
	client *Client
	name   string
	guard  Guard

	mu      sync.Mutex
	lastKey string
	state   State[T]

	// inflight counts this site's own unfinished requests per key.
	inflight map[string]int

	subs    map[int]func(State[T])
	nextSub int
}

// NewSite creates a call site. name only shows up in logs.
func NewSite[T any](c *Client, name string) *Site[T] {
	return &Site[T]{
		client:   c,
		name:     name,
		subs:     make(map[int]func(State[T])),
		inflight: make(map[string]int),
	}
}

// State returns a snapshot of what the site currently shows.
func (s *Site[T]) State() State[T] {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Subscribe calls fn with every committed state change until the returned func is called.
func (s *Site[T]) Subscribe(fn func(State[T])) (cancel func()) {
	s.mu.Lock()
	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn
	s.mu.Unlock()

	return func() {
		s.mu.Lock()
		delete(s.subs, id)
		s.mu.Unlock()
	}
}

/*
Load runs one round of "paint from cache, then refresh, discard stale".

 1. Without ForceRefresh a cached value is applied at once and nothing is
    fetched (a silent refresh follows if asked for or if the refresh policy
    says the entry is due).
 2. Otherwise the next token is taken, Loading is set if ShowLoader, and the
    fetcher runs.
 3. The outcome is committed only if the token is still current: success
    updates Data and the cache, failure sets Err and Message and leaves the
    cache alone.

Failures never come back as errors; they are part of the returned State.
*/
func (s *Site[T]) Load(ctx context.Context, req Request[T], opts Options) State[T] {
	if !opts.ForceRefresh {
		if st, ok := s.paintFromCache(ctx, req, opts); ok {
			return st
		}
	}
	return s.fetch(ctx, req, opts)
}

func (s *Site[T]) paintFromCache(ctx context.Context, req Request[T], opts Options) (State[T], bool) {
	hit, ok := s.client.store.Lookup(req.Key)
	if !ok {
		return State[T]{}, false
	}
	v, ok := hit.Value.(T)
	if !ok {
		s.client.logger.Warn("cached value has unexpected type, refetching",
			"site", s.name, "key", req.Key, "type", fmt.Sprintf("%T", hit.Value))
		return State[T]{}, false
	}

	s.mu.Lock()
	// Painting another key supersedes whatever is still in flight for the old one.
	if req.Key != s.lastKey {
		s.guard.Next()
		s.state.Loading = false
	}
	s.lastKey = req.Key
	s.state.Key = req.Key
	s.state.Data = v
	s.state.HasData = true
	s.state.Err = nil
	s.state.Message = ""
	s.state.FromCache = true
	s.state.Token = s.guard.Current()
	s.state.UpdatedAt = hit.StoredAt
	st, subs := s.state, s.subscribers()
	s.mu.Unlock()

	notify(subs, st)

	if opts.Revalidate || hit.RefreshDue {
		s.client.metrics.Refresh()
		s.client.logger.Debug("revalidating in background", "site", s.name, "key", req.Key)
		s.client.background(ctx, func(ctx context.Context) {
			s.fetch(ctx, req, Options{ForceRefresh: true})
		})
	}
	return st, true
}

func (s *Site[T]) fetch(ctx context.Context, req Request[T], opts Options) State[T] {
	s.mu.Lock()
	token := s.guard.Next()
	s.lastKey = req.Key
	epoch := s.client.store.Epoch()
	// A newer request of this site must get its own response, not the one it supersedes.
	join := !opts.ForceRefresh && s.inflight[req.Key] == 0
	s.inflight[req.Key]++
	var subs []func(State[T])
	if opts.ShowLoader {
		s.state.Key = req.Key
		s.state.Loading = true
		subs = s.subscribers()
	}
	loading := s.state
	s.mu.Unlock()

	notify(subs, loading)

	v, seq, err := s.run(ctx, req, epoch, join)

	s.mu.Lock()
	if s.inflight[req.Key]--; s.inflight[req.Key] == 0 {
		delete(s.inflight, req.Key)
	}
	if !s.guard.IsCurrent(token) {
		st := s.state
		s.mu.Unlock()
		s.client.metrics.StaleDiscard()
		s.client.logger.Debug("discarded superseded response",
			"site", s.name, "key", req.Key, "token", token, "current", st.Token)
		return st
	}

	s.state.Key = req.Key
	s.state.Token = token
	s.state.Loading = false
	if err != nil {
		s.state.Err = err
		s.state.Message = client.Message(err, s.client.fallback)
	} else {
		s.state.Data = v
		s.state.HasData = true
		s.state.Err = nil
		s.state.Message = ""
		s.state.FromCache = false
		s.state.UpdatedAt = time.Now()
		// Still under the site lock: the cache write is part of the commit.
		// An outdated response is shown on this site but not cached.
		s.client.commit(req.Key, v, seq, epoch, req.Tags)
	}
	st, subs := s.state, s.subscribers()
	s.mu.Unlock()

	if err != nil {
		s.client.metrics.FetchError()
		s.client.logger.Warn("request failed", "site", s.name, "key", req.Key, "err", err)
	}
	notify(subs, st)
	return st
}

// run calls the fetcher, through singleflight when join is set.
func (s *Site[T]) run(ctx context.Context, req Request[T], epoch uint64, join bool) (T, uint64, error) {
	var zero T
	if req.Fetch == nil {
		return zero, 0, ErrNoFetcher
	}

	v, seq, err := s.client.fetch(ctx, req.Key, epoch, join, func(ctx context.Context) (any, error) {
		return req.Fetch(ctx)
	})
	if err != nil {
		return zero, seq, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, seq, fmt.Errorf("query: key %q is shared by queries of different types (%T)", req.Key, v)
	}
	return out, seq, nil
}

// subscribers copies the subscriber list. Callers hold s.mu.
func (s *Site[T]) subscribers() []func(State[T]) {
	if len(s.subs) == 0 {
		return nil
	}
	out := make([]func(State[T]), 0, len(s.subs))
	for _, fn := range s.subs {
		out = append(out, fn)
	}
	return out
}

func notify[T any](subs []func(State[T]), st State[T]) {
	for _, fn := range subs {
		fn(st)
	}
}
