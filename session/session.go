// Package session is the explicit, scoped home of everything that used to
// live in ambient storage: the auth token, the idle timeout and the response
// cache. A Session is created at login, injected where it is needed and
// torn down at logout.
package session

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync/atomic"
	"time"

	cache "github.com/krisalay/posyandu-cache"
	"github.com/krisalay/posyandu-cache/client"
	"github.com/krisalay/posyandu-cache/engine"
	"github.com/krisalay/posyandu-cache/eviction"
	"github.com/krisalay/posyandu-cache/expiration"
	"github.com/krisalay/posyandu-cache/invalidation"
	"github.com/krisalay/posyandu-cache/mutation"
	"github.com/krisalay/posyandu-cache/posyandu"
	"github.com/krisalay/posyandu-cache/query"
	"github.com/krisalay/posyandu-cache/refresh"
	"github.com/krisalay/posyandu-cache/types"
)

var (
	ErrClosed    = errors.New("session: closed")
	ErrExpired   = errors.New("session: expired")
	ErrNoSession = errors.New("session: none in context")
	ErrNoToken   = errors.New("session: auth token is required")
)

// DefaultTimeout logs an idle user out after this long.
const DefaultTimeout = 30 * time.Minute

/*
Config describes one session. Zero values give the dashboard defaults:
an unbounded, never-expiring cache, synchronous refetch after writes, no
revalidation of hits, no cross-session invalidation feed.
*/
type Config struct {
	BaseURL string

	// Cache shapes the response cache. Capacity 0 keeps it unbounded.
	Cache cache.Config

	// MaxAge drops cached responses this long after they were fetched.
	MaxAge time.Duration

	// IdleTTL drops cached responses nobody read for this long. Ignored when MaxAge is set.
	IdleTTL time.Duration

	// RevalidateAfter silently refetches hits older than this. Zero disables it.
	RevalidateAfter time.Duration

	// RefetchQueue > 0 reloads screens after writes on a background worker with that buffer.
	RefetchQueue int

	// InvalidationEndpoint is the backend's ZeroMQ PUB address, if it publishes writes.
	InvalidationEndpoint string

	// Timeout is the idle timeout of the session itself. Zero means DefaultTimeout.
	Timeout time.Duration

	// RequestTimeout bounds every backend request. Zero leaves it to the HTTP client.
	RequestTimeout time.Duration

	HTTPClient *http.Client
	Metrics    types.Metrics
	Logger     *slog.Logger
}

// Session is one logged-in user's scope.
type Session struct {
	ID   string
	User posyandu.User

	cache     *cache.SessionCache
	api       *client.Client
	queries   *query.Client
	mutations *mutation.Executor
	service   *posyandu.Service
	sub       *invalidation.Subscriber
	logger    *slog.Logger

	timeout    time.Duration
	lastActive atomic.Int64
	closed     atomic.Bool
	now        func() time.Time
}

// Open starts a session for user authenticated with token.
func Open(ctx context.Context, cfg Config, user posyandu.User, token string) (*Session, error) {
	if token == "" {
		return nil, ErrNoToken
	}
	policy, err := eviction.ParsePolicyType(string(cfg.Cache.Eviction))
	if err != nil {
		return nil, err
	}
	cfg.Cache.Eviction = policy

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	metrics := cfg.Metrics
	if metrics == nil {
		metrics = types.NoopMetrics{}
	}

	id, err := newID()
	if err != nil {
		return nil, err
	}
	logger = logger.With("session", id, "user", user.ID)

	opts := []client.Option{client.WithToken(token), client.WithLogger(logger)}
	if cfg.HTTPClient != nil {
		opts = append(opts, client.WithHTTPClient(cfg.HTTPClient))
	}
	if cfg.RequestTimeout > 0 {
		opts = append(opts, client.WithTimeout(cfg.RequestTimeout))
	}
	api, err := client.New(cfg.BaseURL, opts...)
	if err != nil {
		return nil, err
	}

	eng := engine.NewCacheEngine(expirationFor(cfg), refreshFor(cfg), metrics, logger)
	store := cache.NewSessionCache(cfg.Cache, eng)

	var refetch mutation.RefetchPolicy = mutation.SyncRefetch{}
	if cfg.RefetchQueue > 0 {
		refetch = mutation.NewAsyncRefetch(cfg.RefetchQueue, logger)
	}

	s := &Session{
		ID:        id,
		User:      user,
		cache:     store,
		api:       api,
		queries:   query.NewClient(store, query.WithMetrics(metrics), query.WithLogger(logger)),
		mutations: mutation.NewExecutor(store, refetch, logger),
		service:   posyandu.ForUser(api, user),
		logger:    logger,
		timeout:   cfg.Timeout,
		now:       time.Now,
	}
	if s.timeout <= 0 {
		s.timeout = DefaultTimeout
	}
	s.Touch()

	if cfg.InvalidationEndpoint != "" {
		s.sub = invalidation.NewSubscriber(cfg.InvalidationEndpoint, s.onInvalidation, logger)
		if err := s.sub.Start(ctx); err != nil {
			s.mutations.Close()
			return nil, fmt.Errorf("failed to start invalidation feed: %w", err)
		}
	}

	logger.Info("session opened", "role", user.Role, "posyandu", user.PosyanduID)
	return s, nil
}

func expirationFor(cfg Config) expiration.Strategy {
	switch {
	case cfg.MaxAge > 0:
		return &expiration.MaxAge{TTL: cfg.MaxAge}
	case cfg.IdleTTL > 0:
		return &expiration.IdleTimeout{TTL: cfg.IdleTTL}
	default:
		return expiration.Never{}
	}
}

func refreshFor(cfg Config) refresh.Policy {
	if cfg.RevalidateAfter > 0 {
		return refresh.OlderThan{Age: cfg.RevalidateAfter}
	}
	return refresh.Never{}
}

func newID() (string, error) {
	b := make([]byte, 8)
	if _, err := rand.Read(b); err != nil {
		return "", fmt.Errorf("failed to generate session id: %w", err)
	}
	return hex.EncodeToString(b), nil
}

// onInvalidation applies a write some other session made.
func (s *Session) onInvalidation(ctx context.Context, ev invalidation.Event) {
	if s.closed.Load() {
		return
	}
	removed := s.mutations.InvalidateTags(ctx, ev.Tags...)
	s.logger.Info("remote invalidation", "origin", ev.Origin, "tags", ev.Tags, "invalidated", len(removed))
}

func (s *Session) Cache() *cache.SessionCache    { return s.cache }
func (s *Session) Queries() *query.Client        { return s.queries }
func (s *Session) Mutations() *mutation.Executor { return s.mutations }
func (s *Session) Service() *posyandu.Service    { return s.service }
func (s *Session) Client() *client.Client        { return s.api }

// SetClock replaces the session clock. Tests use it to move time.
func (s *Session) SetClock(now func() time.Time) {
	s.now = now
	s.Touch()
}

// Touch records user activity.
func (s *Session) Touch() {
	s.lastActive.Store(s.now().UnixNano())
}

// Expired reports whether the user has been idle longer than the session timeout.
func (s *Session) Expired() bool {
	last := time.Unix(0, s.lastActive.Load())
	return s.now().Sub(last) > s.timeout
}

// Check returns why the session can no longer be used, or nil.
func (s *Session) Check() error {
	if s.closed.Load() {
		return ErrClosed
	}
	if s.Expired() {
		return ErrExpired
	}
	return nil
}

/*
Close is logout.

 1. the invalidation feed stops
 2. queued refetches and background revalidations finish
 3. the cache is dropped; late responses can no longer write into it

Close is safe to call multiple times.
*/
func (s *Session) Close() {
	if s.closed.Swap(true) {
		return
	}
	if s.sub != nil {
		s.sub.Stop()
	}
	s.mutations.Close()
	s.queries.Wait()
	s.cache.Close()
	s.logger.Info("session closed")
}
