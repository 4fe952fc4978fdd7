package session

import (
	"context"

	"github.com/krisalay/posyandu-cache/mutation"
	"github.com/krisalay/posyandu-cache/query"
)

type ctxKey struct{}

// WithSession returns a copy of ctx carrying s.
func WithSession(ctx context.Context, s *Session) context.Context {
	return context.WithValue(ctx, ctxKey{}, s)
}

// FromContext returns the session carried by ctx if it is still usable.
// Every successful lookup counts as activity.
func FromContext(ctx context.Context) (*Session, error) {
	s, ok := ctx.Value(ctxKey{}).(*Session)
	if !ok || s == nil {
		return nil, ErrNoSession
	}
	if err := s.Check(); err != nil {
		return nil, err
	}
	s.Touch()
	return s, nil
}

// Watch creates a query on s and keeps it refetched after writes until unwatch is called.
// It is how a screen mounts a query; unwatch is its unmount.
func Watch[T any](s *Session, req query.Request[T]) (q *query.Query[T], unwatch func()) {
	q = query.New(s.queries, req)
	var r mutation.Refetcher = q
	return q, s.mutations.Watch(r)
}
