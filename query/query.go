package query

import "context"

/*
Query binds one request to its own call site: the reusable form of
"data, loading, error, refresh" for a screen that always shows the same
logical result.
*/
type Query[T any] struct {
	site *Site[T]
	req  Request[T]
}

func New[T any](c *Client, req Request[T]) *Query[T] {
	return &Query[T]{
		site: NewSite[T](c, req.Key),
		req:  req,
	}
}

func (q *Query[T]) Key() string {
	return q.req.Key
}

func (q *Query[T]) Tags() []string {
	return q.req.Tags
}

// Load paints from the cache when it can, otherwise fetches with a loader.
func (q *Query[T]) Load(ctx context.Context) State[T] {
	return q.site.Load(ctx, q.req, Options{ShowLoader: true})
}

// LoadWith runs a load with explicit options.
func (q *Query[T]) LoadWith(ctx context.Context, opts Options) State[T] {
	return q.site.Load(ctx, q.req, opts)
}

// Refresh always goes to the backend and shows the loader. The retry button of an error panel calls it.
func (q *Query[T]) Refresh(ctx context.Context) State[T] {
	return q.site.Load(ctx, q.req, Options{ForceRefresh: true, ShowLoader: true})
}

// Refetch is the silent forced reload issued after a write.
func (q *Query[T]) Refetch(ctx context.Context) {
	q.site.Load(ctx, q.req, Options{ForceRefresh: true})
}

func (q *Query[T]) State() State[T] {
	return q.site.State()
}

func (q *Query[T]) Subscribe(fn func(State[T])) (cancel func()) {
	return q.site.Subscribe(fn)
}
