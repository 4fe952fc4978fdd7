// Package mutation keeps cached reads consistent with writes: a successful
// write invalidates every cached read tagged with the resources it touched
// and reloads the affected screens.
package mutation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"

	api "github.com/krisalay/posyandu-cache/api"
)

var ErrNoAction = errors.New("mutation: nothing to run")

// Mutation is one state-changing call against the backend.
type Mutation struct {
	Name string

	// Invalidates lists the tags of every resource the write changes.
	Invalidates []string

	Do func(ctx context.Context) error
}

/*
Executor runs mutations for one session.

After a successful write, and before Run returns:
 1. every entry tagged with one of Invalidates is removed
 2. every watched query whose tags overlap (or whose key was removed) is
    handed to the refetch policy with ForceRefresh semantics

A failed write touches nothing.
*/
type Executor struct {
	store  api.Store
	policy RefetchPolicy
	logger *slog.Logger

	mu      sync.Mutex
	visible map[int]Refetcher
	next    int
}

func NewExecutor(store api.Store, policy RefetchPolicy, logger *slog.Logger) *Executor {
	if policy == nil {
		policy = SyncRefetch{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Executor{
		store:   store,
		policy:  policy,
		logger:  logger,
		visible: make(map[int]Refetcher),
	}
}

// Watch marks r as on screen until the returned func is called.
func (e *Executor) Watch(r Refetcher) (unwatch func()) {
	e.mu.Lock()
	id := e.next
	e.next++
	e.visible[id] = r
	e.mu.Unlock()

	return func() {
		e.mu.Lock()
		delete(e.visible, id)
		e.mu.Unlock()
	}
}

func (e *Executor) Run(ctx context.Context, m Mutation) error {
	if m.Do == nil {
		return ErrNoAction
	}
	if err := m.Do(ctx); err != nil {
		return fmt.Errorf("%s: %w", m.Name, err)
	}

	removed := e.store.InvalidateTags(m.Invalidates...)
	affected := e.affected(m.Invalidates, removed)

	e.logger.Info("mutation applied",
		"name", m.Name, "tags", m.Invalidates, "invalidated", len(removed), "refetch", len(affected))

	e.policy.Refetch(ctx, affected)
	return nil
}

// InvalidateTags drops tagged entries and reloads what is on screen, without a write.
// Invalidations pushed by the backend go through here.
func (e *Executor) InvalidateTags(ctx context.Context, tags ...string) []string {
	removed := e.store.InvalidateTags(tags...)
	e.policy.Refetch(ctx, e.affected(tags, removed))
	return removed
}

func (e *Executor) affected(tags, removed []string) []Refetcher {
	e.mu.Lock()
	defer e.mu.Unlock()

	var out []Refetcher
	for _, r := range e.visible {
		if slices.Contains(removed, r.Key()) || overlaps(r.Tags(), tags) {
			out = append(out, r)
		}
	}
	return out
}

// Close stops the refetch policy. Queued reloads finish first.
func (e *Executor) Close() {
	e.policy.Close()
}

func overlaps(a, b []string) bool {
	for _, x := range a {
		if slices.Contains(b, x) {
			return true
		}
	}
	return false
}

// Apply runs a write that returns the record it created or changed.
func Apply[T any](ctx context.Context, e *Executor, name string, tags []string, do func(context.Context) (T, error)) (T, error) {
	var out T
	err := e.Run(ctx, Mutation{
		Name:        name,
		Invalidates: tags,
		Do: func(ctx context.Context) error {
			v, err := do(ctx)
			if err != nil {
				return err
			}
			out = v
			return nil
		},
	})
	return out, err
}
