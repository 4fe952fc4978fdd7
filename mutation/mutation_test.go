package mutation_test

import (
	"context"
	"errors"
	"slices"
	"sync"
	"testing"
	"time"

	cache "github.com/krisalay/posyandu-cache"
	"github.com/krisalay/posyandu-cache/mutation"
)

//
// ================= TEST DOUBLES =================
//

type screen struct {
	key  string
	tags []string

	mu    sync.Mutex
	calls int
	block chan struct{}
}

func (s *screen) Key() string    { return s.key }
func (s *screen) Tags() []string { return s.tags }

func (s *screen) Refetch(context.Context) {
	if s.block != nil {
		<-s.block
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
}

func (s *screen) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}

func newStore() *cache.SessionCache {
	s := cache.NewSessionCache(cache.Config{}, nil)
	s.Set("admin_posyandus_active", 1, "posyandu")
	s.Set("admin_posyandus_inactive", 2, "posyandu")
	s.Set("admin_dashboard", 3, "child", "dashboard", "growth", "posyandu", "user")
	s.Set("admin_children", 4, "child")
	return s
}

func succeed(context.Context) error { return nil }

//
// ================= RUN =================
//

func TestRunInvalidatesTaggedEntries(t *testing.T) {
	store := newStore()
	ex := mutation.NewExecutor(store, nil, nil)

	err := ex.Run(context.Background(), mutation.Mutation{
		Name:        "toggle posyandu",
		Invalidates: []string{"posyandu", "posyandu:2"},
		Do:          succeed,
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	keys := store.Keys()
	if !slices.Equal(keys, []string{"admin_children"}) {
		t.Fatalf("expected only admin_children left, got %v", keys)
	}
}

func TestFailedWriteInvalidatesNothing(t *testing.T) {
	store := newStore()
	ex := mutation.NewExecutor(store, nil, nil)
	boom := errors.New("backend down")

	err := ex.Run(context.Background(), mutation.Mutation{
		Name:        "toggle posyandu",
		Invalidates: []string{"posyandu"},
		Do:          func(context.Context) error { return boom },
	})

	if !errors.Is(err, boom) {
		t.Fatalf("expected wrapped backend error, got %v", err)
	}
	if err.Error() != "toggle posyandu: backend down" {
		t.Fatalf("unexpected error text %q", err.Error())
	}
	if store.Len() != 4 {
		t.Fatalf("failed write must not touch the cache, %d entries left", store.Len())
	}
}

func TestRunWithoutAction(t *testing.T) {
	ex := mutation.NewExecutor(newStore(), nil, nil)

	if err := ex.Run(context.Background(), mutation.Mutation{Name: "noop"}); !errors.Is(err, mutation.ErrNoAction) {
		t.Fatalf("expected ErrNoAction, got %v", err)
	}
}

func TestApplyReturnsRecord(t *testing.T) {
	store := newStore()
	ex := mutation.NewExecutor(store, nil, nil)

	id, err := mutation.Apply(context.Background(), ex, "create child", []string{"child"},
		func(context.Context) (string, error) { return "42", nil })
	if err != nil {
		t.Fatalf("apply failed: %v", err)
	}
	if id != "42" {
		t.Fatalf("expected 42, got %q", id)
	}
	if _, ok := store.Get("admin_children"); ok {
		t.Fatalf("expected admin_children invalidated")
	}
}

//
// ================= REFETCH =================
//

func TestSyncRefetchOfVisibleScreens(t *testing.T) {
	store := newStore()
	ex := mutation.NewExecutor(store, mutation.SyncRefetch{}, nil)

	active := &screen{key: "admin_posyandus_active", tags: []string{"posyandu"}}
	children := &screen{key: "admin_children", tags: []string{"child"}}
	// not cached right now, but on screen and tagged
	dashboard := &screen{key: "admin_dashboard_7", tags: []string{"dashboard", "posyandu"}}

	ex.Watch(active)
	ex.Watch(children)
	ex.Watch(dashboard)

	if err := ex.Run(context.Background(), mutation.Mutation{Name: "toggle", Invalidates: []string{"posyandu"}, Do: succeed}); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	if active.count() != 1 || dashboard.count() != 1 {
		t.Fatalf("expected affected screens refetched, got %d and %d", active.count(), dashboard.count())
	}
	if children.count() != 0 {
		t.Fatalf("unrelated screen must not refetch")
	}
}

func TestUnwatchedScreenIsNotRefetched(t *testing.T) {
	ex := mutation.NewExecutor(newStore(), nil, nil)

	s := &screen{key: "admin_children", tags: []string{"child"}}
	unwatch := ex.Watch(s)
	unwatch()

	ex.InvalidateTags(context.Background(), "child")

	if s.count() != 0 {
		t.Fatalf("unmounted screen was refetched")
	}
}

func TestInvalidateTagsWithoutWrite(t *testing.T) {
	store := newStore()
	ex := mutation.NewExecutor(store, nil, nil)

	s := &screen{key: "admin_children", tags: []string{"child"}}
	ex.Watch(s)

	removed := ex.InvalidateTags(context.Background(), "child")

	if !slices.Equal(removed, []string{"admin_children", "admin_dashboard"}) {
		t.Fatalf("unexpected removed keys %v", removed)
	}
	if s.count() != 1 {
		t.Fatalf("expected screen refetched once, got %d", s.count())
	}
}

func TestAsyncRefetchReturnsBeforeReload(t *testing.T) {
	store := newStore()
	policy := mutation.NewAsyncRefetch(8, nil)
	ex := mutation.NewExecutor(store, policy, nil)

	s := &screen{key: "admin_children", tags: []string{"child"}, block: make(chan struct{})}
	ex.Watch(s)

	done := make(chan error, 1)
	go func() {
		done <- ex.Run(context.Background(), mutation.Mutation{Name: "create child", Invalidates: []string{"child"}, Do: succeed})
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("run failed: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("async policy blocked the write")
	}

	if _, ok := store.Get("admin_children"); ok {
		t.Fatalf("cache must be invalidated before Run returns")
	}

	close(s.block)
	ex.Close()

	if s.count() != 1 {
		t.Fatalf("expected queued reload to finish on close, got %d", s.count())
	}
}

func TestAsyncRefetchIgnoredAfterClose(t *testing.T) {
	policy := mutation.NewAsyncRefetch(1, nil)

	s := &screen{key: "admin_children"}
	policy.Refetch(context.Background(), []mutation.Refetcher{s})
	policy.Close()

	if s.count() != 1 {
		t.Fatalf("expected queued reload to run before close returned, got %d", s.count())
	}

	policy.Close()
	late := &screen{key: "admin_users"}
	policy.Refetch(context.Background(), []mutation.Refetcher{late})
	if late.count() != 0 {
		t.Fatalf("reload after close must be ignored")
	}
}
