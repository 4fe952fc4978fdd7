// Command posyandu-cache walks through the session cache against a backend:
// cold loads, cache hits, a superseded response being discarded, a write
// invalidating the lists it changed and a failure leaving the cache alone.
//
// Without -api it starts the SQLite fixture backend in-process.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"os/signal"
	"sort"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cache "github.com/krisalay/posyandu-cache"
	"github.com/krisalay/posyandu-cache/eviction"
	"github.com/krisalay/posyandu-cache/internal/fixture"
	"github.com/krisalay/posyandu-cache/invalidation"
	"github.com/krisalay/posyandu-cache/metrics"
	"github.com/krisalay/posyandu-cache/posyandu"
	"github.com/krisalay/posyandu-cache/query"
	"github.com/krisalay/posyandu-cache/session"
)

const demoToken = "demo-token"

func main() {
	var (
		apiURL         = flag.String("api", "", "backend base URL; empty starts the fixture backend in-process")
		shards         = flag.Int("shards", cache.DefaultShards, "cache shards per session")
		capacity       = flag.Int("capacity", 0, "max cached responses per session (0 = unbounded)")
		policy         = flag.String("eviction", string(eviction.LRU), "eviction policy when bounded: LRU, LFU or FIFO")
		maxAge         = flag.Duration("max-age", 0, "drop cached responses older than this (0 = never)")
		zmqAddr        = flag.String("zmq", "", "ZeroMQ endpoint for cross-session invalidation, e.g. tcp://127.0.0.1:5600")
		metricsAddr    = flag.String("metrics-addr", "", "serve Prometheus metrics on this address and wait for Ctrl-C")
		sessionTimeout = flag.Duration("session-timeout", session.DefaultTimeout, "idle timeout of a session")
		verbose        = flag.Bool("v", false, "debug logging")
	)
	flag.Parse()

	level := slog.LevelWarn
	if *verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)

	evictionPolicy, err := eviction.ParsePolicyType(*policy)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		flag.Usage()
		os.Exit(2)
	}

	if err := run(*apiURL, demoConfig{
		cache:          cache.Config{Shards: *shards, Capacity: *capacity, Eviction: evictionPolicy},
		maxAge:         *maxAge,
		zmq:            *zmqAddr,
		metricsAddr:    *metricsAddr,
		sessionTimeout: *sessionTimeout,
		logger:         logger,
	}); err != nil {
		slog.Error("demo failed", "err", err)
		os.Exit(1)
	}
}

type demoConfig struct {
	cache          cache.Config
	maxAge         time.Duration
	zmq            string
	metricsAddr    string
	sessionTimeout time.Duration
	logger         *slog.Logger
}

func run(apiURL string, cfg demoConfig) error {
	ctx := context.Background()

	fmt.Println("\n==================== SYSTEM BOOT ====================")
	fmt.Println("SHARDS          :", cfg.cache.Shards)
	if cfg.cache.Capacity > 0 {
		fmt.Printf("CAPACITY        : %d responses (%s)\n", cfg.cache.Capacity, cfg.cache.Eviction)
	} else {
		fmt.Println("CAPACITY        : unbounded")
	}
	if cfg.maxAge > 0 {
		fmt.Println("MAX AGE         :", cfg.maxAge)
	} else {
		fmt.Println("MAX AGE         : session lifetime")
	}

	// ---------------- Backend ----------------
	var backend *fixture.Server
	var seeded fixture.Seeded
	if apiURL == "" {
		store, err := fixture.Open(":memory:")
		if err != nil {
			return err
		}
		defer store.Close()

		seeded, err = fixture.Seed(ctx, store)
		if err != nil {
			return err
		}

		opts := []fixture.Option{fixture.WithToken(demoToken), fixture.WithLogger(cfg.logger)}
		if cfg.zmq != "" {
			pub := invalidation.NewPublisher(cfg.zmq, "fixture")
			if err := pub.Start(ctx); err != nil {
				return err
			}
			defer pub.Stop()
			cfg.zmq = pub.Addr()
			opts = append(opts, fixture.WithPublisher(pub))
			fmt.Println("INVALIDATION    :", cfg.zmq)
		}

		backend = fixture.NewServer(store, opts...)
		srv := httptest.NewServer(backend)
		defer srv.Close()
		apiURL = srv.URL
		fmt.Println("BACKEND         : fixture at", apiURL)
	} else {
		fmt.Println("BACKEND         :", apiURL)
		seeded = fixture.Seeded{Posyandus: []string{"1", "2"}, AdminID: "1", KaderID: "2"}
	}

	// ---------------- Metrics ----------------
	reg := prometheus.NewRegistry()
	m := metrics.NewPrometheus("posyandu", reg)

	// ---------------- Session ----------------
	admin := posyandu.User{ID: seeded.AdminID, Name: "Admin Dinkes", Role: posyandu.SuperAdmin}
	sess, err := session.Open(ctx, session.Config{
		BaseURL:              apiURL,
		Cache:                cfg.cache,
		MaxAge:               cfg.maxAge,
		InvalidationEndpoint: cfg.zmq,
		Timeout:              cfg.sessionTimeout,
		RequestTimeout:       5 * time.Second,
		Metrics:              m,
		Logger:               cfg.logger,
	}, admin, demoToken)
	if err != nil {
		return err
	}
	defer sess.Close()
	fmt.Println("SESSION         :", sess.ID, "as", admin.Role)

	svc := sess.Service()
	requests := func(path string) string {
		if backend == nil {
			return "n/a"
		}
		return fmt.Sprint(backend.Requests(path))
	}

	// ====================================================
	fmt.Println("\n==================== 1) COLD LOAD ====================")
	active, unwatch := session.Watch(sess, svc.Posyandus(posyandu.FilterActive))
	defer unwatch()

	st := active.Load(ctx)
	fmt.Printf("QUERY  → %s = %d posyandus (from cache: %v)\n", st.Key, len(st.Data), st.FromCache)
	fmt.Println("BACKEND → GET /posyandus requests:", requests("/posyandus"))

	// ====================================================
	fmt.Println("\n==================== 2) CACHE HIT ====================")
	other := query.New(sess.Queries(), svc.Posyandus(posyandu.FilterActive))
	st = other.Load(ctx)
	fmt.Printf("QUERY  → %s = %d posyandus (from cache: %v)\n", st.Key, len(st.Data), st.FromCache)
	fmt.Println("BACKEND → GET /posyandus requests:", requests("/posyandus"))

	// ====================================================
	fmt.Println("\n==================== 3) STALE RESPONSE ====================")
	if backend != nil {
		table := query.NewSite[[]posyandu.Posyandu](sess.Queries(), "posyandu-table")

		backend.Delay("/posyandus", 300*time.Millisecond)
		var wg sync.WaitGroup
		wg.Add(1)
		go func() {
			defer wg.Done()
			slow := table.Load(ctx, svc.Posyandus(posyandu.FilterAll), query.Options{ShowLoader: true})
			fmt.Printf("FILTER → all      finished, screen shows %s\n", slow.Key)
		}()

		time.Sleep(50 * time.Millisecond)
		backend.Delay("/posyandus", 0)
		fast := table.Load(ctx, svc.Posyandus(posyandu.FilterInactive), query.Options{ShowLoader: true})
		fmt.Printf("FILTER → inactive finished, screen shows %s\n", fast.Key)

		wg.Wait()
		fmt.Printf("SCREEN → %s (token %d)\n", table.State().Key, table.State().Token)
	} else {
		fmt.Println("skipped: needs the fixture backend")
	}

	// ====================================================
	fmt.Println("\n==================== 4) WRITE INVALIDATES ====================")
	dashboard, unwatchDash := session.Watch(sess, svc.Dashboard(""))
	defer unwatchDash()
	before := dashboard.Load(ctx)
	fmt.Printf("QUERY  → %s active posyandu = %d\n", before.Key, before.Data.ActivePosyandu)

	if _, err := svc.SetPosyanduActive(ctx, sess.Mutations(), seeded.Posyandus[1], false); err != nil {
		return err
	}
	fmt.Println("WRITE  → posyandu", seeded.Posyandus[1], "set inactive")
	fmt.Printf("QUERY  → %s = %d posyandus (refetched, from cache: %v)\n",
		active.Key(), len(active.State().Data), active.State().FromCache)
	fmt.Printf("QUERY  → %s active posyandu = %d\n", dashboard.Key(), dashboard.State().Data.ActivePosyandu)
	fmt.Println("CACHE  → keys:", sortedKeys(sess))

	// ====================================================
	fmt.Println("\n==================== 5) FAILURE KEEPS CACHE ====================")
	if backend != nil {
		backend.Fail("/dashboard", http.StatusServiceUnavailable, "")
		failed := dashboard.Refresh(ctx)
		fmt.Printf("QUERY  → %s error: %q\n", failed.Key, failed.Message)
		fmt.Printf("SCREEN → still shows active posyandu = %d\n", failed.Data.ActivePosyandu)
		_, cached := sess.Cache().Get(failed.Key)
		fmt.Println("CACHE  → entry kept:", cached)
		backend.Recover("/dashboard")
	} else {
		fmt.Println("skipped: needs the fixture backend")
	}

	// ====================================================
	fmt.Println("\n==================== 6) CADRE SCOPE ====================")
	kader := posyandu.User{ID: seeded.KaderID, Name: "Bu Sri", Role: posyandu.Kader, PosyanduID: seeded.Posyandus[0]}
	ks, err := session.Open(ctx, session.Config{
		BaseURL:              apiURL,
		InvalidationEndpoint: cfg.zmq,
		Logger:               cfg.logger,
	}, kader, demoToken)
	if err != nil {
		return err
	}
	defer ks.Close()

	children := query.New(ks.Queries(), ks.Service().Children(seeded.Posyandus[1]))
	cst := children.Load(ctx)
	fmt.Printf("QUERY  → %s = %d children (asked for posyandu %s)\n", cst.Key, len(cst.Data), seeded.Posyandus[1])

	users := query.New(ks.Queries(), ks.Service().Users(""))
	ust := users.Load(ctx)
	fmt.Printf("QUERY  → %s error: %v\n", ust.Key, ust.Err)

	if cfg.zmq != "" && len(cst.Data) > 0 {
		// Give the subscription time to reach the publisher before writing.
		time.Sleep(200 * time.Millisecond)
		child := cst.Data[0]
		child.Name += " Putri"
		_, err := svc.UpdateChild(ctx, sess.Mutations(), child.ID, posyandu.ChildInput{
			Name: child.Name, Gender: child.Gender, BirthDate: child.BirthDate, PosyanduID: child.PosyanduID,
		})
		if err != nil {
			return err
		}
		time.Sleep(200 * time.Millisecond)
		_, still := ks.Cache().Get(cst.Key)
		fmt.Println("REMOTE → admin renamed a child; cadre entry still cached:", still)
	}

	// ====================================================
	printMetrics(reg)

	if cfg.metricsAddr != "" {
		if err := serveMetrics(cfg.metricsAddr, reg); err != nil {
			return err
		}
	}

	// ====================================================
	fmt.Println("\n==================== SHUTDOWN ====================")
	ks.Close()
	sess.Close()
	fmt.Println("SYSTEM → sessions closed cleanly")
	return nil
}

func sortedKeys(s *session.Session) []string {
	keys := s.Cache().Keys()
	sort.Strings(keys)
	return keys
}

func printMetrics(g prometheus.Gatherer) {
	fmt.Println("\n==================== METRICS ====================")
	families, err := g.Gather()
	if err != nil {
		fmt.Println("failed to gather metrics:", err)
		return
	}
	for _, mf := range families {
		for _, m := range mf.GetMetric() {
			fmt.Printf("%-48s: %.0f\n", mf.GetName(), m.GetCounter().GetValue())
		}
	}
}

func serveMetrics(addr string, g prometheus.Gatherer) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics.Handler(g))
	srv := &http.Server{Addr: addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()
	fmt.Printf("\nMETRICS → serving http://%s/metrics, Ctrl-C to stop\n", addr)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return srv.Shutdown(ctx)
}
