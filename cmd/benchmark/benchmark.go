package main

import (
	"context"
	"flag"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	cache "github.com/krisalay/posyandu-cache"
	"github.com/krisalay/posyandu-cache/engine"
	"github.com/krisalay/posyandu-cache/eviction"
	"github.com/krisalay/posyandu-cache/query"
)

// ================= BENCHMARK =================

func main() {
	var (
		shards      = flag.Int("shards", 8, "cache shards")
		capacity    = flag.Int("capacity", 0, "max cached responses (0 = unbounded)")
		preloadKeys = flag.Int("keys", 10000, "distinct query keys")
		goroutines  = flag.Int("screens", 200, "concurrent screens")
		opsPerG     = flag.Int("ops", 5000, "loads per screen")
	)
	flag.Parse()

	ctx := context.Background()

	fmt.Println("\n================ QUERY LOAD BENCHMARK =================")

	fmt.Println("CONFIG")
	fmt.Println("---------------------------------")
	fmt.Println("Shards       :", *shards)
	fmt.Println("Capacity     :", *capacity)
	fmt.Println("Query Keys   :", *preloadKeys)
	fmt.Println("Screens      :", *goroutines)
	fmt.Println("Loads/Screen :", *opsPerG)
	fmt.Println("---------------------------------")

	// ---------------- Session Cache ----------------
	eng := engine.NewCacheEngine(nil, nil, nil, nil)
	c := cache.NewSessionCache(cache.Config{
		Shards:   *shards,
		Capacity: *capacity,
		Eviction: eviction.LRU,
	}, eng)
	qc := query.NewClient(c)

	// ---------------- Backend ----------------
	var fetches atomic.Int64
	requests := make([]query.Request[int], *preloadKeys)
	for i := range requests {
		n := i
		requests[i] = query.Request[int]{
			Key:  fmt.Sprintf("admin_children_%d", n),
			Tags: []string{"child"},
			Fetch: func(context.Context) (int, error) {
				fetches.Add(1)
				return n, nil
			},
		}
	}

	// ---------------- Warmup ----------------
	fmt.Println("Warming up cache...")
	for _, req := range requests {
		query.New(qc, req).Load(ctx)
	}
	fmt.Println("Warmup complete.")

	// ---------------- Load Test ----------------
	fmt.Println("Running concurrency benchmark...")

	start := time.Now()

	wg := sync.WaitGroup{}
	wg.Add(*goroutines)

	for i := 0; i < *goroutines; i++ {
		go func(id int) {
			defer wg.Done()
			site := query.NewSite[int](qc, fmt.Sprintf("screen-%d", id))
			for j := 0; j < *opsPerG; j++ {
				site.Load(ctx, requests[(id+j)%len(requests)], query.Options{ShowLoader: true})
			}
		}(i)
	}

	wg.Wait()

	duration := time.Since(start)
	totalOps := *goroutines * *opsPerG

	fmt.Println("\n================ RESULTS =================")
	fmt.Printf("Total Loads      : %d\n", totalOps)
	fmt.Printf("Backend Fetches  : %d\n", fetches.Load())
	fmt.Printf("Total Time       : %v\n", duration)
	fmt.Printf("Throughput       : %.2f loads/sec\n", float64(totalOps)/duration.Seconds())
	fmt.Println("=========================================")

	c.Close()
}
