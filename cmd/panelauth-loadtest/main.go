// Command panelauth-loadtest measures session validation, conditional
// extension and per-IP throttling under concurrency.
//
// Sessions live in memory unless -database-url points at a migrated
// PostgreSQL database. The throttle phase uses Redis from -redis-addr,
// REDIS_ADDR, or an embedded miniredis.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/MrEthical07/panelauth/internal/memstore"
	"github.com/MrEthical07/panelauth/internal/postgres"
	"github.com/MrEthical07/panelauth/internal/rate"
	"github.com/MrEthical07/panelauth/session"
)

func main() {
	var (
		sessions    = flag.Int("sessions", 20000, "number of sessions to seed")
		concurrency = flag.Int("concurrency", 128, "number of concurrent workers")
		ops         = flag.Int("ops", 100000, "operations per phase")
		redisAddr   = flag.String("redis-addr", "", "redis address; if empty, REDIS_ADDR env or miniredis is used")
		databaseURL = flag.String("database-url", "", "postgres url; if empty, sessions are kept in memory")
	)
	flag.Parse()

	if *sessions <= 0 || *concurrency <= 0 || *ops <= 0 {
		fmt.Fprintln(os.Stderr, "sessions, concurrency, and ops must be > 0")
		os.Exit(2)
	}

	ctx := context.Background()

	repo, closeRepo, err := openRepository(ctx, *databaseURL)
	if err != nil {
		fmt.Fprintf(os.Stderr, "session repository: %v\n", err)
		os.Exit(1)
	}
	defer closeRepo()

	client, closeRedis, err := openRedis(*redisAddr)
	if err != nil {
		fmt.Fprintf(os.Stderr, "redis: %v\n", err)
		os.Exit(1)
	}
	defer closeRedis()

	cfg := session.DefaultConfig()
	// A long window makes every validated session eligible for extension.
	cfg.ExtensionWindow = cfg.Lifetime
	cfg.MaxExtensions = 0
	store, err := session.NewStore(repo, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "session store: %v\n", err)
		os.Exit(1)
	}

	ids := make([]string, *sessions)
	fmt.Printf("seeding %d sessions...\n", *sessions)
	startSeed := time.Now()
	for i := range ids {
		sess, err := store.Create(ctx, fmt.Sprintf("user-%d", i%500), "198.51.100.7", "panelauth-loadtest")
		if err != nil {
			fmt.Fprintf(os.Stderr, "create failed: %v\n", err)
			os.Exit(1)
		}
		ids[i] = sess.ID
	}
	fmt.Printf("seeded in %s\n", time.Since(startSeed).Round(time.Millisecond))

	validateStats := runPhase(*ops, *concurrency, 7919, func(r *rand.Rand) error {
		_, err := store.Validate(ctx, ids[r.Intn(len(ids))])
		return err
	})

	var lostRaces int64
	extendStats := runPhase(*ops, *concurrency, 6151, func(r *rand.Rand) error {
		sess, err := store.Get(ctx, ids[r.Intn(len(ids))])
		if err != nil {
			return err
		}
		applied, err := store.Extend(ctx, sess)
		if err == nil && !applied {
			atomic.AddInt64(&lostRaces, 1)
		}
		return err
	})

	limiter := rate.New(client, rate.Config{MaxLoginPerIP: 10, LoginWindow: time.Minute})
	var limited int64
	throttleStats := runPhase(*ops, *concurrency, 104729, func(r *rand.Rand) error {
		ip := fmt.Sprintf("203.0.113.%d", r.Intn(250))
		if err := limiter.CheckLogin(ctx, ip); err != nil {
			if errors.Is(err, rate.ErrRateLimited) {
				atomic.AddInt64(&limited, 1)
				return nil
			}
			return err
		}
		return limiter.IncrementLogin(ctx, ip)
	})

	fmt.Println("---- results ----")
	printStats("validate", validateStats)
	printStats("extend", extendStats)
	fmt.Printf("extend: lost races=%d\n", lostRaces)
	printStats("throttle", throttleStats)
	fmt.Printf("throttle: limited=%d\n", limited)
}

func openRepository(ctx context.Context, dsn string) (session.Repository, func(), error) {
	if dsn == "" {
		fmt.Println("using in-memory sessions")
		return memstore.New(), func() {}, nil
	}
	pool, err := postgres.NewPool(ctx, dsn, postgres.PoolOptions{MaxConns: 32})
	if err != nil {
		return nil, nil, err
	}
	if err := postgres.Migrate(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, err
	}
	fmt.Println("using postgres sessions")
	return postgres.NewStore(pool), pool.Close, nil
}

func openRedis(addr string) (redis.UniversalClient, func(), error) {
	if addr == "" {
		addr = os.Getenv("REDIS_ADDR")
	}
	if addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{addr}})
		fmt.Printf("using redis at %s\n", addr)
		return client, func() { _ = client.Close() }, nil
	}

	mr, err := miniredis.Run()
	if err != nil {
		return nil, nil, err
	}
	client := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{mr.Addr()}})
	fmt.Printf("using miniredis at %s\n", mr.Addr())
	return client, func() {
		_ = client.Close()
		mr.Close()
	}, nil
}

// runPhase spreads ops calls of op over concurrency workers, each with its
// own deterministic random source.
func runPhase(ops, concurrency int, seed int64, op func(r *rand.Rand) error) phaseStats {
	var (
		wg        sync.WaitGroup
		cursor    int64
		failures  int64
		latencies = make([]time.Duration, 0, ops)
		mu        sync.Mutex
	)

	start := time.Now()
	for w := 0; w < concurrency; w++ {
		wg.Add(1)
		go func(worker int) {
			defer wg.Done()
			r := rand.New(rand.NewSource(time.Now().UnixNano() + int64(worker)*seed))
			for {
				i := int(atomic.AddInt64(&cursor, 1)) - 1
				if i >= ops {
					return
				}
				t0 := time.Now()
				err := op(r)
				d := time.Since(t0)
				if err != nil {
					atomic.AddInt64(&failures, 1)
				}
				mu.Lock()
				latencies = append(latencies, d)
				mu.Unlock()
			}
		}(w)
	}
	wg.Wait()
	total := time.Since(start)
	return computeStats(total, latencies, failures)
}

type phaseStats struct {
	total    time.Duration
	ops      int
	failures int64
	p50      time.Duration
	p95      time.Duration
	p99      time.Duration
	opsPerS  float64
}

func computeStats(total time.Duration, samples []time.Duration, failures int64) phaseStats {
	if len(samples) == 0 {
		return phaseStats{total: total}
	}
	sort.Slice(samples, func(i, j int) bool { return samples[i] < samples[j] })
	return phaseStats{
		total:    total,
		ops:      len(samples),
		failures: failures,
		p50:      percentile(samples, 50),
		p95:      percentile(samples, 95),
		p99:      percentile(samples, 99),
		opsPerS:  float64(len(samples)) / total.Seconds(),
	}
}

func percentile(samples []time.Duration, p int) time.Duration {
	if len(samples) == 0 {
		return 0
	}
	if p <= 0 {
		return samples[0]
	}
	if p >= 100 {
		return samples[len(samples)-1]
	}
	idx := (len(samples) - 1) * p / 100
	return samples[idx]
}

func printStats(name string, s phaseStats) {
	fmt.Printf("%s: ops=%d failures=%d total=%s ops/sec=%.0f p50=%s p95=%s p99=%s\n",
		name,
		s.ops,
		s.failures,
		s.total.Round(time.Millisecond),
		s.opsPerS,
		s.p50.Round(time.Microsecond),
		s.p95.Round(time.Microsecond),
		s.p99.Round(time.Microsecond),
	)
}
